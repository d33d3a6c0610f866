// Package exporter renders a media-streaming host application's operational
// state as a Prometheus text-exposition document over HTTP. The package is
// embedded in every worker process of the host; a file-lock plus shared-cache
// election ensures exactly one of those workers binds the metrics listener,
// while the rest answer operator actions (start, stop, restart, status) by
// signalling the owner through the cache.
//
// The metrics themselves are collected fresh on every scrape from the host's
// relational database and its Redis instance; the exporter keeps no state
// between scrapes beyond the coordination keys described in the api package.
package exporter

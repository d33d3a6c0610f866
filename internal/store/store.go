// Package store reads the host application's relational database. All
// queries are read-only; the exporter never owns or migrates this schema.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// BuiltinAccountName is the host's reserved provider account. It backs
// ad-hoc custom streams and is excluded from provider metrics.
const BuiltinAccountName = "custom"

// AccountStatuses is the host's provider-account status enumeration. Status
// breakdowns are zero-filled over this list so every status always has a
// series, even when no account is in it.
var AccountStatuses = []string{"idle", "fetching", "parsing", "error", "success", "pending_setup"}

// EPGSourceStatuses is the host's guide-source status enumeration.
var EPGSourceStatuses = []string{"idle", "fetching", "parsing", "error", "success"}

// M3UAccount is one provider account row, stream count included.
type M3UAccount struct {
	ID          int64
	Name        string
	AccountType string
	Status      string
	IsActive    bool
	Username    string
	ServerURL   string
	StreamCount int64
}

// AccountProfile is one connection profile under a provider account.
type AccountProfile struct {
	ID          int64
	Name        string
	AccountName string
	MaxStreams  int64
	IsActive    bool
}

// Channel is one channel row with its resolved logo URL.
type Channel struct {
	ID      int64
	UUID    string
	Name    string
	Number  float64
	LogoURL string
}

// Stream is one stream row with its provider account resolved.
type Stream struct {
	ID          int64
	Name        string
	AccountName string
	AccountType string
}

// ChannelStreamLink is one channel/stream assignment with its ordering index.
type ChannelStreamLink struct {
	ChannelID int64
	StreamID  int64
	Order     int64
}

// EPGSource is one guide source row.
type EPGSource struct {
	ID       int64
	Name     string
	Type     string
	Status   string
	IsActive bool
	Priority int64
	URL      string
}

// PluginConfig is the host-persisted configuration row for one plugin.
type PluginConfig struct {
	Key      string
	Enabled  bool
	Settings map[string]any
}

// Store is the read surface the exporter needs from the host database.
// Implementations must be safe for concurrent use.
type Store interface {
	// Accounts returns every provider account except the builtin custom one.
	Accounts(ctx context.Context) ([]M3UAccount, error)
	// ActiveProfiles returns active profiles, excluding the builtin account.
	ActiveProfiles(ctx context.Context) ([]AccountProfile, error)
	// ProfilesByID returns the profiles with the supplied ids, keyed by id.
	ProfilesByID(ctx context.Context, ids []int64) (map[int64]AccountProfile, error)
	// Channels returns every channel.
	Channels(ctx context.Context) ([]Channel, error)
	// ChannelGroupCount returns the number of channel groups.
	ChannelGroupCount(ctx context.Context) (int64, error)
	// StreamsByID returns the streams with the supplied ids, keyed by id.
	StreamsByID(ctx context.Context, ids []int64) (map[int64]Stream, error)
	// ChannelStreams returns the stream assignments for the supplied channels.
	ChannelStreams(ctx context.Context, channelIDs []int64) ([]ChannelStreamLink, error)
	// StreamProfileNames returns transcode-profile names keyed by id.
	StreamProfileNames(ctx context.Context, ids []int64) (map[int64]string, error)
	// EPGSources returns every guide source.
	EPGSources(ctx context.Context) ([]EPGSource, error)
	// PluginConfig returns the persisted config row for the given plugin key,
	// or ErrNotFound when the host has never saved one.
	PluginConfig(ctx context.Context, key string) (PluginConfig, error)
	// Ping verifies the database is reachable.
	Ping(ctx context.Context) error
	// Close releases pooled connections.
	Close()
}

package collect

import (
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dispatcharr/exporter/internal/store"
)

// namespace prefixes every metric family this exporter emits.
const namespace = "dispatcharr"

func fq(name string) string {
	return namespace + "_" + name
}

func gauge(desc *prometheus.Desc, value float64, labels ...string) prometheus.Metric {
	return prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, value, labels...)
}

// infoDesc builds a one-series info Desc with every label constant, so
// families whose label sets vary per series (optional username, server_url)
// stay a single family name.
func infoDesc(name, help string, labels prometheus.Labels) *prometheus.Desc {
	return prometheus.NewDesc(fq(name), help, nil, labels)
}

// snapshotCollector emits const metrics for one gathered snapshot. It is an
// unchecked collector: series shapes depend on runtime state (optional
// labels, toggles), so Describe deliberately sends nothing.
type snapshotCollector struct {
	snap             *Snapshot
	toggles          Toggles
	exporterVersion  string
	goVersion        string
	settingsLabels   map[string]string
	legacy           bool
	includeURLs      bool
	scrapeDuration   time.Duration
	scrapeErrorCount int
}

func (sc *snapshotCollector) Describe(chan<- *prometheus.Desc) {}

func (sc *snapshotCollector) Collect(ch chan<- prometheus.Metric) {
	sc.collectInfo(ch)
	if sc.toggles.M3U {
		sc.collectAccounts(ch)
		sc.collectProfiles(ch)
	}
	if sc.toggles.EPG {
		sc.collectEPG(ch)
	}
	sc.collectChannels(ch)
	sc.collectStreams(ch)
	if sc.toggles.Clients {
		sc.collectClients(ch)
	}
	if sc.toggles.VOD {
		sc.collectVOD(ch)
	}
	sc.collectScrape(ch)
}

func (sc *snapshotCollector) collectInfo(ch chan<- prometheus.Metric) {
	ch <- gauge(infoDesc("info", "Dispatcharr version and instance information",
		prometheus.Labels{"version": sc.snap.HostVersion}), 1)
	ch <- gauge(infoDesc("exporter_info", "Exporter build information",
		prometheus.Labels{"version": sc.exporterVersion, "goversion": sc.goVersion}), 1)
	ch <- gauge(infoDesc("exporter_settings", "Active exporter settings", sc.settingsLabels), 1)
}

func (sc *snapshotCollector) collectAccounts(ch chan<- prometheus.Metric) {
	if !sc.snap.AccountsOK {
		return
	}
	accounts := sc.snap.Accounts

	totalsDesc := prometheus.NewDesc(fq("m3u_accounts"),
		"Total number of M3U accounts", []string{"status"}, nil)
	var active int64
	for _, a := range accounts {
		if a.IsActive {
			active++
		}
	}
	ch <- gauge(totalsDesc, float64(len(accounts)), "total")
	ch <- gauge(totalsDesc, float64(active), "active")

	statusDesc := prometheus.NewDesc(fq("m3u_account_status"),
		"M3U account status breakdown", []string{"status"}, nil)
	counts := map[string]int64{}
	for _, a := range accounts {
		counts[a.Status]++
	}
	for _, status := range store.AccountStatuses {
		ch <- gauge(statusDesc, float64(counts[status]), status)
	}

	streamsDesc := prometheus.NewDesc(fq("m3u_account_streams"),
		"Streams provided by each M3U account", []string{"account_id", "account_name"}, nil)
	for _, a := range accounts {
		id := strconv.FormatInt(a.ID, 10)
		labels := prometheus.Labels{
			"account_id":   id,
			"account_name": a.Name,
			"account_type": orUnknown(a.AccountType),
			"status":       a.Status,
			"is_active":    strconv.FormatBool(a.IsActive),
		}
		if sc.legacy {
			labels["stream_count"] = strconv.FormatInt(a.StreamCount, 10)
		}
		if strings.EqualFold(a.AccountType, "XC") && a.Username != "" {
			labels["username"] = a.Username
		}
		if sc.includeURLs && a.ServerURL != "" {
			labels["server_url"] = a.ServerURL
		}
		ch <- gauge(infoDesc("m3u_account_info", "Information about each M3U account", labels), 1)
		ch <- gauge(streamsDesc, float64(a.StreamCount), id, a.Name)
	}
}

func (sc *snapshotCollector) collectProfiles(ch chan<- prometheus.Metric) {
	if !sc.snap.ProfilesOK || len(sc.snap.Profiles) == 0 {
		return
	}
	labels := []string{"profile_id", "profile_name", "account_name"}
	connsDesc := prometheus.NewDesc(fq("profile_connections"),
		"Current connections per M3U profile", labels, nil)
	maxDesc := prometheus.NewDesc(fq("profile_max_connections"),
		"Maximum allowed connections per M3U profile", labels, nil)
	usageDesc := prometheus.NewDesc(fq("profile_connection_usage"),
		"Connection usage ratio per M3U profile", labels, nil)
	for _, p := range sc.snap.Profiles {
		id := strconv.FormatInt(p.Profile.ID, 10)
		ch <- gauge(connsDesc, float64(p.Connections), id, p.Profile.Name, p.Profile.AccountName)
		ch <- gauge(maxDesc, float64(p.Profile.MaxStreams), id, p.Profile.Name, p.Profile.AccountName)
		if p.Profile.MaxStreams > 0 {
			usage := float64(p.Connections) / float64(p.Profile.MaxStreams)
			ch <- gauge(usageDesc, usage, id, p.Profile.Name, p.Profile.AccountName)
		}
	}
}

func (sc *snapshotCollector) collectEPG(ch chan<- prometheus.Metric) {
	if !sc.snap.EPGOK {
		return
	}
	sources := sc.snap.EPGSources

	totalsDesc := prometheus.NewDesc(fq("epg_sources"),
		"Total number of EPG sources", []string{"status"}, nil)
	var active int64
	for _, s := range sources {
		if s.IsActive {
			active++
		}
	}
	ch <- gauge(totalsDesc, float64(len(sources)), "total")
	ch <- gauge(totalsDesc, float64(active), "active")

	statusDesc := prometheus.NewDesc(fq("epg_source_status"),
		"EPG source status breakdown", []string{"status"}, nil)
	counts := map[string]int64{}
	for _, s := range sources {
		counts[s.Status]++
	}
	for _, status := range store.EPGSourceStatuses {
		ch <- gauge(statusDesc, float64(counts[status]), status)
	}

	priorityDesc := prometheus.NewDesc(fq("epg_source_priority"),
		"Priority of each EPG source", []string{"source_id", "source_name"}, nil)
	for _, s := range sources {
		id := strconv.FormatInt(s.ID, 10)
		labels := prometheus.Labels{
			"source_id":   id,
			"source_name": s.Name,
			"source_type": orUnknown(s.Type),
			"status":      s.Status,
			"is_active":   strconv.FormatBool(s.IsActive),
		}
		if sc.legacy {
			labels["priority"] = strconv.FormatInt(s.Priority, 10)
		}
		if sc.includeURLs && s.URL != "" {
			labels["url"] = s.URL
		}
		ch <- gauge(infoDesc("epg_source_info", "Information about each EPG source", labels), 1)
		ch <- gauge(priorityDesc, float64(s.Priority), id, s.Name)
	}
}

func (sc *snapshotCollector) collectChannels(ch chan<- prometheus.Metric) {
	if !sc.snap.ChannelsOK {
		return
	}
	ch <- gauge(prometheus.NewDesc(fq("channels"),
		"Total number of channels", []string{"status"}, nil), float64(sc.snap.ChannelCount), "total")
	ch <- gauge(prometheus.NewDesc(fq("channel_groups"),
		"Total number of channel groups", nil, nil), float64(sc.snap.GroupCount))

	viewersDesc := prometheus.NewDesc(fq("channel_viewers"),
		"Current viewers per channel", []string{"channel_id", "channel_name"}, nil)
	for _, v := range sc.snap.Viewers {
		ch <- gauge(viewersDesc, float64(v.Viewers), v.UUID, v.Name)
	}
}

func (sc *snapshotCollector) collectStreams(ch chan<- prometheus.Metric) {
	if !sc.snap.StreamsOK {
		return
	}
	streams := sc.snap.Streams
	ch <- gauge(prometheus.NewDesc(fq("active_streams"),
		"Total number of active streams", nil, nil), float64(len(streams)))

	perStream := []string{"channel_uuid", "channel_name"}
	fpsDesc := prometheus.NewDesc(fq("stream_fps"),
		"Source frames per second of each active stream", perStream, nil)
	bitrateDesc := prometheus.NewDesc(fq("stream_bitrate_kbps"),
		"Source video bitrate of each active stream", perStream, nil)
	outputDesc := prometheus.NewDesc(fq("stream_transcode_bitrate_kbps"),
		"Transcoder output bitrate of each active stream", perStream, nil)
	avgDesc := prometheus.NewDesc(fq("stream_avg_bitrate_kbps"),
		"Average delivered bitrate of each active stream since start", perStream, nil)
	uptimeDesc := prometheus.NewDesc(fq("stream_uptime_seconds"),
		"Seconds since each active stream started", perStream, nil)
	bytesDesc := prometheus.NewDesc(fq("stream_bytes_total"),
		"Bytes transferred by each active stream since start", perStream, nil)
	clientsDesc := prometheus.NewDesc(fq("stream_clients"),
		"Connected clients per active stream", perStream, nil)
	viewersDesc := prometheus.NewDesc(fq("stream_viewers"),
		"Current viewers per active stream", perStream, nil)

	for _, st := range streams {
		labels := sc.streamInfoLabels(st)
		ch <- gauge(infoDesc("stream_info", "Detailed information about active streams", labels), 1)
		ch <- gauge(fpsDesc, st.FPS, st.ChannelUUID, st.ChannelName)
		ch <- gauge(bitrateDesc, st.BitrateKbps, st.ChannelUUID, st.ChannelName)
		ch <- gauge(outputDesc, st.OutputKbps, st.ChannelUUID, st.ChannelName)
		ch <- gauge(avgDesc, st.AvgKbps, st.ChannelUUID, st.ChannelName)
		ch <- gauge(uptimeDesc, float64(st.UptimeSeconds), st.ChannelUUID, st.ChannelName)
		ch <- prometheus.MustNewConstMetric(bytesDesc, prometheus.CounterValue,
			float64(st.TotalBytes), st.ChannelUUID, st.ChannelName)
		ch <- gauge(clientsDesc, float64(st.Clients), st.ChannelUUID, st.ChannelName)
		ch <- gauge(viewersDesc, float64(st.Viewers), st.ChannelUUID, st.ChannelName)
	}
}

// streamInfoLabels builds the stream_info label set. The normalized shape
// carries identity only; the legacy shape restores the deprecated wide set
// with performance numbers stringified into labels.
func (sc *snapshotCollector) streamInfoLabels(st StreamStat) prometheus.Labels {
	labels := prometheus.Labels{
		"channel_uuid":   st.ChannelUUID,
		"channel_id":     strconv.FormatInt(st.ChannelID, 10),
		"channel_name":   st.ChannelName,
		"channel_number": st.ChannelNumber,
		"logo_url":       st.LogoURL,
		"stream_id":      strconv.FormatInt(st.StreamID, 10),
		"stream_index":   strconv.FormatInt(st.StreamIndex, 10),
		"stream_name":    st.StreamName,
		"provider":       st.Provider,
		"provider_type":  st.ProviderType,
		"profile_id":     st.ProfileID,
		"profile_name":   st.ProfileName,
		"stream_profile": st.StreamProfile,
		"video_codec":    st.VideoCodec,
		"resolution":     st.Resolution,
		"state":          st.State,
	}
	if !sc.legacy {
		return labels
	}
	labels["profile_connections"] = strconv.FormatInt(st.ProfileConns, 10)
	labels["profile_max_connections"] = strconv.FormatInt(st.ProfileMax, 10)
	labels["fps"] = strconv.FormatFloat(st.FPS, 'f', -1, 64)
	labels["video_bitrate_kbps"] = strconv.FormatFloat(st.BitrateKbps, 'f', -1, 64)
	labels["transcode_bitrate_kbps"] = strconv.FormatFloat(st.OutputKbps, 'f', -1, 64)
	labels["avg_bitrate_kbps"] = strconv.FormatFloat(roundTwo(st.AvgKbps), 'f', -1, 64)
	labels["total_transfer_mb"] = strconv.FormatFloat(roundTwo(float64(st.TotalBytes)/1024/1024), 'f', -1, 64)
	labels["uptime_seconds"] = strconv.FormatInt(st.UptimeSeconds, 10)
	labels["active_clients"] = strconv.FormatInt(st.Clients, 10)
	if st.Viewers > 0 {
		labels["viewers"] = strconv.FormatInt(st.Viewers, 10)
	}
	return labels
}

func (sc *snapshotCollector) collectClients(ch chan<- prometheus.Metric) {
	if !sc.snap.ClientsOK {
		return
	}
	clients := sc.snap.Clients
	ch <- gauge(prometheus.NewDesc(fq("clients"),
		"Total number of connected clients", nil, nil), float64(len(clients)))

	connectedDesc := prometheus.NewDesc(fq("client_connected_seconds"),
		"Seconds each client has been connected", []string{"channel_uuid", "client_id"}, nil)
	for _, cl := range clients {
		ch <- gauge(infoDesc("client_info", "Information about each connected client", prometheus.Labels{
			"channel_uuid": cl.ChannelUUID,
			"channel_name": cl.ChannelName,
			"client_id":    cl.ClientID,
			"ip_address":   cl.IPAddress,
			"user_agent":   cl.UserAgent,
		}), 1)
		ch <- gauge(connectedDesc, float64(cl.ConnectedSeconds), cl.ChannelUUID, cl.ClientID)
	}
}

func (sc *snapshotCollector) collectVOD(ch chan<- prometheus.Metric) {
	if !sc.snap.VODOK {
		return
	}
	ch <- gauge(prometheus.NewDesc(fq("vod_sessions"),
		"Total number of VOD sessions", nil, nil), float64(sc.snap.VODSessions))
	ch <- gauge(prometheus.NewDesc(fq("vod_active_streams"),
		"Total number of active VOD streams", nil, nil), float64(sc.snap.VODActiveStreams))
}

func (sc *snapshotCollector) collectScrape(ch chan<- prometheus.Metric) {
	ch <- gauge(prometheus.NewDesc(fq("exporter_scrape_duration_seconds"),
		"Time spent gathering this scrape's snapshot", nil, nil), sc.scrapeDuration.Seconds())
	ch <- gauge(prometheus.NewDesc(fq("exporter_scrape_errors"),
		"Sub-collectors that failed during this scrape", nil, nil), float64(sc.scrapeErrorCount))
}

func roundTwo(f float64) float64 {
	return float64(int64(f*100+0.5)) / 100
}

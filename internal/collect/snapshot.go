package collect

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/dispatcharr/exporter/internal/store"
)

// Cache key shapes the host application maintains for live streaming state.
const (
	channelViewersKeyFormat    = "channel:%s:viewers"
	profileConnectionsFormat   = "profile_connections:%d"
	channelStreamScanPattern   = "channel_stream:*"
	channelMetadataKeyFormat   = "ts_proxy:channel:%s:metadata"
	channelClientsKeyFormat    = "ts_proxy:channel:%s:clients"
	channelClientHashFormat    = "ts_proxy:channel:%s:client:%s"
	vodSessionScanPattern      = "vod_session:*"
	metadataFieldInitTime      = "init_time"
	metadataFieldStreamProfile = "stream_profile"
	metadataFieldM3UProfile    = "m3u_profile"
	metadataFieldVideoCodec    = "video_codec"
	metadataFieldResolution    = "resolution"
	metadataFieldSourceFPS     = "source_fps"
	metadataFieldVideoBitrate  = "video_bitrate"
	metadataFieldOutputBitrate = "ffmpeg_output_bitrate"
	metadataFieldTotalBytes    = "total_bytes"
	metadataFieldState         = "state"
)

// ProfileStat is one active connection profile with its live connection count.
type ProfileStat struct {
	Profile     store.AccountProfile
	Connections int64
}

// ChannelViewers is one channel's live viewer count.
type ChannelViewers struct {
	UUID    string
	Name    string
	Viewers int64
}

// StreamStat is one active stream with identity resolved from the database
// and live performance data from the cache.
type StreamStat struct {
	ChannelUUID   string
	ChannelID     int64
	ChannelName   string
	ChannelNumber string
	LogoURL       string
	StreamID      int64
	StreamIndex   int64
	StreamName    string
	Provider      string
	ProviderType  string
	ProfileID     string
	ProfileName   string
	ProfileConns  int64
	ProfileMax    int64
	StreamProfile string
	VideoCodec    string
	Resolution    string
	State         string
	FPS           float64
	BitrateKbps   float64
	OutputKbps    float64
	AvgKbps       float64
	TotalBytes    int64
	UptimeSeconds int64
	Clients       int64
	Viewers       int64
}

// ClientStat is one connected client on an active stream.
type ClientStat struct {
	ChannelUUID      string
	ChannelName      string
	ClientID         string
	IPAddress        string
	UserAgent        string
	ConnectedSeconds int64
}

// Snapshot is everything one scrape needs, gathered up front so rendering is
// a pure function of this struct. Each *OK flag reports whether the backing
// sub-collector succeeded; a false flag means the family is omitted from the
// exposition rather than failing the whole scrape.
type Snapshot struct {
	HostVersion string

	Accounts   []store.M3UAccount
	AccountsOK bool

	Profiles   []ProfileStat
	ProfilesOK bool

	ChannelCount int64
	GroupCount   int64
	Viewers      []ChannelViewers
	ChannelsOK   bool

	Streams   []StreamStat
	StreamsOK bool

	Clients   []ClientStat
	ClientsOK bool

	VODSessions      int64
	VODActiveStreams int64
	VODOK            bool

	EPGSources []store.EPGSource
	EPGOK      bool

	// FailedFamilies names sub-collectors that errored during gathering.
	FailedFamilies []string
}

func (c *Collector) snapshot(ctx context.Context, toggles Toggles) *Snapshot {
	snap := &Snapshot{HostVersion: c.hostVersion()}
	fail := func(family string, err error) {
		snap.FailedFamilies = append(snap.FailedFamilies, family)
		c.logger.Warn("collect.family.failed", "family", family, "error", err)
	}

	channels, chanErr := c.store.Channels(ctx)
	byID := make(map[int64]store.Channel, len(channels))
	for _, ch := range channels {
		byID[ch.ID] = ch
	}

	if toggles.M3U {
		if accounts, err := c.store.Accounts(ctx); err != nil {
			fail("m3u_accounts", err)
		} else {
			snap.Accounts = accounts
			snap.AccountsOK = true
		}
		if profiles, err := c.gatherProfiles(ctx); err != nil {
			fail("profiles", err)
		} else {
			snap.Profiles = profiles
			snap.ProfilesOK = true
		}
	}

	if toggles.EPG {
		if sources, err := c.store.EPGSources(ctx); err != nil {
			fail("epg_sources", err)
		} else {
			snap.EPGSources = sources
			snap.EPGOK = true
		}
	}

	if chanErr != nil {
		fail("channels", chanErr)
	} else if groups, err := c.store.ChannelGroupCount(ctx); err != nil {
		fail("channels", err)
	} else {
		snap.ChannelCount = int64(len(channels))
		snap.GroupCount = groups
		snap.Viewers = c.gatherViewers(ctx, channels)
		snap.ChannelsOK = true
	}

	// Stream identity resolves through the channel table; without it any
	// count would be a confident zero rather than real data.
	if chanErr != nil {
		fail("streams", chanErr)
	} else if streams, err := c.gatherStreams(ctx, byID); err != nil {
		fail("streams", err)
	} else {
		snap.Streams = streams
		snap.StreamsOK = true
		if toggles.Clients {
			snap.Clients = c.gatherClients(ctx, streams)
			snap.ClientsOK = true
		}
	}

	if toggles.VOD {
		if sessions, active, err := c.gatherVOD(ctx); err != nil {
			fail("vod", err)
		} else {
			snap.VODSessions = sessions
			snap.VODActiveStreams = active
			snap.VODOK = true
		}
	}

	return snap
}

func (c *Collector) gatherProfiles(ctx context.Context) ([]ProfileStat, error) {
	profiles, err := c.store.ActiveProfiles(ctx)
	if err != nil {
		return nil, err
	}
	stats := make([]ProfileStat, 0, len(profiles))
	for _, p := range profiles {
		conns := c.cacheInt(ctx, fmt.Sprintf(profileConnectionsFormat, p.ID))
		stats = append(stats, ProfileStat{Profile: p, Connections: conns})
	}
	return stats, nil
}

func (c *Collector) gatherViewers(ctx context.Context, channels []store.Channel) []ChannelViewers {
	var out []ChannelViewers
	for _, ch := range channels {
		// Channel UUIDs come straight from the database and are interpolated
		// into cache keys; skip rows that would produce a malformed key.
		if _, err := uuid.Parse(ch.UUID); err != nil {
			c.logger.Debug("collect.channel.bad_uuid", "channel_id", ch.ID, "uuid", ch.UUID)
			continue
		}
		viewers := c.cacheInt(ctx, fmt.Sprintf(channelViewersKeyFormat, ch.UUID))
		if viewers > 0 {
			out = append(out, ChannelViewers{UUID: ch.UUID, Name: ch.Name, Viewers: viewers})
		}
	}
	return out
}

func (c *Collector) gatherStreams(ctx context.Context, channelsByID map[int64]store.Channel) ([]StreamStat, error) {
	keys, err := c.cache.Scan(ctx, channelStreamScanPattern)
	if err != nil {
		return nil, fmt.Errorf("scan channel streams: %w", err)
	}
	sort.Strings(keys)

	type pending struct {
		channel  store.Channel
		streamID int64
		metadata map[string]string
	}
	var (
		pendings   []pending
		streamIDs  []int64
		channelIDs []int64
		profileIDs []int64
		tpIDs      []int64
	)
	for _, key := range keys {
		idPart := strings.TrimPrefix(key, "channel_stream:")
		channelID, err := strconv.ParseInt(idPart, 10, 64)
		if err != nil {
			c.logger.Debug("collect.stream.bad_key", "key", key, "error", err)
			continue
		}
		ch, ok := channelsByID[channelID]
		if !ok {
			c.logger.Debug("collect.stream.unknown_channel", "channel_id", channelID)
			continue
		}
		if _, err := uuid.Parse(ch.UUID); err != nil {
			c.logger.Debug("collect.stream.bad_uuid", "channel_id", channelID, "uuid", ch.UUID)
			continue
		}
		val, err := c.cache.Get(ctx, key)
		if err != nil {
			c.logger.Debug("collect.stream.missing_value", "key", key, "error", err)
			continue
		}
		streamID, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64)
		if err != nil {
			c.logger.Debug("collect.stream.bad_stream_id", "key", key, "error", err)
			continue
		}
		metadata, err := c.cache.HGetAll(ctx, fmt.Sprintf(channelMetadataKeyFormat, ch.UUID))
		if err != nil {
			c.logger.Debug("collect.stream.missing_metadata", "channel_uuid", ch.UUID, "error", err)
			metadata = map[string]string{}
		}
		pendings = append(pendings, pending{channel: ch, streamID: streamID, metadata: metadata})
		streamIDs = append(streamIDs, streamID)
		channelIDs = append(channelIDs, channelID)
		if id := metadataInt(metadata, metadataFieldM3UProfile); id > 0 {
			profileIDs = append(profileIDs, id)
		}
		if id := metadataInt(metadata, metadataFieldStreamProfile); id > 0 {
			tpIDs = append(tpIDs, id)
		}
	}

	streams, err := c.store.StreamsByID(ctx, streamIDs)
	if err != nil {
		return nil, fmt.Errorf("resolve streams: %w", err)
	}
	links, err := c.store.ChannelStreams(ctx, channelIDs)
	if err != nil {
		return nil, fmt.Errorf("resolve stream order: %w", err)
	}
	orderByPair := make(map[[2]int64]int64, len(links))
	for _, l := range links {
		orderByPair[[2]int64{l.ChannelID, l.StreamID}] = l.Order
	}
	profiles, err := c.store.ProfilesByID(ctx, profileIDs)
	if err != nil {
		c.logger.Debug("collect.stream.profiles_unavailable", "error", err)
		profiles = map[int64]store.AccountProfile{}
	}
	transcodeNames, err := c.store.StreamProfileNames(ctx, tpIDs)
	if err != nil {
		c.logger.Debug("collect.stream.transcode_profiles_unavailable", "error", err)
		transcodeNames = map[int64]string{}
	}

	now := c.clock.Now()
	stats := make([]StreamStat, 0, len(pendings))
	for _, p := range pendings {
		st, ok := streams[p.streamID]
		if !ok {
			c.logger.Debug("collect.stream.unknown_stream", "stream_id", p.streamID)
			continue
		}
		stat := StreamStat{
			ChannelUUID:   p.channel.UUID,
			ChannelID:     p.channel.ID,
			ChannelName:   p.channel.Name,
			ChannelNumber: formatChannelNumber(p.channel.Number),
			LogoURL:       p.channel.LogoURL,
			StreamID:      p.streamID,
			StreamIndex:   orderByPair[[2]int64{p.channel.ID, p.streamID}],
			StreamName:    st.Name,
			Provider:      orUnknown(st.AccountName),
			ProviderType:  orUnknown(st.AccountType),
			ProfileID:     "none",
			ProfileName:   "Unknown",
			StreamProfile: "Unknown",
			VideoCodec:    metadataString(p.metadata, metadataFieldVideoCodec, "unknown"),
			Resolution:    metadataString(p.metadata, metadataFieldResolution, "unknown"),
			State:         metadataString(p.metadata, metadataFieldState, "unknown"),
			FPS:           metadataFloat(p.metadata, metadataFieldSourceFPS),
			BitrateKbps:   metadataFloat(p.metadata, metadataFieldVideoBitrate),
			OutputKbps:    metadataFloat(p.metadata, metadataFieldOutputBitrate),
			TotalBytes:    metadataInt(p.metadata, metadataFieldTotalBytes),
		}
		if initTime := metadataFloat(p.metadata, metadataFieldInitTime); initTime > 0 {
			uptime := now.Unix() - int64(initTime)
			if uptime > 0 {
				stat.UptimeSeconds = uptime
				stat.AvgKbps = float64(stat.TotalBytes) * 8 / 1024 / float64(uptime)
			}
		}
		if id := metadataInt(p.metadata, metadataFieldM3UProfile); id > 0 {
			if prof, ok := profiles[id]; ok {
				stat.ProfileID = strconv.FormatInt(id, 10)
				stat.ProfileName = prof.Name
				stat.ProfileMax = prof.MaxStreams
				stat.ProfileConns = c.cacheInt(ctx, fmt.Sprintf(profileConnectionsFormat, id))
			}
		}
		if id := metadataInt(p.metadata, metadataFieldStreamProfile); id > 0 {
			if name, ok := transcodeNames[id]; ok {
				stat.StreamProfile = name
			} else {
				stat.StreamProfile = fmt.Sprintf("Profile-%d", id)
			}
		}
		if n, err := c.cache.SCard(ctx, fmt.Sprintf(channelClientsKeyFormat, p.channel.UUID)); err == nil {
			stat.Clients = n
		}
		stat.Viewers = c.cacheInt(ctx, fmt.Sprintf(channelViewersKeyFormat, p.channel.UUID))
		stats = append(stats, stat)
	}
	return stats, nil
}

func (c *Collector) gatherClients(ctx context.Context, streams []StreamStat) []ClientStat {
	now := c.clock.Now()
	var out []ClientStat
	for _, st := range streams {
		members, err := c.cache.SMembers(ctx, fmt.Sprintf(channelClientsKeyFormat, st.ChannelUUID))
		if err != nil {
			c.logger.Debug("collect.clients.members_unavailable", "channel_uuid", st.ChannelUUID, "error", err)
			continue
		}
		sort.Strings(members)
		for _, clientID := range members {
			fields, err := c.cache.HGetAll(ctx, fmt.Sprintf(channelClientHashFormat, st.ChannelUUID, clientID))
			if err != nil {
				c.logger.Debug("collect.clients.hash_unavailable", "client_id", clientID, "error", err)
				continue
			}
			stat := ClientStat{
				ChannelUUID: st.ChannelUUID,
				ChannelName: st.ChannelName,
				ClientID:    clientID,
				IPAddress:   metadataString(fields, "ip_address", "unknown"),
				UserAgent:   metadataString(fields, "user_agent", "unknown"),
			}
			if connectedAt := metadataFloat(fields, "connected_at"); connectedAt > 0 {
				if secs := now.Unix() - int64(connectedAt); secs > 0 {
					stat.ConnectedSeconds = secs
				}
			}
			out = append(out, stat)
		}
	}
	return out
}

func (c *Collector) gatherVOD(ctx context.Context) (sessions, activeStreams int64, err error) {
	keys, err := c.cache.Scan(ctx, vodSessionScanPattern)
	if err != nil {
		return 0, 0, fmt.Errorf("scan vod sessions: %w", err)
	}
	for _, key := range keys {
		sessions++
		fields, err := c.cache.HGetAll(ctx, key)
		if err != nil {
			c.logger.Debug("collect.vod.session_unavailable", "key", key, "error", err)
			continue
		}
		activeStreams += metadataInt(fields, "active_streams")
	}
	return sessions, activeStreams, nil
}

// cacheInt reads an integer-valued string key, treating absence or garbage
// as zero. Live counters in the cache are best-effort by contract.
func (c *Collector) cacheInt(ctx context.Context, key string) int64 {
	val, err := c.cache.Get(ctx, key)
	if err != nil {
		return 0
	}
	n, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func metadataString(fields map[string]string, key, def string) string {
	val := strings.TrimSpace(fields[key])
	if val == "" {
		return def
	}
	return val
}

func metadataInt(fields map[string]string, key string) int64 {
	val := strings.TrimSpace(fields[key])
	if val == "" {
		return 0
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		// Some producers write floats (e.g. "12.0"); take the integer part.
		f, ferr := strconv.ParseFloat(val, 64)
		if ferr != nil {
			return 0
		}
		return int64(f)
	}
	return n
}

func metadataFloat(fields map[string]string, key string) float64 {
	val := strings.TrimSpace(fields[key])
	if val == "" {
		return 0
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0
	}
	return f
}

func formatChannelNumber(n float64) string {
	if n == 0 {
		return "N/A"
	}
	return strconv.FormatFloat(n, 'f', -1, 64)
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "Unknown"
	}
	return s
}

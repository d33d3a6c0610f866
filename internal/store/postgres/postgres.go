// Package postgres implements store.Store against the host application's
// PostgreSQL schema using a pgx connection pool.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dispatcharr/exporter/internal/store"
)

// Store reads the host schema through a shared pgxpool. All methods are
// read-only and safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// New opens a pgxpool connection to dsn and verifies it with a ping.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Accounts returns every provider account except the builtin custom one,
// with the stream count resolved per account.
func (s *Store) Accounts(ctx context.Context) ([]store.M3UAccount, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT a.id, a.name, COALESCE(a.account_type, ''), COALESCE(a.status, ''),
		       a.is_active, COALESCE(a.username, ''), COALESCE(a.server_url, ''),
		       (SELECT COUNT(*) FROM channels_stream st WHERE st.m3u_account_id = a.id)
		FROM m3u_m3uaccount a
		WHERE LOWER(a.name) <> LOWER($1)
		ORDER BY a.id`, store.BuiltinAccountName)
	if err != nil {
		return nil, fmt.Errorf("postgres: query accounts: %w", err)
	}
	defer rows.Close()

	var accounts []store.M3UAccount
	for rows.Next() {
		var a store.M3UAccount
		if err := rows.Scan(&a.ID, &a.Name, &a.AccountType, &a.Status, &a.IsActive, &a.Username, &a.ServerURL, &a.StreamCount); err != nil {
			return nil, fmt.Errorf("postgres: scan account: %w", err)
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: accounts rows: %w", err)
	}
	return accounts, nil
}

// ActiveProfiles returns active connection profiles with their account names
// resolved, excluding profiles under the builtin account.
func (s *Store) ActiveProfiles(ctx context.Context) ([]store.AccountProfile, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT p.id, p.name, a.name, p.max_streams, p.is_active
		FROM m3u_m3uaccountprofile p
		JOIN m3u_m3uaccount a ON a.id = p.m3u_account_id
		WHERE p.is_active AND LOWER(a.name) <> LOWER($1)
		ORDER BY p.id`, store.BuiltinAccountName)
	if err != nil {
		return nil, fmt.Errorf("postgres: query profiles: %w", err)
	}
	defer rows.Close()

	var profiles []store.AccountProfile
	for rows.Next() {
		var p store.AccountProfile
		if err := rows.Scan(&p.ID, &p.Name, &p.AccountName, &p.MaxStreams, &p.IsActive); err != nil {
			return nil, fmt.Errorf("postgres: scan profile: %w", err)
		}
		profiles = append(profiles, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: profiles rows: %w", err)
	}
	return profiles, nil
}

// ProfilesByID returns the profiles with the supplied ids, keyed by id.
func (s *Store) ProfilesByID(ctx context.Context, ids []int64) (map[int64]store.AccountProfile, error) {
	out := make(map[int64]store.AccountProfile, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT p.id, p.name, a.name, p.max_streams, p.is_active
		FROM m3u_m3uaccountprofile p
		JOIN m3u_m3uaccount a ON a.id = p.m3u_account_id
		WHERE p.id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("postgres: query profiles by id: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p store.AccountProfile
		if err := rows.Scan(&p.ID, &p.Name, &p.AccountName, &p.MaxStreams, &p.IsActive); err != nil {
			return nil, fmt.Errorf("postgres: scan profile: %w", err)
		}
		out[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: profiles by id rows: %w", err)
	}
	return out, nil
}

// Channels returns every channel with its resolved logo URL.
func (s *Store) Channels(ctx context.Context) ([]store.Channel, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT c.id, c.uuid::text, c.name, COALESCE(c.channel_number, 0),
		       COALESCE(l.url, '')
		FROM channels_channel c
		LEFT JOIN channels_logo l ON l.id = c.logo_id
		ORDER BY c.id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: query channels: %w", err)
	}
	defer rows.Close()

	var channels []store.Channel
	for rows.Next() {
		var c store.Channel
		if err := rows.Scan(&c.ID, &c.UUID, &c.Name, &c.Number, &c.LogoURL); err != nil {
			return nil, fmt.Errorf("postgres: scan channel: %w", err)
		}
		channels = append(channels, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: channels rows: %w", err)
	}
	return channels, nil
}

// ChannelGroupCount returns the number of channel groups.
func (s *Store) ChannelGroupCount(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM channels_channelgroup`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count channel groups: %w", err)
	}
	return n, nil
}

// StreamsByID returns the streams with the supplied ids, keyed by id, with
// provider account details resolved.
func (s *Store) StreamsByID(ctx context.Context, ids []int64) (map[int64]store.Stream, error) {
	out := make(map[int64]store.Stream, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT st.id, st.name, COALESCE(a.name, ''), COALESCE(a.account_type, '')
		FROM channels_stream st
		LEFT JOIN m3u_m3uaccount a ON a.id = st.m3u_account_id
		WHERE st.id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("postgres: query streams by id: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var st store.Stream
		if err := rows.Scan(&st.ID, &st.Name, &st.AccountName, &st.AccountType); err != nil {
			return nil, fmt.Errorf("postgres: scan stream: %w", err)
		}
		out[st.ID] = st
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: streams by id rows: %w", err)
	}
	return out, nil
}

// ChannelStreams returns the stream assignments for the supplied channels.
func (s *Store) ChannelStreams(ctx context.Context, channelIDs []int64) ([]store.ChannelStreamLink, error) {
	if len(channelIDs) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT cs.channel_id, cs.stream_id, cs."order"
		FROM channels_channelstream cs
		WHERE cs.channel_id = ANY($1)`, channelIDs)
	if err != nil {
		return nil, fmt.Errorf("postgres: query channel streams: %w", err)
	}
	defer rows.Close()

	var links []store.ChannelStreamLink
	for rows.Next() {
		var l store.ChannelStreamLink
		if err := rows.Scan(&l.ChannelID, &l.StreamID, &l.Order); err != nil {
			return nil, fmt.Errorf("postgres: scan channel stream: %w", err)
		}
		links = append(links, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: channel streams rows: %w", err)
	}
	return links, nil
}

// StreamProfileNames returns transcode-profile names keyed by id.
func (s *Store) StreamProfileNames(ctx context.Context, ids []int64) (map[int64]string, error) {
	out := make(map[int64]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, name FROM core_streamprofile WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("postgres: query stream profiles: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id   int64
			name string
		)
		if err := rows.Scan(&id, &name); err != nil {
			return nil, fmt.Errorf("postgres: scan stream profile: %w", err)
		}
		out[id] = name
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: stream profiles rows: %w", err)
	}
	return out, nil
}

// EPGSources returns every guide source.
func (s *Store) EPGSources(ctx context.Context) ([]store.EPGSource, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, COALESCE(source_type, ''), COALESCE(status, ''),
		       is_active, COALESCE(priority, 0), COALESCE(url, '')
		FROM epg_epgsource
		ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: query epg sources: %w", err)
	}
	defer rows.Close()

	var sources []store.EPGSource
	for rows.Next() {
		var src store.EPGSource
		if err := rows.Scan(&src.ID, &src.Name, &src.Type, &src.Status, &src.IsActive, &src.Priority, &src.URL); err != nil {
			return nil, fmt.Errorf("postgres: scan epg source: %w", err)
		}
		sources = append(sources, src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: epg sources rows: %w", err)
	}
	return sources, nil
}

// PluginConfig returns the persisted config row for the given plugin key.
func (s *Store) PluginConfig(ctx context.Context, key string) (store.PluginConfig, error) {
	var (
		cfg store.PluginConfig
		raw []byte
	)
	err := s.pool.QueryRow(ctx, `
		SELECT key, enabled, COALESCE(settings, '{}'::jsonb)
		FROM plugins_pluginconfig
		WHERE key = $1`, key).Scan(&cfg.Key, &cfg.Enabled, &raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.PluginConfig{}, store.ErrNotFound
	}
	if err != nil {
		return store.PluginConfig{}, fmt.Errorf("postgres: query plugin config %s: %w", key, err)
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &cfg.Settings); err != nil {
			return store.PluginConfig{}, fmt.Errorf("postgres: decode plugin settings %s: %w", key, err)
		}
	}
	if cfg.Settings == nil {
		cfg.Settings = map[string]any{}
	}
	return cfg, nil
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres: ping: %w", err)
	}
	return nil
}

// Close releases pooled connections.
func (s *Store) Close() {
	s.pool.Close()
}

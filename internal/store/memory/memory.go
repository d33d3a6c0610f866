// Package memory implements store.Store in process memory; intended for
// tests and local development.
package memory

import (
	"context"
	"sync"

	"github.com/dispatcharr/exporter/internal/store"
)

// Store is an in-memory store.Store. Populate the exported fields before
// handing it to code under test; Err* fields inject failures per query.
type Store struct {
	mu sync.RWMutex

	AccountRows     []store.M3UAccount
	ProfileRows     []store.AccountProfile
	ChannelRows     []store.Channel
	GroupCount      int64
	StreamRows      map[int64]store.Stream
	LinkRows        []store.ChannelStreamLink
	StreamProfiles  map[int64]string
	EPGRows         []store.EPGSource
	PluginConfigs   map[string]store.PluginConfig
	ErrAccounts     error
	ErrProfiles     error
	ErrChannels     error
	ErrGroups       error
	ErrStreams      error
	ErrLinks        error
	ErrEPG          error
	ErrPluginConfig error
	ErrPing         error
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{
		StreamRows:     map[int64]store.Stream{},
		StreamProfiles: map[int64]string{},
		PluginConfigs:  map[string]store.PluginConfig{},
	}
}

// SetPluginSettings stores a plugin config row, creating it when absent.
func (s *Store) SetPluginSettings(key string, enabled bool, settings map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PluginConfigs[key] = store.PluginConfig{Key: key, Enabled: enabled, Settings: settings}
}

func (s *Store) Accounts(context.Context) ([]store.M3UAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.ErrAccounts != nil {
		return nil, s.ErrAccounts
	}
	return append([]store.M3UAccount(nil), s.AccountRows...), nil
}

func (s *Store) ActiveProfiles(context.Context) ([]store.AccountProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.ErrProfiles != nil {
		return nil, s.ErrProfiles
	}
	var out []store.AccountProfile
	for _, p := range s.ProfileRows {
		if p.IsActive {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *Store) ProfilesByID(_ context.Context, ids []int64) (map[int64]store.AccountProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.ErrProfiles != nil {
		return nil, s.ErrProfiles
	}
	out := make(map[int64]store.AccountProfile, len(ids))
	for _, id := range ids {
		for _, p := range s.ProfileRows {
			if p.ID == id {
				out[id] = p
			}
		}
	}
	return out, nil
}

func (s *Store) Channels(context.Context) ([]store.Channel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.ErrChannels != nil {
		return nil, s.ErrChannels
	}
	return append([]store.Channel(nil), s.ChannelRows...), nil
}

func (s *Store) ChannelGroupCount(context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.ErrGroups != nil {
		return 0, s.ErrGroups
	}
	return s.GroupCount, nil
}

func (s *Store) StreamsByID(_ context.Context, ids []int64) (map[int64]store.Stream, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.ErrStreams != nil {
		return nil, s.ErrStreams
	}
	out := make(map[int64]store.Stream, len(ids))
	for _, id := range ids {
		if st, ok := s.StreamRows[id]; ok {
			out[id] = st
		}
	}
	return out, nil
}

func (s *Store) ChannelStreams(_ context.Context, channelIDs []int64) ([]store.ChannelStreamLink, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.ErrLinks != nil {
		return nil, s.ErrLinks
	}
	wanted := make(map[int64]struct{}, len(channelIDs))
	for _, id := range channelIDs {
		wanted[id] = struct{}{}
	}
	var out []store.ChannelStreamLink
	for _, l := range s.LinkRows {
		if _, ok := wanted[l.ChannelID]; ok {
			out = append(out, l)
		}
	}
	return out, nil
}

func (s *Store) StreamProfileNames(_ context.Context, ids []int64) (map[int64]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[int64]string, len(ids))
	for _, id := range ids {
		if name, ok := s.StreamProfiles[id]; ok {
			out[id] = name
		}
	}
	return out, nil
}

func (s *Store) EPGSources(context.Context) ([]store.EPGSource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.ErrEPG != nil {
		return nil, s.ErrEPG
	}
	return append([]store.EPGSource(nil), s.EPGRows...), nil
}

func (s *Store) PluginConfig(_ context.Context, key string) (store.PluginConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.ErrPluginConfig != nil {
		return store.PluginConfig{}, s.ErrPluginConfig
	}
	cfg, ok := s.PluginConfigs[key]
	if !ok {
		return store.PluginConfig{}, store.ErrNotFound
	}
	return cfg, nil
}

func (s *Store) Ping(context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ErrPing
}

func (s *Store) Close() {}

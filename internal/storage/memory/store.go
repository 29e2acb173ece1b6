// Package memory provides in-process implementations of the crawl store and
// raw page archive for development and tests.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/JakeFAU/ytcrawler/internal/crawler"
)

// Store keeps channels, raw videos, the quota ledger, and audit entries in
// maps guarded by a single RWMutex. All reads return copies.
type Store struct {
	mu       sync.RWMutex
	channels map[string]crawler.Channel
	videos   map[string]crawler.RawVideo
	quota    *crawler.QuotaState
	logs     []crawler.LogEntry
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		channels: make(map[string]crawler.Channel),
		videos:   make(map[string]crawler.RawVideo),
	}
}

// ListChannels returns every channel ordered by creation time.
func (s *Store) ListChannels(_ context.Context) ([]crawler.Channel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]crawler.Channel, 0, len(s.channels))
	for _, ch := range s.channels {
		out = append(out, ch)
	}
	sortChannels(out)
	return out, nil
}

// GetChannel fetches a channel by id.
func (s *Store) GetChannel(_ context.Context, channelID string) (crawler.Channel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ch, ok := s.channels[channelID]
	if !ok {
		return crawler.Channel{}, fmt.Errorf("channel %s: %w", channelID, crawler.ErrNotFound)
	}
	return ch, nil
}

// GetChannelsByInitialized returns channels in the given state, oldest first.
func (s *Store) GetChannelsByInitialized(_ context.Context, initialized bool) ([]crawler.Channel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []crawler.Channel
	for _, ch := range s.channels {
		if ch.Initialized == initialized {
			out = append(out, ch)
		}
	}
	sortChannels(out)
	return out, nil
}

// UpsertChannel inserts a channel, or refreshes the metadata of an existing
// one without touching its initialized flag or creation time.
func (s *Store) UpsertChannel(_ context.Context, channel crawler.Channel) error {
	if channel.ChannelID == "" {
		return fmt.Errorf("channel id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.channels[channel.ChannelID]; ok {
		existing.Handle = channel.Handle
		existing.Name = channel.Name
		existing.StreamerName = channel.StreamerName
		s.channels[channel.ChannelID] = existing
		return nil
	}
	s.channels[channel.ChannelID] = channel
	return nil
}

// UpdateChannel overwrites an existing channel.
func (s *Store) UpdateChannel(_ context.Context, channel crawler.Channel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.channels[channel.ChannelID]
	if !ok {
		return fmt.Errorf("channel %s: %w", channel.ChannelID, crawler.ErrNotFound)
	}
	channel.CreatedAt = existing.CreatedAt
	s.channels[channel.ChannelID] = channel
	return nil
}

// MarkChannelInitialized sets the initialized flag on an existing channel.
func (s *Store) MarkChannelInitialized(_ context.Context, channelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.channels[channelID]
	if !ok {
		return fmt.Errorf("channel %s: %w", channelID, crawler.ErrNotFound)
	}
	existing.Initialized = true
	s.channels[channelID] = existing
	return nil
}

// GetVideoByID fetches a raw video by id.
func (s *Store) GetVideoByID(_ context.Context, videoID string) (crawler.RawVideo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.videos[videoID]
	if !ok {
		return crawler.RawVideo{}, fmt.Errorf("video %s: %w", videoID, crawler.ErrNotFound)
	}
	return copyVideo(v), nil
}

// BulkInsertRawVideos stores videos, skipping ids that already exist.
func (s *Store) BulkInsertRawVideos(_ context.Context, videos []crawler.RawVideo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range videos {
		if v.VideoID == "" {
			return fmt.Errorf("video id is required")
		}
		if _, exists := s.videos[v.VideoID]; exists {
			continue
		}
		s.videos[v.VideoID] = copyVideo(v)
	}
	return nil
}

// DeleteRawVideosForChannel removes every raw video of a channel.
func (s *Store) DeleteRawVideosForChannel(_ context.Context, channelID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, v := range s.videos {
		if v.ChannelID == channelID {
			delete(s.videos, id)
			n++
		}
	}
	return n, nil
}

// CountRawVideos counts a channel's raw videos.
func (s *Store) CountRawVideos(_ context.Context, channelID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, v := range s.videos {
		if v.ChannelID == channelID {
			n++
		}
	}
	return n, nil
}

// GetQuotaState returns the stored ledger.
func (s *Store) GetQuotaState(_ context.Context) (crawler.QuotaState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.quota == nil {
		return crawler.QuotaState{}, fmt.Errorf("quota state: %w", crawler.ErrNotFound)
	}
	return *s.quota, nil
}

// UpsertQuotaState replaces the ledger.
func (s *Store) UpsertQuotaState(_ context.Context, state crawler.QuotaState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.quota != nil && state.CreatedAt.IsZero() {
		state.CreatedAt = s.quota.CreatedAt
	}
	s.quota = &state
	return nil
}

// AppendLog appends an audit entry.
func (s *Store) AppendLog(_ context.Context, entry crawler.LogEntry) error {
	if !entry.Level.Valid() {
		return fmt.Errorf("invalid log level %q", entry.Level)
	}
	details, err := cloneDetails(entry.Details)
	if err != nil {
		return err
	}
	entry.Details = details
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, entry)
	return nil
}

// ListLogs returns matching entries, newest first.
func (s *Store) ListLogs(_ context.Context, filter crawler.LogFilter) ([]crawler.LogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []crawler.LogEntry
	for i := len(s.logs) - 1; i >= 0; i-- {
		e := s.logs[i]
		if filter.Category != "" && e.Category != filter.Category {
			continue
		}
		if filter.DomainID != "" && e.DomainID != filter.DomainID {
			continue
		}
		if filter.Level != "" && e.Level != filter.Level {
			continue
		}
		out = append(out, e)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error {
	return nil
}

// Close is a no-op.
func (s *Store) Close() {}

func sortChannels(chs []crawler.Channel) {
	sort.SliceStable(chs, func(i, j int) bool {
		if !chs[i].CreatedAt.Equal(chs[j].CreatedAt) {
			return chs[i].CreatedAt.Before(chs[j].CreatedAt)
		}
		return chs[i].ChannelID < chs[j].ChannelID
	})
}

func copyVideo(v crawler.RawVideo) crawler.RawVideo {
	v.RawData = append(json.RawMessage(nil), v.RawData...)
	return v
}

// cloneDetails round-trips details through JSON so stored entries look the
// same as entries read back from a database.
func cloneDetails(details map[string]any) (map[string]any, error) {
	if len(details) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(details)
	if err != nil {
		return nil, fmt.Errorf("marshal log details: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("unmarshal log details: %w", err)
	}
	return out, nil
}

package memory

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/ytcrawler/internal/crawler"
)

func TestStoreChannelLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewStore()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.UpsertChannel(ctx, crawler.Channel{ChannelID: "UC-b", Handle: "@b", Name: "B", CreatedAt: base.Add(time.Hour)}))
	require.NoError(t, store.UpsertChannel(ctx, crawler.Channel{ChannelID: "UC-a", Handle: "@a", Name: "A", CreatedAt: base}))

	all, err := store.ListChannels(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "UC-a", all[0].ChannelID, "oldest first")

	a := all[0]
	a.Initialized = true
	require.NoError(t, store.UpdateChannel(ctx, a))

	// Re-registering refreshes metadata only.
	require.NoError(t, store.UpsertChannel(ctx, crawler.Channel{ChannelID: "UC-a", Handle: "@a2", Name: "A2", CreatedAt: base.Add(48 * time.Hour)}))
	got, err := store.GetChannel(ctx, "UC-a")
	require.NoError(t, err)
	assert.True(t, got.Initialized)
	assert.Equal(t, "@a2", got.Handle)
	assert.Equal(t, base, got.CreatedAt)

	initialized, err := store.GetChannelsByInitialized(ctx, true)
	require.NoError(t, err)
	require.Len(t, initialized, 1)
	pending, err := store.GetChannelsByInitialized(ctx, false)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "UC-b", pending[0].ChannelID)

	_, err = store.GetChannel(ctx, "UC-missing")
	assert.ErrorIs(t, err, crawler.ErrNotFound)
	assert.ErrorIs(t, store.UpdateChannel(ctx, crawler.Channel{ChannelID: "UC-missing"}), crawler.ErrNotFound)
	assert.Error(t, store.UpsertChannel(ctx, crawler.Channel{}))
}

func TestStoreMarkChannelInitializedKeepsMetadata(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewStore()
	require.NoError(t, store.UpsertChannel(ctx, crawler.Channel{ChannelID: "UC-a", Handle: "@a", Name: "A"}))
	require.NoError(t, store.UpdateChannel(ctx, crawler.Channel{ChannelID: "UC-a", Handle: "@a", Name: "Renamed"}))

	require.NoError(t, store.MarkChannelInitialized(ctx, "UC-a"))
	got, err := store.GetChannel(ctx, "UC-a")
	require.NoError(t, err)
	assert.True(t, got.Initialized)
	assert.Equal(t, "Renamed", got.Name)

	assert.ErrorIs(t, store.MarkChannelInitialized(ctx, "UC-missing"), crawler.ErrNotFound)
}

func TestStoreRawVideos(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewStore()
	videos := []crawler.RawVideo{
		{VideoID: "v1", ChannelID: "UC-a", RawData: json.RawMessage(`{"n":1}`)},
		{VideoID: "v2", ChannelID: "UC-a", RawData: json.RawMessage(`{"n":2}`)},
		{VideoID: "v3", ChannelID: "UC-b", RawData: json.RawMessage(`{"n":3}`)},
	}
	require.NoError(t, store.BulkInsertRawVideos(ctx, videos))
	require.NoError(t, store.BulkInsertRawVideos(ctx, []crawler.RawVideo{
		{VideoID: "v1", ChannelID: "UC-a", RawData: json.RawMessage(`{"n":"dup"}`)},
	}))

	v1, err := store.GetVideoByID(ctx, "v1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":1}`, string(v1.RawData), "existing ids are never overwritten")

	count, err := store.CountRawVideos(ctx, "UC-a")
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)

	deleted, err := store.DeleteRawVideosForChannel(ctx, "UC-a")
	require.NoError(t, err)
	assert.EqualValues(t, 2, deleted)
	deleted, err = store.DeleteRawVideosForChannel(ctx, "UC-a")
	require.NoError(t, err)
	assert.Zero(t, deleted)

	_, err = store.GetVideoByID(ctx, "v1")
	assert.ErrorIs(t, err, crawler.ErrNotFound)
	_, err = store.GetVideoByID(ctx, "v3")
	assert.NoError(t, err)

	assert.Error(t, store.BulkInsertRawVideos(ctx, []crawler.RawVideo{{ChannelID: "UC-a"}}))
}

func TestStoreQuotaState(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewStore()
	_, err := store.GetQuotaState(ctx)
	assert.ErrorIs(t, err, crawler.ErrNotFound)

	created := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.UpsertQuotaState(ctx, crawler.QuotaState{APIKey: "k", QuotaUsed: 100, CreatedAt: created}))
	require.NoError(t, store.UpsertQuotaState(ctx, crawler.QuotaState{APIKey: "k", QuotaUsed: 200}))

	state, err := store.GetQuotaState(ctx)
	require.NoError(t, err)
	assert.Equal(t, 200, state.QuotaUsed)
	assert.Equal(t, created, state.CreatedAt)
}

func TestStoreLogs(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewStore()
	ts := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	entries := []crawler.LogEntry{
		{Category: crawler.CategoryChannel, DomainID: "UC-a", Level: crawler.LevelInfo, Message: "one", Timestamp: ts},
		{Category: crawler.CategoryVideo, DomainID: "v1", Level: crawler.LevelInfo, Message: "two", Timestamp: ts},
		{Category: crawler.CategoryChannel, DomainID: "UC-a", Level: crawler.LevelError, Message: "three", Details: map[string]any{"quota_used": 300}, Timestamp: ts},
	}
	for _, e := range entries {
		require.NoError(t, store.AppendLog(ctx, e))
	}
	assert.Error(t, store.AppendLog(ctx, crawler.LogEntry{Level: "TRACE"}))

	all, err := store.ListLogs(ctx, crawler.LogFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "three", all[0].Message)
	assert.EqualValues(t, 300, all[0].Details["quota_used"])

	channel, err := store.ListLogs(ctx, crawler.LogFilter{Category: crawler.CategoryChannel, DomainID: "UC-a", Limit: 1})
	require.NoError(t, err)
	require.Len(t, channel, 1)
	assert.Equal(t, "three", channel[0].Message)

	errorsOnly, err := store.ListLogs(ctx, crawler.LogFilter{Level: crawler.LevelError})
	require.NoError(t, err)
	assert.Len(t, errorsOnly, 1)
}

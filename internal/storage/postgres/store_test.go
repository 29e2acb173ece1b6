package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/ytcrawler/internal/crawler"
)

var channelCols = []string{"channel_id", "channel_handle", "channel_name", "streamer_name", "initialized", "created_at"}

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store, err := NewWithPool(mock)
	require.NoError(t, err)
	return store, mock
}

func TestNewWithPoolRequiresPool(t *testing.T) {
	t.Parallel()

	_, err := NewWithPool(nil)
	require.Error(t, err)
}

func TestNewRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{}, nil)
	require.Error(t, err)
}

func TestGetChannelsByInitialized(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	created := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("FROM channels WHERE initialized = $1 ORDER BY created_at, channel_id")).
		WithArgs(false).
		WillReturnRows(pgxmock.NewRows(channelCols).
			AddRow("UC1", "@one", "One", "streamer-one", false, created).
			AddRow("UC2", "@two", "Two", "", false, created.Add(time.Minute)))

	channels, err := store.GetChannelsByInitialized(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, channels, 2)
	assert.Equal(t, crawler.Channel{
		ChannelID:    "UC1",
		Handle:       "@one",
		Name:         "One",
		StreamerName: "streamer-one",
		CreatedAt:    created,
	}, channels[0])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetChannelNotFound(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM channels WHERE channel_id = $1")).
		WithArgs("UC-missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := store.GetChannel(context.Background(), "UC-missing")
	require.ErrorIs(t, err, crawler.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertChannelKeepsInitializedOnConflict(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	created := time.Unix(1700000000, 0).UTC()
	ch := crawler.Channel{ChannelID: "UC1", Handle: "@one", Name: "One", StreamerName: "s", CreatedAt: created}

	mock.ExpectExec(`INSERT INTO channels .* ON CONFLICT \(channel_id\) DO UPDATE SET\s+channel_handle = EXCLUDED.channel_handle`).
		WithArgs("UC1", "@one", "One", "s", false, created).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.UpsertChannel(context.Background(), ch))
	require.Error(t, store.UpsertChannel(context.Background(), crawler.Channel{}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateChannel(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	ch := crawler.Channel{ChannelID: "UC1", Handle: "@one", Name: "One", Initialized: true}

	mock.ExpectExec("UPDATE channels").
		WithArgs("UC1", "@one", "One", "", true).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE channels").
		WithArgs("UC9", "", "", "", false).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	require.NoError(t, store.UpdateChannel(context.Background(), ch))
	err := store.UpdateChannel(context.Background(), crawler.Channel{ChannelID: "UC9"})
	require.ErrorIs(t, err, crawler.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkChannelInitialized(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE channels SET initialized = TRUE, updated_at = NOW() WHERE channel_id = $1")).
		WithArgs("UC1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE channels").
		WithArgs("UC9").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	require.NoError(t, store.MarkChannelInitialized(context.Background(), "UC1"))
	err := store.MarkChannelInitialized(context.Background(), "UC9")
	require.ErrorIs(t, err, crawler.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkInsertRawVideos(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()
	videos := []crawler.RawVideo{
		{VideoID: "v1", ChannelID: "UC1", StreamerName: "s", RawData: json.RawMessage(`{"id":1}`), CreatedAt: now},
		{VideoID: "v2", ChannelID: "UC1", StreamerName: "s", RawData: json.RawMessage(`{"id":2}`), CreatedAt: now},
	}

	mock.ExpectExec(regexp.QuoteMeta(
		"INSERT INTO raw_videos (video_id, channel_id, streamer_name, raw_data, created_at) VALUES " +
			"($1, $2, $3, $4, $5), ($6, $7, $8, $9, $10) ON CONFLICT (video_id) DO NOTHING")).
		WithArgs(
			"v1", "UC1", "s", []byte(`{"id":1}`), now,
			"v2", "UC1", "s", []byte(`{"id":2}`), now,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))

	require.NoError(t, store.BulkInsertRawVideos(context.Background(), videos))
	require.NoError(t, store.BulkInsertRawVideos(context.Background(), nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBuildVideoInsertChunksAndValidates(t *testing.T) {
	t.Parallel()

	_, _, err := buildVideoInsert([]crawler.RawVideo{{ChannelID: "UC1"}})
	require.Error(t, err)

	videos := make([]crawler.RawVideo, insertChunk+1)
	for i := range videos {
		videos[i] = crawler.RawVideo{VideoID: fmt.Sprintf("v%d", i), RawData: json.RawMessage(`{}`)}
	}
	anyArgs := func(n int) []any {
		args := make([]any, n)
		for i := range args {
			args[i] = pgxmock.AnyArg()
		}
		return args
	}
	store, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO raw_videos").
		WithArgs(anyArgs(insertChunk * videoColumns)...).
		WillReturnResult(pgxmock.NewResult("INSERT", insertChunk))
	mock.ExpectExec("INSERT INTO raw_videos").
		WithArgs(anyArgs(videoColumns)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, store.BulkInsertRawVideos(context.Background(), videos))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetVideoByID(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()
	mock.ExpectQuery(regexp.QuoteMeta("FROM raw_videos WHERE video_id = $1")).
		WithArgs("v1").
		WillReturnRows(pgxmock.NewRows([]string{"video_id", "channel_id", "streamer_name", "raw_data", "created_at"}).
			AddRow("v1", "UC1", "s", []byte(`{"id":1}`), now))
	mock.ExpectQuery(regexp.QuoteMeta("FROM raw_videos WHERE video_id = $1")).
		WithArgs("v2").
		WillReturnError(pgx.ErrNoRows)

	v, err := store.GetVideoByID(context.Background(), "v1")
	require.NoError(t, err)
	assert.Equal(t, "UC1", v.ChannelID)
	assert.JSONEq(t, `{"id":1}`, string(v.RawData))

	_, err = store.GetVideoByID(context.Background(), "v2")
	require.ErrorIs(t, err, crawler.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteAndCountRawVideos(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM raw_videos WHERE channel_id = $1")).
		WithArgs("UC1").
		WillReturnResult(pgxmock.NewResult("DELETE", 42))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM raw_videos WHERE channel_id = $1")).
		WithArgs("UC1").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(0)))

	n, err := store.DeleteRawVideosForChannel(context.Background(), "UC1")
	require.NoError(t, err)
	assert.EqualValues(t, 42, n)

	count, err := store.CountRawVideos(context.Background(), "UC1")
	require.NoError(t, err)
	assert.Zero(t, count)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteRawVideosPropagatesError(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("DELETE FROM raw_videos").WithArgs("UC1").WillReturnError(errors.New("conn closed"))

	_, err := store.DeleteRawVideosForChannel(context.Background(), "UC1")
	require.ErrorContains(t, err, "failed to delete raw videos")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestQuotaState(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	updated := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	created := updated.Add(-24 * time.Hour)

	mock.ExpectQuery(regexp.QuoteMeta("FROM quota_states WHERE service = $1")).
		WithArgs(crawler.YouTubeService).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec(`INSERT INTO quota_states .* ON CONFLICT \(service\) DO UPDATE`).
		WithArgs(crawler.YouTubeService, "key", 300, updated, updated).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery(regexp.QuoteMeta("FROM quota_states WHERE service = $1")).
		WithArgs(crawler.YouTubeService).
		WillReturnRows(pgxmock.NewRows([]string{"service", "api_key", "quota_used", "updated_at", "created_at"}).
			AddRow(crawler.YouTubeService, "key", 300, updated, created))

	_, err := store.GetQuotaState(context.Background())
	require.ErrorIs(t, err, crawler.ErrNotFound)

	require.NoError(t, store.UpsertQuotaState(context.Background(), crawler.QuotaState{APIKey: "key", QuotaUsed: 300, UpdatedAt: updated}))

	state, err := store.GetQuotaState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 300, state.QuotaUsed)
	assert.Equal(t, created, state.CreatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendLog(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	ts := time.Unix(1700000000, 0).UTC()
	entry := crawler.LogEntry{
		Category:  crawler.CategoryChannel,
		DomainID:  "UC1",
		Level:     crawler.LevelError,
		Message:   "backfill failed",
		Details:   map[string]any{"quota_used": 300},
		Timestamp: ts,
	}
	mock.ExpectExec("INSERT INTO crawl_logs").
		WithArgs("channel", "UC1", "ERROR", "backfill failed", []byte(`{"quota_used":300}`), ts).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.AppendLog(context.Background(), entry))
	require.Error(t, store.AppendLog(context.Background(), crawler.LogEntry{Level: "TRACE"}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListLogsBuildsFilters(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	ts := time.Unix(1700000000, 0).UTC()
	cols := []string{"category", "domain_id", "level", "message", "details", "logged_at"}

	mock.ExpectQuery(regexp.QuoteMeta(
		"FROM crawl_logs WHERE category = $1 AND domain_id = $2 ORDER BY logged_at DESC, id DESC LIMIT $3")).
		WithArgs("channel", "UC1", 5).
		WillReturnRows(pgxmock.NewRows(cols).
			AddRow("channel", "UC1", "INFO", "done", []byte(`{"collected":3}`), ts))
	mock.ExpectQuery(regexp.QuoteMeta("FROM crawl_logs ORDER BY logged_at DESC, id DESC LIMIT $1")).
		WithArgs(defaultLogLimit).
		WillReturnRows(pgxmock.NewRows(cols))

	logs, err := store.ListLogs(context.Background(), crawler.LogFilter{Category: crawler.CategoryChannel, DomainID: "UC1", Limit: 5})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, crawler.LevelInfo, logs[0].Level)
	assert.EqualValues(t, 3, logs[0].Details["collected"])

	logs, err = store.ListLogs(context.Background(), crawler.LogFilter{})
	require.NoError(t, err)
	assert.Empty(t, logs)
	require.NoError(t, mock.ExpectationsWereMet())
}

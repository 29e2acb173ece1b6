package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/ytcrawler/internal/audit"
	"github.com/JakeFAU/ytcrawler/internal/clock"
	"github.com/JakeFAU/ytcrawler/internal/crawler"
	"github.com/JakeFAU/ytcrawler/internal/id/uuid"
	"github.com/JakeFAU/ytcrawler/internal/quota"
	"github.com/JakeFAU/ytcrawler/internal/storage/memory"
)

var fixtureNow = time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

// fakeSource serves fixture pages keyed by channel, window year and cursor.
type fakeSource struct {
	mu    sync.Mutex
	pages map[string]crawler.SearchPage
	errs  map[string]error
	calls []crawler.PageRequest
	// onFetch runs before each page is served, outside the lock.
	onFetch func(crawler.PageRequest)
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		pages: make(map[string]crawler.SearchPage),
		errs:  make(map[string]error),
	}
}

func pageKey(channelID string, year int, cursor string) string {
	return fmt.Sprintf("%s|%d|%s", channelID, year, cursor)
}

// page registers a page. year 0 means no window (incremental).
func (f *fakeSource) page(channelID string, year int, cursor, next string, items ...crawler.SearchItem) {
	f.pages[pageKey(channelID, year, cursor)] = crawler.SearchPage{Items: items, NextPageCursor: next}
}

func (f *fakeSource) fail(channelID string, year int, cursor string, err error) {
	f.errs[pageKey(channelID, year, cursor)] = err
}

func (f *fakeSource) ResolveChannelID(context.Context, string, string) (string, error) {
	return "", crawler.ErrChannelNotFound
}

func (f *fakeSource) FetchVideoPage(_ context.Context, req crawler.PageRequest) (crawler.SearchPage, error) {
	if f.onFetch != nil {
		f.onFetch(req)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	year := 0
	if !req.PublishedAfter.IsZero() {
		year = req.PublishedAfter.Year()
	}
	key := pageKey(req.ChannelID, year, req.PageCursor)
	if err, ok := f.errs[key]; ok {
		return crawler.SearchPage{}, err
	}
	return f.pages[key], nil
}

func (f *fakeSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func video(id string) crawler.SearchItem {
	raw, _ := json.Marshal(map[string]any{"id": map[string]string{"kind": crawler.VideoKind, "videoId": id}})
	return crawler.SearchItem{Kind: crawler.VideoKind, VideoID: id, Raw: raw}
}

func playlist(id string) crawler.SearchItem {
	raw, _ := json.Marshal(map[string]any{"id": map[string]string{"kind": "youtube#playlist", "playlistId": id}})
	return crawler.SearchItem{Kind: "youtube#playlist", Raw: raw}
}

type harness struct {
	store  *memory.Store
	source *fakeSource
	quota  *quota.Service
	clock  *clock.Manual
	deps   Dependencies
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := memory.NewStore()
	clk := clock.NewManual(fixtureNow)
	source := newFakeSource()
	ledger := quota.NewService(store, quota.NewTracker(quota.DefaultConfig()), clk, "test-key", zap.NewNop())
	return &harness{
		store:  store,
		source: source,
		quota:  ledger,
		clock:  clk,
		deps: Dependencies{
			Source: source,
			Store:  store,
			Quota:  ledger,
			Audit:  audit.NewRecorder(store, clk, zap.NewNop()),
			Clock:  clk,
			IDs:    uuid.New(),
		},
	}
}

func (h *harness) worker(cfg Config) *Worker {
	return New(h.deps, cfg, zap.NewNop())
}

func (h *harness) addChannel(t *testing.T, id string, initialized bool, order int) {
	t.Helper()
	require.NoError(t, h.store.UpsertChannel(context.Background(), crawler.Channel{
		ChannelID:    id,
		Handle:       "@" + id,
		Name:         id,
		StreamerName: "streamer-" + id,
		Initialized:  initialized,
		CreatedAt:    fixtureNow.Add(time.Duration(order) * time.Minute),
	}))
}

func (h *harness) setQuota(t *testing.T, used int) {
	t.Helper()
	require.NoError(t, h.store.UpsertQuotaState(context.Background(), crawler.QuotaState{
		Service:   crawler.YouTubeService,
		APIKey:    "test-key",
		QuotaUsed: used,
		UpdatedAt: fixtureNow,
		CreatedAt: fixtureNow,
	}))
}

func (h *harness) quotaUsed(t *testing.T) int {
	t.Helper()
	state, err := h.store.GetQuotaState(context.Background())
	require.NoError(t, err)
	return state.QuotaUsed
}

func (h *harness) videoCount(t *testing.T, channelID string) int64 {
	t.Helper()
	n, err := h.store.CountRawVideos(context.Background(), channelID)
	require.NoError(t, err)
	return n
}

func (h *harness) channelLogs(t *testing.T, channelID string) []crawler.LogEntry {
	t.Helper()
	entries, err := h.store.ListLogs(context.Background(), crawler.LogFilter{
		Category: crawler.CategoryChannel,
		DomainID: channelID,
	})
	require.NoError(t, err)
	return entries
}

func quotaWithoutKey(h *harness) QuotaLedger {
	return quota.NewService(h.store, quota.NewTracker(quota.DefaultConfig()), h.clock, "", zap.NewNop())
}

// Package worker runs the crawl procedures over tracked channels.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/ytcrawler/internal/audit"
	"github.com/JakeFAU/ytcrawler/internal/crawler"
	"github.com/JakeFAU/ytcrawler/internal/metrics"
	"github.com/JakeFAU/ytcrawler/internal/quota"
)

var tracer = otel.Tracer("github.com/JakeFAU/ytcrawler/internal/worker")

// Config controls Worker behavior.
type Config struct {
	// StartYear is the first backfill window.
	StartYear int
	// ArchivePrefix roots raw page objects in the blob store.
	ArchivePrefix string
	// Topic receives one notification per completed channel.
	Topic string
}

// QuotaLedger loads and persists the shared quota state.
type QuotaLedger interface {
	Load(ctx context.Context) (crawler.QuotaState, error)
	Save(ctx context.Context, state crawler.QuotaState) error
	Tracker() *quota.Tracker
}

// Dependencies are the collaborators a Worker drives. Archive and Publisher
// are optional.
type Dependencies struct {
	Source    crawler.VideoSource
	Store     crawler.Store
	Quota     QuotaLedger
	Audit     crawler.AuditLog
	Archive   crawler.BlobStore
	Publisher crawler.Publisher
	Clock     crawler.Clock
	IDs       crawler.IDGenerator
	// Hasher digests archived pages. Optional.
	Hasher crawler.Hasher
}

// Worker executes backfill and incremental runs. Only one run is active at
// a time; channels within a run are processed sequentially because the quota
// ledger is shared.
type Worker struct {
	deps   Dependencies
	cfg    Config
	logger *zap.Logger
	mu     sync.Mutex
}

// New constructs a Worker.
func New(deps Dependencies, cfg Config, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.StartYear == 0 {
		cfg.StartYear = 2023
	}
	return &Worker{deps: deps, cfg: cfg, logger: logger.Named("worker")}
}

// errQuotaExhausted signals that the shared budget ran out mid-channel.
var errQuotaExhausted = errors.New("search quota exhausted")

// RunBackfill crawls the full history of every uninitialized channel.
// A failing channel is rolled back and the run moves on; quota exhaustion
// halts the run. The returned error is non-nil when any channel failed.
func (w *Worker) RunBackfill(ctx context.Context) (crawler.RunReport, error) {
	if !w.mu.TryLock() {
		return crawler.RunReport{}, crawler.ErrRunInProgress
	}
	defer w.mu.Unlock()
	ctx, span := tracer.Start(ctx, "worker.backfill")
	defer span.End()

	report, err := w.startReport(crawler.ModeBackfill)
	if err != nil {
		return report, err
	}
	channels, err := w.deps.Store.GetChannelsByInitialized(ctx, false)
	if err != nil {
		return report, fmt.Errorf("list uninitialized channels: %w", err)
	}
	w.logger.Info("backfill run started", zap.String("run_id", report.RunID), zap.Int("channels", len(channels)))

	windows := BackfillWindows(w.cfg.StartYear, w.deps.Clock.Now())
	var failures []error
	for i, ch := range channels {
		if err := ctx.Err(); err != nil {
			w.skipRemaining(&report, channels[i:])
			return w.finish(report), err
		}
		cctx, cspan := tracer.Start(ctx, "worker.backfill_channel", trace.WithAttributes(
			attribute.String("run_id", report.RunID),
			attribute.String("channel_id", ch.ChannelID),
		))
		outcome, halted, err := w.backfillChannel(cctx, report.RunID, ch, windows)
		endChannelSpan(cspan, outcome, err)
		report.Channels = append(report.Channels, outcome)
		metrics.ObserveChannelRun(string(crawler.ModeBackfill), string(outcome.Status))
		if errors.Is(err, crawler.ErrNoAPIKey) {
			w.skipRemaining(&report, channels[i+1:])
			return w.finish(report), err
		}
		if err != nil {
			failures = append(failures, fmt.Errorf("channel %s: %w", ch.ChannelID, err))
		}
		if halted {
			report.Halted = true
			w.skipRemaining(&report, channels[i+1:])
			break
		}
	}
	return w.finish(report), errors.Join(failures...)
}

func (w *Worker) backfillChannel(
	ctx context.Context,
	runID string,
	ch crawler.Channel,
	windows []crawler.TimeWindow,
) (crawler.ChannelOutcome, bool, error) {
	outcome := crawler.ChannelOutcome{ChannelID: ch.ChannelID, Status: crawler.OutcomeFailed}
	state, err := w.deps.Quota.Load(ctx)
	if err != nil {
		return outcome, false, err
	}
	tracker := w.deps.Quota.Tracker()
	if !tracker.IsSearchQuotaAvailable(state) {
		outcome.Status = crawler.OutcomeSkipped
		w.recordQuotaHalt(ctx, ch, state, crawler.ModeBackfill)
		return outcome, true, nil
	}

	start := state.QuotaUsed
	collected, err := w.collectWindows(ctx, runID, ch, windows, &state)
	outcome.Collected = collected
	outcome.QuotaUsed = state.QuotaUsed - start

	// Cleanup and bookkeeping must land even when the run is being cancelled.
	bookCtx := context.WithoutCancel(ctx)
	halted := false
	switch {
	case errors.Is(err, errQuotaExhausted):
		halted = true
		outcome.Status = crawler.OutcomeSkipped
		w.rollback(bookCtx, ch.ChannelID)
		w.recordQuotaHalt(bookCtx, ch, state, crawler.ModeBackfill)
		err = nil
	case err != nil:
		w.deps.Audit.Record(bookCtx, audit.Channel(crawler.LevelError, ch.ChannelID, "backfill failed", map[string]any{
			"run_id":     runID,
			"quota_used": outcome.QuotaUsed,
			"error":      err.Error(),
		}))
		w.rollback(bookCtx, ch.ChannelID)
		outcome.Collected = 0
	default:
		if uerr := w.deps.Store.MarkChannelInitialized(bookCtx, ch.ChannelID); uerr != nil {
			err = fmt.Errorf("mark channel initialized: %w", uerr)
			w.rollback(bookCtx, ch.ChannelID)
			outcome.Collected = 0
			break
		}
		outcome.Status = crawler.OutcomeSucceeded
		w.deps.Audit.Record(bookCtx, audit.Channel(crawler.LevelInfo, ch.ChannelID, "backfill completed", map[string]any{
			"run_id":     runID,
			"collected":  collected,
			"quota_used": outcome.QuotaUsed,
		}))
	}

	if serr := w.deps.Quota.Save(bookCtx, state); serr != nil {
		w.logger.Error("persist quota failed", zap.String("channel_id", ch.ChannelID), zap.Error(serr))
		err = errors.Join(err, serr)
	}
	if outcome.Status == crawler.OutcomeSucceeded {
		w.notify(bookCtx, runID, crawler.ModeBackfill, outcome)
	}
	return outcome, halted, err
}

func (w *Worker) collectWindows(
	ctx context.Context,
	runID string,
	ch crawler.Channel,
	windows []crawler.TimeWindow,
	state *crawler.QuotaState,
) (int, error) {
	tracker := w.deps.Quota.Tracker()
	collected := 0
	pageNo := 0
	for _, window := range windows {
		cursor := ""
		for {
			if !tracker.IsSearchQuotaAvailable(*state) {
				return collected, errQuotaExhausted
			}
			page, err := w.deps.Source.FetchVideoPage(ctx, crawler.PageRequest{
				ChannelID:       ch.ChannelID,
				APIKey:          state.APIKey,
				PageCursor:      cursor,
				PublishedAfter:  window.After,
				PublishedBefore: window.Before,
			})
			if err != nil {
				return collected, fmt.Errorf("fetch page for window %d: %w", window.After.Year(), err)
			}
			now := w.deps.Clock.Now()
			tracker.UseSearchCalls(state, page.RequestCount(), now)
			pageNo++
			metrics.ObservePage(string(crawler.ModeBackfill))
			archived := w.archivePage(ctx, crawler.ModeBackfill, ch.ChannelID, runID, pageNo, page)
			if len(page.Items) == 0 {
				break
			}

			videos := toRawVideos(ch, page.Items, now)
			details := map[string]any{
				"run_id":          runID,
				"collected_count": len(videos),
				"window":          window.After.Year(),
			}
			for k, v := range archived {
				details[k] = v
			}
			w.deps.Audit.Record(ctx, audit.Video(crawler.LevelInfo, ch.ChannelID, "video page collected", details))
			if err := w.deps.Store.BulkInsertRawVideos(ctx, videos); err != nil {
				return collected, fmt.Errorf("store raw videos: %w", err)
			}
			collected += len(videos)
			metrics.ObserveVideosStored(string(crawler.ModeBackfill), len(videos))

			cursor = page.NextPageCursor
			if cursor == "" {
				break
			}
		}
	}
	return collected, nil
}

// RunIncremental catches every initialized channel up to its newest stored
// video. Quota exhaustion halts the run; a failing channel stops the run
// and its error is returned.
func (w *Worker) RunIncremental(ctx context.Context) (crawler.RunReport, error) {
	if !w.mu.TryLock() {
		return crawler.RunReport{}, crawler.ErrRunInProgress
	}
	defer w.mu.Unlock()
	ctx, span := tracer.Start(ctx, "worker.incremental")
	defer span.End()

	report, err := w.startReport(crawler.ModeIncremental)
	if err != nil {
		return report, err
	}
	channels, err := w.deps.Store.GetChannelsByInitialized(ctx, true)
	if err != nil {
		return report, fmt.Errorf("list initialized channels: %w", err)
	}
	w.logger.Info("incremental run started", zap.String("run_id", report.RunID), zap.Int("channels", len(channels)))

	for i, ch := range channels {
		if err := ctx.Err(); err != nil {
			w.skipRemaining(&report, channels[i:])
			return w.finish(report), err
		}
		cctx, cspan := tracer.Start(ctx, "worker.incremental_channel", trace.WithAttributes(
			attribute.String("run_id", report.RunID),
			attribute.String("channel_id", ch.ChannelID),
		))
		outcome, halted, err := w.incrementalChannel(cctx, report.RunID, ch)
		endChannelSpan(cspan, outcome, err)
		report.Channels = append(report.Channels, outcome)
		metrics.ObserveChannelRun(string(crawler.ModeIncremental), string(outcome.Status))
		if err != nil {
			w.skipRemaining(&report, channels[i+1:])
			return w.finish(report), fmt.Errorf("channel %s: %w", ch.ChannelID, err)
		}
		if halted {
			report.Halted = true
			w.skipRemaining(&report, channels[i+1:])
			break
		}
	}
	return w.finish(report), nil
}

func (w *Worker) incrementalChannel(ctx context.Context, runID string, ch crawler.Channel) (crawler.ChannelOutcome, bool, error) {
	outcome := crawler.ChannelOutcome{ChannelID: ch.ChannelID, Status: crawler.OutcomeFailed}
	state, err := w.deps.Quota.Load(ctx)
	if err != nil {
		return outcome, false, err
	}
	if !w.deps.Quota.Tracker().IsSearchQuotaAvailable(state) {
		outcome.Status = crawler.OutcomeSkipped
		w.recordQuotaHalt(ctx, ch, state, crawler.ModeIncremental)
		return outcome, true, nil
	}

	start := state.QuotaUsed
	buffer, err := w.collectNew(ctx, runID, ch, &state)
	outcome.QuotaUsed = state.QuotaUsed - start

	bookCtx := context.WithoutCancel(ctx)
	if err == nil && len(buffer) > 0 {
		if ierr := w.deps.Store.BulkInsertRawVideos(ctx, buffer); ierr != nil {
			err = fmt.Errorf("store raw videos: %w", ierr)
		}
	}
	if serr := w.deps.Quota.Save(bookCtx, state); serr != nil {
		w.logger.Error("persist quota failed", zap.String("channel_id", ch.ChannelID), zap.Error(serr))
		err = errors.Join(err, serr)
	}
	if err != nil {
		w.deps.Audit.Record(bookCtx, audit.Channel(crawler.LevelError, ch.ChannelID, "incremental fetch failed", map[string]any{
			"run_id":     runID,
			"quota_used": outcome.QuotaUsed,
			"discarded":  len(buffer),
			"error":      err.Error(),
		}))
		return outcome, false, err
	}

	outcome.Status = crawler.OutcomeSucceeded
	outcome.Collected = len(buffer)
	metrics.ObserveVideosStored(string(crawler.ModeIncremental), len(buffer))
	w.deps.Audit.Record(ctx, audit.Channel(crawler.LevelInfo, ch.ChannelID, "incremental fetch completed", map[string]any{
		"run_id":          runID,
		"collected_count": len(buffer),
		"quota_used":      state.QuotaUsed,
	}))
	w.notify(bookCtx, runID, crawler.ModeIncremental, outcome)
	return outcome, false, nil
}

// collectNew pages newest first and stops at the first video already stored.
func (w *Worker) collectNew(
	ctx context.Context,
	runID string,
	ch crawler.Channel,
	state *crawler.QuotaState,
) ([]crawler.RawVideo, error) {
	tracker := w.deps.Quota.Tracker()
	var buffer []crawler.RawVideo
	seen := make(map[string]struct{})
	cursor := ""
	pageNo := 0
	for {
		page, err := w.deps.Source.FetchVideoPage(ctx, crawler.PageRequest{
			ChannelID:  ch.ChannelID,
			APIKey:     state.APIKey,
			PageCursor: cursor,
		})
		if err != nil {
			return buffer, fmt.Errorf("fetch page: %w", err)
		}
		now := w.deps.Clock.Now()
		tracker.UseSearchCalls(state, page.RequestCount(), now)
		pageNo++
		metrics.ObservePage(string(crawler.ModeIncremental))
		w.archivePage(ctx, crawler.ModeIncremental, ch.ChannelID, runID, pageNo, page)

		for _, item := range page.Items {
			if item.Kind != crawler.VideoKind {
				continue
			}
			if _, dup := seen[item.VideoID]; dup {
				continue
			}
			_, err := w.deps.Store.GetVideoByID(ctx, item.VideoID)
			switch {
			case err == nil:
				return buffer, nil
			case !errors.Is(err, crawler.ErrNotFound):
				return buffer, fmt.Errorf("lookup video %s: %w", item.VideoID, err)
			}
			seen[item.VideoID] = struct{}{}
			buffer = append(buffer, newRawVideo(ch, item, now))
			w.deps.Audit.Record(ctx, audit.Video(crawler.LevelInfo, item.VideoID, "video collected", map[string]any{
				"run_id":     runID,
				"channel_id": ch.ChannelID,
			}))
		}

		cursor = page.NextPageCursor
		if cursor == "" || len(page.Items) == 0 {
			return buffer, nil
		}
	}
}

func endChannelSpan(span trace.Span, outcome crawler.ChannelOutcome, err error) {
	span.SetAttributes(
		attribute.String("status", string(outcome.Status)),
		attribute.Int("collected", outcome.Collected),
		attribute.Int("quota_used", outcome.QuotaUsed),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (w *Worker) startReport(mode crawler.RunMode) (crawler.RunReport, error) {
	runID, err := w.deps.IDs.NewID()
	if err != nil {
		return crawler.RunReport{}, fmt.Errorf("generate run id: %w", err)
	}
	return crawler.RunReport{
		RunID:     runID,
		Mode:      mode,
		StartedAt: w.deps.Clock.Now(),
		Channels:  []crawler.ChannelOutcome{},
	}, nil
}

func (w *Worker) finish(report crawler.RunReport) crawler.RunReport {
	report.FinishedAt = w.deps.Clock.Now()
	metrics.ObserveRun(string(report.Mode), report.Halted)
	w.logger.Info("crawl run finished",
		zap.String("run_id", report.RunID),
		zap.String("mode", string(report.Mode)),
		zap.Bool("halted", report.Halted),
		zap.Int("succeeded", report.Count(crawler.OutcomeSucceeded)),
		zap.Int("failed", report.Count(crawler.OutcomeFailed)),
		zap.Int("skipped", report.Count(crawler.OutcomeSkipped)),
	)
	return report
}

func (w *Worker) skipRemaining(report *crawler.RunReport, rest []crawler.Channel) {
	for _, ch := range rest {
		report.Channels = append(report.Channels, crawler.ChannelOutcome{
			ChannelID: ch.ChannelID,
			Status:    crawler.OutcomeSkipped,
		})
	}
}

func (w *Worker) recordQuotaHalt(ctx context.Context, ch crawler.Channel, state crawler.QuotaState, mode crawler.RunMode) {
	w.deps.Audit.Record(ctx, audit.Channel(crawler.LevelInfo, ch.ChannelID, "search quota exhausted", map[string]any{
		"mode":       string(mode),
		"quota_used": state.QuotaUsed,
		"channel":    ch.Handle,
	}))
}

func (w *Worker) rollback(ctx context.Context, channelID string) {
	deleted, err := w.deps.Store.DeleteRawVideosForChannel(ctx, channelID)
	if err != nil {
		w.logger.Error("rollback raw videos failed", zap.String("channel_id", channelID), zap.Error(err))
		return
	}
	w.logger.Info("rolled back raw videos", zap.String("channel_id", channelID), zap.Int64("deleted", deleted))
}

type archivedPage struct {
	ChannelID      string            `json:"channel_id"`
	Page           int               `json:"page"`
	Items          []json.RawMessage `json:"items"`
	NextPageCursor string            `json:"next_page_cursor,omitempty"`
}

func (w *Worker) archivePage(
	ctx context.Context,
	mode crawler.RunMode,
	channelID, runID string,
	pageNo int,
	page crawler.SearchPage,
) map[string]any {
	if w.deps.Archive == nil {
		return nil
	}
	items := make([]json.RawMessage, 0, len(page.Items))
	for _, item := range page.Items {
		items = append(items, item.Raw)
	}
	body, err := json.Marshal(archivedPage{
		ChannelID:      channelID,
		Page:           pageNo,
		Items:          items,
		NextPageCursor: page.NextPageCursor,
	})
	var uri string
	if err == nil {
		uri, err = w.deps.Archive.PutObject(ctx, w.archivePath(mode, channelID, runID, pageNo), "application/json", body)
	}
	if err != nil {
		metrics.ObserveArchiveFailure()
		w.logger.Warn("archive page failed",
			zap.String("channel_id", channelID),
			zap.Int("page", pageNo),
			zap.Error(err),
		)
		return nil
	}
	ref := map[string]any{"archive_uri": uri}
	if w.deps.Hasher != nil {
		if digest, herr := w.deps.Hasher.Hash(body); herr == nil {
			ref["sha256"] = digest
		}
	}
	w.logger.Debug("page archived", zap.String("channel_id", channelID), zap.Int("page", pageNo), zap.Any("ref", ref))
	return ref
}

func (w *Worker) archivePath(mode crawler.RunMode, channelID, runID string, pageNo int) string {
	name := fmt.Sprintf("%s/%s/%s/page-%04d.json", mode, channelID, runID, pageNo)
	prefix := strings.Trim(w.cfg.ArchivePrefix, "/")
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}

func (w *Worker) notify(ctx context.Context, runID string, mode crawler.RunMode, outcome crawler.ChannelOutcome) {
	if w.deps.Publisher == nil || w.cfg.Topic == "" {
		return
	}
	msg := crawler.CrawlNotification{
		RunID:      runID,
		Mode:       mode,
		ChannelID:  outcome.ChannelID,
		Collected:  outcome.Collected,
		QuotaUsed:  outcome.QuotaUsed,
		FinishedAt: w.deps.Clock.Now(),
	}
	if _, err := w.deps.Publisher.Publish(ctx, w.cfg.Topic, msg); err != nil {
		w.logger.Warn("publish crawl notification failed",
			zap.String("channel_id", outcome.ChannelID),
			zap.Error(err),
		)
	}
}

func toRawVideos(ch crawler.Channel, items []crawler.SearchItem, now time.Time) []crawler.RawVideo {
	videos := make([]crawler.RawVideo, 0, len(items))
	for _, item := range items {
		if item.Kind != crawler.VideoKind {
			continue
		}
		videos = append(videos, newRawVideo(ch, item, now))
	}
	return videos
}

func newRawVideo(ch crawler.Channel, item crawler.SearchItem, now time.Time) crawler.RawVideo {
	return crawler.RawVideo{
		VideoID:      item.VideoID,
		ChannelID:    ch.ChannelID,
		StreamerName: ch.StreamerName,
		RawData:      item.Raw,
		CreatedAt:    now,
	}
}

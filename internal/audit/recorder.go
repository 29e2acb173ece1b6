// Package audit writes the append-only crawl log and mirrors each entry to
// the service logger.
package audit

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/ytcrawler/internal/crawler"
)

// Recorder persists crawl log entries. Persistence failures are logged and
// swallowed: the audit trail never alters crawl control flow.
type Recorder struct {
	store  crawler.LogStore
	clock  crawler.Clock
	logger *zap.Logger
}

// NewRecorder wires a Recorder.
func NewRecorder(store crawler.LogStore, clock crawler.Clock, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{store: store, clock: clock, logger: logger.Named("audit")}
}

// Record stamps and stores an entry.
func (r *Recorder) Record(ctx context.Context, entry crawler.LogEntry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = r.clock.Now()
	}
	if !entry.Level.Valid() {
		entry.Level = crawler.LevelInfo
	}
	r.mirror(entry)
	if err := r.store.AppendLog(ctx, entry); err != nil {
		r.logger.Error("append crawl log failed",
			zap.String("domain_id", entry.DomainID),
			zap.String("message", entry.Message),
			zap.Error(err),
		)
	}
}

func (r *Recorder) mirror(entry crawler.LogEntry) {
	level := zapcore.InfoLevel
	switch entry.Level {
	case crawler.LevelWarning:
		level = zapcore.WarnLevel
	case crawler.LevelError:
		level = zapcore.ErrorLevel
	}
	ce := r.logger.Check(level, entry.Message)
	if ce == nil {
		return
	}
	fields := make([]zap.Field, 0, len(entry.Details)+2)
	fields = append(fields,
		zap.String("category", string(entry.Category)),
		zap.String("domain_id", entry.DomainID),
	)
	for k, v := range entry.Details {
		fields = append(fields, zap.Any(k, v))
	}
	ce.Write(fields...)
}

// Channel builds a channel-category entry.
func Channel(level crawler.LogLevel, channelID, message string, details map[string]any) crawler.LogEntry {
	return crawler.LogEntry{
		Category: crawler.CategoryChannel,
		DomainID: channelID,
		Level:    level,
		Message:  message,
		Details:  details,
	}
}

// Video builds a video-category entry. domainID is a video id, or the
// channel id for page-level events.
func Video(level crawler.LogLevel, domainID, message string, details map[string]any) crawler.LogEntry {
	return crawler.LogEntry{
		Category: crawler.CategoryVideo,
		DomainID: domainID,
		Level:    level,
		Message:  message,
		Details:  details,
	}
}

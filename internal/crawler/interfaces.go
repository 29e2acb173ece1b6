package crawler

import (
	"context"
	"time"
)

// VideoSource is the external video platform.
type VideoSource interface {
	// ResolveChannelID maps a handle to its channel id, returning
	// ErrChannelNotFound when the handle is unknown.
	ResolveChannelID(ctx context.Context, handle, apiKey string) (string, error)
	// FetchVideoPage returns one page of a channel's videos, newest first.
	FetchVideoPage(ctx context.Context, req PageRequest) (SearchPage, error)
}

// ChannelStore persists tracked channels.
type ChannelStore interface {
	ListChannels(ctx context.Context) ([]Channel, error)
	GetChannel(ctx context.Context, channelID string) (Channel, error)
	GetChannelsByInitialized(ctx context.Context, initialized bool) ([]Channel, error)
	UpsertChannel(ctx context.Context, channel Channel) error
	UpdateChannel(ctx context.Context, channel Channel) error
	MarkChannelInitialized(ctx context.Context, channelID string) error
}

// VideoStore persists raw video records.
type VideoStore interface {
	GetVideoByID(ctx context.Context, videoID string) (RawVideo, error)
	BulkInsertRawVideos(ctx context.Context, videos []RawVideo) error
	DeleteRawVideosForChannel(ctx context.Context, channelID string) (int64, error)
	CountRawVideos(ctx context.Context, channelID string) (int64, error)
}

// QuotaStore persists the singleton quota ledger.
type QuotaStore interface {
	GetQuotaState(ctx context.Context) (QuotaState, error)
	UpsertQuotaState(ctx context.Context, state QuotaState) error
}

// LogStore persists audit entries.
type LogStore interface {
	AppendLog(ctx context.Context, entry LogEntry) error
	ListLogs(ctx context.Context, filter LogFilter) ([]LogEntry, error)
}

// Store is the full persistence contract.
type Store interface {
	ChannelStore
	VideoStore
	QuotaStore
	LogStore
	Ping(ctx context.Context) error
	Close()
}

// AuditLog records crawl audit entries.
type AuditLog interface {
	Record(ctx context.Context, entry LogEntry)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes crawl notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// Hasher produces content digests for archived artifacts.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// IDGenerator produces run identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// Package crawler defines core types shared across subsystems.
package crawler

import (
	"encoding/json"
	"time"
)

// YouTubeService is the service key under which the YouTube credential and
// its quota ledger are stored.
const YouTubeService = "youtube"

// VideoKind is the search result kind retained by the crawl.
const VideoKind = "youtube#video"

// Channel is a tracked YouTube channel.
type Channel struct {
	ChannelID    string    `json:"channel_id"`
	Handle       string    `json:"channel_handle"`
	Name         string    `json:"channel_name"`
	StreamerName string    `json:"streamer_name"`
	Initialized  bool      `json:"initialized"`
	CreatedAt    time.Time `json:"created_at"`
}

// ChannelInput describes a channel to register by handle.
type ChannelInput struct {
	Name         string `json:"channel_name"`
	Handle       string `json:"channel_handle"`
	StreamerName string `json:"streamer_name"`
}

// ChannelPatch carries metadata changes. Nil fields are left untouched.
type ChannelPatch struct {
	Name         *string `json:"channel_name,omitempty"`
	Handle       *string `json:"channel_handle,omitempty"`
	StreamerName *string `json:"streamer_name,omitempty"`
}

// RawVideo is one search result persisted verbatim. VideoID is unique.
type RawVideo struct {
	VideoID      string          `json:"video_id"`
	ChannelID    string          `json:"channel_id"`
	StreamerName string          `json:"streamer_name"`
	RawData      json.RawMessage `json:"raw_data"`
	CreatedAt    time.Time       `json:"created_at"`
}

// QuotaState is the shared daily quota ledger for one API credential.
type QuotaState struct {
	Service   string    `json:"service"`
	APIKey    string    `json:"api_key"`
	QuotaUsed int       `json:"quota_used"`
	UpdatedAt time.Time `json:"updated_at"`
	CreatedAt time.Time `json:"created_at"`
	// Baseline is QuotaUsed as it was when the state was loaded. Saving
	// applies only the difference, so other writers' charges survive.
	Baseline int `json:"-"`
}

// LogLevel is the severity of an audit entry.
type LogLevel string

// Audit levels.
const (
	LevelInfo    LogLevel = "INFO"
	LevelWarning LogLevel = "WARNING"
	LevelError   LogLevel = "ERROR"
)

// Valid reports whether the level is one of the known audit levels.
func (l LogLevel) Valid() bool {
	switch l {
	case LevelInfo, LevelWarning, LevelError:
		return true
	default:
		return false
	}
}

// LogCategory separates channel-level outcomes from video-level collection events.
type LogCategory string

// Audit categories.
const (
	CategoryChannel LogCategory = "channel"
	CategoryVideo   LogCategory = "video"
)

// LogEntry is an append-only crawl audit record.
type LogEntry struct {
	Category  LogCategory    `json:"category"`
	DomainID  string         `json:"domain_id"`
	Level     LogLevel       `json:"level"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// LogFilter narrows ListLogs results. Zero values match everything.
type LogFilter struct {
	Category LogCategory
	DomainID string
	Level    LogLevel
	Limit    int
}

// PageRequest asks the video source for one page of a channel's uploads.
// Zero PublishedAfter/PublishedBefore disable the respective bound.
type PageRequest struct {
	ChannelID       string
	APIKey          string
	PageCursor      string
	PublishedAfter  time.Time
	PublishedBefore time.Time
}

// SearchItem is one entry of a search page.
type SearchItem struct {
	Kind    string
	VideoID string
	Raw     json.RawMessage
}

// SearchPage is one page of search results.
type SearchPage struct {
	Items          []SearchItem
	NextPageCursor string
	// Requests is how many API calls produced the page, retries included.
	// Zero means one.
	Requests int
}

// RequestCount returns the number of billable calls behind the page.
func (p SearchPage) RequestCount() int {
	if p.Requests < 1 {
		return 1
	}
	return p.Requests
}

// TimeWindow is a [After, Before) publication window used by backfill.
type TimeWindow struct {
	After  time.Time `json:"after"`
	Before time.Time `json:"before"`
}

// RunMode identifies which crawl procedure produced a report.
type RunMode string

// Crawl modes.
const (
	ModeBackfill    RunMode = "backfill"
	ModeIncremental RunMode = "incremental"
)

// OutcomeStatus is the result of one channel's crawl attempt.
type OutcomeStatus string

// Channel outcome values.
const (
	OutcomeSucceeded OutcomeStatus = "succeeded"
	OutcomeFailed    OutcomeStatus = "failed"
	OutcomeSkipped   OutcomeStatus = "skipped"
)

// ChannelOutcome summarises a single channel within a run.
type ChannelOutcome struct {
	ChannelID string        `json:"channel_id"`
	Status    OutcomeStatus `json:"status"`
	Collected int           `json:"collected"`
	QuotaUsed int           `json:"quota_used"`
}

// RunReport summarises one crawl run. Halted is set when the shared quota
// ran out before every selected channel was processed.
type RunReport struct {
	RunID      string           `json:"run_id"`
	Mode       RunMode          `json:"mode"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
	Halted     bool             `json:"halted"`
	Channels   []ChannelOutcome `json:"channels"`
}

// Count returns how many channels ended with the given status.
func (r RunReport) Count(status OutcomeStatus) int {
	n := 0
	for _, c := range r.Channels {
		if c.Status == status {
			n++
		}
	}
	return n
}

// CrawlNotification is published after a channel completes successfully.
type CrawlNotification struct {
	RunID      string    `json:"run_id"`
	Mode       RunMode   `json:"mode"`
	ChannelID  string    `json:"channel_id"`
	Collected  int       `json:"collected"`
	QuotaUsed  int       `json:"quota_used"`
	FinishedAt time.Time `json:"finished_at"`
}

// Package quota implements the shared daily YouTube quota ledger: the pure
// availability and reset rules over crawler.QuotaState, and a Service that
// loads and persists the state around each costly operation.
package quota

import (
	"fmt"
	"time"

	"github.com/JakeFAU/ytcrawler/internal/crawler"
)

// Config holds the quota thresholds. Costs are in Data API units.
type Config struct {
	ResetHour      int
	SearchCeiling  int
	SearchCost     int
	ChannelCeiling int
	ChannelCost    int
	DailyLimit     int
}

// DefaultConfig returns the YouTube Data API v3 defaults: a 10000 unit
// budget that resets at 07:00 UTC, search calls at 100 units gated at 8000,
// channel lookups at 1 unit gated at 9900.
func DefaultConfig() Config {
	return Config{
		ResetHour:      7,
		SearchCeiling:  8000,
		SearchCost:     100,
		ChannelCeiling: 9900,
		ChannelCost:    1,
		DailyLimit:     10000,
	}
}

// Validate checks the thresholds are coherent.
func (c Config) Validate() error {
	if c.ResetHour < 0 || c.ResetHour > 23 {
		return fmt.Errorf("quota reset hour must be within 0..23, got %d", c.ResetHour)
	}
	if c.DailyLimit <= 0 {
		return fmt.Errorf("quota daily limit must be > 0")
	}
	if c.SearchCeiling <= 0 || c.SearchCeiling > c.DailyLimit {
		return fmt.Errorf("quota search ceiling must be within (0, %d]", c.DailyLimit)
	}
	if c.ChannelCeiling <= 0 || c.ChannelCeiling > c.DailyLimit {
		return fmt.Errorf("quota channel ceiling must be within (0, %d]", c.DailyLimit)
	}
	if c.SearchCost <= 0 || c.ChannelCost <= 0 {
		return fmt.Errorf("quota costs must be > 0")
	}
	return nil
}

// Tracker applies the quota rules. It holds no state; every method takes
// the QuotaState it reads or mutates.
type Tracker struct {
	cfg Config
}

// NewTracker builds a Tracker.
func NewTracker(cfg Config) *Tracker {
	return &Tracker{cfg: cfg}
}

// Config returns the thresholds in use.
func (t *Tracker) Config() Config {
	return t.cfg
}

// IsSearchQuotaAvailable reports whether another search page may be fetched.
// The check is inclusive: a ledger sitting exactly on the ceiling still
// admits one more call.
func (t *Tracker) IsSearchQuotaAvailable(state crawler.QuotaState) bool {
	return state.QuotaUsed <= t.cfg.SearchCeiling
}

// UseSearchQuota charges one search call.
func (t *Tracker) UseSearchQuota(state *crawler.QuotaState, now time.Time) {
	t.UseSearchCalls(state, 1, now)
}

// UseSearchCalls charges calls search requests, e.g. a page that needed
// retries. Values below one charge a single call.
func (t *Tracker) UseSearchCalls(state *crawler.QuotaState, calls int, now time.Time) {
	if calls < 1 {
		calls = 1
	}
	t.Use(state, t.cfg.SearchCost*calls, now)
}

// IsChannelQuotaAvailable reports whether a handle lookup may run.
func (t *Tracker) IsChannelQuotaAvailable(state crawler.QuotaState) bool {
	return state.QuotaUsed <= t.cfg.ChannelCeiling
}

// UseChannelQuota charges one channel lookup.
func (t *Tracker) UseChannelQuota(state *crawler.QuotaState, now time.Time) {
	t.Use(state, t.cfg.ChannelCost, now)
}

// Use adds amount units and stamps the update time. The caller persists.
func (t *Tracker) Use(state *crawler.QuotaState, amount int, now time.Time) {
	state.QuotaUsed += amount
	state.UpdatedAt = now.UTC()
}

// IsExceeded reports whether the platform's daily budget is spent.
func (t *Tracker) IsExceeded(state crawler.QuotaState) bool {
	return state.QuotaUsed >= t.cfg.DailyLimit
}

// Remaining returns the units left before the daily budget, never negative.
func (t *Tracker) Remaining(state crawler.QuotaState) int {
	left := t.cfg.DailyLimit - state.QuotaUsed
	if left < 0 {
		return 0
	}
	return left
}

// IsQuotaReset reports whether a daily reset boundary separates updatedAt
// from now. Both are compared in UTC.
//
// An update before the reset hour is reset once now is at or past the reset
// hour on the same or a later date. An update at or after the reset hour is
// reset once now is at or past the reset hour on a later date.
func (t *Tracker) IsQuotaReset(updatedAt, now time.Time) bool {
	updatedAt = updatedAt.UTC()
	now = now.UTC()
	if now.Hour() < t.cfg.ResetHour {
		return false
	}
	updatedDay := civilDate(updatedAt)
	nowDay := civilDate(now)
	if updatedAt.Hour() < t.cfg.ResetHour {
		return !nowDay.Before(updatedDay)
	}
	return nowDay.After(updatedDay)
}

// Refresh zeroes the ledger when a reset boundary has passed since the last
// update. It must run once per load; it reports whether a reset happened.
func (t *Tracker) Refresh(state *crawler.QuotaState, now time.Time) bool {
	if state.UpdatedAt.IsZero() || !t.IsQuotaReset(state.UpdatedAt, now) {
		return false
	}
	state.QuotaUsed = 0
	state.UpdatedAt = now.UTC()
	return true
}

func civilDate(ts time.Time) time.Time {
	y, m, d := ts.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

package quota

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/ytcrawler/internal/crawler"
	"github.com/JakeFAU/ytcrawler/internal/metrics"
)

// Service loads and saves the quota ledger around costly operations.
// The state itself is returned by value and passed back to Save; the
// Service never caches it.
type Service struct {
	mu          sync.Mutex
	store       crawler.QuotaStore
	tracker     *Tracker
	clock       crawler.Clock
	fallbackKey string
	logger      *zap.Logger
}

// NewService wires a Service. fallbackKey seeds the ledger when the store
// has none yet.
func NewService(store crawler.QuotaStore, tracker *Tracker, clock crawler.Clock, fallbackKey string, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:       store,
		tracker:     tracker,
		clock:       clock,
		fallbackKey: strings.TrimSpace(fallbackKey),
		logger:      logger,
	}
}

// Tracker exposes the rules the Service applies.
func (s *Service) Tracker() *Tracker {
	return s.tracker
}

// Load reads the ledger and applies the daily reset check exactly once.
func (s *Service) Load(ctx context.Context) (crawler.QuotaState, error) {
	now := s.clock.Now()
	state, err := s.store.GetQuotaState(ctx)
	switch {
	case errors.Is(err, crawler.ErrNotFound):
		if s.fallbackKey == "" {
			return crawler.QuotaState{}, crawler.ErrNoAPIKey
		}
		state = crawler.QuotaState{
			Service:   crawler.YouTubeService,
			APIKey:    s.fallbackKey,
			UpdatedAt: now,
			CreatedAt: now,
		}
	case err != nil:
		return crawler.QuotaState{}, fmt.Errorf("load quota state: %w", err)
	}
	if state.APIKey == "" {
		return crawler.QuotaState{}, crawler.ErrNoAPIKey
	}
	previous := state.QuotaUsed
	if s.tracker.Refresh(&state, now) {
		s.logger.Info("quota reset observed",
			zap.Int("previous_quota_used", previous),
			zap.Time("reset_at", now),
		)
	}
	state.Baseline = state.QuotaUsed
	metrics.SetQuotaUsed(state.QuotaUsed)
	return state, nil
}

// Save adds the usage charged to state since it was loaded onto the
// stored ledger. Saves through the same Service are serialized, so a
// channel lookup billed while a crawl holds an older copy is kept.
func (s *Service) Save(ctx context.Context, state crawler.QuotaState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.store.GetQuotaState(ctx)
	switch {
	case errors.Is(err, crawler.ErrNotFound):
		return s.write(ctx, state)
	case err != nil:
		return fmt.Errorf("save quota state: %w", err)
	}
	if current.APIKey != state.APIKey {
		// The key was replaced meanwhile and its budget starts fresh.
		s.logger.Warn("quota charge dropped after api key change",
			zap.Int("quota_spent", state.QuotaUsed-state.Baseline),
		)
		return nil
	}
	s.tracker.Refresh(&current, s.clock.Now())
	if spent := state.QuotaUsed - state.Baseline; spent > 0 {
		current.QuotaUsed += spent
	}
	if state.UpdatedAt.After(current.UpdatedAt) {
		current.UpdatedAt = state.UpdatedAt
	}
	return s.write(ctx, current)
}

func (s *Service) write(ctx context.Context, state crawler.QuotaState) error {
	if state.Service == "" {
		state.Service = crawler.YouTubeService
	}
	if err := s.store.UpsertQuotaState(ctx, state); err != nil {
		return fmt.Errorf("save quota state: %w", err)
	}
	metrics.SetQuotaUsed(state.QuotaUsed)
	return nil
}

// SetAPIKey stores a credential. A different key starts a fresh budget;
// re-setting the current key keeps its usage.
func (s *Service) SetAPIKey(ctx context.Context, apiKey string) (crawler.QuotaState, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return crawler.QuotaState{}, fmt.Errorf("api key is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	state, err := s.store.GetQuotaState(ctx)
	switch {
	case errors.Is(err, crawler.ErrNotFound):
		state = crawler.QuotaState{Service: crawler.YouTubeService, CreatedAt: now}
	case err != nil:
		return crawler.QuotaState{}, fmt.Errorf("load quota state: %w", err)
	default:
		s.tracker.Refresh(&state, now)
	}
	if state.APIKey != apiKey {
		state.APIKey = apiKey
		state.QuotaUsed = 0
		state.CreatedAt = now
	}
	state.UpdatedAt = now
	if err := s.write(ctx, state); err != nil {
		return crawler.QuotaState{}, err
	}
	state.Baseline = state.QuotaUsed
	s.logger.Info("api key stored", zap.String("api_key", MaskKey(apiKey)))
	return state, nil
}

// MaskKey hides all but the last four characters of a credential.
func MaskKey(key string) string {
	if len(key) <= 4 {
		return strings.Repeat("*", len(key))
	}
	return strings.Repeat("*", len(key)-4) + key[len(key)-4:]
}

package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/ytcrawler/internal/crawler"
)

// GetQuotaState returns the YouTube quota ledger.
func (s *Store) GetQuotaState(ctx context.Context) (crawler.QuotaState, error) {
	query := `SELECT service, api_key, quota_used, updated_at, created_at FROM quota_states WHERE service = $1`
	var st crawler.QuotaState
	err := s.pool.QueryRow(ctx, query, crawler.YouTubeService).Scan(
		&st.Service,
		&st.APIKey,
		&st.QuotaUsed,
		&st.UpdatedAt,
		&st.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return crawler.QuotaState{}, fmt.Errorf("quota state: %w", crawler.ErrNotFound)
		}
		return crawler.QuotaState{}, fmt.Errorf("failed to get quota state: %w", err)
	}
	return st, nil
}

// UpsertQuotaState writes the ledger in a single statement.
func (s *Store) UpsertQuotaState(ctx context.Context, state crawler.QuotaState) error {
	service := state.Service
	if service == "" {
		service = crawler.YouTubeService
	}
	createdAt := state.CreatedAt
	if createdAt.IsZero() {
		createdAt = state.UpdatedAt
	}
	query := `
INSERT INTO quota_states (service, api_key, quota_used, updated_at, created_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (service) DO UPDATE SET
	api_key = EXCLUDED.api_key,
	quota_used = EXCLUDED.quota_used,
	updated_at = EXCLUDED.updated_at,
	created_at = EXCLUDED.created_at`
	if _, err := s.pool.Exec(ctx, query, service, state.APIKey, state.QuotaUsed, state.UpdatedAt, createdAt); err != nil {
		return fmt.Errorf("failed to upsert quota state: %w", err)
	}
	return nil
}

package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/ytcrawler/internal/crawler"
)

const channelColumns = `channel_id, channel_handle, channel_name, streamer_name, initialized, created_at`

// ListChannels returns every channel ordered by creation time.
func (s *Store) ListChannels(ctx context.Context) ([]crawler.Channel, error) {
	query := `SELECT ` + channelColumns + ` FROM channels ORDER BY created_at, channel_id`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list channels: %w", err)
	}
	return collectChannels(rows)
}

// GetChannel fetches a channel by id.
func (s *Store) GetChannel(ctx context.Context, channelID string) (crawler.Channel, error) {
	query := `SELECT ` + channelColumns + ` FROM channels WHERE channel_id = $1`
	var ch crawler.Channel
	err := s.pool.QueryRow(ctx, query, channelID).Scan(
		&ch.ChannelID,
		&ch.Handle,
		&ch.Name,
		&ch.StreamerName,
		&ch.Initialized,
		&ch.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return crawler.Channel{}, fmt.Errorf("channel %s: %w", channelID, crawler.ErrNotFound)
		}
		return crawler.Channel{}, fmt.Errorf("failed to get channel: %w", err)
	}
	return ch, nil
}

// GetChannelsByInitialized returns channels in the given state, oldest first.
func (s *Store) GetChannelsByInitialized(ctx context.Context, initialized bool) ([]crawler.Channel, error) {
	query := `SELECT ` + channelColumns + ` FROM channels WHERE initialized = $1 ORDER BY created_at, channel_id`
	rows, err := s.pool.Query(ctx, query, initialized)
	if err != nil {
		return nil, fmt.Errorf("failed to select channels: %w", err)
	}
	return collectChannels(rows)
}

// UpsertChannel inserts a channel, or refreshes metadata of an existing one.
// The initialized flag and created_at of an existing row are preserved.
func (s *Store) UpsertChannel(ctx context.Context, channel crawler.Channel) error {
	if channel.ChannelID == "" {
		return fmt.Errorf("channel id is required")
	}
	query := `
INSERT INTO channels (channel_id, channel_handle, channel_name, streamer_name, initialized, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $6)
ON CONFLICT (channel_id) DO UPDATE SET
	channel_handle = EXCLUDED.channel_handle,
	channel_name = EXCLUDED.channel_name,
	streamer_name = EXCLUDED.streamer_name,
	updated_at = NOW()`
	_, err := s.pool.Exec(ctx, query,
		channel.ChannelID,
		channel.Handle,
		channel.Name,
		channel.StreamerName,
		channel.Initialized,
		channel.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert channel: %w", err)
	}
	return nil
}

// UpdateChannel overwrites the mutable fields of an existing channel.
func (s *Store) UpdateChannel(ctx context.Context, channel crawler.Channel) error {
	query := `
UPDATE channels
SET channel_handle = $2, channel_name = $3, streamer_name = $4, initialized = $5, updated_at = NOW()
WHERE channel_id = $1`
	tag, err := s.pool.Exec(ctx, query,
		channel.ChannelID,
		channel.Handle,
		channel.Name,
		channel.StreamerName,
		channel.Initialized,
	)
	if err != nil {
		return fmt.Errorf("failed to update channel: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("channel %s: %w", channel.ChannelID, crawler.ErrNotFound)
	}
	return nil
}

// MarkChannelInitialized flips only the initialized flag, leaving the
// descriptive fields as they currently are.
func (s *Store) MarkChannelInitialized(ctx context.Context, channelID string) error {
	query := `UPDATE channels SET initialized = TRUE, updated_at = NOW() WHERE channel_id = $1`
	tag, err := s.pool.Exec(ctx, query, channelID)
	if err != nil {
		return fmt.Errorf("failed to mark channel initialized: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("channel %s: %w", channelID, crawler.ErrNotFound)
	}
	return nil
}

func collectChannels(rows pgx.Rows) ([]crawler.Channel, error) {
	defer rows.Close()
	var out []crawler.Channel
	for rows.Next() {
		var ch crawler.Channel
		if err := rows.Scan(
			&ch.ChannelID,
			&ch.Handle,
			&ch.Name,
			&ch.StreamerName,
			&ch.Initialized,
			&ch.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan channel: %w", err)
		}
		out = append(out, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate channels: %w", err)
	}
	return out, nil
}

package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/ytcrawler/internal/crawler"
)

// insertChunk bounds rows per INSERT; five parameters each stays far below
// the protocol's 65535 parameter limit.
const insertChunk = 500

// videoColumns is the number of bound parameters per raw video row.
const videoColumns = 5

// GetVideoByID fetches a raw video by id.
func (s *Store) GetVideoByID(ctx context.Context, videoID string) (crawler.RawVideo, error) {
	query := `SELECT video_id, channel_id, streamer_name, raw_data, created_at FROM raw_videos WHERE video_id = $1`
	var (
		v   crawler.RawVideo
		raw []byte
	)
	err := s.pool.QueryRow(ctx, query, videoID).Scan(&v.VideoID, &v.ChannelID, &v.StreamerName, &raw, &v.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return crawler.RawVideo{}, fmt.Errorf("video %s: %w", videoID, crawler.ErrNotFound)
		}
		return crawler.RawVideo{}, fmt.Errorf("failed to get video: %w", err)
	}
	v.RawData = raw
	return v, nil
}

// BulkInsertRawVideos writes videos in multi-row statements. Rows whose
// video_id already exists are skipped.
func (s *Store) BulkInsertRawVideos(ctx context.Context, videos []crawler.RawVideo) error {
	for start := 0; start < len(videos); start += insertChunk {
		end := start + insertChunk
		if end > len(videos) {
			end = len(videos)
		}
		query, args, err := buildVideoInsert(videos[start:end])
		if err != nil {
			return err
		}
		if _, err := s.pool.Exec(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to insert raw videos: %w", err)
		}
	}
	return nil
}

func buildVideoInsert(videos []crawler.RawVideo) (string, []any, error) {
	var b strings.Builder
	b.WriteString("INSERT INTO raw_videos (video_id, channel_id, streamer_name, raw_data, created_at) VALUES ")
	args := make([]any, 0, len(videos)*videoColumns)
	for i, v := range videos {
		if v.VideoID == "" {
			return "", nil, fmt.Errorf("video id is required")
		}
		if i > 0 {
			b.WriteString(", ")
		}
		n := i * videoColumns
		fmt.Fprintf(&b, "($%d, $%d, $%d, $%d, $%d)", n+1, n+2, n+3, n+4, n+5)
		args = append(args, v.VideoID, v.ChannelID, v.StreamerName, []byte(v.RawData), v.CreatedAt)
	}
	b.WriteString(" ON CONFLICT (video_id) DO NOTHING")
	return b.String(), args, nil
}

// DeleteRawVideosForChannel removes every raw video of a channel.
func (s *Store) DeleteRawVideosForChannel(ctx context.Context, channelID string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM raw_videos WHERE channel_id = $1`, channelID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete raw videos: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountRawVideos counts a channel's raw videos.
func (s *Store) CountRawVideos(ctx context.Context, channelID string) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM raw_videos WHERE channel_id = $1`, channelID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count raw videos: %w", err)
	}
	return n, nil
}

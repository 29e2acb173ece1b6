package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/JakeFAU/ytcrawler/internal/crawler"
)

const defaultLogLimit = 100

// AppendLog inserts an audit entry.
func (s *Store) AppendLog(ctx context.Context, entry crawler.LogEntry) error {
	if !entry.Level.Valid() {
		return fmt.Errorf("invalid log level %q", entry.Level)
	}
	details := entry.Details
	if details == nil {
		details = map[string]any{}
	}
	detailsJSON, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("marshal log details: %w", err)
	}
	query := `
INSERT INTO crawl_logs (category, domain_id, level, message, details, logged_at)
VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := s.pool.Exec(ctx, query,
		string(entry.Category),
		entry.DomainID,
		string(entry.Level),
		entry.Message,
		detailsJSON,
		entry.Timestamp,
	); err != nil {
		return fmt.Errorf("failed to append log: %w", err)
	}
	return nil
}

// ListLogs returns matching audit entries, newest first.
func (s *Store) ListLogs(ctx context.Context, filter crawler.LogFilter) ([]crawler.LogEntry, error) {
	var (
		where []string
		args  []any
	)
	if filter.Category != "" {
		args = append(args, string(filter.Category))
		where = append(where, fmt.Sprintf("category = $%d", len(args)))
	}
	if filter.DomainID != "" {
		args = append(args, filter.DomainID)
		where = append(where, fmt.Sprintf("domain_id = $%d", len(args)))
	}
	if filter.Level != "" {
		args = append(args, string(filter.Level))
		where = append(where, fmt.Sprintf("level = $%d", len(args)))
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultLogLimit
	}
	args = append(args, limit)

	query := `SELECT category, domain_id, level, message, details, logged_at FROM crawl_logs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY logged_at DESC, id DESC LIMIT $%d", len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list logs: %w", err)
	}
	defer rows.Close()

	var out []crawler.LogEntry
	for rows.Next() {
		var (
			e               crawler.LogEntry
			category, level string
			detailsJSON     []byte
		)
		if err := rows.Scan(&category, &e.DomainID, &level, &e.Message, &detailsJSON, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan log: %w", err)
		}
		e.Category = crawler.LogCategory(category)
		e.Level = crawler.LogLevel(level)
		if len(detailsJSON) > 0 {
			if err := json.Unmarshal(detailsJSON, &e.Details); err != nil {
				return nil, fmt.Errorf("decode log details: %w", err)
			}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate logs: %w", err)
	}
	return out, nil
}

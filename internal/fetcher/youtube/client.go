// Package youtube implements crawler.VideoSource on the YouTube Data API v3.
package youtube

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	ytapi "google.golang.org/api/youtube/v3"

	"github.com/JakeFAU/ytcrawler/internal/crawler"
	"github.com/JakeFAU/ytcrawler/internal/metrics"
)

const (
	opChannelsList = "channels.list"
	opSearchList   = "search.list"
)

// Config configures the Data API client.
type Config struct {
	// BaseURL overrides the API endpoint, e.g. for a local fake.
	BaseURL    string
	Timeout    time.Duration
	MaxResults int64
	MaxRetries int
	RetryBase  time.Duration
	RetryMax   time.Duration
	UserAgent  string
}

// Throttle blocks until an API operation may proceed.
type Throttle interface {
	Wait(ctx context.Context, operation string) error
}

// Client calls channels.list and search.list. The API key is supplied per
// call because it lives in the quota ledger, not in configuration.
//
// Only search.list is retried, and a page reports how many requests it took
// so the ledger can charge each one. channels.list is always a single call.
type Client struct {
	svc        *ytapi.Service
	throttle   Throttle
	retry      *RetryPolicy
	once       *RetryPolicy
	maxResults int64
	logger     *zap.Logger
}

// New builds a Client. throttle may be nil.
func New(ctx context.Context, cfg Config, throttle Throttle, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	opts := []option.ClientOption{option.WithHTTPClient(&http.Client{Timeout: timeout})}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithEndpoint(strings.TrimRight(cfg.BaseURL, "/")+"/"))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, option.WithUserAgent(cfg.UserAgent))
	}
	svc, err := ytapi.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create youtube service: %w", err)
	}
	maxResults := cfg.MaxResults
	if maxResults <= 0 || maxResults > 50 {
		maxResults = 50
	}
	return &Client{
		svc:        svc,
		throttle:   throttle,
		retry:      NewRetryPolicy(cfg.MaxRetries, cfg.RetryBase, cfg.RetryMax),
		once:       NewRetryPolicy(0, cfg.RetryBase, cfg.RetryMax),
		maxResults: maxResults,
		logger:     logger,
	}, nil
}

// ResolveChannelID looks a handle up with channels.list?forHandle.
func (c *Client) ResolveChannelID(ctx context.Context, handle, apiKey string) (string, error) {
	handle = strings.TrimSpace(handle)
	if handle == "" {
		return "", fmt.Errorf("channel handle is required")
	}
	call := c.svc.Channels.List([]string{"id"}).ForHandle(handle).Context(ctx)
	resp, _, err := doWithRetry(ctx, c, c.once, opChannelsList, func() (*ytapi.ChannelListResponse, error) {
		return call.Do(googleapi.QueryParameter("key", apiKey))
	})
	if err != nil {
		return "", err
	}
	if len(resp.Items) == 0 || resp.Items[0].Id == "" {
		return "", fmt.Errorf("handle %s: %w", handle, crawler.ErrChannelNotFound)
	}
	return resp.Items[0].Id, nil
}

// FetchVideoPage runs search.list for a channel ordered by date, newest first.
func (c *Client) FetchVideoPage(ctx context.Context, req crawler.PageRequest) (crawler.SearchPage, error) {
	call := c.svc.Search.List([]string{"snippet"}).
		ChannelId(req.ChannelID).
		MaxResults(c.maxResults).
		Order("date").
		Context(ctx)
	if req.PageCursor != "" {
		call = call.PageToken(req.PageCursor)
	}
	if !req.PublishedAfter.IsZero() {
		call = call.PublishedAfter(req.PublishedAfter.UTC().Format(time.RFC3339))
	}
	if !req.PublishedBefore.IsZero() {
		call = call.PublishedBefore(req.PublishedBefore.UTC().Format(time.RFC3339))
	}
	resp, requests, err := doWithRetry(ctx, c, c.retry, opSearchList, func() (*ytapi.SearchListResponse, error) {
		return call.Do(googleapi.QueryParameter("key", req.APIKey))
	})
	if err != nil {
		return crawler.SearchPage{}, err
	}

	page := crawler.SearchPage{
		Items:          make([]crawler.SearchItem, 0, len(resp.Items)),
		NextPageCursor: resp.NextPageToken,
		Requests:       requests,
	}
	for _, item := range resp.Items {
		if item == nil {
			continue
		}
		raw, err := json.Marshal(item)
		if err != nil {
			return crawler.SearchPage{}, fmt.Errorf("encode search result: %w", err)
		}
		si := crawler.SearchItem{Raw: raw}
		if item.Id != nil {
			si.Kind = item.Id.Kind
			si.VideoID = item.Id.VideoId
		}
		page.Items = append(page.Items, si)
	}
	return page, nil
}

// doWithRetry runs call under policy and returns the number of requests sent.
func doWithRetry[T any](ctx context.Context, c *Client, policy *RetryPolicy, op string, call func() (T, error)) (T, int, error) {
	var zero T
	for attempt := 1; ; attempt++ {
		if c.throttle != nil {
			if err := c.throttle.Wait(ctx, op); err != nil {
				return zero, attempt - 1, &crawler.RequestError{Op: op, Err: err}
			}
		}
		resp, err := call()
		metrics.ObserveYouTubeRequest(op, statusCode(err))
		if err == nil {
			return resp, attempt, nil
		}
		if !policy.ShouldRetry(err, attempt) {
			return zero, attempt, toRequestError(op, err)
		}
		delay := policy.Backoff(attempt - 1)
		c.logger.Warn("youtube request failed, retrying",
			zap.String("operation", op),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, attempt, &crawler.RequestError{Op: op, Err: ctx.Err()}
		case <-timer.C:
		}
	}
}

func statusCode(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return 0
}

func toRequestError(op string, err error) *crawler.RequestError {
	reqErr := &crawler.RequestError{Op: op, Err: err}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		reqErr.StatusCode = apiErr.Code
		if len(apiErr.Errors) > 0 {
			reqErr.Reason = apiErr.Errors[0].Reason
		}
	}
	return reqErr
}

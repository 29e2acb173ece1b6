// Package channel manages the set of tracked channels.
package channel

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/ytcrawler/internal/audit"
	"github.com/JakeFAU/ytcrawler/internal/crawler"
	"github.com/JakeFAU/ytcrawler/internal/quota"
)

// ErrInvalidInput marks a request that is missing required fields.
var ErrInvalidInput = errors.New("invalid channel input")

// ErrQuotaUnavailable means the channel lookup budget is spent for the day.
var ErrQuotaUnavailable = errors.New("channel lookup quota exhausted")

// QuotaLedger loads and persists the shared quota state.
type QuotaLedger interface {
	Load(ctx context.Context) (crawler.QuotaState, error)
	Save(ctx context.Context, state crawler.QuotaState) error
	Tracker() *quota.Tracker
}

// Service registers channels and edits their metadata.
type Service struct {
	store  crawler.Store
	source crawler.VideoSource
	ledger QuotaLedger
	audit  crawler.AuditLog
	clock  crawler.Clock
	logger *zap.Logger
}

// NewService wires a Service.
func NewService(
	store crawler.Store,
	source crawler.VideoSource,
	ledger QuotaLedger,
	auditLog crawler.AuditLog,
	clock crawler.Clock,
	logger *zap.Logger,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:  store,
		source: source,
		ledger: ledger,
		audit:  auditLog,
		clock:  clock,
		logger: logger.Named("channel"),
	}
}

// Insert resolves the handle and registers the channel as uninitialized.
// An unknown handle is rejected without creating any state.
func (s *Service) Insert(ctx context.Context, in crawler.ChannelInput) (crawler.Channel, error) {
	in = normalize(in)
	if in.Handle == "" || in.Name == "" || in.StreamerName == "" {
		return crawler.Channel{}, fmt.Errorf("%w: channel_name, channel_handle and streamer_name are required", ErrInvalidInput)
	}

	state, err := s.ledger.Load(ctx)
	if err != nil {
		return crawler.Channel{}, err
	}
	tracker := s.ledger.Tracker()
	if !tracker.IsChannelQuotaAvailable(state) {
		return crawler.Channel{}, ErrQuotaUnavailable
	}

	channelID, err := s.source.ResolveChannelID(ctx, in.Handle, state.APIKey)
	if err != nil && !errors.Is(err, crawler.ErrChannelNotFound) {
		return crawler.Channel{}, fmt.Errorf("resolve %s: %w", in.Handle, err)
	}
	// A lookup that answered, even with no match, is billed.
	tracker.UseChannelQuota(&state, s.clock.Now())
	if serr := s.ledger.Save(ctx, state); serr != nil {
		return crawler.Channel{}, serr
	}
	if err != nil {
		return crawler.Channel{}, fmt.Errorf("resolve %s: %w", in.Handle, err)
	}

	ch := crawler.Channel{
		ChannelID:    channelID,
		Handle:       in.Handle,
		Name:         in.Name,
		StreamerName: in.StreamerName,
		CreatedAt:    s.clock.Now(),
	}
	if err := s.store.UpsertChannel(ctx, ch); err != nil {
		return crawler.Channel{}, fmt.Errorf("save channel: %w", err)
	}
	stored, err := s.store.GetChannel(ctx, channelID)
	if err != nil {
		return crawler.Channel{}, fmt.Errorf("reload channel: %w", err)
	}
	s.logger.Info("channel registered",
		zap.String("channel_id", channelID),
		zap.String("handle", in.Handle),
		zap.Bool("initialized", stored.Initialized),
	)
	return stored, nil
}

// List returns every tracked channel, oldest first.
func (s *Service) List(ctx context.Context) ([]crawler.Channel, error) {
	channels, err := s.store.ListChannels(ctx)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	return channels, nil
}

// Update applies a metadata patch. The initialized flag is never changed here.
func (s *Service) Update(ctx context.Context, channelID string, patch crawler.ChannelPatch) (crawler.Channel, error) {
	ch, err := s.store.GetChannel(ctx, channelID)
	if err != nil {
		return crawler.Channel{}, fmt.Errorf("get channel: %w", err)
	}
	if err := applyPatch(&ch, patch); err != nil {
		return crawler.Channel{}, err
	}
	if err := s.store.UpdateChannel(ctx, ch); err != nil {
		return crawler.Channel{}, fmt.Errorf("update channel: %w", err)
	}
	return ch, nil
}

// BulkUpdate applies the same patch to every tracked channel.
func (s *Service) BulkUpdate(ctx context.Context, patch crawler.ChannelPatch) ([]crawler.Channel, error) {
	channels, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]crawler.Channel, 0, len(channels))
	for _, ch := range channels {
		if err := applyPatch(&ch, patch); err != nil {
			return out, err
		}
		if err := s.store.UpdateChannel(ctx, ch); err != nil {
			return out, fmt.Errorf("update channel %s: %w", ch.ChannelID, err)
		}
		out = append(out, ch)
	}
	return out, nil
}

// ResetForBackfill discards a channel's raw videos and marks it
// uninitialized so the next backfill run crawls it from scratch.
func (s *Service) ResetForBackfill(ctx context.Context, channelID string) (crawler.Channel, error) {
	ch, err := s.store.GetChannel(ctx, channelID)
	if err != nil {
		return crawler.Channel{}, fmt.Errorf("get channel: %w", err)
	}
	deleted, err := s.store.DeleteRawVideosForChannel(ctx, channelID)
	if err != nil {
		return crawler.Channel{}, fmt.Errorf("delete raw videos: %w", err)
	}
	ch.Initialized = false
	if err := s.store.UpdateChannel(ctx, ch); err != nil {
		return crawler.Channel{}, fmt.Errorf("update channel: %w", err)
	}
	s.audit.Record(ctx, audit.Channel(crawler.LevelWarning, channelID, "channel reset for backfill", map[string]any{
		"deleted_videos": deleted,
	}))
	return ch, nil
}

func normalize(in crawler.ChannelInput) crawler.ChannelInput {
	in.Name = strings.TrimSpace(in.Name)
	in.StreamerName = strings.TrimSpace(in.StreamerName)
	in.Handle = strings.TrimSpace(in.Handle)
	if in.Handle != "" && !strings.HasPrefix(in.Handle, "@") {
		in.Handle = "@" + in.Handle
	}
	return in
}

func applyPatch(ch *crawler.Channel, patch crawler.ChannelPatch) error {
	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" {
			return fmt.Errorf("%w: channel_name cannot be empty", ErrInvalidInput)
		}
		ch.Name = name
	}
	if patch.Handle != nil {
		in := normalize(crawler.ChannelInput{Handle: *patch.Handle})
		if in.Handle == "" {
			return fmt.Errorf("%w: channel_handle cannot be empty", ErrInvalidInput)
		}
		ch.Handle = in.Handle
	}
	if patch.StreamerName != nil {
		streamer := strings.TrimSpace(*patch.StreamerName)
		if streamer == "" {
			return fmt.Errorf("%w: streamer_name cannot be empty", ErrInvalidInput)
		}
		ch.StreamerName = streamer
	}
	return nil
}

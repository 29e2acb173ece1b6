package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/ytcrawler/internal/crawler"
	"github.com/JakeFAU/ytcrawler/internal/quota"
)

var errBadRequest = errors.New("bad request")

const maxLogLimit = 1000

func (s *Server) listChannels(w http.ResponseWriter, r *http.Request) {
	channels, err := s.deps.Channels.List(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if channels == nil {
		channels = []crawler.Channel{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"channels": channels})
}

func (s *Server) insertChannel(w http.ResponseWriter, r *http.Request) {
	in, err := decodeChannelInput(r)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	ch, err := s.deps.Channels.Insert(r.Context(), in)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, ch)
}

// decodeChannelInput accepts a JSON body or a classic form post.
func decodeChannelInput(r *http.Request) (crawler.ChannelInput, error) {
	var in crawler.ChannelInput
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			return in, fmt.Errorf("%w: invalid JSON", errBadRequest)
		}
		return in, nil
	}
	if err := r.ParseForm(); err != nil {
		return in, fmt.Errorf("%w: invalid form", errBadRequest)
	}
	in.Name = r.PostForm.Get("channel_name")
	in.Handle = r.PostForm.Get("channel_handle")
	in.StreamerName = r.PostForm.Get("streamer_name")
	return in, nil
}

func (s *Server) updateChannel(w http.ResponseWriter, r *http.Request) {
	var patch crawler.ChannelPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	ch, err := s.deps.Channels.Update(r.Context(), chi.URLParam(r, "channelID"), patch)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ch)
}

func (s *Server) resetChannel(w http.ResponseWriter, r *http.Request) {
	ch, err := s.deps.Channels.ResetForBackfill(r.Context(), chi.URLParam(r, "channelID"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ch)
}

type runResponse struct {
	RunID     string          `json:"run_id"`
	Mode      crawler.RunMode `json:"mode"`
	Halted    bool            `json:"halted"`
	Succeeded int             `json:"succeeded"`
	Failed    int             `json:"failed"`
}

func (s *Server) runBackfill(w http.ResponseWriter, r *http.Request) {
	report, err := s.deps.Crawler.RunBackfill(r.Context())
	s.writeRun(w, r, report, err)
}

func (s *Server) runIncremental(w http.ResponseWriter, r *http.Request) {
	report, err := s.deps.Crawler.RunIncremental(r.Context())
	s.writeRun(w, r, report, err)
}

// writeRun reports a run summary. Per-channel detail stays in the audit log.
func (s *Server) writeRun(w http.ResponseWriter, r *http.Request, report crawler.RunReport, err error) {
	if err != nil {
		if errors.Is(err, crawler.ErrRunInProgress) {
			s.writeError(w, http.StatusConflict, crawler.ErrRunInProgress.Error())
			return
		}
		s.logger.Error("crawl run failed",
			zap.String("run_id", report.RunID),
			zap.String("mode", string(report.Mode)),
			zap.Error(err),
		)
		s.writeError(w, http.StatusInternalServerError, "crawl run failed")
		return
	}
	s.writeJSON(w, http.StatusOK, runResponse{
		RunID:     report.RunID,
		Mode:      report.Mode,
		Halted:    report.Halted,
		Succeeded: report.Count(crawler.OutcomeSucceeded),
		Failed:    report.Count(crawler.OutcomeFailed),
	})
}

type quotaResponse struct {
	Service         string    `json:"service"`
	APIKey          string    `json:"api_key"`
	QuotaUsed       int       `json:"quota_used"`
	Remaining       int       `json:"remaining"`
	Exceeded        bool      `json:"exceeded"`
	SearchAvailable bool      `json:"search_available"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func (s *Server) quotaView(state crawler.QuotaState) quotaResponse {
	tracker := s.deps.Quota.Tracker()
	return quotaResponse{
		Service:         state.Service,
		APIKey:          quota.MaskKey(state.APIKey),
		QuotaUsed:       state.QuotaUsed,
		Remaining:       tracker.Remaining(state),
		Exceeded:        tracker.IsExceeded(state),
		SearchAvailable: tracker.IsSearchQuotaAvailable(state),
		UpdatedAt:       state.UpdatedAt,
	}
}

func (s *Server) getQuota(w http.ResponseWriter, r *http.Request) {
	state, err := s.deps.Quota.Load(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.quotaView(state))
}

type apiKeyRequest struct {
	APIKey string `json:"api_key"`
}

func (s *Server) setAPIKey(w http.ResponseWriter, r *http.Request) {
	var req apiKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.APIKey == "" {
		s.writeError(w, http.StatusBadRequest, "api_key is required")
		return
	}
	state, err := s.deps.Quota.SetAPIKey(r.Context(), req.APIKey)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.quotaView(state))
}

func (s *Server) listLogs(w http.ResponseWriter, r *http.Request) {
	filter, err := parseLogFilter(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	entries, err := s.deps.Logs.ListLogs(r.Context(), filter)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if entries == nil {
		entries = []crawler.LogEntry{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"logs": entries})
}

func parseLogFilter(r *http.Request) (crawler.LogFilter, error) {
	q := r.URL.Query()
	filter := crawler.LogFilter{
		Category: crawler.LogCategory(q.Get("category")),
		DomainID: q.Get("domain_id"),
		Level:    crawler.LogLevel(q.Get("level")),
	}
	switch filter.Category {
	case "", crawler.CategoryChannel, crawler.CategoryVideo:
	default:
		return filter, fmt.Errorf("unknown category %q", filter.Category)
	}
	if filter.Level != "" && !filter.Level.Valid() {
		return filter, fmt.Errorf("unknown level %q", filter.Level)
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 || limit > maxLogLimit {
			return filter, fmt.Errorf("limit must be within 1..%d", maxLogLimit)
		}
		filter.Limit = limit
	}
	return filter, nil
}

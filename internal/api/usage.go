package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/nugget/carepilot/internal/usage"
)

const (
	defaultUsageDays = 30
	maxUsageDays     = 365
)

// usageResponse reports the caller's token spend over the last Days
// days.
type usageResponse struct {
	Username string                    `json:"username"`
	Days     int                       `json:"days"`
	Total    *usage.Summary            `json:"total"`
	ByModel  map[string]*usage.Summary `json:"by_model"`
	ByKind   map[string]*usage.Summary `json:"by_kind"`
}

// handleUsage serves GET /usage?days=N.
func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	if s.deps.Usage == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, codeUnavailable, "usage tracking is not configured")
		return
	}
	days := defaultUsageDays
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxUsageDays {
			s.errorResponse(w, http.StatusBadRequest, codeBadRequest, "days must be between 1 and 365")
			return
		}
		days = n
	}

	u := userFrom(r.Context())
	ctx := r.Context()
	end := s.now()
	start := end.Add(-time.Duration(days) * 24 * time.Hour)

	total, err := s.deps.Usage.Summary(ctx, u.Username, start, end)
	if err != nil {
		s.internalError(w, r, "usage summary failed", err)
		return
	}
	byModel, err := s.deps.Usage.SummaryByModel(ctx, u.Username, start, end)
	if err != nil {
		s.internalError(w, r, "usage summary failed", err)
		return
	}
	byKind, err := s.deps.Usage.SummaryByKind(ctx, u.Username, start, end)
	if err != nil {
		s.internalError(w, r, "usage summary failed", err)
		return
	}
	writeJSON(w, http.StatusOK, usageResponse{
		Username: u.Username,
		Days:     days,
		Total:    total,
		ByModel:  byModel,
		ByKind:   byKind,
	}, s.logger)
}

package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/enersight/ga4-monitor/internal/domain"
	"github.com/enersight/ga4-monitor/internal/ingest"
	"github.com/enersight/ga4-monitor/internal/pkg/httputil"
	"github.com/enersight/ga4-monitor/internal/query"
)

// defaultRangeDays is the trailing window served when no explicit
// range is requested.
const defaultRangeDays = 45

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	components := make(map[string]string, len(s.checks))
	for name, check := range s.checks {
		if err := check(r.Context()); err != nil {
			status = "degraded"
			components[name] = err.Error()
			continue
		}
		components[name] = "ok"
	}

	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	httputil.JSON(w, code, map[string]interface{}{
		"status":     status,
		"components": components,
	})
}

// rangeParams resolves start_date/end_date query parameters, applying
// the trailing default window and the span cap.
func (s *Server) rangeParams(w http.ResponseWriter, r *http.Request) (start, end string, ok bool) {
	start = r.URL.Query().Get("start_date")
	end = r.URL.Query().Get("end_date")
	if end == "" {
		end = domain.Yesterday()
	}
	if start == "" {
		start = domain.DaysAgo(defaultRangeDays)
	}

	dates, err := domain.DateRange(start, end)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return "", "", false
	}
	if len(dates) > s.maxRange {
		httputil.BadRequest(w,
			"range spans "+strconv.Itoa(len(dates))+" days, maximum is "+strconv.Itoa(s.maxRange))
		return "", "", false
	}
	return start, end, true
}

func (s *Server) handleMetricsRange(w http.ResponseWriter, r *http.Request) {
	start, end, ok := s.rangeParams(w, r)
	if !ok {
		return
	}

	res, err := s.queries.MetricsRange(r.Context(), start, end)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OKMeta(w, res.Rows, map[string]interface{}{
		"date_range": map[string]string{"start_date": start, "end_date": end},
		"count":      res.Stats.Count,
		"averages":   res.Stats,
	})
}

func (s *Server) handleDaily(w http.ResponseWriter, r *http.Request) {
	date := chi.URLParam(r, "date")
	m, err := s.queries.Daily(r.Context(), date)
	if errors.Is(err, query.ErrNotFound) {
		httputil.NotFound(w, "no metrics for "+date)
		return
	}
	if err != nil {
		if _, perr := domain.ParseDate(date); perr != nil {
			httputil.BadRequest(w, perr.Error())
			return
		}
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, m)
}

func (s *Server) handleComparison(w http.ResponseWriter, r *http.Request) {
	date := chi.URLParam(r, "date")
	daysBack := 7
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			httputil.BadRequest(w, "days must be a positive integer")
			return
		}
		daysBack = n
	}

	cmp, err := s.queries.Compare(r.Context(), date, daysBack)
	if errors.Is(err, query.ErrNotFound) {
		httputil.NotFound(w, "no metrics for "+date)
		return
	}
	if err != nil {
		if _, perr := domain.ParseDate(date); perr != nil {
			httputil.BadRequest(w, perr.Error())
			return
		}
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, cmp)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	date := chi.URLParam(r, "date")
	rep, err := s.queries.Report(r.Context(), date)
	if errors.Is(err, query.ErrNotFound) {
		httputil.NotFound(w, "no metrics for "+date)
		return
	}
	if err != nil {
		if _, perr := domain.ParseDate(date); perr != nil {
			httputil.BadRequest(w, perr.Error())
			return
		}
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, rep)
}

func (s *Server) handleBreakdownDay(w http.ResponseWriter, r *http.Request) {
	kind, err := domain.ParseBreakdownKind(chi.URLParam(r, "kind"))
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	date := chi.URLParam(r, "date")
	if _, err := domain.ParseDate(date); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	rows, err := s.queries.BreakdownDay(r.Context(), kind, date)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, rows)
}

func (s *Server) handleSessionsRange(w http.ResponseWriter, r *http.Request) {
	kindParam := r.URL.Query().Get("kind")
	if kindParam == "" {
		kindParam = "channel"
	}
	kind, err := domain.ParseBreakdownKind(kindParam)
	if err != nil || (kind != domain.BreakdownChannel && kind != domain.BreakdownCampaign) {
		httputil.BadRequest(w, "kind must be channel or campaign")
		return
	}

	start, end, ok := s.rangeParams(w, r)
	if !ok {
		return
	}
	rows, err := s.queries.BreakdownRange(r.Context(), kind, start, end)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OKMeta(w, rows, map[string]string{
		"kind": string(kind), "start_date": start, "end_date": end,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.queries.Stats(r.Context())
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, st)
}

func (s *Server) handleCacheInfo(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, s.cacheInfo.Stats(r.Context()))
}

func (s *Server) handleAlignment(w http.ResponseWriter, r *http.Request) {
	start, end, ok := s.rangeParams(w, r)
	if !ok {
		return
	}
	rep, err := s.ingestor.Alignment(r.Context(), start, end)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, rep)
}

type extractRequest struct {
	Date  string `json:"date"`
	Force bool   `json:"force"`
}

func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	req := extractRequest{Date: domain.Yesterday()}
	if !httputil.DecodeOptional(w, r, &req) {
		return
	}
	if req.Date == "" {
		req.Date = domain.Yesterday()
	}

	res := s.ingestor.RunDate(r.Context(), req.Date, req.Force)
	if res.Outcome == ingest.OutcomeFailed {
		httputil.Error(w, http.StatusBadGateway, res.Error)
		return
	}
	httputil.OK(w, res)
}

func (s *Server) handleExtractDelayed(w http.ResponseWriter, r *http.Request) {
	res, err := s.ingestor.RunDelayed(r.Context())
	if err != nil {
		httputil.Error(w, http.StatusBadGateway, err.Error())
		return
	}
	httputil.OK(w, res)
}

type rangeRequest struct {
	StartDate       string `json:"start_date"`
	EndDate         string `json:"end_date"`
	Force           bool   `json:"force"`
	IncludeChannels bool   `json:"include_channels"`
}

func (s *Server) decodeRangeRequest(w http.ResponseWriter, r *http.Request, maxDays int) (rangeRequest, bool) {
	var req rangeRequest
	if !httputil.Decode(w, r, &req) {
		return rangeRequest{}, false
	}
	if req.StartDate == "" || req.EndDate == "" {
		httputil.BadRequest(w, "start_date and end_date are required")
		return rangeRequest{}, false
	}
	dates, err := domain.DateRange(req.StartDate, req.EndDate)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return rangeRequest{}, false
	}
	if len(dates) > maxDays {
		httputil.BadRequest(w,
			"range spans "+strconv.Itoa(len(dates))+" days, maximum is "+strconv.Itoa(maxDays))
		return rangeRequest{}, false
	}
	return req, true
}

func (s *Server) handleBackfill(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeRangeRequest(w, r, s.maxBackfill)
	if !ok {
		return
	}

	sum, err := s.ingestor.Backfill(r.Context(), req.StartDate, req.EndDate, ingest.RangeOptions{
		Force:           req.Force,
		IncludeChannels: req.IncludeChannels,
	})
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, sum)
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeRangeRequest(w, r, s.maxBackfill)
	if !ok {
		return
	}

	sum, err := s.ingestor.SyncMissing(r.Context(), req.StartDate, req.EndDate)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, sum)
}

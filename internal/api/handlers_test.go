package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/enersight/ga4-monitor/internal/cache"
	"github.com/enersight/ga4-monitor/internal/domain"
	"github.com/enersight/ga4-monitor/internal/ingest"
	"github.com/enersight/ga4-monitor/internal/query"
	"github.com/enersight/ga4-monitor/internal/store"
)

type fakeQueries struct {
	daily map[string]domain.DailyMetrics
}

func (f *fakeQueries) Daily(_ context.Context, date string) (domain.DailyMetrics, error) {
	m, ok := f.daily[date]
	if !ok {
		return domain.DailyMetrics{}, query.ErrNotFound
	}
	return m, nil
}

func (f *fakeQueries) Report(ctx context.Context, date string) (query.DailyReport, error) {
	m, err := f.Daily(ctx, date)
	if err != nil {
		return query.DailyReport{}, err
	}
	return query.DailyReport{
		Metrics:  m,
		Products: []domain.ProductRow{{Date: date, Product: "luce_fissa", Conversions: 20, Percentage: 100}},
	}, nil
}

func (f *fakeQueries) MetricsRange(_ context.Context, start, end string) (query.RangeResult, error) {
	var rows []domain.DailyMetrics
	for d, m := range f.daily {
		if d >= start && d <= end {
			rows = append(rows, m)
		}
	}
	return query.RangeResult{Rows: rows, Stats: store.RangeStats{Count: len(rows)}}, nil
}

func (f *fakeQueries) BreakdownDay(_ context.Context, kind domain.BreakdownKind, date string) (interface{}, error) {
	return []domain.ProductRow{{Date: date, Product: "gas_variabile", Conversions: 25}}, nil
}

func (f *fakeQueries) BreakdownRange(_ context.Context, kind domain.BreakdownKind, start, end string) (interface{}, error) {
	return []domain.ChannelRow{{Date: start, Channel: "Organic Search", CommoditySessions: 300}}, nil
}

func (f *fakeQueries) Compare(ctx context.Context, date string, daysBack int) (query.Comparison, error) {
	m, err := f.Daily(ctx, date)
	if err != nil {
		return query.Comparison{}, err
	}
	against, _ := domain.ShiftDate(date, -daysBack)
	return query.Comparison{Date: date, AgainstDate: against, Current: m}, nil
}

func (f *fakeQueries) Stats(context.Context) (store.Statistics, error) {
	return store.Statistics{Engine: "sqlite", TotalDays: len(f.daily)}, nil
}

type fakeIngestor struct {
	ranDates  []string
	failRuns  bool
	delayedTo string
}

func (f *fakeIngestor) RunDate(_ context.Context, date string, force bool) ingest.Result {
	if f.failRuns {
		return ingest.Result{Date: date, Outcome: ingest.OutcomeFailed, Error: "quota exceeded"}
	}
	f.ranDates = append(f.ranDates, date)
	return ingest.Result{Date: date, Outcome: ingest.OutcomeDone, Rows: 4}
}

func (f *fakeIngestor) Backfill(ctx context.Context, start, end string, opts ingest.RangeOptions) (ingest.Summary, error) {
	dates, err := domain.DateRange(start, end)
	if err != nil {
		return ingest.Summary{}, err
	}
	sum := ingest.Summary{Total: len(dates)}
	for _, d := range dates {
		res := f.RunDate(ctx, d, opts.Force)
		sum.Results = append(sum.Results, res)
		if res.Outcome == ingest.OutcomeDone {
			sum.Done++
		} else {
			sum.Failed++
		}
	}
	return sum, nil
}

func (f *fakeIngestor) RunDelayed(_ context.Context) (ingest.Result, error) {
	f.delayedTo = domain.DaysAgo(2)
	return ingest.Result{Date: f.delayedTo, Outcome: ingest.OutcomeDone, Rows: 2}, nil
}

func (f *fakeIngestor) Alignment(_ context.Context, start, end string) (ingest.AlignmentReport, error) {
	return ingest.AlignmentReport{
		Start: start, End: end,
		Daily: ingest.TableAlignment{Expected: 5, Present: 4, Missing: []string{start}},
	}, nil
}

func (f *fakeIngestor) SyncMissing(ctx context.Context, start, end string) (ingest.Summary, error) {
	res := f.RunDate(ctx, start, false)
	return ingest.Summary{Total: 1, Done: 1, Results: []ingest.Result{res}}, nil
}

type fakeCacheInfo struct{}

func (fakeCacheInfo) Stats(context.Context) cache.Info {
	return cache.Info{Available: true, KeyPrefix: "ga4:metrics:", TTLDays: 14, EntryCount: 3}
}

func newTestServer(t *testing.T, checks map[string]HealthCheck) (*httptest.Server, *fakeQueries, *fakeIngestor) {
	t.Helper()
	q := &fakeQueries{daily: map[string]domain.DailyMetrics{
		"2026-08-30": {
			Date: "2026-08-30", CommoditySessions: 1200, LuceGasSessions: 800,
			Conversions: 45, CommodityCR: 3.75, FunnelStarts: 372,
		},
	}}
	ing := &fakeIngestor{}
	srv := NewServer(q, ing, fakeCacheInfo{}, Options{HealthChecks: checks})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, q, ing
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Meta    json.RawMessage `json:"meta"`
	Error   string          `json:"error"`
}

func getJSON(t *testing.T, url string) (int, envelope) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

func postJSON(t *testing.T, url string, body interface{}) (int, envelope) {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	defer resp.Body.Close()
	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

func TestHealth(t *testing.T) {
	ts, _, _ := newTestServer(t, map[string]HealthCheck{
		"database": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return nil },
	})

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Status     string            `json:"status"`
		Components map[string]string `json:"components"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, "ok", body.Components["database"])
}

func TestHealthDegraded(t *testing.T) {
	ts, _, _ := newTestServer(t, map[string]HealthCheck{
		"redis": func(context.Context) error { return errors.New("connection refused") },
	})

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestGetDaily(t *testing.T) {
	ts, _, _ := newTestServer(t, nil)

	code, env := getJSON(t, ts.URL+"/api/metrics/2026-08-30")
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, env.Success)

	var m domain.DailyMetrics
	require.NoError(t, json.Unmarshal(env.Data, &m))
	assert.Equal(t, 45, m.Conversions)
}

func TestGetDailyNotFound(t *testing.T) {
	ts, _, _ := newTestServer(t, nil)

	code, env := getJSON(t, ts.URL+"/api/metrics/2026-01-01")
	assert.Equal(t, http.StatusNotFound, code)
	assert.False(t, env.Success)
	assert.Contains(t, env.Error, "2026-01-01")
}

func TestGetReport(t *testing.T) {
	ts, _, _ := newTestServer(t, nil)

	code, env := getJSON(t, ts.URL+"/api/report/2026-08-30")
	assert.Equal(t, http.StatusOK, code)

	var rep query.DailyReport
	require.NoError(t, json.Unmarshal(env.Data, &rep))
	assert.Equal(t, 1200, rep.Metrics.CommoditySessions)
	assert.Len(t, rep.Products, 1)
}

func TestMetricsRangeDefaults(t *testing.T) {
	ts, _, _ := newTestServer(t, nil)

	code, env := getJSON(t, ts.URL+"/api/metrics/range")
	assert.Equal(t, http.StatusOK, code)

	var meta struct {
		DateRange struct {
			StartDate string `json:"start_date"`
			EndDate   string `json:"end_date"`
		} `json:"date_range"`
	}
	require.NoError(t, json.Unmarshal(env.Meta, &meta))
	assert.Equal(t, domain.DaysAgo(45), meta.DateRange.StartDate)
	assert.Equal(t, domain.Yesterday(), meta.DateRange.EndDate)
}

func TestMetricsRangeTooWide(t *testing.T) {
	ts, _, _ := newTestServer(t, nil)

	code, env := getJSON(t, ts.URL+"/api/metrics/range?start_date=2026-01-01&end_date=2026-06-30")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, env.Error, "maximum")
}

func TestMetricsRangeInvalidDates(t *testing.T) {
	ts, _, _ := newTestServer(t, nil)

	code, _ := getJSON(t, ts.URL+"/api/metrics/range?start_date=bogus")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestComparisonDefaultsDaysBack(t *testing.T) {
	ts, _, _ := newTestServer(t, nil)

	code, env := getJSON(t, ts.URL+"/api/metrics/2026-08-30/comparison")
	assert.Equal(t, http.StatusOK, code)

	var cmp query.Comparison
	require.NoError(t, json.Unmarshal(env.Data, &cmp))
	assert.Equal(t, "2026-08-23", cmp.AgainstDate)
}

func TestBreakdownDayRejectsUnknownKind(t *testing.T) {
	ts, _, _ := newTestServer(t, nil)

	code, _ := getJSON(t, ts.URL+"/api/breakdown/bogus/2026-08-30")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestSessionsRangeRejectsProductKind(t *testing.T) {
	ts, _, _ := newTestServer(t, nil)

	code, _ := getJSON(t, ts.URL+"/api/sessions/range?kind=product")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestStats(t *testing.T) {
	ts, _, _ := newTestServer(t, nil)

	code, env := getJSON(t, ts.URL+"/api/stats")
	assert.Equal(t, http.StatusOK, code)

	var st store.Statistics
	require.NoError(t, json.Unmarshal(env.Data, &st))
	assert.Equal(t, "sqlite", st.Engine)
	assert.Equal(t, 1, st.TotalDays)
}

func TestCacheInfo(t *testing.T) {
	ts, _, _ := newTestServer(t, nil)

	code, env := getJSON(t, ts.URL+"/api/cache/info")
	assert.Equal(t, http.StatusOK, code)

	var info cache.Info
	require.NoError(t, json.Unmarshal(env.Data, &info))
	assert.True(t, info.Available)
	assert.Equal(t, 3, info.EntryCount)
}

func TestExtractDefaultsToYesterday(t *testing.T) {
	ts, _, ing := newTestServer(t, nil)

	resp, err := http.Post(ts.URL+"/api/extract", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{domain.Yesterday()}, ing.ranDates)
}

func TestExtractExplicitDate(t *testing.T) {
	ts, _, ing := newTestServer(t, nil)

	code, env := postJSON(t, ts.URL+"/api/extract", map[string]interface{}{
		"date": "2026-08-20", "force": true,
	})
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, env.Success)
	assert.Equal(t, []string{"2026-08-20"}, ing.ranDates)
}

func TestExtractChunkedBody(t *testing.T) {
	ts, _, ing := newTestServer(t, nil)

	// A plain reader forces chunked transfer encoding with no
	// Content-Length header.
	body := struct{ io.Reader }{bytes.NewReader([]byte(`{"date":"2026-08-20"}`))}
	resp, err := http.Post(ts.URL+"/api/extract", "application/json", body)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"2026-08-20"}, ing.ranDates)
}

func TestExtractFailureIsBadGateway(t *testing.T) {
	ts, _, ing := newTestServer(t, nil)
	ing.failRuns = true

	code, env := postJSON(t, ts.URL+"/api/extract", map[string]string{"date": "2026-08-20"})
	assert.Equal(t, http.StatusBadGateway, code)
	assert.Contains(t, env.Error, "quota")
}

func TestBackfill(t *testing.T) {
	ts, _, ing := newTestServer(t, nil)

	code, env := postJSON(t, ts.URL+"/api/backfill", map[string]string{
		"start_date": "2026-08-01", "end_date": "2026-08-05",
	})
	assert.Equal(t, http.StatusOK, code)

	var sum ingest.Summary
	require.NoError(t, json.Unmarshal(env.Data, &sum))
	assert.Equal(t, 5, sum.Total)
	assert.Equal(t, 5, sum.Done)
	assert.Len(t, ing.ranDates, 5)
}

func TestBackfillRequiresBothDates(t *testing.T) {
	ts, _, _ := newTestServer(t, nil)

	code, _ := postJSON(t, ts.URL+"/api/backfill", map[string]string{"start_date": "2026-08-01"})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestBackfillCapsSpan(t *testing.T) {
	ts, _, _ := newTestServer(t, nil)

	code, env := postJSON(t, ts.URL+"/api/backfill", map[string]string{
		"start_date": "2026-01-01", "end_date": "2026-08-01",
	})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, env.Error, "maximum")
}

func TestSync(t *testing.T) {
	ts, _, _ := newTestServer(t, nil)

	code, env := postJSON(t, ts.URL+"/api/sync", map[string]string{
		"start_date": "2026-08-01", "end_date": "2026-08-05",
	})
	assert.Equal(t, http.StatusOK, code)

	var sum ingest.Summary
	require.NoError(t, json.Unmarshal(env.Data, &sum))
	assert.Equal(t, 1, sum.Done)
}

func TestAlignment(t *testing.T) {
	ts, _, _ := newTestServer(t, nil)

	code, env := getJSON(t, ts.URL+"/api/alignment?start_date=2026-08-01&end_date=2026-08-05")
	assert.Equal(t, http.StatusOK, code)

	var rep ingest.AlignmentReport
	require.NoError(t, json.Unmarshal(env.Data, &rep))
	assert.Equal(t, 5, rep.Daily.Expected)
	assert.Equal(t, []string{"2026-08-01"}, rep.Daily.Missing)
}

func TestExtractDelayed(t *testing.T) {
	ts, _, ing := newTestServer(t, nil)

	resp, err := http.Post(ts.URL+"/api/extract/delayed", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, domain.DaysAgo(2), ing.delayedTo)
}

package ga4

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/enersight/ga4-monitor/internal/config"
)

// fakeAnalytics routes runReport requests by their dimensions and
// filters the way the real API would.
type fakeAnalytics struct {
	t        *testing.T
	calls    atomic.Int64
	failOnce atomic.Bool
}

func (f *fakeAnalytics) handler(w http.ResponseWriter, r *http.Request) {
	f.calls.Add(1)
	if f.failOnce.CompareAndSwap(true, false) {
		http.Error(w, "backend error", http.StatusInternalServerError)
		return
	}

	require.Equal(f.t, http.MethodPost, r.Method)
	require.Equal(f.t, "Bearer test-token", r.Header.Get("Authorization"))

	var req runReportRequest
	require.NoError(f.t, json.NewDecoder(r.Body).Decode(&req))

	resp := f.route(req)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func metricRows(values ...string) []reportRow {
	rows := make([]reportRow, 0, len(values))
	for _, v := range values {
		rows = append(rows, reportRow{MetricValues: []cellValue{{Value: v}}})
	}
	return rows
}

func dimRow(dim, val string) reportRow {
	return reportRow{
		DimensionValues: []cellValue{{Value: dim}},
		MetricValues:    []cellValue{{Value: val}},
	}
}

func (f *fakeAnalytics) route(req runReportRequest) runReportResponse {
	if len(req.Dimensions) == 1 {
		switch req.Dimensions[0].Name {
		case productDimension:
			return runReportResponse{Rows: []reportRow{
				dimRow("luce_fissa", "20"),
				dimRow("gas_variabile", "25"),
			}}
		case commodityDimension:
			return runReportResponse{Rows: []reportRow{
				dimRow("dual", "30"),
				dimRow("luce", "15"),
			}}
		case "sessionDefaultChannelGroup":
			prefix := req.DimensionFilter.AndGroup.Expressions[0].Filter.StringFilter.Value
			if prefix == commodityPathPrefix {
				return runReportResponse{Rows: []reportRow{
					dimRow("Organic Search", "300"),
					dimRow("Paid Search", "200"),
				}}
			}
			return runReportResponse{Rows: []reportRow{
				dimRow("Organic Search", "150"),
			}}
		}
	}

	if req.Metrics[0].Name == conversionsMetric {
		return runReportResponse{Rows: metricRows("45")}
	}

	filter := req.DimensionFilter.Filter
	switch filter.StringFilter.Value {
	case funnelStartPath:
		return runReportResponse{Rows: metricRows("372")}
	case commodityPathPrefix:
		return runReportResponse{Rows: metricRows("1200")}
	case luceGasPathPrefix:
		return runReportResponse{Rows: metricRows("800")}
	}
	f.t.Fatalf("unexpected report request: %+v", req)
	return runReportResponse{}
}

func newTestClient(t *testing.T, fake *fakeAnalytics) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(fake.handler))
	t.Cleanup(srv.Close)
	return NewClient(config.GA4Config{
		PropertyID:     "123456",
		AccessToken:    "test-token",
		BaseURL:        srv.URL,
		RateLimitRPS:   1000,
		MaxRetries:     3,
		RetryBaseDelay: "1ms",
	})
}

func TestFetchDay(t *testing.T) {
	fake := &fakeAnalytics{t: t}
	c := newTestClient(t, fake)

	rep, err := c.FetchDay(context.Background(), "2026-08-30")
	require.NoError(t, err)

	m := rep.Metrics
	assert.Equal(t, "2026-08-30", m.Date)
	assert.Equal(t, 1200, m.CommoditySessions)
	assert.Equal(t, 800, m.LuceGasSessions)
	assert.Equal(t, 45, m.Conversions)
	assert.Equal(t, 372, m.FunnelStarts)
	assert.InDelta(t, 3.75, m.CommodityCR, 0.001)
	assert.InDelta(t, 5.63, m.LuceGasCR, 0.005)
	assert.InDelta(t, 12.1, m.FunnelCR, 0.005)
	assert.False(t, m.ExtractedAt.IsZero())

	require.Len(t, rep.Products, 2)
	assert.Equal(t, "luce_fissa", rep.Products[0].Product)
	assert.InDelta(t, 44.44, rep.Products[0].Percentage, 0.01)
	assert.InDelta(t, 55.56, rep.Products[1].Percentage, 0.01)

	require.Len(t, rep.Commodity, 2)
	assert.Equal(t, "dual", rep.Commodity[0].CommodityType)
	assert.Equal(t, 30, rep.Commodity[0].Conversions)

	assert.Empty(t, rep.Warnings)
}

func TestFetchDayRetriesTransientFailure(t *testing.T) {
	fake := &fakeAnalytics{t: t}
	fake.failOnce.Store(true)
	c := newTestClient(t, fake)

	rep, err := c.FetchDay(context.Background(), "2026-08-30")
	require.NoError(t, err)
	assert.Equal(t, 1200, rep.Metrics.CommoditySessions)
}

func TestFetchDayEmptyDayIsValidZeros(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(runReportResponse{})
	}))
	defer srv.Close()

	c := NewClient(config.GA4Config{
		PropertyID: "123456", AccessToken: "test-token",
		BaseURL: srv.URL, RateLimitRPS: 1000,
	})
	rep, err := c.FetchDay(context.Background(), "2026-08-15")
	require.NoError(t, err)
	assert.Zero(t, rep.Metrics.CommoditySessions)
	assert.Zero(t, rep.Metrics.Conversions)
	assert.Zero(t, rep.Metrics.CommodityCR)
	assert.Empty(t, rep.Products)
	assert.Empty(t, rep.Warnings)
}

func TestFetchDayMalformedMetricYieldsWarning(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(runReportResponse{Rows: metricRows("garbage")})
	}))
	defer srv.Close()

	c := NewClient(config.GA4Config{
		PropertyID: "123456", AccessToken: "test-token",
		BaseURL: srv.URL, RateLimitRPS: 1000,
	})
	rep, err := c.FetchDay(context.Background(), "2026-08-15")
	require.NoError(t, err)
	assert.Zero(t, rep.Metrics.CommoditySessions)
	assert.NotEmpty(t, rep.Warnings)
}

func TestFetchDayAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": {"code": 403}}`, http.StatusForbidden)
	}))
	defer srv.Close()

	c := NewClient(config.GA4Config{
		PropertyID: "123456", AccessToken: "bad-token",
		BaseURL: srv.URL, RateLimitRPS: 1000,
	})
	_, err := c.FetchDay(context.Background(), "2026-08-15")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}

func TestFetchChannelsMergesFunnels(t *testing.T) {
	fake := &fakeAnalytics{t: t}
	c := newTestClient(t, fake)

	rows, warnings, err := c.FetchChannels(context.Background(), "2026-08-28")
	require.NoError(t, err)
	assert.Empty(t, warnings)
	require.Len(t, rows, 2)

	assert.Equal(t, "Organic Search", rows[0].Channel)
	assert.Equal(t, 300, rows[0].CommoditySessions)
	assert.Equal(t, 150, rows[0].LuceGasSessions)

	assert.Equal(t, "Paid Search", rows[1].Channel)
	assert.Equal(t, 200, rows[1].CommoditySessions)
	assert.Equal(t, 0, rows[1].LuceGasSessions)
}

func TestWarningSinkParsing(t *testing.T) {
	sink := &warningSink{}
	assert.Equal(t, 12, sink.intValue("x", "12"))
	assert.Equal(t, 12, sink.intValue("x", "12.0"))
	assert.Equal(t, 0, sink.intValue("x", ""))
	assert.Empty(t, sink.warnings)

	assert.Equal(t, 0, sink.intValue("x", "abc"))
	assert.Len(t, sink.warnings, 1)
}

// Package ga4 implements the Google Analytics Data API client used as
// the pipeline's extraction source. All requests go through a shared
// rate limiter and a retrying HTTP client so quota exhaustion and
// transient upstream failures are absorbed here.
package ga4

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/enersight/ga4-monitor/internal/config"
	"github.com/enersight/ga4-monitor/internal/domain"
	"github.com/enersight/ga4-monitor/internal/pkg/httpretry"
	"github.com/enersight/ga4-monitor/internal/pkg/logger"
)

// Site path prefixes separating the two funnels, and the funnel's
// first configurator step.
const (
	commodityPathPrefix = "/commodity/"
	luceGasPathPrefix   = "/luce-gas/"
	funnelStartPath     = "/commodity/configuratore/step-1"
)

// conversionsMetric is the key event registered for completed orders.
const conversionsMetric = "keyEvents:weborder_residenziale"

// Custom event-scoped dimensions registered on the property.
const (
	productDimension   = "customEvent:product_name"
	commodityDimension = "customEvent:commodity_type"
)

// Client talks to the Analytics Data API for one property.
type Client struct {
	httpc      *httpretry.RetryClient
	limiter    *rate.Limiter
	baseURL    string
	propertyID string
	token      string
	log        *logger.Logger
}

// NewClient builds a client from configuration.
func NewClient(cfg config.GA4Config) *Client {
	rps := cfg.RateLimitRPS
	if rps <= 0 {
		rps = 9
	}
	httpc := httpretry.New(
		&http.Client{Timeout: cfg.Timeout()},
		cfg.MaxRetries,
		httpretry.WithBaseDelay(cfg.BaseDelay()),
	)
	return &Client{
		httpc:      httpc,
		limiter:    rate.NewLimiter(rate.Limit(rps), 1),
		baseURL:    cfg.BaseURL,
		propertyID: cfg.PropertyID,
		token:      cfg.AccessToken,
		log:        logger.New("ga4"),
	}
}

// runReport executes one report request against the property.
func (c *Client) runReport(ctx context.Context, reqBody runReportRequest) (*runReportResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting for rate limiter: %w", err)
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("encoding report request: %w", err)
	}

	url := fmt.Sprintf("%s/v1beta/properties/%s:runReport", c.baseURL, c.propertyID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building report request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling analytics API: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("reading report response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("analytics API returned %d: %s", resp.StatusCode, truncate(body, 200))
	}

	var out runReportResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decoding report response: %w", err)
	}
	return &out, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

// DayReport is everything FetchDay extracts for one date.
type DayReport struct {
	Metrics   domain.DailyMetrics
	Products  []domain.ProductRow
	Commodity []domain.CommodityRow
	Warnings  []domain.Warning
}

// FetchDay extracts the full daily report for one date. It composes
// several sub-reports; conversion rates are derived here so the stored
// row is self-contained. A day with no traffic yields valid zeros.
func (c *Client) FetchDay(ctx context.Context, date string) (*DayReport, error) {
	sink := &warningSink{}
	dr := []dateRange{{StartDate: date, EndDate: date}}

	commoditySessions, err := c.sessionsByPath(ctx, dr, commodityPathPrefix, "sessioni_commodity", sink)
	if err != nil {
		return nil, err
	}
	luceGasSessions, err := c.sessionsByPath(ctx, dr, luceGasPathPrefix, "sessioni_lucegas", sink)
	if err != nil {
		return nil, err
	}

	conversions, err := c.conversions(ctx, dr, sink)
	if err != nil {
		return nil, err
	}
	funnelStarts, err := c.funnelStarts(ctx, dr, sink)
	if err != nil {
		return nil, err
	}

	products, err := c.productSplit(ctx, dr, date, sink)
	if err != nil {
		return nil, err
	}
	commodity, err := c.commoditySplit(ctx, dr, date, sink)
	if err != nil {
		return nil, err
	}

	m := domain.DailyMetrics{
		Date:              date,
		ExtractedAt:       time.Now().UTC(),
		CommoditySessions: commoditySessions,
		LuceGasSessions:   luceGasSessions,
		Conversions:       conversions,
		FunnelStarts:      funnelStarts,
	}
	if commoditySessions > 0 {
		m.CommodityCR = round2(float64(conversions) / float64(commoditySessions) * 100)
	}
	if luceGasSessions > 0 {
		m.LuceGasCR = round2(float64(conversions) / float64(luceGasSessions) * 100)
	}
	if funnelStarts > 0 {
		m.FunnelCR = round2(float64(conversions) / float64(funnelStarts) * 100)
	}

	c.log.Debug("daily report fetched", "date", date,
		"sessioni_commodity", commoditySessions, "swi_conversioni", conversions,
		"products", len(products), "warnings", len(sink.warnings))

	return &DayReport{
		Metrics:   m,
		Products:  products,
		Commodity: commodity,
		Warnings:  sink.warnings,
	}, nil
}

func (c *Client) sessionsByPath(ctx context.Context, dr []dateRange, prefix, field string, sink *warningSink) (int, error) {
	resp, err := c.runReport(ctx, runReportRequest{
		Metrics:         []metric{{Name: "sessions"}},
		DateRanges:      dr,
		DimensionFilter: pathPrefixFilter(prefix),
	})
	if err != nil {
		return 0, fmt.Errorf("fetching %s: %w", field, err)
	}
	return sink.singleMetric(field, resp), nil
}

func (c *Client) conversions(ctx context.Context, dr []dateRange, sink *warningSink) (int, error) {
	resp, err := c.runReport(ctx, runReportRequest{
		Metrics:    []metric{{Name: conversionsMetric}},
		DateRanges: dr,
	})
	if err != nil {
		return 0, fmt.Errorf("fetching swi_conversioni: %w", err)
	}
	return sink.singleMetric("swi_conversioni", resp), nil
}

// funnelStarts counts views of the funnel's first step.
func (c *Client) funnelStarts(ctx context.Context, dr []dateRange, sink *warningSink) (int, error) {
	resp, err := c.runReport(ctx, runReportRequest{
		Metrics:         []metric{{Name: "screenPageViews"}},
		DateRanges:      dr,
		DimensionFilter: pathPrefixFilter(funnelStartPath),
	})
	if err != nil {
		return 0, fmt.Errorf("fetching start_funnel: %w", err)
	}
	return sink.singleMetric("start_funnel", resp), nil
}

func (c *Client) productSplit(ctx context.Context, dr []dateRange, date string, sink *warningSink) ([]domain.ProductRow, error) {
	resp, err := c.runReport(ctx, runReportRequest{
		Dimensions: []dimension{{Name: productDimension}},
		Metrics:    []metric{{Name: conversionsMetric}},
		DateRanges: dr,
	})
	if err != nil {
		return nil, fmt.Errorf("fetching product split: %w", err)
	}

	var rows []domain.ProductRow
	var total float64
	for _, r := range resp.Rows {
		if len(r.DimensionValues) == 0 || len(r.MetricValues) == 0 {
			sink.add("products", "row with missing cells for %s", date)
			continue
		}
		name := r.DimensionValues[0].Value
		if name == "" || name == "(not set)" {
			name = "unknown"
		}
		conv := sink.floatValue("products."+name, r.MetricValues[0].Value)
		rows = append(rows, domain.ProductRow{Date: date, Product: name, Conversions: conv})
		total += conv
	}
	for i := range rows {
		if total > 0 {
			rows[i].Percentage = round2(rows[i].Conversions / total * 100)
		}
	}
	return rows, nil
}

func (c *Client) commoditySplit(ctx context.Context, dr []dateRange, date string, sink *warningSink) ([]domain.CommodityRow, error) {
	resp, err := c.runReport(ctx, runReportRequest{
		Dimensions: []dimension{{Name: commodityDimension}},
		Metrics:    []metric{{Name: conversionsMetric}},
		DateRanges: dr,
	})
	if err != nil {
		return nil, fmt.Errorf("fetching commodity split: %w", err)
	}

	var rows []domain.CommodityRow
	for _, r := range resp.Rows {
		if len(r.DimensionValues) == 0 || len(r.MetricValues) == 0 {
			sink.add("commodity", "row with missing cells for %s", date)
			continue
		}
		name := r.DimensionValues[0].Value
		if name == "" || name == "(not set)" {
			name = "unknown"
		}
		rows = append(rows, domain.CommodityRow{
			Date:          date,
			CommodityType: name,
			Conversions:   sink.intValue("commodity."+name, r.MetricValues[0].Value),
		})
	}
	return rows, nil
}

// FetchChannels extracts the per-channel session split for one date.
// Channel attribution stabilizes late upstream, so callers request
// this with a fixed delay relative to the daily report.
func (c *Client) FetchChannels(ctx context.Context, date string) ([]domain.ChannelRow, []domain.Warning, error) {
	sink := &warningSink{}
	merged, err := c.sessionsByDimension(ctx, date, "sessionDefaultChannelGroup", sink)
	if err != nil {
		return nil, nil, fmt.Errorf("fetching channel split: %w", err)
	}
	rows := make([]domain.ChannelRow, 0, len(merged))
	for _, e := range merged {
		rows = append(rows, domain.ChannelRow{
			Date:              date,
			Channel:           e.name,
			CommoditySessions: e.commodity,
			LuceGasSessions:   e.luceGas,
		})
	}
	return rows, sink.warnings, nil
}

// FetchCampaigns extracts the per-campaign session split for one date,
// with the same delayed-availability characteristic as FetchChannels.
func (c *Client) FetchCampaigns(ctx context.Context, date string) ([]domain.CampaignRow, []domain.Warning, error) {
	sink := &warningSink{}
	merged, err := c.sessionsByDimension(ctx, date, "sessionCampaignName", sink)
	if err != nil {
		return nil, nil, fmt.Errorf("fetching campaign split: %w", err)
	}
	rows := make([]domain.CampaignRow, 0, len(merged))
	for _, e := range merged {
		rows = append(rows, domain.CampaignRow{
			Date:              date,
			Campaign:          e.name,
			CommoditySessions: e.commodity,
			LuceGasSessions:   e.luceGas,
		})
	}
	return rows, sink.warnings, nil
}

type dimensionSessions struct {
	name      string
	commodity int
	luceGas   int
}

// sessionsByDimension runs the same dimensional report once per funnel
// and merges the two by dimension value, preserving first-seen order.
func (c *Client) sessionsByDimension(ctx context.Context, date, dim string, sink *warningSink) ([]dimensionSessions, error) {
	dr := []dateRange{{StartDate: date, EndDate: date}}

	var order []string
	byName := make(map[string]*dimensionSessions)
	for _, funnel := range []struct {
		prefix string
		set    func(*dimensionSessions, int)
	}{
		{commodityPathPrefix, func(d *dimensionSessions, n int) { d.commodity = n }},
		{luceGasPathPrefix, func(d *dimensionSessions, n int) { d.luceGas = n }},
	} {
		resp, err := c.runReport(ctx, runReportRequest{
			Dimensions: []dimension{{Name: dim}},
			Metrics:    []metric{{Name: "sessions"}},
			DateRanges: dr,
			DimensionFilter: &filterExpression{AndGroup: &filterExpressionList{
				Expressions: []filterExpression{*pathPrefixFilter(funnel.prefix)},
			}},
		})
		if err != nil {
			return nil, err
		}
		for _, r := range resp.Rows {
			if len(r.DimensionValues) == 0 || len(r.MetricValues) == 0 {
				sink.add(dim, "row with missing cells for %s", date)
				continue
			}
			name := r.DimensionValues[0].Value
			if name == "" || name == "(not set)" {
				name = "unknown"
			}
			entry, ok := byName[name]
			if !ok {
				entry = &dimensionSessions{name: name}
				byName[name] = entry
				order = append(order, name)
			}
			funnel.set(entry, sink.intValue(dim+"."+name, r.MetricValues[0].Value))
		}
	}

	out := make([]dimensionSessions, 0, len(order))
	for _, name := range order {
		out = append(out, *byName[name])
	}
	return out, nil
}

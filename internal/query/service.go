// Package query serves read traffic for the dashboard. Single-day
// metric reads go through the recency cache; breakdowns and range
// queries always hit the durable store.
package query

import (
	"context"
	"errors"
	"fmt"

	"github.com/enersight/ga4-monitor/internal/domain"
	"github.com/enersight/ga4-monitor/internal/pkg/logger"
	"github.com/enersight/ga4-monitor/internal/store"
)

// ErrNotFound mirrors the store sentinel for handlers.
var ErrNotFound = store.ErrNotFound

// Store is the durable read surface the service needs.
type Store interface {
	GetDay(ctx context.Context, date string) (domain.DailyMetrics, error)
	GetRange(ctx context.Context, start, end string) ([]domain.DailyMetrics, error)
	Aggregate(ctx context.Context, start, end string) (store.RangeStats, error)
	Stats(ctx context.Context) (store.Statistics, error)
	ProductsByDate(ctx context.Context, date string) ([]domain.ProductRow, error)
	ProductsRange(ctx context.Context, start, end string) ([]domain.ProductRow, error)
	ChannelsByDate(ctx context.Context, date string) ([]domain.ChannelRow, error)
	ChannelsRange(ctx context.Context, start, end string) ([]domain.ChannelRow, error)
	CampaignsByDate(ctx context.Context, date string) ([]domain.CampaignRow, error)
	CampaignsRange(ctx context.Context, start, end string) ([]domain.CampaignRow, error)
	CommodityByDate(ctx context.Context, date string) ([]domain.CommodityRow, error)
	CommodityRange(ctx context.Context, start, end string) ([]domain.CommodityRow, error)
}

// Cache is the recency layer in front of single-day reads.
type Cache interface {
	Get(ctx context.Context, date string) (domain.DailyMetrics, error)
	Put(ctx context.Context, m domain.DailyMetrics) error
}

// Service answers dashboard queries.
type Service struct {
	store Store
	cache Cache
	log   *logger.Logger
}

// New assembles a query service.
func New(st Store, c Cache) *Service {
	return &Service{store: st, cache: c, log: logger.New("query")}
}

// Daily returns one day's metrics, cache first. A store hit after a
// cache miss repopulates the cache best-effort.
func (s *Service) Daily(ctx context.Context, date string) (domain.DailyMetrics, error) {
	if _, err := domain.ParseDate(date); err != nil {
		return domain.DailyMetrics{}, err
	}

	if m, err := s.cache.Get(ctx, date); err == nil {
		return m, nil
	}

	m, err := s.store.GetDay(ctx, date)
	if err != nil {
		return domain.DailyMetrics{}, err
	}
	if err := s.cache.Put(ctx, m); err != nil {
		s.log.Warn("cache repopulation failed", "date", date, "error", err)
	}
	return m, nil
}

// DailyReport bundles one day's metrics with all its breakdowns.
type DailyReport struct {
	Metrics   domain.DailyMetrics   `json:"metrics"`
	Products  []domain.ProductRow   `json:"products"`
	Channels  []domain.ChannelRow   `json:"channels"`
	Campaigns []domain.CampaignRow  `json:"campaigns"`
	Commodity []domain.CommodityRow `json:"commodity"`
}

// Report returns the full daily report. Breakdowns come straight from
// the store; missing breakdown rows are empty slices, not errors.
func (s *Service) Report(ctx context.Context, date string) (DailyReport, error) {
	m, err := s.Daily(ctx, date)
	if err != nil {
		return DailyReport{}, err
	}

	rep := DailyReport{Metrics: m}
	if rep.Products, err = s.store.ProductsByDate(ctx, date); err != nil {
		return DailyReport{}, err
	}
	if rep.Channels, err = s.store.ChannelsByDate(ctx, date); err != nil {
		return DailyReport{}, err
	}
	if rep.Campaigns, err = s.store.CampaignsByDate(ctx, date); err != nil {
		return DailyReport{}, err
	}
	if rep.Commodity, err = s.store.CommodityByDate(ctx, date); err != nil {
		return DailyReport{}, err
	}
	return rep, nil
}

// RangeResult is a metrics range with its aggregates. Only stored
// dates appear in Rows; gaps are not zero-filled, and Stats.Count
// reflects the rows actually present.
type RangeResult struct {
	Rows  []domain.DailyMetrics `json:"rows"`
	Stats store.RangeStats      `json:"stats"`
}

// MetricsRange returns rows and aggregates for [start, end].
func (s *Service) MetricsRange(ctx context.Context, start, end string) (RangeResult, error) {
	if _, err := domain.DateRange(start, end); err != nil {
		return RangeResult{}, err
	}

	rows, err := s.store.GetRange(ctx, start, end)
	if err != nil {
		return RangeResult{}, err
	}
	stats, err := s.store.Aggregate(ctx, start, end)
	if err != nil {
		return RangeResult{}, err
	}
	return RangeResult{Rows: rows, Stats: stats}, nil
}

// BreakdownDay returns one breakdown table for a single date.
func (s *Service) BreakdownDay(ctx context.Context, kind domain.BreakdownKind, date string) (interface{}, error) {
	if _, err := domain.ParseDate(date); err != nil {
		return nil, err
	}
	switch kind {
	case domain.BreakdownProduct:
		return s.store.ProductsByDate(ctx, date)
	case domain.BreakdownChannel:
		return s.store.ChannelsByDate(ctx, date)
	case domain.BreakdownCampaign:
		return s.store.CampaignsByDate(ctx, date)
	case domain.BreakdownCommodity:
		return s.store.CommodityByDate(ctx, date)
	}
	return nil, fmt.Errorf("unknown breakdown kind %q", kind)
}

// BreakdownRange returns one breakdown table across a date range.
func (s *Service) BreakdownRange(ctx context.Context, kind domain.BreakdownKind, start, end string) (interface{}, error) {
	if _, err := domain.DateRange(start, end); err != nil {
		return nil, err
	}
	switch kind {
	case domain.BreakdownProduct:
		return s.store.ProductsRange(ctx, start, end)
	case domain.BreakdownChannel:
		return s.store.ChannelsRange(ctx, start, end)
	case domain.BreakdownCampaign:
		return s.store.CampaignsRange(ctx, start, end)
	case domain.BreakdownCommodity:
		return s.store.CommodityRange(ctx, start, end)
	}
	return nil, fmt.Errorf("unknown breakdown kind %q", kind)
}

// Delta is a current-vs-reference metric comparison.
type Delta struct {
	Current float64 `json:"current"`
	Against float64 `json:"against"`
	// PercentChange is omitted when the reference value is zero.
	PercentChange *float64 `json:"percent_change,omitempty"`
}

func newDelta(current, against float64) Delta {
	d := Delta{Current: current, Against: against}
	if against != 0 {
		pc := (current - against) / against * 100
		d.PercentChange = &pc
	}
	return d
}

// Comparison contrasts one date's metrics against an earlier date.
// Available is false when the reference date has no stored row; the
// current side is still returned.
type Comparison struct {
	Date        string              `json:"date"`
	AgainstDate string              `json:"against_date"`
	Available   bool                `json:"available"`
	Current     domain.DailyMetrics `json:"current"`
	Deltas      map[string]Delta    `json:"deltas,omitempty"`
}

// Compare builds a comparison of date against date minus daysBack.
func (s *Service) Compare(ctx context.Context, date string, daysBack int) (Comparison, error) {
	if daysBack < 1 {
		return Comparison{}, fmt.Errorf("days_back must be positive, got %d", daysBack)
	}
	against, err := domain.ShiftDate(date, -daysBack)
	if err != nil {
		return Comparison{}, err
	}

	current, err := s.Daily(ctx, date)
	if err != nil {
		return Comparison{}, err
	}

	cmp := Comparison{Date: date, AgainstDate: against, Current: current}
	ref, err := s.Daily(ctx, against)
	if errors.Is(err, ErrNotFound) {
		return cmp, nil
	}
	if err != nil {
		return Comparison{}, err
	}

	cmp.Available = true
	cmp.Deltas = map[string]Delta{
		"sessioni_commodity": newDelta(float64(current.CommoditySessions), float64(ref.CommoditySessions)),
		"sessioni_lucegas":   newDelta(float64(current.LuceGasSessions), float64(ref.LuceGasSessions)),
		"swi_conversioni":    newDelta(float64(current.Conversions), float64(ref.Conversions)),
		"cr_commodity":       newDelta(current.CommodityCR, ref.CommodityCR),
		"cr_lucegas":         newDelta(current.LuceGasCR, ref.LuceGasCR),
		"cr_canalizzazione":  newDelta(current.FunnelCR, ref.FunnelCR),
		"start_funnel":       newDelta(float64(current.FunnelStarts), float64(ref.FunnelStarts)),
	}
	return cmp, nil
}

// Stats reports store contents for the stats endpoint.
func (s *Service) Stats(ctx context.Context) (store.Statistics, error) {
	return s.store.Stats(ctx)
}

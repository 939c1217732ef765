// Package domain holds the entity types shared by the extraction pipeline,
// the durable store, the recency cache and the query service.
package domain

import (
	"fmt"
	"time"
)

// DateFormat is the wire format for dates at every package boundary.
const DateFormat = "2006-01-02"

// DailyMetrics is one day's worth of extracted site metrics.
// There is at most one row per date.
type DailyMetrics struct {
	Date              string    `json:"date"`
	ExtractedAt       time.Time `json:"extraction_timestamp,omitempty"`
	CommoditySessions int       `json:"sessioni_commodity"`
	LuceGasSessions   int       `json:"sessioni_lucegas"`
	Conversions       int       `json:"swi_conversioni"`
	CommodityCR       float64   `json:"cr_commodity"`
	LuceGasCR         float64   `json:"cr_lucegas"`
	FunnelCR          float64   `json:"cr_canalizzazione"`
	FunnelStarts      int       `json:"start_funnel"`
}

// ProductRow is the per-product conversion split for one date.
// Percentage is the product's share of the day's total conversions.
type ProductRow struct {
	Date        string  `json:"date"`
	Product     string  `json:"product_name"`
	Conversions float64 `json:"total_conversions"`
	Percentage  float64 `json:"percentage"`
}

// ChannelRow is the per-channel session split for one date.
// Channel attribution stabilizes late upstream, so these rows are
// extracted with a fixed reporting delay relative to DailyMetrics.
type ChannelRow struct {
	Date              string `json:"date"`
	Channel           string `json:"channel"`
	CommoditySessions int    `json:"commodity_sessions"`
	LuceGasSessions   int    `json:"lucegas_sessions"`
}

// CampaignRow is the per-campaign session split for one date.
// Same delayed-availability characteristic as ChannelRow.
type CampaignRow struct {
	Date              string `json:"date"`
	Campaign          string `json:"campaign"`
	CommoditySessions int    `json:"commodity_sessions"`
	LuceGasSessions   int    `json:"lucegas_sessions"`
}

// CommodityRow is the per-commodity-type (dual/luce/gas) conversion
// split for one date.
type CommodityRow struct {
	Date          string `json:"date"`
	CommodityType string `json:"commodity_type"`
	Conversions   int    `json:"conversions"`
}

// BreakdownKind names a categorical axis along which daily totals are split.
type BreakdownKind string

const (
	BreakdownProduct   BreakdownKind = "product"
	BreakdownChannel   BreakdownKind = "channel"
	BreakdownCampaign  BreakdownKind = "campaign"
	BreakdownCommodity BreakdownKind = "commodity"
)

// ParseBreakdownKind validates a breakdown kind string.
func ParseBreakdownKind(s string) (BreakdownKind, error) {
	switch BreakdownKind(s) {
	case BreakdownProduct, BreakdownChannel, BreakdownCampaign, BreakdownCommodity:
		return BreakdownKind(s), nil
	}
	return "", fmt.Errorf("unknown breakdown kind %q", s)
}

// Warning records a data-quality anomaly observed while parsing a source
// response. Warnings travel with results instead of aborting ingestion,
// because a partial daily report is more useful than none.
type Warning struct {
	Field  string `json:"field"`
	Detail string `json:"detail"`
}

func (w Warning) String() string { return w.Field + ": " + w.Detail }

package ga4

import (
	"fmt"
	"strconv"

	"github.com/enersight/ga4-monitor/internal/domain"
)

// runReport wire types for the Analytics Data API v1beta. Only the
// fields this pipeline uses are modeled.

type runReportRequest struct {
	Dimensions      []dimension       `json:"dimensions,omitempty"`
	Metrics         []metric          `json:"metrics"`
	DateRanges      []dateRange       `json:"dateRanges"`
	DimensionFilter *filterExpression `json:"dimensionFilter,omitempty"`
	Limit           string            `json:"limit,omitempty"`
}

type dimension struct {
	Name string `json:"name"`
}

type metric struct {
	Name string `json:"name"`
}

type dateRange struct {
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
}

type filterExpression struct {
	AndGroup *filterExpressionList `json:"andGroup,omitempty"`
	Filter   *dimensionFilter      `json:"filter,omitempty"`
}

type filterExpressionList struct {
	Expressions []filterExpression `json:"expressions"`
}

type dimensionFilter struct {
	FieldName    string        `json:"fieldName"`
	StringFilter *stringFilter `json:"stringFilter,omitempty"`
}

type stringFilter struct {
	MatchType string `json:"matchType"`
	Value     string `json:"value"`
}

type runReportResponse struct {
	DimensionHeaders []header    `json:"dimensionHeaders"`
	MetricHeaders    []header    `json:"metricHeaders"`
	Rows             []reportRow `json:"rows"`
	RowCount         int         `json:"rowCount"`
}

type header struct {
	Name string `json:"name"`
}

type reportRow struct {
	DimensionValues []cellValue `json:"dimensionValues"`
	MetricValues    []cellValue `json:"metricValues"`
}

type cellValue struct {
	Value string `json:"value"`
}

func pathPrefixFilter(prefix string) *filterExpression {
	return &filterExpression{Filter: &dimensionFilter{
		FieldName:    "pagePathPlusQueryString",
		StringFilter: &stringFilter{MatchType: "BEGINS_WITH", Value: prefix},
	}}
}

// warningSink collects parse anomalies without aborting a report.
type warningSink struct {
	warnings []domain.Warning
}

func (w *warningSink) add(field, format string, args ...interface{}) {
	w.warnings = append(w.warnings, domain.Warning{Field: field, Detail: fmt.Sprintf(format, args...)})
}

// intValue parses a metric cell as an integer, recording a warning and
// returning 0 on malformed input.
func (w *warningSink) intValue(field, raw string) int {
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		// some metrics come back as "12.0"
		if f, ferr := strconv.ParseFloat(raw, 64); ferr == nil {
			return int(f)
		}
		w.add(field, "unparseable metric value %q", raw)
		return 0
	}
	return n
}

// floatValue parses a metric cell as a float, recording a warning and
// returning 0 on malformed input.
func (w *warningSink) floatValue(field, raw string) float64 {
	if raw == "" {
		return 0
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		w.add(field, "unparseable metric value %q", raw)
		return 0
	}
	return f
}

// singleMetric extracts the first metric cell of the first row; an
// empty report is a legitimate zero.
func (w *warningSink) singleMetric(field string, resp *runReportResponse) int {
	if resp == nil || len(resp.Rows) == 0 || len(resp.Rows[0].MetricValues) == 0 {
		return 0
	}
	return w.intValue(field, resp.Rows[0].MetricValues[0].Value)
}

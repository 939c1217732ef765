// Package ingest coordinates extraction runs: fetch a day from the
// source, validate it, persist it durably, then refresh the recency
// cache. The durable store is the source of truth; cache failures
// never fail a run.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/google/uuid"

	"github.com/enersight/ga4-monitor/internal/domain"
	"github.com/enersight/ga4-monitor/internal/ga4"
	"github.com/enersight/ga4-monitor/internal/pkg/logger"
	"github.com/enersight/ga4-monitor/internal/store"
)

// Source is the extraction side of the pipeline.
type Source interface {
	FetchDay(ctx context.Context, date string) (*ga4.DayReport, error)
	FetchChannels(ctx context.Context, date string) ([]domain.ChannelRow, []domain.Warning, error)
	FetchCampaigns(ctx context.Context, date string) ([]domain.CampaignRow, []domain.Warning, error)
}

// Store is the durable side of the pipeline.
type Store interface {
	Exists(ctx context.Context, date string) (bool, error)
	LatestDate(ctx context.Context) (string, error)
	ExistingDates(ctx context.Context, start, end string) (map[string]bool, error)
	BreakdownDates(ctx context.Context, kind domain.BreakdownKind, start, end string) (map[string]bool, error)
	UpsertDailyMetrics(ctx context.Context, m domain.DailyMetrics) error
	ReplaceProducts(ctx context.Context, date string, rows []domain.ProductRow) error
	ReplaceChannels(ctx context.Context, date string, rows []domain.ChannelRow) error
	ReplaceCampaigns(ctx context.Context, date string, rows []domain.CampaignRow) error
	ReplaceCommodity(ctx context.Context, date string, rows []domain.CommodityRow) error
}

// Cache is the write-through recency layer.
type Cache interface {
	Put(ctx context.Context, m domain.DailyMetrics) error
}

// Outcome is the terminal state of one date's run.
type Outcome string

const (
	OutcomeDone    Outcome = "done"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

// Result reports what happened to a single date.
type Result struct {
	Date     string           `json:"date"`
	Outcome  Outcome          `json:"outcome"`
	Rows     int              `json:"rows"`
	Warnings []domain.Warning `json:"warnings,omitempty"`
	Err      error            `json:"-"`
	Error    string           `json:"error,omitempty"`
}

// Summary aggregates a multi-date run.
type Summary struct {
	Total   int      `json:"total"`
	Done    int      `json:"done"`
	Skipped int      `json:"skipped"`
	Failed  int      `json:"failed"`
	Results []Result `json:"results"`
}

// Orchestrator drives extraction runs end to end.
type Orchestrator struct {
	source    Source
	store     Store
	cache     Cache
	delayDays int
	log       *logger.Logger
}

// New assembles an orchestrator. delayDays is the reporting delay for
// channel and campaign attribution; values below 1 fall back to 2.
func New(source Source, store Store, cache Cache, delayDays int) *Orchestrator {
	if delayDays < 1 {
		delayDays = 2
	}
	return &Orchestrator{
		source:    source,
		store:     store,
		cache:     cache,
		delayDays: delayDays,
		log:       logger.New("ingest"),
	}
}

// validateTarget rejects malformed dates and dates the source cannot
// report on yet (today and later).
func validateTarget(date string) error {
	if _, err := domain.ParseDate(date); err != nil {
		return err
	}
	if date > domain.Yesterday() {
		return fmt.Errorf("date %s is not yet extractable (latest is %s)", date, domain.Yesterday())
	}
	return nil
}

// RunDate extracts, persists and caches one date. With force false, a
// date already in the store is skipped without touching the source.
func (o *Orchestrator) RunDate(ctx context.Context, date string, force bool) Result {
	runID := uuid.NewString()
	log := o.log
	log.Info("extraction run starting", "run_id", runID, "date", date, "force", force, "state", "pending")

	if err := validateTarget(date); err != nil {
		return o.failed(runID, date, err)
	}

	if !force {
		exists, err := o.store.Exists(ctx, date)
		if err != nil {
			return o.failed(runID, date, fmt.Errorf("checking store: %w", err))
		}
		if exists {
			log.Info("date already stored, skipping", "run_id", runID, "date", date, "state", "skipped")
			return Result{Date: date, Outcome: OutcomeSkipped}
		}
	}

	log.Debug("fetching from source", "run_id", runID, "date", date, "state", "fetching")
	rep, err := o.source.FetchDay(ctx, date)
	if err != nil {
		return o.failed(runID, date, fmt.Errorf("fetching %s: %w", date, err))
	}

	log.Debug("validating report", "run_id", runID, "date", date, "state", "validating")
	warnings := append(rep.Warnings, validateReport(rep)...)

	log.Debug("persisting", "run_id", runID, "date", date, "state", "persisting")
	if err := o.store.UpsertDailyMetrics(ctx, rep.Metrics); err != nil {
		return o.failed(runID, date, err)
	}
	if err := o.store.ReplaceProducts(ctx, date, rep.Products); err != nil {
		return o.failed(runID, date, err)
	}
	if err := o.store.ReplaceCommodity(ctx, date, rep.Commodity); err != nil {
		return o.failed(runID, date, err)
	}

	if err := o.cache.Put(ctx, rep.Metrics); err != nil {
		// store write already succeeded, readers fall back to it
		log.Warn("cache refresh failed", "run_id", runID, "date", date, "error", err)
	}

	rows := 1 + len(rep.Products) + len(rep.Commodity)
	log.Info("extraction run complete", "run_id", runID, "date", date,
		"rows", rows, "warnings", len(warnings), "state", "done")
	return Result{Date: date, Outcome: OutcomeDone, Rows: rows, Warnings: warnings}
}

func (o *Orchestrator) failed(runID, date string, err error) Result {
	o.log.Error("extraction run failed", "run_id", runID, "date", date, "error", err, "state", "failed")
	return Result{Date: date, Outcome: OutcomeFailed, Err: err, Error: err.Error()}
}

// validateReport checks cross-field consistency; anomalies become
// warnings, never failures.
func validateReport(rep *ga4.DayReport) []domain.Warning {
	var out []domain.Warning
	m := rep.Metrics
	if m.CommoditySessions < 0 || m.LuceGasSessions < 0 || m.Conversions < 0 || m.FunnelStarts < 0 {
		out = append(out, domain.Warning{Field: "daily", Detail: "negative metric value"})
	}
	if len(rep.Products) > 0 {
		var sum float64
		for _, p := range rep.Products {
			sum += p.Percentage
		}
		if math.Abs(sum-100) > 0.5 {
			out = append(out, domain.Warning{
				Field:  "products",
				Detail: fmt.Sprintf("percentages sum to %.2f", sum),
			})
		}
	}
	return out
}

// RunYesterday runs the default daily extraction target.
func (o *Orchestrator) RunYesterday(ctx context.Context, force bool) Result {
	return o.RunDate(ctx, domain.Yesterday(), force)
}

// RangeOptions tunes a backfill.
type RangeOptions struct {
	// Force re-extracts dates already stored.
	Force bool
	// IncludeChannels also refreshes the delayed channel and campaign
	// splits for dates old enough for attribution to have stabilized.
	IncludeChannels bool
}

// RunRange backfills every date in [start, end]. Failures are
// isolated per date: one bad day never stops the rest.
func (o *Orchestrator) RunRange(ctx context.Context, start, end string, force bool) (Summary, error) {
	return o.Backfill(ctx, start, end, RangeOptions{Force: force})
}

// Backfill runs RunRange semantics with full options.
func (o *Orchestrator) Backfill(ctx context.Context, start, end string, opts RangeOptions) (Summary, error) {
	dates, err := domain.DateRange(start, end)
	if err != nil {
		return Summary{}, err
	}

	delayCutoff := domain.DaysAgo(o.delayDays)
	sum := Summary{Total: len(dates)}
	for _, date := range dates {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		res := o.RunDate(ctx, date, opts.Force)

		if opts.IncludeChannels && res.Outcome != OutcomeFailed && date <= delayCutoff {
			delayed, err := o.RunDelayedFor(ctx, date)
			if err != nil {
				// daily row is already durable, channel refresh can rerun
				res.Warnings = append(res.Warnings, domain.Warning{
					Field: "channels", Detail: err.Error(),
				})
			} else {
				res.Rows += delayed.Rows
				res.Warnings = append(res.Warnings, delayed.Warnings...)
			}
		}

		sum.Results = append(sum.Results, res)
		switch res.Outcome {
		case OutcomeDone:
			sum.Done++
		case OutcomeSkipped:
			sum.Skipped++
		case OutcomeFailed:
			sum.Failed++
		}
	}
	o.log.Info("backfill complete", "total", sum.Total,
		"done", sum.Done, "skipped", sum.Skipped, "failed", sum.Failed)
	return sum, nil
}

// CatchUp backfills from the day after the latest stored date through
// yesterday, the usual recovery after the daily cron has been down for
// a while. An empty store has no anchor to resume from and needs an
// explicit backfill range instead.
func (o *Orchestrator) CatchUp(ctx context.Context, opts RangeOptions) (Summary, error) {
	latest, err := o.store.LatestDate(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Summary{}, fmt.Errorf("store is empty, run an explicit backfill first")
		}
		return Summary{}, err
	}

	start, err := domain.ShiftDate(latest, 1)
	if err != nil {
		return Summary{}, err
	}
	end := domain.Yesterday()
	if start > end {
		o.log.Info("store already current", "latest", latest)
		return Summary{}, nil
	}
	return o.Backfill(ctx, start, end, opts)
}

// RunDelayed extracts the channel and campaign splits for the date the
// reporting delay has just uncovered (today minus delayDays).
func (o *Orchestrator) RunDelayed(ctx context.Context) (Result, error) {
	return o.RunDelayedFor(ctx, domain.DaysAgo(o.delayDays))
}

// RunDelayedFor extracts the delayed dimensional splits for one date.
// The date must be old enough for attribution to have stabilized.
func (o *Orchestrator) RunDelayedFor(ctx context.Context, date string) (Result, error) {
	if err := validateTarget(date); err != nil {
		return Result{}, err
	}
	if date > domain.DaysAgo(o.delayDays) {
		return Result{}, fmt.Errorf("date %s is inside the %d-day reporting delay", date, o.delayDays)
	}

	runID := uuid.NewString()
	o.log.Info("delayed extraction starting", "run_id", runID, "date", date)

	channels, chWarn, err := o.source.FetchChannels(ctx, date)
	if err != nil {
		return o.failed(runID, date, err), err
	}
	campaigns, cpWarn, err := o.source.FetchCampaigns(ctx, date)
	if err != nil {
		return o.failed(runID, date, err), err
	}

	if err := o.store.ReplaceChannels(ctx, date, channels); err != nil {
		return o.failed(runID, date, err), err
	}
	if err := o.store.ReplaceCampaigns(ctx, date, campaigns); err != nil {
		return o.failed(runID, date, err), err
	}

	warnings := append(chWarn, cpWarn...)
	rows := len(channels) + len(campaigns)
	o.log.Info("delayed extraction complete", "run_id", runID, "date", date, "rows", rows)
	return Result{Date: date, Outcome: OutcomeDone, Rows: rows, Warnings: warnings}, nil
}

// TableAlignment is one table's coverage of a calendar window.
type TableAlignment struct {
	Expected int      `json:"expected"`
	Present  int      `json:"present"`
	Missing  []string `json:"missing,omitempty"`
}

// AlignmentReport compares the daily table and the delayed breakdown
// tables against the calendar window. The channel and campaign windows
// are clipped to the reporting delay; dates still inside it are not
// counted as missing.
type AlignmentReport struct {
	Start     string         `json:"start_date"`
	End       string         `json:"end_date"`
	Daily     TableAlignment `json:"daily_metrics"`
	Channels  TableAlignment `json:"sessions_by_channel"`
	Campaigns TableAlignment `json:"sessions_by_campaign"`
}

func tableAlignment(dates []string, present map[string]bool) TableAlignment {
	ta := TableAlignment{Expected: len(dates)}
	for _, d := range dates {
		if present[d] {
			ta.Present++
			continue
		}
		ta.Missing = append(ta.Missing, d)
	}
	return ta
}

// Alignment reports per-table coverage of [start, end].
func (o *Orchestrator) Alignment(ctx context.Context, start, end string) (AlignmentReport, error) {
	dates, err := domain.DateRange(start, end)
	if err != nil {
		return AlignmentReport{}, err
	}

	rep := AlignmentReport{Start: start, End: end}

	present, err := o.store.ExistingDates(ctx, start, end)
	if err != nil {
		return AlignmentReport{}, err
	}
	rep.Daily = tableAlignment(dates, present)

	delayEnd := domain.DaysAgo(o.delayDays)
	if delayEnd < start {
		return rep, nil
	}
	delayed := dates
	if end > delayEnd {
		cut, err := domain.DateRange(start, delayEnd)
		if err != nil {
			return AlignmentReport{}, err
		}
		delayed = cut
	}

	channels, err := o.store.BreakdownDates(ctx, domain.BreakdownChannel, start, delayEnd)
	if err != nil {
		return AlignmentReport{}, err
	}
	rep.Channels = tableAlignment(delayed, channels)

	campaigns, err := o.store.BreakdownDates(ctx, domain.BreakdownCampaign, start, delayEnd)
	if err != nil {
		return AlignmentReport{}, err
	}
	rep.Campaigns = tableAlignment(delayed, campaigns)
	return rep, nil
}

// SyncMissing fills the gaps Alignment found: missing daily dates are
// extracted in full, and dates missing only their channel or campaign
// split get a delayed re-run. Usual per-date failure isolation.
func (o *Orchestrator) SyncMissing(ctx context.Context, start, end string) (Summary, error) {
	rep, err := o.Alignment(ctx, start, end)
	if err != nil {
		return Summary{}, err
	}

	var sum Summary
	record := func(res Result) {
		sum.Results = append(sum.Results, res)
		switch res.Outcome {
		case OutcomeDone:
			sum.Done++
		case OutcomeSkipped:
			sum.Skipped++
		case OutcomeFailed:
			sum.Failed++
		}
	}

	for _, date := range rep.Daily.Missing {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		record(o.RunDate(ctx, date, false))
	}

	// one delayed run refreshes both splits for a date
	delayedDates := make(map[string]bool)
	for _, d := range rep.Channels.Missing {
		delayedDates[d] = true
	}
	for _, d := range rep.Campaigns.Missing {
		delayedDates[d] = true
	}
	for _, date := range sortedKeys(delayedDates) {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		res, err := o.RunDelayedFor(ctx, date)
		if err != nil {
			record(Result{Date: date, Outcome: OutcomeFailed, Err: err, Error: err.Error()})
			continue
		}
		record(res)
	}

	sum.Total = len(sum.Results)
	return sum, nil
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

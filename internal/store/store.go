// Package store implements the durable relational layer over
// database/sql, supporting PostgreSQL and SQLite through a small
// dialect abstraction.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/enersight/ga4-monitor/internal/domain"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Store provides durable persistence for daily metrics and their
// breakdown tables.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

// New wraps an open database handle.
func New(db *sql.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

// Open connects to the configured engine and verifies the connection.
func Open(ctx context.Context, dialect Dialect, dsn string, maxOpen, maxIdle int) (*Store, error) {
	db, err := sql.Open(dialect.Driver(), dsn)
	if err != nil {
		return nil, fmt.Errorf("opening %s database: %w", dialect.Name(), err)
	}
	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
	}
	if maxIdle > 0 {
		db.SetMaxIdleConns(maxIdle)
	}
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging %s database: %w", dialect.Name(), err)
	}
	return New(db, dialect), nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying handle for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// EnsureSchema creates all tables and indexes if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range s.dialect.Schema() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensuring schema: %w", err)
		}
	}
	return nil
}

// UpsertDailyMetrics inserts or replaces the single row for m.Date.
// Re-running an extraction for a date never produces duplicates.
func (s *Store) UpsertDailyMetrics(ctx context.Context, m domain.DailyMetrics) error {
	extractedAt := m.ExtractedAt
	if extractedAt.IsZero() {
		extractedAt = time.Now().UTC()
	}
	query := s.dialect.Rebind(`INSERT INTO daily_metrics
		(date, extraction_timestamp, sessioni_commodity, sessioni_lucegas,
		 swi_conversioni, cr_commodity, cr_lucegas, cr_canalizzazione, start_funnel)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (date) DO UPDATE SET
			extraction_timestamp = excluded.extraction_timestamp,
			sessioni_commodity = excluded.sessioni_commodity,
			sessioni_lucegas = excluded.sessioni_lucegas,
			swi_conversioni = excluded.swi_conversioni,
			cr_commodity = excluded.cr_commodity,
			cr_lucegas = excluded.cr_lucegas,
			cr_canalizzazione = excluded.cr_canalizzazione,
			start_funnel = excluded.start_funnel`)
	_, err := s.db.ExecContext(ctx, query,
		m.Date, extractedAt, m.CommoditySessions, m.LuceGasSessions,
		m.Conversions, m.CommodityCR, m.LuceGasCR, m.FunnelCR, m.FunnelStarts)
	if err != nil {
		return fmt.Errorf("upserting daily metrics for %s: %w", m.Date, err)
	}
	return nil
}

// replaceForDate atomically swaps all breakdown rows for one date.
func (s *Store) replaceForDate(ctx context.Context, table, date, insert string, rows [][]any) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	del := s.dialect.Rebind(fmt.Sprintf("DELETE FROM %s WHERE date = ?", table))
	if _, err := tx.ExecContext(ctx, del, date); err != nil {
		return fmt.Errorf("clearing %s for %s: %w", table, date, err)
	}
	ins := s.dialect.Rebind(insert)
	for _, args := range rows {
		if _, err := tx.ExecContext(ctx, ins, args...); err != nil {
			return fmt.Errorf("inserting into %s for %s: %w", table, date, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing %s for %s: %w", table, date, err)
	}
	return nil
}

// ReplaceProducts replaces the product breakdown for one date.
func (s *Store) ReplaceProducts(ctx context.Context, date string, rows []domain.ProductRow) error {
	args := make([][]any, 0, len(rows))
	for _, r := range rows {
		args = append(args, []any{date, r.Product, r.Conversions, r.Percentage})
	}
	return s.replaceForDate(ctx, "products_performance", date,
		`INSERT INTO products_performance (date, product_name, total_conversions, percentage)
		 VALUES (?, ?, ?, ?)`, args)
}

// ReplaceChannels replaces the channel breakdown for one date.
func (s *Store) ReplaceChannels(ctx context.Context, date string, rows []domain.ChannelRow) error {
	args := make([][]any, 0, len(rows))
	for _, r := range rows {
		args = append(args, []any{date, r.Channel, r.CommoditySessions, r.LuceGasSessions})
	}
	return s.replaceForDate(ctx, "sessions_by_channel", date,
		`INSERT INTO sessions_by_channel (date, channel, commodity_sessions, lucegas_sessions)
		 VALUES (?, ?, ?, ?)`, args)
}

// ReplaceCampaigns replaces the campaign breakdown for one date.
func (s *Store) ReplaceCampaigns(ctx context.Context, date string, rows []domain.CampaignRow) error {
	args := make([][]any, 0, len(rows))
	for _, r := range rows {
		args = append(args, []any{date, r.Campaign, r.CommoditySessions, r.LuceGasSessions})
	}
	return s.replaceForDate(ctx, "sessions_by_campaign", date,
		`INSERT INTO sessions_by_campaign (date, campaign, commodity_sessions, lucegas_sessions)
		 VALUES (?, ?, ?, ?)`, args)
}

// ReplaceCommodity replaces the commodity-type breakdown for one date.
func (s *Store) ReplaceCommodity(ctx context.Context, date string, rows []domain.CommodityRow) error {
	args := make([][]any, 0, len(rows))
	for _, r := range rows {
		args = append(args, []any{date, r.CommodityType, r.Conversions})
	}
	return s.replaceForDate(ctx, "swi_by_commodity", date,
		`INSERT INTO swi_by_commodity (date, commodity_type, conversions)
		 VALUES (?, ?, ?)`, args)
}

const dailyColumns = `date, extraction_timestamp, sessioni_commodity, sessioni_lucegas,
	swi_conversioni, cr_commodity, cr_lucegas, cr_canalizzazione, start_funnel`

func scanDaily(row interface{ Scan(...any) error }) (domain.DailyMetrics, error) {
	var m domain.DailyMetrics
	var extractedAt sql.NullTime
	err := row.Scan(&m.Date, &extractedAt, &m.CommoditySessions, &m.LuceGasSessions,
		&m.Conversions, &m.CommodityCR, &m.LuceGasCR, &m.FunnelCR, &m.FunnelStarts)
	if err != nil {
		return domain.DailyMetrics{}, err
	}
	if extractedAt.Valid {
		m.ExtractedAt = extractedAt.Time
	}
	return m, nil
}

// GetDay returns the metrics row for one date, or ErrNotFound.
func (s *Store) GetDay(ctx context.Context, date string) (domain.DailyMetrics, error) {
	query := s.dialect.Rebind("SELECT " + dailyColumns + " FROM daily_metrics WHERE date = ?")
	m, err := scanDaily(s.db.QueryRowContext(ctx, query, date))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.DailyMetrics{}, ErrNotFound
	}
	if err != nil {
		return domain.DailyMetrics{}, fmt.Errorf("getting metrics for %s: %w", date, err)
	}
	return m, nil
}

// Exists reports whether a metrics row is present for date.
func (s *Store) Exists(ctx context.Context, date string) (bool, error) {
	query := s.dialect.Rebind("SELECT 1 FROM daily_metrics WHERE date = ?")
	var one int
	err := s.db.QueryRowContext(ctx, query, date).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking presence of %s: %w", date, err)
	}
	return true, nil
}

// GetRange returns rows with start <= date <= end in ascending date
// order. Dates with no row are simply absent; no zero-filling.
func (s *Store) GetRange(ctx context.Context, start, end string) ([]domain.DailyMetrics, error) {
	query := s.dialect.Rebind("SELECT " + dailyColumns +
		" FROM daily_metrics WHERE date >= ? AND date <= ? ORDER BY date ASC")
	rows, err := s.db.QueryContext(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("querying metrics range: %w", err)
	}
	defer rows.Close()

	var out []domain.DailyMetrics
	for rows.Next() {
		m, err := scanDaily(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning metrics row: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating metrics range: %w", err)
	}
	return out, nil
}

// ExistingDates returns the set of dates in [start, end] that have a
// metrics row.
func (s *Store) ExistingDates(ctx context.Context, start, end string) (map[string]bool, error) {
	query := s.dialect.Rebind("SELECT date FROM daily_metrics WHERE date >= ? AND date <= ?")
	rows, err := s.db.QueryContext(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("querying existing dates: %w", err)
	}
	defer rows.Close()

	present := make(map[string]bool)
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("scanning date: %w", err)
		}
		present[d] = true
	}
	return present, rows.Err()
}

// LatestDate returns the most recent stored date, or ErrNotFound when
// the store is empty.
func (s *Store) LatestDate(ctx context.Context) (string, error) {
	var d sql.NullString
	err := s.db.QueryRowContext(ctx, "SELECT MAX(date) FROM daily_metrics").Scan(&d)
	if err != nil {
		return "", fmt.Errorf("querying latest date: %w", err)
	}
	if !d.Valid {
		return "", ErrNotFound
	}
	return d.String, nil
}

// RangeStats aggregates a metrics range: row count, per-metric
// averages, and session extremes. Only stored rows contribute.
type RangeStats struct {
	Count                int     `json:"count"`
	AvgCommoditySessions float64 `json:"avg_sessioni_commodity"`
	AvgLuceGasSessions   float64 `json:"avg_sessioni_lucegas"`
	AvgConversions       float64 `json:"avg_swi_conversioni"`
	AvgCommodityCR       float64 `json:"avg_cr_commodity"`
	AvgLuceGasCR         float64 `json:"avg_cr_lucegas"`
	AvgFunnelCR          float64 `json:"avg_cr_canalizzazione"`
	MinCommoditySessions int     `json:"min_sessioni_commodity"`
	MaxCommoditySessions int     `json:"max_sessioni_commodity"`
}

// Aggregate computes RangeStats over [start, end].
func (s *Store) Aggregate(ctx context.Context, start, end string) (RangeStats, error) {
	query := s.dialect.Rebind(`SELECT COUNT(*),
		COALESCE(AVG(sessioni_commodity), 0), COALESCE(AVG(sessioni_lucegas), 0),
		COALESCE(AVG(swi_conversioni), 0), COALESCE(AVG(cr_commodity), 0),
		COALESCE(AVG(cr_lucegas), 0), COALESCE(AVG(cr_canalizzazione), 0),
		COALESCE(MIN(sessioni_commodity), 0), COALESCE(MAX(sessioni_commodity), 0)
		FROM daily_metrics WHERE date >= ? AND date <= ?`)
	var st RangeStats
	err := s.db.QueryRowContext(ctx, query, start, end).Scan(&st.Count,
		&st.AvgCommoditySessions, &st.AvgLuceGasSessions, &st.AvgConversions,
		&st.AvgCommodityCR, &st.AvgLuceGasCR, &st.AvgFunnelCR,
		&st.MinCommoditySessions, &st.MaxCommoditySessions)
	if err != nil {
		return RangeStats{}, fmt.Errorf("aggregating metrics range: %w", err)
	}
	return st, nil
}

// Statistics summarizes store contents for the stats endpoint.
type Statistics struct {
	Engine       string         `json:"engine"`
	TotalDays    int            `json:"total_days"`
	EarliestDate string         `json:"earliest_date,omitempty"`
	LatestDate   string         `json:"latest_date,omitempty"`
	Overall      RangeStats     `json:"overall"`
	TableRows    map[string]int `json:"table_rows"`
}

// Stats reports row counts, the covered date span and the all-time
// metric averages.
func (s *Store) Stats(ctx context.Context) (Statistics, error) {
	st := Statistics{Engine: s.dialect.Name(), TableRows: make(map[string]int)}

	var earliest, latest sql.NullString
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*), MIN(date), MAX(date) FROM daily_metrics").
		Scan(&st.TotalDays, &earliest, &latest)
	if err != nil {
		return Statistics{}, fmt.Errorf("querying daily stats: %w", err)
	}
	st.EarliestDate = earliest.String
	st.LatestDate = latest.String

	if st.TotalDays > 0 {
		if st.Overall, err = s.Aggregate(ctx, st.EarliestDate, st.LatestDate); err != nil {
			return Statistics{}, err
		}
	}

	for _, table := range []string{
		"daily_metrics", "products_performance",
		"sessions_by_channel", "sessions_by_campaign", "swi_by_commodity",
	} {
		var n int
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
			return Statistics{}, fmt.Errorf("counting %s: %w", table, err)
		}
		st.TableRows[table] = n
	}
	return st, nil
}

var breakdownTables = map[domain.BreakdownKind]string{
	domain.BreakdownProduct:   "products_performance",
	domain.BreakdownChannel:   "sessions_by_channel",
	domain.BreakdownCampaign:  "sessions_by_campaign",
	domain.BreakdownCommodity: "swi_by_commodity",
}

// BreakdownDates returns the set of dates in [start, end] that have
// rows in the given breakdown table.
func (s *Store) BreakdownDates(ctx context.Context, kind domain.BreakdownKind, start, end string) (map[string]bool, error) {
	table, ok := breakdownTables[kind]
	if !ok {
		return nil, fmt.Errorf("unknown breakdown kind %q", kind)
	}
	query := s.dialect.Rebind(
		"SELECT DISTINCT date FROM " + table + " WHERE date >= ? AND date <= ?")
	rows, err := s.db.QueryContext(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("querying %s dates: %w", table, err)
	}
	defer rows.Close()

	present := make(map[string]bool)
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("scanning date: %w", err)
		}
		present[d] = true
	}
	return present, rows.Err()
}

// ProductsByDate returns the product breakdown for one date.
func (s *Store) ProductsByDate(ctx context.Context, date string) ([]domain.ProductRow, error) {
	return s.queryProducts(ctx,
		"SELECT date, product_name, total_conversions, percentage FROM products_performance WHERE date = ? ORDER BY total_conversions DESC",
		date)
}

// ProductsRange returns product rows across [start, end].
func (s *Store) ProductsRange(ctx context.Context, start, end string) ([]domain.ProductRow, error) {
	return s.queryProducts(ctx,
		"SELECT date, product_name, total_conversions, percentage FROM products_performance WHERE date >= ? AND date <= ? ORDER BY date ASC, total_conversions DESC",
		start, end)
}

func (s *Store) queryProducts(ctx context.Context, query string, args ...any) ([]domain.ProductRow, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("querying products: %w", err)
	}
	defer rows.Close()

	var out []domain.ProductRow
	for rows.Next() {
		var r domain.ProductRow
		if err := rows.Scan(&r.Date, &r.Product, &r.Conversions, &r.Percentage); err != nil {
			return nil, fmt.Errorf("scanning product row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ChannelsByDate returns the channel breakdown for one date.
func (s *Store) ChannelsByDate(ctx context.Context, date string) ([]domain.ChannelRow, error) {
	return s.queryChannels(ctx,
		"SELECT date, channel, commodity_sessions, lucegas_sessions FROM sessions_by_channel WHERE date = ? ORDER BY commodity_sessions DESC",
		date)
}

// ChannelsRange returns channel rows across [start, end].
func (s *Store) ChannelsRange(ctx context.Context, start, end string) ([]domain.ChannelRow, error) {
	return s.queryChannels(ctx,
		"SELECT date, channel, commodity_sessions, lucegas_sessions FROM sessions_by_channel WHERE date >= ? AND date <= ? ORDER BY date ASC, commodity_sessions DESC",
		start, end)
}

func (s *Store) queryChannels(ctx context.Context, query string, args ...any) ([]domain.ChannelRow, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("querying channels: %w", err)
	}
	defer rows.Close()

	var out []domain.ChannelRow
	for rows.Next() {
		var r domain.ChannelRow
		if err := rows.Scan(&r.Date, &r.Channel, &r.CommoditySessions, &r.LuceGasSessions); err != nil {
			return nil, fmt.Errorf("scanning channel row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CampaignsByDate returns the campaign breakdown for one date.
func (s *Store) CampaignsByDate(ctx context.Context, date string) ([]domain.CampaignRow, error) {
	return s.queryCampaigns(ctx,
		"SELECT date, campaign, commodity_sessions, lucegas_sessions FROM sessions_by_campaign WHERE date = ? ORDER BY commodity_sessions DESC",
		date)
}

// CampaignsRange returns campaign rows across [start, end].
func (s *Store) CampaignsRange(ctx context.Context, start, end string) ([]domain.CampaignRow, error) {
	return s.queryCampaigns(ctx,
		"SELECT date, campaign, commodity_sessions, lucegas_sessions FROM sessions_by_campaign WHERE date >= ? AND date <= ? ORDER BY date ASC, commodity_sessions DESC",
		start, end)
}

func (s *Store) queryCampaigns(ctx context.Context, query string, args ...any) ([]domain.CampaignRow, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("querying campaigns: %w", err)
	}
	defer rows.Close()

	var out []domain.CampaignRow
	for rows.Next() {
		var r domain.CampaignRow
		if err := rows.Scan(&r.Date, &r.Campaign, &r.CommoditySessions, &r.LuceGasSessions); err != nil {
			return nil, fmt.Errorf("scanning campaign row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CommodityByDate returns the commodity-type breakdown for one date.
func (s *Store) CommodityByDate(ctx context.Context, date string) ([]domain.CommodityRow, error) {
	return s.queryCommodity(ctx,
		"SELECT date, commodity_type, conversions FROM swi_by_commodity WHERE date = ? ORDER BY conversions DESC",
		date)
}

// CommodityRange returns commodity rows across [start, end].
func (s *Store) CommodityRange(ctx context.Context, start, end string) ([]domain.CommodityRow, error) {
	return s.queryCommodity(ctx,
		"SELECT date, commodity_type, conversions FROM swi_by_commodity WHERE date >= ? AND date <= ? ORDER BY date ASC, conversions DESC",
		start, end)
}

func (s *Store) queryCommodity(ctx context.Context, query string, args ...any) ([]domain.CommodityRow, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("querying commodity split: %w", err)
	}
	defer rows.Close()

	var out []domain.CommodityRow
	for rows.Next() {
		var r domain.CommodityRow
		if err := rows.Scan(&r.Date, &r.CommodityType, &r.Conversions); err != nil {
			return nil, fmt.Errorf("scanning commodity row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

package store

import (
	"fmt"
	"strings"
)

// Dialect abstracts the differences between the two supported engines.
// Queries in this package are written with ? placeholders and rebound
// per engine; both engines share the ON CONFLICT upsert syntax.
type Dialect interface {
	// Name is the engine name as configured ("postgres" or "sqlite").
	Name() string
	// Driver is the database/sql driver name to open with.
	Driver() string
	// Rebind rewrites ? placeholders into the engine's native form.
	Rebind(query string) string
	// Schema returns the DDL statements creating all tables.
	Schema() []string
}

// DialectFor resolves an engine name from configuration.
func DialectFor(engine string) (Dialect, error) {
	switch engine {
	case "postgres":
		return postgresDialect{}, nil
	case "sqlite", "":
		return sqliteDialect{}, nil
	}
	return nil, fmt.Errorf("unsupported database engine %q", engine)
}

type postgresDialect struct{}

func (postgresDialect) Name() string   { return "postgres" }
func (postgresDialect) Driver() string { return "postgres" }

func (postgresDialect) Rebind(query string) string {
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (postgresDialect) Schema() []string {
	return schemaStatements("SERIAL PRIMARY KEY", "DOUBLE PRECISION")
}

type sqliteDialect struct{}

func (sqliteDialect) Name() string         { return "sqlite" }
func (sqliteDialect) Driver() string       { return "sqlite3" }
func (sqliteDialect) Rebind(q string) string { return q }

func (sqliteDialect) Schema() []string {
	return schemaStatements("INTEGER PRIMARY KEY AUTOINCREMENT", "REAL")
}

// schemaStatements builds the shared DDL. Dates are stored as ISO text
// in both engines so rows scan identically.
func schemaStatements(idCol, floatCol string) []string {
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS daily_metrics (
			date TEXT PRIMARY KEY,
			extraction_timestamp TIMESTAMP,
			sessioni_commodity INTEGER NOT NULL DEFAULT 0,
			sessioni_lucegas INTEGER NOT NULL DEFAULT 0,
			swi_conversioni INTEGER NOT NULL DEFAULT 0,
			cr_commodity %[1]s NOT NULL DEFAULT 0,
			cr_lucegas %[1]s NOT NULL DEFAULT 0,
			cr_canalizzazione %[1]s NOT NULL DEFAULT 0,
			start_funnel INTEGER NOT NULL DEFAULT 0
		)`, floatCol),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS products_performance (
			id %[1]s,
			date TEXT NOT NULL,
			product_name TEXT NOT NULL,
			total_conversions %[2]s NOT NULL DEFAULT 0,
			percentage %[2]s NOT NULL DEFAULT 0,
			UNIQUE (date, product_name)
		)`, idCol, floatCol),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS sessions_by_channel (
			id %s,
			date TEXT NOT NULL,
			channel TEXT NOT NULL,
			commodity_sessions INTEGER NOT NULL DEFAULT 0,
			lucegas_sessions INTEGER NOT NULL DEFAULT 0,
			UNIQUE (date, channel)
		)`, idCol),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS sessions_by_campaign (
			id %s,
			date TEXT NOT NULL,
			campaign TEXT NOT NULL,
			commodity_sessions INTEGER NOT NULL DEFAULT 0,
			lucegas_sessions INTEGER NOT NULL DEFAULT 0,
			UNIQUE (date, campaign)
		)`, idCol),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS swi_by_commodity (
			id %s,
			date TEXT NOT NULL,
			commodity_type TEXT NOT NULL,
			conversions INTEGER NOT NULL DEFAULT 0,
			UNIQUE (date, commodity_type)
		)`, idCol),
		`CREATE INDEX IF NOT EXISTS idx_products_date ON products_performance (date DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_products_name ON products_performance (product_name)`,
		`CREATE INDEX IF NOT EXISTS idx_channel_date ON sessions_by_channel (date DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_channel_name ON sessions_by_channel (channel)`,
		`CREATE INDEX IF NOT EXISTS idx_campaign_date ON sessions_by_campaign (date DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_campaign_name ON sessions_by_campaign (campaign)`,
		`CREATE INDEX IF NOT EXISTS idx_commodity_date ON swi_by_commodity (date DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_commodity_type ON swi_by_commodity (commodity_type)`,
	}
}

//go:build ignore
// +build ignore

// Seeds a local SQLite database with a month of plausible metrics so
// the dashboard can be developed without GA4 credentials.
//
// Usage: go run scripts/seed_demo_data.go -db data/ga4_data.db -days 30
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/enersight/ga4-monitor/internal/domain"
	"github.com/enersight/ga4-monitor/internal/store"
)

func main() {
	dbPath := flag.String("db", "data/ga4_data.db", "sqlite database path")
	days := flag.Int("days", 30, "days of demo data to generate, ending yesterday")
	flag.Parse()

	ctx := context.Background()
	dialect, _ := store.DialectFor("sqlite")
	st, err := store.Open(ctx, dialect, *dbPath, 1, 1)
	if err != nil {
		log.Fatalf("opening %s: %v", *dbPath, err)
	}
	defer st.Close()

	if err := st.EnsureSchema(ctx); err != nil {
		log.Fatalf("schema: %v", err)
	}

	rng := rand.New(rand.NewSource(42))
	products := []string{"luce_fissa", "luce_variabile", "gas_fisso", "gas_variabile", "dual_fix"}
	channels := []string{"Organic Search", "Paid Search", "Direct", "Email", "Referral"}

	for i := *days; i >= 1; i-- {
		date := domain.DaysAgo(i)
		weekend := domain.IsWeekend(date)

		sessions := 900 + rng.Intn(600)
		if weekend {
			sessions = sessions * 6 / 10
		}
		luceGas := sessions * 2 / 3
		starts := sessions / 3
		conversions := 20 + rng.Intn(40)

		m := domain.DailyMetrics{
			Date:              date,
			ExtractedAt:       time.Now().UTC(),
			CommoditySessions: sessions,
			LuceGasSessions:   luceGas,
			Conversions:       conversions,
			CommodityCR:       round2(float64(conversions) / float64(sessions) * 100),
			LuceGasCR:         round2(float64(conversions) / float64(luceGas) * 100),
			FunnelCR:          round2(float64(conversions) / float64(starts) * 100),
			FunnelStarts:      starts,
		}
		if err := st.UpsertDailyMetrics(ctx, m); err != nil {
			log.Fatalf("daily %s: %v", date, err)
		}

		var prodRows []domain.ProductRow
		remaining := float64(conversions)
		for j, p := range products {
			share := remaining / float64(len(products)-j)
			prodRows = append(prodRows, domain.ProductRow{
				Date: date, Product: p,
				Conversions: round2(share),
				Percentage:  round2(share / float64(conversions) * 100),
			})
			remaining -= share
		}
		if err := st.ReplaceProducts(ctx, date, prodRows); err != nil {
			log.Fatalf("products %s: %v", date, err)
		}

		var chanRows []domain.ChannelRow
		for _, ch := range channels {
			chanRows = append(chanRows, domain.ChannelRow{
				Date: date, Channel: ch,
				CommoditySessions: sessions / len(channels),
				LuceGasSessions:   luceGas / len(channels),
			})
		}
		if err := st.ReplaceChannels(ctx, date, chanRows); err != nil {
			log.Fatalf("channels %s: %v", date, err)
		}
	}

	fmt.Printf("seeded %d days into %s\n", *days, *dbPath)
}

func round2(f float64) float64 {
	return float64(int(f*100+0.5)) / 100
}

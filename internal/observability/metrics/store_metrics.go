// Package metrics exposes gauges read from the call store at scrape time.
package metrics

import (
	"context"
	"database/sql"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

const (
	metricPrefix = "callwatch_"
	queryTimeout = 2 * time.Second
)

// RegisterStoreMetrics registers gauges backed by db. today returns the
// current call date.
func RegisterStoreMetrics(reg prometheus.Registerer, db *sql.DB, driver string, today func() string, logger zerolog.Logger) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	countToday := "SELECT COUNT(*) FROM calls WHERE call_date = ?"
	if driver == "pgx" {
		countToday = "SELECT COUNT(*) FROM calls WHERE call_date = $1"
	}

	reg.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "calls_stored_today",
			Help: "Call records stored for the current day",
		},
		func() float64 {
			return queryCount(db, logger, countToday, today())
		},
	))

	reg.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "db_open_connections",
			Help: "Open connections to the call store",
		},
		func() float64 {
			if db == nil {
				return 0
			}
			return float64(db.Stats().OpenConnections)
		},
	))
}

func queryCount(db *sql.DB, logger zerolog.Logger, query string, args ...any) float64 {
	if db == nil {
		return 0
	}
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()
	var count int64
	if err := db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		logger.Warn().Err(err).Msg("metrics query failed")
		return 0
	}
	if count < 0 {
		return 0
	}
	return float64(count)
}

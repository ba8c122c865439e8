package metrics

import (
	"database/sql"
	"log"

	"github.com/prometheus/client_golang/prometheus"
)

func registerDBMetrics(db *sql.DB, logger *log.Logger) {
	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "locations_count",
			Help: "Registered location entities",
		},
		func() float64 {
			return queryCount(db, logger, "SELECT COUNT(*) FROM location")
		},
	))

	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "sensors_count",
			Help: "Registered sensors",
		},
		func() float64 {
			return queryCount(db, logger, "SELECT COUNT(*) FROM sensor")
		},
	))

	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "model_runs_count",
			Help: "Stored model runs",
		},
		func() float64 {
			return queryCount(db, logger, "SELECT COUNT(*) FROM model_run")
		},
	))

	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "users_count",
			Help: "Registered users",
		},
		func() float64 {
			return queryCount(db, logger, "SELECT COUNT(*) FROM app_user")
		},
	))
}

func queryCount(db *sql.DB, logger *log.Logger, query string) float64 {
	if db == nil {
		return 0
	}
	var count int64
	if err := db.QueryRow(query).Scan(&count); err != nil {
		if logger != nil {
			logger.Printf("metrics query failed: %v", err)
		}
		return 0
	}
	if count < 0 {
		return 0
	}
	return float64(count)
}

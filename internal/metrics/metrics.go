// Package metrics - счетчики синхронизаций для Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "unitecon"

// Домены синхронизации
const (
	DomainUnits       = "units"
	DomainAdvertising = "advertising"
)

type Metrics struct {
	// Запуски синхронизации по домену и результату (ok/error/skipped)
	SyncRuns     *prometheus.CounterVec
	SyncDuration *prometheus.HistogramVec

	// Сохраненные юниты по шагу (backfill/refresh/ingest/merge)
	UnitsSaved *prometheus.CounterVec
	// Операции без найденного юнита
	OrphanTransactions prometheus.Counter
	LedgerSaved        prometheus.Counter

	// Рекламные строки по конвейеру (daily/cpo)
	AdRecordsSaved *prometheus.CounterVec

	// Ошибки внешних запросов, пропущенные без остановки шага
	SkippedErrors *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		SyncRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sync_runs_total",
				Help:      "Количество запусков синхронизации",
			},
			[]string{"domain", "result"},
		),
		SyncDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "sync_duration_seconds",
				Help:      "Длительность синхронизации",
				Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
			},
			[]string{"domain"},
		),
		UnitsSaved: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "units_saved_total",
				Help:      "Сохраненные юниты",
			},
			[]string{"step"},
		),
		OrphanTransactions: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "orphan_transactions_total",
				Help:      "Операции, для которых не найден юнит",
			},
		),
		LedgerSaved: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ledger_entries_saved_total",
				Help:      "Сохраненные операции без отправления",
			},
		),
		AdRecordsSaved: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "advertising_records_saved_total",
				Help:      "Сохраненные строки рекламной статистики",
			},
			[]string{"pipeline"},
		),
		SkippedErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "skipped_errors_total",
				Help:      "Ошибки запросов, после которых шаг продолжил работу",
			},
			[]string{"step"},
		),
	}
}

// Package background запускает синхронизации по таймеру.
package background

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/iurnickita/unitecon/internal/metrics"
)

// Результаты запуска для метрики
const (
	ResultOK      = "ok"
	ResultError   = "error"
	ResultSkipped = "skipped"
)

var ErrBusy = errors.New("sync is already running")

// Runner выполняет запуски одного домена по очереди: пока идет запуск,
// следующий пропускается.
type Runner struct {
	domain  string
	run     func(ctx context.Context) error
	mu      sync.Mutex
	metrics *metrics.Metrics
	zaplog  *zap.Logger
}

func NewRunner(domain string, run func(ctx context.Context) error, m *metrics.Metrics, zaplog *zap.Logger) *Runner {
	return &Runner{
		domain:  domain,
		run:     run,
		metrics: m,
		zaplog:  zaplog.With(zap.String("domain", domain)),
	}
}

// RunOnce выполняет один запуск или возвращает ErrBusy.
func (r *Runner) RunOnce(ctx context.Context) error {
	if !r.mu.TryLock() {
		r.skipped()
		return ErrBusy
	}
	defer r.mu.Unlock()
	return r.exec(ctx)
}

// Trigger запускает синхронизацию в фоне и сразу возвращается.
func (r *Runner) Trigger(ctx context.Context) error {
	if !r.mu.TryLock() {
		r.skipped()
		return ErrBusy
	}
	go func() {
		defer r.mu.Unlock()
		r.exec(ctx)
	}()
	return nil
}

func (r *Runner) skipped() {
	r.metrics.SyncRuns.WithLabelValues(r.domain, ResultSkipped).Inc()
	r.zaplog.Info("sync skipped, previous run is in progress")
}

func (r *Runner) exec(ctx context.Context) error {
	start := time.Now()
	err := r.run(ctx)
	r.metrics.SyncDuration.WithLabelValues(r.domain).Observe(time.Since(start).Seconds())

	if err != nil {
		r.metrics.SyncRuns.WithLabelValues(r.domain, ResultError).Inc()
		r.zaplog.Error("sync failed", zap.Duration("duration", time.Since(start)), zap.Error(err))
		return err
	}
	r.metrics.SyncRuns.WithLabelValues(r.domain, ResultOK).Inc()
	r.zaplog.Info("sync finished", zap.Duration("duration", time.Since(start)))
	return nil
}

// Start запускает синхронизацию сразу и затем каждые interval до отмены ctx.
// Неудачный запуск повторится на следующем тике с сохраненного чекпоинта.
// Нулевой interval - только один запуск.
func (r *Runner) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		r.RunOnce(ctx)
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		r.RunOnce(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Package report реализует протокол асинхронных отчетов: заказ, ожидание готовности, загрузка.
package report

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

var (
	ErrSubmitFailed   = errors.New("report submit failed")
	ErrTimeout        = errors.New("report is not ready")
	ErrDownloadFailed = errors.New("report download failed")
)

// Состояния задачи на стороне API
const (
	StateOK    = "OK"
	StateError = "ERROR"
)

type Request struct {
	Path   string
	Params any
}

// Backend - транспорт конкретного API отчетов.
type Backend interface {
	Submit(ctx context.Context, req Request) (string, error)
	State(ctx context.Context, uuid string) (string, error)
	Download(ctx context.Context, uuid string) ([]byte, error)
}

type Poller struct {
	backend  Backend
	interval time.Duration
	attempts int
	zaplog   *zap.Logger
}

func NewPoller(backend Backend, interval time.Duration, attempts int, zaplog *zap.Logger) *Poller {
	if attempts <= 0 {
		attempts = 1
	}
	return &Poller{
		backend:  backend,
		interval: interval,
		attempts: attempts,
		zaplog:   zaplog,
	}
}

// Fetch заказывает отчет, ждет готовности и возвращает его содержимое.
// Каждый вызов создает новую задачу.
func (p *Poller) Fetch(ctx context.Context, req Request) ([]byte, error) {
	uuid, err := p.backend.Submit(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSubmitFailed, err)
	}
	p.zaplog.Info("report submitted", zap.String("path", req.Path), zap.String("uuid", uuid))

	if err := p.wait(ctx, uuid); err != nil {
		return nil, err
	}

	data, err := p.backend.Download(ctx, uuid)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrDownloadFailed, uuid, err)
	}
	p.zaplog.Info("report downloaded", zap.String("uuid", uuid), zap.Int("bytes", len(data)))
	return data, nil
}

func (p *Poller) wait(ctx context.Context, uuid string) error {
	timer := time.NewTimer(p.interval)
	defer timer.Stop()

	for attempt := 1; attempt <= p.attempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		state, err := p.backend.State(ctx, uuid)
		switch {
		case err != nil:
			// ошибка опроса расходует попытку
			p.zaplog.Warn("report state request failed",
				zap.String("uuid", uuid), zap.Int("attempt", attempt), zap.Error(err))
		case state == StateOK:
			return nil
		case state == StateError:
			return fmt.Errorf("%w: %s rejected by server", ErrSubmitFailed, uuid)
		default:
			p.zaplog.Debug("report not ready",
				zap.String("uuid", uuid), zap.Int("attempt", attempt), zap.String("state", state))
		}

		timer.Reset(p.interval)
	}

	return fmt.Errorf("%w: %s after %d attempts", ErrTimeout, uuid, p.attempts)
}

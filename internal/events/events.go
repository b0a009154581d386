// Package events публикует изменения юнитов во внешнюю шину.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/iurnickita/unitecon/internal/events/config"
	"github.com/iurnickita/unitecon/internal/model"
)

// Источник изменения юнита
const (
	SourceBackfill = "backfill"
	SourceRefresh  = "refresh"
	SourceIngest   = "ingest"
	SourceMerge    = "merge"
)

// UnitEvent - состояние юнита после сохранения.
type UnitEvent struct {
	RunID         string    `json:"run_id"`
	Source        string    `json:"source"`
	PostingNumber string    `json:"posting_number"`
	Sku           string    `json:"sku"`
	StatusOzon    string    `json:"status_ozon"`
	Status        string    `json:"status"`
	TotalServices string    `json:"total_services"`
	Margin        string    `json:"margin"`
	PublishedAt   time.Time `json:"published_at"`
}

func NewUnitEvent(runID, source string, u model.Unit) UnitEvent {
	return UnitEvent{
		RunID:         runID,
		Source:        source,
		PostingNumber: u.PostingNumber,
		Sku:           u.Sku,
		StatusOzon:    u.StatusOzon,
		Status:        u.Status,
		TotalServices: u.TotalServices.StringFixed(2),
		Margin:        u.Margin.StringFixed(2),
		PublishedAt:   time.Now(),
	}
}

type Publisher interface {
	PublishUnits(ctx context.Context, events []UnitEvent) error
	Close() error
}

// messageWriter - часть kafka.Writer, которой пользуется издатель.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type kafkaPublisher struct {
	writer messageWriter
}

// NewPublisher возвращает издателя kafka или пустышку, если брокеры не заданы.
func NewPublisher(cfg config.Config) Publisher {
	if len(cfg.Brokers) == 0 {
		return nopPublisher{}
	}
	return &kafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 100 * time.Millisecond,
		},
	}
}

// PublishUnits - ключ сообщения номер отправления, события одного юнита попадают в одну партицию.
func (p *kafkaPublisher) PublishUnits(ctx context.Context, events []UnitEvent) error {
	if len(events) == 0 {
		return nil
	}

	msgs := make([]kafka.Message, 0, len(events))
	for _, e := range events {
		value, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("unit event %s: %w", e.PostingNumber, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(e.PostingNumber),
			Value: value,
			Time:  e.PublishedAt,
		})
	}

	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("failed to write unit events: %w", err)
	}
	return nil
}

func (p *kafkaPublisher) Close() error {
	return p.writer.Close()
}

type nopPublisher struct{}

func (nopPublisher) PublishUnits(context.Context, []UnitEvent) error { return nil }
func (nopPublisher) Close() error                                    { return nil }

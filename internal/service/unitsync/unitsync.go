// Package unitsync сводит отправления и финансовые операции в юниты.
//
// Один запуск: первичная загрузка (если юнитов нет), обновление статусов незавершенных
// отправлений, загрузка новых отправлений, разнесение новых операций по юнитам и
// сохранение операций без отправления. Все чекпоинты берутся из базы.
package unitsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/iurnickita/unitecon/internal/daterange"
	"github.com/iurnickita/unitecon/internal/events"
	"github.com/iurnickita/unitecon/internal/metrics"
	"github.com/iurnickita/unitecon/internal/model"
	"github.com/iurnickita/unitecon/internal/service/sellerclient"
	"github.com/iurnickita/unitecon/internal/store"
	"github.com/iurnickita/unitecon/internal/unit"
)

// Состояния запуска
const (
	StateEmpty               = "empty"
	StateBackfilling         = "backfilling"
	StateRefreshingStatus    = "refreshing_status"
	StateIngestingNew        = "ingesting_new"
	StateMergingTransactions = "merging_transactions"
	StateLedger              = "ledger"
	StateDone                = "done"
)

var (
	ErrBackfill = errors.New("backfill failed")
	ErrIngest   = errors.New("ingest failed")
	ErrMerge    = errors.New("merge failed")
)

// Store - то, что синхронизации нужно от хранилища.
type Store interface {
	UnitCount(ctx context.Context) (int64, error)
	UnitSaveMany(ctx context.Context, units []model.Unit) error
	UnitGetByNumber(ctx context.Context, number string) (model.Unit, error)
	UnitGetByStatusNotIn(ctx context.Context, statuses []string) ([]model.Unit, error)
	UnitGetLastCreatedAt(ctx context.Context) (time.Time, error)
	UnitGetLastOperationDate(ctx context.Context) (time.Time, error)
	LedgerSaveMany(ctx context.Context, entries []model.LedgerEntry) error
	LedgerGetLastOperationDate(ctx context.Context) (time.Time, error)
}

type Options struct {
	// Начало первичной загрузки и загрузки операций без отправления
	BackfillEpoch time.Time
	// Начало загрузки новых отправлений при пустой базе
	IngestFallback time.Time
	Parallelism    int
}

type Syncer struct {
	opts      Options
	store     Store
	seller    sellerclient.SellerClient
	builder   *unit.Builder
	publisher events.Publisher
	metrics   *metrics.Metrics
	zaplog    *zap.Logger
	now       func() time.Time
}

func NewSyncer(opts Options, store Store, seller sellerclient.SellerClient, builder *unit.Builder,
	publisher events.Publisher, m *metrics.Metrics, zaplog *zap.Logger) *Syncer {
	if opts.Parallelism <= 0 {
		opts.Parallelism = 1
	}
	return &Syncer{
		opts:      opts,
		store:     store,
		seller:    seller,
		builder:   builder,
		publisher: publisher,
		metrics:   m,
		zaplog:    zaplog,
		now:       time.Now,
	}
}

// run - состояние одного запуска
type run struct {
	id     string
	zaplog *zap.Logger
	now    time.Time
}

func (r *run) enter(state string) {
	r.zaplog.Info("units sync state", zap.String("state", state))
}

// Run выполняет один запуск синхронизации.
// Ошибки первичной загрузки, загрузки новых отправлений и запроса операций прерывают запуск.
func (s *Syncer) Run(ctx context.Context) error {
	r := &run{id: uuid.NewString(), now: s.now()}
	r.zaplog = s.zaplog.With(zap.String("run_id", r.id))
	r.enter(StateEmpty)

	count, err := s.store.UnitCount(ctx)
	if err != nil {
		return fmt.Errorf("count units: %w", err)
	}
	if count == 0 {
		r.enter(StateBackfilling)
		if err := s.backfill(ctx, r); err != nil {
			return fmt.Errorf("%w: %w", ErrBackfill, err)
		}
	}

	r.enter(StateRefreshingStatus)
	if err := s.refresh(ctx, r); err != nil {
		return fmt.Errorf("refresh statuses: %w", err)
	}

	r.enter(StateIngestingNew)
	if err := s.ingest(ctx, r); err != nil {
		return fmt.Errorf("%w: %w", ErrIngest, err)
	}

	r.enter(StateMergingTransactions)
	if err := s.merge(ctx, r); err != nil {
		return fmt.Errorf("%w: %w", ErrMerge, err)
	}

	r.enter(StateLedger)
	s.ledger(ctx, r)

	r.enter(StateDone)
	return nil
}

// save сохраняет юниты одной пачкой и объявляет о них.
func (s *Syncer) save(ctx context.Context, r *run, source string, units []model.Unit) error {
	if len(units) == 0 {
		return nil
	}
	if err := s.store.UnitSaveMany(ctx, units); err != nil {
		return fmt.Errorf("save %d units: %w", len(units), err)
	}
	s.metrics.UnitsSaved.WithLabelValues(source).Add(float64(len(units)))
	r.zaplog.Info("units saved", zap.String("step", source), zap.Int("count", len(units)))

	evs := make([]events.UnitEvent, 0, len(units))
	for _, u := range units {
		evs = append(evs, events.NewUnitEvent(r.id, source, u))
	}
	if err := s.publisher.PublishUnits(ctx, evs); err != nil {
		r.zaplog.Warn("unit events not published", zap.String("step", source), zap.Error(err))
	}
	return nil
}

// backfill - все отправления с начала учета и все их операции
func (s *Syncer) backfill(ctx context.Context, r *run) error {
	postings, err := s.seller.FetchPostings(ctx, daterange.StartOfDay(s.opts.BackfillEpoch), daterange.EndOfDay(r.now))
	if err != nil {
		return err
	}
	r.zaplog.Info("backfill postings fetched", zap.Int("count", len(postings)))

	units := make([]model.Unit, len(postings))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Parallelism)
	for i, p := range postings {
		g.Go(func() error {
			txs, err := s.postingTransactions(gctx, p)
			if err != nil {
				return fmt.Errorf("transactions of %s: %w", p.PostingNumber, err)
			}
			units[i] = s.builder.Build(unit.FromPosting(p), txs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	return s.save(ctx, r, events.SourceBackfill, units)
}

// postingTransactions - операции ссылаются то на номер отправления, то на номер заказа,
// запрашиваются оба.
func (s *Syncer) postingTransactions(ctx context.Context, p model.Posting) ([]model.Transaction, error) {
	numbers := []string{p.PostingNumber}
	if p.OrderNumber != "" && p.OrderNumber != p.PostingNumber {
		numbers = append(numbers, p.OrderNumber)
	}

	found := make([][]model.Transaction, len(numbers))
	g, gctx := errgroup.WithContext(ctx)
	for i, number := range numbers {
		g.Go(func() error {
			txs, err := s.seller.FetchTransactions(gctx, sellerclient.TransactionFilter{PostingNumber: number})
			found[i] = txs
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var txs []model.Transaction
	for _, f := range found {
		txs = append(txs, f...)
	}
	return txs, nil
}

// refresh обновляет статус незавершенных отправлений.
// Ошибка по одному отправлению не мешает остальным.
func (s *Syncer) refresh(ctx context.Context, r *run) error {
	open, err := s.store.UnitGetByStatusNotIn(ctx, model.TerminalStatuses)
	if err != nil {
		return err
	}

	updated := make([]*model.Unit, len(open))
	var g errgroup.Group
	g.SetLimit(s.opts.Parallelism)
	for i, u := range open {
		g.Go(func() error {
			posting, err := s.seller.FetchPosting(ctx, u.PostingNumber)
			if err != nil {
				s.metrics.SkippedErrors.WithLabelValues(StateRefreshingStatus).Inc()
				r.zaplog.Warn("posting status not refreshed",
					zap.String("posting_number", u.PostingNumber), zap.Error(err))
				return nil
			}
			if posting.StatusOzon == u.StatusOzon {
				return nil
			}

			u.StatusOzon = posting.StatusOzon
			rebuilt := s.builder.Build(unit.FromUnit(u), nil)
			updated[i] = &rebuilt
			return nil
		})
	}
	g.Wait()

	var units []model.Unit
	for _, u := range updated {
		if u != nil {
			units = append(units, *u)
		}
	}
	r.zaplog.Info("statuses refreshed", zap.Int("open", len(open)), zap.Int("changed", len(units)))
	return s.save(ctx, r, events.SourceRefresh, units)
}

// ingest создает юниты для новых отправлений. Уже сохраненные отправления
// дня-чекпоинта пропускаются, чтобы не потерять накопленные услуги.
func (s *Syncer) ingest(ctx context.Context, r *run) error {
	since := s.opts.IngestFallback
	last, err := s.store.UnitGetLastCreatedAt(ctx)
	switch {
	case err == nil:
		since = last
	case !errors.Is(err, store.ErrNoRows):
		return err
	}

	postings, err := s.seller.FetchPostings(ctx, daterange.StartOfDay(since), daterange.EndOfDay(r.now))
	if err != nil {
		return err
	}

	fresh := make([]*model.Unit, len(postings))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Parallelism)
	for i, p := range postings {
		g.Go(func() error {
			existing, err := s.store.UnitGetByNumber(gctx, p.PostingNumber)
			switch {
			case err == nil && existing.PostingNumber == p.PostingNumber:
				return nil
			case err != nil && !errors.Is(err, store.ErrNoRows):
				return fmt.Errorf("lookup %s: %w", p.PostingNumber, err)
			}
			u := s.builder.Build(unit.FromPosting(p), nil)
			fresh[i] = &u
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	var units []model.Unit
	for _, u := range fresh {
		if u != nil {
			units = append(units, *u)
		}
	}
	r.zaplog.Info("new postings ingested",
		zap.Time("since", daterange.StartOfDay(since)), zap.Int("fetched", len(postings)), zap.Int("new", len(units)))
	return s.save(ctx, r, events.SourceIngest, units)
}

// owner - юнит и все новые операции по нему
type owner struct {
	unit model.Unit
	txs  []model.Transaction
}

// merge разносит операции с чекпоинта по юнитам. Операции без юнита отбрасываются,
// ошибки поиска юнита пропускаются.
func (s *Syncer) merge(ctx context.Context, r *run) error {
	since := r.now
	last, err := s.store.UnitGetLastOperationDate(ctx)
	switch {
	case err == nil:
		since = last
	case !errors.Is(err, store.ErrNoRows):
		return err
	}

	// API отдает операции не более чем за месяц на запрос
	var txs []model.Transaction
	for _, month := range daterange.Months(since, r.now) {
		page, err := s.seller.FetchTransactions(ctx, sellerclient.TransactionFilter{
			From: daterange.StartOfDay(month.From),
			To:   daterange.EndOfDay(month.To),
		})
		if err != nil {
			return err
		}
		txs = append(txs, page...)
	}

	// операции по номеру в порядке получения
	var numbers []string
	byNumber := make(map[string][]model.Transaction)
	for _, tx := range txs {
		if tx.PostingNumber == "" {
			continue
		}
		if _, ok := byNumber[tx.PostingNumber]; !ok {
			numbers = append(numbers, tx.PostingNumber)
		}
		byNumber[tx.PostingNumber] = append(byNumber[tx.PostingNumber], tx)
	}

	resolved := make([]*model.Unit, len(numbers))
	var g errgroup.Group
	g.SetLimit(s.opts.Parallelism)
	for i, number := range numbers {
		g.Go(func() error {
			u, err := s.store.UnitGetByNumber(ctx, number)
			switch {
			case errors.Is(err, store.ErrNoRows):
				s.metrics.OrphanTransactions.Add(float64(len(byNumber[number])))
				r.zaplog.Debug("orphan transactions dropped",
					zap.String("number", number), zap.Int("count", len(byNumber[number])))
			case err != nil:
				s.metrics.SkippedErrors.WithLabelValues(StateMergingTransactions).Inc()
				r.zaplog.Warn("unit lookup failed", zap.String("number", number), zap.Error(err))
			default:
				resolved[i] = &u
			}
			return nil
		})
	}
	g.Wait()

	// номер отправления и номер заказа могут указывать на один юнит
	var order []string
	owners := make(map[string]*owner)
	for i, number := range numbers {
		if resolved[i] == nil {
			continue
		}
		key := resolved[i].PostingNumber
		o, ok := owners[key]
		if !ok {
			o = &owner{unit: *resolved[i]}
			owners[key] = o
			order = append(order, key)
		}
		o.txs = append(o.txs, byNumber[number]...)
	}

	units := make([]model.Unit, 0, len(order))
	for _, key := range order {
		o := owners[key]
		units = append(units, s.builder.Build(unit.FromUnit(o.unit), o.txs))
	}
	r.zaplog.Info("transactions merged",
		zap.Time("since", daterange.StartOfDay(since)), zap.Int("transactions", len(txs)), zap.Int("units", len(units)))
	return s.save(ctx, r, events.SourceMerge, units)
}

// ledger сохраняет операции без отправления помесячно.
// Ошибка останавливает шаг: следующий запуск продолжит с сохраненного чекпоинта.
func (s *Syncer) ledger(ctx context.Context, r *run) {
	since := s.opts.BackfillEpoch
	last, err := s.store.LedgerGetLastOperationDate(ctx)
	switch {
	case err == nil:
		since = last
	case !errors.Is(err, store.ErrNoRows):
		r.zaplog.Error("ledger checkpoint", zap.Error(err))
		return
	}

	for _, month := range daterange.Months(since, r.now) {
		entries, err := s.seller.FetchLedger(ctx, daterange.StartOfDay(month.From), daterange.EndOfDay(month.To))
		if err != nil {
			s.metrics.SkippedErrors.WithLabelValues(StateLedger).Inc()
			r.zaplog.Error("ledger fetch failed", zap.Time("from", month.From), zap.Error(err))
			return
		}
		if err := s.store.LedgerSaveMany(ctx, entries); err != nil {
			r.zaplog.Error("ledger save failed", zap.Time("from", month.From), zap.Error(err))
			return
		}
		s.metrics.LedgerSaved.Add(float64(len(entries)))
	}
}

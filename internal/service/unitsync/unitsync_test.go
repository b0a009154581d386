package unitsync

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iurnickita/unitecon/internal/daterange"
	"github.com/iurnickita/unitecon/internal/economy"
	"github.com/iurnickita/unitecon/internal/events"
	"github.com/iurnickita/unitecon/internal/metrics"
	"github.com/iurnickita/unitecon/internal/model"
	"github.com/iurnickita/unitecon/internal/service/sellerclient"
	"github.com/iurnickita/unitecon/internal/store"
	"github.com/iurnickita/unitecon/internal/unit"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func msk(y int, m time.Month, day, h int) time.Time {
	return time.Date(y, m, day, h, 0, 0, 0, daterange.Location)
}

// fakeStore - хранилище в памяти
type fakeStore struct {
	mu     sync.Mutex
	units  map[string]model.Unit
	ledger map[int64]model.LedgerEntry
	saves  int

	lookupErr map[string]error
}

func newFakeStore(units ...model.Unit) *fakeStore {
	s := &fakeStore{units: make(map[string]model.Unit), ledger: make(map[int64]model.LedgerEntry)}
	for _, u := range units {
		s.units[u.PostingNumber] = u
	}
	return s
}

func (s *fakeStore) UnitCount(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.units)), nil
}

func (s *fakeStore) UnitSaveMany(_ context.Context, units []model.Unit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	for _, u := range units {
		s.units[u.PostingNumber] = u
	}
	return nil
}

func (s *fakeStore) UnitGetByNumber(_ context.Context, number string) (model.Unit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.lookupErr[number]; ok {
		return model.Unit{}, err
	}
	if u, ok := s.units[number]; ok {
		return u, nil
	}
	for _, u := range s.units {
		if u.OrderNumber == number {
			return u, nil
		}
	}
	return model.Unit{}, store.ErrNoRows
}

func (s *fakeStore) UnitGetByStatusNotIn(_ context.Context, statuses []string) ([]model.Unit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var units []model.Unit
	for _, u := range s.units {
		terminal := false
		for _, st := range statuses {
			terminal = terminal || u.StatusOzon == st
		}
		if !terminal {
			units = append(units, u)
		}
	}
	return units, nil
}

func (s *fakeStore) UnitGetLastCreatedAt(context.Context) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var last time.Time
	for _, u := range s.units {
		if u.CreatedAt.After(last) {
			last = u.CreatedAt
		}
	}
	if last.IsZero() {
		return time.Time{}, store.ErrNoRows
	}
	return last, nil
}

func (s *fakeStore) UnitGetLastOperationDate(context.Context) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var last time.Time
	for _, u := range s.units {
		if u.LastOperationDate != nil && u.LastOperationDate.After(last) {
			last = *u.LastOperationDate
		}
	}
	if last.IsZero() {
		return time.Time{}, store.ErrNoRows
	}
	return last, nil
}

func (s *fakeStore) LedgerSaveMany(_ context.Context, entries []model.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		s.ledger[e.OperationID] = e
	}
	return nil
}

func (s *fakeStore) LedgerGetLastOperationDate(context.Context) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var last time.Time
	for _, e := range s.ledger {
		if e.OperationDate.After(last) {
			last = e.OperationDate
		}
	}
	if last.IsZero() {
		return time.Time{}, store.ErrNoRows
	}
	return last, nil
}

func (s *fakeStore) unit(number string) model.Unit {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.units[number]
}

// fakeSeller - API продавца с заранее заданными ответами
type fakeSeller struct {
	mu sync.Mutex

	postings     []model.Posting
	postingsErr  error
	postingCalls []time.Time

	current    map[string]model.Posting
	currentErr map[string]error

	byNumber   map[string][]model.Transaction
	byDate     []model.Transaction
	byDateErr  error
	dateRanges []sellerclient.TransactionFilter

	ledger      []model.LedgerEntry
	ledgerErr   error
	ledgerCalls int
}

func (f *fakeSeller) FetchPostings(_ context.Context, since, _ time.Time) ([]model.Posting, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.postingCalls = append(f.postingCalls, since)
	return f.postings, f.postingsErr
}

func (f *fakeSeller) FetchPosting(_ context.Context, number string) (model.Posting, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.currentErr[number]; err != nil {
		return model.Posting{}, err
	}
	p, ok := f.current[number]
	if !ok {
		return model.Posting{}, sellerclient.ErrNotFound
	}
	return p, nil
}

func (f *fakeSeller) FetchTransactions(_ context.Context, filter sellerclient.TransactionFilter) ([]model.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if filter.PostingNumber != "" {
		return f.byNumber[filter.PostingNumber], nil
	}
	f.dateRanges = append(f.dateRanges, filter)
	if f.byDateErr != nil {
		return nil, f.byDateErr
	}
	var txs []model.Transaction
	for _, tx := range f.byDate {
		if !tx.OperationDate.Before(filter.From) && !tx.OperationDate.After(filter.To) {
			txs = append(txs, tx)
		}
	}
	return txs, nil
}

func (f *fakeSeller) FetchLedger(context.Context, time.Time, time.Time) ([]model.LedgerEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ledgerCalls++
	return f.ledger, f.ledgerErr
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.UnitEvent
}

func (p *recordingPublisher) PublishUnits(_ context.Context, evs []events.UnitEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evs...)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

var now = msk(2025, 9, 1, 12)

func newTestSyncer(st *fakeStore, seller *fakeSeller) (*Syncer, *recordingPublisher, *metrics.Metrics) {
	pub := &recordingPublisher{}
	m := metrics.NewMetrics(prometheus.NewRegistry())
	s := NewSyncer(Options{
		BackfillEpoch:  msk(2024, 10, 1, 0),
		IngestFallback: msk(2025, 8, 19, 0),
		Parallelism:    4,
	}, st, seller, unit.NewBuilder(economy.CostTable{"hat-black": d("151")}), pub, m, zap.NewNop())
	s.now = func() time.Time { return now }
	return s, pub, m
}

func TestRunBackfill(t *testing.T) {
	st := newFakeStore()
	seller := &fakeSeller{
		postings: []model.Posting{
			{PostingNumber: "1-1", OrderNumber: "1", StatusOzon: "delivered", Product: "hat-black", Price: d("990"),
				CreatedAt: msk(2025, 8, 1, 10)},
			{PostingNumber: "2-1", OrderNumber: "2", StatusOzon: "awaiting_packaging", CreatedAt: msk(2025, 8, 2, 10)},
		},
		byNumber: map[string][]model.Transaction{
			"1-1": {{OperationID: 10, OperationDate: msk(2025, 8, 5, 0), PostingNumber: "1-1",
				Services: []model.ServiceLine{{Name: "Logistics", Price: d("-63.5")}}}},
			"1": {{OperationID: 11, OperationDate: msk(2025, 8, 6, 0), PostingNumber: "1", SaleCommission: d("-178.2")}},
		},
	}
	s, pub, _ := newTestSyncer(st, seller)

	require.NoError(t, s.Run(context.Background()))

	delivered := st.unit("1-1")
	assert.Equal(t, economy.StatusDelivered, delivered.Status)
	assert.Len(t, delivered.Services, 2)
	assert.Equal(t, "-241.7", delivered.TotalServices.String())
	assert.Equal(t, "597.3", delivered.Margin.String())
	require.NotNil(t, delivered.LastOperationDate)
	assert.True(t, msk(2025, 8, 6, 0).Equal(*delivered.LastOperationDate))

	packaging := st.unit("2-1")
	assert.Equal(t, economy.StatusAwaitingPackaging, packaging.Status)
	assert.Empty(t, packaging.Services)

	assert.True(t, daterange.StartOfDay(msk(2024, 10, 1, 0)).Equal(seller.postingCalls[0]))

	sources := map[string]int{}
	for _, e := range pub.events {
		sources[e.Source]++
	}
	assert.Equal(t, 2, sources[events.SourceBackfill])
}

func TestRunBackfillFetchFailure(t *testing.T) {
	st := newFakeStore()
	seller := &fakeSeller{postingsErr: sellerclient.ErrFetchFailed}
	s, _, _ := newTestSyncer(st, seller)

	err := s.Run(context.Background())
	assert.ErrorIs(t, err, ErrBackfill)
	assert.ErrorIs(t, err, sellerclient.ErrFetchFailed)
	assert.Zero(t, st.saves)
}

func TestRunRefreshTolerant(t *testing.T) {
	last := msk(2025, 8, 20, 0)
	st := newFakeStore(
		model.Unit{Posting: model.Posting{PostingNumber: "a", StatusOzon: "delivering", CreatedAt: msk(2025, 8, 20, 9)},
			LastOperationDate: &last},
		model.Unit{Posting: model.Posting{PostingNumber: "b", StatusOzon: "delivering", CreatedAt: msk(2025, 8, 20, 10)}},
		model.Unit{Posting: model.Posting{PostingNumber: "c", StatusOzon: "delivered", CreatedAt: msk(2025, 8, 20, 11)},
			Status: economy.StatusAwaitingPayment},
	)
	seller := &fakeSeller{
		current: map[string]model.Posting{
			"a": {PostingNumber: "a", StatusOzon: "cancelled"},
			"c": {PostingNumber: "c", StatusOzon: "cancelled"},
		},
		currentErr: map[string]error{"b": sellerclient.ErrFetchFailed},
	}
	s, _, m := newTestSyncer(st, seller)

	require.NoError(t, s.Run(context.Background()))

	assert.Equal(t, "cancelled", st.unit("a").StatusOzon)
	assert.Equal(t, economy.StatusInstantCancel, st.unit("a").Status)
	assert.Equal(t, "delivering", st.unit("b").StatusOzon)
	// завершенные не перезапрашиваются
	assert.Equal(t, "delivered", st.unit("c").StatusOzon)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SkippedErrors.WithLabelValues(StateRefreshingStatus)))
}

func TestRunIngestKeepsExistingServices(t *testing.T) {
	existing := model.Unit{
		Posting:  model.Posting{PostingNumber: "a", StatusOzon: "delivered", CreatedAt: msk(2025, 8, 30, 9)},
		Services: []model.ServiceLine{{Name: "Logistics", Price: d("-10")}},
	}
	st := newFakeStore(existing)
	seller := &fakeSeller{
		current: map[string]model.Posting{},
		postings: []model.Posting{
			{PostingNumber: "a", StatusOzon: "delivered", CreatedAt: msk(2025, 8, 30, 9)},
			{PostingNumber: "new", StatusOzon: "awaiting_packaging", CreatedAt: msk(2025, 8, 31, 9)},
		},
	}
	s, _, _ := newTestSyncer(st, seller)

	require.NoError(t, s.Run(context.Background()))

	assert.Len(t, st.unit("a").Services, 1)
	fresh := st.unit("new")
	assert.Equal(t, economy.StatusAwaitingPackaging, fresh.Status)
	assert.Nil(t, fresh.LastOperationDate)
	// чекпоинт - начало дня последнего отправления
	assert.True(t, msk(2025, 8, 30, 0).Equal(seller.postingCalls[0]))
}

func TestRunIngestFallback(t *testing.T) {
	st := newFakeStore()
	// store не пустой для backfill, но без дат создания
	st.units["x"] = model.Unit{Posting: model.Posting{PostingNumber: "x", StatusOzon: "delivered"}}
	seller := &fakeSeller{}
	s, _, _ := newTestSyncer(st, seller)

	require.NoError(t, s.Run(context.Background()))
	require.Len(t, seller.postingCalls, 1)
	assert.True(t, msk(2025, 8, 19, 0).Equal(seller.postingCalls[0]))
}

func TestRunMerge(t *testing.T) {
	last := msk(2025, 8, 25, 15)
	st := newFakeStore(
		model.Unit{
			Posting:           model.Posting{PostingNumber: "1-1", OrderNumber: "1", StatusOzon: "delivered", Product: "hat-black", Price: d("990"), CreatedAt: msk(2025, 8, 20, 9)},
			Services:          []model.ServiceLine{{Name: "Logistics", Price: d("-63.5")}},
			LastOperationDate: &last,
			OperationIDs:      []int64{10},
		},
	)
	seller := &fakeSeller{
		current: map[string]model.Posting{},
		byDate: []model.Transaction{
			// уже учтенная операция дня-чекпоинта
			{OperationID: 10, OperationDate: last, PostingNumber: "1-1",
				Services: []model.ServiceLine{{Name: "Logistics", Price: d("-63.5")}}},
			{OperationID: 11, OperationDate: msk(2025, 8, 27, 0), PostingNumber: "1", SaleCommission: d("-178.2")},
			{OperationID: 12, OperationDate: msk(2025, 8, 28, 0), PostingNumber: "orphan", SaleCommission: d("-1")},
			{OperationID: 13, OperationDate: msk(2025, 8, 28, 0), PostingNumber: "orphan"},
			// без отправления - в журнал
			{OperationID: 14, OperationDate: msk(2025, 8, 28, 0)},
		},
	}
	s, pub, m := newTestSyncer(st, seller)

	require.NoError(t, s.Run(context.Background()))

	u := st.unit("1-1")
	assert.Len(t, u.Services, 2)
	assert.Equal(t, economy.StatusDelivered, u.Status)
	assert.Equal(t, "151", u.CostPrice.String())
	assert.True(t, u.Price.Sub(d("151")).Add(u.TotalServices).Equal(u.Margin))
	assert.True(t, msk(2025, 8, 27, 0).Equal(*u.LastOperationDate))

	ids := append([]int64(nil), u.OperationIDs...)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	assert.Equal(t, []int64{10, 11}, ids)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.OrphanTransactions))
	// остаток августа и первый день сентября
	require.Len(t, seller.dateRanges, 2)
	assert.True(t, msk(2025, 8, 25, 0).Equal(seller.dateRanges[0].From))
	assert.True(t, msk(2025, 9, 1, 0).Equal(seller.dateRanges[1].From))

	merged := 0
	for _, e := range pub.events {
		if e.Source == events.SourceMerge {
			merged++
		}
	}
	assert.Equal(t, 1, merged)
}

func TestRunMergeTwiceIsIdempotent(t *testing.T) {
	last := msk(2025, 8, 26, 0)
	st := newFakeStore(model.Unit{
		Posting:           model.Posting{PostingNumber: "1-1", StatusOzon: "delivered", CreatedAt: msk(2025, 8, 20, 9)},
		LastOperationDate: &last,
	})
	seller := &fakeSeller{
		current: map[string]model.Posting{},
		byDate: []model.Transaction{
			{OperationID: 1, OperationDate: msk(2025, 8, 27, 0), PostingNumber: "1-1",
				Services: []model.ServiceLine{{Name: "Logistics", Price: d("-10")}}},
		},
	}
	s, _, _ := newTestSyncer(st, seller)

	require.NoError(t, s.Run(context.Background()))
	require.NoError(t, s.Run(context.Background()))

	u := st.unit("1-1")
	assert.Len(t, u.Services, 1)
	assert.Equal(t, "-10", u.TotalServices.String())
}

func TestRunMergeMonthWindows(t *testing.T) {
	last := msk(2025, 6, 10, 0)
	st := newFakeStore(model.Unit{
		Posting:           model.Posting{PostingNumber: "1-1", StatusOzon: "delivered", CreatedAt: msk(2025, 6, 1, 9)},
		LastOperationDate: &last,
	})
	seller := &fakeSeller{
		current: map[string]model.Posting{},
		byDate: []model.Transaction{
			{OperationID: 1, OperationDate: msk(2025, 6, 20, 0), PostingNumber: "1-1",
				Services: []model.ServiceLine{{Name: "Logistics", Price: d("-10")}}},
			{OperationID: 2, OperationDate: msk(2025, 8, 5, 0), PostingNumber: "1-1",
				Services: []model.ServiceLine{{Name: "Return", Price: d("-20")}}},
		},
	}
	s, _, _ := newTestSyncer(st, seller)

	require.NoError(t, s.Run(context.Background()))

	// 10-30 июня, июль, август, 1 сентября
	require.Len(t, seller.dateRanges, 4)
	for i, w := range seller.dateRanges {
		assert.False(t, w.To.After(w.From.AddDate(0, 1, 0)), "window %d is longer than a month", i)
		if i > 0 {
			assert.True(t, w.From.After(seller.dateRanges[i-1].To), "window %d overlaps", i)
		}
	}
	assert.True(t, msk(2025, 6, 10, 0).Equal(seller.dateRanges[0].From))
	assert.True(t, msk(2025, 9, 1, 0).Equal(seller.dateRanges[3].From))

	u := st.unit("1-1")
	assert.Len(t, u.Services, 2)
	assert.True(t, msk(2025, 8, 5, 0).Equal(*u.LastOperationDate))
}

func TestRunMergeLookupFailureSkipped(t *testing.T) {
	last := msk(2025, 8, 25, 0)
	st := newFakeStore(
		model.Unit{Posting: model.Posting{PostingNumber: "1-1", StatusOzon: "delivered", CreatedAt: msk(2025, 8, 20, 9)}},
		model.Unit{Posting: model.Posting{PostingNumber: "2-1", StatusOzon: "delivered", CreatedAt: msk(2025, 8, 20, 9)},
			LastOperationDate: &last},
	)
	st.lookupErr = map[string]error{"1-1": errors.New("db down")}
	seller := &fakeSeller{
		current: map[string]model.Posting{},
		byDate: []model.Transaction{
			{OperationID: 1, OperationDate: msk(2025, 8, 27, 0), PostingNumber: "1-1",
				Services: []model.ServiceLine{{Name: "Logistics", Price: d("-10")}}},
			{OperationID: 2, OperationDate: msk(2025, 8, 27, 0), PostingNumber: "2-1",
				Services: []model.ServiceLine{{Name: "Logistics", Price: d("-15")}}},
		},
	}
	s, _, m := newTestSyncer(st, seller)

	require.NoError(t, s.Run(context.Background()))

	assert.Len(t, st.unit("2-1").Services, 1)
	assert.Empty(t, st.unit("1-1").Services)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SkippedErrors.WithLabelValues(StateMergingTransactions)))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.OrphanTransactions))
}

func TestRunMergeFetchFailure(t *testing.T) {
	st := newFakeStore(model.Unit{Posting: model.Posting{PostingNumber: "1-1", StatusOzon: "delivered", CreatedAt: msk(2025, 8, 20, 9)}})
	seller := &fakeSeller{current: map[string]model.Posting{}, byDateErr: errors.New("502")}
	s, _, _ := newTestSyncer(st, seller)

	err := s.Run(context.Background())
	assert.ErrorIs(t, err, ErrMerge)
}

func TestRunLedger(t *testing.T) {
	st := newFakeStore(model.Unit{Posting: model.Posting{PostingNumber: "1-1", StatusOzon: "delivered", CreatedAt: msk(2025, 8, 20, 9)}})
	st.ledger[1] = model.LedgerEntry{OperationID: 1, OperationDate: msk(2025, 7, 10, 0)}
	seller := &fakeSeller{
		current: map[string]model.Posting{},
		ledger:  []model.LedgerEntry{{OperationID: 2, OperationDate: msk(2025, 8, 3, 0)}},
	}
	s, _, m := newTestSyncer(st, seller)

	require.NoError(t, s.Run(context.Background()))
	// июль, август, сентябрь
	assert.Equal(t, 3, seller.ledgerCalls)
	assert.Contains(t, st.ledger, int64(2))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.LedgerSaved))
}

func TestRunLedgerFailureIsNotFatal(t *testing.T) {
	st := newFakeStore(model.Unit{Posting: model.Posting{PostingNumber: "1-1", StatusOzon: "delivered", CreatedAt: msk(2025, 8, 20, 9)}})
	seller := &fakeSeller{current: map[string]model.Posting{}, ledgerErr: errors.New("502")}
	s, _, _ := newTestSyncer(st, seller)

	require.NoError(t, s.Run(context.Background()))
	assert.Equal(t, 1, seller.ledgerCalls)
}

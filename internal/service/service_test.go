package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iurnickita/unitecon/internal/daterange"
	"github.com/iurnickita/unitecon/internal/events"
	eventsconfig "github.com/iurnickita/unitecon/internal/events/config"
	"github.com/iurnickita/unitecon/internal/metrics"
	"github.com/iurnickita/unitecon/internal/model"
	"github.com/iurnickita/unitecon/internal/service/config"
	"github.com/iurnickita/unitecon/internal/store"
)

// fakeStore реализует только то, что вызывают тесты
type fakeStore struct {
	store.Store
	units map[string]model.Unit
	err   error
}

func (s *fakeStore) UnitGetByNumber(_ context.Context, number string) (model.Unit, error) {
	if s.err != nil {
		return model.Unit{}, s.err
	}
	u, ok := s.units[number]
	if !ok {
		return model.Unit{}, store.ErrNoRows
	}
	return u, nil
}

func (s *fakeStore) UnitGetRevenueBySku(context.Context, time.Time, time.Time) ([]model.SkuRevenue, error) {
	return []model.SkuRevenue{{Sku: "555", Money: decimal.NewFromInt(1000), Count: 1}}, nil
}

func (s *fakeStore) AdvertisingGetSpendByProduct(context.Context, time.Time, time.Time) ([]model.ProductSpend, error) {
	return []model.ProductSpend{{ProductID: "555", MoneySpent: decimal.NewFromInt(50)}}, nil
}

type countingSyncer struct {
	runs int
	err  error
}

func (s *countingSyncer) Run(context.Context) error {
	s.runs++
	return s.err
}

func TestSyncDelegates(t *testing.T) {
	units := &countingSyncer{}
	ads := &countingSyncer{err: errors.New("ads down")}
	s := newService(&fakeStore{}, units, ads)

	require.NoError(t, s.SyncUnits(context.Background()))
	assert.Error(t, s.SyncAdvertising(context.Background()))
	assert.Equal(t, 1, units.runs)
	assert.Equal(t, 1, ads.runs)
}

func TestGetUnit(t *testing.T) {
	st := &fakeStore{units: map[string]model.Unit{"1-1": {Posting: model.Posting{PostingNumber: "1-1"}}}}
	s := newService(st, &countingSyncer{}, &countingSyncer{})

	u, err := s.GetUnit(context.Background(), "1-1")
	require.NoError(t, err)
	assert.Equal(t, "1-1", u.PostingNumber)

	_, err = s.GetUnit(context.Background(), "")
	assert.ErrorIs(t, err, ErrInsufficientData)

	_, err = s.GetUnit(context.Background(), "2-1")
	assert.ErrorIs(t, err, ErrNotFound)

	st.err = errors.New("db down")
	_, err = s.GetUnit(context.Background(), "1-1")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestDrr(t *testing.T) {
	s := newService(&fakeStore{}, &countingSyncer{}, &countingSyncer{})

	day := time.Date(2025, 8, 27, 0, 0, 0, 0, daterange.Location)
	rows, err := s.Drr(context.Background(), day, day, nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "5", rows[0].Drr.String())
}

func TestNewServiceBadConfig(t *testing.T) {
	// без регистрации: NewMetrics вызывается в пакете несколько раз
	m := metrics.NewMetrics(nil)
	cfg := config.Config{
		Units: config.UnitsConfig{BackfillEpoch: "2024-10-01", IngestFallback: "2025-08-19"},
		Ads:   config.AdsConfig{Epoch: "26.08.2025"},
	}

	_, err := NewService(cfg, &fakeStore{}, events.NewPublisher(eventsconfig.Config{}), m, zap.NewNop())
	assert.ErrorIs(t, err, ErrBadConfig)

	cfg.Ads.Epoch = "2025-08-26"
	cfg.Units.CostPrices = map[string]string{"hat-black": "abc"}
	_, err = NewService(cfg, &fakeStore{}, events.NewPublisher(eventsconfig.Config{}), m, zap.NewNop())
	assert.ErrorIs(t, err, ErrBadConfig)

	cfg.Units.CostPrices = map[string]string{"hat-black": "151"}
	s, err := NewService(cfg, &fakeStore{}, events.NewPublisher(eventsconfig.Config{}), m, zap.NewNop())
	require.NoError(t, err)
	assert.NotNil(t, s)
}

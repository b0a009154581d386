package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/iurnickita/unitecon/internal/daterange"
	"github.com/iurnickita/unitecon/internal/economy"
	"github.com/iurnickita/unitecon/internal/events"
	"github.com/iurnickita/unitecon/internal/metrics"
	"github.com/iurnickita/unitecon/internal/model"
	"github.com/iurnickita/unitecon/internal/report"
	"github.com/iurnickita/unitecon/internal/service/adsync"
	"github.com/iurnickita/unitecon/internal/service/analytics"
	"github.com/iurnickita/unitecon/internal/service/config"
	"github.com/iurnickita/unitecon/internal/service/performanceclient"
	"github.com/iurnickita/unitecon/internal/service/sellerclient"
	"github.com/iurnickita/unitecon/internal/service/unitsync"
	"github.com/iurnickita/unitecon/internal/store"
	"github.com/iurnickita/unitecon/internal/unit"
)

type Service interface {
	SyncUnits(ctx context.Context) error
	SyncAdvertising(ctx context.Context) error

	GetUnits(ctx context.Context, filter model.UnitFilter) ([]model.Unit, error)
	GetUnit(ctx context.Context, number string) (model.Unit, error)
	GetAdvertising(ctx context.Context, filter model.AdvertisingFilter) ([]model.AdvertisingRecord, error)

	RevenueBySku(ctx context.Context, from, to time.Time) ([]model.SkuRevenue, error)
	StatusCountsBySku(ctx context.Context, from, to time.Time) ([]model.SkuStatusCount, error)
	Drr(ctx context.Context, from, to time.Time, skus []string) ([]model.SkuDrr, error)
}

var (
	ErrInsufficientData = errors.New("insufficient data")
	ErrNotFound         = errors.New("not found")
	ErrBadConfig        = errors.New("bad service config")
)

// Syncer - один запуск синхронизации домена
type Syncer interface {
	Run(ctx context.Context) error
}

type service struct {
	store     store.Store
	units     Syncer
	ads       Syncer
	analytics *analytics.Analytics
}

func NewService(cfg config.Config, store store.Store, publisher events.Publisher, m *metrics.Metrics,
	zaplog *zap.Logger) (Service, error) {
	backfillEpoch, err := daterange.ParseDay(cfg.Units.BackfillEpoch)
	if err != nil {
		return nil, fmt.Errorf("%w: backfill epoch: %w", ErrBadConfig, err)
	}
	ingestFallback, err := daterange.ParseDay(cfg.Units.IngestFallback)
	if err != nil {
		return nil, fmt.Errorf("%w: ingest fallback: %w", ErrBadConfig, err)
	}
	adsEpoch, err := daterange.ParseDay(cfg.Ads.Epoch)
	if err != nil {
		return nil, fmt.Errorf("%w: ads epoch: %w", ErrBadConfig, err)
	}
	costs, err := economy.NewCostTable(cfg.Units.CostPrices)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadConfig, err)
	}

	seller := sellerclient.NewSellerClient(cfg.Seller, zaplog.Named("seller"))
	tokens := performanceclient.NewTokenProvider(cfg.Performance.Addr, cfg.Performance.ClientID,
		cfg.Performance.ClientSecret, cfg.Performance.Timeout)
	performance := performanceclient.NewPerformanceClient(cfg.Performance, tokens)
	poller := report.NewPoller(performance, cfg.Performance.ReportInterval, cfg.Performance.ReportAttempts,
		zaplog.Named("report"))

	units := unitsync.NewSyncer(unitsync.Options{
		BackfillEpoch:  backfillEpoch,
		IngestFallback: ingestFallback,
		Parallelism:    cfg.Units.Parallelism,
	}, store, seller, unit.NewBuilder(costs), publisher, m, zaplog.Named("units"))

	ads := adsync.NewSyncer(adsync.Options{
		Epoch:          adsEpoch,
		AggregateTitle: cfg.Ads.AggregateTitle,
		CPOCampaigns:   cfg.Ads.CPOCampaigns,
		CPOSpanDays:    cfg.Ads.CPOSpanDays,
		Parallelism:    cfg.Ads.Parallelism,
	}, store, performance, poller, m, zaplog.Named("ads"))

	return newService(store, units, ads), nil
}

func newService(store store.Store, units, ads Syncer) *service {
	return &service{
		store:     store,
		units:     units,
		ads:       ads,
		analytics: analytics.NewAnalytics(store),
	}
}

func (service *service) SyncUnits(ctx context.Context) error {
	return service.units.Run(ctx)
}

func (service *service) SyncAdvertising(ctx context.Context) error {
	return service.ads.Run(ctx)
}

func (service *service) GetUnits(ctx context.Context, filter model.UnitFilter) ([]model.Unit, error) {
	return service.store.UnitGetAll(ctx, filter)
}

func (service *service) GetUnit(ctx context.Context, number string) (model.Unit, error) {
	if number == "" {
		return model.Unit{}, ErrInsufficientData
	}
	u, err := service.store.UnitGetByNumber(ctx, number)
	if err != nil {
		if errors.Is(err, store.ErrNoRows) {
			return model.Unit{}, ErrNotFound
		}
		return model.Unit{}, err
	}
	return u, nil
}

func (service *service) GetAdvertising(ctx context.Context, filter model.AdvertisingFilter) ([]model.AdvertisingRecord, error) {
	return service.store.AdvertisingGetAll(ctx, filter)
}

func (service *service) RevenueBySku(ctx context.Context, from, to time.Time) ([]model.SkuRevenue, error) {
	return service.analytics.RevenueBySku(ctx, from, to)
}

func (service *service) StatusCountsBySku(ctx context.Context, from, to time.Time) ([]model.SkuStatusCount, error) {
	return service.analytics.StatusCountsBySku(ctx, from, to)
}

func (service *service) Drr(ctx context.Context, from, to time.Time, skus []string) ([]model.SkuDrr, error) {
	return service.analytics.Drr(ctx, from, to, skus)
}

// Package adsync загружает рекламную статистику: дневную по кампаниям и отчеты CPO.
package adsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/iurnickita/unitecon/internal/daterange"
	"github.com/iurnickita/unitecon/internal/metrics"
	"github.com/iurnickita/unitecon/internal/model"
	"github.com/iurnickita/unitecon/internal/report"
	"github.com/iurnickita/unitecon/internal/service/performanceclient"
	"github.com/iurnickita/unitecon/internal/store"
)

// Конвейеры
const (
	PipelineDaily = "daily"
	PipelineCPO   = "cpo"
)

// статус строк CPO: отчет не отдает статус кампании
const cpoStatus = "active"

var (
	ErrDaily = errors.New("daily advertising sync stopped")
	ErrCPO   = errors.New("cpo advertising sync stopped")

	ErrCampaignsSkipped = errors.New("campaigns skipped")
)

type Store interface {
	AdvertisingSaveMany(ctx context.Context, records []model.AdvertisingRecord) error
	AdvertisingGetLastSavedAt(ctx context.Context, cpo bool) (time.Time, error)
}

// ReportFetcher - заказ и загрузка асинхронного отчета.
type ReportFetcher interface {
	Fetch(ctx context.Context, req report.Request) ([]byte, error)
}

type Options struct {
	// Первый день загрузки при пустой таблице
	Epoch time.Time
	// Сводная кампания, которая дублирует товарные
	AggregateTitle string
	CPOCampaigns   []string
	CPOSpanDays    int
	Parallelism    int
}

type Syncer struct {
	opts    Options
	store   Store
	client  performanceclient.PerformanceClient
	reports ReportFetcher
	metrics *metrics.Metrics
	zaplog  *zap.Logger
	now     func() time.Time
}

func NewSyncer(opts Options, store Store, client performanceclient.PerformanceClient, reports ReportFetcher,
	m *metrics.Metrics, zaplog *zap.Logger) *Syncer {
	if opts.Parallelism <= 0 {
		opts.Parallelism = 1
	}
	return &Syncer{
		opts:    opts,
		store:   store,
		client:  client,
		reports: reports,
		metrics: m,
		zaplog:  zaplog,
		now:     time.Now,
	}
}

// Run выполняет оба конвейера. Каждый останавливается на первом неудачном дне или окне,
// ошибки обоих возвращаются вместе.
func (s *Syncer) Run(ctx context.Context) error {
	now := s.now()
	zaplog := s.zaplog.With(zap.String("run_id", uuid.NewString()))

	var errs []error
	if err := s.daily(ctx, zaplog, now); err != nil {
		errs = append(errs, fmt.Errorf("%w: %w", ErrDaily, err))
	}
	if len(s.opts.CPOCampaigns) > 0 {
		if err := s.cpo(ctx, zaplog, now); err != nil {
			errs = append(errs, fmt.Errorf("%w: %w", ErrCPO, err))
		}
	}
	return errors.Join(errs...)
}

// checkpoint - последний сохраненный день конвейера или начало учета
func (s *Syncer) checkpoint(ctx context.Context, cpo bool) (time.Time, error) {
	last, err := s.store.AdvertisingGetLastSavedAt(ctx, cpo)
	switch {
	case err == nil:
		return last, nil
	case errors.Is(err, store.ErrNoRows):
		return s.opts.Epoch, nil
	default:
		return time.Time{}, err
	}
}

func (s *Syncer) save(ctx context.Context, pipeline string, records []model.AdvertisingRecord) error {
	if len(records) == 0 {
		return nil
	}
	if err := s.store.AdvertisingSaveMany(ctx, records); err != nil {
		return fmt.Errorf("save %d records: %w", len(records), err)
	}
	s.metrics.AdRecordsSaved.WithLabelValues(pipeline).Add(float64(len(records)))
	return nil
}

// daily - дневная статистика кампаний, день за днем с чекпоинта
func (s *Syncer) daily(ctx context.Context, zaplog *zap.Logger, now time.Time) error {
	since, err := s.checkpoint(ctx, false)
	if err != nil {
		return err
	}

	for day := range daterange.Days(since, now) {
		stats, err := s.client.DailyStats(ctx, day)
		if err != nil {
			return fmt.Errorf("daily stats of %s: %w", day.Format(daterange.DayLayout), err)
		}

		records, skipped := s.dailyRecords(ctx, zaplog, day, stats)
		if err := s.save(ctx, PipelineDaily, records); err != nil {
			return err
		}
		zaplog.Info("daily advertising saved",
			zap.String("day", day.Format(daterange.DayLayout)),
			zap.Int("campaigns", len(stats)), zap.Int("records", len(records)), zap.Int("skipped", skipped))
		// чекпоинт остается на этом дне, следующий запуск загрузит его заново
		if skipped > 0 {
			return fmt.Errorf("%w: %d on %s", ErrCampaignsSkipped, skipped, day.Format(daterange.DayLayout))
		}
	}
	return nil
}

// dailyRecords собирает строку по каждой кампании дня. Кампании, по которым не
// удалось получить данные, пропускаются и возвращаются числом.
func (s *Syncer) dailyRecords(ctx context.Context, zaplog *zap.Logger, day time.Time,
	stats []performanceclient.DailyStat) ([]model.AdvertisingRecord, int) {
	found := make([]*model.AdvertisingRecord, len(stats))
	failed := make([]bool, len(stats))

	var g errgroup.Group
	g.SetLimit(s.opts.Parallelism)
	for i, stat := range stats {
		if stat.Title == s.opts.AggregateTitle {
			continue
		}
		g.Go(func() error {
			record, err := s.campaignRecord(ctx, day, stat.ID)
			switch {
			case err != nil:
				failed[i] = true
				s.metrics.SkippedErrors.WithLabelValues(PipelineDaily).Inc()
				zaplog.Warn("campaign skipped", zap.String("campaign_id", stat.ID), zap.Error(err))
			case record.ProductID == "":
				zaplog.Debug("campaign without objects", zap.String("campaign_id", stat.ID))
			default:
				found[i] = &record
			}
			return nil
		})
	}
	g.Wait()

	var records []model.AdvertisingRecord
	skipped := 0
	for i, r := range found {
		if r != nil {
			records = append(records, *r)
		}
		if failed[i] {
			skipped++
		}
	}
	return records, skipped
}

func (s *Syncer) campaignRecord(ctx context.Context, day time.Time, campaignID string) (model.AdvertisingRecord, error) {
	objects, err := s.client.CampaignObjects(ctx, campaignID)
	if err != nil {
		return model.AdvertisingRecord{}, fmt.Errorf("objects: %w", err)
	}
	if len(objects) == 0 {
		return model.AdvertisingRecord{}, nil
	}

	placement, err := s.client.CampaignPlacement(ctx, campaignID, day)
	if err != nil {
		return model.AdvertisingRecord{}, fmt.Errorf("placement: %w", err)
	}

	stat, err := s.client.ProductStats(ctx, campaignID, day)
	if err != nil {
		return model.AdvertisingRecord{}, fmt.Errorf("product stats: %w", err)
	}

	spent := stat.MoneySpent.Round(2)
	views := decimal.NewFromInt(stat.Views)
	clicks := decimal.NewFromInt(stat.Clicks)
	toCart := decimal.NewFromInt(stat.ToCart)

	return model.AdvertisingRecord{
		SavedAt:      day,
		CampaignID:   campaignID,
		ProductID:    objects[0],
		Type:         placement,
		Title:        stat.Title,
		Status:       stat.Status,
		MoneySpent:   spent,
		Views:        stat.Views,
		Clicks:       stat.Clicks,
		ToCart:       stat.ToCart,
		AvgBid:       stat.AvgBid.Round(2),
		WeeklyBudget: stat.WeeklyBudget.Round(2),
		Orders:       stat.Orders,
		OrdersMoney:  stat.OrdersMoney.Round(2),
		Ctr:          model.Percent(clicks, views),
		CrToCart:     model.Percent(toCart, clicks),
		CostPerCart:  model.Ratio(spent, toCart),
	}, nil
}

// cpo - отчеты по оплате за заказ окнами с чекпоинта
func (s *Syncer) cpo(ctx context.Context, zaplog *zap.Logger, now time.Time) error {
	since, err := s.checkpoint(ctx, true)
	if err != nil {
		return err
	}

	for _, window := range daterange.Spans(since, now, s.opts.CPOSpanDays) {
		data, err := s.reports.Fetch(ctx, performanceclient.CPORequest(s.opts.CPOCampaigns, window))
		if err != nil {
			return fmt.Errorf("cpo report from %s: %w", window.From.Format(daterange.DayLayout), err)
		}
		rows, err := performanceclient.ParseCPOReport(data, s.opts.CPOCampaigns)
		if err != nil {
			return err
		}

		records := cpoRecords(zaplog, s.opts.CPOCampaigns, rows)
		if err := s.save(ctx, PipelineCPO, records); err != nil {
			return err
		}
		zaplog.Info("cpo advertising saved",
			zap.String("from", window.From.Format(daterange.DayLayout)),
			zap.String("to", window.To.Format(daterange.DayLayout)),
			zap.Int("records", len(records)))
	}
	return nil
}

type cpoKey struct {
	day        time.Time
	campaignID string
	sku        string
}

// cpoRecords сводит строки отчета в одну запись на день, кампанию и товар:
// расход суммируется, каждая строка - один заказ, ставка усредняется.
func cpoRecords(zaplog *zap.Logger, campaigns []string, rows map[string][]performanceclient.CPORow) []model.AdvertisingRecord {
	var keys []cpoKey
	records := make(map[cpoKey]*model.AdvertisingRecord)
	bids := make(map[cpoKey]decimal.Decimal)

	for _, campaignID := range campaigns {
		for _, row := range rows[campaignID] {
			day, err := daterange.ParseDayFirst(row.Date)
			if err != nil {
				zaplog.Warn("cpo row with bad date", zap.String("campaign_id", campaignID), zap.String("date", row.Date))
				continue
			}

			key := cpoKey{day: day, campaignID: campaignID, sku: row.Sku}
			r, ok := records[key]
			if !ok {
				r = &model.AdvertisingRecord{
					SavedAt:    day,
					CampaignID: campaignID,
					ProductID:  row.Sku,
					Type:       model.AdTypeCPO,
					Title:      row.Title,
					Status:     cpoStatus,
				}
				records[key] = r
				keys = append(keys, key)
			}
			r.MoneySpent = r.MoneySpent.Add(row.MoneySpent.Decimal)
			r.Orders++
			bids[key] = bids[key].Add(row.BidValue.Decimal)
		}
	}

	result := make([]model.AdvertisingRecord, 0, len(keys))
	for _, key := range keys {
		r := records[key]
		r.MoneySpent = r.MoneySpent.Round(2)
		r.AvgBid = model.Ratio(bids[key], decimal.NewFromInt(r.Orders))
		result = append(result, *r)
	}
	return result
}

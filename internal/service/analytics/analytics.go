// Package analytics - агрегаты по сохраненным юнитам и рекламе.
package analytics

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iurnickita/unitecon/internal/daterange"
	"github.com/iurnickita/unitecon/internal/model"
)

var ErrBadRange = errors.New("range start is after its end")

type Store interface {
	UnitGetRevenueBySku(ctx context.Context, from, to time.Time) ([]model.SkuRevenue, error)
	UnitGetStatusCountsBySku(ctx context.Context, from, to time.Time) ([]model.SkuStatusCount, error)
	AdvertisingGetSpendByProduct(ctx context.Context, from, to time.Time) ([]model.ProductSpend, error)
}

type Analytics struct {
	store Store
}

func NewAnalytics(store Store) *Analytics {
	return &Analytics{store: store}
}

// bounds - дни from..to включительно
func bounds(from, to time.Time) (time.Time, time.Time, error) {
	from, to = daterange.StartOfDay(from), daterange.EndOfDay(to)
	if from.After(to) {
		return time.Time{}, time.Time{}, ErrBadRange
	}
	return from, to, nil
}

// RevenueBySku - сумма цен и число юнитов, созданных в дни from..to.
func (a *Analytics) RevenueBySku(ctx context.Context, from, to time.Time) ([]model.SkuRevenue, error) {
	from, to, err := bounds(from, to)
	if err != nil {
		return nil, err
	}
	return a.store.UnitGetRevenueBySku(ctx, from, to)
}

func (a *Analytics) StatusCountsBySku(ctx context.Context, from, to time.Time) ([]model.SkuStatusCount, error) {
	from, to, err := bounds(from, to)
	if err != nil {
		return nil, err
	}
	return a.store.UnitGetStatusCountsBySku(ctx, from, to)
}

// Drr сопоставляет расход на рекламу товара с выручкой по тому же sku.
// Пустой skus - все товары, у которых был расход или выручка.
func (a *Analytics) Drr(ctx context.Context, from, to time.Time, skus []string) ([]model.SkuDrr, error) {
	from, to, err := bounds(from, to)
	if err != nil {
		return nil, err
	}

	revenue, err := a.store.UnitGetRevenueBySku(ctx, from, to)
	if err != nil {
		return nil, err
	}
	spend, err := a.store.AdvertisingGetSpendByProduct(ctx, from, to)
	if err != nil {
		return nil, err
	}

	rows := make(map[string]*model.SkuDrr)
	row := func(sku string) *model.SkuDrr {
		r, ok := rows[sku]
		if !ok {
			r = &model.SkuDrr{Sku: sku}
			rows[sku] = r
		}
		return r
	}
	for _, r := range revenue {
		dr := row(r.Sku)
		dr.Revenue = dr.Revenue.Add(r.Money)
		dr.Orders += r.Count
	}
	for _, s := range spend {
		dr := row(s.ProductID)
		dr.MoneySpent = dr.MoneySpent.Add(s.MoneySpent)
	}

	wanted := skus
	if len(wanted) == 0 {
		for sku := range rows {
			wanted = append(wanted, sku)
		}
		sort.Strings(wanted)
	}

	result := make([]model.SkuDrr, 0, len(wanted))
	for _, sku := range wanted {
		dr := model.SkuDrr{Sku: sku, MoneySpent: decimal.Zero, Revenue: decimal.Zero}
		if r, ok := rows[sku]; ok {
			dr = *r
		}
		dr.MoneySpent = dr.MoneySpent.Round(2)
		dr.Revenue = dr.Revenue.Round(2)
		dr.Drr = model.Percent(dr.MoneySpent, dr.Revenue)
		result = append(result, dr)
	}
	return result, nil
}

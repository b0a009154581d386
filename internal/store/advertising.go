package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/iurnickita/unitecon/internal/daterange"
	"github.com/iurnickita/unitecon/internal/model"
)

const advertisingColumns = "saved_at, campaign_id, product_id, type, title, status," +
	" money_spent, views, clicks, to_cart, avg_bid, weekly_budget, orders, orders_money," +
	" ctr, cr_to_cart, cost_per_cart"

// повторная загрузка того же дня перезаписывает строку
const advertisingUpsert = "INSERT INTO advertising (" + advertisingColumns + ")" +
	" VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)" +
	" ON CONFLICT (saved_at, campaign_id, product_id) DO UPDATE SET" +
	" type = EXCLUDED.type," +
	" title = EXCLUDED.title," +
	" status = EXCLUDED.status," +
	" money_spent = EXCLUDED.money_spent," +
	" views = EXCLUDED.views," +
	" clicks = EXCLUDED.clicks," +
	" to_cart = EXCLUDED.to_cart," +
	" avg_bid = EXCLUDED.avg_bid," +
	" weekly_budget = EXCLUDED.weekly_budget," +
	" orders = EXCLUDED.orders," +
	" orders_money = EXCLUDED.orders_money," +
	" ctr = EXCLUDED.ctr," +
	" cr_to_cart = EXCLUDED.cr_to_cart," +
	" cost_per_cart = EXCLUDED.cost_per_cart"

func advertisingArgs(r model.AdvertisingRecord) ([]any, error) {
	return []any{
		daterange.Day(r.SavedAt).Format(daterange.DayLayout), r.CampaignID, r.ProductID, r.Type, r.Title, r.Status,
		r.MoneySpent, r.Views, r.Clicks, r.ToCart, r.AvgBid, r.WeeklyBudget, r.Orders, r.OrdersMoney,
		r.Ctr, r.CrToCart, r.CostPerCart,
	}, nil
}

func (store *store) AdvertisingSaveMany(ctx context.Context, records []model.AdvertisingRecord) error {
	return saveMany(ctx, store.database, advertisingUpsert, records, advertisingArgs)
}

// AdvertisingGetLastSavedAt - чекпоинт отдельно для строк CPO и для дневной статистики.
func (store *store) AdvertisingGetLastSavedAt(ctx context.Context, cpo bool) (time.Time, error) {
	last, err := store.lastTime(ctx, "SELECT MAX(saved_at)::timestamp FROM advertising WHERE (type = $1) = $2",
		model.AdTypeCPO, cpo)
	if err != nil {
		return time.Time{}, err
	}
	return daterange.FromDate(last), nil
}

func (store *store) AdvertisingGetAll(ctx context.Context, filter model.AdvertisingFilter) ([]model.AdvertisingRecord, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if filter.ProductID != "" {
		add("product_id = $%d", filter.ProductID)
	}
	if !filter.From.IsZero() {
		add("saved_at >= $%d", daterange.Day(filter.From).Format(daterange.DayLayout))
	}
	if !filter.To.IsZero() {
		add("saved_at <= $%d", daterange.Day(filter.To).Format(daterange.DayLayout))
	}

	query := "SELECT " + advertisingColumns + " FROM advertising"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY saved_at DESC, campaign_id, product_id"

	rows, err := store.database.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []model.AdvertisingRecord
	for rows.Next() {
		var r model.AdvertisingRecord
		err := rows.Scan(&r.SavedAt, &r.CampaignID, &r.ProductID, &r.Type, &r.Title, &r.Status,
			&r.MoneySpent, &r.Views, &r.Clicks, &r.ToCart, &r.AvgBid, &r.WeeklyBudget, &r.Orders, &r.OrdersMoney,
			&r.Ctr, &r.CrToCart, &r.CostPerCart)
		if err != nil {
			return nil, err
		}
		r.SavedAt = daterange.FromDate(r.SavedAt)
		records = append(records, r)
	}
	return records, rows.Err()
}

// AdvertisingGetSpendByProduct - расход по товарам за дни from..to включительно.
func (store *store) AdvertisingGetSpendByProduct(ctx context.Context, from, to time.Time) ([]model.ProductSpend, error) {
	rows, err := store.database.QueryContext(ctx,
		"SELECT product_id, COALESCE(SUM(money_spent), 0) FROM advertising"+
			" WHERE saved_at >= $1 AND saved_at <= $2"+
			" GROUP BY product_id ORDER BY product_id",
		daterange.Day(from).Format(daterange.DayLayout),
		daterange.Day(to).Format(daterange.DayLayout))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var spend []model.ProductSpend
	for rows.Next() {
		var s model.ProductSpend
		if err := rows.Scan(&s.ProductID, &s.MoneySpent); err != nil {
			return nil, err
		}
		spend = append(spend, s)
	}
	return spend, rows.Err()
}

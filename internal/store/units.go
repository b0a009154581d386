package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/iurnickita/unitecon/internal/model"
)

const unitColumns = "posting_number, order_id, order_number, status_ozon, created_at, in_process_at," +
	" product, sku, price, old_price, currency_code," +
	" delivery_type, city, is_premium, payment_type_group_name, warehouse_id, warehouse_name, cluster_from, cluster_to," +
	" status, services, total_services, cost_price, margin, last_operation_date, operation_ids"

const unitUpsert = "INSERT INTO units (" + unitColumns + ")" +
	" VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19," +
	" $20, $21, $22, $23, $24, $25, $26)" +
	" ON CONFLICT (posting_number) DO UPDATE SET" +
	" order_id = EXCLUDED.order_id," +
	" order_number = EXCLUDED.order_number," +
	" status_ozon = EXCLUDED.status_ozon," +
	" created_at = EXCLUDED.created_at," +
	" in_process_at = EXCLUDED.in_process_at," +
	" product = EXCLUDED.product," +
	" sku = EXCLUDED.sku," +
	" price = EXCLUDED.price," +
	" old_price = EXCLUDED.old_price," +
	" currency_code = EXCLUDED.currency_code," +
	" delivery_type = EXCLUDED.delivery_type," +
	" city = EXCLUDED.city," +
	" is_premium = EXCLUDED.is_premium," +
	" payment_type_group_name = EXCLUDED.payment_type_group_name," +
	" warehouse_id = EXCLUDED.warehouse_id," +
	" warehouse_name = EXCLUDED.warehouse_name," +
	" cluster_from = EXCLUDED.cluster_from," +
	" cluster_to = EXCLUDED.cluster_to," +
	" status = EXCLUDED.status," +
	" services = EXCLUDED.services," +
	" total_services = EXCLUDED.total_services," +
	" cost_price = EXCLUDED.cost_price," +
	" margin = EXCLUDED.margin," +
	" last_operation_date = EXCLUDED.last_operation_date," +
	" operation_ids = EXCLUDED.operation_ids"

func unitArgs(u model.Unit) ([]any, error) {
	services := u.Services
	if services == nil {
		services = []model.ServiceLine{}
	}
	servicesJSON, err := json.Marshal(services)
	if err != nil {
		return nil, fmt.Errorf("unit %s services: %w", u.PostingNumber, err)
	}
	ids := u.OperationIDs
	if ids == nil {
		ids = []int64{}
	}
	idsJSON, err := json.Marshal(ids)
	if err != nil {
		return nil, fmt.Errorf("unit %s operation ids: %w", u.PostingNumber, err)
	}

	var inProcessAt, lastOperationDate sql.NullTime
	if !u.InProcessAt.IsZero() {
		inProcessAt = sql.NullTime{Time: u.InProcessAt, Valid: true}
	}
	if u.LastOperationDate != nil {
		lastOperationDate = sql.NullTime{Time: *u.LastOperationDate, Valid: true}
	}

	return []any{
		u.PostingNumber, u.OrderID, u.OrderNumber, u.StatusOzon, u.CreatedAt, inProcessAt,
		u.Product, u.Sku, u.Price, u.OldPrice, u.CurrencyCode,
		u.DeliveryType, u.City, u.IsPremium, u.PaymentTypeGroupName, u.WarehouseID, u.WarehouseName, u.ClusterFrom, u.ClusterTo,
		u.Status, string(servicesJSON), u.TotalServices, u.CostPrice, u.Margin, lastOperationDate, string(idsJSON),
	}, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUnit(row scanner) (model.Unit, error) {
	var (
		u                 model.Unit
		inProcessAt       sql.NullTime
		lastOperationDate sql.NullTime
		servicesJSON      []byte
		idsJSON           []byte
	)
	err := row.Scan(
		&u.PostingNumber, &u.OrderID, &u.OrderNumber, &u.StatusOzon, &u.CreatedAt, &inProcessAt,
		&u.Product, &u.Sku, &u.Price, &u.OldPrice, &u.CurrencyCode,
		&u.DeliveryType, &u.City, &u.IsPremium, &u.PaymentTypeGroupName, &u.WarehouseID, &u.WarehouseName, &u.ClusterFrom, &u.ClusterTo,
		&u.Status, &servicesJSON, &u.TotalServices, &u.CostPrice, &u.Margin, &lastOperationDate, &idsJSON)
	if err != nil {
		return model.Unit{}, err
	}

	if inProcessAt.Valid {
		u.InProcessAt = inProcessAt.Time
	}
	if lastOperationDate.Valid {
		last := lastOperationDate.Time
		u.LastOperationDate = &last
	}
	if err := json.Unmarshal(servicesJSON, &u.Services); err != nil {
		return model.Unit{}, fmt.Errorf("unit %s services: %w", u.PostingNumber, err)
	}
	if err := json.Unmarshal(idsJSON, &u.OperationIDs); err != nil {
		return model.Unit{}, fmt.Errorf("unit %s operation ids: %w", u.PostingNumber, err)
	}
	return u, nil
}

func (store *store) queryUnits(ctx context.Context, query string, args ...any) ([]model.Unit, error) {
	rows, err := store.database.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var units []model.Unit
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, err
		}
		units = append(units, u)
	}
	return units, rows.Err()
}

func (store *store) UnitCount(ctx context.Context) (int64, error) {
	var count int64
	err := store.database.QueryRowContext(ctx, "SELECT COUNT(*) FROM units").Scan(&count)
	return count, err
}

// UnitSaveMany - upsert по номеру отправления
func (store *store) UnitSaveMany(ctx context.Context, units []model.Unit) error {
	return saveMany(ctx, store.database, unitUpsert, units, unitArgs)
}

// UnitGetByNumber ищет юнит по номеру отправления, затем по номеру заказа.
func (store *store) UnitGetByNumber(ctx context.Context, number string) (model.Unit, error) {
	row := store.database.QueryRowContext(ctx,
		"SELECT "+unitColumns+" FROM units"+
			" WHERE posting_number = $1 OR order_number = $1"+
			" ORDER BY (posting_number = $1) DESC, created_at"+
			" LIMIT 1",
		number)
	u, err := scanUnit(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Unit{}, ErrNoRows
		}
		return model.Unit{}, err
	}
	return u, nil
}

func (store *store) UnitGetByStatusNotIn(ctx context.Context, statuses []string) ([]model.Unit, error) {
	return store.queryUnits(ctx,
		"SELECT "+unitColumns+" FROM units"+
			" WHERE NOT (status_ozon = ANY($1))"+
			" ORDER BY created_at",
		statuses)
}

func (store *store) UnitGetLastCreatedAt(ctx context.Context) (time.Time, error) {
	return store.lastTime(ctx, "SELECT MAX(created_at) FROM units")
}

func (store *store) UnitGetLastOperationDate(ctx context.Context) (time.Time, error) {
	return store.lastTime(ctx, "SELECT MAX(last_operation_date) FROM units")
}

func (store *store) UnitGetAll(ctx context.Context, filter model.UnitFilter) ([]model.Unit, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if filter.Sku != "" {
		add("sku = $%d", filter.Sku)
	}
	if filter.Status != "" {
		add("status = $%d", filter.Status)
	}
	if !filter.From.IsZero() {
		add("created_at >= $%d", filter.From)
	}
	if !filter.To.IsZero() {
		add("created_at <= $%d", filter.To)
	}

	query := "SELECT " + unitColumns + " FROM units"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"

	return store.queryUnits(ctx, query, args...)
}

func (store *store) UnitGetRevenueBySku(ctx context.Context, from, to time.Time) ([]model.SkuRevenue, error) {
	rows, err := store.database.QueryContext(ctx,
		"SELECT sku, COALESCE(SUM(price), 0), COUNT(*) FROM units"+
			" WHERE created_at >= $1 AND created_at <= $2"+
			" GROUP BY sku ORDER BY sku",
		from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var revenue []model.SkuRevenue
	for rows.Next() {
		var r model.SkuRevenue
		if err := rows.Scan(&r.Sku, &r.Money, &r.Count); err != nil {
			return nil, err
		}
		revenue = append(revenue, r)
	}
	return revenue, rows.Err()
}

func (store *store) UnitGetStatusCountsBySku(ctx context.Context, from, to time.Time) ([]model.SkuStatusCount, error) {
	rows, err := store.database.QueryContext(ctx,
		"SELECT sku, status, COUNT(*) FROM units"+
			" WHERE created_at >= $1 AND created_at <= $2"+
			" GROUP BY sku, status ORDER BY sku, status",
		from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counts []model.SkuStatusCount
	for rows.Next() {
		var c model.SkuStatusCount
		if err := rows.Scan(&c.Sku, &c.Status, &c.Count); err != nil {
			return nil, err
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

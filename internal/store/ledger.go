package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/iurnickita/unitecon/internal/model"
)

const ledgerUpsert = "INSERT INTO ledger (operation_id, operation_type, operation_type_name, operation_date," +
	" delivery_charge, return_delivery_charge, accruals_for_sale, sale_commission, amount, type, services)" +
	" VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)" +
	" ON CONFLICT (operation_id) DO UPDATE SET" +
	" operation_type = EXCLUDED.operation_type," +
	" operation_type_name = EXCLUDED.operation_type_name," +
	" operation_date = EXCLUDED.operation_date," +
	" delivery_charge = EXCLUDED.delivery_charge," +
	" return_delivery_charge = EXCLUDED.return_delivery_charge," +
	" accruals_for_sale = EXCLUDED.accruals_for_sale," +
	" sale_commission = EXCLUDED.sale_commission," +
	" amount = EXCLUDED.amount," +
	" type = EXCLUDED.type," +
	" services = EXCLUDED.services"

func ledgerArgs(e model.LedgerEntry) ([]any, error) {
	services := e.Services
	if services == nil {
		services = []model.ServiceLine{}
	}
	servicesJSON, err := json.Marshal(services)
	if err != nil {
		return nil, fmt.Errorf("operation %d services: %w", e.OperationID, err)
	}
	return []any{
		e.OperationID, e.OperationType, e.OperationTypeName, e.OperationDate,
		e.DeliveryCharge, e.ReturnDeliveryCharge, e.AccrualsForSale, e.SaleCommission, e.Amount, e.Type,
		string(servicesJSON),
	}, nil
}

func (store *store) LedgerSaveMany(ctx context.Context, entries []model.LedgerEntry) error {
	return saveMany(ctx, store.database, ledgerUpsert, entries, ledgerArgs)
}

func (store *store) LedgerGetLastOperationDate(ctx context.Context) (time.Time, error) {
	return store.lastTime(ctx, "SELECT MAX(operation_date) FROM ledger")
}

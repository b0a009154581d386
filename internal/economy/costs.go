package economy

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// CostTable - себестоимость по товару (offer_id или название из настроек).
type CostTable map[string]decimal.Decimal

// NewCostTable разбирает таблицу из конфигурации. Ключи без значения - ошибка.
func NewCostTable(raw map[string]string) (CostTable, error) {
	costs := make(CostTable, len(raw))
	for product, value := range raw {
		product = strings.TrimSpace(product)
		cost, err := decimal.NewFromString(strings.Replace(strings.TrimSpace(value), ",", ".", 1))
		if err != nil {
			return nil, fmt.Errorf("cost price for %q: %w", product, err)
		}
		costs[product] = cost
	}
	return costs, nil
}

// Cost возвращает себестоимость; ноль для неизвестного товара.
func (c CostTable) Cost(product string) decimal.Decimal {
	if cost, ok := c[product]; ok {
		return cost
	}
	return decimal.Zero
}

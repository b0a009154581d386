// Package economy считает статус и экономику юнита по накопленным строкам услуг.
package economy

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/iurnickita/unitecon/internal/model"
)

// Статусы юнита
const (
	StatusReturnPVZ         = "PVZ return"
	StatusInstantCancel     = "instant cancellation"
	StatusAwaitingDelivery  = "awaiting delivery"
	StatusAwaitingPackaging = "awaiting packaging"
	StatusInTransit         = "in transit"
	StatusAwaitingPayment   = "awaiting payment"
	StatusDelivered         = "delivered"
	StatusReturned          = "returned"
	StatusUnknown           = "unknown status"
)

// услуги обратной логистики
var returnServices = map[string]struct{}{
	"MarketplaceServiceItemRedistributionReturnsPVZ": {},
	"MarketplaceServiceItemReturnFlowLogistic":       {},
}

type Input struct {
	StatusOzon string
	Product    string
	Price      decimal.Decimal
	Services   []model.ServiceLine
}

type Result struct {
	Status        string
	TotalServices decimal.Decimal
	CostPrice     decimal.Decimal
	Margin        decimal.Decimal
}

// Classify - чистая функция: одинаковый вход всегда дает одинаковый результат.
// Вызывается на полном списке услуг при каждом изменении юнита.
func Classify(in Input, costs CostTable) (res Result) {
	defer func() {
		// некорректные данные не должны ронять синхронизацию
		if r := recover(); r != nil {
			res = fallback(in.StatusOzon)
		}
	}()

	totalServices := decimal.Zero
	commission := decimal.Zero
	hasCommission := false
	hasReturn := false

	for _, s := range in.Services {
		totalServices = totalServices.Add(s.Price)

		name := strings.TrimSpace(s.Name)
		if name == model.ServiceSalesCommission {
			hasCommission = true
			commission = commission.Add(s.Price)
		}
		if _, ok := returnServices[name]; ok {
			hasReturn = true
		}
	}

	res = Result{
		TotalServices: totalServices.Round(2),
		CostPrice:     decimal.Zero,
		Margin:        decimal.Zero,
	}

	switch in.StatusOzon {
	case model.PostingStatusCancelled:
		if hasReturn {
			res.Status = StatusReturnPVZ
		} else {
			res.Status = StatusInstantCancel
		}
	case model.PostingStatusAwaitingDeliver:
		res.Status = StatusAwaitingDelivery
	case model.PostingStatusAwaitingPackaging:
		res.Status = StatusAwaitingPackaging
	case model.PostingStatusDelivering:
		res.Status = StatusInTransit
	case model.PostingStatusDelivered:
		switch {
		case !hasCommission:
			res.Status = StatusAwaitingPayment
		case commission.IsNegative():
			res.Status = StatusDelivered
			res.CostPrice = costs.Cost(in.Product).Round(2)
			res.Margin = in.Price.Sub(res.CostPrice).Add(totalServices).Round(2)
		default:
			res.Status = StatusReturned
		}
	default:
		res.Status = passThrough(in.StatusOzon)
	}

	return res
}

func fallback(statusOzon string) Result {
	return Result{
		Status:        passThrough(statusOzon),
		TotalServices: decimal.Zero,
		CostPrice:     decimal.Zero,
		Margin:        decimal.Zero,
	}
}

func passThrough(statusOzon string) string {
	if statusOzon == "" {
		return StatusUnknown
	}
	return statusOzon
}

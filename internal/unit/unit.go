// Package unit собирает юнит из отправления и финансовых операций.
package unit

import (
	"slices"

	"github.com/iurnickita/unitecon/internal/economy"
	"github.com/iurnickita/unitecon/internal/model"
)

// Seed - исходное состояние юнита: новое отправление (FromPosting) или сохраненный юнит (FromUnit).
type Seed interface {
	unit() model.Unit
}

type postingSeed struct {
	posting model.Posting
}

func (s postingSeed) unit() model.Unit {
	return model.Unit{Posting: s.posting}
}

type unitSeed struct {
	existing model.Unit
}

func (s unitSeed) unit() model.Unit {
	u := s.existing
	u.Services = slices.Clone(u.Services)
	u.OperationIDs = slices.Clone(u.OperationIDs)
	if u.LastOperationDate != nil {
		last := *u.LastOperationDate
		u.LastOperationDate = &last
	}
	return u
}

// FromPosting - впервые увиденное отправление, без услуг.
func FromPosting(p model.Posting) Seed {
	return postingSeed{posting: p}
}

// FromUnit - сохраненный юнит с уже накопленными услугами.
func FromUnit(u model.Unit) Seed {
	return unitSeed{existing: u}
}

type Builder struct {
	costs economy.CostTable
}

func NewBuilder(costs economy.CostTable) *Builder {
	return &Builder{costs: costs}
}

// Build добавляет услуги и комиссии операций к юниту и пересчитывает экономику по полному списку.
// Операции с уже учтенным OperationID пропускаются.
func (b *Builder) Build(seed Seed, txs []model.Transaction) model.Unit {
	u := seed.unit()

	applied := make(map[int64]struct{}, len(u.OperationIDs))
	for _, id := range u.OperationIDs {
		applied[id] = struct{}{}
	}

	fresh := make([]model.Transaction, 0, len(txs))
	for _, tx := range txs {
		if tx.OperationID != 0 {
			if _, ok := applied[tx.OperationID]; ok {
				continue
			}
			applied[tx.OperationID] = struct{}{}
			u.OperationIDs = append(u.OperationIDs, tx.OperationID)
		}
		fresh = append(fresh, tx)
	}

	for _, tx := range fresh {
		// дата не разобрана
		if tx.OperationDate.IsZero() {
			continue
		}
		if u.LastOperationDate == nil || tx.OperationDate.After(*u.LastOperationDate) {
			last := tx.OperationDate
			u.LastOperationDate = &last
		}
	}

	for _, tx := range fresh {
		u.Services = append(u.Services, tx.Services...)
	}
	for _, tx := range fresh {
		if !tx.SaleCommission.IsZero() {
			u.Services = append(u.Services, model.ServiceLine{
				Name:  model.ServiceSalesCommission,
				Price: tx.SaleCommission,
			})
		}
	}
	if u.Services == nil {
		u.Services = []model.ServiceLine{}
	}

	res := economy.Classify(economy.Input{
		StatusOzon: u.StatusOzon,
		Product:    u.Product,
		Price:      u.Price,
		Services:   u.Services,
	}, b.costs)

	u.Status = res.Status
	u.TotalServices = res.TotalServices
	u.CostPrice = res.CostPrice
	u.Margin = res.Margin

	return u
}

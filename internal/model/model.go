package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Отправления (FBO)

type Posting struct {
	PostingNumber string
	OrderID       string
	OrderNumber   string
	StatusOzon    string
	CreatedAt     time.Time
	InProcessAt   time.Time

	Product      string // offer_id
	Sku          string
	Price        decimal.Decimal
	OldPrice     decimal.Decimal
	CurrencyCode string

	DeliveryType         string
	City                 string
	IsPremium            bool
	PaymentTypeGroupName string
	WarehouseID          string
	WarehouseName        string
	ClusterFrom          string
	ClusterTo            string
}

// Статусы отправлений из API
const (
	PostingStatusAwaitingPackaging = "awaiting_packaging"
	PostingStatusAwaitingDeliver   = "awaiting_deliver"
	PostingStatusDelivering        = "delivering"
	PostingStatusDelivered         = "delivered"
	PostingStatusCancelled         = "cancelled"
)

// TerminalStatuses - статусы, после которых отправление больше не обновляется.
var TerminalStatuses = []string{PostingStatusCancelled, PostingStatusDelivered}

// Финансовые операции

type ServiceLine struct {
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
}

const ServiceSalesCommission = "SalesCommission"

type Transaction struct {
	OperationID    int64
	OperationDate  time.Time
	PostingNumber  string
	SaleCommission decimal.Decimal
	Services       []ServiceLine
	Items          []TransactionItem
}

type TransactionItem struct {
	Name string `json:"name"`
	Sku  int64  `json:"sku"`
}

// LedgerEntry - операция без привязки к отправлению (подписки, хранение и т.п.)
type LedgerEntry struct {
	OperationID          int64
	OperationType        string
	OperationTypeName    string
	OperationDate        time.Time
	DeliveryCharge       decimal.Decimal
	ReturnDeliveryCharge decimal.Decimal
	AccrualsForSale      decimal.Decimal
	SaleCommission       decimal.Decimal
	Amount               decimal.Decimal
	Type                 string
	Services             []ServiceLine
}

// Юнит-экономика

type Unit struct {
	Posting

	Status            string
	Services          []ServiceLine
	TotalServices     decimal.Decimal
	CostPrice         decimal.Decimal
	Margin            decimal.Decimal
	LastOperationDate *time.Time
	OperationIDs      []int64
}

type UnitFilter struct {
	Sku    string
	Status string
	From   time.Time
	To     time.Time
}

// Реклама

type AdvertisingRecord struct {
	SavedAt    time.Time
	CampaignID string
	ProductID  string

	Type         string
	Title        string
	Status       string
	MoneySpent   decimal.Decimal
	Views        int64
	Clicks       int64
	ToCart       int64
	AvgBid       decimal.Decimal
	WeeklyBudget decimal.Decimal
	Orders       int64
	OrdersMoney  decimal.Decimal

	Ctr         decimal.Decimal
	CrToCart    decimal.Decimal
	CostPerCart decimal.Decimal
}

// AdTypeCPO - тип строк отчета по оплате за заказ
const AdTypeCPO = "CPO"

type AdvertisingFilter struct {
	ProductID string
	From      time.Time
	To        time.Time
}

// Аналитика

type SkuRevenue struct {
	Sku   string
	Money decimal.Decimal
	Count int64
}

type SkuStatusCount struct {
	Sku    string
	Status string
	Count  int64
}

type ProductSpend struct {
	ProductID  string
	MoneySpent decimal.Decimal
}

type SkuDrr struct {
	Sku        string
	MoneySpent decimal.Decimal
	Revenue    decimal.Decimal
	Orders     int64
	Drr        decimal.Decimal // процент
}

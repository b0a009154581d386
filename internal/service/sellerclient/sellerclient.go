// Package sellerclient - клиент Seller API: FBO отправления и финансовые операции.
package sellerclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/iurnickita/unitecon/internal/daterange"
	"github.com/iurnickita/unitecon/internal/model"
	"github.com/iurnickita/unitecon/internal/service/config"
)

const (
	postingsLimit        = 1000
	transactionsPageSize = 1000

	pathPostingList     = "/v2/posting/fbo/list"
	pathPostingGet      = "/v2/posting/fbo/get"
	pathTransactionList = "/v3/finance/transaction/list"

	operationDateLayout = "2006-01-02 15:04:05"
)

var (
	ErrFetchFailed = errors.New("seller api request failed")
	ErrNotFound    = errors.New("posting not found")
)

// TransactionFilter - пустые поля в запрос не попадают.
type TransactionFilter struct {
	From          time.Time
	To            time.Time
	PostingNumber string
}

type SellerClient interface {
	FetchPostings(ctx context.Context, since, to time.Time) ([]model.Posting, error)
	FetchPosting(ctx context.Context, postingNumber string) (model.Posting, error)
	FetchTransactions(ctx context.Context, filter TransactionFilter) ([]model.Transaction, error)
	FetchLedger(ctx context.Context, from, to time.Time) ([]model.LedgerEntry, error)
}

type sellerClient struct {
	client  *resty.Client
	limiter *rate.Limiter
	zaplog  *zap.Logger
}

func NewSellerClient(cfg config.SellerConfig, zaplog *zap.Logger) SellerClient {
	client := resty.New().
		SetBaseURL(cfg.Addr).
		SetTimeout(cfg.Timeout).
		SetHeader("Client-Id", cfg.ClientID).
		SetHeader("Api-Key", cfg.APIKey).
		SetHeader("Content-Type", "application/json")

	limit := rate.Inf
	if cfg.RPS > 0 {
		limit = rate.Limit(cfg.RPS)
	}

	return &sellerClient{
		client:  client,
		limiter: rate.NewLimiter(limit, 1),
		zaplog:  zaplog,
	}
}

// post выполняет запрос с учетом лимита и разбирает ответ в out.
func (c *sellerClient) post(ctx context.Context, path string, body any, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(body).
		Post(path)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrFetchFailed, path, err)
	}

	switch resp.StatusCode() {
	case http.StatusOK:
		if err := json.Unmarshal(resp.Body(), out); err != nil {
			return fmt.Errorf("%w: %s: decode: %w", ErrFetchFailed, path, err)
		}
		return nil
	case http.StatusNotFound:
		return ErrNotFound
	default:
		return fmt.Errorf("%w: %s: status %d", ErrFetchFailed, path, resp.StatusCode())
	}
}

// Отправления

type postingWith struct {
	AnalyticsData bool `json:"analytics_data"`
	FinancialData bool `json:"financial_data"`
	LegalInfo     bool `json:"legal_info"`
}

var postingWithAll = postingWith{AnalyticsData: true, FinancialData: true, LegalInfo: true}

type postingListRequest struct {
	Filter struct {
		Since string `json:"since"`
		To    string `json:"to"`
	} `json:"filter"`
	Limit  int         `json:"limit"`
	Offset int         `json:"offset"`
	With   postingWith `json:"with"`
}

type postingGetRequest struct {
	PostingNumber string      `json:"posting_number"`
	With          postingWith `json:"with"`
}

type apiPosting struct {
	OrderID       int64     `json:"order_id"`
	OrderNumber   string    `json:"order_number"`
	PostingNumber string    `json:"posting_number"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
	InProcessAt   time.Time `json:"in_process_at"`
	Products      []struct {
		Sku          int64       `json:"sku"`
		Name         string      `json:"name"`
		Quantity     int         `json:"quantity"`
		OfferID      string      `json:"offer_id"`
		Price        model.Money `json:"price"`
		CurrencyCode string      `json:"currency_code"`
	} `json:"products"`
	AnalyticsData struct {
		City                 string `json:"city"`
		DeliveryType         string `json:"delivery_type"`
		IsPremium            bool   `json:"is_premium"`
		PaymentTypeGroupName string `json:"payment_type_group_name"`
		WarehouseID          int64  `json:"warehouse_id"`
		WarehouseName        string `json:"warehouse_name"`
	} `json:"analytics_data"`
	FinancialData struct {
		Products []struct {
			ProductID    int64       `json:"product_id"`
			CurrencyCode string      `json:"currency_code"`
			OldPrice     model.Money `json:"old_price"`
			Price        model.Money `json:"price"`
		} `json:"products"`
		ClusterFrom string `json:"cluster_from"`
		ClusterTo   string `json:"cluster_to"`
	} `json:"financial_data"`
}

// toModel - юнит считается по первому товару отправления.
func (p apiPosting) toModel() model.Posting {
	posting := model.Posting{
		PostingNumber: p.PostingNumber,
		OrderNumber:   p.OrderNumber,
		StatusOzon:    p.Status,
		CreatedAt:     p.CreatedAt,
		InProcessAt:   p.InProcessAt,

		DeliveryType:         p.AnalyticsData.DeliveryType,
		City:                 p.AnalyticsData.City,
		IsPremium:            p.AnalyticsData.IsPremium,
		PaymentTypeGroupName: p.AnalyticsData.PaymentTypeGroupName,
		WarehouseName:        p.AnalyticsData.WarehouseName,
		ClusterFrom:          p.FinancialData.ClusterFrom,
		ClusterTo:            p.FinancialData.ClusterTo,
	}
	if p.OrderID != 0 {
		posting.OrderID = strconv.FormatInt(p.OrderID, 10)
	}
	if p.AnalyticsData.WarehouseID != 0 {
		posting.WarehouseID = strconv.FormatInt(p.AnalyticsData.WarehouseID, 10)
	}
	if len(p.Products) > 0 {
		posting.Product = p.Products[0].OfferID
		if p.Products[0].Sku != 0 {
			posting.Sku = strconv.FormatInt(p.Products[0].Sku, 10)
		}
	}
	if len(p.FinancialData.Products) > 0 {
		fin := p.FinancialData.Products[0]
		posting.Price = fin.Price.Decimal
		posting.OldPrice = fin.OldPrice.Decimal
		posting.CurrencyCode = fin.CurrencyCode
	}
	return posting
}

// FetchPostings загружает все отправления, созданные в [since, to].
// Страницы запрашиваются, пока очередная заполнена целиком.
func (c *sellerClient) FetchPostings(ctx context.Context, since, to time.Time) ([]model.Posting, error) {
	var req postingListRequest
	req.Filter.Since = since.UTC().Format(time.RFC3339)
	req.Filter.To = to.UTC().Format(time.RFC3339)
	req.Limit = postingsLimit
	req.With = postingWithAll

	var postings []model.Posting
	for {
		var resp struct {
			Result []apiPosting `json:"result"`
		}
		if err := c.post(ctx, pathPostingList, req, &resp); err != nil {
			return nil, err
		}
		for _, p := range resp.Result {
			postings = append(postings, p.toModel())
		}
		if len(resp.Result) < postingsLimit {
			return postings, nil
		}
		req.Offset += postingsLimit
	}
}

func (c *sellerClient) FetchPosting(ctx context.Context, postingNumber string) (model.Posting, error) {
	var resp struct {
		Result *apiPosting `json:"result"`
	}
	err := c.post(ctx, pathPostingGet, postingGetRequest{PostingNumber: postingNumber, With: postingWithAll}, &resp)
	if err != nil {
		return model.Posting{}, err
	}
	if resp.Result == nil {
		return model.Posting{}, ErrNotFound
	}
	return resp.Result.toModel(), nil
}

// Финансовые операции

type dateFilter struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type transactionListRequest struct {
	Filter struct {
		Date          *dateFilter `json:"date,omitempty"`
		PostingNumber string      `json:"posting_number,omitempty"`
	} `json:"filter"`
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
}

type apiTransaction struct {
	OperationID          int64       `json:"operation_id"`
	OperationType        string      `json:"operation_type"`
	OperationDate        string      `json:"operation_date"`
	OperationTypeName    string      `json:"operation_type_name"`
	DeliveryCharge       model.Money `json:"delivery_charge"`
	ReturnDeliveryCharge model.Money `json:"return_delivery_charge"`
	AccrualsForSale      model.Money `json:"accruals_for_sale"`
	SaleCommission       model.Money `json:"sale_commission"`
	Amount               model.Money `json:"amount"`
	Type                 string      `json:"type"`
	Posting              struct {
		PostingNumber string `json:"posting_number"`
	} `json:"posting"`
	Items    []model.TransactionItem `json:"items"`
	Services []struct {
		Name  string      `json:"name"`
		Price model.Money `json:"price"`
	} `json:"services"`
}

func (t apiTransaction) services() []model.ServiceLine {
	services := make([]model.ServiceLine, 0, len(t.Services))
	for _, s := range t.Services {
		services = append(services, model.ServiceLine{Name: s.Name, Price: s.Price.Decimal})
	}
	return services
}

func (t apiTransaction) toModel(date time.Time) model.Transaction {
	return model.Transaction{
		OperationID:    t.OperationID,
		OperationDate:  date,
		PostingNumber:  t.Posting.PostingNumber,
		SaleCommission: t.SaleCommission.Decimal,
		Services:       t.services(),
		Items:          t.Items,
	}
}

func (t apiTransaction) toLedger(date time.Time) model.LedgerEntry {
	return model.LedgerEntry{
		OperationID:          t.OperationID,
		OperationType:        t.OperationType,
		OperationTypeName:    t.OperationTypeName,
		OperationDate:        date,
		DeliveryCharge:       t.DeliveryCharge.Decimal,
		ReturnDeliveryCharge: t.ReturnDeliveryCharge.Decimal,
		AccrualsForSale:      t.AccrualsForSale.Decimal,
		SaleCommission:       t.SaleCommission.Decimal,
		Amount:               t.Amount.Decimal,
		Type:                 t.Type,
		Services:             t.services(),
	}
}

// parseOperationDate - API отдает дату операции по Москве без зоны.
func parseOperationDate(s string) (time.Time, error) {
	if t, err := time.ParseInLocation(operationDateLayout, s, daterange.Location); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

// operationDate возвращает нулевую дату, если ее не удалось разобрать.
// Такая операция не сдвигает чекпоинт юнита.
func (c *sellerClient) operationDate(op apiTransaction) time.Time {
	t, err := parseOperationDate(op.OperationDate)
	if err != nil {
		c.zaplog.Warn("bad operation date",
			zap.Int64("operation_id", op.OperationID), zap.String("operation_date", op.OperationDate))
		return time.Time{}
	}
	return t
}

func (c *sellerClient) fetchOperations(ctx context.Context, filter TransactionFilter) ([]apiTransaction, error) {
	var req transactionListRequest
	if !filter.From.IsZero() || !filter.To.IsZero() {
		req.Filter.Date = &dateFilter{
			From: filter.From.UTC().Format(time.RFC3339),
			To:   filter.To.UTC().Format(time.RFC3339),
		}
	}
	req.Filter.PostingNumber = filter.PostingNumber
	req.PageSize = transactionsPageSize

	var operations []apiTransaction
	for req.Page = 1; ; req.Page++ {
		var resp struct {
			Result struct {
				Operations []apiTransaction `json:"operations"`
				PageCount  int              `json:"page_count"`
			} `json:"result"`
		}
		if err := c.post(ctx, pathTransactionList, req, &resp); err != nil {
			return nil, err
		}
		if len(resp.Result.Operations) == 0 {
			break
		}
		operations = append(operations, resp.Result.Operations...)
		if req.Page >= resp.Result.PageCount {
			break
		}
	}
	return operations, nil
}

// FetchTransactions загружает операции по фильтру, постранично до page_count
// или до первой пустой страницы.
func (c *sellerClient) FetchTransactions(ctx context.Context, filter TransactionFilter) ([]model.Transaction, error) {
	operations, err := c.fetchOperations(ctx, filter)
	if err != nil {
		return nil, err
	}

	txs := make([]model.Transaction, 0, len(operations))
	for _, op := range operations {
		txs = append(txs, op.toModel(c.operationDate(op)))
	}
	return txs, nil
}

// FetchLedger возвращает операции периода без привязки к отправлению.
func (c *sellerClient) FetchLedger(ctx context.Context, from, to time.Time) ([]model.LedgerEntry, error) {
	operations, err := c.fetchOperations(ctx, TransactionFilter{From: from, To: to})
	if err != nil {
		return nil, err
	}

	var entries []model.LedgerEntry
	for _, op := range operations {
		if op.Posting.PostingNumber != "" {
			continue
		}
		entries = append(entries, op.toLedger(c.operationDate(op)))
	}
	return entries, nil
}

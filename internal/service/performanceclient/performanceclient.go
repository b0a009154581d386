// Package performanceclient - клиент Performance API: статистика рекламных кампаний и асинхронные отчеты.
package performanceclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"github.com/iurnickita/unitecon/internal/daterange"
	"github.com/iurnickita/unitecon/internal/model"
	"github.com/iurnickita/unitecon/internal/report"
	"github.com/iurnickita/unitecon/internal/service/config"
)

const (
	pathDailyStats    = "/api/client/statistics/daily/json"
	pathCampaigns     = "/api/client/campaign"
	pathObjects       = "/api/client/campaign/%s/objects"
	pathProductStats  = "/api/client/statistics/campaign/product/json"
	pathReportSubmit  = "/api/client/statistics/json"
	pathReportState   = "/api/client/statistics/%s"
	pathReportContent = "/api/client/statistics/report"
)

var (
	ErrFetchFailed = errors.New("performance api request failed")
	ErrNotFound    = errors.New("campaign data not found")
)

// DailyStat - строка дневной статистики по кампании.
type DailyStat struct {
	ID         string
	Title      string
	Date       string
	Views      int64
	Clicks     int64
	MoneySpent model.Money
	AvgBid     model.Money
}

// ProductStat - статистика кампании в разрезе товара.
type ProductStat struct {
	ID           string
	Title        string
	Status       string
	Views        int64
	Clicks       int64
	ToCart       int64
	MoneySpent   model.Money
	AvgBid       model.Money
	WeeklyBudget model.Money
	Orders       int64
	OrdersMoney  model.Money
}

// CPORow - строка отчета по оплате за заказ. Дата в формате ДД.ММ.ГГГГ.
type CPORow struct {
	Date       string
	Sku        string
	Title      string
	MoneySpent model.Money
	BidValue   model.Money
}

type PerformanceClient interface {
	report.Backend

	DailyStats(ctx context.Context, day time.Time) ([]DailyStat, error)
	CampaignPlacement(ctx context.Context, campaignID string, day time.Time) (string, error)
	CampaignObjects(ctx context.Context, campaignID string) ([]string, error)
	ProductStats(ctx context.Context, campaignID string, day time.Time) (ProductStat, error)
}

type performanceClient struct {
	client  *resty.Client
	limiter *rate.Limiter
}

func NewPerformanceClient(cfg config.PerformanceConfig, tokens TokenProvider) PerformanceClient {
	client := resty.New().
		SetBaseURL(cfg.Addr).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json").
		OnBeforeRequest(func(_ *resty.Client, r *resty.Request) error {
			token, err := tokens.Token(r.Context())
			if err != nil {
				return err
			}
			r.SetAuthToken(token)
			return nil
		})

	limit := rate.Inf
	if cfg.RPS > 0 {
		limit = rate.Limit(cfg.RPS)
	}

	return &performanceClient{
		client:  client,
		limiter: rate.NewLimiter(limit, 1),
	}
}

func (c *performanceClient) do(ctx context.Context, method, path string, query map[string]string, body any, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	req := c.client.R().SetContext(ctx).SetQueryParams(query)
	if body != nil {
		req.SetBody(body)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		if errors.Is(err, ErrAuthFailed) {
			return err
		}
		return fmt.Errorf("%w: %s: %w", ErrFetchFailed, path, err)
	}

	switch resp.StatusCode() {
	case http.StatusOK:
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	default:
		return fmt.Errorf("%w: %s: status %d", ErrFetchFailed, path, resp.StatusCode())
	}

	switch out := out.(type) {
	case nil:
	case *[]byte:
		*out = resp.Body()
	default:
		if err := json.Unmarshal(resp.Body(), out); err != nil {
			return fmt.Errorf("%w: %s: decode: %w", ErrFetchFailed, path, err)
		}
	}
	return nil
}

func dayQuery(day time.Time) map[string]string {
	d := daterange.Day(day).Format(daterange.DayLayout)
	return map[string]string{"dateFrom": d, "dateTo": d}
}

// count - счетчик, который API отдает то числом, то строкой.
type count int64

func (c *count) UnmarshalJSON(data []byte) error {
	var m model.Money
	if err := m.UnmarshalJSON(data); err != nil {
		return err
	}
	*c = count(m.IntPart())
	return nil
}

func (c *performanceClient) DailyStats(ctx context.Context, day time.Time) ([]DailyStat, error) {
	var resp struct {
		Rows []struct {
			ID         string      `json:"id"`
			Title      string      `json:"title"`
			Date       string      `json:"date"`
			Views      count       `json:"views"`
			Clicks     count       `json:"clicks"`
			MoneySpent model.Money `json:"moneySpent"`
			AvgBid     model.Money `json:"avgBid"`
		} `json:"rows"`
	}
	if err := c.do(ctx, http.MethodGet, pathDailyStats, dayQuery(day), nil, &resp); err != nil {
		return nil, err
	}

	stats := make([]DailyStat, 0, len(resp.Rows))
	for _, r := range resp.Rows {
		stats = append(stats, DailyStat{
			ID:         r.ID,
			Title:      r.Title,
			Date:       r.Date,
			Views:      int64(r.Views),
			Clicks:     int64(r.Clicks),
			MoneySpent: r.MoneySpent,
			AvgBid:     r.AvgBid,
		})
	}
	return stats, nil
}

// CampaignPlacement возвращает первое место размещения кампании или пустую строку.
func (c *performanceClient) CampaignPlacement(ctx context.Context, campaignID string, day time.Time) (string, error) {
	query := dayQuery(day)
	query["campaignIds"] = campaignID

	var resp struct {
		List []struct {
			ID        string   `json:"id"`
			Placement []string `json:"placement"`
		} `json:"list"`
	}
	if err := c.do(ctx, http.MethodGet, pathCampaigns, query, nil, &resp); err != nil {
		return "", err
	}
	if len(resp.List) == 0 {
		return "", fmt.Errorf("%w: campaign %s", ErrNotFound, campaignID)
	}
	if len(resp.List[0].Placement) == 0 {
		return "", nil
	}
	return resp.List[0].Placement[0], nil
}

// CampaignObjects возвращает идентификаторы рекламируемых товаров.
func (c *performanceClient) CampaignObjects(ctx context.Context, campaignID string) ([]string, error) {
	var resp struct {
		List []struct {
			ID string `json:"id"`
		} `json:"list"`
	}
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf(pathObjects, campaignID), nil, nil, &resp); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(resp.List))
	for _, o := range resp.List {
		ids = append(ids, o.ID)
	}
	return ids, nil
}

func (c *performanceClient) ProductStats(ctx context.Context, campaignID string, day time.Time) (ProductStat, error) {
	query := dayQuery(day)
	query["campaignIds"] = campaignID

	var resp struct {
		Rows []struct {
			ID           string      `json:"id"`
			Title        string      `json:"title"`
			Status       string      `json:"status"`
			Views        count       `json:"views"`
			Clicks       count       `json:"clicks"`
			ToCart       count       `json:"toCart"`
			MoneySpent   model.Money `json:"moneySpent"`
			AvgBid       model.Money `json:"avgBid"`
			WeeklyBudget model.Money `json:"weeklyBudget"`
			Orders       count       `json:"orders"`
			OrdersMoney  model.Money `json:"ordersMoney"`
		} `json:"rows"`
	}
	if err := c.do(ctx, http.MethodGet, pathProductStats, query, nil, &resp); err != nil {
		return ProductStat{}, err
	}
	if len(resp.Rows) == 0 {
		return ProductStat{}, fmt.Errorf("%w: stats of campaign %s", ErrNotFound, campaignID)
	}

	r := resp.Rows[0]
	return ProductStat{
		ID:           r.ID,
		Title:        r.Title,
		Status:       r.Status,
		Views:        int64(r.Views),
		Clicks:       int64(r.Clicks),
		ToCart:       int64(r.ToCart),
		MoneySpent:   r.MoneySpent,
		AvgBid:       r.AvgBid,
		WeeklyBudget: r.WeeklyBudget,
		Orders:       int64(r.Orders),
		OrdersMoney:  r.OrdersMoney,
	}, nil
}

// Асинхронные отчеты

type cpoParams struct {
	From      string   `json:"from"`
	To        string   `json:"to"`
	Campaigns []string `json:"campaigns"`
}

// CPORequest - заказ отчета по кампаниям с оплатой за заказ за окно дат.
func CPORequest(campaigns []string, r daterange.Range) report.Request {
	return report.Request{
		Path: pathReportSubmit,
		Params: cpoParams{
			From:      r.From.Format(daterange.DayLayout) + "T00:00:00Z",
			To:        r.To.Format(daterange.DayLayout) + "T23:59:59Z",
			Campaigns: campaigns,
		},
	}
}

func (c *performanceClient) Submit(ctx context.Context, req report.Request) (string, error) {
	var resp struct {
		UUID string `json:"UUID"`
	}
	if err := c.do(ctx, http.MethodPost, req.Path, nil, req.Params, &resp); err != nil {
		return "", err
	}
	if resp.UUID == "" {
		return "", fmt.Errorf("%w: %s: empty report uuid", ErrFetchFailed, req.Path)
	}
	return resp.UUID, nil
}

func (c *performanceClient) State(ctx context.Context, uuid string) (string, error) {
	var resp struct {
		State string `json:"state"`
	}
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf(pathReportState, uuid), nil, nil, &resp); err != nil {
		return "", err
	}
	return resp.State, nil
}

func (c *performanceClient) Download(ctx context.Context, uuid string) ([]byte, error) {
	var data []byte
	if err := c.do(ctx, http.MethodGet, pathReportContent, map[string]string{"UUID": uuid}, nil, &data); err != nil {
		return nil, err
	}
	return data, nil
}

// ParseCPOReport достает строки отчета по каждой из кампаний.
// Кампании, которых нет в отчете, пропускаются.
func ParseCPOReport(data []byte, campaigns []string) (map[string][]CPORow, error) {
	var raw map[string]struct {
		Report struct {
			Rows []struct {
				Date       string          `json:"date"`
				Sku        json.RawMessage `json:"sku"`
				Title      string          `json:"title"`
				MoneySpent model.Money     `json:"moneySpent"`
				BidValue   model.Money     `json:"bidValue"`
			} `json:"rows"`
		} `json:"report"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("cpo report: %w", err)
	}

	rows := make(map[string][]CPORow, len(campaigns))
	for _, id := range campaigns {
		entry, ok := raw[id]
		if !ok {
			continue
		}
		for _, r := range entry.Report.Rows {
			rows[id] = append(rows[id], CPORow{
				Date:       r.Date,
				Sku:        rawID(r.Sku),
				Title:      r.Title,
				MoneySpent: r.MoneySpent,
				BidValue:   r.BidValue,
			})
		}
	}
	return rows, nil
}

// rawID - идентификатор, который приходит числом или строкой.
func rawID(raw json.RawMessage) string {
	s := strings.Trim(string(raw), `"`)
	if s == "null" {
		return ""
	}
	return s
}

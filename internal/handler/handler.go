package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/iurnickita/unitecon/internal/auth"
	"github.com/iurnickita/unitecon/internal/background"
	"github.com/iurnickita/unitecon/internal/daterange"
	"github.com/iurnickita/unitecon/internal/handler/config"
	"github.com/iurnickita/unitecon/internal/logger"
	"github.com/iurnickita/unitecon/internal/model"
	"github.com/iurnickita/unitecon/internal/service"
	"github.com/iurnickita/unitecon/internal/service/analytics"
)

// Trigger - запуск синхронизации по запросу
type Trigger interface {
	Trigger(ctx context.Context) error
}

type Triggers struct {
	Units       Trigger
	Advertising Trigger
}

var ErrBadDate = errors.New("date must be YYYY-MM-DD")

// Serve блокируется до отмены ctx или ошибки сервера.
func Serve(ctx context.Context, cfg config.Config, auth auth.Auth, service service.Service, triggers Triggers,
	gatherer prometheus.Gatherer, zaplog *zap.Logger) error {
	h := newHandler(auth, service, triggers, gatherer, zaplog)

	srv := &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h.newRouter(),
	}

	errc := make(chan error, 1)
	go func() {
		zaplog.Info("http server started", zap.String("addr", cfg.ServerAddr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

type handler struct {
	auth     auth.Auth
	service  service.Service
	triggers Triggers
	gatherer prometheus.Gatherer
	zaplog   *zap.Logger
}

func newHandler(auth auth.Auth, service service.Service, triggers Triggers, gatherer prometheus.Gatherer,
	zaplog *zap.Logger) *handler {
	return &handler{
		auth:     auth,
		service:  service,
		triggers: triggers,
		gatherer: gatherer,
		zaplog:   zaplog,
	}
}

func (h *handler) newRouter() *http.ServeMux {
	api := func(f http.HandlerFunc) http.HandlerFunc {
		return logger.RequestLogMdlw(h.auth.Middleware(f), h.zaplog)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/units", api(h.GetUnits))
	mux.HandleFunc("GET /api/units/{number}", api(h.GetUnit))
	mux.HandleFunc("GET /api/advertising", api(h.GetAdvertising))
	mux.HandleFunc("GET /api/analytics/revenue", api(h.GetRevenue))
	mux.HandleFunc("GET /api/analytics/statuses", api(h.GetStatusCounts))
	mux.HandleFunc("GET /api/analytics/drr", api(h.GetDrr))
	mux.HandleFunc("POST /api/sync/units", api(h.sync(h.triggers.Units)))
	mux.HandleFunc("POST /api/sync/advertising", api(h.sync(h.triggers.Advertising)))
	mux.Handle("GET /metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))

	return mux
}

func (h *handler) writeJSON(w http.ResponseWriter, v any) {
	responseJSON, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(responseJSON)
}

// writeError переводит ошибки сервиса в коды ответа
func (h *handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrInsufficientData),
		errors.Is(err, analytics.ErrBadRange),
		errors.Is(err, ErrBadDate):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, service.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, background.ErrBusy):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		h.zaplog.Error("request failed", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

// queryDay - необязательный параметр даты
func queryDay(r *http.Request, name string) (time.Time, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return time.Time{}, nil
	}
	day, err := daterange.ParseDay(v)
	if err != nil {
		return time.Time{}, ErrBadDate
	}
	return day, nil
}

// queryRange - обязательные from и to
func queryRange(r *http.Request) (time.Time, time.Time, error) {
	from, err := queryDay(r, "from")
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	to, err := queryDay(r, "to")
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if from.IsZero() || to.IsZero() {
		return time.Time{}, time.Time{}, service.ErrInsufficientData
	}
	return from, to, nil
}

type ServiceJSON struct {
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
}

type UnitJSONResponse struct {
	PostingNumber     string          `json:"posting_number"`
	OrderNumber       string          `json:"order_number"`
	StatusOzon        string          `json:"status_ozon"`
	Status            string          `json:"status"`
	CreatedAt         time.Time       `json:"created_at"`
	Product           string          `json:"product"`
	Sku               string          `json:"sku"`
	Price             decimal.Decimal `json:"price"`
	Services          []ServiceJSON   `json:"services"`
	TotalServices     decimal.Decimal `json:"total_services"`
	CostPrice         decimal.Decimal `json:"cost_price"`
	Margin            decimal.Decimal `json:"margin"`
	LastOperationDate *time.Time      `json:"last_operation_date,omitempty"`
	WarehouseName     string          `json:"warehouse_name,omitempty"`
	City              string          `json:"city,omitempty"`
}

func unitJSON(u model.Unit) UnitJSONResponse {
	services := make([]ServiceJSON, 0, len(u.Services))
	for _, s := range u.Services {
		services = append(services, ServiceJSON{Name: s.Name, Price: s.Price})
	}
	return UnitJSONResponse{
		PostingNumber:     u.PostingNumber,
		OrderNumber:       u.OrderNumber,
		StatusOzon:        u.StatusOzon,
		Status:            u.Status,
		CreatedAt:         u.CreatedAt,
		Product:           u.Product,
		Sku:               u.Sku,
		Price:             u.Price,
		Services:          services,
		TotalServices:     u.TotalServices,
		CostPrice:         u.CostPrice,
		Margin:            u.Margin,
		LastOperationDate: u.LastOperationDate,
		WarehouseName:     u.WarehouseName,
		City:              u.City,
	}
}

func (h *handler) GetUnits(w http.ResponseWriter, r *http.Request) {
	filter := model.UnitFilter{
		Sku:    r.URL.Query().Get("sku"),
		Status: r.URL.Query().Get("status"),
	}
	from, err := queryDay(r, "from")
	if err != nil {
		h.writeError(w, err)
		return
	}
	to, err := queryDay(r, "to")
	if err != nil {
		h.writeError(w, err)
		return
	}
	if !from.IsZero() {
		filter.From = daterange.StartOfDay(from)
	}
	if !to.IsZero() {
		filter.To = daterange.EndOfDay(to)
	}

	units, err := h.service.GetUnits(r.Context(), filter)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if len(units) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	unitsJSON := make([]UnitJSONResponse, 0, len(units))
	for _, u := range units {
		unitsJSON = append(unitsJSON, unitJSON(u))
	}
	h.writeJSON(w, unitsJSON)
}

func (h *handler) GetUnit(w http.ResponseWriter, r *http.Request) {
	u, err := h.service.GetUnit(r.Context(), r.PathValue("number"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, unitJSON(u))
}

type AdvertisingJSONResponse struct {
	SavedAt     string          `json:"saved_at"`
	CampaignID  string          `json:"campaign_id"`
	ProductID   string          `json:"product_id"`
	Type        string          `json:"type"`
	Title       string          `json:"title"`
	Status      string          `json:"status"`
	MoneySpent  decimal.Decimal `json:"money_spent"`
	Views       int64           `json:"views"`
	Clicks      int64           `json:"clicks"`
	ToCart      int64           `json:"to_cart"`
	AvgBid      decimal.Decimal `json:"avg_bid"`
	Orders      int64           `json:"orders"`
	OrdersMoney decimal.Decimal `json:"orders_money"`
	Ctr         decimal.Decimal `json:"ctr"`
	CrToCart    decimal.Decimal `json:"cr_to_cart"`
	CostPerCart decimal.Decimal `json:"cost_per_cart"`
}

func (h *handler) GetAdvertising(w http.ResponseWriter, r *http.Request) {
	filter := model.AdvertisingFilter{ProductID: r.URL.Query().Get("product_id")}
	var err error
	if filter.From, err = queryDay(r, "from"); err != nil {
		h.writeError(w, err)
		return
	}
	if filter.To, err = queryDay(r, "to"); err != nil {
		h.writeError(w, err)
		return
	}

	records, err := h.service.GetAdvertising(r.Context(), filter)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if len(records) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	recordsJSON := make([]AdvertisingJSONResponse, 0, len(records))
	for _, rec := range records {
		recordsJSON = append(recordsJSON, AdvertisingJSONResponse{
			SavedAt:     rec.SavedAt.Format(daterange.DayLayout),
			CampaignID:  rec.CampaignID,
			ProductID:   rec.ProductID,
			Type:        rec.Type,
			Title:       rec.Title,
			Status:      rec.Status,
			MoneySpent:  rec.MoneySpent,
			Views:       rec.Views,
			Clicks:      rec.Clicks,
			ToCart:      rec.ToCart,
			AvgBid:      rec.AvgBid,
			Orders:      rec.Orders,
			OrdersMoney: rec.OrdersMoney,
			Ctr:         rec.Ctr,
			CrToCart:    rec.CrToCart,
			CostPerCart: rec.CostPerCart,
		})
	}
	h.writeJSON(w, recordsJSON)
}

type RevenueJSONResponse struct {
	Sku   string          `json:"sku"`
	Money decimal.Decimal `json:"money"`
	Count int64           `json:"count"`
}

func (h *handler) GetRevenue(w http.ResponseWriter, r *http.Request) {
	from, to, err := queryRange(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	revenue, err := h.service.RevenueBySku(r.Context(), from, to)
	if err != nil {
		h.writeError(w, err)
		return
	}

	revenueJSON := make([]RevenueJSONResponse, 0, len(revenue))
	for _, rv := range revenue {
		revenueJSON = append(revenueJSON, RevenueJSONResponse{Sku: rv.Sku, Money: rv.Money, Count: rv.Count})
	}
	h.writeJSON(w, revenueJSON)
}

type StatusCountJSONResponse struct {
	Sku    string `json:"sku"`
	Status string `json:"status"`
	Count  int64  `json:"count"`
}

func (h *handler) GetStatusCounts(w http.ResponseWriter, r *http.Request) {
	from, to, err := queryRange(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	counts, err := h.service.StatusCountsBySku(r.Context(), from, to)
	if err != nil {
		h.writeError(w, err)
		return
	}

	countsJSON := make([]StatusCountJSONResponse, 0, len(counts))
	for _, c := range counts {
		countsJSON = append(countsJSON, StatusCountJSONResponse{Sku: c.Sku, Status: c.Status, Count: c.Count})
	}
	h.writeJSON(w, countsJSON)
}

type DrrJSONResponse struct {
	Sku        string          `json:"sku"`
	MoneySpent decimal.Decimal `json:"money_spent"`
	Revenue    decimal.Decimal `json:"revenue"`
	Orders     int64           `json:"orders"`
	Drr        decimal.Decimal `json:"drr"`
}

// GetDrr - ?from=&to=&sku=1,2
func (h *handler) GetDrr(w http.ResponseWriter, r *http.Request) {
	from, to, err := queryRange(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	var skus []string
	if v := r.URL.Query().Get("sku"); v != "" {
		skus = strings.Split(v, ",")
	}

	rows, err := h.service.Drr(r.Context(), from, to, skus)
	if err != nil {
		h.writeError(w, err)
		return
	}

	drrJSON := make([]DrrJSONResponse, 0, len(rows))
	for _, d := range rows {
		drrJSON = append(drrJSON, DrrJSONResponse{
			Sku:        d.Sku,
			MoneySpent: d.MoneySpent,
			Revenue:    d.Revenue,
			Orders:     d.Orders,
			Drr:        d.Drr,
		})
	}
	h.writeJSON(w, drrJSON)
}

// sync запускает синхронизацию в фоне, запрос не ждет ее окончания
func (h *handler) sync(trigger Trigger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := trigger.Trigger(context.WithoutCancel(r.Context())); err != nil {
			h.writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}
}

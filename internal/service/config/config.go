package config

import "time"

type Config struct {
	Seller      SellerConfig      `yaml:"seller"`
	Performance PerformanceConfig `yaml:"performance"`
	Units       UnitsConfig       `yaml:"units"`
	Ads         AdsConfig         `yaml:"ads"`
}

// Seller API (отправления, финансы)
type SellerConfig struct {
	Addr     string        `yaml:"addr" env:"OZON_SELLER_ADDR" env-default:"https://api-seller.ozon.ru"`
	ClientID string        `yaml:"client_id" env:"OZON_SELLER_CLIENT_ID"`
	APIKey   string        `yaml:"api_key" env:"OZON_SELLER_API_KEY"`
	Timeout  time.Duration `yaml:"timeout" env:"OZON_SELLER_TIMEOUT" env-default:"30s"`
	// Запросов в секунду
	RPS float64 `yaml:"rps" env:"OZON_SELLER_RPS" env-default:"5"`
}

// Performance API (реклама)
type PerformanceConfig struct {
	Addr         string        `yaml:"addr" env:"OZON_PERFORMANCE_ADDR" env-default:"https://api-performance.ozon.ru"`
	ClientID     string        `yaml:"client_id" env:"OZON_PERFORMANCE_CLIENT_ID"`
	ClientSecret string        `yaml:"client_secret" env:"OZON_PERFORMANCE_CLIENT_SECRET"`
	Timeout      time.Duration `yaml:"timeout" env:"OZON_PERFORMANCE_TIMEOUT" env-default:"30s"`
	RPS          float64       `yaml:"rps" env:"OZON_PERFORMANCE_RPS" env-default:"1"`

	ReportInterval time.Duration `yaml:"report_interval" env:"REPORT_POLL_INTERVAL" env-default:"3s"`
	ReportAttempts int           `yaml:"report_attempts" env:"REPORT_POLL_ATTEMPTS" env-default:"30"`
}

type UnitsConfig struct {
	SyncInterval time.Duration `yaml:"sync_interval" env:"UNITS_SYNC_INTERVAL" env-default:"30m"`
	// Начало первичной загрузки
	BackfillEpoch string `yaml:"backfill_epoch" env:"UNITS_BACKFILL_EPOCH" env-default:"2024-10-01"`
	// Начало загрузки новых отправлений, если в базе нет ни одного
	IngestFallback string `yaml:"ingest_fallback" env:"UNITS_INGEST_FALLBACK" env-default:"2025-08-19"`
	Parallelism    int    `yaml:"parallelism" env:"UNITS_PARALLELISM" env-default:"8"`
	// Себестоимость: offer_id:сумма,...
	CostPrices map[string]string `yaml:"cost_prices" env:"UNITS_COST_PRICES"`
}

type AdsConfig struct {
	SyncInterval time.Duration `yaml:"sync_interval" env:"ADS_SYNC_INTERVAL" env-default:"1h"`
	Epoch        string        `yaml:"epoch" env:"ADS_EPOCH" env-default:"2025-08-26"`
	// Сводная строка дневной статистики, не кампания
	AggregateTitle string   `yaml:"aggregate_title" env:"ADS_AGGREGATE_TITLE" env-default:"Продвижение в поиске — все товары"`
	CPOCampaigns   []string `yaml:"cpo_campaigns" env:"ADS_CPO_CAMPAIGNS" env-separator:","`
	CPOSpanDays    int      `yaml:"cpo_span_days" env:"ADS_CPO_SPAN_DAYS" env-default:"50"`
	Parallelism    int      `yaml:"parallelism" env:"ADS_PARALLELISM" env-default:"4"`
}

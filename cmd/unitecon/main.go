package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/iurnickita/unitecon/internal/auth"
	"github.com/iurnickita/unitecon/internal/background"
	"github.com/iurnickita/unitecon/internal/config"
	"github.com/iurnickita/unitecon/internal/events"
	"github.com/iurnickita/unitecon/internal/handler"
	"github.com/iurnickita/unitecon/internal/logger"
	"github.com/iurnickita/unitecon/internal/metrics"
	"github.com/iurnickita/unitecon/internal/service"
	"github.com/iurnickita/unitecon/internal/store"
)

func main() {
	tokenSubject := flag.String("token", "", "выпустить токен API для указанного владельца и выйти")
	tokenTTL := flag.Duration("token-ttl", 30*24*time.Hour, "срок действия токена")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println("no .env file loaded")
	}

	if err := run(*tokenSubject, *tokenTTL); err != nil {
		log.Fatal(err)
	}
}

func run(tokenSubject string, tokenTTL time.Duration) error {
	cfg, err := config.GetConfig()
	if err != nil {
		return err
	}

	auth := auth.NewAuth(cfg.Handler.JWTSecret)
	if tokenSubject != "" {
		token, err := auth.IssueToken(tokenSubject, tokenTTL)
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	}

	zaplog, err := logger.NewZapLog(cfg.Logger)
	if err != nil {
		return err
	}
	defer zaplog.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := store.NewStore(cfg.Store)
	if err != nil {
		return err
	}
	defer store.Close()

	publisher := events.NewPublisher(cfg.Events)
	defer publisher.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(registry)

	service, err := service.NewService(cfg.Service, store, publisher, m, zaplog)
	if err != nil {
		return err
	}

	units := background.NewRunner(metrics.DomainUnits, service.SyncUnits, m, zaplog.Named("background"))
	ads := background.NewRunner(metrics.DomainAdvertising, service.SyncAdvertising, m, zaplog.Named("background"))
	go units.Start(ctx, cfg.Service.Units.SyncInterval)
	go ads.Start(ctx, cfg.Service.Ads.SyncInterval)

	err = handler.Serve(ctx, cfg.Handler, auth, service, handler.Triggers{Units: units, Advertising: ads},
		registry, zaplog)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	if err != nil {
		zaplog.Error("server stopped", zap.Error(err))
	}
	return err
}

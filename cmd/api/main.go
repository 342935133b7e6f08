package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/sportmart/orders/internal/cart"
	"github.com/sportmart/orders/internal/config"
	"github.com/sportmart/orders/internal/httpx"
	"github.com/sportmart/orders/internal/hub"
	kafkax "github.com/sportmart/orders/internal/kafka"
	"github.com/sportmart/orders/internal/logger"
	"github.com/sportmart/orders/internal/orders"
	"github.com/sportmart/orders/internal/postgres"
	"github.com/sportmart/orders/internal/redisx"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := logger.New(cfg.ServiceName)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Error("db_connect", err, nil)
		os.Exit(1)
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Kafka producer
	prod := kafkax.NewProducer(cfg.KafkaBrokers, 1024, log)
	prod.Start(ctx)

	// Notification hub
	h := hub.New(log)
	h.Start(ctx)

	repo := &orders.Repo{DB: db}
	svc := &orders.Service{
		Store:    repo,
		Cart:     cart.New(rdb),
		Hub:      h,
		Producer: prod,
		Log:      log,
		Name:     cfg.ServiceName,
	}

	router := httpx.NewRouter()
	oh := &httpx.OrdersHandler{Service: svc, Catalog: repo, Redis: rdb, Log: log}
	oh.Register(router)
	ah := &httpx.AdminHandler{Service: svc, Redis: rdb, Log: log}
	ah.Register(router)
	gw := &hub.Gateway{Hub: h, Log: log}
	router.Get("/ws", gw.Handle)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	go func() {
		log.Info("http_listen", map[string]any{"addr": cfg.HTTPAddr})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http_listen", err, nil)
			cancel()
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	log.Info("shutdown", nil)

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	prod.Close() // stop accepting, flush remaining
	cancel()     // stop producer loop and hub
	prod.WaitClosed()
	h.WaitStopped()
}

// Package main boots the stock alert monitor: two supervised sources
// feeding one dedup-and-dispatch pipeline, plus an ops HTTP server.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/uialert/stock-alert-monitor/internal/config"
	"github.com/uialert/stock-alert-monitor/internal/dedup"
	"github.com/uialert/stock-alert-monitor/internal/dispatch"
	httpapi "github.com/uialert/stock-alert-monitor/internal/http"
	"github.com/uialert/stock-alert-monitor/internal/listener"
	"github.com/uialert/stock-alert-monitor/internal/model"
	"github.com/uialert/stock-alert-monitor/internal/obs"
	"github.com/uialert/stock-alert-monitor/internal/pipeline"
	"github.com/uialert/stock-alert-monitor/internal/poller"
	"github.com/uialert/stock-alert-monitor/internal/state"
	"github.com/uialert/stock-alert-monitor/internal/supervisor"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	obs.InitLogger(cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		obs.Logger.Error("invalid_configuration", "error", err)
		os.Exit(1)
	}
	obs.Logger.Info("monitor_starting", "products", len(cfg.Products))

	cat := model.NewCatalog(cfg.Products)
	st := state.New(cfg.Products)
	ded := dedup.New(cfg.DedupWindow)
	disp := dispatch.New(cfg.WebhookURL, cfg.WebhookToken)
	pipe := pipeline.New(cfg.PipelineBuffer, ded, disp, st, cat)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pipe.Start(ctx, cfg.WorkerCount)

	sup := supervisor.New()
	if cfg.ChatToken != "" {
		gw := listener.NewGateway(cfg.ChatGatewayURL, cfg.ChatToken)
		sup.Add(listener.New(gw, pipe, cat, cfg.ChatGuildID, cfg.ChatSelfID))
	} else {
		obs.Logger.Warn("chat_listener_disabled", "reason", "no CHAT_TOKEN configured")
	}
	if cfg.PollEnabled {
		sup.Add(poller.New(cfg.Products, poller.NewStorefront(), pipe, st, cfg.PollInterval))
	} else {
		obs.Logger.Info("store_poller_disabled")
	}
	sup.Start(ctx)

	app := httpapi.NewApp(cfg, st, pipe, ded, sup)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.NewRouter(app),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		obs.Logger.Info("http_listen", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			obs.Logger.Error("http_server_error", "error", err)
			os.Exit(1)
		}
	}()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	s := <-sigc
	obs.Logger.Info("shutdown_signal", "signal", s.String())

	// Stop the sources first so no new events arrive, then let the
	// pipeline finish in-flight deliveries.
	sup.Stop()
	pipe.CloseIntake()

	ctxDrain, cancelDrain := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancelDrain()
	if drained := pipe.DrainUntil(ctxDrain); !drained {
		obs.Logger.Warn("shutdown_drain_timeout", "backlog_size", pipe.BacklogSize())
	} else {
		obs.Logger.Info("shutdown_drain_complete")
	}

	ctxSrv, cancelSrv := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelSrv()
	if err := srv.Shutdown(ctxSrv); err != nil {
		obs.Logger.Error("http_shutdown_error", "error", err)
	}
	pipe.Stop()
	obs.Logger.Info("monitor_stopped")
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	cache "github.com/Code-Hex/go-generics-cache"
	"go.uber.org/zap"

	multipay "github.com/eamirgh/go-multipay"
	"github.com/eamirgh/go-multipay/internal/config"
	"github.com/eamirgh/go-multipay/internal/logger"
	"github.com/eamirgh/go-multipay/payment"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger.Init(cfg.App.Env)
	defer logger.Sync()
	log := logger.L()

	pay, err := multipay.FromConfig(cfg)
	if err != nil {
		log.Fatal("failed to build gateways", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pending := cache.NewContext[string, *payment.Invoice](ctx)
	h := NewHandler(pay, pending, cfg.App.PendingTTL)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.App.Port),
		Handler:           NewRouter(h),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("server started",
			zap.Int("port", cfg.App.Port),
			zap.Strings("gateways", pay.Names()),
			zap.String("default", pay.Default()),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown failed", zap.Error(err))
	}
}

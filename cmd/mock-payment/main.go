package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jhologic12/eshop-mvp/internal/mockpay"
	"github.com/jhologic12/eshop-mvp/pkg/logger"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	port := getEnv("MOCK_PAYMENT_PORT", "8090")
	rate, err := strconv.ParseFloat(getEnv("MOCK_PAYMENT_APPROVAL_RATE", "0.95"), 64)
	if err != nil || rate < 0 || rate > 1 {
		log.Fatalf("Invalid MOCK_PAYMENT_APPROVAL_RATE: must be within [0, 1]")
	}

	lg, err := logger.New(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer lg.Sync()

	server := mockpay.NewServer(mockpay.RandomDecider{Rate: rate})
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", port),
		Handler:           server.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx := context.Background()
	go func() {
		lg.Info(ctx, "mock payment service listening", "port", port, "approval_rate", rate)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to serve: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	lg.Info(ctx, "shutting down mock payment service")
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		lg.Error(ctx, "shutdown failed", "error", err)
	}
}

package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dunamismax/pixelgate/internal/config"
	"github.com/dunamismax/pixelgate/internal/fetch"
	"github.com/dunamismax/pixelgate/internal/gateway"
	"github.com/dunamismax/pixelgate/internal/pipeline"
	"github.com/dunamismax/pixelgate/internal/telemetry"
	"go.opentelemetry.io/otel"
)

func main() {
	cfg := config.Load()
	logger := log.New(os.Stdout, "[gateway] ", log.LstdFlags|log.Lmsgprefix)

	if err := pipeline.Startup(cfg.Transform.Workers); err != nil {
		logger.Fatalf("image runtime startup failed: %v", err)
	}
	defer pipeline.Shutdown()

	shutdownTracing, err := telemetry.SetupTracing(context.Background(), cfg.Trace, logger)
	if err != nil {
		logger.Fatalf("tracing setup failed: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			logger.Printf("tracing shutdown error: %v", err)
		}
	}()

	tracer := otel.Tracer("pixelgate")
	fetcher := fetch.New(cfg.Fetch.Timeout, cfg.Fetch.MaxBodyBytes, fetch.WithTracer(tracer))

	transformer, err := pipeline.New()
	if err != nil {
		logger.Fatalf("build transformer: %v", err)
	}
	pool := pipeline.NewPool(cfg.Transform.Workers)

	app, err := gateway.NewServer(logger, fetcher, transformer, pool, cfg.Gateway, gateway.WithTracer(tracer))
	if err != nil {
		logger.Fatalf("build server: %v", err)
	}

	httpServer := &http.Server{
		Addr:        cfg.Gateway.Addr,
		Handler:     app.Handler(),
		ReadTimeout: 15 * time.Second,
		// Streaming bodies can outlive a short write timeout; give slow
		// clients two minutes end to end.
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Printf("listening on %s transform_workers=%d fetch_timeout=%s", cfg.Gateway.Addr, cfg.Transform.Workers, cfg.Fetch.Timeout)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Println("shutting down")
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Printf("graceful shutdown failed: %v", err)
	}
}

package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/contextkb/knowledge-server/internal/adapters/mcp"
	"github.com/contextkb/knowledge-server/internal/bootstrap"
	"github.com/contextkb/knowledge-server/internal/config"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config (optional)")
	flag.Parse()

	path := *configPath
	explicit := path != ""
	if !explicit {
		path = "config.yaml"
	}
	cfg, err := config.Load(path, explicit)
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg)
	if err != nil {
		log.Fatalf("bootstrap error: %v", err)
	}

	metricsSrv := serveMetrics(app, cfg.Server.MetricsPort)

	// ServeStdio blocks until the MCP client closes the pipe.
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- mcp.ServeStdio(app.MCP)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			app.Logger.Error("mcp server stopped", "error", err)
		}
	case <-ctx.Done():
		app.Logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	if err := app.Close(shutdownCtx); err != nil {
		app.Logger.Error("shutdown incomplete", "error", err)
	}
}

func serveMetrics(app *bootstrap.App, port string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", app.Metrics.Handler())

	srv := &http.Server{
		Addr:              net.JoinHostPort("", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.Logger.Error("metrics listener failed", "port", port, "error", err)
		}
	}()
	return srv
}

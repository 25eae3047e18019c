package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/vincentbai/browsetrace/internal/config"
	"github.com/vincentbai/browsetrace/internal/database"
	"github.com/vincentbai/browsetrace/internal/logger"
	"github.com/vincentbai/browsetrace/internal/metrics"
	"github.com/vincentbai/browsetrace/internal/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "browsetrace-agent:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadCollector(config.GetConfigPath("config.yml"))
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err := logger.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer log.Sync()

	db, err := database.NewDatabase(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	fields := []logger.Field{logger.String("path", db.Path())}
	if info, statErr := os.Stat(db.Path()); statErr == nil {
		fields = append(fields, logger.String("size", humanize.Bytes(uint64(info.Size()))))
	}
	log.Info("Event database ready", fields...)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	srv := server.NewServer(db, cfg.Server, log,
		server.WithMetrics(metrics.NewCollector(registry), registry))

	// Graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return srv.Start(ctx)
}

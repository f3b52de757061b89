package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bryan-buckman/rssdeck/internal/config"
	"github.com/bryan-buckman/rssdeck/internal/database"
	"github.com/bryan-buckman/rssdeck/internal/logger"
	"github.com/bryan-buckman/rssdeck/internal/rss"
	"github.com/bryan-buckman/rssdeck/internal/server"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if err := logger.Init(logger.Config{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	db, err := database.Open(cfg.Database.Driver, cfg.Database.Path, cfg.Database.URL)
	if err != nil {
		logger.L.Errorf("Failed to open database: %v", err)
		logger.Sync()
		os.Exit(1)
	}
	defer db.Close()
	logger.L.Infof("Using %s storage", db.DatabaseType())

	transport := rss.NewHTTPTransport(cfg.Fetch.Timeout(), cfg.Fetch.UserAgent)
	fetcher := rss.NewFetcher(db, transport, cfg.Fetch.DomainDelay())
	poller := rss.NewPoller(db, fetcher, time.Duration(cfg.Fetch.IntervalMinutes)*time.Minute, cfg.Fetch.StartupDelay())
	srv := server.New(db, fetcher, poller, cfg.Fetch.IntervalMinutes)

	poller.Start()
	listenErr := make(chan error, 1)
	go func() {
		listenErr <- srv.Start(cfg.Server.Addr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	select {
	case <-quit:
		logger.L.Info("Shutting down")
	case err := <-listenErr:
		if err != nil {
			logger.L.Errorf("listen: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.L.Errorf("Server shutdown: %v", err)
	}
	poller.Stop()
	logger.L.Info("Server exiting")
}

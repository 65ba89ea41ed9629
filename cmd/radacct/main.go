package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/netacct-lab/radacct/internal/accounting"
	"github.com/netacct-lab/radacct/internal/control"
	corecfg "github.com/netacct-lab/radacct/internal/core/config"
	"github.com/netacct-lab/radacct/internal/core/storage/postgres"
	"github.com/netacct-lab/radacct/internal/migrations"
	"github.com/netacct-lab/radacct/internal/reporting"
	"github.com/netacct-lab/radacct/internal/server"
)

func main() {
	configPath := flag.String("config", "radacct.yaml", "Path to configuration file")
	flag.Parse()

	// 0. Initialize Logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// 1. Load Configuration
	cfg, err := corecfg.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	slog.Info("Loaded config",
		"server", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		"mode", cfg.Server.Mode)

	// Durations were already validated by Load.
	disconnectTimeout, _ := cfg.Control.DisconnectTimeoutDuration()
	sweepInterval, _ := cfg.Control.SweepIntervalDuration()
	nasTimeout, _ := cfg.Control.NASTimeoutDuration()
	ticketRetention, _ := cfg.Control.TicketRetentionDuration()
	cacheTTL, _ := cfg.Query.CacheTTLDuration()

	// 2. Initialize Storage (PostgreSQL)
	dbAdapter, err := postgres.NewAdapter(
		cfg.Database.DSN,
		cfg.Database.MaxOpenConns,
		cfg.Database.MaxIdleConns,
	)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer dbAdapter.Close()

	// 2.1. Run Database Migrations
	if err := migrations.RunMigrations(dbAdapter.DB(), cfg.Database.AutoMigrate); err != nil {
		slog.Error("Failed to run database migrations", "error", err)
		os.Exit(1)
	}

	// 3. Initialize Session Control (operator disconnects)
	var nasClient control.Client
	if cfg.Control.NASEndpoint != "" {
		nasClient = control.NewHTTPClient(cfg.Control.NASEndpoint, nasTimeout)
	}
	controlSvc := control.NewService(dbAdapter, nasClient, control.Options{
		DisconnectTimeout: disconnectTimeout,
		SweepInterval:     sweepInterval,
		NASTimeout:        nasTimeout,
		TicketRetention:   ticketRetention,
	})

	// 4. Initialize Accounting Ingestion
	accountingSvc := accounting.NewService(dbAdapter, controlSvc, cfg.Server.MaxBodySizeMB)

	// 5. Initialize Reporting (query API)
	reportsAdapter := postgres.NewReportsAdapter(dbAdapter.DB())
	reportingSvc := reporting.NewService(dbAdapter, reportsAdapter, reporting.Settings{
		DefaultPageSize: cfg.Query.DefaultPageSize,
		MaxPageSize:     cfg.Query.MaxPageSize,
		CacheTTL:        cacheTTL,
		ReportTimezone:  cfg.Query.ReportTimezone,
	})

	// 6. Initialize Server
	srv := server.New(fmtAddr(cfg.Server.Host, cfg.Server.Port), dbAdapter.DB(), cfg.Server.Mode)
	accountingSvc.RegisterRoutes(srv.Engine)
	controlSvc.RegisterRoutes(srv.Engine)
	reportingSvc.RegisterRoutes(srv.Engine)

	// 7. Start Services
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Ticket timeout sweeper runs in the background.
	go func() {
		if err := controlSvc.Start(ctx); err != nil {
			slog.Error("Control sweeper stopped with error", "error", err)
		}
	}()

	// Signal handler triggers the shutdown sequence below.
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		slog.Info("Signal received, shutting down...")
		cancel()
	}()

	// HTTP server blocks until ctx is cancelled.
	if err := srv.Run(ctx); err != nil {
		slog.Error("Server stopped with error", "error", err)
	}

	slog.Info("Shutdown complete")
}

func fmtAddr(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}

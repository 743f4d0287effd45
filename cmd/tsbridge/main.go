package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tsbridge-io/tsbridge/internal/api"
	"github.com/tsbridge-io/tsbridge/internal/config"
	"github.com/tsbridge-io/tsbridge/internal/logger"
	"github.com/tsbridge-io/tsbridge/internal/schema"
	"github.com/tsbridge-io/tsbridge/internal/timestream"
)

// Version is set at build time
var Version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Log.Level, cfg.Log.Format)
	log.Info().Str("version", Version).Msg("Starting tsbridge...")

	client, err := timestream.NewClient(context.Background(), cfg.Timestream, logger.Get("timestream"))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize Timestream client")
	}

	provisioner := timestream.NewProvisioner(client, logger.Get("timestream"))
	ingestor := timestream.NewIngestor(client, provisioner, timestream.IngestorConfig{
		Database:             cfg.Timestream.Database,
		EnsureDatabase:       cfg.Timestream.EnableDatabaseCreation,
		EnsureTable:          cfg.Timestream.EnableTableCreation,
		TableConfig:          timestream.TableConfigFrom(cfg.Timestream),
		MaxConcurrentBatches: cfg.Ingest.MaxConcurrentBatches,
		WriteTimeout:         time.Duration(cfg.Ingest.WriteTimeoutSeconds) * time.Second,
	}, logger.Get("timestream"))

	builder, err := schema.NewBuilder(schema.MultiTableMultiMeasure, cfg.Timestream.MeasureName)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize record builder")
	}

	server := api.NewServer(&api.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout:    time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 30 * time.Second,
	}, logger.Get("api"))
	server.RegisterRoutes()

	writeHandler := api.NewWriteHandler(builder, ingestor, logger.Get("api"))
	writeHandler.RegisterRoutes(server.GetApp())

	if err := server.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start server")
	}

	log.Info().
		Str("database", cfg.Timestream.Database).
		Str("region", cfg.Timestream.Region).
		Msg("tsbridge ready")

	server.WaitForShutdown(30 * time.Second)
}

package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/orlandoq/guildpost/internal/component"
	"github.com/orlandoq/guildpost/internal/config"
	"github.com/orlandoq/guildpost/internal/db"
	"github.com/orlandoq/guildpost/internal/engine"
	"github.com/orlandoq/guildpost/internal/metrics"
	"github.com/orlandoq/guildpost/internal/service/logger"
	"github.com/orlandoq/guildpost/internal/store/postgres"
	"github.com/orlandoq/guildpost/internal/sweeper"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.GetConfig()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	logger.Init(cfg.SERVICE_NAME)

	sweepCfg, err := config.GetSweeperConfig()
	if err != nil {
		log.Fatalf("sweeper config error: %v", err)
	}

	database, err := db.New()
	if err != nil {
		log.Fatalf("db initialization error: %v", err)
	}
	defer database.Close()

	sink, err := component.GetSink(cfg.NOTIFY_TYPE)
	if err != nil {
		log.Fatalf("notify sink initialization error: %v", err)
	}
	defer sink.Shutdown()

	eng := engine.New(postgres.New(database), sink, metrics.NewCollector())
	sw := sweeper.New(eng, time.Duration(sweepCfg.INTERVAL_SECONDS)*time.Second)

	go sw.Run(ctx)
	logger.Log.Info().Int("interval_seconds", sweepCfg.INTERVAL_SECONDS).Msg("expire sweeper started")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	cancel()
	logger.Log.Info().Msg("expire sweeper stopped")
}

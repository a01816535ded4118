package main

import (
	"context"
	"log"
	"net/http"
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
	"github.com/orlandoq/guildpost/internal/tracer"
	"github.com/orlandoq/guildpost/internal/web"
)

func main() {
	ctx := context.Background()

	cfg, err := config.GetConfig()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	logger.Init(cfg.SERVICE_NAME)

	if cfg.TRACE_URL != "" {
		shutdownTracer, err := tracer.Init(ctx, cfg.SERVICE_NAME, cfg.TRACE_URL)
		if err != nil {
			log.Fatalf("error initialising trace: %v", err)
		}
		defer shutdownTracer(ctx)
	}

	database, err := db.New()
	if err != nil {
		log.Fatalf("db initialization error: %v", err)
	}
	defer database.Close()

	if err := database.Migrate(ctx); err != nil {
		log.Fatalf("db migration error: %v", err)
	}

	sink, err := component.GetSink(cfg.NOTIFY_TYPE)
	if err != nil {
		log.Fatalf("notify sink initialization error: %v", err)
	}
	defer sink.Shutdown()

	storageClient, err := component.GetStorage(cfg.STORAGE_TYPE)
	if err != nil {
		log.Fatalf("storage initialization error: %v", err)
	}

	board, err := component.GetBoardCache()
	if err != nil {
		log.Fatalf("board cache initialization error: %v", err)
	}

	eng := engine.New(postgres.New(database), sink, metrics.NewCollector())
	server := web.NewServer(eng, storageClient, board)

	srv := &http.Server{
		Addr:              ":8080",
		Handler:           server.Router(),
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Println("HTTP server started on :8080")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("trying to shutdown server gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Graceful shutdown failed: %v", err)
	}

	board.ShutDown(shutdownCtx)
	storageClient.ShutDown(shutdownCtx)

	logger.Log.Info().Msg("server shutdown gracefully.")
}

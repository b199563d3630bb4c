package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"inss-case-tracker/internal/archive"
	"inss-case-tracker/internal/config"
	"inss-case-tracker/internal/logging"
	"inss-case-tracker/internal/queue"
	"inss-case-tracker/internal/store"
	"inss-case-tracker/internal/telemetry"
	"inss-case-tracker/internal/worker"
)

func main() {
	cfg := config.Load()
	log := logging.New(cfg.Env, cfg.LogFile)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	st, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer st.Close()

	if err := st.RunMigrations(ctx); err != nil {
		log.Fatalf("migrations: %v", err)
	}

	q := queue.NewImportQueue(cfg)
	defer q.Close()

	arch, err := archive.New(ctx, cfg)
	if err != nil {
		log.Fatalf("init archive storage: %v", err)
	}

	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
			log.Warnf("metrics server stopped: %v", err)
		}
	}()

	processor := worker.NewProcessor(cfg, q, st, arch, log)
	log.Infof("import worker started, visibility=%s poll=%s", cfg.VisibilityTimeout, cfg.WorkerPollInterval)
	if err := processor.Run(ctx); err != nil {
		log.Warnf("worker stopped: %v", err)
	}
}

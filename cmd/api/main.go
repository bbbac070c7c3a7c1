package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/axelsamuelson/crowdvine-sub005/internal/config"
	"github.com/axelsamuelson/crowdvine-sub005/internal/engine"
	"github.com/axelsamuelson/crowdvine-sub005/internal/logging"
	"github.com/axelsamuelson/crowdvine-sub005/internal/storage/postgres"
	transporthttp "github.com/axelsamuelson/crowdvine-sub005/internal/transport/http"
	"github.com/axelsamuelson/crowdvine-sub005/internal/worker"
)

const shutdownTimeout = 10 * time.Second

func main() {
	var envFiles []string
	if wd, err := os.Getwd(); err == nil {
		if path := config.FindEnvFile(wd); path != "" {
			envFiles = append(envFiles, path)
		}
	}
	cfg, err := config.Load(envFiles...)
	if err != nil {
		logrus.WithError(err).Fatal("load config")
	}

	loggers, err := logging.New(cfg)
	if err != nil {
		logrus.WithError(err).Fatal("init logging")
	}
	defer loggers.Close()
	log := loggers.App

	if len(envFiles) > 0 {
		log.WithField("path", envFiles[0]).Info("loaded env file")
	}

	pool, err := engine.Open(context.Background(), cfg.DatabaseURL, log)
	if err != nil {
		log.WithError(err).Fatal("open database")
	}
	defer pool.Close()

	deps, err := engine.DepsFromConfig(cfg, log, loggers.Audit)
	if err != nil {
		log.WithError(err).Fatal("build dependencies")
	}
	eng := engine.New(postgres.NewStore(pool), deps)

	handler := transporthttp.NewRouter(eng.HTTPServices(), transporthttp.Options{
		CORSOrigins: cfg.CORSOrigins,
		Log:         log,
		Audit:       loggers.Audit,
		DB:          pool,
	})
	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	stopCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	w := worker.NewCompletionWorker(eng.Admin, eng.Lifecycle, cfg.CheckInterval, log)
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		w.Start(stopCtx)
	}()

	log.WithField("addr", server.Addr).Info("api listening")

	srvErr := make(chan error, 1)
	go func() {
		srvErr <- server.ListenAndServe()
	}()

	select {
	case err := <-srvErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("server error")
		}
		stop()
	case <-stopCtx.Done():
		log.Info("shutdown signal received, stopping server")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.WithError(err).Error("server shutdown error")
	}
	<-workerDone
	log.Info("server stopped")
}

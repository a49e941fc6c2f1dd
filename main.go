package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"examscore/config"
	"examscore/db"
	qhttp "examscore/http"
	"examscore/logging"
	"examscore/serving"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	// 1. Load config
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	// 2. Open the run/audit store when configured
	var store *db.Store
	if cfg.Database.Path != "" {
		store, err = db.Open(cfg.Database.Path)
		if err != nil {
			logger.Fatal("failed to open database", zap.String("path", cfg.Database.Path), zap.Error(err))
		}
		defer store.Close()
		logger.Info("database opened", zap.String("path", cfg.Database.Path))
	}

	// 3. Resolve artifacts once
	sc := serving.LoadContext(cfg.Artifacts.Dir, serving.DefaultCandidates())
	if sc.Ready() {
		logger.Info("artifacts loaded",
			zap.String("kind", sc.Kind().String()),
			zap.Strings("paths", sc.Paths()),
			zap.Bool("preprocessor", sc.HasPreprocessor()))
	} else {
		logger.Warn("no usable model, predictions will fail until artifacts are trained",
			zap.String("dir", cfg.Artifacts.Dir),
			zap.Strings("diagnostics", sc.Diagnostics()))
	}

	opts := serving.Options{CacheSize: cfg.Serving.CacheSize, Logger: logger}
	var runs qhttp.RunLister
	if store != nil {
		runs = store
		if cfg.Serving.AuditEnabled {
			opts.Auditor = store
		}
	}
	svc, err := serving.NewService(sc, opts)
	if err != nil {
		logger.Fatal("failed to create prediction service", zap.Error(err))
	}

	// 4. Start HTTP server
	server := qhttp.NewServer(qhttp.ServerConfig{
		Port:           cfg.Http.Port,
		Timeout:        cfg.Http.Timeout,
		MaxBodyBytes:   cfg.Http.MaxBodyBytes,
		AllowedOrigins: cfg.Http.AllowedOrigins,
	}, qhttp.NewHandler(svc, runs, logger), logger)
	go func() {
		if err := server.Start(); err != nil {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	// 5. Handle graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	if err := server.Stop(); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}

	logger.Info("exiting")
}

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"examscore/config"
	"examscore/db"
	"examscore/logging"
	"examscore/ml"
	"examscore/pipeline"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	source := flag.String("source", "", "source CSV (overrides training.source)")
	artifactDir := flag.String("artifacts", "", "artifact directory (overrides artifacts.dir)")
	bundle := flag.Bool("bundle", false, "also write pipeline.json")
	watch := flag.Bool("watch", false, "retrain whenever the source file changes")
	debounce := flag.Duration("debounce", 2*time.Second, "quiet period before a watch-triggered run")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *source != "" {
		cfg.Training.Source = *source
	}
	if *artifactDir != "" {
		cfg.Artifacts.Dir = *artifactDir
	}
	if *bundle {
		cfg.Training.BundlePipeline = true
	}
	if cfg.Training.Source == "" {
		log.Fatal("source is required (-source or training.source)")
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer logger.Sync()

	var recorder pipeline.RunRecorder
	if cfg.Database.Path != "" {
		store, err := db.Open(cfg.Database.Path)
		if err != nil {
			logger.Fatal("failed to open database", zap.String("path", cfg.Database.Path), zap.Error(err))
		}
		defer store.Close()
		recorder = store
	}

	migrated, err := ml.MigrateLegacyArtifacts(cfg.Artifacts.Dir)
	if err != nil {
		logger.Warn("legacy artifact migration failed", zap.Error(err))
	}
	for _, path := range migrated {
		logger.Info("migrated legacy artifact", zap.String("path", path))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := runOnce(ctx, cfg, recorder, logger); err != nil {
		if !*watch {
			logger.Fatal("training failed", zap.String("source", cfg.Training.Source), zap.Error(err))
		}
		logger.Error("training failed", zap.String("source", cfg.Training.Source), zap.Error(err))
	}
	if !*watch {
		return
	}

	if err := watchSource(ctx, cfg, recorder, *debounce, logger); err != nil {
		logger.Fatal("watch failed", zap.Error(err))
	}
}

func runOnce(ctx context.Context, cfg *config.Config, recorder pipeline.RunRecorder, logger *zap.Logger) error {
	result, err := pipeline.Train(ctx, cfg, cfg.Training.Source, recorder, logger)
	if err != nil {
		return err
	}
	fmt.Printf("run %s: r2=%.4f rmse=%.4f mae=%.4f (train=%d test=%d) artifacts in %s\n",
		result.RunID, result.Metrics.R2, result.Metrics.RMSE, result.Metrics.MAE,
		result.TrainRows, result.TestRows, result.ArtifactDir)
	return nil
}

// watchSource retrains after the source file changes and stays quiet for
// the debounce period. Runs never overlap: they execute on this goroutine.
func watchSource(ctx context.Context, cfg *config.Config, recorder pipeline.RunRecorder, debounce time.Duration, logger *zap.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	source, err := filepath.Abs(cfg.Training.Source)
	if err != nil {
		return err
	}
	// Watch the directory so editors that replace the file by rename are seen.
	if err := watcher.Add(filepath.Dir(source)); err != nil {
		return err
	}
	logger.Info("watching source", zap.String("source", source), zap.Duration("debounce", debounce))

	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}

	for {
		select {
		case <-ctx.Done():
			logger.Info("watch stopped")
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != source {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			logger.Debug("source changed", zap.String("op", event.Op.String()))
			timer.Reset(debounce)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watcher error", zap.Error(err))
		case <-timer.C:
			if _, err := os.Stat(source); err != nil {
				logger.Warn("source not readable, skipping run", zap.Error(err))
				continue
			}
			if err := runOnce(ctx, cfg, recorder, logger); err != nil {
				logger.Error("training failed", zap.Error(err))
			}
		}
	}
}

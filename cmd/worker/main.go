// Command worker runs the Ingestion Worker (C4): it consumes post-merge
// tasks from the broker, splits and persists passages, then embeds and
// indexes them (C5). Bootstrap mirrors cmd/server's dependency wiring
// against the same shared stores, trading the HTTP router for a poll
// loop sized by config.WorkerPoolSize goroutines.
package main

import (
	"context"
	"log"
	"os"
	"strconv"

	"go.uber.org/zap"

	"knowledge-hub/internal/config"
	"knowledge-hub/internal/embed"
	"knowledge-hub/internal/embedclient"
	"knowledge-hub/internal/ingest"
	"knowledge-hub/internal/kv"
	"knowledge-hub/internal/logging"
	"knowledge-hub/internal/objectstore"
	"knowledge-hub/internal/queue"
	"knowledge-hub/internal/repository"
	"knowledge-hub/internal/searchstore"
)

func main() {
	cfg := config.Load()
	logger := logging.Must(cfg.Env)
	defer logger.Sync()

	ctx := context.Background()

	repo, err := repository.New(ctx, cfg.PostgresURL)
	if err != nil {
		log.Fatalf("connect relational store: %v", err)
	}
	defer repo.Close()

	kvStore := kv.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer kvStore.Close()

	objects, err := objectstore.New(ctx, cfg.MinIOEndpoint, cfg.MinIOAccessKey, cfg.MinIOSecretKey, cfg.MinIOBucket, cfg.MinIOUseSSL, logger)
	if err != nil {
		log.Fatalf("connect object store: %v", err)
	}

	search, err := searchstore.New([]string{cfg.SearchAddr}, cfg.EmbeddingDimension)
	if err != nil {
		log.Fatalf("connect search store: %v", err)
	}

	broker := queue.New(kvStore.Client())
	if err := broker.EnsureGroup(ctx); err != nil {
		logger.Warn("ensure broker consumer group", zap.Error(err))
	}

	embeddingClient := embedclient.New(cfg.EmbeddingURL, cfg.EmbeddingModel, cfg.EmbeddingDimension)
	embedder := embed.New(repo, embeddingClient, search, cfg.EmbeddingModel, logger)

	hostname, _ := os.Hostname()

	logger.Info("starting knowledge hub worker",
		zap.Int("poolSize", cfg.WorkerPoolSize), zap.String("consumer", hostname))

	done := ctx.Done()
	workers := cfg.WorkerPoolSize
	if workers < 1 {
		workers = 1
	}

	for i := 0; i < workers; i++ {
		consumerName := hostname + "-" + strconv.Itoa(i)
		w := ingest.New(broker, objects, repo, embedder, logger,
			cfg.ParentBufferBytes, cfg.PassageTargetSize, cfg.MemoryPressureCapBytes, consumerName)
		if i == workers-1 {
			runWorker(ctx, w, done)
		} else {
			go runWorker(ctx, w, done)
		}
	}
}

// runWorker alternates consuming fresh deliveries with reclaiming stale
// ones left unacked by a MemoryPressure rejection or a failed
// processTask elsewhere (this worker's own prior crash, or a sibling
// worker's). RunOnce's bounded Block keeps this loop cycling back to
// ReclaimOnce even when the stream is idle, so redelivery isn't
// starved waiting on new tasks that may never arrive.
func runWorker(ctx context.Context, w *ingest.Worker, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		default:
			w.RunOnce(ctx)
			w.ReclaimOnce(ctx)
		}
	}
}

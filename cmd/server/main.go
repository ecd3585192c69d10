// Command server runs the HTTP API of the knowledge hub: auth, chunked
// upload, document management, hybrid search, and the chat stream (spec
// §6). Bootstrap order and logger-then-fatal-on-error style follow
// document-chunker/main.go's func main().
package main

import (
	"context"
	"log"

	"go.uber.org/zap"

	"knowledge-hub/internal/chat"
	"knowledge-hub/internal/chatmodel"
	"knowledge-hub/internal/chunkledger"
	"knowledge-hub/internal/config"
	"knowledge-hub/internal/embedclient"
	"knowledge-hub/internal/httpapi"
	"knowledge-hub/internal/hybrid"
	"knowledge-hub/internal/kv"
	"knowledge-hub/internal/logging"
	"knowledge-hub/internal/objectstore"
	"knowledge-hub/internal/queue"
	"knowledge-hub/internal/repository"
	"knowledge-hub/internal/searchstore"
	"knowledge-hub/internal/session"
	"knowledge-hub/internal/tagcache"
	"knowledge-hub/internal/upload"
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
	if err := kvStore.Ping(ctx); err != nil {
		log.Fatalf("connect kv store: %v", err)
	}

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

	sessions := session.New(kvStore, cfg.SessionTTL, cfg.RefreshTTL, cfg.SessionGrace)
	tags := tagcache.New(repo, kvStore, cfg.TagCacheTTL, logger)
	ledger := chunkledger.New(kvStore, repo)
	uploads := upload.New(ledger, repo, repo, objects, broker, cfg.ChunkSizeBytes)

	embeddingClient := embedclient.New(cfg.EmbeddingURL, cfg.EmbeddingModel, cfg.EmbeddingDimension)
	hybridSearch := hybrid.New(tags, repo, embeddingClient, search, repo, logger)

	chatModelClient := chatmodel.New(cfg.ChatURL, cfg.ChatModel)
	chatOrchestrator := chat.New(hybridSearch, kvStore, chatModelClient, logger,
		cfg.ChatSystemRules, cfg.ChatNoRefsLine, cfg.ChatTemperature, cfg.ChatTopP, cfg.ChatMaxTokens, cfg.ConversationTTL)

	server := httpapi.NewServer(logger, repo, objects, sessions, tags, uploads, broker, hybridSearch, chatOrchestrator)

	logger.Info("starting knowledge hub server", zap.String("addr", cfg.HTTPAddr))
	if err := server.Router().Run(cfg.HTTPAddr); err != nil {
		log.Fatalf("http server: %v", err)
	}
}

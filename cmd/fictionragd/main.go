package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/yagisawa/fictionrag/internal/config"
	"github.com/yagisawa/fictionrag/internal/embedder"
	"github.com/yagisawa/fictionrag/internal/llm"
	"github.com/yagisawa/fictionrag/internal/rank"
	"github.com/yagisawa/fictionrag/internal/repository"
	"github.com/yagisawa/fictionrag/internal/repository/postgres"
	"github.com/yagisawa/fictionrag/internal/scorer"
	"github.com/yagisawa/fictionrag/internal/server"
	"github.com/yagisawa/fictionrag/internal/service"
	"github.com/yagisawa/fictionrag/internal/theme"
	"github.com/yagisawa/fictionrag/internal/vectorstore"
)

func main() {
	logLevel := slog.LevelInfo
	if os.Getenv("LOG_LEVEL") == "debug" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("failed to run server", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	slog.Info("starting retrieval service",
		"http_port", cfg.HTTPPort,
		"environment", cfg.Environment,
	)

	// PostgreSQL
	db, err := postgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()
	slog.Info("connected to PostgreSQL")

	documentRepo := postgres.NewDocumentRepo(db)

	// Qdrant
	vectorStore, err := vectorstore.NewQdrantStore(ctx, cfg.QdrantGRPCURL, cfg.QdrantCollection)
	if err != nil {
		return fmt.Errorf("failed to connect to Qdrant: %w", err)
	}
	defer vectorStore.Close()
	slog.Info("connected to Qdrant", "collection", cfg.QdrantCollection)

	// Ollama embedder
	embed := embedder.NewOllamaEmbedder(embedder.OllamaConfig{
		BaseURL: cfg.OllamaURL,
		Model:   cfg.OllamaEmbeddingModel,
	})
	slog.Info("initialized embedder", "model", cfg.OllamaEmbeddingModel, "dimension", embed.Dimension())

	if err := vectorStore.EnsureCollection(ctx, embed.Dimension()); err != nil {
		return fmt.Errorf("failed to ensure collection: %w", err)
	}

	// Ollama LLM, shared by answer generation and the judge fallback
	llmClient := llm.NewOllamaClient(
		llm.WithBaseURL(cfg.OllamaURL),
		llm.WithModel(cfg.OllamaLLMModel),
	)
	slog.Info("initialized LLM", "model", cfg.OllamaLLMModel)

	// Reranking pipeline: cross-encoder first, LLM judge fallback,
	// theme-aware boosting.
	crossEncoder := scorer.NewHTTPCrossEncoder(
		scorer.WithRerankURL(cfg.RerankURL),
		scorer.WithMaxInputWords(cfg.MaxInputWords),
	)
	judge := scorer.NewLLMJudge(llmClient, scorer.WithJudgeModel(cfg.OllamaLLMModel))
	tagger := theme.NewTagger(theme.DefaultTable())

	ranker := rank.NewPipeline(cfg.Rank(),
		rank.WithCrossEncoder(crossEncoder),
		rank.WithJudge(judge),
		rank.WithTagger(tagger),
		rank.WithLogger(slog.Default()),
	)

	// Services
	documentSvc := service.NewDocumentService(documentRepo, embed, vectorStore, cfg.Chunker(), slog.Default())
	ragSvc := service.NewRAGService(embed, vectorStore, ranker, llmClient, slog.Default(),
		service.WithRetrievalTopK(cfg.RetrievalTopK),
		service.WithRerankTopN(cfg.RerankTopN),
		service.WithDedupOverlap(cfg.DedupOverlap),
		service.WithSearchTimeout(cfg.SearchTimeout),
		service.WithLLMModel(cfg.OllamaLLMModel),
	)

	httpServer := server.NewHTTPServer(server.HTTPServerConfig{
		Port:           cfg.HTTPPort,
		Logger:         slog.Default(),
		AllowedOrigins: []string{"*"}, // Configure in production
		Documents:      documentSvc,
		RAG:            ragSvc,
		Readiness: []server.ReadinessChecker{
			func(ctx context.Context) error {
				return db.Pool.Ping(ctx)
			},
			func(ctx context.Context) error {
				_, err := vectorStore.Count(ctx)
				return err
			},
		},
	})

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.Start(); err != nil {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		slog.Info("received shutdown signal", "signal", sig)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("failed to shutdown HTTP server", "error", err)
	}

	slog.Info("server stopped")
	return nil
}

// Ensure interfaces are satisfied at compile time
var (
	_ repository.DocumentRepository = (*postgres.DocumentRepo)(nil)
	_ vectorstore.VectorStore       = (*vectorstore.QdrantStore)(nil)
	_ embedder.Embedder             = (*embedder.OllamaEmbedder)(nil)
	_ llm.LLM                       = (*llm.OllamaClient)(nil)
	_ scorer.CrossEncoder           = (*scorer.HTTPCrossEncoder)(nil)
	_ scorer.Judge                  = (*scorer.LLMJudge)(nil)
)

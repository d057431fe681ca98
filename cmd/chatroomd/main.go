package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/aminsmd/ai-chat-app/internal/config"
	"github.com/aminsmd/ai-chat-app/internal/jobs"
	"github.com/aminsmd/ai-chat-app/internal/llm"
	"github.com/aminsmd/ai-chat-app/internal/memory"
	"github.com/aminsmd/ai-chat-app/internal/memory/embedder/mock"
	"github.com/aminsmd/ai-chat-app/internal/memory/embedder/onnx"
	vecstore "github.com/aminsmd/ai-chat-app/internal/memory/store/chromem"
	"github.com/aminsmd/ai-chat-app/internal/observability"
	"github.com/aminsmd/ai-chat-app/internal/queue"
	"github.com/aminsmd/ai-chat-app/internal/responder"
	"github.com/aminsmd/ai-chat-app/internal/server"
	"github.com/aminsmd/ai-chat-app/internal/store"
)

func main() {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	db, err := store.Open(filepath.Join(cfg.DataDir, cfg.SQLiteDBName))
	if err != nil {
		log.Fatalf("relational store init failed: %v", err)
	}
	defer db.Close()

	vec, err := vecstore.New(cfg.VectorDir)
	if err != nil {
		log.Fatalf("vector store init failed: %v", err)
	}
	defer vec.Close()

	embedder, closeEmbedder, err := buildEmbedder(cfg)
	if err != nil {
		log.Fatalf("embedder init failed: %v", err)
	}
	if closeEmbedder != nil {
		defer closeEmbedder()
	}

	var chat llm.Chat = llm.NewAnthropicChat(cfg.AnthropicAPIKey)
	if cfg.CacheEnabled {
		caching, err := llm.NewCachingChat(chat)
		if err != nil {
			log.Fatalf("response cache init failed: %v", err)
		}
		defer caching.Close()
		chat = caching
		log.Printf("response cache enabled")
	}

	manager := memory.NewManager(vec, embedder, chat, memory.ManagerConfig{
		TopK:           cfg.TopK,
		CandidateLimit: cfg.CandidateLimit,
		Weights: memory.Weights{
			Recency:    cfg.WeightRecency,
			Relevance:  cfg.WeightRelevance,
			Importance: cfg.WeightImportance,
		},
		RecencyDecay: cfg.RecencyDecay,
		RatingModel:  cfg.Model,
	})

	reflector := memory.NewReflector(manager, chat, db, metrics, memory.ReflectorConfig{
		Threshold:   cfg.ReflectionThreshold,
		FocalPoints: cfg.ReflectionFocalPoints,
		PerFocal:    cfg.ReflectionPerFocal,
		SampleSize:  cfg.ReflectionSampleSize,
		Model:       cfg.Model,
	})

	if cfg.ImportancePolicy == "updated" {
		decay, err := jobs.NewDecay(vec, cfg.DecaySchedule, cfg.ImportanceDecay, cfg.ImportanceFloor)
		if err != nil {
			log.Fatalf("decay job init failed: %v", err)
		}
		decay.Start()
		defer decay.Stop()
		log.Printf("importance decay scheduled: %s", cfg.DecaySchedule)
	}

	pipeline := responder.New(db, queue.New(db), manager, reflector, chat, metrics, responder.Config{
		Model:          cfg.Model,
		MaxTokens:      cfg.MaxTokens,
		Temperature:    cfg.Temperature,
		ShortTermLimit: cfg.ShortTermLimit,
		TypingDelay:    cfg.TypingDelay,
	})

	api := server.New(cfg, db, pipeline, chat, metrics)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}

// buildEmbedder selects the embedding backend. The returned close func may
// be nil.
func buildEmbedder(cfg config.Config) (memory.Embedder, func() error, error) {
	switch cfg.Embedder {
	case "onnx":
		e, err := onnx.New(onnx.Config{
			ModelPath:     cfg.OnnxModelPath,
			TokenizerPath: cfg.OnnxTokenizerPath,
			LibraryPath:   cfg.OnnxLibraryPath,
			Dimensions:    cfg.EmbeddingDim,
		})
		if err != nil {
			return nil, nil, err
		}
		log.Printf("embedder: onnx (%s)", cfg.OnnxModelPath)
		return e, e.Close, nil
	default:
		log.Printf("embedder: mock (deterministic hash vectors)")
		return mock.New(cfg.EmbeddingDim), nil, nil
	}
}

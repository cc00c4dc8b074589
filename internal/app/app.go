package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/markdave123-py/Ingesta/internal/config"
	"github.com/markdave123-py/Ingesta/internal/core/index"
	"github.com/markdave123-py/Ingesta/internal/core/ingestion_engine"
	"github.com/markdave123-py/Ingesta/internal/core/llm"
	objectclient "github.com/markdave123-py/Ingesta/internal/core/object-client"
	"github.com/markdave123-py/Ingesta/internal/core/queue"
)

// App owns the shared clients and the consumer. Every client is constructed
// once here and passed down explicitly; there are no process-wide singletons.
type App struct {
	Index    *index.PgVectorIndex
	Embedder *llm.GeminiEmbedder
	Source   *queue.Source
	Producer *queue.Producer
	Consumer *ingestion_engine.Consumer
	Server   *Server
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	appCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	vecIndex, err := index.NewPgVectorIndex(appCtx, cfg)
	if err != nil {
		return nil, fmt.Errorf("couldn't initialize the vector index: %w", err)
	}
	log.Println("Vector index initialized and ready.")

	objClient, err := objectclient.NewS3Client(appCtx, cfg)
	if err != nil {
		return nil, fmt.Errorf("couldn't initialize the object client: %w", err)
	}
	log.Println("Object client initialized and ready.")

	geminiEmbedder, err := llm.NewGeminiEmbedder(appCtx, cfg.AIAPIKey, cfg.EmbedModel)
	if err != nil {
		return nil, fmt.Errorf("couldn't initialize the embedder: %w", err)
	}

	chunker, err := ingestion_engine.NewChunker(cfg.MaxChunkSize, cfg.ChunkOverlap)
	if err != nil {
		return nil, err
	}

	extractor := ingestion_engine.NewDocExtractor(false)

	source := queue.NewSource(cfg)
	producer := queue.NewProducer(cfg)

	pipeCfg := &ingestion_engine.Config{
		Bucket:         cfg.BucketName,
		EmbedDim:       cfg.EmbedDim,
		EmbedBatchSize: cfg.EmbedBatchSize,
		EmbedWorkers:   cfg.Concurrency,
		MaxAttempts:    cfg.MaxAttempts,
		EventTimeout:   time.Duration(cfg.EventTimeout) * time.Second,
	}

	pipeline := ingestion_engine.NewPipeline(
		objClient, extractor, chunker, geminiEmbedder, vecIndex, producer, producer, pipeCfg,
	)

	consumer := ingestion_engine.NewConsumer(source, pipeline, producer, cfg.Concurrency)

	server := NewServer(cfg, pipeline.Stats())

	return &App{
		Index:    vecIndex.(*index.PgVectorIndex),
		Embedder: geminiEmbedder,
		Source:   source,
		Producer: producer,
		Consumer: consumer,
		Server:   server,
	}, nil
}

func (a *App) Close() {
	if a.Source != nil {
		_ = a.Source.Close()
	}
	if a.Producer != nil {
		_ = a.Producer.Close()
	}
	if a.Embedder != nil {
		_ = a.Embedder.Close()
	}
	if a.Index != nil {
		_ = a.Index.Close()
	}
}

package admin

import (
	"context"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/yinkev/Americano-sub010/internal/config"
	"github.com/yinkev/Americano-sub010/internal/database"
	"github.com/yinkev/Americano-sub010/internal/openai"
	"github.com/yinkev/Americano-sub010/internal/repository"
	"github.com/yinkev/Americano-sub010/internal/resilience"
	"github.com/yinkev/Americano-sub010/internal/service"
	"github.com/yinkev/Americano-sub010/internal/storage"
	"github.com/yinkev/Americano-sub010/internal/telemetry"
	"golang.org/x/time/rate"
)

// pipeline bundles the wired graph services shared by the serve and build
// commands.
type pipeline struct {
	jobs        *repository.GraphBuildJobRepository
	builder     *service.GraphBuildService
	buildJobs   *service.BuildJobService
	stats       *service.GraphStatsService
	maintenance *service.MaintenanceService
	snapshots   *service.SnapshotService
}

// newPipeline wires the repositories, the OpenAI client behind its resilience
// policy, and the graph services on top of the given pool. Snapshot export is
// only wired when S3 is configured.
func newPipeline(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) (*pipeline, error) {
	conceptRepo := repository.NewConceptRepository(pool)
	relationshipRepo := repository.NewRelationshipRepository(pool)
	chunkRepo := repository.NewContentChunkRepository(pool)
	prereqRepo := repository.NewPrerequisiteRepository(pool)
	jobRepo := repository.NewGraphBuildJobRepository(pool)
	txRunner := repository.NewTxRunner(pool)

	exec := newModelExecutor(cfg)
	client := openai.NewClientWithConfig(openai.Config{
		APIKey:              cfg.OpenAIAPIKey,
		BaseURL:             cfg.OpenAIBaseURL,
		EmbeddingModel:      cfg.EmbeddingModel,
		EmbeddingDimensions: cfg.EmbeddingDimensions,
		CompletionModel:     cfg.CompletionModel,
	})

	extraction := service.NewExtractionService(client, exec)
	deduper := service.NewDeduplicator(cfg.DedupThreshold)
	concepts := service.NewConceptService(conceptRepo, client, exec)
	detection := service.NewDetectionService(conceptRepo, chunkRepo, prereqRepo, service.DetectionConfig{
		SemanticThreshold: cfg.SemanticThreshold,
		SemanticNeighbors: cfg.SemanticNeighbors,
		CooccurrenceMin:   cfg.CooccurrenceMin,
	})
	scoring := service.NewRelationshipStoreService(txRunner)
	maintenance := service.NewMaintenanceService(conceptRepo)

	var snapshots *service.SnapshotService
	if cfg.HasS3() {
		s3Client, err := newS3Client(ctx, cfg)
		if err != nil {
			return nil, err
		}
		snapshots = service.NewSnapshotService(conceptRepo, relationshipRepo, s3Client)
	}

	var builder *service.GraphBuildService
	if snapshots != nil {
		builder = service.NewGraphBuildServiceWithSnapshots(
			chunkRepo, extraction, deduper, concepts, detection, scoring, maintenance, snapshots)
	} else {
		builder = service.NewGraphBuildService(
			chunkRepo, extraction, deduper, concepts, detection, scoring, maintenance)
	}

	return &pipeline{
		jobs:        jobRepo,
		builder:     builder,
		buildJobs:   service.NewBuildJobService(jobRepo),
		stats:       service.NewGraphStatsService(conceptRepo, relationshipRepo),
		maintenance: maintenance,
		snapshots:   snapshots,
	}, nil
}

// newModelExecutor builds the retry, rate-limit, and circuit-breaker policy
// that guards every OpenAI call. Attempts surface as log lines and Sentry
// breadcrumbs.
func newModelExecutor(cfg *config.Config) *resilience.Executor {
	breaker := resilience.NewBreaker(cfg.BreakerThreshold, cfg.BreakerCooldown)
	limiter := rate.NewLimiter(rate.Limit(cfg.CallRate), cfg.CallBurst)

	onAttempt := func(a resilience.Attempt) {
		if a.Err == "" {
			return
		}
		log.Printf("openai %s attempt %d failed (%s): %s", a.Op, a.Number, a.Reason, a.Err)
		telemetry.AddBreadcrumb(context.Background(), "model_call",
			fmt.Sprintf("%s attempt %d failed: %s", a.Op, a.Number, a.Reason))
	}

	return resilience.NewExecutor("openai", resilience.Config{
		MaxRetries: cfg.MaxRetries,
		BaseDelay:  cfg.RetryBaseDelay,
		MaxDelay:   cfg.RetryMaxDelay,
	}, breaker, limiter, onAttempt)
}

// newS3Client creates the snapshot object store and makes sure the bucket
// exists.
func newS3Client(ctx context.Context, cfg *config.Config) (*storage.S3Client, error) {
	s3Client, err := storage.NewS3Client(ctx, storage.S3ClientConfig{
		Endpoint:        cfg.S3Endpoint,
		Region:          cfg.S3Region,
		AccessKeyID:     cfg.S3AccessKey,
		SecretAccessKey: cfg.S3SecretKey,
		Bucket:          cfg.S3Bucket,
		UsePathStyle:    true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}
	if err := s3Client.EnsureBucket(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure S3 bucket: %w", err)
	}
	log.Printf("S3 bucket '%s' ready", cfg.S3Bucket)
	return s3Client, nil
}

// getDBPool loads config and opens a database pool for one-shot commands.
func getDBPool(ctx context.Context) (*pgxpool.Pool, *config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	pool, err := database.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return pool, cfg, nil
}

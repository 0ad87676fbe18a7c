/**
 * Essay-Contest Submission Worker - Main Entry Point
 *
 * Architecture:
 * - asynq consumer for a Redis-backed job queue, backed by a Postgres
 *   job ledger for explicit claim/stale-sweep semantics
 * - Nine-stage submission pipeline: ingest, analyze, split, OCR,
 *   segment, extract, classify, validate, save
 * - Deterministic, temperature=0 LLM-assisted field extraction with
 *   mandatory verification against OCR text
 * - Advisory near-duplicate detection over essay text via Qdrant
 * - PostgreSQL persistence for submission records and audit trail
 */

package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/essaycontest/submitproc/internal/analyzer"
	"github.com/essaycontest/submitproc/internal/config"
	"github.com/essaycontest/submitproc/internal/extractor"
	"github.com/essaycontest/submitproc/internal/logging"
	"github.com/essaycontest/submitproc/internal/nearduplicate"
	"github.com/essaycontest/submitproc/internal/ocr"
	"github.com/essaycontest/submitproc/internal/pipeline"
	"github.com/essaycontest/submitproc/internal/queue"
	"github.com/essaycontest/submitproc/internal/storage"
	"github.com/essaycontest/submitproc/internal/validator"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env not found, using system environment variables")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := logging.NewLogger("submitproc-worker")
	logger.Info("worker starting", "redis", cfg.RedisURL, "concurrency", cfg.WorkerConcurrency)

	logger.Info("connecting to PostgreSQL...")
	db, err := storage.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	records := storage.NewRecordRepository(db)
	auditRepo := storage.NewAuditRepository(db)
	jobs := storage.NewJobRepository(db)
	batches := storage.NewBatchRepository(db)
	llmCache := storage.NewLLMCacheRepository(db)

	objects, err := storage.NewObjectStore(cfg.ObjectStoreRoot)
	if err != nil {
		log.Fatalf("Failed to initialize object store: %v", err)
	}

	var enricher *nearduplicate.Enricher
	if cfg.VoyageAPIKey != "" && cfg.QdrantURL != "" {
		logger.Info("connecting to near-duplicate index...", "qdrant", cfg.QdrantURL)
		embedClient, err := nearduplicate.NewEmbeddingClient(cfg.VoyageAPIKey, logger)
		if err != nil {
			logger.Warn("near-duplicate embedding client unavailable, enrichment disabled", "error", err)
		} else if index, err := nearduplicate.NewIndex(cfg.QdrantURL, cfg.QdrantCollection); err != nil {
			logger.Warn("near-duplicate index unavailable, enrichment disabled", "error", err)
		} else {
			defer index.Close()
			enricher = nearduplicate.NewEnricher(embedClient, index, logger)
		}
	} else {
		logger.Info("near-duplicate enrichment disabled (no VOYAGE_API_KEY/QDRANT_URL configured)")
	}

	var llm *extractor.LLMCapability
	if cfg.AnthropicAPIKey != "" {
		llm, err = extractor.NewLLMCapability(cfg.AnthropicAPIKey, "claude-3-5-sonnet-latest", cfg.ExtractorLLMTemperature)
		if err != nil {
			log.Fatalf("Failed to initialize LLM capability: %v", err)
		}
	}
	ext := extractor.New(llm, llmCache)

	ocrCapability := ocr.Capability(ocr.NewTesseractOCR(cfg.TesseractPath))

	docAnalyzer := analyzer.New(analyzer.Thresholds{
		NativeText: cfg.AnalyzerHeaderScoreThresholdNative,
		Other:      cfg.AnalyzerHeaderScoreThresholdOther,
	}, nil)

	runner := &pipeline.Runner{
		Analyzer:        docAnalyzer,
		OCR:             ocrCapability,
		Extractor:       ext,
		NearDuplicate:   enricher,
		ValidationRules: validator.DefaultRequiredFields(),
		Thresholds: validator.Thresholds{
			LowConfidence:           cfg.OCRLowConfidenceThreshold,
			Escalation:              cfg.OCREscalationThreshold,
			NearDuplicateSimilarity: cfg.ValidationNearDuplicateSimilarityThreshold,
		},
		Records:             records,
		Objects:             objects,
		AuditRepo:           auditRepo,
		Logger:              logger,
		DefaultContactLines: 10,
		Deadlines: pipeline.Deadlines{
			OCRPerPage:  time.Duration(cfg.OCRTimeoutS) * time.Second,
			LLM:         time.Duration(cfg.LLMTimeoutS) * time.Second,
			ObjectStore: time.Duration(cfg.ObjectStoreTimeoutS) * time.Second,
			RecordStore: time.Duration(cfg.RecordStoreTimeoutS) * time.Second,
		},
		PersistArtifacts: cfg.ArtifactPersistenceEnabled,
	}

	logger.Info("connecting to job queue...")
	worker, err := queue.NewWorker(queue.Config{
		RedisURL:    cfg.RedisURL,
		QueueName:   "submissions",
		Concurrency: cfg.WorkerConcurrency,
		JobTimeout:  time.Duration(cfg.WorkerJobTimeoutS) * time.Second,
	}, jobs, batches, runner, logger)
	if err != nil {
		log.Fatalf("Failed to initialize job queue worker: %v", err)
	}

	if err := worker.Start(); err != nil {
		log.Fatalf("Failed to start job queue worker: %v", err)
	}
	logger.Info("job queue worker started", "concurrency", cfg.WorkerConcurrency)

	sweepInterval := time.Duration(cfg.WorkerPollIntervalMS) * time.Millisecond * 10
	stopSweep := make(chan struct{})
	go runStaleSweep(worker, logger, sweepInterval, stopSweep)

	logger.Info("worker ready, waiting for jobs")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigChan
	logger.Info("received shutdown signal", "signal", sig.String())

	close(stopSweep)
	if err := worker.Stop(); err != nil {
		logger.Error("error stopping job queue worker", "error", err)
	} else {
		logger.Info("job queue worker stopped")
	}

	logger.Info("shutdown complete")
}

// runStaleSweep periodically reclaims jobs stuck in started past the
// configured job timeout - evidence of a crashed worker.
func runStaleSweep(w *queue.Worker, logger *logging.Logger, interval time.Duration, stop <-chan struct{}) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			n, err := w.SweepStale(ctx)
			if err != nil {
				logger.Warn("stale job sweep failed", "error", err)
			} else if n > 0 {
				logger.Info("reclaimed stale jobs", "count", n)
			}
			if stats, err := w.Stats(ctx); err != nil {
				logger.Warn("queue stats unavailable", "error", err)
			} else {
				logger.Info("queue depth", "pending", stats["pending"], "active", stats["active"])
			}
			cancel()
		}
	}
}

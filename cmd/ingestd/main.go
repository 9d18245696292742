// Command ingestd is the front door of the pipeline: it normalises
// inbound chat events into persisted messages and queue jobs (C5), runs
// the periodic SYNC_RAG reconciliation job (C10), drives bulk history
// bootstrap runs once authorised over HTTP (C9), and serves the
// operational HTTP surface (the healthz/case/history-start/ingest
// routes). Like historyctl, it runs as a single-chunk extraction worker
// instead when re-exec'd by history bootstrap.
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"supportbot/internal/blobstore"
	"supportbot/internal/config"
	"supportbot/internal/historybootstrap"
	"supportbot/internal/httpapi"
	"supportbot/internal/ingestfrontend"
	"supportbot/internal/llmgateway"
	"supportbot/internal/logging"
	"supportbot/internal/model"
	"supportbot/internal/queue"
	"supportbot/internal/reconciler"
	"supportbot/internal/storage"
	"supportbot/internal/telemetry"
	"supportbot/internal/vectorstore"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		logging.Log.WithError(err).Error("config load failed")
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Setup(ctx, telemetry.Config{
		Enabled:     cfg.OTelEnabled,
		Endpoint:    cfg.OTelEndpoint,
		ServiceName: cfg.OTelServiceName + "-ingestd",
	})
	if err != nil {
		logging.Log.WithError(err).Error("telemetry setup failed")
		return 1
	}
	defer shutdownTelemetry(context.Background())

	store, err := storage.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logging.Log.WithError(err).Error("storage open failed")
		return 1
	}
	defer store.Close()

	vectors, err := vectorstore.Open(cfg.VectorURL, cfg.VectorCollection, cfg.VectorDimensions, cfg.VectorMetric)
	if err != nil {
		logging.Log.WithError(err).Error("vector store open failed")
		return 1
	}
	defer vectors.Close()

	gateway, err := llmgateway.New(cfg.LLMAPIKey, llmgateway.Models{
		Image:     cfg.ModelImage,
		Gate:      cfg.ModelGate,
		Extract:   cfg.ModelExtract,
		Case:      cfg.ModelCase,
		Respond:   cfg.ModelRespond,
		Blocks:    cfg.ModelBlocks,
		Embedding: cfg.EmbeddingModel,
	}, llmgateway.WithCallTimeout(cfg.LLMCallTimeout))
	if err != nil {
		logging.Log.WithError(err).Error("llm gateway init failed")
		return 1
	}
	defer gateway.Close()

	if historybootstrap.IsExtractWorkerMode() {
		return historybootstrap.RunExtractWorkerMode(ctx, gateway)
	}

	var blobs blobstore.Store
	if cfg.R2Enabled() {
		blobs, err = blobstore.NewS3(ctx, cfg.R2Endpoint, cfg.R2AccessKeyID, cfg.R2SecretAccessKey, cfg.R2Bucket)
	} else {
		blobs, err = blobstore.NewLocal(cfg.IngestStorageDir)
	}
	if err != nil {
		logging.Log.WithError(err).Error("blob store open failed")
		return 1
	}

	exePath, err := os.Executable()
	if err != nil {
		logging.Log.WithError(err).Error("resolve executable path failed")
		return 1
	}
	bootstrap := historybootstrap.New(store, vectors, gateway, exePath,
		historybootstrap.WithMaxWorkers(cfg.HistoryMaxWorkers),
		historybootstrap.WithDedupThreshold(cfg.DedupCosineThreshold))

	recon := reconciler.New(store, vectors, gateway)

	frontend := ingestfrontend.New(store, blobs, gateway, cfg.IngestStorageDir)

	starter := &historyStarter{store: store}
	server := httpapi.NewServer(store, starter, frontend)

	historyLoop := queue.New(store, []model.JobKind{model.JobHistorySync}, cfg.WorkerPollInterval, cfg.StalenessDeadline, cfg.JobTotalDeadline,
		historySyncHandler(store, bootstrap, cfg))

	syncLoop := queue.New(store, []model.JobKind{model.JobSyncRAG}, cfg.WorkerPollInterval, cfg.StalenessDeadline, cfg.JobTotalDeadline,
		syncRAGHandler(store, recon))

	httpSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: server}

	done := make(chan struct{}, 3)
	go func() { historyLoop.Run(ctx); done <- struct{}{} }()
	go func() { syncRAGScheduler(ctx, store); done <- struct{}{} }()
	go func() { syncLoop.Run(ctx); done <- struct{}{} }()

	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(sctx)
	}()

	logging.Log.WithField("addr", cfg.HTTPAddr).Info("ingestd started")
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logging.Log.WithError(err).Error("http server failed")
	}
	<-done
	<-done
	<-done
	logging.Log.Info("ingestd stopped")
	return 0
}

// historyStarter authorises a bulk ingest over HTTP by enqueuing a
// HISTORY_SYNC job rather than running the (potentially long) bootstrap
// pipeline inline in the request.
type historyStarter struct {
	store storage.Storage
}

func (h *historyStarter) Start(ctx context.Context, groupID string) error {
	_, err := h.store.EnqueueJob(ctx, model.JobHistorySync, model.HistorySyncPayload{GroupID: groupID})
	return err
}

func historySyncHandler(store storage.Storage, bootstrap *historybootstrap.Bootstrap, cfg *config.Settings) queue.Handler {
	return func(ctx context.Context, job model.Job) error {
		var payload model.HistorySyncPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return err
		}
		transcript, err := store.ListRawMessagesByGroup(ctx, payload.GroupID)
		if err != nil {
			return err
		}
		chunks := historybootstrap.SplitChunks(transcript, cfg.ChunkCharCap, cfg.ChunkOverlapMessages)
		report, err := bootstrap.Run(ctx, payload.GroupID, chunks)
		if err != nil {
			return err
		}
		logging.Log.WithFields(map[string]any{
			"group_id":       payload.GroupID,
			"upserted_cases": report.UpsertedCases,
			"skipped_dupes":  report.SkippedDupes,
			"failed_chunks":  report.FailedChunks,
			"status":         report.Status,
		}).Info("history bootstrap run finished")
		return store.CompleteJob(ctx, job.JobID)
	}
}

func syncRAGHandler(store storage.Storage, recon *reconciler.Reconciler) queue.Handler {
	return func(ctx context.Context, job model.Job) error {
		report, err := recon.Run(ctx)
		if err != nil {
			return err
		}
		logging.Log.WithFields(map[string]any{
			"orphan_vectors_deleted": report.OrphanVectorsDeleted,
			"caseless_reembedded":    report.CaselessReembedded,
		}).Info("sync rag run finished")
		return store.CompleteJob(ctx, job.JobID)
	}
}

// syncRAGScheduler enqueues one SYNC_RAG job per tick. SYNC_RAG carries
// no identifying payload, so duplicate enqueues while one run is still
// in progress are harmless — the second claim just reconciles an
// already-reconciled index.
func syncRAGScheduler(ctx context.Context, store storage.Storage) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := store.EnqueueJob(ctx, model.JobSyncRAG, model.SyncRAGPayload{}); err != nil {
				logging.Log.WithError(err).Warn("failed to enqueue sync rag job")
			}
		}
	}
}

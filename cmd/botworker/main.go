// Command botworker runs the two job-queue loops that drive the live
// pipeline: BUFFER_UPDATE (mining solved cases out of the rolling
// per-group buffer) and MAYBE_RESPOND (deciding whether, and how, to
// answer an inbound message). Both loops claim only their own job
// kind, so they never contend with each other over the same row; they
// run as goroutines in one process rather than two binaries purely to
// keep the deployment surface small; nothing about the job model
// requires that.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"supportbot/internal/bufferworker"
	"supportbot/internal/config"
	"supportbot/internal/llmgateway"
	"supportbot/internal/logging"
	"supportbot/internal/messaging"
	"supportbot/internal/model"
	"supportbot/internal/queue"
	"supportbot/internal/respondworker"
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
	logging.Log.SetLevel(logging.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Setup(ctx, telemetry.Config{
		Enabled:     cfg.OTelEnabled,
		Endpoint:    cfg.OTelEndpoint,
		ServiceName: cfg.OTelServiceName + "-botworker",
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

	// The outbound chat transport is out of scope (spec.md Non-goals):
	// responses are recorded by the stub adapter rather than delivered.
	adapter := messaging.NewStub()

	buf := bufferworker.New(store, vectors, gateway)
	bufLoop := queue.New(store, []model.JobKind{model.JobBufferUpdate}, cfg.WorkerPollInterval, cfg.StalenessDeadline, cfg.JobTotalDeadline, buf.Handle)

	resp := respondworker.New(store, vectors, gateway, adapter, respondworker.WithTopK(cfg.RetrieveTopK))
	respLoop := queue.New(store, []model.JobKind{model.JobMaybeRespond}, cfg.WorkerPollInterval, cfg.StalenessDeadline, cfg.JobTotalDeadline, resp.Handle)

	done := make(chan struct{}, 2)
	go func() { bufLoop.Run(ctx); done <- struct{}{} }()
	go func() { respLoop.Run(ctx); done <- struct{}{} }()

	logging.Log.Info("botworker started")
	<-done
	<-done
	logging.Log.Info("botworker stopped")
	return 0
}

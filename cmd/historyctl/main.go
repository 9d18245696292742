// Command historyctl is the CLI entrypoint for bulk history bootstrap
// (C9). Invoked normally it loads a group's transcript and runs the
// chunk/extract/structure/dedup/upsert pipeline once, printing the
// resulting report. Invoked with SUPPORTBOT_EXTRACT_CHUNK=1 set (done
// by the pipeline's own re-exec, never by an operator) it instead runs
// as a single-chunk extraction worker and exits.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"supportbot/internal/config"
	"supportbot/internal/historybootstrap"
	"supportbot/internal/llmgateway"
	"supportbot/internal/logging"
	"supportbot/internal/storage"
	"supportbot/internal/vectorstore"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		return 1
	}

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
		fmt.Fprintf(os.Stderr, "llm gateway init failed: %v\n", err)
		return 1
	}
	defer gateway.Close()

	if historybootstrap.IsExtractWorkerMode() {
		return historybootstrap.RunExtractWorkerMode(ctx, gateway)
	}

	groupID := flag.String("group", "", "group id to bootstrap history for")
	flag.Parse()
	if *groupID == "" {
		fmt.Fprintln(os.Stderr, "usage: historyctl -group <group_id>")
		return 2
	}

	store, err := storage.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "storage open failed: %v\n", err)
		return 1
	}
	defer store.Close()

	vectors, err := vectorstore.Open(cfg.VectorURL, cfg.VectorCollection, cfg.VectorDimensions, cfg.VectorMetric)
	if err != nil {
		fmt.Fprintf(os.Stderr, "vector store open failed: %v\n", err)
		return 1
	}
	defer vectors.Close()

	exePath, err := os.Executable()
	if err != nil {
		fmt.Fprintf(os.Stderr, "resolve executable path failed: %v\n", err)
		return 1
	}

	transcript, err := store.ListRawMessagesByGroup(ctx, *groupID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load transcript failed: %v\n", err)
		return 1
	}
	if len(transcript) == 0 {
		fmt.Fprintf(os.Stderr, "no messages found for group %q\n", *groupID)
		return 1
	}

	chunks := historybootstrap.SplitChunks(transcript, cfg.ChunkCharCap, cfg.ChunkOverlapMessages)
	bootstrap := historybootstrap.New(store, vectors, gateway, exePath,
		historybootstrap.WithMaxWorkers(cfg.HistoryMaxWorkers),
		historybootstrap.WithDedupThreshold(cfg.DedupCosineThreshold))

	report, err := bootstrap.Run(ctx, *groupID, chunks)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bootstrap run failed: %v\n", err)
		return 1
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		logging.Log.WithError(err).Error("failed to encode report")
		return 1
	}
	if report.Status != "success" {
		return 1
	}
	return 0
}

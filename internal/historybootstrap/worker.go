package historybootstrap

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"supportbot/internal/llmgateway"
)

// extractChunkEnv signals to the re-exec'd subprocess that it should
// run as a one-shot extraction worker instead of the normal CLI.
const extractChunkEnv = "SUPPORTBOT_EXTRACT_CHUNK"

// RunExtractWorkerMode runs the process as a single-chunk extraction
// worker: read chunk text from stdin, make exactly one LLM
// blocks-extraction call, write the JSON result to stdout, exit. This
// is invoked by cmd/historyctl and cmd/ingestd when extractChunkEnv is
// set.
//
// The hard per-chunk process boundary exists because the upstream LLM
// transport has been observed to hang on repeated calls from a
// long-lived process; a short-lived worker the parent can kill and
// reap bounds that failure to one chunk (spec.md §4.5).
func RunExtractWorkerMode(ctx context.Context, gateway *llmgateway.Gateway) int {
	data, err := io.ReadAll(bufio.NewReader(os.Stdin))
	if err != nil {
		fmt.Fprintf(os.Stderr, "read stdin: %v\n", err)
		return 1
	}
	result, err := gateway.HistoryBlocks(ctx, string(data))
	if err != nil {
		fmt.Fprintf(os.Stderr, "extract: %v\n", err)
		return 1
	}
	enc := json.NewEncoder(os.Stdout)
	if err := enc.Encode(result); err != nil {
		fmt.Fprintf(os.Stderr, "encode result: %v\n", err)
		return 1
	}
	return 0
}

// IsExtractWorkerMode reports whether the current process should run
// RunExtractWorkerMode instead of its normal entrypoint.
func IsExtractWorkerMode() bool {
	return os.Getenv(extractChunkEnv) == "1"
}

// spawnExtractWorker runs one chunk through a fresh subprocess copy of
// the current executable and decodes its result.
func spawnExtractWorker(ctx context.Context, exePath string, chunk Chunk) (llmgateway.SpanExtractResult, error) {
	cmd := exec.CommandContext(ctx, exePath)
	cmd.Env = append(os.Environ(), extractChunkEnv+"=1")
	cmd.Stdin = strings.NewReader(chunk.Text)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return llmgateway.SpanExtractResult{}, fmt.Errorf("chunk %d worker: %w (stderr: %s)", chunk.Index, err, stderr.String())
	}

	var result llmgateway.SpanExtractResult
	if err := json.Unmarshal(stdout.Bytes(), &result); err != nil {
		return llmgateway.SpanExtractResult{}, fmt.Errorf("chunk %d decode result: %w", chunk.Index, err)
	}
	return result, nil
}

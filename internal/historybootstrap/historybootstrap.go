// Package historybootstrap is the bulk one-shot pipeline that chunks
// a long transcript, extracts case blocks in parallel subprocess
// workers, and upserts them into the same Case/Vector data model the
// live pipeline uses (spec.md C9).
package historybootstrap

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"supportbot/internal/llmgateway"
	"supportbot/internal/logging"
	"supportbot/internal/model"
	"supportbot/internal/storage"
	"supportbot/internal/vectorstore"
)

// Bootstrap runs the chunk/extract/structure/dedup/upsert pipeline.
type Bootstrap struct {
	store   storage.Storage
	vectors vectorstore.Store
	gateway *llmgateway.Gateway
	exePath string

	maxWorkers      int
	dedupThreshold  float64
}

// Option configures a Bootstrap at construction time.
type Option func(*Bootstrap)

func WithMaxWorkers(n int) Option { return func(b *Bootstrap) { b.maxWorkers = n } }
func WithDedupThreshold(t float64) Option { return func(b *Bootstrap) { b.dedupThreshold = t } }

func New(store storage.Storage, vectors vectorstore.Store, gateway *llmgateway.Gateway, exePath string, opts ...Option) *Bootstrap {
	b := &Bootstrap{
		store: store, vectors: vectors, gateway: gateway, exePath: exePath,
		maxWorkers: 4, dedupThreshold: 0.15,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Report summarises one Run call (spec.md §4.5: "partial success with
// counts").
type Report struct {
	UpsertedCases int
	SkippedDupes  int
	FailedChunks  []int
	Status        string // "success" | "partial_success"
}

// Run processes every chunk, tolerating individual chunk failures
// without aborting the rest of the pipeline.
func (b *Bootstrap) Run(ctx context.Context, groupID string, chunks []Chunk) (Report, error) {
	results := make([]llmgateway.SpanExtractResult, len(chunks))
	failed := make([]bool, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.maxWorkers)
	for _, chunk := range chunks {
		chunk := chunk
		g.Go(func() error {
			res, err := spawnExtractWorker(gctx, b.exePath, chunk)
			if err != nil {
				logging.Log.WithError(err).WithField("chunk", chunk.Index).Warn("history chunk extraction failed")
				failed[chunk.Index] = true
				return nil // a failed chunk must not abort the others
			}
			results[chunk.Index] = res
			return nil
		})
	}
	_ = g.Wait() // errors are recorded per-chunk above, never propagated

	var report Report
	var seen []seenCase
	var mu sync.Mutex

	structureGroup, sctx := errgroup.WithContext(ctx)
	structureGroup.SetLimit(b.maxWorkers)
	for idx, res := range results {
		if failed[idx] {
			report.FailedChunks = append(report.FailedChunks, idx)
			continue
		}
		for _, span := range res.Cases {
			span := span
			structureGroup.Go(func() error {
				upserted, duplicate, err := b.structureAndUpsert(sctx, groupID, span.CaseBlock, &seen, &mu)
				if err != nil {
					logging.Log.WithError(err).Warn("history case structuring failed")
					return nil
				}
				mu.Lock()
				if duplicate {
					report.SkippedDupes++
				} else if upserted {
					report.UpsertedCases++
				}
				mu.Unlock()
				return nil
			})
		}
	}
	_ = structureGroup.Wait()

	report.Status = "success"
	if len(report.FailedChunks) > 0 {
		report.Status = "partial_success"
	}
	return report, nil
}

type seenCase struct {
	embedding []float32
}

// structureAndUpsert runs the same structurer C7 uses, checks the
// result against already-upserted cases by cosine distance on the
// title+summary embedding, and upserts if it survives both checks.
func (b *Bootstrap) structureAndUpsert(ctx context.Context, groupID, caseBlock string, seen *[]seenCase, mu *sync.Mutex) (upserted, duplicate bool, err error) {
	caseResult, err := b.gateway.Structure(ctx, caseBlock)
	if err != nil {
		return false, false, fmt.Errorf("structure: %w", err)
	}
	if !caseResult.Keep || caseResult.Status != string(model.CaseSolved) {
		return false, false, nil
	}

	dedupText := caseResult.ProblemTitle + " " + caseResult.ProblemSummary
	vectors, err := b.gateway.Embed(ctx, []string{dedupText, caseBlockDocument(caseResult)})
	if err != nil {
		return false, false, fmt.Errorf("embed: %w", err)
	}
	dedupEmb, docEmb := vectors[0], vectors[1]

	mu.Lock()
	for _, s := range *seen {
		if cosineDistance(dedupEmb, s.embedding) < b.dedupThreshold {
			mu.Unlock()
			return false, true, nil
		}
	}
	*seen = append(*seen, seenCase{embedding: dedupEmb})
	mu.Unlock()

	c := model.Case{
		CaseID:          uuid.NewString(),
		GroupID:         groupID,
		Status:          model.CaseSolved,
		ProblemTitle:    caseResult.ProblemTitle,
		ProblemSummary:  caseResult.ProblemSummary,
		SolutionSummary: caseResult.SolutionSummary,
		Tags:            caseResult.Tags,
		EvidenceIDs:     caseResult.EvidenceIDs,
		CreatedAt:       time.Now().UTC(),
	}
	if err := b.store.InsertCase(ctx, c); err != nil {
		return false, false, fmt.Errorf("insert case: %w", err)
	}
	meta := model.VectorMetadata{
		GroupID:     c.GroupID,
		Status:      string(c.Status),
		CreatedAt:   c.CreatedAt.Format(time.RFC3339),
		EvidenceIDs: c.EvidenceIDs,
	}
	if err := b.vectors.Upsert(ctx, c.CaseID, docEmb, meta); err != nil {
		return false, false, fmt.Errorf("upsert vector: %w", err)
	}
	return true, false, nil
}

func caseBlockDocument(c llmgateway.CaseResult) string {
	return c.ProblemTitle + "\n" + c.ProblemSummary + "\n" + c.SolutionSummary
}

func cosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return math.MaxFloat64
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return math.MaxFloat64
	}
	similarity := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	return 1 - similarity
}

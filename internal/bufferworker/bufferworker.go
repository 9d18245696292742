// Package bufferworker implements the BUFFER_UPDATE job (spec.md C7):
// grow the per-group buffer, and whenever the gateway finds a
// self-contained solved case inside it, structure, embed, and upsert
// that case, then shrink the buffer by the case's exact span.
package bufferworker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"supportbot/internal/llmgateway"
	"supportbot/internal/logging"
	"supportbot/internal/model"
	"supportbot/internal/storage"
	"supportbot/internal/vectorstore"
)

// Worker holds the dependencies one BUFFER_UPDATE job needs.
type Worker struct {
	store   storage.Storage
	vectors vectorstore.Store
	gateway *llmgateway.Gateway
}

// Option configures a Worker at construction time.
type Option func(*Worker)

func New(store storage.Storage, vectors vectorstore.Store, gateway *llmgateway.Gateway, opts ...Option) *Worker {
	w := &Worker{store: store, vectors: vectors, gateway: gateway}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Handle runs the full BUFFER_UPDATE algorithm for one job (spec.md
// §4.3). It is meant to be passed straight to queue.New as a
// queue.Handler.
func (w *Worker) Handle(ctx context.Context, job model.Job) error {
	var payload model.BufferUpdatePayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("decode buffer_update payload: %w", err)
	}

	msg, err := w.store.GetRawMessage(ctx, payload.MessageID)
	if err != nil {
		if err == storage.ErrNotFound {
			// Message was rolled back after enqueue; nothing to do.
			return w.store.CompleteJob(ctx, job.JobID)
		}
		return fmt.Errorf("load raw message: %w", err)
	}

	return w.runWithBufferLock(ctx, job, msg, canonicalLine(msg))
}

func canonicalLine(msg model.RawMessage) string {
	ts := time.UnixMilli(msg.TS).UTC().Format(time.RFC3339)
	return fmt.Sprintf("[%s] %s: %s\n", ts, msg.SenderHash, msg.ContentText)
}

func (w *Worker) runWithBufferLock(ctx context.Context, job model.Job, msg model.RawMessage, line string) error {
	var skipExtraction bool
	var bufferAfterAppend string

	err := w.store.WithTx(ctx, func(tx storage.Tx) error {
		current, err := w.store.GetBufferForUpdate(ctx, tx, msg.GroupID)
		if err != nil {
			return fmt.Errorf("lock buffer: %w", err)
		}
		bufferAfterAppend = current + line
		skipExtraction = msg.RAGAnswered

		return w.store.SaveBuffer(ctx, tx, msg.GroupID, bufferAfterAppend)
	})
	if err != nil {
		return err
	}

	if skipExtraction {
		// The message was already answered from retrieval; mining a case
		// from the same thread would just duplicate that answer.
		return w.store.CompleteJob(ctx, job.JobID)
	}

	if err := w.extractAndUpsert(ctx, msg.GroupID, bufferAfterAppend); err != nil {
		return err
	}
	return w.store.CompleteJob(ctx, job.JobID)
}

// extractAndUpsert calls the gateway's span extractor, structures and
// embeds the earliest span, and shrinks the buffer by that span's
// exact text. A validation failure from the gateway fails the job
// outright per spec.md §4.3 ("no partial commit").
func (w *Worker) extractAndUpsert(ctx context.Context, groupID, buffer string) error {
	result, err := w.gateway.Extract(ctx, buffer)
	if err != nil {
		return fmt.Errorf("extract: %w", err)
	}
	if !result.Found {
		// No new self-contained case in the buffer; check instead whether
		// the group's most recent open case was resolved by it.
		return w.checkResolution(ctx, groupID, buffer)
	}

	caseResult, err := w.gateway.Structure(ctx, result.CaseBlock)
	if err != nil {
		return fmt.Errorf("structure: %w", err)
	}
	if !caseResult.Keep {
		// The LLM retracted: discard the span and leave the buffer
		// untouched (spec.md §4.3.4a) — the span stays in the buffer for a
		// later pass to reconsider rather than being silently dropped.
		return nil
	}

	c := model.Case{
		CaseID:          uuid.NewString(),
		GroupID:         groupID,
		Status:          model.CaseStatus(caseResult.Status),
		ProblemTitle:    caseResult.ProblemTitle,
		ProblemSummary:  caseResult.ProblemSummary,
		SolutionSummary: caseResult.SolutionSummary,
		Tags:            caseResult.Tags,
		EvidenceIDs:     matchEvidenceIDs(caseResult.EvidenceIDs, result.CaseBlock),
		CreatedAt:       time.Now().UTC(),
	}
	if err := w.store.InsertCase(ctx, c); err != nil {
		return fmt.Errorf("insert case: %w", err)
	}

	if c.Status == model.CaseSolved {
		vectors, err := w.gateway.Embed(ctx, []string{c.Document()})
		if err != nil {
			// Case row is already committed; the Reconciler's opportunistic
			// re-embed path catches this orphan later (spec.md §4.3).
			return fmt.Errorf("embed case %s: %w", c.CaseID, err)
		}
		meta := model.VectorMetadata{
			GroupID:     c.GroupID,
			Status:      string(c.Status),
			CreatedAt:   c.CreatedAt.Format(time.RFC3339),
			EvidenceIDs: c.EvidenceIDs,
		}
		if err := w.vectors.Upsert(ctx, c.CaseID, vectors[0], meta); err != nil {
			return fmt.Errorf("upsert vector for case %s: %w", c.CaseID, err)
		}
	}

	return w.shrinkBuffer(ctx, groupID, result.CaseBlock)
}

// checkResolution asks the gateway whether the group's most recent
// open case has since been resolved by the buffer's contents. A
// resolved case is superseded by a new solved case row (spec.md §3:
// "a new case that supersedes the old one by case_id"), never mutated
// in place.
func (w *Worker) checkResolution(ctx context.Context, groupID, buffer string) error {
	if strings.TrimSpace(buffer) == "" {
		return nil
	}
	openCases, err := w.store.ListOpenCases(ctx, groupID, 1)
	if err != nil {
		return fmt.Errorf("list open cases: %w", err)
	}
	if len(openCases) == 0 {
		return nil
	}
	open := openCases[0]

	res, err := w.gateway.CheckResolution(ctx, open.Document(), buffer)
	if err != nil {
		return fmt.Errorf("check resolution: %w", err)
	}
	if !res.Resolved {
		return nil
	}

	solved := open
	solved.CaseID = uuid.NewString()
	solved.Status = model.CaseSolved
	solved.SolutionSummary = res.SolutionSummary
	solved.CreatedAt = time.Now().UTC()
	solved.SupersedesCaseID = &open.CaseID
	if err := w.store.InsertCase(ctx, solved); err != nil {
		return fmt.Errorf("insert resolved case: %w", err)
	}

	vectors, err := w.gateway.Embed(ctx, []string{solved.Document()})
	if err != nil {
		// Case row already committed; the Reconciler's opportunistic
		// re-embed path catches this orphan later (spec.md §4.3).
		return fmt.Errorf("embed resolved case %s: %w", solved.CaseID, err)
	}
	meta := model.VectorMetadata{
		GroupID:     solved.GroupID,
		Status:      string(solved.Status),
		CreatedAt:   solved.CreatedAt.Format(time.RFC3339),
		EvidenceIDs: solved.EvidenceIDs,
	}
	if err := w.vectors.Upsert(ctx, solved.CaseID, vectors[0], meta); err != nil {
		return fmt.Errorf("upsert vector for resolved case %s: %w", solved.CaseID, err)
	}
	return nil
}

// shrinkBuffer removes the first occurrence of caseBlock from the
// group's buffer as it stands under the row lock, so lines appended
// since the extraction pass read it are kept.
func (w *Worker) shrinkBuffer(ctx context.Context, groupID, caseBlock string) error {
	return w.store.WithTx(ctx, func(tx storage.Tx) error {
		current, err := w.store.GetBufferForUpdate(ctx, tx, groupID)
		if err != nil {
			return fmt.Errorf("lock buffer for shrink: %w", err)
		}
		return w.store.SaveBuffer(ctx, tx, groupID, strings.Replace(current, caseBlock, "", 1))
	})
}

// matchEvidenceIDs keeps the declared message ids that appear verbatim
// inside caseBlock and drops the rest. Buffer lines carry a timestamp,
// sender hash, and text but no message id, so an id is kept only where
// it occurs in that text.
func matchEvidenceIDs(declared []string, caseBlock string) []string {
	out := make([]string, 0, len(declared))
	for _, id := range declared {
		if strings.Contains(caseBlock, id) {
			out = append(out, id)
		}
	}
	return out
}

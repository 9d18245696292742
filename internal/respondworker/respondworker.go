// Package respondworker implements the MAYBE_RESPOND job (spec.md C8):
// gate, retrieve, draft, and send at most one reply per inbound
// message, marking the message answered-from-RAG atomically with job
// completion.
package respondworker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"supportbot/internal/llmgateway"
	"supportbot/internal/messaging"
	"supportbot/internal/model"
	"supportbot/internal/storage"
	"supportbot/internal/vectorstore"
)

// Worker holds the dependencies one MAYBE_RESPOND job needs.
type Worker struct {
	store     storage.Storage
	vectors   vectorstore.Store
	gateway   *llmgateway.Gateway
	adapter   messaging.Adapter
	topK      int
	contextN  int
}

// Option configures a Worker at construction time.
type Option func(*Worker)

func WithTopK(k int) Option { return func(w *Worker) { w.topK = k } }

func New(store storage.Storage, vectors vectorstore.Store, gateway *llmgateway.Gateway, adapter messaging.Adapter, opts ...Option) *Worker {
	w := &Worker{store: store, vectors: vectors, gateway: gateway, adapter: adapter, topK: 5, contextN: 40}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Handle runs the GATED → RETRIEVED → DRAFTED → SENT → DONE state
// machine for one job (spec.md §4.4). Every SKIP transition still
// completes the job: a skip is not a failure.
func (w *Worker) Handle(ctx context.Context, job model.Job) error {
	var payload model.BufferUpdatePayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("decode maybe_respond payload: %w", err)
	}

	msg, err := w.store.GetRawMessage(ctx, payload.MessageID)
	if err != nil {
		if err == storage.ErrNotFound {
			return w.store.CompleteJob(ctx, job.JobID)
		}
		return fmt.Errorf("load raw message: %w", err)
	}
	if msg.RAGAnswered {
		// A retried claim observing the flag already set must short-circuit
		// to DONE without sending again (spec.md §4.4).
		return w.store.CompleteJob(ctx, job.JobID)
	}

	// recent history window, shared by GATED (gate considers it) and
	// DRAFTED (respond drafts against it) per spec.md §4.4.
	buffer, err := w.currentBuffer(ctx, msg.GroupID)
	if err != nil {
		return fmt.Errorf("read buffer: %w", err)
	}

	// GATED
	decision, err := w.gateway.Gate(ctx, msg.ContentText, buffer)
	if err != nil {
		return fmt.Errorf("gate: %w", err)
	}
	if !decision.Consider {
		return w.store.CompleteJob(ctx, job.JobID)
	}

	// RETRIEVED
	vectors, err := w.gateway.Embed(ctx, []string{msg.ContentText})
	if err != nil {
		return fmt.Errorf("embed question: %w", err)
	}
	hits, err := w.vectors.SimilaritySearch(ctx, vectors[0], w.topK, msg.GroupID)
	if err != nil {
		return fmt.Errorf("similarity search: %w", err)
	}
	solved := filterSolved(hits)
	if len(solved) == 0 && strings.TrimSpace(buffer) == "" {
		return w.store.CompleteJob(ctx, job.JobID)
	}

	// DRAFTED
	retrievedContext, err := w.renderRetrieved(ctx, solved)
	if err != nil {
		return fmt.Errorf("render retrieved cases: %w", err)
	}
	draft, err := w.gateway.Respond(ctx, msg.ContentText, retrievedContext, buffer)
	if err != nil {
		return fmt.Errorf("respond: %w", err)
	}
	if !draft.Respond {
		return w.store.CompleteJob(ctx, job.JobID)
	}

	// SENT — quote the asker and mention them, per spec.md §4.4/§6
	// (send_group_text(group_id, text, quote?, mentions?)); scenario S2
	// expects exactly one send with the quote pointing at the asker.
	text := draft.Text
	if len(draft.Citations) > 0 {
		text = text + "\n\n" + strings.Join(draft.Citations, " ")
	}
	quote := &messaging.Quote{TS: msg.TS, Sender: msg.SenderHash, Excerpt: excerpt(msg.ContentText, 200)}
	mentions := []string{msg.SenderHash}
	if err := w.adapter.SendGroupText(ctx, msg.GroupID, text, quote, mentions); err != nil {
		return fmt.Errorf("send: %w", err)
	}

	// DONE — flag write and complete commit together, closing the
	// duplicate-send window (spec.md §4.4).
	return w.store.CompleteJobAndMarkRAGAnswered(ctx, job.JobID, msg.MessageID)
}

// excerpt truncates text to at most n runes, for the quote payload.
func excerpt(text string, n int) string {
	r := []rune(text)
	if len(r) <= n {
		return text
	}
	return string(r[:n])
}

func filterSolved(hits []vectorstore.Result) []vectorstore.Result {
	out := hits[:0:0]
	for _, h := range hits {
		if h.Metadata.Status == string(model.CaseSolved) {
			out = append(out, h)
		}
	}
	return out
}

func (w *Worker) renderRetrieved(ctx context.Context, hits []vectorstore.Result) (string, error) {
	var sb strings.Builder
	for _, h := range hits {
		c, err := w.store.GetCase(ctx, h.CaseID)
		if err != nil {
			continue // a stale vector with no backing case; the reconciler will clean it up
		}
		fmt.Fprintf(&sb, "case:%s\n%s\n\n", c.CaseID, c.Document())
	}
	return sb.String(), nil
}

// currentBuffer reads the group buffer in a short transaction of its
// own; GetBufferForUpdate holds the row lock only until that
// transaction commits. MAYBE_RESPOND only reads the buffer for context,
// it never writes it.
func (w *Worker) currentBuffer(ctx context.Context, groupID string) (string, error) {
	var text string
	err := w.store.WithTx(ctx, func(tx storage.Tx) error {
		var err error
		text, err = w.store.GetBufferForUpdate(ctx, tx, groupID)
		return err
	})
	return text, err
}

// Package reconciler runs the periodic SYNC_RAG job that restores
// Case↔VectorEntry parity (spec.md C10): delete vectors whose case no
// longer exists, and opportunistically re-embed cases that have no
// vector yet (the path an embedding failure in bufferworker leaves
// behind).
package reconciler

import (
	"context"
	"fmt"
	"time"

	"supportbot/internal/llmgateway"
	"supportbot/internal/logging"
	"supportbot/internal/model"
	"supportbot/internal/storage"
	"supportbot/internal/vectorstore"
)

type Reconciler struct {
	store   storage.Storage
	vectors vectorstore.Store
	gateway *llmgateway.Gateway
}

func New(store storage.Storage, vectors vectorstore.Store, gateway *llmgateway.Gateway) *Reconciler {
	return &Reconciler{store: store, vectors: vectors, gateway: gateway}
}

// Report summarises one SYNC_RAG run.
type Report struct {
	OrphanVectorsDeleted int
	CaselessReembedded   int
}

// Run enumerates every vector id, deletes any with no backing case,
// then finds solved cases with no vector and re-embeds them.
func (r *Reconciler) Run(ctx context.Context) (Report, error) {
	var report Report

	vectorIDs, err := r.vectors.ListIDs(ctx)
	if err != nil {
		return report, fmt.Errorf("list vector ids: %w", err)
	}
	for _, id := range vectorIDs {
		if _, err := r.store.GetCase(ctx, id); err == storage.ErrNotFound {
			if err := r.vectors.Delete(ctx, id); err != nil {
				logging.Log.WithError(err).WithField("case_id", id).Warn("failed to delete orphan vector")
				continue
			}
			report.OrphanVectorsDeleted++
		}
	}

	caseIDs, err := r.store.ListCaseIDs(ctx)
	if err != nil {
		return report, fmt.Errorf("list case ids: %w", err)
	}
	vectorSet := make(map[string]bool, len(vectorIDs))
	for _, id := range vectorIDs {
		vectorSet[id] = true
	}
	for _, caseID := range caseIDs {
		if vectorSet[caseID] {
			continue
		}
		c, err := r.store.GetCase(ctx, caseID)
		if err != nil {
			continue
		}
		if c.Status != model.CaseSolved {
			continue
		}
		vectors, err := r.gateway.Embed(ctx, []string{c.Document()})
		if err != nil {
			logging.Log.WithError(err).WithField("case_id", caseID).Warn("reconciler re-embed failed")
			continue
		}
		meta := model.VectorMetadata{
			GroupID:     c.GroupID,
			Status:      string(c.Status),
			CreatedAt:   c.CreatedAt.Format(time.RFC3339),
			EvidenceIDs: c.EvidenceIDs,
		}
		if err := r.vectors.Upsert(ctx, c.CaseID, vectors[0], meta); err != nil {
			logging.Log.WithError(err).WithField("case_id", caseID).Warn("reconciler re-embed upsert failed")
			continue
		}
		report.CaselessReembedded++
	}

	return report, nil
}

// Package storage is the relational store for raw messages, jobs,
// buffers, cases, and history tokens (spec.md C2). It owns the
// authoritative Case records; the vector index (internal/vectorstore)
// owns a derived, one-to-one projection keyed by case_id.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"supportbot/internal/model"
)

// ErrNotFound is returned when a lookup by primary key misses.
var ErrNotFound = errors.New("storage: not found")

// ErrDuplicate names a collision with an existing unique key
// (message_id or case_id). The Postgres implementation does not return
// it: per spec.md §7 a collision is idempotent success, so
// InsertRawMessage reports it as inserted=false and InsertCase as nil.
var ErrDuplicate = errors.New("storage: duplicate identity")

// ErrNoJob is returned by ClaimNextJob when no pending job of the
// requested kinds is available.
var ErrNoJob = errors.New("storage: no job available")

// Storage is the full persistence contract used by the ingestion
// front-end, both workers, the reconciler, and history bootstrap.
type Storage interface {
	// InsertRawMessage persists msg. If msg.MessageID already exists it
	// returns (false, nil) — idempotent insert per spec.md §3.
	InsertRawMessage(ctx context.Context, msg model.RawMessage) (inserted bool, err error)
	GetRawMessage(ctx context.Context, messageID string) (model.RawMessage, error)
	// ListRawMessagesByGroup returns every raw message for groupID in ts
	// order, the transcript history bootstrap chunks (spec.md C9).
	ListRawMessagesByGroup(ctx context.Context, groupID string) ([]model.RawMessage, error)

	// EnqueueJob inserts the job on its own, outside any transaction;
	// Tx.EnqueueJobTx is the variant that shares the caller's transaction.
	EnqueueJob(ctx context.Context, kind model.JobKind, payload any) (jobID string, err error)
	ClaimNextJob(ctx context.Context, kinds []model.JobKind, stalenessDeadline time.Duration) (model.Job, error)
	CompleteJob(ctx context.Context, jobID string) error
	// CompleteJobAndMarkRAGAnswered commits both writes atomically,
	// closing the duplicate-send window described in spec.md §4.4.
	CompleteJobAndMarkRAGAnswered(ctx context.Context, jobID, messageID string) error
	FailJob(ctx context.Context, jobID string, reason string) error

	// WithTx runs fn inside a transaction and commits iff fn returns nil.
	// Used by the ingestion front-end to make insert-then-enqueue atomic.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// GetBufferForUpdate loads the current rolling buffer text for groupID,
	// locking the row for update until the surrounding transaction ends
	// (spec.md §5: "single DB row whose writers are serialised by
	// transaction-level row locking").
	GetBufferForUpdate(ctx context.Context, tx Tx, groupID string) (string, error)
	SaveBuffer(ctx context.Context, tx Tx, groupID string, text string) error

	InsertCase(ctx context.Context, c model.Case) error
	GetCase(ctx context.Context, caseID string) (model.Case, error)
	ListCaseIDs(ctx context.Context) ([]string, error)
	ListOpenCases(ctx context.Context, groupID string, limit int) ([]model.Case, error)

	InsertHistoryToken(ctx context.Context, t model.HistoryToken) error
	ConsumeHistoryToken(ctx context.Context, token string) (model.HistoryToken, error)

	Close()
}

// Tx is a narrow transaction handle passed back into Storage methods
// that must share one transaction (buffer read-modify-write, and the
// ingestion front-end's insert+enqueue).
type Tx interface {
	InsertRawMessageTx(ctx context.Context, msg model.RawMessage) (inserted bool, err error)
	EnqueueJobTx(ctx context.Context, kind model.JobKind, payload any) (jobID string, err error)
}

func marshalPayload(payload any) (json.RawMessage, error) {
	if raw, ok := payload.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(payload)
}

// Package model defines the data types shared by storage, the vector
// index, and both workers: raw messages, the per-group buffer, mined
// cases, durable jobs, and history-bootstrap tokens.
package model

import (
	"encoding/json"
	"time"
)

// JobKind enumerates the durable job kinds routed through the queue.
type JobKind string

const (
	JobBufferUpdate JobKind = "BUFFER_UPDATE"
	JobMaybeRespond JobKind = "MAYBE_RESPOND"
	JobSyncRAG      JobKind = "SYNC_RAG"
	JobHistoryLink  JobKind = "HISTORY_LINK"
	JobHistorySync  JobKind = "HISTORY_SYNC"
)

// JobStatus is the lifecycle state of a Job row.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobInProgress JobStatus = "in_progress"
	JobDone       JobStatus = "done"
	JobFailed     JobStatus = "failed"
)

// CaseStatus is whether a mined Case has a known solution yet.
type CaseStatus string

const (
	CaseSolved CaseStatus = "solved"
	CaseOpen   CaseStatus = "open"
)

// RawMessage is one inbound chat message, persisted once and immutable
// thereafter. Insertion is idempotent on MessageID.
type RawMessage struct {
	MessageID    string
	GroupID      string
	TS           int64 // producer timestamp, milliseconds
	SenderHash   string
	ContentText  string
	ImagePaths   []string
	ReplyToID    *string
	RAGAnswered  bool
}

// Job is a durable unit of work routed through the queue.
type Job struct {
	JobID      string
	Kind       JobKind
	Payload    json.RawMessage
	Status     JobStatus
	Attempts   int
	EnqueuedAt time.Time
	ClaimedAt  *time.Time
}

// BufferUpdatePayload is the payload carried by BUFFER_UPDATE and
// MAYBE_RESPOND jobs — both reference the same inbound message.
type BufferUpdatePayload struct {
	GroupID   string `json:"group_id"`
	MessageID string `json:"message_id"`
	Sender    string `json:"sender"`
	TS        int64  `json:"ts"`
	Text      string `json:"text"`
}

// SyncRAGPayload carries nothing beyond its kind; the job enumerates
// the whole vector index each run.
type SyncRAGPayload struct{}

// HistorySyncPayload authorises and scopes a bulk history bootstrap run.
type HistorySyncPayload struct {
	GroupID string `json:"group_id"`
	Token   string `json:"token"`
}

// Case is a structured, embedded record of a problem and (usually) its
// resolution. Cases are never mutated in place — a status transition is
// a new Case row that supersedes the old one by CaseID.
type Case struct {
	CaseID          string
	GroupID         string
	Status          CaseStatus
	ProblemTitle    string
	ProblemSummary  string
	SolutionSummary string
	Tags            []string
	EvidenceIDs     []string
	CreatedAt       time.Time
	// SupersedesCaseID is set on the new row created by an open→solved
	// status transition; it names the case_id it replaces, never
	// mutated in place.
	SupersedesCaseID *string
}

// Document renders the canonical text embedded and indexed for a Case,
// per spec.md §3: "problem_title\nproblem_summary\nsolution_summary\ntags".
func (c Case) Document() string {
	tags := ""
	for i, t := range c.Tags {
		if i > 0 {
			tags += ", "
		}
		tags += t
	}
	return c.ProblemTitle + "\n" + c.ProblemSummary + "\n" + c.SolutionSummary + "\n" + tags
}

// VectorMetadata is the metadata payload stored alongside a VectorEntry.
type VectorMetadata struct {
	GroupID     string   `json:"group_id"`
	Status      string   `json:"status"`
	CreatedAt   string   `json:"created_at"`
	EvidenceIDs []string `json:"evidence_ids"`
}

// HistoryToken authorises one bulk history-ingest operation.
type HistoryToken struct {
	Token     string
	GroupID   string
	ExpiresAt time.Time
	Used      bool
}

package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"supportbot/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS raw_messages (
  message_id TEXT PRIMARY KEY,
  group_id TEXT NOT NULL,
  ts BIGINT NOT NULL,
  sender_hash TEXT NOT NULL,
  content_text TEXT NOT NULL,
  image_paths_json JSONB NOT NULL DEFAULT '[]'::jsonb,
  reply_to_id TEXT,
  rag_answered_flag BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS jobs (
  job_id TEXT PRIMARY KEY,
  kind TEXT NOT NULL,
  payload_json JSONB NOT NULL,
  status TEXT NOT NULL,
  attempts INT NOT NULL DEFAULT 0,
  enqueued_at TIMESTAMPTZ NOT NULL,
  claimed_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS jobs_kind_status_enqueued_idx ON jobs (kind, status, enqueued_at);

CREATE TABLE IF NOT EXISTS buffers (
  group_id TEXT PRIMARY KEY,
  text TEXT NOT NULL DEFAULT '',
  updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS cases (
  case_id TEXT PRIMARY KEY,
  group_id TEXT NOT NULL,
  status TEXT NOT NULL,
  problem_title TEXT NOT NULL,
  problem_summary TEXT NOT NULL,
  solution_summary TEXT NOT NULL DEFAULT '',
  tags_json JSONB NOT NULL DEFAULT '[]'::jsonb,
  evidence_ids_json JSONB NOT NULL DEFAULT '[]'::jsonb,
  created_at TIMESTAMPTZ NOT NULL,
  supersedes_case_id TEXT
);
CREATE INDEX IF NOT EXISTS cases_group_status_idx ON cases (group_id, status);

CREATE TABLE IF NOT EXISTS history_tokens (
  token TEXT PRIMARY KEY,
  group_id TEXT NOT NULL,
  expires_at TIMESTAMPTZ NOT NULL,
  used BOOLEAN NOT NULL DEFAULT FALSE
);
`

type postgresStorage struct {
	pool *pgxpool.Pool
}

// Open connects to Postgres, bootstraps the schema, and returns a
// ready-to-use Storage. Mirrors the teacher's newPgPool helper
// (internal/persistence/databases/factory.go): conservative pool
// defaults, a short ping to fail fast on a bad DSN.
func Open(ctx context.Context, dsn string) (Storage, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 4
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	pctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := pool.Ping(pctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("bootstrap schema: %w", err)
	}
	return &postgresStorage{pool: pool}, nil
}

func (s *postgresStorage) Close() { s.pool.Close() }

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errOk := asPgError(err, &pgErr); errOk {
		return pgErr.Code == "23505"
	}
	return false
}

func asPgError(err error, target **pgconn.PgError) bool {
	pgErr, ok := err.(*pgconn.PgError)
	if ok {
		*target = pgErr
	}
	return ok
}

func (s *postgresStorage) InsertRawMessage(ctx context.Context, msg model.RawMessage) (bool, error) {
	imagePaths, err := json.Marshal(msg.ImagePaths)
	if err != nil {
		return false, err
	}
	tag, err := s.pool.Exec(ctx, `
INSERT INTO raw_messages (message_id, group_id, ts, sender_hash, content_text, image_paths_json, reply_to_id)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (message_id) DO NOTHING
`, msg.MessageID, msg.GroupID, msg.TS, msg.SenderHash, msg.ContentText, imagePaths, msg.ReplyToID)
	if err != nil {
		return false, fmt.Errorf("insert raw message: %w", err)
	}
	// ON CONFLICT DO NOTHING affects no row for a duplicate message_id.
	return tag.RowsAffected() == 1, nil
}

func (s *postgresStorage) GetRawMessage(ctx context.Context, messageID string) (model.RawMessage, error) {
	var msg model.RawMessage
	var imagePaths []byte
	err := s.pool.QueryRow(ctx, `
SELECT message_id, group_id, ts, sender_hash, content_text, image_paths_json, reply_to_id, rag_answered_flag
FROM raw_messages WHERE message_id=$1`, messageID).Scan(
		&msg.MessageID, &msg.GroupID, &msg.TS, &msg.SenderHash, &msg.ContentText, &imagePaths, &msg.ReplyToID, &msg.RAGAnswered)
	if err == pgx.ErrNoRows {
		return model.RawMessage{}, ErrNotFound
	}
	if err != nil {
		return model.RawMessage{}, fmt.Errorf("get raw message: %w", err)
	}
	_ = json.Unmarshal(imagePaths, &msg.ImagePaths)
	return msg, nil
}

func (s *postgresStorage) ListRawMessagesByGroup(ctx context.Context, groupID string) ([]model.RawMessage, error) {
	rows, err := s.pool.Query(ctx, `
SELECT message_id, group_id, ts, sender_hash, content_text, image_paths_json, reply_to_id, rag_answered_flag
FROM raw_messages WHERE group_id=$1 ORDER BY ts ASC`, groupID)
	if err != nil {
		return nil, fmt.Errorf("list raw messages: %w", err)
	}
	defer rows.Close()

	var out []model.RawMessage
	for rows.Next() {
		var msg model.RawMessage
		var imagePaths []byte
		if err := rows.Scan(&msg.MessageID, &msg.GroupID, &msg.TS, &msg.SenderHash, &msg.ContentText, &imagePaths, &msg.ReplyToID, &msg.RAGAnswered); err != nil {
			return nil, fmt.Errorf("scan raw message: %w", err)
		}
		_ = json.Unmarshal(imagePaths, &msg.ImagePaths)
		out = append(out, msg)
	}
	return out, rows.Err()
}

func (s *postgresStorage) EnqueueJob(ctx context.Context, kind model.JobKind, payload any) (string, error) {
	raw, err := marshalPayload(payload)
	if err != nil {
		return "", err
	}
	jobID := uuid.NewString()
	_, err = s.pool.Exec(ctx, `
INSERT INTO jobs (job_id, kind, payload_json, status, attempts, enqueued_at)
VALUES ($1,$2,$3,$4,0,$5)
`, jobID, kind, raw, model.JobPending, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("enqueue job: %w", err)
	}
	return jobID, nil
}

// ClaimNextJob claims the oldest pending job among kinds, also
// reclaiming any job stuck in_progress past stalenessDeadline (spec.md
// §4.2: "considered abandoned and may be re-claimed"). The UPDATE ...
// WHERE ... RETURNING pattern serialises concurrent claimers the way
// pgx row-locking does throughout the teacher's postgres stores.
func (s *postgresStorage) ClaimNextJob(ctx context.Context, kinds []model.JobKind, stalenessDeadline time.Duration) (model.Job, error) {
	kindStrs := make([]string, len(kinds))
	for i, k := range kinds {
		kindStrs[i] = string(k)
	}
	staleBefore := time.Now().UTC().Add(-stalenessDeadline)

	var job model.Job
	var payload []byte
	err := s.pool.QueryRow(ctx, `
WITH next AS (
  SELECT job_id FROM jobs
  WHERE kind = ANY($1)
    AND (status = $2 OR (status = $3 AND claimed_at < $4))
  ORDER BY enqueued_at ASC
  FOR UPDATE SKIP LOCKED
  LIMIT 1
)
UPDATE jobs SET status=$3, claimed_at=$5, attempts = jobs.attempts + 1
FROM next WHERE jobs.job_id = next.job_id
RETURNING jobs.job_id, jobs.kind, jobs.payload_json, jobs.status, jobs.attempts, jobs.enqueued_at, jobs.claimed_at
`, kindStrs, model.JobPending, model.JobInProgress, staleBefore, time.Now().UTC()).Scan(
		&job.JobID, &job.Kind, &payload, &job.Status, &job.Attempts, &job.EnqueuedAt, &job.ClaimedAt)
	if err == pgx.ErrNoRows {
		return model.Job{}, ErrNoJob
	}
	if err != nil {
		return model.Job{}, fmt.Errorf("claim next job: %w", err)
	}
	job.Payload = payload
	return job, nil
}

func (s *postgresStorage) CompleteJob(ctx context.Context, jobID string) error {
	_, err := s.pool.Exec(ctx, `UPDATE jobs SET status=$1 WHERE job_id=$2`, model.JobDone, jobID)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	return nil
}

// CompleteJobAndMarkRAGAnswered commits the rag_answered_flag write and
// the job completion in one transaction, per spec.md §4.4: "the worker
// must order the writes so the flag is committed together with
// complete."
func (s *postgresStorage) CompleteJobAndMarkRAGAnswered(ctx context.Context, jobID, messageID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)
	if _, err := tx.Exec(ctx, `UPDATE raw_messages SET rag_answered_flag=TRUE WHERE message_id=$1`, messageID); err != nil {
		return fmt.Errorf("mark rag answered: %w", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE jobs SET status=$1 WHERE job_id=$2`, model.JobDone, jobID); err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *postgresStorage) FailJob(ctx context.Context, jobID string, reason string) error {
	_, err := s.pool.Exec(ctx, `UPDATE jobs SET status=$1 WHERE job_id=$2`, model.JobFailed, jobID)
	if err != nil {
		return fmt.Errorf("fail job %s (%s): %w", jobID, reason, err)
	}
	return nil
}

// pgTx adapts a pgx.Tx to the narrow storage.Tx contract used by
// callers that need insert+enqueue atomicity (C5 ingestion front-end).
type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) InsertRawMessageTx(ctx context.Context, msg model.RawMessage) (bool, error) {
	imagePaths, err := json.Marshal(msg.ImagePaths)
	if err != nil {
		return false, err
	}
	tag, err := t.tx.Exec(ctx, `
INSERT INTO raw_messages (message_id, group_id, ts, sender_hash, content_text, image_paths_json, reply_to_id)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (message_id) DO NOTHING
`, msg.MessageID, msg.GroupID, msg.TS, msg.SenderHash, msg.ContentText, imagePaths, msg.ReplyToID)
	if err != nil {
		return false, fmt.Errorf("insert raw message: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (t *pgTx) EnqueueJobTx(ctx context.Context, kind model.JobKind, payload any) (string, error) {
	raw, err := marshalPayload(payload)
	if err != nil {
		return "", err
	}
	jobID := uuid.NewString()
	_, err = t.tx.Exec(ctx, `
INSERT INTO jobs (job_id, kind, payload_json, status, attempts, enqueued_at)
VALUES ($1,$2,$3,$4,0,$5)
`, jobID, kind, raw, model.JobPending, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("enqueue job: %w", err)
	}
	return jobID, nil
}

func (s *postgresStorage) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)
	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// GetBufferForUpdate must be called with a Tx obtained via WithTx: it
// locks the group's buffer row until that transaction ends, giving the
// per-group serialisation spec.md §5 requires.
func (s *postgresStorage) GetBufferForUpdate(ctx context.Context, tx Tx, groupID string) (string, error) {
	pt, ok := tx.(*pgTx)
	if !ok {
		return "", fmt.Errorf("GetBufferForUpdate requires a storage-managed tx")
	}
	var text string
	err := pt.tx.QueryRow(ctx, `SELECT text FROM buffers WHERE group_id=$1 FOR UPDATE`, groupID).Scan(&text)
	if err == pgx.ErrNoRows {
		if _, err := pt.tx.Exec(ctx, `INSERT INTO buffers (group_id, text, updated_at) VALUES ($1, '', $2)`, groupID, time.Now().UTC()); err != nil {
			return "", fmt.Errorf("seed buffer row: %w", err)
		}
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("lock buffer: %w", err)
	}
	return text, nil
}

func (s *postgresStorage) SaveBuffer(ctx context.Context, tx Tx, groupID string, text string) error {
	pt, ok := tx.(*pgTx)
	if !ok {
		return fmt.Errorf("SaveBuffer requires a storage-managed tx")
	}
	_, err := pt.tx.Exec(ctx, `
INSERT INTO buffers (group_id, text, updated_at) VALUES ($1,$2,$3)
ON CONFLICT (group_id) DO UPDATE SET text=EXCLUDED.text, updated_at=EXCLUDED.updated_at
`, groupID, text, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save buffer: %w", err)
	}
	return nil
}

func (s *postgresStorage) InsertCase(ctx context.Context, c model.Case) error {
	tags, err := json.Marshal(c.Tags)
	if err != nil {
		return err
	}
	evidence, err := json.Marshal(c.EvidenceIDs)
	if err != nil {
		return err
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO cases (case_id, group_id, status, problem_title, problem_summary, solution_summary, tags_json, evidence_ids_json, created_at, supersedes_case_id)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (case_id) DO NOTHING
`, c.CaseID, c.GroupID, c.Status, c.ProblemTitle, c.ProblemSummary, c.SolutionSummary, tags, evidence, c.CreatedAt, c.SupersedesCaseID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil // idempotent success, per spec.md §7
		}
		return fmt.Errorf("insert case: %w", err)
	}
	return nil
}

func (s *postgresStorage) GetCase(ctx context.Context, caseID string) (model.Case, error) {
	var c model.Case
	var tags, evidence []byte
	err := s.pool.QueryRow(ctx, `
SELECT case_id, group_id, status, problem_title, problem_summary, solution_summary, tags_json, evidence_ids_json, created_at, supersedes_case_id
FROM cases WHERE case_id=$1`, caseID).Scan(
		&c.CaseID, &c.GroupID, &c.Status, &c.ProblemTitle, &c.ProblemSummary, &c.SolutionSummary, &tags, &evidence, &c.CreatedAt, &c.SupersedesCaseID)
	if err == pgx.ErrNoRows {
		return model.Case{}, ErrNotFound
	}
	if err != nil {
		return model.Case{}, fmt.Errorf("get case: %w", err)
	}
	_ = json.Unmarshal(tags, &c.Tags)
	_ = json.Unmarshal(evidence, &c.EvidenceIDs)
	return c, nil
}

func (s *postgresStorage) ListCaseIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT case_id FROM cases`)
	if err != nil {
		return nil, fmt.Errorf("list case ids: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListOpenCases returns the group's most recent still-open cases,
// excluding any case_id that another row's supersedes_case_id already
// names — an open case superseded by a resolved one is no longer "open"
// even though its own row is immutable (spec.md §3: status transitions
// are a new row, never an in-place mutation).
func (s *postgresStorage) ListOpenCases(ctx context.Context, groupID string, limit int) ([]model.Case, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := s.pool.Query(ctx, `
SELECT case_id, group_id, status, problem_title, problem_summary, solution_summary, tags_json, evidence_ids_json, created_at, supersedes_case_id
FROM cases
WHERE group_id=$1 AND status=$2
  AND case_id NOT IN (SELECT supersedes_case_id FROM cases WHERE supersedes_case_id IS NOT NULL)
ORDER BY created_at DESC LIMIT $3
`, groupID, model.CaseOpen, limit)
	if err != nil {
		return nil, fmt.Errorf("list open cases: %w", err)
	}
	defer rows.Close()
	var out []model.Case
	for rows.Next() {
		var c model.Case
		var tags, evidence []byte
		if err := rows.Scan(&c.CaseID, &c.GroupID, &c.Status, &c.ProblemTitle, &c.ProblemSummary, &c.SolutionSummary, &tags, &evidence, &c.CreatedAt, &c.SupersedesCaseID); err != nil {
			return nil, err
		}
		_ = json.Unmarshal(tags, &c.Tags)
		_ = json.Unmarshal(evidence, &c.EvidenceIDs)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *postgresStorage) InsertHistoryToken(ctx context.Context, t model.HistoryToken) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO history_tokens (token, group_id, expires_at, used) VALUES ($1,$2,$3,FALSE)
`, t.Token, t.GroupID, t.ExpiresAt)
	if err != nil {
		return fmt.Errorf("insert history token: %w", err)
	}
	return nil
}

func (s *postgresStorage) ConsumeHistoryToken(ctx context.Context, token string) (model.HistoryToken, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return model.HistoryToken{}, err
	}
	defer tx.Rollback(ctx)

	var t model.HistoryToken
	err = tx.QueryRow(ctx, `SELECT token, group_id, expires_at, used FROM history_tokens WHERE token=$1 FOR UPDATE`, token).
		Scan(&t.Token, &t.GroupID, &t.ExpiresAt, &t.Used)
	if err == pgx.ErrNoRows {
		return model.HistoryToken{}, ErrNotFound
	}
	if err != nil {
		return model.HistoryToken{}, fmt.Errorf("lookup history token: %w", err)
	}
	if t.Used || time.Now().UTC().After(t.ExpiresAt) {
		return t, fmt.Errorf("history token expired or already used")
	}
	if _, err := tx.Exec(ctx, `UPDATE history_tokens SET used=TRUE WHERE token=$1`, token); err != nil {
		return model.HistoryToken{}, fmt.Errorf("mark history token used: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return model.HistoryToken{}, err
	}
	t.Used = true
	return t, nil
}

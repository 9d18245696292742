// Package ingestfrontend normalises one inbound chat event into a
// persisted RawMessage and the two jobs that drive the pipeline
// (spec.md C5). Attachment resolution and image description happen
// here, once, so neither worker needs to touch attachment bytes again.
package ingestfrontend

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"supportbot/internal/blobstore"
	"supportbot/internal/llmgateway"
	"supportbot/internal/logging"
	"supportbot/internal/model"
	"supportbot/internal/storage"
)

// InboundMessage is the external interface's inbound event shape
// (spec.md §6), before any ids are hashed or attachments resolved.
type InboundMessage struct {
	MessageID   string   `json:"message_id"`
	GroupID     string   `json:"group_id"`
	Sender      string   `json:"sender"`
	TS          int64    `json:"ts"`
	Text        string   `json:"text"`
	Attachments []string `json:"attachments"`
	ReplyToID   *string  `json:"reply_to_id"`
}

// Frontend wires attachment resolution, image description, and the
// atomic insert+enqueue into one call.
type Frontend struct {
	store      storage.Storage
	blobs      blobstore.Store
	gateway    *llmgateway.Gateway
	storageDir string
}

func New(store storage.Storage, blobs blobstore.Store, gateway *llmgateway.Gateway, storageDir string) *Frontend {
	return &Frontend{store: store, blobs: blobs, gateway: gateway, storageDir: storageDir}
}

// Ingest persists msg and enqueues MAYBE_RESPOND then BUFFER_UPDATE.
// Returns inserted=false when message_id was already present — per
// spec.md §4.1, that case enqueues nothing.
func (f *Frontend) Ingest(ctx context.Context, msg InboundMessage) (inserted bool, err error) {
	contentText, imagePaths := f.resolveAttachments(ctx, msg)

	raw := model.RawMessage{
		MessageID:   msg.MessageID,
		GroupID:     msg.GroupID,
		TS:          msg.TS,
		SenderHash:  hashSender(msg.Sender),
		ContentText: contentText,
		ImagePaths:  imagePaths,
		ReplyToID:   msg.ReplyToID,
	}

	err = f.store.WithTx(ctx, func(tx storage.Tx) error {
		ok, err := tx.InsertRawMessageTx(ctx, raw)
		if err != nil {
			return fmt.Errorf("insert raw message: %w", err)
		}
		if !ok {
			inserted = false
			return nil
		}
		inserted = true

		// Order matters: MAYBE_RESPOND first, then BUFFER_UPDATE, so a
		// bot answer can mark the message answered-from-RAG before
		// BUFFER_UPDATE decides whether to mine a case from it.
		if _, err := tx.EnqueueJobTx(ctx, model.JobMaybeRespond, model.BufferUpdatePayload{
			GroupID: msg.GroupID, MessageID: msg.MessageID, Sender: raw.SenderHash, TS: msg.TS, Text: contentText,
		}); err != nil {
			return fmt.Errorf("enqueue maybe_respond: %w", err)
		}
		if _, err := tx.EnqueueJobTx(ctx, model.JobBufferUpdate, model.BufferUpdatePayload{
			GroupID: msg.GroupID, MessageID: msg.MessageID, Sender: raw.SenderHash, TS: msg.TS, Text: contentText,
		}); err != nil {
			return fmt.Errorf("enqueue buffer_update: %w", err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return inserted, nil
}

func hashSender(sender string) string {
	sum := sha256.Sum256([]byte(sender))
	return hex.EncodeToString(sum[:])[:16]
}

// resolveAttachments fetches each attachment's bytes, asks the vision
// model to describe it, and appends a human-readable annotation to the
// message text. A failed attachment is never fatal to ingestion — it
// degrades to a literal "[Image]" marker (spec.md §4.1).
func (f *Frontend) resolveAttachments(ctx context.Context, msg InboundMessage) (string, []string) {
	text := msg.Text
	for _, ref := range msg.Attachments {
		data, mimeType, err := f.fetchAttachment(ctx, ref)
		if err != nil {
			logging.Log.WithError(err).WithField("message_id", msg.MessageID).Warn("attachment fetch failed")
			text = appendAnnotation(text, "[Image]")
			continue
		}
		extract, err := f.gateway.ImageToText(ctx, data, mimeType, msg.Text)
		if err != nil {
			logging.Log.WithError(err).WithField("message_id", msg.MessageID).Warn("image extraction failed")
			text = appendAnnotation(text, "[Image]")
			continue
		}
		annotation := fmt.Sprintf("[Image: Text on image: %s | Elements: %s]",
			extract.ExtractedText, strings.Join(extract.Observations, "; "))
		text = appendAnnotation(text, annotation)
	}
	return text, msg.Attachments
}

func appendAnnotation(text, annotation string) string {
	if text == "" {
		return annotation
	}
	return text + " " + annotation
}

// fetchAttachment resolves ref to bytes: a local filesystem path
// rooted at storageDir, or a blob-store key otherwise.
func (f *Frontend) fetchAttachment(ctx context.Context, ref string) ([]byte, string, error) {
	mimeType := mimeTypeFromRef(ref)
	if f.storageDir != "" && strings.HasPrefix(ref, f.storageDir) {
		data, err := os.ReadFile(ref)
		if err != nil {
			return nil, "", fmt.Errorf("read local attachment: %w", err)
		}
		return data, mimeType, nil
	}
	if f.blobs == nil {
		return nil, "", fmt.Errorf("no blob store configured for non-local ref %s", ref)
	}
	rc, err := f.blobs.Get(ctx, ref)
	if err != nil {
		return nil, "", fmt.Errorf("fetch blob attachment: %w", err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, "", fmt.Errorf("read blob attachment: %w", err)
	}
	return data, mimeType, nil
}

func mimeTypeFromRef(ref string) string {
	lower := strings.ToLower(ref)
	switch {
	case strings.HasSuffix(lower, ".png"):
		return "image/png"
	case strings.HasSuffix(lower, ".gif"):
		return "image/gif"
	case strings.HasSuffix(lower, ".webp"):
		return "image/webp"
	default:
		return "image/jpeg"
	}
}

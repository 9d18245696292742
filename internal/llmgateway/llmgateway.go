// Package llmgateway is the single seam between the pipeline and every
// large-model call it makes: image description, buffer gating, case
// extraction and structuring, response drafting, bulk history
// extraction, resolution checking, and embeddings (spec.md C4). Every
// call returns a typed, validated result — never a bag of raw JSON —
// so a malformed model response fails at the gateway, not three
// layers downstream.
package llmgateway

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
	openai "github.com/openai/openai-go/v2"
	openaioption "github.com/openai/openai-go/v2/option"
	"google.golang.org/genai"

	"supportbot/internal/telemetry"
)

// Gateway is constructed once at startup and shared by both workers
// and history bootstrap; its sdk clients are safe for concurrent use.
type Gateway struct {
	chat      openai.Client
	vision    anthropic.Client
	embedder  *genai.Client

	modelImage     string
	modelGate      string
	modelExtract   string
	modelCase      string
	modelRespond   string
	modelBlocks    string
	embeddingModel string

	callTimeout time.Duration
	maxRetries  int
}

// Option configures a Gateway at construction time.
type Option func(*Gateway)

func WithCallTimeout(d time.Duration) Option {
	return func(g *Gateway) { g.callTimeout = d }
}

func WithMaxRetries(n int) Option {
	return func(g *Gateway) { g.maxRetries = n }
}

// Models groups the per-task model names spec.md §6 requires.
type Models struct {
	Image     string
	Gate      string
	Extract   string
	Case      string
	Respond   string
	Blocks    string
	Embedding string
}

// New builds a Gateway backed by OpenAI (chat/JSON tasks), Anthropic
// (image description), and Gemini (embeddings) — the three model
// providers the source pipeline split tasks across.
func New(apiKey string, models Models, opts ...Option) (*Gateway, error) {
	embedder, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("llmgateway: init embedding client: %w", err)
	}

	g := &Gateway{
		chat:     openai.NewClient(openaioption.WithAPIKey(apiKey)),
		vision:   anthropic.NewClient(anthropicoption.WithAPIKey(apiKey)),
		embedder: embedder,

		modelImage:     models.Image,
		modelGate:      models.Gate,
		modelExtract:   models.Extract,
		modelCase:      models.Case,
		modelRespond:   models.Respond,
		modelBlocks:    models.Blocks,
		embeddingModel: models.Embedding,

		callTimeout: 120 * time.Second,
		maxRetries:  2,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// chatJSON runs one JSON-mode chat completion and unmarshals the
// content into out. Transport errors are retried with jittered
// backoff; a response that fails json.Unmarshal is NOT retried, since
// that is a prompt/schema problem a retry won't fix.
func (g *Gateway) chatJSON(ctx context.Context, model, system, user string, out any) error {
	ctx, span := telemetry.Tracer("llmgateway").Start(ctx, "chat:"+model)
	defer span.End()

	cctx, cancel := context.WithTimeout(ctx, g.callTimeout)
	defer cancel()

	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &openai.ResponseFormatJSONObjectParam{},
		},
	}

	var content string
	err := withRetry(cctx, g.maxRetries, func() error {
		resp, err := g.chat.Chat.Completions.New(cctx, params)
		if err != nil {
			return err
		}
		if len(resp.Choices) == 0 {
			return fmt.Errorf("empty choices from model %s", model)
		}
		content = resp.Choices[0].Message.Content
		return nil
	})
	if err != nil {
		return fmt.Errorf("llmgateway: chat completion (%s): %w", model, err)
	}
	if err := json.Unmarshal([]byte(content), out); err != nil {
		return fmt.Errorf("llmgateway: unmarshal %s response: %w (raw: %.200s)", model, err, content)
	}
	return nil
}

// withRetry retries fn up to maxRetries additional times on error,
// with full-jitter backoff. Context cancellation is not retried.
func withRetry(ctx context.Context, maxRetries int, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if attempt == maxRetries {
			break
		}
		backoff := time.Duration(rand.Int63n(int64(time.Second) * int64(attempt+1)))
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}

// Gate decides whether a new message is worth running the full
// respond pipeline on, given a short last-N window of the group's
// recent history for context (spec.md §4.4 GATED).
func (g *Gateway) Gate(ctx context.Context, message, recentHistory string) (DecisionResult, error) {
	user := fmt.Sprintf("MESSAGE:\n%s\n\nRECENT HISTORY:\n%s", message, recentHistory)
	var out DecisionResult
	if err := g.chatJSON(ctx, g.modelGate, gateSystemPrompt, user, &out); err != nil {
		return DecisionResult{}, err
	}
	return out, nil
}

// Extract looks for one solved case inside the live group buffer.
func (g *Gateway) Extract(ctx context.Context, buffer string) (ExtractResult, error) {
	var out ExtractResult
	if err := g.chatJSON(ctx, g.modelExtract, extractSystemPrompt, buffer, &out); err != nil {
		return ExtractResult{}, err
	}
	if !out.Found {
		out.BufferNew = buffer
	}
	return out, nil
}

// Structure turns a case block (from Extract or HistoryBlocks) into a
// structured support case.
func (g *Gateway) Structure(ctx context.Context, caseBlock string) (CaseResult, error) {
	var out CaseResult
	if err := g.chatJSON(ctx, g.modelCase, caseSystemPrompt, caseBlock, &out); err != nil {
		return CaseResult{}, err
	}
	return out, nil
}

// Respond drafts (or declines to draft) a reply given retrieved case
// context and recent conversation.
func (g *Gateway) Respond(ctx context.Context, question, retrievedContext, recentHistory string) (RespondResult, error) {
	user := fmt.Sprintf("QUESTION:\n%s\n\nRETRIEVED CASES:\n%s\n\nRECENT HISTORY:\n%s", question, retrievedContext, recentHistory)
	var out RespondResult
	if err := g.chatJSON(ctx, g.modelRespond, respondSystemPrompt, user, &out); err != nil {
		return RespondResult{}, err
	}
	return out, nil
}

// HistoryBlocks extracts every solved case out of one history chunk,
// validating that returned spans are well-formed, sorted, and
// non-overlapping before any caller trusts them.
func (g *Gateway) HistoryBlocks(ctx context.Context, chunk string) (SpanExtractResult, error) {
	var out SpanExtractResult
	if err := g.chatJSON(ctx, g.modelBlocks, blocksSystemPrompt, chunk, &out); err != nil {
		return SpanExtractResult{}, err
	}
	sortSpans(out.Cases)
	if err := out.ValidateSpans(); err != nil {
		return SpanExtractResult{}, fmt.Errorf("llmgateway: model returned malformed case spans: %w", err)
	}
	return out, nil
}

// CheckResolution decides whether an open case has been resolved by
// the messages that followed it.
func (g *Gateway) CheckResolution(ctx context.Context, openCaseSummary, followUpText string) (ResolutionResult, error) {
	user := fmt.Sprintf("OPEN CASE:\n%s\n\nFOLLOW-UP MESSAGES:\n%s", openCaseSummary, followUpText)
	var out ResolutionResult
	if err := g.chatJSON(ctx, g.modelCase, resolutionSystemPrompt, user, &out); err != nil {
		return ResolutionResult{}, err
	}
	return out, nil
}

// Close releases gateway resources. The OpenAI and Anthropic SDK
// clients are plain HTTP clients with nothing to release; genai's
// client currently has no explicit teardown either, so this is a
// placeholder call site kept for parity with the other stores' Close.
func (g *Gateway) Close() {}

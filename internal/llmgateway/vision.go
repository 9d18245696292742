package llmgateway

import (
	"context"
	"encoding/json"
	"fmt"

	anthropic "github.com/anthropics/anthropic-sdk-go"

	"supportbot/internal/telemetry"
)

const visionMaxTokens int64 = 1024

// ImageToText describes an attached image, optionally focused by the
// message text it was sent alongside. Used by the ingestion front-end
// so an image-only message still has something textual to buffer,
// gate, and retrieve against.
func (g *Gateway) ImageToText(ctx context.Context, imageBytes []byte, mimeType, messageContext string) (ImgExtract, error) {
	ctx, span := telemetry.Tracer("llmgateway").Start(ctx, "vision:"+g.modelImage)
	defer span.End()

	cctx, cancel := context.WithTimeout(ctx, g.callTimeout)
	defer cancel()

	user := messageContext
	if user == "" {
		user = "Describe this image."
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(g.modelImage),
		MaxTokens: visionMaxTokens,
		System: []anthropic.TextBlockParam{
			{Text: imageSystemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(
				anthropic.NewImageBlockBase64(mimeType, encodeBase64(imageBytes)),
				anthropic.NewTextBlock(user),
			),
		},
	}

	var content string
	err := withRetry(cctx, g.maxRetries, func() error {
		resp, err := g.vision.Messages.New(cctx, params)
		if err != nil {
			return err
		}
		for _, block := range resp.Content {
			if block.Type == "text" {
				content += block.Text
			}
		}
		return nil
	})
	if err != nil {
		return ImgExtract{}, fmt.Errorf("llmgateway: vision call: %w", err)
	}

	var out ImgExtract
	if err := json.Unmarshal([]byte(content), &out); err != nil {
		return ImgExtract{}, fmt.Errorf("llmgateway: unmarshal vision response: %w (raw: %.200s)", err, content)
	}
	return out, nil
}

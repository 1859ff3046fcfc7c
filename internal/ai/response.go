// internal/ai/response.go
package ai

import (
	"companion-back/internal/extraction"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/shared"
)

const (
	transcriptExcerptLimit = 4000
	openerFallbackLimit    = 200
	replyMemoryLimit       = 1500
	replyMaxTokens         = 200

	FallbackReply = "Thanks for reaching out. How can I support you today?"
)

var ErrEmptyResponse = errors.New("generated response text is empty")

type ResponseRequest struct {
	Transcript string
	Memory     map[string]any
	Extraction extraction.Extraction
	Language   string
}

type GeneratedResponse struct {
	ResponseText   string `json:"responseText"`
	WhatsAppOpener string `json:"whatsappOpener"`
}

func (c *Client) responseSystemPrompt() string {
	return fmt.Sprintf(`You are a supportive companion. Produce two outputs:
1. responseText: a spoken reply of at most about two minutes when read aloud. Be empathetic and specific, and use the user's name and context. Never promise permanence or exclusivity, and never say you will "always" be there.
2. whatsappOpener: a one or two sentence version for a chat message, in the same tone.

Respond only in %[1]s, whatever language the user spoke, and avoid foreign loanwords where %[1]s has its own.

If the self-harm risk is possible or imminent, lead with care and point the user to real-world support such as a crisis line, a trusted person or a professional, while still producing both outputs.`, c.dialect)
}

func (c *Client) responsePrompt(req ResponseRequest) (string, error) {
	memory, err := json.Marshal(req.Memory)
	if err != nil {
		return "", fmt.Errorf("failed to encode memory: %w", err)
	}
	summary, err := json.Marshal(req.Extraction)
	if err != nil {
		return "", fmt.Errorf("failed to encode extraction: %w", err)
	}

	langNote := fmt.Sprintf("The user spoke %s. Translate your reply into %s.", req.Language, c.dialect)
	if req.Language == "ar" {
		langNote = fmt.Sprintf("The user spoke Arabic, possibly mixed with English. Reply in %s.", c.dialect)
	}

	return fmt.Sprintf(`Merged memory: %s
Extraction summary: %s
Safety self_harm_risk: %s

%s

Return JSON only: {"responseText": "...", "whatsappOpener": "..."}

Transcript (excerpt): %s`, memory, summary, req.Extraction.Safety.SelfHarmRisk, langNote, truncate(req.Transcript, transcriptExcerptLimit)), nil
}

// GenerateResponse produces the spoken response and the chat opener. An empty
// response text is an error; a missing opener falls back to the start of the
// response.
func (c *Client) GenerateResponse(ctx context.Context, req ResponseRequest) (GeneratedResponse, error) {
	if req.Language == "" {
		req.Language = "en"
	}
	prompt, err := c.responsePrompt(req)
	if err != nil {
		return GeneratedResponse{}, err
	}

	content, err := c.complete(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(c.responseSystemPrompt()),
			openai.UserMessage(prompt),
		},
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
		Temperature: openai.Float(0.7),
	})
	if err != nil {
		return GeneratedResponse{}, fmt.Errorf("response generation failed: %w", err)
	}

	var out GeneratedResponse
	if err := json.Unmarshal([]byte(content), &out); err != nil {
		return GeneratedResponse{}, fmt.Errorf("invalid response JSON: %w", err)
	}
	if out.ResponseText == "" {
		return GeneratedResponse{}, ErrEmptyResponse
	}
	if out.WhatsAppOpener == "" {
		out.WhatsAppOpener = truncate(out.ResponseText, openerFallbackLimit)
	}

	c.log.Info("response generation completed", "length", len(out.ResponseText))
	return out, nil
}

// Reply writes a short answer to an inbound chat message, conditioned on the
// user's memory. An empty completion yields FallbackReply.
func (c *Client) Reply(ctx context.Context, memory map[string]any, message string) (string, error) {
	raw, err := json.Marshal(memory)
	if err != nil {
		return "", fmt.Errorf("failed to encode memory: %w", err)
	}

	content, err := c.complete(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage("You are a supportive companion. Reply briefly and empathetically, in one short paragraph."),
			openai.UserMessage(fmt.Sprintf("Memory context: %s\n\nUser message: %s", truncate(string(raw), replyMemoryLimit), message)),
		},
		MaxTokens:   openai.Int(replyMaxTokens),
		Temperature: openai.Float(0.7),
	})
	if errors.Is(err, ErrEmptyCompletion) {
		return FallbackReply, nil
	}
	if err != nil {
		return "", fmt.Errorf("reply generation failed: %w", err)
	}
	return content, nil
}

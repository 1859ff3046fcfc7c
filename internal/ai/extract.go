// internal/ai/extract.go
package ai

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/shared"
)

const extractionSystemPrompt = `You are an analyst. Extract structured information from the user's transcript into the exact JSON shape requested.
Output only valid JSON, with no markdown and no explanation.
Enum fields are never null: overall_morale is one of "low", "medium", "high" (use "medium" when unsure) and self_harm_risk is one of "none", "possible", "imminent" (use "none" when unsure).`

func extractionPrompt(transcript string) string {
	return `Fill this shape from the transcript:

identity: name (string|null), age (number|null), location (string|null), languages (string[])
work: job_title, industry, company (string|null each)
emotional_state: overall_morale ("low"|"medium"|"high"); dominant_emotions, stressors, hardships, goals (string[] each)
relationships: important_people (string[])
preferences: values, likes, dislikes (string[] each)
safety: self_harm_risk ("none"|"possible"|"imminent"); notes (string|null)
confidence: identity, work, emotional_state (numbers between 0 and 1)
source_quotes: array of {"field": string, "quote": string}

Transcript (do not repeat it in the output):
---
` + transcript + `
---`
}

// Extract asks the model for the structured extraction of a transcript and
// returns the raw JSON document. Normalization is left to the caller.
func (c *Client) Extract(ctx context.Context, transcript string) ([]byte, error) {
	content, err := c.complete(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(extractionSystemPrompt),
			openai.UserMessage(extractionPrompt(transcript)),
		},
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
		Temperature: openai.Float(0.2),
	})
	if err != nil {
		return nil, fmt.Errorf("extraction failed: %w", err)
	}
	return []byte(content), nil
}

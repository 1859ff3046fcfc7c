// internal/ai/transcribe.go
package ai

import (
	"bytes"
	"companion-back/pkg/audio"
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/tidwall/gjson"
)

type Transcription struct {
	Text     string
	Language string
}

// Transcribe sends audio to the speech-to-text model. The detected language
// defaults to "en" when the model does not report one.
func (c *Client) Transcribe(ctx context.Context, data []byte, name string) (Transcription, error) {
	contentType, _ := audio.Detect(data)
	resp, err := c.transcriptions.New(ctx, openai.AudioTranscriptionNewParams{
		File:           openai.File(bytes.NewReader(data), audio.Filename(name, data), contentType),
		Model:          c.transcriptionModel,
		ResponseFormat: openai.AudioResponseFormatVerboseJSON,
	})
	if err != nil {
		return Transcription{}, fmt.Errorf("transcription failed: %w", err)
	}

	language := gjson.Get(resp.RawJSON(), "language").String()
	if language == "" {
		language = "en"
	}

	c.log.Info("transcription completed", "language", language, "length", len(resp.Text))
	return Transcription{Text: resp.Text, Language: language}, nil
}

// internal/ai/client.go
package ai

import (
	"companion-back/internal/config"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

var ErrEmptyCompletion = errors.New("empty completion")

type chatCompletions interface {
	New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

type audioTranscriptions interface {
	New(ctx context.Context, params openai.AudioTranscriptionNewParams, opts ...option.RequestOption) (*openai.Transcription, error)
}

// Client wraps the OpenAI chat and audio endpoints used by the pipeline and
// the WhatsApp reply path.
type Client struct {
	chat               chatCompletions
	transcriptions     audioTranscriptions
	chatModel          string
	transcriptionModel string
	dialect            string
	log                *slog.Logger
}

func NewClient(cfg config.OpenAIConfig, log *slog.Logger) *Client {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(&http.Client{Timeout: 2 * time.Minute}),
		option.WithMaxRetries(1),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := openai.NewClient(opts...)

	dialect := cfg.ResponseDialect
	if dialect == "" {
		dialect = "Egyptian Arabic"
	}

	return &Client{
		chat:               &client.Chat.Completions,
		transcriptions:     &client.Audio.Transcriptions,
		chatModel:          cfg.ChatModel,
		transcriptionModel: cfg.TranscriptionModel,
		dialect:            dialect,
		log:                log.With("component", "openai"),
	}
}

func (c *Client) complete(ctx context.Context, params openai.ChatCompletionNewParams) (string, error) {
	params.Model = c.chatModel
	completion, err := c.chat.New(ctx, params)
	if err != nil {
		return "", err
	}
	if len(completion.Choices) == 0 || completion.Choices[0].Message.Content == "" {
		return "", ErrEmptyCompletion
	}
	return completion.Choices[0].Message.Content, nil
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

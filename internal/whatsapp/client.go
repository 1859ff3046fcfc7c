// internal/whatsapp/client.go
package whatsapp

import (
	"bytes"
	"companion-back/internal/config"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// Client sends messages through the WhatsApp Cloud API.
type Client struct {
	accessToken   string
	phoneNumberID string
	baseURL       string
	http          *http.Client
	log           *slog.Logger
}

func NewClient(cfg config.WhatsAppConfig, log *slog.Logger) *Client {
	baseURL := cfg.GraphBaseURL
	if baseURL == "" {
		baseURL = "https://graph.facebook.com/v21.0"
	}
	return &Client{
		accessToken:   cfg.AccessToken,
		phoneNumberID: cfg.PhoneNumberID,
		baseURL:       strings.TrimSuffix(baseURL, "/"),
		http:          &http.Client{Timeout: 30 * time.Second},
		log:           log.With("component", "whatsapp"),
	}
}

type textBody struct {
	Body string `json:"body"`
}

type templateLanguage struct {
	Code string `json:"code"`
}

type templateBody struct {
	Name       string              `json:"name"`
	Language   templateLanguage    `json:"language"`
	Components []TemplateComponent `json:"components"`
}

type sendRequest struct {
	MessagingProduct string        `json:"messaging_product"`
	RecipientType    string        `json:"recipient_type"`
	To               string        `json:"to"`
	Type             string        `json:"type"`
	Text             *textBody     `json:"text,omitempty"`
	Template         *templateBody `json:"template,omitempty"`
}

// SendText sends free-form text and returns the provider message id, which is
// empty when the API does not report one.
func (c *Client) SendText(ctx context.Context, to, text string) (string, error) {
	return c.send(ctx, sendRequest{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               wireAddress(to),
		Type:             "text",
		Text:             &textBody{Body: text},
	})
}

// SendTemplate sends an approved template with body parameters.
func (c *Client) SendTemplate(ctx context.Context, to, name, languageCode string, params []string) (string, error) {
	return c.send(ctx, sendRequest{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               wireAddress(to),
		Type:             "template",
		Template: &templateBody{
			Name:       name,
			Language:   templateLanguage{Code: languageCode},
			Components: BodyComponents(params),
		},
	})
}

func (c *Client) send(ctx context.Context, msg sendRequest) (string, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("whatsapp: marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/%s/messages", c.baseURL, c.phoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("whatsapp: creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("whatsapp: request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return "", fmt.Errorf("whatsapp: reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail := gjson.GetBytes(data, "error.message").String()
		c.log.Warn("send failed", "type", msg.Type, "status", resp.StatusCode, "error", detail)
		return "", fmt.Errorf("whatsapp: API returned %d: %s", resp.StatusCode, detail)
	}

	return gjson.GetBytes(data, "messages.0.id").String(), nil
}

// NormalizeAddress turns a provider address ("2010...") into E.164 ("+2010...").
func NormalizeAddress(addr string) string {
	if strings.HasPrefix(addr, "+") {
		return addr
	}
	return "+" + addr
}

// SessionID derives the session key for an E.164 address.
func SessionID(phone string) string {
	return "wa_" + wireAddress(phone)
}

func wireAddress(phone string) string {
	return strings.TrimPrefix(phone, "+")
}

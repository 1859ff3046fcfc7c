package handlers

import (
	"companion-back/internal/pipeline"
	"companion-back/internal/whatsapp"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProcessor struct {
	payloads []whatsapp.Payload
}

func (p *fakeProcessor) ProcessAsync(payload whatsapp.Payload) {
	p.payloads = append(p.payloads, payload)
}

func webhookRouter(verifyToken, appSecret string, p PayloadProcessor) *gin.Engine {
	r := gin.New()
	r.GET("/webhook/whatsapp", VerifyWebhook(verifyToken))
	r.POST("/webhook/whatsapp", ReceiveWebhook(appSecret, p, slog.New(slog.NewTextHandler(io.Discard, nil))))
	return r
}

func TestVerifyWebhook(t *testing.T) {
	tests := []struct {
		name     string
		token    string
		query    string
		wantCode int
		wantBody string
	}{
		{"match", "verify-me", "hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=12345", http.StatusOK, "12345"},
		{"wrong token", "verify-me", "hub.mode=subscribe&hub.verify_token=nope&hub.challenge=12345", http.StatusForbidden, "Forbidden"},
		{"wrong mode", "verify-me", "hub.mode=unsubscribe&hub.verify_token=verify-me&hub.challenge=1", http.StatusForbidden, "Forbidden"},
		{"not configured", "", "hub.mode=subscribe&hub.verify_token=&hub.challenge=1", http.StatusForbidden, "Forbidden"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(webhookRouter(tt.token, "", &fakeProcessor{}), http.MethodGet, "/webhook/whatsapp?"+tt.query, "")
			assert.Equal(t, tt.wantCode, w.Code)
			assert.Equal(t, tt.wantBody, w.Body.String())
		})
	}
}

const inboundPayload = `{"object":"whatsapp_business_account","entry":[{"id":"waba","changes":[{"field":"messages","value":{"messages":[{"from":"201555000111","id":"wamid.1","type":"text","text":{"body":"hi"}}]}}]}]}`

func postWebhook(r http.Handler, body, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhook/whatsapp", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set(whatsapp.SignatureHeader, signature)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestReceiveWebhook(t *testing.T) {
	t.Run("unsigned", func(t *testing.T) {
		p := &fakeProcessor{}
		w := postWebhook(webhookRouter("", "", p), inboundPayload, "")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "OK", w.Body.String())
		require.Len(t, p.payloads, 1)
		assert.Len(t, p.payloads[0].TextMessages(), 1)
	})

	t.Run("valid signature", func(t *testing.T) {
		p := &fakeProcessor{}
		w := postWebhook(webhookRouter("", "app-secret", p), inboundPayload, whatsapp.Sign("app-secret", []byte(inboundPayload)))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Len(t, p.payloads, 1)
	})

	t.Run("bad signature", func(t *testing.T) {
		p := &fakeProcessor{}
		w := postWebhook(webhookRouter("", "app-secret", p), inboundPayload, whatsapp.Sign("other", []byte(inboundPayload)))
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Empty(t, p.payloads)
	})

	t.Run("invalid json still acknowledged", func(t *testing.T) {
		p := &fakeProcessor{}
		w := postWebhook(webhookRouter("", "", p), `{not json`, "")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, p.payloads)
	})
}

type runnerFunc func(ctx context.Context, jobID string) pipeline.Outcome

func (f runnerFunc) Run(ctx context.Context, jobID string) pipeline.Outcome {
	return f(ctx, jobID)
}

func TestProcessRecording(t *testing.T) {
	var got []string
	runner := runnerFunc(func(_ context.Context, jobID string) pipeline.Outcome {
		got = append(got, jobID)
		if jobID == "queued" {
			return pipeline.Outcome{OK: true}
		}
		return pipeline.Outcome{Error: pipeline.ErrCodeInvalidStatus}
	})

	r := gin.New()
	r.POST("/api/internal/process-recording", ProcessRecording(runner))

	w := doRequest(r, http.MethodPost, "/api/internal/process-recording", `{"jobId":"queued"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"ok":true}`, w.Body.String())

	w = doRequest(r, http.MethodPost, "/api/internal/process-recording", `{"jobId":"running"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"invalid_status"}`, w.Body.String())

	w = doRequest(r, http.MethodPost, "/api/internal/process-recording", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_body")

	assert.Equal(t, []string{"queued", "running"}, got)
}

func TestHealth(t *testing.T) {
	r := gin.New()
	r.GET("/health", Health)
	w := doRequest(r, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())
}

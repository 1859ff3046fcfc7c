// internal/handlers/webhook.go
package handlers

import (
	"companion-back/internal/whatsapp"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

const maxWebhookBody = 1 << 20

type PayloadProcessor interface {
	ProcessAsync(payload whatsapp.Payload)
}

// VerifyWebhook answers the subscription handshake.
func VerifyWebhook(verifyToken string) gin.HandlerFunc {
	return func(c *gin.Context) {
		mode := c.Query("hub.mode")
		token := c.Query("hub.verify_token")
		if mode != "subscribe" || verifyToken == "" || token != verifyToken {
			c.String(http.StatusForbidden, "Forbidden")
			return
		}
		c.String(http.StatusOK, c.Query("hub.challenge"))
	}
}

// ReceiveWebhook acknowledges every delivery and processes it in the
// background. Processing errors only reach the logs.
func ReceiveWebhook(appSecret string, processor PayloadProcessor, log *slog.Logger) gin.HandlerFunc {
	log = log.With("component", "webhook")
	return func(c *gin.Context) {
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
		if err != nil {
			log.Warn("failed to read webhook body", "error", err)
			c.String(http.StatusOK, "OK")
			return
		}

		if appSecret != "" && !whatsapp.VerifySignature(appSecret, body, c.GetHeader(whatsapp.SignatureHeader)) {
			log.Warn("webhook signature mismatch")
			c.String(http.StatusForbidden, "Forbidden")
			return
		}

		c.String(http.StatusOK, "OK")

		var payload whatsapp.Payload
		if err := json.Unmarshal(body, &payload); err != nil {
			log.Warn("invalid webhook payload", "error", err)
			return
		}
		processor.ProcessAsync(payload)
	}
}

// internal/pipeline/stages.go
package pipeline

import (
	"companion-back/internal/extraction"
	"companion-back/internal/models"
	"companion-back/internal/storage"
	"companion-back/internal/whatsapp"
	"companion-back/pkg/memory"
	"context"
	"fmt"
)

// extract never fails: collaborator errors and unusable output fall back to
// the default extraction.
func (r *run) extract(ctx context.Context, transcript string) extraction.Extraction {
	callCtx, cancel := r.call(ctx)
	raw, err := r.Extractor.Extract(callCtx, transcript)
	cancel()
	if err != nil {
		r.log.Warn("extraction failed, using defaults", "error", err)
		return extraction.Default()
	}

	e, err := extraction.ParseOrDefault(raw)
	if err != nil {
		r.log.Warn("extraction unusable, using defaults", "error", err)
	}
	return e
}

// mergeMemory folds the extraction into the user's memory and overwrites the
// stored profile with the result.
func (r *run) mergeMemory(ctx context.Context, updates map[string]any) (map[string]any, error) {
	existing, err := r.Store.GetMemory(ctx, r.job.UserID)
	if err != nil {
		return nil, err
	}
	merged := memory.Merge(existing, updates)
	if err := r.Store.SaveMemory(ctx, r.job.UserID, merged); err != nil {
		return nil, err
	}
	return merged, nil
}

func (r *run) synthesize(ctx context.Context, response *models.Response) (string, error) {
	callCtx, cancel := r.call(ctx)
	audio, contentType, err := r.Synthesizer.Synthesize(callCtx, response.ResponseText)
	cancel()
	if err != nil {
		return "", err
	}

	path := storage.SpeechObjectName(r.job.UserID, response.ID)
	callCtx, cancel = r.call(ctx)
	err = r.Storage.Upload(callCtx, path, audio, contentType)
	cancel()
	if err != nil {
		return "", fmt.Errorf("failed to store speech: %w", err)
	}
	return path, nil
}

// deliver sends the job's message over WhatsApp. Delivery is best-effort:
// every failure is logged and the job still completes.
func (r *run) deliver(ctx context.Context, opener string, mem map[string]any) {
	user, err := r.Store.GetUser(ctx, r.job.UserID)
	if err != nil {
		r.log.Warn("delivery skipped, user not loaded", "error", err)
		return
	}
	wa := user.WhatsApp
	if wa.PhoneE164 == nil || *wa.PhoneE164 == "" {
		r.log.Info("delivery skipped, no whatsapp address")
		return
	}
	to := *wa.PhoneE164

	callCtx, cancel := r.call(ctx)
	defer cancel()

	var kind string
	switch {
	case wa.OptInStatus != models.OptInActive:
		kind = "optin_template"
		_, err = r.Messenger.SendTemplate(callCtx, to, r.templates.OptIn, r.templates.Language, nil)
	case whatsapp.CanSendFreeFormAt(wa.LastInboundAt, r.now()):
		kind = "text"
		var sentID string
		sentID, err = r.Messenger.SendText(callCtx, to, opener)
		if err == nil {
			r.recordOutbound(ctx, to, opener, sentID)
		}
	default:
		kind = "checkin_template"
		_, err = r.Messenger.SendTemplate(callCtx, to, r.templates.CheckIn, r.templates.Language,
			whatsapp.CheckInParams(knownName(mem)))
	}
	if err != nil {
		r.log.Warn("delivery failed", "kind", kind, "error", err)
		return
	}

	if err := r.Store.TouchUserOutbound(ctx, r.job.UserID, r.now()); err != nil {
		r.log.Warn("failed to update last outbound", "error", err)
	}
	r.log.Info("delivered", "kind", kind)
}

func (r *run) recordOutbound(ctx context.Context, to, text, sentID string) {
	sessionID := whatsapp.SessionID(to)
	msg := &models.WhatsAppMessage{
		SessionID: sessionID,
		Direction: models.DirectionOutbound,
		Text:      text,
	}
	if sentID != "" {
		msg.ProviderMessageID = &sentID
	}
	if err := r.Store.CreateMessage(ctx, msg); err != nil {
		r.log.Warn("failed to record outbound message", "error", err)
	}
	if err := r.Store.TouchSessionOutbound(ctx, sessionID, r.now()); err != nil {
		r.log.Warn("failed to update session", "error", err)
	}
}

// knownName reads identity.name from merged memory.
func knownName(mem map[string]any) string {
	identity, ok := mem["identity"].(map[string]any)
	if !ok {
		return ""
	}
	name, _ := identity["name"].(string)
	return name
}

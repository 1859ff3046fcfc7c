// internal/whatsapp/webhook.go
package whatsapp

import (
	"companion-back/internal/models"
	"companion-back/internal/store"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// SignUpReply answers addresses that do not belong to a known user.
const SignUpReply = "Thanks for your message. To get personalized support, please sign up in our app and link your WhatsApp."

const processTimeout = 5 * time.Minute

type Payload struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

type Change struct {
	Field string       `json:"field"`
	Value *ChangeValue `json:"value"`
}

type ChangeValue struct {
	MessagingProduct string           `json:"messaging_product"`
	Metadata         Metadata         `json:"metadata"`
	Contacts         []Contact        `json:"contacts"`
	Messages         []InboundMessage `json:"messages"`
}

type Metadata struct {
	PhoneNumberID      string `json:"phone_number_id"`
	DisplayPhoneNumber string `json:"display_phone_number"`
}

type Contact struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

type InboundMessage struct {
	From      string `json:"from"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text"`
}

// TextMessages flattens the payload into processable text messages, in
// payload order.
func (p Payload) TextMessages() []InboundMessage {
	if p.Object != "whatsapp_business_account" {
		return nil
	}
	var out []InboundMessage
	for _, entry := range p.Entry {
		for _, change := range entry.Changes {
			if change.Field != "messages" || change.Value == nil {
				continue
			}
			for _, msg := range change.Value.Messages {
				if msg.Type != "text" || msg.Text == nil || msg.Text.Body == "" {
					continue
				}
				out = append(out, msg)
			}
		}
	}
	return out
}

type Store interface {
	MessageExists(ctx context.Context, providerMessageID string) (bool, error)
	CreateMessage(ctx context.Context, msg *models.WhatsAppMessage) error
	FindUserByWhatsApp(ctx context.Context, phone string) (*models.User, error)
	EnsureSession(ctx context.Context, id, phone string, userID *string) (*models.WhatsAppSession, error)
	TouchSessionInbound(ctx context.Context, id string, userID *string, at time.Time) error
	TouchSessionOutbound(ctx context.Context, id string, at time.Time) error
	TouchUserInbound(ctx context.Context, userID string, at time.Time) error
	TouchUserOutbound(ctx context.Context, userID string, at time.Time) error
	GetMemory(ctx context.Context, userID string) (map[string]any, error)
}

type TextSender interface {
	SendText(ctx context.Context, to, text string) (string, error)
}

type Replier interface {
	Reply(ctx context.Context, memory map[string]any, message string) (string, error)
}

// Processor handles inbound webhook payloads. Errors are logged and never
// reach the provider.
type Processor struct {
	store   Store
	sender  TextSender
	replier Replier
	log     *slog.Logger
	now     func() time.Time
	wg      sync.WaitGroup
}

func NewProcessor(st Store, sender TextSender, replier Replier, log *slog.Logger) *Processor {
	return &Processor{
		store:   st,
		sender:  sender,
		replier: replier,
		log:     log.With("component", "whatsapp-webhook"),
		now:     time.Now,
	}
}

// ProcessAsync hands the payload to a background goroutine and returns at once.
func (p *Processor) ProcessAsync(payload Payload) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), processTimeout)
		defer cancel()
		p.Process(ctx, payload)
	}()
}

// Wait blocks until background processing has drained.
func (p *Processor) Wait() {
	p.wg.Wait()
}

// Process handles every text message of the payload sequentially.
func (p *Processor) Process(ctx context.Context, payload Payload) {
	for _, msg := range payload.TextMessages() {
		if err := p.handleMessage(ctx, msg); err != nil {
			p.log.Error("inbound message failed", "provider_message_id", msg.ID, "error", err)
		}
	}
}

func (p *Processor) handleMessage(ctx context.Context, msg InboundMessage) error {
	exists, err := p.store.MessageExists(ctx, msg.ID)
	if err != nil {
		return err
	}
	if exists {
		p.log.Info("duplicate inbound message ignored", "provider_message_id", msg.ID)
		return nil
	}

	phone := NormalizeAddress(msg.From)
	now := p.now()

	var userID *string
	user, err := p.store.FindUserByWhatsApp(ctx, phone)
	switch {
	case err == nil:
		userID = &user.ID
	case !errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("failed to resolve user: %w", err)
	}

	session, err := p.store.EnsureSession(ctx, SessionID(phone), phone, userID)
	if err != nil {
		return err
	}
	// Only an address match opens the user's window; a session linked to a
	// number the user has since replaced does not.
	if userID != nil {
		if err := p.store.TouchUserInbound(ctx, *userID, now); err != nil {
			return fmt.Errorf("failed to update user: %w", err)
		}
	} else {
		userID = session.UserID
	}
	if err := p.store.TouchSessionInbound(ctx, session.ID, userID, now); err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}

	providerID := msg.ID
	err = p.store.CreateMessage(ctx, &models.WhatsAppMessage{
		SessionID:         session.ID,
		Direction:         models.DirectionInbound,
		Text:              msg.Text.Body,
		ProviderMessageID: &providerID,
	})
	if errors.Is(err, store.ErrDuplicate) {
		// Lost a race with a redelivery of the same message.
		p.log.Info("duplicate inbound message ignored", "provider_message_id", msg.ID)
		return nil
	}
	if err != nil {
		return err
	}

	reply := SignUpReply
	if userID != nil {
		memory, err := p.store.GetMemory(ctx, *userID)
		if err != nil {
			return err
		}
		reply, err = p.replier.Reply(ctx, memory, msg.Text.Body)
		if err != nil {
			return err
		}
	}

	sentID, err := p.sender.SendText(ctx, phone, reply)
	if err != nil {
		return fmt.Errorf("failed to send reply: %w", err)
	}

	outbound := &models.WhatsAppMessage{
		SessionID: session.ID,
		Direction: models.DirectionOutbound,
		Text:      reply,
	}
	if sentID != "" {
		outbound.ProviderMessageID = &sentID
	}
	if err := p.store.CreateMessage(ctx, outbound); err != nil {
		return err
	}

	if userID != nil {
		sentAt := p.now()
		if err := p.store.TouchSessionOutbound(ctx, session.ID, sentAt); err != nil {
			return err
		}
		if err := p.store.TouchUserOutbound(ctx, *userID, sentAt); err != nil {
			return err
		}
	}

	p.log.Info("inbound message handled", "session_id", session.ID, "known_user", userID != nil)
	return nil
}

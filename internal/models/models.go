// internal/models/models.go
package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type OptInStatus string

const (
	OptInPending  OptInStatus = "pending"
	OptInActive   OptInStatus = "active"
	OptInInactive OptInStatus = "inactive"
)

func (s OptInStatus) Valid() bool {
	return s == OptInPending || s == OptInActive || s == OptInInactive
}

type User struct {
	ID        string         `gorm:"primarykey;size:36" json:"id"`
	PhoneE164 string         `gorm:"uniqueIndex:idx_users_phone;not null" json:"phone_e164"`
	Password  string         `gorm:"not null" json:"-"`
	Name      string         `json:"name"`
	WhatsApp  UserWhatsApp   `gorm:"embedded;embeddedPrefix:wa_" json:"whatsapp"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	Jobs []Job `gorm:"foreignKey:UserID" json:"jobs,omitempty"`
}

// UserWhatsApp is the user's delivery channel state.
type UserWhatsApp struct {
	PhoneE164      *string     `gorm:"uniqueIndex:idx_users_wa_phone" json:"phone_e164,omitempty"`
	OptInStatus    OptInStatus `gorm:"size:16;default:'pending'" json:"opt_in_status"`
	LastInboundAt  *time.Time  `json:"last_inbound_at,omitempty"`
	LastOutboundAt *time.Time  `json:"last_outbound_at,omitempty"`
}

// MemoryProfile is the long-lived structured memory of one user.
type MemoryProfile struct {
	UserID    string            `gorm:"primarykey;size:36" json:"user_id"`
	Memory    datatypes.JSONMap `json:"memory"`
	UpdatedAt time.Time         `json:"updated_at"`
}

type Recording struct {
	ID          string    `gorm:"primarykey;size:36" json:"id"`
	UserID      string    `gorm:"size:36;not null;index" json:"user_id"`
	AudioPath   string    `gorm:"not null" json:"audio_path"`
	DurationSec *float64  `json:"duration_sec,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type Transcript struct {
	ID          string    `gorm:"primarykey;size:36" json:"id"`
	UserID      string    `gorm:"size:36;not null;index" json:"user_id"`
	RecordingID string    `gorm:"size:36;not null;index" json:"recording_id"`
	Text        string    `json:"text"`
	Language    string    `gorm:"size:16" json:"language"`
	CreatedAt   time.Time `json:"created_at"`
}

type Extraction struct {
	ID          string            `gorm:"primarykey;size:36" json:"id"`
	UserID      string            `gorm:"size:36;not null;index" json:"user_id"`
	RecordingID string            `gorm:"size:36;not null;index" json:"recording_id"`
	Extraction  datatypes.JSONMap `json:"extraction"`
	CreatedAt   time.Time         `json:"created_at"`
}

type Response struct {
	ID             string    `gorm:"primarykey;size:36" json:"id"`
	UserID         string    `gorm:"size:36;not null;index" json:"user_id"`
	RecordingID    string    `gorm:"size:36;not null;index" json:"recording_id"`
	ResponseText   string    `json:"response_text"`
	WhatsAppOpener string    `json:"whatsapp_opener"`
	CreatedAt      time.Time `json:"created_at"`
}

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// WhatsAppSession is the per-address channel state. ID is "wa_<digits>".
type WhatsAppSession struct {
	ID             string     `gorm:"primarykey;size:64" json:"id"`
	UserID         *string    `gorm:"size:36;index" json:"user_id,omitempty"`
	PhoneE164      string     `gorm:"uniqueIndex;not null" json:"phone_e164"`
	LastInboundAt  *time.Time `json:"last_inbound_at,omitempty"`
	LastOutboundAt *time.Time `json:"last_outbound_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// WhatsAppMessage is a ledger entry. ProviderMessageID is unique when set and is
// only used for idempotency lookups.
type WhatsAppMessage struct {
	ID                string    `gorm:"primarykey;size:36" json:"id"`
	SessionID         string    `gorm:"size:64;not null;index" json:"session_id"`
	Direction         Direction `gorm:"size:16;not null" json:"direction"`
	Text              string    `json:"text"`
	ProviderMessageID *string   `gorm:"uniqueIndex" json:"provider_message_id,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

func newID(id *string) {
	if *id == "" {
		*id = uuid.New().String()
	}
}

func (u *User) BeforeCreate(*gorm.DB) error {
	newID(&u.ID)
	return nil
}

func (r *Recording) BeforeCreate(*gorm.DB) error {
	newID(&r.ID)
	return nil
}

func (j *Job) BeforeCreate(*gorm.DB) error {
	newID(&j.ID)
	return nil
}

func (t *Transcript) BeforeCreate(*gorm.DB) error {
	newID(&t.ID)
	return nil
}

func (e *Extraction) BeforeCreate(*gorm.DB) error {
	newID(&e.ID)
	return nil
}

func (r *Response) BeforeCreate(*gorm.DB) error {
	newID(&r.ID)
	return nil
}

func (m *WhatsAppMessage) BeforeCreate(*gorm.DB) error {
	newID(&m.ID)
	return nil
}

// All lists every model for migrations.
func All() []any {
	return []any{
		&User{},
		&MemoryProfile{},
		&Recording{},
		&Job{},
		&Transcript{},
		&Extraction{},
		&Response{},
		&WhatsAppSession{},
		&WhatsAppMessage{},
	}
}

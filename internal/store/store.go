// internal/store/store.go
package store

import (
	"companion-back/internal/models"
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	ErrNotFound          = errors.New("record not found")
	ErrStatusConflict    = errors.New("job status changed concurrently")
	ErrInvalidTransition = errors.New("invalid job status transition")
	ErrDuplicate         = errors.New("duplicate record")
)

// Store is the persisted record store. Every method is a single statement;
// there are no multi-record transactions.
type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) DB() *gorm.DB {
	return s.db
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrDuplicate
	}
	return err
}

// Users

func (s *Store) CreateUser(ctx context.Context, user *models.User) error {
	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		return fmt.Errorf("failed to create user: %w", translate(err))
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&user).Error; err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

func (s *Store) GetUserByPhone(ctx context.Context, phone string) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Where("phone_e164 = ?", phone).First(&user).Error; err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

// FindUserByWhatsApp resolves a channel address to a user, checking the linked
// WhatsApp address first and the account phone second.
func (s *Store) FindUserByWhatsApp(ctx context.Context, phone string) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).Where("wa_phone_e164 = ?", phone).First(&user).Error
	if err == nil {
		return &user, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	return s.GetUserByPhone(ctx, phone)
}

func (s *Store) UpdateUserWhatsApp(ctx context.Context, userID string, phone *string, status models.OptInStatus) error {
	res := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).Updates(map[string]any{
		"wa_phone_e164":    phone,
		"wa_opt_in_status": status,
	})
	if res.Error != nil {
		return fmt.Errorf("failed to update whatsapp settings: %w", translate(res.Error))
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) TouchUserInbound(ctx context.Context, userID string, at time.Time) error {
	return s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).
		Update("wa_last_inbound_at", at).Error
}

func (s *Store) TouchUserOutbound(ctx context.Context, userID string, at time.Time) error {
	return s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).
		Update("wa_last_outbound_at", at).Error
}

// Memory

// GetMemory returns the user's memory document, or an empty one if none exists yet.
func (s *Store) GetMemory(ctx context.Context, userID string) (map[string]any, error) {
	var profile models.MemoryProfile
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load memory: %w", err)
	}
	if profile.Memory == nil {
		return map[string]any{}, nil
	}
	return map[string]any(profile.Memory), nil
}

// SaveMemory overwrites the user's memory document unconditionally.
func (s *Store) SaveMemory(ctx context.Context, userID string, memory map[string]any) error {
	profile := models.MemoryProfile{
		UserID:    userID,
		Memory:    datatypes.JSONMap(memory),
		UpdatedAt: time.Now(),
	}
	if err := s.db.WithContext(ctx).Save(&profile).Error; err != nil {
		return fmt.Errorf("failed to save memory: %w", err)
	}
	return nil
}

// Recordings and pipeline artifacts

func (s *Store) CreateRecording(ctx context.Context, rec *models.Recording) error {
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("failed to create recording: %w", err)
	}
	return nil
}

func (s *Store) GetRecording(ctx context.Context, id string) (*models.Recording, error) {
	var rec models.Recording
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error; err != nil {
		return nil, translate(err)
	}
	return &rec, nil
}

func (s *Store) CreateTranscript(ctx context.Context, t *models.Transcript) error {
	if err := s.db.WithContext(ctx).Create(t).Error; err != nil {
		return fmt.Errorf("failed to create transcript: %w", err)
	}
	return nil
}

func (s *Store) CreateExtraction(ctx context.Context, e *models.Extraction) error {
	if err := s.db.WithContext(ctx).Create(e).Error; err != nil {
		return fmt.Errorf("failed to create extraction: %w", err)
	}
	return nil
}

func (s *Store) GetExtractionByRecording(ctx context.Context, userID, recordingID string) (*models.Extraction, error) {
	var e models.Extraction
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND recording_id = ?", userID, recordingID).
		Order("created_at DESC").
		First(&e).Error
	if err != nil {
		return nil, translate(err)
	}
	return &e, nil
}

func (s *Store) CreateResponse(ctx context.Context, r *models.Response) error {
	if err := s.db.WithContext(ctx).Create(r).Error; err != nil {
		return fmt.Errorf("failed to create response: %w", err)
	}
	return nil
}

// Jobs

func (s *Store) CreateJob(ctx context.Context, job *models.Job) error {
	if job.Status == "" {
		job.Status = models.JobQueued
	}
	if err := s.db.WithContext(ctx).Create(job).Error; err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

func (s *Store) GetJob(ctx context.Context, id string) (*models.Job, error) {
	var job models.Job
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&job).Error; err != nil {
		return nil, translate(err)
	}
	return &job, nil
}

// GetUserJob scopes the lookup to the owner; a foreign job reads as not found.
func (s *Store) GetUserJob(ctx context.Context, userID, id string) (*models.Job, error) {
	var job models.Job
	if err := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&job).Error; err != nil {
		return nil, translate(err)
	}
	return &job, nil
}

func (s *Store) ListUserJobs(ctx context.Context, userID string, limit int) ([]models.Job, error) {
	var jobs []models.Job
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&jobs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, nil
}

// ListStaleJobs returns non-terminal jobs not updated since before.
func (s *Store) ListStaleJobs(ctx context.Context, before time.Time) ([]models.Job, error) {
	var jobs []models.Job
	err := s.db.WithContext(ctx).
		Where("status IN ? AND updated_at < ?", models.NonTerminalStatuses(), before).
		Order("updated_at ASC").
		Find(&jobs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list stale jobs: %w", err)
	}
	return jobs, nil
}

// TransitionJob moves a job from one status to the next. The write is a
// compare-and-set on the current status; a job that has moved on returns
// ErrStatusConflict and is left untouched.
func (s *Store) TransitionJob(ctx context.Context, id string, from, to models.JobStatus) error {
	return s.updateJob(ctx, id, from, to, map[string]any{"status": to})
}

// FailJob records reason and forces the job to failed.
func (s *Store) FailJob(ctx context.Context, id string, from models.JobStatus, reason string) error {
	return s.updateJob(ctx, id, from, models.JobFailed, map[string]any{
		"status": models.JobFailed,
		"error":  reason,
	})
}

func (s *Store) CompleteJob(ctx context.Context, id string, from models.JobStatus, result models.JobResult) error {
	return s.updateJob(ctx, id, from, models.JobDone, map[string]any{
		"status":                models.JobDone,
		"result_transcript_id":  result.TranscriptID,
		"result_response_id":    result.ResponseID,
		"result_tts_audio_path": result.TTSAudioPath,
		"result_response_text":  result.ResponseText,
	})
}

func (s *Store) updateJob(ctx context.Context, id string, from, to models.JobStatus, fields map[string]any) error {
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	fields["updated_at"] = time.Now()

	res := s.db.WithContext(ctx).Model(&models.Job{}).
		Where("id = ? AND status = ?", id, from).
		Updates(fields)
	if res.Error != nil {
		return fmt.Errorf("failed to update job: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: job %s is no longer %s", ErrStatusConflict, id, from)
	}
	return nil
}

// WhatsApp sessions and ledger

func (s *Store) GetSessionByPhone(ctx context.Context, phone string) (*models.WhatsAppSession, error) {
	var session models.WhatsAppSession
	if err := s.db.WithContext(ctx).Where("phone_e164 = ?", phone).First(&session).Error; err != nil {
		return nil, translate(err)
	}
	return &session, nil
}

// EnsureSession finds the session for phone or creates it with the given id.
// A concurrent creator losing the unique race re-reads the winner's row.
func (s *Store) EnsureSession(ctx context.Context, id, phone string, userID *string) (*models.WhatsAppSession, error) {
	session, err := s.GetSessionByPhone(ctx, phone)
	if err == nil {
		return session, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	session = &models.WhatsAppSession{ID: id, PhoneE164: phone, UserID: userID}
	if err := s.db.WithContext(ctx).Create(session).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return s.GetSessionByPhone(ctx, phone)
		}
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return session, nil
}

// TouchSessionInbound updates the inbound timestamp and links a user when one
// was resolved.
func (s *Store) TouchSessionInbound(ctx context.Context, id string, userID *string, at time.Time) error {
	fields := map[string]any{"last_inbound_at": at, "updated_at": at}
	if userID != nil {
		fields["user_id"] = *userID
	}
	return s.db.WithContext(ctx).Model(&models.WhatsAppSession{}).Where("id = ?", id).Updates(fields).Error
}

func (s *Store) TouchSessionOutbound(ctx context.Context, id string, at time.Time) error {
	return s.db.WithContext(ctx).Model(&models.WhatsAppSession{}).Where("id = ?", id).
		Updates(map[string]any{"last_outbound_at": at, "updated_at": at}).Error
}

func (s *Store) MessageExists(ctx context.Context, providerMessageID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.WhatsAppMessage{}).
		Where("provider_message_id = ?", providerMessageID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check message: %w", err)
	}
	return count > 0, nil
}

// CreateMessage appends a ledger entry. A repeated provider id returns ErrDuplicate.
func (s *Store) CreateMessage(ctx context.Context, msg *models.WhatsAppMessage) error {
	if err := s.db.WithContext(ctx).Create(msg).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to create message: %w", err)
	}
	return nil
}

func (s *Store) CountMessages(ctx context.Context, sessionID string, direction models.Direction) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.WhatsAppMessage{}).
		Where("session_id = ? AND direction = ?", sessionID, direction).
		Count(&count).Error
	return count, err
}

// internal/pipeline/pipeline.go

// Package pipeline drives one recording job from transcription to delivery.
//
// Every status write is a compare-and-set on the job's current status, so of
// two concurrent triggers for the same queued job only one gets past the
// claim. Side effects after the claim are not transactional with the status
// writes; a crash between a send and the next status update can repeat the
// send when the job is re-run.
package pipeline

import (
	"companion-back/internal/ai"
	"companion-back/internal/models"
	"companion-back/internal/store"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

const (
	ErrCodeJobNotFound       = "job_not_found"
	ErrCodeInvalidStatus     = "invalid_status"
	ErrCodeRecordingNotFound = "recording_not_found"
	ErrCodeForbidden         = "forbidden"
	ErrCodeAudioNotFound     = "audio_not_found"
)

// Outcome is the result of one run. Error holds a code for precondition and
// lookup failures and the failure message otherwise.
type Outcome struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

type Store interface {
	GetJob(ctx context.Context, id string) (*models.Job, error)
	TransitionJob(ctx context.Context, id string, from, to models.JobStatus) error
	FailJob(ctx context.Context, id string, from models.JobStatus, reason string) error
	CompleteJob(ctx context.Context, id string, from models.JobStatus, result models.JobResult) error
	GetRecording(ctx context.Context, id string) (*models.Recording, error)
	GetUser(ctx context.Context, id string) (*models.User, error)
	GetMemory(ctx context.Context, userID string) (map[string]any, error)
	SaveMemory(ctx context.Context, userID string, memory map[string]any) error
	CreateTranscript(ctx context.Context, t *models.Transcript) error
	CreateExtraction(ctx context.Context, e *models.Extraction) error
	CreateResponse(ctx context.Context, r *models.Response) error
	CreateMessage(ctx context.Context, msg *models.WhatsAppMessage) error
	TouchSessionOutbound(ctx context.Context, id string, at time.Time) error
	TouchUserOutbound(ctx context.Context, userID string, at time.Time) error
}

type ObjectStorage interface {
	Exists(ctx context.Context, path string) (bool, error)
	Download(ctx context.Context, path string) ([]byte, error)
	Upload(ctx context.Context, path string, data []byte, contentType string) error
}

type Transcriber interface {
	Transcribe(ctx context.Context, data []byte, name string) (ai.Transcription, error)
}

type Extractor interface {
	Extract(ctx context.Context, transcript string) ([]byte, error)
}

type Generator interface {
	GenerateResponse(ctx context.Context, req ai.ResponseRequest) (ai.GeneratedResponse, error)
}

type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, string, error)
}

type Messenger interface {
	SendText(ctx context.Context, to, text string) (string, error)
	SendTemplate(ctx context.Context, to, name, languageCode string, params []string) (string, error)
}

type Templates struct {
	OptIn    string
	CheckIn  string
	Language string
}

type Deps struct {
	Store       Store
	Storage     ObjectStorage
	Transcriber Transcriber
	Extractor   Extractor
	Generator   Generator
	Synthesizer Synthesizer
	Messenger   Messenger
}

type Runner struct {
	Deps
	templates   Templates
	callTimeout time.Duration
	log         *slog.Logger
	now         func() time.Time
}

func NewRunner(deps Deps, templates Templates, callTimeout time.Duration, log *slog.Logger) *Runner {
	if callTimeout <= 0 {
		callTimeout = 2 * time.Minute
	}
	if templates.Language == "" {
		templates.Language = "en"
	}
	return &Runner{
		Deps:        deps,
		templates:   templates,
		callTimeout: callTimeout,
		log:         log.With("component", "pipeline"),
		now:         time.Now,
	}
}

// codedError is a fatal failure recorded on the job by its code.
type codedError string

func (e codedError) Error() string { return string(e) }

// Run processes one queued job. It never panics and never returns an error;
// failures are written to the job and reported in the Outcome.
func (r *Runner) Run(ctx context.Context, jobID string) (out Outcome) {
	log := r.log.With("job_id", jobID)

	job, err := r.Store.GetJob(ctx, jobID)
	if errors.Is(err, store.ErrNotFound) {
		log.Warn("job not found")
		return Outcome{Error: ErrCodeJobNotFound}
	}
	if err != nil {
		log.Error("failed to load job", "error", err)
		return Outcome{Error: err.Error()}
	}
	if job.Status != models.JobQueued {
		log.Warn("job not queued", "status", job.Status)
		return Outcome{Error: ErrCodeInvalidStatus}
	}

	if err := r.Store.TransitionJob(ctx, job.ID, models.JobQueued, models.JobTranscribing); err != nil {
		if errors.Is(err, store.ErrStatusConflict) {
			log.Warn("job claimed by another run")
			return Outcome{Error: ErrCodeInvalidStatus}
		}
		log.Error("failed to claim job", "error", err)
		return Outcome{Error: err.Error()}
	}

	run := &run{Runner: r, job: job, status: models.JobTranscribing, log: log}
	defer func() {
		if p := recover(); p != nil {
			err := fmt.Errorf("panic: %v", p)
			run.fail(ctx, err)
			out = Outcome{Error: err.Error()}
		}
	}()

	if err := run.execute(ctx); err != nil {
		run.fail(ctx, err)
		return Outcome{Error: err.Error()}
	}
	log.Info("job completed")
	return Outcome{OK: true}
}

// call bounds a single external call.
func (r *Runner) call(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.callTimeout)
}

type run struct {
	*Runner
	job    *models.Job
	status models.JobStatus
	log    *slog.Logger
}

func (r *run) advance(ctx context.Context, next models.JobStatus) error {
	if err := r.Store.TransitionJob(ctx, r.job.ID, r.status, next); err != nil {
		return err
	}
	r.status = next
	return nil
}

func (r *run) fail(ctx context.Context, cause error) {
	r.log.Error("job failed", "status", r.status, "error", cause)

	// The run context may already be done; the failure must still be recorded.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := r.Store.FailJob(ctx, r.job.ID, r.status, cause.Error()); err != nil {
		r.log.Error("failed to record job failure", "error", err)
	}
}

func (r *run) execute(ctx context.Context) error {
	job := r.job

	recording, err := r.Store.GetRecording(ctx, job.RecordingID)
	if errors.Is(err, store.ErrNotFound) {
		return codedError(ErrCodeRecordingNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to load recording: %w", err)
	}
	if recording.UserID != job.UserID {
		return codedError(ErrCodeForbidden)
	}

	callCtx, cancel := r.call(ctx)
	exists, err := r.Storage.Exists(callCtx, recording.AudioPath)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to check audio: %w", err)
	}
	if !exists {
		return codedError(ErrCodeAudioNotFound)
	}

	transcript, err := r.transcribe(ctx, recording)
	if err != nil {
		return err
	}

	if err := r.advance(ctx, models.JobExtracting); err != nil {
		return err
	}
	extracted := r.extract(ctx, transcript.Text)
	if err := r.Store.CreateExtraction(ctx, &models.Extraction{
		UserID:      job.UserID,
		RecordingID: job.RecordingID,
		Extraction:  extracted.Map(),
	}); err != nil {
		return err
	}

	memory, err := r.mergeMemory(ctx, extracted.Map())
	if err != nil {
		return err
	}

	if err := r.advance(ctx, models.JobGenerating); err != nil {
		return err
	}
	callCtx, cancel = r.call(ctx)
	generated, err := r.Generator.GenerateResponse(callCtx, ai.ResponseRequest{
		Transcript: transcript.Text,
		Memory:     memory,
		Extraction: extracted,
		Language:   transcript.Language,
	})
	cancel()
	if err != nil {
		return err
	}
	if generated.ResponseText == "" {
		return ai.ErrEmptyResponse
	}
	response := &models.Response{
		UserID:         job.UserID,
		RecordingID:    job.RecordingID,
		ResponseText:   generated.ResponseText,
		WhatsAppOpener: generated.WhatsAppOpener,
	}
	if err := r.Store.CreateResponse(ctx, response); err != nil {
		return err
	}

	if err := r.advance(ctx, models.JobTTS); err != nil {
		return err
	}
	speechPath, err := r.synthesize(ctx, response)
	if err != nil {
		return err
	}

	if err := r.advance(ctx, models.JobWhatsApp); err != nil {
		return err
	}
	r.deliver(ctx, response.WhatsAppOpener, memory)

	return r.Store.CompleteJob(ctx, job.ID, r.status, models.JobResult{
		TranscriptID: transcript.ID,
		ResponseID:   response.ID,
		TTSAudioPath: speechPath,
		ResponseText: response.ResponseText,
	})
}

func (r *run) transcribe(ctx context.Context, recording *models.Recording) (*models.Transcript, error) {
	callCtx, cancel := r.call(ctx)
	data, err := r.Storage.Download(callCtx, recording.AudioPath)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("failed to download audio: %w", err)
	}

	callCtx, cancel = r.call(ctx)
	out, err := r.Transcriber.Transcribe(callCtx, data, recording.ID)
	cancel()
	if err != nil {
		return nil, err
	}

	transcript := &models.Transcript{
		UserID:      r.job.UserID,
		RecordingID: r.job.RecordingID,
		Text:        out.Text,
		Language:    out.Language,
	}
	if err := r.Store.CreateTranscript(ctx, transcript); err != nil {
		return nil, err
	}
	return transcript, nil
}

package pipeline

import (
	"companion-back/internal/ai"
	"companion-back/internal/database"
	"companion-back/internal/extraction"
	"companion-back/internal/models"
	"companion-back/internal/store"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type memStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

func newMemStorage() *memStorage {
	return &memStorage{objects: map[string][]byte{}, types: map[string]string{}}
}

func (s *memStorage) Exists(_ context.Context, path string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[path]
	return ok, nil
}

func (s *memStorage) Download(_ context.Context, path string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[path]
	if !ok {
		return nil, errors.New("no such object")
	}
	return data, nil
}

func (s *memStorage) Upload(_ context.Context, path string, data []byte, contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[path] = data
	s.types[path] = contentType
	return nil
}

type mockTranscriber struct{ mock.Mock }

func (m *mockTranscriber) Transcribe(ctx context.Context, data []byte, name string) (ai.Transcription, error) {
	args := m.Called(ctx, data, name)
	return args.Get(0).(ai.Transcription), args.Error(1)
}

type mockExtractor struct{ mock.Mock }

func (m *mockExtractor) Extract(ctx context.Context, transcript string) ([]byte, error) {
	args := m.Called(ctx, transcript)
	raw, _ := args.Get(0).([]byte)
	return raw, args.Error(1)
}

type mockGenerator struct{ mock.Mock }

func (m *mockGenerator) GenerateResponse(ctx context.Context, req ai.ResponseRequest) (ai.GeneratedResponse, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(ai.GeneratedResponse), args.Error(1)
}

type mockSynthesizer struct{ mock.Mock }

func (m *mockSynthesizer) Synthesize(ctx context.Context, text string) ([]byte, string, error) {
	args := m.Called(ctx, text)
	audio, _ := args.Get(0).([]byte)
	return audio, args.String(1), args.Error(2)
}

type mockMessenger struct{ mock.Mock }

func (m *mockMessenger) SendText(ctx context.Context, to, text string) (string, error) {
	args := m.Called(ctx, to, text)
	return args.String(0), args.Error(1)
}

func (m *mockMessenger) SendTemplate(ctx context.Context, to, name, languageCode string, params []string) (string, error) {
	args := m.Called(ctx, to, name, languageCode, params)
	return args.String(0), args.Error(1)
}

const (
	waPhone      = "+201555000111"
	audioPath    = "recordings/u/rec.m4a"
	responseText = "ازيك يا منى، سامعاكي"
	opener       = "ازيك يا منى"
)

type fixture struct {
	store       *store.Store
	storage     *memStorage
	transcriber *mockTranscriber
	extractor   *mockExtractor
	generator   *mockGenerator
	synthesizer *mockSynthesizer
	messenger   *mockMessenger
	runner      *Runner
	now         time.Time

	user      *models.User
	recording *models.Recording
	job       *models.Job
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := database.NewMemory()
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	f := &fixture{
		store:       store.New(db),
		storage:     newMemStorage(),
		transcriber: &mockTranscriber{},
		extractor:   &mockExtractor{},
		generator:   &mockGenerator{},
		synthesizer: &mockSynthesizer{},
		messenger:   &mockMessenger{},
		now:         time.Now(),
	}
	f.runner = NewRunner(Deps{
		Store:       f.store,
		Storage:     f.storage,
		Transcriber: f.transcriber,
		Extractor:   f.extractor,
		Generator:   f.generator,
		Synthesizer: f.synthesizer,
		Messenger:   f.messenger,
	}, Templates{OptIn: "optin", CheckIn: "checkin", Language: "en"}, time.Minute,
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	f.runner.now = func() time.Time { return f.now }

	ctx := context.Background()
	f.user = &models.User{PhoneE164: "+201000000001", Password: "x", Name: "Mona"}
	require.NoError(t, f.store.CreateUser(ctx, f.user))
	f.recording = &models.Recording{UserID: f.user.ID, AudioPath: audioPath}
	require.NoError(t, f.store.CreateRecording(ctx, f.recording))
	f.job = &models.Job{UserID: f.user.ID, RecordingID: f.recording.ID}
	require.NoError(t, f.store.CreateJob(ctx, f.job))
	f.storage.objects[audioPath] = []byte("audio")
	return f
}

// linkWhatsApp gives the user an address, an opt-in status and a last inbound time.
func (f *fixture) linkWhatsApp(t *testing.T, status models.OptInStatus, lastInboundAgo time.Duration) {
	t.Helper()
	ctx := context.Background()
	phone := waPhone
	require.NoError(t, f.store.UpdateUserWhatsApp(ctx, f.user.ID, &phone, status))
	if lastInboundAgo > 0 {
		require.NoError(t, f.store.TouchUserInbound(ctx, f.user.ID, f.now.Add(-lastInboundAgo)))
	}
}

const extractionJSON = `{
	"identity": {"name": "Mona", "age": null, "location": "Cairo", "languages": ["ar"]},
	"emotional_state": {"overall_morale": "low", "stressors": ["work"]},
	"safety": {"self_harm_risk": "none"}
}`

func (f *fixture) expectHappyCollaborators() {
	f.transcriber.On("Transcribe", mock.Anything, []byte("audio"), f.recording.ID).
		Return(ai.Transcription{Text: "ana ta3bana men el shoghl", Language: "ar"}, nil)
	f.extractor.On("Extract", mock.Anything, "ana ta3bana men el shoghl").
		Return([]byte(extractionJSON), nil)
	f.generator.On("GenerateResponse", mock.Anything, mock.Anything).
		Return(ai.GeneratedResponse{ResponseText: responseText, WhatsAppOpener: opener}, nil)
	f.synthesizer.On("Synthesize", mock.Anything, responseText).
		Return([]byte("mp3"), "audio/mpeg", nil)
}

func (f *fixture) reload(t *testing.T) *models.Job {
	t.Helper()
	job, err := f.store.GetJob(context.Background(), f.job.ID)
	require.NoError(t, err)
	return job
}

func TestRun_HappyPathFreeForm(t *testing.T) {
	f := newFixture(t)
	f.linkWhatsApp(t, models.OptInActive, time.Hour)
	f.expectHappyCollaborators()
	f.messenger.On("SendText", mock.Anything, waPhone, opener).Return("wamid.1", nil).Once()

	out := f.runner.Run(context.Background(), f.job.ID)
	require.True(t, out.OK, out.Error)

	job := f.reload(t)
	assert.Equal(t, models.JobDone, job.Status)
	assert.Empty(t, job.Error)
	assert.Equal(t, responseText, job.Result.ResponseText)
	assert.NotEmpty(t, job.Result.TranscriptID)
	assert.NotEmpty(t, job.Result.ResponseID)
	assert.Equal(t, "tts/"+f.user.ID+"/"+job.Result.ResponseID+".mp3", job.Result.TTSAudioPath)

	assert.Equal(t, []byte("mp3"), f.storage.objects[job.Result.TTSAudioPath])
	assert.Equal(t, "audio/mpeg", f.storage.types[job.Result.TTSAudioPath])

	f.messenger.AssertNumberOfCalls(t, "SendText", 1)
	f.messenger.AssertNotCalled(t, "SendTemplate", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)

	user, err := f.store.GetUser(context.Background(), f.user.ID)
	require.NoError(t, err)
	require.NotNil(t, user.WhatsApp.LastOutboundAt)
	assert.WithinDuration(t, f.now, *user.WhatsApp.LastOutboundAt, time.Second)

	exists, err := f.store.MessageExists(context.Background(), "wamid.1")
	require.NoError(t, err)
	assert.True(t, exists)

	mem, err := f.store.GetMemory(context.Background(), f.user.ID)
	require.NoError(t, err)
	identity := mem["identity"].(map[string]any)
	assert.Equal(t, "Mona", identity["name"])
	assert.Equal(t, "Cairo", identity["location"])
	_, hasAge := identity["age"]
	assert.False(t, hasAge)
}

func TestRun_ClosedWindowSendsCheckInTemplate(t *testing.T) {
	f := newFixture(t)
	f.linkWhatsApp(t, models.OptInActive, 30*time.Hour)
	f.expectHappyCollaborators()
	f.messenger.On("SendTemplate", mock.Anything, waPhone, "checkin", "en", []string{"Mona"}).Return("wamid.t", nil).Once()

	out := f.runner.Run(context.Background(), f.job.ID)
	require.True(t, out.OK, out.Error)

	f.messenger.AssertExpectations(t)
	f.messenger.AssertNotCalled(t, "SendText", mock.Anything, mock.Anything, mock.Anything)

	user, err := f.store.GetUser(context.Background(), f.user.ID)
	require.NoError(t, err)
	require.NotNil(t, user.WhatsApp.LastOutboundAt)
}

func TestRun_CheckInFallsBackToThere(t *testing.T) {
	f := newFixture(t)
	f.linkWhatsApp(t, models.OptInActive, 0)
	f.transcriber.On("Transcribe", mock.Anything, mock.Anything, mock.Anything).
		Return(ai.Transcription{Text: "hi", Language: "en"}, nil)
	f.extractor.On("Extract", mock.Anything, "hi").Return([]byte(`{}`), nil)
	f.generator.On("GenerateResponse", mock.Anything, mock.Anything).
		Return(ai.GeneratedResponse{ResponseText: "hello", WhatsAppOpener: "hello"}, nil)
	f.synthesizer.On("Synthesize", mock.Anything, "hello").Return([]byte("mp3"), "audio/mpeg", nil)
	f.messenger.On("SendTemplate", mock.Anything, waPhone, "checkin", "en", []string{"there"}).Return("", nil).Once()

	out := f.runner.Run(context.Background(), f.job.ID)
	require.True(t, out.OK, out.Error)
	f.messenger.AssertExpectations(t)
}

func TestRun_OptInNotActiveSendsOptInTemplate(t *testing.T) {
	for _, status := range []models.OptInStatus{models.OptInPending, models.OptInInactive} {
		t.Run(string(status), func(t *testing.T) {
			f := newFixture(t)
			f.linkWhatsApp(t, status, time.Hour)
			f.expectHappyCollaborators()
			f.messenger.On("SendTemplate", mock.Anything, waPhone, "optin", "en", []string(nil)).Return("", nil).Once()

			out := f.runner.Run(context.Background(), f.job.ID)
			require.True(t, out.OK, out.Error)

			f.messenger.AssertExpectations(t)
			f.messenger.AssertNotCalled(t, "SendText", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestRun_NoAddressSkipsDelivery(t *testing.T) {
	f := newFixture(t)
	f.expectHappyCollaborators()

	out := f.runner.Run(context.Background(), f.job.ID)
	require.True(t, out.OK, out.Error)

	assert.Equal(t, models.JobDone, f.reload(t).Status)
	assert.Empty(t, f.messenger.Calls)
}

func TestRun_DeliveryFailureStillCompletes(t *testing.T) {
	f := newFixture(t)
	f.linkWhatsApp(t, models.OptInActive, time.Hour)
	f.expectHappyCollaborators()
	f.messenger.On("SendText", mock.Anything, waPhone, opener).Return("", errors.New("graph down")).Once()

	out := f.runner.Run(context.Background(), f.job.ID)
	require.True(t, out.OK, out.Error)

	assert.Equal(t, models.JobDone, f.reload(t).Status)
	user, err := f.store.GetUser(context.Background(), f.user.ID)
	require.NoError(t, err)
	assert.Nil(t, user.WhatsApp.LastOutboundAt)
}

func TestRun_JobNotFound(t *testing.T) {
	f := newFixture(t)

	out := f.runner.Run(context.Background(), "missing")
	assert.False(t, out.OK)
	assert.Equal(t, ErrCodeJobNotFound, out.Error)
}

func TestRun_NotQueuedIsLeftUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.TransitionJob(ctx, f.job.ID, models.JobQueued, models.JobTranscribing))
	before := f.reload(t)

	out := f.runner.Run(ctx, f.job.ID)
	assert.False(t, out.OK)
	assert.Equal(t, ErrCodeInvalidStatus, out.Error)

	after := f.reload(t)
	assert.Equal(t, before.Status, after.Status)
	assert.Equal(t, before.UpdatedAt, after.UpdatedAt)
	assert.Empty(t, after.Error)
	assert.Empty(t, f.transcriber.Calls)
}

func TestRun_SecondRunAfterCompletion(t *testing.T) {
	f := newFixture(t)
	f.expectHappyCollaborators()

	require.True(t, f.runner.Run(context.Background(), f.job.ID).OK)
	out := f.runner.Run(context.Background(), f.job.ID)
	assert.Equal(t, ErrCodeInvalidStatus, out.Error)
	f.transcriber.AssertNumberOfCalls(t, "Transcribe", 1)
}

func TestRun_Forbidden(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	other := &models.User{PhoneE164: "+201000000002", Password: "x"}
	require.NoError(t, f.store.CreateUser(ctx, other))
	foreign := &models.Recording{UserID: other.ID, AudioPath: audioPath}
	require.NoError(t, f.store.CreateRecording(ctx, foreign))
	job := &models.Job{UserID: f.user.ID, RecordingID: foreign.ID}
	require.NoError(t, f.store.CreateJob(ctx, job))

	out := f.runner.Run(ctx, job.ID)
	assert.False(t, out.OK)
	assert.Equal(t, ErrCodeForbidden, out.Error)

	got, err := f.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, got.Status)
	assert.Equal(t, ErrCodeForbidden, got.Error)
	assert.Empty(t, f.transcriber.Calls)
}

func TestRun_MissingRecordingAndAudio(t *testing.T) {
	t.Run("recording", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		job := &models.Job{UserID: f.user.ID, RecordingID: "nope"}
		require.NoError(t, f.store.CreateJob(ctx, job))

		out := f.runner.Run(ctx, job.ID)
		assert.Equal(t, ErrCodeRecordingNotFound, out.Error)
		got, err := f.store.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, models.JobFailed, got.Status)
	})

	t.Run("audio", func(t *testing.T) {
		f := newFixture(t)
		delete(f.storage.objects, audioPath)

		out := f.runner.Run(context.Background(), f.job.ID)
		assert.Equal(t, ErrCodeAudioNotFound, out.Error)
		job := f.reload(t)
		assert.Equal(t, models.JobFailed, job.Status)
		assert.Equal(t, ErrCodeAudioNotFound, job.Error)
		assert.Empty(t, f.transcriber.Calls)
	})
}

func TestRun_ExtractionFailureUsesDefaults(t *testing.T) {
	tests := []struct {
		name string
		raw  []byte
		err  error
	}{
		{"collaborator error", nil, errors.New("model timeout")},
		{"incompatible output", []byte(`["not", "an", "object"]`), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.transcriber.On("Transcribe", mock.Anything, mock.Anything, mock.Anything).
				Return(ai.Transcription{Text: "hi", Language: "en"}, nil)
			f.extractor.On("Extract", mock.Anything, "hi").Return(tt.raw, tt.err)
			f.generator.On("GenerateResponse", mock.Anything, mock.MatchedBy(func(req ai.ResponseRequest) bool {
				return assert.ObjectsAreEqual(extraction.Default(), req.Extraction)
			})).Return(ai.GeneratedResponse{ResponseText: "hello"}, nil)
			f.synthesizer.On("Synthesize", mock.Anything, "hello").Return([]byte("mp3"), "audio/mpeg", nil)

			out := f.runner.Run(context.Background(), f.job.ID)
			require.True(t, out.OK, out.Error)
			assert.Equal(t, models.JobDone, f.reload(t).Status)

			record, err := f.store.GetExtractionByRecording(context.Background(), f.user.ID, f.recording.ID)
			require.NoError(t, err)
			stored, err := json.Marshal(record.Extraction)
			require.NoError(t, err)
			want, err := json.Marshal(extraction.Default())
			require.NoError(t, err)
			assert.JSONEq(t, string(want), string(stored))
		})
	}
}

func TestRun_FatalStageFailures(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(f *fixture)
		wantStatus models.JobStatus
		wantError  string
	}{
		{
			name: "transcription",
			setup: func(f *fixture) {
				f.transcriber.On("Transcribe", mock.Anything, mock.Anything, mock.Anything).
					Return(ai.Transcription{}, errors.New("whisper unavailable"))
			},
			wantError: "whisper unavailable",
		},
		{
			name: "empty response",
			setup: func(f *fixture) {
				f.transcriber.On("Transcribe", mock.Anything, mock.Anything, mock.Anything).
					Return(ai.Transcription{Text: "hi", Language: "en"}, nil)
				f.extractor.On("Extract", mock.Anything, mock.Anything).Return([]byte(`{}`), nil)
				f.generator.On("GenerateResponse", mock.Anything, mock.Anything).
					Return(ai.GeneratedResponse{}, nil)
			},
			wantError: ai.ErrEmptyResponse.Error(),
		},
		{
			name: "synthesis",
			setup: func(f *fixture) {
				f.transcriber.On("Transcribe", mock.Anything, mock.Anything, mock.Anything).
					Return(ai.Transcription{Text: "hi", Language: "en"}, nil)
				f.extractor.On("Extract", mock.Anything, mock.Anything).Return([]byte(`{}`), nil)
				f.generator.On("GenerateResponse", mock.Anything, mock.Anything).
					Return(ai.GeneratedResponse{ResponseText: "hello"}, nil)
				f.synthesizer.On("Synthesize", mock.Anything, "hello").
					Return(nil, "", errors.New("tts: API returned 500"))
			},
			wantError: "tts: API returned 500",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.linkWhatsApp(t, models.OptInActive, time.Hour)
			tt.setup(f)

			out := f.runner.Run(context.Background(), f.job.ID)
			assert.False(t, out.OK)
			assert.Equal(t, tt.wantError, out.Error)

			job := f.reload(t)
			assert.Equal(t, models.JobFailed, job.Status)
			assert.Equal(t, tt.wantError, job.Error)
			assert.Empty(t, f.messenger.Calls)
		})
	}
}

func TestRun_PanicIsRecorded(t *testing.T) {
	f := newFixture(t)
	f.transcriber.On("Transcribe", mock.Anything, mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { panic("decoder exploded") }).
		Return(ai.Transcription{}, nil)

	out := f.runner.Run(context.Background(), f.job.ID)
	assert.False(t, out.OK)
	assert.Equal(t, "panic: decoder exploded", out.Error)

	job := f.reload(t)
	assert.Equal(t, models.JobFailed, job.Status)
	assert.Equal(t, "panic: decoder exploded", job.Error)
}

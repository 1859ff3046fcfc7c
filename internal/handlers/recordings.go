// internal/handlers/recordings.go
package handlers

import (
	"bytes"
	"companion-back/internal/jobs"
	"companion-back/internal/middleware"
	"companion-back/internal/models"
	"companion-back/internal/pipeline"
	"companion-back/internal/storage"
	"companion-back/internal/store"
	"companion-back/pkg/audio"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// MaxUploadSize is the largest recording accepted through multipart upload.
const MaxUploadSize = 25 << 20

type RecordingStorage interface {
	Exists(ctx context.Context, objectName string) (bool, error)
	UploadFromReader(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) error
	SignedUploadURL(ctx context.Context, objectName string, ttl time.Duration) (string, error)
	SignedReadURL(ctx context.Context, objectName string, ttl time.Duration) (string, error)
}

type CreateRecordingRequest struct {
	DurationSec *float64 `json:"durationSec"`
}

// CreateRecording reserves a recording and returns where the client uploads
// the audio.
func CreateRecording(st *store.Store, files RecordingStorage, log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateRecordingRequest
		// The body is optional.
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
		}

		ctx := c.Request.Context()
		userID := middleware.UserID(c)
		recordingID := uuid.New().String()
		audioPath := storage.RecordingObjectName(userID, recordingID)

		uploadURL, err := files.SignedUploadURL(ctx, audioPath, storage.UploadURLTTL)
		if err != nil {
			log.Error("failed to sign upload url", "recording_id", recordingID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
			return
		}

		rec := &models.Recording{
			ID:          recordingID,
			UserID:      userID,
			AudioPath:   audioPath,
			DurationSec: req.DurationSec,
		}
		if err := st.CreateRecording(ctx, rec); err != nil {
			log.Error("failed to create recording", "recording_id", recordingID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
			return
		}

		c.JSON(http.StatusCreated, gin.H{
			"recordingId":     rec.ID,
			"audioPath":       rec.AudioPath,
			"uploadMethod":    "presigned_put",
			"uploadUrl":       uploadURL,
			"uploadExpiresIn": int(storage.UploadURLTTL.Seconds()),
		})
	}
}

// UploadRecording stores a multipart "audio" file at the recording's path.
func UploadRecording(st *store.Store, files RecordingStorage, log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		rec, ok := ownedRecording(c, st, log)
		if !ok {
			return
		}

		file, err := c.FormFile("audio")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "No audio file provided"})
			return
		}
		if file.Size > MaxUploadSize {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Audio file too large"})
			return
		}

		src, err := file.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read audio file"})
			return
		}
		defer src.Close()

		data, err := io.ReadAll(io.LimitReader(src, MaxUploadSize+1))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read audio file"})
			return
		}

		if err := audio.ValidateAudio(data); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		contentType, _ := audio.Detect(data)

		ctx := c.Request.Context()
		if err := files.UploadFromReader(ctx, rec.AudioPath, bytes.NewReader(data), int64(len(data)), contentType); err != nil {
			log.Error("failed to upload recording", "recording_id", rec.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to upload to storage"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"recordingId": rec.ID,
			"audioPath":   rec.AudioPath,
			"contentType": contentType,
		})
	}
}

// FinalizeRecording creates a queued job for an uploaded recording and hands
// it to the dispatcher.
func FinalizeRecording(st *store.Store, files RecordingStorage, dispatcher jobs.Dispatcher, log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		rec, ok := ownedRecording(c, st, log)
		if !ok {
			return
		}

		ctx := c.Request.Context()
		exists, err := files.Exists(ctx, rec.AudioPath)
		if err != nil {
			log.Error("failed to check audio", "recording_id", rec.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
			return
		}
		if !exists {
			c.JSON(http.StatusBadRequest, gin.H{"error": pipeline.ErrCodeAudioNotFound})
			return
		}

		job := &models.Job{UserID: rec.UserID, RecordingID: rec.ID}
		if err := st.CreateJob(ctx, job); err != nil {
			log.Error("failed to create job", "recording_id", rec.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
			return
		}

		dispatcher.Dispatch(job.ID)
		log.Info("job queued", "job_id", job.ID, "recording_id", rec.ID)

		c.JSON(http.StatusCreated, gin.H{"jobId": job.ID})
	}
}

// ownedRecording loads the :id recording and answers 404 or 403 itself.
func ownedRecording(c *gin.Context, st *store.Store, log *slog.Logger) (*models.Recording, bool) {
	rec, err := st.GetRecording(c.Request.Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": pipeline.ErrCodeRecordingNotFound})
		return nil, false
	}
	if err != nil {
		log.Error("failed to load recording", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return nil, false
	}
	if rec.UserID != middleware.UserID(c) {
		c.JSON(http.StatusForbidden, gin.H{"error": pipeline.ErrCodeForbidden})
		return nil, false
	}
	return rec, true
}

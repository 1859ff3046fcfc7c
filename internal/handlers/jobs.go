// internal/handlers/jobs.go
package handlers

import (
	"companion-back/internal/middleware"
	"companion-back/internal/models"
	"companion-back/internal/pipeline"
	"companion-back/internal/storage"
	"companion-back/internal/store"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

const historyLimit = 50

func GetJob(st *store.Store, files RecordingStorage, log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		job, err := st.GetJob(ctx, c.Param("id"))
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": pipeline.ErrCodeJobNotFound})
			return
		}
		if err != nil {
			log.Error("failed to load job", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
			return
		}
		if job.UserID != middleware.UserID(c) {
			c.JSON(http.StatusForbidden, gin.H{"error": pipeline.ErrCodeForbidden})
			return
		}

		response := jobPayload(job)
		if job.Status == models.JobDone && job.Result.TTSAudioPath != "" {
			url, err := files.SignedReadURL(ctx, job.Result.TTSAudioPath, storage.DownloadURLTTL)
			if err != nil {
				log.Warn("failed to sign speech url", "job_id", job.ID, "path", job.Result.TTSAudioPath, "error", err)
			} else {
				response["ttsAudioUrl"] = url
			}
		}

		c.JSON(http.StatusOK, response)
	}
}

// ListJobs returns the caller's most recent jobs without signed URLs.
func ListJobs(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := st.ListUserJobs(c.Request.Context(), middleware.UserID(c), historyLimit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch history"})
			return
		}

		out := make([]gin.H, 0, len(list))
		for i := range list {
			out = append(out, jobPayload(&list[i]))
		}
		c.JSON(http.StatusOK, out)
	}
}

func jobPayload(job *models.Job) gin.H {
	response := gin.H{
		"jobId":       job.ID,
		"recordingId": job.RecordingID,
		"status":      job.Status,
		"createdAt":   job.CreatedAt,
		"updatedAt":   job.UpdatedAt,
	}
	if job.Error != "" {
		response["error"] = job.Error
	}
	if job.Status == models.JobDone {
		response["responseText"] = job.Result.ResponseText
		response["transcriptId"] = job.Result.TranscriptID
		response["responseId"] = job.Result.ResponseID
	}
	return response
}

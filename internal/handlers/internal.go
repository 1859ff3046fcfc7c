// internal/handlers/internal.go
package handlers

import (
	"companion-back/internal/jobs"
	"net/http"

	"github.com/gin-gonic/gin"
)

type ProcessRecordingRequest struct {
	JobID string `json:"jobId" binding:"required"`
}

// ProcessRecording is the worker entry point: it runs the pipeline for one
// job and reports the outcome.
func ProcessRecording(runner jobs.Runner) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ProcessRecordingRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_body", "details": err.Error()})
			return
		}

		out := runner.Run(c.Request.Context(), req.JobID)
		if !out.OK {
			c.JSON(http.StatusBadRequest, gin.H{"error": out.Error})
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
	}
}

func Health(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

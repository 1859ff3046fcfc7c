package handlers

import (
	"companion-back/internal/models"
	"companion-back/internal/pipeline"
	"context"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func jobsRouter(e *testEnv, userID string) *gin.Engine {
	r := gin.New()
	r.Use(asUser(userID))
	r.GET("/api/jobs", ListJobs(e.store))
	r.GET("/api/jobs/:id", GetJob(e.store, e.files, e.log))
	return r
}

func seedDoneJob(t *testing.T, e *testEnv, userID string) *models.Job {
	t.Helper()
	job := &models.Job{
		UserID:      userID,
		RecordingID: "r1",
		Status:      models.JobDone,
		Result: models.JobResult{
			TranscriptID: "t1",
			ResponseID:   "resp1",
			TTSAudioPath: "tts/" + userID + "/resp1.mp3",
			ResponseText: "hello",
		},
	}
	require.NoError(t, e.store.CreateJob(context.Background(), job))
	return job
}

func TestGetJob(t *testing.T) {
	e := newTestEnv(t)
	owner := e.seedUser(t, "+201000000001")
	other := e.seedUser(t, "+201000000002")
	done := seedDoneJob(t, e, owner.ID)

	queued := &models.Job{UserID: owner.ID, RecordingID: "r2"}
	require.NoError(t, e.store.CreateJob(context.Background(), queued))

	t.Run("done", func(t *testing.T) {
		w := doRequest(jobsRouter(e, owner.ID), http.MethodGet, "/api/jobs/"+done.ID, "")
		require.Equal(t, http.StatusOK, w.Code)
		body := w.Body.String()
		assert.Equal(t, done.ID, gjson.Get(body, "jobId").String())
		assert.Equal(t, "done", gjson.Get(body, "status").String())
		assert.Equal(t, "hello", gjson.Get(body, "responseText").String())
		assert.Equal(t, "t1", gjson.Get(body, "transcriptId").String())
		assert.Equal(t, "resp1", gjson.Get(body, "responseId").String())
		assert.Equal(t, "https://minio.local/get/tts/"+owner.ID+"/resp1.mp3", gjson.Get(body, "ttsAudioUrl").String())
		assert.False(t, gjson.Get(body, "error").Exists())
	})

	t.Run("queued", func(t *testing.T) {
		w := doRequest(jobsRouter(e, owner.ID), http.MethodGet, "/api/jobs/"+queued.ID, "")
		require.Equal(t, http.StatusOK, w.Code)
		body := w.Body.String()
		assert.Equal(t, "queued", gjson.Get(body, "status").String())
		assert.False(t, gjson.Get(body, "responseText").Exists())
		assert.False(t, gjson.Get(body, "ttsAudioUrl").Exists())
	})

	t.Run("failed", func(t *testing.T) {
		failed := &models.Job{UserID: owner.ID, RecordingID: "r3"}
		require.NoError(t, e.store.CreateJob(context.Background(), failed))
		require.NoError(t, e.store.FailJob(context.Background(), failed.ID, models.JobQueued, pipeline.ErrCodeForbidden))

		w := doRequest(jobsRouter(e, owner.ID), http.MethodGet, "/api/jobs/"+failed.ID, "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "failed", gjson.Get(w.Body.String(), "status").String())
		assert.Equal(t, "forbidden", gjson.Get(w.Body.String(), "error").String())
	})

	t.Run("not found", func(t *testing.T) {
		w := doRequest(jobsRouter(e, owner.ID), http.MethodGet, "/api/jobs/missing", "")
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.JSONEq(t, `{"error":"job_not_found"}`, w.Body.String())
	})

	t.Run("other owner", func(t *testing.T) {
		w := doRequest(jobsRouter(e, other.ID), http.MethodGet, "/api/jobs/"+done.ID, "")
		assert.Equal(t, http.StatusForbidden, w.Code)
	})
}

func TestGetJob_SigningFailureStillAnswers(t *testing.T) {
	e := newTestEnv(t)
	owner := e.seedUser(t, "+201000000001")
	done := seedDoneJob(t, e, owner.ID)
	e.files.signErr = errSign

	w := doRequest(jobsRouter(e, owner.ID), http.MethodGet, "/api/jobs/"+done.ID, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "hello", gjson.Get(w.Body.String(), "responseText").String())
	assert.False(t, gjson.Get(w.Body.String(), "ttsAudioUrl").Exists())
}

func TestListJobs(t *testing.T) {
	e := newTestEnv(t)
	owner := e.seedUser(t, "+201000000001")
	other := e.seedUser(t, "+201000000002")
	seedDoneJob(t, e, owner.ID)
	seedDoneJob(t, e, owner.ID)
	seedDoneJob(t, e, other.ID)

	w := doRequest(jobsRouter(e, owner.ID), http.MethodGet, "/api/jobs", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, gjson.Parse(w.Body.String()).Array(), 2)
}

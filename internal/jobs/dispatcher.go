// internal/jobs/dispatcher.go

// Package jobs hands queued jobs to the pipeline and watches for jobs that
// stopped moving.
package jobs

import (
	"bytes"
	"companion-back/internal/pipeline"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/tidwall/gjson"
)

const ProcessPath = "/api/internal/process-recording"

// Dispatcher starts processing of a queued job without waiting for it.
// Wait blocks until every dispatched job has been handed off or run.
type Dispatcher interface {
	Dispatch(jobID string)
	Wait()
}

type Runner interface {
	Run(ctx context.Context, jobID string) pipeline.Outcome
}

// Local runs each job in its own goroutine inside this process.
type Local struct {
	runner Runner
	log    *slog.Logger
	wg     sync.WaitGroup
}

func NewLocal(runner Runner, log *slog.Logger) *Local {
	return &Local{runner: runner, log: log.With("component", "dispatcher", "mode", "local")}
}

func (l *Local) Dispatch(jobID string) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		out := l.runner.Run(context.Background(), jobID)
		if !out.OK {
			l.log.Warn("job run ended without success", "job_id", jobID, "error", out.Error)
		}
	}()
}

func (l *Local) Wait() {
	l.wg.Wait()
}

// HTTP posts each job to the internal worker endpoint in the background. The
// worker may run on another instance; its outcome is only logged here.
type HTTP struct {
	endpoint string
	token    string
	client   *http.Client
	log      *slog.Logger
	wg       sync.WaitGroup
}

func NewHTTP(baseURL, internalToken string, timeout time.Duration, log *slog.Logger) *HTTP {
	return &HTTP{
		endpoint: baseURL + ProcessPath,
		token:    internalToken,
		client:   &http.Client{Timeout: timeout},
		log:      log.With("component", "dispatcher", "mode", "http"),
	}
}

type processRequest struct {
	JobID string `json:"jobId"`
}

func (h *HTTP) Dispatch(jobID string) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		if err := h.post(context.Background(), jobID); err != nil {
			h.log.Error("dispatch failed", "job_id", jobID, "error", err)
		}
	}()
}

func (h *HTTP) Wait() {
	h.wg.Wait()
}

func (h *HTTP) post(ctx context.Context, jobID string) error {
	body, err := json.Marshal(processRequest{JobID: jobID})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build dispatch request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Internal-Token", h.token)

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("dispatch request failed: %w", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)

	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusBadRequest:
		// The worker ran and reported an outcome; the job record holds the rest.
		h.log.Warn("job run ended without success", "job_id", jobID, "error", gjson.GetBytes(raw, "error").String())
		return nil
	default:
		return fmt.Errorf("worker returned status %d", resp.StatusCode)
	}
}

// internal/jobs/monitor.go
package jobs

import (
	"companion-back/internal/models"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

type StaleJobStore interface {
	ListStaleJobs(ctx context.Context, before time.Time) ([]models.Job, error)
}

// StaleJobMonitor periodically reports jobs stuck in a non-terminal status.
// It never changes a job; re-running one is an operator decision.
type StaleJobMonitor struct {
	store StaleJobStore
	after time.Duration
	cron  *cron.Cron
	log   *slog.Logger
	now   func() time.Time
}

func NewStaleJobMonitor(store StaleJobStore, schedule string, after time.Duration, log *slog.Logger) (*StaleJobMonitor, error) {
	m := &StaleJobMonitor{
		store: store,
		after: after,
		cron:  cron.New(),
		log:   log.With("component", "stale_jobs"),
		now:   time.Now,
	}
	if _, err := m.cron.AddFunc(schedule, m.tick); err != nil {
		return nil, fmt.Errorf("invalid stale job schedule %q: %w", schedule, err)
	}
	return m, nil
}

func (m *StaleJobMonitor) Start() {
	m.cron.Start()
}

// Stop halts the schedule and waits for a running check to finish.
func (m *StaleJobMonitor) Stop() {
	<-m.cron.Stop().Done()
}

// Check lists and logs the jobs that have not been updated for longer than
// the configured age.
func (m *StaleJobMonitor) Check(ctx context.Context) ([]models.Job, error) {
	stale, err := m.store.ListStaleJobs(ctx, m.now().Add(-m.after))
	if err != nil {
		return nil, err
	}
	for _, job := range stale {
		m.log.Warn("job appears stuck",
			"job_id", job.ID,
			"user_id", job.UserID,
			"status", job.Status,
			"updated_at", job.UpdatedAt,
		)
	}
	return stale, nil
}

func (m *StaleJobMonitor) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := m.Check(ctx); err != nil {
		m.log.Error("stale job check failed", "error", err)
	}
}

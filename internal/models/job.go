// internal/models/job.go
package models

import "time"

type JobStatus string

const (
	JobQueued       JobStatus = "queued"
	JobTranscribing JobStatus = "transcribing"
	JobExtracting   JobStatus = "extracting"
	JobGenerating   JobStatus = "generating"
	JobTTS          JobStatus = "tts"
	JobWhatsApp     JobStatus = "whatsapp"
	JobDone         JobStatus = "done"
	JobFailed       JobStatus = "failed"
)

// jobTransitions is the only source of legal status moves. Every non-terminal
// status may advance one step or fail.
var jobTransitions = map[JobStatus][]JobStatus{
	JobQueued:       {JobTranscribing, JobFailed},
	JobTranscribing: {JobExtracting, JobFailed},
	JobExtracting:   {JobGenerating, JobFailed},
	JobGenerating:   {JobTTS, JobFailed},
	JobTTS:          {JobWhatsApp, JobFailed},
	JobWhatsApp:     {JobDone, JobFailed},
}

func (s JobStatus) Valid() bool {
	_, ok := jobTransitions[s]
	return ok || s.Terminal()
}

func (s JobStatus) Terminal() bool {
	return s == JobDone || s == JobFailed
}

func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	for _, allowed := range jobTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// NonTerminalStatuses lists statuses a job can still leave.
func NonTerminalStatuses() []JobStatus {
	return []JobStatus{JobQueued, JobTranscribing, JobExtracting, JobGenerating, JobTTS, JobWhatsApp}
}

// JobResult is filled once a job reaches done.
type JobResult struct {
	TranscriptID string `gorm:"size:36" json:"transcript_id,omitempty"`
	ResponseID   string `gorm:"size:36" json:"response_id,omitempty"`
	TTSAudioPath string `json:"tts_audio_path,omitempty"`
	ResponseText string `json:"response_text,omitempty"`
}

type Job struct {
	ID          string    `gorm:"primarykey;size:36" json:"id"`
	UserID      string    `gorm:"size:36;not null;index" json:"user_id"`
	RecordingID string    `gorm:"size:36;not null;index" json:"recording_id"`
	Status      JobStatus `gorm:"size:20;not null;default:'queued';index" json:"status"`
	Error       string    `json:"error,omitempty"`
	Result      JobResult `gorm:"embedded;embeddedPrefix:result_" json:"result"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

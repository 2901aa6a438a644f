// Package jobs runs diarization requests on a bounded pool of workers and
// keeps their state in memory until the retention period expires.
package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/HugeFrog24/gpt-diarizer/media"
	"github.com/HugeFrog24/gpt-diarizer/utils"
)

// Status represents the lifecycle state of a job
type Status string

const (
	StatusPending   Status = "Pending"
	StatusRunning   Status = "Running"
	StatusCompleted Status = "Completed"
	StatusFailed    Status = "Failed"
	StatusCancelled Status = "Cancelled"
)

func (s Status) String() string {
	return string(s)
}

// IsActive returns true while a worker owns the job
func (s Status) IsActive() bool {
	return s == StatusRunning
}

// IsFinished returns true for the terminal states
func (s Status) IsFinished() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

const (
	SourceYouTube = "youtube"
	SourceUpload  = "upload"
)

var (
	ErrNotFound       = errors.New("job not found")
	ErrQueueFull      = errors.New("job queue is full")
	ErrClosed         = errors.New("job manager is shut down")
	ErrNotCancellable = errors.New("job already finished")
)

// Job is a point-in-time copy of a job's state.
type Job struct {
	ID           string        `json:"id"`
	Source       string        `json:"source"`
	VideoID      string        `json:"youtube_video_id,omitempty"`
	AudioName    string        `json:"audio_file,omitempty"`
	AudioPath    string        `json:"-"`
	ChunkSeconds int           `json:"chunk_seconds"`
	Summarize    bool          `json:"summarize,omitempty"`
	Status       Status        `json:"status"`
	Stage        utils.Stage   `json:"stage"`
	Progress     float64       `json:"progress"`
	Attempts     int           `json:"attempts"`
	Error        string        `json:"error,omitempty"`
	Result       *utils.Result `json:"result,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	StartedAt    time.Time     `json:"started_at,omitzero"`
	FinishedAt   time.Time     `json:"finished_at,omitzero"`
}

// Request rebuilds the pipeline request the job was submitted with.
func (j Job) Request() utils.Request {
	return utils.Request{
		VideoID:      j.VideoID,
		AudioPath:    j.AudioPath,
		AudioName:    j.AudioName,
		ChunkSeconds: j.ChunkSeconds,
		Summarize:    j.Summarize,
	}
}

type Config struct {
	Workers     int
	QueueSize   int
	JobTimeout  time.Duration
	MaxAttempts int
	RetryDelay  time.Duration
	Retention   time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 1
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 1
	}
	return c
}

// Processor executes one attempt of a job.
type Processor func(ctx context.Context, req utils.Request, onStage utils.StageFunc) (utils.Result, error)

// Permanent reports whether retrying err cannot help.
func Permanent(err error) bool {
	return errors.Is(err, utils.ErrInvalidRequest) ||
		errors.Is(err, media.ErrInvalidVideoID) ||
		errors.Is(err, media.ErrNoAudioStream)
}

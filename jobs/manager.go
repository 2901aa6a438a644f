package jobs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/HugeFrog24/gpt-diarizer/observability"
	"github.com/HugeFrog24/gpt-diarizer/utils"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type entry struct {
	job    Job
	cancel context.CancelFunc
	done   chan struct{}
	// announced is closed once subscribers have seen the Pending snapshot.
	// Later transitions wait on it so notifications stay in order.
	announced chan struct{}
}

// Manager owns the job table and the worker pool.
type Manager struct {
	cfg     Config
	process Processor
	logger  zerolog.Logger

	mu          sync.RWMutex
	jobs        map[string]*entry
	queue       chan string
	closed      bool
	subscribers []func(Job)

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
	now     func() time.Time
}

func NewManager(cfg Config, process Processor, logger zerolog.Logger) *Manager {
	cfg = cfg.withDefaults()
	return &Manager{
		cfg:     cfg,
		process: process,
		logger:  logger.With().Str("component", "jobs").Logger(),
		jobs:    make(map[string]*entry),
		queue:   make(chan string, cfg.QueueSize),
		now:     time.Now,
	}
}

// Start launches the workers and the janitor. They stop when Shutdown
// returns or ctx is cancelled.
func (m *Manager) Start(ctx context.Context) {
	m.baseCtx, m.stop = context.WithCancel(ctx)
	for i := 0; i < m.cfg.Workers; i++ {
		m.wg.Add(1)
		go m.worker(i)
	}
	if m.cfg.Retention > 0 {
		go m.janitor()
	}
	m.logger.Info().Int("workers", m.cfg.Workers).Int("queue_size", m.cfg.QueueSize).Msg("job manager started")
}

// Shutdown stops accepting jobs and lets the workers drain the queue. If ctx
// expires first, running jobs are cancelled.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if !m.closed {
		m.closed = true
		close(m.queue)
	}
	m.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		m.stopAll()
		return nil
	case <-ctx.Done():
		m.logger.Warn().Msg("shutdown deadline reached, cancelling running jobs")
		m.stopAll()
		<-drained
		return ctx.Err()
	}
}

func (m *Manager) stopAll() {
	if m.stop != nil {
		m.stop()
	}
}

// Subscribe registers fn to receive a snapshot on every state change.
func (m *Manager) Subscribe(fn func(Job)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribers = append(m.subscribers, fn)
}

func (m *Manager) Submit(req utils.Request) (Job, error) {
	if err := req.Validate(); err != nil {
		return Job{}, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	job := Job{
		ID:           id.String(),
		Source:       SourceUpload,
		VideoID:      req.VideoID,
		AudioName:    req.AudioName,
		AudioPath:    req.AudioPath,
		ChunkSeconds: req.ChunkSeconds,
		Summarize:    req.Summarize,
		Status:       StatusPending,
		Stage:        utils.StageQueued,
		CreatedAt:    m.now(),
	}
	if req.VideoID != "" {
		job.Source = SourceYouTube
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return Job{}, ErrClosed
	}
	select {
	case m.queue <- job.ID:
	default:
		m.mu.Unlock()
		return Job{}, ErrQueueFull
	}
	e := &entry{job: job, done: make(chan struct{}), announced: make(chan struct{})}
	m.jobs[job.ID] = e
	depth := len(m.queue)
	m.mu.Unlock()

	observability.SetQueueDepth(depth)
	m.logger.Info().Str("job_id", job.ID).Str("source", job.Source).Msg("job queued")
	m.notify(job)
	close(e.announced)
	return job, nil
}

func (m *Manager) Get(id string) (Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.jobs[id]
	if !ok {
		return Job{}, ErrNotFound
	}
	return snapshot(e), nil
}

// List returns every known job, oldest first.
func (m *Manager) List() []Job {
	m.mu.RLock()
	out := make([]Job, 0, len(m.jobs))
	for _, e := range m.jobs {
		out = append(out, snapshot(e))
	}
	m.mu.RUnlock()

	slices.SortFunc(out, func(a, b Job) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

// Cancel stops a pending or running job. A running job reaches Cancelled
// once its processor returns.
func (m *Manager) Cancel(id string) error {
	m.mu.RLock()
	e, ok := m.jobs[id]
	m.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}
	<-e.announced

	m.mu.Lock()
	switch {
	case e.job.Status.IsFinished():
		m.mu.Unlock()
		return ErrNotCancellable
	case e.job.Status == StatusPending:
		m.finishLocked(e, StatusCancelled, nil, "cancelled before start")
		snap := snapshot(e)
		m.mu.Unlock()
		m.logger.Info().Str("job_id", id).Msg("pending job cancelled")
		m.notify(snap)
		return nil
	default:
		cancel := e.cancel
		m.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		m.logger.Info().Str("job_id", id).Msg("cancelling running job")
		return nil
	}
}

// Wait blocks until the job finishes or ctx is done.
func (m *Manager) Wait(ctx context.Context, id string) (Job, error) {
	m.mu.RLock()
	e, ok := m.jobs[id]
	m.mu.RUnlock()
	if !ok {
		return Job{}, ErrNotFound
	}

	select {
	case <-e.done:
		return m.Get(id)
	case <-ctx.Done():
		return Job{}, ctx.Err()
	}
}

// Remove forgets a finished job and deletes its uploaded file.
func (m *Manager) Remove(id string) error {
	m.mu.Lock()
	e, ok := m.jobs[id]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	if !e.job.Status.IsFinished() {
		m.mu.Unlock()
		return fmt.Errorf("job %s is %s", id, e.job.Status)
	}
	delete(m.jobs, id)
	m.mu.Unlock()

	m.removeUpload(e.job)
	return nil
}

func (m *Manager) worker(n int) {
	defer m.wg.Done()
	for id := range m.queue {
		observability.SetQueueDepth(len(m.queue))
		m.run(id)
	}
	m.logger.Debug().Int("worker", n).Msg("worker stopped")
}

func (m *Manager) run(id string) {
	m.mu.RLock()
	e, ok := m.jobs[id]
	m.mu.RUnlock()
	if !ok {
		return
	}
	<-e.announced

	m.mu.Lock()
	if e.job.Status != StatusPending {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(m.baseCtx)
	defer cancel()
	e.cancel = cancel
	e.job.Status = StatusRunning
	e.job.StartedAt = m.now()
	req := e.job.Request()
	snap := snapshot(e)
	m.mu.Unlock()
	m.notify(snap)

	logger := m.logger.With().Str("job_id", id).Logger()
	logger.Info().Msg("job started")

	onStage := func(stage utils.Stage, progress float64) {
		m.mu.Lock()
		e.job.Stage = stage
		e.job.Progress = progress
		snap := snapshot(e)
		m.mu.Unlock()
		m.notify(snap)
	}

	for attempt := 1; ; attempt++ {
		m.mu.Lock()
		e.job.Attempts = attempt
		m.mu.Unlock()

		result, err := m.attempt(ctx, req, onStage)
		if err == nil {
			m.finish(e, StatusCompleted, &result, "")
			logger.Info().Int("attempts", attempt).Msg("job completed")
			return
		}
		if ctx.Err() != nil {
			m.finish(e, StatusCancelled, nil, "cancelled")
			logger.Info().Msg("job cancelled")
			return
		}
		if Permanent(err) || attempt >= m.cfg.MaxAttempts {
			m.finish(e, StatusFailed, nil, err.Error())
			logger.Error().Err(err).Int("attempts", attempt).Msg("job failed")
			return
		}

		logger.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", m.cfg.RetryDelay).Msg("job attempt failed, retrying")
		select {
		case <-time.After(m.cfg.RetryDelay):
		case <-ctx.Done():
			m.finish(e, StatusCancelled, nil, "cancelled")
			logger.Info().Msg("job cancelled")
			return
		}
	}
}

func (m *Manager) attempt(ctx context.Context, req utils.Request, onStage utils.StageFunc) (utils.Result, error) {
	if m.cfg.JobTimeout <= 0 {
		return m.process(ctx, req, onStage)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, m.cfg.JobTimeout)
	defer cancel()
	result, err := m.process(attemptCtx, req, onStage)
	if err != nil && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("job timed out after %s: %w", m.cfg.JobTimeout, err)
	}
	return result, err
}

func (m *Manager) finish(e *entry, status Status, result *utils.Result, msg string) {
	m.mu.Lock()
	m.finishLocked(e, status, result, msg)
	snap := snapshot(e)
	m.mu.Unlock()
	m.notify(snap)
}

// finishLocked moves e to a terminal status exactly once.
func (m *Manager) finishLocked(e *entry, status Status, result *utils.Result, msg string) {
	if e.job.Status.IsFinished() {
		return
	}
	e.job.Status = status
	e.job.Result = result
	e.job.Error = msg
	e.job.FinishedAt = m.now()
	if status == StatusCompleted {
		e.job.Stage = utils.StageDone
		e.job.Progress = 100
	}
	e.cancel = nil
	close(e.done)

	start := e.job.StartedAt
	if start.IsZero() {
		start = e.job.CreatedAt
	}
	observability.RecordJob(string(status), e.job.FinishedAt.Sub(start))
}

func (m *Manager) notify(job Job) {
	m.mu.RLock()
	subscribers := slices.Clone(m.subscribers)
	m.mu.RUnlock()
	for _, fn := range subscribers {
		fn(job)
	}
}

func (m *Manager) janitor() {
	interval := min(m.cfg.Retention/2, time.Minute)
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.baseCtx.Done():
			return
		case <-ticker.C:
			if n := m.sweep(); n > 0 {
				m.logger.Debug().Int("removed", n).Msg("expired jobs removed")
			}
		}
	}
}

// sweep drops finished jobs older than the retention period.
func (m *Manager) sweep() int {
	cutoff := m.now().Add(-m.cfg.Retention)
	var expired []Job
	m.mu.Lock()
	for id, e := range m.jobs {
		if e.job.Status.IsFinished() && e.job.FinishedAt.Before(cutoff) {
			expired = append(expired, e.job)
			delete(m.jobs, id)
		}
	}
	m.mu.Unlock()

	for _, job := range expired {
		m.removeUpload(job)
	}
	return len(expired)
}

func (m *Manager) removeUpload(job Job) {
	if job.Source != SourceUpload || job.AudioPath == "" {
		return
	}
	if err := os.Remove(job.AudioPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		m.logger.Warn().Err(err).Str("job_id", job.ID).Str("path", job.AudioPath).Msg("failed to remove upload")
	}
}

func snapshot(e *entry) Job {
	job := e.job
	if job.Result != nil {
		result := *job.Result
		job.Result = &result
	}
	return job
}

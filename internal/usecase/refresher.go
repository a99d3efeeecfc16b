package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"admetrics/internal/domain"
	"admetrics/pkg/logger"
	"admetrics/pkg/metrics"
)

type RefreshState string

const (
	RefreshIdle      RefreshState = "idle"
	RefreshScheduled RefreshState = "scheduled"
	RefreshRunning   RefreshState = "running"
)

// RefreshFunc repopulates the cache tiers for one key.
type RefreshFunc func(ctx context.Context, key domain.MetricsKey, r domain.DateRange) error

type RefresherConfig struct {
	Workers   int
	QueueSize int
	// upper bound for one refresh job
	Timeout time.Duration
}

// RefreshError is published on the refresher's error channel.
type RefreshError struct {
	Key domain.MetricsKey
	Err error
}

func (e *RefreshError) Error() string {
	return "background refresh of " + e.Key.String() + " failed: " + e.Err.Error()
}

func (e *RefreshError) Unwrap() error { return e.Err }

type refreshJob struct {
	key   domain.MetricsKey
	dates domain.DateRange
}

// BackgroundRefresher runs fire-and-forget refreshes on a fixed worker pool.
// At most one refresh per key is scheduled or running at any time.
type BackgroundRefresher struct {
	run      RefreshFunc
	config   RefresherConfig
	logger   *logger.Logger
	recorder domain.Recorder

	mu     sync.Mutex
	states map[domain.MetricsKey]RefreshState
	queue  chan refreshJob
	closed bool

	errs chan error
	wg   sync.WaitGroup
}

func NewBackgroundRefresher(run RefreshFunc, config RefresherConfig, logger *logger.Logger, recorder domain.Recorder) *BackgroundRefresher {
	if config.Workers <= 0 {
		config.Workers = 4
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 100
	}
	if config.Timeout <= 0 {
		config.Timeout = 2 * time.Minute
	}

	if recorder == nil {
		recorder = metrics.Nop{}
	}

	r := &BackgroundRefresher{
		run:      run,
		config:   config,
		logger:   logger,
		recorder: recorder,
		states:   make(map[domain.MetricsKey]RefreshState),
		queue:    make(chan refreshJob, config.QueueSize),
		errs:     make(chan error, config.QueueSize),
	}

	for i := 0; i < config.Workers; i++ {
		r.wg.Go(r.worker)
	}

	return r
}

// ScheduleRefresh queues a refresh and returns immediately. It returns false
// when a refresh for key is already pending, the queue is full, or the
// refresher has shut down.
func (r *BackgroundRefresher) ScheduleRefresh(key domain.MetricsKey, dates domain.DateRange) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return false
	}
	if state, ok := r.states[key]; ok && state != RefreshIdle {
		r.recorder.RecordRefresh("deduplicated")
		return false
	}

	select {
	case r.queue <- refreshJob{key: key, dates: dates}:
		r.states[key] = RefreshScheduled
		r.recorder.RecordRefresh("scheduled")
		return true
	default:
		r.recorder.RecordRefresh("dropped")
		r.logger.WithField("key", key.String()).Warn("Refresh queue full, dropping refresh")
		return false
	}
}

// State reports where a key is in its refresh lifecycle.
func (r *BackgroundRefresher) State(key domain.MetricsKey) RefreshState {
	r.mu.Lock()
	defer r.mu.Unlock()

	if state, ok := r.states[key]; ok {
		return state
	}
	return RefreshIdle
}

// Errors delivers refresh failures. Failures are dropped when nobody drains it.
func (r *BackgroundRefresher) Errors() <-chan error {
	return r.errs
}

// Shutdown stops accepting refreshes and waits for queued ones to finish.
func (r *BackgroundRefresher) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *BackgroundRefresher) worker() {
	for job := range r.queue {
		r.setState(job.key, RefreshRunning)
		r.execute(job)
		r.setState(job.key, RefreshIdle)
	}
}

func (r *BackgroundRefresher) execute(job refreshJob) {
	ctx, cancel := context.WithTimeout(context.Background(), r.config.Timeout)
	defer cancel()

	start := time.Now()
	err := r.safeRun(ctx, job)
	log := r.logger.WithFields(map[string]any{
		"key":      job.key.String(),
		"duration": time.Since(start),
	})

	if err != nil {
		r.recorder.RecordRefresh("failed")
		log.WithError(err).Error("Background refresh failed")

		select {
		case r.errs <- &RefreshError{Key: job.key, Err: err}:
		default:
		}
		return
	}

	r.recorder.RecordRefresh("completed")
	log.Info("Background refresh completed")
}

// safeRun keeps a panicking refresh from taking the worker down with it.
func (r *BackgroundRefresher) safeRun(ctx context.Context, job refreshJob) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("refresh panicked: %v", p)
		}
	}()
	return r.run(ctx, job.key, job.dates)
}

func (r *BackgroundRefresher) setState(key domain.MetricsKey, state RefreshState) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if state == RefreshIdle {
		delete(r.states, key)
		return
	}
	r.states[key] = state
}

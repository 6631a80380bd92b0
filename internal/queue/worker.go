package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/sync/semaphore"

	"github.com/ternarybob/eventjobs/internal/common"
	"github.com/ternarybob/eventjobs/internal/interfaces"
	"github.com/ternarybob/eventjobs/internal/models"
)

// WorkerPool claims pending jobs on a poll ticker and runs each on its own
// goroutine, bounded by a weighted semaphore of size Concurrency.
//
// Per-slot lifecycle: idle -> claimed -> running -> {timed-out | finished}.
// A slot is released when the handler returns or when JobTimeout fires,
// whichever comes first. Timeouts are cooperative: the job is marked failed
// but the handler goroutine is not stopped unless CancelOnTimeout is set.
// Late writes from such a handler are rejected by the store as terminal.
type WorkerPool struct {
	store    interfaces.JobStore
	registry *Registry
	config   Config
	sem      *semaphore.Weighted
	logger   arbor.ILogger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	running  atomic.Bool
	active   atomic.Int64
	overdue  atomic.Int64
	claimed  atomic.Int64
	finished atomic.Int64
	timedOut atomic.Int64
}

// NewWorkerPool creates a new worker pool over registry's store
func NewWorkerPool(registry *Registry, config Config, logger arbor.ILogger) *WorkerPool {
	if config.Concurrency < 1 {
		config.Concurrency = 1
	}
	if config.PollInterval <= 0 {
		config.PollInterval = NewDefaultConfig().PollInterval
	}
	if config.JobTimeout <= 0 {
		config.JobTimeout = NewDefaultConfig().JobTimeout
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = NewDefaultConfig().ShutdownTimeout
	}

	return &WorkerPool{
		store:    registry.Context().Store,
		registry: registry,
		config:   config,
		sem:      semaphore.NewWeighted(int64(config.Concurrency)),
		logger:   logger,
	}
}

// Start seals the registry and launches the poll loop
func (wp *WorkerPool) Start(ctx context.Context) error {
	if !wp.running.CompareAndSwap(false, true) {
		return fmt.Errorf("worker pool already running")
	}

	wp.registry.Seal()
	wp.ctx, wp.cancel = context.WithCancel(ctx)

	wp.logger.Info().
		Int("concurrency", wp.config.Concurrency).
		Str("poll_interval", wp.config.PollInterval.String()).
		Str("job_timeout", wp.config.JobTimeout.String()).
		Bool("cancel_on_timeout", wp.config.CancelOnTimeout).
		Msg("Starting worker pool")

	common.SafeGo(wp.logger, "worker-pool-poll", wp.pollLoop)

	return nil
}

// Stop halts polling and waits for in-flight jobs up to ShutdownTimeout
func (wp *WorkerPool) Stop() error {
	if !wp.running.CompareAndSwap(true, false) {
		return nil
	}

	wp.logger.Info().Int64("active_jobs", wp.active.Load()).Msg("Stopping worker pool")
	wp.cancel()

	done := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		wp.logger.Info().Msg("Worker pool stopped")
		return nil
	case <-time.After(wp.config.ShutdownTimeout):
		wp.logger.Warn().
			Int64("active_jobs", wp.active.Load()).
			Msg("Worker pool stop timed out with jobs still running")
		return fmt.Errorf("worker pool shutdown timed out after %s", wp.config.ShutdownTimeout)
	}
}

// Stats is a point-in-time view of pool counters
type Stats struct {
	Concurrency int   `json:"concurrency"`
	Active      int64 `json:"active"`
	Overdue     int64 `json:"overdue"`
	Claimed     int64 `json:"claimed"`
	Finished    int64 `json:"finished"`
	TimedOut    int64 `json:"timedOut"`
}

// Stats returns current counters
func (wp *WorkerPool) Stats() Stats {
	return Stats{
		Concurrency: wp.config.Concurrency,
		Active:      wp.active.Load(),
		Overdue:     wp.overdue.Load(),
		Claimed:     wp.claimed.Load(),
		Finished:    wp.finished.Load(),
		TimedOut:    wp.timedOut.Load(),
	}
}

// ActiveJobs returns the number of occupied slots
func (wp *WorkerPool) ActiveJobs() int64 {
	return wp.active.Load()
}

func (wp *WorkerPool) pollLoop() {
	ticker := time.NewTicker(wp.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-wp.ctx.Done():
			wp.logger.Debug().Msg("Worker pool poll loop stopped")
			return
		case <-ticker.C:
			wp.claimAvailable()
		}
	}
}

// claimAvailable pops one job per free slot; it never blocks on a full pool
func (wp *WorkerPool) claimAvailable() {
	for wp.ctx.Err() == nil {
		if !wp.sem.TryAcquire(1) {
			return
		}

		jobID, err := wp.store.PopPending(wp.ctx)
		if err != nil {
			wp.sem.Release(1)
			if !errors.Is(err, models.ErrNoMessage) && !errors.Is(err, context.Canceled) {
				wp.logger.Warn().Err(err).Msg("Failed to pop pending job")
			}
			return
		}

		wp.active.Add(1)
		wp.claimed.Add(1)
		wp.wg.Add(1)

		common.SafeGo(wp.logger, "job-"+jobID, func() {
			wp.runJob(jobID)
		})
	}
}

// runJob owns one slot from claim until the handler returns or the timeout fires
func (wp *WorkerPool) runJob(jobID string) {
	var releaseOnce sync.Once
	release := func() {
		releaseOnce.Do(func() {
			wp.active.Add(-1)
			wp.sem.Release(1)
			wp.wg.Done()
		})
	}
	defer release()

	logger := wp.logger.WithCorrelationId(jobID)
	// store writes made by the pool itself must outlive shutdown cancellation
	storeCtx := context.WithoutCancel(wp.ctx)

	job, err := wp.store.GetJob(storeCtx, jobID)
	if err != nil {
		if errors.Is(err, models.ErrJobNotFound) {
			logger.Warn().Msg("Claimed job record no longer exists, dropping")
			wp.deleteBuffer(storeCtx, jobID, logger)
			return
		}
		logger.Error().Err(err).Msg("Failed to load claimed job")
		wp.failJob(storeCtx, jobID, models.ErrorCodeStore, "", logger)
		wp.deleteBuffer(storeCtx, jobID, logger)
		return
	}

	if job.IsTerminal() {
		logger.Warn().Str("status", string(job.Status)).Msg("Claimed job already terminal, skipping")
		wp.deleteBuffer(storeCtx, jobID, logger)
		return
	}

	handler, ok := wp.registry.Handler(job.Type)
	if !ok || !handler.CanHandle(job) {
		logger.Warn().Str("job_type", string(job.Type)).Msg("No handler for job type")
		wp.deleteBuffer(storeCtx, jobID, logger)
		wp.failJob(storeCtx, jobID, models.ErrorCodeUnknownJobType, "", logger)
		wp.finished.Add(1)
		return
	}

	jobCtx, cancelJob := context.WithCancel(wp.ctx)
	done := make(chan error, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error().
					Str("panic", fmt.Sprintf("%v", r)).
					Str("stack", common.PanicStack()).
					Msg("Recovered from panic escaping job handler")
				done <- fmt.Errorf("%w: %v", ErrHandlerPanic, r)
			}
		}()
		done <- handler.Handle(jobCtx, jobID, job, wp.registry.Context())
	}()

	timer := time.NewTimer(wp.config.JobTimeout)
	defer timer.Stop()

	started := time.Now()

	select {
	case handlerErr := <-done:
		cancelJob()
		wp.finish(storeCtx, jobID, handlerErr, logger)
		wp.finished.Add(1)
		logger.Debug().Str("duration", time.Since(started).String()).Msg("Job handler returned")

	case <-timer.C:
		wp.timedOut.Add(1)
		logger.Warn().
			Str("job_type", string(job.Type)).
			Str("timeout", wp.config.JobTimeout.String()).
			Msg("Job timed out")

		wp.deleteBuffer(storeCtx, jobID, logger)
		wp.failJob(storeCtx, jobID, models.ErrorCodeTimeout, "", logger)

		if wp.config.CancelOnTimeout {
			cancelJob()
		}

		// free the slot now, keep observing the handler until it returns
		wp.overdue.Add(1)
		release()

		go func() {
			err := <-done
			cancelJob()
			wp.overdue.Add(-1)
			logger.Warn().
				Err(err).
				Str("duration", time.Since(started).String()).
				Msg("Timed-out job handler finished")
		}()
	}
}

// finish force-fails a job whose handler returned without a terminal write
func (wp *WorkerPool) finish(ctx context.Context, jobID string, handlerErr error, logger arbor.ILogger) {
	wp.deleteBuffer(ctx, jobID, logger)

	job, err := wp.store.GetJob(ctx, jobID)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to reload job after handler returned")
		return
	}
	if job.IsTerminal() {
		return
	}

	code := models.ErrorCodeHandlerIncomplete
	message := ""
	if handlerErr != nil {
		code, message = ClassifyError(handlerErr)
		logger.Warn().Err(handlerErr).Msg("Job handler returned an error without failing the job")
	} else {
		logger.Warn().Msg("Job handler returned without a terminal status")
	}

	wp.failJob(ctx, jobID, code, message, logger)
}

func (wp *WorkerPool) failJob(ctx context.Context, jobID string, code string, message string, logger arbor.ILogger) {
	if _, err := wp.store.FailJob(ctx, jobID, code, message); err != nil {
		if errors.Is(err, models.ErrJobTerminal) {
			return
		}
		logger.Error().Err(err).Str("error_code", code).Msg("Failed to write job failure")
	}
}

func (wp *WorkerPool) deleteBuffer(ctx context.Context, jobID string, logger arbor.ILogger) {
	if err := wp.store.DeleteBuffer(ctx, jobID); err != nil {
		logger.Warn().Err(err).Msg("Failed to delete job buffer")
	}
}

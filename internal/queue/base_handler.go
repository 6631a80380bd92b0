// -----------------------------------------------------------------------
// Base Handler - shared progress protocol for every job handler
// -----------------------------------------------------------------------

package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/eventjobs/internal/common"
	"github.com/ternarybob/eventjobs/internal/models"
)

// StartProgressPercent is written by StartJob, converted to the type's scale
const StartProgressPercent = 5

// BaseHandler gives concrete handlers a uniform vocabulary for reporting progress.
// Embed it and implement Handle.
type BaseHandler struct {
	jobType models.JobType
	table   *models.JobTypeTable
	logger  arbor.ILogger
}

// NewBaseHandler binds the handler to jobType and the shared job-type table
func NewBaseHandler(jobType models.JobType, table *models.JobTypeTable, logger arbor.ILogger) BaseHandler {
	if table == nil {
		table = models.DefaultJobTypeTable()
	}
	return BaseHandler{
		jobType: jobType,
		table:   table,
		logger:  logger,
	}
}

// JobType returns the type this handler serves
func (b *BaseHandler) JobType() models.JobType {
	return b.jobType
}

// CanHandle reports whether job is of this handler's type
func (b *BaseHandler) CanHandle(job *models.JobRecord) bool {
	return job != nil && job.Type == b.jobType
}

// TotalSteps returns the declared phase count for this handler's type
func (b *BaseHandler) TotalSteps() int {
	return b.table.TotalSteps(b.jobType)
}

// Progress converts percent into this handler's progress unit
func (b *BaseHandler) Progress(percent float64) float64 {
	return b.table.Progress(b.jobType, percent)
}

// Logger returns a logger scoped to one job
func (b *BaseHandler) Logger(jobID string) arbor.ILogger {
	return b.logger.WithCorrelationId(jobID)
}

// StartJob moves the job to processing at the fixed start progress, phase 1
func (b *BaseHandler) StartJob(ctx context.Context, ec *ExecutionContext, jobID string, description string) error {
	_, err := ec.Store.UpdateJobStatus(ctx, jobID, models.JobUpdate{
		Status:       models.StatusPtr(models.JobStatusProcessing),
		Progress:     models.Float64Ptr(b.Progress(StartProgressPercent)),
		ProgressStep: models.StringPtr(description),
		Message:      models.StringPtr(description),
		ProgressDetails: &models.ProgressDetails{
			CurrentStep:     "1",
			TotalSteps:      b.TotalSteps(),
			StepProgress:    0,
			StepDescription: description,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to start job %s: %w", jobID, err)
	}

	b.Logger(jobID).Debug().
		Str("job_type", string(b.jobType)).
		Int("total_steps", b.TotalSteps()).
		Msg("Job started")

	return nil
}

// UpdateJobProgress passes a partial update through to the store
func (b *BaseHandler) UpdateJobProgress(ctx context.Context, ec *ExecutionContext, jobID string, update models.JobUpdate) error {
	if update.Status != nil && update.Status.IsTerminal() {
		return fmt.Errorf("use CompleteJob or FailJob for terminal status on job %s", jobID)
	}
	if _, err := ec.Store.UpdateJobStatus(ctx, jobID, update); err != nil {
		return fmt.Errorf("failed to update job %s: %w", jobID, err)
	}
	return nil
}

// Step reports entering phase step (1-based) at percent overall progress.
// progressDetails stays consistent with the table's total step count.
func (b *BaseHandler) Step(ctx context.Context, ec *ExecutionContext, jobID string, step int, description string, percent float64) error {
	total := b.TotalSteps()
	if step > total {
		step = total
	}
	return b.UpdateJobProgress(ctx, ec, jobID, models.JobUpdate{
		Progress:     models.Float64Ptr(b.Progress(percent)),
		ProgressStep: models.StringPtr(description),
		Message:      models.StringPtr(description),
		ProgressDetails: &models.ProgressDetails{
			CurrentStep:     strconv.Itoa(step),
			TotalSteps:      total,
			StepProgress:    0,
			StepDescription: description,
		},
	})
}

// FailJob deletes the job's buffer, then writes failed with a normalized error code.
// message overrides the default user-facing message for the code.
func (b *BaseHandler) FailJob(ctx context.Context, ec *ExecutionContext, jobID string, cause error, message string) error {
	code, userMessage := ClassifyError(cause)
	if message != "" {
		userMessage = message
	}

	logger := b.Logger(jobID)
	b.deleteBuffer(ctx, ec, jobID, logger)

	if _, err := ec.Store.FailJob(ctx, jobID, code, userMessage); err != nil {
		return fmt.Errorf("failed to fail job %s: %w", jobID, err)
	}

	event := logger.Warn().
		Str("job_type", string(b.jobType)).
		Str("error_code", code)
	if cause != nil {
		event = event.Err(cause)
	}
	event.Msg("Job failed")

	return nil
}

// CompleteJob deletes the job's buffer, then writes completed with result and optional eventID
func (b *BaseHandler) CompleteJob(ctx context.Context, ec *ExecutionContext, jobID string, result map[string]interface{}, eventID string) error {
	logger := b.Logger(jobID)
	b.deleteBuffer(ctx, ec, jobID, logger)

	if _, err := ec.Store.CompleteJob(ctx, jobID, result, eventID); err != nil {
		return fmt.Errorf("failed to complete job %s: %w", jobID, err)
	}

	logger.Info().
		Str("job_type", string(b.jobType)).
		Str("event_id", eventID).
		Msg("Job completed")

	return nil
}

// Execute runs body with the handler catch-all: a returned error or a panic is
// routed into FailJob so nothing escapes to the worker loop. A job that was
// already terminal (timed out meanwhile) is left alone.
func (b *BaseHandler) Execute(ctx context.Context, ec *ExecutionContext, jobID string, body func(ctx context.Context) error) (err error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}

		b.Logger(jobID).Error().
			Str("job_type", string(b.jobType)).
			Str("panic", fmt.Sprintf("%v", r)).
			Str("stack", common.PanicStack()).
			Msg("Recovered from panic in job handler")

		panicErr := &models.JobError{
			Code:    models.ErrorCodeHandlerPanic,
			Message: models.DefaultErrorMessage(models.ErrorCodeHandlerPanic),
			Err:     fmt.Errorf("%w: %v", ErrHandlerPanic, r),
		}
		if failErr := b.FailJob(ctx, ec, jobID, panicErr, ""); failErr != nil && !errors.Is(failErr, models.ErrJobTerminal) {
			err = failErr
		}
	}()

	bodyErr := body(ctx)
	if bodyErr == nil {
		return nil
	}
	if errors.Is(bodyErr, models.ErrJobTerminal) {
		b.Logger(jobID).Warn().Msg("Job reached a terminal state elsewhere, handler result discarded")
		return nil
	}

	if failErr := b.FailJob(ctx, ec, jobID, bodyErr, ""); failErr != nil {
		if errors.Is(failErr, models.ErrJobTerminal) {
			return nil
		}
		return failErr
	}
	return nil
}

func (b *BaseHandler) deleteBuffer(ctx context.Context, ec *ExecutionContext, jobID string, logger arbor.ILogger) {
	if err := ec.Store.DeleteBuffer(ctx, jobID); err != nil {
		logger.Warn().Err(err).Msg("Failed to delete job buffer")
	}
}

// ClassifyError maps any error onto a machine code and user-facing message.
func ClassifyError(err error) (string, string) {
	if err == nil {
		return models.ErrorCodeUnknown, models.DefaultErrorMessage(models.ErrorCodeUnknown)
	}

	var jobErr *models.JobError
	if errors.As(err, &jobErr) {
		message := jobErr.Message
		if message == "" {
			message = models.DefaultErrorMessage(jobErr.Code)
		}
		return jobErr.Code, message
	}

	switch {
	case errors.Is(err, models.ErrQuotaExceeded):
		return models.ErrorCodeQuotaExceeded, models.DefaultErrorMessage(models.ErrorCodeQuotaExceeded)
	case errors.Is(err, context.DeadlineExceeded):
		return models.ErrorCodeTimeout, models.DefaultErrorMessage(models.ErrorCodeTimeout)
	case errors.Is(err, ErrHandlerPanic):
		return models.ErrorCodeHandlerPanic, models.DefaultErrorMessage(models.ErrorCodeHandlerPanic)
	}

	return models.ErrorCodeServiceError, models.DefaultErrorMessage(models.ErrorCodeServiceError)
}

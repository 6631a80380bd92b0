// -----------------------------------------------------------------------
// Progress Streamer - pushes one job's updates to a connected client
// -----------------------------------------------------------------------

package streaming

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/eventjobs/internal/interfaces"
	"github.com/ternarybob/eventjobs/internal/models"
)

// Message types sent to a sink
const (
	MessageSnapshot  = "snapshot"
	MessageUpdate    = "update"
	MessageNotFound  = "not_found"
	MessageKeepalive = "keepalive"
)

// Message is one frame of a job stream. Job is the complete record for
// snapshot and update frames.
type Message struct {
	Type      string            `json:"type"`
	JobID     string            `json:"jobId"`
	Job       *models.JobRecord `json:"job,omitempty"`
	Status    string            `json:"status,omitempty"`
	Message   string            `json:"message,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Sink is a connected client. Send must respect ctx and return an error once
// the client is gone; the streamer stops on the first error.
type Sink interface {
	Send(ctx context.Context, msg Message) error
}

// Config controls stream timing
type Config struct {
	KeepaliveInterval time.Duration
	CloseDelay        time.Duration
}

// Streamer serves job progress streams from a JobStore
type Streamer struct {
	store  interfaces.JobStore
	config Config
	logger arbor.ILogger
	active atomic.Int64
}

// NewStreamer creates a streamer. Zero durations fall back to 15s keepalive and 1s close delay.
func NewStreamer(store interfaces.JobStore, config Config, logger arbor.ILogger) *Streamer {
	if config.KeepaliveInterval <= 0 {
		config.KeepaliveInterval = 15 * time.Second
	}
	if config.CloseDelay < 0 {
		config.CloseDelay = 0
	}
	return &Streamer{
		store:  store,
		config: config,
		logger: logger,
	}
}

// ActiveStreams returns the number of streams currently open
func (s *Streamer) ActiveStreams() int64 {
	return s.active.Load()
}

// Stream subscribes before reading the snapshot so no update between the two
// is lost, then forwards every newer revision until the job is terminal or ctx
// ends. An unknown job gets a single not_found message.
func (s *Streamer) Stream(ctx context.Context, jobID string, sink Sink) error {
	s.active.Add(1)
	defer s.active.Add(-1)

	logger := s.logger.WithCorrelationId(jobID)

	sub, err := s.store.Subscribe(ctx, jobID)
	if err != nil {
		return fmt.Errorf("failed to subscribe to job %s: %w", jobID, err)
	}
	defer func() { _ = sub.Close() }()

	job, err := s.store.GetJob(ctx, jobID)
	if errors.Is(err, models.ErrJobNotFound) {
		return sink.Send(ctx, Message{
			Type:      MessageNotFound,
			JobID:     jobID,
			Status:    "error",
			Message:   "Job not found",
			Timestamp: time.Now().UTC(),
		})
	}
	if err != nil {
		return fmt.Errorf("failed to read job %s: %w", jobID, err)
	}

	if err := sink.Send(ctx, s.frame(MessageSnapshot, job)); err != nil {
		return err
	}
	last := job.Revision
	if job.IsTerminal() {
		return s.closeAfterDelay(ctx)
	}

	logger.Debug().Int64("revision", last).Msg("Job stream opened")

	keepalive := time.NewTicker(s.config.KeepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Debug().Msg("Job stream client disconnected")
			return nil

		case <-keepalive.C:
			if err := sink.Send(ctx, Message{Type: MessageKeepalive, JobID: jobID, Timestamp: time.Now().UTC()}); err != nil {
				return err
			}

		case rec, ok := <-sub.C():
			if !ok {
				// Dropped by the broker; recover any missed revision from the store
				if ctx.Err() != nil {
					return nil
				}
				logger.Debug().Int64("revision", last).Msg("Job subscription closed, resubscribing")

				sub, err = s.store.Subscribe(ctx, jobID)
				if err != nil {
					return fmt.Errorf("failed to resubscribe to job %s: %w", jobID, err)
				}
				rec, err = s.store.GetJob(ctx, jobID)
				if err != nil {
					return fmt.Errorf("failed to re-read job %s: %w", jobID, err)
				}
			}

			if rec.Revision <= last {
				continue
			}
			if err := sink.Send(ctx, s.frame(MessageUpdate, rec)); err != nil {
				return err
			}
			last = rec.Revision

			if rec.IsTerminal() {
				logger.Debug().Str("status", string(rec.Status)).Msg("Job reached terminal status, closing stream")
				return s.closeAfterDelay(ctx)
			}
		}
	}
}

func (s *Streamer) frame(kind string, job *models.JobRecord) Message {
	return Message{
		Type:      kind,
		JobID:     job.ID,
		Job:       job,
		Status:    string(job.Status),
		Timestamp: time.Now().UTC(),
	}
}

func (s *Streamer) closeAfterDelay(ctx context.Context) error {
	if s.config.CloseDelay == 0 {
		return nil
	}
	timer := time.NewTimer(s.config.CloseDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
	return nil
}

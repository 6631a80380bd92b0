package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/eventjobs/internal/interfaces"
	"github.com/ternarybob/eventjobs/internal/models"
)

const (
	// DefaultSubscriberBuffer is the per-subscriber channel capacity
	DefaultSubscriberBuffer = 256

	// DefaultSendTimeout bounds how long Publish waits on a full subscriber
	DefaultSendTimeout = 2 * time.Second
)

// Service is the in-process per-job update broker.
// Publish delivers to each subscriber in call order. A subscriber that stays
// full past the send timeout is closed so the publisher is never stuck; the
// consumer sees its channel close and re-reads the record.
type Service struct {
	subscribers map[string]map[*subscriber]struct{}
	mu          sync.RWMutex
	logger      arbor.ILogger
	bufferSize  int
	sendTimeout time.Duration
	closed      bool
}

// NewService creates a new broker
func NewService(logger arbor.ILogger, bufferSize int, sendTimeout time.Duration) *Service {
	if bufferSize <= 0 {
		bufferSize = DefaultSubscriberBuffer
	}
	if sendTimeout <= 0 {
		sendTimeout = DefaultSendTimeout
	}
	return &Service{
		subscribers: make(map[string]map[*subscriber]struct{}),
		logger:      logger,
		bufferSize:  bufferSize,
		sendTimeout: sendTimeout,
	}
}

// Subscribe registers a subscriber for jobID
func (s *Service) Subscribe(ctx context.Context, jobID string) (interfaces.Subscription, error) {
	if jobID == "" {
		return nil, fmt.Errorf("job id cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, fmt.Errorf("event service closed")
	}

	sub := &subscriber{
		jobID:   jobID,
		ch:      make(chan *models.JobRecord, s.bufferSize),
		done:    make(chan struct{}),
		service: s,
	}

	if s.subscribers[jobID] == nil {
		s.subscribers[jobID] = make(map[*subscriber]struct{})
	}
	s.subscribers[jobID][sub] = struct{}{}

	s.logger.Debug().
		Str("job_id", jobID).
		Int("subscriber_count", len(s.subscribers[jobID])).
		Msg("Job update subscriber added")

	return sub, nil
}

// Publish sends a copy of record to every subscriber of record.ID
func (s *Service) Publish(ctx context.Context, record *models.JobRecord) error {
	if record == nil {
		return fmt.Errorf("record cannot be nil")
	}

	s.mu.RLock()
	subs := make([]*subscriber, 0, len(s.subscribers[record.ID]))
	for sub := range s.subscribers[record.ID] {
		subs = append(subs, sub)
	}
	s.mu.RUnlock()

	if len(subs) == 0 {
		return nil
	}

	for _, sub := range subs {
		if !sub.send(record.Clone(), s.sendTimeout) {
			if sub.isClosed() {
				continue
			}
			s.logger.Warn().
				Str("job_id", record.ID).
				Str("status", string(record.Status)).
				Msg("Job update subscriber too slow, closing subscription")
			_ = sub.Close()
		}
	}

	return nil
}

// SubscriberCount returns the live subscriber count for jobID
func (s *Service) SubscriberCount(jobID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subscribers[jobID])
}

// Close drops every subscriber
func (s *Service) Close() error {
	s.mu.Lock()
	all := make([]*subscriber, 0)
	for _, subs := range s.subscribers {
		for sub := range subs {
			all = append(all, sub)
		}
	}
	s.closed = true
	s.mu.Unlock()

	for _, sub := range all {
		_ = sub.Close()
	}
	return nil
}

func (s *Service) remove(sub *subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()

	subs := s.subscribers[sub.jobID]
	delete(subs, sub)
	if len(subs) == 0 {
		delete(s.subscribers, sub.jobID)
	}

	s.logger.Debug().
		Str("job_id", sub.jobID).
		Int("subscriber_count", len(subs)).
		Msg("Job update subscriber removed")
}

// subscriber never has ch closed while a send is in flight: Close signals done
// first, then takes mu, which send holds for the whole attempt.
type subscriber struct {
	jobID   string
	ch      chan *models.JobRecord
	done    chan struct{}
	once    sync.Once
	mu      sync.Mutex
	closed  bool
	service *Service
}

func (s *subscriber) C() <-chan *models.JobRecord {
	return s.ch
}

func (s *subscriber) Close() error {
	s.once.Do(func() {
		close(s.done)

		s.mu.Lock()
		s.closed = true
		close(s.ch)
		s.mu.Unlock()

		s.service.remove(s)
	})
	return nil
}

func (s *subscriber) isClosed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *subscriber) send(record *models.JobRecord, timeout time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}

	select {
	case s.ch <- record:
		return true
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case s.ch <- record:
		return true
	case <-s.done:
		return false
	case <-timer.C:
		return false
	}
}

package progress

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/iago/vidai-studio/internal/domain"
)

var (
	ErrUnknownJob      = errors.New("progress: unknown job")
	ErrStreamClosed    = errors.New("progress: stream already terminated")
	ErrStageRegression = errors.New("progress: stage regression")
)

// Mirror receives a copy of every published event, e.g. an external stream.
type Mirror interface {
	Publish(ctx context.Context, event domain.Event) error
}

type BrokerConfig struct {
	Mirror Mirror
	Logger *log.Logger
	Now    func() time.Time
}

// Broker keeps an ordered event log per job and fans it out to subscribers.
type Broker struct {
	mu      sync.Mutex
	streams map[string]*stream
	mirror  Mirror
	logger  *log.Logger
	now     func() time.Time
}

type stream struct {
	events []domain.Event
	closed bool
	notify chan struct{}
}

func NewBroker(config BrokerConfig) *Broker {
	if config.Now == nil {
		config.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Broker{
		streams: make(map[string]*stream),
		mirror:  config.Mirror,
		logger:  config.Logger,
		now:     config.Now,
	}
}

// Open registers a job so that subscriptions taken before its first event succeed.
func (b *Broker) Open(jobID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.streams[jobID]; !ok {
		b.streams[jobID] = &stream{notify: make(chan struct{})}
	}
}

// Publish appends an event to the job's log. Stages never move backwards and
// nothing is accepted after a terminal event.
func (b *Broker) Publish(jobID string, stage domain.Stage, percent *int, message string) (domain.Event, error) {
	b.mu.Lock()
	s, ok := b.streams[jobID]
	if !ok {
		s = &stream{notify: make(chan struct{})}
		b.streams[jobID] = s
	}
	if s.closed {
		b.mu.Unlock()
		return domain.Event{}, ErrStreamClosed
	}
	if n := len(s.events); n > 0 {
		last := s.events[n-1].Stage
		if !last.CanAdvanceTo(stage) {
			b.mu.Unlock()
			return domain.Event{}, fmt.Errorf("%w: %s -> %s", ErrStageRegression, last, stage)
		}
	}

	event := domain.Event{
		JobID:   jobID,
		Seq:     len(s.events) + 1,
		Stage:   stage,
		Message: message,
		At:      b.now(),
	}
	if percent != nil {
		event.Percent = domain.IntPtr(*percent)
	}
	s.events = append(s.events, event)
	if stage.IsTerminal() {
		s.closed = true
	}
	close(s.notify)
	s.notify = make(chan struct{})
	b.mu.Unlock()

	if b.mirror != nil {
		if err := b.mirror.Publish(context.Background(), event); err != nil {
			b.logf("progress mirror failed job_id=%s seq=%d err=%v", jobID, event.Seq, err)
		}
	}
	return event, nil
}

// Subscribe returns a finite, ordered view of the job's events. A live job
// replays everything published so far and then follows; a terminated job
// yields only its terminal event.
func (b *Broker) Subscribe(jobID string) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.streams[jobID]
	if !ok {
		return nil, ErrUnknownJob
	}
	next := 0
	if s.closed && len(s.events) > 0 {
		next = len(s.events) - 1
	}
	return &Subscription{broker: b, stream: s, next: next}, nil
}

// Last returns the most recent event of a job.
func (b *Broker) Last(jobID string) (domain.Event, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.streams[jobID]
	if !ok || len(s.events) == 0 {
		return domain.Event{}, false
	}
	return s.events[len(s.events)-1], true
}

// Forget drops a terminated job's log. Live jobs are kept.
func (b *Broker) Forget(jobID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.streams[jobID]; ok && s.closed {
		delete(b.streams, jobID)
	}
}

// Terminal returns a subscription yielding a single, already terminal event.
func Terminal(event domain.Event) *Subscription {
	s := &stream{events: []domain.Event{event}, closed: true, notify: make(chan struct{})}
	return &Subscription{stream: s}
}

func (b *Broker) logf(format string, args ...any) {
	if b.logger != nil {
		b.logger.Printf(format, args...)
	}
}

// Subscription is a lazily consumed, non-restartable event sequence.
type Subscription struct {
	broker *Broker
	stream *stream
	next   int
	done   bool
}

// Next blocks until the next event is available. ok is false once the
// terminal event has been delivered.
func (s *Subscription) Next(ctx context.Context) (domain.Event, bool, error) {
	for {
		event, ok, wait := s.poll()
		if ok {
			return event, true, nil
		}
		if wait == nil {
			return domain.Event{}, false, nil
		}
		select {
		case <-ctx.Done():
			return domain.Event{}, false, ctx.Err()
		case <-wait:
		}
	}
}

func (s *Subscription) poll() (domain.Event, bool, <-chan struct{}) {
	if s.broker != nil {
		s.broker.mu.Lock()
		defer s.broker.mu.Unlock()
	}
	if s.done {
		return domain.Event{}, false, nil
	}
	if s.next < len(s.stream.events) {
		event := s.stream.events[s.next]
		s.next++
		if event.Terminal() {
			s.done = true
		}
		return event, true, nil
	}
	if s.stream.closed {
		s.done = true
		return domain.Event{}, false, nil
	}
	return domain.Event{}, false, s.stream.notify
}

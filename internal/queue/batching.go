package queue

import (
	"context"
	"errors"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/iago/vidai-studio/internal/domain"
)

var (
	ErrQueueBackpressure = errors.New("queue backpressure: publish buffer is full")
	ErrBatchingClosed    = errors.New("batching publisher is closed")
)

type BatchingConfig struct {
	MaxBatchSize       int
	FlushInterval      time.Duration
	FlushTimeout       time.Duration
	QueueCapacity      int
	MaxInFlightBatches int
	Logger             *log.Logger
}

// BatchingPublisher groups close-in-time events into a single write and
// applies bounded buffering. Publish never waits for the write itself, so a
// slow stream cannot stall a job.
type BatchingPublisher struct {
	base        Publisher
	batchWriter batchCapablePublisher

	in         chan domain.Event
	semaphore  chan struct{}
	stop       chan struct{}
	done       chan struct{}
	closeOnce  sync.Once
	config     BatchingConfig
	parentDone <-chan struct{}
	logger     *log.Logger
}

func NewBatchingPublisher(
	parent context.Context,
	base Publisher,
	cfg BatchingConfig,
) *BatchingPublisher {
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 32
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 25 * time.Millisecond
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = 3 * time.Second
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 2048
	}
	if cfg.MaxInFlightBatches <= 0 {
		cfg.MaxInFlightBatches = 4
	}

	batcher := &BatchingPublisher{
		base:       base,
		in:         make(chan domain.Event, cfg.QueueCapacity),
		semaphore:  make(chan struct{}, cfg.MaxInFlightBatches),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
		config:     cfg,
		parentDone: parent.Done(),
		logger:     cfg.Logger,
	}
	if writer, ok := base.(batchCapablePublisher); ok {
		batcher.batchWriter = writer
	}

	go batcher.run()
	return batcher
}

func (b *BatchingPublisher) Publish(ctx context.Context, event domain.Event) error {
	if ctx == nil {
		ctx = context.Background()
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-b.done:
		return ErrBatchingClosed
	default:
	}

	select {
	case <-b.done:
		return ErrBatchingClosed
	case b.in <- event:
		return nil
	default:
		return ErrQueueBackpressure
	}
}

// Close flushes what is buffered and stops the loop.
func (b *BatchingPublisher) Close() {
	b.closeOnce.Do(func() {
		close(b.stop)
		<-b.done
	})
}

func (b *BatchingPublisher) run() {
	defer close(b.done)

	pending := make([]domain.Event, 0, b.config.MaxBatchSize)
	timer := time.NewTimer(b.config.FlushInterval)
	stopTimer(timer)
	timerRunning := false

	flush := func(final bool) {
		if len(pending) == 0 {
			return
		}
		batch := append([]domain.Event(nil), pending...)
		pending = pending[:0]
		b.flushBatch(batch, final)
	}

	drain := func() {
		for {
			select {
			case event := <-b.in:
				pending = append(pending, event)
			default:
				return
			}
		}
	}

	for {
		var timerCh <-chan time.Time
		if timerRunning {
			timerCh = timer.C
		}

		select {
		case <-b.parentDone:
			stopTimer(timer)
			drain()
			flush(true)
			return
		case <-b.stop:
			stopTimer(timer)
			drain()
			flush(true)
			return
		case <-timerCh:
			timerRunning = false
			flush(false)
		case event := <-b.in:
			pending = append(pending, event)
			if len(pending) == 1 {
				resetTimer(timer, b.config.FlushInterval)
				timerRunning = true
			}
			if len(pending) >= b.config.MaxBatchSize {
				stopTimer(timer)
				timerRunning = false
				flush(false)
			}
		}
	}
}

func (b *BatchingPublisher) flushBatch(batch []domain.Event, final bool) {
	// Grouping by job keeps each job's events contiguous and in sequence order.
	sort.SliceStable(batch, func(i, j int) bool {
		if batch[i].JobID == batch[j].JobID {
			return batch[i].Seq < batch[j].Seq
		}
		return batch[i].JobID < batch[j].JobID
	})

	flushCtx := context.Background()
	if !final {
		var cancel context.CancelFunc
		flushCtx, cancel = context.WithTimeout(context.Background(), b.config.FlushTimeout)
		defer cancel()
	}

	select {
	case b.semaphore <- struct{}{}:
	case <-flushCtx.Done():
		b.logf("progress batch dropped events=%d err=%v", len(batch), flushCtx.Err())
		return
	}
	defer func() { <-b.semaphore }()

	var publishErr error
	if b.batchWriter != nil {
		publishErr = b.batchWriter.PublishBatch(flushCtx, batch)
	} else {
		for _, event := range batch {
			if err := b.base.Publish(flushCtx, event); err != nil {
				publishErr = err
				break
			}
		}
	}
	if publishErr != nil {
		b.logf("progress batch failed events=%d err=%v", len(batch), publishErr)
	}
}

func (b *BatchingPublisher) logf(format string, args ...any) {
	if b.logger != nil {
		b.logger.Printf(format, args...)
	}
}

func stopTimer(timer *time.Timer) {
	if timer == nil {
		return
	}
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
}

func resetTimer(timer *time.Timer, value time.Duration) {
	if timer == nil {
		return
	}
	stopTimer(timer)
	timer.Reset(value)
}

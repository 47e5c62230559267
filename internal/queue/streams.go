package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/iago/vidai-studio/internal/domain"
	"github.com/redis/go-redis/v9"
)

type StreamsConfig struct {
	Addr     string
	Password string
	DB       int
	Stream   string
	MaxLen   int64
}

// StreamsPublisher mirrors progress events into a Redis stream so other
// processes can follow jobs without talking to the API.
type StreamsPublisher struct {
	client *redis.Client
	stream string
	maxLen int64
}

func NewStreamsPublisher(ctx context.Context, cfg StreamsConfig) (*StreamsPublisher, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	if cfg.Stream == "" {
		cfg.Stream = "vidai_progress"
	}
	if cfg.MaxLen <= 0 {
		cfg.MaxLen = 10000
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &StreamsPublisher{
		client: client,
		stream: cfg.Stream,
		maxLen: cfg.MaxLen,
	}, nil
}

func (p *StreamsPublisher) Close() error {
	return p.client.Close()
}

func (p *StreamsPublisher) Publish(ctx context.Context, event domain.Event) error {
	_, err := p.client.XAdd(ctx, p.xaddArgs(event)).Result()
	if err != nil {
		return fmt.Errorf("publish to stream: %w", err)
	}
	return nil
}

func (p *StreamsPublisher) PublishBatch(ctx context.Context, events []domain.Event) error {
	if len(events) == 0 {
		return nil
	}

	pipeline := p.client.Pipeline()
	for _, event := range events {
		pipeline.XAdd(ctx, p.xaddArgs(event))
	}

	if _, err := pipeline.Exec(ctx); err != nil {
		return fmt.Errorf("publish batch to stream: %w", err)
	}
	return nil
}

func (p *StreamsPublisher) xaddArgs(event domain.Event) *redis.XAddArgs {
	return &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: streamValues(event),
	}
}

func streamValues(event domain.Event) map[string]any {
	percent := ""
	if event.Percent != nil {
		percent = strconv.Itoa(*event.Percent)
	}
	return map[string]any{
		"job_id":  event.JobID,
		"seq":     event.Seq,
		"stage":   string(event.Stage),
		"percent": percent,
		"message": event.Message,
		"at":      event.At.Format(time.RFC3339Nano),
	}
}

// ParseStreamEvent rebuilds an event from a stream entry written by StreamsPublisher.
func ParseStreamEvent(item redis.XMessage) (domain.Event, error) {
	getString := func(key string) (string, error) {
		value, ok := item.Values[key]
		if !ok {
			return "", fmt.Errorf("missing field %s", key)
		}
		switch casted := value.(type) {
		case string:
			return casted, nil
		case []byte:
			return string(casted), nil
		default:
			return fmt.Sprintf("%v", casted), nil
		}
	}

	jobID, err := getString("job_id")
	if err != nil {
		return domain.Event{}, err
	}
	seqString, err := getString("seq")
	if err != nil {
		return domain.Event{}, err
	}
	seq, err := strconv.Atoi(seqString)
	if err != nil {
		return domain.Event{}, fmt.Errorf("invalid seq: %w", err)
	}
	stage, err := getString("stage")
	if err != nil {
		return domain.Event{}, err
	}
	atString, err := getString("at")
	if err != nil {
		return domain.Event{}, err
	}
	at, err := time.Parse(time.RFC3339Nano, atString)
	if err != nil {
		return domain.Event{}, fmt.Errorf("invalid at: %w", err)
	}

	event := domain.Event{JobID: jobID, Seq: seq, Stage: domain.Stage(stage), At: at}
	if message, err := getString("message"); err == nil {
		event.Message = message
	}
	if percentString, err := getString("percent"); err == nil && percentString != "" {
		percent, convErr := strconv.Atoi(percentString)
		if convErr != nil {
			return domain.Event{}, fmt.Errorf("invalid percent: %w", convErr)
		}
		event.Percent = domain.IntPtr(percent)
	}
	return event, nil
}

// Follow reads the mirror stream from lastID and calls handle for each event
// until ctx ends. Use "$" to start from new entries only.
func (p *StreamsPublisher) Follow(ctx context.Context, lastID string, handle func(domain.Event) error) error {
	if lastID == "" {
		lastID = "$"
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		streams, err := p.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{p.stream, lastID},
			Count:   50,
			Block:   5 * time.Second,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			return fmt.Errorf("xread: %w", err)
		}

		for _, stream := range streams {
			for _, item := range stream.Messages {
				lastID = item.ID
				event, parseErr := ParseStreamEvent(item)
				if parseErr != nil {
					continue
				}
				if err := handle(event); err != nil {
					return err
				}
			}
		}
	}
}

package queue

import (
	"context"

	"github.com/iago/vidai-studio/internal/domain"
)

// Publisher ships progress events to an external stream.
type Publisher interface {
	Publish(ctx context.Context, event domain.Event) error
}

type batchCapablePublisher interface {
	PublishBatch(ctx context.Context, events []domain.Event) error
}

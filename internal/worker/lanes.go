package worker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
)

// Lanes hands out one slot per key in strict reservation order.
type Lanes struct {
	mu    sync.Mutex
	lanes map[string][]*Ticket
}

// Ticket is a place in a lane. The holder at the head of the lane owns the slot.
type Ticket struct {
	owner    *Lanes
	key      string
	ready    chan struct{}
	released bool
}

func NewLanes() *Lanes {
	return &Lanes{lanes: make(map[string][]*Ticket)}
}

// CredentialKey derives a lane key without keeping the raw credential around.
func CredentialKey(apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(sum[:8])
}

// Reserve appends a ticket to the key's lane. Call it in submission order.
func (l *Lanes) Reserve(key string) *Ticket {
	l.mu.Lock()
	defer l.mu.Unlock()

	ticket := &Ticket{owner: l, key: key, ready: make(chan struct{})}
	l.lanes[key] = append(l.lanes[key], ticket)
	if len(l.lanes[key]) == 1 {
		close(ticket.ready)
	}
	return ticket
}

// Waiting reports how many tickets are ahead of or holding the key's slot.
func (l *Lanes) Waiting(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.lanes[key])
}

// Wait blocks until the ticket reaches the head of its lane.
func (t *Ticket) Wait(ctx context.Context) error {
	select {
	case <-t.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release leaves the lane, handing the slot to the next ticket when this one held it.
// Safe to call more than once and whether or not Wait succeeded.
func (t *Ticket) Release() {
	l := t.owner
	l.mu.Lock()
	defer l.mu.Unlock()

	if t.released {
		return
	}
	t.released = true

	queue := l.lanes[t.key]
	for i, candidate := range queue {
		if candidate != t {
			continue
		}
		queue = append(queue[:i:i], queue[i+1:]...)
		if i == 0 && len(queue) > 0 {
			close(queue[0].ready)
		}
		break
	}
	if len(queue) == 0 {
		delete(l.lanes, t.key)
		return
	}
	l.lanes[t.key] = queue
}

package repository

import (
	"context"
	"errors"
	"sync"

	"github.com/iago/vidai-studio/internal/domain"
)

var ErrNotFound = errors.New("resource not found")

const DefaultHistoryMaxItems = 50

// HistoryRepository persists terminal job records, newest first.
// Append is idempotent by id: re-appending an id replaces the stored entry
// and moves it to the front.
type HistoryRepository interface {
	Append(ctx context.Context, entry domain.HistoryEntry) error
	List(ctx context.Context) ([]domain.HistoryEntry, error)
	Get(ctx context.Context, id string) (domain.HistoryEntry, error)
	Delete(ctx context.Context, id string) error
	Clear(ctx context.Context) error
}

// MemoryHistoryRepository keeps history in memory for tests and the CLI.
type MemoryHistoryRepository struct {
	mu       sync.RWMutex
	entries  []domain.HistoryEntry
	maxItems int
}

func NewMemoryHistoryRepository(maxItems int) *MemoryHistoryRepository {
	if maxItems <= 0 {
		maxItems = DefaultHistoryMaxItems
	}
	return &MemoryHistoryRepository{maxItems: maxItems}
}

func (r *MemoryHistoryRepository) Append(_ context.Context, entry domain.HistoryEntry) error {
	if entry.ID == "" {
		return errors.New("history entry id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries = upsertEntry(r.entries, cloneEntry(entry), r.maxItems)
	return nil
}

func (r *MemoryHistoryRepository) List(_ context.Context) ([]domain.HistoryEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return cloneEntries(r.entries), nil
}

func (r *MemoryHistoryRepository) Get(_ context.Context, id string) (domain.HistoryEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, entry := range r.entries {
		if entry.ID == id {
			return cloneEntry(entry), nil
		}
	}
	return domain.HistoryEntry{}, ErrNotFound
}

func (r *MemoryHistoryRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	remaining, removed := removeEntry(r.entries, id)
	if !removed {
		return ErrNotFound
	}
	r.entries = remaining
	return nil
}

func (r *MemoryHistoryRepository) Clear(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries = nil
	return nil
}

// upsertEntry puts entry at the front, dropping any older record with the same id, then caps the list.
func upsertEntry(entries []domain.HistoryEntry, entry domain.HistoryEntry, maxItems int) []domain.HistoryEntry {
	rest, _ := removeEntry(entries, entry.ID)
	updated := make([]domain.HistoryEntry, 0, len(rest)+1)
	updated = append(updated, entry)
	updated = append(updated, rest...)
	if maxItems > 0 && len(updated) > maxItems {
		updated = updated[:maxItems]
	}
	return updated
}

func removeEntry(entries []domain.HistoryEntry, id string) ([]domain.HistoryEntry, bool) {
	for i := range entries {
		if entries[i].ID == id {
			remaining := make([]domain.HistoryEntry, 0, len(entries)-1)
			remaining = append(remaining, entries[:i]...)
			remaining = append(remaining, entries[i+1:]...)
			return remaining, true
		}
	}
	return entries, false
}

func cloneEntries(entries []domain.HistoryEntry) []domain.HistoryEntry {
	out := make([]domain.HistoryEntry, 0, len(entries))
	for _, entry := range entries {
		out = append(out, cloneEntry(entry))
	}
	return out
}

func cloneEntry(entry domain.HistoryEntry) domain.HistoryEntry {
	clone := entry
	if entry.Options != nil {
		options := *entry.Options
		clone.Options = &options
	}
	if entry.Result != nil {
		result := *entry.Result
		clone.Result = &result
	}
	if entry.File != nil {
		file := *entry.File
		clone.File = &file
	}
	if entry.Error != nil {
		info := *entry.Error
		clone.Error = &info
	}
	return clone
}

package repository

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/iago/vidai-studio/internal/domain"
)

// FileHistoryRepository stores history as a JSON array on disk.
// Writers are serialized; readers share the in-memory copy loaded at open.
type FileHistoryRepository struct {
	path     string
	maxItems int

	mu      sync.RWMutex
	entries []domain.HistoryEntry
}

// OpenFileHistoryRepository loads path into memory. A file that does not
// decode is logged and treated as empty; the next append overwrites it.
func OpenFileHistoryRepository(path string, maxItems int, logger *log.Logger) (*FileHistoryRepository, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("history file path is required")
	}
	if maxItems <= 0 {
		maxItems = DefaultHistoryMaxItems
	}

	var entries []domain.HistoryEntry
	if _, err := readJSON(path, &entries); err != nil {
		if !errors.Is(err, errCorrupt) {
			return nil, fmt.Errorf("load history: %w", err)
		}
		logf(logger, "history file unreadable, starting empty path=%s err=%v", path, err)
		entries = nil
	}
	if len(entries) > maxItems {
		entries = entries[:maxItems]
	}
	return &FileHistoryRepository{path: path, maxItems: maxItems, entries: entries}, nil
}

func (r *FileHistoryRepository) Path() string {
	return r.path
}

func (r *FileHistoryRepository) Append(_ context.Context, entry domain.HistoryEntry) error {
	if entry.ID == "" {
		return errors.New("history entry id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	updated := upsertEntry(cloneEntries(r.entries), cloneEntry(entry), r.maxItems)
	if err := r.persist(updated); err != nil {
		return err
	}
	r.entries = updated
	return nil
}

func (r *FileHistoryRepository) List(_ context.Context) ([]domain.HistoryEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return cloneEntries(r.entries), nil
}

func (r *FileHistoryRepository) Get(_ context.Context, id string) (domain.HistoryEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, entry := range r.entries {
		if entry.ID == id {
			return cloneEntry(entry), nil
		}
	}
	return domain.HistoryEntry{}, ErrNotFound
}

func (r *FileHistoryRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	remaining, removed := removeEntry(r.entries, id)
	if !removed {
		return ErrNotFound
	}
	if err := r.persist(remaining); err != nil {
		return err
	}
	r.entries = remaining
	return nil
}

func (r *FileHistoryRepository) Clear(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.persist([]domain.HistoryEntry{}); err != nil {
		return err
	}
	r.entries = nil
	return nil
}

func (r *FileHistoryRepository) persist(entries []domain.HistoryEntry) error {
	if entries == nil {
		entries = []domain.HistoryEntry{}
	}
	if err := writeJSONAtomic(r.path, entries); err != nil {
		return fmt.Errorf("save history: %w", err)
	}
	return nil
}

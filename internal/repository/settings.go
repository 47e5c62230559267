package repository

import (
	"errors"
	"log"
	"strings"
	"sync"

	"github.com/iago/vidai-studio/internal/domain"
)

// SettingsRepository holds the single operator settings record.
// Load never fails on a missing or corrupt file; it returns the zero settings instead.
type SettingsRepository interface {
	Load() (domain.Settings, error)
	Save(settings domain.Settings) error
	// Update applies mutate to the stored record and saves the result as one step.
	Update(mutate func(settings *domain.Settings)) error
}

type FileSettingsRepository struct {
	path   string
	logger *log.Logger
	mu     sync.RWMutex
}

func NewFileSettingsRepository(path string, logger *log.Logger) (*FileSettingsRepository, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("settings file path is required")
	}
	return &FileSettingsRepository{path: path, logger: logger}, nil
}

func (r *FileSettingsRepository) Load() (domain.Settings, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.read()
}

func (r *FileSettingsRepository) Save(settings domain.Settings) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	settings.APIKey = strings.TrimSpace(settings.APIKey)
	return writeJSONAtomic(r.path, settings)
}

func (r *FileSettingsRepository) Update(mutate func(settings *domain.Settings)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	settings, err := r.read()
	if err != nil {
		return err
	}
	mutate(&settings)
	settings.APIKey = strings.TrimSpace(settings.APIKey)
	return writeJSONAtomic(r.path, settings)
}

func (r *FileSettingsRepository) read() (domain.Settings, error) {
	var settings domain.Settings
	if _, err := readJSON(r.path, &settings); err != nil {
		if !errors.Is(err, errCorrupt) {
			return domain.Settings{}, err
		}
		logf(r.logger, "settings file unreadable, using defaults path=%s err=%v", r.path, err)
		return domain.Settings{}, nil
	}
	settings.APIKey = strings.TrimSpace(settings.APIKey)
	return settings, nil
}

// MemorySettingsRepository is used by tests and one-shot CLI runs.
type MemorySettingsRepository struct {
	mu       sync.RWMutex
	settings domain.Settings
}

func NewMemorySettingsRepository(initial domain.Settings) *MemorySettingsRepository {
	return &MemorySettingsRepository{settings: initial}
}

func (r *MemorySettingsRepository) Load() (domain.Settings, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.settings, nil
}

func (r *MemorySettingsRepository) Save(settings domain.Settings) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.settings = settings
	return nil
}

func (r *MemorySettingsRepository) Update(mutate func(settings *domain.Settings)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	mutate(&r.settings)
	return nil
}

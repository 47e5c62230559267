package handlers

import (
	"encoding/json"
	"errors"
	"hash/fnv"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/iago/vidai-studio/internal/domain"
	"github.com/iago/vidai-studio/internal/http/middleware"
	"github.com/iago/vidai-studio/internal/service"
)

var errInvalidPayload = errors.New("invalid payload")

const idempotencyTTL = 24 * time.Hour

type API struct {
	jobsService     *service.JobsService
	settingsService *service.SettingsService
	idempotency     *idempotencyStore
	logger          *log.Logger
}

func NewAPI(jobsService *service.JobsService, settingsService *service.SettingsService, logger *log.Logger) *API {
	return &API{
		jobsService:     jobsService,
		settingsService: settingsService,
		idempotency:     newIdempotencyStore(),
		logger:          logger,
	}
}

type errorPayload struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Field   string `json:"field,omitempty"`
	} `json:"error"`
	RequestID string `json:"request_id"`
}

func writeJSON(w http.ResponseWriter, statusCode int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, r *http.Request, statusCode int, code, message string) {
	payload := errorPayload{RequestID: middleware.GetRequestID(r.Context())}
	payload.Error.Code = code
	payload.Error.Message = message
	writeJSON(w, statusCode, payload)
}

// writeServiceError maps service and domain errors onto the error envelope.
func (api *API) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var validation *domain.ValidationError
	switch {
	case errors.As(err, &validation):
		payload := errorPayload{RequestID: middleware.GetRequestID(r.Context())}
		payload.Error.Code = "invalid_request"
		payload.Error.Message = validation.Error()
		payload.Error.Field = validation.Field
		writeJSON(w, http.StatusBadRequest, payload)
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "not_found", "job not found")
	case errors.Is(err, domain.ErrNoResult):
		writeError(w, r, http.StatusNotFound, "not_found", "job has no result")
	case errors.Is(err, domain.ErrStillRunning):
		writeError(w, r, http.StatusConflict, "still_running", "job is still running")
	case errors.Is(err, service.ErrAlreadyFinished):
		writeError(w, r, http.StatusConflict, "already_finished", "job already finished")
	case errors.Is(err, service.ErrFileGone):
		writeError(w, r, http.StatusGone, "gone", "file was removed from the output directory")
	default:
		if api.logger != nil {
			api.logger.Printf("request failed request_id=%s path=%s err=%v", middleware.GetRequestID(r.Context()), r.URL.Path, err)
		}
		writeError(w, r, http.StatusInternalServerError, "internal_error", "internal error")
	}
}

func decodeJSON(r *http.Request, value any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(value); err != nil {
		return errInvalidPayload
	}
	return nil
}

type idempotencyEntry struct {
	PayloadHash uint64
	JobID       string
	CreatedAt   time.Time
}

type idempotencyStore struct {
	mu      sync.Mutex
	entries map[string]idempotencyEntry
}

func newIdempotencyStore() *idempotencyStore {
	return &idempotencyStore{
		entries: make(map[string]idempotencyEntry),
	}
}

func (s *idempotencyStore) Get(key string) (idempotencyEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[key]
	if ok && time.Since(entry.CreatedAt) > idempotencyTTL {
		delete(s.entries, key)
		return idempotencyEntry{}, false
	}
	return entry, ok
}

func (s *idempotencyStore) Put(key string, payloadHash uint64, jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = idempotencyEntry{
		PayloadHash: payloadHash,
		JobID:       jobID,
		CreatedAt:   time.Now().UTC(),
	}
}

func hashPayload(value any) uint64 {
	payload, _ := json.Marshal(value)
	hasher := fnv.New64a()
	_, _ = hasher.Write(payload)
	return hasher.Sum64()
}

package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/iago/vidai-studio/internal/ai"
	"github.com/iago/vidai-studio/internal/domain"
	"github.com/iago/vidai-studio/internal/media"
	"github.com/iago/vidai-studio/internal/policy"
	"github.com/iago/vidai-studio/internal/progress"
	"github.com/iago/vidai-studio/internal/repository"
	"github.com/iago/vidai-studio/internal/worker"
)

var (
	ErrAlreadyFinished = worker.ErrAlreadyFinished
	ErrFileGone        = errors.New("delivered file no longer exists")
)

type JobsDependencies struct {
	Processor *worker.Processor
	History   repository.HistoryRepository
	Settings  repository.SettingsRepository
	Catalog   *ai.ModelCatalog
	Logger    *log.Logger
	Now       func() time.Time
}

// JobsService validates submissions and answers status, progress and
// result queries for live and historical jobs.
type JobsService struct {
	processor *worker.Processor
	history   repository.HistoryRepository
	settings  repository.SettingsRepository
	catalog   *ai.ModelCatalog
	logger    *log.Logger
	now       func() time.Time
}

type SubmitRequest struct {
	Kind      domain.JobKind
	SourceURL string
	Options   *domain.GenerateOptions
}

func NewJobsService(deps JobsDependencies) *JobsService {
	if deps.Catalog == nil {
		deps.Catalog = ai.NewModelCatalog(ai.ModelCatalogConfig{})
	}
	if deps.History == nil {
		deps.History = repository.NewMemoryHistoryRepository(0)
	}
	if deps.Settings == nil {
		deps.Settings = repository.NewMemorySettingsRepository(domain.Settings{})
	}
	if deps.Now == nil {
		deps.Now = func() time.Time { return time.Now().UTC() }
	}
	return &JobsService{
		processor: deps.Processor,
		history:   deps.History,
		settings:  deps.Settings,
		catalog:   deps.Catalog,
		logger:    deps.Logger,
		now:       deps.Now,
	}
}

// Submit creates a job and starts it. Validation failures never create a job.
func (s *JobsService) Submit(ctx context.Context, request SubmitRequest) (domain.Job, error) {
	if err := ctx.Err(); err != nil {
		return domain.Job{}, err
	}
	if !request.Kind.Valid() {
		return domain.Job{}, &domain.ValidationError{Field: "kind", Message: "must be one of download_video, download_audio, generate_content"}
	}
	sourceURL := strings.TrimSpace(request.SourceURL)
	if !media.ValidSourceURL(sourceURL) {
		return domain.Job{}, &domain.ValidationError{Field: "url", Message: "must be an absolute http or https url"}
	}

	var (
		apiKey  string
		options *domain.GenerateOptions
	)
	if request.Kind == domain.JobKindGenerateContent {
		settings, err := s.settings.Load()
		if err != nil {
			return domain.Job{}, fmt.Errorf("load settings: %w", err)
		}
		if !settings.HasAPIKey() {
			return domain.Job{}, &domain.ValidationError{Field: "api_key", Message: "no API key configured"}
		}
		resolved, err := s.resolveOptions(request.Options, settings)
		if err != nil {
			return domain.Job{}, err
		}
		apiKey = settings.APIKey
		options = &resolved
		s.rememberPreferences(settings, resolved)
	}

	now := s.now()
	job := domain.Job{
		ID:        uuid.NewString(),
		Kind:      request.Kind,
		SourceURL: sourceURL,
		Platform:  media.DetectPlatform(sourceURL),
		Options:   options,
		Stage:     domain.StageQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.processor.Start(job, apiKey); err != nil {
		return domain.Job{}, fmt.Errorf("start job: %w", err)
	}
	s.logf("job submitted kind=%s job_id=%s platform=%s", job.Kind, job.ID, job.Platform)

	if snapshot, ok := s.processor.Snapshot(job.ID); ok {
		return snapshot, nil
	}
	return job, nil
}

func (s *JobsService) resolveOptions(requested *domain.GenerateOptions, settings domain.Settings) (domain.GenerateOptions, error) {
	options := domain.GenerateOptions{}
	if requested != nil {
		options = *requested
	}

	options.Model = firstNonEmpty(options.Model, settings.PreferredModel, s.catalog.Default())
	if !s.catalog.Known(options.Model) {
		return domain.GenerateOptions{}, &domain.ValidationError{Field: "model", Message: fmt.Sprintf("unknown model %q", options.Model)}
	}
	options.Language = firstNonEmpty(options.Language, settings.PreferredLanguage, domain.DefaultLanguage)
	if !domain.ValidLanguage(options.Language) {
		return domain.GenerateOptions{}, &domain.ValidationError{Field: "language", Message: fmt.Sprintf("unsupported language %q", options.Language)}
	}
	options.Style = domain.Style(firstNonEmpty(string(options.Style), string(settings.PreferredStyle), string(domain.StyleSummary)))
	if !options.Style.Valid() {
		return domain.GenerateOptions{}, &domain.ValidationError{Field: "style", Message: fmt.Sprintf("unsupported style %q", options.Style)}
	}

	custom, err := policy.NormalizeInstructions(options.CustomInstructions)
	if err != nil {
		return domain.GenerateOptions{}, &domain.ValidationError{Field: "custom_instructions", Message: err.Error()}
	}
	options.CustomInstructions = custom
	return options, nil
}

// rememberPreferences stores the last choices. The stored credential is re-read
// under the repository lock, so a key saved meanwhile is kept.
func (s *JobsService) rememberPreferences(settings domain.Settings, options domain.GenerateOptions) {
	if settings.PreferredModel == options.Model &&
		settings.PreferredLanguage == options.Language &&
		settings.PreferredStyle == options.Style {
		return
	}
	err := s.settings.Update(func(stored *domain.Settings) {
		stored.PreferredModel = options.Model
		stored.PreferredLanguage = options.Language
		stored.PreferredStyle = options.Style
	})
	if err != nil {
		s.logf("preferences save failed err=%v", err)
	}
}

// Get returns the live snapshot of a job, or its durable projection once it
// has left process memory.
func (s *JobsService) Get(ctx context.Context, jobID string) (domain.Job, error) {
	if snapshot, ok := s.processor.Snapshot(jobID); ok {
		return snapshot, nil
	}
	entry, err := s.historyEntry(ctx, jobID)
	if err != nil {
		return domain.Job{}, err
	}
	return jobFromEntry(entry), nil
}

// Subscribe streams a job's progress. Jobs only known from history yield
// their terminal event once.
func (s *JobsService) Subscribe(ctx context.Context, jobID string) (*progress.Subscription, error) {
	sub, err := s.processor.Broker().Subscribe(jobID)
	if err == nil {
		return sub, nil
	}
	if !errors.Is(err, progress.ErrUnknownJob) {
		return nil, err
	}

	entry, err := s.historyEntry(ctx, jobID)
	if err != nil {
		return nil, err
	}
	event := domain.Event{JobID: entry.ID, Seq: 1, Stage: entry.State, At: s.now()}
	switch {
	case entry.Error != nil:
		event.Message = entry.Error.Message
	case entry.State == domain.StageDone:
		event.Percent = domain.IntPtr(100)
	}
	return progress.Terminal(event), nil
}

func (s *JobsService) Cancel(ctx context.Context, jobID string) error {
	err := s.processor.Cancel(jobID)
	if !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	if _, historyErr := s.historyEntry(ctx, jobID); historyErr != nil {
		return historyErr
	}
	return fmt.Errorf("cancel job %s: %w", jobID, ErrAlreadyFinished)
}

// Result returns the terminal record of a job. It fails with
// domain.ErrStillRunning while the job is in flight.
func (s *JobsService) Result(ctx context.Context, jobID string) (domain.HistoryEntry, error) {
	snapshot, live := s.processor.Snapshot(jobID)
	if live && !snapshot.Stage.IsTerminal() {
		return domain.HistoryEntry{}, domain.ErrStillRunning
	}
	entry, err := s.historyEntry(ctx, jobID)
	if err == nil {
		return entry, nil
	}
	if live && errors.Is(err, domain.ErrNotFound) {
		// History write failed or the entry was deleted; the snapshot is still authoritative.
		return snapshot.Terminal(), nil
	}
	return domain.HistoryEntry{}, err
}

func (s *JobsService) Export(ctx context.Context, jobID string, format ExportFormat) (Export, error) {
	entry, err := s.Result(ctx, jobID)
	if err != nil {
		return Export{}, err
	}
	if entry.Result == nil {
		return Export{}, domain.ErrNoResult
	}
	return RenderExport(entry, format)
}

// File returns the delivered file of a finished download job.
func (s *JobsService) File(ctx context.Context, jobID string) (domain.FileResult, error) {
	entry, err := s.Result(ctx, jobID)
	if err != nil {
		return domain.FileResult{}, err
	}
	if entry.File == nil {
		return domain.FileResult{}, domain.ErrNoResult
	}
	if _, err := os.Stat(entry.File.Path); err != nil {
		if os.IsNotExist(err) {
			return domain.FileResult{}, ErrFileGone
		}
		return domain.FileResult{}, fmt.Errorf("stat delivered file: %w", err)
	}
	return *entry.File, nil
}

func (s *JobsService) History(ctx context.Context) ([]domain.HistoryEntry, error) {
	entries, err := s.history.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	return entries, nil
}

func (s *JobsService) DeleteHistory(ctx context.Context, jobID string) error {
	err := s.history.Delete(ctx, jobID)
	if errors.Is(err, repository.ErrNotFound) {
		return domain.ErrNotFound
	}
	return err
}

func (s *JobsService) ClearHistory(ctx context.Context) error {
	if err := s.history.Clear(ctx); err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	s.logf("history cleared")
	return nil
}

// Active lists jobs still moving through the pipeline.
func (s *JobsService) Active() []domain.Job {
	return s.processor.Active()
}

func (s *JobsService) historyEntry(ctx context.Context, jobID string) (domain.HistoryEntry, error) {
	entry, err := s.history.Get(ctx, jobID)
	if errors.Is(err, repository.ErrNotFound) {
		return domain.HistoryEntry{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.HistoryEntry{}, fmt.Errorf("load history entry: %w", err)
	}
	return entry, nil
}

func jobFromEntry(entry domain.HistoryEntry) domain.Job {
	job := domain.Job{
		ID:        entry.ID,
		Kind:      entry.Kind,
		SourceURL: entry.SourceURL,
		Platform:  entry.Platform,
		Options:   entry.Options,
		Stage:     entry.State,
		Result:    entry.Result,
		File:      entry.File,
		Error:     entry.Error,
		CreatedAt: entry.CreatedAt,
		UpdatedAt: entry.CreatedAt,
	}
	if entry.State == domain.StageDone {
		job.Percent = domain.IntPtr(100)
	}
	if entry.Error != nil {
		job.Message = entry.Error.Message
	}
	return job
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func (s *JobsService) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}

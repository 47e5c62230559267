package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/iago/vidai-studio/internal/ai"
	"github.com/iago/vidai-studio/internal/domain"
	"github.com/iago/vidai-studio/internal/fetch"
	"github.com/iago/vidai-studio/internal/policy"
	"github.com/iago/vidai-studio/internal/progress"
	"github.com/iago/vidai-studio/internal/quality"
	"github.com/iago/vidai-studio/internal/repository"
	"golang.org/x/sync/semaphore"
)

var (
	ErrDuplicateJob    = errors.New("job already started")
	ErrAlreadyFinished = errors.New("job already finished")
)

// Fetcher is the part of fetch.Fetcher the processor drives.
type Fetcher interface {
	Fetch(ctx context.Context, jobID string, kind domain.JobKind, sourceURL string, report fetch.ProgressFunc) (*fetch.Artifact, error)
	Deliver(jobID string, artifact *fetch.Artifact, outputDir string) (domain.FileResult, error)
	Release(jobID string) error
}

// Backend turns an audio artifact into generated text.
type Backend interface {
	Analyze(ctx context.Context, request ai.AnalyzeRequest, report ai.StageFunc) (ai.Generation, error)
}

type Config struct {
	Fetcher         Fetcher
	Backend         Backend
	History         repository.HistoryRepository
	Broker          *progress.Broker
	OutputDir       string
	DownloadWorkers int
	JobTimeout      time.Duration
	RetainFinished  int
	Logger          *log.Logger
	Now             func() time.Time
}

// Processor drives each job through Queued, Downloading, Uploading, Analyzing
// and a terminal stage on its own goroutine.
type Processor struct {
	fetcher        Fetcher
	backend        Backend
	history        repository.HistoryRepository
	broker         *progress.Broker
	inspector      *quality.OutputInspector
	outputDir      string
	pool           *semaphore.Weighted
	lanes          *Lanes
	jobTimeout     time.Duration
	retainFinished int
	logger         *log.Logger
	now            func() time.Time

	mu       sync.Mutex
	runs     map[string]*run
	finished []string
	wg       sync.WaitGroup
}

type run struct {
	mu     sync.Mutex
	job    domain.Job
	apiKey string
	ticket *Ticket
	ctx    context.Context
	cancel context.CancelFunc
}

func NewProcessor(config Config) *Processor {
	if config.DownloadWorkers <= 0 {
		config.DownloadWorkers = 3
	}
	if config.JobTimeout <= 0 {
		config.JobTimeout = time.Hour
	}
	if config.RetainFinished <= 0 {
		config.RetainFinished = 256
	}
	if config.Broker == nil {
		config.Broker = progress.NewBroker(progress.BrokerConfig{Logger: config.Logger})
	}
	if config.History == nil {
		config.History = repository.NewMemoryHistoryRepository(0)
	}
	if strings.TrimSpace(config.OutputDir) == "" {
		config.OutputDir = "downloads"
	}
	if config.Now == nil {
		config.Now = func() time.Time { return time.Now().UTC() }
	}

	return &Processor{
		fetcher:        config.Fetcher,
		backend:        config.Backend,
		history:        config.History,
		broker:         config.Broker,
		inspector:      quality.NewOutputInspector(),
		outputDir:      config.OutputDir,
		pool:           semaphore.NewWeighted(int64(config.DownloadWorkers)),
		lanes:          NewLanes(),
		jobTimeout:     config.JobTimeout,
		retainFinished: config.RetainFinished,
		logger:         config.Logger,
		now:            config.Now,
		runs:           make(map[string]*run),
	}
}

func (p *Processor) Broker() *progress.Broker {
	return p.broker
}

// Start registers the job, takes its place in the backend lane, publishes
// Queued, and runs it in the background. Lane order equals Start order.
func (p *Processor) Start(job domain.Job, apiKey string) error {
	ctx, cancel := context.WithCancel(context.Background())
	r := &run{job: job, apiKey: apiKey, ctx: ctx, cancel: cancel}
	r.job.Stage = domain.StageQueued

	p.mu.Lock()
	if _, exists := p.runs[job.ID]; exists {
		p.mu.Unlock()
		cancel()
		return ErrDuplicateJob
	}
	p.runs[job.ID] = r
	if job.Kind == domain.JobKindGenerateContent {
		r.ticket = p.lanes.Reserve(CredentialKey(apiKey))
	}
	p.wg.Add(1)
	p.mu.Unlock()

	p.broker.Open(job.ID)
	message := "waiting for a download slot"
	if r.ticket != nil {
		message = "waiting for the AI backend slot"
	}
	p.advance(r, domain.StageQueued, nil, message)

	p.logf("job queued kind=%s job_id=%s platform=%s url=%s", job.Kind, job.ID, job.Platform, policy.RedactURL(job.SourceURL))
	go p.process(r)
	return nil
}

// Cancel interrupts a non-terminal job. The job reaches Failed with kind Cancelled.
func (p *Processor) Cancel(jobID string) error {
	p.mu.Lock()
	r, ok := p.runs[jobID]
	p.mu.Unlock()
	if !ok {
		return domain.ErrNotFound
	}

	r.mu.Lock()
	terminal := r.job.Stage.IsTerminal()
	r.mu.Unlock()
	if terminal {
		return fmt.Errorf("cancel job %s: %w", jobID, ErrAlreadyFinished)
	}
	r.cancel()
	return nil
}

// Snapshot returns a copy of a job known to this process.
func (p *Processor) Snapshot(jobID string) (domain.Job, bool) {
	p.mu.Lock()
	r, ok := p.runs[jobID]
	p.mu.Unlock()
	if !ok {
		return domain.Job{}, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return cloneJob(r.job), true
}

// Active lists the jobs that have not reached a terminal stage.
func (p *Processor) Active() []domain.Job {
	p.mu.Lock()
	runs := make([]*run, 0, len(p.runs))
	for _, r := range p.runs {
		runs = append(runs, r)
	}
	p.mu.Unlock()

	jobs := make([]domain.Job, 0, len(runs))
	for _, r := range runs {
		r.mu.Lock()
		if !r.job.Stage.IsTerminal() {
			jobs = append(jobs, cloneJob(r.job))
		}
		r.mu.Unlock()
	}
	return jobs
}

// Shutdown cancels every running job and waits for their cleanup.
func (p *Processor) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	for _, r := range p.runs {
		r.cancel()
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until every started job is terminal.
func (p *Processor) Wait() {
	p.wg.Wait()
}

func (p *Processor) process(r *run) {
	defer p.wg.Done()
	defer r.cancel()

	jobID := r.job.ID
	if r.ticket != nil {
		defer r.ticket.Release()
		if err := r.ticket.Wait(r.ctx); err != nil {
			p.fail(r, err)
			return
		}
	}

	if err := p.pool.Acquire(r.ctx, 1); err != nil {
		p.fail(r, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.ctx, p.jobTimeout)
	defer cancel()

	started := p.now()
	p.advance(r, domain.StageDownloading, domain.IntPtr(0), "downloading media")
	artifact, err := p.fetcher.Fetch(ctx, jobID, r.job.Kind, r.job.SourceURL, func(percent *int, message string) {
		p.advance(r, domain.StageDownloading, percent, message)
	})
	p.pool.Release(1)
	if err != nil {
		p.fail(r, err)
		return
	}
	p.logf("job fetched kind=%s job_id=%s bytes=%d duration_ms=%d", r.job.Kind, jobID, artifact.SizeBytes, p.now().Sub(started).Milliseconds())

	if r.job.Kind.IsDownload() {
		file, err := p.fetcher.Deliver(jobID, artifact, p.outputDir)
		if err != nil {
			p.fail(r, err)
			return
		}
		p.complete(r, nil, &file)
		return
	}

	options := domain.GenerateOptions{}
	if r.job.Options != nil {
		options = *r.job.Options
	}
	generation, err := p.backend.Analyze(ctx, ai.AnalyzeRequest{
		APIKey:   r.apiKey,
		FilePath: artifact.Path,
		MIMEType: artifact.MIMEType,
		Title:    artifact.Title,
		Options:  options,
	}, func(stage domain.Stage, message string) {
		p.advance(r, stage, nil, message)
	})
	if err != nil {
		p.fail(r, err)
		return
	}
	report := p.inspector.Inspect(generation.Text)
	p.logf("generation received job_id=%s model=%s words=%d headings=%d fenced=%t", r.job.ID, generation.Model, report.WordCount, report.Headings, report.Fenced)

	language := options.Language
	if language == "" {
		language = domain.DefaultLanguage
	}
	style := options.Style
	if style == "" {
		style = domain.StyleSummary
	}
	p.complete(r, &domain.ResultPayload{
		Text:         generation.Text,
		Model:        generation.Model,
		FallbackUsed: generation.FallbackUsed,
		Language:     language,
		Style:        style,
		SourceTitle:  artifact.Title,
		WordCount:    report.WordCount,
		GeneratedAt:  p.now(),
	}, nil)
}

func (p *Processor) advance(r *run, stage domain.Stage, percent *int, message string) {
	r.mu.Lock()
	current := r.job.Stage
	if current != stage && !current.CanAdvanceTo(stage) {
		r.mu.Unlock()
		p.logf("stage regression ignored job_id=%s from=%s to=%s", r.job.ID, current, stage)
		return
	}
	if current.IsTerminal() {
		r.mu.Unlock()
		return
	}
	r.job.Stage = stage
	r.job.Percent = percent
	if message != "" || stage != current {
		r.job.Message = message
	}
	r.job.UpdatedAt = p.now()
	r.mu.Unlock()

	if _, err := p.broker.Publish(r.job.ID, stage, percent, message); err != nil {
		p.logf("progress publish failed job_id=%s stage=%s err=%v", r.job.ID, stage, err)
	}
}

func (p *Processor) complete(r *run, result *domain.ResultPayload, file *domain.FileResult) {
	message := "content generated"
	if file != nil {
		message = "saved " + file.FileName
	}
	p.finish(r, domain.StageDone, domain.IntPtr(100), message, func(job *domain.Job) {
		job.Result = result
		job.File = file
	})
	p.logf("job done kind=%s job_id=%s", r.job.Kind, r.job.ID)
}

func (p *Processor) fail(r *run, err error) {
	r.mu.Lock()
	stage := r.job.Stage
	r.mu.Unlock()

	info := domain.Classify(err, stage)
	info.Message = policy.RedactSecrets(info.Message)
	p.finish(r, domain.StageFailed, nil, info.Message, func(job *domain.Job) {
		job.Error = &info
	})
	p.logf("job failed kind=%s job_id=%s stage=%s error_kind=%s err=%s", r.job.Kind, r.job.ID, stage, info.Kind, policy.RedactSecrets(fmt.Sprint(err)))
}

// finish releases temp files, records history, and only then publishes the
// terminal event, so observers of Done/Failed see a settled job.
func (p *Processor) finish(r *run, stage domain.Stage, percent *int, message string, apply func(job *domain.Job)) {
	jobID := r.job.ID
	if p.fetcher != nil {
		if err := p.fetcher.Release(jobID); err != nil {
			p.logf("temp cleanup failed job_id=%s err=%v", jobID, err)
		}
	}

	r.mu.Lock()
	apply(&r.job)
	r.job.Stage = stage
	r.job.Percent = percent
	r.job.Message = message
	r.job.UpdatedAt = p.now()
	entry := r.job.Terminal()
	r.mu.Unlock()

	if err := p.history.Append(context.Background(), entry); err != nil {
		p.logf("history append failed job_id=%s err=%v", jobID, err)
	}
	if _, err := p.broker.Publish(jobID, stage, percent, message); err != nil {
		p.logf("progress publish failed job_id=%s stage=%s err=%v", jobID, stage, err)
	}
	p.retire(jobID)
}

// retire keeps a bounded number of finished jobs in memory; older ones are
// served from history.
func (p *Processor) retire(jobID string) {
	p.mu.Lock()
	p.finished = append(p.finished, jobID)
	var evicted []string
	for len(p.finished) > p.retainFinished {
		evicted = append(evicted, p.finished[0])
		delete(p.runs, p.finished[0])
		p.finished = p.finished[1:]
	}
	p.mu.Unlock()

	for _, id := range evicted {
		p.broker.Forget(id)
	}
}

func cloneJob(job domain.Job) domain.Job {
	clone := job
	if job.Percent != nil {
		clone.Percent = domain.IntPtr(*job.Percent)
	}
	if job.Options != nil {
		options := *job.Options
		clone.Options = &options
	}
	if job.Result != nil {
		result := *job.Result
		clone.Result = &result
	}
	if job.File != nil {
		file := *job.File
		clone.File = &file
	}
	if job.Error != nil {
		info := *job.Error
		clone.Error = &info
	}
	return clone
}

func (p *Processor) logf(format string, args ...any) {
	if p.logger != nil {
		p.logger.Printf(format, args...)
	}
}

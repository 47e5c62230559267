package ai

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/iago/vidai-studio/internal/domain"
	"github.com/iago/vidai-studio/internal/retry"
)

const DefaultMaxUploadBytes = 20 * 1024 * 1024

// StageFunc receives the backend stage a generation has reached.
type StageFunc func(stage domain.Stage, message string)

type AnalyzeRequest struct {
	APIKey   string
	FilePath string
	MIMEType string
	Title    string
	Options  domain.GenerateOptions
}

type Generation struct {
	Text         string
	Model        string
	FallbackUsed bool
	Usage        TokenUsage
}

type AnalyzerConfig struct {
	Client         *GeminiClient
	Catalog        *ModelCatalog
	MaxUploadBytes int64
	PollPolicy     retry.Policy
	CleanupTimeout time.Duration
	Logger         *log.Logger
}

// Analyzer runs the upload, wait, generate, cleanup sequence for one media artifact.
type Analyzer struct {
	client         *GeminiClient
	catalog        *ModelCatalog
	maxUploadBytes int64
	pollPolicy     retry.Policy
	cleanupTimeout time.Duration
	logger         *log.Logger
}

func NewAnalyzer(config AnalyzerConfig) *Analyzer {
	if config.Client == nil {
		config.Client = NewGeminiClient(GeminiClientConfig{})
	}
	if config.Catalog == nil {
		config.Catalog = NewModelCatalog(ModelCatalogConfig{})
	}
	if config.MaxUploadBytes <= 0 {
		config.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if config.PollPolicy.MaxWait <= 0 {
		config.PollPolicy.MaxWait = 5 * time.Minute
	}
	if config.CleanupTimeout <= 0 {
		config.CleanupTimeout = 15 * time.Second
	}
	return &Analyzer{
		client:         config.Client,
		catalog:        config.Catalog,
		maxUploadBytes: config.MaxUploadBytes,
		pollPolicy:     config.PollPolicy,
		cleanupTimeout: config.CleanupTimeout,
		logger:         config.Logger,
	}
}

func (a *Analyzer) Catalog() *ModelCatalog {
	return a.catalog
}

// Analyze uploads the artifact, waits for it to become usable, and generates text.
// The remote copy is deleted on every exit path once it exists.
func (a *Analyzer) Analyze(ctx context.Context, request AnalyzeRequest, report StageFunc) (Generation, error) {
	if report == nil {
		report = func(domain.Stage, string) {}
	}
	profile := a.catalog.Select(request.Options.Model)

	generation, err := a.analyze(ctx, request, profile, report)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Generation{}, ctxErr
		}
		return Generation{}, classify(err, profile.ID)
	}
	return generation, nil
}

func (a *Analyzer) analyze(ctx context.Context, request AnalyzeRequest, profile ModelProfile, report StageFunc) (Generation, error) {
	if strings.TrimSpace(request.APIKey) == "" {
		return Generation{}, ErrMissingAPIKey
	}

	info, err := os.Stat(request.FilePath)
	if err != nil {
		return Generation{}, fmt.Errorf("stat artifact: %w", err)
	}
	if info.Size() > a.maxUploadBytes {
		return Generation{}, domain.NewJobError(domain.ErrorKindBackendUnsupportedMedia,
			fmt.Sprintf("Audio is %.1f MB; the limit is %d MB. Try a shorter video.",
				float64(info.Size())/(1024*1024), a.maxUploadBytes/(1024*1024)), nil)
	}

	report(domain.StageUploading, "uploading audio to the AI service")
	displayName := providerFirstNonEmpty(request.Title, filepath.Base(request.FilePath))
	remote, err := a.client.UploadFile(ctx, request.APIKey, request.FilePath, request.MIMEType, displayName)
	if err != nil {
		return Generation{}, err
	}
	defer a.deleteRemote(request.APIKey, remote.Name)

	report(domain.StageUploading, "waiting for the AI service to process the audio")
	remote, err = a.awaitActive(ctx, request.APIKey, remote)
	if err != nil {
		return Generation{}, err
	}

	prompt, err := BuildPrompt(request.Options, request.Title)
	if err != nil {
		return Generation{}, err
	}

	report(domain.StageAnalyzing, "generating content with "+profile.ID)
	result, err := a.generate(ctx, request.APIKey, profile, prompt, remote)
	fallbackUsed := false
	var apiErr *APIError
	if err != nil && errors.As(err, &apiErr) && apiErr.modelNotFound() && profile.FallbackModel != "" {
		a.logf("model unavailable model=%s fallback=%s", profile.ID, profile.FallbackModel)
		report(domain.StageAnalyzing, "model unavailable, trying fallback "+profile.FallbackModel)
		profile = a.catalog.Select(profile.FallbackModel)
		result, err = a.generate(ctx, request.APIKey, profile, prompt, remote)
		fallbackUsed = true
	}
	if err != nil {
		if errors.Is(err, ErrBlocked) {
			return Generation{}, domain.NewJobError(domain.ErrorKindBackendUnsupportedMedia,
				"The AI service returned no content for this media.", err)
		}
		return Generation{}, classify(err, profile.ID)
	}

	return Generation{
		Text:         result.Text,
		Model:        profile.ID,
		FallbackUsed: fallbackUsed,
		Usage:        result.Usage,
	}, nil
}

func (a *Analyzer) generate(ctx context.Context, apiKey string, profile ModelProfile, prompt string, remote RemoteFile) (GenerateResult, error) {
	return a.client.GenerateContent(ctx, apiKey, GenerateRequest{
		Model:           profile.ID,
		Prompt:          prompt,
		File:            remote,
		Temperature:     profile.Temperature,
		MaxOutputTokens: profile.MaxOutputTokens,
	})
}

func (a *Analyzer) awaitActive(ctx context.Context, apiKey string, remote RemoteFile) (RemoteFile, error) {
	current := remote
	refresh := false
	err := retry.Poll(ctx, a.pollPolicy, func(ctx context.Context) (bool, error) {
		if refresh {
			file, err := a.client.GetFile(ctx, apiKey, current.Name)
			if err != nil {
				return false, err
			}
			current = file
		}
		refresh = true

		switch current.State {
		case FileStateActive:
			return true, nil
		case FileStateFailed:
			message := "The AI service failed to process the audio file."
			if current.Error != nil && current.Error.Message != "" {
				message = current.Error.Message
			}
			return false, domain.NewJobError(domain.ErrorKindBackendUnsupportedMedia, message, nil)
		default:
			return false, nil
		}
	})
	if errors.Is(err, retry.ErrMaxWait) {
		return current, domain.NewJobError(domain.ErrorKindBackendTimeout,
			fmt.Sprintf("The AI service did not finish processing the audio within %s.", a.pollPolicy.MaxWait), err)
	}
	return current, err
}

func (a *Analyzer) deleteRemote(apiKey, name string) {
	if name == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), a.cleanupTimeout)
	defer cancel()
	if err := a.client.DeleteFile(ctx, apiKey, name); err != nil {
		a.logf("remote file cleanup failed name=%s err=%v", name, err)
	}
}

func (a *Analyzer) logf(format string, args ...any) {
	if a.logger != nil {
		a.logger.Printf(format, args...)
	}
}

package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/iago/vidai-studio/internal/domain"
	"github.com/iago/vidai-studio/internal/media"
	"github.com/iago/vidai-studio/internal/retry"
)

const DefaultDownloadTimeout = 30 * time.Minute

// Artifact is a media file owned by one job inside its temp directory.
type Artifact struct {
	Path            string
	MIMEType        string
	Title           string
	DurationSeconds float64
	ContainerFormat string
	SizeBytes       int64
}

type Config struct {
	Resolver        media.Resolver
	Downloader      *HTTPDownloader
	Transcoder      Transcoder
	TempDir         string
	DownloadTimeout time.Duration
	MaxRetries      int
	RetryPolicy     retry.Policy
	Logger          *log.Logger
}

// Fetcher pulls a source into a per-job temp directory, transcoding when the job needs audio.
type Fetcher struct {
	resolver        media.Resolver
	downloader      *HTTPDownloader
	transcoder      Transcoder
	tempDir         string
	downloadTimeout time.Duration
	policy          retry.Policy
	logger          *log.Logger
}

func NewFetcher(config Config) *Fetcher {
	if config.Downloader == nil {
		config.Downloader = NewHTTPDownloader(nil)
	}
	if config.Transcoder == nil {
		config.Transcoder = NewFFmpegTranscoder(FFmpegConfig{})
	}
	if strings.TrimSpace(config.TempDir) == "" {
		config.TempDir = filepath.Join(os.TempDir(), "vidai")
	}
	if config.DownloadTimeout <= 0 {
		config.DownloadTimeout = DefaultDownloadTimeout
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	policy := config.RetryPolicy
	if policy.Initial <= 0 {
		policy.Initial = time.Second
	}
	policy.MaxAttempts = config.MaxRetries + 1

	return &Fetcher{
		resolver:        config.Resolver,
		downloader:      config.Downloader,
		transcoder:      config.Transcoder,
		tempDir:         config.TempDir,
		downloadTimeout: config.DownloadTimeout,
		policy:          policy,
		logger:          config.Logger,
	}
}

// JobDir is the temp directory partition owned by a job.
func (f *Fetcher) JobDir(jobID string) string {
	return filepath.Join(f.tempDir, jobID)
}

// Release removes everything the job left in its temp partition.
func (f *Fetcher) Release(jobID string) error {
	if strings.TrimSpace(jobID) == "" {
		return errors.New("job id is required")
	}
	if err := os.RemoveAll(f.JobDir(jobID)); err != nil {
		return fmt.Errorf("remove temp dir: %w", err)
	}
	return nil
}

func (f *Fetcher) Fetch(ctx context.Context, jobID string, kind domain.JobKind, sourceURL string, report ProgressFunc) (*Artifact, error) {
	if report == nil {
		report = func(*int, string) {}
	}
	if f.resolver == nil {
		return nil, domain.NewJobError(domain.ErrorKindResolution, "no media resolver configured", nil)
	}

	dir := f.JobDir(jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, domain.NewJobError(domain.ErrorKindFetchDisk, "could not create temp directory", err)
	}

	format := media.FormatVideo
	if kind != domain.JobKindDownloadVideo {
		format = media.FormatAudio
	}

	report(nil, "resolving media")
	stream, err := f.resolver.Resolve(ctx, sourceURL, format)
	if err != nil {
		return nil, classifyFetchError(ctx, err)
	}

	container := strings.TrimPrefix(strings.ToLower(stream.ContainerFormat), ".")
	if container == "" {
		container = "mp4"
	}
	sourcePath := filepath.Join(dir, "source."+container)

	var size int64
	err = retry.Do(ctx, f.policy, isTransientFetch, func(ctx context.Context, attempt int) error {
		if attempt > 0 {
			f.logf("retrying download job_id=%s attempt=%d", jobID, attempt+1)
			report(nil, fmt.Sprintf("retrying download (attempt %d)", attempt+1))
		}
		downloadCtx, cancel := context.WithTimeout(ctx, f.downloadTimeout)
		defer cancel()
		written, downloadErr := f.downloader.Download(downloadCtx, stream, sourcePath, report)
		if downloadErr != nil && downloadCtx.Err() != nil && ctx.Err() == nil {
			return fmt.Errorf("download timed out after %s: %w", f.downloadTimeout, context.DeadlineExceeded)
		}
		size = written
		return downloadErr
	})
	if err != nil {
		if cachingResolver, ok := f.resolver.(*media.CachingResolver); ok {
			cachingResolver.Forget(sourceURL, format)
		}
		return nil, classifyFetchError(ctx, err)
	}

	artifact := &Artifact{
		Path:            sourcePath,
		MIMEType:        mimeTypeFor(container),
		Title:           stream.Title,
		DurationSeconds: stream.DurationSeconds,
		ContainerFormat: container,
		SizeBytes:       size,
	}

	switch kind {
	case domain.JobKindDownloadAudio:
		if err := f.toMP3(ctx, artifact, DownloadAudioBitrate, report); err != nil {
			return nil, err
		}
	case domain.JobKindGenerateContent:
		if container != "mp3" {
			if err := f.toMP3(ctx, artifact, AnalysisAudioBitrate, report); err != nil {
				return nil, err
			}
		}
	}

	report(domain.IntPtr(100), "download complete")
	return artifact, nil
}

func (f *Fetcher) toMP3(ctx context.Context, artifact *Artifact, bitrate string, report ProgressFunc) error {
	report(nil, "converting audio to mp3")
	outputPath := filepath.Join(filepath.Dir(artifact.Path), "audio.mp3")
	if err := f.transcoder.ToMP3(ctx, artifact.Path, outputPath, bitrate); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("transcode timed out: %w", err)
		}
		return domain.NewJobError(domain.ErrorKindFetchUnsupported, "could not convert media to mp3", err)
	}
	info, err := os.Stat(outputPath)
	if err != nil {
		return domain.NewJobError(domain.ErrorKindFetchUnsupported, "transcoder produced no output", err)
	}
	_ = os.Remove(artifact.Path)

	artifact.Path = outputPath
	artifact.ContainerFormat = "mp3"
	artifact.MIMEType = "audio/mpeg"
	artifact.SizeBytes = info.Size()
	return nil
}

// Deliver moves a finished artifact out of the temp area into outputDir.
func (f *Fetcher) Deliver(jobID string, artifact *Artifact, outputDir string) (domain.FileResult, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return domain.FileResult{}, domain.NewJobError(domain.ErrorKindFetchDisk, "could not create output directory", err)
	}

	shortID := jobID
	if len(shortID) > 8 {
		shortID = shortID[:8]
	}
	fileName := fmt.Sprintf("%s-%s.%s", media.SafeFileName(artifact.Title), shortID, artifact.ContainerFormat)
	target := filepath.Join(outputDir, fileName)

	if err := moveFile(artifact.Path, target); err != nil {
		return domain.FileResult{}, domain.NewJobError(domain.ErrorKindFetchDisk, "could not move file to output directory", err)
	}
	info, err := os.Stat(target)
	if err != nil {
		return domain.FileResult{}, domain.NewJobError(domain.ErrorKindFetchDisk, "delivered file is missing", err)
	}
	absolute, err := filepath.Abs(target)
	if err != nil {
		absolute = target
	}

	return domain.FileResult{
		Path:        absolute,
		FileName:    fileName,
		SizeBytes:   info.Size(),
		SourceTitle: artifact.Title,
	}, nil
}

func moveFile(source, target string) error {
	if err := os.Rename(source, target); err == nil {
		return nil
	}

	// Rename fails across filesystems; fall back to copy + remove.
	in, err := os.Open(source)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(target)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		_ = os.Remove(target)
		return err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(target)
		return err
	}
	return os.Remove(source)
}

func isTransientFetch(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var status *statusError
	if errors.As(err, &status) {
		return status.transient()
	}
	var readErr *readError
	return errors.As(err, &readErr)
}

func classifyFetchError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var resolution *media.ResolutionError
	var writeErr *writeError
	var status *statusError
	switch {
	case errors.As(err, &resolution):
		return domain.NewJobError(domain.ErrorKindResolution, resolution.Reason, err)
	case errors.As(err, &writeErr):
		return domain.NewJobError(domain.ErrorKindFetchDisk, "could not write media to disk", err)
	case errors.As(err, &status):
		return domain.NewJobError(domain.ErrorKindFetchNetwork, fmt.Sprintf("media host answered %d", status.StatusCode), err)
	default:
		return domain.NewJobError(domain.ErrorKindFetchNetwork, "download failed", err)
	}
}

func mimeTypeFor(container string) string {
	switch container {
	case "mp3":
		return "audio/mpeg"
	case "m4a":
		return "audio/mp4"
	case "wav":
		return "audio/wav"
	case "ogg":
		return "audio/ogg"
	case "webm":
		return "video/webm"
	case "mov":
		return "video/quicktime"
	default:
		return "video/mp4"
	}
}

func (f *Fetcher) logf(format string, args ...any) {
	if f.logger != nil {
		f.logger.Printf(format, args...)
	}
}

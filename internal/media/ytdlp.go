package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const (
	DefaultYtDlpBinary    = "yt-dlp"
	DefaultResolveTimeout = 2 * time.Minute

	// Single-file selectors so the resolved url carries both tracks.
	videoFormatSelector = "b[ext=mp4]/b"
	audioFormatSelector = "ba[ext=m4a]/ba/b"
)

// CommandRunner executes a binary and returns its captured output.
type CommandRunner func(ctx context.Context, name string, args ...string) (stdout []byte, stderr []byte, err error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

type YtDlpConfig struct {
	BinaryPath string
	Timeout    time.Duration
	Runner     CommandRunner
}

// YtDlpResolver asks the yt-dlp binary for a single-file rendition.
type YtDlpResolver struct {
	binaryPath string
	timeout    time.Duration
	run        CommandRunner
}

func NewYtDlpResolver(config YtDlpConfig) *YtDlpResolver {
	if strings.TrimSpace(config.BinaryPath) == "" {
		config.BinaryPath = DefaultYtDlpBinary
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultResolveTimeout
	}
	if config.Runner == nil {
		config.Runner = execRunner
	}
	return &YtDlpResolver{
		binaryPath: config.BinaryPath,
		timeout:    config.Timeout,
		run:        config.Runner,
	}
}

type ytDlpInfo struct {
	Title       string            `json:"title"`
	Duration    float64           `json:"duration"`
	Ext         string            `json:"ext"`
	URL         string            `json:"url"`
	HTTPHeaders map[string]string `json:"http_headers"`
}

func (r *YtDlpResolver) Resolve(ctx context.Context, sourceURL string, format Format) (Stream, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	stdout, stderr, err := r.run(ctx, r.binaryPath, r.Args(sourceURL, format)...)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Stream{}, ctxErr
		}
		return Stream{}, classifyYtDlpFailure(stderr, err)
	}

	var info ytDlpInfo
	if err := json.Unmarshal(firstJSONLine(stdout), &info); err != nil {
		return Stream{}, &ResolutionError{Reason: "unreadable yt-dlp output", Err: err}
	}
	if strings.TrimSpace(info.URL) == "" {
		return Stream{}, &ResolutionError{Reason: "no downloadable stream"}
	}

	return Stream{
		DirectURL:       info.URL,
		Headers:         info.HTTPHeaders,
		Title:           firstNonEmpty(info.Title, "Untitled"),
		DurationSeconds: info.Duration,
		ContainerFormat: info.Ext,
	}, nil
}

// Args builds the yt-dlp argument list for a resolution.
func (r *YtDlpResolver) Args(sourceURL string, format Format) []string {
	selector := videoFormatSelector
	if format == FormatAudio {
		selector = audioFormatSelector
	}
	return []string{
		"--dump-json",
		"--no-download",
		"--no-playlist",
		"--no-warnings",
		"-f", selector,
		sourceURL,
	}
}

func firstJSONLine(output []byte) []byte {
	trimmed := bytes.TrimSpace(output)
	if index := bytes.IndexByte(trimmed, '\n'); index >= 0 {
		return trimmed[:index]
	}
	return trimmed
}

func classifyYtDlpFailure(stderr []byte, err error) error {
	message := strings.ToLower(string(stderr))
	reason := "source unavailable"
	switch {
	case strings.Contains(message, "unsupported url"):
		return &ResolutionError{Reason: "unsupported url", Err: errors.Join(ErrUnsupportedSource, err)}
	case strings.Contains(message, "private"):
		reason = "video is private"
	case strings.Contains(message, "removed") || strings.Contains(message, "unavailable") || strings.Contains(message, "does not exist"):
		reason = "video was removed or is unavailable"
	case strings.Contains(message, "sign in") || strings.Contains(message, "login") || strings.Contains(message, "403") || strings.Contains(message, "429"):
		reason = "platform blocked automated access"
	case errors.Is(err, exec.ErrNotFound):
		reason = "yt-dlp binary not found"
	}
	detail := strings.TrimSpace(string(stderr))
	if len(detail) > 300 {
		detail = detail[:300]
	}
	if detail == "" {
		return &ResolutionError{Reason: reason, Err: err}
	}
	return &ResolutionError{Reason: reason, Err: fmt.Errorf("%w: %s", err, detail)}
}

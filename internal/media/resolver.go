package media

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
)

// Format selects which rendition of a source the resolver should describe.
type Format string

const (
	FormatVideo Format = "video"
	FormatAudio Format = "audio"
)

// Stream describes a downloadable rendition of a source URL.
type Stream struct {
	DirectURL       string            `json:"direct_url"`
	Headers         map[string]string `json:"headers,omitempty"`
	Title           string            `json:"title"`
	DurationSeconds float64           `json:"duration_seconds"`
	ContainerFormat string            `json:"container_format"`
}

// Resolver turns a page URL into a Stream. Failures are *ResolutionError.
type Resolver interface {
	Resolve(ctx context.Context, sourceURL string, format Format) (Stream, error)
}

// ResolutionError means the source cannot be resolved; never retried within a job.
type ResolutionError struct {
	Reason string
	Err    error
}

func (e *ResolutionError) Error() string {
	if e.Err == nil {
		return "resolve media: " + e.Reason
	}
	return fmt.Sprintf("resolve media: %s: %v", e.Reason, e.Err)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

var ErrUnsupportedSource = errors.New("unsupported source")

var directExtensions = map[string]string{
	".mp4":  "mp4",
	".m4a":  "m4a",
	".mp3":  "mp3",
	".webm": "webm",
	".mov":  "mov",
	".wav":  "wav",
	".ogg":  "ogg",
}

// DirectResolver handles URLs that already point at a media file.
type DirectResolver struct{}

func (DirectResolver) Resolve(_ context.Context, sourceURL string, _ Format) (Stream, error) {
	parsed, err := url.Parse(sourceURL)
	if err != nil {
		return Stream{}, &ResolutionError{Reason: "invalid url", Err: err}
	}
	container, ok := directExtensions[strings.ToLower(path.Ext(parsed.Path))]
	if !ok {
		return Stream{}, &ResolutionError{Reason: "not a direct media url", Err: ErrUnsupportedSource}
	}
	title := strings.TrimSuffix(path.Base(parsed.Path), path.Ext(parsed.Path))
	return Stream{
		DirectURL:       sourceURL,
		Title:           firstNonEmpty(title, "download"),
		ContainerFormat: container,
	}, nil
}

// Chain tries each resolver in order and returns the first success.
// Only ErrUnsupportedSource moves on to the next resolver.
type Chain []Resolver

func (c Chain) Resolve(ctx context.Context, sourceURL string, format Format) (Stream, error) {
	var lastErr error
	for _, resolver := range c {
		stream, err := resolver.Resolve(ctx, sourceURL, format)
		if err == nil {
			return stream, nil
		}
		lastErr = err
		if !errors.Is(err, ErrUnsupportedSource) {
			return Stream{}, err
		}
	}
	if lastErr == nil {
		lastErr = &ResolutionError{Reason: "no resolver configured", Err: ErrUnsupportedSource}
	}
	return Stream{}, lastErr
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

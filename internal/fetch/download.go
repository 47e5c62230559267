package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/iago/vidai-studio/internal/media"
)

const (
	copyBufferSize         = 256 * 1024
	indeterminateStepBytes = 4 * 1024 * 1024
	percentStep            = 5
)

// ProgressFunc receives coarse download progress. percent is nil when the size is unknown.
type ProgressFunc func(percent *int, message string)

type readError struct{ err error }

func (e *readError) Error() string { return "read stream: " + e.err.Error() }
func (e *readError) Unwrap() error { return e.err }

type writeError struct{ err error }

func (e *writeError) Error() string { return "write artifact: " + e.err.Error() }
func (e *writeError) Unwrap() error { return e.err }

type statusError struct {
	StatusCode int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status code: %d", e.StatusCode)
}

func (e *statusError) transient() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// HTTPDownloader streams a resolved media url to disk.
type HTTPDownloader struct {
	client *http.Client
}

func NewHTTPDownloader(client *http.Client) *HTTPDownloader {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPDownloader{client: client}
}

// Download writes stream to destPath, truncating any previous partial attempt.
func (d *HTTPDownloader) Download(ctx context.Context, stream media.Stream, destPath string, report ProgressFunc) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, stream.DirectURL, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	for key, value := range stream.Headers {
		req.Header.Set(key, value)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, &readError{err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, &statusError{StatusCode: resp.StatusCode}
	}

	file, err := os.Create(destPath)
	if err != nil {
		return 0, &writeError{err: err}
	}
	defer file.Close()

	tracker := &progressTracker{total: resp.ContentLength, report: report, lastPercent: -1}
	written, err := copyWithProgress(file, resp.Body, tracker)
	if err != nil {
		return written, err
	}
	if err := file.Sync(); err != nil {
		return written, &writeError{err: err}
	}
	return written, nil
}

func copyWithProgress(dst io.Writer, src io.Reader, tracker *progressTracker) (int64, error) {
	buffer := make([]byte, copyBufferSize)
	var written int64
	for {
		n, readErr := src.Read(buffer)
		if n > 0 {
			if _, err := dst.Write(buffer[:n]); err != nil {
				return written, &writeError{err: err}
			}
			written += int64(n)
			tracker.advance(written)
		}
		if errors.Is(readErr, io.EOF) {
			return written, nil
		}
		if readErr != nil {
			return written, &readError{err: readErr}
		}
	}
}

type progressTracker struct {
	total       int64
	report      ProgressFunc
	lastPercent int
	lastBytes   int64
}

func (p *progressTracker) advance(written int64) {
	if p.report == nil {
		return
	}
	if p.total > 0 {
		percent := int(written * 100 / p.total)
		if percent > 100 {
			percent = 100
		}
		if percent/percentStep == p.lastPercent/percentStep && p.lastPercent >= 0 {
			return
		}
		p.lastPercent = percent
		p.report(&percent, "")
		return
	}
	if written-p.lastBytes < indeterminateStepBytes {
		return
	}
	p.lastBytes = written
	p.report(nil, fmt.Sprintf("%.1f MB downloaded", float64(written)/(1024*1024)))
}

package fetch

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/iago/vidai-studio/internal/domain"
	"github.com/iago/vidai-studio/internal/media"
	"github.com/iago/vidai-studio/internal/retry"
)

type staticResolver struct {
	stream media.Stream
	err    error
}

func (r staticResolver) Resolve(context.Context, string, media.Format) (media.Stream, error) {
	return r.stream, r.err
}

type fakeTranscoder struct {
	calls   int32
	bitrate string
	err     error
}

func (t *fakeTranscoder) ToMP3(_ context.Context, inputPath, outputPath, bitrate string) error {
	atomic.AddInt32(&t.calls, 1)
	t.bitrate = bitrate
	if t.err != nil {
		return t.err
	}
	data, err := os.ReadFile(inputPath)
	if err != nil {
		return err
	}
	return os.WriteFile(outputPath, append([]byte("ID3"), data...), 0o644)
}

func newMediaServer(t *testing.T, failures int32) (*httptest.Server, *int32) {
	t.Helper()
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if atomic.AddInt32(&calls, 1) <= failures {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, strings.Repeat("x", 64*1024))
	}))
	t.Cleanup(server.Close)
	return server, &calls
}

func newTestFetcher(t *testing.T, resolver media.Resolver, transcoder Transcoder) *Fetcher {
	t.Helper()
	return NewFetcher(Config{
		Resolver:    resolver,
		Transcoder:  transcoder,
		TempDir:     t.TempDir(),
		MaxRetries:  2,
		RetryPolicy: retry.Policy{Initial: time.Millisecond, Max: 5 * time.Millisecond},
		Logger:      log.New(io.Discard, "", 0),
	})
}

func TestFetchVideoKeepsStreamVerbatim(t *testing.T) {
	server, _ := newMediaServer(t, 0)
	transcoder := &fakeTranscoder{}
	fetcher := newTestFetcher(t, staticResolver{stream: media.Stream{DirectURL: server.URL, Title: "Clip", ContainerFormat: "mp4"}}, transcoder)

	var percents []int
	artifact, err := fetcher.Fetch(context.Background(), "job-video", domain.JobKindDownloadVideo, "https://example.com/v/1",
		func(percent *int, _ string) {
			if percent != nil {
				percents = append(percents, *percent)
			}
		})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if filepath.Ext(artifact.Path) != ".mp4" || artifact.SizeBytes != 64*1024 {
		t.Fatalf("unexpected artifact: %+v", artifact)
	}
	if atomic.LoadInt32(&transcoder.calls) != 0 {
		t.Fatalf("video downloads must not be transcoded")
	}
	if len(percents) == 0 || percents[len(percents)-1] != 100 {
		t.Fatalf("expected progress ending at 100, got %v", percents)
	}
}

func TestFetchAudioTranscodesAt192k(t *testing.T) {
	server, _ := newMediaServer(t, 0)
	transcoder := &fakeTranscoder{}
	fetcher := newTestFetcher(t, staticResolver{stream: media.Stream{DirectURL: server.URL, Title: "Song", ContainerFormat: "m4a"}}, transcoder)

	artifact, err := fetcher.Fetch(context.Background(), "job-audio", domain.JobKindDownloadAudio, "https://example.com/v/123", nil)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if filepath.Ext(artifact.Path) != ".mp3" || artifact.MIMEType != "audio/mpeg" {
		t.Fatalf("expected mp3 artifact, got %+v", artifact)
	}
	if transcoder.bitrate != DownloadAudioBitrate {
		t.Fatalf("expected bitrate %s, got %s", DownloadAudioBitrate, transcoder.bitrate)
	}
	if _, err := os.Stat(filepath.Join(fetcher.JobDir("job-audio"), "source.m4a")); !os.IsNotExist(err) {
		t.Fatalf("expected source file to be replaced by the mp3")
	}
}

func TestFetchTranscodeFailureIsUnsupportedFormat(t *testing.T) {
	server, _ := newMediaServer(t, 0)
	fetcher := newTestFetcher(t,
		staticResolver{stream: media.Stream{DirectURL: server.URL, ContainerFormat: "webm"}},
		&fakeTranscoder{err: errors.New("invalid data found when processing input")})

	_, err := fetcher.Fetch(context.Background(), "job-bad", domain.JobKindGenerateContent, "https://example.com/v/1", nil)
	var jobErr *domain.JobError
	if !errors.As(err, &jobErr) || jobErr.Kind != domain.ErrorKindFetchUnsupported {
		t.Fatalf("expected FetchError.unsupportedFormat, got %v", err)
	}
}

func TestFetchRetriesTransientStatus(t *testing.T) {
	server, calls := newMediaServer(t, 2)
	fetcher := newTestFetcher(t, staticResolver{stream: media.Stream{DirectURL: server.URL, ContainerFormat: "mp4"}}, &fakeTranscoder{})

	if _, err := fetcher.Fetch(context.Background(), "job-retry", domain.JobKindDownloadVideo, "https://example.com/v/1", nil); err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if got := atomic.LoadInt32(calls); got != 3 {
		t.Fatalf("expected 3 calls, got %d", got)
	}
}

func TestFetchGivesUpAfterBoundedRetries(t *testing.T) {
	server, calls := newMediaServer(t, 100)
	fetcher := newTestFetcher(t, staticResolver{stream: media.Stream{DirectURL: server.URL, ContainerFormat: "mp4"}}, &fakeTranscoder{})

	_, err := fetcher.Fetch(context.Background(), "job-down", domain.JobKindDownloadVideo, "https://example.com/v/1", nil)
	var jobErr *domain.JobError
	if !errors.As(err, &jobErr) || jobErr.Kind != domain.ErrorKindFetchNetwork {
		t.Fatalf("expected FetchError.network, got %v", err)
	}
	if got := atomic.LoadInt32(calls); got != 3 {
		t.Fatalf("expected 1 attempt + 2 retries, got %d", got)
	}
}

func TestFetchResolutionErrorIsNotRetried(t *testing.T) {
	fetcher := newTestFetcher(t, staticResolver{err: &media.ResolutionError{Reason: "video is private"}}, &fakeTranscoder{})

	_, err := fetcher.Fetch(context.Background(), "job-private", domain.JobKindDownloadVideo, "https://example.com/v/1", nil)
	var jobErr *domain.JobError
	if !errors.As(err, &jobErr) || jobErr.Kind != domain.ErrorKindResolution {
		t.Fatalf("expected ResolutionError, got %v", err)
	}
	if jobErr.Message != "video is private" {
		t.Fatalf("unexpected message %q", jobErr.Message)
	}
}

func TestReleaseAndDeliver(t *testing.T) {
	server, _ := newMediaServer(t, 0)
	fetcher := newTestFetcher(t, staticResolver{stream: media.Stream{DirectURL: server.URL, Title: "My Clip", ContainerFormat: "mp4"}}, &fakeTranscoder{})

	artifact, err := fetcher.Fetch(context.Background(), "0123456789abcdef", domain.JobKindDownloadVideo, "https://example.com/v/1", nil)
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	outputDir := t.TempDir()
	file, err := fetcher.Deliver("0123456789abcdef", artifact, outputDir)
	if err != nil {
		t.Fatalf("deliver failed: %v", err)
	}
	if file.FileName != "My Clip-01234567.mp4" {
		t.Fatalf("unexpected file name %q", file.FileName)
	}
	if _, err := os.Stat(file.Path); err != nil {
		t.Fatalf("expected delivered file to exist: %v", err)
	}
	if err := fetcher.Release("0123456789abcdef"); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if _, err := os.Stat(fetcher.JobDir("0123456789abcdef")); !os.IsNotExist(err) {
		t.Fatalf("expected job temp dir to be removed")
	}
}

func TestBuildMP3Args(t *testing.T) {
	args := strings.Join(BuildMP3Args("in.webm", "out.mp3", "192k"), " ")
	for _, want := range []string{"-i in.webm", "-vn", "-c:a libmp3lame", "-b:a 192k"} {
		if !strings.Contains(args, want) {
			t.Fatalf("expected %q in %q", want, args)
		}
	}
	if !strings.HasSuffix(args, "out.mp3") {
		t.Fatalf("expected output path last, got %q", args)
	}
}

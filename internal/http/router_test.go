package httpserver

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/iago/vidai-studio/internal/ai"
	"github.com/iago/vidai-studio/internal/domain"
	"github.com/iago/vidai-studio/internal/fetch"
	"github.com/iago/vidai-studio/internal/http/handlers"
	"github.com/iago/vidai-studio/internal/media"
	"github.com/iago/vidai-studio/internal/repository"
	"github.com/iago/vidai-studio/internal/service"
	"github.com/iago/vidai-studio/internal/worker"
)

type copyTranscoder struct{}

func (copyTranscoder) ToMP3(_ context.Context, inputPath, outputPath, _ string) error {
	data, err := os.ReadFile(inputPath)
	if err != nil {
		return err
	}
	return os.WriteFile(outputPath, data, 0o644)
}

func newFakeGemini(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/upload/v1beta/files":
			w.Header().Set("X-Goog-Upload-URL", "http://"+r.Host+"/upload-session")
			_, _ = io.WriteString(w, `{}`)
		case r.URL.Path == "/upload-session":
			_, _ = io.Copy(io.Discard, r.Body)
			_, _ = io.WriteString(w, `{"file":{"name":"files/abc","uri":"https://files/abc","mimeType":"audio/mpeg","state":"ACTIVE"}}`)
		case strings.HasSuffix(r.URL.Path, ":generateContent"):
			_, _ = io.WriteString(w, `{"candidates":[{"content":{"parts":[{"text":"## Highlights\n\nA short generated summary."}]},"finishReason":"STOP"}],"usageMetadata":{"totalTokenCount":12}}`)
		case r.Method == http.MethodDelete:
			_, _ = io.WriteString(w, `{}`)
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"error":{"code":404,"message":"not found","status":"NOT_FOUND"}}`)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

type runtime struct {
	server   *httptest.Server
	mediaURL string
}

func startRuntime(t *testing.T) runtime {
	t.Helper()
	logger := log.New(io.Discard, "", 0)

	mediaServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, strings.Repeat("v", 16*1024))
	}))
	t.Cleanup(mediaServer.Close)
	gemini := newFakeGemini(t)

	dataDir := t.TempDir()
	settingsRepo, err := repository.NewFileSettingsRepository(dataDir+"/config.json", nil)
	if err != nil {
		t.Fatalf("settings repo: %v", err)
	}
	historyRepo, err := repository.OpenFileHistoryRepository(dataDir+"/history.json", 0, nil)
	if err != nil {
		t.Fatalf("history repo: %v", err)
	}

	catalog := ai.NewModelCatalog(ai.ModelCatalogConfig{})
	analyzer := ai.NewAnalyzer(ai.AnalyzerConfig{
		Client:  ai.NewGeminiClient(ai.GeminiClientConfig{BaseURL: gemini.URL}),
		Catalog: catalog,
		Logger:  logger,
	})
	fetcher := fetch.NewFetcher(fetch.Config{
		Resolver:   media.DirectResolver{},
		Transcoder: copyTranscoder{},
		TempDir:    t.TempDir(),
		Logger:     logger,
	})
	processor := worker.NewProcessor(worker.Config{
		Fetcher:   fetcher,
		Backend:   analyzer,
		History:   historyRepo,
		OutputDir: t.TempDir(),
		Logger:    logger,
	})
	jobs := service.NewJobsService(service.JobsDependencies{
		Processor: processor,
		History:   historyRepo,
		Settings:  settingsRepo,
		Catalog:   catalog,
		Logger:    logger,
	})
	settings := service.NewSettingsService(settingsRepo, catalog, logger)

	routerCtx, stopRouter := context.WithCancel(context.Background())
	router := NewRouter(RouterDependencies{
		Context:        routerCtx,
		API:            handlers.NewAPI(jobs, settings, logger),
		Logger:         logger,
		RateLimitRPS:   20000,
		RateLimitBurst: 20000,
	})
	server := httptest.NewServer(router)
	t.Cleanup(func() {
		server.Close()
		stopRouter()
		_ = processor.Shutdown(context.Background())
	})

	return runtime{server: server, mediaURL: mediaServer.URL}
}

func doJSON(t *testing.T, client *http.Client, method, url string, payload any, headers map[string]string) (int, map[string]any) {
	t.Helper()

	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(encoded)
	}
	request, err := http.NewRequest(method, url, body)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	request.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		request.Header.Set(key, value)
	}

	response, err := client.Do(request)
	if err != nil {
		t.Fatalf("execute request: %v", err)
	}
	defer response.Body.Close()

	raw, _ := io.ReadAll(response.Body)
	if len(raw) == 0 {
		return response.StatusCode, map[string]any{}
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("decode response body (%d): %s", response.StatusCode, string(raw))
	}
	return response.StatusCode, decoded
}

func getRaw(t *testing.T, client *http.Client, url string) (int, []byte) {
	t.Helper()
	response, err := client.Get(url)
	if err != nil {
		t.Fatalf("execute get request: %v", err)
	}
	defer response.Body.Close()
	raw, _ := io.ReadAll(response.Body)
	return response.StatusCode, raw
}

type sseEvent struct {
	name string
	data domain.Event
}

// readEvents consumes the SSE stream of a job until the server closes it.
func readEvents(t *testing.T, client *http.Client, url string) []sseEvent {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	request, _ := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	response, err := client.Do(request)
	if err != nil {
		t.Fatalf("open event stream: %v", err)
	}
	defer response.Body.Close()
	if got := response.Header.Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("expected event stream, got %q", got)
	}

	var (
		events  []sseEvent
		current sseEvent
	)
	scanner := bufio.NewScanner(response.Body)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			current.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &current.data); err != nil {
				t.Fatalf("decode event: %v", err)
			}
		case line == "":
			events = append(events, current)
			current = sseEvent{}
		}
	}
	return events
}

func TestGenerateContentWorkflow(t *testing.T) {
	rt := startRuntime(t)
	client := rt.server.Client()
	baseURL := rt.server.URL
	sourceURL := rt.mediaURL + "/interview.mp4"

	if status, _ := doJSON(t, client, http.MethodGet, baseURL+"/healthz", nil, nil); status != http.StatusOK {
		t.Fatalf("expected health 200, got %d", status)
	}

	status, body := doJSON(t, client, http.MethodPost, baseURL+"/v1/jobs", map[string]any{"kind": "generate_content", "url": sourceURL}, nil)
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400 without api key, got %d", status)
	}
	if errorBody, _ := body["error"].(map[string]any); errorBody["field"] != "api_key" {
		t.Fatalf("expected api_key field error, got %+v", body)
	}

	if status, _ := doJSON(t, client, http.MethodPut, baseURL+"/v1/config", map[string]any{"api_key": " "}, nil); status != http.StatusBadRequest {
		t.Fatalf("expected empty key rejection, got %d", status)
	}
	status, body = doJSON(t, client, http.MethodPut, baseURL+"/v1/config", map[string]any{"api_key": "test-key-5678", "preferred_language": "English"}, nil)
	if status != http.StatusOK || body["api_key_masked"] != "****5678" {
		t.Fatalf("unexpected config response %d %+v", status, body)
	}
	if _, ok := body["api_key"]; ok {
		t.Fatalf("raw api key must never be returned")
	}

	status, body = doJSON(t, client, http.MethodGet, baseURL+"/v1/models", nil, nil)
	if models, _ := body["models"].([]any); status != http.StatusOK || len(models) != 5 {
		t.Fatalf("unexpected models response %d %+v", status, body)
	}

	payload := map[string]any{"kind": "generate_content", "url": sourceURL, "options": map[string]any{"style": "Summary"}}
	headers := map[string]string{"Idempotency-Key": "submit-0001"}
	status, body = doJSON(t, client, http.MethodPost, baseURL+"/v1/jobs", payload, headers)
	if status != http.StatusAccepted {
		t.Fatalf("expected 202, got %d %+v", status, body)
	}
	jobID, _ := body["job_id"].(string)

	_, replay := doJSON(t, client, http.MethodPost, baseURL+"/v1/jobs", payload, headers)
	if replay["job_id"] != jobID {
		t.Fatalf("expected idempotent replay, got %+v", replay)
	}
	payload["url"] = sourceURL + "?other=1"
	if status, _ := doJSON(t, client, http.MethodPost, baseURL+"/v1/jobs", payload, headers); status != http.StatusConflict {
		t.Fatalf("expected idempotency conflict, got %d", status)
	}

	events := readEvents(t, client, baseURL+"/v1/jobs/"+jobID+"/events")
	if len(events) == 0 || events[len(events)-1].name != "done" {
		t.Fatalf("expected stream to end with done, got %+v", events)
	}
	for i := 1; i < len(events); i++ {
		if events[i].data.Stage.Rank() < events[i-1].data.Stage.Rank() {
			t.Fatalf("stage regression in stream: %+v", events)
		}
	}

	status, body = doJSON(t, client, http.MethodGet, baseURL+"/v1/jobs/"+jobID+"/result", nil, nil)
	if status != http.StatusOK || body["state"] != "done" {
		t.Fatalf("unexpected result %d %+v", status, body)
	}
	result, _ := body["result"].(map[string]any)
	if result["language"] != "English" || result["text"] != "## Highlights\n\nA short generated summary." {
		t.Fatalf("unexpected result payload %+v", result)
	}

	_, first := getRaw(t, client, baseURL+"/v1/jobs/"+jobID+"/export?format=markdown")
	_, second := getRaw(t, client, baseURL+"/v1/jobs/"+jobID+"/export?format=markdown")
	if !bytes.Equal(first, second) || !bytes.Contains(first, []byte("# interview")) {
		t.Fatalf("expected stable markdown export, got %q", first)
	}
	if status, _ := getRaw(t, client, baseURL+"/v1/jobs/"+jobID+"/export?format=pdf"); status != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown format, got %d", status)
	}
	if status, _ := getRaw(t, client, baseURL+"/v1/jobs/"+jobID+"/file"); status != http.StatusNotFound {
		t.Fatalf("expected 404 for file of a generation job, got %d", status)
	}
	if status, _ := doJSON(t, client, http.MethodPost, baseURL+"/v1/jobs/"+jobID+"/cancel", nil, nil); status != http.StatusConflict {
		t.Fatalf("expected 409 cancelling a finished job, got %d", status)
	}
}

func TestDownloadAndHistoryWorkflow(t *testing.T) {
	rt := startRuntime(t)
	client := rt.server.Client()
	baseURL := rt.server.URL
	sourceURL := rt.mediaURL + "/v/123.mp4"

	status, body := doJSON(t, client, http.MethodPost, baseURL+"/v1/jobs", map[string]any{"kind": "download_audio", "url": sourceURL}, nil)
	if status != http.StatusAccepted {
		t.Fatalf("expected 202, got %d %+v", status, body)
	}
	jobID, _ := body["job_id"].(string)
	readEvents(t, client, baseURL+"/v1/jobs/"+jobID+"/events")

	status, body = doJSON(t, client, http.MethodGet, baseURL+"/v1/jobs/"+jobID, nil, nil)
	file, _ := body["file"].(map[string]any)
	if status != http.StatusOK || body["stage"] != "done" || !strings.HasSuffix(fmt.Sprint(file["file_name"]), ".mp3") {
		t.Fatalf("unexpected job %d %+v", status, body)
	}

	status, raw := getRaw(t, client, baseURL+"/v1/jobs/"+jobID+"/file")
	if status != http.StatusOK || len(raw) != 16*1024 {
		t.Fatalf("expected delivered file, got %d (%d bytes)", status, len(raw))
	}
	if err := os.Remove(fmt.Sprint(file["path"])); err != nil {
		t.Fatalf("remove delivered file: %v", err)
	}
	if status, _ := getRaw(t, client, baseURL+"/v1/jobs/"+jobID+"/file"); status != http.StatusGone {
		t.Fatalf("expected 410 after removal, got %d", status)
	}

	status, body = doJSON(t, client, http.MethodGet, baseURL+"/v1/history", nil, nil)
	if status != http.StatusOK || body["total"] != float64(1) {
		t.Fatalf("unexpected history %d %+v", status, body)
	}
	if status, _ := doJSON(t, client, http.MethodDelete, baseURL+"/v1/history/"+jobID, nil, nil); status != http.StatusNoContent {
		t.Fatalf("expected 204 on delete, got %d", status)
	}
	if status, _ := doJSON(t, client, http.MethodDelete, baseURL+"/v1/history", nil, nil); status != http.StatusNoContent {
		t.Fatalf("expected 204 on clear, got %d", status)
	}
	if status, _ := doJSON(t, client, http.MethodGet, baseURL+"/v1/jobs/does-not-exist", nil, nil); status != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown job, got %d", status)
	}
}

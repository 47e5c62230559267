package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/iago/vidai-studio/internal/ai"
	"github.com/iago/vidai-studio/internal/domain"
	"github.com/iago/vidai-studio/internal/fetch"
	httpserver "github.com/iago/vidai-studio/internal/http"
	"github.com/iago/vidai-studio/internal/http/handlers"
	"github.com/iago/vidai-studio/internal/media"
	"github.com/iago/vidai-studio/internal/repository"
	"github.com/iago/vidai-studio/internal/retry"
	"github.com/iago/vidai-studio/internal/service"
	"github.com/iago/vidai-studio/internal/worker"
)

type scenarioResult struct {
	Name          string   `json:"name"`
	Total         int      `json:"total"`
	Success       int      `json:"success"`
	Errors        int      `json:"errors"`
	P50MS         float64  `json:"p50_ms"`
	P95MS         float64  `json:"p95_ms"`
	P99MS         float64  `json:"p99_ms"`
	MaxMS         float64  `json:"max_ms"`
	ThroughputRPS float64  `json:"throughput_rps"`
	ErrorSamples  []string `json:"error_samples,omitempty"`
}

type runResult struct {
	GeneratedAtUTC string           `json:"generated_at_utc"`
	Environment    string           `json:"environment"`
	Results        []scenarioResult `json:"results"`
	SLOEvaluation  map[string]bool  `json:"slo_evaluation"`
}

type benchmarkEnv struct {
	server    *httptest.Server
	mediaURL  string
	processor *worker.Processor
	closers   []func()
}

func (e *benchmarkEnv) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = e.processor.Shutdown(ctx)
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
}

type copyTranscoder struct{}

func (copyTranscoder) ToMP3(_ context.Context, inputPath, outputPath, _ string) error {
	data, err := os.ReadFile(inputPath)
	if err != nil {
		return err
	}
	return os.WriteFile(outputPath, data, 0o644)
}

func main() {
	submitTotal := flag.Int("submit-total", 200, "total download submissions")
	submitConcurrency := flag.Int("submit-concurrency", 24, "concurrency for download submissions")
	generateTotal := flag.Int("generate-total", 40, "total generate_content jobs followed to completion")
	generateConcurrency := flag.Int("generate-concurrency", 8, "concurrency for generate_content jobs")
	historyTotal := flag.Int("history-total", 120, "total history list requests")
	historyConcurrency := flag.Int("history-concurrency", 20, "concurrency for history list requests")
	mediaBytes := flag.Int("media-bytes", 256*1024, "size of the served fake media file")
	geminiLatency := flag.Duration("gemini-latency", 40*time.Millisecond, "simulated generateContent latency")
	outputPath := flag.String("output", "", "optional path to persist benchmark results JSON")
	flag.Parse()

	env, err := startBenchmarkEnvironment(*mediaBytes, *geminiLatency)
	if err != nil {
		log.Fatalf("failed to start local benchmark environment: %v", err)
	}
	defer env.Close()

	client := &http.Client{Timeout: 30 * time.Second}

	submitScenario := runScenario("download_submit", *submitTotal, *submitConcurrency, func(index int) error {
		payload := map[string]any{
			"kind": string(domain.JobKindDownloadAudio),
			"url":  fmt.Sprintf("%s/clip-%d.mp4", env.mediaURL, index),
		}
		_, err := postJSON(client, env.server.URL+"/v1/jobs", payload, nil, http.StatusAccepted)
		return err
	})

	generateScenario := runScenario("generate_end_to_end", *generateTotal, *generateConcurrency, func(index int) error {
		payload := map[string]any{
			"kind": string(domain.JobKindGenerateContent),
			"url":  fmt.Sprintf("%s/talk-%d.mp4", env.mediaURL, index),
			"options": map[string]any{
				"style":    string(domain.Styles[index%len(domain.Styles)]),
				"language": "English",
			},
		}
		headers := map[string]string{"Idempotency-Key": fmt.Sprintf("generate-%d-%d", index, time.Now().UnixNano())}
		body, err := postJSON(client, env.server.URL+"/v1/jobs", payload, headers, http.StatusAccepted)
		if err != nil {
			return err
		}
		var accepted struct {
			JobID string `json:"job_id"`
		}
		if err := json.Unmarshal(body, &accepted); err != nil {
			return fmt.Errorf("decode accepted: %w", err)
		}
		return waitForResult(client, env.server.URL+"/v1/jobs/"+accepted.JobID+"/result", time.Minute)
	})

	historyScenario := runScenario("history_list", *historyTotal, *historyConcurrency, func(int) error {
		return getJSON(client, env.server.URL+"/v1/history", http.StatusOK)
	})

	results := []scenarioResult{submitScenario, generateScenario, historyScenario}
	slo := map[string]bool{
		"submit_endpoint_p95_le_250ms":  submitScenario.P95MS <= 250,
		"history_endpoint_p95_le_250ms": historyScenario.P95MS <= 250,
		"generate_jobs_all_succeeded":   generateScenario.Errors == 0,
	}

	report := runResult{
		GeneratedAtUTC: time.Now().UTC().Format(time.RFC3339Nano),
		Environment:    "local-httptest",
		Results:        results,
		SLOEvaluation:  slo,
	}

	encoded, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		log.Fatalf("failed to marshal benchmark report: %v", err)
	}
	if *outputPath != "" {
		if err := os.WriteFile(*outputPath, encoded, 0o644); err != nil {
			log.Fatalf("failed to write output file: %v", err)
		}
	}
	_, _ = fmt.Fprintln(os.Stdout, string(encoded))
}

func startBenchmarkEnvironment(mediaBytes int, geminiLatency time.Duration) (*benchmarkEnv, error) {
	logger := log.New(io.Discard, "", 0)
	env := &benchmarkEnv{}

	payload := bytes.Repeat([]byte("v"), mediaBytes)
	mediaServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
		_, _ = w.Write(payload)
	}))
	env.closers = append(env.closers, mediaServer.Close)
	env.mediaURL = mediaServer.URL

	gemini := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/upload/v1beta/files":
			w.Header().Set("X-Goog-Upload-URL", "http://"+r.Host+"/upload-session")
			_, _ = io.WriteString(w, `{}`)
		case r.URL.Path == "/upload-session":
			_, _ = io.Copy(io.Discard, r.Body)
			_, _ = io.WriteString(w, `{"file":{"name":"files/bench","uri":"https://files/bench","mimeType":"audio/mpeg","state":"ACTIVE"}}`)
		case strings.HasSuffix(r.URL.Path, ":generateContent"):
			time.Sleep(geminiLatency)
			_, _ = io.WriteString(w, `{"candidates":[{"content":{"parts":[{"text":"## Summary\n\nThe benchmark talk covers three short points."}]},"finishReason":"STOP"}]}`)
		case r.Method == http.MethodDelete:
			_, _ = io.WriteString(w, `{}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	env.closers = append(env.closers, gemini.Close)

	tempDir, err := os.MkdirTemp("", "vidai-bench-")
	if err != nil {
		return nil, err
	}
	env.closers = append(env.closers, func() { _ = os.RemoveAll(tempDir) })

	settingsRepo := repository.NewMemorySettingsRepository(domain.Settings{APIKey: "bench-key"})
	historyRepo := repository.NewMemoryHistoryRepository(0)
	catalog := ai.NewModelCatalog(ai.ModelCatalogConfig{})
	analyzer := ai.NewAnalyzer(ai.AnalyzerConfig{
		Client:     ai.NewGeminiClient(ai.GeminiClientConfig{BaseURL: gemini.URL}),
		Catalog:    catalog,
		PollPolicy: retry.Policy{Initial: 5 * time.Millisecond, Max: 20 * time.Millisecond, MaxWait: 5 * time.Second},
		Logger:     logger,
	})
	fetcher := fetch.NewFetcher(fetch.Config{
		Resolver:   media.DirectResolver{},
		Transcoder: copyTranscoder{},
		TempDir:    tempDir + "/tmp",
		Logger:     logger,
	})
	env.processor = worker.NewProcessor(worker.Config{
		Fetcher:         fetcher,
		Backend:         analyzer,
		History:         historyRepo,
		OutputDir:       tempDir + "/out",
		DownloadWorkers: 3,
		Logger:          logger,
	})
	jobs := service.NewJobsService(service.JobsDependencies{
		Processor: env.processor,
		History:   historyRepo,
		Settings:  settingsRepo,
		Catalog:   catalog,
		Logger:    logger,
	})
	settings := service.NewSettingsService(settingsRepo, catalog, logger)

	routerCtx, stopRouter := context.WithCancel(context.Background())
	env.closers = append(env.closers, stopRouter)
	router := httpserver.NewRouter(httpserver.RouterDependencies{
		Context:        routerCtx,
		API:            handlers.NewAPI(jobs, settings, logger),
		Logger:         logger,
		RateLimitRPS:   20000,
		RateLimitBurst: 20000,
	})
	env.server = httptest.NewServer(router)
	env.closers = append(env.closers, env.server.Close)
	return env, nil
}

func runScenario(
	name string,
	total int,
	concurrency int,
	requestFn func(index int) error,
) scenarioResult {
	if total <= 0 {
		return scenarioResult{Name: name}
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	startedAt := time.Now()
	type sample struct {
		durationMS float64
		err        string
	}

	jobs := make(chan int, total)
	results := make(chan sample, total)
	for i := 0; i < total; i++ {
		jobs <- i
	}
	close(jobs)

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for index := range jobs {
				requestStart := time.Now()
				err := requestFn(index)
				s := sample{
					durationMS: float64(time.Since(requestStart).Microseconds()) / 1000.0,
				}
				if err != nil {
					s.err = err.Error()
				}
				results <- s
			}
		}()
	}
	wg.Wait()
	close(results)

	durations := make([]float64, 0, total)
	errorSamples := make([]string, 0, 5)
	success := 0
	errorsCount := 0
	for item := range results {
		durations = append(durations, item.durationMS)
		if item.err == "" {
			success++
			continue
		}
		errorsCount++
		if len(errorSamples) < 5 {
			errorSamples = append(errorSamples, item.err)
		}
	}

	sort.Float64s(durations)
	elapsedSeconds := time.Since(startedAt).Seconds()
	throughput := 0.0
	if elapsedSeconds > 0 {
		throughput = float64(total) / elapsedSeconds
	}

	return scenarioResult{
		Name:          name,
		Total:         total,
		Success:       success,
		Errors:        errorsCount,
		P50MS:         percentile(durations, 0.50),
		P95MS:         percentile(durations, 0.95),
		P99MS:         percentile(durations, 0.99),
		MaxMS:         percentile(durations, 1.00),
		ThroughputRPS: round2(throughput),
		ErrorSamples:  errorSamples,
	}
}

// waitForResult polls the result endpoint, which answers 409 while the job runs.
func waitForResult(client *http.Client, url string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		response, err := client.Get(url)
		if err != nil {
			return err
		}
		body, _ := io.ReadAll(io.LimitReader(response.Body, 64*1024))
		response.Body.Close()

		switch response.StatusCode {
		case http.StatusConflict:
			time.Sleep(20 * time.Millisecond)
			continue
		case http.StatusOK:
			var entry domain.HistoryEntry
			if err := json.Unmarshal(body, &entry); err != nil {
				return fmt.Errorf("decode result: %w", err)
			}
			if entry.State != domain.StageDone {
				message := ""
				if entry.Error != nil {
					message = entry.Error.Message
				}
				return fmt.Errorf("job ended in %s: %s", entry.State, message)
			}
			return nil
		default:
			return fmt.Errorf("unexpected status %d: %s", response.StatusCode, string(body))
		}
	}
	return fmt.Errorf("job did not finish within %s", timeout)
}

func postJSON(
	client *http.Client,
	url string,
	payload any,
	headers map[string]string,
	expectedStatus int,
) ([]byte, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	request, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Accept", "application/json")
	for key, value := range headers {
		request.Header.Set(key, value)
	}

	response, err := client.Do(request)
	if err != nil {
		return nil, err
	}
	defer response.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(response.Body, 64*1024))
	if response.StatusCode != expectedStatus {
		return nil, fmt.Errorf("unexpected status %d (expected %d): %s", response.StatusCode, expectedStatus, string(body))
	}
	return body, nil
}

func getJSON(client *http.Client, url string, expectedStatus int) error {
	request, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	request.Header.Set("Accept", "application/json")

	response, err := client.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	if response.StatusCode != expectedStatus {
		body, _ := io.ReadAll(io.LimitReader(response.Body, 1024))
		return fmt.Errorf("unexpected status %d (expected %d): %s", response.StatusCode, expectedStatus, string(body))
	}
	_, _ = io.Copy(io.Discard, response.Body)
	return nil
}

func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	if p <= 0 {
		return round2(values[0])
	}
	if p >= 1 {
		return round2(values[len(values)-1])
	}
	rank := int(math.Ceil(float64(len(values))*p)) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(values) {
		rank = len(values) - 1
	}
	return round2(values[rank])
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}

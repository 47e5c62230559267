package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/iago/vidai-studio/internal/retry"
)

const (
	DefaultGeminiBaseURL = "https://generativelanguage.googleapis.com"
	apiVersion           = "v1beta"

	FileStateProcessing = "PROCESSING"
	FileStateActive     = "ACTIVE"
	FileStateFailed     = "FAILED"
)

type GeminiClientConfig struct {
	BaseURL        string
	RequestTimeout time.Duration
	UploadTimeout  time.Duration
	MaxRetries     int
	RetryPolicy    retry.Policy
	HTTPClient     *http.Client
}

// GeminiClient speaks the Gemini REST API. The API key travels with every
// call so a key change in settings applies to the next job without a restart.
type GeminiClient struct {
	baseURL        string
	requestTimeout time.Duration
	uploadTimeout  time.Duration
	policy         retry.Policy
	httpClient     *http.Client
}

type RemoteFile struct {
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
	MIMEType    string `json:"mimeType"`
	SizeBytes   string `json:"sizeBytes"`
	State       string `json:"state"`
	URI         string `json:"uri"`
	Error       *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type GenerateRequest struct {
	Model           string
	Prompt          string
	File            RemoteFile
	Temperature     float64
	MaxOutputTokens int
}

type GenerateResult struct {
	Text         string
	ModelID      string
	FinishReason string
	Usage        TokenUsage
}

type TokenUsage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// ErrBlocked means the backend refused to produce text for the supplied media.
var ErrBlocked = errors.New("gemini returned no content")

func NewGeminiClient(config GeminiClientConfig) *GeminiClient {
	if strings.TrimSpace(config.BaseURL) == "" {
		config.BaseURL = DefaultGeminiBaseURL
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 120 * time.Second
	}
	if config.UploadTimeout <= 0 {
		config.UploadTimeout = 10 * time.Minute
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{}
	}
	policy := config.RetryPolicy
	if policy.Initial <= 0 {
		policy.Initial = 350 * time.Millisecond
	}
	policy.MaxAttempts = config.MaxRetries + 1

	return &GeminiClient{
		baseURL:        strings.TrimSuffix(config.BaseURL, "/"),
		requestTimeout: config.RequestTimeout,
		uploadTimeout:  config.UploadTimeout,
		policy:         policy,
		httpClient:     config.HTTPClient,
	}
}

// UploadFile pushes a local file through the resumable upload protocol.
func (c *GeminiClient) UploadFile(ctx context.Context, apiKey, path, mimeType, displayName string) (RemoteFile, error) {
	if strings.TrimSpace(apiKey) == "" {
		return RemoteFile{}, ErrMissingAPIKey
	}
	info, err := os.Stat(path)
	if err != nil {
		return RemoteFile{}, fmt.Errorf("stat upload file: %w", err)
	}

	var uploaded RemoteFile
	err = retry.Do(ctx, c.policy, isRetryable, func(ctx context.Context, _ int) error {
		file, uploadErr := c.uploadOnce(ctx, apiKey, path, info.Size(), mimeType, displayName)
		if uploadErr != nil {
			return uploadErr
		}
		uploaded = file
		return nil
	})
	return uploaded, err
}

func (c *GeminiClient) uploadOnce(ctx context.Context, apiKey, path string, size int64, mimeType, displayName string) (RemoteFile, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, c.uploadTimeout)
	defer cancel()

	metadata, err := json.Marshal(map[string]any{"file": map[string]string{"display_name": displayName}})
	if err != nil {
		return RemoteFile{}, fmt.Errorf("marshal upload metadata: %w", err)
	}
	startRequest, err := http.NewRequestWithContext(timeoutCtx, http.MethodPost,
		c.baseURL+"/upload/"+apiVersion+"/files", bytes.NewReader(metadata))
	if err != nil {
		return RemoteFile{}, fmt.Errorf("create upload request: %w", err)
	}
	startRequest.Header.Set("X-Goog-Upload-Protocol", "resumable")
	startRequest.Header.Set("X-Goog-Upload-Command", "start")
	startRequest.Header.Set("X-Goog-Upload-Header-Content-Length", strconv.FormatInt(size, 10))
	startRequest.Header.Set("X-Goog-Upload-Header-Content-Type", mimeType)
	startRequest.Header.Set("Content-Type", "application/json")

	header, _, err := c.send(timeoutCtx, startRequest, apiKey)
	if err != nil {
		return RemoteFile{}, err
	}
	uploadURL := header.Get("X-Goog-Upload-URL")
	if uploadURL == "" {
		return RemoteFile{}, errors.New("gemini upload session without upload url")
	}

	file, err := os.Open(path)
	if err != nil {
		return RemoteFile{}, fmt.Errorf("open upload file: %w", err)
	}
	defer file.Close()

	uploadRequest, err := http.NewRequestWithContext(timeoutCtx, http.MethodPost, uploadURL, file)
	if err != nil {
		return RemoteFile{}, fmt.Errorf("create upload request: %w", err)
	}
	uploadRequest.ContentLength = size
	uploadRequest.Header.Set("X-Goog-Upload-Offset", "0")
	uploadRequest.Header.Set("X-Goog-Upload-Command", "upload, finalize")

	_, body, err := c.send(timeoutCtx, uploadRequest, apiKey)
	if err != nil {
		return RemoteFile{}, err
	}
	var raw struct {
		File RemoteFile `json:"file"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return RemoteFile{}, fmt.Errorf("decode upload response: %w", err)
	}
	if raw.File.Name == "" {
		return RemoteFile{}, errors.New("gemini upload response without file name")
	}
	return raw.File, nil
}

func (c *GeminiClient) GetFile(ctx context.Context, apiKey, name string) (RemoteFile, error) {
	var file RemoteFile
	err := retry.Do(ctx, c.policy, isRetryable, func(ctx context.Context, _ int) error {
		body, callErr := c.call(ctx, apiKey, http.MethodGet, c.fileURL(name), nil)
		if callErr != nil {
			return callErr
		}
		if err := json.Unmarshal(body, &file); err != nil {
			return fmt.Errorf("decode file response: %w", err)
		}
		return nil
	})
	return file, err
}

func (c *GeminiClient) DeleteFile(ctx context.Context, apiKey, name string) error {
	_, err := c.call(ctx, apiKey, http.MethodDelete, c.fileURL(name), nil)
	return err
}

func (c *GeminiClient) GenerateContent(ctx context.Context, apiKey string, request GenerateRequest) (GenerateResult, error) {
	if strings.TrimSpace(apiKey) == "" {
		return GenerateResult{}, ErrMissingAPIKey
	}
	if strings.TrimSpace(request.Model) == "" {
		return GenerateResult{}, errors.New("model is required")
	}

	parts := []map[string]any{{"text": request.Prompt}}
	if request.File.URI != "" {
		parts = append(parts, map[string]any{
			"file_data": map[string]string{
				"mime_type": request.File.MIMEType,
				"file_uri":  request.File.URI,
			},
		})
	}
	payload := map[string]any{
		"contents": []map[string]any{{"role": "user", "parts": parts}},
	}
	generationConfig := map[string]any{}
	if request.Temperature > 0 {
		generationConfig["temperature"] = request.Temperature
	}
	if request.MaxOutputTokens > 0 {
		generationConfig["maxOutputTokens"] = request.MaxOutputTokens
	}
	if len(generationConfig) > 0 {
		payload["generationConfig"] = generationConfig
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return GenerateResult{}, fmt.Errorf("marshal gemini payload: %w", err)
	}

	endpoint := fmt.Sprintf("%s/%s/models/%s:generateContent", c.baseURL, apiVersion, url.PathEscape(request.Model))
	var result GenerateResult
	err = retry.Do(ctx, c.policy, isRetryable, func(ctx context.Context, _ int) error {
		body, callErr := c.call(ctx, apiKey, http.MethodPost, endpoint, encoded)
		if callErr != nil {
			return callErr
		}
		var raw generateContentResponse
		if err := json.Unmarshal(body, &raw); err != nil {
			return fmt.Errorf("decode gemini response: %w", err)
		}
		result = GenerateResult{
			Text:         extractGeminiText(raw),
			ModelID:      providerFirstNonEmpty(raw.ModelVersion, request.Model),
			FinishReason: raw.finishReason(),
			Usage: TokenUsage{
				InputTokens:  raw.UsageMetadata.PromptTokenCount,
				OutputTokens: raw.UsageMetadata.CandidatesTokenCount,
				TotalTokens:  raw.UsageMetadata.TotalTokenCount,
			},
		}
		if result.Text == "" {
			reason := providerFirstNonEmpty(raw.PromptFeedback.BlockReason, result.FinishReason, "empty response")
			return fmt.Errorf("%w: %s", ErrBlocked, reason)
		}
		return nil
	})
	if err != nil {
		return GenerateResult{}, err
	}
	return result, nil
}

func (c *GeminiClient) fileURL(name string) string {
	return c.baseURL + "/" + apiVersion + "/" + strings.TrimPrefix(name, "/")
}

func (c *GeminiClient) call(ctx context.Context, apiKey, method, endpoint string, payload []byte) ([]byte, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	request, err := http.NewRequestWithContext(timeoutCtx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("create gemini request: %w", err)
	}
	if payload != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	_, responseBody, err := c.send(timeoutCtx, request, apiKey)
	return responseBody, err
}

func (c *GeminiClient) send(ctx context.Context, request *http.Request, apiKey string) (http.Header, []byte, error) {
	request.Header.Set("x-goog-api-key", apiKey)
	request.Header.Set("Accept", "application/json")

	response, err := c.httpClient.Do(request)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, nil, ctx.Err()
		}
		return nil, nil, &transportError{err: err}
	}
	defer response.Body.Close()

	body, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, nil, &transportError{err: fmt.Errorf("read gemini body: %w", err)}
	}

	if response.StatusCode < 200 || response.StatusCode > 299 {
		return nil, nil, parseAPIError(response.StatusCode, body)
	}
	return response.Header, body, nil
}

func parseAPIError(statusCode int, body []byte) *APIError {
	var envelope struct {
		Error struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
			Status  string `json:"status"`
		} `json:"error"`
	}
	apiErr := &APIError{StatusCode: statusCode}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		apiErr.Message = envelope.Error.Message
		apiErr.Status = envelope.Error.Status
		return apiErr
	}
	apiErr.Message = truncate(string(body), 700)
	return apiErr
}

type generateContentResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
	ModelVersion string `json:"modelVersion"`
}

func (r generateContentResponse) finishReason() string {
	if len(r.Candidates) == 0 {
		return ""
	}
	return r.Candidates[0].FinishReason
}

func extractGeminiText(response generateContentResponse) string {
	if len(response.Candidates) == 0 {
		return ""
	}
	fragments := make([]string, 0, len(response.Candidates[0].Content.Parts))
	for _, part := range response.Candidates[0].Content.Parts {
		if strings.TrimSpace(part.Text) == "" {
			continue
		}
		fragments = append(fragments, part.Text)
	}
	return strings.TrimSpace(strings.Join(fragments, ""))
}

func providerFirstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

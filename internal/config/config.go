package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config centralizes runtime settings for the API, the CLI and the pipeline.
type Config struct {
	Port string

	AuthToken          string
	CORSAllowedOrigins []string

	DataDir         string
	SettingsFile    string
	HistoryFile     string
	TempDir         string
	OutputDir       string
	HistoryMaxItems int

	DatabaseURL string

	RedisAddr           string
	RedisPassword       string
	RedisDB             int
	RedisProgressStream string
	RedisStreamMaxLen   int64

	GeminiBaseURL        string
	GeminiRequestTimeout time.Duration
	GeminiUploadTimeout  time.Duration
	GeminiMaxRetries     int
	GeminiPollInitial    time.Duration
	GeminiPollMax        time.Duration
	GeminiPollMaxWait    time.Duration
	GeminiModels         []string
	DefaultModel         string
	FallbackModel        string
	MaxUploadBytes       int64

	DownloadWorkers   int
	FetchMaxRetries   int
	ResolveTimeout    time.Duration
	DownloadTimeout   time.Duration
	TranscodeTimeout  time.Duration
	JobTimeout        time.Duration
	YtDlpPath         string
	FFmpegPath        string
	ResolveCacheTTL   time.Duration
	ResolveCacheItems int

	RateLimitRPS   float64
	RateLimitBurst int

	ProgressBatchSize     int
	ProgressBatchFlush    time.Duration
	ProgressBatchCapacity int
}

func Load() Config {
	dataDir := getEnv("DATA_DIR", "data")

	return Config{
		Port: getEnv("PORT", "8080"),

		AuthToken:          getEnv("API_AUTH_TOKEN", ""),
		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", nil),

		DataDir:         dataDir,
		SettingsFile:    getEnv("CONFIG_FILE", filepath.Join(dataDir, "config.json")),
		HistoryFile:     getEnv("HISTORY_FILE", filepath.Join(dataDir, "history.json")),
		TempDir:         getEnv("TEMP_DIR", filepath.Join(os.TempDir(), "vidai")),
		OutputDir:       getEnv("OUTPUT_DIR", "downloads"),
		HistoryMaxItems: getEnvInt("HISTORY_MAX_ITEMS", 50),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		RedisAddr:           getEnv("REDIS_ADDR", ""),
		RedisPassword:       getEnv("REDIS_PASSWORD", ""),
		RedisDB:             getEnvInt("REDIS_DB", 0),
		RedisProgressStream: getEnv("REDIS_PROGRESS_STREAM", "vidai_progress"),
		RedisStreamMaxLen:   int64(getEnvInt("REDIS_STREAM_MAXLEN", 10000)),

		GeminiBaseURL:        getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com"),
		GeminiRequestTimeout: getEnvDuration("GEMINI_REQUEST_TIMEOUT_MS", 120*time.Second),
		GeminiUploadTimeout:  getEnvDuration("GEMINI_UPLOAD_TIMEOUT_MS", 10*time.Minute),
		GeminiMaxRetries:     getEnvInt("GEMINI_MAX_RETRIES", 2),
		GeminiPollInitial:    getEnvDuration("GEMINI_POLL_INITIAL_MS", time.Second),
		GeminiPollMax:        getEnvDuration("GEMINI_POLL_MAX_MS", 5*time.Second),
		GeminiPollMaxWait:    getEnvDuration("GEMINI_POLL_MAX_WAIT_MS", 5*time.Minute),
		GeminiModels:         getEnvList("GEMINI_MODELS", nil),
		DefaultModel:         getEnv("GEMINI_DEFAULT_MODEL", "gemini-2.0-flash"),
		FallbackModel:        getEnv("GEMINI_FALLBACK_MODEL", "gemini-pro"),
		MaxUploadBytes:       int64(getEnvInt("MAX_UPLOAD_MB", 20)) * 1024 * 1024,

		DownloadWorkers:   getEnvInt("DOWNLOAD_WORKERS", 3),
		FetchMaxRetries:   getEnvInt("FETCH_MAX_RETRIES", 2),
		ResolveTimeout:    getEnvDuration("RESOLVE_TIMEOUT_MS", 2*time.Minute),
		DownloadTimeout:   getEnvDuration("DOWNLOAD_TIMEOUT_MS", 30*time.Minute),
		TranscodeTimeout:  getEnvDuration("TRANSCODE_TIMEOUT_MS", 15*time.Minute),
		JobTimeout:        getEnvDuration("JOB_TIMEOUT_MS", time.Hour),
		YtDlpPath:         getEnv("YTDLP_PATH", "yt-dlp"),
		FFmpegPath:        getEnv("FFMPEG_PATH", "ffmpeg"),
		ResolveCacheTTL:   time.Duration(getEnvInt("RESOLVE_CACHE_TTL_SECONDS", 300)) * time.Second,
		ResolveCacheItems: getEnvInt("RESOLVE_CACHE_MAX_ENTRIES", 256),

		RateLimitRPS:   getEnvFloat("RATE_LIMIT_RPS", 20),
		RateLimitBurst: getEnvInt("RATE_LIMIT_BURST", 40),

		ProgressBatchSize:     getEnvInt("PROGRESS_BATCH_SIZE", 32),
		ProgressBatchFlush:    getEnvDuration("PROGRESS_BATCH_FLUSH_MS", 25*time.Millisecond),
		ProgressBatchCapacity: getEnvInt("PROGRESS_BATCH_QUEUE_CAPACITY", 2048),
	}
}

func getEnv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

// getEnvDuration reads a millisecond count.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return time.Duration(parsed) * time.Millisecond
}

func getEnvList(key string, fallback []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

package domain

import (
	"time"
)

type JobKind string

const (
	JobKindDownloadVideo   JobKind = "download_video"
	JobKindDownloadAudio   JobKind = "download_audio"
	JobKindGenerateContent JobKind = "generate_content"
)

func (k JobKind) Valid() bool {
	switch k {
	case JobKindDownloadVideo, JobKindDownloadAudio, JobKindGenerateContent:
		return true
	default:
		return false
	}
}

// IsDownload reports whether the job ends with a file handed to the operator.
func (k JobKind) IsDownload() bool {
	return k == JobKindDownloadVideo || k == JobKindDownloadAudio
}

// Stage is both the pipeline state and the progress stage of a job.
// The declared order is the only order in which a job may move.
type Stage string

const (
	StageQueued      Stage = "queued"
	StageDownloading Stage = "downloading"
	StageUploading   Stage = "uploading"
	StageAnalyzing   Stage = "analyzing"
	StageDone        Stage = "done"
	StageFailed      Stage = "failed"
)

var stageRank = map[Stage]int{
	StageQueued:      0,
	StageDownloading: 1,
	StageUploading:   2,
	StageAnalyzing:   3,
	StageDone:        4,
	StageFailed:      4,
}

// Rank orders stages; Done and Failed share the terminal rank.
func (s Stage) Rank() int {
	rank, ok := stageRank[s]
	if !ok {
		return -1
	}
	return rank
}

func (s Stage) IsTerminal() bool {
	return s == StageDone || s == StageFailed
}

// CanAdvanceTo reports whether moving from s to next keeps the stage sequence monotonic.
func (s Stage) CanAdvanceTo(next Stage) bool {
	if s.IsTerminal() {
		return false
	}
	if next == StageFailed {
		return true
	}
	return next.Rank() >= s.Rank()
}

type Style string

const (
	StyleSummary    Style = "Summary"
	StyleArticle    Style = "Article"
	StyleTranscript Style = "Transcript"
	StyleSocialPost Style = "SocialPost"
)

var Styles = []Style{StyleSummary, StyleArticle, StyleTranscript, StyleSocialPost}

func (s Style) Valid() bool {
	for _, style := range Styles {
		if style == s {
			return true
		}
	}
	return false
}

var Languages = []string{"English", "Bengali", "Hindi", "Spanish", "French", "Arabic"}

const DefaultLanguage = "Bengali"

func ValidLanguage(language string) bool {
	for _, candidate := range Languages {
		if candidate == language {
			return true
		}
	}
	return false
}

// GenerateOptions only applies to JobKindGenerateContent.
type GenerateOptions struct {
	Model              string `json:"model"`
	Language           string `json:"language"`
	Style              Style  `json:"style"`
	CustomInstructions string `json:"custom_instructions,omitempty"`
}

// ResultPayload is the terminal success output of a GenerateContent job.
type ResultPayload struct {
	Text         string    `json:"text"`
	Model        string    `json:"model"`
	FallbackUsed bool      `json:"fallback_used,omitempty"`
	Language     string    `json:"language"`
	Style        Style     `json:"style"`
	SourceTitle  string    `json:"source_title"`
	WordCount    int       `json:"word_count"`
	GeneratedAt  time.Time `json:"generated_at"`
}

// FileResult describes a finished download handed to the operator.
type FileResult struct {
	Path        string `json:"path"`
	FileName    string `json:"file_name"`
	SizeBytes   int64  `json:"size_bytes"`
	SourceTitle string `json:"source_title"`
}

type ErrorInfo struct {
	Kind    ErrorKind `json:"kind"`
	Stage   Stage     `json:"stage"`
	Message string    `json:"message"`
}

// Job is one request lifecycle. Exactly one of Result, File and Error is set
// once Stage is terminal, none before.
type Job struct {
	ID        string
	Kind      JobKind
	SourceURL string
	Platform  string
	Options   *GenerateOptions
	Stage     Stage
	Percent   *int
	Message   string
	Result    *ResultPayload
	File      *FileResult
	Error     *ErrorInfo
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Terminal returns the durable projection of a finished job.
func (j *Job) Terminal() HistoryEntry {
	entry := HistoryEntry{
		ID:        j.ID,
		Kind:      j.Kind,
		SourceURL: j.SourceURL,
		Platform:  j.Platform,
		State:     j.Stage,
		CreatedAt: j.CreatedAt,
	}
	if j.Options != nil {
		options := *j.Options
		entry.Options = &options
	}
	if j.Result != nil {
		result := *j.Result
		entry.Result = &result
	}
	if j.File != nil {
		file := *j.File
		entry.ResultFilePath = file.Path
		entry.File = &file
	}
	if j.Error != nil {
		info := *j.Error
		entry.Error = &info
	}
	return entry
}

// HistoryEntry is the immutable record written once a job is terminal.
type HistoryEntry struct {
	ID             string           `json:"id"`
	Kind           JobKind          `json:"kind"`
	SourceURL      string           `json:"source_url"`
	Platform       string           `json:"platform"`
	Options        *GenerateOptions `json:"options,omitempty"`
	State          Stage            `json:"state"`
	Result         *ResultPayload   `json:"result,omitempty"`
	ResultFilePath string           `json:"result_file_path,omitempty"`
	File           *FileResult      `json:"file,omitempty"`
	Error          *ErrorInfo       `json:"error,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
}

// Event is a single progress notification for a job.
type Event struct {
	JobID   string    `json:"job_id"`
	Seq     int       `json:"seq"`
	Stage   Stage     `json:"stage"`
	Percent *int      `json:"percent,omitempty"`
	Message string    `json:"message,omitempty"`
	At      time.Time `json:"at"`
}

func (e Event) Terminal() bool {
	return e.Stage.IsTerminal()
}

func IntPtr(value int) *int {
	return &value
}

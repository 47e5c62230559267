package service

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/iago/vidai-studio/internal/domain"
	"github.com/iago/vidai-studio/internal/media"
)

type ExportFormat string

const (
	ExportMarkdown  ExportFormat = "markdown"
	ExportPlaintext ExportFormat = "plaintext"
)

// Export is a rendered result ready to be written or served.
type Export struct {
	Format      ExportFormat
	FileName    string
	ContentType string
	Body        []byte
}

func ParseExportFormat(value string) (ExportFormat, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "markdown", "md":
		return ExportMarkdown, nil
	case "plaintext", "text", "txt":
		return ExportPlaintext, nil
	default:
		return "", &domain.ValidationError{Field: "format", Message: "must be markdown or plaintext"}
	}
}

var (
	headingMarker = regexp.MustCompile(`(?m)^#{1,6}\s+`)
	emphasis      = regexp.MustCompile(`(\*\*|__)(.+?)(\*\*|__)`)
	inlineCode    = regexp.MustCompile("`([^`]*)`")
	markdownLink  = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`)
	bulletMarker  = regexp.MustCompile(`(?m)^(\s*)[*+-]\s+`)
)

// RenderExport only reads stored fields, so the same entry always renders
// to the same bytes.
func RenderExport(entry domain.HistoryEntry, format ExportFormat) (Export, error) {
	if entry.Result == nil {
		return Export{}, domain.ErrNoResult
	}
	result := entry.Result
	title := firstNonEmpty(result.SourceTitle, "Generated content")

	shortID := entry.ID
	if len(shortID) > 8 {
		shortID = shortID[:8]
	}
	stem := fmt.Sprintf("%s-%s", media.SafeFileName(title), shortID)

	var buffer bytes.Buffer
	switch format {
	case ExportMarkdown:
		fmt.Fprintf(&buffer, "# %s\n\n", title)
		writeMetadata(&buffer, "- ", entry)
		buffer.WriteString("\n---\n\n")
		buffer.WriteString(strings.TrimSpace(result.Text))
		buffer.WriteString("\n")
		return Export{Format: format, FileName: stem + ".md", ContentType: "text/markdown; charset=utf-8", Body: buffer.Bytes()}, nil
	case ExportPlaintext:
		buffer.WriteString(title)
		buffer.WriteString("\n")
		buffer.WriteString(strings.Repeat("=", len([]rune(title))))
		buffer.WriteString("\n\n")
		writeMetadata(&buffer, "", entry)
		buffer.WriteString("\n")
		buffer.WriteString(stripMarkdown(result.Text))
		buffer.WriteString("\n")
		return Export{Format: format, FileName: stem + ".txt", ContentType: "text/plain; charset=utf-8", Body: buffer.Bytes()}, nil
	default:
		return Export{}, &domain.ValidationError{Field: "format", Message: "must be markdown or plaintext"}
	}
}

func writeMetadata(buffer *bytes.Buffer, prefix string, entry domain.HistoryEntry) {
	result := entry.Result
	fmt.Fprintf(buffer, "%sSource: %s\n", prefix, entry.SourceURL)
	fmt.Fprintf(buffer, "%sPlatform: %s\n", prefix, entry.Platform)
	fmt.Fprintf(buffer, "%sModel: %s\n", prefix, result.Model)
	fmt.Fprintf(buffer, "%sLanguage: %s\n", prefix, result.Language)
	fmt.Fprintf(buffer, "%sStyle: %s\n", prefix, result.Style)
	fmt.Fprintf(buffer, "%sWords: %d\n", prefix, result.WordCount)
	if !result.GeneratedAt.IsZero() {
		fmt.Fprintf(buffer, "%sGenerated: %s\n", prefix, result.GeneratedAt.UTC().Format(time.RFC3339))
	}
}

func stripMarkdown(text string) string {
	plain := strings.TrimSpace(text)
	plain = headingMarker.ReplaceAllString(plain, "")
	plain = emphasis.ReplaceAllString(plain, "$2")
	plain = inlineCode.ReplaceAllString(plain, "$1")
	plain = markdownLink.ReplaceAllString(plain, "$1 ($2)")
	plain = bulletMarker.ReplaceAllString(plain, "${1}• ")
	return plain
}

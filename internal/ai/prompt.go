package ai

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/iago/vidai-studio/internal/domain"
)

var styleGuides = map[domain.Style]string{
	domain.StyleSummary:    "a concise summary with the key points",
	domain.StyleArticle:    "a well structured long-form article",
	domain.StyleTranscript: "a clean transcript of everything that is said",
	domain.StyleSocialPost: "an engaging social media post",
}

var promptTemplate = template.Must(template.New("prompt").Parse(`Role: Expert Content Editor and Writer.
Task: Analyze the audio carefully and create a '{{.Style}}' ({{.Guide}}).
Language: Output strictly in {{.Language}}.
Style Guide:
- Use clean, professional formatting with Markdown.
- Use bold headers (##) for sections.
- Use bullet points for key takeaways.
- Write in a natural, professional tone.
{{- if eq .Language "Bengali"}}
- Use natural Bengali phrasing.
{{- end}}
{{- if .Title}}

Source title: {{.Title}}
{{- end}}
{{- if .Custom}}

Additional User Instructions:
{{.Custom}}
{{- end}}
`))

type promptData struct {
	Style    domain.Style
	Guide    string
	Language string
	Title    string
	Custom   string
}

// BuildPrompt renders the instruction text sent alongside the uploaded media.
func BuildPrompt(options domain.GenerateOptions, sourceTitle string) (string, error) {
	language := strings.TrimSpace(options.Language)
	if language == "" {
		language = domain.DefaultLanguage
	}
	style := options.Style
	if style == "" {
		style = domain.StyleSummary
	}

	var out strings.Builder
	err := promptTemplate.Execute(&out, promptData{
		Style:    style,
		Guide:    styleGuides[style],
		Language: language,
		Title:    strings.TrimSpace(sourceTitle),
		Custom:   strings.TrimSpace(options.CustomInstructions),
	})
	if err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}
	return out.String(), nil
}

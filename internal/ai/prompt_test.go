package ai

import (
	"strings"
	"testing"

	"github.com/iago/vidai-studio/internal/domain"
)

func TestBuildPromptDefaultsAndCustomInstructions(t *testing.T) {
	prompt, err := BuildPrompt(domain.GenerateOptions{CustomInstructions: "  Focus on pricing.  "}, "Launch video")
	if err != nil {
		t.Fatalf("expected prompt, got err=%v", err)
	}
	for _, want := range []string{
		"create a 'Summary'",
		"Output strictly in Bengali",
		"natural Bengali phrasing",
		"Source title: Launch video",
		"Additional User Instructions:\nFocus on pricing.",
	} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("expected %q in prompt:\n%s", want, prompt)
		}
	}
}

func TestBuildPromptOmitsEmptySections(t *testing.T) {
	prompt, err := BuildPrompt(domain.GenerateOptions{Language: "Spanish", Style: domain.StyleTranscript}, "")
	if err != nil {
		t.Fatalf("expected prompt, got err=%v", err)
	}
	if strings.Contains(prompt, "Additional User Instructions") || strings.Contains(prompt, "Source title") {
		t.Fatalf("unexpected optional sections in prompt:\n%s", prompt)
	}
	if strings.Contains(prompt, "Bengali") {
		t.Fatalf("Bengali hint should only appear for Bengali output")
	}
	if !strings.Contains(prompt, "clean transcript") {
		t.Fatalf("expected transcript guide in prompt:\n%s", prompt)
	}
}

func TestModelCatalogSelect(t *testing.T) {
	catalog := NewModelCatalog(ModelCatalogConfig{Models: []string{"gemini-exp-1206", "gemini-1.5-pro"}})

	if got := catalog.Select("").ID; got != DefaultModel {
		t.Fatalf("expected default model, got %s", got)
	}
	if got := len(catalog.List()); got != len(builtinModels)+1 {
		t.Fatalf("expected duplicates to be skipped, got %d models", got)
	}
	if profile := catalog.Select("gemini-exp-1206"); profile.FallbackModel != DefaultFallbackModel {
		t.Fatalf("expected fallback on extra model, got %+v", profile)
	}
	if profile := catalog.Select(DefaultFallbackModel); profile.FallbackModel != "" {
		t.Fatalf("fallback model must not fall back to itself, got %+v", profile)
	}
	if profile := catalog.Select("unknown-model"); profile.ID != "unknown-model" || profile.FallbackModel == "" {
		t.Fatalf("unexpected ad-hoc profile %+v", profile)
	}
}

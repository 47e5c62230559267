package ai

import "strings"

const (
	DefaultModel         = "gemini-2.0-flash"
	DefaultFallbackModel = "gemini-pro"
)

type ModelProfile struct {
	ID              string `json:"id"`
	Label           string `json:"label"`
	FallbackModel   string `json:"fallback_model,omitempty"`
	Temperature     float64 `json:"-"`
	MaxOutputTokens int     `json:"-"`
}

type ModelCatalogConfig struct {
	DefaultModel  string
	FallbackModel string
	Models        []string
}

// ModelCatalog lists the selectable models and resolves a fallback when the requested one is gone.
type ModelCatalog struct {
	defaultModel  string
	fallbackModel string
	profiles      []ModelProfile
}

var builtinModels = []ModelProfile{
	{ID: "gemini-2.0-flash", Label: "Gemini 2.0 Flash"},
	{ID: "gemini-2.0-flash-exp", Label: "Gemini 2.0 Flash (experimental)"},
	{ID: "gemini-1.5-flash", Label: "Gemini 1.5 Flash"},
	{ID: "gemini-1.5-pro", Label: "Gemini 1.5 Pro"},
	{ID: "gemini-pro", Label: "Gemini Pro"},
}

func NewModelCatalog(config ModelCatalogConfig) *ModelCatalog {
	if strings.TrimSpace(config.DefaultModel) == "" {
		config.DefaultModel = DefaultModel
	}
	if strings.TrimSpace(config.FallbackModel) == "" {
		config.FallbackModel = DefaultFallbackModel
	}

	profiles := make([]ModelProfile, 0, len(builtinModels)+len(config.Models))
	seen := map[string]bool{}
	for _, profile := range builtinModels {
		profiles = append(profiles, profile)
		seen[profile.ID] = true
	}
	for _, id := range config.Models {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		profiles = append(profiles, ModelProfile{ID: id, Label: id})
	}
	for i := range profiles {
		profiles[i].Temperature = 0.4
		profiles[i].MaxOutputTokens = 8192
		if profiles[i].ID != config.FallbackModel {
			profiles[i].FallbackModel = config.FallbackModel
		}
	}

	return &ModelCatalog{
		defaultModel:  strings.TrimSpace(config.DefaultModel),
		fallbackModel: strings.TrimSpace(config.FallbackModel),
		profiles:      profiles,
	}
}

func (c *ModelCatalog) Default() string {
	return c.defaultModel
}

func (c *ModelCatalog) List() []ModelProfile {
	out := make([]ModelProfile, len(c.profiles))
	copy(out, c.profiles)
	return out
}

// Select returns the profile for id, or an ad-hoc profile for unknown ids.
// Unknown ids are still sent to the backend; a 404 triggers the fallback.
func (c *ModelCatalog) Select(id string) ModelProfile {
	id = strings.TrimSpace(id)
	if id == "" {
		id = c.defaultModel
	}
	for _, profile := range c.profiles {
		if profile.ID == id {
			return profile
		}
	}
	profile := ModelProfile{ID: id, Label: id, Temperature: 0.4, MaxOutputTokens: 8192}
	if id != c.fallbackModel {
		profile.FallbackModel = c.fallbackModel
	}
	return profile
}

func (c *ModelCatalog) Known(id string) bool {
	for _, profile := range c.profiles {
		if profile.ID == id {
			return true
		}
	}
	return false
}

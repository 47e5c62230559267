package service

import (
	"fmt"
	"log"
	"strings"

	"github.com/iago/vidai-studio/internal/ai"
	"github.com/iago/vidai-studio/internal/domain"
	"github.com/iago/vidai-studio/internal/repository"
)

// SettingsService owns the operator credential and remembered preferences.
type SettingsService struct {
	repo    repository.SettingsRepository
	catalog *ai.ModelCatalog
	logger  *log.Logger
}

// SettingsView never carries the raw credential.
type SettingsView struct {
	APIKeyConfigured  bool         `json:"api_key_configured"`
	APIKeyMasked      string       `json:"api_key_masked,omitempty"`
	PreferredModel    string       `json:"preferred_model"`
	PreferredLanguage string       `json:"preferred_language"`
	PreferredStyle    domain.Style `json:"preferred_style"`
}

type SettingsUpdate struct {
	APIKey            string
	PreferredModel    string
	PreferredLanguage string
	PreferredStyle    domain.Style
}

type ModelsView struct {
	DefaultModel string            `json:"default_model"`
	Models       []ai.ModelProfile `json:"models"`
	Languages    []string          `json:"languages"`
	Styles       []domain.Style    `json:"styles"`
}

func NewSettingsService(repo repository.SettingsRepository, catalog *ai.ModelCatalog, logger *log.Logger) *SettingsService {
	if repo == nil {
		repo = repository.NewMemorySettingsRepository(domain.Settings{})
	}
	if catalog == nil {
		catalog = ai.NewModelCatalog(ai.ModelCatalogConfig{})
	}
	return &SettingsService{repo: repo, catalog: catalog, logger: logger}
}

func (s *SettingsService) Get() (SettingsView, error) {
	settings, err := s.repo.Load()
	if err != nil {
		return SettingsView{}, fmt.Errorf("load settings: %w", err)
	}
	return s.view(settings), nil
}

// Save replaces the credential and any preference given. Empty preferences keep the stored value.
func (s *SettingsService) Save(update SettingsUpdate) (SettingsView, error) {
	apiKey := strings.TrimSpace(update.APIKey)
	if apiKey == "" {
		return SettingsView{}, &domain.ValidationError{Field: "api_key", Message: "must not be empty"}
	}
	model := strings.TrimSpace(update.PreferredModel)
	if model != "" && !s.catalog.Known(model) {
		return SettingsView{}, &domain.ValidationError{Field: "preferred_model", Message: fmt.Sprintf("unknown model %q", model)}
	}
	language := strings.TrimSpace(update.PreferredLanguage)
	if language != "" && !domain.ValidLanguage(language) {
		return SettingsView{}, &domain.ValidationError{Field: "preferred_language", Message: fmt.Sprintf("unsupported language %q", language)}
	}
	if update.PreferredStyle != "" && !update.PreferredStyle.Valid() {
		return SettingsView{}, &domain.ValidationError{Field: "preferred_style", Message: fmt.Sprintf("unsupported style %q", update.PreferredStyle)}
	}

	var settings domain.Settings
	err := s.repo.Update(func(stored *domain.Settings) {
		stored.APIKey = apiKey
		if model != "" {
			stored.PreferredModel = model
		}
		if language != "" {
			stored.PreferredLanguage = language
		}
		if update.PreferredStyle != "" {
			stored.PreferredStyle = update.PreferredStyle
		}
		settings = *stored
	})
	if err != nil {
		return SettingsView{}, fmt.Errorf("save settings: %w", err)
	}
	if s.logger != nil {
		s.logger.Printf("settings saved api_key=%s", settings.MaskedAPIKey())
	}
	return s.view(settings), nil
}

func (s *SettingsService) Models() ModelsView {
	return ModelsView{
		DefaultModel: s.catalog.Default(),
		Models:       s.catalog.List(),
		Languages:    append([]string(nil), domain.Languages...),
		Styles:       append([]domain.Style(nil), domain.Styles...),
	}
}

func (s *SettingsService) view(settings domain.Settings) SettingsView {
	return SettingsView{
		APIKeyConfigured:  settings.HasAPIKey(),
		APIKeyMasked:      settings.MaskedAPIKey(),
		PreferredModel:    firstNonEmpty(settings.PreferredModel, s.catalog.Default()),
		PreferredLanguage: firstNonEmpty(settings.PreferredLanguage, domain.DefaultLanguage),
		PreferredStyle:    domain.Style(firstNonEmpty(string(settings.PreferredStyle), string(domain.StyleSummary))),
	}
}

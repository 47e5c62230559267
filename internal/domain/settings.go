package domain

import "strings"

// Settings is the operator's backend credential and remembered preferences.
type Settings struct {
	APIKey            string `json:"api_key"`
	PreferredModel    string `json:"preferred_model,omitempty"`
	PreferredLanguage string `json:"preferred_language,omitempty"`
	PreferredStyle    Style  `json:"preferred_style,omitempty"`
}

func (s Settings) HasAPIKey() bool {
	return strings.TrimSpace(s.APIKey) != ""
}

// MaskedAPIKey keeps the last four characters visible.
func (s Settings) MaskedAPIKey() string {
	if !s.HasAPIKey() {
		return ""
	}
	runes := []rune(s.APIKey)
	if len(runes) <= 4 {
		return "****"
	}
	return "****" + string(runes[len(runes)-4:])
}

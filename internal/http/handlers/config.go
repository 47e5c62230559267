package handlers

import (
	"net/http"

	"github.com/iago/vidai-studio/internal/domain"
	"github.com/iago/vidai-studio/internal/service"
)

type configRequest struct {
	APIKey            string       `json:"api_key"`
	PreferredModel    string       `json:"preferred_model,omitempty"`
	PreferredLanguage string       `json:"preferred_language,omitempty"`
	PreferredStyle    domain.Style `json:"preferred_style,omitempty"`
}

func (api *API) GetConfig(w http.ResponseWriter, r *http.Request) {
	view, err := api.settingsService.Get()
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (api *API) PutConfig(w http.ResponseWriter, r *http.Request) {
	var request configRequest
	if err := decodeJSON(r, &request); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON payload")
		return
	}
	view, err := api.settingsService.Save(service.SettingsUpdate{
		APIKey:            request.APIKey,
		PreferredModel:    request.PreferredModel,
		PreferredLanguage: request.PreferredLanguage,
		PreferredStyle:    request.PreferredStyle,
	})
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (api *API) Models(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, api.settingsService.Models())
}

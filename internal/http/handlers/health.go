package handlers

import "net/http"

func (api *API) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"active_jobs": len(api.jobsService.Active()),
	})
}

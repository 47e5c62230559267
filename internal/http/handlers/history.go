package handlers

import "net/http"

func (api *API) ListHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := api.jobsService.History(r.Context())
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": entries, "total": len(entries)})
}

func (api *API) DeleteHistoryEntry(w http.ResponseWriter, r *http.Request) {
	if err := api.jobsService.DeleteHistory(r.Context(), r.PathValue("id")); err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (api *API) ClearHistory(w http.ResponseWriter, r *http.Request) {
	if err := api.jobsService.ClearHistory(r.Context()); err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/iago/vidai-studio/internal/domain"
	"github.com/iago/vidai-studio/internal/service"
)

type submitRequest struct {
	Kind    domain.JobKind          `json:"kind"`
	URL     string                  `json:"url"`
	Options *domain.GenerateOptions `json:"options,omitempty"`
}

type jobView struct {
	JobID     string                  `json:"job_id"`
	Kind      domain.JobKind          `json:"kind"`
	URL       string                  `json:"url"`
	Platform  string                  `json:"platform"`
	Stage     domain.Stage            `json:"stage"`
	Percent   *int                    `json:"percent,omitempty"`
	Message   string                  `json:"message,omitempty"`
	Options   *domain.GenerateOptions `json:"options,omitempty"`
	Result    *domain.ResultPayload   `json:"result,omitempty"`
	File      *domain.FileResult      `json:"file,omitempty"`
	Error     *domain.ErrorInfo       `json:"error,omitempty"`
	CreatedAt time.Time               `json:"created_at"`
	UpdatedAt time.Time               `json:"updated_at"`
}

func newJobView(job domain.Job) jobView {
	return jobView{
		JobID:     job.ID,
		Kind:      job.Kind,
		URL:       job.SourceURL,
		Platform:  job.Platform,
		Stage:     job.Stage,
		Percent:   job.Percent,
		Message:   job.Message,
		Options:   job.Options,
		Result:    job.Result,
		File:      job.File,
		Error:     job.Error,
		CreatedAt: job.CreatedAt,
		UpdatedAt: job.UpdatedAt,
	}
}

func (api *API) SubmitJob(w http.ResponseWriter, r *http.Request) {
	var request submitRequest
	if err := decodeJSON(r, &request); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON payload")
		return
	}

	idempotencyKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	payloadHash := hashPayload(request)
	if idempotencyKey != "" {
		if entry, exists := api.idempotency.Get(idempotencyKey); exists {
			if entry.PayloadHash != payloadHash {
				writeError(w, r, http.StatusConflict, "idempotency_conflict", "Idempotency-Key already used with different payload")
				return
			}
			writeAccepted(w, entry.JobID, entry.CreatedAt)
			return
		}
	}

	job, err := api.jobsService.Submit(r.Context(), service.SubmitRequest{
		Kind:      request.Kind,
		SourceURL: request.URL,
		Options:   request.Options,
	})
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	if idempotencyKey != "" {
		api.idempotency.Put(idempotencyKey, payloadHash, job.ID)
	}
	writeAccepted(w, job.ID, job.CreatedAt)
}

func writeAccepted(w http.ResponseWriter, jobID string, acceptedAt time.Time) {
	w.Header().Set("Location", "/v1/jobs/"+jobID)
	w.Header().Set("Retry-After", "2")
	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":      jobID,
		"status_url":  "/v1/jobs/" + jobID,
		"events_url":  "/v1/jobs/" + jobID + "/events",
		"accepted_at": acceptedAt.Format(time.RFC3339Nano),
	})
}

func (api *API) ListActiveJobs(w http.ResponseWriter, _ *http.Request) {
	jobs := api.jobsService.Active()
	views := make([]jobView, 0, len(jobs))
	for _, job := range jobs {
		views = append(views, newJobView(job))
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": views})
}

func (api *API) JobStatus(w http.ResponseWriter, r *http.Request) {
	job, err := api.jobsService.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newJobView(job))
}

// JobEvents streams progress as Server-Sent Events until the terminal event.
func (api *API) JobEvents(w http.ResponseWriter, r *http.Request) {
	sub, err := api.jobsService.Subscribe(r.Context(), r.PathValue("id"))
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}

	controller := http.NewResponseController(w)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	_ = controller.Flush()

	for {
		event, ok, err := sub.Next(r.Context())
		if err != nil || !ok {
			return
		}
		payload, err := json.Marshal(event)
		if err != nil {
			return
		}
		name := "progress"
		if event.Terminal() {
			name = string(event.Stage)
		}
		if _, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", event.Seq, name, payload); err != nil {
			return
		}
		if err := controller.Flush(); err != nil {
			return
		}
	}
}

func (api *API) CancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if err := api.jobsService.Cancel(r.Context(), jobID); err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"job_id": jobID, "status": "cancelling"})
}

func (api *API) JobResult(w http.ResponseWriter, r *http.Request) {
	entry, err := api.jobsService.Result(r.Context(), r.PathValue("id"))
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (api *API) ExportJob(w http.ResponseWriter, r *http.Request) {
	format, err := service.ParseExportFormat(r.URL.Query().Get("format"))
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	export, err := api.jobsService.Export(r.Context(), r.PathValue("id"), format)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Disposition", contentDisposition(export.FileName))
	w.Header().Set("Content-Length", strconv.Itoa(len(export.Body)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(export.Body)
}

func (api *API) JobFile(w http.ResponseWriter, r *http.Request) {
	file, err := api.jobsService.File(r.Context(), r.PathValue("id"))
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}

	handle, err := os.Open(file.Path)
	if err != nil {
		if os.IsNotExist(err) {
			api.writeServiceError(w, r, service.ErrFileGone)
			return
		}
		api.writeServiceError(w, r, err)
		return
	}
	defer handle.Close()
	info, err := handle.Stat()
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}

	w.Header().Set("Content-Disposition", contentDisposition(file.FileName))
	http.ServeContent(w, r, file.FileName, info.ModTime(), handle)
}

func contentDisposition(fileName string) string {
	return fmt.Sprintf("attachment; filename=%q", fileName)
}

package handlers

import (
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// SubmitJob runs stage 1 and answers 202 with the skeleton.
func (a *App) SubmitJob(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBriefBytes))
	if err != nil {
		a.error(w, http.StatusRequestEntityTooLarge, "too_large", "request body too large")
		return
	}
	sub, err := a.Jobs.Submit(r.Context(), body)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/jobs/"+sub.JobID+"/status")
	a.json(w, http.StatusAccepted, sub)
}

// JobStatus is the side-effecting poll: it may advance the job.
func (a *App) JobStatus(w http.ResponseWriter, r *http.Request) {
	jobID, ok := a.jobID(w, r)
	if !ok {
		return
	}
	state, err := a.Jobs.Observe(r.Context(), jobID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, state)
}

// ProcessJob explicitly advances the job. Repeating it is harmless.
func (a *App) ProcessJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := a.jobID(w, r)
	if !ok {
		return
	}
	state, err := a.Jobs.Advance(r.Context(), jobID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, state)
}

// GetJob returns the stored view without advancing.
func (a *App) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := a.jobID(w, r)
	if !ok {
		return
	}
	state, err := a.Jobs.Get(r.Context(), jobID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, state)
}

func (a *App) jobID(w http.ResponseWriter, r *http.Request) (string, bool) {
	raw := strings.TrimSpace(chi.URLParam(r, "id"))
	id, err := uuid.Parse(raw)
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "job id must be a UUID")
		return "", false
	}
	return id.String(), true
}

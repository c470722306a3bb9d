package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nat-bishop/cosmos-houdini-pipeline-sub001/internal/domain"
)

// RunGet returns one run, reconciled against the backend when its stored
// status is non-terminal. Reading can therefore mutate the row.
func (a *App) RunGet(w http.ResponseWriter, r *http.Request) {
	run, err := a.Reader.GetRunWithSync(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "run not found")
			return
		}
		a.error(w, http.StatusInternalServerError, "internal", "failed to load run")
		return
	}
	a.json(w, http.StatusOK, run)
}

// RunList returns a page of runs, each reconciled independently.
func (a *App) RunList(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r, 50)
	runs, err := a.Reader.ListRunsWithSync(r.Context(), limit, offset)
	if err != nil {
		a.error(w, http.StatusInternalServerError, "internal", "failed to list runs")
		return
	}
	a.json(w, http.StatusOK, map[string]any{"items": runs})
}

type runRatingRequest struct {
	Rating int `json:"rating"`
}

// RunRate stores a 1-5 triage rating on a run.
func (a *App) RunRate(w http.ResponseWriter, r *http.Request) {
	var req runRatingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	id := chi.URLParam(r, "id")
	if err := a.Runs.SetRating(r.Context(), id, req.Rating); err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidRating):
			a.error(w, http.StatusBadRequest, "bad_request", err.Error())
		case errors.Is(err, domain.ErrNotFound):
			a.error(w, http.StatusNotFound, "not_found", "run not found")
		default:
			a.error(w, http.StatusInternalServerError, "internal", "failed to rate run")
		}
		return
	}
	a.json(w, http.StatusOK, map[string]any{"id": id, "rating": req.Rating})
}

// RunDelete removes a run record.
func (a *App) RunDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := a.Runs.Delete(r.Context(), id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "run not found")
			return
		}
		a.error(w, http.StatusInternalServerError, "internal", "failed to delete run")
		return
	}
	a.json(w, http.StatusOK, map[string]string{"id": id, "status": "deleted"})
}

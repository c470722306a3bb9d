package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nat-bishop/cosmos-houdini-pipeline-sub001/internal/domain"
)

type promptCreateRequest struct {
	Text       string            `json:"text"`
	Inputs     map[string]string `json:"inputs"`
	Parameters map[string]any    `json:"parameters"`
}

type promptUpdateRequest struct {
	Text       string         `json:"text"`
	Parameters map[string]any `json:"parameters"`
}

// PromptCreate persists a new generation request.
func (a *App) PromptCreate(w http.ResponseWriter, r *http.Request) {
	var req promptCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "text is required")
		return
	}
	prompt := &domain.Prompt{
		ID:         domain.NewPromptID(),
		Text:       req.Text,
		Inputs:     req.Inputs,
		Parameters: req.Parameters,
		CreatedAt:  time.Now(),
	}
	if err := a.Prompts.Create(r.Context(), prompt); err != nil {
		a.Log.Error().Err(err).Msg("handlers: create prompt")
		a.error(w, http.StatusInternalServerError, "internal", "failed to create prompt")
		return
	}
	a.json(w, http.StatusCreated, prompt)
}

// PromptGet returns one prompt.
func (a *App) PromptGet(w http.ResponseWriter, r *http.Request) {
	prompt, err := a.Prompts.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "prompt not found")
			return
		}
		a.error(w, http.StatusInternalServerError, "internal", "failed to load prompt")
		return
	}
	a.json(w, http.StatusOK, prompt)
}

// PromptList returns a page of prompts.
func (a *App) PromptList(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r, 50)
	prompts, err := a.Prompts.List(r.Context(), limit, offset)
	if err != nil {
		a.error(w, http.StatusInternalServerError, "internal", "failed to list prompts")
		return
	}
	a.json(w, http.StatusOK, map[string]any{"items": prompts})
}

// PromptUpdate amends text and parameters. Inputs are immutable.
func (a *App) PromptUpdate(w http.ResponseWriter, r *http.Request) {
	var req promptUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "text is required")
		return
	}
	id := chi.URLParam(r, "id")
	if err := a.Prompts.Update(r.Context(), id, req.Text, req.Parameters); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "prompt not found")
			return
		}
		a.error(w, http.StatusInternalServerError, "internal", "failed to update prompt")
		return
	}
	a.json(w, http.StatusOK, map[string]string{"id": id})
}

// PromptDelete removes a prompt and all of its runs.
func (a *App) PromptDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := a.Prompts.Delete(r.Context(), id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "prompt not found")
			return
		}
		a.error(w, http.StatusInternalServerError, "internal", "failed to delete prompt")
		return
	}
	a.json(w, http.StatusOK, map[string]string{"id": id, "status": "deleted"})
}

// PromptRuns lists all runs of one prompt.
func (a *App) PromptRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := a.Runs.ListByPromptID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.error(w, http.StatusInternalServerError, "internal", "failed to list runs")
		return
	}
	a.json(w, http.StatusOK, map[string]any{"items": runs})
}

func pagination(r *http.Request, defaultLimit int) (limit, offset int) {
	limit = defaultLimit
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 && v <= 200 {
		limit = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v > 0 {
		offset = v
	}
	return limit, offset
}

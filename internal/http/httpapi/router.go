package httpapi

import (
	stdhttp "net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/nat-bishop/cosmos-houdini-pipeline-sub001/internal/http/handlers"
	"github.com/nat-bishop/cosmos-houdini-pipeline-sub001/internal/middleware"
)

// NewRouter wires the API routes and middleware chain.
func NewRouter(app *handlers.App, logger zerolog.Logger, allowedOrigins []string) stdhttp.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, chimw.RealIP, chimw.Recoverer)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.CORS(allowedOrigins))

	r.Get("/v1/healthz", app.Health)

	r.Route("/v1/prompts", func(r chi.Router) {
		r.Post("/", app.PromptCreate)
		r.Get("/", app.PromptList)
		r.Get("/{id}", app.PromptGet)
		r.Put("/{id}", app.PromptUpdate)
		r.Delete("/{id}", app.PromptDelete)
		r.Get("/{id}/runs", app.PromptRuns)
	})

	r.Route("/v1/runs", func(r chi.Router) {
		r.Get("/", app.RunList)
		r.Get("/{id}", app.RunGet)
		r.Post("/{id}/rating", app.RunRate)
		r.Delete("/{id}", app.RunDelete)
	})

	r.Route("/v1/queue", func(r chi.Router) {
		r.Post("/jobs", app.JobEnqueue)
		r.Get("/jobs/{id}", app.JobGet)
		r.Post("/jobs/{id}/cancel", app.JobCancel)
		r.Get("/status", app.QueueStatus)
		r.Post("/pause", app.QueuePause)
		r.Post("/resume", app.QueueResume)
		r.Post("/clear", app.QueueClear)
		r.Post("/batch/analyze", app.BatchAnalyze)
		r.Post("/batch/execute", app.BatchExecute)
	})

	return r
}

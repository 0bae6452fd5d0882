package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// createRenderHandler creates a job from a template and starts it in one
// call. A job whose start is rejected stays a draft and is still returned
// in listings.
func createRenderHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateRenderRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if req.TemplateID == "" {
			WriteError(w, http.StatusBadRequest, "template_id is required", "BAD_REQUEST")
			return
		}

		job, err := cfg.CatalogService.UseTemplate(r.Context(), req.TemplateID, req.JobRequest)
		if err != nil {
			WriteAppError(w, cfg.Logger, err)
			return
		}
		started, err := cfg.Renderer.Start(r.Context(), job.ID)
		if err != nil {
			WriteAppError(w, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusAccepted, JobToResponse(started))
	}
}

func listRendersHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobs, err := cfg.CatalogService.ListJobs(r.Context(), r.URL.Query().Get("status"), listLimit(r))
		if err != nil {
			WriteAppError(w, cfg.Logger, err)
			return
		}

		resp := JobsResponse{Jobs: make([]JobResponse, len(jobs))}
		for i, j := range jobs {
			resp.Jobs[i] = JobToResponse(j)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func getRenderHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := cfg.CatalogService.GetJob(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			WriteAppError(w, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, JobToResponse(job))
	}
}

func startRenderHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := cfg.Renderer.Start(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			WriteAppError(w, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusAccepted, JobToResponse(job))
	}
}

func cancelRenderHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := cfg.Renderer.Cancel(r.Context(), id); err != nil {
			WriteAppError(w, cfg.Logger, err)
			return
		}
		job, err := cfg.CatalogService.GetJob(r.Context(), id)
		if err != nil {
			WriteAppError(w, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, JobToResponse(job))
	}
}

func deleteRenderHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := cfg.Renderer.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
			WriteAppError(w, cfg.Logger, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

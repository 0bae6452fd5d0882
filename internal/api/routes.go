package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/reelkit/reelkit/internal/catalog"
)

const defaultListLimit = 50

func NewRouter(cfg ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(CORSMiddleware(cfg.CORSOrigins))
	r.Use(BodyLimitMiddleware(cfg.MaxBodyBytes))

	r.Get("/health", healthHandler(cfg))
	if cfg.Files != nil {
		r.Get("/files/*", filesHandler(cfg))
		r.Head("/files/*", filesHandler(cfg))
	}

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Repository, cfg.Logger))

		r.Get("/status", statusHandler(cfg))

		r.Get("/templates", listTemplatesHandler(cfg))
		r.Post("/templates", importTemplateHandler(cfg))
		r.Get("/templates/{id}", getTemplateHandler(cfg))
		r.Post("/templates/{id}/use", useTemplateHandler(cfg))

		r.Post("/renders", createRenderHandler(cfg))
		r.Get("/renders", listRendersHandler(cfg))
		r.Get("/renders/{id}", getRenderHandler(cfg))
		r.Post("/renders/{id}/start", startRenderHandler(cfg))
		r.Post("/renders/{id}/cancel", cancelRenderHandler(cfg))
		r.Delete("/renders/{id}", deleteRenderHandler(cfg))
		r.Get("/renders/{id}/watch", watchRenderHandler(cfg))

		r.Get("/captions/styles", stylesHandler(cfg))
		r.Get("/fonts", fontsHandler(cfg))

		r.Post("/captions", createCaptionHandler(cfg))
		r.Get("/captions", listCaptionsHandler(cfg))
		r.Get("/captions/{id}", getCaptionHandler(cfg))
		r.Put("/captions/{id}/segments", updateSegmentsHandler(cfg))
		r.Post("/captions/{id}/export", exportCaptionHandler(cfg))
		r.Post("/captions/{id}/burn", burnCaptionHandler(cfg))
		r.Delete("/captions/{id}", deleteCaptionHandler(cfg))

		r.Post("/subtitles/export", exportSubtitlesHandler(cfg))
	})

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:  "ok",
			Version: cfg.Version,
			UptimeS: int64(time.Since(cfg.StartTime).Seconds()),
		})
	}
}

func filesHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cfg.Files.ServeObject(w, r, chi.URLParam(r, "*"))
	}
}

func statusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		renders, err := cfg.Repository.CountJobsByStatus(ctx)
		if err != nil {
			WriteAppError(w, cfg.Logger, err)
			return
		}
		caps, err := cfg.Repository.CountCaptionsByStatus(ctx)
		if err != nil {
			WriteAppError(w, cfg.Logger, err)
			return
		}

		resp := StatusResponse{
			State:    "idle",
			Renders:  renders,
			Captions: caps,
		}
		if cfg.Renderer != nil {
			resp.ActiveRenders = cfg.Renderer.ActiveCount()
			resp.EncodeSlots = cfg.Renderer.EncodeSlots()
		}
		if cfg.CaptionQueue != nil {
			resp.CaptionsPaused = cfg.CaptionQueue.IsPaused()
		}
		switch {
		case resp.ActiveRenders > 0 || renders[catalog.JobStatusRendering] > 0:
			resp.State = "rendering"
		case caps[catalog.CaptionStatusProcessing] > 0:
			resp.State = "transcribing"
		case resp.CaptionsPaused:
			resp.State = "paused"
		}

		if failed, err := cfg.Repository.ListJobs(ctx, catalog.JobStatusFailed, 1); err == nil && len(failed) > 0 {
			resp.LastError = failed[0].Error
		}

		// Peek never blocks on ffmpeg; the probe is refreshed at startup.
		if cfg.Probe != nil {
			resp.Encoder = cfg.Probe.Peek()
		}

		WriteJSON(w, http.StatusOK, resp)
	}
}

func listTemplatesHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tpls, err := cfg.CatalogService.ListTemplates(r.Context(), r.URL.Query().Get("category"))
		if err != nil {
			WriteAppError(w, cfg.Logger, err)
			return
		}

		resp := TemplatesResponse{Templates: make([]TemplateResponse, len(tpls))}
		for i, t := range tpls {
			resp.Templates[i] = TemplateToResponse(t, false)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

// importTemplateHandler stores a raw JSON or YAML definition from the body.
// The optional "name" query parameter supplies the id when the definition has
// none.
func importTemplateHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				WriteError(w, http.StatusRequestEntityTooLarge, "request body too large", "BODY_TOO_LARGE")
				return
			}
			WriteError(w, http.StatusBadRequest, "failed to read body", "BAD_REQUEST")
			return
		}
		if len(data) == 0 {
			WriteError(w, http.StatusBadRequest, "template body is empty", "BAD_REQUEST")
			return
		}

		tpl, err := cfg.CatalogService.ImportTemplate(r.Context(), templateUploadName(r), data, "")
		if err != nil {
			WriteAppError(w, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusCreated, TemplateToResponse(tpl, true))
	}
}

func templateUploadName(r *http.Request) string {
	name := strings.TrimSpace(r.URL.Query().Get("name"))
	if name == "" {
		name = "template"
	}
	if catalog.IsTemplateFile(name) {
		return name
	}
	if strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "yaml") {
		return name + ".yaml"
	}
	return name + ".json"
}

func getTemplateHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tpl, err := cfg.CatalogService.GetTemplate(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			WriteAppError(w, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, TemplateToResponse(tpl, true))
	}
}

// useTemplateHandler creates a draft job without starting it.
func useTemplateHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req catalog.JobRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		job, err := cfg.CatalogService.UseTemplate(r.Context(), chi.URLParam(r, "id"), req)
		if err != nil {
			WriteAppError(w, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusCreated, JobToResponse(job))
	}
}

func stylesHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		presets := cfg.Formatter.Presets()
		WriteJSON(w, http.StatusOK, StylesResponse{
			Default: presets.Default().ID,
			Styles:  presets.All(),
		})
	}
}

func fontsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := FontsResponse{}
		if cfg.Fonts != nil {
			resp.Fonts = cfg.Fonts.List()
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

// listLimit reads the "limit" query parameter, falling back to the default
// for missing or invalid values.
func listLimit(r *http.Request) int {
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return defaultListLimit
}

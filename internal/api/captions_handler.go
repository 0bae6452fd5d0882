package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/reelkit/reelkit/internal/catalog"
	"github.com/reelkit/reelkit/internal/subtitle"
)

// createCaptionHandler stores a caption. Imported segments complete it
// immediately; otherwise the transcription runner is woken.
func createCaptionHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req catalog.CaptionRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		c, err := cfg.CatalogService.CreateCaption(r.Context(), req)
		if err != nil {
			WriteAppError(w, cfg.Logger, err)
			return
		}
		if c.Status == catalog.CaptionStatusPending && cfg.CaptionQueue != nil {
			cfg.CaptionQueue.Notify()
		}
		WriteJSON(w, http.StatusCreated, CaptionToResponse(c, true))
	}
}

func listCaptionsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := cfg.CatalogService.ListCaptions(r.Context(), listLimit(r))
		if err != nil {
			WriteAppError(w, cfg.Logger, err)
			return
		}

		resp := CaptionsResponse{Captions: make([]CaptionResponse, len(list))}
		for i, c := range list {
			resp.Captions[i] = CaptionToResponse(c, false)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func getCaptionHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := cfg.CatalogService.GetCaption(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			WriteAppError(w, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, CaptionToResponse(c, true))
	}
}

func updateSegmentsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req UpdateSegmentsRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if len(req.Segments) == 0 {
			WriteError(w, http.StatusBadRequest, "segments must not be empty", "BAD_REQUEST")
			return
		}

		c, err := cfg.CatalogService.UpdateSegments(r.Context(), chi.URLParam(r, "id"), req.Segments)
		if err != nil {
			WriteAppError(w, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, CaptionToResponse(c, true))
	}
}

func exportCaptionHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CaptionExportRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		format, err := subtitle.ParseFormat(req.Format)
		if err != nil {
			WriteAppError(w, cfg.Logger, err)
			return
		}

		exp, err := cfg.Captions.Export(r.Context(), chi.URLParam(r, "id"), format, req.Options)
		if err != nil {
			WriteAppError(w, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, ExportToResponse(exp))
	}
}

// burnCaptionHandler encodes the captions into the source video. It runs in
// the request; a cached burn returns immediately.
func burnCaptionHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BurnRequest
		if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
			return
		}

		exp, err := cfg.Captions.Burn(r.Context(), chi.URLParam(r, "id"), req)
		if err != nil {
			WriteAppError(w, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, ExportToResponse(exp))
	}
}

func deleteCaptionHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := cfg.Captions.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
			WriteAppError(w, cfg.Logger, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

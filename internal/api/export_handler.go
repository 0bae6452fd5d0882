package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/reelkit/reelkit/internal/storage"
	"github.com/reelkit/reelkit/internal/subtitle"
)

// exportSubtitlesHandler formats caller-supplied segments without touching
// storage. With download=1 the file itself is returned instead of the JSON
// envelope.
func exportSubtitlesHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SubtitleExportRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if len(req.Segments) == 0 {
			WriteError(w, http.StatusBadRequest, "segments must not be empty", "BAD_REQUEST")
			return
		}

		format, err := subtitle.ParseFormat(req.Format)
		if err != nil {
			WriteAppError(w, cfg.Logger, err)
			return
		}

		exp, err := cfg.Formatter.Format(req.Segments, format, req.Options)
		if err != nil {
			WriteAppError(w, cfg.Logger, err)
			return
		}
		for _, warning := range exp.Warnings {
			cfg.Logger.Warn("subtitle export warning", "format", format, "warning", warning)
		}

		if r.URL.Query().Get("download") != "1" {
			WriteJSON(w, http.StatusOK, exp)
			return
		}

		name := storage.SanitizeName(strings.ReplaceAll(req.Title, " ", "_"), 120)
		if name == "" {
			name = "captions"
		}
		w.Header().Set("Content-Type", format.ContentType())
		w.Header().Set("Content-Length", strconv.Itoa(exp.SizeBytes))
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name+format.Extension()))
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(exp.Content))
	}
}

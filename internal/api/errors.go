package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/reelkit/reelkit/internal/apperr"
)

type errorCode struct {
	status int
	code   string
}

// sentinelCodes gives the stable code for each domain error. Order matters
// where one sentinel wraps another.
var sentinelCodes = []struct {
	err error
	errorCode
}{
	{apperr.ErrTemplateNotFound, errorCode{http.StatusNotFound, "TEMPLATE_NOT_FOUND"}},
	{apperr.ErrJobNotFound, errorCode{http.StatusNotFound, "JOB_NOT_FOUND"}},
	{apperr.ErrCaptionNotFound, errorCode{http.StatusNotFound, "CAPTION_NOT_FOUND"}},
	{apperr.ErrPresetNotFound, errorCode{http.StatusNotFound, "PRESET_NOT_FOUND"}},
	{apperr.ErrMissingRequiredField, errorCode{http.StatusUnprocessableEntity, "MISSING_REQUIRED_FIELD"}},
	{apperr.ErrMalformedSegmentTiming, errorCode{http.StatusUnprocessableEntity, "MALFORMED_SEGMENT_TIMING"}},
	{apperr.ErrUnsupportedFormat, errorCode{http.StatusBadRequest, "UNSUPPORTED_FORMAT"}},
	{apperr.ErrUnsupportedOutputFormat, errorCode{http.StatusBadRequest, "UNSUPPORTED_OUTPUT_FORMAT"}},
	{apperr.ErrJobAlreadyRendering, errorCode{http.StatusConflict, "ALREADY_RENDERING"}},
	{apperr.ErrJobAlreadyTerminal, errorCode{http.StatusConflict, "ALREADY_TERMINAL"}},
	{apperr.ErrCaptionAlreadyProcessing, errorCode{http.StatusConflict, "ALREADY_PROCESSING"}},
	{apperr.ErrCaptionNotReady, errorCode{http.StatusConflict, "CAPTION_NOT_READY"}},
	{apperr.ErrAssetUnavailable, errorCode{http.StatusBadGateway, "ASSET_UNAVAILABLE"}},
	{apperr.ErrEncodeFailure, errorCode{http.StatusInternalServerError, "ENCODE_FAILED"}},
}

var kindCodes = map[apperr.Kind]errorCode{
	apperr.KindNotFound:   {http.StatusNotFound, "NOT_FOUND"},
	apperr.KindValidation: {http.StatusBadRequest, "VALIDATION_ERROR"},
	apperr.KindConflict:   {http.StatusConflict, "CONFLICT"},
	apperr.KindAsset:      {http.StatusBadGateway, "ASSET_UNAVAILABLE"},
	apperr.KindEncode:     {http.StatusInternalServerError, "ENCODE_FAILED"},
}

func classify(err error) errorCode {
	for _, s := range sentinelCodes {
		if errors.Is(err, s.err) {
			return s.errorCode
		}
	}
	if c, ok := kindCodes[apperr.KindOf(err)]; ok {
		return c
	}
	return errorCode{http.StatusInternalServerError, "INTERNAL_ERROR"}
}

// WriteAppError maps err to a status and stable code. Internal errors are
// logged and their message is not exposed.
func WriteAppError(w http.ResponseWriter, logger *slog.Logger, err error) {
	c := classify(err)
	if c.status >= http.StatusInternalServerError && c.code == "INTERNAL_ERROR" {
		logger.Error("request failed", "error", err)
		WriteError(w, c.status, "internal error", c.code)
		return
	}

	resp := ErrorResponse{Error: err.Error(), Code: c.code}
	var ae *apperr.Error
	if errors.As(err, &ae) && len(ae.Details) > 0 {
		resp.Details = ae.Details
	}
	WriteJSON(w, c.status, resp)
}

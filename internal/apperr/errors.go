// Package apperr defines the error taxonomy shared by the compositor,
// the subtitle formatter and the render orchestrator. Sentinel errors identify
// the failure class; Error carries operation context and still matches its
// sentinel through errors.Is.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for logging and HTTP mapping.
type Kind string

const (
	KindNotFound   Kind = "not_found"
	KindValidation Kind = "validation"
	KindConflict   Kind = "conflict"
	KindAsset      Kind = "asset"
	KindEncode     Kind = "encode"
	KindInternal   Kind = "internal"
)

var (
	ErrTemplateNotFound = errors.New("template not found")

	// ErrMissingRequiredField is returned when a required placeholder has
	// neither a customization value nor a default.
	ErrMissingRequiredField = errors.New("missing required field")

	// ErrAssetUnavailable is soft under the skip policy: the layer is dropped.
	ErrAssetUnavailable = errors.New("asset unavailable")

	ErrEncodeFailure           = errors.New("encode failed")
	ErrUnsupportedFormat       = errors.New("unsupported export format")
	ErrUnsupportedOutputFormat = errors.New("unsupported output format")
	ErrMalformedSegmentTiming  = errors.New("malformed segment timing")

	// ErrPresetNotFound never fails an export; callers fall back to the
	// default preset.
	ErrPresetNotFound = errors.New("preset not found")

	ErrJobNotFound         = errors.New("job not found")
	ErrJobAlreadyRendering = errors.New("job already rendering")
	ErrJobAlreadyTerminal  = errors.New("job already finished")

	ErrCaptionNotFound          = errors.New("caption not found")
	ErrCaptionAlreadyProcessing = errors.New("caption already processing")
	ErrCaptionNotReady          = errors.New("caption has no segments")
)

// Error provides structured error information with context.
type Error struct {
	Kind    Kind
	Op      string
	Err     error
	Details map[string]any
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New wraps err with a kind and the failing operation.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err, Details: make(map[string]any)}
}

// WithDetail adds a key-value detail to the error.
func (e *Error) WithDetail(key string, value any) *Error {
	e.Details[key] = value
	return e
}

// KindOf returns the kind of err, inferring it from well-known sentinels when
// err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	switch {
	case errors.Is(err, ErrTemplateNotFound), errors.Is(err, ErrJobNotFound), errors.Is(err, ErrCaptionNotFound):
		return KindNotFound
	case errors.Is(err, ErrMissingRequiredField), errors.Is(err, ErrUnsupportedFormat),
		errors.Is(err, ErrUnsupportedOutputFormat), errors.Is(err, ErrMalformedSegmentTiming),
		errors.Is(err, ErrCaptionNotReady):
		return KindValidation
	case errors.Is(err, ErrJobAlreadyRendering), errors.Is(err, ErrJobAlreadyTerminal),
		errors.Is(err, ErrCaptionAlreadyProcessing):
		return KindConflict
	case errors.Is(err, ErrAssetUnavailable):
		return KindAsset
	case errors.Is(err, ErrEncodeFailure):
		return KindEncode
	default:
		return KindInternal
	}
}

// MissingFieldError names the placeholder that could not be resolved.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("missing required field %q", e.Field)
}

func (e *MissingFieldError) Unwrap() error { return ErrMissingRequiredField }

// SegmentTimingError reports a segment (or one of its words) whose end
// precedes its start.
type SegmentTimingError struct {
	Index int
	Word  int // -1 when the segment itself is malformed
	Start float64
	End   float64
}

func (e *SegmentTimingError) Error() string {
	if e.Word >= 0 {
		return fmt.Sprintf("segment %d word %d: end %.3f before start %.3f", e.Index, e.Word, e.End, e.Start)
	}
	return fmt.Sprintf("segment %d: end %.3f before start %.3f", e.Index, e.End, e.Start)
}

func (e *SegmentTimingError) Unwrap() error { return ErrMalformedSegmentTiming }

// EncodeError captures a failed encoder invocation.
type EncodeError struct {
	ExitCode int
	Stderr   string
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("encoder exited %d: %s", e.ExitCode, e.Stderr)
}

func (e *EncodeError) Unwrap() error { return ErrEncodeFailure }

package subtitle

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/reelkit/reelkit/internal/apperr"
)

type Format string

const (
	FormatSRT  Format = "srt"
	FormatVTT  Format = "vtt"
	FormatASS  Format = "ass"
	FormatJSON Format = "json"
	FormatTXT  Format = "txt"
)

// Formats lists every supported export format.
var Formats = []Format{FormatSRT, FormatVTT, FormatASS, FormatJSON, FormatTXT}

// ParseFormat validates an export format name.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Formats {
		if f == known {
			return f, nil
		}
	}
	return "", apperr.New(apperr.KindValidation, "parse subtitle format", apperr.ErrUnsupportedFormat).
		WithDetail("format", s)
}

func (f Format) Extension() string { return "." + string(f) }

func (f Format) ContentType() string {
	switch f {
	case FormatVTT:
		return "text/vtt; charset=utf-8"
	case FormatJSON:
		return "application/json; charset=utf-8"
	case FormatASS:
		return "text/x-ssa; charset=utf-8"
	default:
		return "text/plain; charset=utf-8"
	}
}

// StyleSettings overrides presets for ASS output.
type StyleSettings struct {
	FontFamily      string   `json:"font_family,omitempty"`
	FontSize        int      `json:"font_size,omitempty"`
	FontWeight      int      `json:"font_weight,omitempty"`
	FontColor       string   `json:"font_color,omitempty"`
	BackgroundColor *string  `json:"background_color,omitempty"`
	Position        Position `json:"position,omitempty"`
	TextTransform   string   `json:"text_transform,omitempty"`
}

type Options struct {
	IncludeTranslation bool           `json:"include_translation"`
	Karaoke            bool           `json:"karaoke"`
	PresetID           string         `json:"preset_id,omitempty"`
	Style              *StyleSettings `json:"style_settings,omitempty"`
	Title              string         `json:"title,omitempty"`
	// SkipMalformed drops segments with bad timing instead of rejecting the
	// whole request.
	SkipMalformed bool `json:"skip_malformed"`
}

type Export struct {
	Format    Format   `json:"format"`
	Content   string   `json:"content"`
	SizeBytes int      `json:"size_bytes"`
	Warnings  []string `json:"warnings,omitempty"`
}

// Formatter renders caption files. It holds only the immutable preset
// registry and is safe for concurrent use.
type Formatter struct {
	presets *Presets
	logger  *slog.Logger
}

func NewFormatter(presets *Presets, logger *slog.Logger) *Formatter {
	if presets == nil {
		presets = DefaultPresets()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Formatter{presets: presets, logger: logger}
}

func (f *Formatter) Presets() *Presets { return f.presets }

// Format renders segments in the requested format.
func (f *Formatter) Format(segments []Segment, format Format, opts Options) (*Export, error) {
	format, err := ParseFormat(string(format))
	if err != nil {
		return nil, err
	}

	exp := &Export{Format: format}
	segments, err = f.validate(segments, opts, exp)
	if err != nil {
		return nil, err
	}

	switch format {
	case FormatSRT:
		exp.Content = cues(segments, ',', opts.IncludeTranslation)
	case FormatVTT:
		exp.Content = "WEBVTT\n\n" + cues(segments, '.', opts.IncludeTranslation)
	case FormatASS:
		exp.Content = f.ass(segments, opts, exp)
	case FormatJSON:
		exp.Content, err = marshalSegments(segments)
		if err != nil {
			return nil, err
		}
	case FormatTXT:
		exp.Content = PlainText(segments)
	}
	exp.SizeBytes = len(exp.Content)
	return exp, nil
}

func (f *Formatter) validate(segments []Segment, opts Options, exp *Export) ([]Segment, error) {
	out := segments[:0:0]
	for _, s := range segments {
		if err := s.Validate(); err != nil {
			if !opts.SkipMalformed {
				return nil, apperr.New(apperr.KindValidation, "format subtitles", err)
			}
			exp.Warnings = append(exp.Warnings, "skipped "+err.Error())
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func cues(segments []Segment, sep byte, translate bool) string {
	blocks := make([]string, 0, len(segments))
	for i, s := range segments {
		text := strings.TrimSpace(s.Text)
		if translate && strings.TrimSpace(s.TextTranslated) != "" {
			text += "\n" + strings.TrimSpace(s.TextTranslated)
		}
		blocks = append(blocks, fmt.Sprintf("%d\n%s --> %s\n%s\n", i+1, srtTime(s.Start, sep), srtTime(s.End, sep), text))
	}
	return strings.Join(blocks, "\n")
}

func marshalSegments(segments []Segment) (string, error) {
	if segments == nil {
		segments = []Segment{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(segments); err != nil {
		return "", fmt.Errorf("encode segments: %w", err)
	}
	return buf.String(), nil
}

// ParseSegments decodes a JSON segment list.
func ParseSegments(data []byte) ([]Segment, error) {
	var segments []Segment
	if err := json.Unmarshal(data, &segments); err != nil {
		return nil, fmt.Errorf("decode segments: %w", err)
	}
	return segments, nil
}

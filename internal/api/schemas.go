package api

import (
	"sort"
	"time"

	"github.com/reelkit/reelkit/internal/captions"
	"github.com/reelkit/reelkit/internal/catalog"
	"github.com/reelkit/reelkit/internal/encoder"
	"github.com/reelkit/reelkit/internal/fonts"
	"github.com/reelkit/reelkit/internal/subtitle"
	"github.com/reelkit/reelkit/internal/template"
)

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	UptimeS int64  `json:"uptime_s"`
}

type StatusResponse struct {
	State          string                `json:"state"`
	LastError      string                `json:"last_error,omitempty"`
	ActiveRenders  int                   `json:"active_renders"`
	EncodeSlots    int                   `json:"encode_slots"`
	Renders        map[string]int        `json:"renders"`
	Captions       map[string]int        `json:"captions"`
	CaptionsPaused bool                  `json:"captions_paused"`
	Encoder        *encoder.Capabilities `json:"encoder,omitempty"`
}

type ErrorResponse struct {
	Error   string         `json:"error"`
	Code    string         `json:"code,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

type PlaceholderResponse struct {
	ID        string `json:"id"`
	Type      string `json:"type,omitempty"`
	Label     string `json:"label,omitempty"`
	Required  bool   `json:"required"`
	MaxLength int    `json:"max_length,omitempty"`
	Default   any    `json:"default,omitempty"`
}

type TemplateResponse struct {
	ID           string                `json:"id"`
	Name         string                `json:"name"`
	Category     string                `json:"category,omitempty"`
	Width        int                   `json:"width"`
	Height       int                   `json:"height"`
	Duration     float64               `json:"duration_seconds"`
	Themes       []string              `json:"themes,omitempty"`
	Placeholders []PlaceholderResponse `json:"placeholders"`
	UsageCount   int                   `json:"usage_count"`
	Definition   *template.Definition  `json:"definition,omitempty"`
	CreatedAt    string                `json:"created_at"`
	UpdatedAt    string                `json:"updated_at"`
}

type TemplatesResponse struct {
	Templates []TemplateResponse `json:"templates"`
}

// CreateRenderRequest creates a job from a template and starts it.
type CreateRenderRequest struct {
	TemplateID string `json:"template_id"`
	catalog.JobRequest
}

type JobResponse struct {
	ID            string                 `json:"id"`
	TemplateID    string                 `json:"template_id"`
	Title         string                 `json:"title"`
	Status        string                 `json:"status"`
	Progress      int                    `json:"progress"`
	Quality       string                 `json:"quality"`
	OutputFormat  string                 `json:"output_format"`
	Customization template.Customization `json:"customization"`
	Watermark     string                 `json:"watermark,omitempty"`
	OutputURL     string                 `json:"output_url,omitempty"`
	PosterURL     string                 `json:"poster_url,omitempty"`
	Error         string                 `json:"error,omitempty"`
	CreatedAt     string                 `json:"created_at"`
	UpdatedAt     string                 `json:"updated_at"`
	RenderedAt    string                 `json:"rendered_at,omitempty"`
}

type JobsResponse struct {
	Jobs []JobResponse `json:"jobs"`
}

type CaptionResponse struct {
	ID               string                  `json:"id"`
	Title            string                  `json:"title"`
	SourceURL        string                  `json:"source_url,omitempty"`
	LanguageHint     string                  `json:"language_hint"`
	PresetID         string                  `json:"preset_id,omitempty"`
	StyleSettings    *subtitle.StyleSettings `json:"style_settings,omitempty"`
	WordTimestamps   bool                    `json:"word_timestamps"`
	Status           string                  `json:"status"`
	Segments         []subtitle.Segment      `json:"segments,omitempty"`
	TranscriptText   string                  `json:"transcript_text,omitempty"`
	DetectedLanguage string                  `json:"detected_language,omitempty"`
	DurationSeconds  float64                 `json:"duration_seconds"`
	ProcessingMs     int64                   `json:"processing_ms,omitempty"`
	IsEdited         bool                    `json:"is_edited"`
	Error            string                  `json:"error,omitempty"`
	CreatedAt        string                  `json:"created_at"`
	UpdatedAt        string                  `json:"updated_at"`
	CompletedAt      string                  `json:"completed_at,omitempty"`
}

type CaptionsResponse struct {
	Captions []CaptionResponse `json:"captions"`
}

type UpdateSegmentsRequest struct {
	Segments []subtitle.Segment `json:"segments"`
}

type CaptionExportRequest struct {
	Format string `json:"format"`
	subtitle.Options
}

type BurnRequest = captions.BurnOptions

type ExportResponse struct {
	CaptionID string `json:"caption_id"`
	Format    string `json:"format"`
	URL       string `json:"url"`
	SizeBytes int64  `json:"size_bytes"`
	CreatedAt string `json:"created_at"`
}

// SubtitleExportRequest formats segments without storing anything.
type SubtitleExportRequest struct {
	Segments []subtitle.Segment `json:"segments"`
	Format   string             `json:"format"`
	subtitle.Options
}

type StylesResponse struct {
	Default string            `json:"default"`
	Styles  []subtitle.Preset `json:"styles"`
}

type FontsResponse struct {
	Fonts []fonts.Installed `json:"fonts"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatNullTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

// TemplateToResponse summarises t. The full definition is included only
// when withDefinition is set.
func TemplateToResponse(t *catalog.Template, withDefinition bool) TemplateResponse {
	resp := TemplateResponse{
		ID:           t.ID,
		Name:         t.Name,
		Category:     t.Category,
		UsageCount:   t.UsageCount,
		Placeholders: []PlaceholderResponse{},
		CreatedAt:    formatTime(t.CreatedAt),
		UpdatedAt:    formatTime(t.UpdatedAt),
	}
	def := t.Definition
	if def == nil {
		return resp
	}
	resp.Width, resp.Height = def.Width, def.Height
	resp.Duration = def.DefaultDurationSeconds
	for id := range def.Themes {
		resp.Themes = append(resp.Themes, id)
	}
	sort.Strings(resp.Themes)
	for id, p := range def.Placeholders {
		resp.Placeholders = append(resp.Placeholders, PlaceholderResponse{
			ID:        id,
			Type:      p.Type,
			Label:     p.Label,
			Required:  p.Required,
			MaxLength: p.MaxLength,
			Default:   p.Default,
		})
	}
	sort.Slice(resp.Placeholders, func(i, j int) bool { return resp.Placeholders[i].ID < resp.Placeholders[j].ID })
	if withDefinition {
		resp.Definition = def
	}
	return resp
}

func JobToResponse(j *catalog.RenderJob) JobResponse {
	return JobResponse{
		ID:            j.ID,
		TemplateID:    j.TemplateID,
		Title:         j.Title,
		Status:        j.Status,
		Progress:      j.Progress,
		Quality:       j.Quality,
		OutputFormat:  j.OutputFormat,
		Customization: j.Customization,
		Watermark:     j.Watermark,
		OutputURL:     j.OutputURL,
		PosterURL:     j.PosterURL,
		Error:         j.Error,
		CreatedAt:     formatTime(j.CreatedAt),
		UpdatedAt:     formatTime(j.UpdatedAt),
		RenderedAt:    formatNullTime(j.RenderedAt),
	}
}

// CaptionToResponse omits segments in listings.
func CaptionToResponse(c *catalog.Caption, withSegments bool) CaptionResponse {
	resp := CaptionResponse{
		ID:               c.ID,
		Title:            c.Title,
		SourceURL:        c.SourceURL,
		LanguageHint:     c.LanguageHint,
		PresetID:         c.PresetID,
		StyleSettings:    c.StyleSettings,
		WordTimestamps:   c.WordTimestamps,
		Status:           c.Status,
		DetectedLanguage: c.DetectedLanguage,
		DurationSeconds:  c.DurationSeconds,
		ProcessingMs:     c.ProcessingMs,
		IsEdited:         c.IsEdited,
		Error:            c.Error,
		CreatedAt:        formatTime(c.CreatedAt),
		UpdatedAt:        formatTime(c.UpdatedAt),
		CompletedAt:      formatNullTime(c.CompletedAt),
	}
	if withSegments {
		resp.Segments = c.Segments
		resp.TranscriptText = c.TranscriptText
	}
	return resp
}

func ExportToResponse(e *catalog.CaptionExport) ExportResponse {
	return ExportResponse{
		CaptionID: e.CaptionID,
		Format:    e.Format,
		URL:       e.URL,
		SizeBytes: e.SizeBytes,
		CreatedAt: formatTime(e.CreatedAt),
	}
}

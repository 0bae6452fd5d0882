package catalog

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/reelkit/reelkit/internal/subtitle"
	"github.com/reelkit/reelkit/internal/template"
)

type Template struct {
	ID         string               `json:"id"`
	Name       string               `json:"name"`
	Category   string               `json:"category,omitempty"`
	Definition *template.Definition `json:"definition"`
	SourcePath string               `json:"source_path,omitempty"`
	UsageCount int                  `json:"usage_count"`
	CreatedAt  time.Time            `json:"created_at"`
	UpdatedAt  time.Time            `json:"updated_at"`
}

const (
	JobStatusDraft     = "draft"
	JobStatusRendering = "rendering"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

// RenderJob is one render of a template. OutputURL is set exactly when the
// job is completed.
type RenderJob struct {
	ID            string                 `json:"id"`
	TemplateID    string                 `json:"template_id"`
	Title         string                 `json:"title"`
	Customization template.Customization `json:"customization"`
	Status        string                 `json:"status"`
	Progress      int                    `json:"progress"`
	Quality       string                 `json:"quality"`
	OutputFormat  string                 `json:"output_format"`
	Watermark     string                 `json:"watermark,omitempty"`
	OutputURL     string                 `json:"output_url,omitempty"`
	PosterURL     string                 `json:"poster_url,omitempty"`
	OutputKey     string                 `json:"-"`
	PosterKey     string                 `json:"-"`
	Error         string                 `json:"error,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
	UpdatedAt     time.Time              `json:"updated_at"`
	RenderedAt    *time.Time             `json:"rendered_at,omitempty"`
}

// IsTerminal reports whether the job can no longer change state.
func (j *RenderJob) IsTerminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}

// JobOutput is what a successful render publishes.
type JobOutput struct {
	OutputURL string
	OutputKey string
	PosterURL string
	PosterKey string
}

const (
	CaptionStatusPending    = "pending"
	CaptionStatusProcessing = "processing"
	CaptionStatusCompleted  = "completed"
	CaptionStatusFailed     = "failed"
)

type Caption struct {
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
	ProcessingMs     int64                   `json:"processing_ms"`
	IsEdited         bool                    `json:"is_edited"`
	Error            string                  `json:"error,omitempty"`
	CreatedAt        time.Time               `json:"created_at"`
	UpdatedAt        time.Time               `json:"updated_at"`
	CompletedAt      *time.Time              `json:"completed_at,omitempty"`
}

// CaptionExport is a published export. Fingerprint identifies the options it
// was produced with; a cached row is reused only when it matches.
type CaptionExport struct {
	CaptionID   string    `json:"caption_id"`
	Format      string    `json:"format"`
	Fingerprint string    `json:"-"`
	URL         string    `json:"url"`
	ObjectKey   string    `json:"-"`
	SizeBytes   int64     `json:"size_bytes"`
	CreatedAt   time.Time `json:"created_at"`
}

type ConfigEntry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

var TemplateExtensions = map[string]bool{
	".json": true,
	".yaml": true,
	".yml":  true,
}

func NewID() string {
	return uuid.NewString()
}

func IsTemplateFile(filename string) bool {
	if strings.HasPrefix(filepath.Base(filename), ".") {
		return false
	}
	return TemplateExtensions[strings.ToLower(filepath.Ext(filename))]
}

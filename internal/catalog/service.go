package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/reelkit/reelkit/internal/apperr"
	"github.com/reelkit/reelkit/internal/encoder"
	"github.com/reelkit/reelkit/internal/storage"
	"github.com/reelkit/reelkit/internal/subtitle"
	"github.com/reelkit/reelkit/internal/template"
)

const maxTemplateIDLen = 64

type CatalogService interface {
	ImportTemplate(ctx context.Context, name string, data []byte, sourcePath string) (*Template, error)
	ListTemplates(ctx context.Context, category string) ([]*Template, error)
	GetTemplate(ctx context.Context, id string) (*Template, error)
	SyncTemplateFile(ctx context.Context, path string) (*Template, error)
	RemoveTemplateSource(ctx context.Context, path string) (int, error)
	UseTemplate(ctx context.Context, templateID string, req JobRequest) (*RenderJob, error)
	ListJobs(ctx context.Context, status string, limit int) ([]*RenderJob, error)
	GetJob(ctx context.Context, id string) (*RenderJob, error)
	DeleteJob(ctx context.Context, id string) (*RenderJob, error)
	CreateCaption(ctx context.Context, req CaptionRequest) (*Caption, error)
	ListCaptions(ctx context.Context, limit int) ([]*Caption, error)
	GetCaption(ctx context.Context, id string) (*Caption, error)
	UpdateSegments(ctx context.Context, id string, segments []subtitle.Segment) (*Caption, error)
	DeleteCaption(ctx context.Context, id string) (*Caption, []*CaptionExport, error)
}

// JobRequest describes a render created from a template.
type JobRequest struct {
	Title         string                 `json:"title"`
	Customization template.Customization `json:"customization"`
	Quality       string                 `json:"quality"`
	OutputFormat  string                 `json:"output_format"`
	Watermark     string                 `json:"watermark"`
}

// CaptionRequest creates a caption. With Segments the caption is imported
// as completed; otherwise it waits for transcription of SourceURL.
type CaptionRequest struct {
	Title          string                  `json:"title"`
	SourceURL      string                  `json:"source_url"`
	LanguageHint   string                  `json:"language_hint"`
	PresetID       string                  `json:"preset_id"`
	StyleSettings  *subtitle.StyleSettings `json:"style_settings"`
	WordTimestamps bool                    `json:"word_timestamps"`
	Segments       []subtitle.Segment      `json:"segments"`
}

type Service struct {
	repo   Repository
	logger *slog.Logger
}

func NewService(repo Repository, logger *slog.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// ImportTemplate parses a JSON or YAML definition and stores it. The id comes
// from the definition, else from the file name; re-importing the same id
// replaces the stored definition and keeps its usage count.
func (s *Service) ImportTemplate(ctx context.Context, name string, data []byte, sourcePath string) (*Template, error) {
	def, err := template.Parse(name, data)
	if err != nil {
		return nil, apperr.New(apperr.KindValidation, "import template", err)
	}

	id := def.ID
	if id == "" {
		id = strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	}
	id = storage.SanitizeName(strings.ReplaceAll(strings.ToLower(id), " ", "_"), maxTemplateIDLen)
	if id == "" {
		id = NewID()
	}
	def.ID = id

	displayName := def.Name
	if displayName == "" {
		displayName = id
	}

	now := time.Now()
	tpl := &Template{
		ID:         id,
		Name:       displayName,
		Category:   def.Category,
		Definition: def,
		SourcePath: sourcePath,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if existing, err := s.repo.GetTemplate(ctx, id); err != nil {
		return nil, err
	} else if existing != nil {
		tpl.CreatedAt = existing.CreatedAt
		tpl.UsageCount = existing.UsageCount
	}

	if err := s.repo.UpsertTemplate(ctx, tpl); err != nil {
		return nil, err
	}

	if s.logger != nil {
		s.logger.Info("template imported", "template_id", id, "layers", len(def.Layers), "source", sourcePath)
	}
	return tpl, nil
}

// SyncTemplateFile imports the definition stored at path.
func (s *Service) SyncTemplateFile(ctx context.Context, path string) (*Template, error) {
	if !IsTemplateFile(path) {
		return nil, apperr.New(apperr.KindValidation, "sync template", fmt.Errorf("not a template file: %s", filepath.Base(path)))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read template: %w", err)
	}
	return s.ImportTemplate(ctx, filepath.Base(path), data, path)
}

// RemoveTemplateSource deletes the templates imported from path and returns
// how many were removed. Jobs already created from them keep their rows.
func (s *Service) RemoveTemplateSource(ctx context.Context, path string) (int, error) {
	tpls, err := s.repo.ListTemplates(ctx, "")
	if err != nil {
		return 0, err
	}
	n := 0
	for _, t := range tpls {
		if t.SourcePath != path {
			continue
		}
		if err := s.repo.DeleteTemplate(ctx, t.ID); err != nil {
			return n, err
		}
		n++
	}
	if n > 0 && s.logger != nil {
		s.logger.Info("templates removed with source file", "source", path, "count", n)
	}
	return n, nil
}

func (s *Service) ListTemplates(ctx context.Context, category string) ([]*Template, error) {
	return s.repo.ListTemplates(ctx, category)
}

func (s *Service) GetTemplate(ctx context.Context, id string) (*Template, error) {
	tpl, err := s.repo.GetTemplate(ctx, id)
	if err != nil {
		return nil, err
	}
	if tpl == nil {
		return nil, apperr.New(apperr.KindNotFound, "get template", apperr.ErrTemplateNotFound).WithDetail("template_id", id)
	}
	return tpl, nil
}

// UseTemplate creates a draft render job for the template. Output format is
// validated here so an unsupported format never reaches the renderer.
func (s *Service) UseTemplate(ctx context.Context, templateID string, req JobRequest) (*RenderJob, error) {
	tpl, err := s.GetTemplate(ctx, templateID)
	if err != nil {
		return nil, err
	}

	format := encoder.FormatMP4
	if req.OutputFormat != "" {
		if format, err = encoder.ParseFormat(req.OutputFormat); err != nil {
			return nil, err
		}
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = tpl.Name
	}

	now := time.Now()
	job := &RenderJob{
		ID:            NewID(),
		TemplateID:    tpl.ID,
		Title:         title,
		Customization: req.Customization,
		Status:        JobStatusDraft,
		Quality:       string(encoder.ParseQuality(req.Quality)),
		OutputFormat:  string(format),
		Watermark:     strings.TrimSpace(req.Watermark),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.repo.CreateJob(ctx, job); err != nil {
		return nil, err
	}
	if err := s.repo.IncrementTemplateUsage(ctx, tpl.ID); err != nil && s.logger != nil {
		s.logger.Warn("failed to bump template usage", "template_id", tpl.ID, "error", err)
	}

	if s.logger != nil {
		s.logger.Info("render job created", "job_id", job.ID, "template_id", tpl.ID, "format", job.OutputFormat, "quality", job.Quality)
	}
	return job, nil
}

func (s *Service) ListJobs(ctx context.Context, status string, limit int) ([]*RenderJob, error) {
	return s.repo.ListJobs(ctx, status, limit)
}

func (s *Service) GetJob(ctx context.Context, id string) (*RenderJob, error) {
	job, err := s.repo.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, apperr.New(apperr.KindNotFound, "get job", apperr.ErrJobNotFound).WithDetail("job_id", id)
	}
	return job, nil
}

// DeleteJob removes the job row and returns it so the caller can release
// stored outputs. A rendering job observes the deletion at its next status
// poll and aborts.
func (s *Service) DeleteJob(ctx context.Context, id string) (*RenderJob, error) {
	job, err := s.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.repo.DeleteJob(ctx, id); err != nil {
		return nil, err
	}
	if s.logger != nil {
		s.logger.Info("render job deleted", "job_id", id, "status", job.Status)
	}
	return job, nil
}

func (s *Service) CreateCaption(ctx context.Context, req CaptionRequest) (*Caption, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, apperr.New(apperr.KindValidation, "create caption", fmt.Errorf("title is required"))
	}
	if req.SourceURL == "" && len(req.Segments) == 0 {
		return nil, apperr.New(apperr.KindValidation, "create caption", fmt.Errorf("source_url or segments is required"))
	}
	for _, seg := range req.Segments {
		if err := seg.Validate(); err != nil {
			return nil, apperr.New(apperr.KindValidation, "create caption", err)
		}
	}

	lang := strings.TrimSpace(req.LanguageHint)
	if lang == "" {
		lang = "auto"
	}

	now := time.Now()
	c := &Caption{
		ID:             NewID(),
		Title:          title,
		SourceURL:      req.SourceURL,
		LanguageHint:   lang,
		PresetID:       req.PresetID,
		StyleSettings:  req.StyleSettings,
		WordTimestamps: req.WordTimestamps,
		Status:         CaptionStatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if len(req.Segments) > 0 {
		c.Status = CaptionStatusCompleted
		c.Segments = req.Segments
		c.TranscriptText = subtitle.PlainText(req.Segments)
		c.DurationSeconds = req.Segments[len(req.Segments)-1].End
		c.CompletedAt = &now
	}

	if err := s.repo.CreateCaption(ctx, c); err != nil {
		return nil, err
	}
	if s.logger != nil {
		s.logger.Info("caption created", "caption_id", c.ID, "status", c.Status, "segments", len(c.Segments))
	}
	return c, nil
}

func (s *Service) ListCaptions(ctx context.Context, limit int) ([]*Caption, error) {
	return s.repo.ListCaptions(ctx, limit)
}

func (s *Service) GetCaption(ctx context.Context, id string) (*Caption, error) {
	c, err := s.repo.GetCaption(ctx, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, apperr.New(apperr.KindNotFound, "get caption", apperr.ErrCaptionNotFound).WithDetail("caption_id", id)
	}
	return c, nil
}

// UpdateSegments replaces the caption text after a user edit. Only completed
// captions can be edited.
func (s *Service) UpdateSegments(ctx context.Context, id string, segments []subtitle.Segment) (*Caption, error) {
	c, err := s.GetCaption(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status != CaptionStatusCompleted {
		return nil, apperr.New(apperr.KindConflict, "update segments", apperr.ErrCaptionNotReady).WithDetail("status", c.Status)
	}
	for _, seg := range segments {
		if err := seg.Validate(); err != nil {
			return nil, apperr.New(apperr.KindValidation, "update segments", err)
		}
	}

	c.Segments = segments
	c.TranscriptText = subtitle.PlainText(segments)
	c.IsEdited = true
	if err := s.repo.UpdateCaptionSegments(ctx, c); err != nil {
		return nil, err
	}
	return s.GetCaption(ctx, id)
}

// DeleteCaption removes the caption and its export rows. The exports are
// returned so the caller can release their stored objects.
func (s *Service) DeleteCaption(ctx context.Context, id string) (*Caption, []*CaptionExport, error) {
	c, err := s.GetCaption(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	exports, err := s.repo.ListExports(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if err := s.repo.DeleteCaption(ctx, id); err != nil {
		return nil, nil, err
	}
	if s.logger != nil {
		s.logger.Info("caption deleted", "caption_id", id, "exports", len(exports))
	}
	return c, exports, nil
}

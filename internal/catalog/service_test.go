package catalog

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/reelkit/reelkit/internal/apperr"
	"github.com/reelkit/reelkit/internal/db"
	"github.com/reelkit/reelkit/internal/subtitle"
	"github.com/reelkit/reelkit/internal/template"
)

const testTemplateJSON = `{
  "id": "Diwali Promo",
  "name": "Diwali Promo",
  "category": "festival",
  "defaultDurationSeconds": 12,
  "themes": {"gold": {"colors": {"bg": "#201000"}}},
  "placeholders": {"headline": {"type": "text", "default": "Shubh Deepavali"}},
  "layers": [
    {"type": "solid", "style": {"color": "$theme.colors.bg"}},
    {"id": "title", "type": "text", "z": 2, "text": "$placeholder.headline"}
  ]
}`

func setupTestDB(t *testing.T) (*db.DB, Repository) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	database, err := db.New(dbPath, nil)
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	repo := NewRepository(database.Conn())
	return database, repo
}

func TestService_ImportTemplate(t *testing.T) {
	database, repo := setupTestDB(t)
	defer database.Close()

	svc := NewService(repo, nil)
	ctx := context.Background()

	tpl, err := svc.ImportTemplate(ctx, "diwali.json", []byte(testTemplateJSON), "/templates/diwali.json")
	if err != nil {
		t.Fatalf("ImportTemplate() error = %v", err)
	}
	if tpl.ID != "diwali_promo" {
		t.Errorf("tpl.ID = %s, want diwali_promo", tpl.ID)
	}
	if tpl.Category != "festival" {
		t.Errorf("tpl.Category = %s, want festival", tpl.Category)
	}

	got, err := svc.GetTemplate(ctx, "diwali_promo")
	if err != nil {
		t.Fatalf("GetTemplate() error = %v", err)
	}
	if len(got.Definition.Layers) != 2 {
		t.Fatalf("stored %d layers, want 2", len(got.Definition.Layers))
	}
	if ref := got.Definition.Layers[1].Text.Ref(); ref != "$placeholder.headline" {
		t.Errorf("text token = %q, want placeholder reference", ref)
	}
	if got.SourcePath != "/templates/diwali.json" {
		t.Errorf("SourcePath = %s", got.SourcePath)
	}
}

func TestService_ImportTemplate_IDFromFileName(t *testing.T) {
	database, repo := setupTestDB(t)
	defer database.Close()

	svc := NewService(repo, nil)
	yamlDef := "name: Reel Intro\nlayers:\n  - type: text\n    text: hello\n"
	tpl, err := svc.ImportTemplate(context.Background(), "Reel Intro.yaml", []byte(yamlDef), "")
	if err != nil {
		t.Fatalf("ImportTemplate() error = %v", err)
	}
	if tpl.ID != "reel_intro" {
		t.Errorf("tpl.ID = %s, want reel_intro", tpl.ID)
	}
}

func TestService_ImportTemplate_KeepsUsageCount(t *testing.T) {
	database, repo := setupTestDB(t)
	defer database.Close()

	svc := NewService(repo, nil)
	ctx := context.Background()

	tpl, _ := svc.ImportTemplate(ctx, "diwali.json", []byte(testTemplateJSON), "")
	if _, err := svc.UseTemplate(ctx, tpl.ID, JobRequest{}); err != nil {
		t.Fatalf("UseTemplate() error = %v", err)
	}
	if _, err := svc.ImportTemplate(ctx, "diwali.json", []byte(testTemplateJSON), ""); err != nil {
		t.Fatalf("re-import error = %v", err)
	}
	got, _ := svc.GetTemplate(ctx, tpl.ID)
	if got.UsageCount != 1 {
		t.Errorf("UsageCount = %d, want 1", got.UsageCount)
	}
}

func TestService_ImportTemplate_Invalid(t *testing.T) {
	database, repo := setupTestDB(t)
	defer database.Close()

	svc := NewService(repo, nil)
	_, err := svc.ImportTemplate(context.Background(), "bad.json", []byte(`{"layers":[{"type":"shape"}]}`), "")
	if apperr.KindOf(err) != apperr.KindValidation {
		t.Fatalf("ImportTemplate() error = %v, want validation", err)
	}
}

func TestService_UseTemplate(t *testing.T) {
	database, repo := setupTestDB(t)
	defer database.Close()

	svc := NewService(repo, nil)
	ctx := context.Background()
	tpl, _ := svc.ImportTemplate(ctx, "diwali.json", []byte(testTemplateJSON), "")

	dur := 8.0
	job, err := svc.UseTemplate(ctx, tpl.ID, JobRequest{
		Customization: template.Customization{Values: map[string]any{"headline": "Happy Diwali"}, DurationSeconds: &dur},
		Quality:       "bogus",
		OutputFormat:  "webm",
	})
	if err != nil {
		t.Fatalf("UseTemplate() error = %v", err)
	}
	if job.Status != JobStatusDraft || job.Quality != "high" || job.OutputFormat != "webm" || job.Title != "Diwali Promo" {
		t.Fatalf("job = %+v", job)
	}

	got, err := svc.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob() error = %v", err)
	}
	if got.Customization.Values["headline"] != "Happy Diwali" || *got.Customization.DurationSeconds != 8 {
		t.Errorf("customization = %+v", got.Customization)
	}
}

func TestService_UseTemplate_Errors(t *testing.T) {
	database, repo := setupTestDB(t)
	defer database.Close()

	svc := NewService(repo, nil)
	ctx := context.Background()
	tpl, _ := svc.ImportTemplate(ctx, "diwali.json", []byte(testTemplateJSON), "")

	if _, err := svc.UseTemplate(ctx, "missing", JobRequest{}); !errors.Is(err, apperr.ErrTemplateNotFound) {
		t.Errorf("missing template error = %v", err)
	}
	if _, err := svc.UseTemplate(ctx, tpl.ID, JobRequest{OutputFormat: "avi"}); !errors.Is(err, apperr.ErrUnsupportedOutputFormat) {
		t.Errorf("bad format error = %v", err)
	}
	jobs, _ := svc.ListJobs(ctx, "", 0)
	if len(jobs) != 0 {
		t.Errorf("rejected requests created %d jobs", len(jobs))
	}
}

func TestService_DeleteJob(t *testing.T) {
	database, repo := setupTestDB(t)
	defer database.Close()

	svc := NewService(repo, nil)
	ctx := context.Background()
	tpl, _ := svc.ImportTemplate(ctx, "diwali.json", []byte(testTemplateJSON), "")
	job, _ := svc.UseTemplate(ctx, tpl.ID, JobRequest{})

	if _, err := svc.DeleteJob(ctx, job.ID); err != nil {
		t.Fatalf("DeleteJob() error = %v", err)
	}
	if _, err := svc.GetJob(ctx, job.ID); !errors.Is(err, apperr.ErrJobNotFound) {
		t.Errorf("GetJob() after delete = %v", err)
	}
	if _, err := svc.DeleteJob(ctx, job.ID); !errors.Is(err, apperr.ErrJobNotFound) {
		t.Errorf("second DeleteJob() = %v", err)
	}
}

func TestService_CreateCaption(t *testing.T) {
	database, repo := setupTestDB(t)
	defer database.Close()

	svc := NewService(repo, nil)
	ctx := context.Background()

	tests := []struct {
		name       string
		req        CaptionRequest
		wantStatus string
		wantErr    bool
	}{
		{"transcribe", CaptionRequest{Title: "Vlog", SourceURL: "https://cdn.example/v.mp4"}, CaptionStatusPending, false},
		{"import", CaptionRequest{Title: "Vlog", Segments: []subtitle.Segment{{Index: 0, Start: 0, End: 2.5, Text: "Namaste"}}}, CaptionStatusCompleted, false},
		{"no title", CaptionRequest{SourceURL: "x"}, "", true},
		{"no source", CaptionRequest{Title: "Vlog"}, "", true},
		{"bad timing", CaptionRequest{Title: "Vlog", Segments: []subtitle.Segment{{Start: 3, End: 1, Text: "x"}}}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := svc.CreateCaption(ctx, tt.req)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("CreateCaption() error = %v", err)
			}
			got, err := svc.GetCaption(ctx, c.ID)
			if err != nil {
				t.Fatalf("GetCaption() error = %v", err)
			}
			if got.Status != tt.wantStatus || got.LanguageHint != "auto" {
				t.Errorf("caption = %+v", got)
			}
		})
	}
}

func TestService_UpdateSegments(t *testing.T) {
	database, repo := setupTestDB(t)
	defer database.Close()

	svc := NewService(repo, nil)
	ctx := context.Background()

	pending, _ := svc.CreateCaption(ctx, CaptionRequest{Title: "p", SourceURL: "x"})
	if _, err := svc.UpdateSegments(ctx, pending.ID, nil); !errors.Is(err, apperr.ErrCaptionNotReady) {
		t.Errorf("editing pending caption = %v", err)
	}

	c, _ := svc.CreateCaption(ctx, CaptionRequest{Title: "c", Segments: []subtitle.Segment{{End: 1, Text: "ek"}}})
	repo.UpsertExport(ctx, &CaptionExport{CaptionID: c.ID, Format: "srt", Fingerprint: "f", URL: "u", ObjectKey: "k"})

	got, err := svc.UpdateSegments(ctx, c.ID, []subtitle.Segment{{End: 1, Text: "ek"}, {Index: 1, Start: 1, End: 2, Text: "do"}})
	if err != nil {
		t.Fatalf("UpdateSegments() error = %v", err)
	}
	if !got.IsEdited || len(got.Segments) != 2 || got.TranscriptText != "ek\ndo" {
		t.Errorf("caption = %+v", got)
	}
	if e, _ := repo.GetExport(ctx, c.ID, "srt"); e != nil {
		t.Error("cached export should be dropped after edit")
	}
}

func TestService_DeleteCaption(t *testing.T) {
	database, repo := setupTestDB(t)
	defer database.Close()

	svc := NewService(repo, nil)
	ctx := context.Background()

	c, _ := svc.CreateCaption(ctx, CaptionRequest{Title: "c", Segments: []subtitle.Segment{{End: 1, Text: "ek"}}})
	repo.UpsertExport(ctx, &CaptionExport{CaptionID: c.ID, Format: "vtt", Fingerprint: "f", URL: "u", ObjectKey: "captions/c/x.vtt"})

	_, exports, err := svc.DeleteCaption(ctx, c.ID)
	if err != nil {
		t.Fatalf("DeleteCaption() error = %v", err)
	}
	if len(exports) != 1 || exports[0].ObjectKey != "captions/c/x.vtt" {
		t.Errorf("exports = %+v", exports)
	}
	if _, err := svc.GetCaption(ctx, c.ID); !errors.Is(err, apperr.ErrCaptionNotFound) {
		t.Errorf("GetCaption() after delete = %v", err)
	}
}

func TestService_SyncTemplateFile(t *testing.T) {
	database, repo := setupTestDB(t)
	defer database.Close()

	svc := NewService(repo, nil)
	ctx := context.Background()

	dir := t.TempDir()
	path := filepath.Join(dir, "diwali.json")
	if err := os.WriteFile(path, []byte(testTemplateJSON), 0644); err != nil {
		t.Fatalf("write template: %v", err)
	}

	tpl, err := svc.SyncTemplateFile(ctx, path)
	if err != nil {
		t.Fatalf("SyncTemplateFile() error = %v", err)
	}
	if tpl.SourcePath != path {
		t.Errorf("SourcePath = %q", tpl.SourcePath)
	}

	if _, err := svc.SyncTemplateFile(ctx, filepath.Join(dir, "notes.txt")); apperr.KindOf(err) != apperr.KindValidation {
		t.Errorf("non-template file: expected validation error, got %v", err)
	}

	n, err := svc.RemoveTemplateSource(ctx, path)
	if err != nil {
		t.Fatalf("RemoveTemplateSource() error = %v", err)
	}
	if n != 1 {
		t.Errorf("removed %d templates, want 1", n)
	}
	if _, err := svc.GetTemplate(ctx, tpl.ID); !errors.Is(err, apperr.ErrTemplateNotFound) {
		t.Errorf("GetTemplate() after remove = %v", err)
	}
	if n, _ := svc.RemoveTemplateSource(ctx, path); n != 0 {
		t.Errorf("second remove deleted %d", n)
	}
}

func TestIsTemplateFile(t *testing.T) {
	tests := []struct {
		filename string
		want     bool
	}{
		{"promo.json", true},
		{"promo.YAML", true},
		{"promo.yml", true},
		{".promo.json", false},
		{"promo.json.swp", false},
		{"promo.mp4", false},
		{"noextension", false},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			if got := IsTemplateFile(tt.filename); got != tt.want {
				t.Errorf("IsTemplateFile(%s) = %v, want %v", tt.filename, got, tt.want)
			}
		})
	}
}

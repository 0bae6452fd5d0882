package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

type Repository interface {
	UpsertTemplate(ctx context.Context, t *Template) error
	GetTemplate(ctx context.Context, id string) (*Template, error)
	ListTemplates(ctx context.Context, category string) ([]*Template, error)
	DeleteTemplate(ctx context.Context, id string) error
	IncrementTemplateUsage(ctx context.Context, id string) error

	CreateJob(ctx context.Context, job *RenderJob) error
	GetJob(ctx context.Context, id string) (*RenderJob, error)
	ListJobs(ctx context.Context, status string, limit int) ([]*RenderJob, error)
	DeleteJob(ctx context.Context, id string) error
	CountJobsByStatus(ctx context.Context) (map[string]int, error)
	TransitionJob(ctx context.Context, id, from, to string) (bool, error)
	UpdateJobProgress(ctx context.Context, id string, progress int) error
	CompleteJob(ctx context.Context, id string, out JobOutput) (bool, error)
	FailJob(ctx context.Context, id, errorMsg string) (bool, error)

	CreateCaption(ctx context.Context, c *Caption) error
	GetCaption(ctx context.Context, id string) (*Caption, error)
	ListCaptions(ctx context.Context, limit int) ([]*Caption, error)
	ListPendingCaptions(ctx context.Context) ([]*Caption, error)
	DeleteCaption(ctx context.Context, id string) error
	CountCaptionsByStatus(ctx context.Context) (map[string]int, error)
	ClaimCaption(ctx context.Context, id string) (bool, error)
	CompleteCaption(ctx context.Context, c *Caption) (bool, error)
	FailCaption(ctx context.Context, id, errorMsg string) (bool, error)
	UpdateCaptionSegments(ctx context.Context, c *Caption) error

	GetExport(ctx context.Context, captionID, format string) (*CaptionExport, error)
	ListExports(ctx context.Context, captionID string) ([]*CaptionExport, error)
	UpsertExport(ctx context.Context, e *CaptionExport) error

	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error
}

type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db, now: time.Now}
}

type scanner interface {
	Scan(dest ...any) error
}

func (r *SQLiteRepository) stamp() string {
	return formatTime(r.now())
}

const templateColumns = `id, name, category, definition, source_path, usage_count, created_at, updated_at`

func (r *SQLiteRepository) UpsertTemplate(ctx context.Context, t *Template) error {
	def, err := json.Marshal(t.Definition)
	if err != nil {
		return fmt.Errorf("encode definition: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO templates (`+templateColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			category = excluded.category,
			definition = excluded.definition,
			source_path = excluded.source_path,
			updated_at = excluded.updated_at
	`, t.ID, t.Name, t.Category, string(def), nullString(t.SourcePath), t.UsageCount,
		formatTime(t.CreatedAt), formatTime(t.UpdatedAt))
	return err
}

func (r *SQLiteRepository) GetTemplate(ctx context.Context, id string) (*Template, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+templateColumns+` FROM templates WHERE id = ?`, id)
	t, err := scanTemplate(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return t, err
}

func (r *SQLiteRepository) ListTemplates(ctx context.Context, category string) ([]*Template, error) {
	query := `SELECT ` + templateColumns + ` FROM templates`
	var args []any
	if category != "" {
		query += ` WHERE category = ?`
		args = append(args, category)
	}
	query += ` ORDER BY usage_count DESC, name ASC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var templates []*Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		templates = append(templates, t)
	}
	return templates, rows.Err()
}

func scanTemplate(s scanner) (*Template, error) {
	var t Template
	var def string
	var sourcePath sql.NullString
	var createdAt, updatedAt string

	if err := s.Scan(&t.ID, &t.Name, &t.Category, &def, &sourcePath, &t.UsageCount, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(def), &t.Definition); err != nil {
		return nil, fmt.Errorf("decode definition of template %s: %w", t.ID, err)
	}
	t.SourcePath = sourcePath.String
	t.CreatedAt = parseTime(createdAt)
	t.UpdatedAt = parseTime(updatedAt)
	return &t, nil
}

func (r *SQLiteRepository) DeleteTemplate(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM templates WHERE id = ?", id)
	return err
}

func (r *SQLiteRepository) IncrementTemplateUsage(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, "UPDATE templates SET usage_count = usage_count + 1 WHERE id = ?", id)
	return err
}

const jobColumns = `id, template_id, title, customization, status, progress, quality, output_format,
	watermark, output_url, poster_url, output_key, poster_key, error, created_at, updated_at, rendered_at`

func (r *SQLiteRepository) CreateJob(ctx context.Context, j *RenderJob) error {
	custom, err := json.Marshal(j.Customization)
	if err != nil {
		return fmt.Errorf("encode customization: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO render_jobs (id, template_id, title, customization, status, progress, quality,
			output_format, watermark, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, j.ID, j.TemplateID, j.Title, string(custom), j.Status, j.Progress, j.Quality,
		j.OutputFormat, nullString(j.Watermark), formatTime(j.CreatedAt), formatTime(j.UpdatedAt))
	return err
}

func (r *SQLiteRepository) GetJob(ctx context.Context, id string) (*RenderJob, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM render_jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return j, err
}

func (r *SQLiteRepository) ListJobs(ctx context.Context, status string, limit int) ([]*RenderJob, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + jobColumns + ` FROM render_jobs`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC, id ASC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*RenderJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func scanJob(s scanner) (*RenderJob, error) {
	var j RenderJob
	var custom string
	var watermark, outputURL, posterURL, outputKey, posterKey, errMsg, renderedAt sql.NullString
	var createdAt, updatedAt string

	err := s.Scan(&j.ID, &j.TemplateID, &j.Title, &custom, &j.Status, &j.Progress, &j.Quality, &j.OutputFormat,
		&watermark, &outputURL, &posterURL, &outputKey, &posterKey, &errMsg, &createdAt, &updatedAt, &renderedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(custom), &j.Customization); err != nil {
		return nil, fmt.Errorf("decode customization of job %s: %w", j.ID, err)
	}
	j.Watermark = watermark.String
	j.OutputURL = outputURL.String
	j.PosterURL = posterURL.String
	j.OutputKey = outputKey.String
	j.PosterKey = posterKey.String
	j.Error = errMsg.String
	j.CreatedAt = parseTime(createdAt)
	j.UpdatedAt = parseTime(updatedAt)
	j.RenderedAt = parseNullTime(renderedAt)
	return &j, nil
}

func (r *SQLiteRepository) DeleteJob(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM render_jobs WHERE id = ?", id)
	return err
}

func (r *SQLiteRepository) CountJobsByStatus(ctx context.Context) (map[string]int, error) {
	return r.countByStatus(ctx, "render_jobs")
}

// TransitionJob moves a job from one status to another only if it is still
// in the expected status. Entering rendering resets progress and error.
func (r *SQLiteRepository) TransitionJob(ctx context.Context, id, from, to string) (bool, error) {
	query := `UPDATE render_jobs SET status = ?, updated_at = ? WHERE id = ? AND status = ?`
	if to == JobStatusRendering {
		query = `UPDATE render_jobs SET status = ?, progress = 0, error = NULL, updated_at = ? WHERE id = ? AND status = ?`
	}
	res, err := r.db.ExecContext(ctx, query, to, r.stamp(), id, from)
	return affected(res, err)
}

// UpdateJobProgress never moves progress backwards and only touches jobs
// that are still rendering.
func (r *SQLiteRepository) UpdateJobProgress(ctx context.Context, id string, progress int) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE render_jobs SET progress = ?, updated_at = ?
		WHERE id = ? AND status = 'rendering' AND progress < ?
	`, progress, r.stamp(), id, progress)
	return err
}

func (r *SQLiteRepository) CompleteJob(ctx context.Context, id string, out JobOutput) (bool, error) {
	now := r.stamp()
	res, err := r.db.ExecContext(ctx, `
		UPDATE render_jobs SET status = 'completed', progress = 100, error = NULL,
			output_url = ?, output_key = ?, poster_url = ?, poster_key = ?,
			updated_at = ?, rendered_at = ?
		WHERE id = ? AND status = 'rendering'
	`, out.OutputURL, nullString(out.OutputKey), nullString(out.PosterURL), nullString(out.PosterKey), now, now, id)
	return affected(res, err)
}

func (r *SQLiteRepository) FailJob(ctx context.Context, id, errorMsg string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE render_jobs SET status = 'failed', error = ?, updated_at = ?
		WHERE id = ? AND status = 'rendering'
	`, errorMsg, r.stamp(), id)
	return affected(res, err)
}

const captionColumns = `id, title, source_url, language_hint, preset_id, style_settings, word_timestamps,
	status, segments, transcript_text, detected_language, duration_seconds, processing_ms, is_edited,
	error, created_at, updated_at, completed_at`

func (r *SQLiteRepository) CreateCaption(ctx context.Context, c *Caption) error {
	style, err := encodeNullJSON(c.StyleSettings, c.StyleSettings == nil)
	if err != nil {
		return fmt.Errorf("encode style settings: %w", err)
	}
	segments, err := encodeNullJSON(c.Segments, c.Segments == nil)
	if err != nil {
		return fmt.Errorf("encode segments: %w", err)
	}
	var completedAt sql.NullString
	if c.CompletedAt != nil {
		completedAt = nullString(formatTime(*c.CompletedAt))
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO captions (`+captionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.Title, c.SourceURL, c.LanguageHint, nullString(c.PresetID), style, boolToInt(c.WordTimestamps),
		c.Status, segments, nullString(c.TranscriptText), nullString(c.DetectedLanguage), c.DurationSeconds,
		c.ProcessingMs, boolToInt(c.IsEdited), nullString(c.Error), formatTime(c.CreatedAt),
		formatTime(c.UpdatedAt), completedAt)
	return err
}

func (r *SQLiteRepository) GetCaption(ctx context.Context, id string) (*Caption, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+captionColumns+` FROM captions WHERE id = ?`, id)
	c, err := scanCaption(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

func (r *SQLiteRepository) ListCaptions(ctx context.Context, limit int) ([]*Caption, error) {
	if limit <= 0 {
		limit = 50
	}
	return r.queryCaptions(ctx, `SELECT `+captionColumns+` FROM captions ORDER BY created_at DESC, id ASC LIMIT ?`, limit)
}

func (r *SQLiteRepository) ListPendingCaptions(ctx context.Context) ([]*Caption, error) {
	return r.queryCaptions(ctx, `SELECT `+captionColumns+` FROM captions WHERE status = 'pending' ORDER BY created_at ASC, id ASC`)
}

func (r *SQLiteRepository) queryCaptions(ctx context.Context, query string, args ...any) ([]*Caption, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var captions []*Caption
	for rows.Next() {
		c, err := scanCaption(rows)
		if err != nil {
			return nil, err
		}
		captions = append(captions, c)
	}
	return captions, rows.Err()
}

func scanCaption(s scanner) (*Caption, error) {
	var c Caption
	var presetID, style, segments, transcript, language, errMsg, completedAt sql.NullString
	var wordTimestamps, isEdited int
	var createdAt, updatedAt string

	err := s.Scan(&c.ID, &c.Title, &c.SourceURL, &c.LanguageHint, &presetID, &style, &wordTimestamps,
		&c.Status, &segments, &transcript, &language, &c.DurationSeconds, &c.ProcessingMs, &isEdited,
		&errMsg, &createdAt, &updatedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	if style.Valid {
		if err := json.Unmarshal([]byte(style.String), &c.StyleSettings); err != nil {
			return nil, fmt.Errorf("decode style settings of caption %s: %w", c.ID, err)
		}
	}
	if segments.Valid {
		if err := json.Unmarshal([]byte(segments.String), &c.Segments); err != nil {
			return nil, fmt.Errorf("decode segments of caption %s: %w", c.ID, err)
		}
	}
	c.PresetID = presetID.String
	c.TranscriptText = transcript.String
	c.DetectedLanguage = language.String
	c.Error = errMsg.String
	c.WordTimestamps = wordTimestamps == 1
	c.IsEdited = isEdited == 1
	c.CreatedAt = parseTime(createdAt)
	c.UpdatedAt = parseTime(updatedAt)
	c.CompletedAt = parseNullTime(completedAt)
	return &c, nil
}

func (r *SQLiteRepository) DeleteCaption(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM captions WHERE id = ?", id)
	return err
}

func (r *SQLiteRepository) CountCaptionsByStatus(ctx context.Context) (map[string]int, error) {
	return r.countByStatus(ctx, "captions")
}

// ClaimCaption moves a pending caption to processing. Exactly one caller wins.
func (r *SQLiteRepository) ClaimCaption(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE captions SET status = 'processing', error = NULL, updated_at = ?
		WHERE id = ? AND status = 'pending'
	`, r.stamp(), id)
	return affected(res, err)
}

func (r *SQLiteRepository) CompleteCaption(ctx context.Context, c *Caption) (bool, error) {
	segments, err := encodeNullJSON(c.Segments, false)
	if err != nil {
		return false, fmt.Errorf("encode segments: %w", err)
	}
	now := r.stamp()
	res, err := r.db.ExecContext(ctx, `
		UPDATE captions SET status = 'completed', segments = ?, transcript_text = ?, detected_language = ?,
			duration_seconds = ?, processing_ms = ?, error = NULL, updated_at = ?, completed_at = ?
		WHERE id = ? AND status = 'processing'
	`, segments, nullString(c.TranscriptText), nullString(c.DetectedLanguage), c.DurationSeconds,
		c.ProcessingMs, now, now, c.ID)
	return affected(res, err)
}

func (r *SQLiteRepository) FailCaption(ctx context.Context, id, errorMsg string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE captions SET status = 'failed', error = ?, updated_at = ?
		WHERE id = ? AND status = 'processing'
	`, errorMsg, r.stamp(), id)
	return affected(res, err)
}

// UpdateCaptionSegments stores edited segments and drops every cached export,
// since none of them reflects the new text.
func (r *SQLiteRepository) UpdateCaptionSegments(ctx context.Context, c *Caption) error {
	segments, err := encodeNullJSON(c.Segments, false)
	if err != nil {
		return fmt.Errorf("encode segments: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE captions SET segments = ?, transcript_text = ?, is_edited = 1, updated_at = ?
		WHERE id = ?
	`, segments, nullString(c.TranscriptText), r.stamp(), c.ID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM caption_exports WHERE caption_id = ?", c.ID); err != nil {
		return err
	}
	return tx.Commit()
}

const exportColumns = `caption_id, format, fingerprint, url, object_key, size_bytes, created_at`

func (r *SQLiteRepository) GetExport(ctx context.Context, captionID, format string) (*CaptionExport, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+exportColumns+` FROM caption_exports WHERE caption_id = ? AND format = ?`, captionID, format)
	e, err := scanExport(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return e, err
}

func (r *SQLiteRepository) ListExports(ctx context.Context, captionID string) ([]*CaptionExport, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+exportColumns+` FROM caption_exports WHERE caption_id = ? ORDER BY format`, captionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var exports []*CaptionExport
	for rows.Next() {
		e, err := scanExport(rows)
		if err != nil {
			return nil, err
		}
		exports = append(exports, e)
	}
	return exports, rows.Err()
}

func scanExport(s scanner) (*CaptionExport, error) {
	var e CaptionExport
	var createdAt string
	if err := s.Scan(&e.CaptionID, &e.Format, &e.Fingerprint, &e.URL, &e.ObjectKey, &e.SizeBytes, &createdAt); err != nil {
		return nil, err
	}
	e.CreatedAt = parseTime(createdAt)
	return &e, nil
}

func (r *SQLiteRepository) UpsertExport(ctx context.Context, e *CaptionExport) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO caption_exports (`+exportColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(caption_id, format) DO UPDATE SET
			fingerprint = excluded.fingerprint,
			url = excluded.url,
			object_key = excluded.object_key,
			size_bytes = excluded.size_bytes,
			created_at = excluded.created_at
	`, e.CaptionID, e.Format, e.Fingerprint, e.URL, e.ObjectKey, e.SizeBytes, formatTime(e.CreatedAt))
	return err
}

func (r *SQLiteRepository) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, "SELECT value FROM config WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func (r *SQLiteRepository) SetConfig(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

func (r *SQLiteRepository) countByStatus(ctx context.Context, table string) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM "+table+" GROUP BY status")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func affected(res sql.Result, err error) (bool, error) {
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func encodeNullJSON(v any, null bool) (sql.NullString, error) {
	if null {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// Package captions transcribes uploaded videos into timed segments and
// publishes subtitle exports and burned-in videos.
package captions

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/reelkit/reelkit/internal/apperr"
	"github.com/reelkit/reelkit/internal/assets"
	"github.com/reelkit/reelkit/internal/catalog"
	"github.com/reelkit/reelkit/internal/encoder"
	"github.com/reelkit/reelkit/internal/filtergraph"
	"github.com/reelkit/reelkit/internal/logging"
	"github.com/reelkit/reelkit/internal/storage"
	"github.com/reelkit/reelkit/internal/subtitle"
)

// FormatBurned is the export format under which burned-in videos are cached.
const FormatBurned = "burned"

type Config struct {
	WorkDir     string
	FontsDir    string
	BurnQuality encoder.Quality
	Logger      *slog.Logger
}

// BurnOptions selects the style of subtitles burned into the source video.
type BurnOptions struct {
	PresetID string `json:"preset_id,omitempty"`
	Karaoke  bool   `json:"karaoke"`
}

type Service struct {
	repo        catalog.Repository
	fetcher     assets.Fetcher
	enc         encoder.Encoder
	transcriber Transcriber
	formatter   *subtitle.Formatter
	store       storage.Storage
	cfg         Config
	logger      *slog.Logger
}

// NewService wires the caption pipeline. transcriber may be nil, in which
// case transcription requests fail and imports still work.
func NewService(repo catalog.Repository, fetcher assets.Fetcher, enc encoder.Encoder, transcriber Transcriber,
	formatter *subtitle.Formatter, store storage.Storage, cfg Config) *Service {
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	if cfg.BurnQuality == "" {
		cfg.BurnQuality = encoder.QualityMedium
	}
	return &Service{
		repo:        repo,
		fetcher:     fetcher,
		enc:         enc,
		transcriber: transcriber,
		formatter:   formatter,
		store:       store,
		cfg:         cfg,
		logger:      logging.WithComponent(cfg.Logger, "captions"),
	}
}

func (s *Service) Formatter() *subtitle.Formatter { return s.formatter }

// Process transcribes a pending caption. Of concurrent callers only one
// claims the caption; the others get ErrCaptionAlreadyProcessing.
func (s *Service) Process(ctx context.Context, id string) error {
	ok, err := s.repo.ClaimCaption(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		c, err := s.repo.GetCaption(ctx, id)
		if err != nil {
			return err
		}
		if c == nil {
			return apperr.New(apperr.KindNotFound, "process caption", apperr.ErrCaptionNotFound).WithDetail("caption_id", id)
		}
		return apperr.New(apperr.KindConflict, "process caption", apperr.ErrCaptionAlreadyProcessing).WithDetail("status", c.Status)
	}

	c, err := s.repo.GetCaption(ctx, id)
	if err != nil {
		return err
	}
	if c == nil {
		return apperr.New(apperr.KindNotFound, "process caption", apperr.ErrCaptionNotFound).WithDetail("caption_id", id)
	}

	logger := logging.WithCaptionID(s.logger, id)
	start := time.Now()
	logger.Info("transcription started", "language_hint", c.LanguageHint, "word_timestamps", c.WordTimestamps)

	t, err := s.transcribe(ctx, c, logger)
	if err != nil {
		if _, ferr := s.repo.FailCaption(context.WithoutCancel(ctx), id, err.Error()); ferr != nil {
			logger.Error("failed to record transcription failure", "error", ferr)
		}
		logger.Error("transcription failed", "error", err)
		return err
	}

	c.Segments = t.Segments
	c.TranscriptText = t.Text
	if c.TranscriptText == "" {
		c.TranscriptText = subtitle.PlainText(t.Segments)
	}
	c.DetectedLanguage = t.Language
	c.DurationSeconds = t.Duration
	if n := len(t.Segments); n > 0 {
		c.DurationSeconds = t.Segments[n-1].End
	}
	c.ProcessingMs = time.Since(start).Milliseconds()

	ok, err = s.repo.CompleteCaption(context.WithoutCancel(ctx), c)
	if err != nil {
		return err
	}
	if !ok {
		logger.Info("caption changed during transcription, result dropped")
		return nil
	}
	logger.Info("transcription completed", "segments", len(c.Segments), "language", c.DetectedLanguage, "duration", time.Since(start))
	return nil
}

func (s *Service) transcribe(ctx context.Context, c *catalog.Caption, logger *slog.Logger) (*Transcript, error) {
	if s.transcriber == nil {
		return nil, ErrTranscriberNotConfigured
	}

	dir, err := os.MkdirTemp(s.cfg.WorkDir, "caption-*")
	if err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	defer os.RemoveAll(dir)

	video, err := s.fetcher.Materialize(ctx, c.SourceURL, dir, "source")
	if err != nil {
		return nil, err
	}

	// Mono 16kHz audio is far smaller to upload; the source file is the
	// fallback when extraction fails.
	input := filepath.Join(dir, "audio.mp3")
	if err := s.enc.ExtractAudio(ctx, video, input); err != nil {
		logger.Warn("audio extraction failed, sending source file", "error", err)
		input = video
	}

	t, err := s.transcriber.Transcribe(ctx, input, TranscribeOptions{
		Language:       c.LanguageHint,
		WordTimestamps: c.WordTimestamps,
	})
	if err != nil {
		return nil, err
	}
	normalize(t, c.WordTimestamps)
	return t, nil
}

// normalize puts every transcript string in NFC so Devanagari text compares
// and renders consistently, and re-indexes segments.
func normalize(t *Transcript, keepWords bool) {
	t.Text = strings.TrimSpace(norm.NFC.String(t.Text))
	for i := range t.Segments {
		seg := &t.Segments[i]
		seg.Index = i
		seg.Text = strings.TrimSpace(norm.NFC.String(seg.Text))
		if !keepWords {
			seg.Words = nil
			continue
		}
		for j := range seg.Words {
			seg.Words[j].Text = strings.TrimSpace(norm.NFC.String(seg.Words[j].Text))
		}
	}
}

// Export renders the caption in format and publishes it. A cached export is
// reused when it was produced with identical options.
func (s *Service) Export(ctx context.Context, id string, format subtitle.Format, opts subtitle.Options) (*catalog.CaptionExport, error) {
	format, err := subtitle.ParseFormat(string(format))
	if err != nil {
		return nil, err
	}
	c, err := s.readyCaption(ctx, id, "export caption")
	if err != nil {
		return nil, err
	}
	if opts.PresetID == "" {
		opts.PresetID = c.PresetID
	}
	if opts.Style == nil {
		opts.Style = c.StyleSettings
	}
	if opts.Title == "" {
		opts.Title = c.Title
	}

	fp := fingerprint(string(format), opts)
	if cached, err := s.repo.GetExport(ctx, id, string(format)); err != nil {
		return nil, err
	} else if cached != nil && cached.Fingerprint == fp {
		return cached, nil
	}

	exp, err := s.formatter.Format(c.Segments, format, opts)
	if err != nil {
		return nil, err
	}
	for _, w := range exp.Warnings {
		s.logger.Warn("export warning", "caption_id", id, "format", format, "warning", w)
	}

	key := storage.Key("captions", id, c.Title+format.Extension())
	url, err := s.store.Upload(ctx, strings.NewReader(exp.Content), key, format.ContentType())
	if err != nil {
		return nil, fmt.Errorf("upload export: %w", err)
	}

	row := &catalog.CaptionExport{
		CaptionID:   id,
		Format:      string(format),
		Fingerprint: fp,
		URL:         url,
		ObjectKey:   key,
		SizeBytes:   int64(exp.SizeBytes),
		CreatedAt:   time.Now(),
	}
	if err := s.repo.UpsertExport(ctx, row); err != nil {
		return nil, err
	}
	s.logger.Info("caption exported", "caption_id", id, "format", format, "bytes", exp.SizeBytes)
	return row, nil
}

// Burn renders the caption as ASS and burns it into the source video.
func (s *Service) Burn(ctx context.Context, id string, opts BurnOptions) (*catalog.CaptionExport, error) {
	c, err := s.readyCaption(ctx, id, "burn caption")
	if err != nil {
		return nil, err
	}
	if c.SourceURL == "" {
		return nil, apperr.New(apperr.KindValidation, "burn caption", errors.New("caption has no source video"))
	}
	if opts.PresetID == "" {
		opts.PresetID = c.PresetID
	}

	fp := fingerprint(FormatBurned, opts)
	if cached, err := s.repo.GetExport(ctx, id, FormatBurned); err != nil {
		return nil, err
	} else if cached != nil && cached.Fingerprint == fp {
		return cached, nil
	}

	exp, err := s.formatter.Format(c.Segments, subtitle.FormatASS, subtitle.Options{
		PresetID: opts.PresetID,
		Karaoke:  opts.Karaoke,
		Title:    c.Title,
	})
	if err != nil {
		return nil, err
	}

	dir, err := os.MkdirTemp(s.cfg.WorkDir, "burn-*")
	if err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	defer os.RemoveAll(dir)

	video, err := s.fetcher.Materialize(ctx, c.SourceURL, dir, "source")
	if err != nil {
		return nil, err
	}
	assPath := filepath.Join(dir, "captions.ass")
	if err := os.WriteFile(assPath, []byte(exp.Content), 0644); err != nil {
		return nil, fmt.Errorf("write subtitles: %w", err)
	}

	output := filepath.Join(dir, "burned.mp4")
	graph := filtergraph.SubtitleBurn(video, assPath, s.cfg.FontsDir, encoder.AudioPassthrough)
	result, err := s.enc.Run(ctx, graph.Job(encoder.OutputParams{
		Path:    output,
		Quality: s.cfg.BurnQuality,
		Format:  encoder.FormatMP4,
	}))
	if err != nil {
		return nil, err
	}

	f, err := os.Open(output)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}

	key := storage.Key("captions", id, c.Title+"_burned.mp4")
	url, err := s.store.Upload(ctx, f, key, encoder.FormatMP4.ContentType())
	if err != nil {
		return nil, fmt.Errorf("upload burned video: %w", err)
	}

	row := &catalog.CaptionExport{
		CaptionID:   id,
		Format:      FormatBurned,
		Fingerprint: fp,
		URL:         url,
		ObjectKey:   key,
		SizeBytes:   info.Size(),
		CreatedAt:   time.Now(),
	}
	if err := s.repo.UpsertExport(ctx, row); err != nil {
		return nil, err
	}
	s.logger.Info("captions burned", "caption_id", id, "preset", opts.PresetID, "karaoke", opts.Karaoke, "duration", result.Duration)
	return row, nil
}

// Delete removes the caption and releases every stored export.
func (s *Service) Delete(ctx context.Context, id string) error {
	c, err := s.repo.GetCaption(ctx, id)
	if err != nil {
		return err
	}
	if c == nil {
		return apperr.New(apperr.KindNotFound, "delete caption", apperr.ErrCaptionNotFound).WithDetail("caption_id", id)
	}
	exports, err := s.repo.ListExports(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteCaption(ctx, id); err != nil {
		return err
	}
	for _, e := range exports {
		if err := s.store.Delete(ctx, e.ObjectKey); err != nil {
			s.logger.Warn("failed to delete export object", "caption_id", id, "key", e.ObjectKey, "error", err)
		}
	}
	return nil
}

func (s *Service) readyCaption(ctx context.Context, id, op string) (*catalog.Caption, error) {
	c, err := s.repo.GetCaption(ctx, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, apperr.New(apperr.KindNotFound, op, apperr.ErrCaptionNotFound).WithDetail("caption_id", id)
	}
	if c.Status != catalog.CaptionStatusCompleted || len(c.Segments) == 0 {
		return nil, apperr.New(apperr.KindConflict, op, apperr.ErrCaptionNotReady).WithDetail("status", c.Status)
	}
	return c, nil
}

func fingerprint(format string, opts any) string {
	b, _ := json.Marshal(opts)
	h := sha256.New()
	h.Write([]byte(format))
	h.Write([]byte{0})
	h.Write(b)
	return hex.EncodeToString(h.Sum(nil))
}

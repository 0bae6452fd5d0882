package captions

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/reelkit/reelkit/internal/subtitle"
)

const (
	DefaultModel = "whisper-1"

	transcriptionPath = "/v1/audio/transcriptions"
	transcribeTimeout = 10 * time.Minute

	// Recognition prompt for code-switched Indian speech.
	defaultPrompt = "Audio from India with code-switching. Primary languages: Hindi, English, Hinglish. " +
		"Sometimes: Marathi, Tamil, Telugu. Keep proper nouns and brand names in Latin script."
)

var ErrTranscriberNotConfigured = errors.New("transcriber not configured")

type TranscribeOptions struct {
	// Language is a hint: an ISO-639-1 code, "auto" or "hinglish".
	Language       string
	WordTimestamps bool
}

type Transcript struct {
	Text     string
	Language string
	Duration float64
	Segments []subtitle.Segment
}

// Transcriber turns an audio file into timed segments.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string, opts TranscribeOptions) (*Transcript, error)
}

// TranscribeError represents a non-2xx response from the transcription API.
type TranscribeError struct {
	StatusCode int
	Body       string
}

func (e *TranscribeError) Error() string {
	return fmt.Sprintf("transcription failed: HTTP %d: %s", e.StatusCode, e.Body)
}

// HTTPTranscriber calls an OpenAI-compatible audio transcription endpoint.
type HTTPTranscriber struct {
	endpoint   string
	token      string
	model      string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewHTTPTranscriber(baseURL, token, model string, logger *slog.Logger) *HTTPTranscriber {
	if model == "" {
		model = DefaultModel
	}
	return &HTTPTranscriber{
		endpoint: strings.TrimRight(baseURL, "/") + transcriptionPath,
		token:    token,
		model:    model,
		httpClient: &http.Client{
			Timeout: transcribeTimeout,
		},
		logger: logger,
	}
}

type apiWord struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

type apiSegment struct {
	ID         int       `json:"id"`
	Start      float64   `json:"start"`
	End        float64   `json:"end"`
	Text       string    `json:"text"`
	AvgLogprob *float64  `json:"avg_logprob"`
	Words      []apiWord `json:"words"`
}

type apiResponse struct {
	Text     string       `json:"text"`
	Language string       `json:"language"`
	Duration float64      `json:"duration"`
	Segments []apiSegment `json:"segments"`
	Words    []apiWord    `json:"words"`
}

func (h *HTTPTranscriber) Transcribe(ctx context.Context, audioPath string, opts TranscribeOptions) (*Transcript, error) {
	body, contentType, err := h.multipartBody(audioPath, opts)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}

	h.logger.Info("transcribing audio", "endpoint", h.endpoint, "model", h.model, "words", opts.WordTimestamps)

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &TranscribeError{StatusCode: resp.StatusCode, Body: string(msg)}
	}

	var result apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode transcription: %w", err)
	}
	return result.transcript(opts.WordTimestamps), nil
}

func (h *HTTPTranscriber) multipartBody(audioPath string, opts TranscribeOptions) (io.Reader, string, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return nil, "", fmt.Errorf("open audio: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", fmt.Errorf("read audio: %w", err)
	}

	fields := [][2]string{
		{"model", h.model},
		{"response_format", "verbose_json"},
		{"timestamp_granularities[]", "segment"},
		{"prompt", defaultPrompt},
	}
	if opts.WordTimestamps {
		fields = append(fields, [2]string{"timestamp_granularities[]", "word"})
	}
	if lang := apiLanguage(opts.Language); lang != "" {
		fields = append(fields, [2]string{"language", lang})
	}
	for _, kv := range fields {
		if err := w.WriteField(kv[0], kv[1]); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

// apiLanguage maps a caption language hint to the API's language field.
// "auto" and "hinglish" let the model detect the language.
func apiLanguage(hint string) string {
	hint = strings.ToLower(strings.TrimSpace(hint))
	switch hint {
	case "", "auto", "hinglish":
		return ""
	}
	return hint
}

func (r apiResponse) transcript(withWords bool) *Transcript {
	t := &Transcript{
		Text:     r.Text,
		Language: r.Language,
		Duration: r.Duration,
		Segments: make([]subtitle.Segment, 0, len(r.Segments)),
	}

	words := r.Words
	for i, s := range r.Segments {
		seg := subtitle.Segment{
			Index: i,
			Start: s.Start,
			End:   s.End,
			Text:  s.Text,
		}
		if s.AvgLogprob != nil {
			c := math.Exp(*s.AvgLogprob)
			seg.Confidence = &c
		}
		if withWords {
			src := s.Words
			if len(src) == 0 {
				src, words = takeWords(words, s.End)
			}
			for _, w := range src {
				seg.Words = append(seg.Words, subtitle.Word{Text: w.Word, Start: w.Start, End: w.End})
			}
		}
		t.Segments = append(t.Segments, seg)
	}
	return t
}

// takeWords splits off the leading words that start before end. The API
// returns words for the whole file, in order.
func takeWords(words []apiWord, end float64) ([]apiWord, []apiWord) {
	n := 0
	for n < len(words) && words[n].Start < end {
		n++
	}
	return words[:n], words[n:]
}

package api

import (
	"net/http"
	"strings"
	"testing"

	"github.com/reelkit/reelkit/internal/subtitle"
)

var exportSegments = []map[string]any{
	{"segment_index": 0, "start_time": 0, "end_time": 1.2, "text": "Happy Diwali",
		"words": []map[string]any{{"word": "Happy", "start": 0, "end": 0.4}, {"word": "Diwali", "start": 0.4, "end": 0.9}}},
	{"segment_index": 1, "start_time": 1.2, "end_time": 2.5, "text": "sabko"},
}

func TestExportSubtitles_Formats(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		format string
		want   string
	}{
		{"srt", "00:00:00,000 --> 00:00:01,200"},
		{"vtt", "WEBVTT"},
		{"ass", "[Script Info]"},
		{"txt", "Happy Diwali\nsabko"},
		{"json", `"segment_index"`},
		{"SRT", "1\n00:00:00,000"},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			rr := f.do(t, http.MethodPost, "/subtitles/export", map[string]any{
				"segments": exportSegments,
				"format":   tt.format,
			})
			expectCode(t, rr, http.StatusOK, "")
			exp := decodeInto[subtitle.Export](t, rr)
			if !strings.Contains(exp.Content, tt.want) {
				t.Fatalf("content = %q, want substring %q", exp.Content, tt.want)
			}
			if exp.SizeBytes != len(exp.Content) {
				t.Fatalf("size_bytes = %d, want %d", exp.SizeBytes, len(exp.Content))
			}
		})
	}
}

func TestExportSubtitles_Karaoke(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, http.MethodPost, "/subtitles/export", map[string]any{
		"segments": exportSegments,
		"format":   "ass",
		"karaoke":  true,
	})
	expectCode(t, rr, http.StatusOK, "")
	if exp := decodeInto[subtitle.Export](t, rr); !strings.Contains(exp.Content, `{\k40}`) || !strings.Contains(exp.Content, `{\k50}`) {
		t.Fatalf("content = %q, want karaoke timing", exp.Content)
	}
}

func TestExportSubtitles_Download(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, http.MethodPost, "/subtitles/export?download=1", map[string]any{
		"segments": exportSegments,
		"format":   "vtt",
		"title":    "Diwali Vlog",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	if got := rr.Header().Get("Content-Type"); got != "text/vtt; charset=utf-8" {
		t.Errorf("Content-Type = %q", got)
	}
	if got := rr.Header().Get("Content-Disposition"); !strings.Contains(got, `filename="Diwali_Vlog.vtt"`) {
		t.Errorf("Content-Disposition = %q", got)
	}
	if !strings.HasPrefix(rr.Body.String(), "WEBVTT\n\n") {
		t.Errorf("body = %q", rr.Body.String())
	}
}

func TestExportSubtitles_Errors(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		body   any
		status int
		code   string
	}{
		{"malformed body", "{", http.StatusBadRequest, "BAD_REQUEST"},
		{"no segments", map[string]any{"format": "srt"}, http.StatusBadRequest, "BAD_REQUEST"},
		{"unknown format", map[string]any{"format": "docx", "segments": exportSegments}, http.StatusBadRequest, "UNSUPPORTED_FORMAT"},
		{"bad timing", map[string]any{
			"format":   "srt",
			"segments": []map[string]any{{"start_time": 3, "end_time": 1, "text": "x"}},
		}, http.StatusUnprocessableEntity, "MALFORMED_SEGMENT_TIMING"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expectCode(t, f.do(t, http.MethodPost, "/subtitles/export", tt.body), tt.status, tt.code)
		})
	}
}

func TestExportSubtitles_SkipMalformed(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, http.MethodPost, "/subtitles/export", map[string]any{
		"format":         "txt",
		"skip_malformed": true,
		"segments": []map[string]any{
			{"start_time": 0, "end_time": 1, "text": "kept"},
			{"start_time": 3, "end_time": 1, "text": "dropped"},
		},
	})
	expectCode(t, rr, http.StatusOK, "")
	exp := decodeInto[subtitle.Export](t, rr)
	if exp.Content != "kept" || len(exp.Warnings) != 1 {
		t.Fatalf("export = %+v", exp)
	}
}

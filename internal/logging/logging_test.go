package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"testing"
)

func TestSanitizeToken(t *testing.T) {
	tests := []struct {
		token string
		want  string
	}{
		{"", "****"},
		{"short", "****"},
		{"12345678", "****"},
		{"abcd1234efgh", "abcd...efgh"},
	}
	for _, tt := range tests {
		if got := SanitizeToken(tt.token); got != tt.want {
			t.Errorf("SanitizeToken(%q) = %q, want %q", tt.token, got, tt.want)
		}
	}
}

func TestSanitizePath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	if got := SanitizePath(home + "/reels/out.mp4"); got != "~/reels/out.mp4" {
		t.Errorf("SanitizePath() = %q", got)
	}
	if got := SanitizePath("/srv/reels"); got != "/srv/reels" && home != "/" {
		t.Errorf("SanitizePath() = %q", got)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name    string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{" warn ", slog.LevelWarn, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"debug-4", slog.LevelDebug - 4, false},
		{"bogus", slog.LevelInfo, true},
		{"", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseLevel(tt.name)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v, wantErr %v", tt.name, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}

func TestNewLogger_FiltersAndFormats(t *testing.T) {
	var buf bytes.Buffer
	logger := WithJobID(NewLogger(&buf, slog.LevelWarn), "job-1")
	logger.Info("dropped")
	logger.Warn("kept", "progress", 40)

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("output %q is not one JSON record: %v", buf.String(), err)
	}
	if rec["msg"] != "kept" || rec["job_id"] != "job-1" || rec["progress"] != float64(40) {
		t.Errorf("record = %v", rec)
	}
	if _, ok := rec["source"]; ok {
		t.Error("source location logged above debug")
	}

	buf.Reset()
	NewLogger(&buf, slog.LevelDebug).Debug("trace")
	if !bytes.Contains(buf.Bytes(), []byte(`"source"`)) {
		t.Errorf("debug record %q lacks source", buf.String())
	}
}

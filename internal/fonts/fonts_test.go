package fonts

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/image/font/gofont/goregular"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func install(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, data, 0644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func TestDefaultRegistry(t *testing.T) {
	reg := Default()
	if len(reg.Fonts) != 10 {
		t.Fatalf("registry has %d fonts, want 10", len(reg.Fonts))
	}
	f, ok := reg.Get("mukta-bold")
	if !ok || f.Filename != "Mukta-Bold.ttf" || f.Script != ScriptBoth || f.Weight != 700 {
		t.Fatalf("mukta-bold = %+v, %v", f, ok)
	}
	if reg.DevanagariFallback[0] != "noto-sans-devanagari-bold" {
		t.Fatalf("fallback order = %v", reg.DevanagariFallback)
	}
}

func TestLoadRegistry_Rejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"duplicate", "fonts:\n  - {id: a, filename: a.ttf}\n  - {id: a, filename: b.ttf}\n"},
		{"missing filename", "fonts:\n  - {id: a}\n"},
		{"unknown fallback", "fonts:\n  - {id: a, filename: a.ttf}\ndevanagari_fallback: [b]\n"},
		{"bad yaml", "fonts: ["},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadRegistry([]byte(tt.doc)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestHasDevanagari(t *testing.T) {
	if !HasDevanagari("hello नमस्ते") {
		t.Fatal("expected Devanagari")
	}
	if HasDevanagari("hello") {
		t.Fatal("unexpected Devanagari")
	}
}

func TestResolve_Chain(t *testing.T) {
	dir := t.TempDir()
	poppins := install(t, dir, "Poppins-Black.ttf", goregular.TTF)
	// goregular has no Devanagari glyphs, so the coverage check rejects it
	// even though the registry declares the font Devanagari-capable.
	install(t, dir, "NotoSansDevanagari-Bold.ttf", goregular.TTF)
	// Unparseable bytes fall back to the declared script.
	mukta := install(t, dir, "Mukta-Bold.ttf", []byte("not a truetype file"))
	system := install(t, dir, "system.ttf", goregular.TTF)

	l := NewLookup(Default(), dir, system, testLogger())

	tests := []struct {
		name   string
		id     string
		family string
		text   string
		want   string
	}{
		{"exact id", "poppins-black", "", "Hello", poppins},
		{"family match", "", "Poppins", "Hello", poppins},
		{"family beats missing id", "oswald-bold", "poppins", "Hi", poppins},
		{"devanagari skips latin font", "poppins-black", "", "नमस्ते", mukta},
		{"devanagari verifies coverage", "noto-sans-devanagari-bold", "", "नमस्ते", mukta},
		{"system fallback", "bebas-neue", "Bebas Neue", "Hi", system},
		{"unknown everything", "nope", "Comic Sans", "Hi", system},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := l.Resolve(tt.id, tt.family, tt.text); got != tt.want {
				t.Fatalf("Resolve(%q, %q, %q) = %q, want %q", tt.id, tt.family, tt.text, got, tt.want)
			}
		})
	}
}

func TestResolve_NothingInstalled(t *testing.T) {
	l := NewLookup(Default(), t.TempDir(), "/does/not/exist.ttf", testLogger())
	if got := l.Resolve("poppins-black", "Poppins", "नमस्ते"); got != "" {
		t.Fatalf("Resolve() = %q, want empty", got)
	}
}

func TestList(t *testing.T) {
	dir := t.TempDir()
	install(t, dir, "Oswald-Bold.ttf", goregular.TTF)
	l := NewLookup(nil, dir, "", testLogger())

	available := 0
	for _, f := range l.List() {
		if f.Available {
			available++
			if f.ID != "oswald-bold" || f.Path == "" {
				t.Fatalf("unexpected available font %+v", f)
			}
		}
	}
	if available != 1 {
		t.Fatalf("available = %d, want 1", available)
	}
}

// Package fonts holds the registry of bundled caption and template fonts and
// resolves a requested font to a file on disk.
package fonts

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/golang/freetype/truetype"
	"gopkg.in/yaml.v3"
)

//go:embed registry.yaml
var registryYAML []byte

type Script string

const (
	ScriptLatin      Script = "latin"
	ScriptDevanagari Script = "devanagari"
	ScriptBoth       Script = "both"
)

type Font struct {
	ID       string `yaml:"id" json:"id"`
	Family   string `yaml:"family" json:"family"`
	Filename string `yaml:"filename" json:"filename"`
	Script   Script `yaml:"script" json:"script"`
	Weight   int    `yaml:"weight" json:"weight"`
}

// SupportsDevanagari reports what the registry declares; the glyph table is
// checked separately.
func (f Font) SupportsDevanagari() bool {
	return f.Script == ScriptDevanagari || f.Script == ScriptBoth
}

// Registry is immutable after load.
type Registry struct {
	Fonts              []Font   `yaml:"fonts"`
	DevanagariFallback []string `yaml:"devanagari_fallback"`

	byID map[string]Font
}

// LoadRegistry parses a YAML registry document.
func LoadRegistry(data []byte) (*Registry, error) {
	var r Registry
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parse font registry: %w", err)
	}
	r.byID = make(map[string]Font, len(r.Fonts))
	for _, f := range r.Fonts {
		if f.ID == "" || f.Filename == "" {
			return nil, fmt.Errorf("font registry: entry missing id or filename")
		}
		if _, dup := r.byID[f.ID]; dup {
			return nil, fmt.Errorf("font registry: duplicate id %q", f.ID)
		}
		r.byID[f.ID] = f
	}
	for _, id := range r.DevanagariFallback {
		if _, ok := r.byID[id]; !ok {
			return nil, fmt.Errorf("font registry: fallback %q not registered", id)
		}
	}
	return &r, nil
}

var (
	defaultOnce sync.Once
	defaultReg  *Registry
)

// Default returns the embedded registry.
func Default() *Registry {
	defaultOnce.Do(func() {
		r, err := LoadRegistry(registryYAML)
		if err != nil {
			panic(err)
		}
		defaultReg = r
	})
	return defaultReg
}

func (r *Registry) Get(id string) (Font, bool) {
	f, ok := r.byID[id]
	return f, ok
}

// HasDevanagari reports whether s contains a code point in U+0900..U+097F.
func HasDevanagari(s string) bool {
	for _, c := range s {
		if c >= 0x0900 && c <= 0x097F {
			return true
		}
	}
	return false
}

// Installed describes a registry font and whether its file is present.
type Installed struct {
	Font
	Path      string `json:"path,omitempty"`
	Available bool   `json:"available"`
}

// Lookup resolves fonts against a directory of font files. It is safe for
// concurrent use; glyph coverage results are cached per path.
type Lookup struct {
	reg      *Registry
	dir      string
	fallback string
	logger   *slog.Logger

	mu       sync.Mutex
	coverage map[string]bool
}

func NewLookup(reg *Registry, dir, fallback string, logger *slog.Logger) *Lookup {
	if reg == nil {
		reg = Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Lookup{
		reg:      reg,
		dir:      dir,
		fallback: fallback,
		logger:   logger,
		coverage: make(map[string]bool),
	}
}

func (l *Lookup) Dir() string { return l.dir }

// Resolve returns a font file path for the request, trying in order: the
// exact font id, a family-name match against file names, the Devanagari
// fallback chain when text needs it, and the configured system fallback.
// It returns "" when nothing usable is installed.
func (l *Lookup) Resolve(fontID, family, text string) string {
	needDeva := HasDevanagari(text)

	if f, ok := l.reg.Get(fontID); ok {
		if p := l.usable(f, needDeva); p != "" {
			return p
		}
	}

	if key := familyKey(family); key != "" {
		for _, f := range l.reg.Fonts {
			if !strings.Contains(strings.ToLower(f.Filename), key) {
				continue
			}
			if p := l.usable(f, needDeva); p != "" {
				return p
			}
		}
	}

	if needDeva {
		for _, id := range l.reg.DevanagariFallback {
			f, _ := l.reg.Get(id)
			if p := l.usable(f, true); p != "" {
				return p
			}
		}
		l.logger.Warn("no installed font covers Devanagari", "font_id", fontID, "family", family)
	}

	if l.fallback != "" && fileExists(l.fallback) {
		return l.fallback
	}
	return ""
}

// List reports every registry font with its install state.
func (l *Lookup) List() []Installed {
	out := make([]Installed, 0, len(l.reg.Fonts))
	for _, f := range l.reg.Fonts {
		p := l.path(f)
		ok := fileExists(p)
		if !ok {
			p = ""
		}
		out = append(out, Installed{Font: f, Path: p, Available: ok})
	}
	return out
}

func (l *Lookup) usable(f Font, needDeva bool) string {
	p := l.path(f)
	if p == "" || !fileExists(p) {
		return ""
	}
	if needDeva && !l.coversDevanagari(f, p) {
		return ""
	}
	return p
}

func (l *Lookup) path(f Font) string {
	if f.Filename == "" || l.dir == "" {
		return ""
	}
	return filepath.Join(l.dir, f.Filename)
}

// Sample glyphs: KA and the AA vowel sign.
var devanagariProbe = []rune{'क', 'ा'}

// coversDevanagari checks the font's cmap. Files freetype cannot parse
// (OpenType CFF, collections) fall back to the registry's declared script.
func (l *Lookup) coversDevanagari(f Font, path string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if ok, cached := l.coverage[path]; cached {
		return ok
	}

	ok := f.SupportsDevanagari()
	data, err := os.ReadFile(path)
	if err == nil {
		if tt, perr := truetype.Parse(data); perr == nil {
			ok = true
			for _, r := range devanagariProbe {
				if tt.Index(r) == 0 {
					ok = false
					break
				}
			}
		} else {
			l.logger.Debug("font not parseable, trusting registry script", "font_id", f.ID, "error", perr)
		}
	}
	l.coverage[path] = ok
	return ok
}

func familyKey(family string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(family), " ", ""))
}

func fileExists(path string) bool {
	st, err := os.Stat(path)
	return err == nil && !st.IsDir()
}

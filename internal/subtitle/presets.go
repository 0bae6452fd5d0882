package subtitle

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/reelkit/reelkit/internal/apperr"
)

//go:embed presets.yaml
var presetsYAML []byte

type Position string

const (
	PositionTop         Position = "top"
	PositionCenter      Position = "center"
	PositionBottom      Position = "bottom"
	PositionBottomThird Position = "bottom_third"
)

// Alignment is the ASS numpad alignment for the position.
func (p Position) Alignment() int {
	switch Position(strings.ToLower(string(p))) {
	case PositionTop:
		return 8
	case PositionCenter:
		return 5
	default:
		return 2
	}
}

type Preset struct {
	ID              string   `yaml:"id" json:"id"`
	Name            string   `yaml:"name" json:"name"`
	Description     string   `yaml:"description" json:"description"`
	FontFamily      string   `yaml:"font_family" json:"font_family"`
	FontWeight      int      `yaml:"font_weight" json:"font_weight"`
	FontSize        int      `yaml:"font_size" json:"font_size"`
	TextTransform   string   `yaml:"text_transform" json:"text_transform"`
	Color           string   `yaml:"color" json:"color"`
	TextShadow      string   `yaml:"text_shadow" json:"text_shadow"`
	BackgroundColor string   `yaml:"background_color" json:"background_color"`
	HighlightColor  string   `yaml:"highlight_color" json:"highlight_color"`
	Animation       string   `yaml:"animation" json:"animation"`
	Position        Position `yaml:"position" json:"position"`
}

// PrimaryFont is the first family of a CSS font stack.
func (p Preset) PrimaryFont() string {
	name, _, _ := strings.Cut(p.FontFamily, ",")
	if name = strings.TrimSpace(name); name == "" {
		return "Inter"
	}
	return name
}

// Presets is a fixed, read-only registry.
type Presets struct {
	defaultID string
	byID      map[string]Preset
	order     []string
}

type presetsDoc struct {
	Default string   `yaml:"default"`
	Presets []Preset `yaml:"presets"`
}

// LoadPresets parses a YAML preset document.
func LoadPresets(data []byte) (*Presets, error) {
	var doc presetsDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse presets: %w", err)
	}
	p := &Presets{defaultID: doc.Default, byID: make(map[string]Preset, len(doc.Presets))}
	for _, pr := range doc.Presets {
		if pr.ID == "" {
			return nil, fmt.Errorf("presets: entry without id")
		}
		if _, dup := p.byID[pr.ID]; dup {
			return nil, fmt.Errorf("presets: duplicate id %q", pr.ID)
		}
		p.byID[pr.ID] = pr
		p.order = append(p.order, pr.ID)
	}
	if _, ok := p.byID[p.defaultID]; !ok {
		return nil, fmt.Errorf("presets: default %q not defined", p.defaultID)
	}
	return p, nil
}

var (
	presetsOnce    sync.Once
	defaultPresets *Presets
)

// DefaultPresets returns the embedded registry.
func DefaultPresets() *Presets {
	presetsOnce.Do(func() {
		p, err := LoadPresets(presetsYAML)
		if err != nil {
			panic(err)
		}
		defaultPresets = p
	})
	return defaultPresets
}

// Get looks up a preset by id.
func (p *Presets) Get(id string) (Preset, error) {
	pr, ok := p.byID[id]
	if !ok {
		return Preset{}, apperr.New(apperr.KindNotFound, "lookup preset", apperr.ErrPresetNotFound).WithDetail("preset_id", id)
	}
	return pr, nil
}

func (p *Presets) Default() Preset {
	return p.byID[p.defaultID]
}

// All returns presets in declaration order.
func (p *Presets) All() []Preset {
	out := make([]Preset, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, p.byID[id])
	}
	return out
}

// IDs returns the preset ids sorted.
func (p *Presets) IDs() []string {
	ids := append([]string(nil), p.order...)
	sort.Strings(ids)
	return ids
}

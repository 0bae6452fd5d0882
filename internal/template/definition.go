// Package template models declarative video template definitions and
// resolves their symbolic tokens against a per-render customization.
package template

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	DefaultWidth    = 1080
	DefaultHeight   = 1920
	DefaultFPS      = 30
	DefaultDuration = 15.0
)

type LayerType string

const (
	LayerSolid LayerType = "solid"
	LayerImage LayerType = "image"
	LayerVideo LayerType = "video"
	LayerText  LayerType = "text"
)

type Fit string

const (
	FitCover   Fit = "cover"
	FitContain Fit = "contain"
)

// Definition is a loaded template. It is never mutated after load; Resolve
// returns a copy.
type Definition struct {
	ID                     string                 `json:"id,omitempty" yaml:"id,omitempty"`
	Name                   string                 `json:"name,omitempty" yaml:"name,omitempty"`
	Category               string                 `json:"category,omitempty" yaml:"category,omitempty"`
	Tags                   []string               `json:"tags,omitempty" yaml:"tags,omitempty"`
	Width                  int                    `json:"width,omitempty" yaml:"width,omitempty"`
	Height                 int                    `json:"height,omitempty" yaml:"height,omitempty"`
	FPS                    int                    `json:"fps,omitempty" yaml:"fps,omitempty"`
	DefaultDurationSeconds float64                `json:"defaultDurationSeconds,omitempty" yaml:"defaultDurationSeconds,omitempty"`
	Themes                 map[string]Theme       `json:"themes,omitempty" yaml:"themes,omitempty"`
	Placeholders           map[string]Placeholder `json:"placeholders,omitempty" yaml:"placeholders,omitempty"`
	Layers                 []Layer                `json:"layers" yaml:"layers"`
}

type Theme struct {
	Name   string            `json:"name,omitempty" yaml:"name,omitempty"`
	Colors map[string]string `json:"colors,omitempty" yaml:"colors,omitempty"`
	Fonts  map[string]string `json:"fonts,omitempty" yaml:"fonts,omitempty"`
}

type Placeholder struct {
	Type      string `json:"type,omitempty" yaml:"type,omitempty"`
	Label     string `json:"label,omitempty" yaml:"label,omitempty"`
	Default   any    `json:"default,omitempty" yaml:"default,omitempty"`
	Required  bool   `json:"required,omitempty" yaml:"required,omitempty"`
	MaxLength int    `json:"maxLength,omitempty" yaml:"maxLength,omitempty"`
}

type Layer struct {
	ID        string    `json:"id,omitempty" yaml:"id,omitempty"`
	Type      LayerType `json:"type" yaml:"type"`
	Z         int       `json:"z,omitempty" yaml:"z,omitempty"`
	Start     Token     `json:"start" yaml:"start"`
	End       Token     `json:"end" yaml:"end"`
	Transform Transform `json:"transform" yaml:"transform"`
	Style     Style     `json:"style" yaml:"style"`
	Source    Token     `json:"source" yaml:"source"`
	Text      Token     `json:"text" yaml:"text"`
}

type Transform struct {
	X       Token `json:"x" yaml:"x"`
	Y       Token `json:"y" yaml:"y"`
	W       Token `json:"w" yaml:"w"`
	H       Token `json:"h" yaml:"h"`
	Fit     Fit   `json:"fit,omitempty" yaml:"fit,omitempty"`
	Opacity Token `json:"opacity" yaml:"opacity"`
}

type Style struct {
	FontFamily Token       `json:"fontFamily" yaml:"fontFamily"`
	FontID     Token       `json:"fontId" yaml:"fontId"`
	FontSize   Token       `json:"fontSize" yaml:"fontSize"`
	Color      Token       `json:"color" yaml:"color"`
	Background *Background `json:"background,omitempty" yaml:"background,omitempty"`
}

type Background struct {
	Color    Token `json:"color" yaml:"color"`
	PaddingX int   `json:"paddingX,omitempty" yaml:"paddingX,omitempty"`
	PaddingY int   `json:"paddingY,omitempty" yaml:"paddingY,omitempty"`
}

// Customization is supplied per render and never stored on the template.
type Customization struct {
	Values          map[string]any `json:"values,omitempty"`
	ThemeID         string         `json:"theme_id,omitempty"`
	DurationSeconds *float64       `json:"duration_seconds,omitempty"`
}

// Duration returns the effective render length: a positive override wins over
// the template default.
func (d *Definition) Duration(c Customization) float64 {
	if c.DurationSeconds != nil && *c.DurationSeconds > 0 {
		return *c.DurationSeconds
	}
	if d.DefaultDurationSeconds > 0 {
		return d.DefaultDurationSeconds
	}
	return DefaultDuration
}

// SelectTheme returns the customization's theme when it exists, otherwise the
// lexicographically first theme.
func (d *Definition) SelectTheme(c Customization) (string, Theme) {
	if c.ThemeID != "" {
		if th, ok := d.Themes[c.ThemeID]; ok {
			return c.ThemeID, th
		}
	}
	if len(d.Themes) == 0 {
		return "", Theme{}
	}
	ids := make([]string, 0, len(d.Themes))
	for id := range d.Themes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids[0], d.Themes[ids[0]]
}

// Validate checks structural constraints that would make a definition
// unrenderable.
func (d *Definition) Validate() error {
	if d.Width < 0 || d.Height < 0 || d.FPS < 0 {
		return fmt.Errorf("canvas dimensions must not be negative")
	}
	if d.Width%2 != 0 || d.Height%2 != 0 {
		return fmt.Errorf("canvas dimensions must be even, got %dx%d", d.Width, d.Height)
	}
	for i, l := range d.Layers {
		switch l.Type {
		case LayerSolid, LayerImage, LayerVideo, LayerText:
		default:
			return fmt.Errorf("layer %d: unknown type %q", i, l.Type)
		}
		switch l.Transform.Fit {
		case "", FitCover, FitContain:
		default:
			return fmt.Errorf("layer %d: unknown fit %q", i, l.Transform.Fit)
		}
	}
	return nil
}

// Parse decodes a definition from JSON or YAML. The format is picked from the
// file name extension; anything but .yaml/.yml is treated as JSON.
func Parse(name string, data []byte) (*Definition, error) {
	var def Definition
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &def); err != nil {
			return nil, fmt.Errorf("parse yaml template: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &def); err != nil {
			return nil, fmt.Errorf("parse json template: %w", err)
		}
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// Package scene normalizes a resolved template into a z-ordered list of
// positioned, time-windowed layers on a fixed canvas.
package scene

import (
	"fmt"
	"sort"
	"strings"

	"github.com/reelkit/reelkit/internal/template"
)

const (
	DefaultBackground = "black"
	DefaultFontSize   = 48
	DefaultFontFamily = "Inter"
	DefaultTextColor  = "white"
)

type Canvas struct {
	Width    int
	Height   int
	FPS      int
	Duration float64
}

// Layer is a fully literal layer. Key is unique within a scene and is what
// materialized assets are keyed by.
type Layer struct {
	Key   string
	Type  template.LayerType
	Z     int
	Start float64
	End   float64

	X, Y    int
	W, H    int
	Fit     template.Fit
	Opacity float64

	Source string
	Text   string

	FontID     string
	FontFamily string
	FontSize   int
	Color      string
	BoxColor   string
	BoxPadding int
}

// HasMedia reports whether the layer needs an input asset.
func (l Layer) HasMedia() bool {
	return l.Type == template.LayerVideo || l.Type == template.LayerImage
}

type Scene struct {
	Canvas     Canvas
	Background string
	Layers     []Layer
}

// MediaLayers returns the video and image layers, in z order.
func (s *Scene) MediaLayers() []Layer {
	var out []Layer
	for _, l := range s.Layers {
		if l.HasMedia() {
			out = append(out, l)
		}
	}
	return out
}

// FromTemplate resolves tokens and builds the scene in one step.
func FromTemplate(def *template.Definition, c template.Customization) (*Scene, error) {
	resolved, err := template.Resolve(def, c)
	if err != nil {
		return nil, err
	}
	return Build(resolved, c), nil
}

// Build converts a resolved definition into a scene. Layers are stably sorted
// by z so equal-z layers keep their declaration order.
//
// The first declared solid layer provides the background color; any later
// solid layers are kept in the list but never drawn.
func Build(def *template.Definition, c template.Customization) *Scene {
	s := &Scene{
		Canvas: Canvas{
			Width:    orDefault(def.Width, template.DefaultWidth),
			Height:   orDefault(def.Height, template.DefaultHeight),
			FPS:      orDefault(def.FPS, template.DefaultFPS),
			Duration: def.Duration(c),
		},
		Background: DefaultBackground,
	}

	backgroundSet := false
	seen := make(map[string]int)
	layers := make([]Layer, 0, len(def.Layers))

	for i, l := range def.Layers {
		if l.Type == template.LayerSolid && !backgroundSet {
			if color := strings.TrimSpace(l.Style.Color.Text()); color != "" {
				s.Background = color
			}
			backgroundSet = true
		}

		sl := buildLayer(l, s.Canvas)
		if l.Type == template.LayerText && strings.TrimSpace(sl.Text) == "" {
			continue
		}
		sl.Key = uniqueKey(l.ID, i, seen)
		layers = append(layers, sl)
	}

	sort.SliceStable(layers, func(a, b int) bool {
		return layers[a].Z < layers[b].Z
	})
	s.Layers = layers
	return s
}

func buildLayer(l template.Layer, canvas Canvas) Layer {
	fit := l.Transform.Fit
	if fit == "" {
		fit = template.FitCover
	}

	opacity := l.Transform.Opacity.FloatOr(1)
	if opacity < 0 {
		opacity = 0
	}
	if opacity > 1 {
		opacity = 1
	}

	sl := Layer{
		Type:    l.Type,
		Z:       l.Z,
		Start:   l.Start.FloatOr(0),
		End:     l.End.FloatOr(canvas.Duration),
		X:       l.Transform.X.IntOr(0),
		Y:       l.Transform.Y.IntOr(0),
		W:       l.Transform.W.IntOr(0),
		H:       l.Transform.H.IntOr(0),
		Fit:     fit,
		Opacity: opacity,
		Source:  strings.TrimSpace(l.Source.Text()),
		Text:    l.Text.Text(),

		FontID:     l.Style.FontID.Text(),
		FontFamily: l.Style.FontFamily.Text(),
		FontSize:   l.Style.FontSize.IntOr(DefaultFontSize),
		Color:      l.Style.Color.Text(),
	}
	if sl.FontFamily == "" {
		sl.FontFamily = DefaultFontFamily
	}
	if sl.FontSize <= 0 {
		sl.FontSize = DefaultFontSize
	}
	if sl.Color == "" {
		sl.Color = DefaultTextColor
	}
	if bg := l.Style.Background; bg != nil {
		sl.BoxColor = bg.Color.Text()
		sl.BoxPadding = bg.PaddingX / 2
	}
	return sl
}

// uniqueKey suffixes repeated ids until the key is unused by any earlier
// layer, declared or generated.
func uniqueKey(id string, index int, seen map[string]int) string {
	base := id
	if base == "" {
		base = fmt.Sprintf("layer_%d", index+1)
	}
	key := base
	for n := seen[base]; seen[key] > 0; n++ {
		key = fmt.Sprintf("%s_%d", base, n+1)
	}
	if key != base {
		seen[base]++
	}
	seen[key]++
	return key
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

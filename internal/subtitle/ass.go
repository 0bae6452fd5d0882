package subtitle

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/reelkit/reelkit/internal/apperr"
)

const (
	PlayResX = 1080
	PlayResY = 1920

	DefaultTitle = "reelkit"
)

// Defaults for explicit style settings.
const (
	DefaultFontFamily      = "Noto Sans Devanagari"
	DefaultFontSize        = 24
	DefaultFontWeight      = 700
	DefaultFontColor       = "#FFFFFF"
	DefaultBackgroundColor = "rgba(0,0,0,0.7)"
	defaultHighlight       = "#FFD700"
	defaultOutline         = "#000000"
)

const (
	styleFormat = "Format: Name, Fontname, Fontsize, PrimaryColour, SecondaryColour, OutlineColour, BackColour, " +
		"Bold, Italic, Underline, StrikeOut, ScaleX, ScaleY, Spacing, Angle, BorderStyle, Outline, Shadow, " +
		"Alignment, MarginL, MarginR, MarginV, Encoding"
	eventFormat = "Format: Layer, Start, End, Style, Name, MarginL, MarginR, MarginV, Effect, Text"
)

type assStyle struct {
	Font      string
	Size      int
	Primary   string
	Secondary string
	Outline   string
	Back      string
	Bold      bool
	Border    int
	Shadow    int
	Alignment int
	MarginL   int
	MarginR   int
	MarginV   int
	Transform string
}

// line renders the 23-value Default style.
func (s assStyle) line() string {
	bold := 0
	if s.Bold {
		bold = -1
	}
	return fmt.Sprintf("Style: Default,%s,%d,%s,%s,%s,%s,%d,0,0,0,100,100,0,0,1,%d,%d,%d,%d,%d,%d,1",
		s.Font, s.Size, s.Primary, s.Secondary, s.Outline, s.Back, bold,
		s.Border, s.Shadow, s.Alignment, s.MarginL, s.MarginR, s.MarginV)
}

func presetStyle(p Preset) assStyle {
	marginV := 110
	if p.Position == PositionBottomThird {
		marginV = 260
	}
	size := p.FontSize
	if size <= 0 {
		size = 58
	}
	highlight := p.HighlightColor
	if highlight == "" {
		highlight = defaultHighlight
	}
	return assStyle{
		Font:      p.PrimaryFont(),
		Size:      size,
		Primary:   ASSColor(p.Color),
		Secondary: ASSColor(highlight),
		Outline:   ASSColor(defaultOutline),
		Back:      ASSBackColor(p.BackgroundColor),
		Bold:      p.FontWeight >= 700,
		Border:    4,
		Shadow:    1,
		Alignment: p.Position.Alignment(),
		MarginL:   40,
		MarginR:   40,
		MarginV:   marginV,
		Transform: p.TextTransform,
	}
}

func explicitStyle(s StyleSettings) assStyle {
	font := strings.TrimSpace(s.FontFamily)
	if font == "" {
		font = DefaultFontFamily
	}
	size := s.FontSize
	if size <= 0 {
		size = DefaultFontSize
	}
	weight := s.FontWeight
	if weight <= 0 {
		weight = DefaultFontWeight
	}
	color := s.FontColor
	if color == "" {
		color = DefaultFontColor
	}
	back := DefaultBackgroundColor
	if s.BackgroundColor != nil {
		back = *s.BackgroundColor
	}
	pos := s.Position
	if pos == "" {
		pos = PositionBottom
	}
	marginV := 80
	if pos == PositionBottomThird {
		marginV = 260
	}
	return assStyle{
		Font:      font,
		Size:      size,
		Primary:   ASSColor(color),
		Secondary: ASSColor(defaultHighlight),
		Outline:   ASSColor(defaultOutline),
		Back:      ASSBackColor(back),
		Bold:      weight >= 700,
		Border:    3,
		Shadow:    1,
		Alignment: pos.Alignment(),
		MarginL:   30,
		MarginR:   30,
		MarginV:   marginV,
		Transform: s.TextTransform,
	}
}

// style picks explicit settings, then the requested preset, then the
// default preset. An unknown preset id is reported as a warning.
func (f *Formatter) style(opts Options, exp *Export) assStyle {
	if opts.Style != nil {
		return explicitStyle(*opts.Style)
	}
	if opts.PresetID != "" {
		p, err := f.presets.Get(opts.PresetID)
		if err == nil {
			return presetStyle(p)
		}
		if errors.Is(err, apperr.ErrPresetNotFound) {
			f.logger.Warn("unknown caption preset, using default", "preset_id", opts.PresetID)
			exp.Warnings = append(exp.Warnings, fmt.Sprintf("preset %q not found, using %q", opts.PresetID, f.presets.Default().ID))
		}
	}
	return presetStyle(f.presets.Default())
}

func (f *Formatter) ass(segments []Segment, opts Options, exp *Export) string {
	st := f.style(opts, exp)
	title := strings.TrimSpace(opts.Title)
	if title == "" {
		title = DefaultTitle
	}

	var b strings.Builder
	b.WriteString("[Script Info]\n")
	fmt.Fprintf(&b, "Title: %s\n", title)
	b.WriteString("ScriptType: v4.00+\n")
	b.WriteString("WrapStyle: 0\n")
	b.WriteString("ScaledBorderAndShadow: yes\n")
	b.WriteString("YCbCr Matrix: TV.601\n")
	fmt.Fprintf(&b, "PlayResX: %d\n", PlayResX)
	fmt.Fprintf(&b, "PlayResY: %d\n", PlayResY)
	b.WriteString("\n[V4+ Styles]\n")
	b.WriteString(styleFormat + "\n")
	b.WriteString(st.line() + "\n")
	b.WriteString("\n[Events]\n")
	b.WriteString(eventFormat + "\n")

	for _, s := range segments {
		var text string
		if opts.Karaoke && len(s.Words) > 0 {
			text = karaoke(s.Words, st.Transform)
		} else {
			text = assText(s.Text, st.Transform)
			if opts.IncludeTranslation && strings.TrimSpace(s.TextTranslated) != "" {
				text += `\N` + assText(s.TextTranslated, st.Transform)
			}
		}
		fmt.Fprintf(&b, "Dialogue: 0,%s,%s,Default,,0,0,0,,%s\n", assTime(s.Start), assTime(s.End), text)
	}
	return b.String()
}

// karaoke builds the {\kNN} sequence. Words whose trimmed text is empty are
// dropped without shifting the others.
func karaoke(words []Word, transform string) string {
	var b strings.Builder
	emitted := 0
	for _, w := range words {
		text := applyTransform(strings.TrimSpace(w.Text), transform)
		if text == "" {
			continue
		}
		cs := int(math.Round((w.End - w.Start) * 100))
		if cs < 1 {
			cs = 1
		}
		fmt.Fprintf(&b, `{\k%d}`, cs)
		if emitted > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(text)
		emitted++
	}
	return b.String()
}

func assText(s, transform string) string {
	s = applyTransform(strings.TrimSpace(s), transform)
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\n", `\N`)
}

func applyTransform(s, transform string) string {
	switch strings.ToLower(transform) {
	case "uppercase":
		return strings.ToUpper(s)
	case "lowercase":
		return strings.ToLower(s)
	}
	return s
}

package template

import (
	"sort"

	"github.com/reelkit/reelkit/internal/apperr"
)

// FallbackThemeColor is used when a $theme.colors.<key> reference names a
// color the selected theme does not define.
const FallbackThemeColor = "#000000"

// Context is everything a token may reference.
type Context struct {
	DurationSeconds float64
	Theme           Theme
	Customization   map[string]any
	Placeholders    map[string]Placeholder
}

// NewContext builds the resolution context for one render.
func NewContext(d *Definition, c Customization) Context {
	_, theme := d.SelectTheme(c)
	return Context{
		DurationSeconds: d.Duration(c),
		Theme:           theme,
		Customization:   c.Values,
		Placeholders:    d.Placeholders,
	}
}

// Resolve turns a token into a literal. It is total: references that cannot
// be satisfied resolve to their documented fallback.
func (t Token) Resolve(ctx Context) Token {
	switch t.Kind {
	case TokenDuration:
		return Lit(ctx.DurationSeconds)
	case TokenThemeColor:
		if c, ok := ctx.Theme.Colors[t.Key]; ok && c != "" {
			return Lit(c)
		}
		return Lit(FallbackThemeColor)
	case TokenThemeFont:
		return Lit(ctx.Theme.Fonts[t.Key])
	case TokenPlaceholder:
		return Lit(placeholderValue(ctx, t.Key))
	}
	return t
}

func placeholderValue(ctx Context, id string) any {
	ph := ctx.Placeholders[id]
	if v, ok := ctx.Customization[id]; ok && !isEmpty(v) {
		return truncate(v, ph.MaxLength)
	}
	if !isEmpty(ph.Default) {
		return ph.Default
	}
	return nil
}

func isEmpty(v any) bool {
	switch s := v.(type) {
	case nil:
		return true
	case string:
		return s == ""
	}
	return false
}

func truncate(v any, maxLen int) any {
	s, ok := v.(string)
	if !ok || maxLen <= 0 {
		return v
	}
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen])
}

// Resolve returns a copy of d with every layer token replaced by its literal.
// Applying it to an already-resolved definition is a no-op.
func Resolve(d *Definition, c Customization) (*Definition, error) {
	if err := checkRequired(d, c); err != nil {
		return nil, err
	}

	ctx := NewContext(d, c)
	out := *d
	if d.Layers != nil {
		out.Layers = make([]Layer, len(d.Layers))
		for i, l := range d.Layers {
			out.Layers[i] = resolveLayer(l, ctx)
		}
	}
	return &out, nil
}

func checkRequired(d *Definition, c Customization) error {
	ids := make([]string, 0, len(d.Placeholders))
	for id := range d.Placeholders {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		ph := d.Placeholders[id]
		if !ph.Required {
			continue
		}
		if v, ok := c.Values[id]; ok && !isEmpty(v) {
			continue
		}
		if !isEmpty(ph.Default) {
			continue
		}
		return apperr.New(apperr.KindValidation, "resolve template", &apperr.MissingFieldError{Field: id}).
			WithDetail("field", id)
	}
	return nil
}

func resolveLayer(l Layer, ctx Context) Layer {
	l.Start = l.Start.Resolve(ctx)
	l.End = l.End.Resolve(ctx)
	l.Source = l.Source.Resolve(ctx)
	l.Text = l.Text.Resolve(ctx)

	l.Transform.X = l.Transform.X.Resolve(ctx)
	l.Transform.Y = l.Transform.Y.Resolve(ctx)
	l.Transform.W = l.Transform.W.Resolve(ctx)
	l.Transform.H = l.Transform.H.Resolve(ctx)
	l.Transform.Opacity = l.Transform.Opacity.Resolve(ctx)

	l.Style.FontFamily = l.Style.FontFamily.Resolve(ctx)
	l.Style.FontID = l.Style.FontID.Resolve(ctx)
	l.Style.FontSize = l.Style.FontSize.Resolve(ctx)
	l.Style.Color = l.Style.Color.Resolve(ctx)
	if l.Style.Background != nil {
		bg := *l.Style.Background
		bg.Color = bg.Color.Resolve(ctx)
		l.Style.Background = &bg
	}
	return l
}

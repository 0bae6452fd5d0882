package template

import (
	"errors"
	"reflect"
	"testing"

	"github.com/reelkit/reelkit/internal/apperr"
)

func testDefinition() *Definition {
	return &Definition{
		Width:                  1080,
		Height:                 1920,
		FPS:                    30,
		DefaultDurationSeconds: 10,
		Themes: map[string]Theme{
			"sunset":   {Colors: map[string]string{"primary": "#FF6600", "text": "#FFFFFF"}, Fonts: map[string]string{"heading": "poppins-extrabold"}},
			"midnight": {Colors: map[string]string{"primary": "#101030"}},
		},
		Placeholders: map[string]Placeholder{
			"headline": {Type: "text", Default: "Diwali Sale", MaxLength: 20},
			"clip":     {Type: "video", Required: true},
			"tagline":  {Type: "text"},
		},
		Layers: []Layer{
			{ID: "bg", Type: LayerSolid, Style: Style{Color: ParseToken("$theme.colors.primary")}},
			{ID: "clip", Type: LayerVideo, Z: 1, Source: ParseToken("$placeholder.clip"), End: ParseToken("$duration")},
			{ID: "title", Type: LayerText, Z: 2, Text: ParseToken("$placeholder.headline"),
				Style: Style{Color: ParseToken("$theme.colors.text"), FontID: ParseToken("$theme.fonts.heading"),
					Background: &Background{Color: ParseToken("$theme.colors.missing"), PaddingX: 20}}},
			{ID: "tag", Type: LayerText, Z: 3, Text: ParseToken("$placeholder.tagline")},
		},
	}
}

func TestResolve_References(t *testing.T) {
	def := testDefinition()
	dur := 12.0
	got, err := Resolve(def, Customization{
		Values:          map[string]any{"clip": "https://cdn.example.com/clip.mp4", "headline": ""},
		ThemeID:         "sunset",
		DurationSeconds: &dur,
	})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	if c := got.Layers[0].Style.Color.Text(); c != "#FF6600" {
		t.Errorf("background color = %q, want #FF6600", c)
	}
	if s := got.Layers[1].Source.Text(); s != "https://cdn.example.com/clip.mp4" {
		t.Errorf("source = %q", s)
	}
	if e := got.Layers[1].End.FloatOr(0); e != 12 {
		t.Errorf("end = %v, want duration override 12", e)
	}
	if txt := got.Layers[2].Text.Text(); txt != "Diwali Sale" {
		t.Errorf("empty customization should fall back to default, got %q", txt)
	}
	if f := got.Layers[2].Style.FontID.Text(); f != "poppins-extrabold" {
		t.Errorf("font id = %q", f)
	}
	if bg := got.Layers[2].Style.Background.Color.Text(); bg != FallbackThemeColor {
		t.Errorf("missing theme color = %q, want %q", bg, FallbackThemeColor)
	}
	if !got.Layers[3].Text.IsNull() {
		t.Errorf("placeholder without value or default should be null, got %+v", got.Layers[3].Text)
	}

	if def.Layers[1].Source.Kind != TokenPlaceholder {
		t.Fatal("Resolve must not mutate the loaded definition")
	}
}

func TestResolve_FixedPoint(t *testing.T) {
	c := Customization{Values: map[string]any{"clip": "/tmp/clip.mp4", "headline": "Namaste"}}

	once, err := Resolve(testDefinition(), c)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	twice, err := Resolve(once, c)
	if err != nil {
		t.Fatalf("second Resolve() error = %v", err)
	}
	if !reflect.DeepEqual(once, twice) {
		t.Fatalf("resolving twice differs from resolving once:\n%+v\n%+v", once.Layers, twice.Layers)
	}
}

func TestResolve_LiteralDefinitionUnchanged(t *testing.T) {
	def := &Definition{
		Width: 720, Height: 1280,
		Layers: []Layer{{ID: "t", Type: LayerText, Text: Lit("hello"), Start: Lit(1.0), End: Lit(2.0)}},
	}
	got, err := Resolve(def, Customization{})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if !reflect.DeepEqual(got, def) {
		t.Fatalf("literal definition changed: %+v", got)
	}
}

func TestResolve_MissingRequiredField(t *testing.T) {
	_, err := Resolve(testDefinition(), Customization{})
	if !errors.Is(err, apperr.ErrMissingRequiredField) {
		t.Fatalf("error = %v, want ErrMissingRequiredField", err)
	}
	var mf *apperr.MissingFieldError
	if !errors.As(err, &mf) || mf.Field != "clip" {
		t.Fatalf("MissingFieldError = %+v, want field clip", mf)
	}
}

func TestResolve_MaxLengthTruncates(t *testing.T) {
	got, err := Resolve(testDefinition(), Customization{Values: map[string]any{
		"clip":     "/tmp/a.mp4",
		"headline": "दीपावली की हार्दिक शुभकामनाएं सभी को",
	}})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if n := len([]rune(got.Layers[2].Text.Text())); n != 20 {
		t.Fatalf("headline rune length = %d, want 20", n)
	}
}

func TestSelectTheme(t *testing.T) {
	def := testDefinition()

	if id, _ := def.SelectTheme(Customization{ThemeID: "sunset"}); id != "sunset" {
		t.Errorf("explicit theme = %q", id)
	}
	if id, _ := def.SelectTheme(Customization{ThemeID: "nope"}); id != "midnight" {
		t.Errorf("unknown theme should fall back to first, got %q", id)
	}
	if id, _ := def.SelectTheme(Customization{}); id != "midnight" {
		t.Errorf("default theme = %q, want midnight", id)
	}
}

func TestDuration(t *testing.T) {
	def := &Definition{DefaultDurationSeconds: 20}
	zero, neg, pos := 0.0, -3.0, 7.5

	tests := []struct {
		name string
		c    Customization
		want float64
	}{
		{"no override", Customization{}, 20},
		{"zero ignored", Customization{DurationSeconds: &zero}, 20},
		{"negative ignored", Customization{DurationSeconds: &neg}, 20},
		{"positive wins", Customization{DurationSeconds: &pos}, 7.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := def.Duration(tt.c); got != tt.want {
				t.Fatalf("Duration() = %v, want %v", got, tt.want)
			}
		})
	}

	if got := (&Definition{}).Duration(Customization{}); got != DefaultDuration {
		t.Fatalf("empty definition duration = %v, want %v", got, DefaultDuration)
	}
}

func TestParse(t *testing.T) {
	yamlSrc := []byte("width: 1080\nheight: 1920\nlayers:\n  - type: text\n    text: hi\n")
	def, err := Parse("promo.yaml", yamlSrc)
	if err != nil {
		t.Fatalf("Parse(yaml) error = %v", err)
	}
	if len(def.Layers) != 1 || def.Layers[0].Text.Text() != "hi" {
		t.Fatalf("unexpected layers: %+v", def.Layers)
	}

	if _, err := Parse("bad.json", []byte(`{"width":1081,"height":1920,"layers":[]}`)); err == nil {
		t.Fatal("odd width should be rejected")
	}
	if _, err := Parse("bad.json", []byte(`{"layers":[{"type":"shape"}]}`)); err == nil {
		t.Fatal("unknown layer type should be rejected")
	}
}

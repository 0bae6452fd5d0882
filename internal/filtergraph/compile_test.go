package filtergraph

import (
	"errors"
	"strings"
	"testing"

	"github.com/reelkit/reelkit/internal/apperr"
	"github.com/reelkit/reelkit/internal/encoder"
	"github.com/reelkit/reelkit/internal/scene"
	"github.com/reelkit/reelkit/internal/template"
)

type fakeFonts map[string]string

func (f fakeFonts) Resolve(id, family, text string) string {
	if p, ok := f[id]; ok {
		return p
	}
	return f[family]
}

func testScene() *scene.Scene {
	return &scene.Scene{
		Canvas:     scene.Canvas{Width: 1080, Height: 1920, FPS: 30, Duration: 15},
		Background: "#112233",
		Layers: []scene.Layer{
			{Key: "bg", Type: template.LayerVideo, Z: 0, End: 15, Fit: template.FitCover, Opacity: 1, Source: "https://cdn/bg.mp4"},
			{Key: "logo", Type: template.LayerImage, Z: 1, Start: 1.5, End: 3, X: 40, Y: 60, W: 200, H: 100, Fit: template.FitContain, Opacity: 0.8, Source: "https://cdn/logo.png"},
			{Key: "title", Type: template.LayerText, Z: 2, End: 15, X: 10, Y: 20, Text: "Hello", FontID: "poppins-black", FontFamily: "Poppins", FontSize: 48, Color: "white"},
		},
	}
}

func TestCompile_Grammar(t *testing.T) {
	assets := map[string]string{"bg": "/tmp/job/bg.mp4", "logo": "/tmp/job/logo.png"}
	g, err := Compile(testScene(), assets, Options{
		Fonts:   fakeFonts{"poppins-black": "/fonts/Poppins-Black.ttf"},
		TextDir: "/tmp/job",
	})
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}

	want := []string{
		"[0:v]format=rgba[base]",
		"[1:v]scale=w=1080:h=1920:force_original_aspect_ratio=increase,crop=w=1080:h=1920,setsar=1,format=rgba[ov0]",
		"[base][ov0]overlay=x=0:y=0:enable='between(t,0,15)'[v0]",
		"[2:v]scale=w=200:h=100:force_original_aspect_ratio=decrease,pad=w=200:h=100:x=(ow-iw)/2:y=(oh-ih)/2:color=0x00000000,setsar=1,format=rgba[ov1]",
		"[ov1]colorchannelmixer=aa=0.8[ova1]",
		"[v0][ova1]overlay=x=40:y=60:enable='between(t,1.5,3)'[v1]",
		"[v1]drawtext=fontfile='/fonts/Poppins-Black.ttf':textfile='/tmp/job/text_1.txt':fontsize=48:fontcolor=white:x=10:y=20:" +
			"shadowcolor=black@0.6:shadowx=2:shadowy=2:borderw=2:bordercolor=black:box=0:boxcolor=black@0.0:boxborderw=0:" +
			"enable='between(t,0,15)'[t1]",
		"[t1]format=yuv420p[vout]",
	}
	if len(g.Filters) != len(want) {
		t.Fatalf("got %d filters, want %d:\n%s", len(g.Filters), len(want), strings.Join(g.Filters, "\n"))
	}
	for i := range want {
		if g.Filters[i] != want[i] {
			t.Errorf("filter %d:\n got %s\nwant %s", i, g.Filters[i], want[i])
		}
	}
	if g.Output != "[vout]" {
		t.Errorf("Output = %q", g.Output)
	}

	if len(g.Inputs) != 3 {
		t.Fatalf("got %d inputs, want 3", len(g.Inputs))
	}
	if g.Inputs[0].Path != "color=c=0x112233:s=1080x1920:r=30:d=15" {
		t.Errorf("background input = %q", g.Inputs[0].Path)
	}
	if strings.Join(g.Inputs[1].Options, " ") != "-stream_loop -1" || strings.Join(g.Inputs[2].Options, " ") != "-loop 1" {
		t.Errorf("input options = %v / %v", g.Inputs[1].Options, g.Inputs[2].Options)
	}
	if len(g.TextFiles) != 1 || g.TextFiles[0].Content != "Hello" {
		t.Errorf("text files = %+v", g.TextFiles)
	}
	if g.Audio.Stream != "" {
		t.Errorf("default audio should be mute, got %q", g.Audio.Stream)
	}
}

func TestCompile_Deterministic(t *testing.T) {
	assets := map[string]string{"bg": "/a.mp4", "logo": "/b.png"}
	a, _ := Compile(testScene(), assets, Options{})
	b, _ := Compile(testScene(), assets, Options{})
	if a.String() != b.String() {
		t.Fatalf("non-deterministic graph:\n%s\n%s", a.String(), b.String())
	}
}

func TestCompile_MissingAsset(t *testing.T) {
	assets := map[string]string{"bg": "/tmp/job/bg.mp4"}

	g, err := Compile(testScene(), assets, Options{})
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	if len(g.Skipped) != 1 || g.Skipped[0] != "logo" {
		t.Fatalf("Skipped = %v, want [logo]", g.Skipped)
	}
	if len(g.Inputs) != 2 {
		t.Fatalf("got %d inputs, want 2", len(g.Inputs))
	}
	if strings.Contains(g.String(), "[ov1]") {
		t.Fatalf("skipped layer still referenced: %s", g.String())
	}
	if !strings.Contains(g.String(), "[v0]drawtext=font='Poppins'") {
		t.Fatalf("text should chain from the surviving overlay without a font file: %s", g.String())
	}

	_, err = Compile(testScene(), assets, Options{OnMissingAsset: FailMissing})
	if !errors.Is(err, apperr.ErrAssetUnavailable) {
		t.Fatalf("error = %v, want ErrAssetUnavailable", err)
	}
}

func TestCompile_NoLayers(t *testing.T) {
	s := &scene.Scene{Canvas: scene.Canvas{Width: 720, Height: 1280, FPS: 24, Duration: 2.5}, Background: "black"}
	g, err := Compile(s, nil, Options{})
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	if got := g.String(); got != "[0:v]format=rgba[base];[base]format=yuv420p[vout]" {
		t.Fatalf("graph = %s", got)
	}
	if g.Inputs[0].Path != "color=c=black:s=720x1280:r=24:d=2.5" {
		t.Fatalf("background = %s", g.Inputs[0].Path)
	}
}

func TestCompile_AudioPassthrough(t *testing.T) {
	s := testScene()
	assets := map[string]string{"bg": "/a.mp4", "logo": "/b.png"}
	g, _ := Compile(s, assets, Options{AudioPolicy: encoder.AudioPassthrough})
	if g.Audio.Stream != "1:a?" {
		t.Fatalf("audio stream = %q, want 1:a?", g.Audio.Stream)
	}

	g, _ = Compile(s, map[string]string{"logo": "/b.png"}, Options{AudioPolicy: encoder.AudioPassthrough})
	if g.Audio.Stream != "" {
		t.Fatalf("no surviving video should mute, got %q", g.Audio.Stream)
	}
}

func TestCompile_TextBoxAndWatermark(t *testing.T) {
	s := &scene.Scene{
		Canvas:     scene.Canvas{Width: 1080, Height: 1920, FPS: 30, Duration: 5},
		Background: "black",
		Layers: []scene.Layer{{
			Key: "t", Type: template.LayerText, End: 5, Text: "it's", FontFamily: "Inter", FontSize: 72,
			Color: "#FFCC00", BoxColor: "rgba(0,0,0,0.5)", BoxPadding: 12,
		}},
	}
	g, err := Compile(s, nil, Options{Watermark: "reelkit", TextDir: "/w"})
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	graph := g.String()
	for _, frag := range []string{
		"fontcolor=0xFFCC00",
		"borderw=3",
		"box=1:boxcolor=0x000000@0.5:boxborderw=12",
		"[t1]drawtext=font='Inter':textfile='/w/text_2.txt':fontsize=48:fontcolor=white@0.5:x=w-tw-24:y=h-th-24[wm]",
		"[wm]format=yuv420p[vout]",
	} {
		if !strings.Contains(graph, frag) {
			t.Errorf("graph missing %q:\n%s", frag, graph)
		}
	}
	if g.TextFiles[0].Content != "it's" {
		t.Errorf("text file content = %q", g.TextFiles[0].Content)
	}
}

func TestSubtitleBurn(t *testing.T) {
	g := SubtitleBurn("/in.mp4", "/w/it's.ass", "/fonts", encoder.AudioPassthrough)
	want := `[0:v]subtitles=filename='/w/it'\''s.ass':fontsdir='/fonts'[vout]`
	if g.String() != want {
		t.Fatalf("graph = %s\nwant  %s", g.String(), want)
	}
	if g.Audio.Stream != "0:a?" || g.Inputs[0].Path != "/in.mp4" {
		t.Fatalf("graph = %+v", g)
	}
}

func TestParseMissingAssetPolicy(t *testing.T) {
	if p, err := ParseMissingAssetPolicy(""); err != nil || p != SkipMissing {
		t.Fatalf("empty = %v, %v", p, err)
	}
	if p, err := ParseMissingAssetPolicy("FAIL"); err != nil || p != FailMissing {
		t.Fatalf("FAIL = %v, %v", p, err)
	}
	if _, err := ParseMissingAssetPolicy("retry"); err == nil {
		t.Fatal("expected error")
	}
}

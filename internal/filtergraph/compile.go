// Package filtergraph compiles a scene into ffmpeg inputs and a
// filter_complex expression.
package filtergraph

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/reelkit/reelkit/internal/apperr"
	"github.com/reelkit/reelkit/internal/colors"
	"github.com/reelkit/reelkit/internal/encoder"
	"github.com/reelkit/reelkit/internal/scene"
	"github.com/reelkit/reelkit/internal/template"
)

// OutputLabel is the terminal buffer every compiled graph maps.
const OutputLabel = "[vout]"

const watermarkMargin = 24

type MissingAssetPolicy string

const (
	SkipMissing MissingAssetPolicy = "skip"
	FailMissing MissingAssetPolicy = "fail"
)

// ParseMissingAssetPolicy accepts "skip" and "fail"; empty means skip.
func ParseMissingAssetPolicy(s string) (MissingAssetPolicy, error) {
	switch MissingAssetPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", SkipMissing:
		return SkipMissing, nil
	case FailMissing:
		return FailMissing, nil
	}
	return "", fmt.Errorf("unknown missing asset policy %q", s)
}

// FontResolver maps a requested font to a font file path, or "" when only
// the family name can be passed to the encoder.
type FontResolver interface {
	Resolve(fontID, family, text string) string
}

type Options struct {
	Fonts          FontResolver
	TextDir        string
	Watermark      string
	AudioPolicy    encoder.AudioPolicy
	OnMissingAsset MissingAssetPolicy
}

// TextFile is drawtext input the caller must write before encoding.
type TextFile struct {
	Path    string
	Content string
}

type Graph struct {
	Inputs    []encoder.Input
	Filters   []string
	Output    string
	Audio     encoder.Audio
	TextFiles []TextFile
	// Skipped holds the keys of media layers dropped for a missing asset.
	Skipped []string
}

func (g *Graph) String() string {
	return strings.Join(g.Filters, ";")
}

// Job packages the graph for an encoder run.
func (g *Graph) Job(params encoder.OutputParams) encoder.Job {
	return encoder.Job{
		Inputs: g.Inputs,
		Graph:  g.String(),
		Output: g.Output,
		Audio:  g.Audio,
		Params: params,
	}
}

type compiler struct {
	s      *scene.Scene
	opts   Options
	g      *Graph
	cur    string
	nextIn int
	ov     int
	draw   int
}

// Compile builds the graph for s. assets maps layer keys to local files;
// media layers without an entry are skipped or rejected per
// opts.OnMissingAsset.
func Compile(s *scene.Scene, assets map[string]string, opts Options) (*Graph, error) {
	c := &compiler{
		s:      s,
		opts:   opts,
		g:      &Graph{Output: OutputLabel},
		cur:    "[base]",
		nextIn: 1,
	}

	c.g.Inputs = append(c.g.Inputs, encoder.Input{
		Path: fmt.Sprintf("color=c=%s:s=%dx%d:r=%d:d=%s",
			colors.FFmpeg(s.Background), s.Canvas.Width, s.Canvas.Height, s.Canvas.FPS, num(s.Canvas.Duration)),
		Options: []string{"-f", "lavfi"},
	})
	c.g.Filters = append(c.g.Filters, "[0:v]format=rgba[base]")

	audioInput := -1
	for _, l := range s.Layers {
		switch l.Type {
		case template.LayerVideo, template.LayerImage:
			path := assets[l.Key]
			if path == "" {
				if opts.OnMissingAsset == FailMissing {
					return nil, apperr.New(apperr.KindAsset, "compile filter graph", apperr.ErrAssetUnavailable).
						WithDetail("layer", l.Key).WithDetail("source", l.Source)
				}
				c.g.Skipped = append(c.g.Skipped, l.Key)
				continue
			}
			idx := c.media(l, path)
			if l.Type == template.LayerVideo && audioInput < 0 {
				audioInput = idx
			}
		case template.LayerText:
			c.text(l)
		}
	}

	if wm := strings.TrimSpace(opts.Watermark); wm != "" {
		c.watermark(wm)
	}

	c.g.Filters = append(c.g.Filters, c.cur+"format=yuv420p"+OutputLabel)

	if opts.AudioPolicy == encoder.AudioPassthrough && audioInput > 0 {
		c.g.Audio = encoder.Audio{Stream: fmt.Sprintf("%d:a?", audioInput)}
	}
	return c.g, nil
}

func (c *compiler) media(l scene.Layer, path string) int {
	idx := c.nextIn
	c.nextIn++

	in := encoder.Input{Path: path, Options: []string{"-loop", "1"}}
	if l.Type == template.LayerVideo {
		in.Options = []string{"-stream_loop", "-1"}
	}
	c.g.Inputs = append(c.g.Inputs, in)

	bw, bh := c.s.Canvas.Width, c.s.Canvas.Height
	if l.W > 0 && l.H > 0 {
		bw, bh = l.W, l.H
	}

	ov := fmt.Sprintf("[ov%d]", c.ov)
	var fit string
	if l.Fit == template.FitContain {
		fit = fmt.Sprintf("scale=w=%d:h=%d:force_original_aspect_ratio=decrease,pad=w=%d:h=%d:x=(ow-iw)/2:y=(oh-ih)/2:color=0x00000000",
			bw, bh, bw, bh)
	} else {
		fit = fmt.Sprintf("scale=w=%d:h=%d:force_original_aspect_ratio=increase,crop=w=%d:h=%d", bw, bh, bw, bh)
	}
	c.g.Filters = append(c.g.Filters, fmt.Sprintf("[%d:v]%s,setsar=1,format=rgba%s", idx, fit, ov))

	if l.Opacity < 1 {
		ova := fmt.Sprintf("[ova%d]", c.ov)
		c.g.Filters = append(c.g.Filters, fmt.Sprintf("%scolorchannelmixer=aa=%s%s", ov, num(l.Opacity), ova))
		ov = ova
	}

	out := fmt.Sprintf("[v%d]", c.ov)
	c.g.Filters = append(c.g.Filters, fmt.Sprintf("%s%soverlay=x=%d:y=%d:enable='%s'%s",
		c.cur, ov, l.X, l.Y, between(l.Start, l.End), out))
	c.cur = out
	c.ov++
	return idx
}

func (c *compiler) text(l scene.Layer) {
	file := c.textFile(l.Text)

	box, boxColor := 0, "black@0.0"
	if l.BoxColor != "" {
		box, boxColor = 1, colors.FFmpeg(l.BoxColor)
	}

	draw := fmt.Sprintf("drawtext=%s:textfile='%s':fontsize=%d:fontcolor=%s:x=%d:y=%d:"+
		"shadowcolor=black@0.6:shadowx=2:shadowy=2:borderw=%d:bordercolor=black:"+
		"box=%d:boxcolor=%s:boxborderw=%d:enable='%s'",
		c.font(l.FontID, l.FontFamily, l.Text), escape(file), l.FontSize, colors.FFmpeg(l.Color), l.X, l.Y,
		strokeWidth(l.FontSize), box, boxColor, l.BoxPadding, between(l.Start, l.End))

	out := fmt.Sprintf("[t%d]", c.draw)
	c.g.Filters = append(c.g.Filters, c.cur+draw+out)
	c.cur = out
}

func (c *compiler) watermark(text string) {
	file := c.textFile(text)
	size := c.s.Canvas.Height / 40
	if size < 12 {
		size = 12
	}
	draw := fmt.Sprintf("drawtext=%s:textfile='%s':fontsize=%d:fontcolor=white@0.5:x=w-tw-%d:y=h-th-%d",
		c.font("", scene.DefaultFontFamily, text), escape(file), size, watermarkMargin, watermarkMargin)
	c.g.Filters = append(c.g.Filters, c.cur+draw+"[wm]")
	c.cur = "[wm]"
}

func (c *compiler) textFile(content string) string {
	c.draw++
	path := filepath.Join(c.opts.TextDir, fmt.Sprintf("text_%d.txt", c.draw))
	c.g.TextFiles = append(c.g.TextFiles, TextFile{Path: path, Content: content})
	return path
}

func (c *compiler) font(id, family, text string) string {
	if c.opts.Fonts != nil {
		if path := c.opts.Fonts.Resolve(id, family, text); path != "" {
			return fmt.Sprintf("fontfile='%s'", escape(path))
		}
	}
	return fmt.Sprintf("font='%s'", escape(family))
}

// SubtitleBurn returns the graph that burns an ASS file into input 0.
func SubtitleBurn(video, assPath, fontsDir string, audio encoder.AudioPolicy) *Graph {
	filter := fmt.Sprintf("[0:v]subtitles=filename='%s'", escape(assPath))
	if fontsDir != "" {
		filter += fmt.Sprintf(":fontsdir='%s'", escape(fontsDir))
	}
	g := &Graph{
		Inputs:  []encoder.Input{{Path: video}},
		Filters: []string{filter + OutputLabel},
		Output:  OutputLabel,
	}
	if audio == encoder.AudioPassthrough {
		g.Audio = encoder.Audio{Stream: "0:a?"}
	}
	return g
}

func between(start, end float64) string {
	return fmt.Sprintf("between(t,%s,%s)", num(start), num(end))
}

func strokeWidth(fontSize int) int {
	if w := fontSize / 24; w > 2 {
		return w
	}
	return 2
}

// num formats v as the shortest decimal that round-trips.
func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// escape quotes s for use inside a single-quoted filter option.
func escape(s string) string {
	return strings.ReplaceAll(s, "'", `'\''`)
}

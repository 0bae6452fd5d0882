// Package encoder wraps the external ffmpeg binary behind a narrow interface
// so the composite graph can be asserted on in tests without a real encoder.
package encoder

import (
	"fmt"
	"strings"
	"time"

	"github.com/reelkit/reelkit/internal/apperr"
)

// Input is one -i argument with the options that must precede it.
type Input struct {
	Path    string
	Options []string
}

type AudioPolicy string

const (
	AudioMute        AudioPolicy = "mute"
	AudioPassthrough AudioPolicy = "passthrough"
)

// ParseAudioPolicy accepts "mute" and "passthrough"; empty means mute.
func ParseAudioPolicy(s string) (AudioPolicy, error) {
	switch AudioPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", AudioMute:
		return AudioMute, nil
	case AudioPassthrough:
		return AudioPassthrough, nil
	}
	return "", fmt.Errorf("unknown audio policy %q", s)
}

// Audio describes how the output audio track is produced. An empty Stream
// means the output is silent.
type Audio struct {
	Stream string // e.g. "1:a?"
}

type Quality string

const (
	QualityLow    Quality = "low"
	QualityMedium Quality = "medium"
	QualityHigh   Quality = "high"
	QualityUltra  Quality = "ultra"
)

// QualitySettings are the x264 rate-control parameters for a tier.
type QualitySettings struct {
	CRF    int
	Preset string
}

var qualityTiers = map[Quality]QualitySettings{
	QualityLow:    {CRF: 28, Preset: "fast"},
	QualityMedium: {CRF: 23, Preset: "medium"},
	QualityHigh:   {CRF: 18, Preset: "slow"},
	QualityUltra:  {CRF: 15, Preset: "slower"},
}

// ParseQuality maps a tier name to its enum. Unknown or empty names select
// high.
func ParseQuality(s string) Quality {
	q := Quality(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := qualityTiers[q]; ok {
		return q
	}
	return QualityHigh
}

func (q Quality) Settings() QualitySettings {
	if s, ok := qualityTiers[q]; ok {
		return s
	}
	return qualityTiers[QualityHigh]
}

type Format string

const (
	FormatMP4  Format = "mp4"
	FormatWebM Format = "webm"
)

// ParseFormat validates a container name. Empty selects mp4.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatMP4:
		return FormatMP4, nil
	case FormatWebM:
		return FormatWebM, nil
	}
	return "", apperr.New(apperr.KindValidation, "parse output format", apperr.ErrUnsupportedOutputFormat).
		WithDetail("format", s)
}

func (f Format) ContentType() string {
	if f == FormatWebM {
		return "video/webm"
	}
	return "video/mp4"
}

// OutputParams controls the encoded output.
type OutputParams struct {
	Path     string
	Duration float64 // -t truncation, 0 = none
	FPS      int
	Quality  Quality
	Format   Format
}

// Job is one composite encode: inputs, a filter_complex expression, and the
// label of the terminal buffer to map.
type Job struct {
	Inputs []Input
	Graph  string
	Output string
	Audio  Audio
	Params OutputParams
}

// Result is the structured outcome of an encoder invocation.
type Result struct {
	ExitCode   int
	StderrTail string
	Duration   time.Duration
}

func (r Result) IsSuccess() bool { return r.ExitCode == 0 }

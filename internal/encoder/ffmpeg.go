package encoder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	ffmpeg "github.com/u2takey/ffmpeg-go"

	"github.com/reelkit/reelkit/internal/apperr"
)

const (
	maxStderrBytes = 8 * 1024 // 8 KB tail of stderr kept for diagnostics
)

// Encoder runs composite encodes and the small helper extractions the render
// and caption pipelines need.
type Encoder interface {
	// Run executes one composite encode. A non-zero exit is reported as an
	// *apperr.EncodeError together with the populated Result.
	Run(ctx context.Context, job Job) (Result, error)

	// ExtractFrame writes a single JPEG frame taken at second `at`.
	ExtractFrame(ctx context.Context, video string, at float64, out string) error

	// ExtractAudio writes the first audio track as 16 kHz mono MP3.
	ExtractAudio(ctx context.Context, video, out string) error
}

type Config struct {
	FFmpegPath    string        // empty = look up "ffmpeg" on PATH
	RenderTimeout time.Duration // timeout for a composite encode
	HelperTimeout time.Duration // timeout for frame/audio extraction
	Logger        *slog.Logger
}

func DefaultConfig(logger *slog.Logger) Config {
	return Config{
		FFmpegPath:    "",
		RenderTimeout: 30 * time.Minute,
		HelperTimeout: 2 * time.Minute,
		Logger:        logger,
	}
}

// FFmpeg is the production Encoder backed by the ffmpeg binary.
type FFmpeg struct {
	cfg Config
	bin string
}

// NewFFmpeg resolves the ffmpeg binary. A missing binary is an error so the
// service fails fast at startup rather than on the first render.
func NewFFmpeg(cfg Config) (*FFmpeg, error) {
	bin, err := resolveFFmpeg(cfg.FFmpegPath)
	if err != nil {
		return nil, fmt.Errorf("cannot locate ffmpeg: %w", err)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	cfg.Logger.Info("encoder initialised", "ffmpeg", bin)
	return &FFmpeg{cfg: cfg, bin: bin}, nil
}

func (f *FFmpeg) Binary() string { return f.bin }

func (f *FFmpeg) Run(ctx context.Context, job Job) (Result, error) {
	args, err := BuildArgs(job)
	if err != nil {
		return Result{}, err
	}
	if err := os.MkdirAll(filepath.Dir(job.Params.Path), 0755); err != nil {
		return Result{}, fmt.Errorf("create output dir: %w", err)
	}

	if f.cfg.RenderTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.cfg.RenderTimeout)
		defer cancel()
	}

	res := f.exec(ctx, args)
	if !res.IsSuccess() {
		return res, &apperr.EncodeError{ExitCode: res.ExitCode, Stderr: res.StderrTail}
	}
	return res, nil
}

func (f *FFmpeg) ExtractFrame(ctx context.Context, video string, at float64, out string) error {
	args := ffmpeg.Input(video, ffmpeg.KwArgs{"ss": strconv.FormatFloat(at, 'f', -1, 64)}).
		Output(out, ffmpeg.KwArgs{"vframes": 1, "q:v": 2}).
		OverWriteOutput().
		GetArgs()
	return f.helper(ctx, "extract frame", args)
}

func (f *FFmpeg) ExtractAudio(ctx context.Context, video, out string) error {
	args := ffmpeg.Input(video).
		Output(out, ffmpeg.KwArgs{"map": "0:a:0", "ac": 1, "ar": 16000, "acodec": "libmp3lame"}).
		OverWriteOutput().
		GetArgs()
	return f.helper(ctx, "extract audio", args)
}

func (f *FFmpeg) helper(ctx context.Context, op string, args []string) error {
	if f.cfg.HelperTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.cfg.HelperTimeout)
		defer cancel()
	}
	res := f.exec(ctx, append([]string{"-hide_banner", "-loglevel", "error"}, args...))
	if !res.IsSuccess() {
		return fmt.Errorf("%s: %w", op, &apperr.EncodeError{ExitCode: res.ExitCode, Stderr: res.StderrTail})
	}
	return nil
}

// BuildArgs renders a job as ffmpeg command-line arguments.
func BuildArgs(job Job) ([]string, error) {
	if job.Params.Format == "" {
		job.Params.Format = FormatMP4
	}
	if _, err := ParseFormat(string(job.Params.Format)); err != nil {
		return nil, err
	}

	args := []string{"-y", "-hide_banner", "-loglevel", "error"}
	for _, in := range job.Inputs {
		args = append(args, in.Options...)
		args = append(args, "-i", in.Path)
	}

	output := job.Output
	if output == "" {
		output = "[vout]"
	}
	args = append(args, "-filter_complex", job.Graph, "-map", output)

	if job.Audio.Stream == "" {
		args = append(args, "-an")
	} else {
		args = append(args, "-map", job.Audio.Stream, "-c:a", audioCodec(job.Params.Format), "-b:a", "128k")
	}

	p := job.Params
	if p.Duration > 0 {
		args = append(args, "-t", strconv.FormatFloat(p.Duration, 'f', -1, 64))
	}
	if p.FPS > 0 {
		args = append(args, "-r", strconv.Itoa(p.FPS))
	}

	q := p.Quality.Settings()
	switch p.Format {
	case FormatWebM:
		args = append(args, "-c:v", "libvpx-vp9", "-crf", strconv.Itoa(q.CRF), "-b:v", "0")
	default:
		args = append(args, "-c:v", "libx264", "-crf", strconv.Itoa(q.CRF), "-preset", q.Preset,
			"-pix_fmt", "yuv420p", "-movflags", "+faststart")
	}
	return append(args, p.Path), nil
}

// audioCodec picks an encoder the container can mux. WebM only carries
// Vorbis or Opus.
func audioCodec(format Format) string {
	if format == FormatWebM {
		return "libopus"
	}
	return "aac"
}

// exec is the core subprocess execution helper.
func (f *FFmpeg) exec(ctx context.Context, args []string) Result {
	start := time.Now()

	cmd := exec.CommandContext(ctx, f.bin, args...)

	// Capture stderr with bounded buffer
	var stderrBuf bytes.Buffer
	cmd.Stderr = io.Writer(&limitedWriter{w: &stderrBuf, limit: maxStderrBytes})
	cmd.Stdout = io.Discard

	f.cfg.Logger.Debug("executing ffmpeg", "args", args)

	err := cmd.Run()
	elapsed := time.Since(start)

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
			stderrBuf.WriteString(err.Error())
		}
	}

	stderrTail := stderrBuf.String()

	if exitCode != 0 {
		f.cfg.Logger.Warn("ffmpeg failed",
			"exit_code", exitCode,
			"duration_ms", elapsed.Milliseconds(),
			"stderr_tail", truncate(stderrTail, 512),
		)
	} else {
		f.cfg.Logger.Info("ffmpeg succeeded", "duration_ms", elapsed.Milliseconds())
	}

	return Result{ExitCode: exitCode, StderrTail: stderrTail, Duration: elapsed}
}

func resolveFFmpeg(preferred string) (string, error) {
	if preferred != "" {
		if p, err := exec.LookPath(preferred); err == nil {
			return p, nil
		}
		return "", fmt.Errorf("configured ffmpeg %q not found", preferred)
	}
	p, err := exec.LookPath("ffmpeg")
	if err != nil {
		return "", fmt.Errorf("no ffmpeg binary found on PATH")
	}
	return p, nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return "..." + s[len(s)-maxLen:]
}

// limitedWriter is an io.Writer that keeps only the last `limit` bytes.
type limitedWriter struct {
	w     *bytes.Buffer
	limit int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	lw.w.Write(p)
	if lw.w.Len() > lw.limit {
		b := lw.w.Bytes()
		lw.w.Reset()
		lw.w.Write(b[len(b)-lw.limit:])
	}
	return n, nil
}

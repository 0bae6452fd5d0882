package encoder

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/reelkit/reelkit/internal/apperr"
)

// Recorder is an in-memory Encoder that records every job and writes a
// placeholder file at each output path. It is used by tests across packages.
type Recorder struct {
	mu     sync.Mutex
	Jobs   []Job
	Frames []string
	Audios []string

	// ExitCode, when non-zero, makes Run fail with an EncodeError.
	ExitCode int
	Stderr   string
	// Hook runs inside Run before the result is returned.
	Hook func(ctx context.Context, job Job)
}

func (r *Recorder) Run(ctx context.Context, job Job) (Result, error) {
	r.mu.Lock()
	r.Jobs = append(r.Jobs, job)
	exit, stderr, hook := r.ExitCode, r.Stderr, r.Hook
	r.mu.Unlock()

	if hook != nil {
		hook(ctx, job)
	}
	if err := ctx.Err(); err != nil {
		return Result{ExitCode: -1, StderrTail: err.Error()}, &apperr.EncodeError{ExitCode: -1, Stderr: err.Error()}
	}
	if exit != 0 {
		return Result{ExitCode: exit, StderrTail: stderr}, &apperr.EncodeError{ExitCode: exit, Stderr: stderr}
	}
	if err := writePlaceholder(job.Params.Path, "video"); err != nil {
		return Result{ExitCode: -1}, err
	}
	return Result{}, nil
}

func (r *Recorder) ExtractFrame(_ context.Context, video string, _ float64, out string) error {
	r.mu.Lock()
	r.Frames = append(r.Frames, video)
	r.mu.Unlock()
	return writePlaceholder(out, "jpeg")
}

func (r *Recorder) ExtractAudio(_ context.Context, video, out string) error {
	r.mu.Lock()
	r.Audios = append(r.Audios, video)
	r.mu.Unlock()
	return writePlaceholder(out, "mp3")
}

// RecordedJobs returns a copy of the jobs run so far.
func (r *Recorder) RecordedJobs() []Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Job(nil), r.Jobs...)
}

func writePlaceholder(path, content string) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0644)
}

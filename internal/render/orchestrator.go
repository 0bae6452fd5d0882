// Package render drives a render job from draft to a published video: it
// claims the job, composes the scene, materializes assets, encodes, and
// publishes the output and poster.
package render

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/reelkit/reelkit/internal/apperr"
	"github.com/reelkit/reelkit/internal/assets"
	"github.com/reelkit/reelkit/internal/catalog"
	"github.com/reelkit/reelkit/internal/encoder"
	"github.com/reelkit/reelkit/internal/filtergraph"
	"github.com/reelkit/reelkit/internal/logging"
	"github.com/reelkit/reelkit/internal/scene"
	"github.com/reelkit/reelkit/internal/storage"
)

const (
	CancelledMessage = "cancelled"

	progressLoaded    = 10
	progressAssets    = 40
	progressEncoded   = 80
	progressPublished = 100

	defaultAssetConcurrency = 4
	maxPosterOffset         = 1.0
	maxErrorTail            = 512
)

var errJobInactive = errors.New("job is no longer rendering")

type Config struct {
	// WorkDir is the parent of per-job temp dirs; empty uses os.TempDir.
	WorkDir string
	// MaxRenders bounds concurrent encodes; 0 uses the logical CPU count.
	MaxRenders       int
	AssetConcurrency int
	OnMissingAsset   filtergraph.MissingAssetPolicy
	AudioPolicy      encoder.AudioPolicy
	Logger           *slog.Logger
}

type Orchestrator struct {
	repo    catalog.Repository
	fetcher assets.Fetcher
	fonts   filtergraph.FontResolver
	enc     encoder.Encoder
	store   storage.Storage
	hub     *Hub
	cfg     Config
	logger  *slog.Logger

	slots    *semaphore.Weighted
	maxSlots int

	wg      sync.WaitGroup
	active  atomic.Int32
	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

func New(repo catalog.Repository, fetcher assets.Fetcher, fonts filtergraph.FontResolver, enc encoder.Encoder, store storage.Storage, cfg Config) *Orchestrator {
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	if cfg.AssetConcurrency <= 0 {
		cfg.AssetConcurrency = defaultAssetConcurrency
	}
	if cfg.OnMissingAsset == "" {
		cfg.OnMissingAsset = filtergraph.SkipMissing
	}
	if cfg.AudioPolicy == "" {
		cfg.AudioPolicy = encoder.AudioMute
	}
	n := EncodeSlots(cfg.MaxRenders)
	return &Orchestrator{
		repo:     repo,
		fetcher:  fetcher,
		fonts:    fonts,
		enc:      enc,
		store:    store,
		hub:      NewHub(),
		cfg:      cfg,
		logger:   logging.WithComponent(cfg.Logger, "render"),
		slots:    semaphore.NewWeighted(int64(n)),
		maxSlots: n,
		cancels:  make(map[string]context.CancelFunc),
	}
}

// EncodeSlots returns configured when positive, else the number of logical
// CPUs, never less than one.
func EncodeSlots(configured int) int {
	if configured > 0 {
		return configured
	}
	n, err := cpu.Counts(true)
	if err != nil || n < 1 {
		return 1
	}
	return n
}

func (o *Orchestrator) Hub() *Hub { return o.hub }

func (o *Orchestrator) EncodeSlots() int { return o.maxSlots }

// ActiveCount returns the number of renders running in this process.
func (o *Orchestrator) ActiveCount() int { return int(o.active.Load()) }

// Start claims the job and renders it in the background. Of any number of
// concurrent calls for the same draft job exactly one returns nil.
func (o *Orchestrator) Start(ctx context.Context, jobID string) (*catalog.RenderJob, error) {
	job, tpl, err := o.claim(ctx, jobID)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	o.track(jobID, cancel)
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer o.untrack(jobID)
		o.run(runCtx, job, tpl)
	}()
	return job, nil
}

// Render claims the job and renders it before returning.
func (o *Orchestrator) Render(ctx context.Context, jobID string) error {
	job, tpl, err := o.claim(ctx, jobID)
	if err != nil {
		return err
	}
	runCtx, cancel := context.WithCancel(ctx)
	o.track(jobID, cancel)
	defer o.untrack(jobID)
	return o.run(runCtx, job, tpl)
}

// Wait blocks until every render started with Start has returned.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Shutdown waits for in-flight renders until ctx expires, then interrupts
// the rest.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		o.mu.Lock()
		for _, cancel := range o.cancels {
			cancel()
		}
		o.mu.Unlock()
		<-done
		return ctx.Err()
	}
}

// Cancel fails a rendering job. The worker notices at its next status poll;
// an encode in progress is interrupted.
func (o *Orchestrator) Cancel(ctx context.Context, jobID string) error {
	ok, err := o.repo.FailJob(ctx, jobID, CancelledMessage)
	if err != nil {
		return err
	}
	if !ok {
		job, err := o.repo.GetJob(ctx, jobID)
		if err != nil {
			return err
		}
		switch {
		case job == nil:
			return apperr.New(apperr.KindNotFound, "cancel job", apperr.ErrJobNotFound).WithDetail("job_id", jobID)
		case job.IsTerminal():
			return apperr.New(apperr.KindConflict, "cancel job", apperr.ErrJobAlreadyTerminal).WithDetail("status", job.Status)
		default:
			return apperr.New(apperr.KindConflict, "cancel job", errJobInactive).WithDetail("status", job.Status)
		}
	}

	o.interrupt(jobID)
	o.hub.Publish(Event{JobID: jobID, Status: catalog.JobStatusFailed, Error: CancelledMessage})
	o.logger.Info("render cancelled", "job_id", jobID)
	return nil
}

// Delete removes a job and its published objects. A rendering job is
// interrupted.
func (o *Orchestrator) Delete(ctx context.Context, jobID string) error {
	job, err := o.repo.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job == nil {
		return apperr.New(apperr.KindNotFound, "delete job", apperr.ErrJobNotFound).WithDetail("job_id", jobID)
	}
	if err := o.repo.DeleteJob(ctx, jobID); err != nil {
		return err
	}
	o.interrupt(jobID)
	o.discard(ctx, job.OutputKey, job.PosterKey)
	o.logger.Info("render job deleted", "job_id", jobID, "status", job.Status)
	return nil
}

// claim checks the template and format before the draft→rendering CAS so a
// rejected job stays a draft.
func (o *Orchestrator) claim(ctx context.Context, jobID string) (*catalog.RenderJob, *catalog.Template, error) {
	job, err := o.repo.GetJob(ctx, jobID)
	if err != nil {
		return nil, nil, err
	}
	if job == nil {
		return nil, nil, apperr.New(apperr.KindNotFound, "start render", apperr.ErrJobNotFound).WithDetail("job_id", jobID)
	}

	tpl, err := o.repo.GetTemplate(ctx, job.TemplateID)
	if err != nil {
		return nil, nil, err
	}
	if tpl == nil {
		return nil, nil, apperr.New(apperr.KindNotFound, "start render", apperr.ErrTemplateNotFound).
			WithDetail("template_id", job.TemplateID)
	}
	if _, err := encoder.ParseFormat(job.OutputFormat); err != nil {
		return nil, nil, err
	}

	ok, err := o.repo.TransitionJob(ctx, jobID, catalog.JobStatusDraft, catalog.JobStatusRendering)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, o.lostClaim(ctx, jobID)
	}

	job.Status = catalog.JobStatusRendering
	job.Progress = 0
	job.Error = ""
	o.hub.Publish(Event{JobID: jobID, Status: job.Status})
	return job, tpl, nil
}

func (o *Orchestrator) lostClaim(ctx context.Context, jobID string) error {
	job, err := o.repo.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	switch {
	case job == nil:
		return apperr.New(apperr.KindNotFound, "start render", apperr.ErrJobNotFound).WithDetail("job_id", jobID)
	case job.IsTerminal():
		return apperr.New(apperr.KindConflict, "start render", apperr.ErrJobAlreadyTerminal).WithDetail("status", job.Status)
	default:
		return apperr.New(apperr.KindConflict, "start render", apperr.ErrJobAlreadyRendering).WithDetail("job_id", jobID)
	}
}

func (o *Orchestrator) run(ctx context.Context, job *catalog.RenderJob, tpl *catalog.Template) error {
	o.active.Add(1)
	defer o.active.Add(-1)

	logger := logging.WithTemplateID(logging.WithJobID(o.logger, job.ID), tpl.ID)
	start := time.Now()
	logger.Info("render started", "format", job.OutputFormat, "quality", job.Quality)

	out, err := o.execute(ctx, job, tpl, logger)
	if err == nil {
		o.hub.Publish(Event{
			JobID:     job.ID,
			Status:    catalog.JobStatusCompleted,
			Progress:  progressPublished,
			OutputURL: out.OutputURL,
			PosterURL: out.PosterURL,
		})
		logger.Info("render completed", "duration", time.Since(start), "output", out.OutputURL)
		return nil
	}

	if errors.Is(err, errJobInactive) {
		logger.Info("render abandoned", "reason", err)
		return err
	}

	msg := failureMessage(err)
	failed, ferr := o.repo.FailJob(context.WithoutCancel(ctx), job.ID, msg)
	if ferr != nil {
		logger.Error("failed to record render failure", "error", ferr)
	}
	if failed {
		o.hub.Publish(Event{JobID: job.ID, Status: catalog.JobStatusFailed, Error: msg})
		logger.Error("render failed", "error", err, "duration", time.Since(start))
	} else {
		logger.Info("render abandoned", "reason", err)
	}
	return err
}

func (o *Orchestrator) execute(ctx context.Context, job *catalog.RenderJob, tpl *catalog.Template, logger *slog.Logger) (catalog.JobOutput, error) {
	var out catalog.JobOutput

	o.progress(ctx, job.ID, progressLoaded)

	sc, err := scene.FromTemplate(tpl.Definition, job.Customization)
	if err != nil {
		return out, err
	}
	if err := o.checkActive(ctx, job.ID); err != nil {
		return out, err
	}

	workDir, err := os.MkdirTemp(o.cfg.WorkDir, "render-*")
	if err != nil {
		return out, fmt.Errorf("create work dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	materialized, err := o.materialize(ctx, sc, workDir, logger)
	if err != nil {
		return out, err
	}
	o.progress(ctx, job.ID, progressAssets)
	if err := o.checkActive(ctx, job.ID); err != nil {
		return out, err
	}

	format, err := encoder.ParseFormat(job.OutputFormat)
	if err != nil {
		return out, err
	}
	graph, err := filtergraph.Compile(sc, materialized, filtergraph.Options{
		Fonts:          o.fonts,
		TextDir:        workDir,
		Watermark:      job.Watermark,
		AudioPolicy:    o.cfg.AudioPolicy,
		OnMissingAsset: o.cfg.OnMissingAsset,
	})
	if err != nil {
		return out, err
	}
	if len(graph.Skipped) > 0 {
		logger.Warn("layers skipped for missing assets", "layers", graph.Skipped)
	}
	for _, tf := range graph.TextFiles {
		if err := os.WriteFile(tf.Path, []byte(tf.Content), 0644); err != nil {
			return out, fmt.Errorf("write text file: %w", err)
		}
	}

	output := filepath.Join(workDir, "output."+string(format))
	if err := o.encode(ctx, graph.Job(encoder.OutputParams{
		Path:     output,
		Duration: sc.Canvas.Duration,
		FPS:      sc.Canvas.FPS,
		Quality:  encoder.ParseQuality(job.Quality),
		Format:   format,
	}), logger); err != nil {
		if aerr := o.checkActive(ctx, job.ID); aerr != nil {
			return out, aerr
		}
		return out, err
	}

	o.progress(ctx, job.ID, progressEncoded)
	if err := o.checkActive(ctx, job.ID); err != nil {
		return out, err
	}

	poster := filepath.Join(workDir, "poster.jpg")
	if err := o.enc.ExtractFrame(ctx, output, posterOffset(sc.Canvas.Duration), poster); err != nil {
		logger.Warn("poster extraction failed", "error", err)
		poster = ""
	}

	out, err = o.publish(ctx, job, output, format, poster, logger)
	if err != nil {
		return out, err
	}

	ok, err := o.repo.CompleteJob(context.WithoutCancel(ctx), job.ID, out)
	if err != nil || !ok {
		o.discard(context.WithoutCancel(ctx), out.OutputKey, out.PosterKey)
		if err != nil {
			return out, err
		}
		return out, errJobInactive
	}
	return out, nil
}

// materialize fetches every media layer concurrently. Under the skip policy
// a failed fetch just leaves the layer out of the returned map.
func (o *Orchestrator) materialize(ctx context.Context, sc *scene.Scene, dir string, logger *slog.Logger) (map[string]string, error) {
	layers := sc.MediaLayers()
	paths := make([]string, len(layers))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.AssetConcurrency)
	for i, l := range layers {
		if strings.TrimSpace(l.Source) == "" {
			continue
		}
		g.Go(func() error {
			p, err := o.fetcher.Materialize(gctx, l.Source, dir, l.Key)
			if err != nil {
				if o.cfg.OnMissingAsset == filtergraph.FailMissing {
					return err
				}
				logger.Warn("asset unavailable", "layer", l.Key, "error", err)
				return nil
			}
			paths[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string]string, len(layers))
	for i, l := range layers {
		if paths[i] != "" {
			out[l.Key] = paths[i]
		}
	}
	return out, nil
}

func (o *Orchestrator) encode(ctx context.Context, job encoder.Job, logger *slog.Logger) error {
	if err := o.slots.Acquire(ctx, 1); err != nil {
		return err
	}
	defer o.slots.Release(1)

	result, err := o.enc.Run(ctx, job)
	if err != nil {
		return err
	}
	logger.Info("encode finished", "duration", result.Duration, "inputs", len(job.Inputs))
	return nil
}

func (o *Orchestrator) publish(ctx context.Context, job *catalog.RenderJob, output string, format encoder.Format, poster string, logger *slog.Logger) (catalog.JobOutput, error) {
	var out catalog.JobOutput

	name := job.Title
	if strings.TrimSpace(name) == "" {
		name = "output"
	}
	out.OutputKey = storage.Key("renders", job.ID, name+"."+string(format))
	url, err := uploadFile(ctx, o.store, output, out.OutputKey, format.ContentType())
	if err != nil {
		return catalog.JobOutput{}, fmt.Errorf("upload output: %w", err)
	}
	out.OutputURL = url

	if poster != "" {
		key := storage.Key("renders", job.ID, "poster.jpg")
		url, err := uploadFile(ctx, o.store, poster, key, "image/jpeg")
		if err != nil {
			logger.Warn("poster upload failed", "error", err)
		} else {
			out.PosterKey = key
			out.PosterURL = url
		}
	}
	return out, nil
}

func (o *Orchestrator) discard(ctx context.Context, keys ...string) {
	for _, key := range keys {
		if key == "" {
			continue
		}
		if err := o.store.Delete(ctx, key); err != nil {
			o.logger.Warn("failed to delete stored object", "key", key, "error", err)
		}
	}
}

// checkActive polls the job row; a deleted or no longer rendering job stops
// the pipeline.
func (o *Orchestrator) checkActive(ctx context.Context, jobID string) error {
	job, err := o.repo.GetJob(context.WithoutCancel(ctx), jobID)
	if err != nil {
		return err
	}
	if job == nil {
		return fmt.Errorf("%w: deleted", errJobInactive)
	}
	if job.Status != catalog.JobStatusRendering {
		return fmt.Errorf("%w: %s", errJobInactive, job.Status)
	}
	return nil
}

func (o *Orchestrator) progress(ctx context.Context, jobID string, p int) {
	if err := o.repo.UpdateJobProgress(context.WithoutCancel(ctx), jobID, p); err != nil {
		o.logger.Warn("failed to update progress", "job_id", jobID, "error", err)
		return
	}
	o.hub.Publish(Event{JobID: jobID, Status: catalog.JobStatusRendering, Progress: p})
}

func (o *Orchestrator) track(jobID string, cancel context.CancelFunc) {
	o.mu.Lock()
	o.cancels[jobID] = cancel
	o.mu.Unlock()
}

func (o *Orchestrator) untrack(jobID string) {
	o.mu.Lock()
	if cancel, ok := o.cancels[jobID]; ok {
		cancel()
		delete(o.cancels, jobID)
	}
	o.mu.Unlock()
}

func (o *Orchestrator) interrupt(jobID string) {
	o.mu.Lock()
	cancel := o.cancels[jobID]
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func uploadFile(ctx context.Context, store storage.Storage, path, key, contentType string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return store.Upload(ctx, f, key, contentType)
}

func posterOffset(duration float64) float64 {
	return math.Min(maxPosterOffset, duration/2)
}

func failureMessage(err error) string {
	var encErr *apperr.EncodeError
	if errors.As(err, &encErr) {
		return fmt.Sprintf("encoder exited %d: %s", encErr.ExitCode, truncateStr(encErr.Stderr, maxErrorTail))
	}
	if errors.Is(err, context.Canceled) {
		return "interrupted"
	}
	return err.Error()
}

func truncateStr(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[len(s)-maxLen:]
}

package captions

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/reelkit/reelkit/internal/catalog"
)

const DefaultPollInterval = 5 * time.Second

// Runner drains pending captions one at a time.
type Runner struct {
	service      *Service
	repo         catalog.Repository
	logger       *slog.Logger
	pollInterval time.Duration
	wake         chan struct{}
	running      atomic.Bool
	paused       atomic.Bool
}

func NewRunner(service *Service, repo catalog.Repository, pollInterval time.Duration, logger *slog.Logger) *Runner {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &Runner{
		service:      service,
		repo:         repo,
		logger:       logger,
		pollInterval: pollInterval,
		wake:         make(chan struct{}, 1),
	}
}

// Start blocks until ctx is done. A second concurrent call returns at once.
func (r *Runner) Start(ctx context.Context) {
	if r.running.Swap(true) {
		return
	}
	defer r.running.Store(false)

	r.logger.Info("caption runner started", "poll_interval", r.pollInterval)

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("caption runner stopping")
			return
		case <-ticker.C:
		case <-r.wake:
		}
		if r.paused.Load() {
			continue
		}
		for r.processNext(ctx) && ctx.Err() == nil && !r.paused.Load() {
		}
	}
}

// Notify wakes the runner without waiting for the next poll.
func (r *Runner) Notify() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *Runner) Pause() {
	r.paused.Store(true)
	r.logger.Info("caption runner paused")
}

func (r *Runner) Resume() {
	r.paused.Store(false)
	r.logger.Info("caption runner resumed")
	r.Notify()
}

func (r *Runner) IsPaused() bool {
	return r.paused.Load()
}

func (r *Runner) IsRunning() bool {
	return r.running.Load()
}

// processNext handles the oldest pending caption and reports whether it
// succeeded.
func (r *Runner) processNext(ctx context.Context) bool {
	pending, err := r.repo.ListPendingCaptions(ctx)
	if err != nil {
		r.logger.Error("failed to list pending captions", "error", err)
		return false
	}
	if len(pending) == 0 {
		return false
	}

	c := pending[0]
	r.logger.Info("processing caption", "caption_id", c.ID, "title", c.Title)
	if err := r.service.Process(ctx, c.ID); err != nil {
		r.logger.Error("caption processing failed", "caption_id", c.ID, "error", err)
		return false
	}
	return true
}

package encoder

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"
)

const defaultCacheTTL = 5 * time.Minute

// Capabilities is what the installed ffmpeg build supports.
type Capabilities struct {
	Version      string    `json:"version"`
	HasDrawtext  bool      `json:"has_drawtext"`
	HasSubtitles bool      `json:"has_subtitles"`
	HasLibx264   bool      `json:"has_libx264"`
	HasLibvpx    bool      `json:"has_libvpx"`
	ProbedAt     time.Time `json:"probed_at"`
}

// Prober runs the capability probe.
type Prober interface {
	Probe(ctx context.Context) (*Capabilities, error)
}

// Probe inspects `ffmpeg -version`, `-filters` and `-encoders`.
func (f *FFmpeg) Probe(ctx context.Context) (*Capabilities, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	version, err := f.output(ctx, "-hide_banner", "-version")
	if err != nil {
		return nil, err
	}
	filters, err := f.output(ctx, "-hide_banner", "-filters")
	if err != nil {
		return nil, err
	}
	encoders, err := f.output(ctx, "-hide_banner", "-encoders")
	if err != nil {
		return nil, err
	}

	caps := &Capabilities{
		Version:      parseVersion(version),
		HasDrawtext:  listsName(filters, "drawtext"),
		HasSubtitles: listsName(filters, "subtitles"),
		HasLibx264:   listsName(encoders, "libx264"),
		HasLibvpx:    listsName(encoders, "libvpx-vp9"),
		ProbedAt:     time.Now(),
	}
	f.cfg.Logger.Info("encoder probe complete",
		"version", caps.Version,
		"drawtext", caps.HasDrawtext,
		"subtitles", caps.HasSubtitles,
		"libx264", caps.HasLibx264,
		"libvpx", caps.HasLibvpx,
	)
	return caps, nil
}

func (f *FFmpeg) output(ctx context.Context, args ...string) (string, error) {
	var stdout bytes.Buffer
	cmd := exec.CommandContext(ctx, f.bin, args...)
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("ffmpeg %s: %w", strings.Join(args, " "), err)
	}
	return stdout.String(), nil
}

// parseVersion extracts "6.1.1" from "ffmpeg version 6.1.1 Copyright ...".
func parseVersion(out string) string {
	first, _, _ := strings.Cut(out, "\n")
	fields := strings.Fields(first)
	for i, f := range fields {
		if f == "version" && i+1 < len(fields) {
			return fields[i+1]
		}
	}
	return ""
}

// listsName reports whether an ffmpeg listing has a row whose second column
// is name (rows look like " T.. drawtext  V->V  Draw text").
func listsName(listing, name string) bool {
	sc := bufio.NewScanner(strings.NewReader(listing))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) >= 2 && fields[1] == name {
			return true
		}
	}
	return false
}

// CachedProbe caches probe results with a TTL so /status does not spawn
// ffmpeg on every request.
type CachedProbe struct {
	prober Prober
	ttl    time.Duration
	logger *slog.Logger

	mu     sync.RWMutex
	cached *Capabilities
}

func NewCachedProbe(prober Prober, logger *slog.Logger) *CachedProbe {
	return &CachedProbe{
		prober: prober,
		ttl:    defaultCacheTTL,
		logger: logger,
	}
}

// Get returns cached capabilities if fresh, otherwise re-probes.
func (p *CachedProbe) Get(ctx context.Context) (*Capabilities, error) {
	p.mu.RLock()
	if p.cached != nil && time.Since(p.cached.ProbedAt) < p.ttl {
		caps := p.cached
		p.mu.RUnlock()
		return caps, nil
	}
	p.mu.RUnlock()

	return p.Refresh(ctx)
}

func (p *CachedProbe) Peek() *Capabilities {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cached
}

// Refresh forces a new probe regardless of cache freshness.
func (p *CachedProbe) Refresh(ctx context.Context) (*Capabilities, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	caps, err := p.prober.Probe(ctx)
	if err != nil {
		p.logger.Warn("encoder probe failed", "error", err)
		if p.cached != nil {
			p.logger.Info("returning stale capabilities cache")
			return p.cached, nil
		}
		return nil, err
	}

	p.cached = caps
	return caps, nil
}

package ui

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/getlantern/systray"
)

const refreshInterval = 2 * time.Second

// Renders reports in-flight renders.
type Renders interface {
	ActiveCount() int
}

// CaptionQueue is the caption runner as seen from the menu.
type CaptionQueue interface {
	Pause()
	Resume()
	IsPaused() bool
}

type Tray struct {
	renders  Renders
	captions CaptionQueue
	logger   *slog.Logger

	statusItem  *systray.MenuItem
	rendersItem *systray.MenuItem
	pauseItem   *systray.MenuItem

	mu sync.Mutex

	onOpenTemplates func() error
	onQuit          func()
	stop            chan struct{}
}

type TrayConfig struct {
	Renders         Renders
	Captions        CaptionQueue
	Logger          *slog.Logger
	OnOpenTemplates func() error
	OnQuit          func()
}

func NewTray(cfg TrayConfig) *Tray {
	return &Tray{
		renders:         cfg.Renders,
		captions:        cfg.Captions,
		logger:          cfg.Logger,
		onOpenTemplates: cfg.OnOpenTemplates,
		onQuit:          cfg.OnQuit,
		stop:            make(chan struct{}),
	}
}

// Run blocks on the platform event loop until Quit.
func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

func (t *Tray) onReady() {
	systray.SetIcon(iconBytes)
	systray.SetTitle("Reelkit")
	systray.SetTooltip("Reelkit render service")

	t.statusItem = systray.AddMenuItem("Status: Idle", "Current service status")
	t.statusItem.Disable()

	t.rendersItem = systray.AddMenuItem("Renders: 0 active", "Renders in progress")
	t.rendersItem.Disable()

	systray.AddSeparator()

	t.pauseItem = systray.AddMenuItem("Pause Captions", "Pause caption transcription")
	templatesItem := systray.AddMenuItem("Open Templates Folder", "Show the watched template folder")

	systray.AddSeparator()

	quitItem := systray.AddMenuItem("Quit", "Quit Reelkit")

	go func() {
		for {
			select {
			case <-t.pauseItem.ClickedCh:
				t.togglePause()
			case <-templatesItem.ClickedCh:
				t.handleOpenTemplates()
			case <-quitItem.ClickedCh:
				t.logger.Info("quit requested from tray")
				if t.onQuit != nil {
					t.onQuit()
				}
				systray.Quit()
				return
			}
		}
	}()

	go t.refreshLoop()

	t.logger.Info("system tray ready")
}

func (t *Tray) onExit() {
	close(t.stop)
	t.logger.Info("system tray exiting")
}

func (t *Tray) refreshLoop() {
	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			t.refresh()
		}
	}
}

func (t *Tray) refresh() {
	t.mu.Lock()
	defer t.mu.Unlock()

	active := 0
	if t.renders != nil {
		active = t.renders.ActiveCount()
	}
	t.rendersItem.SetTitle(fmt.Sprintf("Renders: %d active", active))
	t.statusItem.SetTitle("Status: " + statusLabel(active, t.captions != nil && t.captions.IsPaused()))
}

func statusLabel(active int, paused bool) string {
	switch {
	case active > 0:
		return "Rendering"
	case paused:
		return "Paused"
	default:
		return "Idle"
	}
}

func (t *Tray) togglePause() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.captions == nil {
		return
	}

	if t.captions.IsPaused() {
		t.captions.Resume()
		t.pauseItem.SetTitle("Pause Captions")
	} else {
		t.captions.Pause()
		t.pauseItem.SetTitle("Resume Captions")
	}
}

func (t *Tray) handleOpenTemplates() {
	if t.onOpenTemplates != nil {
		if err := t.onOpenTemplates(); err != nil {
			t.logger.Error("failed to open templates folder", "error", err)
		}
	}
}

func (t *Tray) Quit() {
	systray.Quit()
}

// RunHeadless blocks until ctx is done. It stands in for Run when no
// desktop session is available.
func RunHeadless(ctx context.Context, logger *slog.Logger) {
	logger.Info("running headless, tray disabled")
	<-ctx.Done()
}

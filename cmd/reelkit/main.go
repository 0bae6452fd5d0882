package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/reelkit/reelkit/internal/api"
	"github.com/reelkit/reelkit/internal/assets"
	"github.com/reelkit/reelkit/internal/captions"
	"github.com/reelkit/reelkit/internal/catalog"
	"github.com/reelkit/reelkit/internal/config"
	"github.com/reelkit/reelkit/internal/db"
	"github.com/reelkit/reelkit/internal/encoder"
	"github.com/reelkit/reelkit/internal/fonts"
	"github.com/reelkit/reelkit/internal/logging"
	"github.com/reelkit/reelkit/internal/playback"
	"github.com/reelkit/reelkit/internal/render"
	"github.com/reelkit/reelkit/internal/storage"
	"github.com/reelkit/reelkit/internal/subtitle"
	"github.com/reelkit/reelkit/internal/ui"
	"github.com/reelkit/reelkit/internal/watcher"
)

const (
	signingSecretKey = "signing_secret"
	shutdownTimeout  = 30 * time.Second
	probeTimeout     = 10 * time.Second
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("fatal error: %v", err)
	}
}

func run() error {
	startTime := time.Now()

	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	for _, dir := range []string{cfg.DataDir(), cfg.WorkDir(), cfg.FontDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	logger := logging.NewLogger(os.Stdout, cfg.LogLevel())
	logger.Info("starting reelkit", "version", config.Version, "data_dir", cfg.DataDir())

	database, err := db.New(cfg.DBPath(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	repo := catalog.NewRepository(database.Conn())

	authToken, err := ensureSecret(repo, api.AuthTokenKey, "")
	if err != nil {
		return fmt.Errorf("failed to ensure auth token: %w", err)
	}

	fmt.Println()
	fmt.Println("╔═══════════════════════════════════════════════════════════════════════════╗")
	fmt.Printf("║  REELKIT v%-64s║\n", config.Version)
	fmt.Println("╠═══════════════════════════════════════════════════════════════════════════╣")
	fmt.Printf("║  API URL:    %-61s║\n", "http://"+cfg.Addr())
	fmt.Printf("║  Auth Token: %-61s║\n", authToken)
	fmt.Println("╚═══════════════════════════════════════════════════════════════════════════╝")
	fmt.Println()

	store, files, err := newStorage(cfg, repo, logger)
	if err != nil {
		return err
	}

	ffmpegCfg := encoder.DefaultConfig(logging.WithComponent(logger, "encoder"))
	ffmpegCfg.FFmpegPath = cfg.FFmpegPath()
	ffmpeg, err := encoder.NewFFmpeg(ffmpegCfg)
	if err != nil {
		return err
	}
	probe := encoder.NewCachedProbe(ffmpeg, logger)
	probeCtx, probeCancel := context.WithTimeout(context.Background(), probeTimeout)
	if caps, err := probe.Refresh(probeCtx); err == nil {
		logger.Info("encoder capabilities detected",
			"version", caps.Version,
			"drawtext", caps.HasDrawtext,
			"subtitles", caps.HasSubtitles,
			"libx264", caps.HasLibx264,
		)
		if !caps.HasDrawtext {
			logger.Warn("ffmpeg lacks drawtext; text layers will fail to render")
		}
	}
	probeCancel()

	fontLookup := fonts.NewLookup(fonts.Default(), cfg.FontDir(), cfg.FallbackFont(), logger)
	fetcher := assets.NewHTTPFetcher(cfg.AssetTimeout(), cfg.AssetMaxBytes(), logger).
		AllowLocal(cfg.TemplateDir(), cfg.StorageDir())
	formatter := subtitle.NewFormatter(subtitle.DefaultPresets(), logger)

	catalogSvc := catalog.NewService(repo, logger)

	orchestrator := render.New(repo, fetcher, fontLookup, ffmpeg, store, render.Config{
		WorkDir:        cfg.WorkDir(),
		MaxRenders:     cfg.MaxRenders(),
		OnMissingAsset: cfg.OnMissingAsset(),
		AudioPolicy:    cfg.AudioPolicy(),
		Logger:         logger,
	})
	logger.Info("render orchestrator ready", "encode_slots", orchestrator.EncodeSlots())

	var transcriber captions.Transcriber
	if cfg.TranscribeURL() != "" {
		transcriber = captions.NewHTTPTranscriber(cfg.TranscribeURL(), cfg.TranscribeToken(), "", logger)
	} else {
		logger.Warn("no transcription endpoint configured; only imported captions can complete")
	}
	captionSvc := captions.NewService(repo, fetcher, ffmpeg, transcriber, formatter, store, captions.Config{
		WorkDir:  cfg.WorkDir(),
		FontsDir: fontLookup.Dir(),
		Logger:   logger,
	})
	captionRunner := captions.NewRunner(captionSvc, repo, captions.DefaultPollInterval, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go captionRunner.Start(ctx)

	var templateWatcher *watcher.DirWatcher
	if dir := cfg.TemplateDir(); dir != "" {
		templateWatcher = watchTemplates(ctx, dir, catalogSvc, logger)
	}

	apiServer := api.NewServer(api.ServerConfig{
		Addr:           cfg.Addr(),
		CatalogService: catalogSvc,
		Repository:     repo,
		Renderer:       orchestrator,
		Captions:       captionSvc,
		CaptionQueue:   captionRunner,
		Formatter:      formatter,
		Fonts:          fontLookup,
		Probe:          probe,
		Files:          files,
		CORSOrigins:    cfg.CORSOrigins(),
		Logger:         logger,
		StartTime:      startTime,
		Version:        config.Version,
	})

	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Error("HTTP server error", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	quitCh := make(chan struct{})
	quit := func() {
		select {
		case <-quitCh:
		default:
			close(quitCh)
		}
	}

	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received shutdown signal", "signal", sig)
			quit()
		case <-quitCh:
		}
	}()

	if cfg.Headless() {
		go func() {
			ui.RunHeadless(ctx, logger)
		}()
	} else {
		tray := ui.NewTray(ui.TrayConfig{
			Renders:  orchestrator,
			Captions: captionRunner,
			Logger:   logger,
			OnOpenTemplates: func() error {
				if cfg.TemplateDir() == "" {
					return errors.New("no template directory configured")
				}
				return openFolder(cfg.TemplateDir())
			},
			OnQuit: quit,
		})
		go tray.Run()
	}

	<-quitCh

	logger.Info("initiating graceful shutdown")
	cancel()

	if templateWatcher != nil {
		if err := templateWatcher.Stop(); err != nil {
			logger.Warn("failed to stop template watcher", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}
	if err := orchestrator.Shutdown(shutdownCtx); err != nil {
		logger.Warn("renders interrupted by shutdown", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}

// newStorage builds the configured backend. Only local storage serves
// /files; the HTTP backend returns URLs owned by the remote ingest.
func newStorage(cfg *config.EnvConfig, repo catalog.Repository, logger *slog.Logger) (storage.Storage, api.ObjectServer, error) {
	if cfg.Storage() == config.StorageHTTP {
		logger.Info("using remote storage", "url", cfg.StorageURL())
		return storage.NewHTTP(cfg.StorageURL(), cfg.StorageToken(), logger), nil, nil
	}

	secret, err := ensureSecret(repo, signingSecretKey, cfg.SigningSecret())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to ensure signing secret: %w", err)
	}
	local, err := storage.NewLocal(cfg.StorageDir(), cfg.PublicURL(), []byte(secret), cfg.LinkTTL(), logger)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("using local storage", "root", logging.SanitizePath(cfg.StorageDir()), "public_url", cfg.PublicURL())
	return local, playback.NewServer(local, logger), nil
}

// watchTemplates imports definitions dropped into dir and removes templates
// whose file is deleted.
func watchTemplates(ctx context.Context, dir string, svc catalog.CatalogService, logger *slog.Logger) *watcher.DirWatcher {
	w := watcher.NewDirWatcher(catalog.IsTemplateFile, 0, logger)
	w.OnChange(func(path string, event watcher.EventType) {
		switch event {
		case watcher.EventDelete:
			if _, err := svc.RemoveTemplateSource(ctx, path); err != nil {
				logger.Warn("failed to remove template", "path", logging.SanitizePath(path), "error", err)
			}
		default:
			if _, err := svc.SyncTemplateFile(ctx, path); err != nil {
				logger.Warn("failed to import template", "path", logging.SanitizePath(path), "error", err)
			}
		}
	})
	if err := w.Watch(ctx, dir); err != nil {
		logger.Error("template watcher disabled", "dir", dir, "error", err)
		return nil
	}
	logger.Info("watching template directory", "dir", dir)
	return w
}

// ensureSecret returns the value stored under key, storing preset or a fresh
// random value when none exists yet.
func ensureSecret(repo catalog.Repository, key, preset string) (string, error) {
	ctx := context.Background()

	existing, err := repo.GetConfig(ctx, key)
	if err == nil && existing != "" && preset == "" {
		return existing, nil
	}

	value := preset
	if value == "" {
		b := make([]byte, 32)
		if _, err := rand.Read(b); err != nil {
			return "", err
		}
		value = hex.EncodeToString(b)
	}

	if err := repo.SetConfig(ctx, key, value); err != nil {
		return "", err
	}
	return value, nil
}

func openFolder(dir string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", dir)
	case "windows":
		cmd = exec.Command("explorer", dir)
	default:
		cmd = exec.Command("xdg-open", dir)
	}
	return cmd.Start()
}

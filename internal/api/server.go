package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/reelkit/reelkit/internal/captions"
	"github.com/reelkit/reelkit/internal/catalog"
	"github.com/reelkit/reelkit/internal/encoder"
	"github.com/reelkit/reelkit/internal/fonts"
	"github.com/reelkit/reelkit/internal/render"
	"github.com/reelkit/reelkit/internal/subtitle"
)

const DefaultMaxBodyBytes = 8 << 20

// Renderer drives render jobs.
type Renderer interface {
	Start(ctx context.Context, jobID string) (*catalog.RenderJob, error)
	Cancel(ctx context.Context, jobID string) error
	Delete(ctx context.Context, jobID string) error
	Hub() *render.Hub
	ActiveCount() int
	EncodeSlots() int
}

// CaptionPipeline publishes caption exports.
type CaptionPipeline interface {
	Export(ctx context.Context, id string, format subtitle.Format, opts subtitle.Options) (*catalog.CaptionExport, error)
	Burn(ctx context.Context, id string, opts captions.BurnOptions) (*catalog.CaptionExport, error)
	Delete(ctx context.Context, id string) error
}

// CaptionQueue is the background transcription runner.
type CaptionQueue interface {
	Notify()
	IsPaused() bool
}

// FontCatalog lists installed fonts.
type FontCatalog interface {
	List() []fonts.Installed
}

// ObjectServer serves signed storage links.
type ObjectServer interface {
	ServeObject(w http.ResponseWriter, r *http.Request, key string)
}

type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

type ServerConfig struct {
	Addr           string
	CatalogService catalog.CatalogService
	Repository     catalog.Repository
	Renderer       Renderer
	Captions       CaptionPipeline
	CaptionQueue   CaptionQueue
	Formatter      *subtitle.Formatter
	Fonts          FontCatalog
	Probe          *encoder.CachedProbe
	Files          ObjectServer
	CORSOrigins    []string
	MaxBodyBytes   int64
	Logger         *slog.Logger
	StartTime      time.Time
	Version        string
}

func NewServer(cfg ServerConfig) *Server {
	router := NewRouter(cfg)

	return &Server{
		httpServer: &http.Server{
			Addr:              cfg.Addr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       60 * time.Second,
			WriteTimeout:      0, // burn requests and file downloads are long-lived
			IdleTimeout:       60 * time.Second,
		},
		logger: cfg.Logger,
	}
}

func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Addr() string {
	return s.httpServer.Addr
}

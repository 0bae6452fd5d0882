// Package config provides configuration management for reelkit.
// Configuration is loaded from environment variables with sensible defaults.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/reelkit/reelkit/internal/encoder"
	"github.com/reelkit/reelkit/internal/filtergraph"
	"github.com/reelkit/reelkit/internal/logging"
)

const (
	// Default values
	DefaultPort         = 8790
	DefaultBind         = "127.0.0.1"
	DefaultLogLevel     = slog.LevelInfo
	DefaultDataDir      = ".reelkit"
	DefaultFFmpegPath   = "ffmpeg"
	DefaultStorage      = StorageLocal
	DefaultLinkTTL      = 24 * time.Hour
	DefaultAssetTimeout = 2 * time.Minute

	DefaultAssetMaxBytes = 2 * 1024 * 1024 * 1024 // 2GB

	// Environment variable names
	EnvPort            = "REELKIT_PORT"
	EnvBind            = "REELKIT_BIND"
	EnvLogLevel        = "REELKIT_LOG_LEVEL"
	EnvDataDir         = "REELKIT_DATA_DIR"
	EnvFFmpegPath      = "REELKIT_FFMPEG_PATH"
	EnvFontDir         = "REELKIT_FONT_DIR"
	EnvFallbackFont    = "REELKIT_FALLBACK_FONT"
	EnvTemplateDir     = "REELKIT_TEMPLATE_DIR"
	EnvStorage         = "REELKIT_STORAGE"
	EnvStorageURL      = "REELKIT_STORAGE_URL"
	EnvStorageToken    = "REELKIT_STORAGE_TOKEN"
	EnvPublicURL       = "REELKIT_PUBLIC_URL"
	EnvSigningSecret   = "REELKIT_SIGNING_SECRET"
	EnvLinkTTL         = "REELKIT_LINK_TTL"
	EnvMaxRenders      = "REELKIT_MAX_RENDERS"
	EnvAssetTimeout    = "REELKIT_ASSET_TIMEOUT"
	EnvAssetMaxBytes   = "REELKIT_ASSET_MAX_BYTES"
	EnvOnMissingAsset  = "REELKIT_ON_MISSING_ASSET"
	EnvAudioPolicy     = "REELKIT_AUDIO_POLICY"
	EnvTranscribeURL   = "REELKIT_TRANSCRIBE_URL"
	EnvTranscribeToken = "REELKIT_TRANSCRIBE_TOKEN"
	EnvCORSOrigins     = "REELKIT_CORS_ORIGINS"
	EnvHeadless        = "REELKIT_HEADLESS"

	// Database filename
	DBFilename = "reelkit.db"

	StorageLocal = "local"
	StorageHTTP  = "http"
)

// Config defines the application configuration interface
type Config interface {
	Port() int
	Bind() string
	Addr() string
	LogLevel() slog.Level
	DataDir() string
	DBPath() string
	WorkDir() string
	StorageDir() string
	FFmpegPath() string
	FontDir() string
	FallbackFont() string
	TemplateDir() string
	Storage() string
	StorageURL() string
	StorageToken() string
	PublicURL() string
	SigningSecret() string
	LinkTTL() time.Duration
	MaxRenders() int
	AssetTimeout() time.Duration
	AssetMaxBytes() int64
	OnMissingAsset() filtergraph.MissingAssetPolicy
	AudioPolicy() encoder.AudioPolicy
	TranscribeURL() string
	TranscribeToken() string
	CORSOrigins() []string
	Headless() bool
}

// EnvConfig reads configuration from environment variables
type EnvConfig struct {
	port     int
	bind     string
	logLevel slog.Level
	dataDir  string

	ffmpegPath   string
	fontDir      string
	fallbackFont string
	templateDir  string

	storage       string
	storageURL    string
	storageToken  string
	publicURL     string
	signingSecret string
	linkTTL       time.Duration

	maxRenders     int
	assetTimeout   time.Duration
	assetMaxBytes  int64
	onMissingAsset filtergraph.MissingAssetPolicy
	audioPolicy    encoder.AudioPolicy

	transcribeURL   string
	transcribeToken string
	corsOrigins     []string
	headless        bool
}

// New creates a new EnvConfig with defaults and environment variable overrides
func New() (*EnvConfig, error) {
	cfg := &EnvConfig{
		port:           DefaultPort,
		bind:           DefaultBind,
		logLevel:       DefaultLogLevel,
		dataDir:        defaultDataDir(),
		ffmpegPath:     DefaultFFmpegPath,
		storage:        DefaultStorage,
		linkTTL:        DefaultLinkTTL,
		assetTimeout:   DefaultAssetTimeout,
		assetMaxBytes:  DefaultAssetMaxBytes,
		onMissingAsset: filtergraph.SkipMissing,
		audioPolicy:    encoder.AudioMute,
	}

	// Override port from environment
	if p := os.Getenv(EnvPort); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		if port < 1 || port > 65535 {
			return nil, fmt.Errorf("invalid %s: port must be between 1 and 65535", EnvPort)
		}
		cfg.port = port
	}

	if b := os.Getenv(EnvBind); b != "" {
		cfg.bind = b
	}
	if ll := os.Getenv(EnvLogLevel); ll != "" {
		lvl, err := logging.ParseLevel(ll)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvLogLevel, err)
		}
		cfg.logLevel = lvl
	}
	if dd := os.Getenv(EnvDataDir); dd != "" {
		cfg.dataDir = dd
	}
	if fp := os.Getenv(EnvFFmpegPath); fp != "" {
		cfg.ffmpegPath = fp
	}
	cfg.fontDir = os.Getenv(EnvFontDir)
	cfg.fallbackFont = os.Getenv(EnvFallbackFont)
	cfg.templateDir = os.Getenv(EnvTemplateDir)

	if s := os.Getenv(EnvStorage); s != "" {
		s = strings.ToLower(s)
		if s != StorageLocal && s != StorageHTTP {
			return nil, fmt.Errorf("invalid %s: must be %q or %q", EnvStorage, StorageLocal, StorageHTTP)
		}
		cfg.storage = s
	}
	cfg.storageURL = os.Getenv(EnvStorageURL)
	cfg.storageToken = os.Getenv(EnvStorageToken)
	if cfg.storage == StorageHTTP && cfg.storageURL == "" {
		return nil, fmt.Errorf("%s is required when %s=%s", EnvStorageURL, EnvStorage, StorageHTTP)
	}
	cfg.publicURL = strings.TrimRight(os.Getenv(EnvPublicURL), "/")
	cfg.signingSecret = os.Getenv(EnvSigningSecret)

	var err error
	if cfg.linkTTL, err = durationEnv(EnvLinkTTL, cfg.linkTTL); err != nil {
		return nil, err
	}
	if cfg.assetTimeout, err = durationEnv(EnvAssetTimeout, cfg.assetTimeout); err != nil {
		return nil, err
	}

	if mr := os.Getenv(EnvMaxRenders); mr != "" {
		n, err := strconv.Atoi(mr)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid %s: must be a non-negative integer", EnvMaxRenders)
		}
		cfg.maxRenders = n
	}

	if mb := os.Getenv(EnvAssetMaxBytes); mb != "" {
		n, err := strconv.ParseInt(mb, 10, 64)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid %s: must be a positive integer", EnvAssetMaxBytes)
		}
		cfg.assetMaxBytes = n
	}

	if om := os.Getenv(EnvOnMissingAsset); om != "" {
		p, err := filtergraph.ParseMissingAssetPolicy(om)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvOnMissingAsset, err)
		}
		cfg.onMissingAsset = p
	}

	if ap := os.Getenv(EnvAudioPolicy); ap != "" {
		p, err := encoder.ParseAudioPolicy(ap)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvAudioPolicy, err)
		}
		cfg.audioPolicy = p
	}

	cfg.transcribeURL = os.Getenv(EnvTranscribeURL)
	cfg.transcribeToken = os.Getenv(EnvTranscribeToken)

	for _, o := range strings.Split(os.Getenv(EnvCORSOrigins), ",") {
		if o = strings.TrimSpace(o); o != "" {
			cfg.corsOrigins = append(cfg.corsOrigins, o)
		}
	}

	if h := os.Getenv(EnvHeadless); h != "" {
		v, err := strconv.ParseBool(h)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvHeadless, err)
		}
		cfg.headless = v
	}

	return cfg, nil
}

func durationEnv(name string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(name)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", name)
	}
	return d, nil
}

// Port returns the HTTP server port
func (c *EnvConfig) Port() int {
	return c.port
}

// Bind returns the interface the HTTP server listens on
func (c *EnvConfig) Bind() string {
	return c.bind
}

// Addr returns the listen address
func (c *EnvConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.bind, c.port)
}

// LogLevel returns the minimum level logged
func (c *EnvConfig) LogLevel() slog.Level {
	return c.logLevel
}

// DataDir returns the data directory path
func (c *EnvConfig) DataDir() string {
	return c.dataDir
}

// DBPath returns the full path to the SQLite database file
func (c *EnvConfig) DBPath() string {
	return filepath.Join(c.dataDir, DBFilename)
}

// WorkDir returns the scratch directory for renders and transcriptions
func (c *EnvConfig) WorkDir() string {
	return filepath.Join(c.dataDir, "work")
}

// StorageDir returns the root of local object storage
func (c *EnvConfig) StorageDir() string {
	return filepath.Join(c.dataDir, "objects")
}

func (c *EnvConfig) FFmpegPath() string {
	return c.ffmpegPath
}

func (c *EnvConfig) FontDir() string {
	if c.fontDir != "" {
		return c.fontDir
	}
	return filepath.Join(c.dataDir, "fonts")
}

func (c *EnvConfig) FallbackFont() string {
	return c.fallbackFont
}

// TemplateDir returns the watched template directory, empty when disabled
func (c *EnvConfig) TemplateDir() string {
	return c.templateDir
}

func (c *EnvConfig) Storage() string {
	return c.storage
}

func (c *EnvConfig) StorageURL() string {
	return c.storageURL
}

func (c *EnvConfig) StorageToken() string {
	return c.storageToken
}

// PublicURL returns the base URL of signed links, defaulting to the
// listen address
func (c *EnvConfig) PublicURL() string {
	if c.publicURL != "" {
		return c.publicURL
	}
	return "http://" + c.Addr()
}

// SigningSecret returns the configured link signing secret. Empty means a
// secret is generated and persisted at first start.
func (c *EnvConfig) SigningSecret() string {
	return c.signingSecret
}

func (c *EnvConfig) LinkTTL() time.Duration {
	return c.linkTTL
}

// MaxRenders returns the encode slot count; 0 means one per CPU
func (c *EnvConfig) MaxRenders() int {
	return c.maxRenders
}

func (c *EnvConfig) AssetTimeout() time.Duration {
	return c.assetTimeout
}

func (c *EnvConfig) AssetMaxBytes() int64 {
	return c.assetMaxBytes
}

func (c *EnvConfig) OnMissingAsset() filtergraph.MissingAssetPolicy {
	return c.onMissingAsset
}

func (c *EnvConfig) AudioPolicy() encoder.AudioPolicy {
	return c.audioPolicy
}

func (c *EnvConfig) TranscribeURL() string {
	return c.transcribeURL
}

func (c *EnvConfig) TranscribeToken() string {
	return c.transcribeToken
}

// CORSOrigins returns the allowed browser origins; empty allows any
func (c *EnvConfig) CORSOrigins() []string {
	return c.corsOrigins
}

func (c *EnvConfig) Headless() bool {
	return c.headless
}

// defaultDataDir returns the default data directory path
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home is not available
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

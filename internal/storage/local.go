package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const DefaultLinkTTL = 24 * time.Hour

var ErrInvalidLink = errors.New("invalid or expired link")

type linkClaims struct {
	Key string `json:"key"`
	jwt.RegisteredClaims
}

// Local stores objects under a root directory and hands out expiring,
// HMAC-signed links served by the /files endpoint.
type Local struct {
	root      string
	publicURL string
	secret    []byte
	ttl       time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

func NewLocal(root, publicURL string, secret []byte, ttl time.Duration, logger *slog.Logger) (*Local, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("local storage requires a signing secret")
	}
	if ttl <= 0 {
		ttl = DefaultLinkTTL
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &Local{
		root:      root,
		publicURL: strings.TrimRight(publicURL, "/"),
		secret:    secret,
		ttl:       ttl,
		logger:    logger,
		now:       time.Now,
	}, nil
}

func (l *Local) Upload(ctx context.Context, r io.Reader, key, contentType string) (string, error) {
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	dst := l.path(key)
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return "", fmt.Errorf("create object dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("create temp object: %w", err)
	}
	n, err := io.Copy(tmp, &ctxReader{ctx: ctx, r: r})
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write object: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("commit object: %w", err)
	}

	l.logger.Info("object stored", "key", key, "bytes", n, "content_type", contentType)
	return l.SignedURL(key)
}

func (l *Local) Delete(_ context.Context, key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if err := os.Remove(l.path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}

// SignedURL returns a fresh link to key.
func (l *Local) SignedURL(key string) (string, error) {
	token, err := l.Sign(key)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/files/%s?token=%s", l.publicURL, key, url.QueryEscape(token)), nil
}

// Sign issues an HS256 token bound to key.
func (l *Local) Sign(key string) (string, error) {
	now := l.now()
	claims := linkClaims{
		Key: key,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(l.ttl)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(l.secret)
	if err != nil {
		return "", fmt.Errorf("sign link: %w", err)
	}
	return token, nil
}

// Verify checks that token is a valid, unexpired link for key.
func (l *Local) Verify(key, token string) error {
	claims := &linkClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return l.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(l.now))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidLink, err)
	}
	if claims.Key != key {
		return fmt.Errorf("%w: key mismatch", ErrInvalidLink)
	}
	return nil
}

// Open resolves key to a file on disk.
func (l *Local) Open(key string) (string, error) {
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	p := l.path(key)
	if _, err := os.Stat(p); err != nil {
		return "", err
	}
	return p, nil
}

func (l *Local) path(key string) string {
	return filepath.Join(l.root, filepath.FromSlash(key))
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

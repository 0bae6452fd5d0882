package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// UploadError represents a non-2xx response from the remote ingest.
type UploadError struct {
	StatusCode int
	Body       string
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("object upload failed: HTTP %d: %s", e.StatusCode, e.Body)
}

// IsRetryable returns true for server errors (5xx).
// Client errors (4xx) are considered permanent.
func (e *UploadError) IsRetryable() bool {
	return e.StatusCode >= 500
}

// HTTP stores objects on a remote endpoint with PUT {base}/{key}. The
// response may carry {"url": "..."}; otherwise the object URL is the PUT URL.
type HTTP struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewHTTP(baseURL, token string, logger *slog.Logger) *HTTP {
	return &HTTP{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 10 * time.Minute,
		},
		logger: logger,
	}
}

func (h *HTTP) Upload(ctx context.Context, r io.Reader, key, contentType string) (string, error) {
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	url := h.baseURL + "/" + key

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, r)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	h.authorize(req)

	h.logger.Info("uploading object", "url", url, "content_type", contentType)

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &UploadError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var result struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(respBody, &result); err == nil && result.URL != "" {
		return result.URL, nil
	}
	return url, nil
}

func (h *HTTP) Delete(ctx context.Context, key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, h.baseURL+"/"+key, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	h.authorize(req)

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound || (resp.StatusCode >= 200 && resp.StatusCode < 300) {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &UploadError{StatusCode: resp.StatusCode, Body: string(body)}
}

func (h *HTTP) authorize(req *http.Request) {
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}
	req.Header.Set("X-Request-Id", uuid.NewString())
}

package storage

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{" A\nB\rC\tD\x00 ", 100, "ABCD"},
		{"abcdefghijklmnopqrstuvwxyz", 10, "abcdefghij"},
		{"Az09-_.", 100, "Az09-_."},
		{"bad<>|\"name", 100, "bad____name"},
		{"दीवाली", 100, "दीवाली"},
	}
	for _, tt := range tests {
		if got := SanitizeName(tt.in, tt.max); got != tt.want {
			t.Errorf("SanitizeName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestKey(t *testing.T) {
	if got := Key("renders", "job 1", "../out.mp4"); got != "renders/job_1/.._out.mp4" {
		t.Fatalf("Key() = %q", got)
	}
	if err := ValidateKey(Key("captions", "abc", "Diwali Reel.srt")); err != nil {
		t.Fatalf("generated key invalid: %v", err)
	}
}

func TestValidateKey(t *testing.T) {
	for _, key := range []string{"", "/abs", "a/../b", "a//b", `a\b`, "a/b c"} {
		if err := ValidateKey(key); err == nil {
			t.Errorf("ValidateKey(%q) should fail", key)
		}
	}
	if err := ValidateKey("renders/x/out.mp4"); err != nil {
		t.Errorf("ValidateKey() error = %v", err)
	}
}

func TestLocal_UploadAndVerify(t *testing.T) {
	root := t.TempDir()
	l, err := NewLocal(root, "http://127.0.0.1:8787/", []byte("secret"), time.Hour, testLogger())
	if err != nil {
		t.Fatalf("NewLocal() error = %v", err)
	}

	link, err := l.Upload(context.Background(), strings.NewReader("mp4"), "renders/j1/out.mp4", "video/mp4")
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	u, err := url.Parse(link)
	if err != nil {
		t.Fatalf("bad link %q", link)
	}
	if u.Path != "/files/renders/j1/out.mp4" || u.Host != "127.0.0.1:8787" {
		t.Fatalf("link = %q", link)
	}
	token := u.Query().Get("token")
	if err := l.Verify("renders/j1/out.mp4", token); err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if err := l.Verify("renders/j2/out.mp4", token); !errors.Is(err, ErrInvalidLink) {
		t.Fatalf("Verify(other key) = %v", err)
	}
	if err := l.Verify("renders/j1/out.mp4", token+"x"); !errors.Is(err, ErrInvalidLink) {
		t.Fatalf("Verify(tampered) = %v", err)
	}

	p, err := l.Open("renders/j1/out.mp4")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if data, _ := os.ReadFile(p); string(data) != "mp4" {
		t.Fatalf("stored %q", data)
	}

	if err := l.Delete(context.Background(), "renders/j1/out.mp4"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := l.Open("renders/j1/out.mp4"); err == nil {
		t.Fatal("object should be gone")
	}
	if err := l.Delete(context.Background(), "renders/j1/out.mp4"); err != nil {
		t.Fatalf("Delete() of missing object = %v", err)
	}
}

func TestLocal_Expiry(t *testing.T) {
	l, _ := NewLocal(t.TempDir(), "http://x", []byte("secret"), time.Minute, testLogger())
	start := time.Now()
	l.now = func() time.Time { return start }
	token, err := l.Sign("a/b")
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	l.now = func() time.Time { return start.Add(2 * time.Minute) }
	if err := l.Verify("a/b", token); !errors.Is(err, ErrInvalidLink) {
		t.Fatalf("expired token accepted: %v", err)
	}
}

func TestLocal_RequiresSecret(t *testing.T) {
	if _, err := NewLocal(t.TempDir(), "", nil, 0, testLogger()); err == nil {
		t.Fatal("expected error without secret")
	}
}

func TestHTTP_Upload(t *testing.T) {
	var gotAuth, gotType, gotBody, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPut:
			gotAuth = r.Header.Get("Authorization")
			gotType = r.Header.Get("Content-Type")
			gotPath = r.URL.Path
			b, _ := io.ReadAll(r.Body)
			gotBody = string(b)
			if strings.HasSuffix(r.URL.Path, "/plain.txt") {
				w.WriteHeader(http.StatusCreated)
				return
			}
			w.Write([]byte(`{"url":"https://cdn.example/x.mp4"}`))
		case http.MethodDelete:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	h := NewHTTP(srv.URL+"/", "tok", testLogger())
	link, err := h.Upload(context.Background(), strings.NewReader("data"), "renders/x.mp4", "video/mp4")
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if link != "https://cdn.example/x.mp4" || gotAuth != "Bearer tok" || gotType != "video/mp4" || gotBody != "data" || gotPath != "/renders/x.mp4" {
		t.Fatalf("link=%q auth=%q type=%q body=%q path=%q", link, gotAuth, gotType, gotBody, gotPath)
	}

	link, err = h.Upload(context.Background(), strings.NewReader("t"), "exports/plain.txt", "text/plain")
	if err != nil || link != srv.URL+"/exports/plain.txt" {
		t.Fatalf("fallback link = %q, %v", link, err)
	}

	if err := h.Delete(context.Background(), "renders/x.mp4"); err != nil {
		t.Fatalf("Delete() 404 should be nil, got %v", err)
	}
}

func TestHTTP_UploadError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("busy"))
	}))
	defer srv.Close()

	_, err := NewHTTP(srv.URL, "", testLogger()).Upload(context.Background(), strings.NewReader("x"), "a/b", "video/mp4")
	var upErr *UploadError
	if !errors.As(err, &upErr) || upErr.StatusCode != 503 || upErr.Body != "busy" || !upErr.IsRetryable() {
		t.Fatalf("error = %v", err)
	}
	if (&UploadError{StatusCode: 400}).IsRetryable() {
		t.Fatal("4xx should not be retryable")
	}
}

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/reelkit/reelkit/internal/captions"
	"github.com/reelkit/reelkit/internal/catalog"
	"github.com/reelkit/reelkit/internal/db"
	"github.com/reelkit/reelkit/internal/encoder"
	"github.com/reelkit/reelkit/internal/fonts"
	"github.com/reelkit/reelkit/internal/render"
	"github.com/reelkit/reelkit/internal/subtitle"
)

const testToken = "test-token"

const promoTemplate = `id: promo
name: Promo
width: 720
height: 1280
defaultDurationSeconds: 4
placeholders:
  headline:
    type: text
    required: true
layers:
  - type: solid
    style:
      color: "#000000"
  - id: headline
    type: text
    z: 1
    text: $placeholder.headline
`

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeFetcher struct{}

func (fakeFetcher) Materialize(_ context.Context, _, dir, name string) (string, error) {
	p := filepath.Join(dir, name+".mp4")
	return p, os.WriteFile(p, []byte("clip"), 0644)
}

type memStore struct {
	mu      sync.Mutex
	objects map[string]string
}

func (m *memStore) Upload(_ context.Context, r io.Reader, key, _ string) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = string(data)
	return "mem://" + key, nil
}

func (m *memStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}

type fakeQueue struct {
	notified atomic.Int32
	paused   atomic.Bool
}

func (q *fakeQueue) Notify()        { q.notified.Add(1) }
func (q *fakeQueue) IsPaused() bool { return q.paused.Load() }

type fakeFonts struct{}

func (fakeFonts) List() []fonts.Installed {
	return []fonts.Installed{{Font: fonts.Font{ID: "inter", Family: "Inter"}, Available: true}}
}

type apiFixture struct {
	repo    *catalog.SQLiteRepository
	svc     *catalog.Service
	orch    *render.Orchestrator
	enc     *encoder.Recorder
	store   *memStore
	queue   *fakeQueue
	handler http.Handler
}

func newFixture(t *testing.T, mutate ...func(*ServerConfig)) *apiFixture {
	t.Helper()

	database, err := db.New(filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	repo := catalog.NewRepository(database.Conn())
	if err := repo.SetConfig(context.Background(), AuthTokenKey, testToken); err != nil {
		t.Fatalf("SetConfig() error = %v", err)
	}

	f := &apiFixture{
		repo:  repo,
		svc:   catalog.NewService(repo, testLogger()),
		enc:   &encoder.Recorder{},
		store: &memStore{objects: map[string]string{}},
		queue: &fakeQueue{},
	}
	f.orch = render.New(repo, fakeFetcher{}, nil, f.enc, f.store, render.Config{
		WorkDir:    t.TempDir(),
		MaxRenders: 2,
		Logger:     testLogger(),
	})
	t.Cleanup(f.orch.Wait)

	formatter := subtitle.NewFormatter(nil, testLogger())
	pipeline := captions.NewService(repo, fakeFetcher{}, f.enc, nil, formatter, f.store, captions.Config{
		WorkDir: t.TempDir(),
		Logger:  testLogger(),
	})

	cfg := ServerConfig{
		CatalogService: f.svc,
		Repository:     repo,
		Renderer:       f.orch,
		Captions:       pipeline,
		CaptionQueue:   f.queue,
		Formatter:      formatter,
		Fonts:          fakeFonts{},
		Logger:         testLogger(),
		StartTime:      time.Now(),
		Version:        "test",
	}
	for _, m := range mutate {
		m(&cfg)
	}
	f.handler = NewRouter(cfg)
	return f
}

func (f *apiFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("json.Marshal() error = %v", err)
		}
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Authorization", "Bearer "+testToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	return rr
}

func (f *apiFixture) importPromo(t *testing.T) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/templates", strings.NewReader(promoTemplate))
	req.Header.Set("Authorization", "Bearer "+testToken)
	req.Header.Set("Content-Type", "application/yaml")
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("import template status = %d, body = %s", rr.Code, rr.Body.String())
	}
}

func decodeJSONBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rr.Body.String())
	}
	return body
}

func decodeInto[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rr.Body.String())
	}
	return v
}

func expectCode(t *testing.T, rr *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if rr.Code != status {
		t.Fatalf("status = %d, want %d (body %s)", rr.Code, status, rr.Body.String())
	}
	if code == "" {
		return
	}
	if got := decodeJSONBody(t, rr)["code"]; got != code {
		t.Fatalf("code = %v, want %s", got, code)
	}
}

func TestHealth_NoAuth(t *testing.T) {
	f := newFixture(t)

	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	expectCode(t, rr, http.StatusOK, "")
	body := decodeJSONBody(t, rr)
	if body["status"] != "ok" || body["version"] != "test" {
		t.Fatalf("body = %v", body)
	}
}

func TestAuth(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"not bearer", "Basic abc", http.StatusUnauthorized},
		{"wrong token", "Bearer nope", http.StatusUnauthorized},
		{"valid", "Bearer " + testToken, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/status", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			f.handler.ServeHTTP(rr, req)
			if rr.Code != tt.want {
				t.Fatalf("status = %d, want %d", rr.Code, tt.want)
			}
		})
	}
}

func TestStatus(t *testing.T) {
	f := newFixture(t)
	f.queue.paused.Store(true)

	rr := f.do(t, http.MethodGet, "/status", nil)
	expectCode(t, rr, http.StatusOK, "")

	resp := decodeInto[StatusResponse](t, rr)
	if resp.State != "paused" || !resp.CaptionsPaused {
		t.Fatalf("state = %q paused = %v", resp.State, resp.CaptionsPaused)
	}
	if resp.EncodeSlots != 2 {
		t.Fatalf("encode_slots = %d, want 2", resp.EncodeSlots)
	}
	if resp.Encoder != nil {
		t.Fatalf("encoder = %+v, want omitted without a probe", resp.Encoder)
	}
}

func TestTemplates_ImportListGet(t *testing.T) {
	f := newFixture(t)
	f.importPromo(t)

	rr := f.do(t, http.MethodGet, "/templates", nil)
	expectCode(t, rr, http.StatusOK, "")
	list := decodeInto[TemplatesResponse](t, rr)
	if len(list.Templates) != 1 || list.Templates[0].ID != "promo" {
		t.Fatalf("templates = %+v", list.Templates)
	}
	if list.Templates[0].Definition != nil {
		t.Fatal("listing should omit the definition")
	}
	if ph := list.Templates[0].Placeholders; len(ph) != 1 || ph[0].ID != "headline" || !ph[0].Required {
		t.Fatalf("placeholders = %+v", ph)
	}

	rr = f.do(t, http.MethodGet, "/templates/promo", nil)
	expectCode(t, rr, http.StatusOK, "")
	got := decodeInto[TemplateResponse](t, rr)
	if got.Definition == nil || len(got.Definition.Layers) != 2 {
		t.Fatalf("definition = %+v", got.Definition)
	}

	expectCode(t, f.do(t, http.MethodGet, "/templates/nope", nil), http.StatusNotFound, "TEMPLATE_NOT_FOUND")
}

func TestTemplates_ImportRejected(t *testing.T) {
	f := newFixture(t)

	expectCode(t, f.do(t, http.MethodPost, "/templates", "{not json"), http.StatusBadRequest, "VALIDATION_ERROR")
	expectCode(t, f.do(t, http.MethodPost, "/templates", ""), http.StatusBadRequest, "BAD_REQUEST")
}

func TestRenders_CreateAndComplete(t *testing.T) {
	f := newFixture(t)
	f.importPromo(t)

	rr := f.do(t, http.MethodPost, "/renders", map[string]any{
		"template_id":   "promo",
		"title":         "Launch",
		"customization": map[string]any{"values": map[string]any{"headline": "Hello"}},
	})
	expectCode(t, rr, http.StatusAccepted, "")
	job := decodeInto[JobResponse](t, rr)
	if job.Status != catalog.JobStatusRendering {
		t.Fatalf("status = %q, want rendering", job.Status)
	}

	f.orch.Wait()

	rr = f.do(t, http.MethodGet, "/renders/"+job.ID, nil)
	expectCode(t, rr, http.StatusOK, "")
	done := decodeInto[JobResponse](t, rr)
	if done.Status != catalog.JobStatusCompleted || !strings.HasPrefix(done.OutputURL, "mem://") {
		t.Fatalf("job = %+v", done)
	}
	if len(f.enc.RecordedJobs()) != 1 {
		t.Fatalf("encodes = %d, want 1", len(f.enc.RecordedJobs()))
	}

	rr = f.do(t, http.MethodGet, "/renders?status=completed", nil)
	expectCode(t, rr, http.StatusOK, "")
	if jobs := decodeInto[JobsResponse](t, rr).Jobs; len(jobs) != 1 || jobs[0].ID != job.ID {
		t.Fatalf("jobs = %+v", jobs)
	}
}

func TestRenders_Errors(t *testing.T) {
	f := newFixture(t)
	f.importPromo(t)

	expectCode(t, f.do(t, http.MethodPost, "/renders", map[string]any{}), http.StatusBadRequest, "BAD_REQUEST")
	expectCode(t, f.do(t, http.MethodPost, "/renders", map[string]any{"template_id": "nope"}), http.StatusNotFound, "TEMPLATE_NOT_FOUND")
	expectCode(t, f.do(t, http.MethodPost, "/renders", map[string]any{
		"template_id": "promo", "output_format": "avi",
	}), http.StatusBadRequest, "UNSUPPORTED_OUTPUT_FORMAT")
	expectCode(t, f.do(t, http.MethodGet, "/renders/nope", nil), http.StatusNotFound, "JOB_NOT_FOUND")
	expectCode(t, f.do(t, http.MethodPost, "/renders/nope/start", nil), http.StatusNotFound, "JOB_NOT_FOUND")
	expectCode(t, f.do(t, http.MethodDelete, "/renders/nope", nil), http.StatusNotFound, "JOB_NOT_FOUND")
}

func TestRenders_UseStartCancel(t *testing.T) {
	f := newFixture(t)
	f.importPromo(t)

	release := make(chan struct{})
	f.enc.Hook = func(ctx context.Context, _ encoder.Job) {
		select {
		case <-release:
		case <-ctx.Done():
		}
	}
	defer close(release)

	rr := f.do(t, http.MethodPost, "/templates/promo/use", map[string]any{
		"customization": map[string]any{"values": map[string]any{"headline": "Hi"}},
	})
	expectCode(t, rr, http.StatusCreated, "")
	draft := decodeInto[JobResponse](t, rr)
	if draft.Status != catalog.JobStatusDraft {
		t.Fatalf("status = %q, want draft", draft.Status)
	}

	expectCode(t, f.do(t, http.MethodPost, "/renders/"+draft.ID+"/start", nil), http.StatusAccepted, "")
	expectCode(t, f.do(t, http.MethodPost, "/renders/"+draft.ID+"/start", nil), http.StatusConflict, "ALREADY_RENDERING")

	rr = f.do(t, http.MethodPost, "/renders/"+draft.ID+"/cancel", nil)
	expectCode(t, rr, http.StatusOK, "")
	if got := decodeInto[JobResponse](t, rr); got.Status != catalog.JobStatusFailed || got.Error != render.CancelledMessage {
		t.Fatalf("job = %+v", got)
	}

	f.orch.Wait()
	expectCode(t, f.do(t, http.MethodPost, "/renders/"+draft.ID+"/cancel", nil), http.StatusConflict, "ALREADY_TERMINAL")

	rr = f.do(t, http.MethodDelete, "/renders/"+draft.ID, nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rr.Code)
	}
	expectCode(t, f.do(t, http.MethodGet, "/renders/"+draft.ID, nil), http.StatusNotFound, "JOB_NOT_FOUND")
}

func TestStylesAndFonts(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, http.MethodGet, "/captions/styles", nil)
	expectCode(t, rr, http.StatusOK, "")
	styles := decodeInto[StylesResponse](t, rr)
	if styles.Default == "" || len(styles.Styles) == 0 {
		t.Fatalf("styles = %+v", styles)
	}

	rr = f.do(t, http.MethodGet, "/fonts", nil)
	expectCode(t, rr, http.StatusOK, "")
	if got := decodeInto[FontsResponse](t, rr).Fonts; len(got) != 1 || got[0].ID != "inter" {
		t.Fatalf("fonts = %+v", got)
	}
}

func importCaption(t *testing.T, f *apiFixture) CaptionResponse {
	t.Helper()
	rr := f.do(t, http.MethodPost, "/captions", map[string]any{
		"title": "Diwali Vlog",
		"segments": []map[string]any{
			{"start_time": 0, "end_time": 1.5, "text": "Happy Diwali"},
			{"start_time": 1.5, "end_time": 3, "text": "sabko"},
		},
	})
	expectCode(t, rr, http.StatusCreated, "")
	return decodeInto[CaptionResponse](t, rr)
}

func TestCaptions_ImportExportDelete(t *testing.T) {
	f := newFixture(t)
	c := importCaption(t, f)
	if c.Status != catalog.CaptionStatusCompleted || len(c.Segments) != 2 {
		t.Fatalf("caption = %+v", c)
	}
	if f.queue.notified.Load() != 0 {
		t.Fatal("imported caption should not wake the runner")
	}

	rr := f.do(t, http.MethodPost, "/captions/"+c.ID+"/export", map[string]any{"format": "srt"})
	expectCode(t, rr, http.StatusOK, "")
	exp := decodeInto[ExportResponse](t, rr)
	if exp.Format != "srt" || !strings.HasSuffix(exp.URL, ".srt") || exp.SizeBytes == 0 {
		t.Fatalf("export = %+v", exp)
	}

	expectCode(t, f.do(t, http.MethodPost, "/captions/"+c.ID+"/export", map[string]any{"format": "docx"}),
		http.StatusBadRequest, "UNSUPPORTED_FORMAT")

	rr = f.do(t, http.MethodGet, "/captions", nil)
	expectCode(t, rr, http.StatusOK, "")
	if list := decodeInto[CaptionsResponse](t, rr).Captions; len(list) != 1 || list[0].Segments != nil {
		t.Fatalf("captions = %+v", list)
	}

	rr = f.do(t, http.MethodDelete, "/captions/"+c.ID, nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rr.Code)
	}
	if n := f.store.count(); n != 0 {
		t.Fatalf("stored objects = %d, want 0 after delete", n)
	}
	expectCode(t, f.do(t, http.MethodGet, "/captions/"+c.ID, nil), http.StatusNotFound, "CAPTION_NOT_FOUND")
}

func TestCaptions_UpdateSegments(t *testing.T) {
	f := newFixture(t)
	c := importCaption(t, f)

	rr := f.do(t, http.MethodPut, "/captions/"+c.ID+"/segments", map[string]any{
		"segments": []map[string]any{{"start_time": 0, "end_time": 2, "text": "Shubh Deepavali"}},
	})
	expectCode(t, rr, http.StatusOK, "")
	got := decodeInto[CaptionResponse](t, rr)
	if !got.IsEdited || got.TranscriptText != "Shubh Deepavali" {
		t.Fatalf("caption = %+v", got)
	}

	expectCode(t, f.do(t, http.MethodPut, "/captions/"+c.ID+"/segments", map[string]any{
		"segments": []map[string]any{{"start_time": 2, "end_time": 1, "text": "x"}},
	}), http.StatusUnprocessableEntity, "MALFORMED_SEGMENT_TIMING")
	expectCode(t, f.do(t, http.MethodPut, "/captions/"+c.ID+"/segments", map[string]any{}),
		http.StatusBadRequest, "BAD_REQUEST")
}

func TestCaptions_PendingWakesRunner(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, http.MethodPost, "/captions", map[string]any{
		"title":      "Raw",
		"source_url": "https://cdn.example/raw.mp4",
	})
	expectCode(t, rr, http.StatusCreated, "")
	c := decodeInto[CaptionResponse](t, rr)
	if c.Status != catalog.CaptionStatusPending || c.LanguageHint != "auto" {
		t.Fatalf("caption = %+v", c)
	}
	if f.queue.notified.Load() != 1 {
		t.Fatalf("notified = %d, want 1", f.queue.notified.Load())
	}

	expectCode(t, f.do(t, http.MethodPost, "/captions/"+c.ID+"/export", map[string]any{"format": "vtt"}),
		http.StatusConflict, "CAPTION_NOT_READY")
	expectCode(t, f.do(t, http.MethodPost, "/captions", map[string]any{"title": "Empty"}),
		http.StatusBadRequest, "VALIDATION_ERROR")
}

func TestCaptions_Burn(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, http.MethodPost, "/captions", map[string]any{
		"title":      "Burn",
		"source_url": "https://cdn.example/raw.mp4",
		"segments":   []map[string]any{{"start_time": 0, "end_time": 1, "text": "Hello"}},
	})
	expectCode(t, rr, http.StatusCreated, "")
	c := decodeInto[CaptionResponse](t, rr)

	rr = f.do(t, http.MethodPost, "/captions/"+c.ID+"/burn", nil)
	expectCode(t, rr, http.StatusOK, "")
	if exp := decodeInto[ExportResponse](t, rr); exp.Format != captions.FormatBurned || !strings.HasSuffix(exp.URL, "_burned.mp4") {
		t.Fatalf("export = %+v", exp)
	}
	if n := len(f.enc.RecordedJobs()); n != 1 {
		t.Fatalf("encodes = %d, want 1", n)
	}
}

func TestBodyLimit(t *testing.T) {
	f := newFixture(t, func(cfg *ServerConfig) { cfg.MaxBodyBytes = 32 })

	rr := f.do(t, http.MethodPost, "/captions", map[string]any{"title": strings.Repeat("x", 64)})
	expectCode(t, rr, http.StatusRequestEntityTooLarge, "BODY_TOO_LARGE")
}

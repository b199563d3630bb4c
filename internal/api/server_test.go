package api

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"inss-case-tracker/internal/config"
	"inss-case-tracker/internal/queue"
	"inss-case-tracker/internal/ratelimit"
)

func newTestServer(t *testing.T, uploadLimit int) *Server {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	log := logrus.New()
	log.SetOutput(bytes.NewBuffer(nil))

	cfg := config.Config{UploadDir: t.TempDir(), ImportBatchSize: 100}
	q := queue.NewImportQueueWithClient(client, time.Minute)
	limiter := ratelimit.NewFixedWindow(client, uploadLimit, time.Minute)
	return New(cfg, nil, q, limiter, log)
}

func multipartUpload(t *testing.T, fileName, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", fileName)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := fw.Write([]byte(content)); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func TestUploadRejectsNonCSV(t *testing.T) {
	srv := newTestServer(t, 10)
	body, contentType := multipartUpload(t, "tarefas.xlsx", "not a csv")

	req := httptest.NewRequest(http.MethodPost, "/imports", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestUploadRequiresFileField(t *testing.T) {
	srv := newTestServer(t, 10)
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("other", "value")
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/imports", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestUploadRateLimited(t *testing.T) {
	srv := newTestServer(t, 1)

	// First request consumes the only slot. The bad extension keeps it
	// from touching the database.
	body, contentType := multipartUpload(t, "a.txt", "x")
	req := httptest.NewRequest(http.MethodPost, "/imports", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-User-Siape", "1234567")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("first request: expected 400, got %d", rec.Code)
	}

	body, contentType = multipartUpload(t, "b.txt", "x")
	req = httptest.NewRequest(http.MethodPost, "/imports", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-User-Siape", "1234567")
	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: expected 429, got %d", rec.Code)
	}
}

func TestExportManualProtocols(t *testing.T) {
	srv := newTestServer(t, 10)
	payload := map[string]any{
		"format":    "14",
		"mode":      "protocols",
		"protocols": []string{"1001", "1002"},
	}
	raw, _ := json.Marshal(payload)

	req := httptest.NewRequest(http.MethodPost, "/actions/export", bytes.NewReader(raw))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/csv" {
		t.Fatalf("content type = %q", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "attachment") {
		t.Fatalf("content disposition = %q", cd)
	}
	want := "14\r\n\"1001\"\r\n\"1002\"\r\n"
	if rec.Body.String() != want {
		t.Fatalf("body = %q, want %q", rec.Body.String(), want)
	}
}

func TestExportRejectsUnknownFormat(t *testing.T) {
	srv := newTestServer(t, 10)
	raw, _ := json.Marshal(map[string]any{"format": "99", "mode": "all"})

	req := httptest.NewRequest(http.MethodPost, "/actions/export", bytes.NewReader(raw))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestExportRejectsInvalidJSON(t *testing.T) {
	srv := newTestServer(t, 10)
	req := httptest.NewRequest(http.MethodPost, "/actions/export", strings.NewReader("{"))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestDLQEmpty(t *testing.T) {
	srv := newTestServer(t, 10)
	req := httptest.NewRequest(http.MethodGet, "/imports/dlq", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		Items []string `json:"items"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Items) != 0 {
		t.Fatalf("expected empty dlq, got %v", resp.Items)
	}
}

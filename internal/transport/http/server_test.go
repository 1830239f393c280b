package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"braillescan/internal/app"
	"braillescan/internal/model"
	"braillescan/internal/storage"
	"braillescan/internal/transport/http/handler"
)

type panickingService struct{}

func (panickingService) CreateSession(context.Context) string { panic("store exploded") }
func (panickingService) ProcessImage(context.Context, app.ProcessInput) *app.ProcessResult {
	return nil
}
func (panickingService) GetSessionResults(context.Context, string) []model.DetectionRecord {
	return []model.DetectionRecord{}
}

func newTestHandler(t *testing.T, secret string) (http.Handler, *storage.Bucket) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	bucket, err := storage.NewBucket(storage.Options{
		Root:          t.TempDir(),
		PublicBaseURL: "http://example.test/blobs",
		SigningSecret: secret,
		SignedURLTTL:  time.Hour,
	})
	if err != nil {
		t.Fatal(err)
	}
	h := NewHandler(Routes{
		Braille:           handler.NewBrailleHandler(panickingService{}, 0),
		Blobs:             handler.NewBlobHandler(bucket),
		BlobSigningSecret: secret,
		AllowedOrigins:    []string{"https://app.example"},
		Logger:            zerolog.Nop(),
	})
	return h, bucket
}

func TestPanicBecomes500(t *testing.T) {
	h, _ := newTestHandler(t, "")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/create-session", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body["error"] != "store exploded" {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
}

func TestCORSPreflight(t *testing.T) {
	h, _ := newTestHandler(t, "")
	req := httptest.NewRequest(http.MethodOptions, "/api/process-braille", nil)
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example" {
		t.Fatalf("allow origin = %q", got)
	}
}

func TestBlobsPublic(t *testing.T) {
	h, bucket := newTestHandler(t, "")
	png := []byte("\x89PNG\r\n\x1a\n0000")
	obj, err := bucket.Upload(context.Background(), "braille_images/abc_page.png", png)
	if err != nil {
		t.Fatal(err)
	}

	u, _ := url.Parse(obj.URL)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, u.Path, nil))
	if rec.Code != http.StatusOK || rec.Body.String() != string(png) {
		t.Fatalf("unexpected response %d %q", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
		t.Fatalf("content type %q", ct)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/blobs/braille_images/missing.png", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing blob status %d", rec.Code)
	}
}

func TestBlobsSigned(t *testing.T) {
	h, bucket := newTestHandler(t, "blob-secret")
	obj, err := bucket.Upload(context.Background(), "braille_images/abc_page.png", []byte("data"))
	if err != nil {
		t.Fatal(err)
	}
	other, err := bucket.Upload(context.Background(), "braille_images/other.png", []byte("other"))
	if err != nil {
		t.Fatal(err)
	}
	u, _ := url.Parse(obj.URL)
	otherURL, _ := url.Parse(other.URL)

	cases := []struct {
		name   string
		target string
		want   int
	}{
		{"valid token", u.RequestURI(), http.StatusOK},
		{"missing token", u.Path, http.StatusUnauthorized},
		{"token for another key", u.Path + "?" + otherURL.RawQuery, http.StatusForbidden},
		{"garbage token", u.Path + "?token=abc", http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tc.target, nil))
			if rec.Code != tc.want {
				t.Fatalf("status %d, want %d (%s)", rec.Code, tc.want, strings.TrimSpace(rec.Body.String()))
			}
		})
	}
}

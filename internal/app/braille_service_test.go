package app

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"braillescan/internal/assistant"
	"braillescan/internal/detection"
	"braillescan/internal/model"
	"braillescan/internal/storage"
)

type fakeSessions struct {
	err     error
	created []*model.Session
}

func (f *fakeSessions) Create(_ context.Context, s *model.Session) error {
	f.created = append(f.created, s)
	return f.err
}

type fakeRecords struct {
	mu        sync.Mutex
	createErr error
	listErr   error
	created   []*model.DetectionRecord
	listed    []model.DetectionRecord
	listCalls int
}

func (f *fakeRecords) Create(_ context.Context, r *model.DetectionRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	r.ID = "doc-" + r.SessionID
	f.created = append(f.created, r)
	return nil
}

func (f *fakeRecords) ListBySessionID(context.Context, string) ([]model.DetectionRecord, error) {
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.listed, nil
}

type fakeBlobs struct {
	failKeys string
	keys     []string
}

func (f *fakeBlobs) Upload(_ context.Context, key string, data []byte) (*storage.Object, error) {
	if f.failKeys != "" && strings.Contains(key, f.failKeys) {
		return nil, errors.New("bucket unavailable")
	}
	f.keys = append(f.keys, key)
	return &storage.Object{Key: key, URL: "http://blobs/" + key, Size: int64(len(data))}, nil
}

type fakeDetector struct {
	result      *detection.Result
	err         error
	predictions []model.Prediction
	annotateErr error
	panicOn     string
	seenPath    string
}

func (f *fakeDetector) Detect(_ context.Context, path string) (*detection.Result, error) {
	f.seenPath = path
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	return f.result, f.err
}

func (f *fakeDetector) ExtractPredictions(*detection.Result) []model.Prediction {
	if f.panicOn == "extract" {
		panic("extract exploded")
	}
	return f.predictions
}

func (f *fakeDetector) Annotate(_ string, _ []model.Prediction, dst string) error {
	if f.annotateErr != nil {
		return f.annotateErr
	}
	return os.WriteFile(dst, []byte("annotated-png"), 0o600)
}

func (f *fakeDetector) OrganizeRows(preds []model.Prediction) []string {
	var sb strings.Builder
	for _, p := range preds {
		sb.WriteString(p.Class)
	}
	return []string{sb.String()}
}

type fakeAssistant struct {
	err  error
	rows []string
}

func (f *fakeAssistant) Process(_ context.Context, rows []string) (*assistant.Result, error) {
	f.rows = rows
	if f.err != nil {
		return nil, f.err
	}
	return &assistant.Result{Text: strings.Join(rows, " "), Explanation: "ok", Confidence: 0.75}, nil
}

type fakePublisher struct {
	events []model.DetectionEvent
}

func (f *fakePublisher) Publish(_ context.Context, e model.DetectionEvent) error {
	f.events = append(f.events, e)
	return nil
}

type fakeCache struct {
	results map[string][]model.DetectionRecord
	dirty   map[string]bool
	deleted []string
}

func newFakeCache() *fakeCache {
	return &fakeCache{results: map[string][]model.DetectionRecord{}, dirty: map[string]bool{}}
}

func (f *fakeCache) GetResults(_ context.Context, id string) ([]model.DetectionRecord, bool, error) {
	r, ok := f.results[id]
	return r, ok, nil
}
func (f *fakeCache) SetResults(_ context.Context, id string, r []model.DetectionRecord) error {
	f.results[id] = r
	return nil
}
func (f *fakeCache) DeleteResults(_ context.Context, id string) error {
	delete(f.results, id)
	f.deleted = append(f.deleted, id)
	return nil
}
func (f *fakeCache) MarkDirty(_ context.Context, id string) error { f.dirty[id] = true; return nil }
func (f *fakeCache) IsDirty(_ context.Context, id string) (bool, error) {
	return f.dirty[id], nil
}

type fixture struct {
	svc       *BrailleService
	sessions  *fakeSessions
	records   *fakeRecords
	blobs     *fakeBlobs
	detector  *fakeDetector
	assistant *fakeAssistant
	publisher *fakePublisher
	cache     *fakeCache
	tempDir   string
}

func predictions(n int) []model.Prediction {
	out := make([]model.Prediction, n)
	for i := range out {
		out[i] = model.Prediction{X: float64(i * 10), Y: 5, Width: 8, Height: 12, Class: string(rune('a' + i%26)), Confidence: 0.9}
	}
	return out
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		sessions:  &fakeSessions{},
		records:   &fakeRecords{},
		blobs:     &fakeBlobs{},
		detector:  &fakeDetector{result: &detection.Result{}, predictions: predictions(3)},
		assistant: &fakeAssistant{},
		publisher: &fakePublisher{},
		cache:     newFakeCache(),
		tempDir:   t.TempDir(),
	}
	f.svc = NewBrailleService(BrailleServiceDeps{
		Sessions:  f.sessions,
		Records:   f.records,
		Blobs:     f.blobs,
		Detector:  f.detector,
		Assistant: f.assistant,
		Publisher: f.publisher,
		Cache:     f.cache,
		TempDir:   f.tempDir,
		Logger:    zerolog.Nop(),
	})
	return f
}

func (f *fixture) tempFiles(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(f.tempDir)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestCreateSession(t *testing.T) {
	f := newFixture(t)
	id := f.svc.CreateSession(context.Background())
	if id == "" {
		t.Fatalf("expected id")
	}
	if len(f.sessions.created) != 1 || f.sessions.created[0].SessionID != id || f.sessions.created[0].Status != model.SessionStatusActive {
		t.Fatalf("unexpected session write %+v", f.sessions.created)
	}
}

func TestCreateSession_ReturnsIDWhenWriteFails(t *testing.T) {
	f := newFixture(t)
	f.sessions.err = errors.New("db down")
	if id := f.svc.CreateSession(context.Background()); id == "" {
		t.Fatalf("expected id even when persistence fails")
	}
}

func TestProcessImage_Success(t *testing.T) {
	f := newFixture(t)
	f.detector.predictions = predictions(13)

	res := f.svc.ProcessImage(context.Background(), ProcessInput{ImageData: []byte("img"), Filename: "page.jpg", SessionID: "s-1"})
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if res.SessionID != "s-1" || res.DocumentID == nil || *res.DocumentID != "doc-s-1" {
		t.Fatalf("unexpected ids %+v", res)
	}
	out := res.Result
	if out.CharacterCount != 13 {
		t.Fatalf("character count should cover all predictions, got %d", out.CharacterCount)
	}
	if out.OriginalImage == nil || !strings.HasPrefix(*out.OriginalImage, "http://blobs/braille_images/") || !strings.HasSuffix(*out.OriginalImage, "_page.jpg") {
		t.Fatalf("unexpected original url %v", out.OriginalImage)
	}
	if out.AnnotatedImage == nil || !strings.HasSuffix(*out.AnnotatedImage, "_annotated_page.jpg") {
		t.Fatalf("unexpected annotated url %v", out.AnnotatedImage)
	}
	if out.Confidence != 0.75 || out.Explanation != "ok" || len(out.DetectedRows) != 1 {
		t.Fatalf("unexpected output %+v", out)
	}

	if len(f.records.created) != 1 {
		t.Fatalf("expected one record write")
	}
	rec := f.records.created[0]
	if len(rec.RawPredictions) != model.MaxStoredPredictions {
		t.Fatalf("stored predictions should be capped, got %d", len(rec.RawPredictions))
	}
	if rec.Status != model.DetectionStatusCompleted || rec.ProcessedText != out.ProcessedText {
		t.Fatalf("unexpected record %+v", rec)
	}

	if len(f.publisher.events) != 1 || f.publisher.events[0].CharacterCount != 13 || f.publisher.events[0].RecordID != "doc-s-1" {
		t.Fatalf("unexpected events %+v", f.publisher.events)
	}
	if len(f.cache.deleted) != 1 || f.cache.deleted[0] != "s-1" {
		t.Fatalf("cache should be invalidated, got %v", f.cache.deleted)
	}
	if left := f.tempFiles(t); len(left) != 0 {
		t.Fatalf("temp files left behind: %v", left)
	}
}

func TestProcessImage_MintsSessionID(t *testing.T) {
	f := newFixture(t)
	res := f.svc.ProcessImage(context.Background(), ProcessInput{ImageData: []byte("img"), Filename: "a.png"})
	if !res.Success || res.SessionID == "" {
		t.Fatalf("expected minted session id, got %+v", res)
	}
	if len(f.sessions.created) != 0 {
		t.Fatalf("processing must not write a session document")
	}
}

func TestProcessImage_DetectionFailure(t *testing.T) {
	for name, det := range map[string]*fakeDetector{
		"error":     {err: errors.New("inference timeout")},
		"no result": {result: nil},
	} {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			f.svc.detector = det

			res := f.svc.ProcessImage(context.Background(), ProcessInput{ImageData: []byte("img"), Filename: "a.jpg", SessionID: "s-9"})
			if res.Success || res.Error != "Detection failed" || res.SessionID != "s-9" {
				t.Fatalf("unexpected result %+v", res)
			}
			if len(f.records.created) != 0 {
				t.Fatalf("detection failure must not write a record")
			}

			raw, _ := json.Marshal(res)
			var payload map[string]any
			_ = json.Unmarshal(raw, &payload)
			if len(payload) != 3 || payload["success"] != false || payload["error"] != "Detection failed" || payload["session_id"] != "s-9" {
				t.Fatalf("unexpected failure payload %s", raw)
			}
		})
	}
}

func TestProcessImage_DegradedSteps(t *testing.T) {
	f := newFixture(t)
	f.blobs.failKeys = "_a.jpg"
	f.detector.annotateErr = errors.New("font missing")
	f.records.createErr = errors.New("db down")

	res := f.svc.ProcessImage(context.Background(), ProcessInput{ImageData: []byte("img"), Filename: "a.jpg", SessionID: "s-2"})
	if !res.Success {
		t.Fatalf("degraded steps should not abort: %+v", res)
	}
	if res.Result.OriginalImage != nil || res.Result.AnnotatedImage != nil || res.DocumentID != nil {
		t.Fatalf("expected null references, got %+v / %v", res.Result, res.DocumentID)
	}
	if len(f.publisher.events) != 0 {
		t.Fatalf("no event without a stored record")
	}

	raw, _ := json.Marshal(res)
	if !strings.Contains(string(raw), `"document_id":null`) || !strings.Contains(string(raw), `"original_image":null`) {
		t.Fatalf("nulls should be explicit in payload: %s", raw)
	}
	if left := f.tempFiles(t); len(left) != 0 {
		t.Fatalf("temp files left behind: %v", left)
	}
}

func TestProcessImage_AssistantErrorBecomesFailure(t *testing.T) {
	f := newFixture(t)
	f.assistant.err = errors.New("llm quota exceeded")

	res := f.svc.ProcessImage(context.Background(), ProcessInput{ImageData: []byte("img"), Filename: "a.jpg", SessionID: "s-3"})
	if res.Success || !strings.Contains(res.Error, "llm quota exceeded") || res.SessionID != "s-3" {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(f.records.created) != 0 {
		t.Fatalf("no record expected")
	}
}

func TestProcessImage_PanicBecomesFailure(t *testing.T) {
	f := newFixture(t)
	f.detector.panicOn = "extract"

	res := f.svc.ProcessImage(context.Background(), ProcessInput{ImageData: []byte("img"), Filename: "a.jpg", SessionID: "s-4"})
	if res.Success || res.Error != "extract exploded" || res.SessionID != "s-4" {
		t.Fatalf("unexpected result %+v", res)
	}
	if left := f.tempFiles(t); len(left) != 0 {
		t.Fatalf("temp files left behind after panic: %v", left)
	}
}

func TestProcessImage_EmptyImage(t *testing.T) {
	f := newFixture(t)
	res := f.svc.ProcessImage(context.Background(), ProcessInput{Filename: "a.jpg", SessionID: "s-5"})
	if res.Success || !strings.Contains(res.Error, "empty image") {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestGetSessionResults(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	t.Run("empty", func(t *testing.T) {
		f := newFixture(t)
		f.records.listed = []model.DetectionRecord{}
		got := f.svc.GetSessionResults(context.Background(), "s-1")
		if got == nil || len(got) != 0 {
			t.Fatalf("expected empty list, got %#v", got)
		}
	})

	t.Run("backend failure swallowed", func(t *testing.T) {
		f := newFixture(t)
		f.records.listErr = errors.New("db down")
		got := f.svc.GetSessionResults(context.Background(), "s-1")
		if got == nil || len(got) != 0 {
			t.Fatalf("expected empty list, got %#v", got)
		}
	})

	t.Run("read through cache", func(t *testing.T) {
		f := newFixture(t)
		f.records.listed = []model.DetectionRecord{{ID: "r1", SessionID: "s-1", Timestamp: ts}}

		first := f.svc.GetSessionResults(context.Background(), "s-1")
		second := f.svc.GetSessionResults(context.Background(), "s-1")
		if len(first) != 1 || len(second) != 1 || f.records.listCalls != 1 {
			t.Fatalf("second read should hit cache, list calls=%d", f.records.listCalls)
		}
	})

	t.Run("dirty bypasses cache", func(t *testing.T) {
		f := newFixture(t)
		f.cache.results["s-1"] = []model.DetectionRecord{{ID: "stale"}}
		f.cache.dirty["s-1"] = true
		f.records.listed = []model.DetectionRecord{{ID: "fresh"}}

		got := f.svc.GetSessionResults(context.Background(), "s-1")
		if len(got) != 1 || got[0].ID != "fresh" {
			t.Fatalf("expected fresh records, got %+v", got)
		}
		if f.cache.results["s-1"][0].ID != "stale" {
			t.Fatalf("dirty session must not be repopulated")
		}
	})
}

func TestSanitizeFilename(t *testing.T) {
	cases := map[string]string{
		"page.jpg":            "page.jpg",
		"../../etc/passwd":    "passwd",
		`C:\Users\me\pic.png`: "pic.png",
		"":                    "image",
		"  ":                  "image",
	}
	for in, want := range cases {
		if got := sanitizeFilename(in); got != want {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestWriteTempUsesTempDir(t *testing.T) {
	f := newFixture(t)
	path, err := f.svc.writeTemp("upload-*.jpg", []byte("x"))
	if err != nil {
		t.Fatalf("writeTemp: %v", err)
	}
	if filepath.Dir(path) != f.tempDir || !strings.HasSuffix(path, ".jpg") {
		t.Fatalf("unexpected temp path %q", path)
	}
}

package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"braillescan/internal/assistant"
	"braillescan/internal/detection"
	"braillescan/internal/model"
	"braillescan/internal/storage"
)

var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrDetectionFailed = errors.New("detection failed")
)

const (
	imagePrefix = "braille_images/"

	detectionFailedMessage = "Detection failed"
)

type SessionStore interface {
	Create(ctx context.Context, session *model.Session) error
}

type RecordStore interface {
	Create(ctx context.Context, record *model.DetectionRecord) error
	ListBySessionID(ctx context.Context, sessionID string) ([]model.DetectionRecord, error)
}

type BlobStore interface {
	Upload(ctx context.Context, key string, data []byte) (*storage.Object, error)
}

type Detector interface {
	Detect(ctx context.Context, imagePath string) (*detection.Result, error)
	ExtractPredictions(result *detection.Result) []model.Prediction
	Annotate(srcPath string, predictions []model.Prediction, dstPath string) error
	OrganizeRows(predictions []model.Prediction) []string
}

type Assistant interface {
	Process(ctx context.Context, rows []string) (*assistant.Result, error)
}

type EventPublisher interface {
	Publish(ctx context.Context, event model.DetectionEvent) error
}

type ResultCache interface {
	GetResults(ctx context.Context, sessionID string) ([]model.DetectionRecord, bool, error)
	SetResults(ctx context.Context, sessionID string, records []model.DetectionRecord) error
	DeleteResults(ctx context.Context, sessionID string) error
	MarkDirty(ctx context.Context, sessionID string) error
	IsDirty(ctx context.Context, sessionID string) (bool, error)
}

type ProcessInput struct {
	ImageData []byte
	Filename  string
	SessionID string
}

type ProcessResult struct {
	Success    bool
	SessionID  string
	DocumentID *string
	Result     *ProcessOutput
	Error      string
}

// MarshalJSON renders the success and failure payloads with their own field sets.
func (r ProcessResult) MarshalJSON() ([]byte, error) {
	if !r.Success {
		return json.Marshal(struct {
			Success   bool   `json:"success"`
			Error     string `json:"error"`
			SessionID string `json:"session_id"`
		}{r.Success, r.Error, r.SessionID})
	}
	return json.Marshal(struct {
		Success    bool           `json:"success"`
		SessionID  string         `json:"session_id"`
		DocumentID *string        `json:"document_id"`
		Result     *ProcessOutput `json:"result"`
	}{r.Success, r.SessionID, r.DocumentID, r.Result})
}

type ProcessOutput struct {
	OriginalImage  *string  `json:"original_image"`
	AnnotatedImage *string  `json:"annotated_image"`
	DetectedRows   []string `json:"detected_rows"`
	ProcessedText  string   `json:"processed_text"`
	Explanation    string   `json:"explanation"`
	Confidence     float64  `json:"confidence"`
	CharacterCount int      `json:"character_count"`
}

type BrailleService struct {
	sessions  SessionStore
	records   RecordStore
	blobs     BlobStore
	detector  Detector
	assistant Assistant
	publisher EventPublisher
	cache     ResultCache
	tempDir   string
	log       zerolog.Logger
	now       func() time.Time
}

type BrailleServiceDeps struct {
	Sessions  SessionStore
	Records   RecordStore
	Blobs     BlobStore
	Detector  Detector
	Assistant Assistant
	// Publisher and Cache are optional.
	Publisher EventPublisher
	Cache     ResultCache
	TempDir   string
	Logger    zerolog.Logger
}

func NewBrailleService(deps BrailleServiceDeps) *BrailleService {
	tempDir := deps.TempDir
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	return &BrailleService{
		sessions:  deps.Sessions,
		records:   deps.Records,
		blobs:     deps.Blobs,
		detector:  deps.Detector,
		assistant: deps.Assistant,
		publisher: deps.Publisher,
		cache:     deps.Cache,
		tempDir:   tempDir,
		log:       deps.Logger.With().Str("component", "braille_service").Logger(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// CreateSession always hands back a fresh id. A failed write is logged and
// the id is still returned so clients can keep working.
func (s *BrailleService) CreateSession(ctx context.Context) string {
	sessionID := uuid.NewString()
	session := &model.Session{
		SessionID: sessionID,
		CreatedAt: s.now(),
		Status:    model.SessionStatusActive,
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		s.log.Error().Err(err).Str("session_id", sessionID).Msg("create session failed")
	}
	return sessionID
}

// ProcessImage runs the full pipeline for one image. Failures come back as an
// unsuccessful ProcessResult rather than an error.
func (s *BrailleService) ProcessImage(ctx context.Context, input ProcessInput) (result *ProcessResult) {
	sessionID := strings.TrimSpace(input.SessionID)
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	log := s.log.With().Str("session_id", sessionID).Logger()

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("processing pipeline panicked")
			result = failure(sessionID, fmt.Sprintf("%v", r))
		}
	}()

	out, documentID, err := s.runPipeline(ctx, log, sessionID, input)
	if err != nil {
		log.Error().Err(err).Msg("processing pipeline failed")
		if errors.Is(err, ErrDetectionFailed) {
			return failure(sessionID, detectionFailedMessage)
		}
		return failure(sessionID, err.Error())
	}
	return &ProcessResult{
		Success:    true,
		SessionID:  sessionID,
		DocumentID: documentID,
		Result:     out,
	}
}

func (s *BrailleService) runPipeline(ctx context.Context, log zerolog.Logger, sessionID string, input ProcessInput) (*ProcessOutput, *string, error) {
	filename := sanitizeFilename(input.Filename)
	if len(input.ImageData) == 0 {
		return nil, nil, fmt.Errorf("%w: empty image", ErrInvalidInput)
	}
	log.Info().Str("filename", filename).Int("bytes", len(input.ImageData)).Msg("processing image")

	tempPath, err := s.writeTemp("upload-*"+filepath.Ext(filename), input.ImageData)
	if err != nil {
		return nil, nil, err
	}
	defer removeQuietly(log, tempPath)

	originalURL := s.upload(ctx, log, filename, input.ImageData)

	detected, err := s.detector.Detect(ctx, tempPath)
	if err != nil || detected == nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrDetectionFailed, err)
	}

	predictions := s.detector.ExtractPredictions(detected)
	log.Info().Int("characters", len(predictions)).Msg("detected braille characters")

	annotatedURL := s.annotate(ctx, log, tempPath, filename, predictions)

	rows := s.detector.OrganizeRows(predictions)

	interpreted, err := s.assistant.Process(ctx, rows)
	if err != nil {
		return nil, nil, err
	}

	stored := predictions
	if len(stored) > model.MaxStoredPredictions {
		stored = stored[:model.MaxStoredPredictions]
	}
	record := &model.DetectionRecord{
		SessionID:         sessionID,
		Timestamp:         s.now(),
		ImageURL:          originalURL,
		AnnotatedImageURL: annotatedURL,
		DetectedTextRows:  rows,
		ProcessedText:     interpreted.Text,
		Explanation:       interpreted.Explanation,
		Confidence:        interpreted.Confidence,
		RawPredictions:    stored,
		Status:            model.DetectionStatusCompleted,
	}
	documentID := s.save(ctx, log, record, len(predictions))

	return &ProcessOutput{
		OriginalImage:  originalURL,
		AnnotatedImage: annotatedURL,
		DetectedRows:   rows,
		ProcessedText:  interpreted.Text,
		Explanation:    interpreted.Explanation,
		Confidence:     interpreted.Confidence,
		CharacterCount: len(predictions),
	}, documentID, nil
}

// upload stores data and returns its public URL, or nil when the upload fails.
func (s *BrailleService) upload(ctx context.Context, log zerolog.Logger, filename string, data []byte) *string {
	key := imagePrefix + uuid.NewString() + "_" + filename
	obj, err := s.blobs.Upload(ctx, key, data)
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("upload image failed")
		return nil
	}
	log.Debug().Str("key", key).Str("content_type", obj.ContentType).Msg("uploaded image")
	return &obj.URL
}

// annotate renders and uploads the annotated preview. Any failure leaves the
// reference absent.
func (s *BrailleService) annotate(ctx context.Context, log zerolog.Logger, srcPath, filename string, predictions []model.Prediction) *string {
	annotatedPath := filepath.Join(s.tempDir, "annotated-"+uuid.NewString()+".png")
	if err := s.detector.Annotate(srcPath, predictions, annotatedPath); err != nil {
		log.Warn().Err(err).Msg("create annotated image failed")
		removeQuietly(log, annotatedPath)
		return nil
	}
	defer removeQuietly(log, annotatedPath)

	data, err := os.ReadFile(annotatedPath)
	if err != nil {
		log.Warn().Err(err).Msg("read annotated image failed")
		return nil
	}
	return s.upload(ctx, log, "annotated_"+filename, data)
}

// save writes the record and returns its id, or nil when the write fails.
func (s *BrailleService) save(ctx context.Context, log zerolog.Logger, record *model.DetectionRecord, characterCount int) *string {
	if s.cache != nil {
		_ = s.cache.MarkDirty(ctx, record.SessionID)
	}
	if err := s.records.Create(ctx, record); err != nil {
		log.Error().Err(err).Msg("save detection result failed")
		return nil
	}
	if s.cache != nil {
		if err := s.cache.DeleteResults(ctx, record.SessionID); err != nil {
			log.Warn().Err(err).Msg("invalidate results cache failed")
		}
	}
	if s.publisher != nil {
		event := model.DetectionEvent{
			RecordID:       record.ID,
			SessionID:      record.SessionID,
			CharacterCount: characterCount,
			Timestamp:      record.Timestamp,
		}
		if err := s.publisher.Publish(ctx, event); err != nil {
			log.Warn().Err(err).Str("record_id", record.ID).Msg("publish detection event failed")
		}
	}
	id := record.ID
	return &id
}

// GetSessionResults lists a session's records newest first. Backend failures
// are logged and produce an empty list.
func (s *BrailleService) GetSessionResults(ctx context.Context, sessionID string) []model.DetectionRecord {
	log := s.log.With().Str("session_id", sessionID).Logger()

	if s.cache != nil {
		if dirty, err := s.cache.IsDirty(ctx, sessionID); err == nil && !dirty {
			if cached, hit, err := s.cache.GetResults(ctx, sessionID); err == nil && hit {
				return cached
			}
		}
	}

	records, err := s.records.ListBySessionID(ctx, sessionID)
	if err != nil {
		log.Error().Err(err).Msg("get session results failed")
		return []model.DetectionRecord{}
	}
	if s.cache != nil {
		if dirty, err := s.cache.IsDirty(ctx, sessionID); err == nil && !dirty {
			_ = s.cache.SetResults(ctx, sessionID, records)
		}
	}
	return records
}

func (s *BrailleService) writeTemp(pattern string, data []byte) (string, error) {
	f, err := os.CreateTemp(s.tempDir, pattern)
	if err != nil {
		return "", fmt.Errorf("create temp image failed: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("write temp image failed: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("close temp image failed: %w", err)
	}
	return f.Name(), nil
}

func removeQuietly(log zerolog.Logger, path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Str("path", path).Msg("remove temp file failed")
	}
}

func sanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	if name == "." || name == "/" || name == "" {
		return "image"
	}
	return name
}

func failure(sessionID, message string) *ProcessResult {
	return &ProcessResult{
		Success:   false,
		SessionID: sessionID,
		Error:     message,
	}
}

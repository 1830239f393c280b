// Package detection recognizes Braille cells in images and turns them into
// text rows and annotated previews.
package detection

import (
	"context"
	"errors"
	"fmt"

	"braillescan/internal/model"
)

var ErrNoResult = errors.New("detection returned no result")

type ImageInfo struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// RawPrediction is a detection as reported by an engine.
type RawPrediction struct {
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	Width       float64 `json:"width"`
	Height      float64 `json:"height"`
	Class       string  `json:"class"`
	ClassID     int     `json:"class_id"`
	Confidence  float64 `json:"confidence"`
	DetectionID string  `json:"detection_id,omitempty"`
}

type Result struct {
	Image       ImageInfo       `json:"image"`
	Predictions []RawPrediction `json:"predictions"`
}

// Engine runs a detection model against an image on disk.
type Engine interface {
	Detect(ctx context.Context, imagePath string) (*Result, error)
	Name() string
}

// Detector wraps an Engine with the post-processing steps the pipeline needs.
type Detector struct {
	engine        Engine
	minConfidence float64
}

func NewDetector(engine Engine, minConfidence float64) *Detector {
	return &Detector{engine: engine, minConfidence: minConfidence}
}

func (d *Detector) Detect(ctx context.Context, imagePath string) (*Result, error) {
	result, err := d.engine.Detect(ctx, imagePath)
	if err != nil {
		return nil, fmt.Errorf("%s detect failed: %w", d.engine.Name(), err)
	}
	if result == nil {
		return nil, ErrNoResult
	}
	return result, nil
}

// ExtractPredictions keeps labelled predictions at or above the confidence floor.
func (d *Detector) ExtractPredictions(result *Result) []model.Prediction {
	predictions := make([]model.Prediction, 0)
	if result == nil {
		return predictions
	}
	for _, p := range result.Predictions {
		if p.Class == "" || p.Confidence < d.minConfidence {
			continue
		}
		predictions = append(predictions, model.Prediction{
			X:          p.X,
			Y:          p.Y,
			Width:      p.Width,
			Height:     p.Height,
			Class:      p.Class,
			ClassID:    p.ClassID,
			Confidence: p.Confidence,
		})
	}
	return predictions
}

func (d *Detector) Annotate(srcPath string, predictions []model.Prediction, dstPath string) error {
	return CreateAnnotatedImage(srcPath, predictions, dstPath)
}

func (d *Detector) OrganizeRows(predictions []model.Prediction) []string {
	return OrganizeRows(predictions)
}

func (d *Detector) EngineName() string {
	return d.engine.Name()
}

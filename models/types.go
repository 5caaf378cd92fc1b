package models

import "time"

// BoundingBox is an axis-aligned box in original image pixel coordinates.
type BoundingBox struct {
	X1 float32 `json:"x1"`
	Y1 float32 `json:"y1"`
	X2 float32 `json:"x2"`
	Y2 float32 `json:"y2"`
}

func (b BoundingBox) Width() float32 {
	return b.X2 - b.X1
}

func (b BoundingBox) Height() float32 {
	return b.Y2 - b.Y1
}

func (b BoundingBox) Area() float32 {
	return b.Width() * b.Height()
}

// Detection is a labeled box produced by the decoder.
type Detection struct {
	Box        BoundingBox `json:"box"`
	Label      string      `json:"label"`
	Confidence float32     `json:"confidence"`
}

// ModelConfig pairs a label table with the thresholds used for one model.
// It is read concurrently by every session of the model and must not be
// modified after load.
type ModelConfig struct {
	Labels               LabelTable
	ProbabilityThreshold float32
	IouThreshold         float32
}

const (
	DefaultProbabilityThreshold = 0.5
	DefaultIouThreshold         = 0.7
)

func DefaultModelConfig() *ModelConfig {
	return &ModelConfig{
		Labels:               COCOLabels,
		ProbabilityThreshold: DefaultProbabilityThreshold,
		IouThreshold:         DefaultIouThreshold,
	}
}

type ProcessingTimings struct {
	RequestID    string
	ImageDecode  time.Duration
	Encode       time.Duration
	Inference    time.Duration
	DecodeOutput time.Duration
	Suppression  time.Duration
	Total        time.Duration
}

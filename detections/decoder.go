package detections

import (
	"github.com/Tutortoise/object-detection-service/models"
)

// DecodeOutput turns raw output rows into candidate detections in the
// original image space. Rows whose best class score is below
// cfg.ProbabilityThreshold are dropped; the rest keep the row order.
func DecodeOutput(raw *models.RawOutput, rawWidth, rawHeight int, cfg *models.ModelConfig) ([]models.Detection, error) {
	if raw.Attributes() < models.BoxAttributes+1 {
		return nil, configMismatch("raw output has %d attributes, need at least %d",
			raw.Attributes(), models.BoxAttributes+1)
	}
	if raw.Classes() != len(cfg.Labels) {
		return nil, configMismatch("model outputs %d class scores but the label table has %d entries",
			raw.Classes(), len(cfg.Labels))
	}

	scaleX := float32(rawWidth) / models.InputWidth
	scaleY := float32(rawHeight) / models.InputHeight

	detections := make([]models.Detection, 0)
	for i := 0; i < raw.Rows(); i++ {
		row := raw.Row(i)

		classID, score := bestClass(row[models.BoxAttributes:])
		// NaN scores fail this comparison and are dropped.
		if !(score >= cfg.ProbabilityThreshold) {
			continue
		}

		label, ok := cfg.Labels.Lookup(classID)
		if !ok {
			return nil, configMismatch("class index %d out of range for %d labels", classID, len(cfg.Labels))
		}

		detections = append(detections, models.Detection{
			Box:        calculateBBox(row[:models.BoxAttributes], scaleX, scaleY),
			Label:      label,
			Confidence: score,
		})
	}

	return detections, nil
}

// bestClass scans every score; the first maximum wins.
func bestClass(scores []float32) (int, float32) {
	classID := 0
	best := scores[0]
	for i := 1; i < len(scores); i++ {
		if scores[i] > best {
			best = scores[i]
			classID = i
		}
	}
	return classID, best
}

// calculateBBox rescales (cx, cy, w, h) from network space and converts it
// to corners. Boxes are not clamped to the image.
func calculateBBox(coords []float32, scaleX, scaleY float32) models.BoundingBox {
	centerX := coords[0] * scaleX
	centerY := coords[1] * scaleY
	width := coords[2] * scaleX
	height := coords[3] * scaleY

	return models.BoundingBox{
		X1: centerX - width/2,
		Y1: centerY - height/2,
		X2: centerX + width/2,
		Y2: centerY + height/2,
	}
}

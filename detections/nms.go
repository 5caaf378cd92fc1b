package detections

import (
	"sort"

	"github.com/Tutortoise/object-detection-service/models"
)

// Suppress runs greedy non-maximum suppression over all detections
// regardless of label. A candidate is kept only if its IoU with every
// already kept detection is strictly below iouThreshold. The result is
// ordered by confidence, highest first. dets is not modified.
func Suppress(dets []models.Detection, iouThreshold float32) []models.Detection {
	if len(dets) == 0 {
		return []models.Detection{}
	}

	sorted := make([]models.Detection, len(dets))
	copy(sorted, dets)
	sortDetectionsByConfidence(sorted)

	result := make([]models.Detection, 0, len(sorted))
	for _, current := range sorted {
		if acceptable(current, result, iouThreshold) {
			result = append(result, current)
		}
	}

	return result
}

func acceptable(candidate models.Detection, kept []models.Detection, iouThreshold float32) bool {
	for _, selected := range kept {
		if IoU(selected.Box, candidate.Box) >= iouThreshold {
			return false
		}
	}
	return true
}

// IoU returns intersection over union of two boxes. Disjoint boxes and
// boxes with no area give 0.
func IoU(box1, box2 models.BoundingBox) float32 {
	intersection := intersectionArea(box1, box2)
	union := box1.Area() + box2.Area() - intersection
	if union <= 0 {
		return 0
	}
	return intersection / union
}

func intersectionArea(box1, box2 models.BoundingBox) float32 {
	x1 := max(box1.X1, box2.X1)
	y1 := max(box1.Y1, box2.Y1)
	x2 := min(box1.X2, box2.X2)
	y2 := min(box1.Y2, box2.Y2)

	if x2 <= x1 || y2 <= y1 {
		return 0
	}
	return (x2 - x1) * (y2 - y1)
}

func sortDetectionsByConfidence(detections []models.Detection) {
	sort.SliceStable(detections, func(i, j int) bool {
		return detections[i].Confidence > detections[j].Confidence
	})
}

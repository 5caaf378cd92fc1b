package detections

import (
	"context"
	"image"
	"time"

	"github.com/Tutortoise/object-detection-service/models"
)

// Detect encodes img, runs it through engine and returns the suppressed
// detections. timings may be nil. The context is checked before the
// inference call; the call itself is not interruptible.
func Detect(ctx context.Context, engine Engine, img image.Image, cfg *models.ModelConfig, timings *models.ProcessingTimings) ([]models.Detection, error) {
	if timings == nil {
		timings = &models.ProcessingTimings{}
	}

	encodeStart := time.Now()
	input := EncodeImage(img)
	timings.Encode = time.Since(encodeStart)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	inferStart := time.Now()
	raw, err := engine.Infer(input)
	timings.Inference = time.Since(inferStart)
	if err != nil {
		return nil, err
	}

	decodeStart := time.Now()
	candidates, err := DecodeOutput(raw, input.RawWidth, input.RawHeight, cfg)
	timings.DecodeOutput = time.Since(decodeStart)
	if err != nil {
		return nil, err
	}

	suppressStart := time.Now()
	result := Suppress(candidates, cfg.IouThreshold)
	timings.Suppression = time.Since(suppressStart)

	return result, nil
}

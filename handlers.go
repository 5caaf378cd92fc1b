package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"mime"
	"net/http"
	"time"

	"github.com/Tutortoise/object-detection-service/detections"
	"github.com/Tutortoise/object-detection-service/models"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

type DetectionResponse struct {
	Count      int                `json:"count"`
	Message    string             `json:"message"`
	Width      int                `json:"width"`
	Height     int                `json:"height"`
	Detections []models.Detection `json:"detections"`
}

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func handleDetect(state *AppState) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTotal := time.Now()
		requestID := fmt.Sprintf("%d", time.Now().UnixNano())
		timings := &models.ProcessingTimings{RequestID: requestID}
		logger := state.Logger.With(zap.String("request_id", requestID))

		ctx := r.Context()
		r.Body = http.MaxBytesReader(w, r.Body, state.Config.MaxUploadBytes)

		imgBytes, err := readImageBytes(r, state.Config.MaxUploadBytes)
		if err != nil {
			sendErrorResponse(w, "invalid_request", err.Error(), http.StatusBadRequest)
			return
		}

		// Decode image
		decodeStart := time.Now()
		img, err := decodeImage(imgBytes)
		timings.ImageDecode = time.Since(decodeStart)
		if err != nil {
			sendErrorResponse(w, "invalid_image", "Failed to decode image", http.StatusBadRequest)
			return
		}

		boxes, err := state.detect(ctx, img, timings)
		if err != nil {
			status := http.StatusInternalServerError
			code := detections.KindOf(err).String()
			switch {
			case errors.Is(err, ErrAcquireTimeout), errors.Is(err, ErrPoolClosed):
				status, code = http.StatusServiceUnavailable, "session_error"
			case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
				status, code = http.StatusServiceUnavailable, "canceled"
			}
			logger.Error("detection failed", zap.String("code", code), zap.Error(err))
			sendErrorResponse(w, code, err.Error(), status)
			return
		}

		timings.Total = time.Since(startTotal)
		logTimings(logger, timings)

		bounds := img.Bounds()
		response := DetectionResponse{
			Count:      len(boxes),
			Message:    detectionMessage(len(boxes)),
			Width:      bounds.Dx(),
			Height:     bounds.Dy(),
			Detections: boxes,
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(response); err != nil {
			logger.Error("encode response", zap.Error(err))
		}
	}
}

// detect runs the pipeline on a pooled session. Execution failures are
// retried with a linear backoff; a session that keeps failing is discarded
// and replaced by the pool health check.
func (s *AppState) detect(ctx context.Context, img image.Image, timings *models.ProcessingTimings) ([]models.Detection, error) {
	session, err := s.Pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 1; attempt <= s.Config.RetryAttempts; attempt++ {
		boxes, err := detections.Detect(ctx, session, img, s.ModelConfig, timings)
		if err == nil {
			s.Pool.Release(session)
			return boxes, nil
		}
		lastErr = err
		if !detections.IsRetryable(err) {
			s.Pool.Release(session)
			return nil, err
		}

		s.Logger.Warn("inference failed",
			zap.String("request_id", timings.RequestID),
			zap.Int("attempt", attempt),
			zap.Error(err))

		if attempt < s.Config.RetryAttempts {
			select {
			case <-ctx.Done():
				s.Pool.Release(session)
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * s.Config.RetryDelay):
			}
		}
	}

	s.Pool.Discard(session)
	return nil, lastErr
}

func (s *AppState) handleLabels(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"count":  len(s.ModelConfig.Labels),
		"labels": s.ModelConfig.Labels,
	})
}

func (s *AppState) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.Pool.GetMetrics())
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
}

func readImageBytes(r *http.Request, maxBytes int64) ([]byte, error) {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		mediaType = ""
	}

	switch mediaType {
	case "application/json":
		return handleJSONRequest(r)
	case "multipart/form-data":
		return handleMultipartRequest(r, maxBytes)
	default:
		return handleRawRequest(r)
	}
}

func handleJSONRequest(r *http.Request) ([]byte, error) {
	var req struct {
		Image string `json:"image"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, err
	}
	if req.Image == "" {
		return nil, errors.New("missing image field")
	}
	return base64.StdEncoding.DecodeString(req.Image)
}

func handleMultipartRequest(r *http.Request, maxBytes int64) ([]byte, error) {
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		return nil, err
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return io.ReadAll(file)
}

func handleRawRequest(r *http.Request) ([]byte, error) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, errors.New("empty request body")
	}
	return data, nil
}

// decodeImage applies the EXIF orientation so boxes match what the client
// displays.
func decodeImage(data []byte) (image.Image, error) {
	return imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
}

func sendErrorResponse(w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Code:    code,
		Message: message,
	})
}

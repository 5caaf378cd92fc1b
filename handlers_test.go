package main

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Tutortoise/object-detection-service/detections"
	"github.com/Tutortoise/object-detection-service/models"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: 200, G: 100, B: 50, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func testState(t *testing.T, engine *stubEngine) *AppState {
	t.Helper()
	labels := models.LabelTable{"person", "bicycle"}
	if engine.raw == nil {
		raw, err := models.NewRawOutputFromRows(6,
			[]float32{320, 320, 100, 100, 0.9, 0.1},
			[]float32{320, 320, 100, 100, 0.6, 0.1},
			[]float32{50, 50, 20, 20, 0.2, 0.8},
		)
		require.NoError(t, err)
		engine.raw = raw
	}

	cfg := &Config{
		RetryAttempts:  3,
		RetryDelay:     time.Millisecond,
		MaxUploadBytes: 1 << 20,
	}
	pool, err := NewModelSessionPool(func() (detections.Engine, error) {
		return engine, nil
	}, PoolOptions{Size: 1, AcquireTimeout: 50 * time.Millisecond}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { pool.Destroy() })

	return &AppState{
		Config: cfg,
		ModelConfig: &models.ModelConfig{
			Labels:               labels,
			ProbabilityThreshold: 0.5,
			IouThreshold:         0.5,
		},
		Pool:   pool,
		Logger: zap.NewNop(),
	}
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) DetectionResponse {
	t.Helper()
	var resp DetectionResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func TestDetectRawBody(t *testing.T) {
	state := testState(t, &stubEngine{})
	req := httptest.NewRequest(http.MethodPost, "/detect", bytes.NewReader(pngBytes(t, 640, 640)))
	req.Header.Set("Content-Type", "image/png")
	rec := httptest.NewRecorder()

	state.routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decodeResponse(t, rec)
	assert.Equal(t, 2, resp.Count)
	assert.Equal(t, "Detected 2 objects", resp.Message)
	assert.Equal(t, 640, resp.Width)
	require.Len(t, resp.Detections, 2)
	assert.Equal(t, "person", resp.Detections[0].Label)
	assert.Equal(t, models.BoundingBox{X1: 270, Y1: 270, X2: 370, Y2: 370}, resp.Detections[0].Box)
	assert.Equal(t, "bicycle", resp.Detections[1].Label)
}

func TestDetectJSONBody(t *testing.T) {
	state := testState(t, &stubEngine{})
	body, err := json.Marshal(map[string]string{
		"image": base64.StdEncoding.EncodeToString(pngBytes(t, 320, 160)),
	})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/detect", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	state.routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decodeResponse(t, rec)
	assert.Equal(t, 320, resp.Width)
	assert.Equal(t, 160, resp.Height)
	// x scale 0.5, y scale 0.25
	assert.Equal(t, models.BoundingBox{X1: 135, Y1: 67.5, X2: 185, Y2: 92.5}, resp.Detections[0].Box)
}

func TestDetectMultipart(t *testing.T) {
	state := testState(t, &stubEngine{})
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "image.png")
	require.NoError(t, err)
	_, err = part.Write(pngBytes(t, 64, 64))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/detect", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()

	state.routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 2, decodeResponse(t, rec).Count)
}

func TestDetectInvalidImage(t *testing.T) {
	state := testState(t, &stubEngine{})
	req := httptest.NewRequest(http.MethodPost, "/detect", bytes.NewReader([]byte("not an image")))
	rec := httptest.NewRecorder()

	state.routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "invalid_image", resp.Code)
}

func TestDetectRetriesExecutionFailures(t *testing.T) {
	execErr := &detections.Error{Kind: detections.KindInferenceExecution, Op: "run inference", Err: errors.New("busy")}
	engine := &stubEngine{errs: []error{execErr, execErr}}
	state := testState(t, engine)
	req := httptest.NewRequest(http.MethodPost, "/detect", bytes.NewReader(pngBytes(t, 32, 32)))
	rec := httptest.NewRecorder()

	state.routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 3, engine.calls)
	assert.Equal(t, 1, state.Pool.GetMetrics().Idle)
}

func TestDetectDoesNotRetryOtherFailures(t *testing.T) {
	extractErr := &detections.Error{Kind: detections.KindOutputExtraction, Op: "extract output", Err: errors.New("bad shape")}
	engine := &stubEngine{errs: []error{extractErr}}
	state := testState(t, engine)
	req := httptest.NewRequest(http.MethodPost, "/detect", bytes.NewReader(pngBytes(t, 32, 32)))
	rec := httptest.NewRecorder()

	state.routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, 1, engine.calls)
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "output_extraction", resp.Code)
}

func TestDetectDiscardsAfterRetries(t *testing.T) {
	execErr := &detections.Error{Kind: detections.KindInferenceExecution, Op: "run inference", Err: errors.New("busy")}
	engine := &stubEngine{errs: []error{execErr, execErr, execErr}}
	state := testState(t, engine)
	req := httptest.NewRequest(http.MethodPost, "/detect", bytes.NewReader(pngBytes(t, 32, 32)))
	rec := httptest.NewRecorder()

	state.routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, 3, engine.calls)
	metrics := state.Pool.GetMetrics()
	assert.Equal(t, 0, metrics.Idle)
	assert.Equal(t, 0, metrics.InUse)
}

func TestLabelsAndHealth(t *testing.T) {
	state := testState(t, &stubEngine{})

	rec := httptest.NewRecorder()
	state.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/labels", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var labels struct {
		Count  int      `json:"count"`
		Labels []string `json:"labels"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&labels))
	assert.Equal(t, 2, labels.Count)
	assert.Equal(t, []string{"person", "bicycle"}, labels.Labels)

	rec = httptest.NewRecorder()
	state.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	state.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	var metrics PoolSnapshot
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&metrics))
	assert.Equal(t, 1, metrics.Size)
}

func TestDetectionMessage(t *testing.T) {
	assert.Equal(t, "No objects detected", detectionMessage(0))
	assert.Equal(t, "Detected 1 object", detectionMessage(1))
	assert.Equal(t, "Detected 5 objects", detectionMessage(5))
}

package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/Tutortoise/object-detection-service/detections"
	"github.com/Tutortoise/object-detection-service/models"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

type AppState struct {
	Config      *Config
	ModelConfig *models.ModelConfig
	Pool        *ModelSessionPool
	Logger      *zap.Logger
}

// loadModelConfig builds the shared label table and thresholds. Labels come
// from labels_path, the model metadata or the COCO default, in that order.
func loadModelConfig(cfg *Config) (*models.ModelConfig, error) {
	modelConfig := models.DefaultModelConfig()
	modelConfig.ProbabilityThreshold = float32(cfg.ProbabilityThreshold)
	modelConfig.IouThreshold = float32(cfg.IouThreshold)

	switch {
	case cfg.LabelsPath != "":
		labels, err := models.LoadLabels(cfg.LabelsPath)
		if err != nil {
			return nil, err
		}
		modelConfig.Labels = labels
	case cfg.LabelsFromMetadata:
		labels, err := detections.LabelsFromModel(cfg.ModelPath)
		if err != nil {
			return nil, err
		}
		modelConfig.Labels = labels
	}
	return modelConfig, nil
}

func main() {
	configFile := flag.String("config", "", "path to a config file (yaml, json or toml)")
	flag.Parse()

	cfg, err := loadConfig(*configFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := newLogger(cfg.Debug)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	logHardware(logger)

	// Initialize ONNX Runtime
	if err := detections.InitializeRuntime(cfg.LibraryPath); err != nil {
		logger.Fatal("Failed to initialize ONNX environment", zap.Error(err))
	}
	defer detections.ShutdownRuntime()

	modelConfig, err := loadModelConfig(cfg)
	if err != nil {
		logger.Fatal("Failed to load labels", zap.Error(err))
	}

	opts := detections.SessionOptions{
		IntraOpThreads: cfg.IntraOpThreads,
		InterOpThreads: cfg.InterOpThreads,
		Classes:        len(modelConfig.Labels),
	}
	newSession := func() (detections.Engine, error) {
		return detections.NewModelSession(cfg.ModelPath, opts)
	}

	pool, err := NewModelSessionPool(newSession, PoolOptions{
		Size:              cfg.PoolSize,
		AcquireTimeout:    cfg.AcquireTimeout,
		HealthCheckPeriod: cfg.HealthCheckPeriod,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to create model session pool",
			zap.String("kind", detections.KindOf(err).String()), zap.Error(err))
	}
	defer func() {
		if err := pool.Destroy(); err != nil {
			logger.Warn("Failed to destroy session pool", zap.Error(err))
		}
	}()

	state := &AppState{
		Config:      cfg,
		ModelConfig: modelConfig,
		Pool:        pool,
		Logger:      logger,
	}

	srv := &http.Server{
		Handler:      state.routes(),
		Addr:         cfg.Addr,
		WriteTimeout: 60 * time.Second,
		ReadTimeout:  60 * time.Second,
	}

	logger.Info("Starting server",
		zap.String("addr", srv.Addr),
		zap.String("model", cfg.ModelPath),
		zap.Int("classes", len(modelConfig.Labels)),
		zap.Int("pool_size", cfg.PoolSize),
	)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Server failed", zap.Error(err))
	}
}

func (s *AppState) routes() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/detect", handleDetect(s)).Methods(http.MethodPost)
	r.HandleFunc("/labels", s.handleLabels).Methods(http.MethodGet)
	r.HandleFunc("/health", handleHealth).Methods(http.MethodGet)
	s.addMonitoringRoutes(r)

	return cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	}).Handler(r)
}

func (s *AppState) addMonitoringRoutes(r *mux.Router) {
	r.HandleFunc("/metrics", s.handleMetrics).Methods(http.MethodGet)
}

func detectionMessage(count int) string {
	switch count {
	case 0:
		return "No objects detected"
	case 1:
		return "Detected 1 object"
	default:
		return fmt.Sprintf("Detected %d objects", count)
	}
}

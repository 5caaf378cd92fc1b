package main

import (
	"runtime"
	"strings"
	"time"

	"github.com/Tutortoise/object-detection-service/detections"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Config is the service configuration. Values come from defaults, an
// optional config file and YOLO_* environment variables, in increasing
// priority.
type Config struct {
	Addr                 string        `mapstructure:"addr"`
	ModelPath            string        `mapstructure:"model_path"`
	LibraryPath          string        `mapstructure:"library_path"`
	LabelsPath           string        `mapstructure:"labels_path"`
	LabelsFromMetadata   bool          `mapstructure:"labels_from_metadata"`
	ProbabilityThreshold float64       `mapstructure:"probability_threshold"`
	IouThreshold         float64       `mapstructure:"iou_threshold"`
	PoolSize             int           `mapstructure:"pool_size"`
	AcquireTimeout       time.Duration `mapstructure:"acquire_timeout"`
	HealthCheckPeriod    time.Duration `mapstructure:"health_check_period"`
	RetryAttempts        int           `mapstructure:"retry_attempts"`
	RetryDelay           time.Duration `mapstructure:"retry_delay"`
	IntraOpThreads       int           `mapstructure:"intra_op_threads"`
	InterOpThreads       int           `mapstructure:"inter_op_threads"`
	MaxUploadBytes       int64         `mapstructure:"max_upload_bytes"`
	Debug                bool          `mapstructure:"debug"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("addr", "127.0.0.1:8080")
	v.SetDefault("model_path", "models/yolo11n.onnx")
	v.SetDefault("library_path", detections.DefaultLibraryPath())
	v.SetDefault("labels_path", "")
	v.SetDefault("labels_from_metadata", false)
	v.SetDefault("probability_threshold", 0.5)
	v.SetDefault("iou_threshold", 0.7)
	v.SetDefault("pool_size", DefaultPoolSize)
	v.SetDefault("acquire_timeout", 5*time.Second)
	v.SetDefault("health_check_period", 60*time.Second)
	v.SetDefault("retry_attempts", 3)
	v.SetDefault("retry_delay", 100*time.Millisecond)
	v.SetDefault("intra_op_threads", runtime.NumCPU())
	v.SetDefault("inter_op_threads", runtime.NumCPU())
	v.SetDefault("max_upload_bytes", 10<<20)
	v.SetDefault("debug", false)
}

// loadConfig reads configuration. configFile may be empty.
func loadConfig(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("YOLO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config %s", configFile)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.ModelPath == "" {
		return errors.New("model_path is required")
	}
	if c.ProbabilityThreshold < 0 || c.ProbabilityThreshold > 1 {
		return errors.Errorf("probability_threshold must be within [0, 1], got %v", c.ProbabilityThreshold)
	}
	if c.IouThreshold < 0 || c.IouThreshold > 1 {
		return errors.Errorf("iou_threshold must be within [0, 1], got %v", c.IouThreshold)
	}
	if c.PoolSize <= 0 {
		return errors.Errorf("pool_size must be positive, got %d", c.PoolSize)
	}
	if c.RetryAttempts < 1 {
		return errors.Errorf("retry_attempts must be at least 1, got %d", c.RetryAttempts)
	}
	// zero leaves the runtime's own thread count
	if c.IntraOpThreads < 0 || c.InterOpThreads < 0 {
		return errors.Errorf("thread counts must not be negative, got intra %d inter %d",
			c.IntraOpThreads, c.InterOpThreads)
	}
	if c.MaxUploadBytes <= 0 {
		return errors.Errorf("max_upload_bytes must be positive, got %d", c.MaxUploadBytes)
	}
	return nil
}

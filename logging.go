package main

import (
	"runtime"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sys/cpu"

	"github.com/Tutortoise/object-detection-service/models"
)

func newLogger(debug bool) (*zap.Logger, error) {
	level := zap.InfoLevel
	if debug {
		level = zap.DebugLevel
	}
	cfg := zap.Config{
		Level:    zap.NewAtomicLevelAt(level),
		Encoding: "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "ts",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			FunctionKey:    zapcore.OmitKey,
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		DisableStacktrace: true,
		OutputPaths:       []string{"stdout"},
		ErrorOutputPaths:  []string{"stderr"},
	}
	return cfg.Build()
}

func logTimings(logger *zap.Logger, t *models.ProcessingTimings) {
	logger.Debug("processing times",
		zap.String("request_id", t.RequestID),
		zap.Duration("image_decode", t.ImageDecode),
		zap.Duration("encode", t.Encode),
		zap.Duration("inference", t.Inference),
		zap.Duration("decode_output", t.DecodeOutput),
		zap.Duration("suppression", t.Suppression),
		zap.Duration("total", t.Total),
	)
}

// logHardware records what the inference threads will run on.
func logHardware(logger *zap.Logger) {
	fields := []zap.Field{
		zap.String("arch", runtime.GOARCH),
		zap.Int("cpus", runtime.NumCPU()),
	}
	switch runtime.GOARCH {
	case "amd64", "386":
		fields = append(fields,
			zap.Bool("avx512", cpu.X86.HasAVX512F),
			zap.Bool("avx2", cpu.X86.HasAVX2),
			zap.Bool("sse41", cpu.X86.HasSSE41),
		)
	case "arm64":
		fields = append(fields,
			zap.Bool("asimd", cpu.ARM64.HasASIMD),
			zap.Bool("fphp", cpu.ARM64.HasFPHP),
		)
	}
	logger.Info("cpu features", fields...)
}

// Package logging configures the process-wide zap logger used by both the
// API and worker roles.
package logging

import (
	"os"
	"path/filepath"
	"time"

	"github.com/natefinch/lumberjack"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config controls where and how logs are written.
type Config struct {
	Level      string `env:"LOG_LEVEL"`
	Filename   string `env:"LOG_FILE"`
	MaxSizeMB  int    `env:"LOG_MAX_SIZE_MB"`
	MaxAgeDays int    `env:"LOG_MAX_AGE_DAYS"`
	MaxBackups int    `env:"LOG_MAX_BACKUPS"`
	Daily      bool   `env:"LOG_DAILY"`
	Profile    string `env:"PROFILE"`
}

var Lg *zap.Logger

// Bootstrap returns a minimal stderr logger usable before configuration has
// been loaded. New replaces it once settings (in particular the log file
// path) are known.
func Bootstrap() *zap.Logger {
	encoderConfig := zap.NewDevelopmentEncoderConfig()
	encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig), zapcore.Lock(os.Stderr), zapcore.DebugLevel)
	Lg = zap.New(core, zap.AddCaller())
	return Lg
}

// New builds the final logger. Without a Filename it logs to the console
// on stdout in every profile; with one it writes JSON to a size-rotated
// file, teed to a colorized console in development.
func New(cfg Config) (*zap.Logger, error) {
	level := new(zapcore.Level)
	if err := level.UnmarshalText([]byte(orDefault(cfg.Level, "info"))); err != nil {
		return nil, err
	}

	var core zapcore.Core
	if cfg.Filename == "" {
		core = zapcore.NewCore(consoleEncoder(), zapcore.Lock(os.Stdout), level)
	} else {
		fileCore := zapcore.NewCore(jsonEncoder(), fileWriter(cfg), level)
		if cfg.Profile == "development" || cfg.Profile == "dev" {
			highPriority := zap.LevelEnablerFunc(func(l zapcore.Level) bool { return l >= zapcore.ErrorLevel })
			lowPriority := zap.LevelEnablerFunc(func(l zapcore.Level) bool { return l < zapcore.ErrorLevel && l >= *level })
			core = zapcore.NewTee(
				fileCore,
				zapcore.NewCore(consoleEncoder(), zapcore.Lock(os.Stdout), lowPriority),
				zapcore.NewCore(consoleEncoder(), zapcore.Lock(os.Stderr), highPriority),
			)
		} else {
			core = fileCore
		}
	}

	Lg = zap.New(core, zap.AddCaller())
	zap.ReplaceGlobals(Lg)
	return Lg, nil
}

func jsonEncoder() zapcore.Encoder {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.TimeKey = "time"
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	encoderConfig.EncodeDuration = zapcore.SecondsDurationEncoder
	encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
	return zapcore.NewJSONEncoder(encoderConfig)
}

func consoleEncoder() zapcore.Encoder {
	encoderConfig := zap.NewDevelopmentEncoderConfig()
	encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.TimeKey = "time"
	encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
	return zapcore.NewConsoleEncoder(encoderConfig)
}

func fileWriter(cfg Config) zapcore.WriteSyncer {
	filename := cfg.Filename
	if cfg.Daily {
		ext := filepath.Ext(filename)
		base := filename[:len(filename)-len(ext)]
		filename = base + "-" + time.Now().Format("2006-01-02") + ext
	}
	logger := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    orDefaultInt(cfg.MaxSizeMB, 100),
		MaxBackups: orDefaultInt(cfg.MaxBackups, 7),
		MaxAge:     orDefaultInt(cfg.MaxAgeDays, 14),
		LocalTime:  true,
	}
	return zapcore.AddSync(logger)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func orDefaultInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func Info(msg string, fields ...zap.Field)  { Lg.Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field)  { Lg.Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { Lg.Error(msg, fields...) }
func Debug(msg string, fields ...zap.Field) { Lg.Debug(msg, fields...) }
func Fatal(msg string, fields ...zap.Field) { Lg.Fatal(msg, fields...) }
func Sync()                                 { _ = Lg.Sync() }

// Package logger owns the process-wide zap logger. Components take a
// *zap.SugaredLogger, usually Named(component), from here.
package logger

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	Logger *zap.SugaredLogger

	// JSONOutput is true once Initialize selected the production encoder
	JSONOutput bool
)

func init() {
	Logger = zap.NewNop().Sugar()
}

// Initialize sets up the global logger at Info
func Initialize(jsonOutput bool) error {
	return InitializeWithLevel(jsonOutput, zapcore.InfoLevel)
}

// InitializeWithLevel rebuilds the global logger. Console output goes to
// stderr so command output on stdout stays pipeable.
func InitializeWithLevel(jsonOutput bool, level zapcore.Level) error {
	JSONOutput = jsonOutput

	if theme := os.Getenv("VIDSCOPE_LOG_THEME"); theme != "" {
		SetTheme(theme)
	}

	if jsonOutput {
		config := zap.NewProductionConfig()
		config.Level = zap.NewAtomicLevelAt(level)
		config.InitialFields = map[string]interface{}{"service": "vidscope"}
		zapLogger, err := config.Build()
		if err != nil {
			return err
		}
		Logger = zapLogger.Sugar()
		return nil
	}

	core := zapcore.NewCore(newMinimalEncoder(), zapcore.Lock(os.Stderr), level)
	Logger = zap.New(core).Sugar()
	return nil
}

// Named returns a child of the global logger for one component
func Named(component string) *zap.SugaredLogger {
	return Logger.Named(component)
}

// IsProductionEnvironment reports whether ENVIRONMENT or LOG_LEVEL ask for
// machine-readable logs.
func IsProductionEnvironment() bool {
	switch strings.ToLower(os.Getenv("ENVIRONMENT")) {
	case "production", "prod":
		return true
	}
	switch strings.ToUpper(os.Getenv("LOG_LEVEL")) {
	case "WARN", "ERROR":
		return true
	}
	return false
}

// Cleanup flushes buffered entries
func Cleanup() {
	_ = Logger.Sync()
}

func Infow(msg string, keysAndValues ...interface{}) {
	Logger.Infow(msg, keysAndValues...)
}

func Warnw(msg string, keysAndValues ...interface{}) {
	Logger.Warnw(msg, keysAndValues...)
}

func Errorw(msg string, keysAndValues ...interface{}) {
	Logger.Errorw(msg, keysAndValues...)
}

func Debugw(msg string, keysAndValues ...interface{}) {
	Logger.Debugw(msg, keysAndValues...)
}

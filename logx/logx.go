// Package logx implements the structured logger facade: leveled records
// carrying sanitized context and a correlation id, wrapping *zap.Logger
// with a six-level set {DEBUG, INFO, WARN, ERROR, FATAL, AUDIT}.
package logx

import (
	"runtime"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/bijikyu/qerrors-go/sanitize"
)

// Level is one of six record levels.
type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
	Fatal
	Audit
)

// Config configures a Logger.
type Config struct {
	Service     string
	Environment string
	Verbose     bool // VERBOSE: emit DEBUG records
	Encoding    string // "json" (default) or "console"
}

// Logger wraps *zap.Logger to produce the record shape
// { timestamp, level, message, context, requestId, service, environment,
// memoryUsage }.
type Logger struct {
	zap         *zap.Logger
	service     string
	environment string
	verbose     bool
}

// New builds a Logger, selecting an encoder config (JSON/production vs.
// console/development) from cfg.Encoding.
func New(cfg Config) *Logger {
	var encoderCfg zapcore.EncoderConfig
	encoding := cfg.Encoding
	if encoding == "console" {
		encoderCfg = zap.NewDevelopmentEncoderConfig()
	} else {
		encoding = "json"
		encoderCfg = zap.NewProductionEncoderConfig()
		encoderCfg.TimeKey = "timestamp"
		encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	level := zapcore.InfoLevel
	if cfg.Verbose {
		level = zapcore.DebugLevel
	}

	zapCfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      encoding == "console",
		Encoding:         encoding,
		EncoderConfig:    encoderCfg,
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	zl, err := zapCfg.Build(zap.AddCaller())
	if err != nil {
		zl, _ = zap.NewProduction()
	}

	return &Logger{zap: zl, service: cfg.Service, environment: cfg.Environment, verbose: cfg.Verbose}
}

// Nop returns a Logger that discards all records, for tests and
// embedders that do not wish to configure logging.
func Nop() *Logger {
	return &Logger{zap: zap.NewNop()}
}

// Emit publishes a record at level with sanitized context and an
// optional correlation id. Emission never surfaces an error to the
// caller: zap's own write failures are swallowed by its configured
// ErrorOutputPaths, not by this method.
func (l *Logger) Emit(level Level, message string, context map[string]any, requestID string) {
	if level == Debug && !l.verbose {
		return
	}

	fields := []zap.Field{
		zap.String("service", l.service),
		zap.String("environment", l.environment),
		zap.Uint64("memoryUsage", memoryUsage()),
	}
	if requestID != "" {
		fields = append(fields, zap.String("requestId", requestID))
	}
	if len(context) > 0 {
		fields = append(fields, zap.Any("context", sanitize.Context(context)))
	}

	switch level {
	case Debug:
		l.zap.Debug(message, fields...)
	case Info:
		l.zap.Info(message, fields...)
	case Warn:
		l.zap.Warn(message, fields...)
	case Error:
		l.zap.Error(message, fields...)
	case Fatal:
		l.zap.Error(message, append(fields, zap.Bool("fatal", true))...)
	case Audit:
		l.zap.Info(message, append(fields, zap.Bool("audit", true))...)
	}
}

// Debug, Info, Warn, and Error are convenience wrappers around Emit for
// the common case of a message with no context or correlation id
// attached yet.
func (l *Logger) Debug(message string) { l.Emit(Debug, message, nil, "") }
func (l *Logger) Info(message string)  { l.Emit(Info, message, nil, "") }
func (l *Logger) Warn(message string)  { l.Emit(Warn, message, nil, "") }
func (l *Logger) Error(message string) { l.Emit(Error, message, nil, "") }

// Sync flushes any buffered log entries. Errors from Sync are
// intentionally discarded; stdout/stderr commonly reject the sync
// syscall, which is not actionable here.
func (l *Logger) Sync() {
	_ = l.zap.Sync()
}

func memoryUsage() uint64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return m.Alloc
}

package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LoggerFactory owns the root logger and hands out named module loggers.
// All loggers share one atomic level so the level can change at runtime.
type LoggerFactory struct {
	config     LogConfig
	level      zap.AtomicLevel
	rootLogger *zap.Logger
	loggers    map[string]*zap.Logger
	loggersMu  sync.RWMutex
}

// LogConfig contains logging configuration
type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`
	// OutputPath is stdout, stderr or a file path. Files are rotated.
	OutputPath string `yaml:"output_path"`
	// Encoding is json or console.
	Encoding    string `yaml:"encoding"`
	Development bool   `yaml:"development"`

	MaxSizeMB  int  `yaml:"max_size_mb"`
	MaxBackups int  `yaml:"max_backups"`
	MaxAgeDays int  `yaml:"max_age_days"`
	Compress   bool `yaml:"compress"`

	DisableCaller     bool `yaml:"disable_caller"`
	DisableStacktrace bool `yaml:"disable_stacktrace"`
	Sampling          bool `yaml:"sampling"`
	IncludeHost       bool `yaml:"include_host"`
}

// DefaultLogConfig returns default logging configuration
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:      "info",
		OutputPath: "stdout",
		Encoding:   "console",
		MaxSizeMB:  100,
		MaxBackups: 7,
		MaxAgeDays: 30,
		Compress:   true,
		Sampling:   true,
	}
}

// NewLoggerFactory builds the root logger from config.
func NewLoggerFactory(config LogConfig) (*LoggerFactory, error) {
	level, err := zapcore.ParseLevel(config.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	atomic := zap.NewAtomicLevelAt(level)

	writer, err := buildWriter(config)
	if err != nil {
		return nil, err
	}

	var encoder zapcore.Encoder
	if config.Encoding == "json" {
		encoder = zapcore.NewJSONEncoder(buildEncoderConfig(config))
	} else {
		encoder = zapcore.NewConsoleEncoder(buildEncoderConfig(config))
	}

	core := zapcore.NewCore(encoder, writer, atomic)
	if config.Sampling {
		core = zapcore.NewSamplerWithOptions(core, time.Second, 100, 10)
	}

	return &LoggerFactory{
		config:     config,
		level:      atomic,
		rootLogger: zap.New(core, buildOptions(config)...),
		loggers:    make(map[string]*zap.Logger),
	}, nil
}

// Logger returns the root logger.
func (f *LoggerFactory) Logger() *zap.Logger {
	return f.rootLogger
}

// GetLogger returns a logger for the specified module
func (f *LoggerFactory) GetLogger(module string) *zap.Logger {
	f.loggersMu.RLock()
	if logger, exists := f.loggers[module]; exists {
		f.loggersMu.RUnlock()
		return logger
	}
	f.loggersMu.RUnlock()

	f.loggersMu.Lock()
	defer f.loggersMu.Unlock()

	if logger, exists := f.loggers[module]; exists {
		return logger
	}
	logger := f.rootLogger.Named(module)
	f.loggers[module] = logger
	return logger
}

// SetLevel changes the level of every logger created by the factory.
func (f *LoggerFactory) SetLevel(level string) error {
	l, err := zapcore.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	if f.level.Level() != l {
		f.level.SetLevel(l)
		f.rootLogger.Info("Log level changed", zap.String("level", l.String()))
	}
	return nil
}

// Level returns the current level.
func (f *LoggerFactory) Level() zapcore.Level {
	return f.level.Level()
}

// Sync flushes buffered entries.
func (f *LoggerFactory) Sync() error {
	return f.rootLogger.Sync()
}

func buildWriter(config LogConfig) (zapcore.WriteSyncer, error) {
	switch config.OutputPath {
	case "", "stdout":
		return zapcore.Lock(os.Stdout), nil
	case "stderr":
		return zapcore.Lock(os.Stderr), nil
	}

	if err := os.MkdirAll(filepath.Dir(config.OutputPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	fileWriter := &lumberjack.Logger{
		Filename:   config.OutputPath,
		MaxSize:    config.MaxSizeMB,
		MaxBackups: config.MaxBackups,
		MaxAge:     config.MaxAgeDays,
		Compress:   config.Compress,
	}
	writers := []zapcore.WriteSyncer{zapcore.AddSync(fileWriter)}
	if config.Development {
		writers = append(writers, zapcore.Lock(os.Stdout))
	}
	return zapcore.NewMultiWriteSyncer(writers...), nil
}

func buildEncoderConfig(config LogConfig) zapcore.EncoderConfig {
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	if config.Development {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	if config.DisableCaller {
		encoderConfig.CallerKey = zapcore.OmitKey
	}
	if config.DisableStacktrace {
		encoderConfig.StacktraceKey = zapcore.OmitKey
	}

	return encoderConfig
}

func buildOptions(config LogConfig) []zap.Option {
	options := []zap.Option{}

	if !config.DisableCaller {
		options = append(options, zap.AddCaller())
	}
	if !config.DisableStacktrace {
		options = append(options, zap.AddStacktrace(zapcore.ErrorLevel))
	}
	if config.Development {
		options = append(options, zap.Development())
	}
	if config.IncludeHost {
		if hostname, err := os.Hostname(); err == nil {
			options = append(options, zap.Fields(zap.String("host", hostname)))
		}
	}

	return options
}

// WithRequestID tags every entry of the returned logger with requestID.
func WithRequestID(logger *zap.Logger, requestID string) *zap.Logger {
	return logger.With(zap.String("request_id", requestID))
}

// LogIf logs err at error level when it is not nil.
func LogIf(logger *zap.Logger, err error, msg string, fields ...zap.Field) {
	if err != nil {
		logger.Error(msg, append(fields, zap.Error(err))...)
	}
}

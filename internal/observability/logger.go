// Package observability owns process-wide structured logging.
package observability

import (
	"fmt"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Log formats.
const (
	FormatAuto    = "auto"
	FormatConsole = "console"
	FormatJSON    = "json"
)

// CLILogger is the logger used by commands. It is a no-op logger until
// InitCLILogger runs.
var CLILogger = zap.NewNop()

// Options configures a logger.
type Options struct {
	// Service is attached to every entry as the "service" field when set.
	Service string

	// Level is a zap level name (debug, info, warn, error). Empty means info.
	Level string

	// Format is auto, console or json. Auto picks console for terminals
	// and json otherwise (CloudWatch, pipes).
	Format string

	// File, when set, also writes JSON entries to a size-rotated file.
	File string

	// Output overrides the primary sink. Defaults to stderr.
	Output zapcore.WriteSyncer
}

// NewLogger builds a zap logger from opts.
func NewLogger(opts Options) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if opts.Level != "" {
		parsed, err := zapcore.ParseLevel(strings.ToLower(opts.Level))
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
		level = parsed
	}

	out := opts.Output
	if out == nil {
		out = zapcore.Lock(os.Stderr)
	}

	format, err := resolveFormat(opts.Format, opts.Output == nil)
	if err != nil {
		return nil, err
	}

	var encoder zapcore.Encoder
	if format == FormatConsole {
		encoder = zapcore.NewConsoleEncoder(consoleEncoderConfig())
	} else {
		encoder = zapcore.NewJSONEncoder(jsonEncoderConfig())
	}

	core := zapcore.NewCore(encoder, out, level)
	if opts.File != "" {
		rotated := zapcore.AddSync(&lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
			Compress:   true,
		})
		core = zapcore.NewTee(core, zapcore.NewCore(zapcore.NewJSONEncoder(jsonEncoderConfig()), rotated, level))
	}

	logger := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	if opts.Service != "" {
		logger = logger.With(zap.String("service", opts.Service))
	}
	return logger, nil
}

// InitCLILogger replaces CLILogger.
func InitCLILogger(opts Options) error {
	logger, err := NewLogger(opts)
	if err != nil {
		return err
	}
	CLILogger = logger
	return nil
}

func resolveFormat(format string, stderr bool) (string, error) {
	switch strings.ToLower(format) {
	case "", FormatAuto:
		if stderr && (isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())) {
			return FormatConsole, nil
		}
		return FormatJSON, nil
	case FormatConsole:
		return FormatConsole, nil
	case FormatJSON:
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("invalid log format %q (want auto, console or json)", format)
	}
}

func jsonEncoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "timestamp"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg
}

func consoleEncoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewDevelopmentEncoderConfig()
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
	return cfg
}

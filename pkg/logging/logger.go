package logging

import (
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ANSI color codes
const (
	Reset = "\033[0m"
	Bold  = "\033[1m"
	Dim   = "\033[2m"

	// Standard colors
	Red     = "\033[31m"
	Green   = "\033[32m"
	Yellow  = "\033[33m"
	Blue    = "\033[34m"
	Magenta = "\033[35m"
	Cyan    = "\033[36m"
	White   = "\033[37m"
	Gray    = "\033[90m"

	// Bright colors
	BrightRed     = "\033[91m"
	BrightGreen   = "\033[92m"
	BrightYellow  = "\033[93m"
	BrightBlue    = "\033[94m"
	BrightMagenta = "\033[95m"
	BrightCyan    = "\033[96m"
	BrightWhite   = "\033[97m"
)

// ColoredLogger wraps zap.Logger with colored output
type ColoredLogger struct {
	*zap.Logger
	enableColors bool
	file         *os.File // owned log file, if any
}

// Component represents different parts of the system for color coding
type Component string

const (
	ComponentRegistry Component = "REGISTRY"
	ComponentFeed     Component = "FEED"
	ComponentSource   Component = "SOURCE"
	ComponentCache    Component = "CACHE"
	ComponentGateway  Component = "GATEWAY"
	ComponentGeneral  Component = "GENERAL"
)

// getComponentColor returns the color for a specific component
func getComponentColor(component Component) string {
	switch component {
	case ComponentRegistry:
		return BrightMagenta
	case ComponentFeed:
		return BrightBlue
	case ComponentSource:
		return BrightCyan
	case ComponentCache:
		return BrightYellow
	case ComponentGateway:
		return BrightGreen
	case ComponentGeneral:
		return Yellow
	default:
		return White
	}
}

// getLevelColor returns the color for a log level
func getLevelColor(level zapcore.Level) string {
	switch level {
	case zapcore.DebugLevel:
		return Gray
	case zapcore.InfoLevel:
		return BrightWhite
	case zapcore.WarnLevel:
		return BrightYellow
	case zapcore.ErrorLevel:
		return BrightRed
	case zapcore.DPanicLevel, zapcore.PanicLevel, zapcore.FatalLevel:
		return Red
	default:
		return White
	}
}

// coloredConsoleEncoder creates a custom encoder with colors
func coloredConsoleEncoder(enableColors bool) zapcore.Encoder {
	config := zap.NewDevelopmentEncoderConfig()

	// Ultra-short timestamp: HH:MM:SS (no milliseconds, no date, no timezone)
	config.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		timeStr := t.Format("15:04:05")
		if enableColors {
			enc.AppendString(fmt.Sprintf("%s%s%s", Dim, timeStr, Reset))
		} else {
			enc.AppendString(timeStr)
		}
	}

	// Single letter level: D, I, W, E
	config.EncodeLevel = func(level zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
		levelMap := map[zapcore.Level]string{
			zapcore.DebugLevel: "D",
			zapcore.InfoLevel:  "I",
			zapcore.WarnLevel:  "W",
			zapcore.ErrorLevel: "E",
		}
		levelStr := levelMap[level]
		if levelStr == "" {
			levelStr = "?"
		}
		if enableColors {
			color := getLevelColor(level)
			enc.AppendString(fmt.Sprintf("%s%s%s%s", color, Bold, levelStr, Reset))
		} else {
			enc.AppendString(levelStr)
		}
	}

	// Just filename, no line number for cleaner output
	config.EncodeCaller = func(caller zapcore.EntryCaller, enc zapcore.PrimitiveArrayEncoder) {
		file := caller.File
		// Extract just the filename from the path
		if idx := strings.LastIndex(file, "/"); idx >= 0 {
			file = file[idx+1:]
		}
		// Remove .go extension for even more compact format
		if strings.HasSuffix(file, ".go") {
			file = file[:len(file)-3]
		}
		if enableColors {
			enc.AppendString(fmt.Sprintf("%s%s%s", Dim, file, Reset))
		} else {
			enc.AppendString(file)
		}
	}

	return zapcore.NewConsoleEncoder(config)
}

// Options controls how New builds a logger.
type Options struct {
	Level      string // debug, info, warn, error
	Format     string // console, json
	OutputFile string // empty for stdout
	Colors     bool   // console format only
}

// parseLevel maps a level name to a zap level, defaulting to info.
func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// New creates a logger from Options.
func New(component Component, opts Options) (*ColoredLogger, error) {
	sink := zapcore.AddSync(os.Stdout)
	colors := opts.Colors
	var file *os.File
	if opts.OutputFile != "" {
		f, err := os.OpenFile(opts.OutputFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", opts.OutputFile, err)
		}
		file = f
		sink = zapcore.AddSync(file)
		colors = false
	}

	var encoder zapcore.Encoder
	if opts.Format == "json" {
		encoder = zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
		colors = false
	} else {
		encoder = coloredConsoleEncoder(colors)
	}

	core := zapcore.NewCore(encoder, sink, parseLevel(opts.Level))
	logger := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)).
		With(zap.String("component", string(component)))

	return &ColoredLogger{
		Logger:       logger,
		enableColors: colors,
		file:         file,
	}, nil
}

// Close flushes buffered entries and closes the log file opened for
// Options.OutputFile. Children created with With do not own the file, so only
// the logger returned by New closes it.
func (l *ColoredLogger) Close() error {
	_ = l.Logger.Sync()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// NewNop returns a logger that discards everything. Used by tests and by
// components constructed without a logger.
func NewNop() *ColoredLogger {
	return &ColoredLogger{Logger: zap.NewNop()}
}

// tag prefixes msg with the component name.
func (l *ColoredLogger) tag(component Component, msg string) string {
	if l.enableColors {
		return fmt.Sprintf("%s[%s]%s %s", getComponentColor(component), component, Reset, msg)
	}
	return fmt.Sprintf("[%s] %s", component, msg)
}

// Component-specific logging methods
func (l *ColoredLogger) ComponentInfo(component Component, msg string, fields ...zap.Field) {
	l.Info(l.tag(component, msg), fields...)
}

func (l *ColoredLogger) ComponentWarn(component Component, msg string, fields ...zap.Field) {
	l.Warn(l.tag(component, msg), fields...)
}

func (l *ColoredLogger) ComponentError(component Component, msg string, fields ...zap.Field) {
	l.Error(l.tag(component, msg), fields...)
}

func (l *ColoredLogger) ComponentDebug(component Component, msg string, fields ...zap.Field) {
	l.Debug(l.tag(component, msg), fields...)
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l *ColoredLogger) *ColoredLogger {
	if l == nil {
		return NewNop()
	}
	return l
}

// With returns a child logger carrying fields on every entry.
func (l *ColoredLogger) With(fields ...zap.Field) *ColoredLogger {
	return &ColoredLogger{Logger: l.Logger.With(fields...), enableColors: l.enableColors}
}

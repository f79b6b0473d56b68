package logging

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
)

var (
	logger *slog.Logger

	programLevel = new(slog.LevelVar) // Info by default

	loggingDebug = flag.Bool("logging.debug", false, "Enable debug logging")
)

func init() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: programLevel}))
}

// Logger is the leveled, printf-style logger handed to every component.
type Logger interface {
	Debug(a ...any)
	Debugf(format string, v ...any)
	Info(a ...any)
	Infof(format string, v ...any)
	Warn(a ...any)
	Warnf(format string, v ...any)
	Error(a ...any)
	Errorf(format string, v ...any)

	With(args ...any) Logger
}

type slogLogger struct {
	l *slog.Logger
}

// NewDefaultLogger returns a Logger writing to stderr at the program level.
// The -logging.debug flag is honoured once flags have been parsed.
func NewDefaultLogger() Logger {
	if *loggingDebug {
		programLevel.Set(slog.LevelDebug)
	}
	return &slogLogger{l: logger}
}

// NewLogger returns a Logger writing text records to w at the given level.
func NewLogger(w io.Writer, level slog.Level) Logger {
	return &slogLogger{l: slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))}
}

// Discard returns a Logger that drops everything. Used by tests.
func Discard() Logger {
	return &slogLogger{l: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

func (s *slogLogger) Debug(a ...any)                 { s.l.Debug(fmt.Sprint(a...)) }
func (s *slogLogger) Debugf(format string, v ...any) { s.l.Debug(fmt.Sprintf(format, v...)) }
func (s *slogLogger) Info(a ...any)                  { s.l.Info(fmt.Sprint(a...)) }
func (s *slogLogger) Infof(format string, v ...any)  { s.l.Info(fmt.Sprintf(format, v...)) }
func (s *slogLogger) Warn(a ...any)                  { s.l.Warn(fmt.Sprint(a...)) }
func (s *slogLogger) Warnf(format string, v ...any)  { s.l.Warn(fmt.Sprintf(format, v...)) }
func (s *slogLogger) Error(a ...any)                 { s.l.Error(fmt.Sprint(a...)) }
func (s *slogLogger) Errorf(format string, v ...any) { s.l.Error(fmt.Sprintf(format, v...)) }

func (s *slogLogger) With(args ...any) Logger {
	return &slogLogger{l: s.l.With(args...)}
}

func SetLevel(level slog.Level) {
	programLevel.Set(level)
}

func Info(a ...any) {
	logger.Info(fmt.Sprint(a...))
}

func Infof(format string, v ...interface{}) {
	logger.Info(fmt.Sprintf(format, v...))
}

func Warnf(format string, v ...interface{}) {
	logger.Warn(fmt.Sprintf(format, v...))
}

func Error(a ...any) {
	logger.Error(fmt.Sprint(a...))
}

func Errorf(format string, v ...interface{}) {
	logger.Error(fmt.Sprintf(format, v...))
}

func Debug(a ...any) {
	logger.Debug(fmt.Sprint(a...))
}

func Debugf(format string, v ...interface{}) {
	logger.Debug(fmt.Sprintf(format, v...))
}

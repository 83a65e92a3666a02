package utils

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

type Logger struct {
	zl zerolog.Logger
}

// NewLogger builds a logger writing to stderr. Human readable output is used
// when stderr is a terminal, JSON lines otherwise.
func NewLogger(debug bool) *Logger {
	var w io.Writer = os.Stderr
	if isatty.IsTerminal(os.Stderr.Fd()) {
		w = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.DateTime}
	}
	return NewLoggerWithWriter(w, debug)
}

func NewLoggerWithWriter(w io.Writer, debug bool) *Logger {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	return &Logger{zl: zerolog.New(w).Level(level).With().Timestamp().Logger()}
}

// Discard returns a logger that drops everything. Handy in tests.
func Discard() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

// With returns a child logger tagging every line with the given component.
func (l *Logger) With(component string) *Logger {
	return &Logger{zl: l.zl.With().Str("component", component).Logger()}
}

func (l *Logger) Debug(v ...interface{}) {
	l.zl.Debug().Msg(join(v))
}

func (l *Logger) Info(v ...interface{}) {
	l.zl.Info().Msg(join(v))
}

func (l *Logger) Warn(v ...interface{}) {
	l.zl.Warn().Msg(join(v))
}

func (l *Logger) Error(v ...interface{}) {
	l.zl.Error().Msg(join(v))
}

func (l *Logger) Fatal(v ...interface{}) {
	l.zl.Fatal().Msg(join(v))
}

// join mimics log.Println spacing without the trailing newline.
func join(v []interface{}) string {
	return strings.TrimSuffix(fmt.Sprintln(v...), "\n")
}

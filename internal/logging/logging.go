// Package logging holds the host log entry model and the process-wide
// zap sink that entries are replayed into.
package logging

import (
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/agent462/netmaint/internal/pathutil"
)

// Config controls where the run log goes.
type Config struct {
	// Dir receives the log file. Created if missing.
	Dir string

	// Name is the source maintenance file name; the log file is
	// "<yymmdd_HHMMSS>_<Name>.log".
	Name string

	// Level is the minimum severity written to the file.
	Level Severity

	// Console, when set, also receives entries at warning and above.
	Console io.Writer

	// Now stamps the file name. Zero means time.Now().
	Now time.Time
}

// Sink is an open run log.
type Sink struct {
	Logger *zap.Logger
	Path   string
	file   *os.File
}

// Open creates the log directory and file and builds a logger writing
// console-encoded lines to it.
func Open(cfg Config) (*Sink, error) {
	now := cfg.Now
	if now.IsZero() {
		now = time.Now()
	}
	dir := pathutil.ExpandHome(cfg.Dir)
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	path := pathutil.Stamped(dir, pathutil.BaseName(cfg.Name), ".log", now)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(fileEncoderConfig()), zapcore.AddSync(f), cfg.Level.Level()),
	}
	if cfg.Console != nil {
		consoleLevel := cfg.Level.Level()
		if consoleLevel < zapcore.WarnLevel {
			consoleLevel = zapcore.WarnLevel
		}
		enc := zapcore.EncoderConfig{
			MessageKey:     "msg",
			LevelKey:       "level",
			EncodeLevel:    zapcore.CapitalLevelEncoder,
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeDuration: zapcore.StringDurationEncoder,
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(enc), zapcore.AddSync(cfg.Console), consoleLevel))
	}

	logger := zap.New(zapcore.NewTee(cores...), zap.AddCaller())
	logger.Debug("log file opened", zap.String("path", path))
	return &Sink{Logger: logger, Path: path, file: f}, nil
}

// Close flushes and closes the log file.
func (s *Sink) Close() error {
	_ = s.Logger.Sync()
	return s.file.Close()
}

func fileEncoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05.000"),
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
}

// Nop returns a logger that discards everything.
func Nop() *zap.Logger {
	return zap.NewNop()
}

// Emit replays host entries into logger at their mapped levels.
// Critical entries carry severity=critical so they stay distinguishable
// from plain errors.
func Emit(logger *zap.Logger, entries []Entry, fields ...zap.Field) {
	if logger == nil {
		return
	}
	for _, e := range entries {
		ce := logger.Check(e.Severity.Level(), e.Message)
		if ce == nil {
			continue
		}
		if e.Severity == Critical {
			ce.Write(append(fields, zap.String("severity", Critical.String()))...)
			continue
		}
		ce.Write(fields...)
	}
}

package logging

import (
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

func newEncoder(config Config) zapcore.Encoder {
	encCfg := zapcore.EncoderConfig{
		MessageKey:    "message",
		LevelKey:      "level",
		TimeKey:       "time",
		NameKey:       "logger",
		CallerKey:     "caller",
		StacktraceKey: "stacktrace",
		LineEnding:    zapcore.DefaultLineEnding,
		EncodeLevel:   config.ZapEncodeLevel(),
		EncodeTime: func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
			enc.AppendString(config.Prefix + t.Format(config.TimeFormat))
		},
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
		EncodeName:     zapcore.FullNameEncoder,
	}
	if config.Format == "json" {
		return zapcore.NewJSONEncoder(encCfg)
	}
	return zapcore.NewConsoleEncoder(encCfg)
}

// newCores builds a terminal core and, when Dir is set, one file core per level.
func newCores(config Config, stdout io.Writer) []zapcore.Core {
	minLevel := config.ZapLevel()
	enc := newEncoder(config)

	var cores []zapcore.Core
	if !config.Quiet {
		cores = append(cores, zapcore.NewCore(enc, zapcore.AddSync(stdout), minLevel))
	}
	if config.Dir != "" {
		for level := minLevel; level <= zapcore.FatalLevel; level++ {
			exact := level
			w := newLevelWriter(config, exact.String())
			registerWriter(w)
			cores = append(cores, zapcore.NewCore(enc.Clone(), zapcore.AddSync(w),
				zap.LevelEnablerFunc(func(l zapcore.Level) bool { return l == exact })))
		}
	}
	if len(cores) == 0 {
		cores = append(cores, zapcore.NewNopCore())
	}
	return cores
}

// levelWriter writes <Dir>/<date>/<level>.log, switching files at midnight.
type levelWriter struct {
	config Config
	level  string

	mu      sync.Mutex
	date    string
	current *lumberjack.Logger
}

func newLevelWriter(config Config, level string) *levelWriter {
	return &levelWriter{config: config, level: level}
}

func (w *levelWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if date := time.Now().Format("2006-01-02"); date != w.date || w.current == nil {
		if w.current != nil {
			_ = w.current.Close()
		}
		w.current = w.open(date)
		w.date = date
	}
	return w.current.Write(p)
}

func (w *levelWriter) open(date string) *lumberjack.Logger {
	dir := filepath.Join(w.config.Dir, date)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		dir = w.config.Dir
		_ = os.MkdirAll(dir, 0o755)
	}
	return &lumberjack.Logger{
		Filename:   filepath.Join(dir, w.level+".log"),
		MaxSize:    w.config.MaxSize,
		MaxBackups: w.config.MaxBackups,
		MaxAge:     w.config.MaxAge,
		Compress:   w.config.Compress,
		LocalTime:  true,
	}
}

func (w *levelWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.current == nil {
		return nil
	}
	err := w.current.Close()
	w.current = nil
	return err
}

var (
	writersMu sync.Mutex
	writers   []*levelWriter
)

func registerWriter(w *levelWriter) {
	writersMu.Lock()
	defer writersMu.Unlock()
	writers = append(writers, w)
}

// CloseAllWriters closes every log file opened so far.
func CloseAllWriters() error {
	writersMu.Lock()
	defer writersMu.Unlock()

	var lastErr error
	for _, w := range writers {
		if err := w.Close(); err != nil {
			lastErr = err
		}
	}
	writers = nil
	return lastErr
}

var _ io.WriteCloser = (*levelWriter)(nil)

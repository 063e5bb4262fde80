package logging

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Level != "info" {
		t.Errorf("expected Level 'info', got '%s'", cfg.Level)
	}
	if cfg.Format != "console" {
		t.Errorf("expected Format 'console', got '%s'", cfg.Format)
	}
	if cfg.MaxSize != 100 || cfg.MaxBackups != 10 || cfg.MaxAge != 7 {
		t.Errorf("unexpected rotation defaults: %+v", cfg)
	}
	if cfg.Dir != "" || cfg.Quiet {
		t.Error("expected terminal-only output by default")
	}
}

func TestConfigApplyDefaultsKeepsValues(t *testing.T) {
	cfg := Config{Level: "debug", MaxSize: 5}
	cfg.applyDefaults()

	if cfg.Level != "debug" || cfg.MaxSize != 5 {
		t.Errorf("explicit values overwritten: %+v", cfg)
	}
	if cfg.TimeFormat == "" {
		t.Error("expected TimeFormat default")
	}
}

func TestConfigZapLevel(t *testing.T) {
	tests := []struct {
		level    string
		expected zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"INFO", zapcore.InfoLevel},
		{"warn", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"fatal", zapcore.FatalLevel},
		{"nonsense", zapcore.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			cfg := Config{Level: tt.level}
			if got := cfg.ZapLevel(); got != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestNewLoggerWritesToTerminal(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(Config{Level: "debug", Format: "json"}, &buf)

	logger.With(zap.String("plugin", "alpha")).Debug("stage changed")
	logger.Named("coordinator").Infof("loaded %d plugins", 3)

	out := buf.String()
	if !strings.Contains(out, `"plugin":"alpha"`) {
		t.Errorf("missing field in %q", out)
	}
	if !strings.Contains(out, `"logger":"coordinator"`) || !strings.Contains(out, "loaded 3 plugins") {
		t.Errorf("missing named entry in %q", out)
	}
}

func TestNewLoggerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(Config{Level: "warn"}, &buf)

	logger.Info("hidden")
	logger.Warn("shown")

	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Errorf("unexpected output %q", buf.String())
	}
}

func TestNewLoggerWritesLevelFiles(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer
	logger := newLogger(Config{Level: "info", Dir: dir, Quiet: true}, &buf)

	logger.Info("to info file")
	logger.Error("to error file")
	if err := CloseAllWriters(); err != nil {
		t.Fatalf("close writers: %v", err)
	}

	if buf.Len() != 0 {
		t.Errorf("quiet logger wrote to terminal: %q", buf.String())
	}

	date := time.Now().Format("2006-01-02")
	info, err := os.ReadFile(filepath.Join(dir, date, "info.log"))
	if err != nil {
		t.Fatalf("read info log: %v", err)
	}
	if !strings.Contains(string(info), "to info file") || strings.Contains(string(info), "to error file") {
		t.Errorf("unexpected info log %q", info)
	}
	errLog, err := os.ReadFile(filepath.Join(dir, date, "error.log"))
	if err != nil {
		t.Fatalf("read error log: %v", err)
	}
	if !strings.Contains(string(errLog), "to error file") {
		t.Errorf("unexpected error log %q", errLog)
	}
}

func TestContextIDs(t *testing.T) {
	ctx := WithTransitionID(WithPluginID(context.Background(), "alpha"), "t-1")

	if id, ok := PluginIDFromContext(ctx); !ok || id != "alpha" {
		t.Errorf("expected plugin alpha, got %q", id)
	}
	if id, ok := TransitionIDFromContext(ctx); !ok || id != "t-1" {
		t.Errorf("expected transition t-1, got %q", id)
	}
	if _, ok := PluginIDFromContext(context.Background()); ok {
		t.Error("expected no plugin id")
	}
	if fields := Fields(context.Background()); fields != nil {
		t.Error("expected no fields for an empty context")
	}
}

func TestWithContextAddsFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled,
	}))
	ctx = WithPluginID(ctx, "beta")

	WithContext(zap.New(core), ctx).Info("hello")

	fields := logs.All()[0].ContextMap()
	if fields["plugin_id"] != "beta" {
		t.Errorf("expected plugin_id, got %v", fields)
	}
	if fields["trace_id"] != "4bf92f3577b34da6a3ce929d0e0e4736" || fields["span_id"] != "00f067aa0ba902b7" {
		t.Errorf("expected trace fields, got %v", fields)
	}
}

func TestContextLoggerStorage(t *testing.T) {
	logger := Nop().Named("stored")
	ctx := ToContext(context.Background(), logger)

	if FromContext(ctx) != logger {
		t.Error("expected stored logger")
	}
	if FromContext(context.Background()) == nil {
		t.Error("expected global fallback")
	}
}

func TestGlobalLogger(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	prev := Global()
	SetGlobal(FromZap(zap.New(core)))
	defer SetGlobal(prev)

	Info("global info")
	Error("global error")

	if logs.Len() != 2 {
		t.Errorf("expected 2 entries, got %d", logs.Len())
	}
	if err := Sync(); err != nil {
		t.Errorf("sync: %v", err)
	}
}

func TestWithHooks(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	counts := map[zapcore.Level]int{}

	logger := WithHooks(FromZap(zap.New(core)), func(e zapcore.Entry) { counts[e.Level]++ })
	logger.With(zap.String("k", "v")).Warn("one")
	logger.Warn("two")
	logger.Info("three")

	if counts[zapcore.WarnLevel] != 2 || counts[zapcore.InfoLevel] != 1 {
		t.Errorf("unexpected counts %v", counts)
	}
	if logs.Len() != 3 {
		t.Errorf("expected entries to still be written, got %d", logs.Len())
	}
	if WithHooks(logger) != logger {
		t.Error("expected no-op without hooks")
	}
}

func TestHTTPMiddleware(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	handler := HTTPMiddleware(zap.New(core))(RecoveryMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/panic" {
			panic("handler bug")
		}
		FromContext(r.Context()).Info("inside handler")
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("ok"))
	})))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/plugins", nil))
	if rec.Code != http.StatusTeapot {
		t.Errorf("expected 418, got %d", rec.Code)
	}

	entries := logs.FilterMessage("http request").All()
	if len(entries) != 1 {
		t.Fatalf("expected request log, got %d", len(entries))
	}
	if entries[0].ContextMap()["status"] != int64(http.StatusTeapot) {
		t.Errorf("unexpected status field %v", entries[0].ContextMap())
	}
	if logs.FilterMessage("inside handler").Len() != 1 {
		t.Error("expected handler to log through the request logger")
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/panic", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rec.Code)
	}
	if logs.FilterMessage("http handler panicked").Len() != 1 {
		t.Error("expected panic to be logged")
	}
}

package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type ctxKey string

const (
	pluginIDKey     ctxKey = "plugin_id"
	transitionIDKey ctxKey = "transition_id"
)

// WithPluginID stores the plugin being worked on.
func WithPluginID(ctx context.Context, pluginID string) context.Context {
	return context.WithValue(ctx, pluginIDKey, pluginID)
}

// PluginIDFromContext returns the plugin stored by WithPluginID.
func PluginIDFromContext(ctx context.Context) (string, bool) {
	return stringValue(ctx, pluginIDKey)
}

// WithTransitionID stores the id of the running state transition.
func WithTransitionID(ctx context.Context, transitionID string) context.Context {
	return context.WithValue(ctx, transitionIDKey, transitionID)
}

// TransitionIDFromContext returns the id stored by WithTransitionID.
func TransitionIDFromContext(ctx context.Context) (string, bool) {
	return stringValue(ctx, transitionIDKey)
}

func stringValue(ctx context.Context, key ctxKey) (string, bool) {
	if ctx == nil {
		return "", false
	}
	s, ok := ctx.Value(key).(string)
	return s, ok && s != ""
}

// Fields returns plugin_id, transition_id and the otel trace/span ids found in ctx.
func Fields(ctx context.Context) []zap.Field {
	if ctx == nil {
		return nil
	}

	var fields []zap.Field
	if id, ok := PluginIDFromContext(ctx); ok {
		fields = append(fields, zap.String("plugin_id", id))
	}
	if id, ok := TransitionIDFromContext(ctx); ok {
		fields = append(fields, zap.String("transition_id", id))
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()))
	}
	return fields
}

// WithContext returns a child of logger carrying Fields(ctx).
func WithContext(logger *zap.Logger, ctx context.Context) *zap.Logger {
	fields := Fields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(fields...)
}

type loggerKey struct{}

// FromContext returns the Logger stored in ctx, or the global logger.
func FromContext(ctx context.Context) Logger {
	if ctx != nil {
		if l, ok := ctx.Value(loggerKey{}).(Logger); ok {
			return l
		}
	}
	return Global()
}

// ToContext stores logger in ctx.
func ToContext(ctx context.Context, logger Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

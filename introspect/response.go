package introspect

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Response is the envelope of every JSON reply.
type Response struct {
	Data  any    `json:"data,omitempty"`
	Error *Error `json:"error,omitempty"`
	Meta  Meta   `json:"meta"`
}

// Error describes a failed request.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Meta carries the request trace id and the time the request took.
type Meta struct {
	TraceID string `json:"traceId,omitempty"`
	Took    int64  `json:"took,omitempty"`
}

// Error codes.
const (
	ErrCodeNotFound       = 4003
	ErrCodeConflict       = 4008
	ErrCodeInternalServer = 5000
)

type contextKey string

const (
	traceIDKey    contextKey = "trace_id"
	startKey      contextKey = "start"
	TraceIDHeader            = "X-Trace-ID"
)

// traceMiddleware reuses the caller's X-Trace-ID or generates one.
func traceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get(TraceIDHeader)
		if traceID == "" {
			traceID = uuid.NewString()
		}
		w.Header().Set(TraceIDHeader, traceID)

		ctx := context.WithValue(r.Context(), traceIDKey, traceID)
		ctx = context.WithValue(ctx, startKey, time.Now())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func metaFor(r *http.Request) Meta {
	var m Meta
	m.TraceID, _ = r.Context().Value(traceIDKey).(string)
	if start, ok := r.Context().Value(startKey).(time.Time); ok {
		m.Took = time.Since(start).Milliseconds()
	}
	return m
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"code":5000,"message":"encode failed"}}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(raw)
}

func writeData(w http.ResponseWriter, r *http.Request, status int, data any) {
	writeJSON(w, status, &Response{Data: data, Meta: metaFor(r)})
}

func writeError(w http.ResponseWriter, r *http.Request, status, code int, message string) {
	writeJSON(w, status, &Response{Error: &Error{Code: code, Message: message}, Meta: metaFor(r)})
}

package obs

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/kuitang/project-os/internal/logutil"
)

type correlationContextKey struct{}

// Correlation carries per-request correlation identifiers.
type Correlation struct {
	RequestID   string
	TraceID     string
	Traceparent string
	UserID      string
	Provider    string
}

var (
	loggerMu sync.RWMutex
	logger   *slog.Logger
)

// Init configures the global structured logger.
func Init() {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	if logger != nil {
		return
	}
	logger = newLogger(os.Stderr)
	slog.SetDefault(logger)
}

// SetOutputForTests overrides the global logger output for tests.
func SetOutputForTests(w io.Writer) func() {
	loggerMu.Lock()
	prev := logger
	logger = newLogger(w)
	slog.SetDefault(logger)
	loggerMu.Unlock()

	return func() {
		loggerMu.Lock()
		defer loggerMu.Unlock()
		if prev != nil {
			logger = prev
		} else {
			logger = newLogger(os.Stderr)
		}
		slog.SetDefault(logger)
	}
}

func newLogger(w io.Writer) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: slog.LevelDebug,
		ReplaceAttr: func(_ []string, attr slog.Attr) slog.Attr {
			if attr.Key == slog.TimeKey {
				t, ok := attr.Value.Any().(time.Time)
				if ok {
					return slog.String(slog.TimeKey, t.UTC().Format(time.RFC3339Nano))
				}
			}
			if logutil.IsSensitiveLogField(attr.Key) {
				return slog.String(attr.Key, "[REDACTED]")
			}
			return attr
		},
	})
	return slog.New(handler)
}

func globalLogger() *slog.Logger {
	loggerMu.RLock()
	l := logger
	loggerMu.RUnlock()
	if l != nil {
		return l
	}
	Init()
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return logger
}

// Pkg returns a logger tagged with package name.
func Pkg(pkg string) *slog.Logger {
	return globalLogger().With("pkg", pkg)
}

// From returns a logger with correlation fields from context.
func From(ctx context.Context) *slog.Logger {
	l := globalLogger()
	corr := CorrelationFromContext(ctx)
	attrs := correlationAttrs(corr)
	if len(attrs) == 0 {
		return l
	}
	return l.With(attrs...)
}

// WithUserID stores user_id in context.
func WithUserID(ctx context.Context, userID string) context.Context {
	corr := CorrelationFromContext(ctx)
	corr.UserID = strings.TrimSpace(userID)
	return context.WithValue(ctx, correlationContextKey{}, corr)
}

// WithProvider stores the OAuth provider name in context.
func WithProvider(ctx context.Context, provider string) context.Context {
	corr := CorrelationFromContext(ctx)
	corr.Provider = strings.TrimSpace(provider)
	return context.WithValue(ctx, correlationContextKey{}, corr)
}

// WithCorrelation stores request correlation fields in context.
func WithCorrelation(ctx context.Context, corr Correlation) context.Context {
	existing := CorrelationFromContext(ctx)
	if corr.RequestID != "" {
		existing.RequestID = corr.RequestID
	}
	if corr.TraceID != "" {
		existing.TraceID = corr.TraceID
	}
	if corr.Traceparent != "" {
		existing.Traceparent = corr.Traceparent
	}
	if corr.UserID != "" {
		existing.UserID = corr.UserID
	}
	if corr.Provider != "" {
		existing.Provider = corr.Provider
	}
	return context.WithValue(ctx, correlationContextKey{}, existing)
}

// CorrelationFromContext returns request correlation fields from context.
func CorrelationFromContext(ctx context.Context) Correlation {
	if ctx == nil {
		return Correlation{}
	}
	corr, ok := ctx.Value(correlationContextKey{}).(Correlation)
	if !ok {
		return Correlation{}
	}
	return corr
}

func correlationAttrs(corr Correlation) []any {
	attrs := make([]any, 0, 10)
	if corr.RequestID != "" {
		attrs = append(attrs, "request_id", corr.RequestID)
	}
	if corr.TraceID != "" {
		attrs = append(attrs, "trace_id", corr.TraceID)
	}
	if corr.Traceparent != "" {
		attrs = append(attrs, "traceparent", corr.Traceparent)
	}
	if corr.UserID != "" {
		attrs = append(attrs, "user_id", corr.UserID)
	}
	if corr.Provider != "" {
		attrs = append(attrs, "provider", corr.Provider)
	}
	return attrs
}

func newRequestID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "req-fallback"
	}
	return "req-" + hex.EncodeToString(buf)
}

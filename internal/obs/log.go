package obs

import (
	"context"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// LogConfig controls the shared logger.
type LogConfig struct {
	Level  string    `koanf:"level" validate:"omitempty,oneof=trace debug info warn error disabled"`
	Format string    `koanf:"format" validate:"omitempty,oneof=json console"`
	Caller bool      `koanf:"caller"`
	Output io.Writer `koanf:"-"`
}

var (
	logMu  sync.RWMutex
	logger zerolog.Logger
)

func init() {
	InitLogger(LogConfig{})
}

// InitLogger replaces the shared logger. Empty fields fall back to info/json/stdout.
func InitLogger(cfg LogConfig) {
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.TimestampFieldName = "ts"
	zerolog.MessageFieldName = "msg"

	out := cfg.Output
	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: cfg.Output, TimeFormat: "15:04:05"}
	}
	l := zerolog.New(out).Level(parseLevel(cfg.Level)).With().Timestamp().Logger()
	if cfg.Caller {
		l = l.With().Caller().Logger()
	}

	logMu.Lock()
	logger = l
	logMu.Unlock()
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

// Logger returns the shared structured logger used across the service.
func Logger() *zerolog.Logger {
	logMu.RLock()
	defer logMu.RUnlock()
	l := logger
	return &l
}

type ctxKey string

const (
	requestIDKey ctxKey = "request_id"
	userIDKey    ctxKey = "user_id"
)

// WithRequestID attaches the request identifier used in every log line.
func WithRequestID(ctx context.Context, id string) context.Context {
	id = strings.TrimSpace(id)
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID returns the request identifier, if any.
func RequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(requestIDKey).(string)
	return v
}

// WithUserID attaches the authenticated user id.
func WithUserID(ctx context.Context, id string) context.Context {
	id = strings.TrimSpace(id)
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, userIDKey, id)
}

// UserID returns the authenticated user id, if any.
func UserID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(userIDKey).(string)
	return v
}

// Ctx returns the shared logger enriched with request and user ids from ctx.
func Ctx(ctx context.Context) *zerolog.Logger {
	lc := Logger().With()
	if rid := RequestID(ctx); rid != "" {
		lc = lc.Str("request_id", rid)
	}
	if uid := UserID(ctx); uid != "" {
		lc = lc.Str("user_id", uid)
	}
	l := lc.Logger()
	return &l
}

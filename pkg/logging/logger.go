package logging

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type contextKey string

const (
	// RequestIDKey is the key used to store request IDs in context
	RequestIDKey contextKey = "request_id"
	// BookKey is the key used to store the book name in context
	BookKey contextKey = "book"
)

// Config defines logging configuration
type Config struct {
	// Level is the logging level (debug, info, warn, error)
	Level string
	// Pretty determines if logs should be formatted for human readability
	Pretty bool
	// Output is where logs are written (defaults to os.Stdout)
	Output io.Writer
}

// DefaultConfig returns the default logging configuration
func DefaultConfig() Config {
	return Config{
		Level:  "info",
		Pretty: false,
		Output: os.Stdout,
	}
}

// Setup configures global logging based on the provided config
func Setup(cfg Config) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	if cfg.Pretty {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}
	}

	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// WithRequestID returns a context carrying id for log correlation
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}

// WithBook returns a context carrying the book name for log correlation
func WithBook(ctx context.Context, book string) context.Context {
	return context.WithValue(ctx, BookKey, book)
}

// FromContext extracts a logger with request context
func FromContext(ctx context.Context) zerolog.Logger {
	logCtx := log.With()
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		logCtx = logCtx.Str("request_id", requestID)
	}
	if book, ok := ctx.Value(BookKey).(string); ok {
		logCtx = logCtx.Str("book", book)
	}
	return logCtx.Logger()
}

// NewZapLogger builds the zap logger handed to the Redis backend so both
// loggers honour the same level and output.
func NewZapLogger(cfg Config) *zap.Logger {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.RFC3339TimeEncoder
	encoder := zapcore.NewJSONEncoder(encCfg)
	if cfg.Pretty {
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(output), level)
	return zap.New(core)
}

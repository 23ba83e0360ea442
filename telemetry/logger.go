// Package telemetry provides the zerolog logger and trace event helpers
// shared by armoryx commands and services.
package telemetry

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTELHook adds trace and span IDs to every log entry
type OTELHook struct{}

func (h OTELHook) Run(e *zerolog.Event, level zerolog.Level, msg string) {
	ctx := e.GetCtx()
	if ctx == nil {
		return
	}

	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return
	}

	e.Str("trace_id", span.SpanContext().TraceID().String())
	e.Str("span_id", span.SpanContext().SpanID().String())

	if level == zerolog.ErrorLevel {
		span.SetStatus(codes.Error, msg)
	}
}

var (
	outputMu sync.RWMutex
	output   io.Writer = os.Stdout
)

// Setup sets the global level and the output format ("json" or "console")
// used by loggers created afterwards.
func Setup(level, format string) error {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return fmt.Errorf("parse log level %q: %w", level, err)
	}
	if lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	switch strings.ToLower(format) {
	case "", "json":
		SetOutput(os.Stdout)
	case "console":
		SetOutput(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	default:
		return fmt.Errorf("unknown log format %q", format)
	}
	return nil
}

// SetOutput replaces the writer used by new loggers.
func SetOutput(w io.Writer) {
	outputMu.Lock()
	defer outputMu.Unlock()
	output = w
}

func currentOutput() io.Writer {
	outputMu.RLock()
	defer outputMu.RUnlock()
	return output
}

// Logger wraps zerolog with OTEL integration
type Logger struct {
	zerolog.Logger
}

// NewLogger creates a new logger with OTEL hooks
func NewLogger(service string) *Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs

	logger := zerolog.New(currentOutput()).
		With().
		Timestamp().
		Str("service", service).
		Logger().
		Hook(OTELHook{})

	return &Logger{Logger: logger}
}

// WithContext returns a logger with context (for trace propagation).
// A nil Logger falls back to the logger attached to ctx.
func (l *Logger) WithContext(ctx context.Context) *zerolog.Logger {
	if l == nil {
		return zerolog.Ctx(ctx)
	}
	logger := l.Logger.With().Ctx(ctx).Logger()
	return &logger
}

// Attach stores the logger in ctx so zerolog.Ctx finds it downstream.
func (l *Logger) Attach(ctx context.Context) context.Context {
	return l.Logger.WithContext(ctx)
}

// SetDefault makes l the logger returned by zerolog.Ctx for contexts
// without one attached.
func (l *Logger) SetDefault() {
	zerolog.DefaultContextLogger = &l.Logger
}

// LogSpanStart logs the start of a span with attributes
func (l *Logger) LogSpanStart(ctx context.Context, spanName string, attrs ...attribute.KeyValue) {
	logger := l.WithContext(ctx)

	event := logger.Info().Str("span_name", spanName)
	for _, attr := range attrs {
		event = addAttributeToEvent(event, attr)
	}
	event.Msg("span started")
}

// LogSpanEnd logs the end of a span with results
func (l *Logger) LogSpanEnd(ctx context.Context, spanName string, err error) {
	logger := l.WithContext(ctx)

	if err != nil {
		logger.Error().
			Err(err).
			Str("span_name", spanName).
			Msg("span failed")
	} else {
		logger.Debug().
			Str("span_name", spanName).
			Msg("span completed")
	}
}

func addAttributeToEvent(event *zerolog.Event, attr attribute.KeyValue) *zerolog.Event {
	key := string(attr.Key)

	switch attr.Value.Type() {
	case attribute.STRING:
		return event.Str(key, attr.Value.AsString())
	case attribute.INT64:
		return event.Int64(key, attr.Value.AsInt64())
	case attribute.FLOAT64:
		return event.Float64(key, attr.Value.AsFloat64())
	case attribute.BOOL:
		return event.Bool(key, attr.Value.AsBool())
	default:
		return event.Str(key, attr.Value.Emit())
	}
}

// LogStorageOpen records the store path and how many records were indexed.
func (l *Logger) LogStorageOpen(ctx context.Context, path string, instances, vpcs int) {
	l.WithContext(ctx).Info().
		Str("path", path).
		Int("instances", instances).
		Int("vpcs", vpcs).
		Str("operation", "open").
		Msg("storage opened")
}

// LogBatchOperation logs one batch of a bulk write.
func (l *Logger) LogBatchOperation(ctx context.Context, operation string, batchSize int) {
	l.WithContext(ctx).Info().
		Str("operation", operation).
		Int("batch_size", batchSize).
		Msg("processing batch")
}

func (l *Logger) LogStorageError(ctx context.Context, operation string, err error) {
	l.WithContext(ctx).Error().
		Err(err).
		Str("operation", operation).
		Msg("storage operation failed")
}

package logger

import (
	"context"
	"io"
	"os"
	"sort"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

var Logger zerolog.Logger

type fieldsKey struct{}

func Init(serviceName string, level string, pretty bool) {
	var out io.Writer = os.Stdout
	if pretty {
		out = zerolog.ConsoleWriter{Out: os.Stdout}
	}
	InitWithWriter(serviceName, level, out)
}

// InitWithWriter is Init with an explicit sink, used by tests and the CLI.
func InitWithWriter(serviceName string, level string, out io.Writer) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	zerolog.SetGlobalLevel(lvl)

	Logger = zerolog.New(out).
		With().
		Timestamp().
		Str("service", serviceName).
		Logger()
}

// ContextWithFields attaches log fields (request_id, task_id, topic...) to ctx.
// Fields already present on ctx are kept unless overridden.
func ContextWithFields(ctx context.Context, kv ...string) context.Context {
	merged := make(map[string]string)
	if existing, ok := ctx.Value(fieldsKey{}).(map[string]string); ok {
		for k, v := range existing {
			merged[k] = v
		}
	}
	for i := 0; i+1 < len(kv); i += 2 {
		merged[kv[i]] = kv[i+1]
	}
	return context.WithValue(ctx, fieldsKey{}, merged)
}

// WithContext returns the global logger enriched with the fields carried on
// ctx and the active trace id.
func WithContext(ctx context.Context) *zerolog.Logger {
	lc := Logger.With()

	if fields, ok := ctx.Value(fieldsKey{}).(map[string]string); ok {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			lc = lc.Str(k, fields[k])
		}
	}

	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		lc = lc.Str("trace_id", sc.TraceID().String())
	}

	l := lc.Logger()
	return &l
}

// Component returns a child logger tagged with a component name.
func Component(name string) zerolog.Logger {
	return Logger.With().Str("component", name).Logger()
}

func Debug() *zerolog.Event {
	return Logger.Debug()
}

func Info() *zerolog.Event {
	return Logger.Info()
}

func Warn() *zerolog.Event {
	return Logger.Warn()
}

func Error() *zerolog.Event {
	return Logger.Error()
}

func Fatal() *zerolog.Event {
	return Logger.Fatal()
}

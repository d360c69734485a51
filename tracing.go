package blake3pool

import (
	"context"
	"io"

	opentracing "github.com/opentracing/opentracing-go"
	jaegercfg "github.com/uber/jaeger-client-go/config"
)

// startSpan opens a child span named operation under ctx, the same
// span-per-call shape as the teacher's spancontext.StartSpan helper
// around storage.NetStore's remote fetch path. Tracing is entirely
// optional: when no tracer has been registered with opentracing.SetGlobalTracer,
// opentracing's no-op tracer makes this free.
func startSpan(ctx context.Context, operation string) (context.Context, opentracing.Span) {
	span, ctx := opentracing.StartSpanFromContext(ctx, operation)
	return ctx, span
}

// EnableJaegerTracing installs a Jaeger tracer as the global
// opentracing tracer, const-sampling every trace, the same always-on
// sampling the teacher's cmd/swarm setup uses for its own Jaeger
// integration. Returns the tracer's io.Closer for callers to flush
// and close on shutdown; Options.EnableTracing is a flag a caller may
// consult before calling this (the Hasher itself does not read it).
func EnableJaegerTracing(serviceName string) (io.Closer, error) {
	cfg := jaegercfg.Configuration{
		ServiceName: serviceName,
		Sampler: &jaegercfg.SamplerConfig{
			Type:  "const",
			Param: 1,
		},
		Reporter: &jaegercfg.ReporterConfig{
			LogSpans: false,
		},
	}
	tracer, closer, err := cfg.NewTracer()
	if err != nil {
		return nil, err
	}
	opentracing.SetGlobalTracer(tracer)
	return closer, nil
}

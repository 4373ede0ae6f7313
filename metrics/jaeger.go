package metrics

import (
	logging "github.com/ipfs/go-log/v2"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.7.0"

	"github.com/brscrawler/brs-crawler/version"
)

var log = logging.Logger("crawler/metrics")

// NewJaegerTraceProvider returns a TracerProvider that batches spans to the jaeger collector at collectorURL.
func NewJaegerTraceProvider(serviceName, collectorURL string, sampleRatio float64) (*tracesdk.TracerProvider, error) {
	log.Infow("creating jaeger trace provider", "service", serviceName, "ratio", sampleRatio, "endpoint", collectorURL)

	exp, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(collectorURL)))
	if err != nil {
		return nil, err
	}
	return tracesdk.NewTracerProvider(
		tracesdk.WithBatcher(exp),
		tracesdk.WithSampler(RatioSampler(sampleRatio)),
		tracesdk.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(version.String()),
		)),
	), nil
}

// RatioSampler samples every trace at a ratio of 1 or more, none at 0 or less, and otherwise the given fraction of
// root traces. Child spans follow their parent.
func RatioSampler(ratio float64) tracesdk.Sampler {
	switch {
	case ratio >= 1:
		return tracesdk.AlwaysSample()
	case ratio <= 0:
		return tracesdk.NeverSample()
	default:
		return tracesdk.ParentBased(tracesdk.TraceIDRatioBased(ratio))
	}
}

package connector

import (
	"fmt"
	"net/http"

	"github.com/caremesh/ehrbridge/fhirutil"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// TracedTransport records an OpenTelemetry client span per outbound vendor
// call. URLs are masked before they end up in span attributes, for the same
// reason they are masked in logs.
type TracedTransport struct {
	base   http.RoundTripper
	tracer trace.Tracer
}

func NewTracedTransport(base http.RoundTripper) *TracedTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &TracedTransport{
		base:   base,
		tracer: otel.Tracer("github.com/caremesh/ehrbridge/connector"),
	}
}

func (t *TracedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx, span := t.tracer.Start(req.Context(),
		fmt.Sprintf("EHR vendor call %s", req.Method),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", req.Method),
			attribute.String("http.url", fhirutil.MaskQuery(req.URL).String()),
			attribute.String("http.host", req.URL.Host),
		),
	)
	defer span.End()

	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := t.base.RoundTrip(req.WithContext(ctx))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return resp, err
	}

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode >= 400 {
		span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", resp.StatusCode))
	} else {
		span.SetStatus(codes.Ok, "")
	}
	return resp, nil
}

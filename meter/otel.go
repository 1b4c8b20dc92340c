package meter

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ineyio/rewritegate"
)

// TracerName is the instrumentation scope of OtelMeter spans.
const TracerName = "github.com/ineyio/rewritegate"

// OtelMeter records one span per terminal dispatch. Span start and end
// times come from the event, so the span covers the whole message.
type OtelMeter struct {
	tracer trace.Tracer
}

var _ rewritegate.Meter = (*OtelMeter)(nil)

// NewOtelMeter creates an OtelMeter. A nil provider uses the global one.
func NewOtelMeter(tp trace.TracerProvider) *OtelMeter {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &OtelMeter{tracer: tp.Tracer(TracerName)}
}

func (m *OtelMeter) OnDispatch(rewritegate.DispatchEvent) {}

func (m *OtelMeter) OnResult(e rewritegate.ResultEvent) {
	_, span := m.tracer.Start(context.Background(), "rewritegate.dispatch",
		trace.WithTimestamp(e.StartedAt),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("dispatch.id", e.DispatchID),
			attribute.Int64("account.external_id", e.ExternalID),
			attribute.Int64("account.id", e.AccountID),
			attribute.String("llm.provider", string(e.Provider)),
			attribute.String("llm.model", string(e.Model)),
			attribute.String("dispatch.outcome", string(e.Outcome)),
			attribute.String("dispatch.state", string(e.State)),
			attribute.Int64("llm.tokens", e.Tokens),
			attribute.Int64("account.balance", e.Balance),
		),
	)

	if e.Error != nil {
		span.RecordError(e.Error)
		span.SetStatus(codes.Error, e.Error.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	span.End(trace.WithTimestamp(e.StartedAt.Add(e.Duration)))
}

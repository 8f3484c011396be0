package eventbus

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dmateus/botherd/pkg/events"
	"github.com/dmateus/botherd/pkg/otelhelper"
)

// TracedHandler wraps an event handler so every consumed event runs inside
// its own span, with handler failures recorded on the span.
func TracedHandler(tracer trace.Tracer, handler EventHandler) EventHandler {
	return func(ctx context.Context, eventType events.EventType, payload []byte) error {
		spanCtx, span := otelhelper.StartSpan(ctx, tracer, "eventbus consume",
			attribute.String("event.type", string(eventType)),
		)
		defer span.End()

		if err := handler(spanCtx, eventType, payload); err != nil {
			otelhelper.SetError(span, err)

			return err
		}

		span.AddEvent("event_handled")

		return nil
	}
}

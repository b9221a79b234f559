package model

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/go-rollouts/internal/domain"
)

// tracedModel wraps generation calls in OpenTelemetry spans so a task's
// model traffic can be followed across the agent, model service, and
// provider boundary.
type tracedModel struct {
	next        CoreModel
	serviceName string
}

// TracingMiddleware creates middleware that traces generation calls.
func TracingMiddleware(serviceName string) Middleware {
	return func(next CoreModel) CoreModel {
		return &tracedModel{next: next, serviceName: serviceName}
	}
}

// Generate executes the call inside a span carrying request shape and
// token usage attributes.
func (t *tracedModel) Generate(ctx context.Context, req *domain.ResponsesRequest) (*domain.ResponsesResponse, error) {
	tracer := otel.Tracer("model-service")
	ctx, span := tracer.Start(ctx, "model.generate",
		trace.WithAttributes(
			attribute.String("service.name", t.serviceName),
			attribute.String("model.name", t.next.Model()),
			attribute.Int("request.input_items", len(req.Input)),
			attribute.Int("request.tools", len(req.Tools)),
		),
	)
	defer span.End()

	resp, err := t.next.Generate(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.Int("response.output_items", len(resp.Output)))
	if resp.Usage != nil {
		span.SetAttributes(
			attribute.Int("response.tokens.input", resp.Usage.InputTokens),
			attribute.Int("response.tokens.output", resp.Usage.OutputTokens),
		)
	}
	span.SetStatus(codes.Ok, "")
	return resp, nil
}

// Model returns the model name from the wrapped implementation.
func (t *tracedModel) Model() string { return t.next.Model() }

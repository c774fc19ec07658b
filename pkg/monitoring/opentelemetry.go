package monitoring

import (
	"context"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.25.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

type OpenTelemetry struct {
	serviceName string
	environment string
	endpoint    string
	logger      *logrus.Logger

	provider *sdktrace.TracerProvider
}

func NewOpenTelemetry(serviceName, environment, endpoint string, logger *logrus.Logger) *OpenTelemetry {
	return &OpenTelemetry{
		serviceName: serviceName,
		environment: environment,
		endpoint:    endpoint,
		logger:      logger,
	}
}

// Start wires the OTLP trace exporter. An unset endpoint disables
// tracing entirely; the exporter must keep running without a collector.
func (o *OpenTelemetry) Start(ctx context.Context) {
	if o.endpoint == "" {
		return
	}

	conn, err := grpc.NewClient(o.endpoint, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		o.logger.WithContext(ctx).WithError(err).Error("otlp dial failed, tracing disabled")
		return
	}

	exp, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		o.logger.WithContext(ctx).WithError(err).Error("otlp exporter init failed, tracing disabled")
		return
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(o.serviceName),
			semconv.DeploymentEnvironmentKey.String(o.environment),
		),
	)
	if err != nil {
		o.logger.WithContext(ctx).WithError(err).Warn("otel resource init")
	}

	o.provider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(o.provider)
	otel.SetTextMapPropagator(propagation.TraceContext{})
}

func (o *OpenTelemetry) Stop(ctx context.Context) {
	if o.provider == nil {
		return
	}

	if err := o.provider.Shutdown(ctx); err != nil {
		o.logger.WithContext(ctx).WithError(err).Error("otel provider shutdown")
	}
}

package otel

import (
	"context"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// ServiceIndex is the service name reported by the order index
const ServiceIndex = "order-index"

var (
	indexTracer         trace.Tracer
	indexResource       *sdkresource.Resource
	indexTracerProvider *sdktrace.TracerProvider
	meterProvider       *sdkmetric.MeterProvider
)

// Config holds the OpenTelemetry configuration
type Config struct {
	ServiceName      string
	ServiceVersion   string
	Endpoint         string
	ConnectTimeout   time.Duration
	CollectorEnabled bool
}

// Init initializes OpenTelemetry with the given configuration
func Init(cfg Config) (func(), error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = ServiceIndex
	}
	if cfg.ServiceVersion == "" {
		cfg.ServiceVersion = "0.1.0"
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}

	var cleanup []func()

	indexResource = initResource(cfg.ServiceName, cfg.ServiceVersion)

	if cfg.CollectorEnabled {
		tp, err := initTracerProvider(cfg, indexResource)
		if err != nil {
			log.Printf("Warning: Failed to initialize tracer provider: %v", err)
		} else {
			indexTracerProvider = tp
			cleanup = append(cleanup, func() {
				ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
				defer cancel()
				if err := tp.Shutdown(ctx); err != nil {
					log.Printf("Error shutting down tracer provider: %v", err)
				}
			})
		}

		mp, err := initMeterProvider(cfg, indexResource)
		if err != nil {
			log.Printf("Warning: Failed to initialize meter provider: %v. Continuing without metrics.", err)
		} else {
			meterProvider = mp
			cleanup = append(cleanup, func() {
				ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
				defer cancel()
				if err := mp.Shutdown(ctx); err != nil {
					log.Printf("Error shutting down meter provider: %v", err)
				}
			})
		}
	}

	if indexTracerProvider != nil {
		indexTracer = indexTracerProvider.Tracer(cfg.ServiceName)
	}

	return func() {
		for _, fn := range cleanup {
			fn()
		}
	}, nil
}

func initResource(serviceName, serviceVersion string) *sdkresource.Resource {
	extraResources, err := sdkresource.New(
		context.Background(),
		sdkresource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(serviceVersion),
		),
		sdkresource.WithOS(),
		sdkresource.WithProcess(),
		sdkresource.WithHost(),
	)
	if err != nil {
		log.Printf("Failed to create resource: %v", err)
		return sdkresource.Default()
	}

	resource, err := sdkresource.Merge(
		sdkresource.Default(),
		extraResources,
	)
	if err != nil {
		log.Printf("Failed to merge resources: %v", err)
		return sdkresource.Default()
	}

	return resource
}

func dialCollector(ctx context.Context, cfg Config) (*grpc.ClientConn, error) {
	return grpc.DialContext(ctx, cfg.Endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithTimeout(cfg.ConnectTimeout),
	)
}

func initTracerProvider(cfg Config, resource *sdkresource.Resource) (*sdktrace.TracerProvider, error) {
	ctx := context.Background()

	conn, err := dialCollector(ctx, cfg)
	if err != nil {
		return nil, err
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithGRPCConn(conn),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource),
		sdktrace.WithSampler(sdktrace.ParentBased(
			sdktrace.TraceIDRatioBased(1),
		)),
	)

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	otel.SetTracerProvider(tp)

	return tp, nil
}

func initMeterProvider(cfg Config, resource *sdkresource.Resource) (*sdkmetric.MeterProvider, error) {
	ctx := context.Background()

	conn, err := dialCollector(ctx, cfg)
	if err != nil {
		return nil, err
	}

	exporter, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithGRPCConn(conn),
	)
	if err != nil {
		return nil, err
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(5*time.Second))),
		sdkmetric.WithResource(resource),
	)

	otel.SetMeterProvider(mp)

	return mp, nil
}

// GetIndexTracer returns the tracer for index operations, nil before Init
func GetIndexTracer() trace.Tracer {
	return indexTracer
}

// GetTextMapPropagator returns the configured propagator
func GetTextMapPropagator() propagation.TextMapPropagator {
	return otel.GetTextMapPropagator()
}

// GetMeterProvider returns the configured meter provider, falling back to the global one
func GetMeterProvider() metric.MeterProvider {
	if meterProvider != nil {
		return meterProvider
	}
	return otel.GetMeterProvider()
}

// ResetForTesting resets the global variables for testing
func ResetForTesting() {
	indexTracer = nil
	indexTracerProvider = nil
	meterProvider = nil
}

// InitForTesting initializes the tracer for testing
func InitForTesting(tracer trace.Tracer) error {
	indexTracer = tracer
	return nil
}

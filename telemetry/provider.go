package telemetry

import (
	"context"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/vinayprograms/aclmts/errors"
)

// DefaultServiceName is used when neither the config nor OTEL_SERVICE_NAME
// names the service.
const DefaultServiceName = "mtsd"

// OTLP protocols.
const (
	OTLPGRPC = "grpc"
	OTLPHTTP = "http"
)

// ProviderConfig configures span export over OTLP.
type ProviderConfig struct {
	ServiceName    string
	ServiceVersion string

	// Platform becomes the acl.platform resource attribute.
	Platform string

	// Endpoint is host:port, optionally prefixed with http:// (plaintext)
	// or https:// (TLS). Falls back to OTEL_EXPORTER_OTLP_ENDPOINT.
	Endpoint string

	// Protocol is OTLPGRPC (default) or OTLPHTTP.
	Protocol string

	// Insecure disables TLS for an endpoint given without a URL scheme.
	Insecure bool

	// Debug puts message content into span attributes.
	Debug bool

	Headers map[string]string

	// SampleRatio in (0,1) samples that share of new traces; anything else
	// samples all. Remote parents decide for their own traces.
	SampleRatio float64

	BatchTimeout  time.Duration
	ExportTimeout time.Duration
}

// Provider owns the SDK tracer provider installed by InitProvider.
type Provider struct {
	tp     *sdktrace.TracerProvider
	tracer *Tracer
}

// otlpTarget is an endpoint with its transport security settled.
type otlpTarget struct {
	host     string
	insecure bool
}

// resolveEndpoint strips a URL scheme off endpoint; the scheme, when
// present, overrides insecure.
func resolveEndpoint(endpoint string, insecure bool) (otlpTarget, error) {
	if endpoint == "" {
		endpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	}
	t := otlpTarget{host: endpoint, insecure: insecure}
	switch {
	case strings.HasPrefix(endpoint, "http://"):
		t.host, t.insecure = strings.TrimPrefix(endpoint, "http://"), true
	case strings.HasPrefix(endpoint, "https://"):
		t.host, t.insecure = strings.TrimPrefix(endpoint, "https://"), false
	}
	t.host = strings.TrimSuffix(t.host, "/")
	if t.host == "" {
		return t, errors.New(errors.ErrCodeInvalidConfig, "otlp endpoint not configured (set otlp_endpoint or OTEL_EXPORTER_OTLP_ENDPOINT)")
	}
	return t, nil
}

// InitProvider installs a global tracer provider exporting spans over OTLP
// and makes its Tracer the global one. Shut the Provider down on exit.
func InitProvider(ctx context.Context, cfg ProviderConfig) (*Provider, error) {
	target, err := resolveEndpoint(cfg.Endpoint, cfg.Insecure)
	if err != nil {
		return nil, err
	}

	name := cfg.ServiceName
	if name == "" {
		name = os.Getenv("OTEL_SERVICE_NAME")
	}
	if name == "" {
		name = DefaultServiceName
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(semconv.SchemaURL, resourceAttrs(name, cfg)...))
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeInternal, "otel resource")
	}

	exp, err := dialExporter(ctx, target, cfg)
	if err != nil {
		return nil, err
	}

	var batch []sdktrace.BatchSpanProcessorOption
	if cfg.BatchTimeout > 0 {
		batch = append(batch, sdktrace.WithBatchTimeout(cfg.BatchTimeout))
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp, batch...),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg.SampleRatio)),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	tr := NewTracer(name, cfg.Debug)
	SetGlobalTracer(tr)
	return &Provider{tp: tp, tracer: tr}, nil
}

func resourceAttrs(name string, cfg ProviderConfig) []attribute.KeyValue {
	attrs := []attribute.KeyValue{semconv.ServiceName(name)}
	if cfg.ServiceVersion != "" {
		attrs = append(attrs, semconv.ServiceVersion(cfg.ServiceVersion))
	}
	if cfg.Platform != "" {
		attrs = append(attrs, attribute.String("acl.platform", cfg.Platform))
	}
	return attrs
}

func sampler(ratio float64) sdktrace.Sampler {
	if ratio <= 0 || ratio >= 1 {
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}

func dialExporter(ctx context.Context, t otlpTarget, cfg ProviderConfig) (sdktrace.SpanExporter, error) {
	var (
		exp sdktrace.SpanExporter
		err error
	)
	switch cfg.Protocol {
	case OTLPGRPC, "":
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(t.host), otlptracegrpc.WithHeaders(cfg.Headers)}
		if t.insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		if cfg.ExportTimeout > 0 {
			opts = append(opts, otlptracegrpc.WithTimeout(cfg.ExportTimeout))
		}
		exp, err = otlptracegrpc.New(ctx, opts...)
	case OTLPHTTP:
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(t.host), otlptracehttp.WithHeaders(cfg.Headers)}
		if t.insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		if cfg.ExportTimeout > 0 {
			opts = append(opts, otlptracehttp.WithTimeout(cfg.ExportTimeout))
		}
		exp, err = otlptracehttp.New(ctx, opts...)
	default:
		return nil, errors.Newf(errors.ErrCodeInvalidConfig, "unknown otlp protocol %q (use %s or %s)", cfg.Protocol, OTLPGRPC, OTLPHTTP)
	}
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeUnavailable, "otlp "+cfg.Protocol+" exporter")
	}
	return exp, nil
}

func (p *Provider) Tracer() *Tracer {
	return p.tracer
}

// Shutdown flushes pending spans and stops the provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	return p.tp.Shutdown(ctx)
}

func (p *Provider) ForceFlush(ctx context.Context) error {
	return p.tp.ForceFlush(ctx)
}

package observability

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	promreg "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"github.com/lentmiien/lentmiien-site-sub001/internal/config"
)

type Provider struct {
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *metric.MeterProvider
	promExporter   *prometheus.Exporter
	promHandler    http.Handler
	shutdownFuncs  []func(context.Context) error

	httpRequestCounter *promreg.CounterVec
	httpRequestLatency *promreg.HistogramVec
	promptCounter      *promreg.CounterVec
	batchCounter       *promreg.CounterVec
	webhookCounter     *promreg.CounterVec
	tokenCounter       *promreg.CounterVec
	costCounter        *promreg.CounterVec
}

const namespace = "lifehub"

func Setup(ctx context.Context, cfg config.ObservabilityConfig) (*Provider, error) {
	if !cfg.EnableOTLP && !cfg.EnableMetrics {
		return nil, nil
	}

	provider := &Provider{}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName("lifehub"),
		),
	)
	if err != nil {
		return nil, err
	}

	if cfg.EnableOTLP {
		rawEndpoint := strings.TrimSpace(cfg.OTLPEndpoint)
		endpoint := rawEndpoint
		if endpoint == "" {
			endpoint = "localhost:4317"
		}
		opts := []otlptracegrpc.Option{}
		switch {
		case strings.HasPrefix(endpoint, "http://"):
			endpoint = strings.TrimPrefix(endpoint, "http://")
			opts = append(opts, otlptracegrpc.WithInsecure())
		case strings.HasPrefix(endpoint, "https://"):
			endpoint = strings.TrimPrefix(endpoint, "https://")
		default:
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		opts = append(opts, otlptracegrpc.WithEndpoint(endpoint))

		client := otlptracegrpc.NewClient(opts...)
		exporter, err := otlptrace.New(ctx, client)
		if err != nil {
			return nil, err
		}
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(res),
		)
		otel.SetTracerProvider(tp)
		provider.tracerProvider = tp
		provider.shutdownFuncs = append(provider.shutdownFuncs, tp.Shutdown)
	}

	if cfg.EnableMetrics {
		registry := promreg.NewRegistry()
		promExporter, err := prometheus.New(prometheus.WithRegisterer(registry))
		if err != nil {
			return nil, err
		}
		mp := metric.NewMeterProvider(
			metric.WithReader(promExporter),
			metric.WithResource(res),
		)
		otel.SetMeterProvider(mp)
		provider.meterProvider = mp
		provider.promExporter = promExporter
		provider.promHandler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
		provider.shutdownFuncs = append(provider.shutdownFuncs, mp.Shutdown)

		latencyBuckets := []float64{0.05, 0.1, 0.2, 0.5, 1, 2, 5, 10}
		provider.httpRequestCounter = promreg.NewCounterVec(
			promreg.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed.",
			},
			[]string{"method", "route", "status"},
		)
		provider.httpRequestLatency = promreg.NewHistogramVec(
			promreg.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Duration of HTTP requests in seconds.",
				Buckets:   latencyBuckets,
			},
			[]string{"method", "route", "status"},
		)
		provider.promptCounter = promreg.NewCounterVec(
			promreg.CounterOpts{
				Namespace: namespace,
				Name:      "batch_prompts_total",
				Help:      "Prompts by lifecycle outcome (queued, skipped, duplicate, answered, failed, orphaned).",
			},
			[]string{"outcome"},
		)
		provider.batchCounter = promreg.NewCounterVec(
			promreg.CounterOpts{
				Namespace: namespace,
				Name:      "batch_requests_total",
				Help:      "Provider batch jobs by status transition.",
			},
			[]string{"provider", "status"},
		)
		provider.webhookCounter = promreg.NewCounterVec(
			promreg.CounterOpts{
				Namespace: namespace,
				Name:      "webhook_events_total",
				Help:      "Webhook deliveries by event type and outcome.",
			},
			[]string{"event", "outcome"},
		)
		provider.tokenCounter = promreg.NewCounterVec(
			promreg.CounterOpts{
				Namespace: namespace,
				Name:      "tokens_total",
				Help:      "Total prompt/completion tokens consumed by batch results.",
			},
			[]string{"model", "provider", "type"},
		)
		provider.costCounter = promreg.NewCounterVec(
			promreg.CounterOpts{
				Namespace: namespace,
				Name:      "cost_usd_total",
				Help:      "Estimated spend in USD after the batch discount.",
			},
			[]string{"model", "provider"},
		)
		for _, c := range []promreg.Collector{
			provider.httpRequestCounter,
			provider.httpRequestLatency,
			provider.promptCounter,
			provider.batchCounter,
			provider.webhookCounter,
			provider.tokenCounter,
			provider.costCounter,
		} {
			if err := registry.Register(c); err != nil {
				return nil, err
			}
		}
	}

	return provider, nil
}

func (p *Provider) PrometheusHandler() http.Handler {
	if p == nil || p.promHandler == nil {
		return nil
	}
	return p.promHandler
}

func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	for _, fn := range p.shutdownFuncs {
		if err := fn(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (p *Provider) TracerProvider() *sdktrace.TracerProvider {
	if p == nil {
		return nil
	}
	return p.tracerProvider
}

func (p *Provider) RecordHTTPRequest(_ context.Context, method, route string, status int, duration time.Duration) {
	if p == nil {
		return
	}

	statusLabel := strconv.Itoa(status)

	if p.httpRequestCounter != nil {
		p.httpRequestCounter.WithLabelValues(method, route, statusLabel).Inc()
	}

	if p.httpRequestLatency != nil {
		p.httpRequestLatency.WithLabelValues(method, route, statusLabel).Observe(duration.Seconds())
	}
}

func (p *Provider) RecordPrompt(outcome string) {
	if p == nil || p.promptCounter == nil {
		return
	}
	p.promptCounter.WithLabelValues(outcome).Inc()
}

func (p *Provider) RecordBatch(provider, status string) {
	if p == nil || p.batchCounter == nil {
		return
	}
	p.batchCounter.WithLabelValues(provider, status).Inc()
}

func (p *Provider) RecordWebhookEvent(event, outcome string) {
	if p == nil || p.webhookCounter == nil {
		return
	}
	p.webhookCounter.WithLabelValues(event, outcome).Inc()
}

// RecordUsage counts tokens and the estimated cost of one result.
func (p *Provider) RecordUsage(model, provider string, promptTokens, completionTokens int64, cost float64) {
	if p == nil {
		return
	}
	if p.tokenCounter != nil {
		if promptTokens > 0 {
			p.tokenCounter.WithLabelValues(model, provider, "prompt").Add(float64(promptTokens))
		}
		if completionTokens > 0 {
			p.tokenCounter.WithLabelValues(model, provider, "completion").Add(float64(completionTokens))
		}
	}
	if p.costCounter != nil && cost > 0 {
		p.costCounter.WithLabelValues(model, provider).Add(cost)
	}
}

package telemetry

import (
	"context"
	"log/slog"
	"os"

	"go.opentelemetry.io/contrib/detectors/aws/ecs"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/IliaW/page-renderer/config"
	"github.com/google/uuid"
)

var meter metric.Meter

type MetricsProvider struct {
	KafkaConsumerMetrics *KafkaConsumerMetrics
	KafkaProducerMetrics *KafkaProducerMetrics
	RenderMetrics        *RenderMetrics
	Close                func()
}

type KafkaConsumerMetrics struct {
	SuccessfullyReadMsgCnt func(count int64)
	FailedReadMsgCnt       func(count int64)
}

type KafkaProducerMetrics struct {
	SuccessfullySendMsgCnt func(count int64)
	FailedSendMsgCnt       func(count int64)
}

type RenderMetrics struct {
	SuccessfulRenderCnt    func(count int64)
	FailedRenderCnt        func(count int64)
	TimedOutRenderCnt      func(count int64)
	FallbackNavigationCnt  func(count int64)
	MissedNavigationSignal func(count int64)
	RenderDurationMs       func(ms int64)
}

// Discard returns metrics that record nothing.
func Discard() *MetricsProvider {
	noop := func(int64) {}
	return &MetricsProvider{
		KafkaConsumerMetrics: &KafkaConsumerMetrics{
			SuccessfullyReadMsgCnt: noop,
			FailedReadMsgCnt:       noop,
		},
		KafkaProducerMetrics: &KafkaProducerMetrics{
			SuccessfullySendMsgCnt: noop,
			FailedSendMsgCnt:       noop,
		},
		RenderMetrics: &RenderMetrics{
			SuccessfulRenderCnt:    noop,
			FailedRenderCnt:        noop,
			TimedOutRenderCnt:      noop,
			FallbackNavigationCnt:  noop,
			MissedNavigationSignal: noop,
			RenderDurationMs:       noop,
		},
		Close: func() {},
	}
}

func SetupMetrics(ctx context.Context, cfg *config.Config) *MetricsProvider {
	if !cfg.TelemetrySettings.Enabled {
		slog.Info("telemetry disabled.")
		return Discard()
	}

	metricsProvider := new(MetricsProvider)
	r, err := newResource(cfg)
	if err != nil {
		slog.Error("failed to get resource.", slog.String("err", err.Error()))
		os.Exit(1)
	}
	exporter, err := newMetricExporter(ctx, cfg.TelemetrySettings)
	if err != nil {
		slog.Error("failed to get metric exporter.", slog.String("err", err.Error()))
		os.Exit(1)
	}
	meterProvider := newMeterProvider(exporter, *r)
	otel.SetMeterProvider(meterProvider)

	meter = otel.Meter(cfg.ServiceName)
	metricsProvider.Close = func() {
		err := meterProvider.Shutdown(context.Background())
		if err != nil {
			slog.Error("failed to shutdown metrics provider.", slog.String("err", err.Error()))
		}
	}

	// Set up kafka consumer metrics
	kafkaConsumerSuccessCounter := mustCounter("page-renderer.kafka.read.success",
		"The number of render requests the kafka consumer successfully read")
	kafkaConsumerFailCounter := mustCounter("page-renderer.kafka.read.fail",
		"The number of render requests the kafka consumer could not read")
	metricsProvider.KafkaConsumerMetrics = &KafkaConsumerMetrics{
		SuccessfullyReadMsgCnt: func(count int64) { kafkaConsumerSuccessCounter.Add(ctx, count) },
		FailedReadMsgCnt:       func(count int64) { kafkaConsumerFailCounter.Add(ctx, count) },
	}

	// Set up kafka producer metrics
	kafkaProducerSuccessCounter := mustCounter("page-renderer.kafka.send.success",
		"The number of render notices the kafka producer successfully sent")
	kafkaProducerFailCounter := mustCounter("page-renderer.kafka.send.fail",
		"The number of render notices the kafka producer could not send")
	metricsProvider.KafkaProducerMetrics = &KafkaProducerMetrics{
		SuccessfullySendMsgCnt: func(count int64) { kafkaProducerSuccessCounter.Add(ctx, count) },
		FailedSendMsgCnt:       func(count int64) { kafkaProducerFailCounter.Add(ctx, count) },
	}

	// Set up render metrics
	renderSuccessCounter := mustCounter("page-renderer.renders.success",
		"The number of renders that produced a result")
	renderFailCounter := mustCounter("page-renderer.renders.fail",
		"The number of renders that failed on launch, navigation or extraction")
	renderTimeoutCounter := mustCounter("page-renderer.renders.timeout",
		"The number of renders abandoned at the deadline")
	fallbackCounter := mustCounter("page-renderer.navigation.fallback",
		"The number of navigations that needed the script fallback")
	missedSignalCounter := mustCounter("page-renderer.navigation.missed-signal",
		"The number of navigations whose completion signal never arrived")
	durationHistogram, err := meter.Int64Histogram("page-renderer.renders.duration",
		metric.WithDescription("Wall time of a render from launch to teardown"),
		metric.WithUnit("ms"))
	if err != nil {
		slog.Error("failed to create render duration histogram.", slog.String("err", err.Error()))
		os.Exit(1)
	}
	metricsProvider.RenderMetrics = &RenderMetrics{
		SuccessfulRenderCnt:    func(count int64) { renderSuccessCounter.Add(ctx, count) },
		FailedRenderCnt:        func(count int64) { renderFailCounter.Add(ctx, count) },
		TimedOutRenderCnt:      func(count int64) { renderTimeoutCounter.Add(ctx, count) },
		FallbackNavigationCnt:  func(count int64) { fallbackCounter.Add(ctx, count) },
		MissedNavigationSignal: func(count int64) { missedSignalCounter.Add(ctx, count) },
		RenderDurationMs:       func(ms int64) { durationHistogram.Record(ctx, ms) },
	}

	return metricsProvider
}

func mustCounter(name, description string) metric.Int64Counter {
	counter, err := meter.Int64Counter(name,
		metric.WithDescription(description),
		metric.WithUnit("{renders}"))
	if err != nil {
		slog.Error("failed to create telemetry counter.", slog.String("name", name),
			slog.String("err", err.Error()))
		os.Exit(1)
	}
	return counter
}

func newResource(cfg *config.Config) (*resource.Resource, error) {
	ecsResourceDetector := ecs.NewResourceDetector()
	ecsResource, err := ecsResourceDetector.Detect(context.Background())
	if err != nil {
		slog.Error("ecs detection failed", slog.String("err", err.Error()))
	}
	mergedResource, err := resource.Merge(ecsResource, resource.Default())
	if err != nil {
		slog.Error("failed to merge resources", slog.String("err", err.Error()))
	}
	keyValue, found := ecsResource.Set().Value("container.id")
	var serviceId string
	if found {
		serviceId = keyValue.AsString()
	} else {
		serviceId = uuid.New().String()
	}
	return resource.Merge(mergedResource,
		resource.NewWithAttributes(semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.Version),
			semconv.DeploymentEnvironment(cfg.Env),
			semconv.ServiceInstanceID(serviceId),
		))
}

func newMetricExporter(ctx context.Context, cfg *config.TelemetryConfig) (sdkmetric.Exporter, error) {
	return otlpmetrichttp.New(ctx,
		otlpmetrichttp.WithEndpoint(cfg.CollectorUrl),
		otlpmetrichttp.WithInsecure())
}

func newMeterProvider(meterExporter sdkmetric.Exporter, resource resource.Resource) *sdkmetric.MeterProvider {
	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(meterExporter)),
		sdkmetric.WithResource(&resource),
	)
	return meterProvider
}

// Package telemetry emits operational metrics to AWS CloudWatch. A Noop
// implementation backs local runs and tests so no AWS credentials are needed
// outside production.
package telemetry

import (
	"context"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"ngetem/internal/types"
)

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for
// testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatchMetrics publishes recommendation and signal-cache metrics to a
// CloudWatch namespace. Emission failures are logged and swallowed; metrics
// must never take down the request path.
type CloudWatchMetrics struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger
}

// NewCloudWatchMetrics creates a CloudWatchMetrics publishing to the given
// namespace.
func NewCloudWatchMetrics(client CloudWatchClient, namespace string, logger *slog.Logger) *CloudWatchMetrics {
	if logger == nil {
		logger = slog.Default()
	}
	if namespace == "" {
		namespace = types.MetricNamespace
	}
	return &CloudWatchMetrics{
		client:    client,
		namespace: namespace,
		logger:    logger,
	}
}

// RecommendLatency records the end-to-end duration of one recommendation
// cycle, dimensioned by the coarse area cell it served.
func (m *CloudWatchMetrics) RecommendLatency(ctx context.Context, area string, d time.Duration) {
	m.put(ctx, datum(types.MetricRecommendLatency, float64(d.Milliseconds()), cwtypes.StandardUnitMilliseconds,
		dim(types.DimArea, area)))
}

// UpstreamFailure records a failed fetch against an upstream signal source.
func (m *CloudWatchMetrics) UpstreamFailure(ctx context.Context, signal string) {
	m.put(ctx, datum(types.MetricUpstreamFailure, 1, cwtypes.StandardUnitCount,
		dim(types.DimSignal, signal)))
}

// WeightUpdate records one applied outcome-driven weight adjustment.
func (m *CloudWatchMetrics) WeightUpdate(ctx context.Context) {
	m.put(ctx, datum(types.MetricWeightUpdate, 1, cwtypes.StandardUnitCount))
}

// SignalCacheHit records a cache hit; stale hits are additionally counted
// under SignalStaleServe so degraded serving is visible on its own.
func (m *CloudWatchMetrics) SignalCacheHit(ctx context.Context, signal string, stale bool) {
	m.put(ctx, datum(types.MetricSignalCacheHit, 1, cwtypes.StandardUnitCount,
		dim(types.DimSignal, signal)))
	if stale {
		m.put(ctx, datum(types.MetricSignalStaleServe, 1, cwtypes.StandardUnitCount,
			dim(types.DimSignal, signal)))
	}
}

// SignalCacheMiss records a cache miss that forced a network fetch.
func (m *CloudWatchMetrics) SignalCacheMiss(ctx context.Context, signal string) {
	m.put(ctx, datum(types.MetricSignalCacheMiss, 1, cwtypes.StandardUnitCount,
		dim(types.DimSignal, signal)))
}

// SignalRefresh records one background cache re-warm attempt and its result.
func (m *CloudWatchMetrics) SignalRefresh(ctx context.Context, signal string, ok bool) {
	result := "success"
	if !ok {
		result = "failure"
	}
	m.put(ctx, datum(types.MetricSignalRefresh, 1, cwtypes.StandardUnitCount,
		dim(types.DimSignal, signal), dim(types.DimStatus, result)))
}

// RecordRequest records API request latency and count for the middleware
// chain.
func (m *CloudWatchMetrics) RecordRequest(method, endpoint, status string, duration time.Duration) {
	ctx := context.Background()
	dims := []cwtypes.Dimension{
		dim(types.DimMethod, method),
		dim(types.DimEndpoint, endpoint),
		dim(types.DimStatus, status),
	}
	m.put(ctx, datum(types.MetricAPILatency, float64(duration.Milliseconds()), cwtypes.StandardUnitMilliseconds, dims...))
	m.put(ctx, datum(types.MetricAPIRequestCount, 1, cwtypes.StandardUnitCount, dims...))
}

func (m *CloudWatchMetrics) put(ctx context.Context, d cwtypes.MetricDatum) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{d},
	}
	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.Error("failed to publish metric",
			"metric", aws.ToString(d.MetricName),
			"error", err,
		)
	}
}

func datum(name string, value float64, unit cwtypes.StandardUnit, dims ...cwtypes.Dimension) cwtypes.MetricDatum {
	return cwtypes.MetricDatum{
		MetricName: aws.String(name),
		Value:      aws.Float64(value),
		Unit:       unit,
		Dimensions: dims,
	}
}

func dim(name, value string) cwtypes.Dimension {
	return cwtypes.Dimension{
		Name:  aws.String(name),
		Value: aws.String(value),
	}
}

// NoopMetrics discards all metric calls. Used for local development and as
// the default when telemetry is disabled.
type NoopMetrics struct{}

func (NoopMetrics) RecommendLatency(context.Context, string, time.Duration) {}
func (NoopMetrics) UpstreamFailure(context.Context, string)                 {}
func (NoopMetrics) WeightUpdate(context.Context)                            {}
func (NoopMetrics) SignalCacheHit(context.Context, string, bool)            {}
func (NoopMetrics) SignalCacheMiss(context.Context, string)                 {}
func (NoopMetrics) SignalRefresh(context.Context, string, bool)             {}
func (NoopMetrics) RecordRequest(string, string, string, time.Duration)     {}

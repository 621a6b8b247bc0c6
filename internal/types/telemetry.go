package types

// Telemetry metric names for CloudWatch.
// All components MUST use these constants.
const (
	// Metric Names
	MetricRecommendLatency   = "RecommendLatency"
	MetricRecommendCount     = "RecommendCount"
	MetricSignalCacheHit     = "SignalCacheHit"
	MetricSignalCacheMiss    = "SignalCacheMiss"
	MetricSignalStaleServe   = "SignalStaleServe"
	MetricUpstreamFailure    = "UpstreamFailure"
	MetricWeightUpdate       = "WeightUpdate"
	MetricSignalRefresh      = "SignalRefresh"
	MetricAPILatency         = "APILatency"
	MetricAPIRequestCount    = "APIRequestCount"

	// Dimension Keys
	DimSignal   = "Signal"
	DimArea     = "Area"
	DimEndpoint = "Endpoint"
	DimMethod   = "Method"
	DimStatus   = "Status"

	// Metric Namespace
	MetricNamespace = "Ngetem"
)

package articles

// noopMetricsSink is the MetricsSink used when Config.Metrics is nil.
type noopMetricsSink struct{}

func (noopMetricsSink) RecordCacheHit(feedID string)                {}
func (noopMetricsSink) RecordCacheMiss(feedID string)               {}
func (noopMetricsSink) RecordHtmlFallback(feedID string)            {}
func (noopMetricsSink) RecordUniqueViolationSwallowed(feedID string) {}

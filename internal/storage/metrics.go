package storage

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const defaultMetricsCapacity = 10000

// SimpleMetricsCollector keeps the most recent storage metrics in memory
type SimpleMetricsCollector struct {
	metrics  []StorageMetrics
	capacity int
	mutex    sync.RWMutex
}

// NewSimpleMetricsCollector creates a collector holding up to 10000 metrics
func NewSimpleMetricsCollector() *SimpleMetricsCollector {
	return &SimpleMetricsCollector{
		metrics:  make([]StorageMetrics, 0),
		capacity: defaultMetricsCapacity,
	}
}

// RecordMetric records a storage operation metric, evicting the oldest when full
func (s *SimpleMetricsCollector) RecordMetric(metric StorageMetrics) {
	s.mutex.Lock()
	if len(s.metrics) >= s.capacity {
		s.metrics = s.metrics[1:]
	}
	s.metrics = append(s.metrics, metric)
	s.mutex.Unlock()

	event := log.Debug().
		Str("operation", metric.OperationType).
		Str("backend", metric.Backend).
		Int64("duration_ns", metric.Duration).
		Bool("success", metric.Success)
	if metric.Error != nil {
		event = event.Err(metric.Error)
	}
	event.Msg("Storage operation metric recorded")
}

// GetMetrics returns a copy of the collected metrics
func (s *SimpleMetricsCollector) GetMetrics() []StorageMetrics {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	result := make([]StorageMetrics, len(s.metrics))
	copy(result, s.metrics)
	return result
}

// MetricsSummary aggregates metrics per backend and operation
type MetricsSummary struct {
	TotalOperations int                                   `json:"total_operations"`
	ByBackend       map[string]map[string]*OperationStats `json:"by_backend"`
}

// GetMetricsSummary groups collected metrics by backend and operation
func (s *SimpleMetricsCollector) GetMetricsSummary() MetricsSummary {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	byBackend := make(map[string]map[string]*OperationStats)
	for _, metric := range s.metrics {
		ops := byBackend[metric.Backend]
		if ops == nil {
			ops = make(map[string]*OperationStats)
			byBackend[metric.Backend] = ops
		}
		stats := ops[metric.OperationType]
		if stats == nil {
			stats = &OperationStats{}
			ops[metric.OperationType] = stats
		}
		stats.add(metric)
	}

	return MetricsSummary{
		TotalOperations: len(s.metrics),
		ByBackend:       byBackend,
	}
}

// ClearMetrics clears all collected metrics
func (s *SimpleMetricsCollector) ClearMetrics() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.metrics = make([]StorageMetrics, 0)
}

// OperationStats holds statistics for a specific operation type
type OperationStats struct {
	Count         int   `json:"count"`
	SuccessCount  int   `json:"success_count"`
	FailureCount  int   `json:"failure_count"`
	TotalDuration int64 `json:"total_duration_ns"`
	MinDuration   int64 `json:"min_duration_ns"`
	MaxDuration   int64 `json:"max_duration_ns"`
	AvgDuration   int64 `json:"avg_duration_ns"`
}

func (o *OperationStats) add(metric StorageMetrics) {
	o.Count++
	o.TotalDuration += metric.Duration
	if metric.Success {
		o.SuccessCount++
	} else {
		o.FailureCount++
	}
	if o.Count == 1 || metric.Duration < o.MinDuration {
		o.MinDuration = metric.Duration
	}
	if metric.Duration > o.MaxDuration {
		o.MaxDuration = metric.Duration
	}
	o.AvgDuration = o.TotalDuration / int64(o.Count)
}

// GetSuccessRate returns the success rate as a percentage
func (o *OperationStats) GetSuccessRate() float64 {
	if o.Count == 0 {
		return 0.0
	}
	return float64(o.SuccessCount) / float64(o.Count) * 100.0
}

// GetAvgDurationMs returns the average duration in milliseconds
func (o *OperationStats) GetAvgDurationMs() float64 {
	return float64(o.AvgDuration) / float64(time.Millisecond)
}

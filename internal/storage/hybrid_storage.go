package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// HybridStore writes to a primary store and falls back to a secondary one.
// With Mirror set, successful writes are repeated on the secondary.
type HybridStore struct {
	primary          ArtifactStore
	secondary        ArtifactStore
	primaryName      string
	config           *StoreConfig
	metricsCollector MetricsCollector
}

// NewHybridStore combines two stores; primaryName is used in logs only
func NewHybridStore(primary, secondary ArtifactStore, primaryName string, config *StoreConfig, metrics MetricsCollector) *HybridStore {
	if config == nil {
		config = DefaultStoreConfig()
	}
	return &HybridStore{
		primary:          primary,
		secondary:        secondary,
		primaryName:      primaryName,
		config:           config,
		metricsCollector: metrics,
	}
}

func (h *HybridStore) PutArtifacts(ctx context.Context, files map[string][]byte, message string) (string, error) {
	start := time.Now()
	timeoutCtx, cancel := h.withTimeout(ctx)
	defer cancel()

	hash, err := h.primary.PutArtifacts(timeoutCtx, files, message)
	switch {
	case err == nil:
		h.recordHybridMetric("put", start, true, "primary_success")
		if h.config.Mirror {
			if _, mirrorErr := h.secondary.PutArtifacts(timeoutCtx, files, message); mirrorErr != nil {
				log.Warn().Err(mirrorErr).Msg("Failed to mirror artifacts to secondary store")
			}
		}
	case h.config.EnableFallback:
		log.Warn().Err(err).Str("primary", h.primaryName).Msg("Primary store failed, trying fallback")
		hash, err = h.secondary.PutArtifacts(timeoutCtx, files, message)
		h.recordHybridMetric("put", start, err == nil, fallbackResult(err))
	default:
		h.recordHybridMetric("put", start, false, "primary_failed_no_fallback")
	}
	return hash, err
}

func (h *HybridStore) GetArtifact(ctx context.Context, name string) ([]byte, error) {
	start := time.Now()
	timeoutCtx, cancel := h.withTimeout(ctx)
	defer cancel()

	data, err := h.primary.GetArtifact(timeoutCtx, name)
	switch {
	case err == nil:
		h.recordHybridMetric("get", start, true, "primary_success")
	case h.config.EnableFallback:
		log.Debug().Err(err).Str("path", name).Msg("Primary store miss, trying fallback")
		data, err = h.secondary.GetArtifact(timeoutCtx, name)
		h.recordHybridMetric("get", start, err == nil, fallbackResult(err))
	default:
		h.recordHybridMetric("get", start, false, "primary_failed_no_fallback")
	}
	return data, err
}

func (h *HybridStore) ListArtifacts(ctx context.Context, prefix string) ([]string, error) {
	start := time.Now()
	timeoutCtx, cancel := h.withTimeout(ctx)
	defer cancel()

	paths, err := h.primary.ListArtifacts(timeoutCtx, prefix)
	if err != nil && h.config.EnableFallback {
		paths, err = h.secondary.ListArtifacts(timeoutCtx, prefix)
		h.recordHybridMetric("list", start, err == nil, fallbackResult(err))
		return paths, err
	}
	h.recordHybridMetric("list", start, err == nil, "primary")
	return paths, err
}

// Health succeeds when at least one store is healthy
func (h *HybridStore) Health(ctx context.Context) error {
	start := time.Now()
	timeoutCtx, cancel := h.withTimeout(ctx)
	defer cancel()

	primaryErr := h.primary.Health(timeoutCtx)
	secondaryErr := h.secondary.Health(timeoutCtx)

	switch {
	case primaryErr == nil && secondaryErr == nil:
		h.recordHybridMetric("health", start, true, "both_healthy")
		return nil
	case primaryErr == nil:
		h.recordHybridMetric("health", start, true, "secondary_failed")
		return nil
	case secondaryErr == nil:
		h.recordHybridMetric("health", start, true, "primary_failed")
		return nil
	default:
		h.recordHybridMetric("health", start, false, "both_failed")
		return fmt.Errorf("both stores unhealthy - primary: %v, secondary: %v", primaryErr, secondaryErr)
	}
}

// Stats describes the configuration and, for govc members, memory usage
func (h *HybridStore) Stats() map[string]interface{} {
	stats := map[string]interface{}{
		"primary": h.primaryName,
		"config":  h.config,
	}
	for _, s := range []ArtifactStore{h.primary, h.secondary} {
		if g, ok := s.(*GovcStore); ok {
			stats["govc"] = g.MemoryStats()
		}
	}
	return stats
}

func (h *HybridStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if h.config.OperationTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, h.config.OperationTimeout)
}

func (h *HybridStore) recordHybridMetric(operation string, start time.Time, success bool, result string) {
	if h.metricsCollector != nil {
		h.metricsCollector.RecordMetric(StorageMetrics{
			OperationType: operation,
			Duration:      time.Since(start).Nanoseconds(),
			Success:       success,
			Backend:       fmt.Sprintf("hybrid_%s", result),
		})
	}
}

func fallbackResult(err error) string {
	if err == nil {
		return "fallback_success"
	}
	return "both_failed"
}

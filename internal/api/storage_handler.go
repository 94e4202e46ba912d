package api

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/Caia-Tech/hdrp/internal/storage"
)

// StorageHandler exposes published artifacts and storage metrics
type StorageHandler struct {
	store   storage.ArtifactStore
	metrics *storage.SimpleMetricsCollector
}

// NewStorageHandler creates a new storage handler
func NewStorageHandler(store storage.ArtifactStore, metrics *storage.SimpleMetricsCollector) *StorageHandler {
	return &StorageHandler{store: store, metrics: metrics}
}

// ListArtifacts lists stored artifact paths under ?prefix=
func (h *StorageHandler) ListArtifacts(c *fiber.Ctx) error {
	prefix := c.Query("prefix")
	if run := c.Query("run"); run != "" {
		prefix = storage.RunPrefix(run)
	}

	names, err := h.store.ListArtifacts(c.Context(), prefix)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   "Failed to list artifacts",
			"details": err.Error(),
		})
	}
	return c.JSON(fiber.Map{
		"artifacts": names,
		"total":     len(names),
	})
}

// GetArtifact streams one artifact. JSONL and JSON files keep their content type.
func (h *StorageHandler) GetArtifact(c *fiber.Ctx) error {
	name := c.Params("*")
	if name == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Artifact path is required",
		})
	}

	data, err := h.store.GetArtifact(c.Context(), name)
	if err != nil {
		status := fiber.StatusInternalServerError
		if errors.Is(err, storage.ErrArtifactNotFound) {
			status = fiber.StatusNotFound
		}
		return c.Status(status).JSON(fiber.Map{
			"error": err.Error(),
			"name":  name,
		})
	}

	switch {
	case strings.HasSuffix(name, ".jsonl"):
		c.Set(fiber.HeaderContentType, "application/x-ndjson")
	case strings.HasSuffix(name, ".json"):
		c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	default:
		c.Set(fiber.HeaderContentType, fiber.MIMEOctetStream)
	}
	return c.Send(data)
}

// GetStorageMetrics returns the per-operation storage metrics
func (h *StorageHandler) GetStorageMetrics(c *fiber.Ctx) error {
	if h.metrics == nil {
		return c.JSON(fiber.Map{"metrics_summary": nil, "total_operations": 0})
	}
	return c.JSON(fiber.Map{
		"metrics_summary":  h.metrics.GetMetricsSummary(),
		"total_operations": len(h.metrics.GetMetrics()),
	})
}

// GetStorageHealth checks the artifact store
func (h *StorageHandler) GetStorageHealth(c *fiber.Ctx) error {
	if err := h.store.Health(c.Context()); err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"healthy": false,
			"error":   err.Error(),
		})
	}
	return c.JSON(fiber.Map{"healthy": true})
}

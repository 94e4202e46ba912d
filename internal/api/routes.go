package api

import (
	"github.com/gofiber/fiber/v2"
)

// ErrorHandler renders errors as JSON
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
	}
	return c.Status(code).JSON(fiber.Map{
		"error": err.Error(),
	})
}

// SetupRoutes configures all API routes. storageHandler may be nil when no
// artifact store is configured.
func SetupRoutes(app *fiber.App, h *Handlers, storageHandler *StorageHandler) {
	app.Get("/health", h.Health)

	v1 := app.Group("/api/v1")

	v1.Post("/normalize", h.Normalize)
	v1.Post("/classify", h.Classify)
	v1.Post("/score", h.Score)

	runs := v1.Group("/runs")
	runs.Post("/", h.StartRun)
	runs.Get("/", h.ListRuns)
	runs.Get("/:id", h.GetRun)

	v1.Post("/schedules", h.CreateSchedule)

	if storageHandler != nil {
		v1.Get("/artifacts", storageHandler.ListArtifacts)
		v1.Get("/artifacts/*", storageHandler.GetArtifact)

		storage := v1.Group("/storage")
		storage.Get("/metrics", storageHandler.GetStorageMetrics)
		storage.Get("/health", storageHandler.GetStorageHealth)
	}

	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"service": "Hassaniya Data Refinery Pipeline",
			"version": "2.0.0",
		})
	})
}

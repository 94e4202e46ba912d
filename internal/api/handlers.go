package api

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.temporal.io/api/workflowservice/v1"
	"go.temporal.io/sdk/client"

	"github.com/Caia-Tech/hdrp/internal/collector"
	"github.com/Caia-Tech/hdrp/internal/pipeline"
	"github.com/Caia-Tech/hdrp/internal/refinery"
	"github.com/Caia-Tech/hdrp/internal/temporal/workflows"
	"github.com/Caia-Tech/hdrp/pkg/episode"
)

// WorkflowClient is the part of client.Client the handlers use
type WorkflowClient interface {
	ExecuteWorkflow(ctx context.Context, options client.StartWorkflowOptions, workflow interface{}, args ...interface{}) (client.WorkflowRun, error)
	DescribeWorkflowExecution(ctx context.Context, workflowID, runID string) (*workflowservice.DescribeWorkflowExecutionResponse, error)
}

// Handlers contains the HTTP handlers for the API
type Handlers struct {
	temporal   WorkflowClient
	taskQueue  string
	tracker    *pipeline.RunTracker
	refinery   *refinery.Refinery
	classifier *collector.Classifier
}

// NewHandlers creates a new handlers instance. temporal may be nil, in which
// case the run endpoints answer 503.
func NewHandlers(temporal WorkflowClient, taskQueue string, tracker *pipeline.RunTracker, r *refinery.Refinery) (*Handlers, error) {
	classifier, err := collector.NewClassifier(collector.DefaultRuleset())
	if err != nil {
		return nil, err
	}
	if tracker == nil {
		tracker = pipeline.NewRunTracker()
	}
	return &Handlers{
		temporal:   temporal,
		taskQueue:  taskQueue,
		tracker:    tracker,
		refinery:   r,
		classifier: classifier,
	}, nil
}

// Health returns the service health status
func (h *Handlers) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "healthy",
		"service":   "hdrp",
		"version":   "2.0.0",
		"temporal":  h.temporal != nil,
		"timestamp": time.Now().UTC(),
	})
}

// TextRequest carries one piece of text to normalize, classify or score
type TextRequest struct {
	Text      string             `json:"text"`
	Bucket    string             `json:"bucket,omitempty"`
	LangProbs map[string]float64 `json:"lang_probs,omitempty"`
}

func parseText(c *fiber.Ctx) (TextRequest, error) {
	var req TextRequest
	if err := c.BodyParser(&req); err != nil {
		return req, fmt.Errorf("invalid request body: %w", err)
	}
	if strings.TrimSpace(req.Text) == "" {
		return req, fmt.Errorf("text is required")
	}
	return req, nil
}

func badRequest(c *fiber.Ctx, err error) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error": err.Error(),
	})
}

// Normalize runs the normalization rules over a text
func (h *Handlers) Normalize(c *fiber.Ctx) error {
	req, err := parseText(c)
	if err != nil {
		return badRequest(c, err)
	}

	norm, applied := h.refinery.Normalizer().Apply(req.Text)
	return c.JSON(fiber.Map{
		"raw":           req.Text,
		"norm":          norm,
		"applied_rules": applied,
	})
}

// Classify labels a text with bucket, topic, heat and language probabilities
func (h *Handlers) Classify(c *fiber.Ctx) error {
	req, err := parseText(c)
	if err != nil {
		return badRequest(c, err)
	}

	return c.JSON(fiber.Map{
		"bucket":     h.classifier.Bucket(req.Text),
		"topic":      h.classifier.Topic(req.Text),
		"heat":       h.classifier.Heat(req.Text),
		"lang_probs": collector.LangProbs(req.Text),
	})
}

// Score normalizes and scores a text as a single segment. Language
// probabilities and bucket are estimated when the request omits them.
func (h *Handlers) Score(c *fiber.Ctx) error {
	req, err := parseText(c)
	if err != nil {
		return badRequest(c, err)
	}

	probs := req.LangProbs
	if probs == nil {
		probs = collector.LangProbs(req.Text)
	}
	bucket := req.Bucket
	if bucket == "" {
		bucket = h.classifier.Bucket(req.Text)
	}

	ep := &episode.Episode{EpisodeID: "EP-API", Bucket: bucket}
	seg := episode.NewSegment(1, episode.SpeakerUser, req.Text, probs)
	h.refinery.Normalizer().NormalizeSegment(&seg)
	res := h.refinery.Scorer().ScoreSegment(&seg, ep)

	return c.JSON(fiber.Map{
		"norm":      seg.NormText(),
		"bucket":    bucket,
		"dqs":       res.Score,
		"decision":  res.Decision,
		"flags":     res.Flags,
		"breakdown": res.Breakdown,
	})
}

// RunRequest starts a refinery run
type RunRequest struct {
	ChatFile       string   `json:"chat_file"`
	EpisodeFiles   []string `json:"episode_files"`
	URLs           []string `json:"urls"`
	Documents      []string `json:"documents"`
	SamplingConfig string   `json:"sampling_config"`
	Publish        bool     `json:"publish"`
}

// RunResponse identifies a started workflow
type RunResponse struct {
	RunID      string `json:"run_id"`
	WorkflowID string `json:"workflow_id"`
	ExecID     string `json:"execution_id"`
	Schedule   string `json:"schedule,omitempty"`
}

func (h *Handlers) requireTemporal(c *fiber.Ctx) error {
	if h.temporal == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "Workflow engine not available",
		})
	}
	return nil
}

// StartRun starts a RefineryRunWorkflow
func (h *Handlers) StartRun(c *fiber.Ctx) error {
	if h.temporal == nil {
		return h.requireTemporal(c)
	}

	var req RunRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, fmt.Errorf("invalid request body: %w", err))
	}

	input := workflows.RunInput{
		RunID:          NewRunID(time.Now()),
		ChatFile:       req.ChatFile,
		EpisodeFiles:   req.EpisodeFiles,
		URLs:           req.URLs,
		Documents:      req.Documents,
		SamplingConfig: req.SamplingConfig,
		Publish:        req.Publish,
	}
	if !input.HasSources() {
		return badRequest(c, fmt.Errorf("one of chat_file, episode_files, urls or documents is required"))
	}

	workflowID := WorkflowID(input.RunID)
	we, err := h.temporal.ExecuteWorkflow(c.Context(), client.StartWorkflowOptions{
		ID:        workflowID,
		TaskQueue: h.taskQueue,
	}, workflows.RefineryRunWorkflow, input)
	if err != nil {
		log.Error().Err(err).Str("run_id", input.RunID).Msg("Failed to start refinery run")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   "Failed to start refinery run",
			"details": err.Error(),
		})
	}

	log.Info().Str("run_id", input.RunID).Str("workflow_id", workflowID).Msg("Started refinery run")
	return c.Status(fiber.StatusAccepted).JSON(RunResponse{
		RunID:      input.RunID,
		WorkflowID: we.GetID(),
		ExecID:     we.GetRunID(),
	})
}

// ScheduleRequest creates a recurring run
type ScheduleRequest struct {
	Name           string   `json:"name"`
	URLs           []string `json:"urls"`
	Documents      []string `json:"documents"`
	Schedule       string   `json:"schedule"`
	SamplingConfig string   `json:"sampling_config"`
	Publish        bool     `json:"publish"`
}

// CreateSchedule starts a ScheduledRunWorkflow on a cron schedule
func (h *Handlers) CreateSchedule(c *fiber.Ctx) error {
	if h.temporal == nil {
		return h.requireTemporal(c)
	}

	var req ScheduleRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, fmt.Errorf("invalid request body: %w", err))
	}
	switch {
	case req.Name == "":
		return badRequest(c, fmt.Errorf("name is required"))
	case req.Schedule == "":
		return badRequest(c, fmt.Errorf("schedule is required"))
	case len(strings.Fields(req.Schedule)) != 5:
		return badRequest(c, fmt.Errorf("schedule must be a five-field cron expression"))
	case len(req.URLs) == 0 && len(req.Documents) == 0:
		return badRequest(c, fmt.Errorf("urls or documents are required"))
	}

	workflowID := "scheduled-" + req.Name
	we, err := h.temporal.ExecuteWorkflow(c.Context(), client.StartWorkflowOptions{
		ID:           workflowID,
		TaskQueue:    h.taskQueue,
		CronSchedule: req.Schedule,
	}, workflows.ScheduledRunWorkflow, workflows.ScheduledRunInput{
		Name:           req.Name,
		URLs:           req.URLs,
		Documents:      req.Documents,
		Schedule:       req.Schedule,
		SamplingConfig: req.SamplingConfig,
		Publish:        req.Publish,
	})
	if err != nil {
		log.Error().Err(err).Str("name", req.Name).Msg("Failed to create schedule")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   "Failed to create schedule",
			"details": err.Error(),
		})
	}

	return c.Status(fiber.StatusAccepted).JSON(RunResponse{
		WorkflowID: we.GetID(),
		ExecID:     we.GetRunID(),
		Schedule:   req.Schedule,
	})
}

// RunStatusResponse merges the workflow status with the stage progress
// reported on the event bus
type RunStatusResponse struct {
	RunID          string              `json:"run_id"`
	WorkflowID     string              `json:"workflow_id"`
	WorkflowStatus string              `json:"workflow_status,omitempty"`
	StartTime      *time.Time          `json:"start_time,omitempty"`
	CloseTime      *time.Time          `json:"close_time,omitempty"`
	Progress       *pipeline.RunStatus `json:"progress,omitempty"`
}

// GetRun returns the status of a run
func (h *Handlers) GetRun(c *fiber.Ctx) error {
	runID := c.Params("id")
	resp := RunStatusResponse{RunID: runID, WorkflowID: WorkflowID(runID)}

	if status, ok := h.tracker.Get(runID); ok {
		resp.Progress = &status
	}

	if h.temporal != nil {
		desc, err := h.temporal.DescribeWorkflowExecution(c.Context(), resp.WorkflowID, "")
		if err != nil {
			log.Debug().Err(err).Str("workflow_id", resp.WorkflowID).Msg("Describe failed")
		} else if info := desc.GetWorkflowExecutionInfo(); info != nil {
			resp.WorkflowStatus = info.GetStatus().String()
			if info.GetStartTime() != nil {
				start := info.GetStartTime().AsTime()
				resp.StartTime = &start
			}
			if info.GetCloseTime() != nil {
				closed := info.GetCloseTime().AsTime()
				resp.CloseTime = &closed
			}
		}
	}

	if resp.Progress == nil && resp.WorkflowStatus == "" {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":  "Run not found",
			"run_id": runID,
		})
	}
	return c.JSON(resp)
}

// ListRuns returns the runs this process has seen, newest first
func (h *Handlers) ListRuns(c *fiber.Ctx) error {
	runs := h.tracker.List()
	return c.JSON(fiber.Map{
		"runs":  runs,
		"total": len(runs),
	})
}

// NewRunID returns a unique run ID that keeps the run_YYYYMMDD_HHMM prefix
func NewRunID(t time.Time) string {
	return refinery.NewRunID(t) + "_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
}

// WorkflowID is the workflow ID of a run
func WorkflowID(runID string) string {
	return "run-" + runID
}

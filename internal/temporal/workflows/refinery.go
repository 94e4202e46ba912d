package workflows

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

func activityOptions(timeout time.Duration) workflow.ActivityOptions {
	return workflow.ActivityOptions{
		StartToCloseTimeout: timeout,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts:        3,
			InitialInterval:        1 * time.Second,
			BackoffCoefficient:     2.0,
			MaximumInterval:        30 * time.Second,
			NonRetryableErrorTypes: []string{InvalidInputErrorType, ConfigErrorType, ExtractionErrorType},
		},
	}
}

// RefineryRunWorkflow converts and collects raw data into episodes, refines
// them, exports the training corpora and optionally publishes the export.
func RefineryRunWorkflow(ctx workflow.Context, input RunInput) (RunResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("Starting refinery run", "runID", input.RunID)

	if input.RunID == "" {
		return RunResult{}, temporal.NewNonRetryableApplicationError("run ID cannot be empty", InvalidInputErrorType, nil)
	}
	if !input.HasSources() {
		return RunResult{}, temporal.NewNonRetryableApplicationError("run has no input files, URLs or documents", InvalidInputErrorType, nil)
	}

	ctx = workflow.WithActivityOptions(ctx, activityOptions(30*time.Minute))
	notify(ctx, input.RunID, NotifyStarted, nil)

	result, err := runStages(ctx, input)
	if err != nil {
		logger.Error("Refinery run failed", "runID", input.RunID, "error", err)
		notify(ctx, input.RunID, NotifyFailed, err)
		return RunResult{}, err
	}

	notify(ctx, input.RunID, NotifyCompleted, nil)
	logger.Info("Refinery run completed", "runID", input.RunID, "gatesPass", result.GatesPass)
	return result, nil
}

func runStages(ctx workflow.Context, input RunInput) (RunResult, error) {
	result := RunResult{RunID: input.RunID}
	files := append([]string(nil), input.EpisodeFiles...)

	// Conversion and collection are independent
	var convertFuture, collectFuture workflow.Future
	if input.ChatFile != "" {
		convertFuture = workflow.ExecuteActivity(ctx, ConvertActivityName, ConvertInput{
			RunID:    input.RunID,
			ChatFile: input.ChatFile,
		})
	}
	if len(input.URLs) > 0 || len(input.Documents) > 0 {
		collectFuture = workflow.ExecuteActivity(ctx, CollectActivityName, CollectInput{
			RunID:     input.RunID,
			URLs:      input.URLs,
			Documents: input.Documents,
		})
	}

	for _, f := range []workflow.Future{convertFuture, collectFuture} {
		if f == nil {
			continue
		}
		var res EpisodesResult
		if err := f.Get(ctx, &res); err != nil {
			return result, err
		}
		if res.Episodes > 0 {
			files = append(files, res.EpisodesFile)
		}
	}
	if len(files) == 0 {
		return result, temporal.NewNonRetryableApplicationError("no episodes were produced", InvalidInputErrorType, nil)
	}

	var refined RefineResult
	if err := workflow.ExecuteActivity(ctx, RefineActivityName, RefineInput{
		RunID:        input.RunID,
		EpisodeFiles: files,
	}).Get(ctx, &refined); err != nil {
		return result, err
	}
	result.RefinedFile = refined.RefinedFile
	result.EpisodesRefined = refined.EpisodesOutput
	result.DuplicatesRemoved = refined.DuplicatesRemoved

	var exported ExportResult
	if err := workflow.ExecuteActivity(ctx, ExportActivityName, ExportInput{
		RunID:          input.RunID,
		RefinedFile:    refined.RefinedFile,
		SamplingConfig: input.SamplingConfig,
	}).Get(ctx, &exported); err != nil {
		return result, err
	}
	result.ExportDir = exported.ExportDir
	result.DAPTRecords = exported.DAPTRecords
	result.SFTRecords = exported.SFTRecords
	result.EvalRecords = exported.EvalRecords
	result.GatesPass = exported.GatesPass

	if !input.Publish {
		return result, nil
	}

	var published PublishResult
	if err := workflow.ExecuteActivity(ctx, PublishActivityName, PublishInput{
		RunID: input.RunID,
		Dir:   exported.ExportDir,
	}).Get(ctx, &published); err != nil {
		return result, err
	}
	result.CommitHash = published.CommitHash
	result.Artifacts = published.Artifacts
	return result, nil
}

// notify is best effort; a lost lifecycle event must not fail the run
func notify(ctx workflow.Context, runID, eventType string, runErr error) {
	in := NotifyInput{RunID: runID, Type: eventType}
	if runErr != nil {
		in.Error = runErr.Error()
	}
	nctx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Second,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1},
	})
	if err := workflow.ExecuteActivity(nctx, NotifyRunActivityName, in).Get(nctx, nil); err != nil {
		workflow.GetLogger(ctx).Warn("Failed to record run event", "runID", runID, "type", eventType, "error", err)
	}
}

// RunID formats a run ID from the workflow clock
func RunID(ctx workflow.Context) string {
	return fmt.Sprintf("run_%s", workflow.Now(ctx).UTC().Format("20060102_1504"))
}

// ScheduledRunWorkflow starts a refinery run over a fixed set of sources on
// every cron tick
func ScheduledRunWorkflow(ctx workflow.Context, input ScheduledRunInput) (RunResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("Starting scheduled run", "name", input.Name, "schedule", input.Schedule)

	runID := RunID(ctx)
	if input.Name != "" {
		runID = input.Name + "_" + runID
	}

	childCtx := workflow.WithChildOptions(ctx, workflow.ChildWorkflowOptions{
		WorkflowID: "run-" + runID,
	})

	var result RunResult
	err := workflow.ExecuteChildWorkflow(childCtx, RefineryRunWorkflow, RunInput{
		RunID:          runID,
		URLs:           input.URLs,
		Documents:      input.Documents,
		SamplingConfig: input.SamplingConfig,
		Publish:        input.Publish,
	}).Get(ctx, &result)
	if err != nil {
		logger.Error("Scheduled run failed", "runID", runID, "error", err)
		return RunResult{}, err
	}

	logger.Info("Scheduled run completed", "runID", runID, "sftRecords", result.SFTRecords)
	return result, nil
}

package workflows

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"
)

// registerStubs registers placeholder implementations under the activity
// names so tests can mock them by name
func registerStubs(env *testsuite.TestWorkflowEnvironment) {
	env.RegisterActivityWithOptions(func(ctx context.Context, in ConvertInput) (EpisodesResult, error) {
		return EpisodesResult{}, nil
	}, activity.RegisterOptions{Name: ConvertActivityName})
	env.RegisterActivityWithOptions(func(ctx context.Context, in CollectInput) (EpisodesResult, error) {
		return EpisodesResult{}, nil
	}, activity.RegisterOptions{Name: CollectActivityName})
	env.RegisterActivityWithOptions(func(ctx context.Context, in RefineInput) (RefineResult, error) {
		return RefineResult{}, nil
	}, activity.RegisterOptions{Name: RefineActivityName})
	env.RegisterActivityWithOptions(func(ctx context.Context, in ExportInput) (ExportResult, error) {
		return ExportResult{}, nil
	}, activity.RegisterOptions{Name: ExportActivityName})
	env.RegisterActivityWithOptions(func(ctx context.Context, in PublishInput) (PublishResult, error) {
		return PublishResult{}, nil
	}, activity.RegisterOptions{Name: PublishActivityName})
	env.RegisterActivityWithOptions(func(ctx context.Context, in NotifyInput) error {
		return nil
	}, activity.RegisterOptions{Name: NotifyRunActivityName})
}

func TestRefineryRunWorkflow(t *testing.T) {
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestWorkflowEnvironment()
	registerStubs(env)

	env.OnActivity(ConvertActivityName, mock.Anything, ConvertInput{RunID: "run_1", ChatFile: "train.jsonl"}).
		Return(EpisodesResult{EpisodesFile: "data/episodes/run_1/episodes_batch_initial.jsonl", Episodes: 10}, nil).Once()
	env.OnActivity(CollectActivityName, mock.Anything, mock.Anything).
		Return(EpisodesResult{EpisodesFile: "data/episodes/run_1/episodes_collected.jsonl", Episodes: 2}, nil).Once()
	env.OnActivity(RefineActivityName, mock.Anything, RefineInput{
		RunID: "run_1",
		EpisodeFiles: []string{
			"seed.jsonl",
			"data/episodes/run_1/episodes_batch_initial.jsonl",
			"data/episodes/run_1/episodes_collected.jsonl",
		},
	}).Return(RefineResult{RefinedFile: "refined.jsonl", EpisodesInput: 13, EpisodesOutput: 12, DuplicatesRemoved: 1}, nil).Once()
	env.OnActivity(ExportActivityName, mock.Anything, ExportInput{RunID: "run_1", RefinedFile: "refined.jsonl"}).
		Return(ExportResult{ExportDir: "exports/run_1", DAPTRecords: 30, SFTRecords: 8, EvalRecords: 1}, nil).Once()
	env.OnActivity(PublishActivityName, mock.Anything, PublishInput{RunID: "run_1", Dir: "exports/run_1"}).
		Return(PublishResult{CommitHash: "abc123", Artifacts: []string{"runs/run_1/sft_train.jsonl"}}, nil).Once()
	env.OnActivity(NotifyRunActivityName, mock.Anything, NotifyInput{RunID: "run_1", Type: NotifyStarted}).Return(nil).Once()
	env.OnActivity(NotifyRunActivityName, mock.Anything, NotifyInput{RunID: "run_1", Type: NotifyCompleted}).Return(nil).Once()

	env.ExecuteWorkflow(RefineryRunWorkflow, RunInput{
		RunID:        "run_1",
		ChatFile:     "train.jsonl",
		EpisodeFiles: []string{"seed.jsonl"},
		URLs:         []string{"https://example.org/page"},
		Publish:      true,
	})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())
	env.AssertExpectations(t)

	var result RunResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.Equal(t, "run_1", result.RunID)
	assert.Equal(t, 12, result.EpisodesRefined)
	assert.Equal(t, 1, result.DuplicatesRemoved)
	assert.Equal(t, 8, result.SFTRecords)
	assert.Equal(t, "abc123", result.CommitHash)
	assert.False(t, result.GatesPass)
}

func TestRefineryRunWorkflow_SkipsPublishAndEmptySources(t *testing.T) {
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestWorkflowEnvironment()
	registerStubs(env)

	env.OnActivity(CollectActivityName, mock.Anything, mock.Anything).
		Return(EpisodesResult{EpisodesFile: "collected.jsonl", Episodes: 0}, nil).Once()
	env.OnActivity(RefineActivityName, mock.Anything, RefineInput{RunID: "run_2", EpisodeFiles: []string{"seed.jsonl"}}).
		Return(RefineResult{RefinedFile: "refined.jsonl", EpisodesOutput: 4}, nil).Once()
	env.OnActivity(ExportActivityName, mock.Anything, mock.Anything).
		Return(ExportResult{ExportDir: "exports/run_2", GatesPass: true}, nil).Once()
	env.OnActivity(NotifyRunActivityName, mock.Anything, mock.Anything).Return(nil)

	env.ExecuteWorkflow(RefineryRunWorkflow, RunInput{
		RunID:        "run_2",
		EpisodeFiles: []string{"seed.jsonl"},
		Documents:    []string{"empty.txt"},
	})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())
	env.AssertExpectations(t)

	var result RunResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.True(t, result.GatesPass)
	assert.Empty(t, result.CommitHash)
}

func TestRefineryRunWorkflow_InvalidInput(t *testing.T) {
	testSuite := &testsuite.WorkflowTestSuite{}

	for name, input := range map[string]RunInput{
		"no run id":  {ChatFile: "train.jsonl"},
		"no sources": {RunID: "run_3"},
	} {
		t.Run(name, func(t *testing.T) {
			env := testSuite.NewTestWorkflowEnvironment()
			registerStubs(env)

			env.ExecuteWorkflow(RefineryRunWorkflow, input)

			require.True(t, env.IsWorkflowCompleted())
			err := env.GetWorkflowError()
			require.Error(t, err)
			var appErr *temporal.ApplicationError
			require.True(t, errors.As(err, &appErr))
			assert.Equal(t, InvalidInputErrorType, appErr.Type())
		})
	}
}

func TestRefineryRunWorkflow_StageFailureNotifies(t *testing.T) {
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestWorkflowEnvironment()
	registerStubs(env)

	env.OnActivity(RefineActivityName, mock.Anything, mock.Anything).
		Return(RefineResult{}, temporal.NewNonRetryableApplicationError("bad thresholds", ConfigErrorType, nil))
	env.OnActivity(NotifyRunActivityName, mock.Anything, NotifyInput{RunID: "run_4", Type: NotifyStarted}).Return(nil).Once()
	env.OnActivity(NotifyRunActivityName, mock.Anything, mock.MatchedBy(func(in NotifyInput) bool {
		return in.Type == NotifyFailed && in.Error != ""
	})).Return(nil).Once()

	env.ExecuteWorkflow(RefineryRunWorkflow, RunInput{RunID: "run_4", EpisodeFiles: []string{"seed.jsonl"}})

	require.True(t, env.IsWorkflowCompleted())
	require.Error(t, env.GetWorkflowError())
	env.AssertExpectations(t)
}

func TestRefineryRunWorkflow_NotifyFailureIsIgnored(t *testing.T) {
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestWorkflowEnvironment()
	registerStubs(env)

	env.OnActivity(NotifyRunActivityName, mock.Anything, mock.Anything).Return(errors.New("bus closed"))
	env.OnActivity(RefineActivityName, mock.Anything, mock.Anything).Return(RefineResult{RefinedFile: "r.jsonl"}, nil)
	env.OnActivity(ExportActivityName, mock.Anything, mock.Anything).Return(ExportResult{}, nil)

	env.ExecuteWorkflow(RefineryRunWorkflow, RunInput{RunID: "run_5", EpisodeFiles: []string{"seed.jsonl"}})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())
}

func TestScheduledRunWorkflow(t *testing.T) {
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestWorkflowEnvironment()

	env.OnWorkflow(RefineryRunWorkflow, mock.Anything, mock.MatchedBy(func(in RunInput) bool {
		return len(in.URLs) == 1 && in.Publish && len(in.RunID) > len("weekly_run_")
	})).Return(RunResult{RunID: "weekly", SFTRecords: 3}, nil).Once()

	env.ExecuteWorkflow(ScheduledRunWorkflow, ScheduledRunInput{
		Name:     "weekly",
		URLs:     []string{"https://example.org"},
		Schedule: "0 2 * * 1",
		Publish:  true,
	})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())
	env.AssertExpectations(t)

	var result RunResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.Equal(t, 3, result.SFTRecords)
}

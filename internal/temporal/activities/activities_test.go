package activities

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/testsuite"

	"github.com/Caia-Tech/hdrp/internal/export"
	"github.com/Caia-Tech/hdrp/internal/pipeline"
	"github.com/Caia-Tech/hdrp/internal/storage"
	"github.com/Caia-Tech/hdrp/internal/temporal/workflows"
	config "github.com/Caia-Tech/hdrp/pkg/pipeline"
)

const chatSample = `{"messages":[{"role":"system","content":"You speak Hassaniya"},{"role":"user","content":"مرحبا"},{"role":"assistant","content":"اشحالك"}],"_source":"whatsapp"}`

func testConfig(t *testing.T) *config.PipelineConfig {
	t.Helper()
	root := t.TempDir()
	cfg := config.DefaultPipelineConfig()
	cfg.Paths = &config.PathsConfig{
		DataRoot:     root,
		EpisodesDir:  filepath.Join(root, "episodes"),
		RefinedDir:   filepath.Join(root, "refined"),
		ExportDir:    filepath.Join(root, "exports"),
		ManifestsDir: filepath.Join(root, "manifests"),
	}
	cfg.Export.SamplingConfig = ""
	return cfg
}

func TestActivities_FullRun(t *testing.T) {
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestActivityEnvironment()

	cfg := testConfig(t)
	store, err := storage.NewGitStore(filepath.Join(t.TempDir(), "artifacts"), nil)
	require.NoError(t, err)

	bus := pipeline.NewEventBus(64, 1)
	tracker := pipeline.NewRunTracker()
	require.NoError(t, tracker.Attach(bus))

	acts := New(cfg, store, bus)
	env.RegisterActivity(acts)

	chatFile := filepath.Join(cfg.Paths.DataRoot, "train_phase2_quality.jsonl")
	require.NoError(t, os.WriteFile(chatFile, []byte(chatSample+"\n"+chatSample+"\n"), 0644))

	_, err = env.ExecuteActivity(acts.NotifyRunActivity, workflows.NotifyInput{RunID: "run_t", Type: workflows.NotifyStarted})
	require.NoError(t, err)

	val, err := env.ExecuteActivity(acts.ConvertActivity, workflows.ConvertInput{RunID: "run_t", ChatFile: chatFile})
	require.NoError(t, err)
	var converted workflows.EpisodesResult
	require.NoError(t, val.Get(&converted))
	assert.Equal(t, 2, converted.Episodes)
	assert.FileExists(t, converted.EpisodesFile)

	val, err = env.ExecuteActivity(acts.RefineActivity, workflows.RefineInput{
		RunID:        "run_t",
		EpisodeFiles: []string{converted.EpisodesFile},
	})
	require.NoError(t, err)
	var refined workflows.RefineResult
	require.NoError(t, val.Get(&refined))
	assert.Equal(t, 2, refined.EpisodesInput)
	assert.Equal(t, 1, refined.EpisodesOutput)
	assert.Equal(t, 2, refined.DuplicatesRemoved)

	val, err = env.ExecuteActivity(acts.ExportActivity, workflows.ExportInput{RunID: "run_t", RefinedFile: refined.RefinedFile})
	require.NoError(t, err)
	var exported workflows.ExportResult
	require.NoError(t, val.Get(&exported))
	assert.Equal(t, 1, exported.SFTRecords)
	assert.False(t, exported.GatesPass)
	assert.FileExists(t, filepath.Join(exported.ExportDir, export.SFTFile))

	val, err = env.ExecuteActivity(acts.PublishActivity, workflows.PublishInput{RunID: "run_t", Dir: exported.ExportDir})
	require.NoError(t, err)
	var published workflows.PublishResult
	require.NoError(t, val.Get(&published))
	assert.NotEmpty(t, published.CommitHash)
	assert.Contains(t, published.Artifacts, storage.RunPrefix("run_t")+export.ManifestFile)

	_, err = env.ExecuteActivity(acts.NotifyRunActivity, workflows.NotifyInput{RunID: "run_t", Type: workflows.NotifyCompleted})
	require.NoError(t, err)

	bus.Close()
	status, ok := tracker.Get("run_t")
	require.True(t, ok)
	assert.Equal(t, pipeline.RunStateCompleted, status.State)

	var stages []string
	for _, s := range status.Stages {
		stages = append(stages, s.Name)
		assert.Equal(t, pipeline.RunStateCompleted, s.State, s.Name)
	}
	assert.Equal(t, []string{pipeline.StageConvert, pipeline.StageRefine, pipeline.StageExport, pipeline.StagePublish}, stages)
}

func TestRefineActivity_CombinesFiles(t *testing.T) {
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestActivityEnvironment()

	cfg := testConfig(t)
	acts := New(cfg, nil, nil)
	env.RegisterActivity(acts)

	chatFile := filepath.Join(cfg.Paths.DataRoot, "chat.jsonl")
	require.NoError(t, os.WriteFile(chatFile, []byte(chatSample+"\n"), 0644))

	var files []string
	for _, runID := range []string{"run_a", "run_b"} {
		val, err := env.ExecuteActivity(acts.ConvertActivity, workflows.ConvertInput{RunID: runID, ChatFile: chatFile})
		require.NoError(t, err)
		var res workflows.EpisodesResult
		require.NoError(t, val.Get(&res))
		files = append(files, res.EpisodesFile)
	}

	val, err := env.ExecuteActivity(acts.RefineActivity, workflows.RefineInput{RunID: "run_c", EpisodeFiles: files})
	require.NoError(t, err)
	var refined workflows.RefineResult
	require.NoError(t, val.Get(&refined))
	assert.Equal(t, 2, refined.EpisodesInput)
	assert.Equal(t, 1, refined.EpisodesOutput)
	assert.FileExists(t, filepath.Join(cfg.Paths.EpisodesDir, "run_c", CombinedFile))
}

func TestActivities_Errors(t *testing.T) {
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestActivityEnvironment()

	cfg := testConfig(t)
	acts := New(cfg, nil, nil)
	env.RegisterActivity(acts)

	_, err := env.ExecuteActivity(acts.ConvertActivity, workflows.ConvertInput{RunID: "run_e", ChatFile: "missing.jsonl"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing.jsonl")

	_, err = env.ExecuteActivity(acts.RefineActivity, workflows.RefineInput{RunID: "run_e"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no episode files")

	_, err = env.ExecuteActivity(acts.ExportActivity, workflows.ExportInput{
		RunID:          "run_e",
		RefinedFile:    "refined.jsonl",
		SamplingConfig: filepath.Join(t.TempDir(), "nope.json"),
	})
	require.Error(t, err)

	_, err = env.ExecuteActivity(acts.PublishActivity, workflows.PublishInput{RunID: "run_e", Dir: t.TempDir()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "artifact store not initialized")
}

func TestCollectActivity_Documents(t *testing.T) {
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestActivityEnvironment()

	cfg := testConfig(t)
	acts := New(cfg, nil, nil)
	env.RegisterActivity(acts)

	doc := filepath.Join(cfg.Paths.DataRoot, "story.md")
	require.NoError(t, os.WriteFile(doc, []byte("كان يا ما كان في قديم الزمان\n\nقصة طويلة من الصحراء"), 0644))

	val, err := env.ExecuteActivity(acts.CollectActivity, workflows.CollectInput{RunID: "run_d", Documents: []string{doc}})
	require.NoError(t, err)
	var res workflows.EpisodesResult
	require.NoError(t, val.Get(&res))
	assert.Equal(t, 1, res.Episodes)
	assert.Equal(t, filepath.Join(cfg.Paths.EpisodesDir, "run_d", CollectedFile), res.EpisodesFile)
}

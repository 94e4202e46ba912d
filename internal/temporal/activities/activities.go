package activities

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"github.com/Caia-Tech/hdrp/internal/collector"
	"github.com/Caia-Tech/hdrp/internal/export"
	"github.com/Caia-Tech/hdrp/internal/jsonl"
	"github.com/Caia-Tech/hdrp/internal/pipeline"
	"github.com/Caia-Tech/hdrp/internal/refinery"
	"github.com/Caia-Tech/hdrp/internal/storage"
	"github.com/Caia-Tech/hdrp/internal/temporal/workflows"
	"github.com/Caia-Tech/hdrp/pkg/episode"
	"github.com/Caia-Tech/hdrp/pkg/extractor"
	config "github.com/Caia-Tech/hdrp/pkg/pipeline"
	"github.com/Caia-Tech/hdrp/pkg/ratelimit"
)

// Output file names inside a run's directories
const (
	CollectedFile = "episodes_collected.jsonl"
	CombinedFile  = "episodes_combined.jsonl"
	RefinedFile   = "episodes_refined.jsonl"
)

// ConfigError is a configuration problem no retry can fix
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return e.Message
}

// Activities holds the dependencies shared by every refinery activity. Register
// it with worker.RegisterActivity so each exported method becomes an activity.
type Activities struct {
	// HTTPClient is used by web collection; nil gets a default client
	HTTPClient *http.Client

	cfg       *config.PipelineConfig
	store     storage.ArtifactStore
	publisher pipeline.Publisher
}

// New creates the activities. store may be nil when publishing is disabled;
// publisher may be nil to run without events.
func New(cfg *config.PipelineConfig, store storage.ArtifactStore, publisher pipeline.Publisher) *Activities {
	return &Activities{cfg: cfg, store: store, publisher: publisher}
}

func (a *Activities) runDir(base, runID string) string {
	return filepath.Join(base, runID)
}

func (a *Activities) converter() (*collector.Converter, error) {
	c, err := collector.NewConverter(collector.DefaultRuleset(), "")
	if err != nil {
		return nil, &ConfigError{Message: err.Error()}
	}
	c.Publisher = a.publisher
	return c, nil
}

// ConvertActivity converts a chat JSONL file into episodes
func (a *Activities) ConvertActivity(ctx context.Context, input workflows.ConvertInput) (workflows.EpisodesResult, error) {
	logger := activity.GetLogger(ctx)
	logger.Info("Converting chat file", "runID", input.RunID, "file", input.ChatFile)

	if _, err := os.Stat(input.ChatFile); err != nil {
		return workflows.EpisodesResult{}, temporal.NewNonRetryableApplicationError(
			fmt.Sprintf("chat file %s: %v", input.ChatFile, err), workflows.InvalidInputErrorType, err)
	}

	conv, err := a.converter()
	if err != nil {
		return workflows.EpisodesResult{}, err
	}
	conv.Dataset = trimExt(filepath.Base(input.ChatFile))

	path, stats, err := conv.ConvertFile(ctx, input.RunID, input.ChatFile, a.runDir(a.cfg.Paths.EpisodesDir, input.RunID))
	if err != nil {
		return workflows.EpisodesResult{}, err
	}

	logger.Info("Chat file converted", "runID", input.RunID, "episodes", stats.TotalEpisodes)
	return workflows.EpisodesResult{EpisodesFile: path, Episodes: stats.TotalEpisodes}, nil
}

// CollectActivity scrapes URLs and extracts local documents into episodes
func (a *Activities) CollectActivity(ctx context.Context, input workflows.CollectInput) (workflows.EpisodesResult, error) {
	logger := activity.GetLogger(ctx)
	logger.Info("Collecting sources", "runID", input.RunID, "urls", len(input.URLs), "documents", len(input.Documents))

	pipeline.Emit(a.publisher, pipeline.NewRunEvent(pipeline.EventStageStarted, input.RunID, pipeline.StageCollect))

	episodes, err := a.collect(ctx, input)
	if err != nil {
		pipeline.Emit(a.publisher, pipeline.NewRunEvent(pipeline.EventStageFailed, input.RunID, pipeline.StageCollect).WithError(err))
		return workflows.EpisodesResult{}, err
	}

	path := filepath.Join(a.runDir(a.cfg.Paths.EpisodesDir, input.RunID), CollectedFile)
	if err := jsonl.WriteFile(path, episodes); err != nil {
		return workflows.EpisodesResult{}, err
	}

	pipeline.Emit(a.publisher, pipeline.NewRunEvent(pipeline.EventStageCompleted, input.RunID, pipeline.StageCollect).
		WithData("episodes", len(episodes)))
	logger.Info("Sources collected", "runID", input.RunID, "episodes", len(episodes))
	return workflows.EpisodesResult{EpisodesFile: path, Episodes: len(episodes)}, nil
}

func (a *Activities) collect(ctx context.Context, input workflows.CollectInput) ([]episode.Episode, error) {
	conv, err := a.converter()
	if err != nil {
		return nil, err
	}

	var episodes []episode.Episode
	if len(input.Documents) > 0 {
		docs, err := collector.NewDocumentSource(extractor.NewEngine(), conv).CollectAll(ctx, input.Documents)
		if err != nil {
			return nil, err
		}
		episodes = append(episodes, docs...)
		activity.RecordHeartbeat(ctx, len(episodes))
	}
	if len(input.URLs) > 0 {
		web := collector.NewWebSource(ratelimit.DefaultCollectorConfig(), a.HTTPClient, conv)
		pages, err := web.CollectAll(ctx, input.URLs)
		if err != nil {
			return nil, err
		}
		episodes = append(episodes, pages...)
		activity.RecordHeartbeat(ctx, len(episodes))
	}
	return episodes, nil
}

// RefineActivity normalizes, scores and deduplicates the run's episodes
func (a *Activities) RefineActivity(ctx context.Context, input workflows.RefineInput) (workflows.RefineResult, error) {
	logger := activity.GetLogger(ctx)
	logger.Info("Refining episodes", "runID", input.RunID, "files", len(input.EpisodeFiles))

	if len(input.EpisodeFiles) == 0 {
		return workflows.RefineResult{}, temporal.NewNonRetryableApplicationError(
			"no episode files to refine", workflows.InvalidInputErrorType, nil)
	}

	opts := refinery.OptionsFromConfig(a.cfg.Refinery)
	opts.Publisher = a.publisher
	r, err := refinery.New(opts)
	if err != nil {
		return workflows.RefineResult{}, &ConfigError{Message: err.Error()}
	}

	source, err := a.combine(input)
	if err != nil {
		return workflows.RefineResult{}, err
	}

	output := filepath.Join(a.runDir(a.cfg.Paths.RefinedDir, input.RunID), RefinedFile)
	manifest, err := r.RunFile(ctx, input.RunID, source, output, a.cfg.Paths.ManifestsDir)
	if err != nil {
		return workflows.RefineResult{}, err
	}

	logger.Info("Episodes refined", "runID", input.RunID,
		"input", manifest.Counts.EpisodesInput, "output", manifest.Counts.EpisodesOutput)
	return workflows.RefineResult{
		RefinedFile:       output,
		EpisodesInput:     manifest.Counts.EpisodesInput,
		EpisodesOutput:    manifest.Counts.EpisodesOutput,
		DuplicatesRemoved: manifest.Counts.DuplicatesRemoved,
	}, nil
}

// combine returns a single episode file for the refinery, concatenating
// the inputs when there are several
func (a *Activities) combine(input workflows.RefineInput) (string, error) {
	if len(input.EpisodeFiles) == 1 {
		return input.EpisodeFiles[0], nil
	}

	var all []episode.Episode
	for _, f := range input.EpisodeFiles {
		eps, _, err := jsonl.ReadFile[episode.Episode](f)
		if err != nil {
			return "", err
		}
		all = append(all, eps...)
	}
	path := filepath.Join(a.runDir(a.cfg.Paths.EpisodesDir, input.RunID), CombinedFile)
	if err := jsonl.WriteFile(path, all); err != nil {
		return "", err
	}
	return path, nil
}

// ExportActivity splits the refined episodes and writes the training corpora
func (a *Activities) ExportActivity(ctx context.Context, input workflows.ExportInput) (workflows.ExportResult, error) {
	logger := activity.GetLogger(ctx)
	logger.Info("Exporting corpora", "runID", input.RunID, "file", input.RefinedFile)

	sampling, err := a.samplingConfig(input.SamplingConfig)
	if err != nil {
		return workflows.ExportResult{}, err
	}

	episodes, _, err := jsonl.ReadFile[episode.Episode](input.RefinedFile)
	if err != nil {
		return workflows.ExportResult{}, err
	}

	opts := export.OptionsFromConfig(a.cfg.Export)
	opts.Publisher = a.publisher
	outDir := a.runDir(a.cfg.Paths.ExportDir, input.RunID)

	manifest, err := export.New(opts).Run(ctx, input.RunID, episodes, sampling, outDir, a.cfg.Paths.ManifestsDir)
	if err != nil {
		return workflows.ExportResult{}, err
	}

	logger.Info("Corpora exported", "runID", input.RunID, "gatesPass", manifest.Gates.AllPass)
	return workflows.ExportResult{
		ExportDir:   outDir,
		DAPTRecords: manifest.Counts.DAPTRecords,
		SFTRecords:  manifest.Counts.SFTRecords,
		EvalRecords: manifest.Counts.EvalRecords,
		GatesPass:   manifest.Gates.AllPass,
	}, nil
}

// samplingConfig loads path, falling back to the configured file and then to
// the built-in weights
func (a *Activities) samplingConfig(path string) (*config.SamplingConfig, error) {
	if path == "" {
		path = a.cfg.Export.SamplingConfig
	}
	if path == "" {
		return config.DefaultSamplingConfig(), nil
	}
	sampling, err := config.LoadSamplingConfig(path)
	if err != nil {
		return nil, &ConfigError{Message: err.Error()}
	}
	return sampling, nil
}

// PublishActivity commits the export directory to the artifact store
func (a *Activities) PublishActivity(ctx context.Context, input workflows.PublishInput) (workflows.PublishResult, error) {
	logger := activity.GetLogger(ctx)
	logger.Info("Publishing artifacts", "runID", input.RunID, "dir", input.Dir)

	if a.store == nil {
		return workflows.PublishResult{}, &ConfigError{Message: "artifact store not initialized"}
	}

	pipeline.Emit(a.publisher, pipeline.NewRunEvent(pipeline.EventStageStarted, input.RunID, pipeline.StagePublish))
	hash, stored, err := storage.PublishRun(ctx, a.store, input.RunID, input.Dir)
	if err != nil {
		pipeline.Emit(a.publisher, pipeline.NewRunEvent(pipeline.EventStageFailed, input.RunID, pipeline.StagePublish).WithError(err))
		return workflows.PublishResult{}, fmt.Errorf("failed to publish run: %w", err)
	}
	pipeline.Emit(a.publisher, pipeline.NewRunEvent(pipeline.EventStageCompleted, input.RunID, pipeline.StagePublish).
		WithData("commit", hash).
		WithData("artifacts", len(stored)))

	logger.Info("Artifacts published", "runID", input.RunID, "commit", hash, "artifacts", len(stored))
	return workflows.PublishResult{CommitHash: hash, Artifacts: stored}, nil
}

// NotifyRunActivity forwards a run lifecycle change to the event bus
func (a *Activities) NotifyRunActivity(ctx context.Context, input workflows.NotifyInput) error {
	if a.publisher == nil {
		return nil
	}
	event := pipeline.NewRunEvent(pipeline.EventType(input.Type), input.RunID, "")
	if input.Error != "" {
		event = event.WithError(errors.New(input.Error))
	}
	return a.publisher.Publish(event)
}

func trimExt(name string) string {
	return name[:len(name)-len(filepath.Ext(name))]
}

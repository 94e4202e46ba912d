package export

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"path/filepath"
	"time"

	"github.com/Caia-Tech/hdrp/internal/jsonl"
	"github.com/Caia-Tech/hdrp/internal/pipeline"
	"github.com/Caia-Tech/hdrp/internal/split"
	"github.com/Caia-Tech/hdrp/pkg/episode"
	"github.com/Caia-Tech/hdrp/pkg/logging"
	config "github.com/Caia-Tech/hdrp/pkg/pipeline"
)

// Output file names inside the export directory
const (
	DAPTFile     = "dapt_train.jsonl"
	SFTFile      = "sft_train.jsonl"
	EvalFile     = "sft_eval.jsonl"
	ManifestFile = "export_manifest.json"
)

// Options configures an Exporter
type Options struct {
	Seed                int64
	HashMinLength       int
	SFTMinRecords       int
	SingleTurnTasks     bool
	TokensPerDAPTRecord int
	Gates               GateMinimums
	Publisher           pipeline.Publisher
}

// GateMinimums are the Definition-of-Done thresholds
type GateMinimums struct {
	DAPTTokens    int     `json:"dapt_tokens"`
	SFTTurns      int     `json:"sft_turns"`
	DialogueRatio float64 `json:"dialogue_ratio"`
}

// OptionsFromConfig maps the export section of the pipeline config
func OptionsFromConfig(c *config.ExportConfig) Options {
	return Options{
		Seed:                c.Seed,
		HashMinLength:       c.HashMinLength,
		SFTMinRecords:       c.SFTMinRecords,
		SingleTurnTasks:     c.SingleTurnTasks,
		TokensPerDAPTRecord: c.TokensPerDAPTItem,
		Gates: GateMinimums{
			DAPTTokens:    c.MinDAPTTokens,
			SFTTurns:      c.MinSFTTurns,
			DialogueRatio: c.MinDialogueRatio,
		},
	}
}

// DefaultOptions mirrors the default export config
func DefaultOptions() Options {
	return OptionsFromConfig(config.DefaultPipelineConfig().Export)
}

// Exporter splits refined episodes and writes the training corpora
type Exporter struct {
	opts Options
}

// New creates an exporter
func New(opts Options) *Exporter {
	return &Exporter{opts: opts}
}

// Output is the in-memory result of an export
type Output struct {
	Split    *split.Result
	DAPT     []episode.TextRecord
	SFT      []episode.ChatRecord
	Eval     []episode.ChatRecord
	Manifest *Manifest
}

// NewRunID formats t as an export run identifier
func NewRunID(t time.Time) string {
	return t.Format("export_20060102_1504")
}

// Export splits episodes and builds all three corpora without touching disk
func (e *Exporter) Export(ctx context.Context, runID string, episodes []episode.Episode, sampling *config.SamplingConfig) (*Output, error) {
	now := time.Now()
	if runID == "" {
		runID = NewRunID(now)
	}
	logger := logging.GetStageLogger(runID, pipeline.StageExport)

	if sampling == nil {
		return nil, fmt.Errorf("sampling config is required")
	}
	if err := sampling.Validate(); err != nil {
		return nil, fmt.Errorf("invalid sampling config: %w", err)
	}

	splitter := &split.Splitter{Seed: e.opts.Seed, MinTextLen: e.opts.HashMinLength}
	sp, err := splitter.Split(episodes, sampling.EvalRatio)
	if err != nil {
		return nil, err
	}
	leakage := split.CheckLeakage(sp)
	logger.Info().
		Int("train", len(sp.Train)).
		Int("eval", len(sp.Eval)).
		Int("dropped", len(sp.Dropped)).
		Bool("leakage_free", leakage.LeakageFree).
		Msg("Split episodes")

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewSource(e.opts.Seed))
	out := &Output{Split: sp}
	out.DAPT = BuildDAPT(rng, sp.Train, sampling.DAPTWeights, sampling.DiacMixingRatio)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out.SFT = BuildSFT(rng, sp.Train, sampling.SFTWeights, SFTOptions{
		SingleTurnTasks: e.opts.SingleTurnTasks,
		MinRecords:      e.opts.SFTMinRecords,
	})
	out.Eval = BuildEval(sp.Eval)

	logger.Info().
		Int("dapt_records", len(out.DAPT)).
		Int("sft_records", len(out.SFT)).
		Int("eval_records", len(out.Eval)).
		Msg("Built export records")

	out.Manifest = e.buildManifest(runID, now, len(episodes), sp, leakage, sampling, len(out.DAPT), len(out.SFT), len(out.Eval))
	return out, nil
}

// Run exports episodes into outDir and writes the manifest there. When
// manifestDir is set a timestamped copy of the manifest is written into it.
func (e *Exporter) Run(ctx context.Context, runID string, episodes []episode.Episode, sampling *config.SamplingConfig, outDir, manifestDir string) (*Manifest, error) {
	if runID == "" {
		runID = NewRunID(time.Now())
	}
	pipeline.Emit(e.opts.Publisher, pipeline.NewRunEvent(pipeline.EventStageStarted, runID, pipeline.StageExport))

	manifest, err := e.run(ctx, runID, episodes, sampling, outDir, manifestDir)
	if err != nil {
		pipeline.Emit(e.opts.Publisher, pipeline.NewRunEvent(pipeline.EventStageFailed, runID, pipeline.StageExport).WithError(err))
		return nil, err
	}

	pipeline.Emit(e.opts.Publisher, pipeline.NewRunEvent(pipeline.EventStageCompleted, runID, pipeline.StageExport).
		WithData("dapt_records", manifest.Counts.DAPTRecords).
		WithData("sft_records", manifest.Counts.SFTRecords).
		WithData("eval_records", manifest.Counts.EvalRecords).
		WithData("all_pass", manifest.Gates.AllPass))
	return manifest, nil
}

func (e *Exporter) run(ctx context.Context, runID string, episodes []episode.Episode, sampling *config.SamplingConfig, outDir, manifestDir string) (*Manifest, error) {
	out, err := e.Export(ctx, runID, episodes, sampling)
	if err != nil {
		return nil, err
	}
	m := out.Manifest
	m.Exports = map[string]string{
		"dapt": filepath.Join(outDir, DAPTFile),
		"sft":  filepath.Join(outDir, SFTFile),
		"eval": filepath.Join(outDir, EvalFile),
	}

	if err := jsonl.WriteFile(m.Exports["dapt"], out.DAPT); err != nil {
		return nil, err
	}
	if err := jsonl.WriteFile(m.Exports["sft"], out.SFT); err != nil {
		return nil, err
	}
	if err := jsonl.WriteFile(m.Exports["eval"], out.Eval); err != nil {
		return nil, err
	}
	if err := jsonl.WriteJSON(filepath.Join(outDir, ManifestFile), m); err != nil {
		return nil, err
	}
	if manifestDir != "" {
		name := "export_manifest_" + m.Timestamp.Format("20060102_1504") + ".json"
		if err := jsonl.WriteJSON(filepath.Join(manifestDir, name), m); err != nil {
			return nil, err
		}
	}

	logger := logging.GetStageLogger(runID, pipeline.StageExport)
	logger.Info().
		Str("out_dir", outDir).
		Int("estimated_dapt_tokens", m.Counts.EstimatedDAPTTokens).
		Int("estimated_sft_turns", m.Counts.EstimatedSFTTurns).
		Bool("gates_pass", m.Gates.AllPass).
		Msg("Export complete")
	return m, nil
}

// DialogueRatio is the share of episodes in dialogue or qa mode
func DialogueRatio(episodes []episode.Episode) float64 {
	if len(episodes) == 0 {
		return 0
	}
	n := 0
	for i := range episodes {
		switch episodes[i].InteractionMode {
		case episode.ModeDialogue, episode.ModeQA:
			n++
		}
	}
	return float64(n) / float64(len(episodes))
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

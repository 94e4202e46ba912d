package refinery

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/Caia-Tech/hdrp/internal/dedup"
	"github.com/Caia-Tech/hdrp/internal/jsonl"
	"github.com/Caia-Tech/hdrp/internal/pipeline"
	"github.com/Caia-Tech/hdrp/internal/processing"
	"github.com/Caia-Tech/hdrp/internal/quality"
	"github.com/Caia-Tech/hdrp/pkg/episode"
	"github.com/Caia-Tech/hdrp/pkg/logging"
	config "github.com/Caia-Tech/hdrp/pkg/pipeline"
)

// Options configures a Refinery
type Options struct {
	Thresholds      quality.Thresholds
	DominantDialect string
	Publisher       pipeline.Publisher
}

// DefaultOptions returns the production thresholds for the hassaniya label
func DefaultOptions() Options {
	return Options{
		Thresholds:      quality.DefaultThresholds(),
		DominantDialect: "hassaniya",
	}
}

// OptionsFromConfig maps the refinery section of the pipeline config
func OptionsFromConfig(c *config.RefineryConfig) Options {
	return Options{
		Thresholds: quality.Thresholds{
			Accept: c.AcceptThreshold,
			Review: c.ReviewThreshold,
		},
		DominantDialect: c.DominantDialect,
	}
}

// Refinery normalizes, scores and deduplicates episodes
type Refinery struct {
	normalizer *processing.Normalizer
	scorer     *quality.Scorer
	publisher  pipeline.Publisher
}

// New creates a refinery
func New(opts Options) (*Refinery, error) {
	if err := opts.Thresholds.Validate(); err != nil {
		return nil, err
	}
	if opts.DominantDialect == "" {
		return nil, fmt.Errorf("dominant dialect label cannot be empty")
	}

	scorer := quality.NewScorer()
	scorer.DominantLabel = opts.DominantDialect
	scorer.Thresholds = opts.Thresholds

	return &Refinery{
		normalizer: processing.NewNormalizer(),
		scorer:     scorer,
		publisher:  opts.Publisher,
	}, nil
}

// Normalizer exposes the normalization chain
func (r *Refinery) Normalizer() *processing.Normalizer {
	return r.normalizer
}

// Scorer exposes the quality scorer
func (r *Refinery) Scorer() *quality.Scorer {
	return r.scorer
}

// Counts are the totals recorded in a refinery manifest. Segment decisions
// are counted before deduplication.
type Counts struct {
	EpisodesInput     int `json:"episodes_input"`
	EpisodesOutput    int `json:"episodes_output"`
	SegmentsTotal     int `json:"segments_total"`
	SegmentsAccept    int `json:"segments_accept"`
	SegmentsReview    int `json:"segments_review"`
	SegmentsReject    int `json:"segments_reject"`
	DuplicatesRemoved int `json:"duplicates_removed"`
}

// ThresholdsRecord is the manifest form of the decision thresholds
type ThresholdsRecord struct {
	Accept int `json:"accept"`
	Review int `json:"review"`
}

// Manifest summarizes one refinery run
type Manifest struct {
	RunID         string             `json:"run_id"`
	Timestamp     time.Time          `json:"timestamp"`
	InputFile     string             `json:"input_file,omitempty"`
	OutputFile    string             `json:"output_file,omitempty"`
	Counts        Counts             `json:"counts"`
	DQSThresholds ThresholdsRecord   `json:"dqs_thresholds"`
	Dropped       []string           `json:"dropped_episodes"`
	Unhashable    int                `json:"unhashable_episodes"`
	ParseReport   *jsonl.ParseReport `json:"parse_report,omitempty"`
}

// Result is the refined episode list plus its manifest
type Result struct {
	Episodes []episode.Episode
	Manifest *Manifest
	Dedup    *dedup.Result
}

// NewRunID formats t as a run identifier
func NewRunID(t time.Time) string {
	return t.Format("run_20060102_1504")
}

// ManifestFileName returns the file name a refinery manifest for t is written to
func ManifestFileName(t time.Time) string {
	return "refinery_manifest_" + t.Format("20060102_1504") + ".json"
}

// Refine fills text variants, DQS, decision and flags of every segment in
// place, then deduplicates. runID may be empty.
func (r *Refinery) Refine(ctx context.Context, runID string, episodes []episode.Episode) (*Result, error) {
	now := time.Now()
	if runID == "" {
		runID = NewRunID(now)
	}
	logger := logging.GetStageLogger(runID, pipeline.StageRefine)
	pipeline.Emit(r.publisher, pipeline.NewRunEvent(pipeline.EventStageStarted, runID, pipeline.StageRefine))

	manifest := &Manifest{
		RunID:     runID,
		Timestamp: now,
		DQSThresholds: ThresholdsRecord{
			Accept: r.scorer.Thresholds.Accept,
			Review: r.scorer.Thresholds.Review,
		},
	}
	manifest.Counts.EpisodesInput = len(episodes)

	logger.Info().Int("episodes", len(episodes)).Msg("Normalizing and scoring")
	for i := range episodes {
		if err := ctx.Err(); err != nil {
			r.fail(runID, err)
			return nil, err
		}
		ep := &episodes[i]
		for j := range ep.Segments {
			seg := &ep.Segments[j]
			r.normalizer.NormalizeSegment(seg)
			res := r.scorer.ScoreSegment(seg, ep)

			manifest.Counts.SegmentsTotal++
			switch res.Decision {
			case episode.DecisionAccept:
				manifest.Counts.SegmentsAccept++
			case episode.DecisionReview:
				manifest.Counts.SegmentsReview++
			default:
				manifest.Counts.SegmentsReject++
			}
		}
	}

	logDistribution(logger, manifest.Counts)

	dd := dedup.Deduplicate(episodes)
	manifest.Counts.EpisodesOutput = len(dd.Episodes)
	manifest.Counts.DuplicatesRemoved = dd.DuplicateCount
	manifest.Dropped = dd.Dropped
	manifest.Unhashable = dd.Unhashable

	logger.Info().
		Int("duplicates_removed", dd.DuplicateCount).
		Int("episodes_before", len(episodes)).
		Int("episodes_after", len(dd.Episodes)).
		Msg("Deduplication complete")

	pipeline.Emit(r.publisher, pipeline.NewRunEvent(pipeline.EventStageCompleted, runID, pipeline.StageRefine).
		WithData("episodes_input", manifest.Counts.EpisodesInput).
		WithData("episodes_output", manifest.Counts.EpisodesOutput).
		WithData("segments_accept", manifest.Counts.SegmentsAccept).
		WithData("duplicates_removed", manifest.Counts.DuplicatesRemoved))

	return &Result{Episodes: dd.Episodes, Manifest: manifest, Dedup: dd}, nil
}

// RunFile refines the episodes JSONL at input, writes the survivors to output
// and the manifest into manifestDir. Malformed input lines are skipped and
// reported in the manifest.
func (r *Refinery) RunFile(ctx context.Context, runID, input, output, manifestDir string) (*Manifest, error) {
	episodes, report, err := jsonl.ReadFile[episode.Episode](input)
	if err != nil {
		r.fail(runID, err)
		return nil, fmt.Errorf("loading episodes: %w", err)
	}
	if !report.OK() {
		logger := logging.GetStageLogger(runID, pipeline.StageRefine)
		logger.Warn().
			Int("skipped", report.Skipped).
			Str("input", input).
			Msg("Skipped malformed episode lines")
	}

	res, err := r.Refine(ctx, runID, episodes)
	if err != nil {
		return nil, err
	}
	res.Manifest.InputFile = input
	res.Manifest.OutputFile = output
	res.Manifest.ParseReport = report

	if err := jsonl.WriteFile(output, res.Episodes); err != nil {
		r.fail(res.Manifest.RunID, err)
		return nil, fmt.Errorf("writing refined episodes: %w", err)
	}
	if manifestDir != "" {
		path := filepath.Join(manifestDir, ManifestFileName(res.Manifest.Timestamp))
		if err := jsonl.WriteJSON(path, res.Manifest); err != nil {
			r.fail(res.Manifest.RunID, err)
			return nil, fmt.Errorf("writing refinery manifest: %w", err)
		}
	}
	return res.Manifest, nil
}

func (r *Refinery) fail(runID string, err error) {
	pipeline.Emit(r.publisher, pipeline.NewRunEvent(pipeline.EventStageFailed, runID, pipeline.StageRefine).WithError(err))
}

func logDistribution(logger zerolog.Logger, c Counts) {
	pct := func(n int) float64 {
		if c.SegmentsTotal == 0 {
			return 0
		}
		return float64(n) / float64(c.SegmentsTotal) * 100
	}
	logger.Info().
		Int("accept", c.SegmentsAccept).
		Int("review", c.SegmentsReview).
		Int("reject", c.SegmentsReject).
		Str("accept_pct", fmt.Sprintf("%.1f", pct(c.SegmentsAccept))).
		Str("review_pct", fmt.Sprintf("%.1f", pct(c.SegmentsReview))).
		Str("reject_pct", fmt.Sprintf("%.1f", pct(c.SegmentsReject))).
		Msg("DQS distribution")
}

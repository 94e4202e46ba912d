package collector

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/Caia-Tech/hdrp/internal/jsonl"
	"github.com/Caia-Tech/hdrp/internal/pipeline"
	"github.com/Caia-Tech/hdrp/pkg/episode"
	"github.com/Caia-Tech/hdrp/pkg/logging"
)

// Output file names written by ConvertFile
const (
	EpisodesFile = "episodes_batch_initial.jsonl"
	StatsFile    = "conversion_stats.json"
)

// ChatSample is one chat-format training record
type ChatSample struct {
	Messages []episode.Message `json:"messages"`
	Source   string            `json:"_source,omitempty"`
}

// ConversionStats summarizes a conversion
type ConversionStats struct {
	TotalEpisodes               int                `json:"total_episodes"`
	BucketDistribution          map[string]int     `json:"bucket_distribution"`
	TopicDistribution           map[string]int     `json:"topic_distribution"`
	InteractionModeDistribution map[string]int     `json:"interaction_mode_distribution"`
	ConvertedAt                 time.Time          `json:"converted_at"`
	ParseReport                 *jsonl.ParseReport `json:"parse_report,omitempty"`
}

func newConversionStats() *ConversionStats {
	return &ConversionStats{
		BucketDistribution:          make(map[string]int),
		TopicDistribution:           make(map[string]int),
		InteractionModeDistribution: make(map[string]int),
	}
}

func (s *ConversionStats) add(ep *episode.Episode) {
	s.TotalEpisodes++
	s.BucketDistribution[ep.Bucket]++
	s.TopicDistribution[ep.Topic]++
	s.InteractionModeDistribution[ep.InteractionMode]++
}

// Converter turns chat samples into unscored episodes
type Converter struct {
	classifier *Classifier
	// Dataset names the input in each source_uri, legacy://<Dataset>/<index>
	Dataset   string
	Publisher pipeline.Publisher
	now       func() time.Time
	newID     func(time.Time) string

	mu     sync.Mutex
	issued map[string]struct{}
}

// NewConverter creates a converter over rs
func NewConverter(rs Ruleset, dataset string) (*Converter, error) {
	classifier, err := NewClassifier(rs)
	if err != nil {
		return nil, err
	}
	if dataset == "" {
		dataset = "chat"
	}
	return &Converter{
		classifier: classifier,
		Dataset:    dataset,
		now:        time.Now,
		newID:      episode.NewEpisodeID,
		issued:     make(map[string]struct{}),
	}, nil
}

// episodeID draws episode IDs until one this converter has not issued yet.
// The random part is only six hex digits, so large same-day batches collide.
func (c *Converter) episodeID(at time.Time) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	for {
		id := c.newID(at)
		if _, taken := c.issued[id]; !taken {
			c.issued[id] = struct{}{}
			return id
		}
	}
}

// Classifier exposes the compiled ruleset
func (c *Converter) Classifier() *Classifier {
	return c.classifier
}

// ConvertSample builds the episode for the sample at index. All message
// content, system prompts included, drives classification; system messages
// do not become segments.
func (c *Converter) ConvertSample(sample ChatSample, index int) episode.Episode {
	now := c.now()

	contents := make([]string, len(sample.Messages))
	for i, m := range sample.Messages {
		contents[i] = m.Content
	}
	all := strings.Join(contents, " ")

	ep := episode.Episode{
		EpisodeID:       c.episodeID(now),
		SourceType:      InferSourceType(sample.Source),
		SourceURI:       fmt.Sprintf("legacy://%s/%d", c.Dataset, index),
		CapturedAt:      episode.Timestamp{Time: now},
		Bucket:          c.classifier.Bucket(all),
		InteractionMode: InteractionMode(sample.Messages),
		Topic:           c.classifier.Topic(all),
		Heat:            c.classifier.Heat(all),
		Segments:        []episode.Segment{},
	}

	n := 0
	for _, m := range sample.Messages {
		if m.Role == episode.RoleSystem {
			continue
		}
		n++
		ep.Segments = append(ep.Segments, episode.NewSegment(n, SpeakerFor(m.Role, n), m.Content, LangProbs(m.Content)))
	}
	return ep
}

// Convert converts every sample, checking ctx between samples
func (c *Converter) Convert(ctx context.Context, samples []ChatSample) ([]episode.Episode, *ConversionStats, error) {
	stats := newConversionStats()
	episodes := make([]episode.Episode, 0, len(samples))
	for i, s := range samples {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		ep := c.ConvertSample(s, i)
		stats.add(&ep)
		episodes = append(episodes, ep)
	}
	stats.ConvertedAt = c.now()
	return episodes, stats, nil
}

// ConvertFile converts the chat JSONL at input into outDir, writing the
// episodes and the conversion stats. It returns the path of the episodes file.
func (c *Converter) ConvertFile(ctx context.Context, runID, input, outDir string) (string, *ConversionStats, error) {
	logger := logging.GetStageLogger(runID, pipeline.StageConvert)
	pipeline.Emit(c.Publisher, pipeline.NewRunEvent(pipeline.EventStageStarted, runID, pipeline.StageConvert))

	path, stats, err := c.convertFile(ctx, input, outDir)
	if err != nil {
		pipeline.Emit(c.Publisher, pipeline.NewRunEvent(pipeline.EventStageFailed, runID, pipeline.StageConvert).WithError(err))
		return "", nil, err
	}

	logger.Info().
		Int("episodes", stats.TotalEpisodes).
		Int("skipped_lines", stats.ParseReport.Skipped).
		Interface("buckets", stats.BucketDistribution).
		Interface("modes", stats.InteractionModeDistribution).
		Str("output", path).
		Msg("Conversion complete")

	pipeline.Emit(c.Publisher, pipeline.NewRunEvent(pipeline.EventStageCompleted, runID, pipeline.StageConvert).
		WithData("episodes", stats.TotalEpisodes).
		WithData("skipped_lines", stats.ParseReport.Skipped))
	return path, stats, nil
}

func (c *Converter) convertFile(ctx context.Context, input, outDir string) (string, *ConversionStats, error) {
	samples, report, err := jsonl.ReadFile[ChatSample](input)
	if err != nil {
		return "", nil, fmt.Errorf("loading samples: %w", err)
	}

	episodes, stats, err := c.Convert(ctx, samples)
	if err != nil {
		return "", nil, err
	}
	stats.ParseReport = report

	path := filepath.Join(outDir, EpisodesFile)
	if err := jsonl.WriteFile(path, episodes); err != nil {
		return "", nil, err
	}
	if err := jsonl.WriteJSON(filepath.Join(outDir, StatsFile), stats); err != nil {
		return "", nil, err
	}
	return path, stats, nil
}

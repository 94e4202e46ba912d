package collector

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Caia-Tech/hdrp/internal/jsonl"
	"github.com/Caia-Tech/hdrp/internal/pipeline"
	"github.com/Caia-Tech/hdrp/pkg/episode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestConverter(t *testing.T) *Converter {
	t.Helper()
	c, err := NewConverter(DefaultRuleset(), "train_phase2_quality")
	require.NoError(t, err)
	fixed := time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)
	c.now = func() time.Time { return fixed }
	return c
}

func TestConverter_ConvertSample(t *testing.T) {
	c := newTestConverter(t)

	ep := c.ConvertSample(ChatSample{
		Messages: msgs(
			"system", "You speak Hassaniya",
			"user", "مرحبا",
			"assistant", "اشحالك",
		),
		Source: "whatsapp_group",
	}, 7)

	require.NoError(t, ep.Validate())
	assert.Regexp(t, `^EP-20250314-[0-9A-F]{6}$`, ep.EpisodeID)
	assert.Equal(t, episode.SourceWhatsApp, ep.SourceType)
	assert.Equal(t, "legacy://train_phase2_quality/7", ep.SourceURI)
	assert.Equal(t, episode.BucketEverydayChat, ep.Bucket)
	assert.Equal(t, episode.ModeDialogue, ep.InteractionMode)

	require.Len(t, ep.Segments, 2)
	assert.Equal(t, "SEG-001", ep.Segments[0].SegmentID)
	assert.Equal(t, "spk1", ep.Segments[0].Speaker)
	assert.Equal(t, "مرحبا", ep.Segments[0].TextVariants.Raw)
	assert.Nil(t, ep.Segments[0].TextVariants.Norm)
	assert.Equal(t, episode.DecisionPending, ep.Segments[0].Decision)
	assert.Equal(t, "SEG-002", ep.Segments[1].SegmentID)
	assert.Equal(t, "spk2", ep.Segments[1].Speaker)
}

func TestConverter_SystemPromptDrivesClassification(t *testing.T) {
	c := newTestConverter(t)

	ep := c.ConvertSample(ChatSample{
		Messages: msgs(
			"system", "Discuss the government budget",
			"user", "ok",
			"assistant", "yes",
		),
	}, 0)

	assert.Equal(t, episode.BucketParliamentPolitics, ep.Bucket)
	assert.Equal(t, episode.TopicPolitics, ep.Topic)
	assert.Equal(t, 2, ep.Heat)
	assert.Len(t, ep.Segments, 2)
}

func TestConverter_Convert(t *testing.T) {
	c := newTestConverter(t)

	episodes, stats, err := c.Convert(context.Background(), []ChatSample{
		{Messages: msgs("user", "hello", "assistant", "hey")},
		{Messages: msgs("user", "price?", "assistant", "cheap")},
	})
	require.NoError(t, err)
	require.Len(t, episodes, 2)

	assert.Equal(t, 2, stats.TotalEpisodes)
	assert.Equal(t, map[string]int{episode.BucketEverydayChat: 1, episode.BucketMarketplaceQA: 1}, stats.BucketDistribution)
	assert.Equal(t, map[string]int{episode.ModeDialogue: 1, episode.ModeQA: 1}, stats.InteractionModeDistribution)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err = c.Convert(ctx, []ChatSample{{}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConverter_EpisodeIDsUniqueAtCorpusScale(t *testing.T) {
	c := newTestConverter(t)

	samples := make([]ChatSample, 30000)
	for i := range samples {
		samples[i] = ChatSample{Messages: msgs("user", "مرحبا", "assistant", "اشحالك")}
	}
	episodes, _, err := c.Convert(context.Background(), samples)
	require.NoError(t, err)
	require.Len(t, episodes, len(samples))

	assert.Regexp(t, `^EP-20250314-[0-9A-F]{6}$`, episodes[len(episodes)-1].EpisodeID)
	seen := make(map[string]struct{}, len(episodes))
	for _, ep := range episodes {
		seen[ep.EpisodeID] = struct{}{}
	}
	assert.Len(t, seen, len(episodes))
}

func TestConverter_RedrawsCollidingIDs(t *testing.T) {
	c := newTestConverter(t)
	draws := []string{"EP-20250314-AAAAAA", "EP-20250314-AAAAAA", "EP-20250314-AAAAAA", "EP-20250314-BBBBBB"}
	c.newID = func(time.Time) string {
		id := draws[0]
		draws = draws[1:]
		return id
	}

	first := c.ConvertSample(ChatSample{Messages: msgs("user", "q", "assistant", "a")}, 0)
	second := c.NarrativeEpisode(episode.SourceDocument, "file:///story.txt", []string{"كان يا ما كان"})

	assert.Equal(t, "EP-20250314-AAAAAA", first.EpisodeID)
	assert.Equal(t, "EP-20250314-BBBBBB", second.EpisodeID)
	assert.Empty(t, draws)
}

func TestConverter_ConvertFile(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "train.jsonl")
	content := `{"messages":[{"role":"user","content":"مرحبا"},{"role":"assistant","content":"اشحالك"}],"_source":"facebook"}
not json
{"messages":[{"role":"assistant","content":"قصة قديمة"}]}
`
	require.NoError(t, os.WriteFile(input, []byte(content), 0644))

	bus := pipeline.NewEventBus(16, 1)
	tracker := pipeline.NewRunTracker()
	require.NoError(t, tracker.Attach(bus))

	c := newTestConverter(t)
	c.Publisher = bus

	outDir := filepath.Join(dir, "episodes")
	path, stats, err := c.ConvertFile(context.Background(), "run_test", input, outDir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(outDir, EpisodesFile), path)
	assert.Equal(t, 2, stats.TotalEpisodes)
	assert.Equal(t, 1, stats.ParseReport.Skipped)

	episodes, report, err := jsonl.ReadFile[episode.Episode](path)
	require.NoError(t, err)
	assert.True(t, report.OK())
	require.Len(t, episodes, 2)
	assert.Equal(t, episode.SourceFacebook, episodes[0].SourceType)
	assert.Equal(t, episode.ModeMonologue, episodes[1].InteractionMode)
	assert.Equal(t, "legacy://train_phase2_quality/1", episodes[1].SourceURI)

	assert.FileExists(t, filepath.Join(outDir, StatsFile))

	bus.Close()
	status, ok := tracker.Get("run_test")
	require.True(t, ok)
	require.Len(t, status.Stages, 1)
	assert.Equal(t, pipeline.StageConvert, status.Stages[0].Name)
	assert.Equal(t, pipeline.RunStateCompleted, status.Stages[0].State)
}

func TestConverter_ConvertFileMissing(t *testing.T) {
	c := newTestConverter(t)
	_, _, err := c.ConvertFile(context.Background(), "run_test", filepath.Join(t.TempDir(), "nope.jsonl"), t.TempDir())
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestDocumentSource_Collect(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "story.txt")
	require.NoError(t, os.WriteFile(path, []byte("كان يا ما كان\n\nفي قديم الزمان قصة"), 0644))

	src := NewDocumentSource(nil, newTestConverter(t))
	ep, err := src.Collect(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, episode.SourceDocument, ep.SourceType)
	assert.Equal(t, episode.ModeNarrative, ep.InteractionMode)
	assert.Equal(t, episode.BucketCultureStoryPoetry, ep.Bucket)
	assert.Contains(t, ep.SourceURI, "story.txt")
	require.Len(t, ep.Segments, 2)
	assert.Equal(t, episode.SpeakerNarrator, ep.Segments[1].Speaker)
	assert.Equal(t, "في قديم الزمان قصة", ep.Segments[1].RawText)

	empty := filepath.Join(dir, "empty.txt")
	require.NoError(t, os.WriteFile(empty, []byte("  \n\n "), 0644))
	episodes, err := src.CollectAll(context.Background(), []string{empty, path})
	require.NoError(t, err)
	assert.Len(t, episodes, 1)
}

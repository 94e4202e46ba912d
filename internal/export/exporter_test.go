package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Caia-Tech/hdrp/internal/jsonl"
	"github.com/Caia-Tech/hdrp/internal/pipeline"
	"github.com/Caia-Tech/hdrp/internal/refinery"
	"github.com/Caia-Tech/hdrp/pkg/episode"
	config "github.com/Caia-Tech/hdrp/pkg/pipeline"
)

func greeting(id string) episode.Episode {
	probs := map[string]float64{"hassaniya": 0.941, "msa": 0.049, "french": 0.01}
	return episode.Episode{
		EpisodeID:       id,
		Bucket:          episode.BucketEverydayChat,
		InteractionMode: episode.ModeDialogue,
		Topic:           episode.TopicSocialFamily,
		Segments: []episode.Segment{
			episode.NewSegment(1, episode.SpeakerUser, "مرحبا", probs),
			episode.NewSegment(2, episode.SpeakerOther, "اشحالك", probs),
		},
	}
}

func TestEndToEnd_DuplicatePairExportsOneConversation(t *testing.T) {
	r, err := refinery.New(refinery.DefaultOptions())
	require.NoError(t, err)

	refinedRes, err := r.Refine(context.Background(), "run_e2e", []episode.Episode{greeting("EP-A"), greeting("EP-B")})
	require.NoError(t, err)
	require.Len(t, refinedRes.Episodes, 1)
	survivor := refinedRes.Episodes[0].EpisodeID
	assert.Contains(t, []string{"EP-A", "EP-B"}, survivor)

	out, err := New(DefaultOptions()).Export(context.Background(), "run_e2e", refinedRes.Episodes, config.DefaultSamplingConfig())
	require.NoError(t, err)

	require.Len(t, out.SFT, 1)
	rec := out.SFT[0]
	require.Len(t, rec.Messages, 3)
	assert.Equal(t, episode.RoleSystem, rec.Messages[0].Role)
	assert.Equal(t, episode.Message{Role: episode.RoleUser, Content: "مرحبا"}, rec.Messages[1])
	assert.Equal(t, episode.Message{Role: episode.RoleAssistant, Content: "اشحالك"}, rec.Messages[2])
	assert.Equal(t, survivor, rec.Meta.EpisodeID)
}

func corpus(n int) []episode.Episode {
	episodes := make([]episode.Episode, n)
	buckets := []string{episode.BucketEverydayChat, episode.BucketMarketplaceQA, episode.BucketPublicComments}
	for i := range episodes {
		episodes[i] = refined(fmt.Sprintf("EP-%03d", i), buckets[i%len(buckets)],
			seg{episode.SpeakerUser, fmt.Sprintf("سؤال طويل شوية رقم %d", i), episode.DecisionAccept},
			seg{episode.SpeakerOther, fmt.Sprintf("جواب طويل شوية رقم %d", i), episode.DecisionReview},
		)
		if i%4 == 0 {
			episodes[i].InteractionMode = episode.ModeNarrative
		}
	}
	return episodes
}

func TestRun_WritesArtifactsAndManifest(t *testing.T) {
	dir := t.TempDir()
	outDir := filepath.Join(dir, "exports")
	manifestDir := filepath.Join(dir, "manifests")

	opts := DefaultOptions()
	opts.SFTMinRecords = 0
	opts.Gates = GateMinimums{DAPTTokens: 100, SFTTurns: 10, DialogueRatio: 0.6}

	bus := pipeline.NewEventBus(10, 1)
	tracker := pipeline.NewRunTracker()
	require.NoError(t, tracker.Attach(bus))
	opts.Publisher = bus

	sampling := config.DefaultSamplingConfig()
	m, err := New(opts).Run(context.Background(), "run_export", corpus(40), sampling, outDir, manifestDir)
	require.NoError(t, err)
	bus.Close()

	assert.Equal(t, 40, m.Counts.EpisodesTotal)
	assert.Equal(t, 4, m.Counts.EpisodesEval)
	assert.Equal(t, 36, m.Counts.EpisodesTrain)
	assert.Equal(t, m.Counts.DAPTRecords*50, m.Counts.EstimatedDAPTTokens)
	assert.Equal(t, m.Counts.SFTRecords*2, m.Counts.EstimatedSFTTurns)
	assert.True(t, m.LeakageChecks.LeakageFree)
	assert.Equal(t, sampling.Hash(), m.SamplingConfigHash)
	assert.Equal(t, "2.0", m.Version)
	assert.InDelta(t, 0.6, m.ChatFirstCompliance.MinRequired, 1e-9)
	assert.Equal(t, m.ChatFirstCompliance.DialogueRatio >= 0.6, m.ChatFirstCompliance.Compliant)
	assert.Equal(t, m.Gates.DAPTTokens.Pass && m.Gates.SFTTurns.Pass && m.Gates.DialogueRatio.Pass && m.Gates.LeakageFree, m.Gates.AllPass)

	dapt, report, err := jsonl.ReadFile[episode.TextRecord](filepath.Join(outDir, DAPTFile))
	require.NoError(t, err)
	assert.True(t, report.OK())
	assert.Len(t, dapt, m.Counts.DAPTRecords)

	sft, _, err := jsonl.ReadFile[episode.ChatRecord](filepath.Join(outDir, SFTFile))
	require.NoError(t, err)
	assert.Len(t, sft, m.Counts.SFTRecords)

	eval, _, err := jsonl.ReadFile[episode.ChatRecord](filepath.Join(outDir, EvalFile))
	require.NoError(t, err)
	assert.Len(t, eval, m.Counts.EvalRecords)

	evalIDs := map[string]bool{}
	for _, r := range eval {
		evalIDs[r.Meta.EpisodeID] = true
	}
	for _, r := range sft {
		assert.False(t, evalIDs[r.Meta.EpisodeID], "episode %s in both train and eval", r.Meta.EpisodeID)
	}

	_, err = os.Stat(filepath.Join(outDir, ManifestFile))
	assert.NoError(t, err)
	entries, err := os.ReadDir(manifestDir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	status, ok := tracker.Get("run_export")
	require.True(t, ok)
	require.Len(t, status.Stages, 1)
	assert.Equal(t, pipeline.RunStateCompleted, status.Stages[0].State)
}

func TestExport_Deterministic(t *testing.T) {
	opts := DefaultOptions()
	opts.SFTMinRecords = 0
	e := New(opts)

	a, err := e.Export(context.Background(), "r", corpus(30), config.DefaultSamplingConfig())
	require.NoError(t, err)
	b, err := e.Export(context.Background(), "r", corpus(30), config.DefaultSamplingConfig())
	require.NoError(t, err)

	assert.Equal(t, a.DAPT, b.DAPT)
	assert.Equal(t, a.SFT, b.SFT)
	assert.Equal(t, a.Eval, b.Eval)
}

func TestExport_InvalidSampling(t *testing.T) {
	e := New(DefaultOptions())

	bad := config.DefaultSamplingConfig()
	bad.EvalRatio = 1.5
	_, err := e.Export(context.Background(), "r", corpus(5), bad)
	assert.Error(t, err)

	_, err = e.Export(context.Background(), "r", corpus(5), nil)
	assert.Error(t, err)
}

func TestRun_FailureEmitsEvent(t *testing.T) {
	bus := pipeline.NewEventBus(10, 1)
	tracker := pipeline.NewRunTracker()
	require.NoError(t, tracker.Attach(bus))

	opts := DefaultOptions()
	opts.Publisher = bus
	bad := config.DefaultSamplingConfig()
	bad.DAPTWeights = nil

	_, err := New(opts).Run(context.Background(), "run_bad", corpus(5), bad, t.TempDir(), "")
	require.Error(t, err)
	bus.Close()

	status, ok := tracker.Get("run_bad")
	require.True(t, ok)
	assert.Equal(t, pipeline.RunStateFailed, status.Stages[0].State)
	assert.NotEmpty(t, status.Stages[0].Error)
}

func TestDialogueRatio(t *testing.T) {
	assert.Zero(t, DialogueRatio(nil))
	eps := corpus(8)
	assert.InDelta(t, 0.75, DialogueRatio(eps), 1e-9)
}

package split

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Caia-Tech/hdrp/pkg/episode"
)

var phrases = []string{
	"شنهو اخبارك اليوم يا صاحبي",
	"الحمد لله كلشي زين عندنا",
	"بكم هذا الجمل في السوق اليوم",
	"ماني عارف والله شنهو نكولك",
	"الشاي جاهز تعالو تشربو معانا",
	"نبغيك تجيب الخبز من الحانوت",
}

func makeEpisode(id string, texts ...string) episode.Episode {
	ep := episode.Episode{EpisodeID: id, Bucket: episode.BucketEverydayChat}
	for i, text := range texts {
		seg := episode.NewSegment(i+1, episode.SpeakerUser, text, nil)
		seg.SetNorm(text)
		ep.Segments = append(ep.Segments, seg)
	}
	return ep
}

func randomCorpus(rng *rand.Rand, n int) []episode.Episode {
	episodes := make([]episode.Episode, n)
	for i := range episodes {
		k := 1 + rng.Intn(3)
		texts := make([]string, k)
		for j := range texts {
			if rng.Intn(3) == 0 {
				texts[j] = phrases[rng.Intn(len(phrases))]
			} else {
				texts[j] = fmt.Sprintf("%s رقم %d", phrases[rng.Intn(len(phrases))], rng.Intn(1000))
			}
		}
		episodes[i] = makeEpisode(fmt.Sprintf("EP-%04d", i), texts...)
	}
	return episodes
}

func TestSplit_DisjointForAnyRatio(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	s := NewSplitter()

	for _, ratio := range []float64{0.05, 0.1, 0.25, 0.5, 0.9} {
		for trial := 0; trial < 5; trial++ {
			episodes := randomCorpus(rng, 40+rng.Intn(60))

			res, err := s.Split(episodes, ratio)
			require.NoError(t, err)

			report := CheckLeakage(res)
			assert.True(t, report.LeakageFree, "ratio %v trial %d", ratio, trial)
			assert.Zero(t, report.OverlapEpisodeCount)
			assert.Zero(t, report.OverlapTextHashCount)
			assert.LessOrEqual(t, len(res.Eval), res.EvalTarget)
			assert.Equal(t, len(episodes), len(res.Train)+len(res.Eval)+len(res.Dropped))

			for _, ep := range res.Eval {
				for h := range ep.Hashes(s.MinTextLen) {
					_, inTrain := res.TrainHashes[h]
					assert.False(t, inTrain)
				}
			}
		}
	}
}

func TestSplit_Deterministic(t *testing.T) {
	episodes := randomCorpus(rand.New(rand.NewSource(1)), 50)
	s := NewSplitter()

	a, err := s.Split(episodes, 0.2)
	require.NoError(t, err)
	b, err := s.Split(episodes, 0.2)
	require.NoError(t, err)

	assert.Equal(t, ids(a.Eval), ids(b.Eval))
	assert.Equal(t, ids(a.Train), ids(b.Train))
}

func TestSplit_TargetIsFloor(t *testing.T) {
	var episodes []episode.Episode
	for i := 0; i < 19; i++ {
		episodes = append(episodes, makeEpisode(fmt.Sprintf("EP-%d", i), fmt.Sprintf("جملة فريدة جدا رقم %d", i)))
	}

	res, err := NewSplitter().Split(episodes, 0.1)
	require.NoError(t, err)
	assert.Equal(t, 1, res.EvalTarget)
	assert.Len(t, res.Eval, 1)
	assert.Len(t, res.Train, 18)
	assert.Empty(t, res.Dropped)
}

func TestSplit_SharedTextNeverCrosses(t *testing.T) {
	shared := "هذي جملة مشتركة بين الحلقات"
	var episodes []episode.Episode
	for i := 0; i < 10; i++ {
		episodes = append(episodes, makeEpisode(fmt.Sprintf("EP-%d", i), shared))
	}

	res, err := NewSplitter().Split(episodes, 0.5)
	require.NoError(t, err)

	// Every episode carries the same hash, so only one side can hold them
	assert.True(t, len(res.Train) == 0 || len(res.Eval) == 0)
	assert.True(t, CheckLeakage(res).LeakageFree)
}

func TestSplit_ShortTextNotHashed(t *testing.T) {
	episodes := []episode.Episode{
		makeEpisode("EP-1", "اشحالك"),
		makeEpisode("EP-2", "اشحالك"),
	}

	res, err := NewSplitter().Split(episodes, 0.5)
	require.NoError(t, err)
	assert.Len(t, res.Eval, 1)
	assert.Len(t, res.Train, 1)
	assert.Empty(t, res.EvalHashes)
}

func TestSplit_DuplicateIDsStayOnOneSide(t *testing.T) {
	episodes := []episode.Episode{
		makeEpisode("EP-1", "الجملة الأولى طويلة بما يكفي"),
		makeEpisode("EP-1", "الجملة الثانية طويلة بما يكفي"),
		makeEpisode("EP-2", "الجملة الثالثة طويلة بما يكفي"),
		makeEpisode("EP-3", "الجملة الرابعة طويلة بما يكفي"),
	}

	res, err := NewSplitter().Split(episodes, 0.5)
	require.NoError(t, err)
	assert.Zero(t, CheckLeakage(res).OverlapEpisodeCount)
}

func TestSplit_InvalidRatio(t *testing.T) {
	s := NewSplitter()
	for _, ratio := range []float64{0, 1, -0.1, 1.5} {
		_, err := s.Split(nil, ratio)
		assert.Error(t, err, "ratio %v", ratio)
	}
}

func TestSplit_Empty(t *testing.T) {
	res, err := NewSplitter().Split(nil, 0.1)
	require.NoError(t, err)
	assert.Empty(t, res.Train)
	assert.Empty(t, res.Eval)
	assert.True(t, CheckLeakage(res).LeakageFree)
}

func ids(episodes []episode.Episode) []string {
	out := make([]string, len(episodes))
	for i := range episodes {
		out[i] = episodes[i].EpisodeID
	}
	return out
}

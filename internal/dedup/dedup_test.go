package dedup

import (
	"testing"

	"github.com/Caia-Tech/hdrp/pkg/episode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seg(n int, text string, dqs int) episode.Segment {
	s := episode.NewSegment(n, episode.SpeakerUser, text, nil)
	s.SetNorm(text)
	s.DQS = dqs
	return s
}

func ep(id string, segs ...episode.Segment) episode.Episode {
	return episode.Episode{EpisodeID: id, Segments: segs}
}

func ids(eps []episode.Episode) []string {
	out := make([]string, len(eps))
	for i := range eps {
		out[i] = eps[i].EpisodeID
	}
	return out
}

func TestDeduplicate_IdenticalPairsKeepFirst(t *testing.T) {
	a := ep("A", seg(1, "مرحبا", 67), seg(2, "اشحالك", 67))
	b := ep("B", seg(1, "مرحبا", 67), seg(2, "اشحالك", 67))

	res := Deduplicate([]episode.Episode{a, b})

	assert.Equal(t, []string{"A"}, ids(res.Episodes))
	assert.Equal(t, 2, res.DuplicateCount)
	assert.Equal(t, []string{"B"}, res.Dropped)
	assert.Len(t, res.Groups, 2)
}

func TestDeduplicate_HighestScoreWins(t *testing.T) {
	a := ep("A", seg(1, "نفس الكلام", 50))
	b := ep("B", seg(1, "نفس   الكلام", 80))
	c := ep("C", seg(1, "كلام اخر", 10))

	res := Deduplicate([]episode.Episode{a, b, c})

	assert.Equal(t, []string{"B", "C"}, ids(res.Episodes))
	assert.Equal(t, 1, res.DuplicateCount)
	require.Len(t, res.Groups, 1)
	assert.Equal(t, "B", res.Groups[0].Winner)
	assert.Equal(t, 80, res.Groups[0].WinnerDQS)
}

func TestDeduplicate_KeptWhenWinningAnyGroup(t *testing.T) {
	// A loses "x" to B but wins "y" against C, so A survives with its losing segment
	a := ep("A", seg(1, "x", 10), seg(2, "y", 90))
	b := ep("B", seg(1, "x", 50))
	c := ep("C", seg(1, "y", 20))

	res := Deduplicate([]episode.Episode{a, b, c})

	assert.Equal(t, []string{"A", "B"}, ids(res.Episodes))
	assert.Len(t, res.Episodes[0].Segments, 2)
	assert.Equal(t, 2, res.DuplicateCount)
}

func TestDeduplicate_DropsUnhashable(t *testing.T) {
	unrefined := episode.Episode{EpisodeID: "U", Segments: []episode.Segment{episode.NewSegment(1, "spk1", "raw only", nil)}}
	empty := episode.Episode{EpisodeID: "E"}
	kept := ep("K", seg(1, "نص", 70))

	res := Deduplicate([]episode.Episode{unrefined, empty, kept})

	assert.Equal(t, []string{"K"}, ids(res.Episodes))
	assert.Equal(t, 2, res.Unhashable)
	assert.ElementsMatch(t, []string{"U", "E"}, res.Dropped)
}

func TestDeduplicate_NeverIncreasesSegments(t *testing.T) {
	inputs := [][]episode.Episode{
		{},
		{ep("A", seg(1, "a", 1))},
		{ep("A", seg(1, "a", 1), seg(2, "a", 2)), ep("B", seg(1, "a", 3))},
		{ep("A", seg(1, "a", 1)), ep("B", seg(1, "b", 1)), ep("C", seg(1, "A", 5))},
	}
	for _, in := range inputs {
		res := Deduplicate(in)
		assert.LessOrEqual(t, SegmentCount(res.Episodes), SegmentCount(in))

		winners := map[string]string{}
		for _, g := range res.Groups {
			if prev, ok := winners[g.Hash]; ok {
				assert.Equal(t, prev, g.Winner)
			}
			winners[g.Hash] = g.Winner
		}
	}
}

func TestDeduplicate_SameEpisodeRepeatsItself(t *testing.T) {
	a := ep("A", seg(1, "هاه", 60), seg(2, "هاه", 60))
	res := Deduplicate([]episode.Episode{a})
	assert.Equal(t, []string{"A"}, ids(res.Episodes))
	assert.Equal(t, 1, res.DuplicateCount)
}

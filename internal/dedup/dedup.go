package dedup

import (
	"github.com/Caia-Tech/hdrp/pkg/episode"
)

// Group is one set of segments sharing a content hash
type Group struct {
	Hash      string   `json:"hash"`
	Winner    string   `json:"winner"`
	Members   []Member `json:"members"`
	WinnerDQS int      `json:"winner_dqs"`
}

// Member locates a segment inside its episode
type Member struct {
	EpisodeID string `json:"episode_id"`
	SegmentID string `json:"segment_id"`
	DQS       int    `json:"dqs"`
}

// Result is the outcome of deduplication
type Result struct {
	Episodes       []episode.Episode `json:"-"`
	DuplicateCount int               `json:"duplicate_count"`
	Dropped        []string          `json:"dropped"`
	Unhashable     int               `json:"unhashable"` // dropped for lacking any normalized text
	Groups         []Group           `json:"-"`
}

// Deduplicate groups segments by the content hash of their normalized text.
// In every group the segment with the highest DQS wins (the first one seen on
// ties). An episode survives when it wins at least one group; an episode
// that is the only member of a group trivially wins it. Non-winning
// duplicate segments inside a surviving episode are not removed.
//
// Episodes must be refined first: segments without normalized text do not
// take part, and episodes with no such segment are dropped.
func Deduplicate(episodes []episode.Episode) *Result {
	type entry struct {
		episodeIdx int
		member     Member
	}

	order := make([]string, 0)
	groups := make(map[string][]entry)
	for i := range episodes {
		ep := &episodes[i]
		for j := range ep.Segments {
			seg := &ep.Segments[j]
			norm := seg.NormText()
			if norm == "" {
				continue
			}
			h := episode.ContentHash(norm)
			if _, ok := groups[h]; !ok {
				order = append(order, h)
			}
			groups[h] = append(groups[h], entry{
				episodeIdx: i,
				member:     Member{EpisodeID: ep.EpisodeID, SegmentID: seg.SegmentID, DQS: seg.DQS},
			})
		}
	}

	keep := make(map[int]bool)
	result := &Result{Dropped: []string{}}
	for _, h := range order {
		items := groups[h]
		best := items[0]
		for _, it := range items[1:] {
			if it.member.DQS > best.member.DQS {
				best = it
			}
		}
		keep[best.episodeIdx] = true
		result.DuplicateCount += len(items) - 1

		if len(items) > 1 {
			members := make([]Member, len(items))
			for k, it := range items {
				members[k] = it.member
			}
			result.Groups = append(result.Groups, Group{
				Hash:      h,
				Winner:    best.member.EpisodeID,
				Members:   members,
				WinnerDQS: best.member.DQS,
			})
		}
	}

	result.Episodes = make([]episode.Episode, 0, len(keep))
	for i := range episodes {
		if keep[i] {
			result.Episodes = append(result.Episodes, episodes[i])
			continue
		}
		result.Dropped = append(result.Dropped, episodes[i].EpisodeID)
		if !hasNorm(&episodes[i]) {
			result.Unhashable++
		}
	}
	return result
}

func hasNorm(ep *episode.Episode) bool {
	for i := range ep.Segments {
		if ep.Segments[i].NormText() != "" {
			return true
		}
	}
	return false
}

// SegmentCount sums the segments of episodes
func SegmentCount(episodes []episode.Episode) int {
	n := 0
	for i := range episodes {
		n += len(episodes[i].Segments)
	}
	return n
}

package quality

import (
	"strings"
	"unicode"

	"github.com/Caia-Tech/hdrp/pkg/episode"
)

// Quality flags
const (
	FlagLowDialectConfidence = "low_hassaniya_confidence"
	FlagSpecialChars         = "special_chars"
	FlagExcessivePunctuation = "excessive_punctuation"
	FlagVeryShort            = "very_short"
	FlagShort                = "short"
)

// Sub-score caps
const (
	MaxDialectScore         = 35
	MaxCleanlinessScore     = 20
	UniquenessScore         = 15
	MaxInformativenessScore = 20
	BaseDomainScore         = 5
	MaxDomainScore          = 10
)

// DefaultBucketBonus is the domain-value bonus per bucket
var DefaultBucketBonus = map[string]int{
	episode.BucketEverydayChat:       5,
	episode.BucketMarketplaceQA:      4,
	episode.BucketPublicComments:     3,
	episode.BucketTVDiscussion:       2,
	episode.BucketCultureStoryPoetry: 2,
}

// Breakdown holds the five sub-scores of a DQS
type Breakdown struct {
	Dialect         int `json:"dialect"`
	Cleanliness     int `json:"cleanliness"`
	Uniqueness      int `json:"uniqueness"`
	Informativeness int `json:"informativeness"`
	Domain          int `json:"domain"`
}

// Result is the outcome of scoring one segment
type Result struct {
	Score     int              `json:"score"`
	Decision  episode.Decision `json:"decision"`
	Flags     []string         `json:"flags"`
	Breakdown Breakdown        `json:"breakdown"`
}

// Scorer computes the Data Quality Score of a segment. It is a pure
// function of the segment's raw text, its language probabilities and the
// episode bucket.
type Scorer struct {
	DominantLabel string
	BucketBonus   map[string]int
	Thresholds    Thresholds
}

// NewScorer returns a scorer for the hassaniya label with default thresholds
func NewScorer() *Scorer {
	return &Scorer{
		DominantLabel: "hassaniya",
		BucketBonus:   DefaultBucketBonus,
		Thresholds:    DefaultThresholds(),
	}
}

// Score rates seg within ep
func (s *Scorer) Score(seg *episode.Segment, ep *episode.Episode) Result {
	text := seg.RawText
	flags := []string{}
	var b Breakdown

	prob := seg.LangProbs[s.DominantLabel]
	b.Dialect = clamp(int(prob*MaxDialectScore), 0, MaxDialectScore)
	if prob < 0.5 {
		flags = append(flags, FlagLowDialectConfidence)
	}

	stats := analyze(text)

	cleanliness := MaxCleanlinessScore
	if stats.special > 0 {
		cleanliness -= 5
		flags = append(flags, FlagSpecialChars)
	}
	if float64(stats.punct)/float64(max(stats.runes, 1)) > 0.2 {
		cleanliness -= 5
		flags = append(flags, FlagExcessivePunctuation)
	}
	switch {
	case stats.words < 5:
		cleanliness -= 10
		flags = append(flags, FlagVeryShort)
	case stats.words < 10:
		cleanliness -= 5
		flags = append(flags, FlagShort)
	}
	b.Cleanliness = max(0, cleanliness)

	b.Uniqueness = UniquenessScore

	informativeness := 0
	switch {
	case stats.words >= 20:
		informativeness += 10
	case stats.words >= 10:
		informativeness += 5
	}
	if stats.arabic > 10 {
		informativeness += 5
	}
	if stats.sentencePunct {
		informativeness += 5
	}
	b.Informativeness = min(MaxInformativenessScore, informativeness)

	bucket := ""
	if ep != nil {
		bucket = ep.Bucket
	}
	b.Domain = min(MaxDomainScore, BaseDomainScore+s.BucketBonus[bucket])

	score := clamp(b.Dialect+b.Cleanliness+b.Uniqueness+b.Informativeness+b.Domain, 0, 100)
	return Result{
		Score:     score,
		Decision:  s.Thresholds.Decide(score),
		Flags:     flags,
		Breakdown: b,
	}
}

// ScoreSegment scores seg and stores the score, decision and flags on it
func (s *Scorer) ScoreSegment(seg *episode.Segment, ep *episode.Episode) Result {
	res := s.Score(seg, ep)
	seg.DQS = res.Score
	seg.Decision = res.Decision
	seg.Flags = res.Flags
	return res
}

type textStats struct {
	runes         int
	words         int
	arabic        int
	punct         int
	special       int
	sentencePunct bool
}

func analyze(text string) textStats {
	st := textStats{words: len(strings.Fields(text))}
	for _, r := range text {
		st.runes++
		if isArabicBlock(r) {
			st.arabic++
		}
		word := isWordRune(r)
		space := unicode.IsSpace(r)
		if !word && !space {
			st.punct++
		}
		if !word && !space && !isArabicBlock(r) && !strings.ContainsRune(allowedPunctuation, r) {
			st.special++
		}
		if strings.ContainsRune(sentencePunctuation, r) {
			st.sentencePunct = true
		}
	}
	return st
}

const (
	allowedPunctuation  = "،؟؛.!?'\"()[]<>/-"
	sentencePunctuation = ".؟!،"
)

func isArabicBlock(r rune) bool {
	return r >= 0x0600 && r <= 0x06FF
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsNumber(r)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

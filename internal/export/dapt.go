package export

import (
	"math/rand"
	"strings"
	"unicode/utf8"

	"github.com/Caia-Tech/hdrp/pkg/episode"
)

// Text variants recorded in DAPT meta
const (
	VariantNorm = "norm"
	VariantDiac = "diac"
)

// MinDAPTTextLen is the shortest segment text kept for pretraining
const MinDAPTTextLen = 10

// daptBucket folds buckets that share a DAPT weight
func daptBucket(bucket string) string {
	switch bucket {
	case episode.BucketParliamentPolitics:
		return episode.BucketMonologueSpecialist
	case "":
		return episode.BucketEverydayChat
	}
	return bucket
}

// BuildDAPT samples episodes per bucket (cycling small buckets up to their
// target) and emits one text record per accepted or reviewed segment
func BuildDAPT(rng *rand.Rand, episodes []episode.Episode, weights map[string]float64, diacRatio float64) []episode.TextRecord {
	pool := make(map[string][]int)
	for i := range episodes {
		b := daptBucket(episodes[i].Bucket)
		pool[b] = append(pool[b], i)
	}

	var records []episode.TextRecord
	for _, idx := range Sample(rng, pool, weights, len(episodes), Cycle) {
		ep := &episodes[idx]
		for j := range ep.Segments {
			seg := &ep.Segments[j]
			if seg.Decision != episode.DecisionAccept && seg.Decision != episode.DecisionReview {
				continue
			}

			text, variant := seg.NormOrRaw(), VariantNorm
			if rng.Float64() < diacRatio && seg.DiacText() != "" {
				text, variant = seg.DiacText(), VariantDiac
			}
			if utf8.RuneCountInString(strings.TrimSpace(text)) < MinDAPTTextLen {
				continue
			}

			records = append(records, episode.TextRecord{
				Text: text,
				Meta: episode.RecordMeta{
					EpisodeID: ep.EpisodeID,
					Bucket:    ep.Bucket,
					Topic:     ep.Topic,
					Variant:   variant,
				},
			})
		}
	}

	Shuffle(rng, records)
	return records
}

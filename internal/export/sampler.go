package export

import (
	"math"
	"math/rand"
	"sort"
)

// SampleMode decides what happens when a category holds fewer items than its target
type SampleMode int

const (
	// Cycle repeats the available items until the target is reached
	Cycle SampleMode = iota
	// TakeAll keeps every available item without forcing the target
	TakeAll
)

// Target returns the item count a category of weight gets out of size
func Target(size int, weight float64) int {
	return int(math.Round(float64(size) * weight))
}

// Sample draws Target(size, weight) items from each weighted category of
// pool. Categories are visited in name order so a seeded rng reproduces the
// same draw. Categories without items or without weight are skipped.
func Sample[T any](rng *rand.Rand, pool map[string][]T, weights map[string]float64, size int, mode SampleMode) []T {
	categories := make([]string, 0, len(weights))
	for category := range weights {
		categories = append(categories, category)
	}
	sort.Strings(categories)

	var out []T
	for _, category := range categories {
		available := pool[category]
		target := Target(size, weights[category])
		if len(available) == 0 || target <= 0 {
			continue
		}

		if len(available) >= target {
			for _, idx := range rng.Perm(len(available))[:target] {
				out = append(out, available[idx])
			}
			continue
		}

		switch mode {
		case Cycle:
			for i := 0; i < target; i++ {
				out = append(out, available[i%len(available)])
			}
		case TakeAll:
			out = append(out, available...)
		}
	}
	return out
}

// Shuffle reorders items in place
func Shuffle[T any](rng *rand.Rand, items []T) {
	rng.Shuffle(len(items), func(i, j int) { items[i], items[j] = items[j], items[i] })
}

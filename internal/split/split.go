package split

import (
	"fmt"
	"math/rand"

	"github.com/Caia-Tech/hdrp/pkg/episode"
)

// DefaultSeed keeps splits reproducible across runs
const DefaultSeed = 42

// Splitter partitions episodes into train and eval sets with no shared
// episode ID and no shared content hash
type Splitter struct {
	Seed       int64
	MinTextLen int // segments at or below this many runes are not hashed
}

// NewSplitter returns a splitter with the default seed and hash length
func NewSplitter() *Splitter {
	return &Splitter{Seed: DefaultSeed, MinTextLen: 10}
}

// Result holds the two sides of a split. Episodes keep their input order.
type Result struct {
	Train       []episode.Episode
	Eval        []episode.Episode
	TrainHashes map[string]struct{}
	EvalHashes  map[string]struct{}
	Dropped     []string
	EvalTarget  int
}

// Split shuffles episodes with the splitter seed and fills eval greedily up to
// floor(n*ratio). While eval is short an episode goes to eval unless it shares
// a hash with train, in which case it goes to train unless it also shares one
// with eval. Once eval is full, episodes go to train only if they share nothing
// with eval. Anything else is dropped from both sides.
func (s *Splitter) Split(episodes []episode.Episode, evalRatio float64) (*Result, error) {
	if evalRatio <= 0 || evalRatio >= 1 {
		return nil, fmt.Errorf("eval ratio must be within (0,1), got %v", evalRatio)
	}

	hashes := make([]map[string]struct{}, len(episodes))
	for i := range episodes {
		hashes[i] = episodes[i].Hashes(s.MinTextLen)
	}

	order := make([]int, len(episodes))
	for i := range order {
		order[i] = i
	}
	rng := rand.New(rand.NewSource(s.Seed))
	rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

	res := &Result{
		TrainHashes: make(map[string]struct{}),
		EvalHashes:  make(map[string]struct{}),
		Dropped:     []string{},
		EvalTarget:  int(float64(len(episodes)) * evalRatio),
	}

	side := make([]int, len(episodes)) // 0 dropped, 1 train, 2 eval
	trainIDs := make(map[string]bool)
	evalIDs := make(map[string]bool)
	evalCount := 0

	toTrain := func(i int) {
		side[i] = 1
		trainIDs[episodes[i].EpisodeID] = true
		union(res.TrainHashes, hashes[i])
	}
	toEval := func(i int) {
		side[i] = 2
		evalIDs[episodes[i].EpisodeID] = true
		union(res.EvalHashes, hashes[i])
		evalCount++
	}

	for _, i := range order {
		id := episodes[i].EpisodeID
		fitsEval := !trainIDs[id] && !intersects(hashes[i], res.TrainHashes)
		fitsTrain := !evalIDs[id] && !intersects(hashes[i], res.EvalHashes)

		switch {
		case evalCount < res.EvalTarget && fitsEval:
			toEval(i)
		case fitsTrain:
			toTrain(i)
		}
	}

	for i := range episodes {
		switch side[i] {
		case 1:
			res.Train = append(res.Train, episodes[i])
		case 2:
			res.Eval = append(res.Eval, episodes[i])
		default:
			res.Dropped = append(res.Dropped, episodes[i].EpisodeID)
		}
	}
	return res, nil
}

// LeakageReport records the overlap between train and eval
type LeakageReport struct {
	TrainEpisodeCount    int  `json:"train_episode_count"`
	EvalEpisodeCount     int  `json:"eval_episode_count"`
	OverlapEpisodeCount  int  `json:"overlap_episode_count"`
	TrainTextHashCount   int  `json:"train_text_hash_count"`
	EvalTextHashCount    int  `json:"eval_text_hash_count"`
	OverlapTextHashCount int  `json:"overlap_text_hash_count"`
	LeakageFree          bool `json:"leakage_free"`
}

// CheckLeakage compares the episode IDs and content hashes of both sides
func CheckLeakage(res *Result) LeakageReport {
	trainIDs := idSet(res.Train)
	evalIDs := idSet(res.Eval)

	report := LeakageReport{
		TrainEpisodeCount:    len(trainIDs),
		EvalEpisodeCount:     len(evalIDs),
		OverlapEpisodeCount:  overlap(trainIDs, evalIDs),
		TrainTextHashCount:   len(res.TrainHashes),
		EvalTextHashCount:    len(res.EvalHashes),
		OverlapTextHashCount: overlap(res.TrainHashes, res.EvalHashes),
	}
	report.LeakageFree = report.OverlapEpisodeCount == 0 && report.OverlapTextHashCount == 0
	return report
}

func idSet(episodes []episode.Episode) map[string]struct{} {
	ids := make(map[string]struct{}, len(episodes))
	for i := range episodes {
		ids[episodes[i].EpisodeID] = struct{}{}
	}
	return ids
}

func union(dst, src map[string]struct{}) {
	for h := range src {
		dst[h] = struct{}{}
	}
}

func intersects(a, b map[string]struct{}) bool {
	return overlap(a, b) > 0
}

func overlap(a, b map[string]struct{}) int {
	if len(a) > len(b) {
		a, b = b, a
	}
	n := 0
	for k := range a {
		if _, ok := b[k]; ok {
			n++
		}
	}
	return n
}

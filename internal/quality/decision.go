package quality

import (
	"fmt"

	"github.com/Caia-Tech/hdrp/pkg/episode"
)

// Thresholds maps a score to a decision
type Thresholds struct {
	Accept int `json:"accept"`
	Review int `json:"review"`
}

// DefaultThresholds returns accept at 75 and review at 55
func DefaultThresholds() Thresholds {
	return Thresholds{Accept: 75, Review: 55}
}

// Validate checks the thresholds are ordered and within [0,100]
func (t Thresholds) Validate() error {
	if t.Review < 0 || t.Accept > 100 || t.Review > t.Accept {
		return fmt.Errorf("invalid thresholds: accept=%d review=%d", t.Accept, t.Review)
	}
	return nil
}

// Decide is a pure function of score
func (t Thresholds) Decide(score int) episode.Decision {
	switch {
	case score >= t.Accept:
		return episode.DecisionAccept
	case score >= t.Review:
		return episode.DecisionReview
	default:
		return episode.DecisionReject
	}
}

// Decide applies the default thresholds
func Decide(score int) episode.Decision {
	return DefaultThresholds().Decide(score)
}

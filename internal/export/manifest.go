package export

import (
	"time"

	"github.com/Caia-Tech/hdrp/internal/split"
	config "github.com/Caia-Tech/hdrp/pkg/pipeline"
)

// Counts are the record totals of an export
type Counts struct {
	EpisodesTotal       int `json:"episodes_total"`
	EpisodesTrain       int `json:"episodes_train"`
	EpisodesEval        int `json:"episodes_eval"`
	EpisodesDropped     int `json:"episodes_dropped"`
	DAPTRecords         int `json:"dapt_records"`
	SFTRecords          int `json:"sft_records"`
	EvalRecords         int `json:"eval_records"`
	EstimatedDAPTTokens int `json:"estimated_dapt_tokens"`
	EstimatedSFTTurns   int `json:"estimated_sft_turns"`
}

// Compliance reports the chat-first dialogue share of the train set
type Compliance struct {
	DialogueRatio float64 `json:"dialogue_ratio"`
	MinRequired   float64 `json:"min_required"`
	Compliant     bool    `json:"compliant"`
}

// GateCheck is one Definition-of-Done gate
type GateCheck struct {
	Value    float64 `json:"value"`
	Required float64 `json:"required"`
	Pass     bool    `json:"pass"`
}

// GateReport collects every gate
type GateReport struct {
	DAPTTokens    GateCheck `json:"dapt_tokens"`
	SFTTurns      GateCheck `json:"sft_turns"`
	DialogueRatio GateCheck `json:"dialogue_ratio"`
	LeakageFree   bool      `json:"leakage_free"`
	AllPass       bool      `json:"all_pass"`
}

// Manifest summarizes an export run
type Manifest struct {
	RunID               string                 `json:"run_id"`
	Timestamp           time.Time              `json:"timestamp"`
	Version             string                 `json:"version"`
	SamplingConfig      *config.SamplingConfig `json:"sampling_config"`
	SamplingConfigHash  string                 `json:"sampling_config_hash"`
	Counts              Counts                 `json:"counts"`
	LeakageChecks       split.LeakageReport    `json:"leakage_checks"`
	ChatFirstCompliance Compliance             `json:"chat_first_compliance"`
	Exports             map[string]string      `json:"exports,omitempty"`
	Gates               GateReport             `json:"dod_gates"`
}

func (e *Exporter) buildManifest(runID string, ts time.Time, total int, sp *split.Result, leakage split.LeakageReport,
	sampling *config.SamplingConfig, dapt, sft, eval int) *Manifest {
	m := &Manifest{
		RunID:              runID,
		Timestamp:          ts,
		Version:            sampling.Version,
		SamplingConfig:     sampling,
		SamplingConfigHash: sampling.Hash(),
		Counts: Counts{
			EpisodesTotal:       total,
			EpisodesTrain:       len(sp.Train),
			EpisodesEval:        len(sp.Eval),
			EpisodesDropped:     len(sp.Dropped),
			DAPTRecords:         dapt,
			SFTRecords:          sft,
			EvalRecords:         eval,
			EstimatedDAPTTokens: dapt * e.opts.TokensPerDAPTRecord,
			EstimatedSFTTurns:   sft * 2,
		},
		LeakageChecks: leakage,
	}

	ratio := DialogueRatio(sp.Train)
	m.ChatFirstCompliance = Compliance{
		DialogueRatio: round3(ratio),
		MinRequired:   e.opts.Gates.DialogueRatio,
		Compliant:     ratio >= e.opts.Gates.DialogueRatio,
	}

	g := &m.Gates
	g.DAPTTokens = GateCheck{
		Value:    float64(m.Counts.EstimatedDAPTTokens),
		Required: float64(e.opts.Gates.DAPTTokens),
		Pass:     m.Counts.EstimatedDAPTTokens >= e.opts.Gates.DAPTTokens,
	}
	g.SFTTurns = GateCheck{
		Value:    float64(m.Counts.EstimatedSFTTurns),
		Required: float64(e.opts.Gates.SFTTurns),
		Pass:     m.Counts.EstimatedSFTTurns >= e.opts.Gates.SFTTurns,
	}
	g.DialogueRatio = GateCheck{
		Value:    round3(ratio),
		Required: e.opts.Gates.DialogueRatio,
		Pass:     m.ChatFirstCompliance.Compliant,
	}
	g.LeakageFree = leakage.LeakageFree
	g.AllPass = g.DAPTTokens.Pass && g.SFTTurns.Pass && g.DialogueRatio.Pass && g.LeakageFree
	return m
}

package pipeline

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
)

// SamplingConfig is the declarative weight table driving the exporters
type SamplingConfig struct {
	Version         string             `json:"version"`
	DAPTWeights     map[string]float64 `json:"dapt_weights"`
	SFTWeights      map[string]float64 `json:"sft_weights"`
	EvalRatio       float64            `json:"eval_ratio"`
	DiacMixingRatio float64            `json:"diac_mixing_ratio"`
}

// DefaultSamplingConfig returns the chat-first weights used when no file is given
func DefaultSamplingConfig() *SamplingConfig {
	return &SamplingConfig{
		Version: "2.0",
		DAPTWeights: map[string]float64{
			"everyday_chat":        0.35,
			"marketplace_qa":       0.15,
			"public_comments":      0.15,
			"culture_story_poetry": 0.10,
			"tv_discussion":        0.10,
			"monologue_specialist": 0.15,
		},
		SFTWeights: map[string]float64{
			"everyday_chat":        0.40,
			"marketplace_qa":       0.25,
			"public_comments":      0.15,
			"tv_discussion":        0.10,
			"culture_story_poetry": 0.10,
		},
		EvalRatio:       0.10,
		DiacMixingRatio: 0.10,
	}
}

// LoadSamplingConfig reads a sampling config JSON file
func LoadSamplingConfig(path string) (*SamplingConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading sampling config: %w", err)
	}
	var config SamplingConfig
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parsing sampling config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate checks the weight tables and ratios
func (s *SamplingConfig) Validate() error {
	if s.EvalRatio <= 0 || s.EvalRatio >= 1 {
		return fmt.Errorf("eval_ratio must be within (0,1), got %v", s.EvalRatio)
	}
	if s.DiacMixingRatio < 0 || s.DiacMixingRatio > 1 {
		return fmt.Errorf("diac_mixing_ratio must be within [0,1], got %v", s.DiacMixingRatio)
	}
	for name, table := range map[string]map[string]float64{"dapt_weights": s.DAPTWeights, "sft_weights": s.SFTWeights} {
		if len(table) == 0 {
			return fmt.Errorf("%s cannot be empty", name)
		}
		for bucket, w := range table {
			if w < 0 {
				return fmt.Errorf("%s[%s] cannot be negative", name, bucket)
			}
		}
	}
	return nil
}

// Hash returns the first 8 hex characters of the md5 of the config's JSON
// encoding. Map keys are encoded sorted, so the hash is stable.
func (s *SamplingConfig) Hash() string {
	data, err := json.Marshal(s)
	if err != nil {
		return ""
	}
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])[:8]
}

package processing

import (
	"github.com/Caia-Tech/hdrp/pkg/episode"
)

// NormalizationRule is one step of text canonicalization. Rules must be
// total: every input maps to an output, and the empty string maps to itself.
type NormalizationRule interface {
	Name() string
	Description() string
	Apply(text string) string
}

// Normalizer applies an ordered chain of rules. The default chain is
// idempotent: normalizing normalized text returns it unchanged.
type Normalizer struct {
	rules        []NormalizationRule
	enabledRules map[string]bool
}

// NewNormalizer creates a normalizer with the default Hassaniya rule chain
func NewNormalizer() *Normalizer {
	n := &Normalizer{
		rules:        make([]NormalizationRule, 0),
		enabledRules: make(map[string]bool),
	}

	n.AddRule(&LetterFoldingRule{})
	n.AddRule(&PunctuationFoldingRule{})
	n.AddRule(&TatweelRule{})
	n.AddRule(NewLatinTaggingRule(DefaultFrenchWords))
	n.AddRule(&ElongationRule{MaxRepeat: 2})
	n.AddRule(&WhitespaceRule{})

	return n
}

// AddRule appends a rule to the chain and enables it
func (n *Normalizer) AddRule(rule NormalizationRule) {
	n.rules = append(n.rules, rule)
	n.enabledRules[rule.Name()] = true
}

// EnableRule enables a specific rule by name
func (n *Normalizer) EnableRule(name string) {
	n.enabledRules[name] = true
}

// DisableRule disables a specific rule by name
func (n *Normalizer) DisableRule(name string) {
	n.enabledRules[name] = false
}

// Normalize returns the canonical form of text
func (n *Normalizer) Normalize(text string) string {
	out, _ := n.Apply(text)
	return out
}

// Apply normalizes text and reports which rules changed it
func (n *Normalizer) Apply(text string) (string, []string) {
	applied := []string{}
	if text == "" {
		return "", applied
	}
	for _, rule := range n.rules {
		if !n.enabledRules[rule.Name()] {
			continue
		}
		after := rule.Apply(text)
		if after != text {
			applied = append(applied, rule.Name())
			text = after
		}
	}
	return text, applied
}

// NormalizeSegment fills the raw and normalized text variants of seg
func (n *Normalizer) NormalizeSegment(seg *episode.Segment) []string {
	norm, applied := n.Apply(seg.RawText)
	seg.SetNorm(norm)
	return applied
}

// GetEnabledRules returns the names of enabled rules in chain order
func (n *Normalizer) GetEnabledRules() []string {
	enabled := make([]string, 0, len(n.rules))
	for _, rule := range n.rules {
		if n.enabledRules[rule.Name()] {
			enabled = append(enabled, rule.Name())
		}
	}
	return enabled
}

// GetAvailableRules returns all rules with descriptions
func (n *Normalizer) GetAvailableRules() map[string]string {
	rules := make(map[string]string, len(n.rules))
	for _, rule := range n.rules {
		rules[rule.Name()] = rule.Description()
	}
	return rules
}

package collector

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Caia-Tech/hdrp/pkg/episode"
)

// Rule votes Weight for Label when Pattern occurs in the text. Patterns are
// case-insensitive substrings unless prefixed with "re:", in which case the
// rest is a regular expression.
type Rule struct {
	Pattern string  `json:"pattern" toml:"pattern"`
	Label   string  `json:"label" toml:"label"`
	Weight  float64 `json:"weight" toml:"weight"`
}

// Ruleset holds the heuristic tables for bucket, topic and heat classification.
// Heat rules use the heat level as their weight.
type Ruleset struct {
	Buckets []Rule `json:"buckets" toml:"buckets"`
	Topics  []Rule `json:"topics" toml:"topics"`
	Heat    []Rule `json:"heat" toml:"heat"`
}

func keywords(label string, weight float64, patterns ...string) []Rule {
	rules := make([]Rule, len(patterns))
	for i, p := range patterns {
		rules[i] = Rule{Pattern: p, Label: label, Weight: weight}
	}
	return rules
}

func concat(groups ...[]Rule) []Rule {
	var out []Rule
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

// DefaultRuleset returns the keyword tables used to label legacy chat data
func DefaultRuleset() Ruleset {
	return Ruleset{
		Buckets: concat(
			keywords(episode.BucketEverydayChat, 1,
				"hello", "hi", "greet", "how are", "اشحالك", "لاباس", "مرحبا", "السلام",
				"good morning", "good evening", "صباح", "مساء", "thank", "شكر"),
			keywords(episode.BucketMarketplaceQA, 1,
				"price", "buy", "sell", "سعر", "بيع", "شراء", "نيمرو", "ابرتماه",
				"market", "trade", "cost", "كم", "فلوس"),
			keywords(episode.BucketPublicComments, 1,
				"comment", "reply", "post", "تعليق", "رد"),
			keywords(episode.BucketCultureStoryPoetry, 1,
				"poem", "poetry", "story", "قصيدة", "شعر", "قصة", "لغن", "azawan"),
			keywords(episode.BucketTVDiscussion, 1,
				"interview", "show", "program", "برنامج", "مقابلة"),
			keywords(episode.BucketParliamentPolitics, 1,
				"parliament", "politics", "government", "برلمان", "سياسة", "حكومة"),
		),
		Topics: concat(
			keywords(episode.TopicSocialFamily, 1, "family", "عائلة", "أهل", "زواج", "marriage", "children", "أطفال"),
			keywords(episode.TopicReligion, 1, "allah", "الله", "prayer", "صلاة", "mosque", "مسجد", "islam", "إسلام"),
			keywords(episode.TopicTradeEcon, 1, "money", "فلوس", "price", "سعر", "business", "تجارة", "work", "عمل"),
			keywords(episode.TopicLifestyle, 1, "food", "أكل", "house", "دار", "car", "سيارة", "clothes", "ملابس"),
			keywords(episode.TopicEntertainmentSports, 1, "football", "كرة", "music", "موسيقى", "game", "لعب"),
			keywords(episode.TopicPolitics, 1, "government", "حكومة", "election", "انتخاب", "president", "رئيس"),
			keywords(episode.TopicLocalServices, 1, "hospital", "مستشفى", "school", "مدرسة", "shop", "دكان"),
		),
		Heat: concat(
			keywords("3", 3, "حرب", "war", "قتل", "kill", "موت", "death"),
			keywords("2", 2, "سياسة", "politics", "حكومة", "government", "انتخاب"),
			keywords("1", 1, "دين", "religion", "الله", "allah"),
		),
	}
}

type compiledRule struct {
	Rule
	keyword string
	re      *regexp.Regexp
}

func (r *compiledRule) matches(lower string) bool {
	if r.re != nil {
		return r.re.MatchString(lower)
	}
	return strings.Contains(lower, r.keyword)
}

func compile(rules []Rule) ([]compiledRule, error) {
	out := make([]compiledRule, len(rules))
	for i, r := range rules {
		out[i] = compiledRule{Rule: r}
		if expr, ok := strings.CutPrefix(r.Pattern, "re:"); ok {
			re, err := regexp.Compile("(?i)" + expr)
			if err != nil {
				return nil, fmt.Errorf("rule %q for %s: %w", r.Pattern, r.Label, err)
			}
			out[i].re = re
			continue
		}
		out[i].keyword = strings.ToLower(r.Pattern)
	}
	return out, nil
}

// Classifier applies a compiled Ruleset
type Classifier struct {
	buckets []compiledRule
	topics  []compiledRule
	heat    []compiledRule
}

// NewClassifier compiles rs; an invalid regular expression is an error
func NewClassifier(rs Ruleset) (*Classifier, error) {
	var c Classifier
	var err error
	if c.buckets, err = compile(rs.Buckets); err != nil {
		return nil, fmt.Errorf("bucket rules: %w", err)
	}
	if c.topics, err = compile(rs.Topics); err != nil {
		return nil, fmt.Errorf("topic rules: %w", err)
	}
	if c.heat, err = compile(rs.Heat); err != nil {
		return nil, fmt.Errorf("heat rules: %w", err)
	}
	return &c, nil
}

// best sums the weights of matching rules per label and returns the highest
// scoring label, the earliest listed one on ties, or fallback when nothing matched
func best(rules []compiledRule, text, fallback string) string {
	lower := strings.ToLower(text)
	scores := make(map[string]float64)
	var order []string
	for i := range rules {
		r := &rules[i]
		if _, seen := scores[r.Label]; !seen {
			scores[r.Label] = 0
			order = append(order, r.Label)
		}
		if r.matches(lower) {
			scores[r.Label] += r.Weight
		}
	}

	label, top := fallback, 0.0
	for _, l := range order {
		if scores[l] > top {
			label, top = l, scores[l]
		}
	}
	return label
}

// Bucket classifies text into a content bucket, everyday_chat by default
func (c *Classifier) Bucket(text string) string {
	return best(c.buckets, text, episode.BucketEverydayChat)
}

// Topic classifies text into a topic, mixed by default
func (c *Classifier) Topic(text string) string {
	return best(c.topics, text, episode.TopicMixed)
}

// Heat returns the highest level among matching heat rules, capped at MaxHeat
func (c *Classifier) Heat(text string) int {
	lower := strings.ToLower(text)
	level := 0
	for i := range c.heat {
		if c.heat[i].matches(lower) {
			level = max(level, int(c.heat[i].Weight))
		}
	}
	return min(level, episode.MaxHeat)
}

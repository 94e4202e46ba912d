package processing

import (
	"regexp"
	"strings"
)

const tatweel = 'ـ'

// DefaultFrenchWords is the closed list deciding between the <FR> and <EN> tags
var DefaultFrenchWords = []string{
	"le", "la", "les", "de", "du", "des", "un", "une",
	"et", "est", "pour", "avec", "dans", "sur", "que", "qui",
}

var letterFolder = strings.NewReplacer(
	"أ", "ا",
	"إ", "ا",
	"آ", "ا",
	"ة", "ه",
)

// LetterFoldingRule folds hamza-carrying alefs to bare alef and ta marbuta to ha
type LetterFoldingRule struct{}

func (r *LetterFoldingRule) Name() string {
	return "letter_folding"
}

func (r *LetterFoldingRule) Description() string {
	return "Folds أ إ آ to ا and ة to ه"
}

func (r *LetterFoldingRule) Apply(text string) string {
	return letterFolder.Replace(text)
}

var punctuationFolder = strings.NewReplacer(
	",", "،",
	"?", "؟",
	";", "؛",
)

// PunctuationFoldingRule maps Latin comma, question mark and semicolon to their Arabic forms
type PunctuationFoldingRule struct{}

func (r *PunctuationFoldingRule) Name() string {
	return "punctuation_folding"
}

func (r *PunctuationFoldingRule) Description() string {
	return "Folds , ? ; to ، ؟ ؛"
}

func (r *PunctuationFoldingRule) Apply(text string) string {
	return punctuationFolder.Replace(text)
}

// TatweelRule removes the kashida elongation character
type TatweelRule struct{}

func (r *TatweelRule) Name() string {
	return "tatweel_removal"
}

func (r *TatweelRule) Description() string {
	return "Removes tatweel (ـ)"
}

func (r *TatweelRule) Apply(text string) string {
	if !strings.ContainsRune(text, tatweel) {
		return text
	}
	return strings.ReplaceAll(text, string(tatweel), "")
}

// latinPattern matches an already tagged span first so tagging is stable
var latinPattern = regexp.MustCompile(`<FR>[^<]*</FR>|<EN>[^<]*</EN>|\b[a-zA-Z]{2,}\b`)

// LatinTaggingRule wraps bare Latin words of two or more letters in <FR> when
// the word is in the French list and in <EN> otherwise.
type LatinTaggingRule struct {
	french map[string]bool
}

// NewLatinTaggingRule builds the rule from a French word list
func NewLatinTaggingRule(frenchWords []string) *LatinTaggingRule {
	french := make(map[string]bool, len(frenchWords))
	for _, w := range frenchWords {
		french[strings.ToLower(w)] = true
	}
	return &LatinTaggingRule{french: french}
}

func (r *LatinTaggingRule) Name() string {
	return "latin_tagging"
}

func (r *LatinTaggingRule) Description() string {
	return "Wraps Latin words in <FR> or <EN> language tags"
}

func (r *LatinTaggingRule) Apply(text string) string {
	return latinPattern.ReplaceAllStringFunc(text, func(match string) string {
		if match[0] == '<' {
			return match
		}
		if r.french[strings.ToLower(match)] {
			return "<FR>" + match + "</FR>"
		}
		return "<EN>" + match + "</EN>"
	})
}

// ElongationRule truncates runs of identical characters to MaxRepeat
type ElongationRule struct {
	MaxRepeat int
}

func (r *ElongationRule) Name() string {
	return "elongation_collapse"
}

func (r *ElongationRule) Description() string {
	return "Truncates runs of 3 or more identical characters to 2"
}

func (r *ElongationRule) Apply(text string) string {
	limit := r.MaxRepeat
	if limit < 1 {
		limit = 2
	}

	var b strings.Builder
	b.Grow(len(text))
	var prev rune
	run := 0
	for i, c := range text {
		if i > 0 && c == prev {
			run++
		} else {
			run = 1
			prev = c
		}
		if run <= limit {
			b.WriteRune(c)
		}
	}
	return b.String()
}

// WhitespaceRule collapses whitespace runs to one space and trims the ends
type WhitespaceRule struct{}

func (r *WhitespaceRule) Name() string {
	return "whitespace_collapse"
}

func (r *WhitespaceRule) Description() string {
	return "Collapses whitespace runs to a single space and trims"
}

func (r *WhitespaceRule) Apply(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

package episode

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Decision is the refinery verdict for a segment
type Decision string

const (
	// DecisionPending marks a segment the scorer has not seen yet
	DecisionPending Decision = "PENDING"
	DecisionAccept  Decision = "ACCEPT"
	DecisionReview  Decision = "REVIEW"
	DecisionReject  Decision = "REJECT"
)

// Scored reports whether the decision came from the scorer
func (d Decision) Scored() bool {
	return d == DecisionAccept || d == DecisionReview || d == DecisionReject
}

// Content buckets
const (
	BucketEverydayChat        = "everyday_chat"
	BucketMarketplaceQA       = "marketplace_qa"
	BucketPublicComments      = "public_comments"
	BucketCultureStoryPoetry  = "culture_story_poetry"
	BucketTVDiscussion        = "tv_discussion"
	BucketParliamentPolitics  = "parliament_politics"
	BucketMonologueSpecialist = "monologue_specialist"
)

// Interaction modes
const (
	ModeDialogue  = "dialogue"
	ModeQA        = "qa"
	ModeMonologue = "monologue"
	ModeNarrative = "narrative"
)

// Topics
const (
	TopicSocialFamily        = "social_family"
	TopicReligion            = "religion"
	TopicTradeEcon           = "trade_econ"
	TopicLifestyle           = "lifestyle"
	TopicEntertainmentSports = "entertainment_sports"
	TopicPolitics            = "politics"
	TopicLocalServices       = "local_services"
	TopicMixed               = "mixed"
)

// Source types
const (
	SourceWhatsApp = "whatsapp_desktop"
	SourceFacebook = "facebook"
	SourceYouTube  = "youtube_transcript"
	SourcePoetry   = "poetry_azawan"
	SourceWebsite  = "website"
	SourceDocument = "document"
)

// MaxHeat is the highest sensitivity level
const MaxHeat = 3

// Speaker tags
const (
	SpeakerSystem   = "system"
	SpeakerUser     = "spk1"
	SpeakerOther    = "spk2"
	SpeakerNarrator = "narrator"
)

// Episode is one recorded interaction or document with its ordered segments
type Episode struct {
	EpisodeID       string    `json:"episode_id"`
	SourceType      string    `json:"source_type"`
	SourceURI       string    `json:"source_uri"`
	CapturedAt      Timestamp `json:"captured_at"`
	Bucket          string    `json:"bucket"`
	InteractionMode string    `json:"interaction_mode"`
	Topic           string    `json:"topic"`
	Heat            int       `json:"heat"`
	Segments        []Segment `json:"segments"`
}

// Segment is one turn of an episode
type Segment struct {
	SegmentID    string             `json:"segment_id"`
	Speaker      string             `json:"speaker"`
	RawText      string             `json:"raw_text"`
	TextVariants TextVariants       `json:"text_variants"`
	LangProbs    map[string]float64 `json:"lang_probs"`
	DQS          int                `json:"dqs"`
	Decision     Decision           `json:"decision"`
	Flags        []string           `json:"flags"`
}

// TextVariants holds the text forms of a segment. Everything but Raw stays
// null until the refinery fills it.
type TextVariants struct {
	Raw           string  `json:"raw"`
	Norm          *string `json:"norm"`
	Diac          *string `json:"diac"`
	DiacCandidate *string `json:"diac_candidate"`
}

// NewSegment returns an unscored segment at 1-based position n
func NewSegment(n int, speaker, text string, probs map[string]float64) Segment {
	return Segment{
		SegmentID:    SegmentID(n),
		Speaker:      speaker,
		RawText:      text,
		TextVariants: TextVariants{Raw: text},
		LangProbs:    probs,
		Decision:     DecisionPending,
		Flags:        []string{},
	}
}

// NormText returns the normalized variant, or "" when unset
func (s *Segment) NormText() string {
	if s.TextVariants.Norm == nil {
		return ""
	}
	return *s.TextVariants.Norm
}

// DiacText returns the diacritized variant, or "" when unset
func (s *Segment) DiacText() string {
	if s.TextVariants.Diac == nil {
		return ""
	}
	return *s.TextVariants.Diac
}

// NormOrRaw prefers the normalized text and falls back to the raw text
func (s *Segment) NormOrRaw() string {
	if s.TextVariants.Norm != nil {
		return *s.TextVariants.Norm
	}
	return s.RawText
}

// SetNorm stores the normalized variant
func (s *Segment) SetNorm(text string) {
	s.TextVariants.Raw = s.RawText
	s.TextVariants.Norm = &text
}

// HasFlag reports whether the flag is set
func (s *Segment) HasFlag(flag string) bool {
	for _, f := range s.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

// Hashes returns the content hashes of every segment whose preferred text is
// longer than minLen runes.
func (e *Episode) Hashes(minLen int) map[string]struct{} {
	hashes := make(map[string]struct{})
	for i := range e.Segments {
		text := e.Segments[i].NormOrRaw()
		if text == "" || utf8.RuneCountInString(text) <= minLen {
			continue
		}
		hashes[ContentHash(text)] = struct{}{}
	}
	return hashes
}

// Validate checks the fields every stage relies on
func (e *Episode) Validate() error {
	if e.EpisodeID == "" {
		return fmt.Errorf("episode ID cannot be empty")
	}
	if e.Heat < 0 || e.Heat > MaxHeat {
		return fmt.Errorf("episode %s: heat %d out of range 0-%d", e.EpisodeID, e.Heat, MaxHeat)
	}
	seen := make(map[string]bool, len(e.Segments))
	for i, seg := range e.Segments {
		if seg.SegmentID == "" {
			return fmt.Errorf("episode %s: segment %d has no ID", e.EpisodeID, i)
		}
		if seen[seg.SegmentID] {
			return fmt.Errorf("episode %s: duplicate segment ID %s", e.EpisodeID, seg.SegmentID)
		}
		seen[seg.SegmentID] = true
		if seg.DQS < 0 || seg.DQS > 100 {
			return fmt.Errorf("episode %s: segment %s dqs %d out of range", e.EpisodeID, seg.SegmentID, seg.DQS)
		}
	}
	return nil
}

// Timestamp accepts RFC 3339 as well as zone-less ISO 8601 timestamps
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// UnmarshalJSON parses any of the supported layouts; null and "" leave the zero time
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var raw string
	if string(data) == "null" {
		return nil
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("captured_at: %w", err)
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, raw); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("captured_at: unrecognized timestamp %q", raw)
}

// MarshalJSON writes RFC 3339
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Format(time.RFC3339Nano))
}

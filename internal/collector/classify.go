package collector

import (
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/Caia-Tech/hdrp/pkg/episode"
)

var questionMarkers = []string{"?", "؟", "translate", "what", "how", "ما", "كيف", "شنو"}

// InteractionMode labels a chat: qa when a user question gets an answer,
// dialogue for any other user/assistant exchange, monologue for assistant
// turns only, narrative otherwise
func InteractionMode(messages []episode.Message) string {
	var users, assistants int
	var userText []string
	for _, m := range messages {
		switch m.Role {
		case episode.RoleUser:
			users++
			userText = append(userText, m.Content)
		case episode.RoleAssistant:
			assistants++
		}
	}

	switch {
	case users > 0 && assistants > 0:
		joined := strings.ToLower(strings.Join(userText, " "))
		for _, q := range questionMarkers {
			if strings.Contains(joined, q) {
				return episode.ModeQA
			}
		}
		return episode.ModeDialogue
	case assistants > 0:
		return episode.ModeMonologue
	}
	return episode.ModeNarrative
}

var frenchFunctionWords = map[string]bool{
	"le": true, "la": true, "les": true, "de": true, "du": true, "des": true,
	"un": true, "une": true, "et": true, "est": true, "pour": true, "avec": true,
}

// LangProbs estimates dialect probabilities from the share of Arabic-script
// characters and of French function words. Values are rounded to three
// places and sum to about one.
func LangProbs(text string) map[string]float64 {
	totalChars := max(utf8.RuneCountInString(text), 1)
	arabic := 0
	for _, r := range text {
		if r >= 0x0600 && r <= 0x06FF {
			arabic++
		}
	}

	words := strings.Fields(strings.ToLower(text))
	french := 0
	for _, w := range words {
		if frenchFunctionWords[w] {
			french++
		}
	}

	arabicRatio := float64(arabic) / float64(totalChars)
	frenchRatio := float64(french) / float64(max(len(words), 1))

	hassaniya := arabicRatio
	if arabicRatio > 0.3 {
		hassaniya = math.Min(0.95, arabicRatio*1.2)
	}
	msa := math.Max(0, arabicRatio-hassaniya)

	total := hassaniya + msa + frenchRatio + 0.01
	return map[string]float64{
		"hassaniya": round3(hassaniya / total),
		"msa":       round3(msa / total),
		"french":    round3(frenchRatio / total),
		"mixed":     round3(0.01 / total),
	}
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

// InferSourceType maps a free-form source label to a source type
func InferSourceType(source string) string {
	s := strings.ToLower(source)
	switch {
	case strings.Contains(s, "whatsapp"):
		return episode.SourceWhatsApp
	case strings.Contains(s, "facebook"):
		return episode.SourceFacebook
	case strings.Contains(s, "youtube"):
		return episode.SourceYouTube
	case strings.Contains(s, "poetry"), strings.Contains(s, "diwan"):
		return episode.SourcePoetry
	}
	return episode.SourceWebsite
}

// SpeakerFor maps a chat role to a speaker tag; unknown roles get spk<n>
// where n is the 1-based segment position
func SpeakerFor(role string, position int) string {
	switch role {
	case episode.RoleSystem:
		return episode.SpeakerSystem
	case episode.RoleUser:
		return episode.SpeakerUser
	case episode.RoleAssistant:
		return episode.SpeakerOther
	}
	return fmt.Sprintf("spk%d", position)
}

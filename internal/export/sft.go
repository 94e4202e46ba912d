package export

import (
	"fmt"
	"math/rand"
	"strings"
	"unicode/utf8"

	"github.com/Caia-Tech/hdrp/pkg/episode"
)

// System prompts
const (
	SFTSystemPrompt  = "You are a helpful Hassaniya assistant. You speak the authentic Hassania (Hassaniya) Arabic dialect from Mauritania."
	EvalSystemPrompt = "You are a helpful Hassaniya assistant."
)

// Single-turn task names recorded in meta
const (
	TaskGeneration      = "generation"
	TaskTopicGeneration = "topic_generation"
)

const (
	minSFTTurnLen    = 3
	minSingleTurnLen = 5
	minTopicTurnLen  = 20
)

// SFTOptions controls instruction-tuning record generation
type SFTOptions struct {
	SingleTurnTasks bool
	MinRecords      int
}

// speakerRole maps a speaker tag to a chat role, alternating by position for
// tags it does not know
func speakerRole(speaker string, position int) string {
	switch speaker {
	case episode.SpeakerUser, episode.RoleUser:
		return episode.RoleUser
	case episode.SpeakerOther, episode.RoleAssistant:
		return episode.RoleAssistant
	}
	return positionRole(position)
}

func positionRole(position int) string {
	if position%2 == 0 {
		return episode.RoleUser
	}
	return episode.RoleAssistant
}

func recordMeta(ep *episode.Episode) *episode.RecordMeta {
	bucket := ep.Bucket
	if bucket == "" {
		bucket = episode.BucketEverydayChat
	}
	topic := ep.Topic
	if topic == "" {
		topic = episode.TopicMixed
	}
	return &episode.RecordMeta{EpisodeID: ep.EpisodeID, Bucket: bucket, Topic: topic}
}

// Conversation builds the multi-turn SFT record for ep. It returns false when
// the episode has fewer than two segments or the result would lack a user or
// an assistant turn.
func Conversation(ep *episode.Episode) (episode.ChatRecord, bool) {
	if len(ep.Segments) < 2 {
		return episode.ChatRecord{}, false
	}

	messages := []episode.Message{{Role: episode.RoleSystem, Content: SFTSystemPrompt}}
	for i := range ep.Segments {
		seg := &ep.Segments[i]
		if seg.Decision == episode.DecisionReject {
			continue
		}
		text := seg.NormOrRaw()
		if utf8.RuneCountInString(strings.TrimSpace(text)) < minSFTTurnLen {
			continue
		}
		messages = append(messages, episode.Message{Role: speakerRole(seg.Speaker, i), Content: text})
	}

	record := episode.ChatRecord{Messages: messages, Meta: recordMeta(ep)}
	if len(messages) < 3 || !record.HasRoles() {
		return episode.ChatRecord{}, false
	}
	return record, true
}

// SingleTurns turns every usable segment of ep into prompted generation records
func SingleTurns(ep *episode.Episode) []episode.ChatRecord {
	var records []episode.ChatRecord
	for i := range ep.Segments {
		seg := &ep.Segments[i]
		if seg.Decision == episode.DecisionReject {
			continue
		}
		text := seg.NormOrRaw()
		if utf8.RuneCountInString(strings.TrimSpace(text)) < minSingleTurnLen {
			continue
		}

		meta := recordMeta(ep)
		meta.Task = TaskGeneration
		records = append(records, singleTurn("Respond in Hassaniya dialect:", text, meta))

		if utf8.RuneCountInString(text) > minTopicTurnLen {
			meta := recordMeta(ep)
			meta.Task = TaskTopicGeneration
			prompt := fmt.Sprintf("Say something in Hassaniya about %s:", meta.Topic)
			records = append(records, singleTurn(prompt, text, meta))
		}
	}
	return records
}

func singleTurn(prompt, answer string, meta *episode.RecordMeta) episode.ChatRecord {
	return episode.ChatRecord{
		Messages: []episode.Message{
			{Role: episode.RoleSystem, Content: EvalSystemPrompt},
			{Role: episode.RoleUser, Content: prompt},
			{Role: episode.RoleAssistant, Content: answer},
		},
		Meta: meta,
	}
}

// BuildSFT generates conversation records, samples them per bucket without
// forcing quotas, then tops the result up to MinRecords from the records
// that were not picked
func BuildSFT(rng *rand.Rand, episodes []episode.Episode, weights map[string]float64, opts SFTOptions) []episode.ChatRecord {
	var records []episode.ChatRecord
	for i := range episodes {
		ep := &episodes[i]
		if rec, ok := Conversation(ep); ok {
			records = append(records, rec)
		}
		if opts.SingleTurnTasks {
			records = append(records, SingleTurns(ep)...)
		}
	}

	pool := make(map[string][]int)
	for i := range records {
		b := records[i].Meta.Bucket
		pool[b] = append(pool[b], i)
	}

	picked := Sample(rng, pool, weights, len(records), TakeAll)
	chosen := make(map[int]bool, len(picked))
	for _, idx := range picked {
		chosen[idx] = true
	}

	if len(picked) < opts.MinRecords {
		var remaining []int
		for i := range records {
			if !chosen[i] {
				remaining = append(remaining, i)
			}
		}
		needed := min(opts.MinRecords-len(picked), len(remaining))
		for _, k := range rng.Perm(len(remaining))[:needed] {
			picked = append(picked, remaining[k])
		}
	}

	out := make([]episode.ChatRecord, len(picked))
	for i, idx := range picked {
		out[i] = records[idx]
	}
	Shuffle(rng, out)
	return out
}

// BuildEval emits one conversation per eval episode from its accepted and
// reviewed segments, assigning roles by position
func BuildEval(episodes []episode.Episode) []episode.ChatRecord {
	var records []episode.ChatRecord
	for i := range episodes {
		ep := &episodes[i]
		messages := []episode.Message{{Role: episode.RoleSystem, Content: EvalSystemPrompt}}

		position := 0
		for j := range ep.Segments {
			seg := &ep.Segments[j]
			if seg.Decision != episode.DecisionAccept && seg.Decision != episode.DecisionReview {
				continue
			}
			text := seg.NormOrRaw()
			if text == "" {
				position++
				continue
			}
			messages = append(messages, episode.Message{Role: positionRole(position), Content: text})
			position++
		}

		record := episode.ChatRecord{Messages: messages, Meta: recordMeta(ep)}
		if len(messages) >= 3 && record.HasRoles() {
			records = append(records, record)
		}
	}
	return records
}

package episode

import (
	"encoding/json"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEpisodeID(t *testing.T) {
	at := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	id := NewEpisodeID(at)
	assert.Regexp(t, regexp.MustCompile(`^EP-20250314-[0-9A-F]{6}$`), id)
	assert.NotEqual(t, id, NewEpisodeID(at))
}

func TestSegmentID(t *testing.T) {
	assert.Equal(t, "SEG-001", SegmentID(1))
	assert.Equal(t, "SEG-042", SegmentID(42))
	assert.Equal(t, "SEG-1234", SegmentID(1234))
}

func TestContentHash(t *testing.T) {
	assert.Equal(t, ContentHash("Hello   World"), ContentHash(" hello world "))
	assert.NotEqual(t, ContentHash("hello world"), ContentHash("hello there"))
	assert.Len(t, ContentHash("مرحبا"), 32)
}

func TestEpisode_Validate(t *testing.T) {
	tests := []struct {
		name    string
		ep      Episode
		wantErr bool
	}{
		{
			name: "valid",
			ep: Episode{EpisodeID: "EP-1", Heat: 2, Segments: []Segment{
				NewSegment(1, SpeakerUser, "a", nil),
				NewSegment(2, SpeakerOther, "b", nil),
			}},
		},
		{name: "missing id", ep: Episode{}, wantErr: true},
		{name: "heat too high", ep: Episode{EpisodeID: "EP-1", Heat: 4}, wantErr: true},
		{
			name: "duplicate segment id",
			ep: Episode{EpisodeID: "EP-1", Segments: []Segment{
				NewSegment(1, SpeakerUser, "a", nil),
				NewSegment(1, SpeakerOther, "b", nil),
			}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.ep.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestEpisode_Hashes(t *testing.T) {
	ep := Episode{Segments: []Segment{
		NewSegment(1, SpeakerUser, "short", nil),
		NewSegment(2, SpeakerOther, "long enough text here", nil),
		NewSegment(3, SpeakerUser, "LONG enough   text here", nil),
	}}

	hashes := ep.Hashes(10)
	assert.Len(t, hashes, 1)
	assert.Contains(t, hashes, ContentHash("long enough text here"))
}

func TestSegment_NormOrRaw(t *testing.T) {
	seg := NewSegment(1, SpeakerUser, "raw", nil)
	assert.Equal(t, "raw", seg.NormOrRaw())
	assert.Equal(t, "", seg.NormText())

	seg.SetNorm("")
	assert.Equal(t, "", seg.NormOrRaw())

	seg.SetNorm("norm")
	assert.Equal(t, "norm", seg.NormOrRaw())
	assert.Equal(t, "raw", seg.TextVariants.Raw)
}

func TestEpisode_JSONRoundTripKeepsNullVariants(t *testing.T) {
	input := `{"episode_id":"EP-20240101-ABCDEF","source_type":"website","source_uri":"legacy://x/0",
		"captured_at":"2024-01-01T10:30:00.123456","bucket":"everyday_chat","interaction_mode":"dialogue",
		"topic":"mixed","heat":0,"segments":[{"segment_id":"SEG-001","speaker":"spk1","raw_text":"مرحبا",
		"text_variants":{"raw":"مرحبا","norm":null,"diac":null,"diac_candidate":null},
		"lang_probs":{"hassaniya":0.9},"dqs":0,"decision":"PENDING","flags":[]}]}`

	var ep Episode
	require.NoError(t, json.Unmarshal([]byte(input), &ep))
	assert.Equal(t, 2024, ep.CapturedAt.Year())
	assert.Nil(t, ep.Segments[0].TextVariants.Norm)
	assert.Equal(t, DecisionPending, ep.Segments[0].Decision)
	assert.False(t, ep.Segments[0].Decision.Scored())

	out, err := json.Marshal(ep)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"norm":null`)
}

func TestTimestamp_Rejects(t *testing.T) {
	var ts Timestamp
	assert.Error(t, json.Unmarshal([]byte(`"yesterday"`), &ts))
	assert.NoError(t, json.Unmarshal([]byte(`null`), &ts))
	assert.True(t, ts.IsZero())
}

func TestChatRecord_HasRoles(t *testing.T) {
	rec := ChatRecord{Messages: []Message{{Role: RoleSystem}, {Role: RoleUser}}}
	assert.False(t, rec.HasRoles())
	rec.Messages = append(rec.Messages, Message{Role: RoleAssistant})
	assert.True(t, rec.HasRoles())
}

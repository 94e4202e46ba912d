package jsonl

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Caia-Tech/hdrp/pkg/episode"
)

type sample struct {
	ID   int    `json:"id"`
	Text string `json:"text"`
}

func TestReadAll_CountsMalformedLines(t *testing.T) {
	input := strings.Join([]string{
		`{"id":1,"text":"مرحبا"}`,
		``,
		`{"id":2,`,
		`   `,
		`not json`,
		`{"id":3,"text":"<EN>hello</EN>"}`,
	}, "\n")

	records, report, err := ReadAll[sample](strings.NewReader(input))
	require.NoError(t, err)

	assert.Len(t, records, 2)
	assert.Equal(t, 4, report.Lines)
	assert.Equal(t, 2, report.Parsed)
	assert.Equal(t, 2, report.Skipped)
	assert.False(t, report.OK())
	require.Len(t, report.Errors, 2)
	assert.Equal(t, 3, report.Errors[0].Line)
	assert.Equal(t, 5, report.Errors[1].Line)
	assert.Contains(t, report.Errors[0].Error(), "line 3")
}

func TestReadAll_SkipsNullAndInvalidEpisodes(t *testing.T) {
	input := strings.Join([]string{
		`{"episode_id":"EP-20250314-ABCDEF","segments":[{"segment_id":"SEG-001","speaker":"spk1","raw_text":"مرحبا"}]}`,
		`null`,
		`{"segments":[]}`,
		`{"episode_id":"EP-20250314-000001","heat":9}`,
	}, "\n")

	episodes, report, err := ReadAll[episode.Episode](strings.NewReader(input))
	require.NoError(t, err)

	require.Len(t, episodes, 1)
	assert.Equal(t, "EP-20250314-ABCDEF", episodes[0].EpisodeID)
	assert.Equal(t, 4, report.Lines)
	assert.Equal(t, 1, report.Parsed)
	assert.Equal(t, 3, report.Skipped)
	require.Len(t, report.Errors, 3)
	assert.ErrorIs(t, &report.Errors[0], ErrNullRecord)
	assert.Equal(t, 2, report.Errors[0].Line)
	assert.Contains(t, report.Errors[1].Error(), "episode ID cannot be empty")
	assert.Contains(t, report.Errors[2].Error(), "heat 9 out of range")
}

func TestRead_StopsOnCallbackError(t *testing.T) {
	input := "{\"id\":1}\n{\"id\":2}\n{\"id\":3}\n"
	stop := errors.New("stop")

	seen := 0
	report, err := Read(strings.NewReader(input), func(line int, s sample) error {
		seen++
		if s.ID == 2 {
			return stop
		}
		return nil
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 2, seen)
	assert.Equal(t, 2, report.Parsed)
}

func TestReadFile_Missing(t *testing.T) {
	_, _, err := ReadFile[sample](filepath.Join(t.TempDir(), "nope.jsonl"))
	assert.True(t, errors.Is(err, fs.ErrNotExist))
}

func TestWriteFile_RoundTripWithoutEscaping(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "out.jsonl")
	records := []sample{{ID: 1, Text: "<FR>le</FR> سوق"}, {ID: 2, Text: "a&b"}}

	require.NoError(t, WriteFile(path, records))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "<FR>le</FR> سوق")
	assert.Contains(t, string(raw), "a&b")
	assert.Equal(t, 2, strings.Count(string(raw), "\n"))

	back, report, err := ReadFile[sample](path)
	require.NoError(t, err)
	assert.True(t, report.OK())
	assert.Equal(t, records, back)
	assert.Equal(t, path, report.Source)
}

func TestWriteJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.json")
	require.NoError(t, WriteJSON(path, map[string]any{"run_id": "run_1", "errors": []LineError{{Line: 4, Err: errors.New("bad")}}}))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "\n  \"run_id\": \"run_1\"")
	assert.Contains(t, string(raw), `"error": "bad"`)
}

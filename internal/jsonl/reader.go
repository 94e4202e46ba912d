package jsonl

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
)

// maxLineSize bounds a single record; transcripts can be long
const maxLineSize = 16 * 1024 * 1024

// ErrNullRecord is recorded for lines holding a bare JSON null
var ErrNullRecord = errors.New("null record")

// validator is implemented by records that can check their own invariants,
// such as episode.Episode
type validator interface {
	Validate() error
}

// LineError is a record that could not be decoded
type LineError struct {
	Line int   `json:"line"`
	Err  error `json:"-"`
}

func (e *LineError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *LineError) Unwrap() error {
	return e.Err
}

// MarshalJSON includes the error text
func (e LineError) MarshalJSON() ([]byte, error) {
	msg := ""
	if e.Err != nil {
		msg = e.Err.Error()
	}
	return json.Marshal(struct {
		Line  int    `json:"line"`
		Error string `json:"error"`
	}{e.Line, msg})
}

// ParseReport summarizes one pass over a JSONL stream. Blank lines are not
// counted as records.
type ParseReport struct {
	Source  string      `json:"source,omitempty"`
	Lines   int         `json:"lines"`
	Parsed  int         `json:"parsed"`
	Skipped int         `json:"skipped"`
	Errors  []LineError `json:"errors,omitempty"`
}

// OK reports whether every record parsed
func (r *ParseReport) OK() bool {
	return r.Skipped == 0
}

// Read decodes every non-blank line of r into a T and hands it to fn. Lines
// that fail to decode, hold a bare null, or decode into a record whose
// Validate method fails are recorded in the report and skipped. An error
// from fn or from the underlying reader stops the scan.
func Read[T any](r io.Reader, fn func(line int, record T) error) (*ParseReport, error) {
	report := &ParseReport{}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		report.Lines++

		record, err := decode[T](raw)
		if err != nil {
			report.Skipped++
			report.Errors = append(report.Errors, LineError{Line: line, Err: err})
			continue
		}
		report.Parsed++
		if err := fn(line, record); err != nil {
			return report, err
		}
	}
	if err := scanner.Err(); err != nil {
		return report, fmt.Errorf("reading line %d: %w", line+1, err)
	}
	return report, nil
}

func decode[T any](raw []byte) (T, error) {
	var record T
	if bytes.Equal(raw, []byte("null")) {
		return record, ErrNullRecord
	}
	if err := json.Unmarshal(raw, &record); err != nil {
		return record, err
	}
	if v, ok := any(&record).(validator); ok {
		if err := v.Validate(); err != nil {
			return record, err
		}
	}
	return record, nil
}

// ReadAll collects every decodable record of r
func ReadAll[T any](r io.Reader) ([]T, *ParseReport, error) {
	var records []T
	report, err := Read(r, func(_ int, record T) error {
		records = append(records, record)
		return nil
	})
	return records, report, err
}

// ReadFile collects every decodable record of the file at path. A missing
// file yields an error wrapping fs.ErrNotExist.
func ReadFile[T any](path string) ([]T, *ParseReport, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	records, report, err := ReadAll[T](f)
	if report != nil {
		report.Source = path
	}
	return records, report, err
}

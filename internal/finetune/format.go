package finetune

import (
	"fmt"
	"strings"

	"github.com/Caia-Tech/hdrp/pkg/episode"
)

// maxErrorDetails caps the per-record problems kept in a ValidationReport
const maxErrorDetails = 10

// ValidationReport summarizes a chat file before upload
type ValidationReport struct {
	Total    int      `json:"total"`
	Valid    int      `json:"valid"`
	Invalid  int      `json:"invalid"`
	Warnings int      `json:"warnings"`
	Errors   []string `json:"error_details"`
}

// OK reports whether every record passed
func (r *ValidationReport) OK() bool {
	return r.Invalid == 0
}

// ConvertForOpenAI strips everything but the messages from each record
func ConvertForOpenAI(records []episode.ChatRecord) []episode.ChatRecord {
	out := make([]episode.ChatRecord, 0, len(records))
	for _, r := range records {
		out = append(out, episode.ChatRecord{Messages: r.Messages})
	}
	return out
}

// checkRecord returns the first error in the record and whether any message
// content is empty
func checkRecord(r *episode.ChatRecord) (warning bool, err error) {
	if len(r.Messages) == 0 {
		return false, fmt.Errorf("no messages")
	}
	hasAssistant := false
	for i, m := range r.Messages {
		if m.Role == "" {
			return false, fmt.Errorf("message %d missing role", i)
		}
		if m.Role == episode.RoleAssistant {
			hasAssistant = true
		}
		if strings.TrimSpace(m.Content) == "" {
			warning = true
		}
	}
	if !hasAssistant {
		return false, fmt.Errorf("no assistant message")
	}
	return warning, nil
}

// ValidateChat checks the records the way the fine-tuning API does. Empty
// message content is only a warning.
func ValidateChat(records []episode.ChatRecord) *ValidationReport {
	report := &ValidationReport{Total: len(records), Errors: []string{}}
	for i := range records {
		warning, err := checkRecord(&records[i])
		if err != nil {
			report.Invalid++
			if len(report.Errors) < maxErrorDetails {
				report.Errors = append(report.Errors, fmt.Sprintf("line %d: %v", i+1, err))
			}
			continue
		}
		report.Valid++
		if warning {
			report.Warnings++
		}
	}
	return report
}

// FilterValid drops records that fail validation or carry an empty message
func FilterValid(records []episode.ChatRecord) []episode.ChatRecord {
	out := make([]episode.ChatRecord, 0, len(records))
	for i := range records {
		if warning, err := checkRecord(&records[i]); err != nil || warning {
			continue
		}
		out = append(out, records[i])
	}
	return out
}

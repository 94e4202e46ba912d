package episode

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewEpisodeID returns an ID of the form EP-YYYYMMDD-XXXXXX
func NewEpisodeID(at time.Time) string {
	hexID := strings.ReplaceAll(uuid.New().String(), "-", "")
	return fmt.Sprintf("EP-%s-%s", at.Format("20060102"), strings.ToUpper(hexID[:6]))
}

// SegmentID returns the ID of the segment at 1-based position n
func SegmentID(n int) string {
	return fmt.Sprintf("SEG-%03d", n)
}

// ContentHash is the md5 of the lowercased, whitespace-collapsed text. It is
// the identity used for deduplication and leakage checks.
func ContentHash(text string) string {
	canonical := strings.Join(strings.Fields(strings.ToLower(text)), " ")
	sum := md5.Sum([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

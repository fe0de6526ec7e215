package scan

import (
	"time"

	"github.com/google/uuid"
)

// HistoryEntry records one completed scan.
type HistoryEntry struct {
	ID        uuid.UUID  `json:"id"`
	TargetURL string     `json:"targetUrl"`
	ScannedAt time.Time  `json:"scannedAt"`
	Result    ScanResult `json:"result"`
}

// NewHistoryEntry stamps result with a fresh id and the given time. The
// target falls back to the result's own targetUrl.
func NewHistoryEntry(target string, result ScanResult, at time.Time) HistoryEntry {
	if target == "" {
		target = result.TargetURL
	}
	return HistoryEntry{
		ID:        uuid.New(),
		TargetURL: target,
		ScannedAt: at.UTC(),
		Result:    result,
	}
}

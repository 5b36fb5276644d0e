package engine

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/natefinch/atomic"

	"github.com/flashdb/kvstore/internal/wal"
)

// recoveryManifest is written once at startup as an observability sidecar.
// It is never read back by this program: recovery is driven entirely by
// replaying the WAL itself.
type recoveryManifest struct {
	RecordsApplied int       `json:"records_applied"`
	WALBytes       int64     `json:"wal_bytes"`
	RecoveredAt    time.Time `json:"recovered_at"`
}

func manifestPath(walPath string) string {
	return walPath + ".manifest.json"
}

// writeRecoveryManifest atomically (write-temp-then-rename) writes a
// recovery manifest next to the WAL, so a half-written manifest from a
// crash mid-write is never mistaken for a complete one.
func writeRecoveryManifest(walPath string, summary wal.Summary, recoveredAt time.Time) error {
	m := recoveryManifest{
		RecordsApplied: summary.RecordsApplied,
		WALBytes:       summary.FinalOffset,
		RecoveredAt:    recoveredAt.UTC(),
	}

	body, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return atomic.WriteFile(manifestPath(walPath), bytes.NewReader(body))
}

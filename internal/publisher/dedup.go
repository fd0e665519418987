package publisher

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"eventrelay/internal/domain/feed"
)

// DedupKey derives a stable identity for a dispatch batch from the
// subscriber and the timestamps it contains. A redelivered claim for the
// same record set produces the same key, so the inbox suppresses the
// duplicate within its dedup window.
func DedupKey(subscriberID string, records []*feed.Record) string {
	h := sha256.New()
	h.Write([]byte(subscriberID))
	for _, rec := range records {
		h.Write([]byte(rec.OccurredAt.UTC().Format(time.RFC3339Nano)))
	}
	return hex.EncodeToString(h.Sum(nil))
}

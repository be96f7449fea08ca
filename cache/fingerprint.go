package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// Kind names a computation whose result is cached independently.
type Kind string

// Computation kinds published by the aggregation engine.
const (
	KindOutlays   Kind = "outlays"
	KindGeography Kind = "geography"
)

// Fingerprint derives the content-addressed cache key for one
// mission-computation pair. The award-identifier set is sorted before
// hashing so key derivation is order-independent, and the logic version
// ties entries to the code that produced them: bumping it invalidates
// every prior entry for the kind.
func Fingerprint(missionID string, kind Kind, awardIDs []string, logicVersion string) string {
	sorted := make([]string, len(awardIDs))
	copy(sorted, awardIDs)
	sort.Strings(sorted)

	h := sha256.New()
	h.Write([]byte(missionID))
	h.Write([]byte{0})
	h.Write([]byte(kind))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(sorted, ",")))
	h.Write([]byte{0})
	h.Write([]byte(logicVersion))
	return hex.EncodeToString(h.Sum(nil))
}

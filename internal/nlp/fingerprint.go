package nlp

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Fingerprint computes the deduplication key for a task: a SHA-256 digest
// over the kind, the NFC-normalized input text, and the kind-relevant
// parameter fields. Stable across process restarts.
func Fingerprint(kind Kind, text string, params Params) string {
	canonical := norm.NFC.String(strings.TrimSpace(text))

	// json.Marshal of a fixed struct has deterministic field order
	fields, _ := json.Marshal(params.fingerprint())

	h := sha256.New()
	h.Write([]byte(kind))
	h.Write([]byte{0})
	h.Write([]byte(canonical))
	h.Write([]byte{0})
	h.Write(fields)
	return hex.EncodeToString(h.Sum(nil))
}

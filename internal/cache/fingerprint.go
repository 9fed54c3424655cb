package cache

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gowebpki/jcs"
)

// EmptyFingerprint stands in for nil or empty statistics.
const EmptyFingerprint = "empty-data"

// ErrFingerprint is returned when statistics cannot be canonicalized.
// Callers skip the cache for that request rather than share a key.
var ErrFingerprint = errors.New("cache: cannot fingerprint statistics")

// Fingerprint returns the sha256 hex digest of the RFC 8785 canonical JSON
// form of statistics, so key order in the input does not matter.
func Fingerprint(statistics any) (string, error) {
	if statistics == nil {
		return EmptyFingerprint, nil
	}
	raw, err := json.Marshal(statistics)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrFingerprint, err)
	}
	if isEmptyJSON(raw) {
		return EmptyFingerprint, nil
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrFingerprint, err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

func isEmptyJSON(b []byte) bool {
	switch string(bytes.TrimSpace(b)) {
	case "null", "{}", "[]", `""`:
		return true
	}
	return false
}

// Key builds the composite cache key.
func Key(provider, model, language, fingerprint string) string {
	return provider + ":" + model + ":" + language + ":" + fingerprint
}

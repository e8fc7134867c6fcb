package kdb

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// fingerprintLen is the number of hex characters kept from the digest.
const fingerprintLen = 16

// NormalizeError collapses whitespace runs to single spaces and trims the ends.
// Case and dynamic substrings (ids, timestamps) are left alone.
func NormalizeError(errorText string) string {
	return strings.Join(strings.Fields(errorText), " ")
}

// Fingerprint returns the failure id for errorText observed in testCase.
// It depends only on its arguments, so ids are stable across restarts.
func Fingerprint(testCase, errorText string) string {
	sum := sha256.Sum256([]byte(testCase + ":" + NormalizeError(errorText)))
	return hex.EncodeToString(sum[:])[:fingerprintLen]
}

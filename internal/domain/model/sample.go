package model

import "time"

// fingerprintLength is the number of leading characters of a sample's text
// used as a cheap equality proxy for de-duplication.
const fingerprintLength = 200

// Sample is one extraction of a page's visible text.
type Sample struct {
	Text       string
	CapturedAt time.Time
}

// Fingerprint returns the de-duplication fingerprint for text: its first 200
// characters. Two samples with equal fingerprints are duplicates even when
// their full text differs beyond the prefix; that is the documented contract.
func Fingerprint(text string) string {
	runes := []rune(text)
	if len(runes) <= fingerprintLength {
		return text
	}
	return string(runes[:fingerprintLength])
}

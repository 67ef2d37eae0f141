package entity

import "strings"

const canonicalIDLength = 36

// canonicalSeparators are the byte offsets of '-' in a canonical device ID.
var canonicalSeparators = [4]int{8, 13, 18, 23}

// IsCanonicalID reports whether token has the fixed UUID-like shape the
// platform uses for device identifiers: 36 characters with exactly four
// '-' separators at offsets 8, 13, 18 and 23. Anything else is a name or
// numeric fragment that must be resolved against the device directory.
func IsCanonicalID(token string) bool {
	if len(token) != canonicalIDLength {
		return false
	}
	if strings.Count(token, "-") != len(canonicalSeparators) {
		return false
	}
	for _, pos := range canonicalSeparators {
		if token[pos] != '-' {
			return false
		}
	}
	return true
}

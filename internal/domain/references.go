package domain

import (
	"regexp"
	"strconv"
)

var referenceRegex = regexp.MustCompile(`(?i)@task(\d+)\b`)

// Reference is one @Task<N> marker; Index is 1-based.
type Reference struct {
	Raw   string
	Index int
}

// ParseReferences returns the @Task<N> markers of text in order of appearance,
// without duplicates.
func ParseReferences(text string) []Reference {
	var out []Reference
	seen := make(map[int]bool)
	for _, m := range referenceRegex.FindAllStringSubmatch(text, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, Reference{Raw: m[0], Index: n})
	}
	return out
}

// HasReferences reports whether text contains at least one @Task<N> marker.
func HasReferences(text string) bool {
	return referenceRegex.MatchString(text)
}

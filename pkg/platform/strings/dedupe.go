// Package strings normalizes operator-supplied key lists (emails, hostnames).
package strings

import (
	"strings"
)

// DedupeAndTrim removes duplicates and empty strings from a slice,
// trimming whitespace from each element. Order is preserved.
//
// Example:
//
//	DedupeAndTrim([]string{"  HOST-01 ", "HOST-02", "HOST-01", "", "  "})
//	// Returns: []string{"HOST-01", "HOST-02"}
func DedupeAndTrim(values []string) []string {
	return dedupe(values, func(v string) string { return v })
}

// DedupeAndTrimFold is like DedupeAndTrim but treats elements that differ
// only in case as duplicates. The first spelling is kept as typed.
func DedupeAndTrimFold(values []string) []string {
	return dedupe(values, strings.ToLower)
}

// SplitList splits a delimited argument such as "--hosts a,b,c" and applies
// DedupeAndTrim to the parts.
func SplitList(s, sep string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return DedupeAndTrim(strings.Split(s, sep))
}

func dedupe(values []string, key func(string) string) []string {
	if len(values) == 0 {
		return values
	}

	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))

	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		k := key(v)
		if _, ok := seen[k]; !ok {
			seen[k] = struct{}{}
			result = append(result, v)
		}
	}

	return result
}

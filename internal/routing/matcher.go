package routing

import (
	"fmt"
	"strings"
)

// Topic grammar constants.
const (
	topicSeparator = "/"
	wildcardSingle = "+"
	wildcardMulti  = "#"
)

// ValidatePattern checks a subscription pattern against the wildcard
// grammar. A pattern is a non-empty sequence of non-empty segments joined
// by "/". A segment is either a literal, "+", or "#"; "#" is only valid
// as the final segment, and wildcards may not be combined with other
// characters inside a segment.
func ValidatePattern(pattern string) error {
	if pattern == "" {
		return fmt.Errorf("%w: empty pattern", ErrInvalidPattern)
	}

	segments := strings.Split(pattern, topicSeparator)
	for i, seg := range segments {
		if seg == "" {
			return fmt.Errorf("%w: empty segment in %q", ErrInvalidPattern, pattern)
		}
		if seg == wildcardMulti {
			if i != len(segments)-1 {
				return fmt.Errorf("%w: # must be the final segment in %q", ErrInvalidPattern, pattern)
			}
			continue
		}
		if strings.ContainsAny(seg, wildcardSingle+wildcardMulti) && len(seg) > 1 {
			return fmt.Errorf("%w: wildcard must occupy a whole segment in %q", ErrInvalidPattern, pattern)
		}
	}
	return nil
}

// Matches reports whether topic matches pattern. "+" consumes exactly one
// topic segment; a trailing "#" consumes one or more remaining segments,
// so "devices/#" matches "devices/light/data" but not "devices". Literal
// segments compare exactly. A "#" anywhere but the final segment matches
// nothing, so a pattern that bypassed ValidatePattern fails closed.
func Matches(pattern, topic string) bool {
	if pattern == "" || topic == "" {
		return false
	}

	pSegs := strings.Split(pattern, topicSeparator)
	tSegs := strings.Split(topic, topicSeparator)

	for i, p := range pSegs {
		if p == wildcardMulti {
			// One or more remaining topic segments, final position only.
			return i == len(pSegs)-1 && i < len(tSegs)
		}
		if i >= len(tSegs) {
			return false
		}
		if p == wildcardSingle {
			continue
		}
		if p != tSegs[i] {
			return false
		}
	}
	return len(pSegs) == len(tSegs)
}

// SPDX-License-Identifier: MPL-2.0

package eventbus

import (
	"strings"

	"github.com/ledgerworks/modkernel/pkg/manifest"
)

const wildcard = "*"

// Pattern is a parsed subscription pattern.
type Pattern struct {
	raw      string
	segments []string
	all      bool
}

// ParsePattern validates and parses p.
func ParsePattern(p manifest.EventPattern) (Pattern, error) {
	if err := p.Validate(); err != nil {
		return Pattern{}, err
	}
	raw := string(p)
	if raw == wildcard {
		return Pattern{raw: raw, all: true}, nil
	}
	return Pattern{raw: raw, segments: strings.Split(raw, ".")}, nil
}

// MustParsePattern is ParsePattern for patterns known to be valid. It panics
// otherwise.
func MustParsePattern(p manifest.EventPattern) Pattern {
	parsed, err := ParsePattern(p)
	if err != nil {
		panic(err)
	}
	return parsed
}

// Match reports whether the event name matches the pattern. Literal segments
// must be identical; "*" matches any one segment; the segment counts must agree.
func (p Pattern) Match(name string) bool {
	if p.all {
		return true
	}
	if name == "" {
		return false
	}
	i := 0
	for seg := range strings.SplitSeq(name, ".") {
		if i >= len(p.segments) {
			return false
		}
		if want := p.segments[i]; want != wildcard && want != seg {
			return false
		}
		i++
	}
	return i == len(p.segments)
}

// String returns the pattern as written.
func (p Pattern) String() string {
	return p.raw
}

// MatchesAll reports whether this is the bare "*" pattern.
func (p Pattern) MatchesAll() bool {
	return p.all
}

// SPDX-License-Identifier: MPL-2.0

package cueutil

import (
	"fmt"

	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/format"
)

// Encode renders v as formatted CUE source. Struct fields are named after their
// json tags, so the output round-trips through Decode into the same type.
func Encode(v any) ([]byte, error) {
	ctx := cuecontext.New()
	value := ctx.Encode(v)
	if value.Err() != nil {
		return nil, fmt.Errorf("encode cue value: %w", value.Err())
	}
	out, err := format.Node(value.Syntax())
	if err != nil {
		return nil, fmt.Errorf("format cue source: %w", err)
	}
	return out, nil
}

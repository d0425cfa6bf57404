// SPDX-License-Identifier: MPL-2.0

package cueutil

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// DefaultMaxFileSize caps the size of a file accepted for decoding (5MB).
const DefaultMaxFileSize int64 = 5 * 1024 * 1024

type (
	// Option adjusts a single Decode call.
	Option func(*decodeConfig)

	decodeConfig struct {
		filename   string
		maxSize    int64
		incomplete bool
	}
)

// WithFilename names the input in error messages. Defaults to "<input>".
func WithFilename(name string) Option {
	return func(c *decodeConfig) { c.filename = name }
}

// WithMaxFileSize overrides DefaultMaxFileSize.
func WithMaxFileSize(size int64) Option {
	return func(c *decodeConfig) { c.maxSize = size }
}

// AllowIncomplete skips the concreteness check, for files whose fields are
// all optional and are merged over defaults afterwards.
func AllowIncomplete() Option {
	return func(c *decodeConfig) { c.incomplete = true }
}

// Decode checks data against the definition (e.g. "#Catalog") declared in
// schema and decodes the unified value into a T. Schema problems are reported
// as internal errors; problems in data carry the file name and field path.
func Decode[T any](schema []byte, definition string, data []byte, opts ...Option) (*T, error) {
	cfg := decodeConfig{filename: "<input>", maxSize: DefaultMaxFileSize}
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := CheckFileSize(data, cfg.maxSize, cfg.filename); err != nil {
		return nil, err
	}

	cctx := cuecontext.New()
	def, err := lookupDefinition(cctx, schema, definition)
	if err != nil {
		return nil, err
	}

	input := cctx.CompileBytes(data, cue.Filename(cfg.filename))
	if err := input.Err(); err != nil {
		return nil, FormatError(err, cfg.filename)
	}

	value := def.Unify(input)
	if err := value.Validate(cue.Concrete(!cfg.incomplete)); err != nil {
		return nil, FormatError(err, cfg.filename)
	}

	out := new(T)
	if err := value.Decode(out); err != nil {
		return nil, FormatError(err, cfg.filename)
	}
	return out, nil
}

func lookupDefinition(cctx *cue.Context, schema []byte, definition string) (cue.Value, error) {
	root := cctx.CompileBytes(schema)
	if err := root.Err(); err != nil {
		return cue.Value{}, fmt.Errorf("internal error: compile schema: %w", err)
	}
	def := root.LookupPath(cue.ParsePath(definition))
	if !def.Exists() {
		return cue.Value{}, fmt.Errorf("internal error: schema has no definition %s", definition)
	}
	if err := def.Err(); err != nil {
		return cue.Value{}, fmt.Errorf("internal error: schema definition %s: %w", definition, err)
	}
	return def, nil
}

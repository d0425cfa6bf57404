// SPDX-License-Identifier: MPL-2.0

package cueutil

import (
	"fmt"
	"strconv"
	"strings"

	cueerrors "cuelang.org/go/cue/errors"
)

// FormatError turns a CUE error into one "<path>: <message>" entry per
// underlying problem, prefixed by the file name:
//
//	modules.cue: modules[2].depends_on[0]: conflicting values 3 and string
//
// An error that carries no CUE details is wrapped with the file name.
func FormatError(err error, filename string) error {
	if err == nil {
		return nil
	}
	problems := cueerrors.Errors(err)
	if len(problems) == 0 {
		return fmt.Errorf("%s: %w", filename, err)
	}

	entries := make([]string, 0, len(problems))
	for _, p := range problems {
		entries = append(entries, describe(p))
	}
	if len(entries) == 1 {
		return fmt.Errorf("%s: %s", filename, entries[0])
	}
	return fmt.Errorf("%s: validation failed:\n  %s", filename, strings.Join(entries, "\n  "))
}

func describe(e cueerrors.Error) string {
	path := formatPath(cueerrors.Path(e))
	msg := e.Error()
	if path == "" {
		return msg
	}
	// Some messages already start with the path.
	if rest, ok := strings.CutPrefix(msg, path); ok {
		msg = strings.TrimSpace(strings.TrimPrefix(rest, ":"))
	}
	return path + ": " + msg
}

// formatPath renders ["modules", "0", "id"] as "modules[0].id". A leading
// numeric element is a field name, not an index.
func formatPath(path []string) string {
	var sb strings.Builder
	for i, elem := range path {
		if _, err := strconv.ParseUint(elem, 10, 64); err == nil && i > 0 {
			fmt.Fprintf(&sb, "[%s]", elem)
			continue
		}
		if i > 0 {
			sb.WriteByte('.')
		}
		sb.WriteString(elem)
	}
	return sb.String()
}

// CheckFileSize rejects data larger than maxSize bytes.
func CheckFileSize(data []byte, maxSize int64, filename string) error {
	if size := int64(len(data)); size > maxSize {
		return fmt.Errorf("%s: file size %d bytes exceeds maximum %d bytes", filename, size, maxSize)
	}
	return nil
}

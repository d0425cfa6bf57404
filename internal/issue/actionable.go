// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"errors"
	"fmt"
	"strings"
)

type (
	// ActionableError is a user-facing failure: the operation that failed, the
	// catalog, features file or address involved, and what to try next.
	//
	//	return issue.NewErrorContext().
	//		WithOperation("load module catalog").
	//		WithResource(path).
	//		WithSuggestion("Check that the catalog path is correct").
	//		Wrap(err).
	//		BuildError()
	ActionableError struct {
		// Operation is a verb phrase such as "load module catalog".
		Operation   string
		Resource    string
		Suggestions []string
		Cause       error
	}

	// ErrorContext accumulates the fields of an ActionableError. A context may
	// be built more than once; each build gets its own copy of the suggestions.
	ErrorContext struct {
		draft ActionableError
	}
)

// NewErrorContext starts an empty ErrorContext.
func NewErrorContext() *ErrorContext {
	return &ErrorContext{}
}

// Error renders "failed to <operation>[: <resource>][: <cause>]".
func (e *ActionableError) Error() string {
	parts := []string{"failed to " + e.Operation}
	if e.Resource != "" {
		parts = append(parts, e.Resource)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, ": ")
}

// Unwrap returns the cause.
func (e *ActionableError) Unwrap() error {
	return e.Cause
}

// HasSuggestions reports whether any suggestion is attached.
func (e *ActionableError) HasSuggestions() bool {
	return len(e.Suggestions) > 0
}

// Format renders Error followed by a bulleted suggestion list. In verbose mode
// the unwrapped cause chain is appended, one numbered line per link.
func (e *ActionableError) Format(verbose bool) string {
	var sb strings.Builder
	sb.WriteString(e.Error())

	if e.HasSuggestions() {
		sb.WriteByte('\n')
		for _, s := range e.Suggestions {
			fmt.Fprintf(&sb, "\n  • %s", s)
		}
	}

	if !verbose || e.Cause == nil {
		return sb.String()
	}
	sb.WriteString("\n\nError chain:")
	for depth, err := 1, e.Cause; err != nil; depth, err = depth+1, errors.Unwrap(err) {
		fmt.Fprintf(&sb, "\n  %d. %s", depth, err)
	}
	return sb.String()
}

// WithOperation sets the failed operation. It is the only required field.
func (c *ErrorContext) WithOperation(op string) *ErrorContext {
	c.draft.Operation = op
	return c
}

// WithResource names the file, path or address involved.
func (c *ErrorContext) WithResource(res string) *ErrorContext {
	c.draft.Resource = res
	return c
}

// WithSuggestion appends one hint.
func (c *ErrorContext) WithSuggestion(hint string) *ErrorContext {
	c.draft.Suggestions = append(c.draft.Suggestions, hint)
	return c
}

// Wrap sets the underlying cause.
func (c *ErrorContext) Wrap(err error) *ErrorContext {
	c.draft.Cause = err
	return c
}

// Build returns the ActionableError, or nil when no operation was set.
func (c *ErrorContext) Build() *ActionableError {
	if c.draft.Operation == "" {
		return nil
	}
	out := c.draft
	out.Suggestions = append([]string(nil), c.draft.Suggestions...)
	return &out
}

// BuildError is Build typed as error, so that a missing operation yields a
// true nil interface rather than a typed nil.
func (c *ErrorContext) BuildError() error {
	if ae := c.Build(); ae != nil {
		return ae
	}
	return nil
}

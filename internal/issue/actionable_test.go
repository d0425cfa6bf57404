// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"testing"
)

func TestActionableErrorMessage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  *ActionableError
		want string
	}{
		{
			name: "operation only",
			err:  &ActionableError{Operation: "activate modules"},
			want: "failed to activate modules",
		},
		{
			name: "with resource",
			err:  &ActionableError{Operation: "load module catalog", Resource: "modules.cue"},
			want: "failed to load module catalog: modules.cue",
		},
		{
			name: "with cause",
			err:  &ActionableError{Operation: "serve metrics", Cause: errors.New("address in use")},
			want: "failed to serve metrics: address in use",
		},
		{
			name: "every field",
			err: &ActionableError{
				Operation:   "load features",
				Resource:    "features.cue",
				Suggestions: []string{"ignored by Error"},
				Cause:       fs.ErrNotExist,
			},
			want: "failed to load features: features.cue: file does not exist",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestActionableErrorUnwrap(t *testing.T) {
	t.Parallel()

	cause := fmt.Errorf("open modules.cue: %w", fs.ErrNotExist)
	err := NewErrorContext().WithOperation("load module catalog").Wrap(cause).BuildError()

	if !errors.Is(err, fs.ErrNotExist) {
		t.Error("errors.Is should reach the wrapped sentinel")
	}
	var ae *ActionableError
	if !errors.As(err, &ae) {
		t.Fatalf("errors.As failed for %T", err)
	}
	if ae.Unwrap() != cause {
		t.Errorf("Unwrap() = %v, want %v", ae.Unwrap(), cause)
	}
	if (&ActionableError{Operation: "x"}).Unwrap() != nil {
		t.Error("Unwrap() without a cause should be nil")
	}
}

func TestActionableErrorFormat(t *testing.T) {
	t.Parallel()

	chained := fmt.Errorf("decode: %w", errors.New("unexpected token"))

	tests := []struct {
		name    string
		err     *ActionableError
		verbose bool
		want    []string
		absent  []string
	}{
		{
			name:   "no suggestions",
			err:    &ActionableError{Operation: "activate modules"},
			want:   []string{"failed to activate modules"},
			absent: []string{"•", "Error chain:"},
		},
		{
			name: "suggestions are bulleted",
			err: &ActionableError{
				Operation:   "load module catalog",
				Suggestions: []string{"Check the path", "Run 'modkernel config init'"},
			},
			want: []string{"\n\n  • Check the path", "\n  • Run 'modkernel config init'"},
		},
		{
			name:   "chain hidden when not verbose",
			err:    &ActionableError{Operation: "load features", Cause: chained},
			want:   []string{"failed to load features: decode: unexpected token"},
			absent: []string{"Error chain:"},
		},
		{
			name:    "chain listed when verbose",
			err:     &ActionableError{Operation: "load features", Cause: chained},
			verbose: true,
			want:    []string{"Error chain:", "1. decode: unexpected token", "2. unexpected token"},
			absent:  []string{"3."},
		},
		{
			name:    "verbose without cause",
			err:     &ActionableError{Operation: "activate modules"},
			verbose: true,
			absent:  []string{"Error chain:"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := tt.err.Format(tt.verbose)
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Errorf("Format() = %q, missing %q", got, w)
				}
			}
			for _, a := range tt.absent {
				if strings.Contains(got, a) {
					t.Errorf("Format() = %q, should not contain %q", got, a)
				}
			}
		})
	}
}

func TestErrorContextBuild(t *testing.T) {
	t.Parallel()

	t.Run("missing operation", func(t *testing.T) {
		t.Parallel()
		ctx := NewErrorContext().WithResource("modules.cue").WithSuggestion("unused")
		if ctx.Build() != nil {
			t.Error("Build() without an operation should return nil")
		}
		if err := ctx.BuildError(); err != nil {
			t.Errorf("BuildError() = %#v, want an untyped nil", err)
		}
	})

	t.Run("all fields", func(t *testing.T) {
		t.Parallel()
		cause := errors.New("boom")
		ae := NewErrorContext().
			WithOperation("load module catalog").
			WithResource("modules.cue").
			WithSuggestion("first").
			WithSuggestion("second").
			Wrap(cause).
			Build()
		if ae == nil {
			t.Fatal("Build() returned nil")
		}
		if ae.Operation != "load module catalog" || ae.Resource != "modules.cue" || ae.Cause != cause {
			t.Errorf("Build() = %+v", ae)
		}
		if len(ae.Suggestions) != 2 || !ae.HasSuggestions() {
			t.Errorf("Suggestions = %v, want two", ae.Suggestions)
		}
	})

	t.Run("builds are independent", func(t *testing.T) {
		t.Parallel()
		ctx := NewErrorContext().WithOperation("load features").WithSuggestion("base")
		first := ctx.Build()
		ctx.WithSuggestion("extra")
		second := ctx.Build()

		if len(first.Suggestions) != 1 {
			t.Errorf("first build changed after reuse: %v", first.Suggestions)
		}
		if len(second.Suggestions) != 2 {
			t.Errorf("second build = %v, want two suggestions", second.Suggestions)
		}
		first.Suggestions[0] = "mutated"
		if second.Suggestions[0] != "base" {
			t.Error("builds share their suggestion slice")
		}
	})
}

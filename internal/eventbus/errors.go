// SPDX-License-Identifier: MPL-2.0

package eventbus

import (
	"errors"
	"fmt"

	"github.com/ledgerworks/modkernel/pkg/manifest"
)

// ErrHandlerFailed is the sentinel wrapped by HandlerError.
var ErrHandlerFailed = errors.New("event handler failed")

// HandlerError describes one handler failure during delivery. It wraps
// ErrHandlerFailed for errors.Is() compatibility.
type HandlerError struct {
	Event          string
	SubscriptionID uint64
	Owner          manifest.ModuleID
	// Err is the error the handler returned, or a description of its panic.
	Err error
	// Panicked is set when the handler panicked instead of returning.
	Panicked bool
}

// Error implements the error interface.
func (e *HandlerError) Error() string {
	kind := "failed"
	if e.Panicked {
		kind = "panicked"
	}
	return fmt.Sprintf("handler %d of module %q %s on %q: %v", e.SubscriptionID, e.Owner, kind, e.Event, e.Err)
}

// Unwrap returns both the sentinel and the underlying cause.
func (e *HandlerError) Unwrap() []error {
	return []error{ErrHandlerFailed, e.Err}
}

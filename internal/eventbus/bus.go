// SPDX-License-Identifier: MPL-2.0

package eventbus

import (
	"context"
	"fmt"
	"io"
	"runtime/debug"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ledgerworks/modkernel/internal/metrics"
	"github.com/ledgerworks/modkernel/pkg/manifest"
)

type (
	// Event is one emitted occurrence.
	Event struct {
		// ID is a random UUID assigned at emit time.
		ID        string
		Name      string
		Payload   any
		Timestamp time.Time
		// Source is the emitting module, empty for host-originated events.
		Source manifest.ModuleID
	}

	// Handler reacts to an event. A returned error is logged and counted but
	// never reaches the emitter.
	Handler func(ctx context.Context, ev Event) error

	// Subscription is the handle returned by Subscribe.
	Subscription struct {
		ID      uint64
		Pattern Pattern
		Owner   manifest.ModuleID

		handler Handler
		active  atomic.Bool
	}

	// Delivery summarizes one Emit call.
	Delivery struct {
		Event Event
		// Matched counts the handlers that ran. Subscriptions removed during
		// delivery are not counted.
		Matched int
		Failed  int
		// Errors holds one *HandlerError per failed handler.
		Errors []error
	}

	// Bus dispatches events to subscriptions. It is safe for concurrent use;
	// distinct Emit calls may run in parallel.
	Bus struct {
		mu      sync.RWMutex
		subs    []*Subscription
		removed int
		nextID  uint64

		logger         *log.Logger
		tracer         trace.Tracer
		metrics        *metrics.Metrics
		handlerTimeout time.Duration
		now            func() time.Time
	}

	// Option configures a Bus.
	Option func(*Bus)
)

// WithLogger sets the logger used to report handler failures.
func WithLogger(l *log.Logger) Option {
	return func(b *Bus) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithTracer records one span per Emit call.
func WithTracer(t trace.Tracer) Option {
	return func(b *Bus) {
		if t != nil {
			b.tracer = t
		}
	}
}

// WithMetrics counts emitted events and handler failures.
func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Bus) { b.metrics = m }
}

// WithHandlerTimeout gives each handler a context that expires after d. The
// handler is still awaited after the deadline; it is expected to observe ctx.
func WithHandlerTimeout(d time.Duration) Option {
	return func(b *Bus) { b.handlerTimeout = d }
}

// WithClock overrides the event timestamp source.
func WithClock(now func() time.Time) Option {
	return func(b *Bus) {
		if now != nil {
			b.now = now
		}
	}
}

// New creates an empty bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		logger: log.NewWithOptions(io.Discard, log.Options{Prefix: "eventbus"}),
		tracer: noop.NewTracerProvider().Tracer("eventbus"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Active reports whether the subscription still receives events.
func (s *Subscription) Active() bool {
	return s != nil && s.active.Load()
}

// Subscribe registers handler for events matching pattern on behalf of owner.
// It fails only for a malformed pattern.
func (b *Bus) Subscribe(pattern manifest.EventPattern, handler Handler, owner manifest.ModuleID) (*Subscription, error) {
	parsed, err := ParsePattern(pattern)
	if err != nil {
		return nil, err
	}
	if handler == nil {
		return nil, fmt.Errorf("subscribe %q: nil handler", pattern)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{ID: b.nextID, Pattern: parsed, Owner: owner, handler: handler}
	sub.active.Store(true)
	b.subs = append(b.subs, sub)
	return sub, nil
}

// Unsubscribe detaches sub. It returns false if sub was already detached.
// A delivery already in progress skips sub from this point on.
func (b *Bus) Unsubscribe(sub *Subscription) bool {
	if sub == nil {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if !sub.active.CompareAndSwap(true, false) {
		return false
	}
	b.removed++
	if b.removed > len(b.subs)/2 {
		b.subs = slices.DeleteFunc(b.subs, func(s *Subscription) bool { return !s.active.Load() })
		b.removed = 0
	}
	return true
}

// Len returns the number of live subscriptions.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs) - b.removed
}

// Emit delivers a host-originated event.
func (b *Bus) Emit(ctx context.Context, name string, payload any) Delivery {
	return b.EmitFrom(ctx, "", name, payload)
}

// EmitFrom delivers an event on behalf of source. Handlers run one after the
// other in subscription order; the call returns when all of them settled.
func (b *Bus) EmitFrom(ctx context.Context, source manifest.ModuleID, name string, payload any) Delivery {
	ev := Event{
		ID:        uuid.NewString(),
		Name:      name,
		Payload:   payload,
		Timestamp: b.now(),
		Source:    source,
	}

	ctx, span := b.tracer.Start(ctx, "eventbus.emit", trace.WithAttributes(
		attribute.String("event.name", name),
		attribute.String("event.source", string(source)),
	))
	defer span.End()

	d := Delivery{Event: ev}
	for _, sub := range b.match(name) {
		if !sub.active.Load() {
			continue
		}
		d.Matched++
		if err := b.invoke(ctx, sub, ev); err != nil {
			d.Failed++
			d.Errors = append(d.Errors, err)
			b.metrics.IncHandlerFailure(string(sub.Owner))
			b.logger.Error("event handler failed",
				"event", name, "subscription", sub.ID, "module", sub.Owner, "err", err)
		}
	}

	span.SetAttributes(attribute.Int("event.matched", d.Matched), attribute.Int("event.failed", d.Failed))
	if d.Failed > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d handler(s) failed", d.Failed))
	}
	b.metrics.ObserveEmit(d.Matched)
	return d
}

func (b *Bus) match(name string) []*Subscription {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []*Subscription
	for _, sub := range b.subs {
		if sub.active.Load() && sub.Pattern.Match(name) {
			out = append(out, sub)
		}
	}
	return out
}

func (b *Bus) invoke(ctx context.Context, sub *Subscription, ev Event) (err error) {
	if b.handlerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.handlerTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			b.logger.Debug("handler panic", "subscription", sub.ID, "stack", string(debug.Stack()))
			err = &HandlerError{
				Event:          ev.Name,
				SubscriptionID: sub.ID,
				Owner:          sub.Owner,
				Err:            fmt.Errorf("panic: %v", r),
				Panicked:       true,
			}
		}
	}()

	if herr := sub.handler(ctx, ev); herr != nil {
		return &HandlerError{Event: ev.Name, SubscriptionID: sub.ID, Owner: sub.Owner, Err: herr}
	}
	return nil
}

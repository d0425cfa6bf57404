// SPDX-License-Identifier: MPL-2.0

// Package eventbus is the in-process publish/subscribe channel modules use to
// talk to each other without direct references.
//
// Event names are dot-segmented ("sales.order_placed"). A subscription pattern
// has the same shape where any segment may be "*", matching exactly one
// arbitrary segment at that position; the bare pattern "*" matches every event.
//
// Delivery of one event is sequential and follows subscription order. A
// handler that returns an error or panics is logged and counted, and delivery
// moves on to the next handler. Emit returns once every matched handler has
// settled. Events nobody subscribed to are dropped.
package eventbus

// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

// Package messenger implements the device-side AMQP 1.0 messaging core: one
// queued outbound sender link and one optional inbound receiver link,
// multiplexed over a single caller-supplied session.
//
// A Messenger is created stopped, started against a session, driven forward
// by repeated calls to DoWork, and eventually stopped and destroyed. It owns
// no goroutines of its own beyond the ones needed to keep link attach and
// message send non-blocking (see Session); all state mutation driven by the
// public API and by DoWork happens on whichever goroutine the caller ticks
// it from.
//
//	m, err := messenger.Create(cfg)
//	m.Start(session)
//	for range time.Tick(100 * time.Millisecond) {
//		m.DoWork()
//	}
//
// Entity lifecycle, invariants and state machine are documented in detail in
// SPEC_FULL.md §3 and §4.1; this package implements them without repeating
// the prose in comments.
package messenger

// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

// Package amqptransport is the concrete AMQP 1.0 wire collaborator named in
// SPEC_FULL.md §6, backed by github.com/interconnectedcloud/go-amqp (the
// library the example pack's Skupper messaging layer wraps — see
// DESIGN.md). It is the only package in this module that imports go-amqp
// directly; package messenger only depends on the small Session/Sender/
// Receiver interfaces in messenger/transport.go, so it can be (and is, in
// its own tests) driven by a fake instead.
//
// Link creation and message sends are real network I/O, which is blocking
// in go-amqp. To keep Messenger.DoWork non-blocking (base spec §5,
// "Suspension points: None"), this package performs attach and send calls
// on a background goroutine per operation and publishes the outcome back
// through a channel or a polled atomic state, which DoWork drains or reads
// on its own goroutine. See link.Send and session.NewSender for the
// mechanics.
package amqptransport

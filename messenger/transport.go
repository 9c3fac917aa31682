// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package messenger

import "context"

// Session is the abstraction of the caller-supplied AMQP 1.0 session that
// Messenger drives links through. It is the "external collaborator" named
// in SPEC_FULL.md §6; package amqptransport provides the concrete
// implementation backed by github.com/interconnectedcloud/go-amqp, and
// faketransport_test.go provides an in-memory fake for unit tests.
type Session interface {
	// NewSender begins attaching a sender link with the given name,
	// target address and attach properties. It must return immediately;
	// the returned Sender's State() starts Opening and is updated
	// asynchronously as the attach completes (SPEC_FULL.md §4.1).
	NewSender(linkName, target string, attachProperties map[string]string) Sender
	// NewReceiver is the receiver-link analogue of NewSender. source is
	// the service-defined address the receiver attaches FROM.
	NewReceiver(linkName, source string, attachProperties map[string]string) Receiver
}

// Sender is a half of a link pair: the outbound, sending half.
type Sender interface {
	// State returns the last observed link state. Safe to call from any
	// goroutine. AM itself is the owner of the last-change timestamp
	// (base spec §3 "AM instance"); this method only reports the current
	// state, not when it changed.
	State() LinkState
	// Send enqueues msg for transmission on a background goroutine and
	// arranges for done to be invoked exactly once with the outcome. Send
	// itself must not block, and must not invoke done directly from that
	// background goroutine: the outcome is only delivered when
	// DrainCompletions is next called.
	Send(ctx context.Context, msg *Message, done func(err error))
	// DrainCompletions invokes the done callback for every Send that has
	// completed since the last call, without blocking. Messenger.DoWork
	// calls this once per tick (mirroring how it drains a Receiver's
	// Deliveries), so done always runs on the host's ticking goroutine
	// rather than on whatever goroutine performed the actual I/O.
	DrainCompletions()
	// Close begins detaching the link. Non-blocking; State() reports
	// Closing then Idle.
	Close()
}

// Receiver is the inbound half of a link pair.
type Receiver interface {
	State() LinkState
	// Deliveries returns a channel of inbound deliveries. The channel is
	// closed when the receiver is closed.
	Deliveries() <-chan *Delivery
	// Disposition settles a previously delivered message by delivery
	// number with the given outcome.
	Disposition(deliveryNumber uint64, outcome DispositionOutcome) error
	Close()
}

// Delivery is one inbound AMQP delivery, handed from a Receiver to AM's
// dispatch loop.
type Delivery struct {
	DeliveryNumber uint64
	LinkName       string
	Message        *Message
}

// Message is the minimal AMQP 1.0 envelope this core operates on: an
// optional correlation id, a symbol-keyed annotations map, and an opaque
// body. Payload encoding/decoding is explicitly out of scope (base spec
// §1 non-goals); the core only ever carries bytes.
type Message struct {
	CorrelationID      string
	MessageAnnotations map[string]string
	Body               []byte
}

// Clone returns a deep copy of msg, used at enqueue time so callers can
// reuse or mutate the original after SendAsync returns (base spec §4.1
// send_async: "clones the message").
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	clone := &Message{CorrelationID: m.CorrelationID}
	if m.MessageAnnotations != nil {
		clone.MessageAnnotations = make(map[string]string, len(m.MessageAnnotations))
		for k, v := range m.MessageAnnotations {
			clone.MessageAnnotations[k] = v
		}
	}
	if m.Body != nil {
		clone.Body = append([]byte(nil), m.Body...)
	}
	return clone
}

// DispositionOutcome is the settlement a Messenger user chooses for an
// inbound Delivery (base spec §4.1 receive path).
type DispositionOutcome int

const (
	// DispositionNone defers settlement: the caller must later call
	// Messenger.SendMessageDisposition with the DispositionInfo handle.
	DispositionNone DispositionOutcome = iota
	DispositionAccepted
	DispositionRejected
	DispositionReleased
)

// DispositionInfo is the owned handle to an as-yet-unsettled delivery
// (base spec §3 "Disposition handle", §9 design notes). It is minted when
// the delivery is dispatched to the receive callback and consumed by
// SendMessageDisposition.
type DispositionInfo struct {
	deliveryNumber uint64
	linkName       string
}

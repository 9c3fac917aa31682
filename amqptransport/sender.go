// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package amqptransport

import (
	"context"
	"sync/atomic"

	amqp "github.com/interconnectedcloud/go-amqp"

	"github.com/device-amqp/amqpcore/messenger"
)

// completionBuffer bounds how many finished sends link.Send will buffer
// before the background goroutine blocks publishing one; sendQueue never
// has more than one send in flight at a time (I2), so this is headroom
// rather than a steady-state depth.
const completionBuffer = 4

// sendCompletion pairs a finished Send's outcome with the done callback
// its caller supplied, so DrainCompletions can invoke it later.
type sendCompletion struct {
	done func(err error)
	err  error
}

// link adapts a *amqp.Sender to messenger.Sender. Attach happens on a
// background goroutine (see session.NewSender); state is stored in an
// atomic so DoWork can poll it without synchronizing with that goroutine
// (SPEC_FULL.md §4.1 Go-specific realization note). Send results follow
// the same shape as receiverLink's deliveries: the goroutine that performs
// the actual write only ever publishes onto completions; DrainCompletions,
// called from Messenger.DoWork, is what actually invokes done, so done
// always runs on the host's ticking goroutine.
type link struct {
	state  int32 // messenger.LinkState
	sender *amqp.Sender

	completions chan sendCompletion
}

func newLink() *link {
	l := &link{completions: make(chan sendCompletion, completionBuffer)}
	atomic.StoreInt32(&l.state, int32(messenger.LinkStateOpening))
	return l
}

func (l *link) open() {
	atomic.StoreInt32(&l.state, int32(messenger.LinkStateOpen))
}

func (l *link) fail(_ error) {
	atomic.StoreInt32(&l.state, int32(messenger.LinkStateError))
}

func (l *link) State() messenger.LinkState {
	return messenger.LinkState(atomic.LoadInt32(&l.state))
}

// Send transmits msg on a background goroutine so the caller's DoWork tick
// never blocks on network I/O. The outcome is buffered onto completions,
// never handed to done directly: done only runs later, from
// DrainCompletions.
func (l *link) Send(ctx context.Context, msg *messenger.Message, done func(err error)) {
	sender := l.sender
	wire := toWireMessage(msg)
	go func() {
		err := sender.Send(ctx, wire)
		l.completions <- sendCompletion{done: done, err: err}
	}()
}

// DrainCompletions invokes done for every Send that has finished since the
// last call, without blocking.
func (l *link) DrainCompletions() {
	for {
		select {
		case c := <-l.completions:
			c.done(c.err)
		default:
			return
		}
	}
}

func (l *link) Close() {
	atomic.StoreInt32(&l.state, int32(messenger.LinkStateClosing))
	sender := l.sender
	go func() {
		if sender != nil {
			_ = sender.Close(context.Background())
		}
		atomic.StoreInt32(&l.state, int32(messenger.LinkStateIdle))
	}()
}

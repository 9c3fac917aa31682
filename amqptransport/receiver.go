// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package amqptransport

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	amqp "github.com/interconnectedcloud/go-amqp"

	"github.com/device-amqp/amqpcore/messenger"
)

var errUnknownDelivery = errors.New("amqptransport: unknown or already-settled delivery")

// deliveryBuffer bounds how many undelivered inbound messages
// receiverLink.Deliveries will buffer before the pump goroutine blocks
// applying backpressure to the broker, mirroring the teacher's
// bridge/amqp.BufferSize knob for its subscribe channels.
const deliveryBuffer = 16

// receiverLink adapts a *amqp.Receiver to messenger.Receiver. Like link, it
// attaches asynchronously and exposes its state through an atomic; once
// attached, a pump goroutine turns the library's blocking Receive loop into
// a channel DoWork drains without blocking.
type receiverLink struct {
	state    int32 // messenger.LinkState
	receiver *amqp.Receiver

	deliveries chan *messenger.Delivery
	closeOnce  sync.Once
	cancel     context.CancelFunc

	mu         sync.Mutex
	nextNumber uint64
	unsettled  map[uint64]*amqp.Message
	linkName   string
}

func newReceiverLink(linkName string) *receiverLink {
	r := &receiverLink{
		deliveries: make(chan *messenger.Delivery, deliveryBuffer),
		unsettled:  make(map[uint64]*amqp.Message),
		linkName:   linkName,
	}
	atomic.StoreInt32(&r.state, int32(messenger.LinkStateOpening))
	return r
}

func (r *receiverLink) open(amqpReceiver *amqp.Receiver) {
	r.receiver = amqpReceiver
	atomic.StoreInt32(&r.state, int32(messenger.LinkStateOpen))

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	go r.pump(ctx)
}

func (r *receiverLink) fail(_ error) {
	atomic.StoreInt32(&r.state, int32(messenger.LinkStateError))
}

func (r *receiverLink) State() messenger.LinkState {
	return messenger.LinkState(atomic.LoadInt32(&r.state))
}

// pump repeatedly calls the blocking library Receive and publishes each
// delivery, minting a local monotonic delivery number (go-amqp settles by
// message reference, not by number; this core's Disposition contract needs
// a stable, copyable handle per base spec §3 "Disposition handle" and §9
// design notes, so the number is the adapter's own bookkeeping key).
func (r *receiverLink) pump(ctx context.Context) {
	for {
		msg, err := r.receiver.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				close(r.deliveries)
				return
			}
			atomic.StoreInt32(&r.state, int32(messenger.LinkStateError))
			close(r.deliveries)
			return
		}

		r.mu.Lock()
		r.nextNumber++
		number := r.nextNumber
		r.unsettled[number] = msg
		r.mu.Unlock()

		r.deliveries <- &messenger.Delivery{
			DeliveryNumber: number,
			LinkName:       r.linkName,
			Message:        fromWireMessage(msg),
		}
	}
}

func (r *receiverLink) Deliveries() <-chan *messenger.Delivery {
	return r.deliveries
}

func (r *receiverLink) Disposition(deliveryNumber uint64, outcome messenger.DispositionOutcome) error {
	r.mu.Lock()
	msg, ok := r.unsettled[deliveryNumber]
	if ok {
		delete(r.unsettled, deliveryNumber)
	}
	r.mu.Unlock()
	if !ok {
		return errUnknownDelivery
	}

	ctx := context.Background()
	switch outcome {
	case messenger.DispositionAccepted:
		return msg.Accept(ctx)
	case messenger.DispositionRejected:
		return msg.Reject(ctx, &amqp.Error{
			Condition:   "Rejected by application",
			Description: "Rejected by application",
		})
	case messenger.DispositionReleased:
		return msg.Release(ctx)
	}
	return nil
}

func (r *receiverLink) Close() {
	r.closeOnce.Do(func() {
		atomic.StoreInt32(&r.state, int32(messenger.LinkStateClosing))
		if r.cancel != nil {
			r.cancel()
		}
		go func() {
			if r.receiver != nil {
				_ = r.receiver.Close(context.Background())
			}
			atomic.StoreInt32(&r.state, int32(messenger.LinkStateIdle))
		}()
	})
}

// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package messenger

import (
	"container/list"
	"context"
	"errors"
	"time"
)

// errSenderRejected is the FailSending reason used when the sender itself
// reports Error before a send is ever attempted (base spec §4.1 do_work
// step 5 "on sender rejection").
var errSenderRejected = errors.New("messenger: sender rejected")

// DefaultSendTimeout is the default max_message_enqueued_time_secs (base
// spec §4.1 Create, §5 Cancellation and timeouts).
const DefaultSendTimeout = 600 * time.Second

// DefaultMaxSendErrorCount is the consecutive-send-error threshold at which
// AM transitions to Error (base spec §4.1 do_work step 7).
const DefaultMaxSendErrorCount = 10

// CompletionFunc is invoked exactly once when a queued send finally
// resolves, with a nil err meaning OK and a non-nil err always a *Error.
type CompletionFunc func(ctx interface{}, err error)

// queuedItem is the Go analogue of base spec §3's "Queued outbound item".
type queuedItem struct {
	msg       *Message
	enqueued  time.Time
	onComplete CompletionFunc
	ctx       interface{}
}

// sendQueue is the Send Queue (SQ) from base spec §4.2: a FIFO of pending
// outbound messages with enqueue-time timeouts, sub-component of AM.
type sendQueue struct {
	pending    *list.List // of *queuedItem
	inProgress *list.List // of *queuedItem, len 0 or 1 (I2: head is in-flight or next)

	maxEnqueuedTime time.Duration

	// onResult is notified after every completed in-flight send, so the
	// owning Messenger can track its consecutive-send-error counter
	// (base spec §4.1 do_work step 5/7) without the queue needing to
	// know about Messenger at all.
	onResult func(err error)
}

func newSendQueue() *sendQueue {
	return &sendQueue{
		pending:         list.New(),
		inProgress:      list.New(),
		maxEnqueuedTime: DefaultSendTimeout,
	}
}

func (q *sendQueue) setMaxEnqueuedTimeSecs(secs uint64) {
	q.maxEnqueuedTime = time.Duration(secs) * time.Second
}

func (q *sendQueue) add(item *queuedItem) {
	q.pending.PushBack(item)
}

func (q *sendQueue) isEmpty() bool {
	return q.len() == 0
}

func (q *sendQueue) len() int {
	return q.pending.Len() + q.inProgress.Len()
}

// doWork drains completions of the in-flight send (if any), promotes the
// pending head into in-progress and hands it to sender if sender reports
// Open and nothing is already in flight, then sweeps pending entries (the
// in-flight one is excluded: its outcome is already being awaited) for
// enqueue-time timeouts.
func (q *sendQueue) doWork(now time.Time, sender Sender) {
	sender.DrainCompletions()

	if q.inProgress.Len() == 0 && q.pending.Len() > 0 {
		switch sender.State() {
		case LinkStateOpen:
			front := q.pending.Remove(q.pending.Front()).(*queuedItem)
			el := q.inProgress.PushBack(front)
			sender.Send(context.Background(), front.msg, func(err error) {
				q.completeInProgress(el, err)
			})
		case LinkStateError:
			// Base spec §4.1 do_work step 5 "on sender rejection, report
			// FailSending": a sender that has already failed cannot be
			// waited on for a timeout, so the head fails immediately
			// instead of idling in pending until the enqueue deadline.
			front := q.pending.Remove(q.pending.Front()).(*queuedItem)
			if q.onResult != nil {
				q.onResult(errSenderRejected)
			}
			front.onComplete(front.ctx, newErr("SendAsync", KindSendFailed, errSenderRejected))
		}
	}

	q.sweepTimeouts(now)
}

// completeInProgress is invoked from the Sender's completion callback,
// which doWork passes as the done argument to Send. That callback only
// ever runs by way of sender.DrainCompletions above, so it runs on the
// same goroutine as the rest of this queue's state, once per tick; no
// additional locking is required here.
func (q *sendQueue) completeInProgress(el *list.Element, err error) {
	if el.Value == nil {
		return // already removed by move_all_back_to_pending or destroy
	}
	item := el.Value.(*queuedItem)
	q.inProgress.Remove(el)
	if q.onResult != nil {
		q.onResult(err)
	}
	if err != nil {
		item.onComplete(item.ctx, newErr("SendAsync", KindSendFailed, err))
		return
	}
	item.onComplete(item.ctx, nil)
}

func (q *sendQueue) sweepTimeouts(now time.Time) {
	var next *list.Element
	for el := q.pending.Front(); el != nil; el = next {
		next = el.Next()
		item := el.Value.(*queuedItem)
		if now.Sub(item.enqueued) > q.maxEnqueuedTime {
			q.pending.Remove(el)
			item.onComplete(item.ctx, newErr("SendAsync", KindTimeout, nil))
		}
	}
}

// moveAllBackToPending requeues every in-progress entry to the front of
// pending, preserving original order (base spec §4.1 stop, §5 ordering
// guarantees). Entries are detached from the elements the completion
// callback still references, so a completion that arrives after requeue is
// a silent no-op rather than a double-settle.
func (q *sendQueue) moveAllBackToPending() {
	for el := q.inProgress.Back(); el != nil; el = q.inProgress.Back() {
		item := q.inProgress.Remove(el).(*queuedItem)
		el.Value = nil
		q.pending.PushFront(item)
	}
}

// cancelAll fails every queued entry (pending and in-progress) with
// Cancelled/MessengerDestroyed (base spec §4.1 destroy, §5).
func (q *sendQueue) cancelAll() {
	for el := q.pending.Front(); el != nil; el = el.Next() {
		item := el.Value.(*queuedItem)
		item.onComplete(item.ctx, newErr("SendAsync", KindCancelled, ErrMessengerDestroyed))
	}
	q.pending.Init()
	for el := q.inProgress.Front(); el != nil; el = el.Next() {
		if el.Value == nil {
			continue
		}
		item := el.Value.(*queuedItem)
		item.onComplete(item.ctx, newErr("SendAsync", KindCancelled, ErrMessengerDestroyed))
	}
	q.inProgress.Init()
}

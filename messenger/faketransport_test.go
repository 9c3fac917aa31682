// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package messenger

import (
	"context"
	"sync"
)

// fakeSession is an in-memory Session: every link it mints starts Opening
// and only moves to Open when the test calls openAll or sets the link's
// state directly with setState, so tests can exercise
// AM's observeSenderState/observeReceiverState timing deliberately.
type fakeSession struct {
	mu        sync.Mutex
	senders   []*fakeSender
	receivers []*fakeReceiver
}

func newFakeSession() *fakeSession {
	return &fakeSession{}
}

func (s *fakeSession) NewSender(linkName, target string, attachProperties map[string]string) Sender {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := &fakeSender{state: LinkStateOpening, linkName: linkName, target: target}
	s.senders = append(s.senders, l)
	return l
}

func (s *fakeSession) NewReceiver(linkName, source string, attachProperties map[string]string) Receiver {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := &fakeReceiver{state: LinkStateOpening, linkName: linkName, source: source, deliveries: make(chan *Delivery, 16)}
	s.receivers = append(s.receivers, r)
	return r
}

// openAll moves every link minted so far to LinkStateOpen, simulating a
// successful attach completing.
func (s *fakeSession) openAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.senders {
		l.setState(LinkStateOpen)
	}
	for _, r := range s.receivers {
		r.setState(LinkStateOpen)
	}
}

func (s *fakeSession) lastSender() *fakeSender {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.senders) == 0 {
		return nil
	}
	return s.senders[len(s.senders)-1]
}

func (s *fakeSession) lastReceiver() *fakeReceiver {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.receivers) == 0 {
		return nil
	}
	return s.receivers[len(s.receivers)-1]
}

// fakeSender is a Sender whose Send outcome a test controls directly by
// setting nextResult before calling Messenger.DoWork.
type fakeSender struct {
	mu       sync.Mutex
	state    LinkState
	linkName string
	target   string
	sent     []*Message

	// nextResult, when non-nil, is consumed by the next Send call;
	// otherwise Send succeeds immediately.
	nextResult error
}

func (l *fakeSender) setState(s LinkState) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state = s
}

func (l *fakeSender) State() LinkState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *fakeSender) Send(ctx context.Context, msg *Message, done func(err error)) {
	l.mu.Lock()
	l.sent = append(l.sent, msg)
	err := l.nextResult
	l.nextResult = nil
	l.mu.Unlock()
	done(err)
}

// DrainCompletions is a no-op: Send above already invokes done
// synchronously, since tests drive every call from a single goroutine.
func (l *fakeSender) DrainCompletions() {}

func (l *fakeSender) Close() {
	l.setState(LinkStateIdle)
}

// fakeReceiver is a Receiver whose deliveries a test pushes directly onto
// the buffered channel.
type fakeReceiver struct {
	mu         sync.Mutex
	state      LinkState
	linkName   string
	source     string
	deliveries chan *Delivery
	settled    map[uint64]DispositionOutcome
}

func (r *fakeReceiver) setState(s LinkState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = s
}

func (r *fakeReceiver) State() LinkState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *fakeReceiver) Deliveries() <-chan *Delivery {
	return r.deliveries
}

func (r *fakeReceiver) push(d *Delivery) {
	r.deliveries <- d
}

func (r *fakeReceiver) Disposition(deliveryNumber uint64, outcome DispositionOutcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.settled == nil {
		r.settled = make(map[uint64]DispositionOutcome)
	}
	r.settled[deliveryNumber] = outcome
	return nil
}

func (r *fakeReceiver) Close() {
	r.setState(LinkStateIdle)
}

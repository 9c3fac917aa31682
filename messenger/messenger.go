// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package messenger

import (
	"time"
)

// MaxSenderStateChangeTimeout and MaxReceiverStateChangeTimeout bound how
// long a link may remain Opening before AM declares the instance Error
// (base spec §4.1 state machine table).
const (
	MaxSenderStateChangeTimeout   = 300 * time.Second
	MaxReceiverStateChangeTimeout = 300 * time.Second
)

// ReceiveFunc is the user callback registered with SubscribeForMessages. It
// returns the disposition the core should apply to the delivery; returning
// DispositionNone defers settlement to a later SendMessageDisposition call.
type ReceiveFunc func(msg *Message, disposition *DispositionInfo, ctx interface{}) DispositionOutcome

// Messenger is the AMQP Messenger (AM) of base spec §4.1.
type Messenger struct {
	config Config
	state  State

	session  Session
	sender   Sender
	receiver Receiver

	lastSenderState    LinkState
	lastSenderChange   time.Time
	lastReceiverState  LinkState
	lastReceiverChange time.Time

	queue                 *sendQueue
	consecutiveSendErrors int

	onReceive    ReceiveFunc
	receiveCtx   interface{}
	wantReceiver bool

	// openDispositions tracks handles minted for deliveries dispatched
	// with DispositionNone, so SendMessageDisposition can validate and
	// consume them exactly once (base spec §3 "Disposition handle").
	openDispositions map[*DispositionInfo]struct{}

	destroyed bool
}

// Create validates cfg, clones it, and returns a new Messenger in state
// Stopped (base spec §4.1 Create).
func Create(cfg Config) (*Messenger, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	m := &Messenger{
		config:           cfg.clone(),
		state:            StateStopped,
		queue:            newSendQueue(),
		openDispositions: make(map[*DispositionInfo]struct{}),
	}
	m.queue.onResult = func(err error) {
		if err != nil {
			m.bumpSendError()
		} else {
			m.resetSendErrors()
		}
	}
	return m, nil
}

// State returns the current top-level state.
func (m *Messenger) State() State { return m.state }

func (m *Messenger) setState(next State) {
	if next == m.state {
		return
	}
	previous := m.state
	m.state = next
	m.config.Logger.WithField("device_id", m.config.DeviceID).
		WithField("from", previous.String()).
		WithField("to", next.String()).
		Debug("messenger: state change")
	if m.config.OnStateChange != nil {
		m.config.OnStateChange(previous, next)
	}
}

// Start requires state Stopped and a non-nil session (base spec §4.1
// Start).
func (m *Messenger) Start(session Session) error {
	if m.state != StateStopped {
		return newErr("Start", KindBadState, nil)
	}
	if session == nil {
		return newErr("Start", KindInvalidArgument, errRequiredField("session"))
	}
	m.session = session
	m.setState(StateStarting)
	return nil
}

// Stop tears down sender and receiver and requeues in-flight sends (base
// spec §4.1 Stop).
func (m *Messenger) Stop() error {
	if m.state == StateStopped {
		return newErr("Stop", KindBadState, nil)
	}
	m.setState(StateStopping)
	if m.sender != nil {
		m.sender.Close()
		m.sender = nil
	}
	if m.receiver != nil {
		m.receiver.Close()
		m.receiver = nil
	}
	m.queue.moveAllBackToPending()
	m.session = nil
	m.lastSenderState, m.lastReceiverState = LinkStateIdle, LinkStateIdle
	m.consecutiveSendErrors = 0
	m.setState(StateStopped)
	return nil
}

// Destroy stops the messenger if needed, cancels every queued send with
// Cancelled/MessengerDestroyed, and releases configuration (base spec §4.1
// Destroy).
func (m *Messenger) Destroy() {
	if m.destroyed {
		return
	}
	if m.state != StateStopped {
		_ = m.Stop()
	}
	m.queue.cancelAll()
	m.destroyed = true
}

// SendAsync clones msg and enqueues it; onComplete fires exactly once, with
// a *Error of KindSendFailed, KindTimeout or KindCancelled on failure, nil
// on success (base spec §4.1 send_async).
func (m *Messenger) SendAsync(msg *Message, onComplete CompletionFunc, ctx interface{}) error {
	if msg == nil {
		return newErr("SendAsync", KindInvalidArgument, errRequiredField("msg"))
	}
	if onComplete == nil {
		return newErr("SendAsync", KindInvalidArgument, errRequiredField("onComplete"))
	}
	m.queue.add(&queuedItem{
		msg:        msg.Clone(),
		enqueued:   time.Now(),
		onComplete: onComplete,
		ctx:        ctx,
	})
	return nil
}

// GetSendStatus is Busy iff the send queue is non-empty (base spec §4.1).
func (m *Messenger) GetSendStatus() SendStatus {
	if m.queue.isEmpty() {
		return SendStatusIdle
	}
	return SendStatusBusy
}

// SubscribeForMessages records the receive callback; the receiver link is
// created lazily on the next DoWork tick while Started (base spec §4.1).
func (m *Messenger) SubscribeForMessages(onReceive ReceiveFunc, ctx interface{}) {
	m.onReceive = onReceive
	m.receiveCtx = ctx
	m.wantReceiver = true
}

// UnsubscribeForMessages clears the receive callback; the receiver link is
// torn down on the next tick.
func (m *Messenger) UnsubscribeForMessages() {
	m.onReceive = nil
	m.receiveCtx = nil
	m.wantReceiver = false
}

// SendMessageDisposition settles a previously dispatched delivery (base spec
// §4.1). Consumes and frees disp; not valid to call twice with the same
// handle.
func (m *Messenger) SendMessageDisposition(disp *DispositionInfo, outcome DispositionOutcome) error {
	if m.receiver == nil {
		return newErr("SendMessageDisposition", KindBadState, ErrNoReceiver)
	}
	if disp == nil {
		return newErr("SendMessageDisposition", KindInvalidArgument, errRequiredField("disp"))
	}
	if _, ok := m.openDispositions[disp]; !ok {
		return newErr("SendMessageDisposition", KindInvalidArgument, errRequiredField("disp"))
	}
	if outcome == DispositionNone {
		delete(m.openDispositions, disp)
		return nil
	}
	if err := m.receiver.Disposition(disp.deliveryNumber, outcome); err != nil {
		return newErr("SendMessageDisposition", KindSendFailed, err)
	}
	delete(m.openDispositions, disp)
	return nil
}

// DoWork advances link creation, drains the send queue, dispatches inbound
// deliveries, and watches for timeouts and fatal conditions (base spec
// §4.1 do_work).
func (m *Messenger) DoWork() {
	if m.destroyed || m.state == StateStopped {
		return
	}
	now := time.Now()

	m.observeSenderState(now)

	// Step 5 "drive the send queue" runs regardless of the top-level state
	// transition just observed: a sender that was just declared rejected
	// still needs its queued head failed with FailSending this same tick
	// (base spec §4.1 do_work step 5), not left to idle until a timeout.
	if m.sender != nil {
		m.queue.doWork(now, m.sender)
	}

	if m.state == StateError {
		return
	}

	switch m.state {
	case StateStarting:
		if m.sender == nil {
			m.createSender()
		}
	case StateStarted:
		if m.wantReceiver && m.receiver == nil {
			m.createReceiver()
		} else if !m.wantReceiver && m.receiver != nil {
			m.receiver.Close()
			m.receiver = nil
			m.lastReceiverState = LinkStateIdle
		}
		m.observeReceiverState(now)
		m.dispatchDeliveries()
	}

	if m.consecutiveSendErrors >= DefaultMaxSendErrorCount {
		m.setState(StateError)
	}
}

func (m *Messenger) createSender() {
	linkName := senderLinkName(m.config.DeviceID)
	target := deviceAddress(m.config.HostFQDN, m.config.DeviceID, m.config.SendLink.Suffix)
	m.sender = m.session.NewSender(linkName, target, m.config.SendLink.AttachProperties)
	m.lastSenderState = LinkStateOpening
	m.lastSenderChange = time.Now()
}

func (m *Messenger) createReceiver() {
	linkName := receiverLinkName(m.config.DeviceID)
	source := deviceAddress(m.config.HostFQDN, m.config.DeviceID, m.config.RecvLink.Suffix)
	m.receiver = m.session.NewReceiver(linkName, source, m.config.RecvLink.AttachProperties)
	m.lastReceiverState = LinkStateOpening
	m.lastReceiverChange = time.Now()
}

func (m *Messenger) observeSenderState(now time.Time) {
	if m.sender == nil {
		return
	}
	state := m.sender.State()
	changed := state != m.lastSenderState
	if changed {
		m.lastSenderState = state
		m.lastSenderChange = now
	}

	switch m.state {
	case StateStarting:
		switch state {
		case LinkStateOpen:
			m.setState(StateStarted)
		case LinkStateError, LinkStateClosing:
			m.setState(StateError)
		case LinkStateIdle:
			if changed {
				m.setState(StateError)
			}
		case LinkStateOpening:
			if now.Sub(m.lastSenderChange) > MaxSenderStateChangeTimeout {
				m.setState(StateError)
			}
		}
	case StateStarted:
		if state != LinkStateOpen {
			m.setState(StateError)
		}
	}
}

func (m *Messenger) observeReceiverState(now time.Time) {
	if m.receiver == nil {
		return
	}
	state := m.receiver.State()
	changed := state != m.lastReceiverState
	if changed {
		m.lastReceiverState = state
		m.lastReceiverChange = now
	}

	if m.state != StateStarted {
		return
	}
	switch state {
	case LinkStateError:
		m.setState(StateError)
	case LinkStateIdle:
		if changed {
			m.setState(StateError)
		}
	case LinkStateOpening:
		if now.Sub(m.lastReceiverChange) > MaxReceiverStateChangeTimeout {
			m.setState(StateError)
		}
	}
}

// dispatchDeliveries drains the receiver's delivery channel without
// blocking, invoking onReceive for each and applying the returned
// disposition (base spec §4.1 "Receive path").
func (m *Messenger) dispatchDeliveries() {
	if m.receiver == nil {
		return
	}
	deliveries := m.receiver.Deliveries()
	for {
		select {
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			m.dispatchOne(d)
		default:
			return
		}
	}
}

func (m *Messenger) dispatchOne(d *Delivery) {
	if m.onReceive == nil {
		_ = m.receiver.Disposition(d.DeliveryNumber, DispositionReleased)
		return
	}
	disp := &DispositionInfo{deliveryNumber: d.DeliveryNumber, linkName: d.LinkName}
	outcome := m.onReceive(d.Message, disp, m.receiveCtx)
	if outcome == DispositionNone {
		m.openDispositions[disp] = struct{}{}
		return
	}
	_ = m.receiver.Disposition(d.DeliveryNumber, outcome)
}

// bumpSendError is reached through the send queue's onResult hook (set in
// Create), matching base spec §4.1 do_work step 5 "on sender rejection ...
// bump the consecutive-error counter". The queue reports both a sender
// rejection and a failed send completion through that hook, so both count
// toward the same threshold.
func (m *Messenger) bumpSendError() {
	m.consecutiveSendErrors++
}

func (m *Messenger) resetSendErrors() {
	m.consecutiveSendErrors = 0
}

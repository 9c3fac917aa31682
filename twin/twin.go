// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package twin

import (
	"github.com/apex/log"
	"github.com/device-amqp/amqpcore/messenger"
	"github.com/google/uuid"
)

// Link suffix and attach-property names fixed by the twin protocol (base
// spec §4.3 "Construction").
const (
	linkSuffix = "twin/"

	attachClientVersion        = "com.microsoft:client-version"
	attachChannelCorrelationID = "com.microsoft:channel-correlation-id"
	attachAPIVersion           = "com.microsoft:api-version"
	apiVersion                 = "2016-11-14"
)

// KindInvalidResponse is a twin-only error Kind (no status code on a PATCH
// response), in the same Kind space package messenger defines (SPEC_FULL.md
// §7).
const KindInvalidResponse messenger.Kind = "invalid_response"

// Config configures a Messenger (TM). ClientVersion/DeviceID/HostFQDN are
// forwarded into the embedded AM's configuration.
type Config struct {
	ClientVersion string
	DeviceID      string
	HostFQDN      string

	OnStateChange StateChangeFunc
	Logger        log.Interface
}

func (c Config) clone() Config {
	clone := c
	if clone.Logger == nil {
		clone.Logger = log.Log
	}
	return clone
}

// Messenger is the Twin Messenger (TM) of base spec §4.3.
type Messenger struct {
	config Config
	am     *messenger.Messenger
	state  State

	subState      subscriptionState
	subErrorCount int
	onUpdate      UpdateFunc
	updateCtx     interface{}

	ops *operationTable

	destroyed bool
}

// Create builds an AM configured with the twin link suffixes and
// attach-properties fixed by base spec §4.3, and returns a TM wrapping it.
func Create(cfg Config) (*Messenger, error) {
	t := &Messenger{
		config: cfg.clone(),
		state:  StateStopped,
		ops:    newOperationTable(),
	}

	attachProps := map[string]string{
		attachClientVersion:        cfg.ClientVersion,
		attachChannelCorrelationID: "twin:" + uuid.NewString(),
		attachAPIVersion:           apiVersion,
	}

	amCfg := messenger.Config{
		ClientVersion: cfg.ClientVersion,
		DeviceID:      cfg.DeviceID,
		HostFQDN:      cfg.HostFQDN,
		SendLink:      messenger.LinkConfig{Suffix: linkSuffix, AttachProperties: attachProps},
		RecvLink:      messenger.LinkConfig{Suffix: linkSuffix, AttachProperties: attachProps},
		Logger:        t.config.Logger,
		OnStateChange: t.handleAMStateChange,
	}

	am, err := messenger.Create(amCfg)
	if err != nil {
		return nil, err
	}
	t.am = am
	t.am.SubscribeForMessages(t.onAMReceive, nil)
	return t, nil
}

// State returns TM's current top-level state.
func (t *Messenger) State() State { return t.state }

func (t *Messenger) setState(next State) {
	if next == t.state {
		return
	}
	previous := t.state
	t.state = next
	t.config.Logger.WithField("device_id", t.config.DeviceID).
		WithField("from", previous.String()).
		WithField("to", next.String()).
		Debug("twin: state change")
	if t.config.OnStateChange != nil {
		t.config.OnStateChange(previous, next)
	}
}

// handleAMStateChange is AM's state-change sink (base spec §4.3
// Construction). Once TM has declared itself Error because of cumulative
// subscription failures, it stays Error until a full AM Stop/Start cycle —
// an AM-level Started notification alone does not undo a subscription
// failure.
func (t *Messenger) handleAMStateChange(_ messenger.State, current messenger.State) {
	next := projectAMState(current)
	if t.state == StateError && next != StateStopped {
		return
	}
	t.setState(next)
}

// Start starts the embedded AM.
func (t *Messenger) Start(session messenger.Session) error {
	return t.am.Start(session)
}

// Stop stops the embedded AM. Outstanding twin operations are left in the
// table: AM requeues their not-yet-sent messages, so they are retried
// verbatim (including correlation-id) after a subsequent Start.
func (t *Messenger) Stop() error {
	return t.am.Stop()
}

// Destroy cancels every outstanding PATCH operation with
// Cancelled/MessengerDestroyed and destroys the embedded AM.
func (t *Messenger) Destroy() {
	if t.destroyed {
		return
	}
	t.ops.cancelAll()
	t.am.Destroy()
	t.destroyed = true
}

// ReportStateAsync submits a PATCH request reporting device properties
// (base spec §4.3).
func (t *Messenger) ReportStateAsync(data []byte, onComplete ReportCompletionFunc, ctx interface{}) error {
	if onComplete == nil {
		return &messenger.Error{Kind: messenger.KindInvalidArgument, Op: "ReportStateAsync"}
	}
	correlationID := newCorrelationID()
	op := &operation{opType: opPatch, correlationID: correlationID, onComplete: onComplete, ctx: ctx}
	t.ops.add(op)

	msg := buildRequest(opPatch, correlationID, data)
	if err := t.am.SendAsync(msg, t.sendCompletion(correlationID), nil); err != nil {
		t.ops.remove(correlationID)
		return err
	}
	return nil
}

// Subscribe registers onUpdate and, if not already subscribed or
// subscribing, kicks off the GET/PUT subscription cycle on the next
// DoWork tick.
func (t *Messenger) Subscribe(onUpdate UpdateFunc, ctx interface{}) {
	t.onUpdate = onUpdate
	t.updateCtx = ctx
	if t.subState == subNotSubscribed {
		t.subState = subGetCompleteProperties
	}
}

// Unsubscribe kicks off the DELETE cycle on the next DoWork tick, unless
// already unsubscribed or unsubscribing.
func (t *Messenger) Unsubscribe() {
	switch t.subState {
	case subNotSubscribed, subUnsubscribe, subUnsubscribing:
		return
	default:
		t.subState = subUnsubscribe
	}
}

// GetSendStatus is Busy iff the embedded AM is busy or there is at least one
// outstanding PATCH request awaiting a correlated response (SPEC_FULL.md §9
// Open Question 2: only PATCH-typed entries count).
func (t *Messenger) GetSendStatus() messenger.SendStatus {
	if t.am.GetSendStatus() == messenger.SendStatusBusy {
		return messenger.SendStatusBusy
	}
	if t.ops.patchCount() > 0 {
		return messenger.SendStatusBusy
	}
	return messenger.SendStatusIdle
}

// SetOption and RetrieveOptions are forwarded verbatim to the embedded AM
// (base spec §4.3).
func (t *Messenger) SetOption(name string, value interface{}) error {
	return t.am.SetOption(name, value)
}

func (t *Messenger) RetrieveOptions() map[string]interface{} {
	return t.am.RetrieveOptions()
}

// DoWork drives the subscription state machine, then delegates to the
// embedded AM (base spec §2 control flow).
func (t *Messenger) DoWork() {
	if t.destroyed || t.state == StateStopped {
		return
	}
	if t.subState.isIntent() {
		t.issueSubscriptionRequest(t.subState)
	}
	t.am.DoWork()
}

func (t *Messenger) issueSubscriptionRequest(state subscriptionState) {
	op := state.intentOp()
	correlationID := newCorrelationID()
	t.ops.add(&operation{opType: op, correlationID: correlationID})

	msg := buildRequest(op, correlationID, nil)
	if err := t.am.SendAsync(msg, t.sendCompletion(correlationID), nil); err != nil {
		t.ops.remove(correlationID)
		return
	}
	t.subState = state.inFlightState()
}

// sendCompletion is the AM send-complete trampoline for a twin request.
// Per base spec §4.3 "Send-completion coupling", success here is not
// meaningful on its own — it is confirmed by the arrival of the correlated
// response — so only the failure branch does anything.
func (t *Messenger) sendCompletion(correlationID string) messenger.CompletionFunc {
	return func(_ interface{}, err error) {
		if err == nil {
			return
		}
		op, ok := t.ops.remove(correlationID)
		if !ok {
			return
		}
		if op.opType == opPatch {
			if op.onComplete != nil {
				op.onComplete(op.ctx, 0, err)
			}
			return
		}
		t.revertSubscription(op.opType)
	}
}

// revertSubscription handles a send failure for a subscription-management
// request the same way a failed response is handled: revert to the intent
// state and bump the error counter.
func (t *Messenger) revertSubscription(op operationType) {
	switch op {
	case opGet:
		t.subState = subGetCompleteProperties
	case opPut:
		t.subState = subSubscribeForUpdates
	case opDelete:
		t.subState = subUnsubscribe
	}
	t.bumpSubscriptionError()
}

func (t *Messenger) bumpSubscriptionError() {
	t.subErrorCount++
	if t.subErrorCount >= maxSubscriptionErrors {
		t.setState(StateError)
	}
}

// onAMReceive is AM's receive callback (base spec §4.3 "Response
// correlation"). All inbound dispositions are Accepted except malformed
// ones (Rejected); the disposition is returned synchronously so TM never
// retains a DispositionInfo handle across ticks.
func (t *Messenger) onAMReceive(msg *messenger.Message, _ *messenger.DispositionInfo, _ interface{}) messenger.DispositionOutcome {
	if msg.CorrelationID == "" {
		if len(msg.Body) > 0 {
			if t.onUpdate != nil {
				t.onUpdate(UpdatePartial, msg.Body, t.updateCtx)
			}
			return messenger.DispositionAccepted
		}
		t.config.Logger.Warn("twin: dropping message with neither correlation-id nor body")
		return messenger.DispositionRejected
	}

	op, ok := t.ops.remove(msg.CorrelationID)
	if !ok {
		t.config.Logger.WithField("correlation_id", msg.CorrelationID).
			Warn("twin: response for unknown correlation-id")
		return messenger.DispositionAccepted
	}

	statusCode, hasStatus := statusCodeFromAnnotations(msg.MessageAnnotations)

	switch op.opType {
	case opPatch:
		return t.handlePatchResponse(op, statusCode, hasStatus)
	case opGet:
		t.handleGetResponse(msg.Body)
	case opPut:
		t.handlePutResponse(statusCode, hasStatus)
	case opDelete:
		t.handleDeleteResponse(statusCode, hasStatus)
	}
	return messenger.DispositionAccepted
}

func (t *Messenger) handlePatchResponse(op *operation, statusCode int, hasStatus bool) messenger.DispositionOutcome {
	if !hasStatus {
		if op.onComplete != nil {
			op.onComplete(op.ctx, 0, &messenger.Error{Kind: KindInvalidResponse, Op: "ReportStateAsync"})
		}
		return messenger.DispositionRejected
	}
	if op.onComplete != nil {
		op.onComplete(op.ctx, statusCode, nil)
	}
	return messenger.DispositionAccepted
}

func (t *Messenger) handleGetResponse(body []byte) {
	if len(body) > 0 {
		if t.onUpdate != nil {
			t.onUpdate(UpdateComplete, body, t.updateCtx)
		}
		t.subState = subSubscribeForUpdates
		t.subErrorCount = 0
		return
	}
	if t.onUpdate != nil {
		t.onUpdate(UpdateComplete, nil, t.updateCtx)
	}
	t.subState = subGetCompleteProperties
	t.bumpSubscriptionError()
}

func (t *Messenger) handlePutResponse(statusCode int, hasStatus bool) {
	if hasStatus && statusCode/100 == 2 {
		t.subState = subSubscribed
		t.subErrorCount = 0
		return
	}
	t.subState = subSubscribeForUpdates
	t.bumpSubscriptionError()
}

func (t *Messenger) handleDeleteResponse(statusCode int, hasStatus bool) {
	if hasStatus && statusCode/100 == 2 {
		t.subState = subNotSubscribed
		t.subErrorCount = 0
		t.onUpdate = nil
		t.updateCtx = nil
		return
	}
	t.subState = subUnsubscribe
	t.bumpSubscriptionError()
}

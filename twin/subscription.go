// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package twin

// subscriptionState is the desired-properties subscription state machine of
// base spec §4.3. States are ordered as specified:
//
//	NotSubscribed -> GetCompleteProperties -> GettingCompleteProperties ->
//	SubscribeForUpdates -> Subscribing -> Subscribed ->
//	Unsubscribe -> Unsubscribing -> NotSubscribed
type subscriptionState int

const (
	subNotSubscribed subscriptionState = iota
	subGetCompleteProperties
	subGettingCompleteProperties
	subSubscribeForUpdates
	subSubscribing
	subSubscribed
	subUnsubscribe
	subUnsubscribing
)

var subscriptionStateNames = map[subscriptionState]string{
	subNotSubscribed:             "NOT_SUBSCRIBED",
	subGetCompleteProperties:     "GET_COMPLETE_PROPERTIES",
	subGettingCompleteProperties: "GETTING_COMPLETE_PROPERTIES",
	subSubscribeForUpdates:       "SUBSCRIBE_FOR_UPDATES",
	subSubscribing:               "SUBSCRIBING",
	subSubscribed:                "SUBSCRIBED",
	subUnsubscribe:               "UNSUBSCRIBE",
	subUnsubscribing:             "UNSUBSCRIBING",
}

func (s subscriptionState) String() string {
	if name, ok := subscriptionStateNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// isIntent reports whether s is one of the three states that, on the next
// tick, should issue a request and move to the matching in-flight state
// (base spec §4.3 "Subscription state machine").
func (s subscriptionState) isIntent() bool {
	switch s {
	case subGetCompleteProperties, subSubscribeForUpdates, subUnsubscribe:
		return true
	}
	return false
}

// intentOp and inFlightState return the operation an intent state issues
// and the in-flight state it advances to.
func (s subscriptionState) intentOp() operationType {
	switch s {
	case subGetCompleteProperties:
		return opGet
	case subSubscribeForUpdates:
		return opPut
	case subUnsubscribe:
		return opDelete
	}
	panic("twin: intentOp called on non-intent state")
}

func (s subscriptionState) inFlightState() subscriptionState {
	switch s {
	case subGetCompleteProperties:
		return subGettingCompleteProperties
	case subSubscribeForUpdates:
		return subSubscribing
	case subUnsubscribe:
		return subUnsubscribing
	}
	panic("twin: inFlightState called on non-intent state")
}

// maxSubscriptionErrors is the cumulative subscription-error threshold at
// which TM transitions to Error (base spec §4.3).
const maxSubscriptionErrors = 3

// UpdateKind distinguishes a full twin document delivery from a
// desired-properties delta (base spec §4.3 "Response correlation").
type UpdateKind int

const (
	// UpdateComplete carries the full set of desired properties, in
	// response to the GET issued at subscription time.
	UpdateComplete UpdateKind = iota
	// UpdatePartial carries a desired-properties delta pushed
	// unsolicited by the service (no correlation-id, non-empty body).
	UpdatePartial
)

func (k UpdateKind) String() string {
	if k == UpdatePartial {
		return "PARTIAL"
	}
	return "COMPLETE"
}

// UpdateFunc is the user callback registered with Subscribe.
type UpdateFunc func(kind UpdateKind, body []byte, ctx interface{})

// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package twin

import "github.com/device-amqp/amqpcore/messenger"

// ReportCompletionFunc is invoked exactly once for a ReportStateAsync (PATCH)
// request: on success statusCode carries the service's response status and
// err is nil; on failure err is a *messenger.Error of Kind SendFailed,
// Timeout (the request sat in AM's send queue past its enqueue timeout),
// InvalidResponse, or Cancelled (base spec §4.3 "Response correlation").
type ReportCompletionFunc func(ctx interface{}, statusCode int, err error)

// operation is base spec §3's "Twin operation": created at request
// submission, removed on matching response, on send-complete failure, or on
// TM destroy (invariant I3: unique correlation-id while it lives).
type operation struct {
	opType        operationType
	correlationID string
	onComplete    ReportCompletionFunc // only set for PATCH
	ctx           interface{}
}

// operationTable is the correlation-id-keyed table of outstanding twin
// operations. Grounded on bridge/amqp's routing-key-keyed
// `subscriptions map[string]*subscription` generalized from routing keys to
// correlation ids (see DESIGN.md).
type operationTable struct {
	byCorrelationID map[string]*operation
}

func newOperationTable() *operationTable {
	return &operationTable{byCorrelationID: make(map[string]*operation)}
}

func (t *operationTable) add(op *operation) {
	t.byCorrelationID[op.correlationID] = op
}

func (t *operationTable) remove(correlationID string) (*operation, bool) {
	op, ok := t.byCorrelationID[correlationID]
	if ok {
		delete(t.byCorrelationID, correlationID)
	}
	return op, ok
}

func (t *operationTable) len() int { return len(t.byCorrelationID) }

// cancelAll fails every outstanding PATCH operation with
// Cancelled/MessengerDestroyed and empties the table (base spec §4.3
// "on destroy, every operation in the table is cancelled").
func (t *operationTable) cancelAll() {
	for id, op := range t.byCorrelationID {
		if op.opType == opPatch && op.onComplete != nil {
			op.onComplete(op.ctx, 0, &messenger.Error{
				Kind: messenger.KindCancelled,
				Op:   "ReportStateAsync",
				Err:  messenger.ErrMessengerDestroyed,
			})
		}
		delete(t.byCorrelationID, id)
	}
}

// patchCount returns the number of PATCH-typed entries in the table.
// SPEC_FULL.md §9 Open Question 2: GetSendStatus only counts these, and a Go
// map range cannot infinite-loop the way the source's iterator bug could.
func (t *operationTable) patchCount() int {
	n := 0
	for _, op := range t.byCorrelationID {
		if op.opType == opPatch {
			n++
		}
	}
	return n
}

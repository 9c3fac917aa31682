// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package twin

import (
	"strconv"

	"github.com/device-amqp/amqpcore/messenger"
	"github.com/google/uuid"
)

// operationType is a twin request type (base spec §4.3 "Twin operation").
type operationType string

const (
	opPatch  operationType = "PATCH"
	opGet    operationType = "GET"
	opPut    operationType = "PUT"
	opDelete operationType = "DELETE"
)

const (
	annotationOperation = "operation"
	annotationResource  = "resource"

	resourceReportedProperties = "/properties/reported"
	resourceDesiredProperties  = "/notifications/twin/properties/desired"

	// annotationStatus carries the service's twin-response status code.
	// The base spec's C implementation reads this out of the underlying
	// AMQP message's application-properties; this core's minimal
	// messenger.Message only exposes a single symbol-keyed annotations
	// map, so the status travels there instead.
	annotationStatus = "status"
)

// statusCodeFromAnnotations extracts the numeric response status a twin
// response carries, if any (base spec §4.3 "Response correlation").
func statusCodeFromAnnotations(annotations map[string]string) (code int, ok bool) {
	raw, present := annotations[annotationStatus]
	if !present {
		return 0, false
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return n, true
}

// newCorrelationID mints a fresh correlation-id for a twin request,
// distinct from the channel-correlation-id negotiated at attach time
// (invariant I3).
func newCorrelationID() string {
	return uuid.NewString()
}

// buildRequest constructs the AMQP envelope for a twin operation (base spec
// §4.3 "Twin request envelope"). payload is nil for GET/PUT/DELETE unless
// the caller supplies one; PATCH always carries payload.
func buildRequest(op operationType, correlationID string, payload []byte) *messenger.Message {
	annotations := map[string]string{annotationOperation: string(op)}

	// Resolves SPEC_FULL.md §9 Open Question 1: only PUT/DELETE carry the
	// desired-properties resource; PATCH/GET never do (the newer,
	// consistent source behavior, not the older file's always-desired
	// bug).
	switch op {
	case opPatch:
		annotations[annotationResource] = resourceReportedProperties
	case opPut, opDelete:
		annotations[annotationResource] = resourceDesiredProperties
	}

	body := payload
	if len(body) == 0 {
		body = []byte(" ")
	}

	return &messenger.Message{
		CorrelationID:      correlationID,
		MessageAnnotations: annotations,
		Body:               body,
	}
}

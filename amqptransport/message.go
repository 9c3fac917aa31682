// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package amqptransport

import (
	amqp "github.com/interconnectedcloud/go-amqp"

	"github.com/device-amqp/amqpcore/messenger"
)

// toWireMessage translates messenger.Message into the go-amqp wire type:
// correlation-id as an AMQP string property, annotations as symbol keys,
// and a single data section body (base spec §6 "AMQP wire (required from
// collaborator)").
func toWireMessage(msg *messenger.Message) *amqp.Message {
	wire := &amqp.Message{
		Data: [][]byte{msg.Body},
	}
	if msg.CorrelationID != "" {
		wire.Properties = &amqp.MessageProperties{
			CorrelationID: msg.CorrelationID,
		}
	}
	if len(msg.MessageAnnotations) > 0 {
		annotations := make(amqp.Annotations, len(msg.MessageAnnotations))
		for k, v := range msg.MessageAnnotations {
			annotations[amqp.Symbol(k)] = v
		}
		wire.Annotations = annotations
	}
	return wire
}

// fromWireMessage is the inverse translation applied to every inbound
// delivery before it reaches messenger's dispatch loop.
func fromWireMessage(wire *amqp.Message) *messenger.Message {
	msg := &messenger.Message{}
	if wire.Properties != nil {
		if id, ok := wire.Properties.CorrelationID.(string); ok {
			msg.CorrelationID = id
		}
	}
	if len(wire.Annotations) > 0 {
		msg.MessageAnnotations = make(map[string]string, len(wire.Annotations))
		for k, v := range wire.Annotations {
			sym, ok := k.(amqp.Symbol)
			if !ok {
				continue
			}
			if s, ok := v.(string); ok {
				msg.MessageAnnotations[string(sym)] = s
			}
		}
	}
	msg.Body = bodyFromData(wire.Data)
	return msg
}

// bodyFromData concatenates every AMQP data section into a single body,
// matching base §6's "get_body_amqp_data_in_place semantics" — this core
// only ever carries a single section per base §4.3's envelope, but the
// wire library may hand back more than one.
func bodyFromData(sections [][]byte) []byte {
	if len(sections) == 0 {
		return nil
	}
	if len(sections) == 1 {
		return sections[0]
	}
	total := 0
	for _, s := range sections {
		total += len(s)
	}
	body := make([]byte, 0, total)
	for _, s := range sections {
		body = append(body, s...)
	}
	return body
}

// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package amqptransport

import (
	"math"

	amqp "github.com/interconnectedcloud/go-amqp"

	"github.com/device-amqp/amqpcore/messenger"
)

// session adapts *amqp.Session to messenger.Session.
type session struct {
	sess *amqp.Session
}

// receiverMaxMessageSize is fixed at 64KiB per base spec §4.1 "Link
// creation". senderMaxMessageSize is that same section's UINT64_MAX for the
// sending side, made explicit rather than left to go-amqp's default.
const (
	receiverMaxMessageSize = 65536
	senderMaxMessageSize   = math.MaxUint64
)

func linkProperties(attach map[string]string) amqp.LinkOption {
	props := make(map[amqp.Symbol]interface{}, len(attach))
	for k, v := range attach {
		props[amqp.Symbol(k)] = v
	}
	return amqp.LinkProperties(props)
}

func (s *session) NewSender(linkName, target string, attachProperties map[string]string) messenger.Sender {
	opts := []amqp.LinkOption{
		amqp.LinkName(linkName),
		amqp.LinkTargetAddress(target),
		amqp.LinkSenderSettle(amqp.ModeSettled),
		amqp.LinkMaxMessageSize(senderMaxMessageSize),
	}
	if len(attachProperties) > 0 {
		opts = append(opts, linkProperties(attachProperties))
	}

	l := newLink()
	go func() {
		amqpSender, err := s.sess.NewSender(opts...)
		if err != nil {
			l.fail(err)
			return
		}
		l.sender = amqpSender
		l.open()
	}()
	return l
}

func (s *session) NewReceiver(linkName, source string, attachProperties map[string]string) messenger.Receiver {
	opts := []amqp.LinkOption{
		amqp.LinkName(linkName),
		amqp.LinkSourceAddress(source),
		amqp.LinkReceiverSettle(amqp.ModeFirst),
		amqp.LinkMaxMessageSize(receiverMaxMessageSize),
	}
	if len(attachProperties) > 0 {
		opts = append(opts, linkProperties(attachProperties))
	}

	r := newReceiverLink(linkName)
	go func() {
		amqpReceiver, err := s.sess.NewReceiver(opts...)
		if err != nil {
			r.fail(err)
			return
		}
		r.open(amqpReceiver)
	}()
	return r
}

// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package twin

import (
	"bytes"
	"context"
	"sync"
	"testing"

	"github.com/apex/log"
	"github.com/apex/log/handlers/text"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/device-amqp/amqpcore/messenger"
)

// fakeSession mints links that open immediately, so tests only need to
// drive the twin protocol itself rather than AM's link-attach timing.
type fakeSession struct {
	mu       sync.Mutex
	sender   *fakeSender
	receiver *fakeReceiver
}

func (s *fakeSession) NewSender(linkName, target string, attachProperties map[string]string) messenger.Sender {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sender = &fakeSender{}
	return s.sender
}

func (s *fakeSession) NewReceiver(linkName, source string, attachProperties map[string]string) messenger.Receiver {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receiver = &fakeReceiver{deliveries: make(chan *messenger.Delivery, 16)}
	return s.receiver
}

type fakeSender struct {
	mu   sync.Mutex
	sent []*messenger.Message
}

func (l *fakeSender) State() messenger.LinkState { return messenger.LinkStateOpen }

func (l *fakeSender) Send(ctx context.Context, msg *messenger.Message, done func(err error)) {
	l.mu.Lock()
	l.sent = append(l.sent, msg)
	l.mu.Unlock()
	done(nil)
}

// DrainCompletions is a no-op: Send above already invokes done
// synchronously, since tests drive every call from a single goroutine.
func (l *fakeSender) DrainCompletions() {}

func (l *fakeSender) Close() {}

func (l *fakeSender) lastCorrelationID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.sent) == 0 {
		return ""
	}
	return l.sent[len(l.sent)-1].CorrelationID
}

type fakeReceiver struct {
	deliveries chan *messenger.Delivery
}

func (r *fakeReceiver) State() messenger.LinkState { return messenger.LinkStateOpen }

func (r *fakeReceiver) Deliveries() <-chan *messenger.Delivery { return r.deliveries }

func (r *fakeReceiver) Disposition(deliveryNumber uint64, outcome messenger.DispositionOutcome) error {
	return nil
}

func (r *fakeReceiver) Close() {}

func testConfig(logs *bytes.Buffer) Config {
	return Config{
		ClientVersion: "test/1.0",
		DeviceID:      "dev-1",
		HostFQDN:      "h.example",
		Logger: &log.Logger{
			Handler: text.New(logs),
			Level:   log.DebugLevel,
		},
	}
}

// started returns a Messenger already driven to Started against a
// fakeSession, with sender/receiver handles for the test to use.
func started(c C, logs *bytes.Buffer) (*Messenger, *fakeSession) {
	tm, err := Create(testConfig(logs))
	So(err, ShouldBeNil)

	sess := &fakeSession{}
	So(tm.Start(sess), ShouldBeNil)
	tm.DoWork() // attach sender
	tm.DoWork() // observe sender Open -> Started, attach receiver
	So(tm.State(), ShouldEqual, StateStarted)
	return tm, sess
}

func TestTwinMessenger(t *testing.T) {
	Convey("Given a Twin Messenger started against a fake session", t, func(c C) {
		var logs bytes.Buffer
		defer func() {
			if logs.Len() > 0 {
				c.Printf("\n%s", logs.String())
			}
		}()

		tm, sess := started(c, &logs)

		Convey("Scenario 4: subscribe drives GET then PUT to Subscribed", func() {
			var updateKind UpdateKind
			var updateBody []byte
			tm.Subscribe(func(kind UpdateKind, body []byte, _ interface{}) {
				updateKind = kind
				updateBody = body
			}, nil)

			tm.DoWork() // issues GET
			getCorrelationID := sess.sender.lastCorrelationID()
			So(getCorrelationID, ShouldNotBeEmpty)

			sess.receiver.deliveries <- &messenger.Delivery{
				Message: &messenger.Message{
					CorrelationID: getCorrelationID,
					Body:          []byte(`{"desired":{}}`),
				},
			}
			tm.DoWork() // dispatches the GET response

			So(updateKind, ShouldEqual, UpdateComplete)
			So(string(updateBody), ShouldEqual, `{"desired":{}}`)

			tm.DoWork() // issues PUT
			putCorrelationID := sess.sender.lastCorrelationID()
			So(putCorrelationID, ShouldNotEqual, getCorrelationID)

			sess.receiver.deliveries <- &messenger.Delivery{
				Message: &messenger.Message{
					CorrelationID:      putCorrelationID,
					MessageAnnotations: map[string]string{"status": "200"},
				},
			}
			tm.DoWork()

			So(tm.State(), ShouldEqual, StateStarted)
			So(tm.subState, ShouldEqual, subSubscribed)
		})

		Convey("Scenario 5: report_state with a 204 no-body response completes Success(204)", func() {
			var gotCode int
			var gotErr error
			err := tm.ReportStateAsync([]byte(`{"x":1}`), func(_ interface{}, statusCode int, err error) {
				gotCode = statusCode
				gotErr = err
			}, nil)
			So(err, ShouldBeNil)

			tm.DoWork() // sends the PATCH
			correlationID := sess.sender.lastCorrelationID()
			So(correlationID, ShouldNotBeEmpty)

			sess.receiver.deliveries <- &messenger.Delivery{
				Message: &messenger.Message{
					CorrelationID:      correlationID,
					MessageAnnotations: map[string]string{"status": "204"},
				},
			}
			tm.DoWork()

			So(gotErr, ShouldBeNil)
			So(gotCode, ShouldEqual, 204)
		})

		Convey("Scenario 6: destroy with a pending PATCH cancels it and leaves no dangling operation", func() {
			var gotErr error
			err := tm.ReportStateAsync([]byte(`{"x":1}`), func(_ interface{}, statusCode int, err error) {
				gotErr = err
			}, nil)
			So(err, ShouldBeNil)

			tm.Destroy()

			So(messenger.Is(gotErr, messenger.KindCancelled), ShouldBeTrue)
			So(tm.ops.len(), ShouldEqual, 0)
		})
	})
}

func TestTwinInvalidResponse(t *testing.T) {
	Convey("Given a report_state request awaiting a response", t, func(c C) {
		var logs bytes.Buffer
		tm, sess := started(c, &logs)

		var gotErr error
		err := tm.ReportStateAsync([]byte(`{}`), func(_ interface{}, _ int, err error) {
			gotErr = err
		}, nil)
		So(err, ShouldBeNil)
		tm.DoWork()
		correlationID := sess.sender.lastCorrelationID()

		Convey("A response with no status code fails with InvalidResponse", func() {
			sess.receiver.deliveries <- &messenger.Delivery{
				Message: &messenger.Message{CorrelationID: correlationID},
			}
			tm.DoWork()

			So(messenger.Is(gotErr, KindInvalidResponse), ShouldBeTrue)
		})
	})
}

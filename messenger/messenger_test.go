// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package messenger

import (
	"bytes"
	"testing"
	"time"

	"github.com/apex/log"
	"github.com/apex/log/handlers/text"
	. "github.com/smartystreets/goconvey/convey"
)

func testConfig(logs *bytes.Buffer) Config {
	return Config{
		ClientVersion: "test/1.0",
		DeviceID:      "dev-1",
		HostFQDN:      "h.example",
		SendLink:      LinkConfig{Suffix: "messages/events"},
		RecvLink:      LinkConfig{Suffix: "messages/devicebound"},
		Logger: &log.Logger{
			Handler: text.New(logs),
			Level:   log.DebugLevel,
		},
	}
}

func TestMessenger(t *testing.T) {
	Convey("Given a new Messenger", t, func(c C) {
		var logs bytes.Buffer
		defer func() {
			if logs.Len() > 0 {
				c.Printf("\n%s", logs.String())
			}
		}()

		m, err := Create(testConfig(&logs))
		So(err, ShouldBeNil)
		So(m.State(), ShouldEqual, StateStopped)
		So(m.GetSendStatus(), ShouldEqual, SendStatusIdle)

		Convey("Starting against a fake session and opening the sender", func() {
			sess := newFakeSession()
			So(m.Start(sess), ShouldBeNil)
			m.DoWork()
			So(m.State(), ShouldEqual, StateStarting)

			sender := sess.lastSender()
			So(sender, ShouldNotBeNil)
			So(sender.target, ShouldEqual, "amqps://h.example/devices/dev-1/messages/events")
			sender.setState(LinkStateOpen)
			m.DoWork()
			So(m.State(), ShouldEqual, StateStarted)

			Convey("Scenario 1: three messages complete OK in submission order", func() {
				var completions []int
				for i := 0; i < 3; i++ {
					i := i
					err := m.SendAsync(&Message{Body: bytes.Repeat([]byte{'x'}, 1024)}, func(_ interface{}, err error) {
						So(err, ShouldBeNil)
						completions = append(completions, i)
					}, nil)
					So(err, ShouldBeNil)
				}

				for i := 0; i < 3; i++ {
					m.DoWork()
				}

				So(completions, ShouldResemble, []int{0, 1, 2})
				So(sender.sent, ShouldHaveLength, 3)
			})

			Convey("Scenario 2: sender driven to Error fails the pending message", func() {
				var gotErr error
				err := m.SendAsync(&Message{Body: []byte("hi")}, func(_ interface{}, err error) {
					gotErr = err
				}, nil)
				So(err, ShouldBeNil)

				sender.setState(LinkStateError)
				m.DoWork()

				So(m.State(), ShouldEqual, StateError)
				So(Is(gotErr, KindSendFailed), ShouldBeTrue)
			})

		})

		Convey("SendAsync rejects nil message or nil completion", func() {
			err := m.SendAsync(nil, func(interface{}, error) {}, nil)
			So(Is(err, KindInvalidArgument), ShouldBeTrue)

			err = m.SendAsync(&Message{Body: []byte("x")}, nil, nil)
			So(Is(err, KindInvalidArgument), ShouldBeTrue)
		})

		Convey("SendMessageDisposition with no receiver fails", func() {
			err := m.SendMessageDisposition(&DispositionInfo{}, DispositionAccepted)
			So(Is(err, KindBadState), ShouldBeTrue)
		})
	})
}

func TestSendQueueTimeout(t *testing.T) {
	Convey("Given a send queue with a short timeout", t, func() {
		q := newSendQueue()
		q.setMaxEnqueuedTimeSecs(1)

		enqueuedAt := time.Now()
		var gotErr error
		q.add(&queuedItem{
			msg:        &Message{Body: []byte("x")},
			enqueued:   enqueuedAt,
			onComplete: func(_ interface{}, err error) { gotErr = err },
		})

		Convey("Sweeping before the deadline does nothing", func() {
			q.sweepTimeouts(enqueuedAt.Add(500 * time.Millisecond))
			So(gotErr, ShouldBeNil)
			So(q.isEmpty(), ShouldBeFalse)
		})

		Convey("Sweeping past the deadline times the item out", func() {
			q.sweepTimeouts(enqueuedAt.Add(2 * time.Second))
			So(Is(gotErr, KindTimeout), ShouldBeTrue)
			So(q.isEmpty(), ShouldBeTrue)
		})
	})

	Convey("Scenario 3: a submission with no open sender times out after 601s", t, func() {
		q := newSendQueue()
		enqueuedAt := time.Now()
		var gotErr error
		q.add(&queuedItem{
			msg:        &Message{Body: []byte("hi")},
			enqueued:   enqueuedAt,
			onComplete: func(_ interface{}, err error) { gotErr = err },
		})
		So(q.isEmpty(), ShouldBeFalse)

		q.sweepTimeouts(enqueuedAt.Add(601 * time.Second))

		So(Is(gotErr, KindTimeout), ShouldBeTrue)
		So(q.isEmpty(), ShouldBeTrue)
	})
}

func TestDestroyCancelsQueue(t *testing.T) {
	Convey("Given a Messenger with a pending send", t, func() {
		var logs bytes.Buffer
		m, err := Create(testConfig(&logs))
		So(err, ShouldBeNil)

		var gotErr error
		err = m.SendAsync(&Message{Body: []byte("x")}, func(_ interface{}, err error) {
			gotErr = err
		}, nil)
		So(err, ShouldBeNil)

		Convey("Destroy cancels it with Cancelled/MessengerDestroyed", func() {
			m.Destroy()
			So(Is(gotErr, KindCancelled), ShouldBeTrue)
			So(gotErr.(*Error).Err, ShouldEqual, ErrMessengerDestroyed)
		})
	})
}

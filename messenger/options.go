// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package messenger

// Recognized option names (base spec §6 "Options"). OptionSendTimeoutSecs
// is the only one a caller sets directly; OptionQueueOptions is the opaque
// round-trip blob RetrieveOptions returns and SetOption accepts back.
const (
	OptionSendTimeoutSecs = "amqp_event_send_timeout_secs"
	OptionQueueOptions    = "amqp_message_queue_options"
)

// QueueOptions is the opaque blob behind OptionQueueOptions: everything the
// send queue needs to reconstruct its effective configuration on a fresh
// instance (base spec §8 round-trip property).
type QueueOptions struct {
	MaxEnqueuedTimeSecs uint64
}

// SetOption applies a recognized option by name. Unknown names and
// type-mismatched values return InvalidArgument.
func (m *Messenger) SetOption(name string, value interface{}) error {
	switch name {
	case OptionSendTimeoutSecs:
		secs, ok := toUint64(value)
		if !ok {
			return newErr("SetOption", KindInvalidArgument, errRequiredField(name))
		}
		m.queue.setMaxEnqueuedTimeSecs(secs)
		return nil
	case OptionQueueOptions:
		opts, ok := value.(QueueOptions)
		if !ok {
			return newErr("SetOption", KindInvalidArgument, errRequiredField(name))
		}
		m.queue.setMaxEnqueuedTimeSecs(opts.MaxEnqueuedTimeSecs)
		return nil
	default:
		return newErr("SetOption", KindInvalidArgument, errRequiredField(name))
	}
}

// RetrieveOptions returns the current effective options, keyed the same way
// SetOption accepts them, so round-tripping through a fresh instance
// reproduces the same configuration (base spec §8).
func (m *Messenger) RetrieveOptions() map[string]interface{} {
	secs := uint64(m.queue.maxEnqueuedTime.Seconds())
	return map[string]interface{}{
		OptionSendTimeoutSecs: secs,
		OptionQueueOptions:    QueueOptions{MaxEnqueuedTimeSecs: secs},
	}
}

func toUint64(value interface{}) (uint64, bool) {
	switch v := value.(type) {
	case uint64:
		return v, true
	case int:
		if v < 0 {
			return 0, false
		}
		return uint64(v), true
	case uint:
		return uint64(v), true
	}
	return 0, false
}

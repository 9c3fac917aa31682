// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package messenger

import "github.com/apex/log"

// LinkConfig is the part of Config specific to one of the two links AM may
// own (base spec §3 "Link config").
type LinkConfig struct {
	// Suffix is appended to amqps://<host>/devices/<device-id>/ to build
	// the link's service address: the send target for the sender link,
	// the receive source for the receiver link.
	Suffix string
	// AttachProperties is a symbol -> string map attached to the link
	// before open. Cloned on Create; the caller keeps ownership of the
	// map it passed in.
	AttachProperties map[string]string
}

func (c LinkConfig) clone() LinkConfig {
	clone := LinkConfig{Suffix: c.Suffix}
	if c.AttachProperties != nil {
		clone.AttachProperties = make(map[string]string, len(c.AttachProperties))
		for k, v := range c.AttachProperties {
			clone.AttachProperties[k] = v
		}
	}
	return clone
}

// Config configures a Messenger. All strings and the attach-properties maps
// are cloned by Create; the caller retains ownership of what it passed in.
type Config struct {
	ClientVersion string
	DeviceID      string
	HostFQDN      string

	SendLink LinkConfig
	RecvLink LinkConfig

	// OnStateChange, if set, is invoked exactly once per observed state
	// change (invariant I5).
	OnStateChange StateChangeFunc

	// Logger receives structured diagnostics. Defaults to apex/log's
	// package logger when nil, the same default the teacher's bridge/amqp
	// package relies on its caller to supply explicitly.
	Logger log.Interface
}

func (c Config) validate() error {
	switch {
	case c.ClientVersion == "":
		return newErr("Create", KindInvalidArgument, errRequiredField("ClientVersion"))
	case c.DeviceID == "":
		return newErr("Create", KindInvalidArgument, errRequiredField("DeviceID"))
	case c.HostFQDN == "":
		return newErr("Create", KindInvalidArgument, errRequiredField("HostFQDN"))
	case c.SendLink.Suffix == "":
		return newErr("Create", KindInvalidArgument, errRequiredField("SendLink.Suffix"))
	case c.RecvLink.Suffix == "":
		return newErr("Create", KindInvalidArgument, errRequiredField("RecvLink.Suffix"))
	}
	return nil
}

func (c Config) clone() Config {
	clone := c
	clone.SendLink = c.SendLink.clone()
	clone.RecvLink = c.RecvLink.clone()
	if clone.Logger == nil {
		clone.Logger = log.Log
	}
	return clone
}

type errRequiredField string

func (e errRequiredField) Error() string { return "missing required field " + string(e) }

// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package messenger

import (
	"fmt"

	"github.com/google/uuid"
)

// deviceAddress builds amqps://<host>/devices/<device-id>/<suffix> (base
// spec §4.1 Link creation, §6 Addresses).
func deviceAddress(hostFQDN, deviceID, suffix string) string {
	return fmt.Sprintf("amqps://%s/devices/%s/%s", hostFQDN, deviceID, suffix)
}

// senderLinkName returns "link-snd-<device-id>-<uuid>" (base spec §4.1).
func senderLinkName(deviceID string) string {
	return fmt.Sprintf("link-snd-%s-%s", deviceID, uuid.NewString())
}

// receiverLinkName returns "link-rcv-<device-id>-<uuid>".
func receiverLinkName(deviceID string) string {
	return fmt.Sprintf("link-rcv-%s-%s", deviceID, uuid.NewString())
}

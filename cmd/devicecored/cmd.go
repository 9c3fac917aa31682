// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package devicecored

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/device-amqp/amqpcore/amqptransport"
	"github.com/device-amqp/amqpcore/messenger"
	"github.com/device-amqp/amqpcore/twin"
)

func runDevicecored(cmd *cobra.Command, args []string) error {
	deviceID := config.GetString("device-id")
	hostFQDN := config.GetString("host-fqdn")
	if deviceID == "" || hostFQDN == "" {
		return fmt.Errorf("--device-id and --host-fqdn are required")
	}

	username := config.GetString("username")
	if username == "" {
		username = hostFQDN + "/" + deviceID
	}
	password := config.GetString("password")

	tm, err := twin.Create(twin.Config{
		ClientVersion: config.GetString("client-version"),
		DeviceID:      deviceID,
		HostFQDN:      hostFQDN,
		Logger:        ctx,
		OnStateChange: func(previous, current twin.State) {
			ctx.WithField("previous", previous.String()).WithField("current", current.String()).Info("Twin Messenger state change")
		},
	})
	if err != nil {
		return err
	}

	if err := tm.SetOption(messenger.OptionSendTimeoutSecs, config.GetUint64("send-timeout-secs")); err != nil {
		ctx.WithError(err).Warn("Could not apply send-timeout option")
	}

	ctx.WithField("Address", hostFQDN).Info("Dialing AMQP endpoint")
	client, err := amqptransport.Dial("amqps://"+hostFQDN,
		amqptransport.WithSASLPlain(username, password))
	if err != nil {
		return err
	}
	defer client.Close()

	sessCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	session, err := client.NewSession(sessCtx)
	cancel()
	if err != nil {
		return err
	}

	if err := tm.Start(session); err != nil {
		return err
	}
	defer tm.Stop()

	if config.GetBool("subscribe") {
		tm.Subscribe(func(kind twin.UpdateKind, desired []byte, _ interface{}) {
			ctx.WithField("kind", kind.String()).WithField("bytes", len(desired)).Info("Desired-property update")
		}, nil)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(config.GetDuration("tick-interval"))
	defer ticker.Stop()

	ctx.Info("devicecored running")
	for {
		select {
		case <-ticker.C:
			tm.DoWork()
		case sig := <-sigChan:
			ctx.WithField("signal", sig).Info("signal received")
			tm.Destroy()
			return nil
		}
	}
}

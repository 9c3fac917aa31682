// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package devicecored

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/apex/log"
	"github.com/apex/log/handlers/cli"
	"github.com/apex/log/handlers/json"
	"github.com/apex/log/handlers/multi"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var ctx *log.Logger

var logFile *os.File

// Execute is called by main.go
func Execute() {
	defer func() {
		buf := make([]byte, 1<<16)
		runtime.Stack(buf, false)
		if thePanic := recover(); thePanic != nil && ctx != nil {
			ctx.WithField("panic", thePanic).WithField("stack", string(buf)).Fatal("Stopping because of panic")
		}
	}()

	if err := DevicecoreCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(-1)
	}
}

// DevicecoreCmd is the command executed when running devicecored.
var DevicecoreCmd = &cobra.Command{
	Use:   "devicecored",
	Short: "Device-side AMQP 1.0 messenger daemon",
	Long:  `devicecored drives a device's AMQP Messenger and Twin Messenger against an IoT Hub-style endpoint`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		var logHandlers []log.Handler

		logHandlers = append(logHandlers, cli.Default)

		if logFileLocation := config.GetString("log-file"); logFileLocation != "" {
			absLogFileLocation, err := filepath.Abs(logFileLocation)
			if err != nil {
				panic(err)
			}
			logFile, err = os.OpenFile(absLogFileLocation, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0644)
			if err != nil {
				panic(err)
			}
			logHandlers = append(logHandlers, json.New(logFile))
		}

		ctx = &log.Logger{
			Level:   log.DebugLevel,
			Handler: multi.New(logHandlers...),
		}
		if config.GetBool("debug") {
			ctx.Level = log.DebugLevel
		} else {
			ctx.Level = log.InfoLevel
		}
	},
	RunE: runDevicecored,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logFile != nil {
			time.Sleep(100 * time.Millisecond)
			logFile.Close()
		}
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := DevicecoreCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file")
	flags.Bool("debug", false, "enable debug-level logging")
	flags.String("log-file", "", "also log JSON lines to this file")

	flags.String("device-id", "", "device identifier")
	flags.String("host-fqdn", "", "IoT Hub host FQDN")
	flags.String("username", "", "SASL PLAIN username (defaults to <host-fqdn>/<device-id>)")
	flags.String("password", "", "SASL PLAIN password (shared access signature)")
	flags.String("client-version", "devicecored/1.0", "client version string attached to AM/TM links")
	flags.Uint64("send-timeout-secs", 600, "AM send-queue timeout in seconds")
	flags.Duration("tick-interval", time.Second, "DoWork polling interval")
	flags.Bool("subscribe", true, "subscribe to desired-property updates on startup")

	viper.BindPFlags(flags)
}

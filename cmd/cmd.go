// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package cmd

import (
	"crypto/tls"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"regexp"
	"strings"
	"syscall"
	"time"

	"github.com/TheThingsNetwork/go-utils/handlers/cli"
	ttnlog "github.com/TheThingsNetwork/go-utils/log"
	"github.com/TheThingsNetwork/go-utils/log/apex"
	"github.com/TheThingsNetwork/mqtt-telemetry-agent/backend"
	"github.com/TheThingsNetwork/mqtt-telemetry-agent/backend/dummy"
	"github.com/TheThingsNetwork/mqtt-telemetry-agent/backend/mqtt"
	"github.com/TheThingsNetwork/mqtt-telemetry-agent/command"
	"github.com/TheThingsNetwork/mqtt-telemetry-agent/connectivity"
	"github.com/TheThingsNetwork/mqtt-telemetry-agent/keepalive"
	"github.com/TheThingsNetwork/mqtt-telemetry-agent/middleware/blacklist"
	"github.com/TheThingsNetwork/mqtt-telemetry-agent/middleware/deduplicate"
	"github.com/TheThingsNetwork/mqtt-telemetry-agent/middleware/ratelimit"
	"github.com/TheThingsNetwork/mqtt-telemetry-agent/sampling"
	"github.com/TheThingsNetwork/mqtt-telemetry-agent/sensor"
	"github.com/TheThingsNetwork/mqtt-telemetry-agent/session"
	"github.com/TheThingsNetwork/mqtt-telemetry-agent/status"
	"github.com/TheThingsNetwork/mqtt-telemetry-agent/types"
	"github.com/apex/log"
	"github.com/apex/log/handlers/json"
	"github.com/apex/log/handlers/multi"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	redis "gopkg.in/redis.v5"
)

// AgentCmd is the main command that is executed when running mqtt-telemetry-agent
var AgentCmd = &cobra.Command{
	Use:   "mqtt-telemetry-agent",
	Short: "The Things Network's MQTT telemetry agent",
	Long:  `mqtt-telemetry-agent keeps an MQTT session for a device and publishes its sensor readings`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		var logHandlers []log.Handler

		logHandlers = append(logHandlers, cli.New(os.Stdout))

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

		level := log.InfoLevel
		if config.GetBool("debug") {
			level = log.DebugLevel
		}

		ctx = &log.Logger{
			Level:   level,
			Handler: multi.New(logHandlers...),
		}
		ttnlog.Set(apex.Wrap(ctx))
	},
	Run: runAgent,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logFile != nil {
			time.Sleep(100 * time.Millisecond)
			logFile.Close()
		}
	},
}

func newProbe(probe string) (connectivity.Reachability, error) {
	switch {
	case probe == "" || probe == "interface":
		return connectivity.InterfaceProbe{}, nil
	case strings.HasPrefix(probe, "tcp://"):
		return connectivity.DialProbe{Address: strings.TrimPrefix(probe, "tcp://")}, nil
	}
	return nil, fmt.Errorf("unknown connectivity probe %q", probe)
}

func newClient(deviceID string) backend.Client {
	if config.GetBool("dry-run") {
		ctx.Info("Dry run, not connecting to a broker")
		return dummy.New(ctx)
	}
	var tlsConfig *tls.Config
	if config.GetBool("broker-tls") {
		tlsConfig = &tls.Config{ServerName: config.GetString("broker-host")}
	}
	return mqtt.New(mqtt.Config{
		ClientID:  deviceID,
		Username:  config.GetString("broker-username"),
		Password:  config.GetString("broker-password"),
		TLSConfig: tlsConfig,
	}, ctx)
}

// user:pass@host:port
var amqpRegexp = regexp.MustCompile(`^(?:([0-9a-z_-]+)(?::([0-9A-Za-z-!"#$%&'()*+,.:;<=>?@[\]^_{|}~]+))?@)?([0-9a-z.-]+:[0-9]+)$`)

func runAgent(cmd *cobra.Command, args []string) {
	deviceID := config.GetString("id")
	ctx.WithField("DeviceID", deviceID).Info("Starting agent")

	probe, err := newProbe(config.GetString("connectivity-probe"))
	if err != nil {
		ctx.WithError(err).Fatal("Could not set up connectivity monitor")
	}
	monitor := connectivity.New(probe, config.GetDuration("connectivity-interval"), ctx)
	monitor.CacheFor(config.GetDuration("connectivity-interval"))

	s := session.New(session.Config{
		DeviceID:       deviceID,
		KeepAlive:      config.GetDuration("keep-alive"),
		ConnectTimeout: config.GetDuration("connect-timeout"),
		QueueSize:      config.GetInt("queue-size"),
	}, newClient(deviceID), keepalive.New(ctx), monitor, ctx)
	s.Start()
	defer s.Stop()

	// Set up Redis
	var redisClient *redis.Client
	if config.GetBool("redis") {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     config.GetString("redis-address"),
			Password: config.GetString("redis-password"),
			DB:       config.GetInt("redis-db"),
		})
		defer redisClient.Close()
	}

	// Set up the middleware
	var chain []interface{}
	if lists := config.GetStringSlice("blacklist"); len(lists) > 0 {
		ctx.WithField("Lists", lists).Info("Initializing topic blacklist")
		b, err := blacklist.NewBlacklist(lists...)
		if err != nil {
			ctx.WithError(err).Warn("Could not initialize topic blacklist")
		} else {
			defer b.Close()
			chain = append(chain, b)
		}
	}
	if window := config.GetDuration("deduplicate-window"); window > 0 {
		chain = append(chain, deduplicate.NewDeduplicate(window))
	}
	limits := ratelimit.Limits{
		Publish:   config.GetInt("rate-limit-publish"),
		Subscribe: config.GetInt("rate-limit-subscribe"),
	}
	if limits.Publish != 0 || limits.Subscribe != 0 {
		if redisClient != nil {
			ctx.Info("Initializing Redis rate limits")
			chain = append(chain, ratelimit.NewRedisRateLimit(redisClient, limits))
		} else {
			ctx.Info("Initializing Memory rate limits")
			chain = append(chain, ratelimit.NewRateLimit(limits))
		}
	}

	facade := command.New(s, ctx, chain...)

	done := make(chan struct{})
	defer close(done)

	if config.GetBool("connect") {
		err := facade.Dispatch(&types.Command{
			Action: types.ActionStart,
			Host:   config.GetString("broker-host"),
			Port:   config.GetInt("broker-port"),
		})
		if err != nil {
			ctx.WithError(err).Warn("Could not start session")
		}
	}

	// Set up the command sources
	if redisClient != nil {
		source := command.NewRedisSource(redisClient, config.GetString("redis-channel"), ctx)
		go func() {
			if err := source.Run(facade, done); err != nil {
				ctx.WithError(err).Warn("Stopped receiving commands from Redis")
			}
		}()
	}
	if amqpBroker := config.GetString("amqp"); amqpBroker != "" && amqpBroker != "disable" {
		parts := amqpRegexp.FindStringSubmatch(amqpBroker)
		if parts == nil {
			ctx.WithField("Broker", amqpBroker).Fatal("Invalid AMQP broker")
		}
		ctx.WithField("Username", parts[1]).WithField("Address", parts[3]).Info("Initializing AMQP command source")
		source := command.NewAMQPSource(command.AMQPConfig{
			Address:      parts[3],
			Username:     parts[1],
			Password:     parts[2],
			ExchangeName: config.GetString("amqp-exchange"),
		}, deviceID, ctx)
		go func() {
			if err := source.Run(facade, done); err != nil {
				ctx.WithError(err).Warn("Stopped receiving commands from AMQP")
			}
		}()
	}

	// Set up the sensor
	if input := config.GetString("sensor-input"); input != "" {
		calibration, err := sensor.NewCalibration(config.GetString("calibration-file"), ctx)
		if err != nil {
			ctx.WithError(err).Fatal("Could not load calibration")
		}
		defer calibration.Close()

		var r io.Reader = os.Stdin
		if input != "-" {
			f, err := os.Open(input)
			if err != nil {
				ctx.WithError(err).Fatal("Could not open sensor input")
			}
			defer f.Close()
			r = f
		}
		readings := make(chan float64)
		go func() {
			if err := sensor.ReadLines(r, readings, done, ctx); err != nil {
				ctx.WithError(err).Warn("Stopped reading sensor input")
			}
		}()
		gate := sampling.NewGate(sampling.Config{
			Delta:       config.GetFloat64("delta"),
			MinInterval: config.GetDuration("min-publish-interval"),
		})
		reporter := sensor.NewReporter(gate, calibration, facade, config.GetString("sensor-topic"), ctx)
		go reporter.Run(readings, done)
	}

	// Periodically try to restore a lost session
	if interval := config.GetDuration("reconnect-interval"); interval > 0 {
		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-done:
					return
				case <-ticker.C:
					if err := facade.Dispatch(&types.Command{Action: types.ActionReconnect}); err != nil {
						ctx.WithError(err).Debug("Could not reconnect session")
					}
				}
			}
		}()
	}

	if addr := config.GetString("status-address"); addr != "" {
		statusServer := status.New(addr, s, ctx)
		if key := config.GetString("status-access-key"); key != "" {
			statusServer.AddAccessKey(key)
		}
		go func() {
			if err := statusServer.ListenAndServe(); err != nil {
				ctx.WithError(err).Warn("Status server stopped")
			}
		}()
		defer statusServer.Shutdown()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	ctx.WithField("signal", <-sigChan).Info("signal received")
}

func init() {
	AgentCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Location of the config file")
	AgentCmd.PersistentFlags().String("log-file", "", "Location of the log file")
	AgentCmd.PersistentFlags().Bool("debug", false, "Print debug logs")
	AgentCmd.PersistentFlags().String("calibration-file", "", "Location of the calibration file")

	AgentCmd.Flags().String("broker-host", "localhost", "MQTT broker host")
	AgentCmd.Flags().Int("broker-port", command.DefaultPort, "MQTT broker port")
	AgentCmd.Flags().String("broker-username", "", "MQTT broker username")
	AgentCmd.Flags().String("broker-password", "", "MQTT broker password")
	AgentCmd.Flags().Bool("broker-tls", false, "Use TLS to connect to the MQTT broker")
	AgentCmd.Flags().Bool("dry-run", false, "Do not connect to a broker")
	AgentCmd.Flags().Bool("connect", true, "Start the session at boot")

	defaults := session.DefaultConfig()
	AgentCmd.Flags().Duration("keep-alive", defaults.KeepAlive, "Keepalive interval")
	AgentCmd.Flags().Duration("connect-timeout", defaults.ConnectTimeout, "Connect timeout")
	AgentCmd.Flags().Int("queue-size", defaults.QueueSize, "Maximum number of pending session operations (0 is unbounded)")

	gate := sampling.DefaultConfig()
	AgentCmd.Flags().Float64("delta", gate.Delta, "Minimum change of a reading before it is published")
	AgentCmd.Flags().Duration("min-publish-interval", gate.MinInterval, "Minimum time between published readings")
	AgentCmd.Flags().String("sensor-topic", sensor.DefaultTopic, "Topic to publish readings on")
	AgentCmd.Flags().String("sensor-input", "", "File to read sensor readings from (\"-\" for stdin)")

	AgentCmd.Flags().String("connectivity-probe", "interface", "Connectivity probe (\"interface\" or \"tcp://host:port\")")
	AgentCmd.Flags().Duration("connectivity-interval", connectivity.DefaultInterval, "Connectivity probe interval")
	AgentCmd.Flags().Duration("reconnect-interval", 0, "Interval for reconnecting a lost session (0 to disable)")

	AgentCmd.Flags().Bool("redis", false, "Receive commands from Redis")
	AgentCmd.Flags().String("redis-address", "localhost:6379", "Redis host and port")
	AgentCmd.Flags().String("redis-password", "", "Redis password")
	AgentCmd.Flags().Int("redis-db", 0, "Redis database")
	AgentCmd.Flags().String("redis-channel", command.DefaultRedisChannel, "Redis channel to receive commands on")

	AgentCmd.Flags().String("amqp", "disable", "AMQP Broker to receive commands from (user:pass@host:port, disable with \"disable\")")
	AgentCmd.Flags().String("amqp-exchange", "amq.topic", "AMQP exchange to receive commands from")

	AgentCmd.Flags().StringSlice("blacklist", nil, "Topic blacklists (files or URLs)")
	AgentCmd.Flags().Duration("deduplicate-window", 0, "Drop repeated publish commands within this window (0 to disable)")
	AgentCmd.Flags().Int("rate-limit-publish", 0, "Publish commands per topic per minute (0 is unlimited)")
	AgentCmd.Flags().Int("rate-limit-subscribe", 0, "Subscribe commands per topic per minute (0 is unlimited)")

	AgentCmd.Flags().String("status-address", "", "Address to serve status and metrics on")
	AgentCmd.Flags().String("status-access-key", "", "Access key for the status endpoint")

	viper.BindPFlags(AgentCmd.PersistentFlags())
	viper.BindPFlags(AgentCmd.Flags())
}

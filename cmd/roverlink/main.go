package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/snowball-robotics/roverlink/internal/actuator"
	"github.com/snowball-robotics/roverlink/internal/actuator/pigpio"
	"github.com/snowball-robotics/roverlink/internal/actuator/sim"
	"github.com/snowball-robotics/roverlink/internal/config"
	"github.com/snowball-robotics/roverlink/internal/link"
	"github.com/snowball-robotics/roverlink/internal/metrics"
	"github.com/snowball-robotics/roverlink/internal/peer"
	"github.com/snowball-robotics/roverlink/internal/signaling"
	"github.com/snowball-robotics/roverlink/internal/signaling/mqttchannel"
	"github.com/snowball-robotics/roverlink/internal/signaling/wschannel"
)

var (
	// Set via -ldflags at build time. Values may be empty in local/dev builds.
	buildCommit = ""
	buildTime   = ""
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	commit, builtAt := resolveBuildInfo(buildCommit, buildTime)
	logger.Info("starting roverlink",
		"room_id", cfg.RoomID,
		"signaling_transport", cfg.SignalingTransport,
		"actuator", cfg.Actuator,
		"mode", cfg.Mode,
		"control_idle_stop_timeout", cfg.ControlIdleStopTimeout,
		"max_control_frames_per_second", cfg.MaxControlFramesPerSecond,
		"commit", commit,
		"built_at", builtAt,
	)

	// A broken ICE server config should not keep the rover off the track;
	// host candidates are enough on a LAN.
	if err := cfg.ICEConfigError(); err != nil {
		logger.Warn("ignoring ICE server config", "err", err)
	}

	logStartupWarnings(logger, cfg)

	// os.Exit skips defers, so everything that must stop the vehicle on the
	// way out lives behind run's normal return.
	os.Exit(run(logger, cfg))
}

func run(logger *slog.Logger, cfg config.Config) int {
	m := metrics.New()
	defer logCounters(logger, m)

	act := buildActuator(logger, cfg)
	defer func() {
		if err := act.Stop(); err != nil {
			logger.Warn("actuator stop on exit failed", "err", err)
		}
		if err := act.Cleanup(); err != nil {
			logger.Warn("actuator cleanup failed", "err", err)
		}
	}()

	ch, err := buildSignalingChannel(logger, m, cfg)
	if err != nil {
		logger.Error("failed to connect signaling", "err", err)
		return 1
	}
	defer func() {
		if err := ch.Close(); err != nil {
			logger.Warn("signaling channel close failed", "err", err)
		}
	}()

	var portMin, portMax uint16
	if pr := cfg.WebRTCUDPPortRange; pr != nil {
		portMin, portMax = pr.Min, pr.Max
	}
	api, err := peer.NewAPI(peer.Options{
		Logger:     logger,
		UDPPortMin: portMin,
		UDPPortMax: portMax,
	})
	if err != nil {
		logger.Error("failed to configure webrtc", "err", err)
		return 2
	}

	sess, err := link.New(api, ch, cfg.RoomID, link.Config{
		Logger:                    logger,
		Metrics:                   m,
		Actuator:                  act,
		ICEServers:                cfg.ICEServers,
		ICEGatheringTimeout:       cfg.ICEGatheringTimeout,
		ControlIdleStopTimeout:    cfg.ControlIdleStopTimeout,
		MaxControlFramesPerSecond: cfg.MaxControlFramesPerSecond,
	})
	if err != nil {
		logger.Error("failed to build control link", "err", err)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- sess.Run(ctx)
	}()

	select {
	case err := <-errCh:
		closeLink(logger, sess)
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("control link exited", "err", err)
			return 1
		}
		return 0
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	closeLink(logger, sess)
	select {
	case <-errCh:
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timed out waiting for the control link")
	}
	return 0
}

func buildActuator(logger *slog.Logger, cfg config.Config) actuator.Actuator {
	switch cfg.Actuator {
	case config.ActuatorPigpio:
		return pigpio.New(logger, pigpio.Config{
			Addr:        cfg.PigpioAddr,
			ESCPin:      cfg.ESCGPIOPin,
			SteeringPin: cfg.SteeringGPIOPin,
		})
	default:
		return sim.New(logger)
	}
}

func buildSignalingChannel(logger *slog.Logger, m *metrics.Metrics, cfg config.Config) (signaling.Channel, error) {
	switch cfg.SignalingTransport {
	case config.SignalingTransportMQTT:
		return mqttchannel.Dial(mqttchannel.Config{
			BrokerURL:   cfg.MQTTBrokerURL,
			ClientID:    cfg.MQTTClientID,
			TopicPrefix: cfg.MQTTTopicPrefix,
			RoomID:      cfg.RoomID,
			Logger:      logger,
			Metrics:     m,
		})
	default:
		return wschannel.Dial(wschannel.Config{
			URL:               cfg.SignalingURL,
			ReconnectMinDelay: cfg.SignalingReconnectMinDelay,
			ReconnectMaxDelay: cfg.SignalingReconnectMaxDelay,
			Logger:            logger,
			Metrics:           m,
		})
	}
}

func closeLink(logger *slog.Logger, sess *link.Session) {
	if err := sess.Close(); err != nil {
		logger.Warn("control link close failed", "err", err)
	}
}

func logCounters(logger *slog.Logger, m *metrics.Metrics) {
	snapshot := m.Snapshot()
	attrs := make([]any, 0, len(snapshot)*2)
	for name, v := range snapshot {
		attrs = append(attrs, name, v)
	}
	logger.Info("final counters", attrs...)
}

func resolveBuildInfo(commit, buildTime string) (string, string) {
	// Prefer ldflags-injected values (production builds) but fall back to the Go
	// build info when available (useful for `go run` / dev builds).
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if commit == "" {
					commit = s.Value
				}
			case "vcs.time":
				if buildTime == "" {
					buildTime = s.Value
				}
			}
		}
	}

	return commit, buildTime
}

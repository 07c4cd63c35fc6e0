// Package link ties the pieces together: one WebRTC peer connection, one
// "control" data channel, and the pipeline from inbound control frames to
// the actuators. Every binary message is acknowledged with a single 0x00
// byte, including frames that fail to decode; the ack confirms receipt, not
// validity.
package link

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/snowball-robotics/roverlink/internal/actuator"
	"github.com/snowball-robotics/roverlink/internal/controlframe"
	"github.com/snowball-robotics/roverlink/internal/metrics"
	"github.com/snowball-robotics/roverlink/internal/negotiation"
	"github.com/snowball-robotics/roverlink/internal/peer"
	"github.com/snowball-robotics/roverlink/internal/ratelimit"
	"github.com/snowball-robotics/roverlink/internal/signaling"
)

// ControlChannelLabel is the data channel label both peers agree on.
const ControlChannelLabel = "control"

type Config struct {
	Logger  *slog.Logger
	Metrics *metrics.Metrics

	Actuator actuator.Actuator

	ICEServers []webrtc.ICEServer

	// ICEGatheringTimeout bounds the non-trickle gathering wait before a
	// local description is sent anyway.
	ICEGatheringTimeout time.Duration

	// ControlIdleStopTimeout stops the vehicle when no frame has been
	// applied for this long. Zero disables the watchdog.
	ControlIdleStopTimeout time.Duration

	// MaxControlFramesPerSecond drops (but still acks) frames beyond this
	// rate. Zero or negative disables limiting.
	MaxControlFramesPerSecond int64

	// Clock overrides time for the frame limiter in tests.
	Clock ratelimit.Clock
}

// Session is one vehicle's end of the remote-control link.
type Session struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
	act     actuator.Actuator

	conn *peer.Conn
	neg  *negotiation.Controller
	sig  *signaling.Session

	limiter     *ratelimit.FrameLimiter
	idleTimeout time.Duration

	mu      sync.Mutex
	dc      *webrtc.DataChannel
	runCtx  context.Context
	closed  bool

	wdMu     sync.Mutex
	watchdog *time.Timer

	closeOnce sync.Once
}

// New builds the peer connection and wires signaling, negotiation and the
// control pipeline. The caller owns the signaling channel's lifetime.
func New(api *webrtc.API, ch signaling.Channel, roomID string, cfg Config) (*Session, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Actuator == nil {
		return nil, fmt.Errorf("link: missing actuator")
	}

	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: cfg.ICEServers})
	if err != nil {
		return nil, fmt.Errorf("link: new peer connection: %w", err)
	}

	s := &Session{
		logger:      logger.With(slog.String("component", "link")),
		metrics:     cfg.Metrics,
		act:         cfg.Actuator,
		conn:        peer.NewConn(pc),
		idleTimeout: cfg.ControlIdleStopTimeout,
		runCtx:      context.Background(),
	}
	if cfg.MaxControlFramesPerSecond > 0 {
		s.limiter = ratelimit.NewFrameLimiter(cfg.Clock, cfg.MaxControlFramesPerSecond, cfg.MaxControlFramesPerSecond)
	}

	s.neg = negotiation.NewController(logger, s.conn, func(desc webrtc.SessionDescription) error {
		return s.sig.SendLocalDescription(desc)
	}, func(candidate webrtc.ICECandidateInit) error {
		return s.sig.SendCandidate(candidate)
	}, cfg.ICEGatheringTimeout, cfg.Metrics)

	s.sig = signaling.NewSession(signaling.SessionConfig{
		Logger:               logger,
		Channel:              ch,
		RoomID:               roomID,
		Negotiator:           s.neg,
		EnsureControlChannel: s.ensureControlChannel,
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		s.logger.Info("peer connection state", slog.String("state", state.String()))
	})
	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		s.logger.Info("ice connection state", slog.String("state", state.String()))
		if state == webrtc.ICEConnectionStateFailed {
			go s.restartICE()
		}
	})
	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			return
		}
		if err := s.neg.HandleLocalCandidate(candidate.ToJSON()); err != nil {
			s.logger.Warn("candidate send failed", slog.String("err", err.Error()))
		}
	})
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		s.logger.Info("data channel created by remote", slog.String("label", dc.Label()))
		s.bindChannel(dc)
	})

	return s, nil
}

// Run joins the signaling room and serves the link until ctx is canceled or
// signaling fails for good.
func (s *Session) Run(ctx context.Context) error {
	s.mu.Lock()
	s.runCtx = ctx
	s.mu.Unlock()
	return s.sig.Run(ctx)
}

// Close tears down the peer connection and stops the vehicle. It does not
// close the signaling channel; the caller owns it.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		s.stopWatchdog()
		if stopErr := s.act.Stop(); stopErr != nil {
			s.logger.Warn("actuator stop on close failed", slog.String("err", stopErr.Error()))
		}
		err = s.conn.Close()
	})
	return err
}

func (s *Session) restartICE() {
	s.mu.Lock()
	ctx := s.runCtx
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}
	s.logger.Warn("ice failed, restarting")
	if err := s.neg.Negotiate(ctx, true); err != nil {
		s.logger.Error("ice restart failed", slog.String("err", err.Error()))
	}
}

// ensureControlChannel creates the control channel when this peer is the
// initiator. The remote-created path goes through OnDataChannel instead.
func (s *Session) ensureControlChannel() error {
	s.mu.Lock()
	existing := s.dc
	s.mu.Unlock()
	if existing != nil {
		return nil
	}

	dc, err := s.conn.PeerConnection().CreateDataChannel(ControlChannelLabel, nil)
	if err != nil {
		return fmt.Errorf("create data channel: %w", err)
	}
	s.bindChannel(dc)
	return nil
}

func (s *Session) bindChannel(dc *webrtc.DataChannel) {
	s.mu.Lock()
	s.dc = dc
	s.mu.Unlock()

	dc.OnOpen(func() {
		s.logger.Info("control channel open", slog.String("label", dc.Label()))
	})
	dc.OnClose(func() {
		s.logger.Warn("control channel closed, stopping vehicle")
		s.stopWatchdog()
		if err := s.act.Stop(); err != nil {
			s.logger.Warn("actuator stop failed", slog.String("err", err.Error()))
		}
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if msg.IsString {
			s.inc(metrics.TextMessages)
			s.logger.Info("control channel text", slog.String("text", string(msg.Data)))
			return
		}
		s.handleFrame(dc, msg.Data)
	})
}

// handleFrame runs the binary pipeline: decode, rate-limit, watchdog,
// emergency stop, map, apply. The ack goes out regardless of the outcome.
func (s *Session) handleFrame(dc *webrtc.DataChannel, data []byte) {
	defer func() {
		if err := dc.Send(controlframe.EncodeAck()); err != nil {
			s.logger.Warn("ack send failed", slog.String("err", err.Error()))
		}
	}()

	frame, err := controlframe.Decode(data)
	if err != nil {
		s.inc(metrics.FramesTooShort)
		s.logger.Warn("dropping undecodable frame",
			slog.Int("len", len(data)),
			slog.String("err", err.Error()))
		return
	}

	if s.limiter != nil && !s.limiter.Allow() {
		s.inc(metrics.FramesRateLimited)
		return
	}

	s.resetWatchdog()

	if frame.Buttons&controlframe.ButtonEmergencyStop != 0 {
		s.inc(metrics.EmergencyStops)
		s.logger.Warn("emergency stop requested", slog.Uint64("seq", uint64(frame.Seq)))
		if err := s.act.Stop(); err != nil {
			s.inc(metrics.ActuatorFaults)
			s.logger.Error("emergency stop failed", slog.String("err", err.Error()))
		}
		return
	}

	cmd := frame.Normalize()
	if _, _, err := s.act.Apply(cmd.Throttle, cmd.Steering); err != nil {
		s.inc(metrics.ActuatorFaults)
		s.logger.Warn("actuator apply failed",
			slog.Uint64("seq", uint64(frame.Seq)),
			slog.String("err", err.Error()))
		return
	}
	s.inc(metrics.FramesApplied)

	s.logger.Debug("frame applied",
		slog.Uint64("seq", uint64(frame.Seq)),
		slog.Float64("throttle", cmd.Throttle),
		slog.Float64("steering", cmd.Steering))
}

// resetWatchdog re-arms the idle-stop timer. When it fires the vehicle is
// stopped until the next frame arrives.
func (s *Session) resetWatchdog() {
	if s.idleTimeout <= 0 {
		return
	}
	s.wdMu.Lock()
	defer s.wdMu.Unlock()
	if s.watchdog != nil {
		s.watchdog.Stop()
	}
	s.watchdog = time.AfterFunc(s.idleTimeout, s.idleStop)
}

func (s *Session) idleStop() {
	s.inc(metrics.IdleStops)
	s.logger.Warn("control idle timeout, stopping vehicle",
		slog.Duration("timeout", s.idleTimeout))
	if err := s.act.Stop(); err != nil {
		s.inc(metrics.ActuatorFaults)
		s.logger.Error("idle stop failed", slog.String("err", err.Error()))
	}
}

func (s *Session) stopWatchdog() {
	s.wdMu.Lock()
	defer s.wdMu.Unlock()
	if s.watchdog != nil {
		s.watchdog.Stop()
		s.watchdog = nil
	}
}

func (s *Session) inc(name string) {
	if s.metrics != nil {
		s.metrics.Inc(name)
	}
}

package signaling

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"
)

// Negotiator is the negotiation surface the session drives. It matches
// *negotiation.Controller.
type Negotiator interface {
	SetPolite(polite bool)
	Negotiate(ctx context.Context, iceRestart bool) error
	HandleOffer(ctx context.Context, offer webrtc.SessionDescription, politeHint *bool) error
	HandleAnswer(answer webrtc.SessionDescription) error
	HandleCandidate(candidate webrtc.ICECandidateInit) error
}

type SessionConfig struct {
	Logger     *slog.Logger
	Channel    Channel
	RoomID     string
	Negotiator Negotiator

	// EnsureControlChannel is invoked when this peer is assigned the
	// initiator role, before the first negotiation.
	EnsureControlChannel func() error
}

// Session joins a signaling room and routes role assignments, descriptions
// and candidates between the channel and the negotiator.
type Session struct {
	logger        *slog.Logger
	ch            Channel
	roomID        string
	neg           Negotiator
	ensureChannel func() error

	mu        sync.Mutex
	initiator bool
}

func NewSession(cfg SessionConfig) *Session {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		logger:        logger.With(slog.String("component", "signaling"), slog.String("room_id", cfg.RoomID)),
		ch:            cfg.Channel,
		roomID:        cfg.RoomID,
		neg:           cfg.Negotiator,
		ensureChannel: cfg.EnsureControlChannel,
	}
}

// Initiator reports whether the server assigned this peer the initiator
// role.
func (s *Session) Initiator() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initiator
}

// Run joins the room and dispatches messages until ctx is canceled or the
// channel closes. Per-message handling errors are logged, not fatal: a bad
// message from the peer must not take the link down.
func (s *Session) Run(ctx context.Context) error {
	if err := s.ch.Send(Message{Type: TypeRoomJoin, RoomID: s.roomID}); err != nil {
		return fmt.Errorf("join room: %w", err)
	}
	s.logger.Info("joined room")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-s.ch.Messages():
			if !ok {
				return fmt.Errorf("signaling channel closed")
			}
			if err := s.dispatch(ctx, msg); err != nil {
				s.logger.Warn("signaling message failed",
					slog.String("type", string(msg.Type)),
					slog.String("err", err.Error()))
			}
		}
	}
}

func (s *Session) dispatch(ctx context.Context, msg Message) error {
	switch msg.Type {
	case TypeRoomRole:
		return s.handleRole(ctx, msg)

	case TypePeerReady:
		s.logger.Info("peer ready")
		if s.Initiator() {
			return s.neg.Negotiate(ctx, false)
		}
		return nil

	case TypePeerLeft:
		s.logger.Info("peer left")
		return nil

	case TypeOffer:
		desc, err := msg.SDP.ToPion()
		if err != nil {
			return err
		}
		return s.neg.HandleOffer(ctx, desc, msg.Polite)

	case TypeAnswer:
		desc, err := msg.SDP.ToPion()
		if err != nil {
			return err
		}
		return s.neg.HandleAnswer(desc)

	case TypeCandidate:
		return s.neg.HandleCandidate(msg.Candidate.ToPion())

	default:
		return fmt.Errorf("unexpected inbound message type %q", msg.Type)
	}
}

func (s *Session) handleRole(ctx context.Context, msg Message) error {
	initiator := msg.Initiator != nil && *msg.Initiator
	polite := msg.Polite != nil && *msg.Polite

	s.mu.Lock()
	s.initiator = initiator
	s.mu.Unlock()
	s.neg.SetPolite(polite)
	s.logger.Info("role assigned", slog.Bool("initiator", initiator), slog.Bool("polite", polite))

	if !initiator {
		return nil
	}
	if s.ensureChannel != nil {
		if err := s.ensureChannel(); err != nil {
			return fmt.Errorf("ensure control channel: %w", err)
		}
	}
	return s.neg.Negotiate(ctx, false)
}

// SendLocalDescription publishes an offer or answer tagged with the room id.
// It is the negotiation controller's SendFunc.
func (s *Session) SendLocalDescription(desc webrtc.SessionDescription) error {
	sdp := SDPFromPion(desc)
	var typ MessageType
	switch desc.Type {
	case webrtc.SDPTypeOffer:
		typ = TypeOffer
	case webrtc.SDPTypeAnswer:
		typ = TypeAnswer
	default:
		return fmt.Errorf("unsupported local description type %q", desc.Type)
	}
	return s.ch.Send(Message{Type: typ, RoomID: s.roomID, SDP: &sdp})
}

// SendCandidate publishes a local ICE candidate. It is the negotiation
// controller's SendCandidateFunc, used for candidates gathered after a
// partial description already went out.
func (s *Session) SendCandidate(init webrtc.ICECandidateInit) error {
	c := CandidateFromPion(init)
	return s.ch.Send(Message{Type: TypeCandidate, Candidate: &c})
}

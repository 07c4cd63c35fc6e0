// Package negotiation implements the perfect-negotiation state machine over
// a WebRTC peer connection: offer collisions are resolved by politeness, an
// impolite peer ignores colliding offers (and the candidate errors that
// follow), and answers are only applied while an offer is outstanding.
//
// Local descriptions are sent non-trickle: Negotiate and HandleOffer wait
// for ICE gathering to complete (bounded by a timeout) so the SDP carries
// the full candidate set. When the wait times out, the partial description
// goes out and candidates gathered afterwards are trickled individually.
package negotiation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/snowball-robotics/roverlink/internal/metrics"
)

// PeerConnection is the subset of *webrtc.PeerConnection the state machine
// drives. GatheringComplete must return a channel that closes once ICE
// gathering for the current local description finishes.
type PeerConnection interface {
	CreateOffer(options *webrtc.OfferOptions) (webrtc.SessionDescription, error)
	CreateAnswer(options *webrtc.AnswerOptions) (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	LocalDescription() *webrtc.SessionDescription
	SignalingState() webrtc.SignalingState
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	GatheringComplete() <-chan struct{}
}

// SendFunc delivers a local description to the remote peer via signaling.
type SendFunc func(desc webrtc.SessionDescription) error

// SendCandidateFunc delivers a late local ICE candidate to the remote peer.
type SendCandidateFunc func(candidate webrtc.ICECandidateInit) error

// Controller tracks the makingOffer/ignoreOffer/polite flags and serializes
// all description handling.
type Controller struct {
	logger        *slog.Logger
	pc            PeerConnection
	send          SendFunc
	sendCandidate SendCandidateFunc
	gatherTimeout time.Duration
	metrics       *metrics.Metrics

	mu          sync.Mutex
	polite      bool
	makingOffer bool
	ignoreOffer bool
	trickling   bool
}

func NewController(logger *slog.Logger, pc PeerConnection, send SendFunc, sendCandidate SendCandidateFunc, gatherTimeout time.Duration, m *metrics.Metrics) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		logger:        logger.With(slog.String("component", "negotiation")),
		pc:            pc,
		send:          send,
		sendCandidate: sendCandidate,
		gatherTimeout: gatherTimeout,
		metrics:       m,
	}
}

// SetPolite records the politeness assigned by the signaling server.
func (c *Controller) SetPolite(polite bool) {
	c.mu.Lock()
	c.polite = polite
	c.mu.Unlock()
}

func (c *Controller) Polite() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.polite
}

// Negotiate creates and sends an offer. A call made while another offer is
// in flight is dropped; the in-flight negotiation already covers it. Set
// iceRestart to renegotiate after an ICE failure.
func (c *Controller) Negotiate(ctx context.Context, iceRestart bool) error {
	c.mu.Lock()
	if c.makingOffer {
		c.mu.Unlock()
		c.logger.Debug("negotiate skipped, offer already in flight")
		return nil
	}
	c.makingOffer = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.makingOffer = false
		c.mu.Unlock()
	}()

	var opts *webrtc.OfferOptions
	if iceRestart {
		opts = &webrtc.OfferOptions{ICERestart: true}
		if c.metrics != nil {
			c.metrics.Inc(metrics.ICERestarts)
		}
	}

	offer, err := c.pc.CreateOffer(opts)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local offer: %w", err)
	}
	c.waitForGathering(ctx)

	desc := c.pc.LocalDescription()
	if desc == nil {
		return fmt.Errorf("no local description after offer")
	}
	c.logger.Info("sending offer", slog.Bool("ice_restart", iceRestart))
	return c.send(*desc)
}

// HandleOffer applies a remote offer and replies with an answer. politeHint,
// when present, overrides the stored politeness for this and later offers.
// A colliding offer on an impolite peer is ignored.
func (c *Controller) HandleOffer(ctx context.Context, offer webrtc.SessionDescription, politeHint *bool) error {
	c.mu.Lock()
	if politeHint != nil {
		c.polite = *politeHint
	}
	collision := c.makingOffer || c.pc.SignalingState() != webrtc.SignalingStateStable
	c.ignoreOffer = !c.polite && collision
	if c.ignoreOffer {
		c.mu.Unlock()
		c.logger.Info("ignoring colliding offer (impolite)")
		if c.metrics != nil {
			c.metrics.Inc(metrics.OffersIgnored)
		}
		return nil
	}
	c.mu.Unlock()

	if err := c.pc.SetRemoteDescription(offer); err != nil {
		return fmt.Errorf("set remote offer: %w", err)
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("set local answer: %w", err)
	}
	c.waitForGathering(ctx)

	desc := c.pc.LocalDescription()
	if desc == nil {
		return fmt.Errorf("no local description after answer")
	}
	c.logger.Info("sending answer")
	return c.send(*desc)
}

// HandleAnswer applies a remote answer. Answers arriving with no offer
// outstanding are stale (for example after a collision was resolved against
// us) and are dropped.
func (c *Controller) HandleAnswer(answer webrtc.SessionDescription) error {
	if c.pc.SignalingState() != webrtc.SignalingStateHaveLocalOffer {
		c.logger.Warn("dropping stale answer",
			slog.String("signaling_state", c.pc.SignalingState().String()))
		if c.metrics != nil {
			c.metrics.Inc(metrics.StaleAnswersDropped)
		}
		return nil
	}
	if err := c.pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("set remote answer: %w", err)
	}
	return nil
}

// HandleCandidate adds a remote ICE candidate. Failures while an offer is
// being ignored are expected (the candidate belongs to the discarded offer)
// and are suppressed.
func (c *Controller) HandleCandidate(candidate webrtc.ICECandidateInit) error {
	if err := c.pc.AddICECandidate(candidate); err != nil {
		c.mu.Lock()
		ignoring := c.ignoreOffer
		c.mu.Unlock()
		if ignoring {
			c.logger.Debug("suppressing candidate failure during ignored offer",
				slog.String("err", err.Error()))
			if c.metrics != nil {
				c.metrics.Inc(metrics.CandidatesSuppressed)
			}
			return nil
		}
		return fmt.Errorf("add ice candidate: %w", err)
	}
	return nil
}

// HandleLocalCandidate forwards a locally gathered candidate to the remote
// peer. Candidates are only trickled when the last description went out
// before gathering finished; a complete description already carries them.
func (c *Controller) HandleLocalCandidate(candidate webrtc.ICECandidateInit) error {
	c.mu.Lock()
	trickle := c.trickling
	c.mu.Unlock()
	if !trickle || c.sendCandidate == nil {
		return nil
	}
	c.logger.Debug("trickling late candidate")
	return c.sendCandidate(candidate)
}

// waitForGathering blocks until ICE gathering completes, the timeout lapses,
// or ctx is canceled. Sending a partial description is preferable to never
// sending one; candidates that arrive after an incomplete wait go out via
// HandleLocalCandidate.
func (c *Controller) waitForGathering(ctx context.Context) {
	complete := true
	if c.gatherTimeout <= 0 {
		<-c.pc.GatheringComplete()
	} else {
		timer := time.NewTimer(c.gatherTimeout)
		defer timer.Stop()
		select {
		case <-c.pc.GatheringComplete():
		case <-timer.C:
			complete = false
			c.logger.Warn("ice gathering incomplete, sending partial description",
				slog.Duration("timeout", c.gatherTimeout))
		case <-ctx.Done():
			complete = false
			c.logger.Warn("ice gathering interrupted", slog.String("err", ctx.Err().Error()))
		}
	}
	c.mu.Lock()
	c.trickling = !complete
	c.mu.Unlock()
}

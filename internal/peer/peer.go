// Package peer builds pion WebRTC APIs and wraps peer connections with the
// small surface the negotiation layer needs.
package peer

import (
	"fmt"
	"sync"

	"log/slog"

	"github.com/pion/webrtc/v4"
)

type Options struct {
	Logger *slog.Logger

	// Optional ephemeral UDP port range for ICE sockets.
	UDPPortMin uint16
	UDPPortMax uint16
}

// NewAPI builds a webrtc.API with pion's internal logging routed to slog.
func NewAPI(opts Options) (*webrtc.API, error) {
	se := webrtc.SettingEngine{
		LoggerFactory: NewLoggerFactory(opts.Logger),
	}
	if opts.UDPPortMin != 0 || opts.UDPPortMax != 0 {
		if err := se.SetEphemeralUDPPortRange(opts.UDPPortMin, opts.UDPPortMax); err != nil {
			return nil, fmt.Errorf("set ephemeral udp port range: %w", err)
		}
	}
	return webrtc.NewAPI(webrtc.WithSettingEngine(se)), nil
}

// Conn adapts *webrtc.PeerConnection for the negotiation layer, tracking a
// gathering-complete promise per local description.
type Conn struct {
	pc *webrtc.PeerConnection

	mu     sync.Mutex
	gather <-chan struct{}
}

func NewConn(pc *webrtc.PeerConnection) *Conn {
	return &Conn{pc: pc}
}

func (c *Conn) PeerConnection() *webrtc.PeerConnection { return c.pc }

func (c *Conn) CreateOffer(options *webrtc.OfferOptions) (webrtc.SessionDescription, error) {
	return c.pc.CreateOffer(options)
}

func (c *Conn) CreateAnswer(options *webrtc.AnswerOptions) (webrtc.SessionDescription, error) {
	return c.pc.CreateAnswer(options)
}

// SetLocalDescription arms a fresh gathering-complete promise before
// applying the description; the promise must be created first or the
// completion event can be missed.
func (c *Conn) SetLocalDescription(desc webrtc.SessionDescription) error {
	promise := webrtc.GatheringCompletePromise(c.pc)
	if err := c.pc.SetLocalDescription(desc); err != nil {
		return err
	}
	c.mu.Lock()
	c.gather = promise
	c.mu.Unlock()
	return nil
}

func (c *Conn) SetRemoteDescription(desc webrtc.SessionDescription) error {
	return c.pc.SetRemoteDescription(desc)
}

func (c *Conn) LocalDescription() *webrtc.SessionDescription {
	return c.pc.LocalDescription()
}

func (c *Conn) SignalingState() webrtc.SignalingState {
	return c.pc.SignalingState()
}

func (c *Conn) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(candidate)
}

// GatheringComplete returns the promise for the current local description,
// or an already-closed channel when no description has been set.
func (c *Conn) GatheringComplete() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gather == nil {
		done := make(chan struct{})
		close(done)
		return done
	}
	return c.gather
}

func (c *Conn) Close() error { return c.pc.Close() }

package negotiation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/snowball-robotics/roverlink/internal/metrics"
)

// fakePC is a scripted PeerConnection implementing the signaling-state
// transitions the controller depends on.
type fakePC struct {
	mu sync.Mutex

	state  webrtc.SignalingState
	local  *webrtc.SessionDescription
	remote *webrtc.SessionDescription

	gather chan struct{}

	blockOffer      chan struct{} // CreateOffer blocks until closed, if set
	addCandidateErr error

	offerOpts  []*webrtc.OfferOptions
	candidates []webrtc.ICECandidateInit
}

func newFakePC() *fakePC {
	gather := make(chan struct{})
	close(gather)
	return &fakePC{state: webrtc.SignalingStateStable, gather: gather}
}

func (f *fakePC) CreateOffer(options *webrtc.OfferOptions) (webrtc.SessionDescription, error) {
	f.mu.Lock()
	f.offerOpts = append(f.offerOpts, options)
	block := f.blockOffer
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 offer"}, nil
}

func (f *fakePC) CreateAnswer(*webrtc.AnswerOptions) (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 answer"}, nil
}

func (f *fakePC) SetLocalDescription(desc webrtc.SessionDescription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.local = &desc
	if desc.Type == webrtc.SDPTypeOffer {
		f.state = webrtc.SignalingStateHaveLocalOffer
	} else {
		f.state = webrtc.SignalingStateStable
	}
	return nil
}

func (f *fakePC) SetRemoteDescription(desc webrtc.SessionDescription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.remote = &desc
	if desc.Type == webrtc.SDPTypeOffer {
		f.state = webrtc.SignalingStateHaveRemoteOffer
	} else {
		f.state = webrtc.SignalingStateStable
	}
	return nil
}

func (f *fakePC) LocalDescription() *webrtc.SessionDescription {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.local
}

func (f *fakePC) SignalingState() webrtc.SignalingState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakePC) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.addCandidateErr != nil {
		return f.addCandidateErr
	}
	f.candidates = append(f.candidates, candidate)
	return nil
}

func (f *fakePC) GatheringComplete() <-chan struct{} { return f.gather }

type sentRecorder struct {
	mu    sync.Mutex
	descs []webrtc.SessionDescription
	cands []webrtc.ICECandidateInit
}

func (r *sentRecorder) send(desc webrtc.SessionDescription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.descs = append(r.descs, desc)
	return nil
}

func (r *sentRecorder) sendCandidate(candidate webrtc.ICECandidateInit) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cands = append(r.cands, candidate)
	return nil
}

func (r *sentRecorder) sent() []webrtc.SessionDescription {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]webrtc.SessionDescription, len(r.descs))
	copy(out, r.descs)
	return out
}

func (r *sentRecorder) sentCandidates() []webrtc.ICECandidateInit {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]webrtc.ICECandidateInit, len(r.cands))
	copy(out, r.cands)
	return out
}

func newTestController(pc *fakePC, rec *sentRecorder, m *metrics.Metrics) *Controller {
	return NewController(nil, pc, rec.send, rec.sendCandidate, time.Second, m)
}

func TestNegotiate_SendsOffer(t *testing.T) {
	pc := newFakePC()
	rec := &sentRecorder{}
	c := newTestController(pc, rec, nil)

	if err := c.Negotiate(context.Background(), false); err != nil {
		t.Fatalf("Negotiate: %v", err)
	}

	sent := rec.sent()
	if len(sent) != 1 || sent[0].Type != webrtc.SDPTypeOffer {
		t.Fatalf("sent=%+v, want one offer", sent)
	}
	if len(pc.offerOpts) != 1 || pc.offerOpts[0] != nil {
		t.Fatalf("offerOpts=%+v, want one nil options", pc.offerOpts)
	}
}

func TestNegotiate_ICERestartSetsOption(t *testing.T) {
	pc := newFakePC()
	rec := &sentRecorder{}
	m := metrics.New()
	c := newTestController(pc, rec, m)

	if err := c.Negotiate(context.Background(), true); err != nil {
		t.Fatalf("Negotiate: %v", err)
	}
	if len(pc.offerOpts) != 1 || pc.offerOpts[0] == nil || !pc.offerOpts[0].ICERestart {
		t.Fatalf("offerOpts=%+v, want ICERestart=true", pc.offerOpts)
	}
	if got := m.Get(metrics.ICERestarts); got != 1 {
		t.Fatalf("ice_restarts=%d, want 1", got)
	}
}

func TestNegotiate_InFlightCallDropped(t *testing.T) {
	pc := newFakePC()
	pc.blockOffer = make(chan struct{})
	rec := &sentRecorder{}
	c := newTestController(pc, rec, nil)

	done := make(chan error, 1)
	go func() { done <- c.Negotiate(context.Background(), false) }()

	// Wait for the first call to enter CreateOffer.
	deadline := time.After(time.Second)
	for {
		pc.mu.Lock()
		started := len(pc.offerOpts) == 1
		pc.mu.Unlock()
		if started {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("first Negotiate never reached CreateOffer")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	// Second call must return immediately without creating an offer.
	if err := c.Negotiate(context.Background(), false); err != nil {
		t.Fatalf("re-entrant Negotiate: %v", err)
	}
	pc.mu.Lock()
	calls := len(pc.offerOpts)
	pc.mu.Unlock()
	if calls != 1 {
		t.Fatalf("CreateOffer called %d times, want 1", calls)
	}

	close(pc.blockOffer)
	if err := <-done; err != nil {
		t.Fatalf("first Negotiate: %v", err)
	}
	if sent := rec.sent(); len(sent) != 1 {
		t.Fatalf("sent %d descriptions, want 1", len(sent))
	}
}

func TestHandleOffer_AnswersWhenStable(t *testing.T) {
	pc := newFakePC()
	rec := &sentRecorder{}
	c := newTestController(pc, rec, nil)

	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 remote"}
	if err := c.HandleOffer(context.Background(), offer, nil); err != nil {
		t.Fatalf("HandleOffer: %v", err)
	}

	if pc.remote == nil || pc.remote.SDP != "v=0 remote" {
		t.Fatalf("remote=%+v, want the offer applied", pc.remote)
	}
	sent := rec.sent()
	if len(sent) != 1 || sent[0].Type != webrtc.SDPTypeAnswer {
		t.Fatalf("sent=%+v, want one answer", sent)
	}
}

func TestHandleOffer_CollisionImpoliteIgnores(t *testing.T) {
	pc := newFakePC()
	pc.state = webrtc.SignalingStateHaveLocalOffer
	rec := &sentRecorder{}
	m := metrics.New()
	c := newTestController(pc, rec, m)
	c.SetPolite(false)

	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 remote"}
	if err := c.HandleOffer(context.Background(), offer, nil); err != nil {
		t.Fatalf("HandleOffer: %v", err)
	}

	if pc.remote != nil {
		t.Fatalf("remote=%+v, want colliding offer ignored", pc.remote)
	}
	if len(rec.sent()) != 0 {
		t.Fatalf("sent=%+v, want nothing", rec.sent())
	}
	if got := m.Get(metrics.OffersIgnored); got != 1 {
		t.Fatalf("offers_ignored=%d, want 1", got)
	}
}

func TestHandleOffer_CollisionPoliteYields(t *testing.T) {
	pc := newFakePC()
	pc.state = webrtc.SignalingStateHaveLocalOffer
	rec := &sentRecorder{}
	c := newTestController(pc, rec, nil)
	c.SetPolite(true)

	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 remote"}
	if err := c.HandleOffer(context.Background(), offer, nil); err != nil {
		t.Fatalf("HandleOffer: %v", err)
	}

	if pc.remote == nil {
		t.Fatalf("polite peer must accept the colliding offer")
	}
	sent := rec.sent()
	if len(sent) != 1 || sent[0].Type != webrtc.SDPTypeAnswer {
		t.Fatalf("sent=%+v, want one answer", sent)
	}
}

func TestHandleOffer_PoliteHintOverridesRole(t *testing.T) {
	pc := newFakePC()
	pc.state = webrtc.SignalingStateHaveLocalOffer
	rec := &sentRecorder{}
	c := newTestController(pc, rec, nil)
	c.SetPolite(false)

	polite := true
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 remote"}
	if err := c.HandleOffer(context.Background(), offer, &polite); err != nil {
		t.Fatalf("HandleOffer: %v", err)
	}
	if pc.remote == nil {
		t.Fatalf("hinted-polite peer must accept the colliding offer")
	}
	if !c.Polite() {
		t.Fatalf("polite hint must persist")
	}
}

func TestHandleAnswer_AppliedWithLocalOffer(t *testing.T) {
	pc := newFakePC()
	pc.state = webrtc.SignalingStateHaveLocalOffer
	c := newTestController(pc, &sentRecorder{}, nil)

	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 answer"}
	if err := c.HandleAnswer(answer); err != nil {
		t.Fatalf("HandleAnswer: %v", err)
	}
	if pc.remote == nil || pc.remote.Type != webrtc.SDPTypeAnswer {
		t.Fatalf("remote=%+v, want the answer applied", pc.remote)
	}
}

func TestHandleAnswer_StaleDropped(t *testing.T) {
	pc := newFakePC() // stable: no offer outstanding
	m := metrics.New()
	c := newTestController(pc, &sentRecorder{}, m)

	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 answer"}
	if err := c.HandleAnswer(answer); err != nil {
		t.Fatalf("HandleAnswer: %v", err)
	}
	if pc.remote != nil {
		t.Fatalf("remote=%+v, want stale answer dropped", pc.remote)
	}
	if got := m.Get(metrics.StaleAnswersDropped); got != 1 {
		t.Fatalf("stale_answers_dropped=%d, want 1", got)
	}
}

func TestHandleCandidate_AddsCandidate(t *testing.T) {
	pc := newFakePC()
	c := newTestController(pc, &sentRecorder{}, nil)

	if err := c.HandleCandidate(webrtc.ICECandidateInit{Candidate: "candidate:1"}); err != nil {
		t.Fatalf("HandleCandidate: %v", err)
	}
	if len(pc.candidates) != 1 {
		t.Fatalf("candidates=%d, want 1", len(pc.candidates))
	}
}

func TestHandleCandidate_FailureSuppressedWhileIgnoring(t *testing.T) {
	pc := newFakePC()
	pc.state = webrtc.SignalingStateHaveLocalOffer
	pc.addCandidateErr = errors.New("no remote description")
	m := metrics.New()
	c := newTestController(pc, &sentRecorder{}, m)
	c.SetPolite(false)

	// Enter the ignoring state via a colliding offer.
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 remote"}
	if err := c.HandleOffer(context.Background(), offer, nil); err != nil {
		t.Fatalf("HandleOffer: %v", err)
	}

	if err := c.HandleCandidate(webrtc.ICECandidateInit{Candidate: "candidate:1"}); err != nil {
		t.Fatalf("HandleCandidate while ignoring: %v", err)
	}
	if got := m.Get(metrics.CandidatesSuppressed); got != 1 {
		t.Fatalf("candidates_suppressed=%d, want 1", got)
	}
}

func TestHandleCandidate_FailurePropagatesWhenNotIgnoring(t *testing.T) {
	pc := newFakePC()
	pc.addCandidateErr = errors.New("bad candidate")
	c := newTestController(pc, &sentRecorder{}, nil)

	if err := c.HandleCandidate(webrtc.ICECandidateInit{Candidate: "candidate:1"}); err == nil {
		t.Fatalf("expected candidate failure to propagate")
	}
}

func TestWaitForGathering_TimesOut(t *testing.T) {
	pc := newFakePC()
	pc.gather = make(chan struct{}) // never closes
	rec := &sentRecorder{}
	c := NewController(nil, pc, rec.send, rec.sendCandidate, 20*time.Millisecond, nil)

	start := time.Now()
	if err := c.Negotiate(context.Background(), false); err != nil {
		t.Fatalf("Negotiate: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("Negotiate blocked %v, want timeout around 20ms", elapsed)
	}
	if sent := rec.sent(); len(sent) != 1 {
		t.Fatalf("sent %d descriptions, want partial offer sent anyway", len(sent))
	}
}

func TestHandleLocalCandidate_TrickledAfterPartialGathering(t *testing.T) {
	pc := newFakePC()
	pc.gather = make(chan struct{}) // never closes
	rec := &sentRecorder{}
	c := NewController(nil, pc, rec.send, rec.sendCandidate, 20*time.Millisecond, nil)

	if err := c.Negotiate(context.Background(), false); err != nil {
		t.Fatalf("Negotiate: %v", err)
	}

	init := webrtc.ICECandidateInit{Candidate: "candidate:late"}
	if err := c.HandleLocalCandidate(init); err != nil {
		t.Fatalf("HandleLocalCandidate: %v", err)
	}
	cands := rec.sentCandidates()
	if len(cands) != 1 || cands[0].Candidate != "candidate:late" {
		t.Fatalf("candidates=%+v, want the late candidate trickled", cands)
	}
}

func TestHandleLocalCandidate_DroppedWhenGatheringCompleted(t *testing.T) {
	pc := newFakePC() // gathering already complete
	rec := &sentRecorder{}
	c := newTestController(pc, rec, nil)

	if err := c.Negotiate(context.Background(), false); err != nil {
		t.Fatalf("Negotiate: %v", err)
	}

	if err := c.HandleLocalCandidate(webrtc.ICECandidateInit{Candidate: "candidate:1"}); err != nil {
		t.Fatalf("HandleLocalCandidate: %v", err)
	}
	if cands := rec.sentCandidates(); len(cands) != 0 {
		t.Fatalf("candidates=%+v, want none; the complete offer already carried them", cands)
	}
}

package signaling

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/pion/webrtc/v4"
)

type MessageType string

const (
	TypeRoomJoin  MessageType = "room:join"
	TypeRoomRole  MessageType = "room:role"
	TypePeerReady MessageType = "peer:ready"
	TypePeerLeft  MessageType = "peer:left"
	TypeOffer     MessageType = "signal:offer"
	TypeAnswer    MessageType = "signal:answer"
	TypeCandidate MessageType = "signal:candidate"
)

type SDP struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

func SDPFromPion(desc webrtc.SessionDescription) SDP {
	return SDP{
		Type: desc.Type.String(),
		SDP:  desc.SDP,
	}
}

func (s SDP) ToPion() (webrtc.SessionDescription, error) {
	var t webrtc.SDPType
	switch s.Type {
	case "offer":
		t = webrtc.SDPTypeOffer
	case "answer":
		t = webrtc.SDPTypeAnswer
	default:
		return webrtc.SessionDescription{}, fmt.Errorf("unsupported sdp type %q", s.Type)
	}
	return webrtc.SessionDescription{Type: t, SDP: s.SDP}, nil
}

type Candidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

func CandidateFromPion(init webrtc.ICECandidateInit) Candidate {
	return Candidate{
		Candidate:        init.Candidate,
		SDPMid:           init.SDPMid,
		SDPMLineIndex:    init.SDPMLineIndex,
		UsernameFragment: init.UsernameFragment,
	}
}

func (c Candidate) ToPion() webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}

// Message is the signaling envelope. Offers and answers carry SDP and the
// room id; room:role carries the flat initiator/polite flags; offers may
// additionally carry a polite hint for the receiver. From identifies the
// sender on shared-topic transports so peers can drop their own echoes.
type Message struct {
	Type      MessageType `json:"type"`
	RoomID    string      `json:"roomId,omitempty"`
	SDP       *SDP        `json:"sdp,omitempty"`
	Candidate *Candidate  `json:"candidate,omitempty"`

	Initiator *bool `json:"initiator,omitempty"`
	Polite    *bool `json:"polite,omitempty"`

	From string `json:"from,omitempty"`
}

func ParseMessage(data []byte) (Message, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var msg Message
	if err := dec.Decode(&msg); err != nil {
		return Message{}, err
	}
	if err := msg.Validate(); err != nil {
		return Message{}, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return Message{}, fmt.Errorf("unexpected trailing data")
	}
	return msg, nil
}

func (m Message) Validate() error {
	switch m.Type {
	case TypeRoomJoin:
		if m.RoomID == "" {
			return fmt.Errorf("room:join message missing roomId")
		}
		if m.SDP != nil || m.Candidate != nil || m.Initiator != nil || m.Polite != nil {
			return fmt.Errorf("room:join message has unexpected fields")
		}
	case TypeRoomRole:
		if m.Initiator == nil || m.Polite == nil {
			return fmt.Errorf("room:role message missing initiator/polite")
		}
		if m.SDP != nil || m.Candidate != nil || m.RoomID != "" {
			return fmt.Errorf("room:role message has unexpected fields")
		}
	case TypePeerReady, TypePeerLeft:
		if m.SDP != nil || m.Candidate != nil || m.Initiator != nil || m.Polite != nil || m.RoomID != "" {
			return fmt.Errorf("%s message has unexpected fields", m.Type)
		}
	case TypeOffer:
		if m.SDP == nil {
			return fmt.Errorf("offer message missing sdp")
		}
		if m.SDP.Type != "offer" {
			return fmt.Errorf("offer message has sdp.type=%q", m.SDP.Type)
		}
		if m.Candidate != nil || m.Initiator != nil {
			return fmt.Errorf("offer message has unexpected fields")
		}
	case TypeAnswer:
		if m.SDP == nil {
			return fmt.Errorf("answer message missing sdp")
		}
		if m.SDP.Type != "answer" {
			return fmt.Errorf("answer message has sdp.type=%q", m.SDP.Type)
		}
		if m.Candidate != nil || m.Initiator != nil || m.Polite != nil {
			return fmt.Errorf("answer message has unexpected fields")
		}
	case TypeCandidate:
		if m.Candidate == nil {
			return fmt.Errorf("candidate message missing candidate")
		}
		if m.SDP != nil || m.Initiator != nil || m.Polite != nil || m.RoomID != "" {
			return fmt.Errorf("candidate message has unexpected fields")
		}
	default:
		return fmt.Errorf("unsupported message type %q", m.Type)
	}
	return nil
}

// Encode marshals a validated message for the wire.
func (m Message) Encode() ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(m)
}

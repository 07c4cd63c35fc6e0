// Package signaling defines the room-based signaling protocol and the
// session that dispatches inbound messages to the negotiation layer. The
// wire transport is pluggable (see the wschannel and mqttchannel
// subpackages).
package signaling

// Channel is a bidirectional signaling transport. Implementations own
// reconnection; Messages stays open across reconnects and is closed only
// when the channel shuts down for good.
type Channel interface {
	Send(msg Message) error
	Messages() <-chan Message
	Close() error
}

// Package mqttchannel implements the signaling Channel over an MQTT broker.
// Both peers in a room share one topic, so every outbound message is tagged
// with the client id and inbound echoes of our own messages are dropped.
// Reconnection and resubscription are delegated to the paho client.
package mqttchannel

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/snowball-robotics/roverlink/internal/metrics"
	"github.com/snowball-robotics/roverlink/internal/signaling"
)

const (
	connectTimeout    = 10 * time.Second
	publishTimeout    = 5 * time.Second
	disconnectQuiesce = 250 // milliseconds, paho's own unit
	qosAtLeastOnce    = 1
)

type Config struct {
	// BrokerURL is a paho broker URL, e.g. tcp://broker:1883 or wss://....
	BrokerURL string

	// ClientID identifies this peer; it doubles as the From tag.
	ClientID string

	// TopicPrefix is joined with the room id to form the shared topic.
	TopicPrefix string

	RoomID string

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

type Channel struct {
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	topic   string

	client mqtt.Client

	msgs chan signaling.Message
	done chan struct{}

	// mu serializes inbound delivery against Close so the msgs channel is
	// never written after it is closed.
	mu     sync.Mutex
	closed bool
}

var _ signaling.Channel = (*Channel)(nil)

// Dial connects to the broker and subscribes to the room topic. The paho
// client auto-reconnects; the OnConnect hook resubscribes after every
// reconnect.
func Dial(cfg Config) (*Channel, error) {
	if cfg.BrokerURL == "" {
		return nil, fmt.Errorf("mqttchannel: missing broker url")
	}
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("mqttchannel: missing client id")
	}
	if cfg.RoomID == "" {
		return nil, fmt.Errorf("mqttchannel: missing room id")
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "roverlink/signaling"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Channel{
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "mqttchannel")),
		metrics: cfg.Metrics,
		topic:   cfg.TopicPrefix + "/" + cfg.RoomID,
		msgs:    make(chan signaling.Message, 16),
		done:    make(chan struct{}),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.BrokerURL)
	opts.SetClientID(cfg.ClientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		c.logger.Warn("mqtt connection lost", slog.String("err", err.Error()))
	})
	opts.SetOnConnectHandler(func(client mqtt.Client) {
		if token := client.Subscribe(c.topic, qosAtLeastOnce, c.handleInbound); token.Wait() && token.Error() != nil {
			c.logger.Error("mqtt subscribe failed",
				slog.String("topic", c.topic),
				slog.String("err", token.Error().Error()))
			return
		}
		select {
		case <-c.done:
		default:
			if c.metrics != nil {
				c.metrics.Inc(metrics.SignalingReconnects)
			}
			c.logger.Info("mqtt subscribed", slog.String("topic", c.topic))
		}
	})

	c.client = mqtt.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("mqttchannel: connect to %s timed out", cfg.BrokerURL)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqttchannel: connect to %s: %w", cfg.BrokerURL, err)
	}
	return c, nil
}

// handleInbound parses a broker message and forwards it unless it is our
// own echo.
func (c *Channel) handleInbound(_ mqtt.Client, m mqtt.Message) {
	msg, err := signaling.ParseMessage(m.Payload())
	if err != nil {
		c.logger.Warn("dropping malformed signaling message", slog.String("err", err.Error()))
		return
	}
	if msg.From == c.cfg.ClientID {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.msgs <- msg:
	default:
		c.logger.Warn("signaling inbox full, dropping message", slog.String("type", string(msg.Type)))
	}
}

// Send tags the message with this client's id and publishes it at QoS 1.
func (c *Channel) Send(msg signaling.Message) error {
	msg.From = c.cfg.ClientID
	data, err := msg.Encode()
	if err != nil {
		return err
	}

	select {
	case <-c.done:
		return fmt.Errorf("mqttchannel: closed")
	default:
	}

	token := c.client.Publish(c.topic, qosAtLeastOnce, false, data)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("mqttchannel: publish timed out")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqttchannel: publish: %w", err)
	}
	return nil
}

func (c *Channel) Messages() <-chan signaling.Message { return c.msgs }

func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.msgs)
	c.mu.Unlock()

	close(c.done)
	if c.client != nil && c.client.IsConnected() {
		if token := c.client.Unsubscribe(c.topic); token.WaitTimeout(publishTimeout) {
			_ = token.Error()
		}
		c.client.Disconnect(disconnectQuiesce)
	}
	return nil
}

// Package config loads the rover's configuration from environment
// variables and command-line flags. Env values become flag defaults, so
// flags always win when both are set.
package config

import (
	"flag"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
)

const (
	envVarSignalingURL       = "ROVERLINK_SIGNALING_URL"
	envVarSignalingTransport = "ROVERLINK_SIGNALING_TRANSPORT"
	envVarRoomID             = "ROVERLINK_ROOM_ID"
	envVarMode               = "ROVERLINK_MODE"
	envVarLogFormat          = "ROVERLINK_LOG_FORMAT"
	envVarLogLevel           = "ROVERLINK_LOG_LEVEL"
	envVarShutdownTimeout    = "ROVERLINK_SHUTDOWN_TIMEOUT"

	envVarICEGatheringTimeout = "ROVERLINK_ICE_GATHERING_TIMEOUT"

	// Control pipeline knobs.
	envVarControlIdleStopTimeout    = "ROVERLINK_CONTROL_IDLE_STOP_TIMEOUT"
	envVarMaxControlFramesPerSecond = "ROVERLINK_MAX_CONTROL_FRAMES_PER_SECOND"

	// Actuator backend selection.
	envVarActuator        = "ROVERLINK_ACTUATOR"
	envVarPigpioAddr      = "ROVERLINK_PIGPIO_ADDR"
	envVarESCGPIOPin      = "ROVERLINK_ESC_GPIO_PIN"
	envVarSteeringGPIOPin = "ROVERLINK_STEERING_GPIO_PIN"

	// MQTT signaling transport.
	envVarMQTTBrokerURL   = "ROVERLINK_MQTT_BROKER_URL"
	envVarMQTTClientID    = "ROVERLINK_MQTT_CLIENT_ID"
	envVarMQTTTopicPrefix = "ROVERLINK_MQTT_TOPIC_PREFIX"

	// Signaling reconnect backoff bounds (WebSocket transport).
	envVarSignalingReconnectMinDelay = "ROVERLINK_SIGNALING_RECONNECT_MIN_DELAY"
	envVarSignalingReconnectMaxDelay = "ROVERLINK_SIGNALING_RECONNECT_MAX_DELAY"

	DefaultShutdown                        = 10 * time.Second
	DefaultICEGatherTimeout                = 5 * time.Second
	DefaultControlIdleStopTimeout          = 500 * time.Millisecond
	DefaultMaxControlFramesPerSecond int64 = 200
	DefaultMode                      Mode  = ModeDev

	DefaultPigpioAddr      = "localhost:8888"
	DefaultESCGPIOPin      = 18
	DefaultSteeringGPIOPin = 13

	DefaultMQTTTopicPrefix = "roverlink/signaling"

	DefaultSignalingReconnectMinDelay = time.Second
	DefaultSignalingReconnectMaxDelay = 30 * time.Second
)

const (
	envVarWebRTCUDPPortMin = "ROVERLINK_WEBRTC_UDP_PORT_MIN"
	envVarWebRTCUDPPortMax = "ROVERLINK_WEBRTC_UDP_PORT_MAX"
)

const (
	flagWebRTCUDPPortMin = "webrtc-udp-port-min"
	flagWebRTCUDPPortMax = "webrtc-udp-port-max"
)

type Mode string

const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

type SignalingTransport string

const (
	SignalingTransportWS   SignalingTransport = "ws"
	SignalingTransportMQTT SignalingTransport = "mqtt"
)

type ActuatorBackend string

const (
	ActuatorSim    ActuatorBackend = "sim"
	ActuatorPigpio ActuatorBackend = "pigpio"
)

type UDPPortRange struct {
	Min uint16
	Max uint16
}

type Config struct {
	// SignalingURL is the WebSocket signaling server URL (ws:// or wss://).
	// Required for the ws transport, ignored for mqtt.
	SignalingURL       string
	SignalingTransport SignalingTransport

	// RoomID is the room both peers join; typically the vehicle's name.
	RoomID string

	LogFormat       LogFormat
	LogLevel        slog.Level
	Mode            Mode
	ShutdownTimeout time.Duration

	// ICEGatheringTimeout bounds how long to wait for candidate gathering
	// before a local description is sent without the full set.
	ICEGatheringTimeout time.Duration

	// ControlIdleStopTimeout stops the vehicle when no control frame has
	// arrived for this long. Zero disables the watchdog.
	ControlIdleStopTimeout time.Duration

	// MaxControlFramesPerSecond caps the inbound frame rate. Zero disables
	// limiting.
	MaxControlFramesPerSecond int64

	Actuator        ActuatorBackend
	PigpioAddr      string
	ESCGPIOPin      uint32
	SteeringGPIOPin uint32

	MQTTBrokerURL   string
	MQTTClientID    string
	MQTTTopicPrefix string

	SignalingReconnectMinDelay time.Duration
	SignalingReconnectMaxDelay time.Duration

	// WebRTCUDPPortRange restricts the UDP ports used for ICE. When nil,
	// pion uses OS ephemeral port selection.
	WebRTCUDPPortRange *UDPPortRange

	ICEServers []webrtc.ICEServer

	iceConfigErr error
}

// ICEConfigError reports a deferred ICE server configuration error. A bad
// ICE config should not prevent startup on a LAN where host candidates
// suffice, so it is surfaced here instead of failing Load.
func (c Config) ICEConfigError() error {
	return c.iceConfigErr
}

func Load(args []string) (Config, error) {
	return load(os.LookupEnv, args)
}

func load(lookup func(string) (string, bool), args []string) (Config, error) {
	envMode, _ := lookup(envVarMode)
	modeDefault := string(DefaultMode)
	if envMode != "" {
		modeDefault = envMode
	}

	envLogFormat, envLogFormatOK := lookup(envVarLogFormat)
	envLogFormatSet := envLogFormatOK && envLogFormat != ""
	logFormatDefault := envLogFormat
	if !envLogFormatSet {
		logFormatDefault = defaultLogFormatForMode(modeDefault)
	}

	envLogLevel, envLogLevelOK := lookup(envVarLogLevel)
	envLogLevelSet := envLogLevelOK && envLogLevel != ""
	logLevelDefault := envLogLevel
	if !envLogLevelSet {
		logLevelDefault = defaultLogLevelForMode(modeDefault)
	}

	signalingURL := envOrDefault(lookup, envVarSignalingURL, "")
	transportStr := envOrDefault(lookup, envVarSignalingTransport, string(SignalingTransportWS))
	roomID := envOrDefault(lookup, envVarRoomID, "")
	actuatorStr := envOrDefault(lookup, envVarActuator, string(ActuatorSim))
	pigpioAddr := envOrDefault(lookup, envVarPigpioAddr, DefaultPigpioAddr)
	mqttBrokerURL := envOrDefault(lookup, envVarMQTTBrokerURL, "")
	mqttClientID := envOrDefault(lookup, envVarMQTTClientID, "")
	mqttTopicPrefix := envOrDefault(lookup, envVarMQTTTopicPrefix, DefaultMQTTTopicPrefix)
	iceServersJSON := envOrDefault(lookup, envICEServersJSON, "")
	stunURLs := envOrDefault(lookup, envStunURLs, "")
	turnURLs := envOrDefault(lookup, envTurnURLs, "")
	turnUsername := envOrDefault(lookup, envTurnUsername, "")
	turnCredential := envOrDefault(lookup, envTurnCredential, "")

	shutdownTimeout := DefaultShutdown
	if raw, ok := lookup(envVarShutdownTimeout); ok && strings.TrimSpace(raw) != "" {
		d, err := time.ParseDuration(strings.TrimSpace(raw))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarShutdownTimeout, raw, err)
		}
		shutdownTimeout = d
	}

	iceGatherTimeout := DefaultICEGatherTimeout
	if raw, ok := lookup(envVarICEGatheringTimeout); ok && strings.TrimSpace(raw) != "" {
		d, err := time.ParseDuration(strings.TrimSpace(raw))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarICEGatheringTimeout, raw, err)
		}
		iceGatherTimeout = d
	}

	controlIdleStopTimeout := DefaultControlIdleStopTimeout
	if raw, ok := lookup(envVarControlIdleStopTimeout); ok && strings.TrimSpace(raw) != "" {
		d, err := time.ParseDuration(strings.TrimSpace(raw))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarControlIdleStopTimeout, raw, err)
		}
		controlIdleStopTimeout = d
	}

	maxControlFramesPerSecond := DefaultMaxControlFramesPerSecond
	if raw, ok := lookup(envVarMaxControlFramesPerSecond); ok && strings.TrimSpace(raw) != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarMaxControlFramesPerSecond, raw, err)
		}
		maxControlFramesPerSecond = n
	}

	escPin, err := envIntOrDefault(lookup, envVarESCGPIOPin, DefaultESCGPIOPin)
	if err != nil {
		return Config{}, err
	}
	steeringPin, err := envIntOrDefault(lookup, envVarSteeringGPIOPin, DefaultSteeringGPIOPin)
	if err != nil {
		return Config{}, err
	}

	reconnectMinDelay := DefaultSignalingReconnectMinDelay
	if raw, ok := lookup(envVarSignalingReconnectMinDelay); ok && strings.TrimSpace(raw) != "" {
		d, err := time.ParseDuration(strings.TrimSpace(raw))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarSignalingReconnectMinDelay, raw, err)
		}
		reconnectMinDelay = d
	}
	reconnectMaxDelay := DefaultSignalingReconnectMaxDelay
	if raw, ok := lookup(envVarSignalingReconnectMaxDelay); ok && strings.TrimSpace(raw) != "" {
		d, err := time.ParseDuration(strings.TrimSpace(raw))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarSignalingReconnectMaxDelay, raw, err)
		}
		reconnectMaxDelay = d
	}

	var webrtcUDPPortMin uint
	if raw, ok := lookup(envVarWebRTCUDPPortMin); ok && strings.TrimSpace(raw) != "" {
		p, err := parsePortString(raw)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarWebRTCUDPPortMin, raw, err)
		}
		webrtcUDPPortMin = uint(p)
	}
	var webrtcUDPPortMax uint
	if raw, ok := lookup(envVarWebRTCUDPPortMax); ok && strings.TrimSpace(raw) != "" {
		p, err := parsePortString(raw)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarWebRTCUDPPortMax, raw, err)
		}
		webrtcUDPPortMax = uint(p)
	}

	fs := flag.NewFlagSet("roverlink", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var (
		modeStr      string
		logFormatStr string
		logLevelStr  string
	)

	fs.StringVar(&signalingURL, "signaling-url", signalingURL, "Signaling WebSocket URL (ws:// or wss://; env "+envVarSignalingURL+")")
	fs.StringVar(&transportStr, "signaling-transport", transportStr, "Signaling transport: ws or mqtt (env "+envVarSignalingTransport+")")
	fs.StringVar(&roomID, "room-id", roomID, "Signaling room to join (env "+envVarRoomID+")")
	fs.StringVar(&modeStr, "mode", modeDefault, "Run mode: dev or prod")
	fs.StringVar(&logFormatStr, "log-format", logFormatDefault, "Log format: text or json")
	fs.StringVar(&logLevelStr, "log-level", logLevelDefault, "Log level: debug, info, warn, error")
	fs.DurationVar(&shutdownTimeout, "shutdown-timeout", shutdownTimeout, "Graceful shutdown timeout (e.g. 10s)")
	fs.DurationVar(&iceGatherTimeout, "ice-gather-timeout", iceGatherTimeout, "Max time to wait for ICE gathering before sending a partial description (env "+envVarICEGatheringTimeout+")")
	fs.DurationVar(&controlIdleStopTimeout, "control-idle-stop-timeout", controlIdleStopTimeout, "Stop the vehicle when no control frame arrives for this long; 0 disables (env "+envVarControlIdleStopTimeout+")")
	fs.Int64Var(&maxControlFramesPerSecond, "max-control-frames-per-second", maxControlFramesPerSecond, "Inbound control frame rate cap; 0 disables (env "+envVarMaxControlFramesPerSecond+")")
	fs.StringVar(&actuatorStr, "actuator", actuatorStr, "Actuator backend: sim or pigpio (env "+envVarActuator+")")
	fs.StringVar(&pigpioAddr, "pigpio-addr", pigpioAddr, "pigpiod daemon address (env "+envVarPigpioAddr+")")
	fs.IntVar(&escPin, "esc-gpio-pin", escPin, "BCM GPIO pin driving the ESC (env "+envVarESCGPIOPin+")")
	fs.IntVar(&steeringPin, "steering-gpio-pin", steeringPin, "BCM GPIO pin driving the steering servo (env "+envVarSteeringGPIOPin+")")
	fs.StringVar(&mqttBrokerURL, "mqtt-broker-url", mqttBrokerURL, "MQTT broker URL for the mqtt signaling transport (env "+envVarMQTTBrokerURL+")")
	fs.StringVar(&mqttClientID, "mqtt-client-id", mqttClientID, "MQTT client id; defaults to roverlink-<room-id> (env "+envVarMQTTClientID+")")
	fs.StringVar(&mqttTopicPrefix, "mqtt-topic-prefix", mqttTopicPrefix, "MQTT topic prefix for signaling (env "+envVarMQTTTopicPrefix+")")
	fs.DurationVar(&reconnectMinDelay, "signaling-reconnect-min-delay", reconnectMinDelay, "Initial signaling reconnect backoff (env "+envVarSignalingReconnectMinDelay+")")
	fs.DurationVar(&reconnectMaxDelay, "signaling-reconnect-max-delay", reconnectMaxDelay, "Max signaling reconnect backoff (env "+envVarSignalingReconnectMaxDelay+")")
	fs.UintVar(&webrtcUDPPortMin, flagWebRTCUDPPortMin, webrtcUDPPortMin, "Min UDP port for WebRTC ICE (0 = unset; env "+envVarWebRTCUDPPortMin+")")
	fs.UintVar(&webrtcUDPPortMax, flagWebRTCUDPPortMax, webrtcUDPPortMax, "Max UDP port for WebRTC ICE (0 = unset; env "+envVarWebRTCUDPPortMax+")")
	fs.StringVar(&iceServersJSON, "ice-servers-json", iceServersJSON, "ICE server JSON config ("+envICEServersJSON+")")
	fs.StringVar(&stunURLs, "stun-urls", stunURLs, "comma-separated STUN URLs ("+envStunURLs+")")
	fs.StringVar(&turnURLs, "turn-urls", turnURLs, "comma-separated TURN URLs ("+envTurnURLs+")")
	fs.StringVar(&turnUsername, "turn-username", turnUsername, "TURN username ("+envTurnUsername+")")
	fs.StringVar(&turnCredential, "turn-credential", turnCredential, "TURN credential ("+envTurnCredential+")")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	setFlags := map[string]bool{}
	fs.Visit(func(f *flag.Flag) {
		setFlags[f.Name] = true
	})

	mode, err := parseMode(modeStr)
	if err != nil {
		return Config{}, err
	}

	if !envLogFormatSet && !setFlags["log-format"] {
		logFormatStr = defaultLogFormatForMode(string(mode))
	}
	if !envLogLevelSet && !setFlags["log-level"] {
		logLevelStr = defaultLogLevelForMode(string(mode))
	}

	logFormat, err := parseLogFormat(logFormatStr)
	if err != nil {
		return Config{}, err
	}

	level, err := parseLogLevel(logLevelStr)
	if err != nil {
		return Config{}, err
	}

	transport, err := parseSignalingTransport(transportStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid %s/--signaling-transport %q: %w", envVarSignalingTransport, transportStr, err)
	}

	actuatorBackend, err := parseActuatorBackend(actuatorStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid %s/--actuator %q: %w", envVarActuator, actuatorStr, err)
	}

	if strings.TrimSpace(roomID) == "" {
		return Config{}, fmt.Errorf("%s/--room-id must be set", envVarRoomID)
	}
	roomID = strings.TrimSpace(roomID)

	if shutdownTimeout <= 0 {
		return Config{}, fmt.Errorf("%s/--shutdown-timeout must be > 0", envVarShutdownTimeout)
	}
	if iceGatherTimeout <= 0 {
		return Config{}, fmt.Errorf("%s/--ice-gather-timeout must be > 0", envVarICEGatheringTimeout)
	}
	if controlIdleStopTimeout < 0 {
		return Config{}, fmt.Errorf("%s/--control-idle-stop-timeout must be >= 0 (0 disables)", envVarControlIdleStopTimeout)
	}
	if maxControlFramesPerSecond < 0 {
		return Config{}, fmt.Errorf("%s/--max-control-frames-per-second must be >= 0 (0 disables)", envVarMaxControlFramesPerSecond)
	}
	if reconnectMinDelay <= 0 {
		return Config{}, fmt.Errorf("%s/--signaling-reconnect-min-delay must be > 0", envVarSignalingReconnectMinDelay)
	}
	if reconnectMaxDelay < reconnectMinDelay {
		return Config{}, fmt.Errorf("%s/--signaling-reconnect-max-delay must be >= %s", envVarSignalingReconnectMaxDelay, envVarSignalingReconnectMinDelay)
	}

	switch transport {
	case SignalingTransportWS:
		if strings.TrimSpace(signalingURL) == "" {
			return Config{}, fmt.Errorf("%s/--signaling-url must be set for the ws transport", envVarSignalingURL)
		}
		signalingURL = strings.TrimSpace(signalingURL)
		u, err := url.Parse(signalingURL)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s/--signaling-url %q: %w", envVarSignalingURL, signalingURL, err)
		}
		scheme := strings.ToLower(u.Scheme)
		if scheme != "ws" && scheme != "wss" {
			return Config{}, fmt.Errorf("invalid %s/--signaling-url %q (expected ws:// or wss://)", envVarSignalingURL, signalingURL)
		}
		if u.Host == "" {
			return Config{}, fmt.Errorf("invalid %s/--signaling-url %q (missing host)", envVarSignalingURL, signalingURL)
		}
	case SignalingTransportMQTT:
		if strings.TrimSpace(mqttBrokerURL) == "" {
			return Config{}, fmt.Errorf("%s/--mqtt-broker-url must be set for the mqtt transport", envVarMQTTBrokerURL)
		}
		mqttBrokerURL = strings.TrimSpace(mqttBrokerURL)
	}

	if strings.TrimSpace(mqttClientID) == "" {
		mqttClientID = "roverlink-" + roomID
	}
	if strings.TrimSpace(mqttTopicPrefix) == "" {
		return Config{}, fmt.Errorf("%s/--mqtt-topic-prefix must not be empty", envVarMQTTTopicPrefix)
	}

	if actuatorBackend == ActuatorPigpio && strings.TrimSpace(pigpioAddr) == "" {
		return Config{}, fmt.Errorf("%s/--pigpio-addr must be set for the pigpio actuator", envVarPigpioAddr)
	}
	if escPin < 0 || escPin > maxBCMGPIOPin {
		return Config{}, fmt.Errorf("%s/--esc-gpio-pin must be in 0..%d", envVarESCGPIOPin, maxBCMGPIOPin)
	}
	if steeringPin < 0 || steeringPin > maxBCMGPIOPin {
		return Config{}, fmt.Errorf("%s/--steering-gpio-pin must be in 0..%d", envVarSteeringGPIOPin, maxBCMGPIOPin)
	}
	if escPin == steeringPin {
		return Config{}, fmt.Errorf("%s and %s must differ", envVarESCGPIOPin, envVarSteeringGPIOPin)
	}

	var webrtcUDPPortRange *UDPPortRange
	if webrtcUDPPortMin != 0 || webrtcUDPPortMax != 0 {
		if webrtcUDPPortMin == 0 || webrtcUDPPortMax == 0 {
			return Config{}, fmt.Errorf("%s/%s and %s/%s must be set together (or both unset)",
				envVarWebRTCUDPPortMin, "--"+flagWebRTCUDPPortMin,
				envVarWebRTCUDPPortMax, "--"+flagWebRTCUDPPortMax,
			)
		}
		min, err := parsePortUint(webrtcUDPPortMin)
		if err != nil {
			return Config{}, fmt.Errorf("%s/%s: %w", envVarWebRTCUDPPortMin, "--"+flagWebRTCUDPPortMin, err)
		}
		max, err := parsePortUint(webrtcUDPPortMax)
		if err != nil {
			return Config{}, fmt.Errorf("%s/%s: %w", envVarWebRTCUDPPortMax, "--"+flagWebRTCUDPPortMax, err)
		}
		if min > max {
			return Config{}, fmt.Errorf("WebRTC UDP port range min (%d) must be <= max (%d)", min, max)
		}
		webrtcUDPPortRange = &UDPPortRange{Min: min, Max: max}
	}

	cfg := Config{
		SignalingURL:       signalingURL,
		SignalingTransport: transport,
		RoomID:             roomID,
		LogFormat:          logFormat,
		LogLevel:           level,
		Mode:               mode,
		ShutdownTimeout:    shutdownTimeout,

		ICEGatheringTimeout:       iceGatherTimeout,
		ControlIdleStopTimeout:    controlIdleStopTimeout,
		MaxControlFramesPerSecond: maxControlFramesPerSecond,

		Actuator:        actuatorBackend,
		PigpioAddr:      pigpioAddr,
		ESCGPIOPin:      uint32(escPin),
		SteeringGPIOPin: uint32(steeringPin),

		MQTTBrokerURL:   mqttBrokerURL,
		MQTTClientID:    mqttClientID,
		MQTTTopicPrefix: mqttTopicPrefix,

		SignalingReconnectMinDelay: reconnectMinDelay,
		SignalingReconnectMaxDelay: reconnectMaxDelay,

		WebRTCUDPPortRange: webrtcUDPPortRange,
	}

	iceServers, err := parseICEServersFromValues(iceServersJSON, stunURLs, turnURLs, turnUsername, turnCredential)
	if err != nil {
		cfg.iceConfigErr = err
	} else {
		cfg.ICEServers = iceServers
	}

	return cfg, nil
}

// maxBCMGPIOPin is the highest BCM pin number pigpiod accepts.
const maxBCMGPIOPin = 53

func NewLogger(cfg Config) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	switch cfg.LogFormat {
	case LogFormatText:
		handler = slog.NewTextHandler(os.Stdout, opts)
	case LogFormatJSON:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}

	return slog.New(handler), nil
}

func envOrDefault(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(lookup func(string) (string, bool), key string, fallback int) (int, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func defaultLogFormatForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return string(LogFormatJSON)
	default:
		return string(LogFormatText)
	}
}

func defaultLogLevelForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return "info"
	default:
		return "debug"
	}
}

func parseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(ModeDev), "development":
		return ModeDev, nil
	case string(ModeProd), "production":
		return ModeProd, nil
	default:
		return "", fmt.Errorf("invalid mode %q (expected dev or prod)", raw)
	}
}

func parseLogFormat(raw string) (LogFormat, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(LogFormatText):
		return LogFormatText, nil
	case string(LogFormatJSON):
		return LogFormatJSON, nil
	default:
		return "", fmt.Errorf("invalid log format %q (expected text or json)", raw)
	}
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level %q (expected debug, info, warn, error)", raw)
	}
}

func parseSignalingTransport(raw string) (SignalingTransport, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(SignalingTransportWS), "websocket":
		return SignalingTransportWS, nil
	case string(SignalingTransportMQTT):
		return SignalingTransportMQTT, nil
	default:
		return "", fmt.Errorf("expected %s or %s", SignalingTransportWS, SignalingTransportMQTT)
	}
}

func parseActuatorBackend(raw string) (ActuatorBackend, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(ActuatorSim):
		return ActuatorSim, nil
	case string(ActuatorPigpio):
		return ActuatorPigpio, nil
	default:
		return "", fmt.Errorf("expected %s or %s", ActuatorSim, ActuatorPigpio)
	}
}

func parsePortString(s string) (uint16, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid port %q", s)
	}
	return parsePortUint(uint(v))
}

func parsePortUint(v uint) (uint16, error) {
	if v == 0 || v > 65535 {
		return 0, fmt.Errorf("port %d out of range (1-65535)", v)
	}
	return uint16(v), nil
}

// Package pigpio drives the ESC and steering servo through the pigpio
// daemon's socket interface. Commands are 16-byte little-endian records
// {cmd, p1, p2, p3}; the daemon echoes the record back with the result in
// the final word.
//
// Losing the daemon connection degrades the actuator instead of failing the
// link: state keeps being tracked, Apply reports errors, and each Apply
// retries the connection at most once per redial interval.
package pigpio

import (
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/snowball-robotics/roverlink/internal/actuator"
	"github.com/snowball-robotics/roverlink/internal/controlmap"
)

// pigpiod command codes (subset).
const cmdServo = 8 // p1=gpio, p2=pulse width in µs (0 switches the pulse off)

// Default wiring.
const (
	DefaultESCPin      = 18
	DefaultSteeringPin = 13
)

const (
	dialTimeout    = 2 * time.Second
	requestTimeout = time.Second
	redialInterval = 5 * time.Second
)

// Servo pulse range used for the steering servo's 0-180 degree travel.
const (
	servoPulseMinUS  = 1000
	servoPulseSpanUS = 1000
)

// Config selects the daemon address and GPIO pins. Zero pins fall back to
// the defaults.
type Config struct {
	Addr        string
	ESCPin      uint32
	SteeringPin uint32
}

type Actuator struct {
	logger *slog.Logger
	cfg    Config

	mu        sync.Mutex
	conn      net.Conn
	lastDial  time.Time
	throttle  float64
	steering  float64
	target    controlmap.Target
	closed    bool
}

var _ actuator.Actuator = (*Actuator)(nil)

// New connects to the pigpio daemon and centers both axes. A failed initial
// connection is not fatal; the actuator starts degraded and redials later.
func New(logger *slog.Logger, cfg Config) *Actuator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Addr == "" {
		cfg.Addr = "localhost:8888"
	}
	if cfg.ESCPin == 0 {
		cfg.ESCPin = DefaultESCPin
	}
	if cfg.SteeringPin == 0 {
		cfg.SteeringPin = DefaultSteeringPin
	}

	a := &Actuator{
		logger: logger.With(slog.String("component", "actuator"), slog.String("backend", "pigpio")),
		cfg:    cfg,
		target: controlmap.TargetFor(0, 0),
	}

	a.mu.Lock()
	if err := a.redialLocked(); err != nil {
		a.logger.Warn("pigpio daemon unreachable, starting degraded",
			slog.String("addr", cfg.Addr), slog.String("err", err.Error()))
	} else if err := a.driveLocked(a.target); err != nil {
		a.logger.Warn("initial neutral write failed", slog.String("err", err.Error()))
	}
	a.mu.Unlock()
	return a
}

func (a *Actuator) Apply(throttle, steering float64) (float64, float64, error) {
	throttle = controlmap.Clamp(throttle)
	steering = controlmap.Clamp(steering)
	target := controlmap.TargetFor(throttle, steering)

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return throttle, steering, nil
	}
	a.throttle = throttle
	a.steering = steering
	a.target = target
	return throttle, steering, a.driveLocked(target)
}

func (a *Actuator) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.throttle = 0
	a.steering = 0
	a.target = controlmap.TargetFor(0, 0)
	if a.closed {
		return nil
	}
	return a.driveLocked(a.target)
}

// Cleanup stops both axes, switches the servo pulses off, and closes the
// daemon connection.
func (a *Actuator) Cleanup() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	a.throttle = 0
	a.steering = 0
	a.target = controlmap.TargetFor(0, 0)

	if a.conn == nil {
		return nil
	}
	_, err1 := a.requestLocked(cmdServo, a.cfg.ESCPin, uint32(controlmap.PulseNeutralUS))
	_, err2 := a.requestLocked(cmdServo, a.cfg.ESCPin, 0)
	_, err3 := a.requestLocked(cmdServo, a.cfg.SteeringPin, 0)
	closeErr := a.conn.Close()
	a.conn = nil

	for _, err := range []error{err1, err2, err3, closeErr} {
		if err != nil {
			return err
		}
	}
	return nil
}

func (a *Actuator) Status() actuator.Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return actuator.Status{
		Throttle:          a.throttle,
		Steering:          a.steering,
		ThrottlePulseUS:   a.target.ThrottlePulseUS,
		SteeringAngleDeg:  a.target.SteeringAngleDeg,
		HardwareAvailable: a.conn != nil,
	}
}

func (a *Actuator) driveLocked(target controlmap.Target) error {
	if a.conn == nil {
		if time.Since(a.lastDial) < redialInterval {
			return fmt.Errorf("pigpio: daemon unavailable")
		}
		if err := a.redialLocked(); err != nil {
			return fmt.Errorf("pigpio: redial: %w", err)
		}
		a.logger.Info("pigpio daemon reconnected", slog.String("addr", a.cfg.Addr))
	}

	if _, err := a.requestLocked(cmdServo, a.cfg.ESCPin, uint32(target.ThrottlePulseUS)); err != nil {
		a.dropConnLocked(err)
		return fmt.Errorf("pigpio: esc pulse: %w", err)
	}
	if _, err := a.requestLocked(cmdServo, a.cfg.SteeringPin, servoPulseUS(target.SteeringAngleDeg)); err != nil {
		a.dropConnLocked(err)
		return fmt.Errorf("pigpio: steering pulse: %w", err)
	}
	return nil
}

func (a *Actuator) redialLocked() error {
	a.lastDial = time.Now()
	conn, err := net.DialTimeout("tcp", a.cfg.Addr, dialTimeout)
	if err != nil {
		return err
	}
	a.conn = conn
	return nil
}

func (a *Actuator) dropConnLocked(cause error) {
	a.logger.Warn("pigpio daemon connection lost", slog.String("err", cause.Error()))
	if a.conn != nil {
		_ = a.conn.Close()
		a.conn = nil
	}
}

// requestLocked performs one synchronous command round trip and returns the
// daemon's result word.
func (a *Actuator) requestLocked(cmd, p1, p2 uint32) (int32, error) {
	if a.conn == nil {
		return 0, fmt.Errorf("not connected")
	}

	var req [16]byte
	binary.LittleEndian.PutUint32(req[0:4], cmd)
	binary.LittleEndian.PutUint32(req[4:8], p1)
	binary.LittleEndian.PutUint32(req[8:12], p2)

	deadline := time.Now().Add(requestTimeout)
	if err := a.conn.SetDeadline(deadline); err != nil {
		return 0, err
	}
	if _, err := a.conn.Write(req[:]); err != nil {
		return 0, err
	}

	var resp [16]byte
	if _, err := io.ReadFull(a.conn, resp[:]); err != nil {
		return 0, err
	}
	res := int32(binary.LittleEndian.Uint32(resp[12:16]))
	if res < 0 {
		return res, fmt.Errorf("command %d failed with status %d", cmd, res)
	}
	return res, nil
}

// servoPulseUS converts a servo angle in degrees to a pulse width.
func servoPulseUS(angleDeg int) uint32 {
	if angleDeg < 0 {
		angleDeg = 0
	}
	if angleDeg > 180 {
		angleDeg = 180
	}
	return uint32(servoPulseMinUS + angleDeg*servoPulseSpanUS/180)
}

// Package sim provides an in-memory Actuator for development and tests. It
// performs the full control mapping but drives no hardware.
package sim

import (
	"log/slog"
	"sync"

	"github.com/snowball-robotics/roverlink/internal/actuator"
	"github.com/snowball-robotics/roverlink/internal/controlmap"
)

type Actuator struct {
	logger *slog.Logger

	mu       sync.Mutex
	throttle float64
	steering float64
	target   controlmap.Target
	closed   bool
}

var _ actuator.Actuator = (*Actuator)(nil)

func New(logger *slog.Logger) *Actuator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Actuator{
		logger: logger.With(slog.String("component", "actuator"), slog.String("backend", "sim")),
		target: controlmap.TargetFor(0, 0),
	}
}

func (a *Actuator) Apply(throttle, steering float64) (float64, float64, error) {
	throttle = controlmap.Clamp(throttle)
	steering = controlmap.Clamp(steering)

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return throttle, steering, nil
	}
	a.throttle = throttle
	a.steering = steering
	a.target = controlmap.TargetFor(throttle, steering)

	a.logger.Debug("apply",
		slog.Float64("throttle", throttle),
		slog.Float64("steering", steering),
		slog.Int("throttle_pulse_us", a.target.ThrottlePulseUS),
		slog.Int("steering_angle_deg", a.target.SteeringAngleDeg))
	return throttle, steering, nil
}

func (a *Actuator) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.throttle = 0
	a.steering = 0
	a.target = controlmap.TargetFor(0, 0)
	return nil
}

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
		HardwareAvailable: false,
	}
}

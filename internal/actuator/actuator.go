// Package actuator abstracts the vehicle's drive hardware: an ESC for
// throttle and a steering servo. Implementations take normalized commands,
// clamp them, and translate them to hardware units via controlmap.
package actuator

// Status reports the most recently applied command and the derived hardware
// targets. HardwareAvailable is false when the backend lost contact with the
// hardware and is running in a degraded, state-tracking-only mode.
type Status struct {
	Throttle          float64
	Steering          float64
	ThrottlePulseUS   int
	SteeringAngleDeg  int
	HardwareAvailable bool
}

// Actuator is the southbound drive contract.
//
// Apply clamps both values to [-1, 1] before driving the hardware and
// returns the effective (clamped) values it acted on. Stop forces both axes
// to neutral and is safe to call repeatedly. Cleanup releases hardware
// resources; the actuator must not be used afterwards.
type Actuator interface {
	Apply(throttle, steering float64) (effThrottle, effSteering float64, err error)
	Stop() error
	Cleanup() error
	Status() Status
}

// Package controlmap converts normalized control values in [-1, 1] into
// actuator target units: ESC pulse widths for throttle and servo angles for
// steering. All functions are pure.
package controlmap

import "math"

// ESC pulse widths in microseconds. The deadband brackets the neutral pulse;
// mapped ranges start 5µs outside it so small commands cannot land inside the
// band and jitter the motor controller.
const (
	PulseMinUS     = 1000 // full reverse
	PulseNeutralUS = 1500 // stop
	PulseMaxUS     = 2000 // full forward
	DeadbandLowUS  = 1485
	DeadbandHighUS = 1515
)

// Deadzone is the input magnitude below which both axes map to exactly
// neutral.
const Deadzone = 0.05

// Steering servo calibration. The servo's mechanically safe travel is 10%-90%
// of its nominal range; the center is 90 degrees.
const (
	SteeringCenterDeg = 90

	servoSafeMinPercent = 10.0
	servoSafeMaxPercent = 90.0
)

// Target is the per-command actuator target derived from normalized inputs.
type Target struct {
	ThrottlePulseUS  int
	SteeringAngleDeg int
}

// TargetFor maps a clamped normalized command onto actuator units.
func TargetFor(throttle, steering float64) Target {
	return Target{
		ThrottlePulseUS:  ThrottlePulseUS(throttle),
		SteeringAngleDeg: SteeringAngleDeg(steering),
	}
}

// ThrottlePulseUS maps normalized throttle to an ESC pulse width.
//
// The sign convention is inherited from the control protocol: negative input
// drives forward (toward PulseMaxUS), positive input drives reverse (toward
// PulseMinUS). Do not "fix" this.
func ThrottlePulseUS(v float64) int {
	if math.Abs(v) < Deadzone {
		return PulseNeutralUS
	}
	if v < 0 { // forward
		lo := float64(DeadbandHighUS + 5)
		hi := float64(PulseMaxUS)
		pct := math.Min(1, math.Abs(v))
		return int(lo + (hi-lo)*pct)
	}
	// reverse
	hi := float64(DeadbandLowUS - 5)
	lo := float64(PulseMinUS)
	pct := math.Min(1, v)
	return int(hi - (hi-lo)*pct)
}

// SteeringAngleDeg maps normalized steering to a servo angle in degrees,
// rescaled into the servo's calibrated safe travel. -1 is full left, 1 is
// full right; the percent mapping is inverted accordingly.
func SteeringAngleDeg(v float64) int {
	if math.Abs(v) < Deadzone {
		return SteeringCenterDeg
	}

	userPercent := (1.0 - v) * 50.0
	safePercent := servoSafeMinPercent + (userPercent/100.0)*(servoSafeMaxPercent-servoSafeMinPercent)

	angle := int(safePercent * 1.8)
	if angle < 0 {
		angle = 0
	}
	if angle > 180 {
		angle = 180
	}
	return angle
}

// Clamp bounds a normalized control value to [-1, 1].
func Clamp(v float64) float64 {
	return math.Max(-1, math.Min(1, v))
}

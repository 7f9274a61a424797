package epos

import "math"

// Conversions between device units and physical units. Encoder positions are
// quadrature counts (4 edges per line), so one revolution is
// 2 * encoder_resolution counts and one count is pi / (2 * resolution) rad.

func countsToRad(raw int32, encoderResolution int) float64 {
	return float64(raw) * math.Pi / (2 * float64(encoderResolution))
}

func radToCounts(rad float64, encoderResolution int) int {
	return int(rad * 2 * float64(encoderResolution) / math.Pi)
}

func rpmToRadPerSec(raw int32) float64 {
	return float64(raw) * math.Pi / 30
}

func radPerSecToRPM(radPerSec float64) int {
	return int(radPerSec * 30 / math.Pi)
}

func milliampsToAmps(raw int16) float64 {
	return float64(raw) / 1000
}

// clampRPM bounds a commanded velocity to the configured maximum profile
// velocity. max < 0 means unbounded.
func clampRPM(rpm, max int) int {
	if max < 0 {
		return rpm
	}
	if rpm > max {
		return max
	}
	if rpm < -max {
		return -max
	}
	return rpm
}

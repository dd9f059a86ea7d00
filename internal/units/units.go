// Package units converts the speeds carried by reports. Reports always hold
// km/h; feeds arrive in knots or m/s and clients may ask for mph.
package units

import (
	"fmt"
	"strings"
)

// Display units.
const (
	KMPH  = "kmph"
	MPH   = "mph"
	MPS   = "mps"
	KNOTS = "knots"
)

// ValidUnits lists every accepted display unit.
var ValidUnits = []string{KMPH, MPH, MPS, KNOTS}

const (
	kmhPerKnot = 1.852
	kmhPerMPS  = 3.6
	kmhPerMPH  = 1.609344
)

// FromKnots converts knots, as sent by Traccar and NMEA receivers, to km/h.
func FromKnots(knots float64) float64 { return knots * kmhPerKnot }

// FromMPS converts m/s, as sent by GTFS-Realtime feeds, to km/h.
func FromMPS(mps float64) float64 { return mps * kmhPerMPS }

// IsValid reports whether unit is a known display unit.
func IsValid(unit string) bool {
	for _, u := range ValidUnits {
		if unit == u {
			return true
		}
	}
	return false
}

// Parse returns the display unit named by s, defaulting to KMPH when empty.
func Parse(s string) (string, error) {
	if s == "" {
		return KMPH, nil
	}
	s = strings.ToLower(s)
	if s == "kph" || s == "kmh" {
		return KMPH, nil
	}
	if !IsValid(s) {
		return "", fmt.Errorf("unknown speed unit %q (valid: %s)", s, strings.Join(ValidUnits, ", "))
	}
	return s, nil
}

// ConvertSpeed converts a km/h speed to target. Unknown targets return kmh.
func ConvertSpeed(kmh float64, target string) float64 {
	switch target {
	case MPH:
		return kmh / kmhPerMPH
	case MPS:
		return kmh / kmhPerMPS
	case KNOTS:
		return kmh / kmhPerKnot
	default:
		return kmh
	}
}

// Label is the axis label for a unit.
func Label(unit string) string {
	switch unit {
	case MPH:
		return "mph"
	case MPS:
		return "m/s"
	case KNOTS:
		return "kn"
	default:
		return "km/h"
	}
}

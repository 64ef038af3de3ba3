// Package units provides shared constants and validation for distance units
package units

import "slices"

// Unit constants
const (
	M  = "m"
	CM = "cm"
	FT = "ft"
	IN = "in"
)

// ValidUnits contains all valid unit values
var ValidUnits = []string{M, CM, FT, IN}

// IsValid checks if the given unit is in the list of valid units
func IsValid(unit string) bool {
	return slices.Contains(ValidUnits, unit)
}

// GetValidUnitsString returns a comma-separated string of valid units for error messages
func GetValidUnitsString() string {
	return "m, cm, ft, in"
}

// ConvertDistance converts a distance from metres to the target units.
// Ranging results are computed and stored in metres.
func ConvertDistance(meters float64, targetUnits string) float64 {
	switch targetUnits {
	case CM:
		return meters * 100
	case FT:
		return meters / 0.3048
	case IN:
		return meters / 0.0254
	default:
		return meters
	}
}

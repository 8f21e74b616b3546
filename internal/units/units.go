// Package units provides shared constants and validation for current units
package units

// Unit constants
const (
	MicroAmps = "ua"
	NanoAmps  = "na"
	MilliAmps = "ma"
)

// ValidUnits contains all valid unit values
var ValidUnits = []string{MicroAmps, NanoAmps, MilliAmps}

// IsValid checks if the given unit is in the list of valid units
func IsValid(unit string) bool {
	for _, validUnit := range ValidUnits {
		if unit == validUnit {
			return true
		}
	}
	return false
}

// GetValidUnitsString returns a comma-separated string of valid units for error messages
func GetValidUnitsString() string {
	return "ua, na, ma"
}

// ConvertCurrent converts a current from microamps to the target units.
// The acquisition pipeline produces currents in µA.
func ConvertCurrent(currentUA float64, targetUnits string) float64 {
	switch targetUnits {
	case NanoAmps:
		return currentUA * 1000
	case MilliAmps:
		return currentUA / 1000
	case MicroAmps:
		return currentUA
	default:
		return currentUA // default to µA if unknown unit
	}
}

// Label returns the display label for a unit token.
func Label(unit string) string {
	switch unit {
	case NanoAmps:
		return "nA"
	case MilliAmps:
		return "mA"
	default:
		return "µA"
	}
}

package domain

import "strings"

// Side is the option right of a contract.
type Side string

const (
	SideCall    Side = "CALL"
	SidePut     Side = "PUT"
	SideUnknown Side = ""
)

// IsKnown reports whether the side is CALL or PUT.
func (s Side) IsKnown() bool {
	return s == SideCall || s == SidePut
}

// String returns the string representation of Side.
func (s Side) String() string {
	if s == SideUnknown {
		return "UNKNOWN"
	}
	return string(s)
}

// ParseSide maps provider spellings ("C", "call", "PUT", ...) to a Side.
// Unrecognized values map to SideUnknown.
func ParseSide(v string) Side {
	switch strings.ToUpper(strings.TrimSpace(v)) {
	case "C", "CALL", "CALLS":
		return SideCall
	case "P", "PUT", "PUTS":
		return SidePut
	default:
		return SideUnknown
	}
}

package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Grade is the repeat-hit grade of a strike concentration.
type Grade string

const (
	GradeAPlus Grade = "A+"
	GradeA     Grade = "A"
	GradeB     Grade = "B"
	GradeC     Grade = "C"
	GradeD     Grade = "D"
	GradeNone  Grade = ""
)

// GradeForHits maps a hit count to its grade.
// A single hit has no grade.
func GradeForHits(hits int) Grade {
	switch {
	case hits >= 10:
		return GradeAPlus
	case hits >= 7:
		return GradeA
	case hits >= 5:
		return GradeB
	case hits >= 3:
		return GradeC
	case hits == 2:
		return GradeD
	default:
		return GradeNone
	}
}

// StrikeConcentration is repeated significant activity at one (strike, expiry, side).
// Derived on query, never persisted.
type StrikeConcentration struct {
	Underlying   string
	Strike       decimal.Decimal
	Expiry       time.Time
	Side         Side
	HitCount     int
	TotalPremium decimal.Decimal
	TotalSize    int64
	FirstSeen    int64 // ms
	LastSeen     int64 // ms
	Grade        Grade
}

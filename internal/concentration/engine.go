// Package concentration finds repeated significant activity at the same strike.
package concentration

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"options-flow/internal/domain"
)

// DefaultMinHits is the smallest hit count reported by default.
const DefaultMinHits = 2

type groupKey struct {
	underlying string
	strike     string // normalized decimal string
	expiry     time.Time
	side       domain.Side
}

// Compute groups significant, fully decoded trades by (underlying, strike, expiry, side),
// grades each group by hit count and drops groups with fewer than minHits hits.
// Result is ordered by hit count DESC, then total premium DESC.
// minHits below 1 is treated as 1.
func Compute(trades []*domain.Trade, minHits int) []*domain.StrikeConcentration {
	if minHits < 1 {
		minHits = 1
	}

	groups := make(map[groupKey]*domain.StrikeConcentration)
	for _, t := range trades {
		if t == nil || !t.Significant || !t.Decoded() {
			continue
		}

		key := groupKey{
			underlying: t.Underlying,
			strike:     t.Strike.String(),
			expiry:     t.Expiry.UTC(),
			side:       t.Side,
		}

		g, ok := groups[key]
		if !ok {
			g = &domain.StrikeConcentration{
				Underlying:   t.Underlying,
				Strike:       *t.Strike,
				Expiry:       key.expiry,
				Side:         t.Side,
				TotalPremium: decimal.Zero,
				FirstSeen:    t.Timestamp,
				LastSeen:     t.Timestamp,
			}
			groups[key] = g
		}

		g.HitCount++
		if t.Premium != nil {
			g.TotalPremium = g.TotalPremium.Add(*t.Premium)
		}
		if t.Size != nil {
			g.TotalSize += *t.Size
		}
		if t.Timestamp < g.FirstSeen {
			g.FirstSeen = t.Timestamp
		}
		if t.Timestamp > g.LastSeen {
			g.LastSeen = t.Timestamp
		}
	}

	result := make([]*domain.StrikeConcentration, 0, len(groups))
	for _, g := range groups {
		if g.HitCount < minHits {
			continue
		}
		g.Grade = domain.GradeForHits(g.HitCount)
		result = append(result, g)
	}

	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if a.HitCount != b.HitCount {
			return a.HitCount > b.HitCount
		}
		if c := a.TotalPremium.Cmp(b.TotalPremium); c != 0 {
			return c > 0
		}
		if c := a.Strike.Cmp(b.Strike); c != 0 {
			return c < 0
		}
		return a.Side < b.Side
	})

	return result
}

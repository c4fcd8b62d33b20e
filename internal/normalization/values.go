package normalization

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Timestamp unit thresholds. Values above nanosThreshold are nanoseconds,
// above microsThreshold microseconds, anything else milliseconds.
// Present-day epochs are ~1.7e12 ms, ~1.7e15 µs and ~1.7e18 ns, so the cut
// points sit three orders of magnitude below each unit. Units separate for
// dates in 1973-5138; int64 nanoseconds themselves end in 2262.
const (
	nanosThreshold  int64 = 100_000_000_000_000_000 // 10^17
	microsThreshold int64 = 100_000_000_000_000     // 10^14
)

// NormalizeTimestamp converts an epoch value in ns, µs or ms to epoch ms.
func NormalizeTimestamp(v int64) int64 {
	switch {
	case v > nanosThreshold:
		return v / 1_000_000
	case v > microsThreshold:
		return v / 1_000
	default:
		return v
	}
}

func asString(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		s := strings.TrimSpace(x)
		return s, s != ""
	case json.Number:
		return x.String(), true
	default:
		return "", false
	}
}

func asInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n, true
		}
		f, err := x.Float64()
		if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
			return 0, false
		}
		return int64(f), true
	case string:
		s := strings.TrimSpace(x)
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n, true
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
			return 0, false
		}
		return int64(f), true
	default:
		return 0, false
	}
}

func asDecimal(v any) (decimal.Decimal, bool) {
	var s string
	switch x := v.(type) {
	case json.Number:
		s = x.String()
	case string:
		s = strings.TrimSpace(x)
	default:
		return decimal.Decimal{}, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d, true
}

// asTimestampMs accepts numeric epochs in any supported unit or RFC3339 strings.
func asTimestampMs(v any) (int64, bool) {
	if n, ok := asInt64(v); ok {
		return NormalizeTimestamp(n), true
	}
	s, ok := v.(string)
	if !ok {
		return 0, false
	}
	ts, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(s))
	if err != nil {
		return 0, false
	}
	return ts.UnixMilli(), true
}

// asDate accepts "2006-01-02" or RFC3339 strings and returns UTC midnight.
func asDate(v any) (time.Time, bool) {
	s, ok := v.(string)
	if !ok {
		return time.Time{}, false
	}
	s = strings.TrimSpace(s)
	if d, err := time.Parse(time.DateOnly, s); err == nil {
		return d, true
	}
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC), true
	}
	return time.Time{}, false
}

func asIntSlice(v any) []int {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]int, 0, len(items))
	for _, item := range items {
		if n, ok := asInt64(item); ok {
			out = append(out, int(n))
		}
	}
	return out
}

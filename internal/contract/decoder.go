// Package contract decodes provider option-contract identifiers such as
// "O:AAPL251219C00150000" into underlying, side, expiry and strike.
package contract

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"options-flow/internal/domain"
)

// Prefix is the tag that starts every option identifier.
const Prefix = "O:"

const (
	dateDigits   = 6 // YYMMDD
	strikeDigits = 8 // strike x 1000
	strikeScale  = -3

	// minSideOffset is the first index (after the prefix) where a side
	// character may appear; the underlying has at least one letter.
	minSideOffset = 1
)

// Contract is a fully decoded option contract.
type Contract struct {
	Underlying string
	Side       domain.Side
	Expiry     time.Time // UTC midnight
	Strike     decimal.Decimal
}

// Result is the outcome of decoding an identifier.
// Exactly one of two shapes holds: Decoded (Contract != nil) or
// Unparsed (Contract == nil, Root may carry a best-effort ticker).
type Result struct {
	Identifier string
	Contract   *Contract
	Root       string
}

// Decoded returns the contract and true when decoding succeeded.
func (r Result) Decoded() (Contract, bool) {
	if r.Contract == nil {
		return Contract{}, false
	}
	return *r.Contract, true
}

// Underlying returns the decoded underlying, or the best-effort root when unparsed.
func (r Result) Underlying() string {
	if r.Contract != nil {
		return r.Contract.Underlying
	}
	return r.Root
}

// Decode parses an identifier. It never fails: identifiers that do not match
// the expected layout come back Unparsed with the original string preserved.
//
// Side rule: scan the body (identifier without prefix) from minSideOffset for
// the first 'C' or 'P' that is preceded by exactly six digits and followed by
// exactly eight digits up to the end of the string. Candidates failing the
// positional checks are skipped, so tickers containing C or P (CSCO, PYPL)
// do not split early.
func Decode(identifier string) Result {
	res := Result{Identifier: identifier}

	if !strings.HasPrefix(identifier, Prefix) {
		return res
	}
	body := identifier[len(Prefix):]
	res.Root = leadingLetters(body)

	for i := minSideOffset; i < len(body); i++ {
		ch := body[i]
		if ch != 'C' && ch != 'P' {
			continue
		}
		c, ok := decodeAt(body, i)
		if !ok {
			continue
		}
		res.Contract = &c
		return res
	}

	return res
}

// decodeAt extracts date, side and strike positionally around the side index.
// Any out-of-range access is reported as a failed decode.
func decodeAt(body string, sideIdx int) (Contract, bool) {
	dateStart := sideIdx - dateDigits
	if dateStart < minSideOffset {
		return Contract{}, false
	}
	if len(body)-sideIdx-1 != strikeDigits {
		return Contract{}, false
	}

	underlying := body[:dateStart]
	if !isLetters(underlying) {
		return Contract{}, false
	}

	dateStr := body[dateStart:sideIdx]
	strikeStr := body[sideIdx+1:]
	if !isDigits(dateStr) || !isDigits(strikeStr) {
		return Contract{}, false
	}

	expiry, ok := parseDate(dateStr)
	if !ok {
		return Contract{}, false
	}

	strikeRaw, err := decimal.NewFromString(strikeStr)
	if err != nil {
		return Contract{}, false
	}

	side := domain.SideCall
	if body[sideIdx] == 'P' {
		side = domain.SidePut
	}

	return Contract{
		Underlying: underlying,
		Side:       side,
		Expiry:     expiry,
		Strike:     strikeRaw.Shift(strikeScale),
	}, true
}

// parseDate converts YYMMDD into a UTC date in the 2000s.
func parseDate(s string) (time.Time, bool) {
	yy := atoi2(s[0:2])
	mm := atoi2(s[2:4])
	dd := atoi2(s[4:6])
	if mm < 1 || mm > 12 || dd < 1 || dd > 31 {
		return time.Time{}, false
	}
	d := time.Date(2000+yy, time.Month(mm), dd, 0, 0, 0, 0, time.UTC)
	// Reject normalized dates like 250231 -> Mar 3.
	if d.Month() != time.Month(mm) || d.Day() != dd {
		return time.Time{}, false
	}
	return d, true
}

func atoi2(s string) int {
	return int(s[0]-'0')*10 + int(s[1]-'0')
}

func leadingLetters(s string) string {
	i := 0
	for i < len(s) && isLetter(s[i]) {
		i++
	}
	return s[:i]
}

func isLetter(b byte) bool {
	return (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z')
}

func isLetters(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isLetter(s[i]) {
			return false
		}
	}
	return true
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

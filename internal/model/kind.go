package model

import (
	"encoding/json"
	"errors"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// ErrInvalidKind is returned by NormalizeKind for values that cannot be
// represented as an integral event kind.
var ErrInvalidKind = errors.New("kind must be an integer or a string")

// ErrKindTooLong is returned for kinds whose stored form exceeds MaxKindLen.
var ErrKindTooLong = errors.New("kind is too long")

// MaxKindLen matches the width of the kind columns.
const MaxKindLen = 64

var integerRe = regexp.MustCompile(`^-?[0-9]+$`)

// NormalizeKind converts a rule or condition kind into the string form that
// is persisted.  Numbers and strings map to the same representation, so a
// kind supplied as 1 and one supplied as "1" compare equal.  Zero is a
// valid kind; only nil (and the empty string) mean "any kind".  Integral
// strings get the same canonical form as numbers, so "01" is stored as "1".
//
// Callers decoding JSON should use json.Decoder.UseNumber so large kinds
// arrive as json.Number and keep every digit.
func NormalizeKind(v any) (*string, error) {
	var s string
	switch t := v.(type) {
	case nil:
		return nil, nil
	case string:
		s = strings.TrimSpace(t)
		if s == "" {
			return nil, nil
		}
		if integerRe.MatchString(s) {
			s = canonicalInteger(s)
		}
	case json.Number:
		s = t.String()
		if integerRe.MatchString(s) {
			s = canonicalInteger(s)
		} else {
			// accept exponent forms such as 1e3 as long as they are integral
			f, err := t.Float64()
			if err != nil || f != math.Trunc(f) || math.IsInf(f, 0) {
				return nil, ErrInvalidKind
			}
			s = strconv.FormatFloat(f, 'f', 0, 64)
		}
	case float64:
		if t != math.Trunc(t) || math.IsInf(t, 0) || math.IsNaN(t) {
			return nil, ErrInvalidKind
		}
		s = strconv.FormatFloat(t, 'f', 0, 64)
	case int:
		s = strconv.Itoa(t)
	case int64:
		s = strconv.FormatInt(t, 10)
	case uint64:
		s = strconv.FormatUint(t, 10)
	default:
		return nil, ErrInvalidKind
	}
	if len(s) > MaxKindLen {
		return nil, ErrKindTooLong
	}
	return &s, nil
}

// canonicalInteger strips leading zeros and the sign of zero from a string
// matching integerRe without going through a fixed-width integer.
func canonicalInteger(s string) string {
	neg := strings.HasPrefix(s, "-")
	digits := strings.TrimLeft(strings.TrimPrefix(s, "-"), "0")
	switch {
	case digits == "":
		return "0"
	case neg:
		return "-" + digits
	}
	return digits
}

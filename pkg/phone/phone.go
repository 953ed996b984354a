// Package phone normalizes caller numbers across the provider formats the
// system sees: SIP URIs, E.164, and free-form digit strings.
package phone

import (
	"regexp"
	"strings"
)

var (
	sipRe      = regexp.MustCompile(`sip:(\+?\d+)@`)
	nonDigitRe = regexp.MustCompile(`[^0-9]`)
)

// Country code prefixes stripped before backend lookup. Length matters, not
// order: "1" must win over "12...".
var countryCodes = []string{"1", "20", "33", "34", "39", "44", "49", "61", "81", "91", "92"}

// Digits strips everything but digits.
func Digits(number string) string {
	return nonDigitRe.ReplaceAllString(number, "")
}

// FromSIP extracts the number from a SIP URI, or returns the input unchanged
// when no URI shape is found.
func FromSIP(uri string) string {
	if m := sipRe.FindStringSubmatch(uri); m != nil {
		return m[1]
	}
	return uri
}

// National strips a leading country code, returning the national significant
// number. Idempotent: National(National(x)) == National(x).
func National(number string) string {
	digits := Digits(strings.TrimPrefix(strings.TrimSpace(number), "+"))
	// Only strip when a plausible national number remains.
	if strings.HasPrefix(digits, "1") && len(digits) == 11 {
		return digits[1:]
	}
	if len(digits) > 10 {
		for _, code := range countryCodes {
			if strings.HasPrefix(digits, code) && len(digits)-len(code) >= 10 {
				return digits[len(code):]
			}
		}
	}
	return digits
}

// E164 renders a US number as +1XXXXXXXXXX. Anything that does not
// reduce to ten national digits passes through untouched.
func E164(number string) string {
	n := National(number)
	if len(n) == 10 {
		return "+1" + n
	}
	return number
}

// Display formats a 10-digit number as xxx-xxx-xxxx, the shape the
// reservation backend stores. Anything else passes through untouched.
func Display(number string) string {
	digits := Digits(number)
	if strings.HasPrefix(digits, "1") && len(digits) == 11 {
		digits = digits[1:]
	}
	if len(digits) != 10 {
		return number
	}
	return digits[:3] + "-" + digits[3:6] + "-" + digits[6:]
}

// Confirm formats collected keypad digits for read-back: "(NNN) NNN-NNNN" for
// ten digits, "+1 (NNN) NNN-NNNN" for eleven starting with 1, raw otherwise.
func Confirm(digits string) string {
	digits = Digits(digits)
	switch {
	case len(digits) == 10:
		return "(" + digits[:3] + ") " + digits[3:6] + "-" + digits[6:]
	case len(digits) == 11 && strings.HasPrefix(digits, "1"):
		rest := digits[1:]
		return "+1 (" + rest[:3] + ") " + rest[3:6] + "-" + rest[6:]
	default:
		return digits
	}
}

// LastTen returns the last ten digits, the fuzzy-match key for cache lookups.
func LastTen(number string) string {
	digits := Digits(number)
	if len(digits) <= 10 {
		return digits
	}
	return digits[len(digits)-10:]
}

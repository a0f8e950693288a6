package service

import "strings"

// NormalizePhoneNumber strips every non-digit, prepends countryCode when the
// digits do not already start with it, and adds a leading '+'. It never fails;
// a malformed input yields a malformed number for the backend to reject.
func NormalizePhoneNumber(raw, countryCode string) string {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, raw)

	if !strings.HasPrefix(digits, countryCode) {
		digits = countryCode + digits
	}
	return "+" + digits
}

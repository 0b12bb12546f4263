// Package phone turns free-form Indian mobile numbers into the 10-digit
// subscriber form the upstream lookup expects.
package phone

import (
	"regexp"
	"strings"
)

var (
	nonDigits = regexp.MustCompile(`\D`)
	canonical = regexp.MustCompile(`^[6-9]\d{9}$`)
)

// Normalize strips formatting from raw and reduces it to a canonical number.
// The second return value is false when no canonical form exists.
//
// Rules are applied in order and the first match wins:
//
//	10 digits                    -> as-is
//	11 digits starting with 0    -> drop the trunk prefix
//	12 digits starting with 91   -> drop the country code
//	13 digits starting with 0091 -> drop the international prefix
//	more than 10 digits          -> last 10, if they start with 6-9
func Normalize(raw string) (string, bool) {
	digits := nonDigits.ReplaceAllString(raw, "")

	var num string
	switch n := len(digits); {
	case n == 10:
		num = digits
	case n == 11 && strings.HasPrefix(digits, "0"):
		num = digits[1:]
	case n == 12 && strings.HasPrefix(digits, "91"):
		num = digits[2:]
	case n == 13 && strings.HasPrefix(digits, "0091"):
		num = digits[4:]
	case n > 10 && strings.ContainsAny(digits[n-10:n-9], "6789"):
		num = digits[n-10:]
	default:
		return "", false
	}

	if !canonical.MatchString(num) {
		return "", false
	}
	return num, true
}

package util

import (
	"fmt"
	"strings"
)

// MinPhoneDigits is the fewest digits accepted as a phone number.
const MinPhoneDigits = 7

// PhoneDigits returns only the ASCII digits of raw.
func PhoneDigits(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NormalizePhone formats a phone number for display. Ten digits become (AAA) BBB-CCCC, eleven
// become +D (AAA) BBB-CCCC; any other count of at least MinPhoneDigits passes through trimmed.
// ok is false when raw has fewer than MinPhoneDigits digits.
func NormalizePhone(raw string) (phone string, ok bool) {
	digits := PhoneDigits(raw)
	switch {
	case len(digits) < MinPhoneDigits:
		return "", false
	case len(digits) == 10:
		return fmt.Sprintf("(%s) %s-%s", digits[:3], digits[3:6], digits[6:]), true
	case len(digits) == 11:
		return fmt.Sprintf("+%s (%s) %s-%s", digits[:1], digits[1:4], digits[4:7], digits[7:]), true
	default:
		return strings.TrimSpace(raw), true
	}
}

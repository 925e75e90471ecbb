package telephony

import "strings"

// ValidatePhoneNumber accepts numbers with 10 to 15 digits once formatting is stripped.
func ValidatePhoneNumber(s string) bool {
	n := len(digits(s))
	return n >= 10 && n <= 15
}

// FormatPhoneNumber converts s to E.164. Numbers without a leading + are assumed to be
// North American when they have 10 digits, or 11 digits starting with 1.
func FormatPhoneNumber(s string) string {
	s = strings.TrimSpace(s)
	d := digits(s)
	if d == "" {
		return ""
	}
	if strings.HasPrefix(s, "+") {
		return "+" + d
	}
	if len(d) == 10 {
		return "+1" + d
	}
	return "+" + d
}

func digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

package mpesa

import (
	"regexp"
	"strings"
)

// Safaricom-style MSISDNs: 07XXXXXXXX / 01XXXXXXXX locally, 2547.../2541... internationally.
var msisdnPattern = regexp.MustCompile(`^(?:\+?254|0)?([17]\d{8})$`)

var phoneReplacer = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "")

// ValidPhone reports whether s is a Kenyan mobile number in local or international form.
func ValidPhone(s string) bool {
	return msisdnPattern.MatchString(phoneReplacer.Replace(strings.TrimSpace(s)))
}

// FormatPhone converts a Kenyan mobile number to the gateway's 2547XXXXXXXX form.
func FormatPhone(s string) (string, error) {
	m := msisdnPattern.FindStringSubmatch(phoneReplacer.Replace(strings.TrimSpace(s)))
	if m == nil {
		return "", ErrInvalidPhone
	}
	return "254" + m[1], nil
}

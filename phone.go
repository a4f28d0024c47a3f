package goRecovery

import "strings"

const (
	phoneCountryPrefix     = "+66"
	phoneInternationalDial = "0066"
	phoneLocalTrunkPrefix  = "0"
)

// FormatPhoneForAPI converts a phone number to the local "0"-prefixed form the
// backend expects. "+66812345678" and "0066812345678" both become
// "0812345678"; input already in local form is returned trimmed but otherwise
// unchanged, so the function is idempotent.
func FormatPhoneForAPI(phone string) string {
	p := strings.TrimSpace(phone)
	switch {
	case strings.HasPrefix(p, phoneCountryPrefix):
		return phoneLocalTrunkPrefix + p[len(phoneCountryPrefix):]
	case strings.HasPrefix(p, phoneInternationalDial):
		return phoneLocalTrunkPrefix + p[len(phoneInternationalDial):]
	default:
		return p
	}
}

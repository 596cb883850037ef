package identity

import (
	"regexp"
	"strings"
)

var linkCodePattern = regexp.MustCompile(`^\d{6}$`)

// IsLinkCode reports whether a message body is a bare 6-digit link code.
func IsLinkCode(text string) bool {
	return linkCodePattern.MatchString(strings.TrimSpace(text))
}

// NormalizeAddress reduces a gateway sender address to digits only:
// "+54 9 11 5555-0000", "5491155550000@s.whatsapp.net" and
// "5491155550000:7@s.whatsapp.net" all become "5491155550000".
func NormalizeAddress(addr string) string {
	addr = stripSuffix(addr)
	var b strings.Builder
	b.Grow(len(addr))
	for _, r := range addr {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// stripSuffix drops the gateway domain and any device qualifier.
func stripSuffix(addr string) string {
	if i := strings.IndexByte(addr, '@'); i >= 0 {
		addr = addr[:i]
	}
	if i := strings.IndexByte(addr, ':'); i >= 0 {
		addr = addr[:i]
	}
	return strings.TrimSpace(addr)
}

// MaskAddress keeps the last four digits for logging.
func MaskAddress(addr string) string {
	n := NormalizeAddress(addr)
	if len(n) <= 4 {
		return "****"
	}
	return strings.Repeat("*", len(n)-4) + n[len(n)-4:]
}

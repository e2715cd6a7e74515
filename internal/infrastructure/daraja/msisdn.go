package daraja

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// ErrInvalidMSISDN is returned when a phone number cannot be normalized to
// the 2547XXXXXXXX / 2541XXXXXXXX form.
var ErrInvalidMSISDN = errors.New("invalid kenyan msisdn")

// NormalizeMSISDN converts the formats payers actually type (07.., 01..,
// +254.., 254.., 7..) into canonical 254XXXXXXXXX. Everything persisted or
// sent to the gateway uses the canonical form.
func NormalizeMSISDN(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "+")
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, "-", "")

	if s == "" || !isDigits(s) {
		return "", ErrInvalidMSISDN
	}

	switch {
	case len(s) == 12 && strings.HasPrefix(s, "254"):
		// already canonical
	case len(s) == 10 && strings.HasPrefix(s, "0"):
		s = "254" + s[1:]
	case len(s) == 9:
		s = "254" + s
	default:
		return "", ErrInvalidMSISDN
	}

	// mobile ranges are 7xx and 1xx
	if s[3] != '7' && s[3] != '1' {
		return "", ErrInvalidMSISDN
	}
	return s, nil
}

// FormatMSISDNLocal renders a canonical MSISDN the way receipts print it,
// e.g. 254712345678 -> 0712345678.
func FormatMSISDNLocal(msisdn string) string {
	if len(msisdn) == 12 && strings.HasPrefix(msisdn, "254") {
		return "0" + msisdn[3:]
	}
	return msisdn
}

// HashPhone produces the one-way key customers are stored under. Callers
// hash the canonical MSISDN form so the same payer always maps to the same
// customer.
func HashPhone(msisdn string) string {
	sum := sha256.Sum256([]byte(msisdn))
	return hex.EncodeToString(sum[:])
}

// IsHashedMSISDN reports whether a confirmation's MSISDN field carries the
// gateway's pre-hashed form instead of a phone number. Those values are used
// as the customer key as delivered.
func IsHashedMSISDN(s string) bool {
	if len(s) < 32 || isDigits(s) {
		return false
	}
	for _, r := range s {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') && (r < 'A' || r > 'F') {
			return false
		}
	}
	return true
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}

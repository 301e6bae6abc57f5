// Package whatsapp builds click-to-chat deep links for handing an order
// summary to the store's WhatsApp number. No request is ever made.
package whatsapp

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrInvalidPhone is returned when a destination cannot be turned into an
// international number.
var ErrInvalidPhone = errors.New("invalid phone number")

const (
	baseURL   = "https://wa.me/"
	minDigits = 8
	maxDigits = 15
)

var arabicDigits = strings.NewReplacer(
	"٠", "0", "١", "1", "٢", "2", "٣", "3", "٤", "4",
	"٥", "5", "٦", "6", "٧", "7", "٨", "8", "٩", "9",
)

// NormalizePhone reduces raw to international digits. A leading "+" or
// "00" is dropped, and a leading national "0" is replaced by countryCode.
// Arabic-Indic digits are accepted.
func NormalizePhone(raw, countryCode string) (string, error) {
	s := strings.TrimSpace(arabicDigits.Replace(raw))
	s = strings.TrimPrefix(s, "+")

	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '(' || r == ')' || r == '.':
		default:
			return "", fmt.Errorf("%w: unexpected %q in %q", ErrInvalidPhone, r, raw)
		}
	}
	digits := b.String()

	cc := strings.TrimPrefix(strings.TrimSpace(countryCode), "+")
	switch {
	case strings.HasPrefix(digits, "00"):
		digits = digits[2:]
	case strings.HasPrefix(digits, "0") && cc != "":
		digits = cc + digits[1:]
	}

	if len(digits) < minDigits || len(digits) > maxDigits {
		return "", fmt.Errorf("%w: %q has %d digits", ErrInvalidPhone, raw, len(digits))
	}
	return digits, nil
}

// Link returns the wa.me deep link that opens a chat with destination
// pre-filled with message.
func Link(destination, message, countryCode string) (string, error) {
	digits, err := NormalizePhone(destination, countryCode)
	if err != nil {
		return "", err
	}
	link := baseURL + digits
	if message != "" {
		link += "?text=" + url.QueryEscape(message)
	}
	return link, nil
}

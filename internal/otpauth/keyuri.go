package otpauth

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/y0f/lexotp/internal/base32"
)

var keyURIPattern = regexp.MustCompile(`(?i)^otpauth://(totp|hotp)/([^?]+)\?(.*)$`)

// ParseKeyURI parses a single otpauth://totp/ or otpauth://hotp/ link in
// the Key URI Format. It returns nil when the link does not have that
// shape or carries no secret.
func ParseKeyURI(raw string) *Account {
	m := keyURIPattern.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return nil
	}

	// ParseQuery keeps every pair it could decode even when it errors.
	q, _ := url.ParseQuery(m[3])
	secret := base32.Normalize(q.Get("secret"))
	if secret == "" {
		return nil
	}

	acc := &Account{
		Secret:    secret,
		Algorithm: ParseAlgorithmName(q.Get("algorithm")),
		Digits:    positiveInt(q.Get("digits"), DefaultDigits),
		Type:      TypeTOTP,
		Period:    positiveInt(q.Get("period"), DefaultPeriod),
	}
	if strings.EqualFold(m[1], "hotp") {
		acc.Type = TypeHOTP
		acc.Counter, _ = strconv.ParseUint(q.Get("counter"), 10, 64)
	}

	label, err := url.PathUnescape(m[2])
	if err != nil {
		label = m[2]
	}
	acc.Issuer = q.Get("issuer")
	if issuer, name, ok := strings.Cut(label, ":"); ok {
		if acc.Issuer == "" {
			acc.Issuer = strings.TrimSpace(issuer)
		}
		acc.Name = strings.TrimSpace(name)
	} else {
		acc.Name = strings.TrimSpace(label)
	}

	return acc
}

// KeyURI formats the account as an otpauth:// link.
func (a Account) KeyURI() string {
	label := url.PathEscape(a.Name)
	if a.Issuer != "" {
		label = url.PathEscape(a.Issuer) + ":" + label
	}

	q := url.Values{}
	q.Set("secret", a.Secret)
	if a.Issuer != "" {
		q.Set("issuer", a.Issuer)
	}
	if a.Algorithm != "" {
		q.Set("algorithm", string(a.Algorithm))
	}
	if a.Digits > 0 {
		q.Set("digits", strconv.Itoa(a.Digits))
	}

	kind := "totp"
	if a.Type == TypeHOTP {
		kind = "hotp"
		q.Set("counter", strconv.FormatUint(a.Counter, 10))
	} else if a.Period > 0 {
		q.Set("period", strconv.Itoa(a.Period))
	}
	return fmt.Sprintf("otpauth://%s/%s?%s", kind, label, q.Encode())
}

func positiveInt(s string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

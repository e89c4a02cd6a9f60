// Package codes turns decoded accounts into the code slots a client shows:
// the current code, how long it stays valid and whether it could be
// computed at all.
package codes

import (
	"log/slog"
	"time"

	"github.com/y0f/lexotp/internal/base32"
	"github.com/y0f/lexotp/internal/otpauth"
	"github.com/y0f/lexotp/internal/totp"
)

// Slot is one account's code at a point in time. Remaining is zero for
// counter-based accounts.
type Slot struct {
	Name      string         `json:"name,omitempty"`
	Issuer    string         `json:"issuer,omitempty"`
	Code      string         `json:"code"`
	Remaining int            `json:"remaining"`
	Period    int            `json:"period"`
	Digits    int            `json:"digits"`
	Algorithm totp.Algorithm `json:"algorithm"`
	Type      otpauth.Type   `json:"type"`
	Available bool           `json:"available"`
}

type Service struct {
	gen    *totp.Generator
	logger *slog.Logger
}

func NewService(gen *totp.Generator, logger *slog.Logger) *Service {
	if gen == nil {
		gen = totp.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{gen: gen, logger: logger}
}

// ParamsFor maps an account's algorithm, digits and period onto generation
// parameters. Unknown digit counts are passed through so generation
// reports them instead of silently producing a 6-digit code.
func ParamsFor(acc otpauth.Account) totp.Params {
	p := totp.Params{
		Digits: acc.Digits,
		Period: acc.Period,
	}
	switch acc.Algorithm {
	case otpauth.AlgorithmSHA256:
		p.Algorithm = totp.SHA256
	case otpauth.AlgorithmSHA512:
		p.Algorithm = totp.SHA512
	case otpauth.AlgorithmMD5:
		p.Algorithm = totp.MD5
	default:
		p.Algorithm = totp.SHA1
	}
	if p.Digits <= 0 {
		p.Digits = totp.DefaultDigits
	}
	if p.Period <= 0 {
		p.Period = totp.DefaultPeriod
	}
	return p
}

// Slot computes the account's code at t. A failed generation is reported
// as the sentinel with Available unset. It calls GenerateAt rather than
// DisplayAt so the cause can be logged with the account.
func (s *Service) Slot(acc otpauth.Account, t time.Time) Slot {
	p := ParamsFor(acc)
	slot := Slot{
		Name:      acc.Name,
		Issuer:    acc.Issuer,
		Period:    p.Period,
		Digits:    p.Digits,
		Algorithm: p.Algorithm,
		Type:      otpauth.TypeTOTP,
	}

	var (
		code string
		err  error
	)
	if acc.Type == otpauth.TypeHOTP {
		slot.Type = otpauth.TypeHOTP
		code, err = s.gen.HOTP(base32.Decode(acc.Secret), acc.Counter, p)
	} else {
		slot.Remaining = totp.TimeRemaining(p.Period, t)
		code, err = s.gen.GenerateAt(acc.Secret, p, t)
	}

	if err != nil {
		s.logger.Warn("code unavailable", "name", acc.Name, "issuer", acc.Issuer, "algorithm", p.Algorithm, "error", err)
		slot.Code = totp.Sentinel(p.Digits)
		return slot
	}
	slot.Code = code
	slot.Available = true
	return slot
}

// Slots keeps the order of accounts.
func (s *Service) Slots(accounts []otpauth.Account, t time.Time) []Slot {
	out := make([]Slot, 0, len(accounts))
	for _, acc := range accounts {
		out = append(out, s.Slot(acc, t))
	}
	return out
}

// Now returns the generator clock.
func (s *Service) Now() time.Time {
	return s.gen.Now()
}

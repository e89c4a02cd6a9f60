package totp

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/y0f/lexotp/internal/base32"
)

const (
	DefaultDigits = 6
	DefaultPeriod = 30

	// DefaultSecretSize matches the SHA1 block-derived key length most
	// authenticator apps provision.
	DefaultSecretSize = 20

	minSecretLength = 16
)

var (
	ErrUnsupportedDigits = errors.New("digits must be 6 or 8")
	ErrInvalidPeriod     = errors.New("period must be positive")
	ErrShortDigest       = errors.New("digest too short for dynamic truncation")
)

var pow10 = [...]uint32{1, 10, 100, 1e3, 1e4, 1e5, 1e6, 1e7, 1e8}

// Params controls a single generation call. Zero fields take the defaults.
type Params struct {
	Digits    int
	Period    int
	Algorithm Algorithm
}

// DefaultParams returns the Google Authenticator compatible settings.
func DefaultParams() Params {
	return Params{Digits: DefaultDigits, Period: DefaultPeriod, Algorithm: SHA1}
}

func (p Params) withDefaults() Params {
	if p.Digits == 0 {
		p.Digits = DefaultDigits
	}
	if p.Period == 0 {
		p.Period = DefaultPeriod
	}
	if p.Algorithm == "" {
		p.Algorithm = SHA1
	}
	return p
}

func (p Params) check() error {
	if p.Digits != 6 && p.Digits != 8 {
		return fmt.Errorf("%w: got %d", ErrUnsupportedDigits, p.Digits)
	}
	if p.Period <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidPeriod, p.Period)
	}
	return nil
}

// Generator derives codes from base32 secrets. It holds no per-call state
// and is safe for concurrent use.
type Generator struct {
	mac MAC
	now func() time.Time
}

type Option func(*Generator)

// WithMAC replaces the HMAC backend.
func WithMAC(m MAC) Option {
	return func(g *Generator) { g.mac = m }
}

// WithClock replaces the wall clock used by Generate and Display.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) { g.now = now }
}

func New(opts ...Option) *Generator {
	g := &Generator{mac: StdMAC{}, now: time.Now}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Now returns the generator's current time.
func (g *Generator) Now() time.Time {
	return g.now()
}

// GenerateAt computes the RFC 6238 code for secret at t. The secret is
// decoded leniently; an empty key is passed to the MAC unchanged.
func (g *Generator) GenerateAt(secret string, p Params, t time.Time) (string, error) {
	p = p.withDefaults()
	if err := p.check(); err != nil {
		return "", err
	}
	counter := uint64(t.Unix()) / uint64(p.Period)
	return g.HOTP(base32.Decode(secret), counter, p)
}

// Generate computes the code for the current time.
func (g *Generator) Generate(secret string, p Params) (string, error) {
	return g.GenerateAt(secret, p, g.now())
}

// Display never fails. Any generation error yields Sentinel(digits) so a
// ticking display can show the code as unavailable and retry later.
func (g *Generator) Display(secret string, p Params) string {
	return g.DisplayAt(secret, p, g.now())
}

func (g *Generator) DisplayAt(secret string, p Params, t time.Time) string {
	p = p.withDefaults()
	code, err := g.GenerateAt(secret, p, t)
	if err != nil {
		return Sentinel(p.Digits)
	}
	return code
}

// Sentinel is the fixed-width placeholder shown in place of a code.
func Sentinel(digits int) string {
	if digits <= 0 {
		digits = DefaultDigits
	}
	return strings.Repeat("-", digits)
}

// HOTP implements RFC 4226 with dynamic truncation over the raw key.
func (g *Generator) HOTP(key []byte, counter uint64, p Params) (string, error) {
	p = p.withDefaults()
	if err := p.check(); err != nil {
		return "", err
	}

	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], counter)

	sum, err := g.mac.Sum(p.Algorithm, key, msg[:])
	if err != nil {
		return "", fmt.Errorf("hmac %s: %w", p.Algorithm, err)
	}
	if len(sum) == 0 {
		return "", fmt.Errorf("%w: empty", ErrShortDigest)
	}

	// MD5 digests are 16 bytes, so a high offset can run past the end.
	offset := int(sum[len(sum)-1] & 0x0f)
	if offset+4 > len(sum) {
		return "", fmt.Errorf("%w: offset %d in %d bytes", ErrShortDigest, offset, len(sum))
	}
	code := binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7fffffff

	return fmt.Sprintf("%0*d", p.Digits, code%pow10[p.Digits]), nil
}

// TimeRemaining returns the seconds left in the current period, in
// [1, period]. A non-positive period is treated as the default.
func TimeRemaining(period int, t time.Time) int {
	if period <= 0 {
		period = DefaultPeriod
	}
	elapsed := t.Unix() % int64(period)
	if elapsed < 0 {
		elapsed += int64(period)
	}
	return period - int(elapsed)
}

// ValidateSecret is a format gate: after normalization the secret must be
// at least 16 base32 alphabet characters. It does not decode the secret.
func ValidateSecret(s string) bool {
	s = base32.Normalize(s)
	if len(s) < minSecretLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !base32.IsAlphabet(s[i]) {
			return false
		}
	}
	return true
}

// Verify checks code against the secret within ±skew time steps.
func (g *Generator) Verify(secret, code string, p Params, skew int, t time.Time) bool {
	p = p.withDefaults()
	if len(code) != p.Digits || p.check() != nil {
		return false
	}
	if skew < 0 {
		skew = 0
	}
	key := base32.Decode(secret)
	counter := int64(t.Unix()) / int64(p.Period)
	for i := -skew; i <= skew; i++ {
		c := counter + int64(i)
		if c < 0 {
			continue
		}
		expected, err := g.HOTP(key, uint64(c), p)
		if err != nil {
			return false
		}
		if subtle.ConstantTimeCompare([]byte(expected), []byte(code)) == 1 {
			return true
		}
	}
	return false
}

// GenerateSecret returns size cryptographically random bytes.
func GenerateSecret(size int) ([]byte, error) {
	if size <= 0 {
		size = DefaultSecretSize
	}
	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("generate totp secret: %w", err)
	}
	return b, nil
}

// FormatKeyURI returns an otpauth:// URI for manual authenticator entry.
func FormatKeyURI(issuer, account string, secret []byte, p Params) string {
	p = p.withDefaults()
	label := url.PathEscape(account)
	if issuer != "" {
		label = url.PathEscape(issuer) + ":" + label
	}
	q := url.Values{}
	q.Set("secret", base32.Encode(secret))
	if issuer != "" {
		q.Set("issuer", issuer)
	}
	q.Set("algorithm", string(p.Algorithm))
	q.Set("digits", fmt.Sprint(p.Digits))
	q.Set("period", fmt.Sprint(p.Period))
	return "otpauth://totp/" + label + "?" + q.Encode()
}

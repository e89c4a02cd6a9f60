package validate

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/y0f/lexotp/internal/base32"
	"github.com/y0f/lexotp/internal/otpauth"
	"github.com/y0f/lexotp/internal/totp"
)

const (
	MaxLabelLength  = 255
	MaxSecretLength = 1024
	MaxAccounts     = 1000
	MaxSkew         = 10
)

// ValidateParams checks request-supplied generation parameters. Zero
// values mean "use the default" and pass.
func ValidateParams(digits, period int, algorithm string) error {
	if digits != 0 && digits != 6 && digits != 8 {
		return fmt.Errorf("digits must be 6 or 8")
	}
	if period < 0 {
		return fmt.Errorf("period must be positive")
	}
	if period > 3600 {
		return fmt.Errorf("period must be at most 3600 seconds")
	}
	if _, err := totp.ParseAlgorithm(algorithm); err != nil {
		return fmt.Errorf("algorithm must be one of: SHA1, SHA256, SHA512, MD5")
	}
	return nil
}

// ValidateSecretInput only bounds a secret before it reaches the decoder.
// Format problems surface later as the sentinel code.
func ValidateSecretInput(secret string) error {
	if strings.TrimSpace(secret) == "" {
		return fmt.Errorf("secret is required")
	}
	if len(secret) > MaxSecretLength {
		return fmt.Errorf("secret must be at most %d characters", MaxSecretLength)
	}
	return nil
}

func ValidateCode(code string, digits int) error {
	if digits == 0 {
		digits = totp.DefaultDigits
	}
	if len(code) != digits {
		return fmt.Errorf("code must be %d digits", digits)
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return fmt.Errorf("code must be numeric")
		}
	}
	return nil
}

func ValidateSkew(skew int) error {
	if skew < 0 || skew > MaxSkew {
		return fmt.Errorf("skew must be between 0 and %d", MaxSkew)
	}
	return nil
}

func ValidateLabel(field, s string) error {
	if utf8.RuneCountInString(s) > MaxLabelLength {
		return fmt.Errorf("%s must be at most %d characters", field, MaxLabelLength)
	}
	if strings.ContainsRune(s, ':') {
		return fmt.Errorf("%s must not contain ':'", field)
	}
	return nil
}

// ValidateAccount checks an account submitted for export or slot
// computation. Unlike imported accounts the secret must be strict base32.
func ValidateAccount(acc *otpauth.Account) error {
	if strings.TrimSpace(acc.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if utf8.RuneCountInString(acc.Name) > MaxLabelLength {
		return fmt.Errorf("name must be at most %d characters", MaxLabelLength)
	}
	if utf8.RuneCountInString(acc.Issuer) > MaxLabelLength {
		return fmt.Errorf("issuer must be at most %d characters", MaxLabelLength)
	}
	if err := ValidateSecretInput(acc.Secret); err != nil {
		return err
	}
	if _, err := base32.DecodeStrict(base32.Normalize(acc.Secret)); err != nil {
		return fmt.Errorf("secret: %w", err)
	}
	if err := ValidateParams(acc.Digits, acc.Period, string(acc.Algorithm)); err != nil {
		return err
	}
	switch acc.Type {
	case "", otpauth.TypeTOTP, otpauth.TypeHOTP:
	default:
		return fmt.Errorf("type must be TOTP or HOTP")
	}
	return nil
}

func ValidateAccounts(accounts []otpauth.Account) error {
	if len(accounts) == 0 {
		return fmt.Errorf("accounts is required")
	}
	if len(accounts) > MaxAccounts {
		return fmt.Errorf("at most %d accounts allowed", MaxAccounts)
	}
	for i := range accounts {
		if err := ValidateAccount(&accounts[i]); err != nil {
			return fmt.Errorf("accounts[%d]: %w", i, err)
		}
	}
	return nil
}

func ValidateImportURL(raw string, maxLen int) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fmt.Errorf("url is required")
	}
	if maxLen > 0 && len(raw) > maxLen {
		return fmt.Errorf("url must be at most %d characters", maxLen)
	}
	if !strings.HasPrefix(strings.ToLower(raw), "otpauth") {
		return fmt.Errorf("url must start with otpauth:// or otpauth-migration://")
	}
	return nil
}

// SanitizeLabel reduces an untrusted account name or issuer to plain
// text. Markup is dropped, script and style bodies are removed, entities
// are decoded and control characters and runs of whitespace collapse to a
// single space.
func SanitizeLabel(input string) string {
	if input == "" {
		return ""
	}
	tokenizer := html.NewTokenizer(strings.NewReader(input))
	var buf strings.Builder
	skipDepth := 0
	for {
		tt := tokenizer.Next()
		switch tt {
		case html.ErrorToken:
			return truncateRunes(collapseSpace(buf.String()), MaxLabelLength)
		case html.TextToken:
			if skipDepth == 0 {
				buf.WriteString(tokenizer.Token().Data)
			}
		case html.StartTagToken:
			if _dropContentTags[tokenizer.Token().DataAtom] {
				skipDepth++
			}
		case html.EndTagToken:
			if _dropContentTags[tokenizer.Token().DataAtom] && skipDepth > 0 {
				skipDepth--
			}
		}
	}
}

var _dropContentTags = map[atom.Atom]bool{
	atom.Script: true, atom.Style: true, atom.Iframe: true,
	atom.Object: true, atom.Noscript: true, atom.Template: true,
}

func SanitizeAccount(acc otpauth.Account) otpauth.Account {
	acc.Name = SanitizeLabel(acc.Name)
	acc.Issuer = SanitizeLabel(acc.Issuer)
	return acc
}

func collapseSpace(s string) string {
	var b strings.Builder
	space := false
	for _, r := range s {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			space = true
			continue
		}
		if space && b.Len() > 0 {
			b.WriteByte(' ')
		}
		space = false
		b.WriteRune(r)
	}
	return b.String()
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}

// Package otpauth decodes authenticator account exports: Google
// Authenticator migration payloads (otpauth-migration://) and standard
// Key URI Format links (otpauth://).
package otpauth

import "strings"

type Algorithm string

const (
	AlgorithmSHA1   Algorithm = "SHA1"
	AlgorithmSHA256 Algorithm = "SHA256"
	AlgorithmSHA512 Algorithm = "SHA512"
	AlgorithmMD5    Algorithm = "MD5"
)

type Type string

const (
	TypeTOTP Type = "TOTP"
	TypeHOTP Type = "HOTP"
)

const (
	DefaultDigits = 6
	DefaultPeriod = 30
)

// Account is one decoded authenticator entry. Secret is unpadded uppercase
// base32.
type Account struct {
	Name      string    `json:"name"`
	Issuer    string    `json:"issuer"`
	Secret    string    `json:"secret"`
	Algorithm Algorithm `json:"algorithm"`
	Digits    int       `json:"digits"`
	Type      Type      `json:"type"`
	Period    int       `json:"period"`
	Counter   uint64    `json:"counter,omitempty"`
}

// Batch is a whole migration payload. Large exports are split across
// several QR codes sharing a BatchID.
type Batch struct {
	Accounts   []Account `json:"accounts"`
	Version    int       `json:"version"`
	BatchSize  int       `json:"batch_size"`
	BatchIndex int       `json:"batch_index"`
	BatchID    int32     `json:"batch_id"`
}

// ParseAlgorithmName maps a case-insensitive name, falling back to SHA1.
func ParseAlgorithmName(s string) Algorithm {
	switch a := Algorithm(strings.ToUpper(s)); a {
	case AlgorithmSHA256, AlgorithmSHA512, AlgorithmMD5:
		return a
	}
	return AlgorithmSHA1
}

// migration enum values
func algorithmFromEnum(v uint64) Algorithm {
	switch v {
	case 2:
		return AlgorithmSHA256
	case 3:
		return AlgorithmSHA512
	case 4:
		return AlgorithmMD5
	}
	return AlgorithmSHA1
}

func algorithmEnum(a Algorithm) uint64 {
	switch a {
	case AlgorithmSHA256:
		return 2
	case AlgorithmSHA512:
		return 3
	case AlgorithmMD5:
		return 4
	}
	return 1
}

func digitsFromEnum(v uint64) int {
	if v == 2 {
		return 8
	}
	return 6
}

func digitsEnum(d int) uint64 {
	if d == 8 {
		return 2
	}
	return 1
}

func typeFromEnum(v uint64) Type {
	if v == 1 {
		return TypeHOTP
	}
	return TypeTOTP
}

func typeEnum(t Type) uint64 {
	if t == TypeHOTP {
		return 1
	}
	return 2
}

package totp

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"errors"
	"fmt"
	"hash"
	"strings"
)

// Algorithm names the HMAC hash, spelled as in otpauth:// URIs.
type Algorithm string

const (
	SHA1   Algorithm = "SHA1"
	SHA256 Algorithm = "SHA256"
	SHA512 Algorithm = "SHA512"
	MD5    Algorithm = "MD5"
)

var ErrUnsupportedAlgorithm = errors.New("unsupported algorithm")

// ParseAlgorithm maps a case-insensitive name to an Algorithm.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch a := Algorithm(strings.ToUpper(strings.TrimSpace(s))); a {
	case SHA1, SHA256, SHA512, MD5:
		return a, nil
	case "":
		return SHA1, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, s)
}

// MAC computes HMAC(key, message) for the named hash.
type MAC interface {
	Sum(alg Algorithm, key, message []byte) ([]byte, error)
}

// MACFunc adapts a plain function to MAC.
type MACFunc func(alg Algorithm, key, message []byte) ([]byte, error)

func (f MACFunc) Sum(alg Algorithm, key, message []byte) ([]byte, error) {
	return f(alg, key, message)
}

// StdMAC is the crypto/hmac backend.
type StdMAC struct{}

func (StdMAC) Sum(alg Algorithm, key, message []byte) ([]byte, error) {
	var h func() hash.Hash
	switch alg {
	case SHA1:
		h = sha1.New
	case SHA256:
		h = sha256.New
	case SHA512:
		h = sha512.New
	case MD5:
		h = md5.New
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, alg)
	}
	mac := hmac.New(h, key)
	mac.Write(message)
	return mac.Sum(nil), nil
}

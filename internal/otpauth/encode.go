package otpauth

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"

	"github.com/y0f/lexotp/internal/base32"
)

// ErrUnsupportedPeriod is returned for time-based accounts whose period the
// migration format cannot carry. Importers always assume DefaultPeriod.
var ErrUnsupportedPeriod = errors.New("migration export only supports a 30 second period")

// EncodeMigrationURL serializes a batch into an export link that Google
// Authenticator and DecodeMigrationURL both accept. Zero batch metadata is
// written as a single-part batch.
func EncodeMigrationURL(b Batch) (string, error) {
	payload, err := EncodePayload(b)
	if err != nil {
		return "", err
	}
	data := base64.StdEncoding.EncodeToString(payload)
	return MigrationPrefix + url.QueryEscape(data), nil
}

func EncodePayload(b Batch) ([]byte, error) {
	var out []byte
	for i, acc := range b.Accounts {
		msg, err := encodeParameters(acc)
		if err != nil {
			return nil, fmt.Errorf("account %d (%s): %w", i, acc.Name, err)
		}
		out = appendBytesField(out, 1, msg)
	}

	version, size := b.Version, b.BatchSize
	if version == 0 {
		version = 1
	}
	if size == 0 {
		size = 1
	}
	out = appendVarintField(out, 2, uint64(version))
	out = appendVarintField(out, 3, uint64(size))
	out = appendVarintField(out, 4, uint64(b.BatchIndex))
	out = appendVarintField(out, 5, uint64(int64(b.BatchID)))
	return out, nil
}

func encodeParameters(acc Account) ([]byte, error) {
	secret := base32.Decode(acc.Secret)
	if len(secret) == 0 {
		return nil, ErrEmptySecret
	}
	if acc.Type != TypeHOTP && acc.Period != 0 && acc.Period != DefaultPeriod {
		return nil, fmt.Errorf("%w: got %d", ErrUnsupportedPeriod, acc.Period)
	}

	var msg []byte
	msg = appendBytesField(msg, 1, secret)
	msg = appendBytesField(msg, 2, []byte(acc.Name))
	msg = appendBytesField(msg, 3, []byte(acc.Issuer))
	msg = appendVarintField(msg, 4, algorithmEnum(acc.Algorithm))
	msg = appendVarintField(msg, 5, digitsEnum(acc.Digits))
	msg = appendVarintField(msg, 6, typeEnum(acc.Type))
	if acc.Type == TypeHOTP {
		msg = appendVarintField(msg, 7, acc.Counter)
	}
	return msg, nil
}

// SplitBatches chunks accounts into parts of at most size accounts that
// share one batch id, the way the authenticator app splits exports across
// several QR codes.
func SplitBatches(accounts []Account, size int, id int32) []Batch {
	if size <= 0 {
		size = len(accounts)
	}
	if len(accounts) == 0 {
		return nil
	}
	n := (len(accounts) + size - 1) / size
	out := make([]Batch, 0, n)
	for i := 0; i < n; i++ {
		end := min((i+1)*size, len(accounts))
		out = append(out, Batch{
			Accounts:   accounts[i*size : end],
			Version:    1,
			BatchSize:  n,
			BatchIndex: i,
			BatchID:    id,
		})
	}
	return out
}

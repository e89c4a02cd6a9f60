package otpauth

import (
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/y0f/lexotp/internal/base32"
)

// MigrationPrefix is the fixed scheme and path of a Google Authenticator
// export link.
const MigrationPrefix = "otpauth-migration://offline?data="

var (
	ErrInvalidFormat = errors.New("invalid migration url")
	ErrEmptySecret   = errors.New("account has an empty secret")
)

// Decoder turns migration exports into accounts. Malformed entries are
// logged and skipped; they never fail the batch.
type Decoder struct {
	logger      *slog.Logger
	maxAccounts int
}

type DecoderOption func(*Decoder)

// WithMaxAccounts stops decoding after n accounts. Zero means no limit.
func WithMaxAccounts(n int) DecoderOption {
	return func(d *Decoder) { d.maxAccounts = n }
}

func NewDecoder(logger *slog.Logger, opts ...DecoderOption) *Decoder {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Decoder{logger: logger}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// IsMigrationURL reports whether s carries the migration prefix.
func IsMigrationURL(s string) bool {
	return strings.HasPrefix(strings.TrimSpace(s), MigrationPrefix)
}

// DecodeMigrationURL returns the accounts of an export link in encounter
// order. A link without the migration prefix or with undecodable data
// fails with ErrInvalidFormat. A payload with no usable entries yields an
// empty slice.
func (d *Decoder) DecodeMigrationURL(raw string) ([]Account, error) {
	b, err := d.DecodeMigrationBatch(raw)
	if err != nil {
		return nil, err
	}
	return b.Accounts, nil
}

// DecodeMigrationBatch is DecodeMigrationURL keeping the batch metadata.
func (d *Decoder) DecodeMigrationBatch(raw string) (*Batch, error) {
	payload, err := migrationData(raw)
	if err != nil {
		return nil, err
	}
	return d.DecodePayload(payload), nil
}

func migrationData(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, MigrationPrefix) {
		return nil, fmt.Errorf("%w: expected %s prefix", ErrInvalidFormat, MigrationPrefix)
	}
	// Only the data value is read. Path unescaping keeps a literal plus.
	value, _, _ := strings.Cut(raw[len(MigrationPrefix):], "&")
	data, err := url.PathUnescape(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	data = strings.NewReplacer("-", "+", "_", "/").Replace(strings.TrimSpace(data))
	payload, err := base64.RawStdEncoding.DecodeString(strings.TrimRight(data, "="))
	if err != nil {
		return nil, fmt.Errorf("%w: data is not base64: %v", ErrInvalidFormat, err)
	}
	return payload, nil
}

// DecodePayload walks the serialized MigrationPayload message. Structural
// damage at the top level ends the walk; whatever was decoded before it is
// kept.
func (d *Decoder) DecodePayload(payload []byte) *Batch {
	batch := &Batch{Accounts: []Account{}}
	c := newCursor(payload)
	index := 0

	for !c.done() {
		field, wire, err := c.readTag()
		if err != nil {
			d.logger.Warn("migration payload truncated", "offset", c.off, "error", err)
			break
		}

		if field == 1 && wire == wireBytes {
			entry, err := c.readBytes()
			if err != nil {
				d.logger.Warn("skipping migration entry", "index", index, "error", err)
				break
			}
			acc, err := decodeParameters(entry)
			switch {
			case err != nil:
				d.logger.Warn("skipping migration entry", "index", index, "error", err)
			case acc.Secret == "":
				d.logger.Debug("dropping migration entry without secret", "index", index)
			case d.maxAccounts > 0 && len(batch.Accounts) >= d.maxAccounts:
				d.logger.Warn("migration account limit reached", "limit", d.maxAccounts, "index", index)
				return batch
			default:
				batch.Accounts = append(batch.Accounts, acc)
			}
			index++
			continue
		}

		if wire == wireVarint && field >= 2 && field <= 5 {
			v, err := c.readVarint()
			if err != nil {
				d.logger.Warn("migration payload truncated", "field", field, "error", err)
				break
			}
			switch field {
			case 2:
				batch.Version = int(v)
			case 3:
				batch.BatchSize = int(v)
			case 4:
				batch.BatchIndex = int(v)
			case 5:
				batch.BatchID = int32(v)
			}
			continue
		}

		if err := c.skip(wire); err != nil {
			d.logger.Warn("migration payload truncated", "field", field, "wire_type", wire, "error", err)
			break
		}
	}

	return batch
}

// decodeParameters decodes one OtpParameters message. Unknown fields are
// skipped by wire type.
func decodeParameters(msg []byte) (Account, error) {
	acc := Account{
		Algorithm: AlgorithmSHA1,
		Digits:    DefaultDigits,
		Type:      TypeTOTP,
		Period:    DefaultPeriod,
	}
	var secret []byte
	c := newCursor(msg)

	for !c.done() {
		field, wire, err := c.readTag()
		if err != nil {
			return Account{}, err
		}

		if wire == wireBytes && field >= 1 && field <= 3 {
			b, err := c.readBytes()
			if err != nil {
				return Account{}, fmt.Errorf("field %d: %w", field, err)
			}
			switch field {
			case 1:
				secret = b
			case 2:
				acc.Name = utf8String(b)
			case 3:
				acc.Issuer = utf8String(b)
			}
			continue
		}

		if wire == wireVarint && field >= 4 && field <= 7 {
			v, err := c.readVarint()
			if err != nil {
				return Account{}, fmt.Errorf("field %d: %w", field, err)
			}
			switch field {
			case 4:
				acc.Algorithm = algorithmFromEnum(v)
			case 5:
				acc.Digits = digitsFromEnum(v)
			case 6:
				acc.Type = typeFromEnum(v)
			case 7:
				acc.Counter = v
			}
			continue
		}

		if err := c.skip(wire); err != nil {
			return Account{}, fmt.Errorf("field %d: %w", field, err)
		}
	}

	acc.Secret = base32.Encode(secret)
	return acc, nil
}

func utf8String(b []byte) string {
	return strings.ToValidUTF8(string(b), "\uFFFD")
}

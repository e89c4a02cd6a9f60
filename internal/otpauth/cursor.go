package otpauth

import (
	"errors"
	"fmt"
)

// Protobuf wire types.
const (
	wireVarint  = 0
	wireFixed64 = 1
	wireBytes   = 2
	wireFixed32 = 5
)

const maxVarintLen = 10

var (
	ErrTruncated           = errors.New("protobuf: truncated input")
	ErrVarintOverflow      = errors.New("protobuf: varint overflows 64 bits")
	ErrUnsupportedWireType = errors.New("protobuf: unsupported wire type")
	ErrInvalidField        = errors.New("protobuf: invalid field number")
)

// cursor walks a protobuf wire-format buffer. It only understands the
// handful of wire types the migration schema uses.
type cursor struct {
	buf []byte
	off int
}

func newCursor(buf []byte) *cursor {
	return &cursor{buf: buf}
}

func (c *cursor) done() bool {
	return c.off >= len(c.buf)
}

// readVarint fails with ErrTruncated when the buffer ends before a byte
// without the continuation bit.
func (c *cursor) readVarint() (uint64, error) {
	var v uint64
	for i := 0; i < maxVarintLen; i++ {
		if c.off >= len(c.buf) {
			return 0, ErrTruncated
		}
		b := c.buf[c.off]
		c.off++
		if i == maxVarintLen-1 && b > 1 {
			return 0, ErrVarintOverflow
		}
		v |= uint64(b&0x7f) << (7 * i)
		if b&0x80 == 0 {
			return v, nil
		}
	}
	return 0, ErrVarintOverflow
}

func (c *cursor) readTag() (field int, wire int, err error) {
	v, err := c.readVarint()
	if err != nil {
		return 0, 0, err
	}
	field = int(v >> 3)
	if field == 0 {
		return 0, 0, fmt.Errorf("%w at offset %d", ErrInvalidField, c.off)
	}
	return field, int(v & 0x7), nil
}

// readBytes returns a sub-slice of the buffer; it is not copied.
func (c *cursor) readBytes() ([]byte, error) {
	n, err := c.readVarint()
	if err != nil {
		return nil, err
	}
	if n > uint64(len(c.buf)-c.off) {
		return nil, fmt.Errorf("%w: length %d with %d bytes left", ErrTruncated, n, len(c.buf)-c.off)
	}
	b := c.buf[c.off : c.off+int(n)]
	c.off += int(n)
	return b, nil
}

func (c *cursor) advance(n int) error {
	if n > len(c.buf)-c.off {
		return ErrTruncated
	}
	c.off += n
	return nil
}

// skip consumes one field value of the given wire type.
func (c *cursor) skip(wire int) error {
	switch wire {
	case wireVarint:
		_, err := c.readVarint()
		return err
	case wireBytes:
		_, err := c.readBytes()
		return err
	case wireFixed64:
		return c.advance(8)
	case wireFixed32:
		return c.advance(4)
	}
	return fmt.Errorf("%w: %d", ErrUnsupportedWireType, wire)
}

func appendVarint(b []byte, v uint64) []byte {
	for v >= 0x80 {
		b = append(b, byte(v)|0x80)
		v >>= 7
	}
	return append(b, byte(v))
}

func appendTag(b []byte, field, wire int) []byte {
	return appendVarint(b, uint64(field)<<3|uint64(wire))
}

func appendBytesField(b []byte, field int, v []byte) []byte {
	b = appendTag(b, field, wireBytes)
	b = appendVarint(b, uint64(len(v)))
	return append(b, v...)
}

func appendVarintField(b []byte, field int, v uint64) []byte {
	b = appendTag(b, field, wireVarint)
	return appendVarint(b, v)
}

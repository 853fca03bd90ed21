// Package wire provides the binary encoding primitives flock's
// envelope codec builds on: a length-prefixed Builder/Scanner pair and
// a compact variable-width unsigned integer, Vint30.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/creachadair/mds/value"
)

// A Builder is a buffer that accumulates data into an encoded record.
// The zero value is ready for use as an empty builder.
type Builder struct {
	buf []byte
}

// Bool appends a Boolean to b as a single byte, 0 or 1.
func (b *Builder) Bool(ok bool) { b.Put(value.Cond[byte](ok, 1, 0)) }

// Put appends the given bytes to b in order.
func (b *Builder) Put(vs ...byte) { b.buf = append(b.buf, vs...) }

// VPut appends a length-prefixed byte string to b, the length encoded
// as a Vint30.
func (b *Builder) VPut(vs []byte) {
	b.Grow(VLen(len(vs)))
	b.Vint30(uint32(len(vs)))
	b.buf = append(b.buf, vs...)
}

// VPutString appends a length-prefixed string to b, the length
// encoded as a Vint30.
func (b *Builder) VPutString(s string) {
	b.Grow(VLen(len(s)))
	b.Vint30(uint32(len(s)))
	b.buf = append(b.buf, s...)
}

// Uint32 appends v to b in big-endian order.
func (b *Builder) Uint32(v uint32) { b.buf = binary.BigEndian.AppendUint32(b.buf, v) }

// Int64 appends v to b in big-endian order.
func (b *Builder) Int64(v int64) { b.buf = binary.BigEndian.AppendUint64(b.buf, uint64(v)) }

// Vint30 appends a Vint30-encoded v to b.
func (b *Builder) Vint30(v uint32) { b.buf = Vint30(v).Append(b.buf) }

// Len reports the number of bytes currently in the buffer.
func (b *Builder) Len() int { return len(b.buf) }

// Bytes reports the buffer's current contents. The builder retains
// ownership of the returned slice.
func (b *Builder) Bytes() []byte { return b.buf }

// Grow ensures at least n more bytes can be appended to b without a
// further allocation.
func (b *Builder) Grow(n int) {
	want := len(b.buf) + n
	if cap(b.buf) < want {
		r := make([]byte, len(b.buf), max(want, 2*cap(b.buf)))
		copy(r, b.buf)
		b.buf = r
	}
}

// A Scanner reads encoded values from the contents of a record.
// Vint30 and VGet return io.EOF when no further input is available;
// Byte, Bool, Uint32 and Int64 report io.ErrUnexpectedEOF for empty
// input, and every method reports it when a value is truncated
// mid-encoding.
type Scanner struct {
	rest []byte
}

// NewScanner constructs a Scanner that consumes data from input.
func NewScanner[Str ~string | ~[]byte](input Str) *Scanner {
	return &Scanner{rest: []byte(input)}
}

// Bool scans a single byte and converts it to a Boolean (0 is false,
// anything else is true).
func (s *Scanner) Bool() (bool, error) {
	b, err := s.Byte()
	if err != nil {
		return false, err
	}
	return b != 0, nil
}

// Byte scans a single byte from the head of the input.
func (s *Scanner) Byte() (byte, error) {
	if len(s.rest) == 0 {
		return 0, io.ErrUnexpectedEOF
	}
	out := s.rest[0]
	s.rest = s.rest[1:]
	return out, nil
}

// VLen reports the encoded size, in bytes, of a length-prefixed
// encoding of an n-byte string.
func VLen(n int) int { return Vint30(n).Size() + n }

// Vint30 parses a single Vint30 value from the head of the input.
func (s *Scanner) Vint30() (int, error) {
	if len(s.rest) == 0 {
		return 0, io.EOF
	}
	nb := int(s.rest[0]%4) + 1
	if len(s.rest) < nb {
		return 0, io.ErrUnexpectedEOF
	}
	var w uint32
	for i := nb - 1; i >= 0; i-- {
		w = (w * 256) + uint32(s.rest[i])
	}
	s.rest = s.rest[nb:]
	return int(w >> 2), nil
}

// Uint32 parses a big-endian uint32 from the head of the input.
func (s *Scanner) Uint32() (uint32, error) {
	if len(s.rest) < 4 {
		return 0, fmt.Errorf("value truncated (%d < 4 bytes): %w", len(s.rest), io.ErrUnexpectedEOF)
	}
	out := binary.BigEndian.Uint32(s.rest[:4])
	s.rest = s.rest[4:]
	return out, nil
}

// Int64 parses a big-endian int64 from the head of the input.
func (s *Scanner) Int64() (int64, error) {
	if len(s.rest) < 8 {
		return 0, fmt.Errorf("value truncated (%d < 8 bytes): %w", len(s.rest), io.ErrUnexpectedEOF)
	}
	out := binary.BigEndian.Uint64(s.rest[:8])
	s.rest = s.rest[8:]
	return int64(out), nil
}

// Len reports the number of remaining unconsumed input bytes.
func (s *Scanner) Len() int { return len(s.rest) }

// Rest returns the remaining unconsumed input; the slice aliases the
// scanner's backing array and must not be modified.
func (s *Scanner) Rest() []byte { return s.rest }

// VGet parses a single length-prefixed string from the head of s.
func VGet[Str ~string | ~[]byte](s *Scanner) (out Str, err error) {
	nb, err := s.Vint30()
	if err != nil {
		return out, err
	}
	if len(s.rest) < nb {
		return out, fmt.Errorf("value truncated (%d < %d bytes): %w", len(s.rest), nb, io.ErrUnexpectedEOF)
	}
	out = Str(s.rest[:nb])
	s.rest = s.rest[nb:]
	return out, nil
}

// Vint30 is an unsigned 30-bit integer with a variable-width encoding
// from 1 to 4 bytes: the low 2 bits of the first byte give the number
// of additional bytes, so the encoding is self-framing.
type Vint30 uint32

// MaxVint30 is the maximum value a Vint30 can encode.
const MaxVint30 = 1<<30 - 1

// Size reports the number of bytes required to encode v, or -1 if v
// is too large to encode.
func (v Vint30) Size() int {
	switch {
	case v < (1 << 6):
		return 1
	case v < (1 << 14):
		return 2
	case v < (1 << 22):
		return 3
	case v < (1 << 30):
		return 4
	default:
		return -1
	}
}

// Append appends the encoded value of v to buf and returns the updated
// slice. It panics if v is out of range.
func (v Vint30) Append(buf []byte) []byte {
	s := v.Size()
	if s < 0 {
		panic("wire: vint30 value out of range")
	}
	w := uint32(v)*4 + uint32(s-1)
	var tmp [4]byte
	for i := range s {
		tmp[i] = byte(w % 256)
		w /= 256
	}
	return append(buf, tmp[:s]...)
}

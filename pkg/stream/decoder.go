package stream

import (
	"io"
	"unicode/utf8"

	"github.com/pkg/errors"
)

const defaultBufferSize = 4096

// Decoder pulls raw chunks from a response body and turns them into UTF-8 text
// fragments. Multi-byte characters that are split across two reads are carried
// over and emitted with the next fragment.
//
// A Decoder is not safe for concurrent use and cannot be restarted once the
// underlying reader is exhausted.
type Decoder struct {
	r     io.Reader
	buf   []byte
	carry []byte
	err   error
}

type DecoderOption func(*Decoder)

// WithBufferSize sets the size of the read buffer. Values below utf8.UTFMax are ignored.
func WithBufferSize(n int) DecoderOption {
	return func(d *Decoder) {
		if n >= utf8.UTFMax {
			d.buf = make([]byte, n)
		}
	}
}

func NewDecoder(r io.Reader, options ...DecoderOption) *Decoder {
	d := &Decoder{
		r:   r,
		buf: make([]byte, defaultBufferSize),
	}
	for _, o := range options {
		o(d)
	}
	return d
}

// Next returns the next decoded text fragment.
//
// It returns io.EOF once the reader is exhausted and every carried byte has
// been flushed. Any other read error is returned wrapped, errors.Cause yields
// the transport error itself.
func (d *Decoder) Next() (string, error) {
	for {
		if d.err != nil {
			return "", d.err
		}

		n, err := d.r.Read(d.buf)
		var text string
		if n > 0 {
			text = d.decode(d.buf[:n])
		}

		switch {
		case err == io.EOF:
			text += d.flush()
			d.err = io.EOF
		case err != nil:
			// hand out what was decoded so far, the error surfaces on the next call
			d.err = errors.Wrap(err, "reading response body")
		}

		if text != "" {
			return text, nil
		}
	}
}

// decode appends chunk to the carry buffer and returns the longest prefix that
// forms complete UTF-8 sequences. Trailing bytes that could still become a
// valid character are kept for the next call.
func (d *Decoder) decode(chunk []byte) string {
	data := append(d.carry, chunk...)
	d.carry = nil

	cut := len(data)
	// look back at most UTFMax-1 bytes for an unfinished sequence
	for i := len(data) - 1; i >= 0 && i >= len(data)-(utf8.UTFMax-1); i-- {
		b := data[i]
		if b < utf8.RuneSelf {
			break
		}
		if utf8.RuneStart(b) {
			if !utf8.FullRune(data[i:]) {
				cut = i
			}
			break
		}
	}

	if cut < len(data) {
		d.carry = append([]byte(nil), data[cut:]...)
	}
	return toValidString(data[:cut])
}

// flush emits whatever is left in the carry buffer. Incomplete sequences at
// the very end of a stream decode to the replacement character.
func (d *Decoder) flush() string {
	if len(d.carry) == 0 {
		return ""
	}
	rest := toValidString(d.carry)
	d.carry = nil
	return rest
}

func toValidString(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	out := make([]rune, 0, len(b))
	for len(b) > 0 {
		r, size := utf8.DecodeRune(b)
		out = append(out, r)
		b = b[size:]
	}
	return string(out)
}

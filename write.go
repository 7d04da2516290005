package ws

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Header size length bounds in bytes.
const (
	MaxHeaderSizeNoMask = 10 // MaxHeaderSize without the 4 mask bytes.
	MinHeaderSize       = 2
)

const (
	bit0 = 0x80
	bit1 = 0x40
	bit2 = 0x20
	bit3 = 0x10
	bit4 = 0x08
	bit5 = 0x04
	bit6 = 0x02
	bit7 = 0x01

	len7  = int64(MaxShortPayloadSize)
	len16 = int64(MaxMediumPayloadSize)
	len64 = int64(^(uint64(0)) >> 1)
)

// HeaderSize returns number of bytes that are needed to encode given header.
// It returns -1 if header is malformed.
func HeaderSize(h Header) (n int) {
	switch {
	case h.Length < 0:
		return -1
	case h.Length <= len7:
		n = MinHeaderSize
	case h.Length <= len16:
		n = MinHeaderSize + 2
	default:
		n = MaxHeaderSizeNoMask
	}
	if h.Masked {
		n += len(h.Mask)
	}
	return n
}

// TextFrameSize returns the size of an unmasked frame carrying n bytes of
// payload.
func TextFrameSize(n int) int {
	return HeaderSize(Header{Length: int64(n)}) + n
}

// PutHeader encodes h into p and returns the number of bytes written.
// It returns ErrOversizedPayload if p is shorter than HeaderSize(h).
func PutHeader(p []byte, h Header) (int, error) {
	size := HeaderSize(h)
	if size < 0 {
		return 0, ErrHeaderLengthUnexpected
	}
	if len(p) < size {
		return 0, fmt.Errorf("%w: header needs %d bytes, buffer has %d", ErrOversizedPayload, size, len(p))
	}

	p[0] = 0
	if h.Fin {
		p[0] |= bit0
	}
	p[0] |= h.Rsv << 4
	p[0] |= byte(h.OpCode) & 0x0f

	pos := 2 // after fin, rsv and op code byte and length byte.
	switch {
	case h.Length <= len7:
		p[1] = byte(h.Length)
	case h.Length <= len16:
		p[1] = 126
		binary.BigEndian.PutUint16(p[2:], uint16(h.Length))
		pos += 2
	default:
		p[1] = 127
		binary.BigEndian.PutUint64(p[2:], uint64(h.Length))
		pos += 8
	}

	if h.Masked {
		p[1] |= bit0
		pos += copy(p[pos:], h.Mask[:])
	}

	return pos, nil
}

// WriteHeader writes header binary representation into w.
func WriteHeader(w io.Writer, h Header) error {
	var b [MaxHeaderSize]byte
	n, err := PutHeader(b[:], h)
	if err != nil {
		return err
	}
	_, err = w.Write(b[:n])
	return err
}

// WriteFrame writes frame binary representation into w.
// Note that payload is written as is, it is not masked here even if
// f.Header.Masked is set.
func WriteFrame(w io.Writer, f Frame) error {
	if int64(len(f.Payload)) != f.Header.Length {
		return fmt.Errorf("%w: header declares %d bytes, payload has %d",
			ErrHeaderLengthUnexpected, f.Header.Length, len(f.Payload),
		)
	}
	err := WriteHeader(w, f.Header)
	if err != nil {
		return err
	}
	_, err = w.Write(f.Payload)
	return err
}

// EncodeText encodes text as a single final unmasked text frame into dst and
// returns the number of bytes written. That is the server to client
// direction.
//
// The frame takes exactly TextFrameSize(len(text)) bytes. If dst is shorter
// than that, ErrOversizedPayload is returned and dst is left untouched.
func EncodeText(dst []byte, text string) (int, error) {
	if need := TextFrameSize(len(text)); len(dst) < need {
		return 0, fmt.Errorf("%w: frame needs %d bytes, buffer has %d", ErrOversizedPayload, need, len(dst))
	}
	n, err := PutHeader(dst, textHeader(len(text)))
	if err != nil {
		return 0, err
	}
	n += copy(dst[n:], text)
	return n, nil
}

// AppendText appends the single final unmasked text frame carrying text to
// dst and returns the extended slice.
func AppendText(dst []byte, text string) []byte {
	n := len(dst)
	dst = grow(dst, TextFrameSize(len(text)))
	// Capacity was just ensured, so EncodeText could not fail.
	if _, err := EncodeText(dst[n:], text); err != nil {
		panic(err)
	}
	return dst
}

func textHeader(n int) Header {
	return Header{
		Fin:    true,
		OpCode: OpText,
		Length: int64(n),
	}
}

package ws

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	PlatformSizeLimit = int64(^(uint(0)) >> 1) // Max int value for current platform.
)

// Errors used by frame reader and decoder.
var (
	ErrHeaderLengthMSB        = errors.New("header error: the most significant bit must be 0")
	ErrHeaderLengthUnexpected = errors.New("header error: unexpected payload length bits")

	// ErrTruncatedFrame is returned when a frame declares more bytes than
	// there are available.
	ErrTruncatedFrame = errors.New("frame error: truncated frame")
	// ErrOversizedPayload is returned when a payload length exceeds the
	// configured maximum message size or the destination buffer capacity.
	ErrOversizedPayload = errors.New("frame error: payload is too large")
	// ErrTrailingData is returned when a buffer holds bytes after the end of
	// the frame it was supposed to contain.
	ErrTrailingData = errors.New("frame error: unexpected bytes after frame payload")
)

// DecodeHeader parses frame header at the beginning of p. It returns the
// header and the number of bytes it takes.
//
// It never reads past len(p): if p ends before the header does,
// ErrTruncatedFrame is returned.
func DecodeHeader(p []byte) (h Header, n int, err error) {
	if len(p) < MinHeaderSize {
		return h, 0, fmt.Errorf("%w: need %d header bytes, have %d", ErrTruncatedFrame, MinHeaderSize, len(p))
	}

	h.Fin = p[0]&bit0 != 0
	h.Rsv = (p[0] & 0x70) >> 4
	h.OpCode = OpCode(p[0] & 0x0f)
	h.Masked = p[1]&bit0 != 0

	size := headerSize(p[1])
	if len(p) < size {
		return h, 0, fmt.Errorf("%w: need %d header bytes, have %d", ErrTruncatedFrame, size, len(p))
	}

	h.Length, err = parseLength(p[1]&0x7f, p[2:])
	if err != nil {
		return h, 0, err
	}
	if h.Masked {
		copy(h.Mask[:], p[size-4:size])
	}

	return h, size, nil
}

// headerSize returns the header size implied by the second header byte.
func headerSize(b byte) int {
	n := 2
	switch b & 0x7f {
	case 126:
		n += 2
	case 127:
		n += 8
	}
	if b&bit0 != 0 {
		n += 4
	}
	return n
}

// parseLength interprets 7-bit length marker. Extended length bytes are taken
// from the beginning of ext, which must be long enough for the marker.
func parseLength(marker byte, ext []byte) (int64, error) {
	switch {
	case marker < 126:
		return int64(marker), nil

	case marker == 126:
		return int64(binary.BigEndian.Uint16(ext[:2])), nil

	case marker == 127:
		if ext[0]&0x80 != 0 {
			return 0, ErrHeaderLengthMSB
		}
		return int64(binary.BigEndian.Uint64(ext[:8])), nil

	default:
		return 0, ErrHeaderLengthUnexpected
	}
}

// DecodeFrame parses exactly one frame held by p and returns it with
// unmasked payload. The returned payload is a fresh copy, p is not modified.
//
// If max is positive, frames which declare payload longer than max are
// rejected with ErrOversizedPayload before any payload byte is touched.
//
// Note that DecodeFrame does not check the header against any protocol
// policy. Use CheckHeader or DecodeText for that.
func DecodeFrame(p []byte, max int64) (f Frame, err error) {
	h, n, err := DecodeHeader(p)
	if err != nil {
		return f, err
	}
	payload, err := framePayload(h, p[n:], max)
	if err != nil {
		return f, err
	}

	f.Header = h
	f.Payload = make([]byte, len(payload))
	copy(f.Payload, payload)
	if h.Masked {
		Cipher(f.Payload, h.Mask, 0)
	}
	return f, nil
}

// framePayload validates declared header length against max and the bytes
// that follow the header, returning the payload part of rest.
func framePayload(h Header, rest []byte, max int64) ([]byte, error) {
	if err := checkLength(h.Length, max); err != nil {
		return nil, err
	}
	switch {
	case h.Length > int64(len(rest)):
		return nil, fmt.Errorf("%w: header declares %d payload bytes, have %d",
			ErrTruncatedFrame, h.Length, len(rest),
		)
	case h.Length < int64(len(rest)):
		return nil, fmt.Errorf("%w: %d bytes", ErrTrailingData, int64(len(rest))-h.Length)
	}
	return rest, nil
}

func checkLength(n, max int64) error {
	if max > 0 && n > max {
		return fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrOversizedPayload, n, max)
	}
	if n > PlatformSizeLimit {
		return fmt.Errorf("%w: %d bytes exceeds platform limit", ErrOversizedPayload, n)
	}
	return nil
}

// DecodeText parses exactly one client frame held by p and returns its text
// payload. This is the server side counterpart of EncodeText.
//
// The frame must be a final, masked text frame without rsv bits set. Any
// other frame is rejected: ErrUnsupportedOpcode for non-text frames,
// ErrFragmented for non-final ones, ErrMaskRequired for unmasked ones.
// Payload length is checked the same way as DecodeFrame does.
func DecodeText(p []byte, max int64) (string, error) {
	h, n, err := DecodeHeader(p)
	if err != nil {
		return "", err
	}
	if err = CheckHeader(h, StateServerSide); err != nil {
		return "", err
	}
	payload, err := framePayload(h, p[n:], max)
	if err != nil {
		return "", err
	}

	text := make([]byte, len(payload))
	copy(text, payload)
	Cipher(text, h.Mask, 0)

	return string(text), nil
}

// ReadHeader reads a frame header from r.
// It returns io.EOF only if r has no bytes at all; header cut in the middle is
// reported as ErrTruncatedFrame.
func ReadHeader(r io.Reader) (h Header, err error) {
	// Read the fixed part first to know the size of the rest.
	var b [MaxHeaderSize]byte
	if _, err = io.ReadFull(r, b[:MinHeaderSize]); err != nil {
		return h, truncated(err)
	}

	size := headerSize(b[1])
	if size > MinHeaderSize {
		_, err = io.ReadFull(r, b[MinHeaderSize:size])
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		if err != nil {
			return h, truncated(err)
		}
	}

	h, _, err = DecodeHeader(b[:size])
	return h, err
}

// ReadFrame reads a frame from r.
// It makes allocation for frame.Header.Length size inside to read frame
// payload into, so the length is checked against max the same way
// DecodeFrame does it.
//
// Note that ReadFrame does not unmask payload.
func ReadFrame(r io.Reader, max int64) (f Frame, err error) {
	f.Header, err = ReadHeader(r)
	if err != nil {
		return f, err
	}
	if err = checkLength(f.Header.Length, max); err != nil {
		return f, err
	}

	if f.Header.Length > 0 {
		// int(f.Header.Length) is safe here cause we have
		// checked it for overflow above in checkLength.
		f.Payload = make([]byte, int(f.Header.Length))
		_, err = io.ReadFull(r, f.Payload)
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		err = truncated(err)
	}

	return f, err
}

func truncated(err error) error {
	if err == io.ErrUnexpectedEOF {
		return fmt.Errorf("%w: %w", ErrTruncatedFrame, err)
	}
	return err
}

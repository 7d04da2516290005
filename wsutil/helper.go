package wsutil

import (
	"errors"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/textws/ws"
	"github.com/textws/ws/internal/pbytes"
)

// ErrInvalidUTF8 is returned when text message is not a valid UTF-8 sequence.
var ErrInvalidUTF8 = errors.New("invalid utf8 sequence in text message")

// ReadClientText reads next text frame from r, considering that caller
// represents server side. The frame must be final and masked, see
// ws.CheckHeader. If max is positive, frames with longer payload are rejected
// with ws.ErrOversizedPayload before the payload is read.
func ReadClientText(r io.Reader, max int64) (string, error) {
	return readText(r, ws.StateServerSide, max)
}

// ReadServerText reads next text frame from r, considering that caller
// represents client side.
func ReadServerText(r io.Reader, max int64) (string, error) {
	return readText(r, ws.StateClientSide, max)
}

func readText(r io.Reader, s ws.State, max int64) (string, error) {
	h, err := ws.ReadHeader(r)
	if err != nil {
		return "", err
	}
	if err = ws.CheckHeader(h, s); err != nil {
		return "", err
	}
	if max > 0 && h.Length > max {
		return "", fmt.Errorf("%w: %d bytes exceeds limit of %d", ws.ErrOversizedPayload, h.Length, max)
	}
	if h.Length > ws.PlatformSizeLimit {
		return "", ws.ErrOversizedPayload
	}

	p := pbytes.GetLen(int(h.Length))
	defer pbytes.Put(p)

	if _, err = io.ReadFull(r, p); err != nil {
		// Timeouts and closed connections are passed through as is.
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			err = fmt.Errorf("%w: %w", ws.ErrTruncatedFrame, io.ErrUnexpectedEOF)
		}
		return "", err
	}
	if h.Masked {
		ws.Cipher(p, h.Mask, 0)
	}

	return string(p), nil
}

// WriteServerText writes text as a single unmasked frame to w, considering
// that caller represents server side.
func WriteServerText(w io.Writer, text string) error {
	p := pbytes.GetLen(ws.TextFrameSize(len(text)))
	defer pbytes.Put(p)

	n, err := ws.EncodeText(p, text)
	if err != nil {
		return err
	}
	_, err = w.Write(p[:n])
	return err
}

// WriteClientText writes text as a single frame masked with random mask to
// w, considering that caller represents client side.
func WriteClientText(w io.Writer, text string) error {
	return WriteClientTextWith(w, text, ws.NewMask())
}

// WriteClientTextWith is like WriteClientText but uses given mask.
func WriteClientTextWith(w io.Writer, text string, mask [4]byte) error {
	h := ws.Header{
		Fin:    true,
		OpCode: ws.OpText,
		Length: int64(len(text)),
		Masked: true,
		Mask:   mask,
	}
	hs := ws.HeaderSize(h)

	p := pbytes.GetLen(hs + len(text))
	defer pbytes.Put(p)

	if _, err := ws.PutHeader(p, h); err != nil {
		return err
	}
	copy(p[hs:], text)
	ws.Cipher(p[hs:], mask, 0)

	_, err := w.Write(p)
	return err
}

// CheckText reports ErrInvalidUTF8 if text is not valid UTF-8.
func CheckText(text string) error {
	if !utf8.ValidString(text) {
		return ErrInvalidUTF8
	}
	return nil
}

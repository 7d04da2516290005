package ws

import (
	"errors"
	"fmt"
)

// State represents state of websocket endpoint.
// It used by some functions to be more strict when checking compatibility with RFC6455.
type State uint8

const (
	// StateServerSide means that endpoint (caller) is a server.
	StateServerSide State = 0x1 << iota
	// StateClientSide means that endpoint (caller) is a client.
	StateClientSide
)

// Is checks whether the s has v enabled.
func (s State) Is(v State) bool {
	return uint8(s)&uint8(v) != 0
}

// Errors used by the protocol checkers.
var (
	// ErrUnsupportedOpcode is returned for every frame which is not a text
	// frame: binary, continuation, control and reserved ones.
	ErrUnsupportedOpcode = errors.New("protocol error: unsupported op code")
	ErrFragmented        = errors.New("protocol error: fragmented messages are not supported")
	ErrNonZeroRsv        = errors.New("protocol error: non-zero rsv bits with no extension negotiated")
	ErrMaskRequired      = errors.New("protocol error: frames from client to server must be masked")
	ErrMaskUnexpected    = errors.New("protocol error: frames from server to client must be not masked")
)

// CheckHeader checks h to describe a frame this package is able to handle on
// the side given by s. That is, a single final text frame, masked if it was
// sent by a client and not masked otherwise.
//
// Note that zero state (0) skips the mask direction check.
func CheckHeader(h Header, s State) error {
	if h.OpCode != OpText {
		return fmt.Errorf("%w: %s", ErrUnsupportedOpcode, h.OpCode)
	}

	switch {
	case !h.Fin:
		return ErrFragmented

	// [RFC6455]: MUST be 0 unless an extension is negotiated that defines meanings for
	// non-zero values.
	case h.Rsv != 0:
		return fmt.Errorf("%w: rsv1=%t rsv2=%t rsv3=%t", ErrNonZeroRsv, h.Rsv1(), h.Rsv2(), h.Rsv3())

	// [RFC6455]: The server MUST close the connection upon receiving a frame that is not masked.
	// A server MUST NOT mask any frames that it sends to the client.
	// A client MUST close a connection if it detects a masked frame.
	case s.Is(StateServerSide) && !h.Masked:
		return ErrMaskRequired
	case s.Is(StateClientSide) && h.Masked:
		return ErrMaskUnexpected
	}

	return nil
}

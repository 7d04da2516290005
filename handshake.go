package ws

import (
	"bytes"
	"errors"
)

// ErrMissingHandshakeKey is returned when the upgrade request has no
// Sec-WebSocket-Key header. No response must be sent for such request.
var ErrMissingHandshakeKey = errors.New("handshake error: missing Sec-WebSocket-Key header")

var (
	secKeyPrefix          = []byte(headerSecKey + ":")
	secKeyPrefixCanonical = []byte(headerSecKeyCanonical + ":")
)

// Handshake describes the negotiated upgrade of a single connection.
type Handshake struct {
	// URI is the request target. It is filled only by the Upgrader in
	// strict mode.
	URI string

	// Key is the Sec-WebSocket-Key value sent by the client.
	Key string

	// Accept is the Sec-WebSocket-Accept value sent back.
	Accept string
}

// Negotiate parses raw client upgrade request and returns the literal
// "101 Switching Protocols" response which completes the handshake.
//
// Only the Sec-WebSocket-Key header is looked for, other request data is not
// validated. The header name is matched case sensitively: only the spelling
// used by RFC6455 ("Sec-WebSocket-Key") and its MIME canonical form
// ("Sec-Websocket-Key", as net/http based clients send it) are recognized.
// Whitespace around the value is trimmed.
//
// If the key is not found, Negotiate returns nil response and
// ErrMissingHandshakeKey.
//
// Negotiate does no I/O, see Upgrader for that.
func Negotiate(req []byte) ([]byte, error) {
	key, ok := SecKey(req)
	if !ok {
		return nil, ErrMissingHandshakeKey
	}
	return AppendUpgradeResponse(nil, key), nil
}

// SecKey returns value of the Sec-WebSocket-Key header of raw request head.
// Lines are expected to be CRLF terminated; scanning stops at the first empty
// line.
func SecKey(req []byte) (key []byte, ok bool) {
	lines(req, func(line []byte) bool {
		if len(line) == 0 {
			return false
		}
		if bytes.HasPrefix(line, secKeyPrefix) || bytes.HasPrefix(line, secKeyPrefixCanonical) {
			key = btrim(line[len(secKeyPrefix):])
			ok = len(key) > 0
			return false
		}
		return true
	})
	return key, ok
}

// AppendUpgradeResponse appends the "101 Switching Protocols" response for
// the given client key to dst and returns the extended slice.
func AppendUpgradeResponse(dst, key []byte) []byte {
	if dst == nil {
		dst = make([]byte, 0, len(textUpgrade)+len(headerSecAccept)+len(colonAndSpace)+acceptSize+2*len(crlf))
	}
	dst = append(dst, textUpgrade...)
	dst = append(dst, headerSecAccept...)
	dst = append(dst, colonAndSpace...)
	dst = appendAccept(dst, key)
	dst = append(dst, crlf...)
	dst = append(dst, crlf...)
	return dst
}

package ws

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"net/http"
)

// DefaultMaxRequestSize is the default limit of the upgrade request head.
const DefaultMaxRequestSize = 4096

// Errors used by the upgrader.
var (
	ErrRequestTooLarge      = errors.New("handshake error: request head is too large")
	ErrMalformedRequest     = errors.New("handshake error: malformed HTTP request")
	ErrBadHttpRequestMethod = errors.New("handshake error: bad HTTP request method")
	ErrBadHttpRequestProto  = errors.New("handshake error: bad HTTP request protocol version")
	ErrBadHost              = errors.New("handshake error: bad Host header")
	ErrBadUpgrade           = errors.New("handshake error: bad Upgrade header")
	ErrBadConnection        = errors.New("handshake error: bad Connection header")
	ErrBadSecKey            = errors.New("handshake error: bad Sec-WebSocket-Key header")
	ErrBadSecVersion        = errors.New("handshake error: bad Sec-WebSocket-Version header")
)

var (
	expHeaderUpgrade    = []byte("websocket")
	expHeaderConnection = []byte("upgrade")
	expHeaderSecVersion = []byte("13")
)

// DefaultUpgrader is upgrader that holds no options and is used by Upgrade
// function.
var DefaultUpgrader Upgrader

// Upgrade is like DefaultUpgrader.Upgrade.
func Upgrade(br *bufio.Reader, w io.Writer) (Handshake, error) {
	return DefaultUpgrader.Upgrade(br, w)
}

// Upgrader contains options for upgrading connection to websocket.
type Upgrader struct {
	// MaxRequestSize limits the size of request head read from connection.
	// If zero, DefaultMaxRequestSize is used.
	MaxRequestSize int

	// Strict makes the upgrader validate the request line and the Host,
	// Upgrade, Connection and Sec-WebSocket-Version headers as RFC6455
	// requires. Without it only Sec-WebSocket-Key is needed.
	Strict bool
}

// Upgrade reads the upgrade request head from br and writes the handshake
// response to w.
//
// Request bytes are consumed from br exactly up to the end of the head, so
// the caller must keep reading frames from the same br.
//
// If request is rejected, the error response (400, 426 or 431 status) is
// written instead of the upgrade one and the error is returned. The caller
// must close the connection then.
func (u Upgrader) Upgrade(br *bufio.Reader, w io.Writer) (hs Handshake, err error) {
	req, err := readRequest(br, u.maxRequestSize())
	if err == ErrRequestTooLarge {
		httpWriteResponseError(w, err, http.StatusRequestHeaderFieldsTooLarge, "")
		return hs, err
	}
	if err != nil {
		return hs, err
	}

	if u.Strict {
		hs.URI, err = checkRequest(req)
		if err != nil {
			code, extra := http.StatusBadRequest, ""
			if err == ErrBadSecVersion {
				code = http.StatusUpgradeRequired
				extra = headerSecVersion + colonAndSpace + "13" + crlf
			}
			httpWriteResponseError(w, err, code, extra)
			return hs, err
		}
	}

	key, ok := SecKey(req)
	if !ok {
		httpWriteResponseError(w, ErrMissingHandshakeKey, http.StatusBadRequest, "")
		return hs, ErrMissingHandshakeKey
	}
	resp := AppendUpgradeResponse(nil, key)

	hs.Key = string(key)
	hs.Accept = string(resp[len(resp)-len(crlf)*2-acceptSize : len(resp)-len(crlf)*2])

	_, err = w.Write(resp)
	return hs, err
}

func (u Upgrader) maxRequestSize() int {
	if u.MaxRequestSize > 0 {
		return u.MaxRequestSize
	}
	return DefaultMaxRequestSize
}

// readRequest reads request head up to and including the empty line which
// terminates it. The head is not allowed to be longer than max bytes.
func readRequest(br *bufio.Reader, max int) ([]byte, error) {
	var (
		req  []byte
		line int // Start of the current line in req.
	)
	for {
		chunk, err := br.ReadSlice('\n')
		if len(req)+len(chunk) > max {
			return nil, ErrRequestTooLarge
		}
		req = append(req, chunk...)

		switch {
		case err == bufio.ErrBufferFull:
			// Line is longer than reader buffer, continue to read it.
			continue
		case err == io.EOF && len(req) == 0:
			return nil, io.EOF
		case err == io.EOF:
			return nil, io.ErrUnexpectedEOF
		case err != nil:
			return nil, err
		}

		if l := req[line:]; bytes.Equal(l, crlfBytes) || len(l) == 1 {
			return req, nil
		}
		line = len(req)
	}
}

// checkRequest validates request line and upgrade headers of the request
// head. It returns the request URI.
func checkRequest(req []byte) (uri string, err error) {
	// headerSeen constants helps to report whether or not some header was
	// seen during parsing request.
	const (
		headerSeenHost = 1 << iota
		headerSeenUpgrade
		headerSeenConnection
		headerSeenSecVersion
		headerSeenSecKey

		headerSeenAll = 0 |
			headerSeenHost |
			headerSeenUpgrade |
			headerSeenConnection |
			headerSeenSecVersion |
			headerSeenSecKey
	)

	var (
		first      = true
		headerSeen byte
	)
	lines(req, func(line []byte) bool {
		if first {
			first = false
			rl, e := httpParseRequestLine(line)
			switch {
			case e != nil:
				err = e
			case string(rl.method) != http.MethodGet:
				err = ErrBadHttpRequestMethod
			case rl.major < 1 || (rl.major == 1 && rl.minor < 1):
				err = ErrBadHttpRequestProto
			default:
				uri = string(rl.uri)
			}
			return err == nil
		}
		if len(line) == 0 {
			return false
		}

		k, v, ok := httpParseHeaderLine(line)
		if !ok {
			err = ErrMalformedRequest
			return false
		}
		switch {
		case bytes.EqualFold(k, []byte(headerHost)):
			headerSeen |= headerSeenHost
			if len(v) == 0 {
				err = ErrBadHost
			}
		case bytes.EqualFold(k, []byte(headerUpgrade)):
			headerSeen |= headerSeenUpgrade
			if !bytes.EqualFold(v, expHeaderUpgrade) {
				err = ErrBadUpgrade
			}
		case bytes.EqualFold(k, []byte(headerConnection)):
			headerSeen |= headerSeenConnection
			if !btsHasToken(v, expHeaderConnection) {
				err = ErrBadConnection
			}
		case bytes.EqualFold(k, []byte(headerSecVersion)):
			headerSeen |= headerSeenSecVersion
			if !bytes.Equal(v, expHeaderSecVersion) {
				err = ErrBadSecVersion
			}
		case bytes.EqualFold(k, []byte(headerSecKey)):
			headerSeen |= headerSeenSecKey
			if len(v) != nonceSize {
				err = ErrBadSecKey
			}
		}
		return err == nil
	})
	if err != nil {
		return "", err
	}

	if headerSeen != headerSeenAll {
		switch {
		case headerSeen&headerSeenHost == 0:
			err = ErrBadHost
		case headerSeen&headerSeenUpgrade == 0:
			err = ErrBadUpgrade
		case headerSeen&headerSeenConnection == 0:
			err = ErrBadConnection
		case headerSeen&headerSeenSecVersion == 0:
			err = ErrBadSecVersion
		default:
			err = ErrMissingHandshakeKey
		}
		return "", err
	}

	return uri, nil
}

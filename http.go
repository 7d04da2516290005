package ws

import (
	"bytes"
	"io"
	"net/http"
	"strconv"
)

const (
	textErrorContent = "Content-Type: text/plain; charset=utf-8\r\nX-Content-Type-Options: nosniff\r\nConnection: close\r\n"
	textUpgrade      = "HTTP/1.1 101 Switching Protocols\r\nUpgrade: websocket\r\nConnection: Upgrade\r\n"
	crlf             = "\r\n"
	colonAndSpace    = ": "
)

const (
	headerHost       = "Host"
	headerUpgrade    = "Upgrade"
	headerConnection = "Connection"
	headerSecVersion = "Sec-WebSocket-Version"
	headerSecKey     = "Sec-WebSocket-Key"
	headerSecAccept  = "Sec-WebSocket-Accept"

	// MIME canonical form of the header key, as net/http writes it.
	headerSecKeyCanonical = "Sec-Websocket-Key"
)

var (
	crlfBytes         = []byte(crlf)
	httpVersion1_0    = []byte("HTTP/1.0")
	httpVersion1_1    = []byte("HTTP/1.1")
	httpVersionPrefix = []byte("HTTP/")
)

type httpRequestLine struct {
	method, uri  []byte
	major, minor int
}

// httpParseRequestLine parses http request line like "GET / HTTP/1.0".
func httpParseRequestLine(line []byte) (req httpRequestLine, err error) {
	var proto []byte
	req.method, req.uri, proto = bsplit3(line, ' ')

	var ok bool
	req.major, req.minor, ok = httpParseVersion(proto)
	if !ok {
		err = ErrMalformedRequest
		return
	}

	return
}

// httpParseVersion parses major and minor version of HTTP protocol. It returns
// parsed values and true if parse is ok.
func httpParseVersion(bts []byte) (major, minor int, ok bool) {
	switch {
	case bytes.Equal(bts, httpVersion1_0):
		return 1, 0, true
	case bytes.Equal(bts, httpVersion1_1):
		return 1, 1, true
	case len(bts) < 8:
		return
	case !bytes.Equal(bts[:5], httpVersionPrefix):
		return
	}

	bts = bts[5:]

	dot := bytes.IndexByte(bts, '.')
	if dot == -1 {
		return
	}
	var err error
	major, err = asciiToInt(bts[:dot])
	if err != nil {
		return
	}
	minor, err = asciiToInt(bts[dot+1:])
	if err != nil {
		return
	}

	return major, minor, true
}

// httpParseHeaderLine parses HTTP header as key-value pair. It returns parsed
// values and true if parse is ok. The key is returned as is, without
// canonicalization.
func httpParseHeaderLine(line []byte) (k, v []byte, ok bool) {
	colon := bytes.IndexByte(line, ':')
	if colon == -1 {
		return
	}

	k = btrim(line[:colon])
	v = btrim(line[colon+1:])

	return k, v, true
}

// httpErrorResponse builds the response rejecting the upgrade with given
// status code. Extra header lines must be CRLF terminated.
func httpErrorResponse(err error, code int, extra string) []byte {
	body := err.Error()

	var b bytes.Buffer
	b.WriteString("HTTP/1.1 ")
	b.WriteString(strconv.Itoa(code))
	b.WriteByte(' ')
	b.WriteString(http.StatusText(code))
	b.WriteString(crlf)
	b.WriteString(textErrorContent)
	b.WriteString(extra)
	b.WriteString("Content-Length: ")
	b.WriteString(strconv.Itoa(len(body) + 1))
	b.WriteString(crlf)
	b.WriteString(crlf)
	b.WriteString(body)
	b.WriteByte('\n')

	return b.Bytes()
}

func httpWriteResponseError(w io.Writer, err error, code int, extra string) error {
	_, werr := w.Write(httpErrorResponse(err, code, extra))
	return werr
}

package ws

import (
	"bytes"
	"errors"

	"github.com/gobwas/httphead"
)

var errMalformedInt = errors.New("malformed integer")

// btrim trims optional whitespace around the header value.
func btrim(bts []byte) []byte {
	i, j := 0, len(bts)
	for i < j && (bts[i] == ' ' || bts[i] == '\t') {
		i++
	}
	for j > i && (bts[j-1] == ' ' || bts[j-1] == '\t') {
		j--
	}
	return bts[i:j]
}

// bsplit3 splits bts by sep into at most three parts.
func bsplit3(bts []byte, sep byte) (b1, b2, b3 []byte) {
	a := bytes.IndexByte(bts, sep)
	b := bytes.IndexByte(bts[a+1:], sep)
	if a == -1 || b == -1 {
		return bts, nil, nil
	}
	b += a + 1
	return bts[:a], bts[a+1 : b], bts[b+1:]
}

// asciiToInt parses non-negative decimal integer.
func asciiToInt(bts []byte) (ret int, err error) {
	if len(bts) == 0 {
		return 0, errMalformedInt
	}
	for _, c := range bts {
		if c < '0' || c > '9' {
			return 0, errMalformedInt
		}
		ret = ret*10 + int(c-'0')
	}
	return ret, nil
}

// btsHasToken reports whether comma separated header value contains token,
// compared case insensitively.
func btsHasToken(header, token []byte) (has bool) {
	httphead.ScanOptions(header, func(_ int, name, _, _ []byte) httphead.Control {
		if has = bytes.EqualFold(name, token); has {
			return httphead.ControlBreak
		}
		return httphead.ControlContinue
	})
	return has
}

// lines calls it for every CRLF terminated line of p until it returns false or
// p ends. A trailing line without CRLF is passed too.
func lines(p []byte, it func(line []byte) bool) {
	for len(p) > 0 {
		var line []byte
		if i := bytes.Index(p, crlfBytes); i >= 0 {
			line, p = p[:i], p[i+len(crlfBytes):]
		} else {
			line, p = p, nil
		}
		if !it(line) {
			return
		}
	}
}

package ws

import "encoding/base64"

// EncodeBase64 returns the standard, padded base64 encoding of p.
//
// The result is exactly 4*ceil(len(p)/3) bytes long. An empty p gives an
// empty string.
func EncodeBase64(p []byte) string {
	if len(p) == 0 {
		return ""
	}
	return string(AppendBase64(make([]byte, 0, base64.StdEncoding.EncodedLen(len(p))), p))
}

// AppendBase64 appends the standard, padded base64 encoding of p to dst and
// returns the extended slice.
func AppendBase64(dst, p []byte) []byte {
	n := base64.StdEncoding.EncodedLen(len(p))
	dst = grow(dst, n)
	base64.StdEncoding.Encode(dst[len(dst)-n:], p)
	return dst
}

// grow extends dst by n bytes, reallocating only when capacity is short.
func grow(dst []byte, n int) []byte {
	if l := len(dst) + n; l <= cap(dst) {
		return dst[:l]
	}
	ret := make([]byte, len(dst)+n, 2*cap(dst)+n)
	copy(ret, dst)
	return ret
}

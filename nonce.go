package ws

import (
	"crypto/rand"
	"crypto/sha1"
	"fmt"
	"hash"
	"sync"
)

const (
	// RFC6455: The value of this header field MUST be a nonce consisting of a
	// randomly selected 16-byte value that has been base64-encoded (see
	// Section 4 of [RFC4648]).  The nonce MUST be selected randomly for each
	// connection.
	nonceKeySize = 16
	nonceSize    = 24 // base64.StdEncoding.EncodedLen(nonceKeySize)

	// RFC6455: The value of this header field is constructed by concatenating
	// /key/, defined above in step 4 in Section 4.2.2, with the string
	// "258EAFA5- E914-47DA-95CA-C5AB0DC85B11", taking the SHA-1 hash of this
	// concatenated value to obtain a 20-byte value and base64- encoding (see
	// Section 4 of [RFC4648]) this 20-byte hash.
	acceptSize = 28 // base64.StdEncoding.EncodedLen(sha1.Size)
)

// WebSocketMagic is the GUID appended to the client key before hashing.
var WebSocketMagic = []byte("258EAFA5-E914-47DA-95CA-C5AB0DC85B11")

var sha1Pool sync.Pool

func acquireSha1() hash.Hash {
	if h := sha1Pool.Get(); h != nil {
		return h.(hash.Hash)
	}
	return sha1.New()
}

func releaseSha1(h hash.Hash) {
	h.Reset()
	sha1Pool.Put(h)
}

// AcceptKey returns the Sec-WebSocket-Accept value for the given
// Sec-WebSocket-Key value.
//
// The key is used as is. It is not required to be a valid 24 byte nonce, the
// same way the accept value is computed for whatever the client sent.
func AcceptKey(key []byte) string {
	return string(appendAccept(make([]byte, 0, acceptSize), key))
}

// appendAccept appends accept bytes generated from key to dst.
func appendAccept(dst, key []byte) []byte {
	sha := acquireSha1()
	defer releaseSha1(sha)

	sha.Write(key)
	sha.Write(WebSocketMagic)

	var sb [sha1.Size]byte
	return AppendBase64(dst, sha.Sum(sb[:0]))
}

// NewKey returns a fresh random Sec-WebSocket-Key value.
func NewKey() string {
	var p [nonceKeySize]byte
	if _, err := rand.Read(p[:]); err != nil {
		panic(fmt.Sprintf("rand read error: %s", err))
	}
	return EncodeBase64(p[:])
}

// CheckAccept reports whether accept is the valid Sec-WebSocket-Accept value
// for key.
func CheckAccept(accept, key []byte) bool {
	if len(accept) != acceptSize {
		return false
	}
	var b [acceptSize]byte
	return string(appendAccept(b[:0], key)) == string(accept)
}

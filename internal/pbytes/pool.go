// Package pbytes contains pool of byte slices used to encode and read
// frames.
//
// Slices are reused when their capacity is a power of two between 128 bytes
// and 128KiB, which covers every frame with a 16-bit length.
package pbytes

import "github.com/gobwas/pool/pbytes"

const (
	minReuse = 128
	maxReuse = 128 << 10
)

var defaultPool = New(minReuse, maxReuse)

// GetLen returns probably reused slice of bytes with at least capacity of n
// and exactly len of n.
func GetLen(n int) []byte { return defaultPool.GetLen(n) }

// Put returns given slice to reuse pool.
func Put(p []byte) { defaultPool.Put(p) }

// Pool reuses byte slices of sizes in logarithmic range.
type Pool struct {
	pool *pbytes.Pool
}

// New creates new Pool that reuses slices which size is in logarithmic range
// [min, max].
func New(min, max int) *Pool {
	return &Pool{pbytes.New(min, max)}
}

// GetLen returns probably reused slice of bytes with at least capacity of n
// and exactly len of n.
func (p *Pool) GetLen(n int) []byte {
	return p.pool.Get(n, n)
}

// Put returns given slice to reuse pool.
// It does not reuse bytes whose size is not power of two or is out of pool
// min/max range.
func (p *Pool) Put(bts []byte) {
	p.pool.Put(bts)
}

// Package cram implements the HMAC-MD5 primitive backing CRAM-MD5
// authentication (RFC 2195). MAC exposes an incremental add-then-cache
// API rather than a streaming hash.Hash, so this is hand-rolled against
// crypto/md5 instead of reusing crypto/hmac's Hash-shaped constructor.
package cram

import (
	"crypto/md5"
)

const blockSize = 64

// MAC computes an incrementally-fed HMAC-MD5. Result() is cached until
// the next AddData call invalidates it.
type MAC struct {
	ipad, opad [blockSize]byte
	data       []byte
	cached     *[md5.Size]byte
}

// New derives ipad/opad from key, hashing it first if it exceeds the
// block size, per the standard HMAC construction.
func New(key []byte) *MAC {
	m := &MAC{}
	if len(key) > blockSize {
		sum := md5.Sum(key)
		key = sum[:]
	}
	var padded [blockSize]byte
	copy(padded[:], key)
	for i := 0; i < blockSize; i++ {
		m.ipad[i] = padded[i] ^ 0x36
		m.opad[i] = padded[i] ^ 0x5C
	}
	return m
}

// AddData appends to the pending message and invalidates any cached
// result.
func (m *MAC) AddData(p []byte) {
	m.data = append(m.data, p...)
	m.cached = nil
}

// Result returns MD5(opad || MD5(ipad || data)), computing it once and
// caching the value until the next AddData.
func (m *MAC) Result() [md5.Size]byte {
	if m.cached == nil {
		inner := md5.New()
		inner.Write(m.ipad[:])
		inner.Write(m.data)
		innerSum := inner.Sum(nil)

		outer := md5.New()
		outer.Write(m.opad[:])
		outer.Write(innerSum)
		var sum [md5.Size]byte
		copy(sum[:], outer.Sum(nil))
		m.cached = &sum
	}
	return *m.cached
}

// Sum is a one-shot convenience wrapper: HMAC-MD5(key, data).
func Sum(key, data []byte) [md5.Size]byte {
	m := New(key)
	m.AddData(data)
	return m.Result()
}

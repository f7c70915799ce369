// Package digest computes and compares the piece digests the search kernels reproduce.
package digest

import (
	"bytes"
	"crypto/sha1"
)

// Size is the length of a digest in bytes.
const Size = sha1.Size

// Hasher computes block digests.
type Hasher interface {
	Sum(data []byte) []byte
	Size() int
}

// SHA1 is the digest the shipped kernels implement.
type SHA1 struct{}

func (SHA1) Sum(data []byte) []byte {
	sum := sha1.Sum(data)
	return sum[:]
}

func (SHA1) Size() int { return sha1.Size }

// GetHash returns the SHA-1 digest of data.
func GetHash(data []byte) []byte {
	return SHA1{}.Sum(data)
}

// IsEqual reports whether two digests are identical.
func IsEqual(a, b []byte) bool {
	return bytes.Equal(a, b)
}

package staging

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"strings"

	"github.com/zeebo/blake3"
)

var ErrInvalidHash = errors.New("invalid content hash")

// Algorithm names the digest used to address staged content.
type Algorithm string

const (
	SHA256 Algorithm = "sha256"
	BLAKE3 Algorithm = "blake3"
)

// ParseAlgorithm accepts "sha256" (also the empty string) and "blake3".
func ParseAlgorithm(name string) (Algorithm, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", string(SHA256):
		return SHA256, nil
	case string(BLAKE3):
		return BLAKE3, nil
	}
	return "", fmt.Errorf("unknown hash algorithm %q", name)
}

func (a Algorithm) new() hash.Hash {
	if a == BLAKE3 {
		return blake3.New()
	}
	return sha256.New()
}

// Sum digests data. Both algorithms produce 256-bit digests.
func (a Algorithm) Sum(data []byte) ContentHash {
	var sum [32]byte
	switch a {
	case BLAKE3:
		sum = blake3.Sum256(data)
	default:
		a = SHA256
		sum = sha256.Sum256(data)
	}
	return ContentHash(string(a) + ":" + hex.EncodeToString(sum[:]))
}

// ContentHash is the dedup key of staged content, formatted as
// "<algorithm>:<hex digest>".
type ContentHash string

// ComputeHash returns the SHA-256 content hash of data. Identical bytes
// always produce identical hashes.
func ComputeHash(data []byte) ContentHash {
	return SHA256.Sum(data)
}

// Algorithm returns the algorithm prefix of h.
func (h ContentHash) Algorithm() Algorithm {
	algo, _, _ := strings.Cut(string(h), ":")
	return Algorithm(algo)
}

// Hex returns the digest part of h.
func (h ContentHash) Hex() string {
	_, digest, _ := strings.Cut(string(h), ":")
	return digest
}

func (h ContentHash) String() string { return string(h) }

// ParseContentHash validates s as a content hash.
func ParseContentHash(s string) (ContentHash, error) {
	algo, digest, ok := strings.Cut(s, ":")
	if !ok {
		return "", fmt.Errorf("%q: missing algorithm prefix: %w", s, ErrInvalidHash)
	}
	if _, err := ParseAlgorithm(algo); err != nil || algo == "" {
		return "", fmt.Errorf("%q: unknown algorithm: %w", s, ErrInvalidHash)
	}
	raw, err := hex.DecodeString(digest)
	if err != nil {
		return "", fmt.Errorf("%q: %w", s, ErrInvalidHash)
	}
	if len(raw) != 32 {
		return "", fmt.Errorf("%q: digest is %d bytes, want 32: %w", s, len(raw), ErrInvalidHash)
	}
	return ContentHash(s), nil
}

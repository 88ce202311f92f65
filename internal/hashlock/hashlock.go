// internal/hashlock/hashlock.go
package hashlock

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

// DigestSize is the length of a secret-hash commitment in bytes.
const DigestSize = sha256.Size

// Hash returns the SHA-256 commitment of a secret.
func Hash(secret []byte) []byte {
	sum := sha256.Sum256(secret)
	return sum[:]
}

// Verify recomputes the commitment for secret and compares it against
// digest in constant time.
func Verify(secret, digest []byte) bool {
	if len(digest) != DigestSize {
		return false
	}
	sum := sha256.Sum256(secret)
	return subtle.ConstantTimeCompare(sum[:], digest) == 1
}

// EncodeDigest renders a digest as lowercase hex.
func EncodeDigest(digest []byte) string {
	return hex.EncodeToString(digest)
}

// DecodeDigest parses a hex-encoded digest and enforces the 32-byte length.
func DecodeDigest(s string) ([]byte, error) {
	digest, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid digest encoding: %w", err)
	}
	if len(digest) != DigestSize {
		return nil, fmt.Errorf("digest must be %d bytes, got %d", DigestSize, len(digest))
	}
	return digest, nil
}

// HashPhrase returns the hex commitment of a secret phrase, the same value a
// client derives before creating an envelope.
func HashPhrase(phrase string) string {
	return EncodeDigest(Hash([]byte(phrase)))
}

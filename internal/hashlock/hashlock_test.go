package hashlock

import (
	"bytes"
	"testing"
)

func TestHashRoundTrip(t *testing.T) {
	secrets := [][]byte{
		[]byte("correct horse battery staple"),
		[]byte(""),
		[]byte{0x00, 0xff, 0x10},
		bytes.Repeat([]byte("x"), 4096),
	}
	for _, secret := range secrets {
		digest := Hash(secret)
		if len(digest) != DigestSize {
			t.Fatalf("digest length = %d, want %d", len(digest), DigestSize)
		}
		if !Verify(secret, digest) {
			t.Fatalf("verify failed for secret %q", secret)
		}
	}
}

func TestVerifyRejectsWrongDigest(t *testing.T) {
	digest := Hash([]byte("the real secret"))

	if Verify([]byte("a guess"), digest) {
		t.Fatal("verify accepted a wrong secret")
	}

	mutated := append([]byte(nil), digest...)
	mutated[0] ^= 0x01
	if Verify([]byte("the real secret"), mutated) {
		t.Fatal("verify accepted a mutated digest")
	}

	if Verify([]byte("the real secret"), digest[:16]) {
		t.Fatal("verify accepted a truncated digest")
	}
}

func TestHashPhraseKnownVector(t *testing.T) {
	// SHA-256("abc")
	want := "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got := HashPhrase("abc"); got != want {
		t.Fatalf("HashPhrase(abc) = %s, want %s", got, want)
	}
}

func TestDecodeDigest(t *testing.T) {
	digest := Hash([]byte("secret"))
	encoded := EncodeDigest(digest)

	decoded, err := DecodeDigest(encoded)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if !bytes.Equal(decoded, digest) {
		t.Fatal("decoded digest does not match original")
	}

	if _, err := DecodeDigest("zz"); err == nil {
		t.Fatal("expected error for non-hex input")
	}
	if _, err := DecodeDigest("abcd"); err == nil {
		t.Fatal("expected error for short digest")
	}
}

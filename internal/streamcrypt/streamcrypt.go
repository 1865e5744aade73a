// Package streamcrypt implements the chunked AEAD pipeline that is the
// primary on-disk/on-wire representation of object bodies: a stream of
// plaintext is sealed chunk-by-chunk with AES-256-GCM, each chunk laid
// out as nonce(12) || ciphertext || tag(16). Every chunk but the last is
// exactly chunkSize bytes of plaintext before sealing, which lets a
// reader recover chunk boundaries from ciphertext length alone.
//
// Nonces are fresh per chunk via crypto/rand. With random 96-bit nonces
// the birthday bound on collision probability is reached around 2^32
// chunks under one key; that bounds the data one key can safely seal to
// about 4 TiB at 1 KiB chunks, 4 PiB at the 1 MiB DefaultChunkSize, and
// 64 PiB at 16 MiB chunks.
package streamcrypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"io"

	"github.com/cybou-fr/cybs3/internal/apierr"
)

// Overhead is the per-chunk framing cost: a 12-byte nonce plus a
// 16-byte GCM tag.
const Overhead = 12 + 16

// DefaultChunkSize is used when a caller does not pick one explicitly.
const DefaultChunkSize = 1 << 20 // 1 MiB

const nonceSize = 12

// EncryptedSize returns the exact ciphertext size for a plaintext of
// plaintextSize bytes sealed with the given chunkSize.
func EncryptedSize(plaintextSize, chunkSize int64) int64 {
	if plaintextSize == 0 {
		return 0
	}
	full := plaintextSize / chunkSize
	rem := plaintextSize % chunkSize
	size := full * (chunkSize + Overhead)
	if rem != 0 {
		size += rem + Overhead
	}
	return size
}

// OptimalChunkSize picks a chunk size from a piecewise table keyed on
// total plaintext size: small objects get small chunks so the first
// byte is available sooner, large objects get large chunks to amortize
// per-chunk framing overhead.
func OptimalChunkSize(fileSize int64) int64 {
	const (
		kib = 1 << 10
		mib = 1 << 20
		gib = 1 << 30
	)
	switch {
	case fileSize < 10*mib:
		return 256 * kib
	case fileSize < 100*mib:
		return 1 * mib
	case fileSize < 1*gib:
		return 5 * mib
	default:
		return 16 * mib
	}
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindCrypto, apierr.CodeEncryptionFailed, "invalid AES key", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindCrypto, apierr.CodeEncryptionFailed, "failed to build AES-GCM", err)
	}
	return gcm, nil
}

// sealChunk seals plaintext with a fresh random nonce, returning
// nonce || ciphertext || tag.
func sealChunk(gcm cipher.AEAD, plaintext []byte) ([]byte, error) {
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, apierr.Wrap(apierr.KindCrypto, apierr.CodeEncryptionFailed, "failed to generate nonce", err)
	}
	out := make([]byte, 0, nonceSize+len(plaintext)+gcm.Overhead())
	out = append(out, nonce...)
	out = gcm.Seal(out, nonce, plaintext, nil)
	return out, nil
}

// openChunk opens a nonce||ciphertext||tag frame.
func openChunk(gcm cipher.AEAD, frame []byte) ([]byte, error) {
	if len(frame) <= nonceSize+gcm.Overhead() {
		return nil, apierr.New(apierr.KindCrypto, apierr.CodeInvalidCiphertext, "chunk shorter than nonce+tag+1")
	}
	nonce := frame[:nonceSize]
	ct := frame[nonceSize:]
	pt, err := gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindCrypto, apierr.CodeDecryptionFailed, "AEAD tag mismatch", err)
	}
	return pt, nil
}

// EncryptAll seals an entire in-memory plaintext at the given chunk
// size. It is a convenience wrapper around EncryptWriter for callers
// that already hold the whole object in memory.
func EncryptAll(key, plaintext []byte, chunkSize int64) ([]byte, error) {
	var out buffer
	enc, err := NewEncryptWriter(&out, key, chunkSize)
	if err != nil {
		return nil, err
	}
	if len(plaintext) > 0 {
		if _, err := enc.Write(plaintext); err != nil {
			return nil, err
		}
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return out.b, nil
}

// DecryptAll opens an entire in-memory ciphertext produced by
// EncryptAll or EncryptWriter at the given chunk size.
func DecryptAll(key, ciphertext []byte, chunkSize int64) ([]byte, error) {
	dec, err := NewDecryptReader(newBuffer(ciphertext), key, chunkSize)
	if err != nil {
		return nil, err
	}
	return io.ReadAll(dec)
}

// buffer is a minimal growable io.Writer used by EncryptAll; it avoids
// pulling in bytes.Buffer's wider API for a single append loop.
type buffer struct{ b []byte }

func (b *buffer) Write(p []byte) (int, error) {
	b.b = append(b.b, p...)
	return len(p), nil
}

func newBuffer(p []byte) *bytesReader {
	return &bytesReader{data: p}
}

// bytesReader is a minimal io.Reader over a byte slice.
type bytesReader struct {
	data []byte
	pos  int
}

func (r *bytesReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	n := copy(p, r.data[r.pos:])
	r.pos += n
	return n, nil
}

package streamcrypt

import (
	"crypto/cipher"
	"io"

	"github.com/cybou-fr/cybs3/internal/apierr"
)

// EncryptWriter wraps an underlying io.Writer and seals plaintext into
// fixed-size chunks as it is written. Callers must call Close to flush
// and seal any buffered remainder; the last chunk written may be
// shorter than chunkSize.
type EncryptWriter struct {
	dst       io.Writer
	gcm       cipher.AEAD
	chunkSize int
	buf       []byte
	closed    bool
}

// NewEncryptWriter builds an EncryptWriter sealing chunks of chunkSize
// plaintext bytes (the final chunk may be shorter) under key.
func NewEncryptWriter(dst io.Writer, key []byte, chunkSize int64) (*EncryptWriter, error) {
	if chunkSize <= 0 {
		return nil, apierr.New(apierr.KindUser, apierr.CodeInvalidInput, "chunk size must be positive")
	}
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	return &EncryptWriter{
		dst:       dst,
		gcm:       gcm,
		chunkSize: int(chunkSize),
		buf:       make([]byte, 0, chunkSize),
	}, nil
}

// Write buffers p and seals full chunks to the destination as they
// accumulate. It never blocks on a partial chunk; call Close to flush
// the tail.
func (e *EncryptWriter) Write(p []byte) (int, error) {
	total := len(p)
	for len(p) > 0 {
		room := e.chunkSize - len(e.buf)
		n := copy(e.buf[len(e.buf):len(e.buf)+room], p)
		e.buf = e.buf[:len(e.buf)+n]
		p = p[n:]
		if len(e.buf) == e.chunkSize {
			if err := e.flush(); err != nil {
				return total - len(p), err
			}
		}
	}
	return total, nil
}

func (e *EncryptWriter) flush() error {
	frame, err := sealChunk(e.gcm, e.buf)
	if err != nil {
		return err
	}
	if _, err := e.dst.Write(frame); err != nil {
		return apierr.Wrap(apierr.KindIO, apierr.CodeIOError, "failed to write sealed chunk", err)
	}
	e.buf = e.buf[:0]
	return nil
}

// Close seals and flushes any buffered partial chunk. It is idempotent.
func (e *EncryptWriter) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	if len(e.buf) == 0 {
		return nil
	}
	return e.flush()
}

// DecryptReader wraps an underlying io.Reader of sealed chunks and
// exposes the recovered plaintext stream. It reads one full frame
// (chunkSize+Overhead bytes, or fewer for the final chunk) at a time.
type DecryptReader struct {
	src       io.Reader
	gcm       cipher.AEAD
	chunkSize int
	frame     []byte
	pending   []byte
	eof       bool
}

// NewDecryptReader builds a DecryptReader expecting chunks sealed with
// chunkSize plaintext bytes each (the final chunk may be shorter).
func NewDecryptReader(src io.Reader, key []byte, chunkSize int64) (*DecryptReader, error) {
	if chunkSize <= 0 {
		return nil, apierr.New(apierr.KindUser, apierr.CodeInvalidInput, "chunk size must be positive")
	}
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	return &DecryptReader{
		src:       src,
		gcm:       gcm,
		chunkSize: int(chunkSize),
		frame:     make([]byte, chunkSize+Overhead),
	}, nil
}

func (d *DecryptReader) Read(p []byte) (int, error) {
	for len(d.pending) == 0 {
		if d.eof {
			return 0, io.EOF
		}
		n, err := io.ReadFull(d.src, d.frame)
		switch {
		case err == nil:
			// full frame; more may follow
		case err == io.ErrUnexpectedEOF && n > 0:
			d.eof = true
		case err == io.EOF:
			d.eof = true
			return 0, io.EOF
		default:
			return 0, apierr.Wrap(apierr.KindIO, apierr.CodeIOError, "failed to read sealed chunk", err)
		}
		pt, derr := openChunk(d.gcm, d.frame[:n])
		if derr != nil {
			return 0, derr
		}
		d.pending = pt
	}
	n := copy(p, d.pending)
	d.pending = d.pending[n:]
	return n, nil
}

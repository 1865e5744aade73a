package streamcrypt

import "github.com/cybou-fr/cybs3/internal/apierr"

// Cursor maps a plaintext byte offset to the ciphertext frame that
// contains it, so a resumable download can seek an underlying storage
// reader directly to a chunk boundary instead of re-downloading and
// discarding everything before the resume point.
type Cursor struct {
	chunkSize int64
}

// NewCursor builds a Cursor for the given chunk size.
func NewCursor(chunkSize int64) (*Cursor, error) {
	if chunkSize <= 0 {
		return nil, apierr.New(apierr.KindUser, apierr.CodeInvalidInput, "chunk size must be positive")
	}
	return &Cursor{chunkSize: chunkSize}, nil
}

// ChunkIndex returns the zero-based index of the chunk containing
// plaintext offset.
func (c *Cursor) ChunkIndex(offset int64) int64 {
	return offset / c.chunkSize
}

// FrameOffset returns the byte offset, in the ciphertext stream, at
// which the given chunk's frame begins.
func (c *Cursor) FrameOffset(chunkIndex int64) int64 {
	return chunkIndex * (c.chunkSize + Overhead)
}

// IntraChunkOffset returns how many plaintext bytes into its chunk the
// given offset falls, i.e. how many decrypted bytes a resumed read
// must discard after opening that chunk.
func (c *Cursor) IntraChunkOffset(offset int64) int64 {
	return offset % c.chunkSize
}

// Resume returns the ciphertext frame offset to seek to, and the
// number of decrypted bytes to discard from that chunk, to resume a
// plaintext read at offset.
func (c *Cursor) Resume(offset int64) (frameOffset, discard int64) {
	idx := c.ChunkIndex(offset)
	return c.FrameOffset(idx), c.IntraChunkOffset(offset)
}

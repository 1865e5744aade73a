package mnemonic

import (
	"crypto/sha256"
	"hash"
	"io"
)

func newSHA256() hash.Hash { return sha256.New() }

func readFull(r io.Reader, buf []byte) (int, error) {
	return io.ReadFull(r, buf)
}

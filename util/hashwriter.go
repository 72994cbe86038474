package util

import (
	"bytes"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"
)

// A HashWriter wraps an io.Writer and computes the MD5 and SHA256 digests
// of everything written through it. It is used to record the digests of
// distribution files as they are saved, and to verify the md5_digest
// clients send along with uploads.
type HashWriter struct {
	io.Writer // the underlying io.MultiWriter
	md5       hash.Hash
	sha256    hash.Hash
}

// NewHashWriter returns a HashWriter computing both digests while copying
// writes to w.
func NewHashWriter(w io.Writer) *HashWriter {
	hw := &HashWriter{
		md5:    md5.New(),
		sha256: sha256.New(),
	}
	hw.Writer = io.MultiWriter(w, hw.md5, hw.sha256)
	return hw
}

// NewMD5Writer returns a HashWriter wrapping w which only computes an MD5
// digest.
func NewMD5Writer(w io.Writer) *HashWriter {
	hw := &HashWriter{
		md5: md5.New(),
	}
	hw.Writer = io.MultiWriter(w, hw.md5)
	return hw
}

// CheckMD5 returns the MD5 digest of the bytes written so far and compares
// it with goal. An empty goal is treated as matching.
func (hw *HashWriter) CheckMD5(goal []byte) ([]byte, bool) {
	var computed []byte
	if hw.md5 != nil {
		computed = hw.md5.Sum(nil)
	}
	ok := len(goal) == 0 || bytes.Equal(goal, computed)
	return computed, ok
}

// CheckSHA256 is like CheckMD5 for the SHA256 digest.
func (hw *HashWriter) CheckSHA256(goal []byte) ([]byte, bool) {
	var computed []byte
	if hw.sha256 != nil {
		computed = hw.sha256.Sum(nil)
	}
	ok := len(goal) == 0 || bytes.Equal(goal, computed)
	return computed, ok
}

// Sums returns the hex encoded MD5 and SHA256 digests of the bytes written
// so far. A digest which was not being computed is returned as "".
func (hw *HashWriter) Sums() (md5hex string, sha256hex string) {
	if hw.md5 != nil {
		md5hex = hex.EncodeToString(hw.md5.Sum(nil))
	}
	if hw.sha256 != nil {
		sha256hex = hex.EncodeToString(hw.sha256.Sum(nil))
	}
	return
}

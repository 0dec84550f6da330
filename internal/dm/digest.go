package dm

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
)

// DigestLength is the length of a hex-encoded SHA-256 digest.
const DigestLength = sha256.Size * 2

// ComputeDigest streams r through SHA-256 and returns the lowercase hex digest
// and the number of bytes read. The content is never held in memory as a whole.
func ComputeDigest(r io.Reader) (string, int64, error) {
	d := NewDigester(r)
	if _, err := io.Copy(io.Discard, d); err != nil {
		return "", d.Size(), err
	}
	return d.Digest(), d.Size(), nil
}

// Digester is an io.Reader that fingerprints everything read through it.
// Staging uses it to hash an upload while spooling it to disk.
type Digester struct {
	r io.Reader
	h hash.Hash
	n int64
}

// NewDigester wraps r.
func NewDigester(r io.Reader) *Digester {
	return &Digester{r: r, h: sha256.New()}
}

func (d *Digester) Read(p []byte) (int, error) {
	n, err := d.r.Read(p)
	if n > 0 {
		d.h.Write(p[:n])
		d.n += int64(n)
	}
	if err != nil && err != io.EOF {
		return n, fmt.Errorf("reading content: %w: %w", ErrIO, err)
	}
	return n, err
}

// Digest returns the hex digest of the bytes read so far.
func (d *Digester) Digest() string {
	return hex.EncodeToString(d.h.Sum(nil))
}

// Size returns the number of bytes read so far.
func (d *Digester) Size() int64 {
	return d.n
}

// ValidDigest reports whether s is a 64-character lowercase hex string.
func ValidDigest(s string) bool {
	if len(s) != DigestLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// ParseDigest validates s as a content digest.
func ParseDigest(s string) (string, error) {
	if !ValidDigest(s) {
		return "", fmt.Errorf("%w: malformed digest %q", ErrInvalidInput, s)
	}
	return s, nil
}

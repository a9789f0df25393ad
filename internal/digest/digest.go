// Package digest implements the content hash used to name every
// cache-addressed object: manifests, results, and the
// direct/preprocessor lookup keys that point at them.
package digest

import (
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/blake2b"
)

// Size is the width, in bytes, of a Digest.
const Size = 20

// HashPrefix is absorbed first by every Hasher. Bumping it invalidates
// every entry already on disk: a new prefix can never collide with an
// old one's finalized bytes.
const HashPrefix = "ccwrap-rev1"

// Digest is a fixed-width content address. Its printable form is
// lowercase hex.
type Digest [Size]byte

// String returns the lowercase-hex form of d.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// IsZero reports whether d is the zero digest, used as a sentinel for
// "no digest yet" rather than a valid Finalize result.
func (d Digest) IsZero() bool {
	return d == Digest{}
}

// ParseDigest parses the lowercase-hex form produced by String.
func ParseDigest(s string) (Digest, error) {
	var d Digest
	b, err := hex.DecodeString(s)
	if err != nil {
		return d, fmt.Errorf("digest: invalid hex %q: %w", s, err)
	}
	if len(b) != Size {
		return d, fmt.Errorf("digest: want %d bytes, got %d", Size, len(b))
	}
	copy(d[:], b)
	return d, nil
}

// Hasher accumulates labeled-delimiter framed input. Every logically
// distinct field MUST be preceded by a Delimiter call so that two
// different (label, payload) sequences can never collapse onto the
// same raw byte stream; that is what keeps a filename from being
// confusable with a flag value that happens to share bytes.
//
// Hasher buffers everything absorbed so far rather than feeding an
// incremental hash.Hash, so that Copy (used to fork the common prefix
// shared between the direct-mode and preprocessor-mode keys) is a
// plain byte-slice copy rather than requiring a clonable hash state,
// which blake2b's public API does not expose.
type Hasher struct {
	buf []byte
}

// New creates a Hasher seeded with HashPrefix under the "prefix"
// label.
func New() *Hasher {
	h := &Hasher{}
	h.Delimiter("prefix")
	h.AbsorbString(HashPrefix)
	return h
}

// Absorb feeds raw bytes into the running hash. Callers MUST call
// Delimiter before each logically distinct field; Absorb itself adds
// no framing.
func (h *Hasher) Absorb(p []byte) {
	h.buf = append(h.buf, p...)
}

// AbsorbString is a convenience wrapper around Absorb.
func (h *Hasher) AbsorbString(s string) {
	h.buf = append(h.buf, s...)
}

// AbsorbReader streams r's content into the hash without buffering it
// twice in the caller, for the large-file case (source files, headers).
func (h *Hasher) AbsorbReader(r io.Reader) error {
	buf := make([]byte, 64*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			h.Absorb(buf[:n])
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}

// Delimiter absorbs a short label plus a NUL separator. NUL cannot
// appear inside a label, which keeps the label alphabet prefix-free:
// no label is a prefix of another once the separator byte is
// included, so concatenating label+payload can never be confused with
// a different label+payload pairing.
func (h *Hasher) Delimiter(label string) {
	h.buf = append(h.buf, label...)
	h.buf = append(h.buf, 0)
}

// Copy returns an independent Hasher carrying everything absorbed so
// far, letting the orchestrator fork the common prefix shared by the
// direct-mode and preprocessor-mode hashes without re-absorbing it.
func (h *Hasher) Copy() *Hasher {
	return &Hasher{buf: append([]byte(nil), h.buf...)}
}

// Finalize returns the Digest for everything absorbed so far. It does
// not mutate the Hasher, so Finalize may be called speculatively
// (e.g. to compare against a manifest candidate) before further
// absorption.
func (h *Hasher) Finalize() Digest {
	impl, err := blake2b.New(Size, nil)
	if err != nil {
		// Size is a compile-time constant within blake2b's supported
		// 1..64 range; this can only fail on programmer error.
		panic(fmt.Sprintf("digest: blake2b.New: %v", err))
	}
	impl.Write(h.buf)
	var d Digest
	copy(d[:], impl.Sum(nil))
	return d
}

// HashReader hashes the full content of r under a single delimiter,
// used for simple whole-file hashes (e.g. --hash-file).
func HashReader(label string, r io.Reader) (Digest, error) {
	h := New()
	h.Delimiter(label)
	if err := h.AbsorbReader(r); err != nil {
		return Digest{}, err
	}
	return h.Finalize(), nil
}

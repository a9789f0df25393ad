// Package manifest implements the manifest store: the
// (source-fingerprint -> candidate list) structure direct mode
// consults to avoid ever running the preprocessor. Each candidate
// records the exact set of included files a prior compilation of this
// source saw (by content digest, optionally with stat fields for the
// file_stat_matches sloppiness fast path) together with the result
// digest that compilation produced.
package manifest

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/cacheline/ccwrap/internal/digest"
)

// magic identifies a ccwrap manifest file; version lets the format
// evolve without corrupting old caches into silent garbage.
const (
	magic          = "CWMF"
	formatVersion  = 1
	headerByteSize = 4 + 1 + 1 + 1 + 8 + 4 + 4 + 4 // magic+version+compType+compLevel+ctime+count+payloadSize+crc32
)

// CompressionType is the payload codec used for one manifest file.
type CompressionType uint8

const (
	CompressionNone CompressionType = 0
	CompressionZstd CompressionType = 1
)

// Header is the fixed-size prefix of every manifest file. Result
// files share the same shape, so readers of either format can reject
// foreign or truncated bytes the same way.
type Header struct {
	Version          uint8
	Compression      CompressionType
	CompressionLevel int8
	CreationTime     time.Time
	EntryCount       uint32
	PayloadSize      uint32 // compressed size on disk
	PayloadCRC32     uint32 // checksum of the compressed payload bytes
}

// IncludedFileRecord is the on-disk form of an included file within a
// candidate's include set.
type IncludedFileRecord struct {
	Path     string
	Digest   digest.Digest
	Size     int64
	Mtime    int64 // unix nanoseconds; 0 if not recorded
	Ctime    int64
}

// Candidate is one entry of the manifest: the include set seen by a
// prior compilation and the result it produced.
type Candidate struct {
	IncludedFiles []IncludedFileRecord
	Result        digest.Digest
}

// Manifest is the full decoded contents of one manifest file.
type Manifest struct {
	Candidates []Candidate
}

// encodeHeader writes h in its fixed binary layout.
func encodeHeader(w *bytes.Buffer, h Header) {
	w.WriteString(magic)
	w.WriteByte(h.Version)
	w.WriteByte(byte(h.Compression))
	w.WriteByte(byte(h.CompressionLevel))
	var buf8 [8]byte
	binary.BigEndian.PutUint64(buf8[:], uint64(h.CreationTime.UnixNano()))
	w.Write(buf8[:])
	var buf4 [4]byte
	binary.BigEndian.PutUint32(buf4[:], h.EntryCount)
	w.Write(buf4[:])
	binary.BigEndian.PutUint32(buf4[:], h.PayloadSize)
	w.Write(buf4[:])
	binary.BigEndian.PutUint32(buf4[:], h.PayloadCRC32)
	w.Write(buf4[:])
}

// decodeHeader parses the fixed header prefix of raw, returning the
// header and the payload bytes that follow.
func decodeHeader(raw []byte) (Header, []byte, error) {
	if len(raw) < headerByteSize {
		return Header{}, nil, fmt.Errorf("manifest: truncated header (%d bytes)", len(raw))
	}
	if string(raw[0:4]) != magic {
		return Header{}, nil, fmt.Errorf("manifest: bad magic %q", raw[0:4])
	}
	h := Header{
		Version:          raw[4],
		Compression:      CompressionType(raw[5]),
		CompressionLevel: int8(raw[6]),
	}
	off := 7
	h.CreationTime = time.Unix(0, int64(binary.BigEndian.Uint64(raw[off:off+8])))
	off += 8
	h.EntryCount = binary.BigEndian.Uint32(raw[off : off+4])
	off += 4
	h.PayloadSize = binary.BigEndian.Uint32(raw[off : off+4])
	off += 4
	h.PayloadCRC32 = binary.BigEndian.Uint32(raw[off : off+4])
	off += 4

	if h.Version != formatVersion {
		return Header{}, nil, fmt.Errorf("manifest: unsupported version %d", h.Version)
	}
	payload := raw[off:]
	if uint32(len(payload)) < h.PayloadSize {
		return Header{}, nil, fmt.Errorf("manifest: truncated payload: want %d, got %d", h.PayloadSize, len(payload))
	}
	payload = payload[:h.PayloadSize]
	if crc32.ChecksumIEEE(payload) != h.PayloadCRC32 {
		return Header{}, nil, fmt.Errorf("manifest: payload checksum mismatch")
	}
	return h, payload, nil
}

// encodePayload serializes m's candidates into the uncompressed
// payload layout: entry count, then per entry an include-file table
// followed by the result digest. Strings and byte slices are
// length-prefixed (uint32 big-endian).
func encodePayload(m Manifest) []byte {
	var buf bytes.Buffer
	writeUint32(&buf, uint32(len(m.Candidates)))
	for _, c := range m.Candidates {
		writeUint32(&buf, uint32(len(c.IncludedFiles)))
		for _, f := range c.IncludedFiles {
			writeString(&buf, f.Path)
			buf.Write(f.Digest[:])
			writeInt64(&buf, f.Size)
			writeInt64(&buf, f.Mtime)
			writeInt64(&buf, f.Ctime)
		}
		buf.Write(c.Result[:])
	}
	return buf.Bytes()
}

func decodePayload(raw []byte) (Manifest, error) {
	r := bytes.NewReader(raw)
	count, err := readUint32(r)
	if err != nil {
		return Manifest{}, err
	}
	m := Manifest{Candidates: make([]Candidate, 0, count)}
	for i := uint32(0); i < count; i++ {
		nFiles, err := readUint32(r)
		if err != nil {
			return Manifest{}, err
		}
		c := Candidate{IncludedFiles: make([]IncludedFileRecord, 0, nFiles)}
		for j := uint32(0); j < nFiles; j++ {
			path, err := readString(r)
			if err != nil {
				return Manifest{}, err
			}
			var d digest.Digest
			if _, err := readFull(r, d[:]); err != nil {
				return Manifest{}, fmt.Errorf("manifest: reading digest: %w", err)
			}
			size, err := readInt64(r)
			if err != nil {
				return Manifest{}, err
			}
			mtime, err := readInt64(r)
			if err != nil {
				return Manifest{}, err
			}
			ctime, err := readInt64(r)
			if err != nil {
				return Manifest{}, err
			}
			c.IncludedFiles = append(c.IncludedFiles, IncludedFileRecord{
				Path: path, Digest: d, Size: size, Mtime: mtime, Ctime: ctime,
			})
		}
		var resultDigest digest.Digest
		if _, err := readFull(r, resultDigest[:]); err != nil {
			return Manifest{}, fmt.Errorf("manifest: reading result digest: %w", err)
		}
		c.Result = resultDigest
		m.Candidates = append(m.Candidates, c)
	}
	return m, nil
}

// zstdLevel maps ccache's 1-19 zstd-style compression_level setting
// onto the coarser speed/ratio tiers klauspost/compress/zstd exposes.
func zstdLevel(level int) zstd.EncoderLevel {
	switch {
	case level <= 3:
		return zstd.SpeedFastest
	case level <= 9:
		return zstd.SpeedDefault
	case level <= 15:
		return zstd.SpeedBetterCompression
	default:
		return zstd.SpeedBestCompression
	}
}

func compressPayload(raw []byte, level int) ([]byte, CompressionType, error) {
	if level <= 0 {
		return raw, CompressionNone, nil
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstdLevel(level)))
	if err != nil {
		return nil, CompressionNone, fmt.Errorf("manifest: zstd encoder: %w", err)
	}
	defer enc.Close()
	return enc.EncodeAll(raw, nil), CompressionZstd, nil
}

func decompressPayload(compressed []byte, ctype CompressionType) ([]byte, error) {
	switch ctype {
	case CompressionNone:
		return compressed, nil
	case CompressionZstd:
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("manifest: zstd decoder: %w", err)
		}
		defer dec.Close()
		out, err := dec.DecodeAll(compressed, nil)
		if err != nil {
			return nil, fmt.Errorf("manifest: zstd decode: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("manifest: unknown compression type %d", ctype)
	}
}

// Encode serializes m into a complete manifest file's bytes, at the
// given compression level (<=0 disables compression).
func Encode(m Manifest, level int) ([]byte, error) {
	raw := encodePayload(m)
	compressed, ctype, err := compressPayload(raw, level)
	if err != nil {
		return nil, err
	}
	h := Header{
		Version:          formatVersion,
		Compression:      ctype,
		CompressionLevel: int8(level),
		CreationTime:     time.Now(),
		EntryCount:       uint32(len(m.Candidates)),
		PayloadSize:      uint32(len(compressed)),
		PayloadCRC32:     crc32.ChecksumIEEE(compressed),
	}
	var out bytes.Buffer
	encodeHeader(&out, h)
	out.Write(compressed)
	return out.Bytes(), nil
}

// Decode parses a complete manifest file's bytes.
func Decode(raw []byte) (Manifest, error) {
	h, payload, err := decodeHeader(raw)
	if err != nil {
		return Manifest{}, err
	}
	plain, err := decompressPayload(payload, h.Compression)
	if err != nil {
		return Manifest{}, err
	}
	return decodePayload(plain)
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeInt64(buf *bytes.Buffer, v int64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	buf.Write(b[:])
}

func writeString(buf *bytes.Buffer, s string) {
	writeUint32(buf, uint32(len(s)))
	buf.WriteString(s)
}

func readUint32(r *bytes.Reader) (uint32, error) {
	var b [4]byte
	if _, err := readFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func readInt64(r *bytes.Reader) (int64, error) {
	var b [8]byte
	if _, err := readFull(r, b[:]); err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(b[:])), nil
}

func readString(r *bytes.Reader) (string, error) {
	n, err := readUint32(r)
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := readFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func readFull(r *bytes.Reader, buf []byte) (int, error) {
	n, err := r.Read(buf)
	if err != nil {
		return n, err
	}
	if n != len(buf) {
		return n, fmt.Errorf("manifest: short read: want %d, got %d", len(buf), n)
	}
	return n, nil
}

// Package result implements the result store: a single ".result" file
// per result digest bundling every artifact one compilation produced (object file, dependency file, stderr capture,
// coverage notes, stack-usage report, diagnostics, split-dwarf
// object), so a cache hit can replay the whole compiler invocation's
// effects at once.
package result

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"time"

	"github.com/klauspost/compress/zstd"
)

// FileType is the closed enum of artifact kinds a result bundle may
// carry.
type FileType uint8

const (
	FileObject FileType = iota
	FileDependency
	FileStderrOutput
	FileCoverage
	FileStackUsage
	FileDiagnostic
	FileDwarfObject
)

func (t FileType) String() string {
	switch t {
	case FileObject:
		return "object"
	case FileDependency:
		return "dependency"
	case FileStderrOutput:
		return "stderr_output"
	case FileCoverage:
		return "coverage"
	case FileStackUsage:
		return "stack_usage"
	case FileDiagnostic:
		return "diagnostic"
	case FileDwarfObject:
		return "dwarf_object"
	default:
		return fmt.Sprintf("FileType(%d)", uint8(t))
	}
}

const (
	magic          = "CWRS"
	formatVersion  = 1
	headerByteSize = 4 + 1 + 1 + 1 + 8 + 4 + 4 + 4
)

// CompressionType mirrors internal/manifest's codec tag; kept as a
// separate type since the two packages' file formats, while shaped
// alike, are independent.
type CompressionType uint8

const (
	CompressionNone CompressionType = 0
	CompressionZstd CompressionType = 1
)

// Entry is one artifact within a result bundle.
type Entry struct {
	Type    FileType
	Payload []byte
}

// Bundle is the full decoded contents of one ".result" file.
type Bundle struct {
	CreationTime time.Time
	Entries      []Entry
}

// Get returns the entry of the given type, if present.
func (b Bundle) Get(t FileType) (Entry, bool) {
	for _, e := range b.Entries {
		if e.Type == t {
			return e, true
		}
	}
	return Entry{}, false
}

// encodeEntries serializes the entry table (type, size, payload,
// per-entry checksum) that makes up the payload half of a result
// file, prior to any whole-payload compression.
func encodeEntries(entries []Entry) []byte {
	var out bytes.Buffer
	writeUint32(&out, uint32(len(entries)))
	for _, e := range entries {
		out.WriteByte(byte(e.Type))
		writeUint32(&out, uint32(len(e.Payload)))
		out.Write(e.Payload)
		writeUint32(&out, crc32.ChecksumIEEE(e.Payload))
	}
	return out.Bytes()
}

func decodeEntries(raw []byte) ([]Entry, error) {
	r := bytes.NewReader(raw)
	count, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, count)
	for i := uint32(0); i < count; i++ {
		typeByte, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("result: truncated entry header: %w", err)
		}
		size, err := readUint32(r)
		if err != nil {
			return nil, err
		}
		payload := make([]byte, size)
		if _, err := readFull(r, payload); err != nil {
			return nil, fmt.Errorf("result: truncated entry payload: %w", err)
		}
		wantCRC, err := readUint32(r)
		if err != nil {
			return nil, err
		}
		if crc32.ChecksumIEEE(payload) != wantCRC {
			return nil, fmt.Errorf("result: entry %s failed checksum", FileType(typeByte))
		}
		entries = append(entries, Entry{Type: FileType(typeByte), Payload: payload})
	}
	return entries, nil
}

// Encode serializes b into a complete ".result" file's bytes, at the
// given compression level (<=0 disables compression), the same
// convention internal/manifest.Encode uses.
func Encode(b Bundle, level int) ([]byte, error) {
	raw := encodeEntries(b.Entries)
	compressed, ctype, err := compressPayload(raw, level)
	if err != nil {
		return nil, err
	}

	var out bytes.Buffer
	out.WriteString(magic)
	out.WriteByte(formatVersion)
	out.WriteByte(byte(ctype))
	out.WriteByte(byte(int8(level)))
	var buf8 [8]byte
	binary.BigEndian.PutUint64(buf8[:], uint64(b.CreationTime.UnixNano()))
	out.Write(buf8[:])
	writeUint32(&out, uint32(len(b.Entries)))
	writeUint32(&out, uint32(len(compressed)))
	writeUint32(&out, crc32.ChecksumIEEE(compressed))
	out.Write(compressed)
	return out.Bytes(), nil
}

// Decode parses a complete ".result" file's bytes. A checksum or
// structural failure is returned as an error so callers can treat it
// as "cache entry corrupt, remove it".
func Decode(raw []byte) (Bundle, error) {
	if len(raw) < headerByteSize {
		return Bundle{}, fmt.Errorf("result: truncated header (%d bytes)", len(raw))
	}
	if string(raw[0:4]) != magic {
		return Bundle{}, fmt.Errorf("result: bad magic %q", raw[0:4])
	}
	if raw[4] != formatVersion {
		return Bundle{}, fmt.Errorf("result: unsupported version %d", raw[4])
	}
	ctype := CompressionType(raw[5])
	off := 7
	creationTime := time.Unix(0, int64(binary.BigEndian.Uint64(raw[off:off+8])))
	off += 8
	_ = binary.BigEndian.Uint32(raw[off : off+4]) // entry count, re-derived after decode
	off += 4
	payloadSize := binary.BigEndian.Uint32(raw[off : off+4])
	off += 4
	payloadCRC := binary.BigEndian.Uint32(raw[off : off+4])
	off += 4

	if uint32(len(raw)-off) < payloadSize {
		return Bundle{}, fmt.Errorf("result: truncated payload: want %d, got %d", payloadSize, len(raw)-off)
	}
	compressed := raw[off : off+int(payloadSize)]
	if crc32.ChecksumIEEE(compressed) != payloadCRC {
		return Bundle{}, fmt.Errorf("result: payload checksum mismatch")
	}

	plain, err := decompressPayload(compressed, ctype)
	if err != nil {
		return Bundle{}, err
	}
	entries, err := decodeEntries(plain)
	if err != nil {
		return Bundle{}, err
	}
	return Bundle{CreationTime: creationTime, Entries: entries}, nil
}

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
		return nil, CompressionNone, fmt.Errorf("result: zstd encoder: %w", err)
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
			return nil, fmt.Errorf("result: zstd decoder: %w", err)
		}
		defer dec.Close()
		out, err := dec.DecodeAll(compressed, nil)
		if err != nil {
			return nil, fmt.Errorf("result: zstd decode: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("result: unknown compression type %d", ctype)
	}
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func readUint32(r *bytes.Reader) (uint32, error) {
	var b [4]byte
	if _, err := readFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func readFull(r *bytes.Reader, buf []byte) (int, error) {
	n, err := r.Read(buf)
	if err != nil {
		return n, err
	}
	if n != len(buf) {
		return n, fmt.Errorf("result: short read: want %d, got %d", len(buf), n)
	}
	return n, nil
}

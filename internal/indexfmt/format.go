package indexfmt

import (
	"bufio"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/sha1n/artifact-index/internal/domain"
)

const (
	// Magic starts every full index and chunk stream
	Magic = "AIDX"

	// Version is the current format version
	Version byte = 1

	kindFull  byte = 'F'
	kindChunk byte = 'C'
	endMarker byte = 'E'
)

// Op is the operation carried by a chunk entry.
type Op byte

const (
	OpAdd    Op = 'A'
	OpDelete Op = 'D'
)

func (o Op) String() string {
	switch o {
	case OpAdd:
		return "add"
	case OpDelete:
		return "delete"
	default:
		return fmt.Sprintf("op(%d)", byte(o))
	}
}

// Change is one record addition or deletion.
// For deletions only the identity coordinates of Record are meaningful.
type Change struct {
	Op     Op
	Record domain.ArtifactRecord
}

// Chunk is an incremental update bringing an index to Timestamp.
type Chunk struct {
	Timestamp int64
	Changes   []Change
}

// FullIndex is a complete snapshot of the remote index at Timestamp.
type FullIndex struct {
	Timestamp int64
	Records   []domain.ArtifactRecord
}

// DocumentCount returns the number of records in the snapshot.
func (f *FullIndex) DocumentCount() int {
	return len(f.Records)
}

// EncodeChunk writes a chunk in the compressed binary layout.
// A deletion is written with the identity coordinates of its record only, so
// decoding yields the record reduced to groupId, artifactId, version,
// classifier and packaging.
func EncodeChunk(w io.Writer, c *Chunk) error {
	return encode(w, kindChunk, c.Timestamp, func(bw *bufio.Writer) error {
		for i, ch := range c.Changes {
			if ch.Op != OpAdd && ch.Op != OpDelete {
				return formatErr("encode chunk", i, ErrUnknownOp)
			}
			if err := ch.Record.Validate(); err != nil {
				return formatErr("encode chunk", i, err)
			}
			rec := ch.Record
			if ch.Op == OpDelete {
				rec = identityOnly(rec)
			}
			if err := bw.WriteByte(byte(ch.Op)); err != nil {
				return err
			}
			if err := writeRecord(bw, rec); err != nil {
				return formatErr("encode chunk", i, err)
			}
		}
		return nil
	})
}

// EncodeFullIndex writes a full index in the compressed binary layout.
func EncodeFullIndex(w io.Writer, f *FullIndex) error {
	seen := make(map[string]struct{}, len(f.Records))
	return encode(w, kindFull, f.Timestamp, func(bw *bufio.Writer) error {
		for i, rec := range f.Records {
			if err := rec.Validate(); err != nil {
				return formatErr("encode full index", i, err)
			}
			key := rec.Key()
			if _, dup := seen[key]; dup {
				return formatErr("encode full index", i, fmt.Errorf("%w: %s", ErrDuplicateRecord, key))
			}
			seen[key] = struct{}{}
			if err := bw.WriteByte(byte(OpAdd)); err != nil {
				return err
			}
			if err := writeRecord(bw, rec); err != nil {
				return formatErr("encode full index", i, err)
			}
		}
		return nil
	})
}

func encode(w io.Writer, kind byte, ts int64, body func(*bufio.Writer) error) error {
	zw := gzip.NewWriter(w)
	bw := bufio.NewWriter(zw)

	var hdr [len(Magic) + 2 + 8]byte
	copy(hdr[:], Magic)
	hdr[len(Magic)] = Version
	hdr[len(Magic)+1] = kind
	binary.BigEndian.PutUint64(hdr[len(Magic)+2:], uint64(ts))
	if _, err := bw.Write(hdr[:]); err != nil {
		return err
	}
	if err := body(bw); err != nil {
		return err
	}
	if err := bw.WriteByte(endMarker); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	return zw.Close()
}

// DecodeChunk reads a chunk. Any malformed input yields a *FormatError.
func DecodeChunk(r io.Reader) (*Chunk, error) {
	const op = "decode chunk"
	br, ts, err := openStream(r, kindChunk, op)
	if err != nil {
		return nil, err
	}

	c := &Chunk{Timestamp: ts}
	for i := 0; ; i++ {
		b, err := br.ReadByte()
		if err != nil {
			return nil, formatErr(op, i, truncated(err))
		}
		if b == endMarker {
			if err := closeStream(br, op); err != nil {
				return nil, err
			}
			break
		}
		o := Op(b)
		if o != OpAdd && o != OpDelete {
			return nil, formatErr(op, i, fmt.Errorf("%w: %q", ErrUnknownOp, b))
		}
		rec, err := readRecord(br)
		if err != nil {
			return nil, formatErr(op, i, err)
		}
		if err := rec.Validate(); err != nil {
			return nil, formatErr(op, i, err)
		}
		c.Changes = append(c.Changes, Change{Op: o, Record: rec})
	}
	return c, nil
}

// DecodeFullIndex reads a full index. Any malformed input yields a *FormatError.
func DecodeFullIndex(r io.Reader) (*FullIndex, error) {
	const op = "decode full index"
	br, ts, err := openStream(r, kindFull, op)
	if err != nil {
		return nil, err
	}

	f := &FullIndex{Timestamp: ts}
	seen := make(map[string]struct{})
	for i := 0; ; i++ {
		b, err := br.ReadByte()
		if err != nil {
			return nil, formatErr(op, i, truncated(err))
		}
		if b == endMarker {
			if err := closeStream(br, op); err != nil {
				return nil, err
			}
			break
		}
		if Op(b) != OpAdd {
			return nil, formatErr(op, i, fmt.Errorf("%w: %q", ErrUnknownOp, b))
		}
		rec, err := readRecord(br)
		if err != nil {
			return nil, formatErr(op, i, err)
		}
		if err := rec.Validate(); err != nil {
			return nil, formatErr(op, i, err)
		}
		key := rec.Key()
		if _, dup := seen[key]; dup {
			return nil, formatErr(op, i, fmt.Errorf("%w: %s", ErrDuplicateRecord, key))
		}
		seen[key] = struct{}{}
		f.Records = append(f.Records, rec)
	}
	return f, nil
}

func openStream(r io.Reader, kind byte, op string) (*bufio.Reader, int64, error) {
	zr, err := gzip.NewReader(r)
	if err != nil {
		return nil, 0, formatErr(op, -1, err)
	}
	br := bufio.NewReader(zr)

	var hdr [len(Magic) + 2 + 8]byte
	if _, err := io.ReadFull(br, hdr[:]); err != nil {
		return nil, 0, formatErr(op, -1, truncated(err))
	}
	if string(hdr[:len(Magic)]) != Magic {
		return nil, 0, formatErr(op, -1, ErrBadMagic)
	}
	if v := hdr[len(Magic)]; v != Version {
		return nil, 0, formatErr(op, -1, fmt.Errorf("%w: %d", ErrUnsupportedVersion, v))
	}
	if k := hdr[len(Magic)+1]; k != kind {
		return nil, 0, formatErr(op, -1, fmt.Errorf("%w: %q", ErrUnexpectedKind, k))
	}
	ts := int64(binary.BigEndian.Uint64(hdr[len(Magic)+2:]))
	return br, ts, nil
}

// closeStream reads the stream past the end marker to its end so the gzip
// checksum is verified. Any data after the end marker is an error.
func closeStream(br *bufio.Reader, op string) error {
	n, err := io.Copy(io.Discard, br)
	if err != nil {
		return formatErr(op, -1, err)
	}
	if n > 0 {
		return formatErr(op, -1, fmt.Errorf("%w: %d bytes", ErrTrailingData, n))
	}
	return nil
}

func identityOnly(r domain.ArtifactRecord) domain.ArtifactRecord {
	return domain.ArtifactRecord{
		GroupID:    r.GroupID,
		ArtifactID: r.ArtifactID,
		Version:    r.Version,
		Classifier: r.Classifier,
		Packaging:  r.Packaging,
	}
}

package indexfmt

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"

	"github.com/sha1n/artifact-index/internal/domain"
)

// MaxValueSize caps a single field value.
const MaxValueSize = 16 * 1024 * 1024

// coreFieldOrder is the order core fields are written in.
var coreFieldOrder = []string{
	domain.FieldGroupID,
	domain.FieldArtifactID,
	domain.FieldVersion,
	domain.FieldClassifier,
	domain.FieldPackaging,
	domain.FieldSHA1,
	domain.FieldLastModified,
}

type field struct {
	name  string
	value string
}

// recordFields flattens a record into its wire fields. Empty values are omitted.
func recordFields(r domain.ArtifactRecord) ([]field, error) {
	fields := make([]field, 0, len(coreFieldOrder)+len(r.Extra))
	for _, name := range coreFieldOrder {
		var v string
		switch name {
		case domain.FieldGroupID:
			v = r.GroupID
		case domain.FieldArtifactID:
			v = r.ArtifactID
		case domain.FieldVersion:
			v = r.Version
		case domain.FieldClassifier:
			v = r.Classifier
		case domain.FieldPackaging:
			v = r.Packaging
		case domain.FieldSHA1:
			v = domain.NormalizeChecksum(r.SHA1)
		case domain.FieldLastModified:
			if r.LastModified != 0 {
				v = strconv.FormatInt(r.LastModified, 10)
			}
		}
		if v != "" {
			fields = append(fields, field{name, v})
		}
	}

	extras := make([]string, 0, len(r.Extra))
	for name := range r.Extra {
		if domain.IsCoreField(name) {
			return nil, fmt.Errorf("%w: %s", ErrReservedField, name)
		}
		extras = append(extras, name)
	}
	slices.Sort(extras)
	for _, name := range extras {
		fields = append(fields, field{name, r.Extra[name]})
	}
	return fields, nil
}

// writeRecord writes the field block of a record.
func writeRecord(w io.Writer, r domain.ArtifactRecord) error {
	fields, err := recordFields(r)
	if err != nil {
		return err
	}
	if len(fields) > 0xFFFF {
		return fmt.Errorf("too many fields: %d", len(fields))
	}

	var hdr [4]byte
	binary.BigEndian.PutUint16(hdr[:2], uint16(len(fields)))
	if _, err := w.Write(hdr[:2]); err != nil {
		return err
	}
	for _, f := range fields {
		if len(f.name) > 0xFFFF {
			return fmt.Errorf("field name too long: %d", len(f.name))
		}
		if len(f.value) > MaxValueSize {
			return fmt.Errorf("%w: %s", ErrFieldTooLarge, f.name)
		}
		binary.BigEndian.PutUint16(hdr[:2], uint16(len(f.name)))
		if _, err := w.Write(hdr[:2]); err != nil {
			return err
		}
		if _, err := io.WriteString(w, f.name); err != nil {
			return err
		}
		binary.BigEndian.PutUint32(hdr[:], uint32(len(f.value)))
		if _, err := w.Write(hdr[:]); err != nil {
			return err
		}
		if _, err := io.WriteString(w, f.value); err != nil {
			return err
		}
	}
	return nil
}

// readRecord reads one field block. Validation of required fields is left to
// the caller. io.ErrUnexpectedEOF is reported as ErrTruncated.
func readRecord(r *bufio.Reader) (domain.ArtifactRecord, error) {
	var rec domain.ArtifactRecord
	var hdr [4]byte

	if _, err := io.ReadFull(r, hdr[:2]); err != nil {
		return rec, truncated(err)
	}
	count := int(binary.BigEndian.Uint16(hdr[:2]))

	seen := make(map[string]struct{}, count)
	for range count {
		if _, err := io.ReadFull(r, hdr[:2]); err != nil {
			return rec, truncated(err)
		}
		name := make([]byte, binary.BigEndian.Uint16(hdr[:2]))
		if _, err := io.ReadFull(r, name); err != nil {
			return rec, truncated(err)
		}
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			return rec, truncated(err)
		}
		size := binary.BigEndian.Uint32(hdr[:])
		if size > MaxValueSize {
			return rec, fmt.Errorf("%w: %s", ErrFieldTooLarge, name)
		}
		value := make([]byte, size)
		if _, err := io.ReadFull(r, value); err != nil {
			return rec, truncated(err)
		}

		key := string(name)
		if _, dup := seen[key]; dup {
			return rec, fmt.Errorf("%w: %s", ErrDuplicateField, key)
		}
		seen[key] = struct{}{}

		if err := setField(&rec, key, string(value)); err != nil {
			return rec, err
		}
	}
	return rec, nil
}

func setField(rec *domain.ArtifactRecord, name, value string) error {
	switch name {
	case domain.FieldGroupID:
		rec.GroupID = value
	case domain.FieldArtifactID:
		rec.ArtifactID = value
	case domain.FieldVersion:
		rec.Version = value
	case domain.FieldClassifier:
		rec.Classifier = value
	case domain.FieldPackaging:
		rec.Packaging = value
	case domain.FieldSHA1:
		rec.SHA1 = domain.NormalizeChecksum(value)
	case domain.FieldLastModified:
		ms, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, value, err)
		}
		rec.LastModified = ms
	default:
		if rec.Extra == nil {
			rec.Extra = make(map[string]string)
		}
		rec.Extra[name] = value
	}
	return nil
}

func truncated(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ErrTruncated
	}
	return err
}

// EncodeRecord encodes a single record as an uncompressed field block.
// It is the at-rest form used by the local record store.
func EncodeRecord(r domain.ArtifactRecord) ([]byte, error) {
	if err := r.Validate(); err != nil {
		return nil, formatErr("encode record", -1, err)
	}
	var buf bytes.Buffer
	if err := writeRecord(&buf, r); err != nil {
		return nil, formatErr("encode record", -1, err)
	}
	return buf.Bytes(), nil
}

// DecodeRecord decodes a field block produced by EncodeRecord.
func DecodeRecord(data []byte) (domain.ArtifactRecord, error) {
	br := bufio.NewReader(bytes.NewReader(data))
	rec, err := readRecord(br)
	if err != nil {
		return rec, formatErr("decode record", -1, err)
	}
	if _, err := br.ReadByte(); err == nil {
		return rec, formatErr("decode record", -1, ErrTrailingData)
	}
	if err := rec.Validate(); err != nil {
		return rec, formatErr("decode record", -1, err)
	}
	return rec, nil
}

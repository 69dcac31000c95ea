package indexfmt

import (
	"bufio"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
)

// Property keys of the remote index properties resource.
const (
	PropID         = "index.id"
	PropTimestamp  = "index.timestamp"
	PropChunksBase = "index.chunks.base"
	PropChunk      = "index.chunk."
)

// ChunkRef names one published chunk: its counter and the timestamp it brings
// the index to.
type ChunkRef struct {
	Counter   int
	Timestamp int64
}

// Properties describes the current state of a remote index and the chunk
// history available for incremental updates.
type Properties struct {
	ID        string
	Timestamp int64
	// ChunkBase is the timestamp the oldest listed chunk applies on top of.
	ChunkBase int64
	// Chunks are ordered by counter.
	Chunks []ChunkRef
}

// ChunksSince returns the chunks covering (ts, p.Timestamp] in application
// order, together with the counter the sequence is expected to start at.
// ok is false when ts is not part of the published history, in which case an
// incremental update is not possible. Missing counters inside the returned
// sequence are left for the caller to detect.
func (p *Properties) ChunksSince(ts int64) (refs []ChunkRef, start int, ok bool) {
	if ts == p.Timestamp {
		return nil, 0, true
	}
	if len(p.Chunks) == 0 || p.Chunks[len(p.Chunks)-1].Timestamp != p.Timestamp {
		return nil, 0, false
	}
	if ts == p.ChunkBase {
		return p.Chunks, p.Chunks[0].Counter, true
	}
	for i, c := range p.Chunks {
		if c.Timestamp == ts {
			return p.Chunks[i+1:], c.Counter + 1, true
		}
	}
	return nil, 0, false
}

// DecodeProperties parses a key=value properties resource.
// Blank lines and lines starting with '#' or '!' are ignored, as are unknown keys.
func DecodeProperties(r io.Reader) (*Properties, error) {
	const op = "decode properties"
	p := &Properties{}
	hasTimestamp := false

	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || text[0] == '#' || text[0] == '!' {
			continue
		}
		key, value, found := strings.Cut(text, "=")
		if !found {
			return nil, formatErr(op, -1, fmt.Errorf("line %d: expected key=value", line))
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		switch {
		case key == PropID:
			p.ID = value
		case key == PropTimestamp:
			ts, err := parseTimestamp(value)
			if err != nil {
				return nil, formatErr(op, -1, fmt.Errorf("line %d: %w", line, err))
			}
			p.Timestamp = ts
			hasTimestamp = true
		case key == PropChunksBase:
			ts, err := parseTimestamp(value)
			if err != nil {
				return nil, formatErr(op, -1, fmt.Errorf("line %d: %w", line, err))
			}
			p.ChunkBase = ts
		case strings.HasPrefix(key, PropChunk):
			counter, err := strconv.Atoi(strings.TrimPrefix(key, PropChunk))
			if err != nil || counter < 0 {
				return nil, formatErr(op, -1, fmt.Errorf("line %d: invalid chunk counter in %q", line, key))
			}
			ts, err := parseTimestamp(value)
			if err != nil {
				return nil, formatErr(op, -1, fmt.Errorf("line %d: %w", line, err))
			}
			p.Chunks = append(p.Chunks, ChunkRef{Counter: counter, Timestamp: ts})
		}
	}
	if err := sc.Err(); err != nil {
		return nil, formatErr(op, -1, err)
	}
	if !hasTimestamp {
		return nil, formatErr(op, -1, ErrMissingTimestamp)
	}

	slices.SortFunc(p.Chunks, func(a, b ChunkRef) int { return a.Counter - b.Counter })
	prev := p.ChunkBase
	for i, c := range p.Chunks {
		if i > 0 && c.Counter == p.Chunks[i-1].Counter {
			return nil, formatErr(op, -1, fmt.Errorf("duplicate chunk counter %d", c.Counter))
		}
		if c.Timestamp <= prev {
			return nil, formatErr(op, -1, fmt.Errorf("chunk %d timestamp %d is not after %d", c.Counter, c.Timestamp, prev))
		}
		prev = c.Timestamp
	}
	return p, nil
}

// EncodeProperties writes p in the format read by DecodeProperties.
func EncodeProperties(w io.Writer, p *Properties) error {
	bw := bufio.NewWriter(w)
	if p.ID != "" {
		fmt.Fprintf(bw, "%s=%s\n", PropID, p.ID)
	}
	fmt.Fprintf(bw, "%s=%d\n", PropTimestamp, p.Timestamp)
	if len(p.Chunks) > 0 {
		fmt.Fprintf(bw, "%s=%d\n", PropChunksBase, p.ChunkBase)
	}
	for _, c := range p.Chunks {
		fmt.Fprintf(bw, "%s%d=%d\n", PropChunk, c.Counter, c.Timestamp)
	}
	return bw.Flush()
}

func parseTimestamp(s string) (int64, error) {
	ts, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid timestamp %q", s)
	}
	if ts < 0 {
		return 0, fmt.Errorf("negative timestamp %d", ts)
	}
	return ts, nil
}

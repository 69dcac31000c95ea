package indexfmt

import (
	"bytes"
	"errors"
	"slices"
	"strings"
	"testing"
)

const sampleProperties = `# remote index
index.id=central
index.timestamp=400
index.chunks.base=100
index.chunk.12=400
index.chunk.10=200
index.chunk.11=300
unknown.key=ignored
`

func TestDecodeProperties(t *testing.T) {
	p, err := DecodeProperties(strings.NewReader(sampleProperties))
	if err != nil {
		t.Fatalf("DecodeProperties failed: %v", err)
	}

	if p.ID != "central" {
		t.Errorf("ID = %q", p.ID)
	}
	if p.Timestamp != 400 {
		t.Errorf("Timestamp = %d", p.Timestamp)
	}
	if p.ChunkBase != 100 {
		t.Errorf("ChunkBase = %d", p.ChunkBase)
	}
	want := []ChunkRef{{10, 200}, {11, 300}, {12, 400}}
	if !slices.Equal(p.Chunks, want) {
		t.Errorf("Chunks = %v, want %v", p.Chunks, want)
	}
}

func TestDecodeProperties_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"missing timestamp", "index.id=x\n"},
		{"bad timestamp", "index.timestamp=soon\n"},
		{"no separator", "index.timestamp\n"},
		{"bad counter", "index.timestamp=1\nindex.chunk.x=1\n"},
		{"non increasing chunks", "index.timestamp=3\nindex.chunks.base=0\nindex.chunk.1=3\nindex.chunk.2=2\n"},
		{"duplicate counter", "index.timestamp=3\nindex.chunk.1=2\nindex.chunk.1=3\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeProperties(strings.NewReader(tt.input))
			if !IsFormatError(err) {
				t.Errorf("Expected *FormatError, got %v", err)
			}
		})
	}

	_, err := DecodeProperties(strings.NewReader("index.id=x\n"))
	if !errors.Is(err, ErrMissingTimestamp) {
		t.Errorf("Expected ErrMissingTimestamp, got %v", err)
	}
}

func TestProperties_RoundTrip(t *testing.T) {
	original := &Properties{
		ID:        "central",
		Timestamp: 300,
		ChunkBase: 100,
		Chunks:    []ChunkRef{{1, 200}, {2, 300}},
	}

	var buf bytes.Buffer
	if err := EncodeProperties(&buf, original); err != nil {
		t.Fatalf("EncodeProperties failed: %v", err)
	}
	decoded, err := DecodeProperties(&buf)
	if err != nil {
		t.Fatalf("DecodeProperties failed: %v", err)
	}

	if decoded.ID != original.ID || decoded.Timestamp != original.Timestamp || decoded.ChunkBase != original.ChunkBase {
		t.Errorf("decoded = %+v, want %+v", decoded, original)
	}
	if !slices.Equal(decoded.Chunks, original.Chunks) {
		t.Errorf("Chunks = %v, want %v", decoded.Chunks, original.Chunks)
	}
}

func TestProperties_ChunksSince(t *testing.T) {
	p := &Properties{
		Timestamp: 400,
		ChunkBase: 100,
		Chunks:    []ChunkRef{{10, 200}, {11, 300}, {12, 400}},
	}

	tests := []struct {
		name      string
		ts        int64
		wantRefs  []ChunkRef
		wantStart int
		wantOK    bool
	}{
		{"up to date", 400, nil, 0, true},
		{"from base", 100, []ChunkRef{{10, 200}, {11, 300}, {12, 400}}, 10, true},
		{"from middle", 200, []ChunkRef{{11, 300}, {12, 400}}, 11, true},
		{"last step", 300, []ChunkRef{{12, 400}}, 12, true},
		{"unknown timestamp", 250, nil, 0, false},
		{"too old", 50, nil, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			refs, start, ok := p.ChunksSince(tt.ts)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !slices.Equal(refs, tt.wantRefs) {
				t.Errorf("refs = %v, want %v", refs, tt.wantRefs)
			}
			if start != tt.wantStart {
				t.Errorf("start = %d, want %d", start, tt.wantStart)
			}
		})
	}
}

func TestProperties_ChunksSince_IncompleteHistory(t *testing.T) {
	p := &Properties{
		Timestamp: 500,
		ChunkBase: 100,
		Chunks:    []ChunkRef{{1, 200}},
	}
	if _, _, ok := p.ChunksSince(100); ok {
		t.Error("Expected no incremental path when the last chunk does not reach the remote timestamp")
	}

	empty := &Properties{Timestamp: 500}
	if _, _, ok := empty.ChunksSince(100); ok {
		t.Error("Expected no incremental path without chunks")
	}
}

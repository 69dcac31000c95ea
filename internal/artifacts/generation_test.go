package artifacts

import (
	"strings"
	"testing"

	"github.com/sha1n/artifact-index/internal/domain"
)

func recordMap(records []domain.ArtifactRecord) map[string]domain.ArtifactRecord {
	m := make(map[string]domain.ArtifactRecord, len(records))
	for _, r := range records {
		m[r.Key()] = r
	}
	return m
}

func mustGeneration(t *testing.T, id uint64, ts int64, records []domain.ArtifactRecord) *Generation {
	t.Helper()
	gen, err := buildGeneration(id, ts, recordMap(records), DefaultCreators)
	if err != nil {
		t.Fatalf("buildGeneration failed: %v", err)
	}
	return gen
}

func TestBuildGeneration(t *testing.T) {
	records := SampleRecords(0, 25)
	gen := mustGeneration(t, 3, FixtureEpoch, records)
	defer gen.release()

	if gen.ID() != 3 {
		t.Errorf("Expected id 3, got %d", gen.ID())
	}
	if gen.RemoteTimestamp() != FixtureEpoch {
		t.Errorf("Expected timestamp %d, got %d", FixtureEpoch, gen.RemoteTimestamp())
	}
	if gen.DocumentCount() != 25 {
		t.Errorf("Expected 25 documents, got %d", gen.DocumentCount())
	}

	count, err := gen.index.DocCount()
	if err != nil {
		t.Fatalf("DocCount failed: %v", err)
	}
	if count != 25 {
		t.Errorf("Expected 25 indexed documents, got %d", count)
	}

	r, ok := gen.Record(records[7].Key())
	if !ok || !r.Equal(records[7]) {
		t.Errorf("Expected record %s to be found", records[7].Key())
	}
	if _, ok := gen.Record("missing"); ok {
		t.Error("Expected missing record not to be found")
	}
}

func TestBuildGeneration_LargerThanBatch(t *testing.T) {
	gen := mustGeneration(t, 1, FixtureEpoch, SampleRecords(0, MaxBatchSize+10))
	defer gen.release()

	count, err := gen.index.DocCount()
	if err != nil {
		t.Fatalf("DocCount failed: %v", err)
	}
	if count != uint64(MaxBatchSize+10) {
		t.Errorf("Expected %d indexed documents, got %d", MaxBatchSize+10, count)
	}
}

func TestGeneration_RecordsOrderedByKey(t *testing.T) {
	gen := mustGeneration(t, 1, FixtureEpoch, SampleRecords(0, 10))
	defer gen.release()

	records := gen.Records()
	for i := 1; i < len(records); i++ {
		if records[i-1].Key() >= records[i].Key() {
			t.Fatalf("Records not ordered at %d: %s >= %s", i, records[i-1].Key(), records[i].Key())
		}
	}
}

func TestGeneration_CloneRecordsIsIndependent(t *testing.T) {
	gen := mustGeneration(t, 1, FixtureEpoch, SampleRecords(0, 3))
	defer gen.release()

	working := gen.cloneRecords()
	delete(working, SampleRecord(0).Key())
	working["extra"] = SampleRecord(99)

	if gen.DocumentCount() != 3 {
		t.Errorf("Expected generation to keep 3 records, got %d", gen.DocumentCount())
	}
}

func TestGeneration_ReleaseDisposes(t *testing.T) {
	gen := mustGeneration(t, 1, FixtureEpoch, SampleRecords(0, 3))

	gen.retain()
	gen.release()
	if gen.Disposed() {
		t.Fatal("Expected generation to stay alive while referenced")
	}

	gen.release()
	if !gen.Disposed() {
		t.Fatal("Expected generation to be disposed after last release")
	}

	// Over-release is logged, not fatal.
	gen.release()
}

func TestGeneration_Fields(t *testing.T) {
	gen, err := buildGeneration(1, FixtureEpoch, recordMap(SampleRecords(0, 1)), []Creator{CreatorMin})
	if err != nil {
		t.Fatalf("buildGeneration failed: %v", err)
	}
	defer gen.release()

	if kind, ok := gen.hasField(domain.FieldLastModified); !ok || kind != FieldNumeric {
		t.Errorf("Expected numeric lastModified field, got %v %v", kind, ok)
	}
	if _, ok := gen.hasField(domain.FieldClassNames); ok {
		t.Error("Expected classNames to be absent without the jarContent creator")
	}
}

func TestGeneration_String(t *testing.T) {
	gen := mustGeneration(t, 4, 42, SampleRecords(0, 2))
	defer gen.release()

	s := gen.String()
	for _, want := range []string{"generation 4", "timestamp 42", "2 documents"} {
		if !strings.Contains(s, want) {
			t.Errorf("Expected %q in %q", want, s)
		}
	}
}

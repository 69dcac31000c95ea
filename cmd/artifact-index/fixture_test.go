package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sha1n/artifact-index/internal/artifacts"
	"github.com/sha1n/artifact-index/internal/indexfmt"
	"github.com/sha1n/artifact-index/internal/remote"
)

// publishRemote writes a full remote index into dir
func publishRemote(t *testing.T, dir string) {
	t.Helper()

	write := func(name string, encode func(f *os.File) error) {
		f, err := os.Create(filepath.Join(dir, name))
		if err != nil {
			t.Fatalf("Failed to create %s: %v", name, err)
		}
		defer func() { _ = f.Close() }()
		if err := encode(f); err != nil {
			t.Fatalf("Failed to write %s: %v", name, err)
		}
	}

	write(remote.PropertiesResource, func(f *os.File) error {
		return indexfmt.EncodeProperties(f, &indexfmt.Properties{ID: "local", Timestamp: artifacts.FixtureEpoch})
	})
	write(remote.FullIndexResource, func(f *os.File) error {
		return indexfmt.EncodeFullIndex(f, &indexfmt.FullIndex{
			Timestamp: artifacts.FixtureEpoch,
			Records:   artifacts.SampleRecords(0, 3),
		})
	})
}

package artifacts

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	// PropertiesVersion is the current schema version of the local properties file
	PropertiesVersion = 1

	// PropertiesFilename is the local properties filename inside a context directory
	PropertiesFilename = "properties.json"

	// RecordsFilename is the record store filename inside a context directory
	RecordsFilename = "records.db"
)

// LocalProperties is the persisted descriptor and last known state of an index context.
type LocalProperties struct {
	Version       int       `json:"version"`
	Name          string    `json:"name"`
	RemoteURL     string    `json:"remote_url"`
	CreatedAt     time.Time `json:"created_at"`
	LastAttempt   time.Time `json:"last_attempt,omitzero"`
	LastUpdate    time.Time `json:"last_update,omitzero"`
	LastOutcome   string    `json:"last_outcome,omitempty"`
	Timestamp     int64     `json:"timestamp"`
	GenerationID  uint64    `json:"generation_id"`
	DocumentCount int       `json:"document_count"`
	// ForceFull makes the next update a full one, across restarts.
	ForceFull bool   `json:"force_full,omitempty"`
	Error     string `json:"error,omitempty"`
}

// NewLocalProperties creates properties for a new context.
func NewLocalProperties(name, remoteURL string) *LocalProperties {
	return &LocalProperties{
		Version:   PropertiesVersion,
		Name:      name,
		RemoteURL: remoteURL,
		CreatedAt: time.Now(),
	}
}

// LoadLocalProperties reads properties from disk. It returns nil, nil when the file does not exist.
func LoadLocalProperties(path string) (*LocalProperties, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read properties: %w", err)
	}

	var props LocalProperties
	if err := json.Unmarshal(data, &props); err != nil {
		return nil, fmt.Errorf("failed to parse properties: %w", err)
	}
	return &props, nil
}

// Save writes the properties atomically (write to temp + rename).
func (p *LocalProperties) Save(path string) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal properties: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create properties directory: %w", err)
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write properties temp file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to rename properties file: %w", err)
	}
	return nil
}

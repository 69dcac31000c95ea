package domain

import (
	"errors"
	"fmt"
	"maps"
	"strings"
)

// ArtifactRecord represents one indexed artifact.
// Records are values: once built they are never modified in place, and any
// derived record is produced with Clone.
type ArtifactRecord struct {
	// GroupID is the Maven group identifier.
	// Example: "org.apache.commons"
	GroupID string `json:"groupId"`

	// ArtifactID is the Maven artifact identifier.
	// Example: "commons-lang3"
	ArtifactID string `json:"artifactId"`

	// Version is the artifact version string.
	Version string `json:"version"`

	// Classifier is optional. Empty means "no classifier".
	Classifier string `json:"classifier,omitempty"`

	// Packaging is the artifact packaging (jar, pom, maven-plugin, ...).
	Packaging string `json:"packaging,omitempty"`

	// SHA1 is the lowercase hex SHA-1 checksum of the main file.
	SHA1 string `json:"sha1,omitempty"`

	// LastModified is the unix timestamp in milliseconds.
	LastModified int64 `json:"lastModified,omitempty"`

	// Extra holds additional indexed fields by name.
	Extra map[string]string `json:"extra,omitempty"`
}

// Field names shared by the wire format, the search index and queries.
const (
	FieldGroupID      = "groupId"
	FieldArtifactID   = "artifactId"
	FieldVersion      = "version"
	FieldClassifier   = "classifier"
	FieldPackaging    = "packaging"
	FieldSHA1         = "sha1"
	FieldLastModified = "lastModified"

	// Extra fields with a known meaning.
	FieldName         = "name"
	FieldDescription  = "description"
	FieldClassNames   = "classNames"
	FieldPluginPrefix = "pluginPrefix"
	FieldPluginGoals  = "pluginGoals"
)

// KeySeparator separates coordinates inside an identity key.
const KeySeparator = "|"

var (
	// ErrMissingGroupID indicates a record without groupId
	ErrMissingGroupID = errors.New("missing groupId")

	// ErrMissingArtifactID indicates a record without artifactId
	ErrMissingArtifactID = errors.New("missing artifactId")

	// ErrMissingVersion indicates a record without version
	ErrMissingVersion = errors.New("missing version")

	// ErrInvalidCoordinate indicates a coordinate containing KeySeparator
	ErrInvalidCoordinate = errors.New("coordinate contains the key separator")
)

// IsCoreField reports whether name is one of the fixed record fields.
func IsCoreField(name string) bool {
	switch name {
	case FieldGroupID, FieldArtifactID, FieldVersion, FieldClassifier,
		FieldPackaging, FieldSHA1, FieldLastModified:
		return true
	}
	return false
}

// Key returns the record identity: groupId|artifactId|version|classifier|packaging.
func (r ArtifactRecord) Key() string {
	return strings.Join([]string{r.GroupID, r.ArtifactID, r.Version, r.Classifier, r.Packaging}, KeySeparator)
}

// Validate checks the required coordinates. No coordinate may contain
// KeySeparator, so distinct identities always have distinct keys.
func (r ArtifactRecord) Validate() error {
	switch {
	case r.GroupID == "":
		return ErrMissingGroupID
	case r.ArtifactID == "":
		return ErrMissingArtifactID
	case r.Version == "":
		return ErrMissingVersion
	}
	coords := []struct{ name, value string }{
		{FieldGroupID, r.GroupID},
		{FieldArtifactID, r.ArtifactID},
		{FieldVersion, r.Version},
		{FieldClassifier, r.Classifier},
		{FieldPackaging, r.Packaging},
	}
	for _, c := range coords {
		if strings.Contains(c.value, KeySeparator) {
			return fmt.Errorf("%w: %s %q", ErrInvalidCoordinate, c.name, c.value)
		}
	}
	return nil
}

// Normalize returns a copy with the checksum trimmed and lowercased.
func (r ArtifactRecord) Normalize() ArtifactRecord {
	out := r.Clone()
	out.SHA1 = NormalizeChecksum(r.SHA1)
	return out
}

// Clone returns a copy that does not share the Extra map.
func (r ArtifactRecord) Clone() ArtifactRecord {
	out := r
	if r.Extra != nil {
		out.Extra = maps.Clone(r.Extra)
	}
	return out
}

// Equal compares two records field by field, including extras.
// A nil and an empty Extra map are equal.
func (r ArtifactRecord) Equal(other ArtifactRecord) bool {
	if r.GroupID != other.GroupID || r.ArtifactID != other.ArtifactID ||
		r.Version != other.Version || r.Classifier != other.Classifier ||
		r.Packaging != other.Packaging || r.SHA1 != other.SHA1 ||
		r.LastModified != other.LastModified {
		return false
	}
	return maps.Equal(r.Extra, other.Extra)
}

// Coordinates returns the display form g:a:v[:c][@p].
func (r ArtifactRecord) Coordinates() string {
	var sb strings.Builder
	sb.WriteString(r.GroupID)
	sb.WriteString(":")
	sb.WriteString(r.ArtifactID)
	sb.WriteString(":")
	sb.WriteString(r.Version)
	if r.Classifier != "" {
		sb.WriteString(":")
		sb.WriteString(r.Classifier)
	}
	if r.Packaging != "" {
		sb.WriteString("@")
		sb.WriteString(r.Packaging)
	}
	return sb.String()
}

// NormalizeChecksum trims and lowercases a hex checksum.
func NormalizeChecksum(sum string) string {
	return strings.ToLower(strings.TrimSpace(sum))
}

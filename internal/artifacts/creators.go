package artifacts

import (
	"fmt"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/sha1n/artifact-index/internal/domain"
)

// Creator selects a group of record fields to index.
// Creators are applied in order when a generation is built.
type Creator string

const (
	// CreatorMin indexes coordinates, checksum, timestamp, name and description.
	CreatorMin Creator = "min"

	// CreatorJarContent indexes the class names contained in an artifact.
	CreatorJarContent Creator = "jarContent"

	// CreatorMavenPlugin indexes plugin prefix and goals.
	CreatorMavenPlugin Creator = "maven-plugin"
)

// DefaultCreators are used when none are configured.
var DefaultCreators = []Creator{CreatorMin, CreatorJarContent, CreatorMavenPlugin}

// FieldKind describes how an indexed field is stored and queried.
type FieldKind int

const (
	// FieldKeyword fields are indexed verbatim as single terms.
	FieldKeyword FieldKind = iota
	// FieldNumeric fields are indexed as numbers.
	FieldNumeric
	// FieldMultiKeyword fields hold newline separated terms.
	FieldMultiKeyword
)

// ParseCreators converts configured creator names. Duplicates are dropped and
// CreatorMin is always present since result ordering relies on coordinates.
func ParseCreators(names []string) ([]Creator, error) {
	if len(names) == 0 {
		return DefaultCreators, nil
	}
	seen := map[Creator]bool{CreatorMin: true}
	creators := []Creator{CreatorMin}
	for _, name := range names {
		c := Creator(strings.TrimSpace(name))
		switch c {
		case CreatorMin, CreatorJarContent, CreatorMavenPlugin:
		default:
			return nil, fmt.Errorf("unknown index creator %q", name)
		}
		if !seen[c] {
			seen[c] = true
			creators = append(creators, c)
		}
	}
	return creators, nil
}

// Fields returns the fields contributed by the creator.
func (c Creator) Fields() map[string]FieldKind {
	switch c {
	case CreatorMin:
		return map[string]FieldKind{
			domain.FieldGroupID:      FieldKeyword,
			domain.FieldArtifactID:   FieldKeyword,
			domain.FieldVersion:      FieldKeyword,
			domain.FieldClassifier:   FieldKeyword,
			domain.FieldPackaging:    FieldKeyword,
			domain.FieldSHA1:         FieldKeyword,
			domain.FieldLastModified: FieldNumeric,
			domain.FieldName:         FieldKeyword,
			domain.FieldDescription:  FieldKeyword,
		}
	case CreatorJarContent:
		return map[string]FieldKind{
			domain.FieldClassNames: FieldMultiKeyword,
		}
	case CreatorMavenPlugin:
		return map[string]FieldKind{
			domain.FieldPluginPrefix: FieldKeyword,
			domain.FieldPluginGoals:  FieldMultiKeyword,
		}
	}
	return nil
}

// populate adds the creator's fields for r to doc.
func (c Creator) populate(doc map[string]any, r domain.ArtifactRecord) {
	for name, kind := range c.Fields() {
		value := recordValue(r, name)
		if value == "" {
			continue
		}
		switch kind {
		case FieldNumeric:
			doc[name] = float64(r.LastModified)
		case FieldMultiKeyword:
			var terms []string
			for _, term := range strings.Split(value, "\n") {
				if term = strings.TrimSpace(term); term != "" {
					terms = append(terms, term)
				}
			}
			if len(terms) > 0 {
				doc[name] = terms
			}
		default:
			doc[name] = value
		}
	}
}

// recordValue returns the string form of a named record field.
func recordValue(r domain.ArtifactRecord, name string) string {
	switch name {
	case domain.FieldGroupID:
		return r.GroupID
	case domain.FieldArtifactID:
		return r.ArtifactID
	case domain.FieldVersion:
		return r.Version
	case domain.FieldClassifier:
		return r.Classifier
	case domain.FieldPackaging:
		return r.Packaging
	case domain.FieldSHA1:
		return r.SHA1
	case domain.FieldLastModified:
		if r.LastModified == 0 {
			return ""
		}
		return fmt.Sprint(r.LastModified)
	}
	return r.Extra[name]
}

// indexedFields merges the fields of all creators.
func indexedFields(creators []Creator) map[string]FieldKind {
	fields := make(map[string]FieldKind)
	for _, c := range creators {
		for name, kind := range c.Fields() {
			fields[name] = kind
		}
	}
	return fields
}

// buildDocument applies the creators to a record.
func buildDocument(creators []Creator, r domain.ArtifactRecord) map[string]any {
	doc := make(map[string]any)
	for _, c := range creators {
		c.populate(doc, r)
	}
	return doc
}

// createIndexMapping builds a mapping indexing exactly the given fields.
func createIndexMapping(fields map[string]FieldKind) mapping.IndexMapping {
	docMapping := bleve.NewDocumentMapping()
	docMapping.Dynamic = false

	for name, kind := range fields {
		switch kind {
		case FieldNumeric:
			numField := bleve.NewNumericFieldMapping()
			numField.Store = false
			docMapping.AddFieldMappingsAt(name, numField)
		default:
			// Keyword - not analyzed, doc values kept for sorting
			kwField := bleve.NewTextFieldMapping()
			kwField.Analyzer = keyword.Name
			kwField.Store = false
			kwField.IncludeTermVectors = false
			kwField.IncludeInAll = false
			docMapping.AddFieldMappingsAt(name, kwField)
		}
	}

	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultMapping = docMapping
	indexMapping.DefaultAnalyzer = keyword.Name
	indexMapping.StoreDynamic = false
	indexMapping.IndexDynamic = false

	return indexMapping
}

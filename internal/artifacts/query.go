package artifacts

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sha1n/artifact-index/internal/domain"
)

// DefaultLimit is the page size used when a request does not set one
const DefaultLimit = 20

// PredicateKind is the comparison a predicate applies.
type PredicateKind int

const (
	// PredicateExact matches a field value exactly.
	PredicateExact PredicateKind = iota
	// PredicatePrefix matches field values starting with a prefix (case-sensitive).
	PredicatePrefix
	// PredicateRange matches field values within inclusive bounds.
	PredicateRange
)

func (k PredicateKind) String() string {
	switch k {
	case PredicateExact:
		return "exact"
	case PredicatePrefix:
		return "prefix"
	case PredicateRange:
		return "range"
	default:
		return fmt.Sprintf("predicate(%d)", int(k))
	}
}

// Predicate is a condition on one indexed field.
type Predicate struct {
	Field string
	Kind  PredicateKind
	// Value is the exact value or prefix.
	Value string
	// Min and Max bound a range; an empty bound is open.
	Min string
	Max string
}

// Exact returns a predicate matching field == value.
func Exact(field, value string) Predicate {
	return Predicate{Field: field, Kind: PredicateExact, Value: value}
}

// Prefix returns a predicate matching values of field that start with prefix.
func Prefix(field, prefix string) Predicate {
	return Predicate{Field: field, Kind: PredicatePrefix, Value: prefix}
}

// Range returns a predicate matching lo <= field <= hi. An empty bound is open.
func Range(field, lo, hi string) Predicate {
	return Predicate{Field: field, Kind: PredicateRange, Min: lo, Max: hi}
}

func (p Predicate) String() string {
	if p.Kind == PredicateRange {
		return fmt.Sprintf("%s:[%q,%q]", p.Field, p.Min, p.Max)
	}
	return fmt.Sprintf("%s:%s:%q", p.Field, p.Kind, p.Value)
}

// Expression is a conjunction of predicates. A record matches when every
// predicate matches.
type Expression []Predicate

func (e Expression) String() string {
	parts := make([]string, len(e))
	for i, p := range e {
		parts[i] = p.String()
	}
	return strings.Join(parts, " AND ")
}

// SearchRequest is a structured query with pagination.
type SearchRequest struct {
	Expression Expression
	// Limit is the page size; 0 selects the engine default.
	Limit  int
	Offset int
	// Ranked orders by relevance first, breaking ties by coordinates.
	Ranked bool
}

// ResultSet is one page of matches.
type ResultSet struct {
	Records []domain.ArtifactRecord `json:"records"`
	// TotalMatches is the number of matches before pagination.
	TotalMatches int    `json:"total_matches"`
	Context      string `json:"context"`
	GenerationID uint64 `json:"generation_id"`
	Timestamp    int64  `json:"timestamp"`
}

type cacheKey struct {
	context    string
	generation uint64
	request    string
}

// QueryEngine evaluates search requests against the current generation of a
// context. Results are cached per generation.
type QueryEngine struct {
	cache        *lru.Cache[cacheKey, *ResultSet]
	defaultLimit int
}

// NewQueryEngine creates an engine caching up to cacheSize result pages.
// A cacheSize of 0 disables caching.
func NewQueryEngine(cacheSize, defaultLimit int) (*QueryEngine, error) {
	if defaultLimit <= 0 {
		defaultLimit = DefaultLimit
	}
	e := &QueryEngine{defaultLimit: defaultLimit}
	if cacheSize > 0 {
		cache, err := lru.New[cacheKey, *ResultSet](cacheSize)
		if err != nil {
			return nil, fmt.Errorf("failed to create query cache: %w", err)
		}
		e.cache = cache
	}
	return e, nil
}

// Search runs req against the generation currently published in ic. The
// generation stays pinned for the whole evaluation, so a concurrent publish
// is never observed. A context without a generation and an empty expression
// both yield an empty result.
func (e *QueryEngine) Search(ctx context.Context, ic *IndexContext, req SearchRequest) (*ResultSet, error) {
	if req.Offset < 0 {
		return nil, fmt.Errorf("%w: negative offset", ErrInvalidExpression)
	}
	if req.Limit <= 0 {
		req.Limit = e.defaultLimit
	}

	handle := ic.Acquire()
	if handle == nil {
		return &ResultSet{Context: ic.Name()}, nil
	}
	defer handle.Release()
	gen := handle.Generation()

	empty := &ResultSet{Context: ic.Name(), GenerationID: gen.ID(), Timestamp: gen.RemoteTimestamp()}
	if len(req.Expression) == 0 {
		return empty, nil
	}

	q, err := compile(gen, req.Expression)
	if err != nil {
		return nil, err
	}

	key := cacheKey{
		context:    ic.Name(),
		generation: gen.ID(),
		request:    fmt.Sprintf("%s|%d|%d|%t", req.Expression, req.Limit, req.Offset, req.Ranked),
	}
	if e.cache != nil {
		if rs, ok := e.cache.Get(key); ok {
			return rs.clone(), nil
		}
	}

	searchReq := bleve.NewSearchRequestOptions(q, req.Limit, req.Offset, false)
	if req.Ranked {
		searchReq.SortBy([]string{"-_score", domain.FieldGroupID, domain.FieldArtifactID, domain.FieldVersion, "_id"})
	} else {
		searchReq.SortBy([]string{domain.FieldGroupID, domain.FieldArtifactID, domain.FieldVersion, "_id"})
	}

	result, err := gen.index.SearchInContext(ctx, searchReq)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	rs := empty
	rs.TotalMatches = int(result.Total)
	rs.Records = make([]domain.ArtifactRecord, 0, len(result.Hits))
	for _, hit := range result.Hits {
		if rec, ok := gen.Record(hit.ID); ok {
			rs.Records = append(rs.Records, rec)
		}
	}

	if e.cache != nil {
		e.cache.Add(key, rs.clone())
	}
	return rs, nil
}

// Purge drops all cached results.
func (e *QueryEngine) Purge() {
	if e.cache != nil {
		e.cache.Purge()
	}
}

func (rs *ResultSet) clone() *ResultSet {
	c := *rs
	c.Records = slices.Clone(rs.Records)
	return &c
}

// compile translates an expression into a bleve conjunction over the fields
// indexed by gen.
func compile(gen *Generation, expr Expression) (query.Query, error) {
	must := make([]query.Query, 0, len(expr))
	for _, p := range expr {
		kind, ok := gen.hasField(p.Field)
		if !ok {
			return nil, fmt.Errorf("%w: field %q is not indexed", ErrInvalidExpression, p.Field)
		}
		q, err := compilePredicate(p, kind)
		if err != nil {
			return nil, err
		}
		must = append(must, q)
	}
	if len(must) == 1 {
		return must[0], nil
	}
	return bleve.NewConjunctionQuery(must...), nil
}

func compilePredicate(p Predicate, kind FieldKind) (query.Query, error) {
	inclusive := true

	switch p.Kind {
	case PredicateExact:
		if p.Value == "" {
			return nil, fmt.Errorf("%w: empty value for %s", ErrInvalidExpression, p.Field)
		}
		if kind == FieldNumeric {
			v, err := parseNumber(p.Field, p.Value)
			if err != nil {
				return nil, err
			}
			q := bleve.NewNumericRangeInclusiveQuery(&v, &v, &inclusive, &inclusive)
			q.SetField(p.Field)
			return q, nil
		}
		value := p.Value
		if p.Field == domain.FieldSHA1 {
			value = domain.NormalizeChecksum(value)
		}
		q := bleve.NewTermQuery(value)
		q.SetField(p.Field)
		return q, nil

	case PredicatePrefix:
		if p.Value == "" {
			return nil, fmt.Errorf("%w: empty prefix for %s", ErrInvalidExpression, p.Field)
		}
		if kind == FieldNumeric {
			return nil, fmt.Errorf("%w: prefix match on numeric field %s", ErrInvalidExpression, p.Field)
		}
		q := bleve.NewPrefixQuery(p.Value)
		q.SetField(p.Field)
		return q, nil

	case PredicateRange:
		if p.Min == "" && p.Max == "" {
			return nil, fmt.Errorf("%w: range on %s has no bounds", ErrInvalidExpression, p.Field)
		}
		if kind == FieldNumeric {
			var lo, hi *float64
			if p.Min != "" {
				v, err := parseNumber(p.Field, p.Min)
				if err != nil {
					return nil, err
				}
				lo = &v
			}
			if p.Max != "" {
				v, err := parseNumber(p.Field, p.Max)
				if err != nil {
					return nil, err
				}
				hi = &v
			}
			q := bleve.NewNumericRangeInclusiveQuery(lo, hi, &inclusive, &inclusive)
			q.SetField(p.Field)
			return q, nil
		}
		q := bleve.NewTermRangeInclusiveQuery(p.Min, p.Max, &inclusive, &inclusive)
		q.SetField(p.Field)
		return q, nil
	}

	return nil, fmt.Errorf("%w: unknown predicate kind %s", ErrInvalidExpression, p.Kind)
}

func parseNumber(field, s string) (float64, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s expects an integer, got %q", ErrInvalidExpression, field, s)
	}
	return float64(v), nil
}

// Criteria are the common search fields of the CLI and the tools. Empty
// fields are ignored.
type Criteria struct {
	SHA1           string
	GroupID        string
	ArtifactID     string
	Version        string
	Classifier     string
	Packaging      string
	GroupPrefix    string
	ArtifactPrefix string
	ClassName      string
	PluginPrefix   string
	// ModifiedFrom and ModifiedTo bound lastModified in unix millis; 0 is open.
	ModifiedFrom int64
	ModifiedTo   int64
}

// Expression converts the criteria to a conjunction.
func (c Criteria) Expression() Expression {
	var expr Expression
	exact := func(field, value string) {
		if value = strings.TrimSpace(value); value != "" {
			expr = append(expr, Exact(field, value))
		}
	}
	exact(domain.FieldSHA1, c.SHA1)
	exact(domain.FieldGroupID, c.GroupID)
	exact(domain.FieldArtifactID, c.ArtifactID)
	exact(domain.FieldVersion, c.Version)
	exact(domain.FieldClassifier, c.Classifier)
	exact(domain.FieldPackaging, c.Packaging)
	exact(domain.FieldClassNames, c.ClassName)
	exact(domain.FieldPluginPrefix, c.PluginPrefix)

	if p := strings.TrimSpace(c.GroupPrefix); p != "" {
		expr = append(expr, Prefix(domain.FieldGroupID, p))
	}
	if p := strings.TrimSpace(c.ArtifactPrefix); p != "" {
		expr = append(expr, Prefix(domain.FieldArtifactID, p))
	}

	if c.ModifiedFrom > 0 || c.ModifiedTo > 0 {
		var lo, hi string
		if c.ModifiedFrom > 0 {
			lo = strconv.FormatInt(c.ModifiedFrom, 10)
		}
		if c.ModifiedTo > 0 {
			hi = strconv.FormatInt(c.ModifiedTo, 10)
		}
		expr = append(expr, Range(domain.FieldLastModified, lo, hi))
	}
	return expr
}

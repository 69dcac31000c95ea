package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
)

const (
	// PropertiesResource is the name of the index properties resource
	PropertiesResource = "artifact-index.properties"

	// FullIndexResource is the name of the full index resource
	FullIndexResource = "artifact-index.gz"

	chunkResourcePrefix = "artifact-index."
	chunkResourceSuffix = ".gz"
)

// ChunkResource returns the resource name of the incremental chunk with the given counter.
func ChunkResource(counter int) string {
	return chunkResourcePrefix + strconv.Itoa(counter) + chunkResourceSuffix
}

var (
	// ErrNotFound indicates the requested resource does not exist remotely
	ErrNotFound = errors.New("resource not found")

	// ErrUnsupportedScheme indicates a base URL with no matching store
	ErrUnsupportedScheme = errors.New("unsupported URL scheme")
)

// FetchError reports a failure to retrieve a remote resource.
type FetchError struct {
	Resource string
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Resource, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err indicates a missing remote resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Progress describes the state of one resource transfer.
type Progress struct {
	Resource string
	// Transferred is the number of bytes read so far.
	Transferred int64
	// Total is the expected size, or -1 when unknown.
	Total int64
	Done  bool
}

// ProgressFunc receives transfer progress. It may be nil.
type ProgressFunc func(Progress)

// ChunkStore fetches named resources of one remote index.
// Each call is a single attempt; retrying is up to the caller.
type ChunkStore interface {
	// Fetch opens the named resource. Errors are *FetchError values.
	// The caller must close the returned reader.
	Fetch(ctx context.Context, resource string, progress ProgressFunc) (io.ReadCloser, error)
}

// Options configures stores created by New.
type Options struct {
	HTTP HTTPOptions
}

// New returns the ChunkStore serving baseURL, selected by URL scheme.
// http and https URLs use an HTTPStore, file URLs and plain paths a FileStore.
func New(baseURL string, opts Options) (ChunkStore, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", baseURL, err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return NewHTTPStore(baseURL, opts.HTTP), nil
	case "file":
		return NewFileStore(u.Path), nil
	case "":
		return NewFileStore(baseURL), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedScheme, u.Scheme)
	}
}

// progressReader reports progress while reading and once more on close.
type progressReader struct {
	io.ReadCloser
	progress Progress
	report   ProgressFunc
}

func withProgress(rc io.ReadCloser, resource string, total int64, report ProgressFunc) io.ReadCloser {
	if report == nil {
		return rc
	}
	p := &progressReader{
		ReadCloser: rc,
		progress:   Progress{Resource: resource, Total: total},
		report:     report,
	}
	report(p.progress)
	return p
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.ReadCloser.Read(b)
	if n > 0 {
		p.progress.Transferred += int64(n)
		p.report(p.progress)
	}
	return n, err
}

func (p *progressReader) Close() error {
	if !p.progress.Done {
		p.progress.Done = true
		p.report(p.progress)
	}
	return p.ReadCloser.Close()
}

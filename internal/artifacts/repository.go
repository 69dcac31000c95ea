package artifacts

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var (
	// ErrInvalidRepository indicates a repository specification that cannot be parsed
	ErrInvalidRepository = errors.New("invalid repository specification")

	// Context names are used as directory names.
	contextNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)
)

// Repository names one remote index to synchronize.
type Repository struct {
	Name string
	URL  string
}

// ParseRepository parses "name=url" or a bare url. A bare url gets a name
// derived with URLToContextID.
//
// Examples:
//   - central=https://repo.maven.apache.org/maven2/.index -> central
//   - https://repo.example.com/index -> repo.example.com_index
//   - /srv/mirror/index -> srv_mirror_index
func ParseRepository(spec string) (Repository, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return Repository{}, fmt.Errorf("%w: empty", ErrInvalidRepository)
	}

	name, rawURL, hasName := strings.Cut(spec, "=")
	if !hasName || strings.Contains(name, "/") || strings.Contains(name, ":") {
		name, rawURL = "", spec
	}
	name = strings.TrimSpace(name)
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return Repository{}, fmt.Errorf("%w: missing URL in %q", ErrInvalidRepository, spec)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return Repository{}, fmt.Errorf("%w: %v", ErrInvalidRepository, err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		if u.Host == "" {
			return Repository{}, fmt.Errorf("%w: missing host in %q", ErrInvalidRepository, rawURL)
		}
	case "file", "":
	default:
		return Repository{}, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidRepository, u.Scheme)
	}

	if name == "" {
		name = URLToContextID(rawURL)
	}
	if !contextNamePattern.MatchString(name) {
		return Repository{}, fmt.Errorf("%w: invalid context name %q", ErrInvalidRepository, name)
	}
	return Repository{Name: name, URL: strings.TrimRight(rawURL, "/")}, nil
}

// URLToContextID converts a remote URL to a filesystem-safe context name.
//
// Examples:
//   - https://repo.example.com/maven2/.index -> repo.example.com_maven2_.index
//   - file:///srv/index -> srv_index
func URLToContextID(rawURL string) string {
	s := strings.TrimSpace(rawURL)
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	}
	s = strings.Trim(s, "/")
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, ":", "_")
	s = strings.ReplaceAll(s, "@", "_")
	s = strings.TrimLeft(s, "._-")
	if s == "" {
		return "index"
	}
	return s
}

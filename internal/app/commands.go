package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"time"

	"github.com/sha1n/artifact-index/internal/artifacts"
	"github.com/spf13/pflag"
)

// ErrNoRepositories indicates a command run without any configured repository
var ErrNoRepositories = errors.New("no repositories configured, use --repository")

// separator is printed between search hits
const separator = "------"

// UpdateOptions selects what the update command synchronizes
type UpdateOptions struct {
	Context  string
	Progress bool
}

// SearchOptions are the parameters of the search command
type SearchOptions struct {
	Context  string
	Criteria artifacts.Criteria
	Limit    int
	Offset   int
	Ranked   bool
	// Update synchronizes the searched contexts before searching.
	Update bool
	JSON   bool
}

// RunUpdate synchronizes one or all contexts with their remote index and
// prints one line per context.
func RunUpdate(ctx context.Context, params RunParams, flags *pflag.FlagSet, opts UpdateOptions) error {
	svc, err := openService(params, flags)
	if err != nil {
		return err
	}
	defer closeService(svc)

	var progress artifacts.ProgressFactory
	if opts.Progress {
		progress = NewProgressBars(params.stderr())
	}
	return update(ctx, svc, opts.Context, progress, params.stdout())
}

// RunSearch searches the local indexes and prints the matching records.
func RunSearch(ctx context.Context, params RunParams, flags *pflag.FlagSet, opts SearchOptions) error {
	expr := opts.Criteria.Expression()
	if len(expr) == 0 {
		return fmt.Errorf("%w: at least one search flag is required", artifacts.ErrInvalidExpression)
	}

	svc, err := openService(params, flags)
	if err != nil {
		return err
	}
	defer closeService(svc)

	if opts.Update {
		if err := update(ctx, svc, opts.Context, nil, params.stderr()); err != nil {
			return err
		}
	}
	if !svc.IsReady() {
		return errors.New("no local index available, run the update command first")
	}

	result, err := svc.Search(ctx, opts.Context, artifacts.SearchRequest{
		Expression: expr,
		Limit:      opts.Limit,
		Offset:     opts.Offset,
		Ranked:     opts.Ranked,
	})
	if err != nil {
		return err
	}

	out := params.stdout()
	if opts.JSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	printHits(out, result)
	return nil
}

func openService(params RunParams, flags *pflag.FlagSet) (*artifacts.Service, error) {
	settings, err := loadValidSettings(params, flags)
	if err != nil {
		return nil, err
	}
	if len(settings.Index.Repositories) == 0 {
		return nil, ErrNoRepositories
	}

	newService := params.NewService
	if newService == nil {
		newService = artifacts.NewService
	}
	svc, err := newService(&settings.Index)
	if err != nil {
		return nil, fmt.Errorf("failed to create artifact index service: %w", err)
	}
	return svc, nil
}

func closeService(svc *artifacts.Service) {
	_ = svc.Close()
}

func update(ctx context.Context, svc *artifacts.Service, name string, progress artifacts.ProgressFactory, out io.Writer) error {
	if name != "" {
		outcome, err := svc.Update(ctx, name, progress)
		_, _ = fmt.Fprintf(out, "%s: %s\n", name, artifacts.DescribeOutcome(outcome, err))
		return err
	}

	results, err := svc.UpdateAll(ctx, progress)
	for _, r := range results {
		_, _ = fmt.Fprintf(out, "%s: %s\n", r.Context, artifacts.DescribeOutcome(r.Outcome, r.Err))
	}
	return err
}

func printHits(out io.Writer, result *artifacts.SearchResult) {
	for _, hit := range result.Hits {
		r := hit.Record
		_, _ = fmt.Fprintln(out, separator)
		_, _ = fmt.Fprintf(out, "%s: %s\n", hit.Context, r.Coordinates())
		if r.SHA1 != "" {
			_, _ = fmt.Fprintf(out, "  sha1: %s\n", r.SHA1)
		}
		if r.LastModified > 0 {
			_, _ = fmt.Fprintf(out, "  lastModified: %s\n", time.UnixMilli(r.LastModified).UTC().Format(time.RFC3339))
		}
		for _, name := range slices.Sorted(maps.Keys(r.Extra)) {
			_, _ = fmt.Fprintf(out, "  %s: %s\n", name, r.Extra[name])
		}
	}
	_, _ = fmt.Fprintln(out, separator)
	_, _ = fmt.Fprintf(out, "Total: %d\n", result.TotalMatches)
}

package app

import (
	"github.com/sha1n/artifact-index/internal/artifacts"
	"github.com/spf13/pflag"
)

// RegisterFlags registers the settings flags on the given FlagSet
func RegisterFlags(flags *pflag.FlagSet) {
	flags.String("config", "", "Config file (yaml, json, toml or env); .env in the working directory when empty")
	flags.StringP("transport", "t", "", "Transport type: stdio or sse")
	flags.StringP("host", "H", "", "Host for SSE transport")
	flags.IntP("port", "p", 0, "Port for SSE transport")
	flags.StringP("auth-type", "a", "", "Authentication type: none, basic, or apikey")
	flags.StringP("auth-basic-username", "u", "", "Basic auth username")
	flags.StringP("auth-basic-password", "P", "", "Basic auth password")
	flags.StringSliceP("auth-api-keys", "k", nil, "API keys (comma-separated)")
	flags.String("log-level", "", "Log level: debug, info, warn or error")
	flags.String("log-format", "", "Log format: text or json")

	// Index flags
	flags.String("base-dir", "", "Directory holding the local index state")
	flags.StringSliceP("repository", "r", nil, "Remote index as name=url or url (repeatable)")
	flags.Bool("update-on-start", true, "Update all contexts when the server starts")
	flags.Duration("update-interval", 0, "Interval of periodic updates; 0 disables them")
	flags.Duration("lock-timeout", 0, "Maximum wait for another process to finish updating")
	flags.Duration("fetch-timeout", 0, "Timeout of a single remote fetch")
	flags.Float64("requests-per-second", 0, "Rate limit of remote requests per context; 0 is unlimited")
	flags.Int("max-parallel-updates", 0, "Maximum number of contexts updated concurrently")
	flags.Int("max-results", 0, "Default number of search results")
	flags.StringSlice("creators", nil, "Index creators defining the searchable fields (comma-separated)")
	flags.Bool("fallback-on-gap", true, "Download the full index when incremental chunks are missing")
	flags.Int("query-cache-size", 0, "Number of cached search results; 0 disables the cache")
}

// RegisterUpdateFlags registers the flags of the update command
func RegisterUpdateFlags(flags *pflag.FlagSet) {
	flags.StringP("context", "c", "", "Context to update; all contexts when empty")
	flags.Bool("no-progress", false, "Do not draw download progress bars")
}

// UpdateOptionsFromFlags reads the update command flags
func UpdateOptionsFromFlags(flags *pflag.FlagSet) UpdateOptions {
	name, _ := flags.GetString("context")
	noProgress, _ := flags.GetBool("no-progress")
	return UpdateOptions{
		Context:  name,
		Progress: !noProgress,
	}
}

// RegisterSearchFlags registers the flags of the search command
func RegisterSearchFlags(flags *pflag.FlagSet) {
	flags.StringP("context", "c", "", "Context to search; all contexts when empty")
	flags.StringP("sha1", "s", "", "SHA-1 checksum of the artifact file")
	flags.StringP("group", "g", "", "Exact groupId")
	flags.String("artifact", "", "Exact artifactId")
	flags.String("version", "", "Exact version")
	flags.String("classifier", "", "Exact classifier")
	flags.String("packaging", "", "Exact packaging")
	flags.String("group-prefix", "", "groupId prefix")
	flags.String("artifact-prefix", "", "artifactId prefix")
	flags.String("class-name", "", "Fully qualified class name contained in the artifact")
	flags.String("plugin-prefix", "", "Maven plugin prefix")
	flags.Int64("modified-from", 0, "Lower bound of lastModified, unix milliseconds")
	flags.Int64("modified-to", 0, "Upper bound of lastModified, unix milliseconds")
	flags.IntP("limit", "n", 0, "Maximum number of results")
	flags.Int("offset", 0, "Number of results to skip")
	flags.Bool("ranked", false, "Order by relevance before coordinates")
	flags.Bool("update", false, "Update the searched contexts first")
	flags.Bool("json", false, "Print results as JSON")
}

// SearchOptionsFromFlags reads the search command flags
func SearchOptionsFromFlags(flags *pflag.FlagSet) SearchOptions {
	str := func(name string) string {
		v, _ := flags.GetString(name)
		return v
	}
	num := func(name string) int64 {
		v, _ := flags.GetInt64(name)
		return v
	}
	limit, _ := flags.GetInt("limit")
	offset, _ := flags.GetInt("offset")
	ranked, _ := flags.GetBool("ranked")
	update, _ := flags.GetBool("update")
	asJSON, _ := flags.GetBool("json")

	return SearchOptions{
		Context: str("context"),
		Criteria: artifacts.Criteria{
			SHA1:           str("sha1"),
			GroupID:        str("group"),
			ArtifactID:     str("artifact"),
			Version:        str("version"),
			Classifier:     str("classifier"),
			Packaging:      str("packaging"),
			GroupPrefix:    str("group-prefix"),
			ArtifactPrefix: str("artifact-prefix"),
			ClassName:      str("class-name"),
			PluginPrefix:   str("plugin-prefix"),
			ModifiedFrom:   num("modified-from"),
			ModifiedTo:     num("modified-to"),
		},
		Limit:  limit,
		Offset: offset,
		Ranked: ranked,
		Update: update,
		JSON:   asJSON,
	}
}

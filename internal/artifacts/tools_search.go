package artifacts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// SearchArgument defines search parameters.
type SearchArgument struct {
	Context        string `json:"context,omitempty" jsonschema_description:"Index context name; all contexts when empty"`
	SHA1           string `json:"sha1,omitempty" jsonschema_description:"SHA-1 checksum of the artifact file (case-insensitive)"`
	GroupID        string `json:"groupId,omitempty" jsonschema_description:"Exact groupId (e.g., org.apache.commons)"`
	ArtifactID     string `json:"artifactId,omitempty" jsonschema_description:"Exact artifactId (e.g., commons-lang3)"`
	Version        string `json:"version,omitempty" jsonschema_description:"Exact version"`
	Classifier     string `json:"classifier,omitempty" jsonschema_description:"Exact classifier (e.g., sources)"`
	Packaging      string `json:"packaging,omitempty" jsonschema_description:"Exact packaging (e.g., jar, pom, maven-plugin)"`
	GroupPrefix    string `json:"groupPrefix,omitempty" jsonschema_description:"groupId prefix, case-sensitive"`
	ArtifactPrefix string `json:"artifactPrefix,omitempty" jsonschema_description:"artifactId prefix, case-sensitive"`
	ClassName      string `json:"className,omitempty" jsonschema_description:"Fully qualified class name contained in the artifact"`
	PluginPrefix   string `json:"pluginPrefix,omitempty" jsonschema_description:"Maven plugin prefix (e.g., compiler)"`
	ModifiedFrom   int64  `json:"modifiedFrom,omitempty" jsonschema_description:"Lower bound of lastModified, unix milliseconds"`
	ModifiedTo     int64  `json:"modifiedTo,omitempty" jsonschema_description:"Upper bound of lastModified, unix milliseconds"`
	Limit          int    `json:"limit,omitempty" jsonschema_description:"Maximum number of results"`
	Offset         int    `json:"offset,omitempty" jsonschema_description:"Number of results to skip"`
	Ranked         bool   `json:"ranked,omitempty" jsonschema_description:"Order by relevance before coordinates"`
}

// Criteria returns the search criteria of the argument.
func (a SearchArgument) Criteria() Criteria {
	return Criteria{
		SHA1:           a.SHA1,
		GroupID:        a.GroupID,
		ArtifactID:     a.ArtifactID,
		Version:        a.Version,
		Classifier:     a.Classifier,
		Packaging:      a.Packaging,
		GroupPrefix:    a.GroupPrefix,
		ArtifactPrefix: a.ArtifactPrefix,
		ClassName:      a.ClassName,
		PluginPrefix:   a.PluginPrefix,
		ModifiedFrom:   a.ModifiedFrom,
		ModifiedTo:     a.ModifiedTo,
	}
}

// SearchHandler handles the search_artifacts MCP tool.
type SearchHandler struct {
	service *Service
}

// NewSearchHandler creates a new search handler.
func NewSearchHandler(service *Service) *SearchHandler {
	return &SearchHandler{
		service: service,
	}
}

// Handle executes the search and returns formatted results.
func (h *SearchHandler) Handle(ctx context.Context, req *mcp.CallToolRequest, args SearchArgument) (*mcp.CallToolResult, any, error) {
	if !h.service.IsReady() {
		return errorResult("Search is not available. The artifact indexes have not been downloaded yet. Please try again later."), nil, nil
	}

	expr := args.Criteria().Expression()
	if len(expr) == 0 {
		return errorResult("At least one search field is required"), nil, nil
	}

	result, err := h.service.Search(ctx, strings.TrimSpace(args.Context), SearchRequest{
		Expression: expr,
		Limit:      args.Limit,
		Offset:     args.Offset,
		Ranked:     args.Ranked,
	})
	if err != nil {
		if errors.Is(err, ErrInvalidExpression) || errors.Is(err, ErrUnknownContext) {
			return errorResult(err.Error()), nil, nil
		}
		return errorResult(fmt.Sprintf("Search failed: %s", err)), nil, nil
	}

	return h.formatResults(result, expr), nil, nil
}

// formatResults formats search results for MCP response.
func (h *SearchHandler) formatResults(result *SearchResult, expr Expression) *mcp.CallToolResult {
	if result.TotalMatches == 0 {
		return textResult(fmt.Sprintf("No artifacts found for: %s", expr))
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Found %d artifacts for %s:\n\n", result.TotalMatches, expr))
	for i, hit := range result.Hits {
		writeRecord(&sb, i+1, hit)
	}

	if shown := len(result.Hits); result.TotalMatches > shown {
		sb.WriteString(fmt.Sprintf("... and %d more results\n", result.TotalMatches-shown))
	}
	return textResult(sb.String())
}

// GetToolDefinition returns the MCP tool definition.
func (h *SearchHandler) GetToolDefinition() *mcp.Tool {
	return &mcp.Tool{
		Name:        "search_artifacts",
		Description: "Search published artifacts by checksum, coordinates, coordinate prefixes, class name or modification time. All given fields must match.",
	}
}

// RegisterSearchTool registers the search tool with an MCP server.
func RegisterSearchTool(server *mcp.Server, service *Service) {
	handler := NewSearchHandler(service)
	mcp.AddTool(server, handler.GetToolDefinition(), handler.Handle)
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}
}

func errorResult(text string) *mcp.CallToolResult {
	r := textResult(text)
	r.IsError = true
	return r
}

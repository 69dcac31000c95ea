package artifacts

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sha1n/artifact-index/internal/domain"
)

// maxArtifactMatches bounds the records listed by get_artifact
const maxArtifactMatches = 50

// GetArtifactArgument defines artifact lookup parameters.
type GetArtifactArgument struct {
	Context    string `json:"context,omitempty" jsonschema_description:"Index context name; all contexts when empty"`
	GroupID    string `json:"groupId" jsonschema_description:"Artifact groupId"`
	ArtifactID string `json:"artifactId" jsonschema_description:"Artifact artifactId"`
	Version    string `json:"version" jsonschema_description:"Artifact version"`
	Classifier string `json:"classifier,omitempty" jsonschema_description:"Classifier; any classifier when empty"`
	Packaging  string `json:"packaging,omitempty" jsonschema_description:"Packaging; any packaging when empty"`
}

// GetArtifactHandler handles the get_artifact MCP tool.
type GetArtifactHandler struct {
	service *Service
}

// NewGetArtifactHandler creates a new artifact lookup handler.
func NewGetArtifactHandler(service *Service) *GetArtifactHandler {
	return &GetArtifactHandler{
		service: service,
	}
}

// Handle looks up the records with the given coordinates and returns all of
// their indexed fields.
func (h *GetArtifactHandler) Handle(ctx context.Context, req *mcp.CallToolRequest, args GetArtifactArgument) (*mcp.CallToolResult, any, error) {
	if !h.service.IsReady() {
		return errorResult("Lookup is not available. The artifact indexes have not been downloaded yet. Please try again later."), nil, nil
	}

	if strings.TrimSpace(args.GroupID) == "" || strings.TrimSpace(args.ArtifactID) == "" || strings.TrimSpace(args.Version) == "" {
		return errorResult("groupId, artifactId and version are required"), nil, nil
	}

	criteria := Criteria{
		GroupID:    args.GroupID,
		ArtifactID: args.ArtifactID,
		Version:    args.Version,
		Classifier: args.Classifier,
		Packaging:  args.Packaging,
	}
	result, err := h.service.Search(ctx, strings.TrimSpace(args.Context), SearchRequest{
		Expression: criteria.Expression(),
		Limit:      maxArtifactMatches,
	})
	if err != nil {
		return errorResult(fmt.Sprintf("Lookup failed: %s", err)), nil, nil
	}
	if result.TotalMatches == 0 {
		return errorResult(fmt.Sprintf("Artifact not found: %s:%s:%s", args.GroupID, args.ArtifactID, args.Version)), nil, nil
	}

	var sb strings.Builder
	for i, hit := range result.Hits {
		writeRecord(&sb, i+1, hit)
		extras := slices.Sorted(maps.Keys(hit.Record.Extra))
		for _, name := range extras {
			if name == domain.FieldName || name == domain.FieldDescription {
				continue
			}
			value := hit.Record.Extra[name]
			if strings.Contains(value, "\n") {
				sb.WriteString(fmt.Sprintf("**%s**:\n```\n%s\n```\n", name, value))
			} else {
				sb.WriteString(fmt.Sprintf("**%s**: %s\n", name, value))
			}
		}
		sb.WriteString("\n")
	}
	return textResult(sb.String()), nil, nil
}

// writeRecord writes the markdown summary of one hit.
func writeRecord(sb *strings.Builder, n int, hit Hit) {
	r := hit.Record
	sb.WriteString(fmt.Sprintf("### %d. %s\n", n, r.Coordinates()))
	sb.WriteString(fmt.Sprintf("**Context**: %s\n", hit.Context))
	if r.SHA1 != "" {
		sb.WriteString(fmt.Sprintf("**SHA-1**: %s\n", r.SHA1))
	}
	if r.LastModified > 0 {
		sb.WriteString(fmt.Sprintf("**Last modified**: %s\n", time.UnixMilli(r.LastModified).UTC().Format(time.RFC3339)))
	}
	if name := r.Extra[domain.FieldName]; name != "" {
		sb.WriteString(fmt.Sprintf("**Name**: %s\n", name))
	}
	if desc := r.Extra[domain.FieldDescription]; desc != "" {
		sb.WriteString(fmt.Sprintf("**Description**: %s\n", desc))
	}
	sb.WriteString("\n")
}

// GetToolDefinition returns the MCP tool definition.
func (h *GetArtifactHandler) GetToolDefinition() *mcp.Tool {
	return &mcp.Tool{
		Name:        "get_artifact",
		Description: "Get all indexed fields of an artifact by its coordinates",
	}
}

// RegisterGetArtifactTool registers the artifact lookup tool with an MCP server.
func RegisterGetArtifactTool(server *mcp.Server, service *Service) {
	handler := NewGetArtifactHandler(service)
	mcp.AddTool(server, handler.GetToolDefinition(), handler.Handle)
}

package artifacts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// StatusArgument defines index_status parameters.
type StatusArgument struct{}

// StatusHandler handles the index_status MCP tool.
type StatusHandler struct {
	service *Service
}

// NewStatusHandler creates a new status handler.
func NewStatusHandler(service *Service) *StatusHandler {
	return &StatusHandler{
		service: service,
	}
}

// Handle reports the state of every configured context.
func (h *StatusHandler) Handle(ctx context.Context, req *mcp.CallToolRequest, args StatusArgument) (*mcp.CallToolResult, any, error) {
	statuses := h.service.Statuses()
	if len(statuses) == 0 {
		return textResult("No index contexts are configured."), nil, nil
	}

	var sb strings.Builder
	for _, st := range statuses {
		sb.WriteString(fmt.Sprintf("### %s\n", st.Name))
		sb.WriteString(fmt.Sprintf("**Remote**: %s\n", st.RemoteURL))
		if st.Ready {
			sb.WriteString(fmt.Sprintf("**Generation**: %d\n", st.GenerationID))
			sb.WriteString(fmt.Sprintf("**Index timestamp**: %s\n", formatMillis(st.Timestamp)))
			sb.WriteString(fmt.Sprintf("**Documents**: %d\n", st.DocumentCount))
		} else {
			sb.WriteString("**Generation**: none (not downloaded yet)\n")
		}
		if !st.LastAttempt.IsZero() {
			sb.WriteString(fmt.Sprintf("**Last attempt**: %s (%s)\n", st.LastAttempt.UTC().Format(time.RFC3339), st.LastOutcome))
		}
		if st.ForceFull {
			sb.WriteString("**Next update**: full\n")
		}
		if st.Error != "" {
			sb.WriteString(fmt.Sprintf("**Error**: %s\n", st.Error))
		}
		sb.WriteString("\n")
	}
	return textResult(sb.String()), nil, nil
}

// GetToolDefinition returns the MCP tool definition.
func (h *StatusHandler) GetToolDefinition() *mcp.Tool {
	return &mcp.Tool{
		Name:        "index_status",
		Description: "Show the state of every artifact index context: generation, remote timestamp, document count and last update",
	}
}

// UpdateArgument defines update_index parameters.
type UpdateArgument struct {
	Context string `json:"context,omitempty" jsonschema_description:"Index context name; all contexts when empty"`
}

// UpdateHandler handles the update_index MCP tool.
type UpdateHandler struct {
	service *Service
}

// NewUpdateHandler creates a new update handler.
func NewUpdateHandler(service *Service) *UpdateHandler {
	return &UpdateHandler{
		service: service,
	}
}

// Handle synchronizes one or all contexts with their remote index.
func (h *UpdateHandler) Handle(ctx context.Context, req *mcp.CallToolRequest, args UpdateArgument) (*mcp.CallToolResult, any, error) {
	name := strings.TrimSpace(args.Context)

	var results []UpdateResult
	var err error
	if name != "" {
		var outcome Outcome
		outcome, err = h.service.Update(ctx, name, nil)
		if errors.Is(err, ErrUnknownContext) {
			return errorResult(err.Error()), nil, nil
		}
		results = []UpdateResult{{Context: name, Outcome: outcome, Err: err}}
	} else {
		results, err = h.service.UpdateAll(ctx, nil)
	}
	if len(results) == 0 && err != nil {
		return errorResult(fmt.Sprintf("Update failed: %s", err)), nil, nil
	}

	var sb strings.Builder
	for _, r := range results {
		sb.WriteString(fmt.Sprintf("%s: %s\n", r.Context, DescribeOutcome(r.Outcome, r.Err)))
	}
	result := textResult(sb.String())
	result.IsError = err != nil
	return result, nil, nil
}

// GetToolDefinition returns the MCP tool definition.
func (h *UpdateHandler) GetToolDefinition() *mcp.Tool {
	return &mcp.Tool{
		Name:        "update_index",
		Description: "Download the latest changes of one or all artifact index contexts",
	}
}

// DescribeOutcome returns a one-line human readable summary of an update.
func DescribeOutcome(o Outcome, err error) string {
	if err != nil {
		return fmt.Sprintf("failed: %s", err)
	}
	switch o.Kind {
	case OutcomeFull:
		return fmt.Sprintf("Full update happened! %d documents at %s.", o.DocumentCount, formatMillis(o.Timestamp))
	case OutcomeIncremental:
		return fmt.Sprintf("Incremental update happened, change covered %s - %s period (%d chunks, %d documents).",
			formatMillis(o.PreviousTimestamp), formatMillis(o.Timestamp), o.Chunks, o.DocumentCount)
	case OutcomeNoChange:
		return "No update needed, index is up to date!"
	case OutcomeCancelled:
		return "Update cancelled."
	}
	return o.Kind.String()
}

func formatMillis(ms int64) string {
	if ms <= 0 {
		return "-"
	}
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}

// RegisterTools registers all artifact index tools with an MCP server.
func RegisterTools(server *mcp.Server, service *Service) {
	RegisterSearchTool(server, service)
	RegisterGetArtifactTool(server, service)

	status := NewStatusHandler(service)
	mcp.AddTool(server, status.GetToolDefinition(), status.Handle)

	update := NewUpdateHandler(service)
	mcp.AddTool(server, update.GetToolDefinition(), update.Handle)
}

package mcp

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ziadkadry99/bms-assistant/internal/dispatch"
	"github.com/ziadkadry99/bms-assistant/internal/intent"
	"github.com/ziadkadry99/bms-assistant/internal/knowledge"
	"github.com/ziadkadry99/bms-assistant/internal/platform"
)

// handleAsk runs one conversational turn.
func (s *Server) handleAsk(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := request.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: text"), nil
	}

	reply, err := s.engine.Handle(ctx, dispatch.Request{
		UserID: request.GetString("user_id", UserID),
		Text:   text,
		Device: request.GetString("device", ""),
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("ask failed: %v", err)), nil
	}
	return mcp.NewToolResultText(reply.Result), nil
}

// handleDiagnoseDevice forces the health intent on the named device.
func (s *Server) handleDiagnoseDevice(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	device, err := request.RequireString("device")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: device"), nil
	}

	reply, err := s.engine.Handle(ctx, dispatch.Request{
		UserID: UserID,
		Text:   "health of " + device,
		Device: device,
		Intent: string(intent.Health),
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("diagnosis failed: %v", err)), nil
	}
	return mcp.NewToolResultText(reply.Result), nil
}

// handleListDevices lists devices straight from the platform directory.
func (s *Server) handleListDevices(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	devices, err := s.devices.ListDevices(ctx, platform.DeviceFilter{
		NameGlob: request.GetString("name", ""),
		Type:     request.GetString("type", ""),
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("listing devices failed: %v", err)), nil
	}
	if len(devices) == 0 {
		return mcp.NewToolResultText("No devices matched."), nil
	}
	return mcp.NewToolResultText(formatDevices(devices)), nil
}

// handleSearchFaults queries the fault knowledge base.
func (s *Server) handleSearchFaults(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := request.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: query"), nil
	}

	limit := request.GetInt("limit", 3)
	if limit <= 0 {
		limit = 3
	}

	results, err := s.faults.Search(ctx, query, limit, request.GetString("equipment", ""))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
	}
	if len(results) == 0 {
		return mcp.NewToolResultText("No matching faults found."), nil
	}
	return mcp.NewToolResultText(formatFaults(results)), nil
}

func formatDevices(devices []platform.Device) string {
	sorted := make([]platform.Device, len(devices))
	copy(sorted, devices)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d device(s):\n", len(sorted))
	for _, d := range sorted {
		fmt.Fprintf(&sb, "- %s [%s] %s (id %s)\n", d.Name, d.Type, d.Status(), d.ID)
	}
	return sb.String()
}

// formatFaults converts search hits into a text block for agents.
func formatFaults(results []knowledge.Result) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d fault(s):\n", len(results))

	for i, r := range results {
		fmt.Fprintf(&sb, "\n--- Result %d ---\n", i+1)
		fmt.Fprintf(&sb, "Equipment: %s\n", r.Fault.Equipment)
		fmt.Fprintf(&sb, "Fault: %s\n", r.Fault.Fault)
		if r.Fault.Parameter != "" {
			fmt.Fprintf(&sb, "Parameter: %s\n", r.Fault.Parameter)
		}
		fmt.Fprintf(&sb, "Possible cause: %s\n", r.Fault.Possibility)
		fmt.Fprintf(&sb, "Suggestion: %s\n", r.Fault.Suggestion)
		fmt.Fprintf(&sb, "Similarity: %.1f%%\n", r.Similarity*100)
	}

	return sb.String()
}

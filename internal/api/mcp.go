package api

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/metrowatch/genlog/internal/logbook"
	"github.com/metrowatch/genlog/internal/normalize"
	"github.com/metrowatch/genlog/internal/txn"
)

// MCPSnapshotter abstracts log access for the MCP layer.
type MCPSnapshotter interface {
	Snapshot() logbook.DailyLog
}

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Log MCPSnapshotter
}

// NewMCPServer creates an MCP server with the read-only log tools and
// resources registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"genlog",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("genlog — today's metro train allocation log, by service and unit set."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("lookup_service",
			mcp.WithDescription("Look up today's allocation entry for one service (e.g. T101)."),
			mcp.WithString("service", mcp.Description("Service identifier"), mcp.Required()),
		),
		mcpLookupService(deps),
	)

	s.AddTool(
		mcp.NewTool("search_units",
			mcp.WithDescription("Find today's log entries whose unit set contains the query."),
			mcp.WithString("query", mcp.Description("Unit number or fragment"), mcp.Required()),
		),
		mcpSearchUnits(deps),
	)

	s.AddTool(
		mcp.NewTool("snapshot",
			mcp.WithDescription("Return today's full allocation log as rendered text."),
		),
		mcpSnapshot(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"log://today",
			"Today's Log",
			mcp.WithResourceDescription("Today's full allocation log as rendered text"),
			mcp.WithMIMEType("text/markdown"),
		),
		mcpResourceToday(deps),
	)

	return s
}

func mcpLookupService(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		raw, err := req.RequireString("service")
		if err != nil {
			return mcpError("service is required"), nil
		}

		id := normalize.ServiceID(strings.TrimSpace(raw))
		snapshot := deps.Log.Snapshot()
		sets, ok := snapshot[id]
		if !ok {
			return mcpText(fmt.Sprintf("%s is not in today's log.", id)), nil
		}
		return mcpText(txn.FormatDailyLog(logbook.DailyLog{id: sets})), nil
	}
}

func mcpSearchUnits(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		needle := strings.ToLower(strings.TrimSpace(query))
		snapshot := deps.Log.Snapshot()

		services := make([]string, 0, len(snapshot))
		for service := range snapshot {
			services = append(services, service)
		}
		sort.Strings(services)

		var lines []string
		for _, service := range services {
			for units, d := range snapshot[service] {
				if strings.Contains(strings.ToLower(units), needle) {
					lines = append(lines, txn.FormatEntry(service, units, d))
				}
			}
		}
		if len(lines) == 0 {
			return mcpText(fmt.Sprintf("No log entries match %q.", query)), nil
		}
		sort.Strings(lines)
		return mcpText(strings.Join(lines, "\n")), nil
	}
}

func mcpSnapshot(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		rendered := txn.FormatDailyLog(deps.Log.Snapshot())
		if rendered == "" {
			return mcpText("The log is empty."), nil
		}
		return mcpText(rendered), nil
	}
}

func mcpResourceToday(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "text/markdown",
				Text:     txn.FormatDailyLog(deps.Log.Snapshot()),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}

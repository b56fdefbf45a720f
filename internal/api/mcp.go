package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/mirekh/doppel/internal/ingest"
	"github.com/mirekh/doppel/internal/memory"
	"github.com/mirekh/doppel/internal/timeline"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Jobs      ingest.JobStore
	Snapshots SnapshotLoader
	Resetter  Resetter
}

// NewMCPServer creates an MCP server exposing the memory engine as
// tools for agent use.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"doppel",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("doppel — per-individual memory engine: writing style, experiences, and personal facts consolidated from ingested content."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("remember_text",
			mcp.WithDescription("Ingest a piece of text into an individual's memory. Extraction and consolidation run in the background."),
			mcp.WithString("individual", mcp.Description("Individual the text belongs to"), mcp.Required()),
			mcp.WithString("text", mcp.Description("The text to learn from"), mcp.Required()),
			mcp.WithString("source", mcp.Description("Where the text came from: upload, conversation, generated, inferred (default conversation)")),
		),
		mcpRememberText(deps),
	)

	s.AddTool(
		mcp.NewTool("get_memory",
			mcp.WithDescription("Return everything known about an individual: style profile, experiences, personal facts, and provenance."),
			mcp.WithString("individual", mcp.Description("Individual to look up"), mcp.Required()),
		),
		mcpGetMemory(deps),
	)

	s.AddTool(
		mcp.NewTool("get_timeline",
			mcp.WithDescription("Return the chronological timeline of what was learned about an individual and when."),
			mcp.WithString("individual", mcp.Description("Individual to look up"), mcp.Required()),
		),
		mcpGetTimeline(deps),
	)

	s.AddTool(
		mcp.NewTool("reset_memory",
			mcp.WithDescription("Delete everything known about an individual. Irreversible."),
			mcp.WithString("individual", mcp.Description("Individual to wipe"), mcp.Required()),
		),
		mcpResetMemory(deps),
	)

	return s
}

func mcpRememberText(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		individual, err := req.RequireString("individual")
		if err != nil {
			return mcpError("individual is required"), nil
		}
		text, err := req.RequireString("text")
		if err != nil {
			return mcpError("text is required"), nil
		}
		source := req.GetString("source", memory.SourceConversation)

		jobID, err := ingest.Enqueue(deps.Jobs, ingest.ConsolidatePayload{
			Individual:  individual,
			ContentType: "text",
			Source:      source,
			Text:        text,
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to queue ingest: %v", err)), nil
		}

		return mcpText(fmt.Sprintf("Queued consolidation job %s for %s", jobID, individual)), nil
	}
}

func mcpGetMemory(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		individual, err := req.RequireString("individual")
		if err != nil {
			return mcpError("individual is required"), nil
		}

		snap, err := deps.Snapshots.Snapshot(ctx, individual)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to load memory: %v", err)), nil
		}

		b, err := json.Marshal(snap)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal memory: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpGetTimeline(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		individual, err := req.RequireString("individual")
		if err != nil {
			return mcpError("individual is required"), nil
		}

		snap, err := deps.Snapshots.Snapshot(ctx, individual)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to load memory: %v", err)), nil
		}

		events := timeline.Build(snap)
		if events == nil {
			events = []timeline.Event{}
		}

		b, err := json.Marshal(events)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal timeline: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResetMemory(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		individual, err := req.RequireString("individual")
		if err != nil {
			return mcpError("individual is required"), nil
		}

		counts, err := deps.Resetter.ResetIndividual(ctx, individual)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to reset memory: %v", err)), nil
		}

		return mcpText(fmt.Sprintf("Deleted %d records for %s (style: %d, experiences: %d, facts: %d, provenance: %d)",
			counts.Total(), individual, counts.StyleProfiles, counts.Experiences, counts.PersonalFacts, counts.Provenance)), nil
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

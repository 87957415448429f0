package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/medrahq/medra/internal/contextstore"
	"github.com/medrahq/medra/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store *storage.Store
	Turns contextstore.Store
}

// NewMCPServer creates an MCP server exposing the doctor's recorded
// context and patient roster as tools.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"medra",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("medra — local medical-assistant backend for per-doctor conversation recall and patient records."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("recall_context",
			mcp.WithDescription("Search a doctor's past conversation turns by keyword overlap and return the most relevant citations."),
			mcp.WithString("doctor_id", mcp.Description("Doctor whose history to search"), mcp.Required()),
			mcp.WithString("query", mcp.Description("Free-text query; clinical keywords are extracted from it"), mcp.Required()),
			mcp.WithString("patient_id", mcp.Description("Optional patient scope")),
		),
		mcpRecallContext(deps),
	)

	s.AddTool(
		mcp.NewTool("list_patients",
			mcp.WithDescription("List the patients registered to a doctor."),
			mcp.WithString("doctor_id", mcp.Description("Doctor whose patients to list"), mcp.Required()),
		),
		mcpListPatients(deps),
	)

	return s
}

func mcpRecallContext(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		doctorID, err := req.RequireString("doctor_id")
		if err != nil {
			return mcpError("doctor_id is required"), nil
		}
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}
		patientID := req.GetString("patient_id", "")

		citations, err := deps.Turns.Query(ctx, query, doctorID, patientID)
		if err != nil {
			return mcpError(fmt.Sprintf("recall failed: %v", err)), nil
		}
		if len(citations) == 0 {
			return mcpText("[]"), nil
		}

		b, err := json.Marshal(citations)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpListPatients(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		doctorID, err := req.RequireString("doctor_id")
		if err != nil {
			return mcpError("doctor_id is required"), nil
		}

		patients, err := deps.Store.ListPatients(doctorID)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list patients: %v", err)), nil
		}
		if len(patients) == 0 {
			return mcpText("[]"), nil
		}

		type patientResult struct {
			ID   string `json:"id"`
			Name string `json:"name"`
			MRN  string `json:"mrn,omitempty"`
		}
		results := make([]patientResult, len(patients))
		for i, p := range patients {
			results[i] = patientResult{ID: p.ID, Name: p.Name, MRN: p.MRN}
		}

		b, err := json.Marshal(results)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
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

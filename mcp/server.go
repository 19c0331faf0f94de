// Package mcp provides an MCP (Model Context Protocol) server for symdex.
// This allows AI agents to query the symbol index as a native tool.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/alpkeskin/gotoon"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/symdex/symdex/config"
	"github.com/symdex/symdex/storage"
)

// Server wraps the MCP server with symdex functionality.
type Server struct {
	mcpServer   *server.MCPServer
	projectRoot string
}

// Definition is a lightweight struct for MCP output.
type Definition struct {
	USR       string `json:"usr"`
	Name      string `json:"name"`
	Kind      string `json:"kind"`
	File      string `json:"file"`
	Line      int    `json:"line"`
	Col       int    `json:"col"`
	Signature string `json:"signature,omitempty"`
}

// Occurrence is one reference location for MCP output.
type Occurrence struct {
	File string `json:"file"`
	Line int    `json:"line"`
	Col  int    `json:"col"`
	Name string `json:"name"`
}

// IndexStatus represents the current state of the index.
type IndexStatus struct {
	TotalFiles int      `json:"total_files"`
	IndexSize  string   `json:"index_size"`
	Backend    string   `json:"backend"`
	Languages  []string `json:"languages"`
}

// encodeOutput encodes data in the specified format (json or toon).
func encodeOutput(data any, format string) (string, error) {
	switch format {
	case "toon":
		return gotoon.Encode(data)
	default: // "json"
		jsonBytes, err := json.MarshalIndent(data, "", "  ")
		if err != nil {
			return "", err
		}
		return string(jsonBytes), nil
	}
}

// NewServer creates a new MCP server for symdex.
func NewServer(projectRoot string) (*Server, error) {
	s := &Server{
		projectRoot: projectRoot,
	}

	s.mcpServer = server.NewMCPServer(
		"symdex",
		"1.0.0",
		server.WithToolCapabilities(false),
	)

	s.registerTools()

	return s, nil
}

// registerTools registers all symdex tools with the MCP server.
func (s *Server) registerTools() {
	findTool := mcp.NewTool("symdex_find_definition",
		mcp.WithDescription("Find the definitions of a symbol by USR (universal symbol reference, e.g. 'go:HandleRequest'). Returns file, line, column and signature for each definition."),
		mcp.WithString("usr",
			mcp.Required(),
			mcp.Description("USR of the symbol to look up"),
		),
		mcp.WithString("format",
			mcp.Description("Output format: 'json' (default) or 'toon' (token-efficient)"),
		),
	)
	s.mcpServer.AddTool(findTool, s.handleFindDefinition)

	referencesTool := mcp.NewTool("symdex_references",
		mcp.WithDescription("List every indexed reference to a symbol by USR, definitions included. Useful for understanding usage before modifying a function."),
		mcp.WithString("usr",
			mcp.Required(),
			mcp.Description("USR of the symbol to look up"),
		),
		mcp.WithString("format",
			mcp.Description("Output format: 'json' (default) or 'toon' (token-efficient)"),
		),
	)
	s.mcpServer.AddTool(referencesTool, s.handleReferences)

	completeTool := mcp.NewTool("symdex_complete",
		mcp.WithDescription("Propose indexed symbols whose name starts with a prefix. Returns name, kind and signature for each candidate."),
		mcp.WithString("prefix",
			mcp.Required(),
			mcp.Description("Identifier prefix to complete"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of candidates to return (default: 50)"),
		),
		mcp.WithString("format",
			mcp.Description("Output format: 'json' (default) or 'toon' (token-efficient)"),
		),
	)
	s.mcpServer.AddTool(completeTool, s.handleComplete)

	indexStatusTool := mcp.NewTool("symdex_index_status",
		mcp.WithDescription("Check the health and status of the symdex index. Returns registered file count, index size and configuration."),
		mcp.WithString("format",
			mcp.Description("Output format: 'json' (default) or 'toon' (token-efficient)"),
		),
	)
	s.mcpServer.AddTool(indexStatusTool, s.handleIndexStatus)
}

// handleFindDefinition handles the symdex_find_definition tool call.
func (s *Server) handleFindDefinition(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	usr, err := request.RequireString("usr")
	if err != nil {
		return mcp.NewToolResultError("usr parameter is required"), nil
	}

	format := request.GetString("format", "json")
	if format != "json" && format != "toon" {
		return mcp.NewToolResultError("format must be 'json' or 'toon'"), nil
	}

	st, err := s.openStore(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to open index: %v", err)), nil
	}
	defer st.Close()

	defs, err := st.FindDefinitions(ctx, usr)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("lookup failed: %v", err)), nil
	}

	results := make([]Definition, len(defs))
	for i, def := range defs {
		results[i] = Definition{
			USR:       def.USR,
			Name:      def.Name,
			Kind:      def.Kind,
			File:      def.File,
			Line:      def.Line,
			Col:       def.Col,
			Signature: def.Signature,
		}
	}

	output, err := encodeOutput(results, format)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode results: %v", err)), nil
	}

	return mcp.NewToolResultText(output), nil
}

// handleReferences handles the symdex_references tool call.
func (s *Server) handleReferences(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	usr, err := request.RequireString("usr")
	if err != nil {
		return mcp.NewToolResultError("usr parameter is required"), nil
	}

	format := request.GetString("format", "json")
	if format != "json" && format != "toon" {
		return mcp.NewToolResultError("format must be 'json' or 'toon'"), nil
	}

	st, err := s.openStore(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to open index: %v", err)), nil
	}
	defer st.Close()

	refs, err := st.References(ctx, usr)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("lookup failed: %v", err)), nil
	}

	results := make([]Occurrence, len(refs))
	for i, ref := range refs {
		results[i] = Occurrence{
			File: ref.File,
			Line: ref.Line,
			Col:  ref.Col,
			Name: ref.Name,
		}
	}

	output, err := encodeOutput(results, format)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode results: %v", err)), nil
	}

	return mcp.NewToolResultText(output), nil
}

// handleComplete handles the symdex_complete tool call.
func (s *Server) handleComplete(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	prefix, err := request.RequireString("prefix")
	if err != nil {
		return mcp.NewToolResultError("prefix parameter is required"), nil
	}

	limit := request.GetInt("limit", 50)
	if limit <= 0 {
		limit = 50
	}

	format := request.GetString("format", "json")
	if format != "json" && format != "toon" {
		return mcp.NewToolResultError("format must be 'json' or 'toon'"), nil
	}

	st, err := s.openStore(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to open index: %v", err)), nil
	}
	defer st.Close()

	symbols, err := st.SymbolsByPrefix(ctx, prefix, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("lookup failed: %v", err)), nil
	}

	results := make([]Definition, len(symbols))
	for i, sym := range symbols {
		results[i] = Definition{
			USR:       sym.USR,
			Name:      sym.Name,
			Kind:      sym.Kind,
			File:      sym.File,
			Line:      sym.Line,
			Col:       sym.Col,
			Signature: sym.Signature,
		}
	}

	output, err := encodeOutput(results, format)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode results: %v", err)), nil
	}

	return mcp.NewToolResultText(output), nil
}

// handleIndexStatus handles the symdex_index_status tool call.
func (s *Server) handleIndexStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	format := request.GetString("format", "json")
	if format != "json" && format != "toon" {
		return mcp.NewToolResultError("format must be 'json' or 'toon'"), nil
	}

	cfg, err := config.Load(s.projectRoot)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to load configuration: %v", err)), nil
	}

	st, err := storage.NewStore(context.Background(), cfg, s.projectRoot)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to open index: %v", err)), nil
	}
	defer st.Close()

	files, err := st.ListFiles(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to get stats: %v", err)), nil
	}

	var indexSize int64
	if info, statErr := os.Stat(config.GetIndexPath(s.projectRoot)); statErr == nil {
		indexSize = info.Size()
	}

	status := IndexStatus{
		TotalFiles: len(files),
		IndexSize:  formatBytes(indexSize),
		Backend:    cfg.Storage.Backend,
		Languages:  cfg.Index.Languages,
	}
	if status.Backend == "" {
		status.Backend = "sqlite"
	}

	output, err := encodeOutput(status, format)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode status: %v", err)), nil
	}

	return mcp.NewToolResultText(output), nil
}

// openStore loads the project configuration and opens its index store.
func (s *Server) openStore(ctx context.Context) (storage.Store, error) {
	cfg, err := config.Load(s.projectRoot)
	if err != nil {
		return nil, err
	}
	return storage.NewStore(ctx, cfg, s.projectRoot)
}

// Serve starts the MCP server using stdio transport.
func (s *Server) Serve() error {
	return server.ServeStdio(s.mcpServer)
}

// formatBytes formats bytes to human readable string.
func formatBytes(b int64) string {
	if b == 0 {
		return "N/A"
	}
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}

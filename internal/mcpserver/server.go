// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes paperlens tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/paperlens/internal/apperr"
	"github.com/starford/paperlens/internal/models"
	"github.com/starford/paperlens/internal/paperservice"
)

const guideURI = "paperlens://guide"

// Server wraps the MCP server with paperlens tools.
type Server struct {
	mcp *server.MCPServer
	svc *paperservice.Service
}

// New creates a new MCP server with all paperlens tools registered.
func New(svc *paperservice.Service, version string) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"paperlens",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("search_papers",
		mcp.WithDescription("Search papers by keyword and/or arXiv category codes."),
		mcp.WithString("query", mcp.Description("Keyword query")),
		mcp.WithArray("categories", mcp.Description("Category codes such as cs.AI"), mcp.WithStringItems()),
		mcp.WithNumber("page", mcp.Description("1-based page number")),
		mcp.WithString("sort", mcp.Description("Sort key"), mcp.Enum("relevance", "date", "citations")),
	), s.searchPapers)

	s.mcp.AddTool(mcp.NewTool("get_paper",
		mcp.WithDescription("Get the full record of one paper, including its summary."),
		mcp.WithString("paper_id", mcp.Required(), mcp.Description("Paper id as returned by search")),
	), s.getPaper)

	s.mcp.AddTool(mcp.NewTool("recommend_papers",
		mcp.WithDescription("Recommend papers related to a base paper."),
		mcp.WithString("paper_id", mcp.Required(), mcp.Description("Base paper id")),
		mcp.WithNumber("top_k", mcp.Description("How many recommendations to return (default 6)")),
		mcp.WithNumber("candidate_k", mcp.Description("Candidate pool size (default 50)")),
	), s.recommendPapers)

	s.mcp.AddTool(mcp.NewTool("list_bookmarks",
		mcp.WithDescription("List the logged-in user's bookmarks with paper details."),
	), s.listBookmarks)

	s.mcp.AddTool(mcp.NewTool("toggle_bookmark",
		mcp.WithDescription("Bookmark a paper, or remove the bookmark if it already exists."),
		mcp.WithString("paper_id", mcp.Required(), mcp.Description("Paper id")),
		mcp.WithString("notes", mcp.Description("Optional notes stored with a new bookmark")),
	), s.toggleBookmark)

	s.mcp.AddTool(mcp.NewTool("search_history",
		mcp.WithDescription("Recent search queries of the logged-in user, newest first."),
		mcp.WithNumber("limit", mcp.Description("Maximum entries (default 20)")),
	), s.searchHistory)

	s.mcp.AddTool(mcp.NewTool("list_interests",
		mcp.WithDescription("List the user's interest categories."),
	), s.listInterests)

	s.mcp.AddTool(mcp.NewTool("save_interests",
		mcp.WithDescription("Replace the user's interest categories (1 to 5 codes)."),
		mcp.WithArray("categories", mcp.Required(), mcp.Description("Category codes"), mcp.WithStringItems()),
	), s.saveInterests)

	s.mcp.AddResource(
		mcp.NewResource(guideURI, "Tool Guide",
			mcp.WithResourceDescription("Identifiers, limits and side effects of the paperlens tools."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readGuideResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

// jsonResult renders v as indented JSON text.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

// errorResult turns a service error into a tool error the model can act on.
func errorResult(err error) *mcp.CallToolResult {
	switch {
	case errors.Is(err, apperr.ErrNotLoggedIn), errors.Is(err, apperr.ErrDisabled):
		return mcp.NewToolResultError("login required: run `paperlens login` first")
	case errors.Is(err, apperr.ErrNotFound):
		return mcp.NewToolResultError(fmt.Sprintf("not found: %v", err))
	}
	return mcp.NewToolResultError(err.Error())
}

func (s *Server) searchPapers(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	p := paperservice.SearchParams{
		Query:      req.GetString("query", ""),
		Categories: req.GetStringSlice("categories", nil),
		Page:       req.GetInt("page", 1),
		Sort:       req.GetString("sort", ""),
	}
	if p.Query == "" && len(p.Categories) == 0 {
		return mcp.NewToolResultError("query or categories is required"), nil
	}
	page, err := s.svc.Search(ctx, p)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(page)
}

func (s *Server) getPaper(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("paper_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	p, err := s.svc.Paper(ctx, models.PaperID(id))
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(p)
}

func (s *Server) recommendPapers(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("paper_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	recs, err := s.svc.Recommendations(ctx, models.PaperID(id), req.GetInt("top_k", 0), req.GetInt("candidate_k", 0))
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(recs)
}

func (s *Server) listBookmarks(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	list, err := s.svc.Bookmarks(ctx)
	if err != nil {
		return errorResult(err), nil
	}
	if len(list) == 0 {
		return mcp.NewToolResultText("no bookmarks"), nil
	}
	return jsonResult(list)
}

func (s *Server) toggleBookmark(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("paper_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	on, err := s.svc.ToggleBookmark(ctx, models.PaperID(id), req.GetString("notes", ""))
	if err != nil {
		return errorResult(err), nil
	}
	if on {
		return mcp.NewToolResultText(fmt.Sprintf("bookmarked: %s", id)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("removed: %s", id)), nil
}

func (s *Server) searchHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	hist, err := s.svc.SearchHistory(ctx, req.GetInt("limit", 0))
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(hist)
}

func (s *Server) listInterests(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	set, err := s.svc.Interests(ctx)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(set)
}

func (s *Server) saveInterests(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	codes, err := req.RequireStringSlice("categories")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	set, err := s.svc.SaveInterests(ctx, codes)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(set)
}

func (s *Server) readGuideResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      guideURI,
			MIMEType: "text/markdown",
			Text:     UsageGuide,
		},
	}, nil
}

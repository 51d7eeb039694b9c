package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/chatcommerce/internal/tools"
)

// ToolCaller dispatches a tool call by name.
type ToolCaller interface {
	Call(ctx context.Context, name, arguments string) tools.Result
}

// NewMCPServer exposes the shopping tools over MCP.
func NewMCPServer(reg ToolCaller, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"chatcommerce",
		version,
		server.WithToolCapabilities(true),
		server.WithInstructions("chatcommerce: search Brazilian marketplaces, read product pages and extract products."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool(tools.SearchWeb,
			mcp.WithDescription("Search the web for product pages on the supported marketplaces. Only product detail URLs are returned."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithNumber("max_results", mcp.Description("Maximum number of results (default 5, max 10)")),
		),
		mcpTool(reg, tools.SearchWeb),
	)

	s.AddTool(
		mcp.NewTool(tools.FetchPage,
			mcp.WithDescription("Fetch the readable text of a product page."),
			mcp.WithString("url", mcp.Description("Product page URL"), mcp.Required()),
		),
		mcpTool(reg, tools.FetchPage),
	)

	s.AddTool(
		mcp.NewTool(tools.ExtractProducts,
			mcp.WithDescription("Extract up to 3 products (name, price, image, url) from page text or from a product URL."),
			mcp.WithString("raw_text", mcp.Description("Page text; leave empty to fetch source_url")),
			mcp.WithString("source_url", mcp.Description("Product page URL")),
		),
		mcpTool(reg, tools.ExtractProducts),
	)

	s.AddTool(
		mcp.NewTool(tools.SaveLead,
			mcp.WithDescription("Save a customer's name and phone number."),
			mcp.WithString("name", mcp.Description("Customer name"), mcp.Required()),
			mcp.WithString("phone", mcp.Description("Customer phone number"), mcp.Required()),
		),
		mcpTool(reg, tools.SaveLead),
	)

	return s
}

func mcpTool(reg ToolCaller, name string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, err := json.Marshal(req.GetArguments())
		if err != nil {
			return mcpError(fmt.Sprintf("invalid arguments: %v", err)), nil
		}
		res := reg.Call(ctx, name, string(args))
		if res.IsError {
			return mcpError(res.Content), nil
		}
		return mcpText(res.Content), nil
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

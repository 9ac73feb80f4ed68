package mcp

import "github.com/mark3labs/mcp-go/mcp"

// askTool defines the ask MCP tool.
var askTool = mcp.NewTool("ask",
	mcp.WithDescription("Ask the assistant a question. The answer comes from the reference corpus when it covers the question, otherwise from the configured models."),
	mcp.WithString("question",
		mcp.Required(),
		mcp.Description("The user question"),
	),
	mcp.WithString("lang",
		mcp.Description("Answer language"),
		mcp.Enum("en", "es"),
	),
	mcp.WithString("session_id",
		mcp.Description("Conversation to continue. A new one is started when omitted."),
	),
)

// searchCorpusTool defines the search_corpus MCP tool.
var searchCorpusTool = mcp.NewTool("search_corpus",
	mcp.WithDescription("Lexical search over the reference corpus. Returns the best matching passages with their ids."),
	mcp.WithString("query",
		mcp.Required(),
		mcp.Description("Search terms"),
	),
	mcp.WithString("lang",
		mcp.Description("Restrict to passages in this language"),
		mcp.Enum("en", "es"),
	),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of passages to return (default 5)"),
	),
)

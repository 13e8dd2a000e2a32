package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the Kestrel MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolOpenInvestigation = mcp.NewTool("open_investigation",
	mcp.WithDescription(
		"Open a fraud risk investigation for a user account. "+
			"Returns the investigation ID needed for all other tools. "+
			"Start here before assessing any risk domain."),
	mcp.WithString("user_id",
		mcp.Required(),
		mcp.Description("The user account under investigation (e.g. 'user_9f2')")),
)

var ToolAssessDomains = mcp.NewTool("assess_domains",
	mcp.WithDescription(
		"Run risk analyzers over the user's recent activity signals. "+
			"Each domain produces a risk score between 0 and 1 with supporting factors. "+
			"Omit 'domain' to run all four analyzers in parallel. "+
			"Analyzers never fail outright: when the model is unreachable they fall back to a rule-based score."),
	mcp.WithString("investigation_id",
		mcp.Required(),
		mcp.Description("Investigation ID from open_investigation (e.g. 'inv_abc123')")),
	mcp.WithString("domain",
		mcp.Description("Single domain to assess; omit to assess all"),
		mcp.Enum("device", "location", "network", "logs")),
	mcp.WithObject("context",
		mcp.Description("Optional per-domain comparison values, e.g. {\"location\": {\"registered_country\": \"DE\"}}")),
)

var ToolAggregateRisk = mcp.NewTool("aggregate_risk",
	mcp.WithDescription(
		"Combine completed domain assessments into one overall fraud verdict: "+
			"a 0-1 risk score plus a narrative with recommended next actions. "+
			"Requires at least one completed domain assessment; run assess_domains first."),
	mcp.WithString("investigation_id",
		mcp.Required(),
		mcp.Description("Investigation ID from open_investigation")),
)

var ToolGetInvestigation = mcp.NewTool("get_investigation",
	mcp.WithDescription(
		"Look up an investigation's status and, if aggregation has run, its overall verdict."),
	mcp.WithString("investigation_id",
		mcp.Required(),
		mcp.Description("Investigation ID from open_investigation")),
)

var ToolListAssessments = mcp.NewTool("list_assessments",
	mcp.WithDescription(
		"List the stored per-domain risk assessments for an investigation, "+
			"including scores, risk factors, and whether each came from the model or a rule-based fallback."),
	mcp.WithString("investigation_id",
		mcp.Required(),
		mcp.Description("Investigation ID from open_investigation")),
)

package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *KestrelClient
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *KestrelClient) *Handlers {
	return &Handlers{client: client}
}

// HandleOpenInvestigation opens a new investigation.
func (h *Handlers) HandleOpenInvestigation(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID := req.GetString("user_id", "")
	if userID == "" {
		return mcp.NewToolResultError("user_id is required"), nil
	}

	raw, err := h.client.OpenInvestigation(ctx, userID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to open investigation: %v", err)), nil
	}

	var inv investigationView
	if err := json.Unmarshal(raw, &inv); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse investigation: %v", err)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf(
		"Investigation opened.\n\nID: %s\nUser: %s\nStatus: %s\n\nNext: use assess_domains with this ID to run the risk analyzers.",
		inv.ID, inv.UserID, inv.Status)), nil
}

// HandleAssessDomains runs one or all domain analyzers.
func (h *Handlers) HandleAssessDomains(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	invID := req.GetString("investigation_id", "")
	if invID == "" {
		return mcp.NewToolResultError("investigation_id is required"), nil
	}

	var domains []string
	if d := req.GetString("domain", ""); d != "" {
		domains = []string{d}
	}

	var domainContext map[string]any
	if raw := req.GetArguments()["context"]; raw != nil {
		if m, ok := raw.(map[string]any); ok {
			domainContext = m
		}
	}

	raw, err := h.client.AssessDomains(ctx, invID, domains, domainContext)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Assessment failed: %v", err)), nil
	}

	text, err := formatAssessments(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse assessments: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleAggregateRisk produces the overall verdict.
func (h *Handlers) HandleAggregateRisk(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	invID := req.GetString("investigation_id", "")
	if invID == "" {
		return mcp.NewToolResultError("investigation_id is required"), nil
	}

	raw, err := h.client.AggregateRisk(ctx, invID)
	if err != nil {
		if strings.Contains(err.Error(), "409") {
			return mcp.NewToolResultError(
				"No domain assessments exist yet. Run assess_domains first, then aggregate."), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("Aggregation failed: %v", err)), nil
	}

	var oa overallView
	if err := json.Unmarshal(raw, &oa); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse verdict: %v", err)), nil
	}

	return mcp.NewToolResultText(formatVerdict(oa)), nil
}

// HandleGetInvestigation looks up investigation status and verdict.
func (h *Handlers) HandleGetInvestigation(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	invID := req.GetString("investigation_id", "")
	if invID == "" {
		return mcp.NewToolResultError("investigation_id is required"), nil
	}

	raw, err := h.client.GetInvestigation(ctx, invID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get investigation: %v", err)), nil
	}

	var resp struct {
		Investigation investigationView `json:"investigation"`
		Overall       *overallView      `json:"overall_assessment"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse investigation: %v", err)), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Investigation %s\nUser: %s\nStatus: %s\n",
		resp.Investigation.ID, resp.Investigation.UserID, resp.Investigation.Status)
	if resp.Overall != nil {
		sb.WriteString("\n")
		sb.WriteString(formatVerdict(*resp.Overall))
	} else {
		sb.WriteString("\nNo overall verdict yet. Use aggregate_risk once domain assessments exist.")
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// HandleListAssessments lists stored domain assessments.
func (h *Handlers) HandleListAssessments(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	invID := req.GetString("investigation_id", "")
	if invID == "" {
		return mcp.NewToolResultError("investigation_id is required"), nil
	}

	raw, err := h.client.ListAssessments(ctx, invID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list assessments: %v", err)), nil
	}

	text, err := formatAssessments(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse assessments: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// --- Response views and formatting ---

type investigationView struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
	Status string `json:"status"`
}

type assessmentView struct {
	RiskLevel   float64  `json:"risk_level"`
	RiskFactors []string `json:"risk_factors"`
	Confidence  float64  `json:"confidence"`
	Summary     string   `json:"summary"`
	IsFallback  bool     `json:"is_fallback"`
}

type overallView struct {
	OverallRiskScore     float64  `json:"overall_risk_score"`
	AccumulatedNarrative string   `json:"accumulated_narrative"`
	ContributingDomains  []string `json:"contributing_domains"`
	IsFallback           bool     `json:"is_fallback"`
}

func formatAssessments(raw json.RawMessage) (string, error) {
	var resp struct {
		Assessments map[string]assessmentView `json:"assessments"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}
	if len(resp.Assessments) == 0 {
		return "No domain assessments yet. Use assess_domains to run the analyzers.", nil
	}

	domains := make([]string, 0, len(resp.Assessments))
	for d := range resp.Assessments {
		domains = append(domains, d)
	}
	sort.Strings(domains)

	var sb strings.Builder
	fmt.Fprintf(&sb, "Domain assessments (%d):\n", len(domains))
	for _, d := range domains {
		a := resp.Assessments[d]
		origin := "model"
		if a.IsFallback {
			origin = "rule-based fallback"
		}
		fmt.Fprintf(&sb, "\n%s: risk %.2f (confidence %.2f, %s)\n", d, a.RiskLevel, a.Confidence, origin)
		if a.Summary != "" {
			fmt.Fprintf(&sb, "  %s\n", a.Summary)
		}
		for _, f := range a.RiskFactors {
			fmt.Fprintf(&sb, "  - %s\n", f)
		}
	}
	return sb.String(), nil
}

func formatVerdict(oa overallView) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Overall risk score: %.2f (%s)\n", oa.OverallRiskScore, riskBand(oa.OverallRiskScore))
	if oa.IsFallback {
		sb.WriteString("Verdict produced by deterministic fallback, not the model.\n")
	}
	if len(oa.ContributingDomains) > 0 {
		fmt.Fprintf(&sb, "Based on: %s\n", strings.Join(oa.ContributingDomains, ", "))
	}
	if oa.AccumulatedNarrative != "" {
		sb.WriteString("\n")
		sb.WriteString(oa.AccumulatedNarrative)
	}
	return sb.String()
}

func riskBand(score float64) string {
	switch {
	case score >= 0.7:
		return "high"
	case score >= 0.4:
		return "moderate"
	default:
		return "low"
	}
}

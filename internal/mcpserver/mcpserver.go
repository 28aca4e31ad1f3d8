// Package mcpserver exposes read-only inspection tools over MCP so an
// operator's own Claude Code session can ask the daemon about its state:
// which sessions exist, what a given session's health looks like, and what
// its recent lifecycle events were, without ever being able to mutate
// anything. There is deliberately no "kill_session" or "inject" tool here;
// mutation stays behind the SMS/tier-authorization path.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/vthunder/smsd/internal/contacts"
	"github.com/vthunder/smsd/internal/eventlog"
	"github.com/vthunder/smsd/internal/registry"
	"github.com/vthunder/smsd/internal/supervisor"
	"github.com/vthunder/smsd/internal/types"
)

// Server wires the read-only tool set to the daemon's live registry, event
// log, contact directory, and tmux supervisor.
type Server struct {
	reg *registry.Registry
	log *eventlog.Log
	sup *supervisor.Supervisor
	dir *contacts.Directory

	mcp *server.MCPServer
}

// New builds a Server. reg, sup, and dir must be the same instances the
// daemon loop uses, so inspection always reflects live state rather than a
// stale snapshot.
func New(reg *registry.Registry, log *eventlog.Log, sup *supervisor.Supervisor, dir *contacts.Directory) *Server {
	s := &Server{reg: reg, log: log, sup: sup, dir: dir}

	s.mcp = server.NewMCPServer(
		"smsd-inspect",
		"1.0.0",
		server.WithToolCapabilities(false),
	)
	s.mcp.AddTool(listSessionsTool(), s.handleListSessions)
	s.mcp.AddTool(getSessionTool(), s.handleGetSession)
	s.mcp.AddTool(checkHealthTool(), s.handleCheckHealth)
	s.mcp.AddTool(listBlessedTool(), s.handleListBlessed)

	return s
}

// ServeStdio blocks, serving tool calls over stdin/stdout until the process
// exits or the reader hits EOF. Intended to run on its own goroutine,
// separate from the daemon's core poll/inject loop.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

func listSessionsTool() mcp.Tool {
	return mcp.NewTool("list_sessions",
		mcp.WithDescription("List every chat_id in the session registry with its session name, type, tier, and timestamps. Whether each tmux session is still running is not checked."),
	)
}

func (s *Server) handleListSessions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	all := s.reg.All()
	summaries := make([]sessionSummary, 0, len(all))
	for _, entry := range all {
		summaries = append(summaries, summarize(entry))
	}
	return jsonResult(summaries)
}

func getSessionTool() mcp.Tool {
	return mcp.NewTool("get_session",
		mcp.WithDescription("Get the registered session record and recent lifecycle events for a single chat_id."),
		mcp.WithString("chat_id",
			mcp.Required(),
			mcp.Description("The chat_id to look up, as recorded in the session registry."),
		),
	)
}

func (s *Server) handleGetSession(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := req.Params.Arguments.(map[string]any)
	chatID, _ := args["chat_id"].(string)
	if chatID == "" {
		return mcp.NewToolResultError("chat_id is required"), nil
	}

	entry, err := s.reg.Get(chatID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("session not found for chat_id %q", chatID)), nil
	}

	out := struct {
		sessionSummary
		RecentEvents []eventlog.Entry `json:"recent_events"`
	}{
		sessionSummary: summarize(entry),
		RecentEvents:   s.log.Recent(chatID, 20),
	}
	return jsonResult(out)
}

func checkHealthTool() mcp.Tool {
	return mcp.NewTool("check_health",
		mcp.WithDescription("Classify the live tmux pane for chat_id's session as healthy or unhealthy, the same check the daemon runs on its own schedule."),
		mcp.WithString("chat_id",
			mcp.Required(),
			mcp.Description("The chat_id whose session should be health-checked."),
		),
	)
}

func (s *Server) handleCheckHealth(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := req.Params.Arguments.(map[string]any)
	chatID, _ := args["chat_id"].(string)
	if chatID == "" {
		return mcp.NewToolResultError("chat_id is required"), nil
	}

	entry, err := s.reg.Get(chatID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("session not found for chat_id %q", chatID)), nil
	}

	status := s.sup.CheckHealth(entry.SessionName)
	out := struct {
		ChatID  string `json:"chat_id"`
		Healthy bool   `json:"healthy"`
		Reason  string `json:"reason,omitempty"`
	}{
		ChatID:  chatID,
		Healthy: status.Healthy,
		Reason:  status.String(),
	}
	return jsonResult(out)
}

func listBlessedTool() mcp.Tool {
	return mcp.NewTool("list_blessed",
		mcp.WithDescription("List every contact authorized to bridge into a Claude Code session (tier in admin/wife/family/favorite), deduplicated by name."),
	)
}

func (s *Server) handleListBlessed(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	blessed := s.dir.ListBlessed()
	summaries := make([]contactSummary, 0, len(blessed))
	for _, c := range blessed {
		summaries = append(summaries, contactSummary{Name: c.Name, Phone: c.Phone, Email: c.Email, Tier: c.Tier})
	}
	return jsonResult(summaries)
}

// contactSummary is the JSON shape returned for one blessed contact.
type contactSummary struct {
	Name  string `json:"name"`
	Phone string `json:"phone,omitempty"`
	Email string `json:"email,omitempty"`
	Tier  string `json:"tier"`
}

// sessionSummary is the JSON shape returned for one registered session,
// trimmed to what an operator actually wants to see rather than the full
// registry.SessionData record.
type sessionSummary struct {
	ChatID        string `json:"chat_id"`
	SessionName   string `json:"session_name"`
	Type          string `json:"type"`
	ContactName   string `json:"contact_name,omitempty"`
	Tier          string `json:"tier,omitempty"`
	CreatedAt     string `json:"created_at"`
	LastMessageAt string `json:"last_message_at,omitempty"`
}

func summarize(entry types.SessionData) sessionSummary {
	s := sessionSummary{
		ChatID:      entry.ChatID,
		SessionName: entry.SessionName,
		Type:        string(entry.SessionType),
		ContactName: entry.ContactName,
		Tier:        entry.Tier,
		CreatedAt:   entry.CreatedAt.Format(time.RFC3339),
	}
	if entry.LastMessageTime != nil {
		s.LastMessageAt = entry.LastMessageTime.Format(time.RFC3339)
	}
	return s
}

// jsonResult marshals v as indented JSON and wraps it as a single text
// content block, the same response shape efficient-notion-mcp's tools use
// for structured output.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

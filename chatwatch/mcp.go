package chatwatch

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/chatwatch/chatwatch/internal/control"
	"github.com/hazyhaar/chatwatch/kit"
)

// RegisterMCP registers the operator controls as MCP tools on srv.
func (s *Session) RegisterMCP(srv *mcp.Server) {
	eps := control.NewEndpoints(s, s.logger)
	noArgs := inputSchema(map[string]any{}, nil)
	none := kit.DecodeArgs[struct{}]

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "chatwatch_activate",
		Description: "Start observing the chat page. Runs an initial classification pass.",
		InputSchema: noArgs,
	}, eps.Activate, none)

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "chatwatch_deactivate",
		Description: "Stop observing. History and log lines are kept.",
		InputSchema: noArgs,
	}, eps.Deactivate, none)

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "chatwatch_toggle",
		Description: "Flip observation on or off.",
		InputSchema: noArgs,
	}, eps.Toggle, none)

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "chatwatch_clear",
		Description: "Delete retained log lines and the message history.",
		InputSchema: noArgs,
	}, eps.Clear, none)

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "chatwatch_rescan",
		Description: "Run a classification pass now and return its report.",
		InputSchema: noArgs,
	}, eps.Rescan, none)

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "chatwatch_history",
		Description: "Return the recent chat messages, oldest first.",
		InputSchema: inputSchema(map[string]any{
			"format": map[string]any{
				"type":        "string",
				"enum":        []string{"json", "text", "markdown"},
				"description": "Output format, default json",
			},
		}, nil),
	}, eps.History, kit.DecodeArgs[control.HistoryRequest])

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "chatwatch_logs",
		Description: "Return retained log lines after a position. Pass the returned next value as since to continue.",
		InputSchema: inputSchema(map[string]any{
			"since":  map[string]any{"type": "integer", "description": "Position to read after, default 0"},
			"format": map[string]any{"type": "string", "enum": []string{"json", "text"}},
		}, nil),
	}, eps.Logs, kit.DecodeArgs[control.LogsRequest])

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "chatwatch_stats",
		Description: "Return session counters and the status line.",
		InputSchema: noArgs,
	}, eps.Stats, none)

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "chatwatch_prefs",
		Description: "Return the log category toggles.",
		InputSchema: noArgs,
	}, eps.Prefs, none)

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "chatwatch_set_pref",
		Description: "Enable or disable a log category (site, plugin, network, trimmer).",
		InputSchema: inputSchema(map[string]any{
			"category": map[string]any{"type": "string", "enum": []string{"site", "plugin", "network", "trimmer"}},
			"enabled":  map[string]any{"type": "boolean"},
		}, []string{"category", "enabled"}),
	}, eps.SetPref, kit.DecodeArgs[control.PrefRequest])
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

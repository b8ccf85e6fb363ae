package chatwatch

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/chatwatch/chatwatch/report"
)

var testMCPImpl = &mcp.Implementation{Name: "chatwatch-test", Version: "0.1.0"}

func mcpSession(t *testing.T, s *Session) *mcp.ClientSession {
	t.Helper()
	srv := mcp.NewServer(testMCPImpl, nil)
	s.RegisterMCP(srv)

	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()
	go func() { _ = srv.Run(ctx, serverT) }()

	client := mcp.NewClient(testMCPImpl, nil)
	session, err := client.Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session
}

func mcpCall(t *testing.T, session *mcp.ClientSession, name string, args any) (string, bool) {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	tc, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("CallTool(%s): expected TextContent", name)
	}
	return tc.Text, result.IsError
}

func mcpCallOK(t *testing.T, session *mcp.ClientSession, name string, args any) string {
	t.Helper()
	text, isErr := mcpCall(t, session, name, args)
	if isErr {
		t.Fatalf("CallTool(%s) tool error: %s", name, text)
	}
	return text
}

func TestMCP_ActivateAndHistory(t *testing.T) {
	s := openPage(t, testConfig(), 2)
	session := mcpSession(t, s)

	text := mcpCallOK(t, session, "chatwatch_activate", map[string]any{})
	var st Status
	if err := json.Unmarshal([]byte(text), &st); err != nil {
		t.Fatalf("unmarshal status: %v", err)
	}
	if !st.Active || st.History != 2 {
		t.Errorf("status = %+v", st)
	}

	text = mcpCallOK(t, session, "chatwatch_history", map[string]any{})
	var msgs []report.Message
	if err := json.Unmarshal([]byte(text), &msgs); err != nil {
		t.Fatalf("unmarshal history: %v", err)
	}
	if len(msgs) != 2 || msgs[1].Text != "msg-2" {
		t.Errorf("history = %+v", msgs)
	}

	text = mcpCallOK(t, session, "chatwatch_history", map[string]any{"format": "markdown"})
	if !strings.Contains(text, "**User**") || !strings.Contains(text, "msg-1") {
		t.Errorf("markdown history:\n%s", text)
	}
}

func TestMCP_ToggleFlipsActivation(t *testing.T) {
	s := openPage(t, testConfig(), 1)
	session := mcpSession(t, s)

	mcpCallOK(t, session, "chatwatch_toggle", map[string]any{})
	if !s.Active() {
		t.Fatal("toggle should activate")
	}
	mcpCallOK(t, session, "chatwatch_toggle", map[string]any{})
	if s.Active() {
		t.Fatal("second toggle should deactivate")
	}
}

func TestMCP_RescanInactiveIsToolError(t *testing.T) {
	s := openPage(t, testConfig(), 1)
	session := mcpSession(t, s)

	text, isErr := mcpCall(t, session, "chatwatch_rescan", map[string]any{})
	if !isErr {
		t.Fatalf("rescan while inactive succeeded: %s", text)
	}
	if !strings.Contains(text, "inactive") {
		t.Errorf("error text = %q", text)
	}
}

func TestMCP_Logs(t *testing.T) {
	s := openPage(t, testConfig(), 1)
	session := mcpSession(t, s)
	mcpCallOK(t, session, "chatwatch_activate", map[string]any{})

	text := mcpCallOK(t, session, "chatwatch_logs", map[string]any{"since": 0})
	var page struct {
		Lines []report.Line `json:"lines"`
		Next  int64         `json:"next"`
	}
	if err := json.Unmarshal([]byte(text), &page); err != nil {
		t.Fatalf("unmarshal logs: %v", err)
	}
	if len(page.Lines) == 0 || page.Next != int64(len(page.Lines)) {
		t.Fatalf("logs page = %d lines, next %d", len(page.Lines), page.Next)
	}

	text = mcpCallOK(t, session, "chatwatch_logs", map[string]any{"format": "text"})
	if !strings.Contains(text, "plugin") || !strings.Contains(text, "Observation started") {
		t.Errorf("text logs:\n%s", text)
	}
}

func TestMCP_SetPref(t *testing.T) {
	s := openPage(t, testConfig(), 1)
	session := mcpSession(t, s)

	text := mcpCallOK(t, session, "chatwatch_set_pref", map[string]any{"category": "network", "enabled": false})
	var toggles map[string]bool
	if err := json.Unmarshal([]byte(text), &toggles); err != nil {
		t.Fatalf("unmarshal toggles: %v", err)
	}
	if toggles["network"] {
		t.Error("network still enabled")
	}
	if s.Toggles()["network"] {
		t.Error("session toggle not updated")
	}

	if _, isErr := mcpCall(t, session, "chatwatch_set_pref", map[string]any{"category": "bogus", "enabled": true}); !isErr {
		t.Error("unknown category accepted")
	}
}

func TestMCP_Clear(t *testing.T) {
	s := openPage(t, testConfig(), 2)
	session := mcpSession(t, s)
	mcpCallOK(t, session, "chatwatch_activate", map[string]any{})

	text := mcpCallOK(t, session, "chatwatch_clear", map[string]any{})
	if text != "Logs and history cleared" {
		t.Errorf("clear = %q", text)
	}
	if n := len(s.History()); n != 0 {
		t.Errorf("history = %d after clear", n)
	}
}

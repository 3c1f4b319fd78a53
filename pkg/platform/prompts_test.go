package platform

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maratron-ai/maratron-monorepo/pkg/session"
	"github.com/maratron-ai/maratron-monorepo/pkg/users"
)

// connectTestClient connects an in-memory MCP client to a server and returns the session.
// The caller must call cleanup() when done.
func connectTestClient(t *testing.T, server *mcp.Server) (session *mcp.ClientSession, cleanup func()) {
	t.Helper()
	ctx := context.Background()
	t1, t2 := mcp.NewInMemoryTransports()

	serverSession, err := server.Connect(ctx, t1, nil)
	require.NoError(t, err)

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "1.0"}, nil)
	clientSession, err := client.Connect(ctx, t2, nil)
	require.NoError(t, err)

	cleanup = func() {
		_ = clientSession.Close()
		_ = serverSession.Close()
	}
	return clientSession, cleanup
}

func newPromptTestServer() *mcp.Server {
	return mcp.NewServer(&mcp.Implementation{Name: "test-server", Version: "1.0.0"}, nil)
}

func listPromptNames(t *testing.T, server *mcp.Server) []string {
	t.Helper()
	cs, cleanup := connectTestClient(t, server)
	defer cleanup()

	resp, err := cs.ListPrompts(context.Background(), &mcp.ListPromptsParams{})
	require.NoError(t, err)
	names := make([]string, 0, len(resp.Prompts))
	for _, pr := range resp.Prompts {
		names = append(names, pr.Name)
	}
	return names
}

func TestRegisterPlatformPrompts(t *testing.T) {
	tests := []struct {
		name        string
		description string
		prompts     []PromptConfig
		want        []string
	}{
		{
			name:        "description adds overview",
			description: "Coaching data for Maratron runners.",
			want:        []string{overviewPromptName},
		},
		{
			name: "operator prompts",
			prompts: []PromptConfig{
				{Name: "training_plan", Description: "How to build a plan", Content: "Build gradually."},
				{Name: "injury_policy", Description: "Injury guidance", Content: "Refer to a physician."},
			},
			want: []string{"injury_policy", "training_plan"},
		},
		{
			name:        "operator prompt overrides overview",
			description: "Coaching data.",
			prompts:     []PromptConfig{{Name: overviewPromptName, Description: "custom", Content: "custom content"}},
			want:        []string{overviewPromptName},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := newPromptTestServer()
			p := &Platform{
				mcpServer: server,
				config: &Config{Server: ServerConfig{
					Name:        "Maratron Coach",
					Description: tt.description,
					Prompts:     tt.prompts,
				}},
			}
			p.registerPlatformPrompts()

			assert.ElementsMatch(t, tt.want, listPromptNames(t, server))
		})
	}
}

func TestOverviewPromptContent(t *testing.T) {
	const desc = "Coaching data for Maratron runners."
	server := newPromptTestServer()
	p := &Platform{
		mcpServer: server,
		config:    &Config{Server: ServerConfig{Name: "Maratron Coach", Description: desc}},
	}
	p.registerPlatformPrompts()

	cs, cleanup := connectTestClient(t, server)
	defer cleanup()

	resp, err := cs.GetPrompt(context.Background(), &mcp.GetPromptParams{Name: overviewPromptName})
	require.NoError(t, err)
	require.Len(t, resp.Messages, 1)

	textContent, ok := resp.Messages[0].Content.(*mcp.TextContent)
	require.True(t, ok, "expected TextContent")
	assert.True(t, strings.Contains(textContent.Text, desc), "content should include description")
	assert.True(t, strings.Contains(textContent.Text, toolSetCurrentUser), "content should mention set_current_user")
}

func TestContextPromptRendersSession(t *testing.T) {
	const userID = "0b6a5f4e-3c2d-4e1f-8a9b-7c6d5e4f3a2b"
	dir := users.NewMemoryDirectory(users.Profile{
		ID:                  userID,
		Name:                "Ada Runner",
		TrainingLevel:       "intermediate",
		Goals:               []string{"sub-4 marathon"},
		DefaultDistanceUnit: "kilometers",
	})
	now := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	mgr := session.NewManager(session.NewMemoryStore(), dir, session.Config{Now: func() time.Time { return now }})

	server := newPromptTestServer()
	p := &Platform{mcpServer: server, sessions: mgr, config: &Config{}}
	p.registerPlatformPrompts()

	cs, cleanup := connectTestClient(t, server)
	defer cleanup()

	get := func() string {
		resp, err := cs.GetPrompt(context.Background(), &mcp.GetPromptParams{Name: contextPromptName})
		require.NoError(t, err)
		require.Len(t, resp.Messages, 1)
		text, ok := resp.Messages[0].Content.(*mcp.TextContent)
		require.True(t, ok)
		return text.Text
	}

	assert.Equal(t, noSessionMessage, get())

	_, err := mgr.SetCurrentUser(context.Background(), userID)
	require.NoError(t, err)

	text := get()
	assert.Contains(t, text, "You are coaching Ada Runner.")
	assert.Contains(t, text, "Training level: intermediate")
	assert.Contains(t, text, "Goals: sub-4 marathon")
	assert.Contains(t, text, "Report distances in kilometers.")
}

func TestBuildPromptResult(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "simple content", content: "This is a simple prompt."},
		{name: "multiline content", content: "Line 1\nLine 2\nLine 3"},
		{name: "empty content", content: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := buildPromptResult(tt.content)

			assert.NotNil(t, result)
			assert.Len(t, result.Messages, 1)
			assert.Equal(t, mcp.Role("user"), result.Messages[0].Role)

			textContent, ok := result.Messages[0].Content.(*mcp.TextContent)
			assert.True(t, ok, "expected TextContent")
			assert.Equal(t, tt.content, textContent.Text)
		})
	}
}

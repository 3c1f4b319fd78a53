package platform

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	overviewPromptName = "coach-overview"
	contextPromptName  = "coaching-context"
)

// registerPlatformPrompts registers operator prompts from config followed
// by the built-in prompts. An operator prompt with a built-in name wins.
func (p *Platform) registerPlatformPrompts() {
	for _, promptCfg := range p.config.Server.Prompts {
		p.registerPrompt(promptCfg)
	}
	p.registerOverviewPrompt()
	p.registerContextPrompt()
}

// registerPrompt registers a single static prompt with the MCP server.
func (p *Platform) registerPrompt(cfg PromptConfig) {
	content := cfg.Content
	p.mcpServer.AddPrompt(&mcp.Prompt{
		Name:        cfg.Name,
		Description: cfg.Description,
	}, func(_ context.Context, _ *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
		return buildPromptResult(content), nil
	})
}

func (p *Platform) hasOperatorPrompt(name string) bool {
	for _, pc := range p.config.Server.Prompts {
		if pc.Name == name {
			return true
		}
	}
	return false
}

// registerOverviewPrompt registers a prompt describing the server when a
// description is configured.
func (p *Platform) registerOverviewPrompt() {
	desc := p.config.Server.Description
	if desc == "" || p.hasOperatorPrompt(overviewPromptName) {
		return
	}

	var b strings.Builder
	b.WriteString(desc)
	b.WriteString("\n\nStart every conversation by calling ")
	b.WriteString(toolSetCurrentUser)
	b.WriteString(" with the runner's user id. Data tools and resources only return the current user's own records.")

	content := b.String()
	p.mcpServer.AddPrompt(&mcp.Prompt{
		Name:        overviewPromptName,
		Title:       p.config.Server.Name,
		Description: "Overview of this coaching server and how to start a session",
	}, func(_ context.Context, _ *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
		return buildPromptResult(content), nil
	})
}

// registerContextPrompt registers a prompt rendered from the current
// session on every request.
func (p *Platform) registerContextPrompt() {
	if p.sessions == nil || p.hasOperatorPrompt(contextPromptName) {
		return
	}
	p.mcpServer.AddPrompt(&mcp.Prompt{
		Name:        contextPromptName,
		Description: "The current runner's preferences and recent conversation state",
	}, func(_ context.Context, _ *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
		return buildPromptResult(p.renderCoachingContext()), nil
	})
}

func (p *Platform) renderCoachingContext() string {
	sess := p.sessions.CurrentSession()
	if sess == nil {
		return noSessionMessage
	}

	prefs := sess.Preferences()
	conv := sess.ConversationContext()
	profile := sess.Profile()

	var b strings.Builder
	fmt.Fprintf(&b, "You are coaching %s.\n", nameOrID(profile.Name, sess.UserID()))
	if profile.TrainingLevel != "" {
		fmt.Fprintf(&b, "Training level: %s\n", profile.TrainingLevel)
	}
	if len(profile.Goals) > 0 {
		fmt.Fprintf(&b, "Goals: %s\n", strings.Join(profile.Goals, ", "))
	}
	fmt.Fprintf(&b, "Runs in the last %s: %d\n", profile.RecentRunsWindow, profile.RecentRunsCount)
	fmt.Fprintf(&b, "Report distances in %s.\n", prefs.DistanceUnit)
	if prefs.DetailedResponses {
		b.WriteString("Give detailed answers.\n")
	} else {
		b.WriteString("Keep answers brief.\n")
	}
	if conv.LastTopic != nil {
		fmt.Fprintf(&b, "Last topic: %s\n", *conv.LastTopic)
	}
	if conv.Mood != "" {
		fmt.Fprintf(&b, "Conversation mood: %s\n", conv.Mood)
	}
	return strings.TrimRight(b.String(), "\n")
}

func nameOrID(name, id string) string {
	if name != "" {
		return name
	}
	return "user " + id
}

func buildPromptResult(content string) *mcp.GetPromptResult {
	return &mcp.GetPromptResult{
		Messages: []*mcp.PromptMessage{
			{
				Role:    "user",
				Content: &mcp.TextContent{Text: content},
			},
		},
	}
}

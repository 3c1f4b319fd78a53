package platform

import (
	"log/slog"
	"regexp"
	"strings"
)

// toolTokenPattern matches snake_case tokens with at least one underscore.
var toolTokenPattern = regexp.MustCompile(`\b([a-z][a-z0-9]*(?:_[a-z0-9]+)+)\b`)

// toolVerbs are the leading words of tool names. Tokens starting with one
// of them are checked against the registered tools.
var toolVerbs = map[string]struct{}{
	"set":    {},
	"get":    {},
	"switch": {},
	"clear":  {},
	"update": {},
	"list":   {},
	"retire": {},
}

// registeredToolNames returns every tool this server registers.
func registeredToolNames() []string {
	return []string{
		toolSetCurrentUser,
		toolGetCurrentUser,
		toolSwitchUserContext,
		toolClearUserContext,
		toolUpdatePreferences,
		toolUpdateConversation,
		toolGetSessionInfo,
		toolListActiveSessions,
		toolGetSessionHistory,
		toolListRecentRuns,
		toolListShoes,
		toolRetireShoe,
		toolGetSecurityEvents,
	}
}

// validateInstructions logs a warning for every tool-like token in the
// server instructions that names no registered tool.
func (p *Platform) validateInstructions() {
	for _, token := range unknownToolReferences(p.config.Server.Instructions) {
		slog.Warn("server instructions reference unrecognized tool",
			"token", token,
			"hint", "verify the tool name exists or remove the stale reference",
		)
	}
}

func unknownToolReferences(instructions string) []string {
	if instructions == "" {
		return nil
	}
	known := make(map[string]struct{})
	for _, name := range registeredToolNames() {
		known[name] = struct{}{}
	}

	var unknown []string
	seen := make(map[string]struct{})
	for _, token := range toolTokenPattern.FindAllString(instructions, -1) {
		verb, _, _ := strings.Cut(token, "_")
		if _, ok := toolVerbs[verb]; !ok {
			continue
		}
		if _, ok := known[token]; ok {
			continue
		}
		if _, ok := seen[token]; ok {
			continue
		}
		seen[token] = struct{}{}
		unknown = append(unknown, token)
	}
	return unknown
}

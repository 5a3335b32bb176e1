// Copyright (C) 2025 Chatgate Labs (eng@chatgate.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package memory

import (
	"fmt"
	"strings"
)

// BuildTieredSystemPrompt renders the persistent memory tiers into the
// system prompt for a tiered-mode turn: the base prompt, then the
// established facts, then the rolling turn summaries.
func BuildTieredSystemPrompt(basePrompt string, state *State, maxContextChars int) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(basePrompt))

	b.WriteString("\n\n## Established facts about this conversation\n")
	if state == nil || len(state.BaseTruth) == 0 {
		b.WriteString("- (none yet)\n")
	} else {
		for _, fact := range state.BaseTruth {
			b.WriteString("- ")
			b.WriteString(fact)
			b.WriteString("\n")
		}
	}

	b.WriteString("\n## Summaries of earlier turns\n")
	if state == nil || len(state.TurnLog) == 0 {
		b.WriteString("- (none yet)\n")
	} else {
		for _, entry := range state.TurnLog {
			fmt.Fprintf(&b, "- Turn %d: User: %s | You: %s\n",
				entry.Turn, entry.UserSummary, entry.AssistantSummary)
		}
	}

	rendered := b.String()
	if maxContextChars > 0 && len(rendered) > maxContextChars {
		rendered = rendered[:maxContextChars]
	}
	return rendered
}

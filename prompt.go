package overture

import (
	"fmt"
	"strings"
)

// PromptInput gathers everything that contributes to a turn's system prompt.
// Sections are assembled in a fixed order so prompts stay cache-friendly
// across turns of the same session.
type PromptInput struct {
	AgentName    string
	AgentPrompt  string   // agent definition fragment
	ProjectPath  string   // working directory shown to the model
	ToolNames    []string // resolved tool set for the preamble
	Skills       []string // caller-provided skill fragments
	Instructions string   // per-request extra instructions
}

// BuildSystemPrompt assembles the system prompt. Empty sections are omitted
// entirely rather than rendered as bare headings.
func BuildSystemPrompt(in PromptInput) string {
	var b strings.Builder

	b.WriteString("You are a coding assistant operating inside a project workspace.\n")
	if len(in.ToolNames) > 0 {
		b.WriteString("You have access to the following tools: ")
		b.WriteString(strings.Join(in.ToolNames, ", "))
		b.WriteString(".\nUse tools to inspect and change the project rather than guessing. ")
		b.WriteString("When a task needs several steps, take them one at a time and check results.\n")
	}

	if in.ProjectPath != "" {
		fmt.Fprintf(&b, "\n# Project\n\nWorking directory: %s\n", in.ProjectPath)
	}

	if len(in.Skills) > 0 {
		b.WriteString("\n# Skills\n")
		for _, s := range in.Skills {
			s = strings.TrimSpace(s)
			if s == "" {
				continue
			}
			b.WriteString("\n")
			b.WriteString(s)
			b.WriteString("\n")
		}
	}

	if p := strings.TrimSpace(in.AgentPrompt); p != "" {
		fmt.Fprintf(&b, "\n# Agent: %s\n\n%s\n", in.AgentName, p)
	}

	if extra := strings.TrimSpace(in.Instructions); extra != "" {
		b.WriteString("\n# Additional Instructions\n\n")
		b.WriteString(extra)
		b.WriteString("\n")
	}

	return b.String()
}

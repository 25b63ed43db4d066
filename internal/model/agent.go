package model

// AgentVariant identifies a supported coding-agent CLI.
type AgentVariant string

const (
	AgentClaude   AgentVariant = "claude"
	AgentCodex    AgentVariant = "codex"
	AgentCursor   AgentVariant = "cursor"
	AgentGemini   AgentVariant = "gemini"
	AgentOpenCode AgentVariant = "opencode"
)

// AgentVariants returns all the known agent variants.
func AgentVariants() []AgentVariant {
	return []AgentVariant{AgentClaude, AgentCodex, AgentCursor, AgentGemini, AgentOpenCode}
}

// IsValid returns true if the variant is a known one.
func (a AgentVariant) IsValid() bool {
	for _, v := range AgentVariants() {
		if a == v {
			return true
		}
	}
	return false
}

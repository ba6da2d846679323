// Package bootstrap seeds the agent workspace and loads the markdown
// context files injected into the system prompt.
package bootstrap

// Workspace bootstrap file names, in system-prompt injection order.
const (
	AgentsFile    = "AGENTS.md"
	SoulFile      = "SOUL.md"
	UserFile      = "USER.md"
	ToolsFile     = "TOOLS.md"
	IdentityFile  = "IDENTITY.md"
	MemoryFile    = "MEMORY.md"
	HeartbeatFile = "HEARTBEAT.md"
	BootstrapFile = "BOOTSTRAP.md"
)

// CandidateFiles is the fixed ordered list the loader checks.
var CandidateFiles = []string{
	AgentsFile,
	SoulFile,
	UserFile,
	ToolsFile,
	IdentityFile,
	MemoryFile,
	HeartbeatFile,
	BootstrapFile,
}

package procmgr

import (
	"fmt"
	"strings"
)

// WorkerAllowedTools returns the MCP tool set plus the role-specific
// extras spec §6 names.
func WorkerAllowedTools(mcpTools []string, role string) []string {
	tools := append([]string(nil), mcpTools...)
	switch role {
	case "Coder":
		tools = append(tools, "Edit", "Write", "Bash")
	case "Adversary":
		tools = append(tools, "Read", "Grep", "Glob", "Bash")
	case "Supervisor":
		tools = append(tools, "Bash", "LS")
	}
	return tools
}

// WorkerCommand builds the command line spec §6 specifies for a
// worker invocation: the prompt carries only the briefing key, never
// the briefing contents, so the worker must read it back through MCP.
func WorkerCommand(briefingKey, model, mcpConfigPath string, allowedTools []string) []string {
	prompt := fmt.Sprintf("Read your briefing at key %q via the read tool, then complete it.", briefingKey)
	return []string{
		"claude",
		"-p", prompt,
		"--output-format", "stream-json",
		"--model", model,
		"--mcp-config", mcpConfigPath,
		"--allowedTools", strings.Join(allowedTools, ","),
		"--max-turns", "50",
		"--verbose",
	}
}

// UtilityCommand builds the command line spec §6 specifies for a
// utility invocation.
func UtilityCommand(toolScript, taskID, briefingKey, storePath string) []string {
	return []string{
		"python", toolScript,
		"--task-id", taskID,
		"--briefing-key", briefingKey,
		"--lmdb-path", storePath,
	}
}

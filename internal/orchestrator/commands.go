package orchestrator

import (
	"github.com/nibzard/apex/internal/briefing"
	"github.com/nibzard/apex/internal/procmgr"
)

// CommandBuilder builds the subprocess command line for a briefing
// the Invoke stage is about to spawn. The default implementation
// wraps procmgr's spec §6 command builders; tests substitute a
// CommandBuilder that runs a harmless stand-in process instead of the
// real claude/python binaries.
type CommandBuilder interface {
	Worker(b *briefing.Briefing, model, mcpConfigPath string, allowedTools []string) []string
	Utility(script string, b *briefing.Briefing, storePath string) []string
}

type defaultCommands struct{}

func (defaultCommands) Worker(b *briefing.Briefing, model, mcpConfigPath string, allowedTools []string) []string {
	return procmgr.WorkerCommand(string(briefingKey(b.TaskID)), model, mcpConfigPath, allowedTools)
}

func (defaultCommands) Utility(script string, b *briefing.Briefing, storePath string) []string {
	return procmgr.UtilityCommand(script, b.TaskID, string(briefingKey(b.TaskID)), storePath)
}

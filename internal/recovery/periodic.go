package recovery

import (
	"context"
	"time"

	"github.com/nibzard/apex/internal/orchestrator"
)

// RunPeriodic issues a checkpoint every cfg.CheckpointInterval (30
// minutes by default) so long as unfinished work remains, per spec
// §4.I's "A background task issues a checkpoint every N minutes ...
// so long as unfinished work remains." Unlike recovery.py's raw
// asyncio.sleep loop, this is meant to be launched as its own
// goroutine and stopped cooperatively via ctx, matching the teacher's
// ticker-driven background-task idiom.
func (m *Manager) RunPeriodic(ctx context.Context, o *orchestrator.Orchestrator) {
	interval := m.cfg.CheckpointInterval
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			state := o.State()
			if state == nil || state.Graph == nil {
				continue
			}
			total := len(state.Graph.Tasks)
			remaining := total - len(state.CompletedTasks) - len(state.FailedTasks)
			if remaining <= 0 {
				m.log.Printf("periodic checkpoint: %s has no unfinished work, stopping", state.ProjectID)
				return
			}
			if _, err := m.Checkpoint(state.ProjectID); err != nil {
				m.log.Printf("periodic checkpoint failed: %v", err)
			}
		}
	}
}

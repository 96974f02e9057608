package recovery

import (
	"time"

	"github.com/nibzard/apex/internal/orchestrator"
)

// Report is the recovery-attempt summary recovery.py persists to
// recovery_reports/{ts}, returned to the caller so e.g. a CLI front
// end can print it.
type Report struct {
	CheckpointID   string          `json:"checkpoint_id"`
	StartedAt      time.Time       `json:"started_at"`
	ErrorsBefore   int             `json:"errors_before"`
	Recovered      int             `json:"tasks_recovered"`
	StillFailed    int             `json:"tasks_still_failed"`
	Health         HealthStatus    `json:"health"`
	Success        bool            `json:"success"`
	Outcome        string          `json:"outcome"`
	CompletedCount int             `json:"completed_count"`
	FailedCount    int             `json:"failed_count"`
	TotalTasks     int             `json:"total_tasks"`
}

// RecordCycleFailure tallies one more RunCycle failure and reports
// whether the caller should now invoke AutoRecover, per spec §4.I's
// trigger of config.Recovery.AutoRecoverAfter (default 3) distinct
// accumulated failures. The counter resets to zero whenever it fires,
// so recovery is re-armed for the next run of failures.
func (m *Manager) RecordCycleFailure() bool {
	threshold := m.cfg.AutoRecoverAfter
	if threshold <= 0 {
		threshold = 3
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.consecutiveFailures++
	if m.consecutiveFailures >= threshold {
		m.consecutiveFailures = 0
		return true
	}
	return false
}

// RecordCycleSuccess clears the accumulated failure count after a
// clean RunCycle, so an isolated transient error doesn't creep the
// orchestrator toward auto-recovery alongside unrelated later ones.
func (m *Manager) RecordCycleSuccess() {
	m.mu.Lock()
	m.consecutiveFailures = 0
	m.mu.Unlock()
}

// AutoRecover runs the 5-step sequence recovery.py's
// auto_recover_orchestration names: checkpoint, gather the error
// summary, attempt per-task recovery, verify health, then decide
// whether the orchestration may resume. It is meant to be triggered
// once config.Recovery.AutoRecoverAfter distinct failures have
// accumulated in a session, per spec §4.I.
func (m *Manager) AutoRecover(o *orchestrator.Orchestrator) (Report, error) {
	report := Report{StartedAt: time.Now()}

	state := o.State()
	ckptID, err := m.Checkpoint(state.ProjectID)
	if err != nil {
		return report, err
	}
	report.CheckpointID = ckptID

	if summary, serr := m.errs.Summary(); serr == nil {
		report.ErrorsBefore = summary.Total
	}

	recovered, stillFailed, rerr := o.RecoverFailedTasks()
	if rerr != nil {
		return report, rerr
	}
	report.Recovered = recovered
	report.StillFailed = stillFailed

	report.Health = m.CheckHealth(o)
	if report.Health.Healthy {
		report.Success = true
		report.Outcome = "resumed"
	} else {
		report.Success = false
		report.Outcome = "manual intervention required"
	}

	state = o.State()
	report.CompletedCount = len(state.CompletedTasks)
	report.FailedCount = len(state.FailedTasks)
	if state.Graph != nil {
		report.TotalTasks = len(state.Graph.Tasks)
	}

	m.log.Printf("auto-recovery for %s: %s (recovered=%d still_failed=%d)", state.ProjectID, report.Outcome, recovered, stillFailed)
	return report, nil
}

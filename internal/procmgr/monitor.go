package procmgr

import (
	"time"
)

// monitor owns the single cmd.Wait() call for p's lifetime, racing it
// against timeout. On timeout it terminates the process group and
// marks the process StatusTimeout; otherwise it records
// StatusCompleted or StatusFailed from the exit code, per spec §4.D's
// "crashed or exceeded its deadline" handling. Grounded on the
// teacher's internal/captain/supervisor.go monitor loop.
func (m *Manager) monitor(p *process, timeout time.Duration) {
	waitDone := make(chan error, 1)
	go func() {
		waitDone <- p.cmd.Wait()
	}()

	var timer *time.Timer
	var timerC <-chan time.Time
	if timeout > 0 {
		timer = time.NewTimer(timeout)
		timerC = timer.C
		defer timer.Stop()
	}

	select {
	case err := <-waitDone:
		if err == nil {
			code := 0
			m.finish(p, StatusCompleted, &code)
			return
		}
		code := exitCode(err)
		m.finish(p, StatusFailed, &code)

	case <-timerC:
		m.log.Printf("process %s exceeded deadline %s, terminating", p.rec.ProcessID, timeout)
		if err := terminateProcess(p.cmd, m.cfg.TerminateGrace); err != nil {
			m.log.Printf("terminate %s after timeout: %v", p.rec.ProcessID, err)
		}
		<-waitDone // reap once the signal above takes effect
		m.finish(p, StatusTimeout, nil)
	}
}

//go:build !windows

package procmgr

import (
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// setpgid puts the child in its own process group so Terminate can
// signal the whole tree a worker's tool invocations may have spawned,
// not just the immediate child. Grounded on the teacher's
// internal/instance process-group handling, adapted to POSIX via
// golang.org/x/sys/unix rather than the teacher's Windows job objects.
func setpgid(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// terminateProcess sends SIGTERM to the process group, waits grace for
// a clean exit, then escalates to SIGKILL. It never calls cmd.Wait
// itself — the Manager's monitor goroutine owns that call for the
// lifetime of the process, and observes the exit this induces.
func terminateProcess(cmd *exec.Cmd, grace time.Duration) error {
	if cmd.Process == nil {
		return nil
	}
	pgid := -cmd.Process.Pid

	if err := unix.Kill(pgid, unix.SIGTERM); err != nil {
		return err
	}
	time.Sleep(grace)
	if err := unix.Kill(pgid, unix.SIGKILL); err != nil && err != unix.ESRCH {
		return err
	}
	return nil
}

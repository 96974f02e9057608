package procmgr

import "os/exec"

// exitCode extracts the child's exit status from the error cmd.Wait
// returns, defaulting to -1 when it isn't an *exec.ExitError (e.g. the
// binary itself could not be found or exec'd).
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	if ee, ok := err.(*exec.ExitError); ok {
		return ee.ExitCode()
	}
	return -1
}

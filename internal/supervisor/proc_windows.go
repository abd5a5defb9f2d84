//go:build windows

package supervisor

import "os/exec"

func configureProcess(cmd *exec.Cmd) {}

// Windows has no SIGTERM; Kill is the only stop signal available.
func signalTerm(cmd *exec.Cmd) error {
	return cmd.Process.Kill()
}

func signalKill(cmd *exec.Cmd) error {
	return cmd.Process.Kill()
}

//go:build !windows

package server

import (
	"os"
	"os/exec"
	"syscall"
)

// detachProcess puts the spawned daemon in its own session so it
// survives the terminal that launched it.
func detachProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true,
	}
}

func sendSignal(process *os.Process, sig os.Signal) error {
	return process.Signal(sig)
}

// stopSignal is what a graceful shutdown request sends to the daemon.
func stopSignal() os.Signal {
	return syscall.SIGTERM
}

// aliveSignal returns signal 0, which tests for process existence
// without delivering anything.
func aliveSignal() os.Signal {
	return syscall.Signal(0)
}

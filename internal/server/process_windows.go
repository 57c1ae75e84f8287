//go:build windows

package server

import (
	"os"
	"os/exec"
)

// detachProcess is a no-op: Windows has no sessions to detach from.
func detachProcess(_ *exec.Cmd) {}

func sendSignal(process *os.Process, sig os.Signal) error {
	return process.Signal(sig)
}

// stopSignal falls back to os.Kill, the only signal Windows can
// deliver to another process.
func stopSignal() os.Signal {
	return os.Kill
}

// aliveSignal also maps to os.Kill here; liveness probes rely on the
// Signal call erroring for exited processes rather than on signal 0.
func aliveSignal() os.Signal {
	return os.Kill
}

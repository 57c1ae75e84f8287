package server

import (
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"
)

// Lifecycle manages the daemon process: PID file, background start,
// stop, and liveness checks.
type Lifecycle struct {
	pidFile string
	port    int
}

// NewLifecycle creates a lifecycle manager for the given API port
func NewLifecycle(port int) *Lifecycle {
	homeDir, _ := os.UserHomeDir()
	return &Lifecycle{
		pidFile: filepath.Join(homeDir, ".codewatch", "codewatch.pid"),
		port:    port,
	}
}

// PIDFile returns the path to the PID file
func (l *Lifecycle) PIDFile() string {
	return l.pidFile
}

// IsRunning checks whether a daemon process is alive and serving
func (l *Lifecycle) IsRunning() bool {
	pid, err := l.readPID()
	if err != nil {
		return false
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	// on Unix FindProcess always succeeds; probe with a null signal
	if err := sendSignal(process, aliveSignal()); err != nil {
		_ = os.Remove(l.pidFile)
		return false
	}

	return l.healthCheck()
}

// GetPID returns the daemon's PID if running
func (l *Lifecycle) GetPID() (int, error) {
	if !l.IsRunning() {
		return 0, fmt.Errorf("daemon is not running")
	}
	return l.readPID()
}

// StartInBackground re-executes the binary detached from the current
// session and waits for it to come up.
func (l *Lifecycle) StartInBackground() error {
	if l.IsRunning() {
		return fmt.Errorf("daemon is already running")
	}

	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to find executable: %w", err)
	}

	cmd := exec.Command(executable, "serve", "--background-child")
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.Stdin = nil
	detachProcess(cmd)

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	time.Sleep(500 * time.Millisecond)
	if !l.IsRunning() {
		return fmt.Errorf("daemon failed to start")
	}
	return nil
}

// Stop terminates the running daemon gracefully, escalating to a kill
// after a short wait.
func (l *Lifecycle) Stop() error {
	pid, err := l.readPID()
	if err != nil {
		return fmt.Errorf("daemon is not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("failed to find process: %w", err)
	}

	if err := sendSignal(process, stopSignal()); err != nil {
		return fmt.Errorf("failed to stop daemon: %w", err)
	}

	for range 30 {
		time.Sleep(100 * time.Millisecond)
		if err := sendSignal(process, aliveSignal()); err != nil {
			_ = os.Remove(l.pidFile)
			return nil
		}
	}

	_ = process.Kill()
	_ = os.Remove(l.pidFile)
	return nil
}

// WritePID writes the current process PID to the PID file
func (l *Lifecycle) WritePID() error {
	if err := os.MkdirAll(filepath.Dir(l.pidFile), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	return os.WriteFile(l.pidFile, []byte(strconv.Itoa(os.Getpid())), 0644)
}

// RemovePID removes the PID file
func (l *Lifecycle) RemovePID() error {
	return os.Remove(l.pidFile)
}

func (l *Lifecycle) readPID() (int, error) {
	data, err := os.ReadFile(l.pidFile)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(string(data))
	if err != nil {
		return 0, fmt.Errorf("invalid PID file content: %w", err)
	}
	return pid, nil
}

func (l *Lifecycle) healthCheck() bool {
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/health", l.port))
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

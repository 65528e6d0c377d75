package main

import (
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/psurma/claudit/internal/config"
)

const daemonEnv = "_CLAUDIT_DAEMON"

var (
	pidDir  = defaultPIDDir()
	pidFile = filepath.Join(pidDir, "claudit.pid")
)

// readPIDFile parses "PID:PORT" (or a bare PID) from the PID file.
func readPIDFile() (pid, port int, err error) {
	data, err := os.ReadFile(pidFile)
	if err != nil {
		return 0, 0, err
	}
	return parsePIDContent(string(data))
}

func parsePIDContent(content string) (pid, port int, err error) {
	content = strings.TrimSpace(content)
	pidStr, portStr, hasPort := strings.Cut(content, ":")
	if pid, err = strconv.Atoi(pidStr); err != nil {
		return 0, 0, fmt.Errorf("invalid PID file content %q", content)
	}
	if hasPort {
		port, _ = strconv.Atoi(portStr)
	}
	return pid, port, nil
}

func writePIDFile(pid, port int) error {
	if err := os.MkdirAll(pidDir, 0o700); err != nil {
		return fmt.Errorf("failed to create PID directory: %w", err)
	}
	return os.WriteFile(pidFile, []byte(fmt.Sprintf("%d:%d", pid, port)), 0o600)
}

func removePIDFile() {
	os.Remove(pidFile)
}

// stopPreviousInstance stops a running claudit found via the PID file or
// listening on port.
func stopPreviousInstance(port int) bool {
	myPID := os.Getpid()

	if pid, filePort, err := readPIDFile(); err == nil {
		removePIDFile()
		if pid > 0 && pid != myPID && signalTerm(pid) {
			fmt.Printf("Stopped previous instance (PID %d)\n", pid)
			time.Sleep(500 * time.Millisecond)
			return true
		}
		if filePort > 0 {
			port = filePort
		}
	}

	if port <= 0 || !portInUse(port) {
		return false
	}
	stopped := false
	for _, pid := range findClauditOnPort(port) {
		if pid != myPID && signalTerm(pid) {
			fmt.Printf("Stopped previous instance (PID %d) on port %d\n", pid, port)
			stopped = true
		}
	}
	if stopped {
		time.Sleep(500 * time.Millisecond)
	}
	return stopped
}

func signalTerm(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.SIGTERM) == nil
}

func portInUse(port int) bool {
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", port), 500*time.Millisecond)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// findClauditOnPort uses lsof (macOS/Linux) to find claudit processes on a port.
func findClauditOnPort(port int) []int {
	if runtime.GOOS != "darwin" && runtime.GOOS != "linux" {
		return nil
	}

	out, err := exec.Command("lsof", "-ti", fmt.Sprintf(":%d", port)).Output()
	if err != nil {
		return nil
	}

	var pids []int
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if pid, err := strconv.Atoi(strings.TrimSpace(line)); err == nil && pid > 0 && isClauditProcess(pid) {
			pids = append(pids, pid)
		}
	}
	return pids
}

func isClauditProcess(pid int) bool {
	out, err := exec.Command("ps", "-p", strconv.Itoa(pid), "-o", "comm=").Output()
	if err != nil {
		return false
	}
	return strings.Contains(strings.ToLower(strings.TrimSpace(string(out))), "claudit")
}

// daemonize re-executes the current binary as a detached background process.
// The parent writes the child's PID and exits.
func daemonize(cfg *config.Config) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}
	exe, err = filepath.EvalSymlinks(exe)
	if err != nil {
		return fmt.Errorf("failed to resolve executable path: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}
	// stray panics and runtime output from the child
	outPath := filepath.Join(cfg.DataDir, "daemon.out")
	outFile, err := os.OpenFile(outPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open daemon output: %w", err)
	}
	defer outFile.Close()

	cmd := exec.Command(exe, os.Args[1:]...)
	cmd.Stdout = outFile
	cmd.Stderr = outFile
	cmd.Env = append(os.Environ(), daemonEnv+"=1")
	cmd.SysProcAttr = daemonSysProcAttr()

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	childPID := cmd.Process.Pid
	if err := writePIDFile(childPID, cfg.Port); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not write PID file: %v\n", err)
	}

	fmt.Printf("Daemon started (PID %d), logs: %s\n", childPID, filepath.Join(cfg.DataDir, config.LogFileName))
	return nil
}

// runStop stops any running claudit instance.
func runStop(port int) error {
	if !stopPreviousInstance(port) {
		fmt.Println("No running claudit instance found")
	}
	return nil
}

// runStatus reports whether a claudit instance is running.
func runStatus(cfg *config.Config) error {
	pid, port, err := readPIDFile()
	if err != nil {
		if portInUse(cfg.Port) {
			fmt.Printf("Something is listening on port %d (no PID file)\n", cfg.Port)
			return nil
		}
		fmt.Println("claudit is not running")
		return nil
	}

	proc, err := os.FindProcess(pid)
	if err != nil || proc.Signal(syscall.Signal(0)) != nil {
		fmt.Printf("claudit is not running (stale PID file for PID %d)\n", pid)
		return nil
	}

	fmt.Printf("claudit is running (PID %d)\n", pid)
	if port > 0 {
		fmt.Printf("  API:       http://127.0.0.1:%d/api/data\n", port)
	}
	fmt.Printf("  PID file:  %s\n", pidFile)
	if info, err := os.Stat(filepath.Join(cfg.DataDir, config.LogFileName)); err == nil {
		fmt.Printf("  Log file:  %s (%s)\n", filepath.Join(cfg.DataDir, config.LogFileName), humanSize(info.Size()))
	}
	return nil
}

// humanSize returns a human-readable file size.
func humanSize(bytes int64) string {
	if bytes < 1024 {
		return fmt.Sprintf("%dB", bytes)
	}
	if bytes < 1024*1024 {
		return fmt.Sprintf("%.1fKB", float64(bytes)/1024)
	}
	return fmt.Sprintf("%.1fMB", float64(bytes)/(1024*1024))
}

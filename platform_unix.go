//go:build !windows

package main

import (
	"os"
	"path/filepath"
	"syscall"
)

func daemonSysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setsid: true}
}

func defaultPIDDir() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "claudit")
	}
	return filepath.Join(os.Getenv("HOME"), ".claudit")
}

// Command smsd is the long-running daemon that bridges macOS Messages.app
// with a fleet of tmux-hosted Claude Code sessions, one per authorized
// contact or group chat.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/vthunder/smsd/internal/config"
	"github.com/vthunder/smsd/internal/daemon"
)

func main() {
	log.Println("smsd starting")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	cleanupPID := writePIDFile(cfg.StateDir)
	defer cleanupPID()

	d, err := daemon.New(cfg)
	if err != nil {
		log.Fatalf("initialize daemon: %v", err)
	}
	defer d.Close()

	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Println("smsd: received shutdown signal, finishing current tick")
		cancel()
	}()

	go func() {
		if err := d.ServeInspection(); err != nil {
			log.Printf("inspection server exited: %v", err)
		}
	}()

	if err := d.Run(ctx); err != nil {
		log.Fatalf("daemon loop exited with error: %v", err)
	}
	log.Println("smsd: shut down cleanly")
}

// writePIDFile records the running process's PID at state_dir/daemon.pid so
// smsdctl can report liveness; it never refuses to start on a stale file,
// since that check belongs to the thin CLI glue, not the core daemon.
func writePIDFile(stateDir string) func() {
	path := filepath.Join(stateDir, "daemon.pid")
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		log.Printf("warning: failed to write pid file: %v", err)
	}
	return func() {
		os.Remove(path)
	}
}

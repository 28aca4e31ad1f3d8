// Package supervisor manages the lifecycle of one tmux session per
// authorized chat: creating it with the right Claude Code launch command
// for the sender's tier, injecting text, capturing its pane for health
// checks, and killing/restarting it on command.
package supervisor

import (
	"bytes"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// tmux wraps invocations of the tmux binary. Every method is a thin,
// synchronous exec.Command call: there is no persistent connection to
// tmux, it is simply a CLI we shell out to for every operation.
type tmux struct {
	bin string
}

func newTmux(bin string) *tmux {
	if bin == "" {
		bin = "tmux"
	}
	return &tmux{bin: bin}
}

func (tm *tmux) run(args ...string) (stdout string, stderr string, err error) {
	cmd := exec.Command(tm.bin, args...)
	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf
	err = cmd.Run()
	return outBuf.String(), errBuf.String(), err
}

// sessionExists reports whether a tmux session named exactly name exists.
// The "=name" form forces an exact match; without it tmux does prefix
// matching and could return true for an unrelated session.
func (tm *tmux) sessionExists(name string) bool {
	_, _, err := tm.run("has-session", "-t", "="+name)
	return err == nil
}

// createSession starts a new detached tmux session named name, running cmd
// inside a non-interactive login bash shell (bash -lc), so the user's login
// profile and the PATH it sets are in effect.
func (tm *tmux) createSession(name, claudeCmd string) error {
	_, stderr, err := tm.run("new-session", "-d", "-s", name, "/bin/bash", "-lc", claudeCmd)
	if err != nil {
		return fmt.Errorf("tmux new-session: %w: %s", err, stderr)
	}
	return nil
}

// killSessionStderrs are stderr substrings tmux emits for a session that is
// already gone; kill-session against one of these is treated as success,
// not an error, since the caller's intent ("this session should not exist")
// is already satisfied.
var killSessionStderrs = []string{
	"no server running",
	"session not found",
	"can't find session",
	"no current session",
}

func (tm *tmux) killSession(name string) error {
	_, stderr, err := tm.run("kill-session", "-t", "="+name)
	if err == nil {
		return nil
	}
	lower := strings.ToLower(stderr)
	for _, s := range killSessionStderrs {
		if strings.Contains(lower, s) {
			return nil
		}
	}
	return fmt.Errorf("tmux kill-session: %w: %s", err, stderr)
}

// sendKeysLiteral pastes text into name's pane without interpreting it as
// tmux key syntax (-l) and without submitting it.
func (tm *tmux) sendKeysLiteral(name, text string) error {
	_, stderr, err := tm.run("send-keys", "-t", name, "-l", "--", text)
	if err != nil {
		return fmt.Errorf("tmux send-keys (literal): %w: %s", err, stderr)
	}
	return nil
}

// sendEnter submits whatever is currently typed into name's pane. Callers
// that send Enter twice per paste intentionally ignore this error: the
// second Enter covers a first one that was dropped, nothing is retried, and
// a returned error from an otherwise-successful paste is not worth aborting
// the whole inject over.
func (tm *tmux) sendEnter(name string) error {
	_, stderr, err := tm.run("send-keys", "-t", name, "Enter")
	if err != nil {
		return fmt.Errorf("tmux send-keys (Enter): %w: %s", err, stderr)
	}
	return nil
}

// capturePane returns the last n lines of name's pane content.
func (tm *tmux) capturePane(name string, n int) (string, error) {
	out, stderr, err := tm.run("capture-pane", "-t", "="+name, "-p", "-S", "-"+strconv.Itoa(n))
	if err != nil {
		return "", fmt.Errorf("tmux capture-pane: %w: %s", err, stderr)
	}
	return out, nil
}

// listSessions returns the name of every tmux session currently running.
// An empty result (not an error) is returned when the tmux server itself
// isn't running.
func (tm *tmux) listSessions() ([]string, error) {
	out, stderr, err := tm.run("list-sessions", "-F", "#{session_name}")
	if err != nil {
		if strings.Contains(strings.ToLower(stderr), "no server running") {
			return nil, nil
		}
		return nil, fmt.Errorf("tmux list-sessions: %w: %s", err, stderr)
	}
	var names []string
	for _, line := range strings.Split(strings.TrimRight(out, "\n"), "\n") {
		if line != "" {
			names = append(names, line)
		}
	}
	return names, nil
}

package supervisor

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/vthunder/smsd/internal/health"
	"github.com/vthunder/smsd/internal/logging"
)

// postCreateDelay is how long create waits after tmux reports the session
// started, giving the shell and Claude Code time to come up before
// anything tries to inject text or capture the pane.
const postCreateDelay = 2 * time.Second

// pastePauseDelay is how long inject waits between pasting text and
// submitting it, long enough for a large paste to finish landing in the
// terminal before Enter is sent.
const pastePauseDelay = 500 * time.Millisecond

// restartPauseDelay is how long restart waits between killing the old
// session and creating its replacement, giving tmux time to fully tear the
// old pane down.
const restartPauseDelay = 2 * time.Second

// healthCheckLines is how many trailing lines of pane content a health
// check captures.
const healthCheckLines = 30

// Supervisor owns the tmux/Claude Code process for every active session.
type Supervisor struct {
	tm         *tmux
	claudeBin  string
	homeDir    string
	tierLaunch map[string]launchBuilder
}

// New returns a Supervisor that shells out to tmuxBin (or "tmux" if empty)
// and launches claudeBin for new sessions.
func New(tmuxBin, claudeBin, homeDir string) *Supervisor {
	s := &Supervisor{
		tm:        newTmux(tmuxBin),
		claudeBin: claudeBin,
		homeDir:   homeDir,
	}
	s.tierLaunch = map[string]launchBuilder{
		"admin":    unrestrictedLaunch,
		"wife":     unrestrictedLaunch,
		"family":   familyLaunch,
		"favorite": favoriteLaunch,
	}
	return s
}

// SessionNameForContact and SessionNameForGroup expose the naming rules so
// callers (the daemon loop, registry registration) derive the same name the
// supervisor itself will create.
func SessionNameForContact(contactName string) string { return sessionNameForContact(contactName) }
func SessionNameForGroup(chatID, displayName string) string {
	return sessionNameForGroup(chatID, displayName)
}

// Exists reports whether a tmux session named name is currently running.
func (s *Supervisor) Exists(name string) bool {
	return s.tm.sessionExists(name)
}

// Create starts a new tmux session named name rooted at transcriptDir,
// launching Claude Code with the command appropriate to tier. It is a
// no-op if the session already exists. A ~/.claude symlink is created in
// transcriptDir (if absent) so Claude Code's skills are visible from the
// session's working directory.
func (s *Supervisor) Create(name, transcriptDir, tier string) error {
	if s.tm.sessionExists(name) {
		return nil
	}

	if err := os.MkdirAll(transcriptDir, 0o755); err != nil {
		return fmt.Errorf("create transcript dir: %w", err)
	}
	s.ensureClaudeSkillsSymlink(transcriptDir)

	claudeCmd := s.claudeLaunchCommand(transcriptDir, tier)
	if err := s.tm.createSession(name, claudeCmd); err != nil {
		return err
	}

	time.Sleep(postCreateDelay)
	return nil
}

func (s *Supervisor) ensureClaudeSkillsSymlink(transcriptDir string) {
	if s.homeDir == "" {
		return
	}
	link := filepath.Join(transcriptDir, ".claude")
	if _, err := os.Lstat(link); err == nil {
		return
	}
	if err := os.Symlink(filepath.Join(s.homeDir, ".claude"), link); err != nil {
		logging.Debug("supervisor", "symlink .claude into %s failed: %v", transcriptDir, err)
	}
}

// launchBuilder renders the shell command used to start Claude Code for a
// given tier, already `cd`'d into transcriptDir.
type launchBuilder func(claudeBin, transcriptDir string) string

func unrestrictedLaunch(claudeBin, transcriptDir string) string {
	return fmt.Sprintf("cd %s && %s --dangerously-skip-permissions", transcriptDir, claudeBin)
}

func familyLaunch(claudeBin, transcriptDir string) string {
	const prompt = "You are chatting with a FAMILY tier user. Read ~/.claude/skills/sms-assistant/family-rules.md FIRST."
	return fmt.Sprintf("cd %s && %s --dangerously-skip-permissions --append-system-prompt %q", transcriptDir, claudeBin, prompt)
}

func favoriteLaunch(claudeBin, transcriptDir string) string {
	const allowed = "Read,WebSearch,WebFetch,Grep,Glob,Bash(osascript:*)"
	const prompt = "You are chatting with a FAVORITES tier user with LIMITED privileges."
	return fmt.Sprintf("cd %s && %s --dangerously-skip-permissions --allowedTools %q --append-system-prompt %q", transcriptDir, claudeBin, allowed, prompt)
}

// claudeLaunchCommand dispatches to the launch builder for tier, falling
// back to the restricted favorite-tier command for anything unrecognized.
// An unknown tier should never get a more privileged launch than the
// narrowest one we know how to build.
func (s *Supervisor) claudeLaunchCommand(transcriptDir, tier string) string {
	build, ok := s.tierLaunch[tier]
	if !ok {
		build = favoriteLaunch
	}
	return build(s.claudeBin, transcriptDir)
}

// RegisterTier adds or overrides the launch command for tier, built from a
// template containing the literal placeholders {dir} and {claude}. This is
// how the config.yaml overlay (§5) extends the tier table. A template
// registered under a built-in tier name (admin, wife, family, favorite)
// replaces that tier's built-in command.
func (s *Supervisor) RegisterTier(tier, template string) {
	s.tierLaunch[tier] = func(claudeBin, transcriptDir string) string {
		cmd := strings.ReplaceAll(template, "{dir}", transcriptDir)
		cmd = strings.ReplaceAll(cmd, "{claude}", claudeBin)
		return cmd
	}
}

// Kill tears down the tmux session named name. Killing an already-absent
// session is not an error.
func (s *Supervisor) Kill(name string) error {
	return s.tm.killSession(name)
}

// Restart kills name (if running) and recreates it with the same tier and
// transcript directory.
func (s *Supervisor) Restart(name, transcriptDir, tier string) error {
	if err := s.tm.killSession(name); err != nil {
		return err
	}
	time.Sleep(restartPauseDelay)
	return s.Create(name, transcriptDir, tier)
}

// Inject pastes text into name's pane and submits it. The paste is
// followed by a pause and then two Enter presses. Claude Code's TUI has
// occasionally swallowed a single Enter immediately after a large paste,
// so two are sent unconditionally rather than retried on failure.
func (s *Supervisor) Inject(name, text string) error {
	if !s.tm.sessionExists(name) {
		return fmt.Errorf("supervisor: inject into %q: %w", name, ErrSessionNotFound)
	}
	if err := s.tm.sendKeysLiteral(name, text); err != nil {
		return err
	}
	time.Sleep(pastePauseDelay)
	_ = s.tm.sendEnter(name)
	_ = s.tm.sendEnter(name)
	return nil
}

// Capture returns the last n lines of name's pane content.
func (s *Supervisor) Capture(name string, n int) (string, error) {
	if !s.tm.sessionExists(name) {
		return "", fmt.Errorf("supervisor: capture %q: %w", name, ErrSessionNotFound)
	}
	return s.tm.capturePane(name, n)
}

// CheckHealth classifies name's current state: SessionMissing if the tmux
// session itself is gone, otherwise the result of health.Classify against
// its most recent pane content.
func (s *Supervisor) CheckHealth(name string) health.Status {
	if !s.tm.sessionExists(name) {
		return health.SessionMissing()
	}
	content, err := s.tm.capturePane(name, healthCheckLines)
	if err != nil {
		return health.SessionMissing()
	}
	return health.Classify(content)
}

// List returns the name of every tmux session currently running.
func (s *Supervisor) List() ([]string, error) {
	return s.tm.listSessions()
}

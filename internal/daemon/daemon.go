// Package daemon runs the single-threaded cooperative tick that composes
// every other component into the bridge: poll new messages, route
// authorized senders into tmux/Claude Code sessions, run periodic health
// checks and reminder checks, and persist the cursor. Nothing here is
// re-entrant: one tick always runs to completion before the next begins.
package daemon

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/vthunder/smsd/internal/config"
	"github.com/vthunder/smsd/internal/contacts"
	"github.com/vthunder/smsd/internal/eventlog"
	"github.com/vthunder/smsd/internal/logging"
	"github.com/vthunder/smsd/internal/mcpserver"
	"github.com/vthunder/smsd/internal/notify"
	"github.com/vthunder/smsd/internal/registry"
	"github.com/vthunder/smsd/internal/reminder"
	"github.com/vthunder/smsd/internal/store"
	"github.com/vthunder/smsd/internal/supervisor"
	"github.com/vthunder/smsd/internal/types"
)

// tickInterval is the pause between ticks.
const tickInterval = 1 * time.Second

// healthCheckInterval and reminderCheckInterval gate the two periodic
// sub-tasks so they don't run on every single tick.
const (
	healthCheckInterval   = 5 * time.Minute
	reminderCheckInterval = 1 * time.Minute
)

// defaultTier is used when restarting a session whose registry entry has no
// recorded tier.
const defaultTier = "favorite"

// smsTemplate wraps an inbound message body before it is injected into a
// session. The placeholder line below is substituted only for replies; see
// wrapMessage.
const smsTemplate = "---SMS FROM %s (%s)---\nChat ID: %s\n%s%s\n---END SMS---\n**Important:** You are in a text message session. Communicate back to the user with %s \"%s\" \"message\"\n"

const replyPlaceholder = "[Reply context not yet implemented]\n"

// Daemon owns every long-lived component and the cursor/periodic-check
// state that ties them together.
type Daemon struct {
	cfg   config.Config
	store *store.Store
	dir   *contacts.Directory
	reg   *registry.Registry
	sup   *supervisor.Supervisor
	rem   *reminder.Manager
	ev    *eventlog.Log
	notif *notify.Notifier

	cursorPath string
	maxSeen    int64

	lastHealthCheck   time.Time
	lastReminderCheck time.Time

	// unhealthySessions tracks which session names were unhealthy as of the
	// last health check, so a session that is healthy now but wasn't last
	// time can be logged as a recovery instead of silently skipped.
	unhealthySessions map[string]bool
}

// New wires every component from cfg and loads persisted state (registry,
// cursor). The messages database is opened read-only; a missing cursor
// file starts from the database's current MAX(ROWID) so a fresh install
// never replays history.
func New(cfg config.Config) (*Daemon, error) {
	if err := os.MkdirAll(cfg.StateDir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}

	st, err := store.Open(cfg.MessagesDBPath)
	if err != nil {
		return nil, fmt.Errorf("open messages store: %w", err)
	}

	reg, err := registry.Load(filepath.Join(cfg.StateDir, "sessions.json"))
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("load registry: %w", err)
	}

	ev, err := eventlog.Open(filepath.Join(cfg.StateDir, "events.db"))
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("open event log: %w", err)
	}

	notif, err := notify.New(cfg.Discord.Token, cfg.Discord.ChannelID)
	if err != nil {
		logging.Warn("daemon", "connect notifier failed, continuing without operator alerts: %v", err)
		notif = &notify.Notifier{}
	}

	sup := supervisor.New(cfg.TmuxBin, cfg.ClaudeBin, cfg.HomeDir)
	for tier, template := range cfg.Tiers {
		sup.RegisterTier(tier, template)
	}

	d := &Daemon{
		cfg:               cfg,
		store:             st,
		dir:               contacts.New(cfg.ContactsCLI),
		reg:               reg,
		sup:               sup,
		rem:               reminder.New(),
		ev:                ev,
		notif:             notif,
		cursorPath:        filepath.Join(cfg.StateDir, "last_rowid.txt"),
		unhealthySessions: make(map[string]bool),
	}

	cursor, err := d.loadCursor()
	if err != nil {
		return nil, err
	}
	d.maxSeen = cursor

	now := time.Now()
	d.lastHealthCheck = now
	d.lastReminderCheck = now

	return d, nil
}

// ServeInspection runs the read-only MCP inspection server (C11) over
// stdio, blocking until its transport closes. It is a no-op unless MCP is
// enabled in the config (MCP_ENABLED=true or the config.yaml overlay); the
// daemon loop never calls into this itself,
// so callers run it on its own goroutine.
func (d *Daemon) ServeInspection() error {
	if !d.cfg.MCP.Enabled {
		return nil
	}
	return mcpserver.New(d.reg, d.ev, d.sup, d.dir).ServeStdio()
}

// Close releases every resource New opened.
func (d *Daemon) Close() {
	d.store.Close()
	d.ev.Close()
	d.notif.Close()
}

// loadCursor reads the persisted cursor, or falls back to the database's
// current high-water mark on first run.
func (d *Daemon) loadCursor() (int64, error) {
	raw, err := os.ReadFile(d.cursorPath)
	if os.IsNotExist(err) {
		return d.store.LatestRowID()
	}
	if err != nil {
		return 0, fmt.Errorf("read cursor file: %w", err)
	}
	cursor, err := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil {
		logging.Warn("daemon", "malformed cursor file, falling back to latest rowid: %v", err)
		return d.store.LatestRowID()
	}
	return cursor, nil
}

// saveCursor is best-effort: a failed write is logged, never fatal, matching
// the Filesystem error policy.
func (d *Daemon) saveCursor() {
	body := strconv.FormatInt(d.maxSeen, 10)
	if err := os.WriteFile(d.cursorPath, []byte(body), 0o644); err != nil {
		logging.Warn("daemon", "write cursor file failed: %v", err)
	}
}

// Run blocks, ticking once per tickInterval, until ctx is canceled. The
// current tick always finishes (cursor is saved) before Run returns.
func (d *Daemon) Run(ctx context.Context) error {
	for {
		d.tick(time.Now())

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(tickInterval):
		}
	}
}

// tick runs one full iteration: poll and inject, persist cursor, and the
// two periodic checks.
func (d *Daemon) tick(now time.Time) {
	d.pollAndInject()
	d.saveCursor()

	if now.Sub(d.lastHealthCheck) >= healthCheckInterval {
		d.runHealthChecks(now)
		d.lastHealthCheck = now
	}
	if now.Sub(d.lastReminderCheck) >= reminderCheckInterval {
		d.runReminderChecks(now)
		d.lastReminderCheck = now
	}
}

func (d *Daemon) pollAndInject() {
	messages, err := d.store.PollSince(d.maxSeen)
	if err != nil {
		logging.Warn("daemon", "poll failed: %v", err)
		return
	}

	for _, msg := range messages {
		if msg.RowID > d.maxSeen {
			d.maxSeen = msg.RowID
		}
		if msg.IsFromMe {
			continue
		}

		contact, tier, ok := d.resolveSender(msg)
		if !ok {
			continue
		}

		sessionName := d.sessionNameFor(msg, contact)
		if !d.sup.Exists(sessionName) {
			if err := d.ensureSession(msg, contact, tier, sessionName); err != nil {
				logging.Warn("daemon", "create session %q for chat_id=%s failed: %v", sessionName, msg.ChatID, err)
				continue
			}
		}

		if !msg.IsGroup {
			if failed := d.rem.Register(msg.ChatID, contact.Notes); len(failed) > 0 {
				for _, f := range failed {
					logging.Warn("daemon", "chat_id=%s reminder cron %q failed to parse: %v", msg.ChatID, f.CronExpr, f.Err)
				}
				d.notif.Notify(fmt.Sprintf("reminder registration failed for %q: %d invalid cron expression(s)", contact.Name, len(failed)))
			}
		}

		if err := d.sup.Inject(sessionName, wrapMessage(msg, contact, tier, d.cfg.SMSSendCLI)); err != nil {
			logging.Warn("daemon", "inject into %q failed: %v", sessionName, err)
			continue
		}
		if err := d.reg.UpdateLastMessage(msg.ChatID); err != nil {
			logging.Warn("daemon", "update last_message_time for chat_id=%s failed: %v", msg.ChatID, err)
		}
	}
}

// resolveSender maps a message to its authorized contact and tier. Groups
// resolve the individual sender's phone; 1:1 chats resolve the chat_id
// itself, which for direct messages is the other party's phone.
func (d *Daemon) resolveSender(msg types.Message) (types.Contact, string, bool) {
	var (
		contact types.Contact
		ok      bool
	)
	if msg.IsGroup {
		contact, ok = d.dir.LookupPhone(msg.Sender)
	} else {
		contact, ok = d.dir.LookupPhone(msg.ChatID)
	}
	if !ok || !types.IsAuthorizedTier(contact.Tier) {
		return types.Contact{}, "", false
	}
	return contact, contact.Tier, true
}

func (d *Daemon) sessionNameFor(msg types.Message, contact types.Contact) string {
	if msg.IsGroup {
		return supervisor.SessionNameForGroup(msg.ChatID, msg.GroupName)
	}
	return supervisor.SessionNameForContact(contact.Name)
}

func (d *Daemon) ensureSession(msg types.Message, contact types.Contact, tier, sessionName string) error {
	transcriptDir := filepath.Join(d.cfg.StateDir, "transcripts", sessionName)
	if err := d.sup.Create(sessionName, transcriptDir, tier); err != nil {
		return err
	}

	sessionType := types.SessionIndividual
	var participants []string
	if msg.IsGroup {
		sessionType = types.SessionGroup
		participants = []string{msg.Sender}
	}

	if _, err := d.reg.Register(msg.ChatID, sessionName, transcriptDir, sessionType, contact.Name, msg.GroupName, tier, participants); err != nil {
		logging.Warn("daemon", "register chat_id=%s failed: %v", msg.ChatID, err)
	}
	d.ev.Append(msg.ChatID, eventlog.KindCreated, "created via inbound message")
	return nil
}

// wrapMessage renders the exact SMS template §6 expects, inserting the
// reply-context placeholder only when the message is a threaded reply.
func wrapMessage(msg types.Message, contact types.Contact, tier, smsSendCLI string) string {
	replyLine := ""
	if msg.ThreadOriginatorGUID != "" {
		replyLine = replyPlaceholder
	}
	return fmt.Sprintf(smsTemplate, contact.Name, tier, msg.ChatID, replyLine, msg.Text, smsSendCLI, msg.ChatID)
}

// runHealthChecks iterates a snapshot of the registry, restarting any
// session C6 classifies as unhealthy and logging a recovery event for any
// session that was unhealthy on a previous check but is healthy now.
func (d *Daemon) runHealthChecks(now time.Time) {
	for _, entry := range d.reg.All() {
		status := d.sup.CheckHealth(entry.SessionName)
		if status.Healthy {
			if d.unhealthySessions[entry.SessionName] {
				delete(d.unhealthySessions, entry.SessionName)
				logging.Info("daemon", "session %q recovered", entry.SessionName)
				d.ev.Append(entry.ChatID, eventlog.KindHealthRecovered, "health-check recovery")
			}
			continue
		}
		d.unhealthySessions[entry.SessionName] = true

		tier := entry.Tier
		if tier == "" {
			tier = defaultTier
		}

		logging.Info("daemon", "session %q unhealthy (%s), restarting", entry.SessionName, status.String())
		d.ev.Append(entry.ChatID, eventlog.KindHealthUnhealthy, status.String())
		d.notif.Notify(fmt.Sprintf("restarting %q: %s", entry.SessionName, status.String()))

		if err := d.sup.Kill(entry.SessionName); err != nil {
			logging.Warn("daemon", "kill %q during health restart failed: %v", entry.SessionName, err)
		} else {
			d.ev.Append(entry.ChatID, eventlog.KindKilled, "health-check restart")
		}
		time.Sleep(2 * time.Second)
		if err := d.sup.Create(entry.SessionName, entry.TranscriptDir, tier); err != nil {
			logging.Warn("daemon", "recreate %q during health restart failed: %v", entry.SessionName, err)
			continue
		}
		d.ev.Append(entry.ChatID, eventlog.KindRestarted, "health-check restart")
	}
}

// runReminderChecks asks C7 for everything due and injects each prompt into
// its registered session, skipping any chat_id no longer present in the
// registry.
func (d *Daemon) runReminderChecks(now time.Time) {
	for _, due := range d.rem.CheckDue(now) {
		entry, err := d.reg.Get(due.ChatID)
		if err != nil {
			continue
		}
		if err := d.sup.Inject(entry.SessionName, due.Prompt); err != nil {
			logging.Warn("daemon", "inject reminder into %q failed: %v", entry.SessionName, err)
		}
	}
}

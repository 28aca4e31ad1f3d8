// Package reminder evaluates cron schedules embedded in a contact's notes
// to decide when to inject a proactive prompt into their session.
package reminder

import (
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/vthunder/smsd/internal/logging"
)

// reminderLinePattern matches one "REMINDER: <cron> | <prompt>" line.
// Multiline mode lets ^/$ anchor to each line of a multi-line notes field.
var reminderLinePattern = regexp.MustCompile(`(?m)^REMINDER:\s*(.+?)\s*\|\s*(.+)$`)

// cronParser accepts 6-field expressions with a leading seconds column.
// ParseReminders turns a standard 5-field crontab expression into that form
// by prefixing "0 " before parsing.
var cronParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Reminder is one parsed "REMINDER:" line from a contact's notes.
type Reminder struct {
	CronExpr string
	Schedule cron.Schedule
	Prompt   string
}

// Manager tracks every registered reminder and the last time each one
// fired, so CheckDue only reports a reminder once per scheduled
// occurrence.
type Manager struct {
	mu        sync.Mutex
	reminders map[string][]Reminder // chat_id -> reminders
	lastFired map[string]time.Time  // "chat_id:index" -> last fire time
}

// New returns an empty Manager.
func New() *Manager {
	return &Manager{
		reminders: make(map[string][]Reminder),
		lastFired: make(map[string]time.Time),
	}
}

// ParseError describes one "REMINDER:" line whose cron expression failed to
// parse.
type ParseError struct {
	CronExpr string
	Err      error
}

// ParseReminders extracts every well-formed "REMINDER: <cron> | <prompt>"
// line from notes. A line whose cron expression fails to parse is skipped
// and reported in failed rather than aborting parsing of the remaining
// lines.
func ParseReminders(notes string) (out []Reminder, failed []ParseError) {
	for _, m := range reminderLinePattern.FindAllStringSubmatch(notes, -1) {
		cronExpr := strings.TrimSpace(m[1])
		prompt := strings.TrimSpace(m[2])

		fullCron := cronExpr
		if len(strings.Fields(cronExpr)) == 5 {
			fullCron = "0 " + cronExpr
		}

		schedule, err := cronParser.Parse(fullCron)
		if err != nil {
			logging.Warn("reminder", "invalid cron expression %q: %v", cronExpr, err)
			failed = append(failed, ParseError{CronExpr: cronExpr, Err: err})
			continue
		}

		out = append(out, Reminder{CronExpr: cronExpr, Schedule: schedule, Prompt: prompt})
	}
	return out, failed
}

// Register (re)parses notes for chatID. A non-empty result replaces any
// existing registration; an empty result removes it entirely. Notes with
// no REMINDER lines means the contact has no reminders, not "leave
// whatever was there before". The returned failures are every line whose
// cron expression could not be parsed, for the caller to surface to an
// operator.
func (m *Manager) Register(chatID, notes string) []ParseError {
	reminders, failed := ParseReminders(notes)

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(reminders) > 0 {
		m.reminders[chatID] = reminders
	} else {
		delete(m.reminders, chatID)
	}
	return failed
}

// Unregister removes chatID's reminders and purges its last-fired history.
func (m *Manager) Unregister(chatID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.reminders, chatID)

	prefix := chatID + ":"
	for k := range m.lastFired {
		if strings.HasPrefix(k, prefix) {
			delete(m.lastFired, k)
		}
	}
}

// Due is one reminder that has come due.
type Due struct {
	ChatID string
	Prompt string
}

// CheckDue reports every reminder whose next scheduled occurrence after its
// last fire time falls at or before now. When any reminder for a chat_id
// fires, every reminder registered for that same chat_id has its
// last-fired time advanced to now, not just the one that fired. This
// coalesces the whole contact onto a single tick ceiling, trading a little
// precision (a reminder due a few seconds after a sibling's own due time
// may be swallowed into the same tick) for never double-firing across a
// single poll.
func (m *Manager) CheckDue(now time.Time) []Due {
	m.mu.Lock()
	defer m.mu.Unlock()

	var due []Due
	fired := make(map[string]bool)

	for chatID, reminders := range m.reminders {
		for idx, r := range reminders {
			key := chatID + ":" + strconv.Itoa(idx)
			last, ok := m.lastFired[key]
			if !ok {
				last = time.Unix(0, 0).UTC()
			}

			next := r.Schedule.Next(last)
			if !next.IsZero() && !next.After(now) {
				due = append(due, Due{ChatID: chatID, Prompt: r.Prompt})
				fired[chatID] = true
			}
		}
	}

	for chatID := range fired {
		for idx := range m.reminders[chatID] {
			key := chatID + ":" + strconv.Itoa(idx)
			m.lastFired[key] = now
		}
	}

	return due
}

// All returns every registered chat_id's reminders.
func (m *Manager) All() map[string][]Reminder {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string][]Reminder, len(m.reminders))
	for k, v := range m.reminders {
		out[k] = append([]Reminder(nil), v...)
	}
	return out
}

// Get returns chatID's reminders, if any.
func (m *Manager) Get(chatID string) []Reminder {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Reminder(nil), m.reminders[chatID]...)
}

// HasReminders reports whether chatID has any registered reminders.
func (m *Manager) HasReminders(chatID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.reminders[chatID]
	return ok
}

// Count returns the total number of reminders registered across every
// contact.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, v := range m.reminders {
		total += len(v)
	}
	return total
}

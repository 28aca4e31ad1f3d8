// Package health classifies a captured tmux pane as healthy or unhealthy by
// pattern-matching its recent output, the same forensic approach used
// throughout this daemon: no structured signal from Claude Code itself, so
// infer state from what landed on the screen.
package health

import (
	"regexp"
	"strings"
)

// Status is the outcome of classifying a pane capture.
type Status struct {
	Healthy bool
	Reason  Reason
	// FatalLabel is set only when Reason == ReasonFatalError, naming which
	// fatal pattern matched (e.g. "panic", "oom").
	FatalLabel string
}

// Reason enumerates the distinct ways a session can be judged unhealthy.
type Reason string

const (
	ReasonNone                Reason = ""
	ReasonSessionMissing      Reason = "session_missing"
	ReasonAPIErrorsPersistent Reason = "api_errors_persistent"
	ReasonFatalError          Reason = "fatal_error"
	ReasonClaudeNotRunning    Reason = "claude_not_running"
)

// String renders the reason the way it would appear in a log line or
// operator alert.
func (s Status) String() string {
	if s.Healthy {
		return "healthy"
	}
	switch s.Reason {
	case ReasonFatalError:
		return "fatal_error:" + s.FatalLabel
	default:
		return string(s.Reason)
	}
}

// apiErrorPatterns are checked as a set: three or more *distinct* patterns
// matching the same capture means the session is stuck in a retry storm,
// not just a single transient error.
var apiErrorPatterns = []*regexp.Regexp{
	regexp.MustCompile(`API Error[:\s]\(?(\d{3})`),
	regexp.MustCompile(`overloaded_error`),
	regexp.MustCompile(`rate_limit_error`),
	regexp.MustCompile(`authentication_error`),
	regexp.MustCompile(`api_error`),
}

const apiErrorThreshold = 3

// fatalPattern pairs a compiled regex with the short label reported when it
// matches.
type fatalPattern struct {
	re    *regexp.Regexp
	label string
}

// fatalPatterns are checked in order; the first match wins. Order matters:
// python_traceback is listed before the case-insensitive FATAL pattern so a
// traceback that happens to also contain the word FATAL is still labeled
// precisely. FATAL in turn comes before every later pattern, so content
// that also matches one of those (e.g. "fatal error: out of memory") is
// labeled fatal.
var fatalPatterns = []fatalPattern{
	{regexp.MustCompile(`Traceback \(most recent call last\)`), "python_traceback"},
	{regexp.MustCompile(`(?i)FATAL`), "fatal"},
	{regexp.MustCompile(`panic:`), "panic"},
	{regexp.MustCompile(`(?:has |session )crashed`), "crashed"},
	{regexp.MustCompile(`Segmentation fault`), "segfault"},
	{regexp.MustCompile(`killed by signal`), "killed"},
	{regexp.MustCompile(`tool use concurrency`), "tool_concurrency"},
	{regexp.MustCompile(`Run /rewind to recover`), "needs_rewind"},
	{regexp.MustCompile(`ENOMEM|out of memory`), "oom"},
	{regexp.MustCompile(`(?i)connection refused`), "connection_refused"},
}

// shellPrompts are the trailing characters a bare, Claude-less shell prompt
// ends in.
var shellPrompts = []byte{'$', '%', '>', '#'}

// Classify inspects the most recent pane content captured from a session's
// tmux window and reports a Status. Reason and FatalLabel are only
// meaningful when Healthy is false.
func Classify(content string) Status {
	matches := 0
	for _, re := range apiErrorPatterns {
		if re.MatchString(content) {
			matches++
		}
	}
	if matches >= apiErrorThreshold {
		return Status{Healthy: false, Reason: ReasonAPIErrorsPersistent}
	}

	for _, fp := range fatalPatterns {
		if fp.re.MatchString(content) {
			return Status{Healthy: false, Reason: ReasonFatalError, FatalLabel: fp.label}
		}
	}

	trimmed := strings.TrimSpace(content)
	if trimmed != "" {
		last := trimmed[len(trimmed)-1]
		endsInPrompt := false
		for _, p := range shellPrompts {
			if last == p {
				endsInPrompt = true
				break
			}
		}
		if endsInPrompt && !strings.Contains(strings.ToLower(content), "claude") {
			return Status{Healthy: false, Reason: ReasonClaudeNotRunning}
		}
	}

	return Status{Healthy: true}
}

// SessionMissing is the Status reported when the tmux session itself does
// not exist, short-circuiting any pane-content classification.
func SessionMissing() Status {
	return Status{Healthy: false, Reason: ReasonSessionMissing}
}

// HasConcerningPatterns does a cheap existence check across both pattern
// sets without the distinct-match threshold health.Classify applies to API
// errors: any single hit reports true, even one that would not flip the
// session unhealthy. The daemon's periodic health check does not call it;
// that check goes through Classify.
func HasConcerningPatterns(content string) bool {
	for _, re := range apiErrorPatterns {
		if re.MatchString(content) {
			return true
		}
	}
	for _, fp := range fatalPatterns {
		if fp.re.MatchString(content) {
			return true
		}
	}
	return false
}

package health

import "testing"

func TestClassifyHealthySession(t *testing.T) {
	content := `
            Claude is working on your request...
            [claude] Processing message
            > Some output here
        `
	status := Classify(content)
	if !status.Healthy {
		t.Errorf("Classify() = %+v, want healthy", status)
	}
}

func TestClassifySingleAPIErrorIsHealthy(t *testing.T) {
	content := "API Error (529 overloaded)\nRetrying..."
	status := Classify(content)
	if !status.Healthy {
		t.Errorf("Classify() = %+v, want healthy (only one distinct pattern matched)", status)
	}
}

func TestClassifyPersistentAPIErrorsUnhealthy(t *testing.T) {
	content := `
            API Error (529 overloaded)
            overloaded_error occurred
            rate_limit_error from server
            api_error returned
        `
	status := Classify(content)
	if status.Healthy || status.Reason != ReasonAPIErrorsPersistent {
		t.Errorf("Classify() = %+v, want unhealthy/api_errors_persistent", status)
	}
}

func TestClassifyFatalPatterns(t *testing.T) {
	cases := []struct {
		name    string
		content string
		label   string
	}{
		{"python_traceback", "Traceback (most recent call last):\n    File \"script.py\", line 1\nNameError: name 'foo' is not defined", "python_traceback"},
		{"panic", "panic: runtime error: index out of range", "panic"},
		{"segfault", "Segmentation fault (core dumped)", "segfault"},
		{"needs_rewind", "Error occurred. Run /rewind to recover from this state.", "needs_rewind"},
		{"tool_concurrency", "Error: tool use concurrency limit exceeded", "tool_concurrency"},
		{"oom", "JavaScript heap out of memory", "oom"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			status := Classify(c.content)
			if status.Healthy || status.Reason != ReasonFatalError || status.FatalLabel != c.label {
				t.Errorf("Classify(%q) = %+v, want fatal_error:%s", c.content, status, c.label)
			}
		})
	}
}

func TestClassifyShellPromptWithoutClaude(t *testing.T) {
	status := Classify("jsmith@mac ~ $")
	if status.Healthy || status.Reason != ReasonClaudeNotRunning {
		t.Errorf("Classify() = %+v, want claude_not_running", status)
	}
}

func TestClassifyShellPromptWithClaudeIsHealthy(t *testing.T) {
	status := Classify("claude: Processing...\njsmith@mac ~ $")
	if !status.Healthy {
		t.Errorf("Classify() = %+v, want healthy (claude mentioned)", status)
	}
}

func TestClassifyZshPrompt(t *testing.T) {
	status := Classify("zsh: command not found: foo\n%")
	if status.Healthy || status.Reason != ReasonClaudeNotRunning {
		t.Errorf("Classify() = %+v, want claude_not_running", status)
	}
}

func TestStatusString(t *testing.T) {
	if got := SessionMissing().String(); got != "session_missing" {
		t.Errorf("SessionMissing().String() = %q, want session_missing", got)
	}
	s := Status{Healthy: false, Reason: ReasonFatalError, FatalLabel: "panic"}
	if got := s.String(); got != "fatal_error:panic" {
		t.Errorf("String() = %q, want fatal_error:panic", got)
	}
}

func TestHasConcerningPatterns(t *testing.T) {
	if !HasConcerningPatterns("API Error (500)") {
		t.Error("expected concerning pattern for API Error")
	}
	if !HasConcerningPatterns("panic: oops") {
		t.Error("expected concerning pattern for panic")
	}
	if HasConcerningPatterns("All is well") {
		t.Error("expected no concerning pattern")
	}
}

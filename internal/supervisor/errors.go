package supervisor

import "errors"

// ErrSessionNotFound is wrapped into the error returned by Inject and
// Capture when the target tmux session does not exist.
var ErrSessionNotFound = errors.New("session not found")

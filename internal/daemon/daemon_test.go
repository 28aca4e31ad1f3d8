package daemon

import (
	"strings"
	"testing"

	"github.com/vthunder/smsd/internal/types"
)

func TestWrapMessagePlainBody(t *testing.T) {
	msg := types.Message{ChatID: "+15551234567", Text: "hello there"}
	contact := types.Contact{Name: "Alice", Tier: "admin"}

	out := wrapMessage(msg, contact, "admin", "sms-send")

	if !strings.HasPrefix(out, "---SMS FROM Alice (admin)---\n") {
		t.Errorf("unexpected header: %q", out)
	}
	if !strings.Contains(out, "Chat ID: +15551234567\n") {
		t.Errorf("missing chat id line: %q", out)
	}
	if !strings.Contains(out, "hello there\n---END SMS---") {
		t.Errorf("missing body/footer: %q", out)
	}
	if strings.Contains(out, "Reply context not yet implemented") {
		t.Error("non-reply message should not carry the reply placeholder")
	}
	if !strings.Contains(out, `sms-send "+15551234567" "message"`) {
		t.Errorf("missing sms-send-cli instruction: %q", out)
	}
}

func TestWrapMessageReplyInsertsPlaceholder(t *testing.T) {
	msg := types.Message{ChatID: "+15551234567", Text: "yes", ThreadOriginatorGUID: "abc-123"}
	contact := types.Contact{Name: "Bob", Tier: "favorite"}

	out := wrapMessage(msg, contact, "favorite", "sms-send")

	wantOrder := "Chat ID: +15551234567\n[Reply context not yet implemented]\nyes\n---END SMS---"
	if !strings.Contains(out, wantOrder) {
		t.Errorf("reply placeholder not positioned between chat id and body: %q", out)
	}
}

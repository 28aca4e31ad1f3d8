package mcpserver

import (
	"testing"
	"time"

	"github.com/vthunder/smsd/internal/types"
)

func TestSummarizeOmitsLastMessageWhenNil(t *testing.T) {
	entry := types.SessionData{
		ChatID:      "chat1",
		SessionName: "alice",
		SessionType: types.SessionIndividual,
		ContactName: "Alice",
		Tier:        "admin",
		CreatedAt:   time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	s := summarize(entry)
	if s.LastMessageAt != "" {
		t.Errorf("LastMessageAt = %q, want empty for nil LastMessageTime", s.LastMessageAt)
	}
	if s.CreatedAt != "2026-01-01T00:00:00Z" {
		t.Errorf("CreatedAt = %q, want RFC3339 formatted", s.CreatedAt)
	}
}

func TestSummarizeIncludesLastMessageWhenSet(t *testing.T) {
	last := time.Date(2026, 1, 2, 12, 30, 0, 0, time.UTC)
	entry := types.SessionData{
		ChatID:          "chat2",
		SessionName:     "group-abc",
		SessionType:     types.SessionGroup,
		LastMessageTime: &last,
	}

	s := summarize(entry)
	if s.LastMessageAt != "2026-01-02T12:30:00Z" {
		t.Errorf("LastMessageAt = %q, want RFC3339 formatted", s.LastMessageAt)
	}
}

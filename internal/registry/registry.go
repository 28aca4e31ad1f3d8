// Package registry persists the mapping from chat_id to tmux session
// metadata. The registry is a single JSON file, loaded fully into memory on
// startup and rewritten atomically on every mutation: write to a temp file
// in the same directory, fsync it, then rename over the canonical path, so
// a crash mid-write never leaves a truncated or torn registry behind.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/vthunder/smsd/internal/types"
)

// ErrNotFound is returned by Get and GetBySessionName when no session is
// registered under the given key.
var ErrNotFound = errors.New("registry: session not found")

// Registry is the in-memory, JSON-backed map of chat_id -> SessionData.
type Registry struct {
	path string

	mu   sync.RWMutex
	data map[string]types.SessionData
}

// Load reads the registry file at path, or starts empty if the file does
// not exist yet (first run).
func Load(path string) (*Registry, error) {
	r := &Registry{path: path, data: make(map[string]types.SessionData)}

	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return r, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read registry: %w", err)
	}
	if len(raw) == 0 {
		return r, nil
	}
	if err := json.Unmarshal(raw, &r.data); err != nil {
		return nil, fmt.Errorf("parse registry: %w", err)
	}
	return r, nil
}

// Register creates or updates the session entry for chatID. created_at is
// preserved across re-registration; last_message_time is carried forward
// from any existing entry unchanged (Register never touches it; see
// UpdateLastMessage).
func (r *Registry) Register(chatID, sessionName, transcriptDir string, sessionType types.SessionType, contactName, displayName, tier string, participants []string) (types.SessionData, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	createdAt := now
	var lastMessageTime *time.Time
	if existing, ok := r.data[chatID]; ok {
		createdAt = existing.CreatedAt
		lastMessageTime = existing.LastMessageTime
	}

	entry := types.SessionData{
		ChatID:          chatID,
		SessionName:     sessionName,
		TranscriptDir:   transcriptDir,
		SessionType:     sessionType,
		ContactName:     contactName,
		DisplayName:     displayName,
		Tier:            tier,
		Participants:    participants,
		CreatedAt:       createdAt,
		UpdatedAt:       now,
		LastMessageTime: lastMessageTime,
	}
	r.data[chatID] = entry

	if err := r.saveLocked(); err != nil {
		return types.SessionData{}, err
	}
	return entry, nil
}

// Get returns the session registered under chatID.
func (r *Registry) Get(chatID string) (types.SessionData, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.data[chatID]
	if !ok {
		return types.SessionData{}, ErrNotFound
	}
	return entry, nil
}

// GetBySessionName finds the session whose SessionName matches name. This
// is a linear scan; the registry is expected to hold at most a few dozen
// entries.
func (r *Registry) GetBySessionName(name string) (types.SessionData, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, entry := range r.data {
		if entry.SessionName == name {
			return entry, nil
		}
	}
	return types.SessionData{}, ErrNotFound
}

// UpdateLastMessage stamps last_message_time and updated_at to now for
// chatID and persists the change.
func (r *Registry) UpdateLastMessage(chatID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.data[chatID]
	if !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	entry.LastMessageTime = &now
	entry.UpdatedAt = now
	r.data[chatID] = entry
	return r.saveLocked()
}

// Remove deletes the session for chatID, if present, and persists the
// change. Removing an absent chatID is a no-op that does not touch disk.
func (r *Registry) Remove(chatID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.data[chatID]; !ok {
		return nil
	}
	delete(r.data, chatID)
	return r.saveLocked()
}

// All returns a snapshot copy of every registered session.
func (r *Registry) All() []types.SessionData {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.SessionData, 0, len(r.data))
	for _, entry := range r.data {
		out = append(out, entry)
	}
	return out
}

// Len reports the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.data)
}

// saveLocked writes the registry atomically. Caller must hold r.mu.
func (r *Registry) saveLocked() error {
	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create registry dir: %w", err)
	}

	out, err := json.MarshalIndent(r.data, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal registry: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".registry-*.tmp")
	if err != nil {
		return fmt.Errorf("create registry temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.Write(out); err != nil {
		tmp.Close()
		return fmt.Errorf("write registry temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("fsync registry temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close registry temp file: %w", err)
	}

	if err := os.Rename(tmpPath, r.path); err != nil {
		return fmt.Errorf("rename registry into place: %w", err)
	}
	return nil
}

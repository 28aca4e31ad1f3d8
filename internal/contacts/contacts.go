// Package contacts loads and indexes the contact directory used to decide
// which senders the daemon is allowed to bridge into a Claude session. The
// directory itself is owned by an external CLI (contacts.rs's companion
// tool); this package only shells out to it, parses its JSON, and caches
// the result until Refresh is called.
package contacts

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"github.com/vthunder/smsd/internal/types"
)

// Directory is a lazily-loaded, in-memory index over the external contacts
// CLI's output, keyed simultaneously by phone, email, and lowercased name.
type Directory struct {
	cli string

	mu     sync.RWMutex
	loaded bool
	byKey  map[string]types.Contact
}

// New returns a Directory that will invoke cli (e.g. "contacts") to load
// its data on first use.
func New(cli string) *Directory {
	return &Directory{cli: cli, byKey: make(map[string]types.Contact)}
}

// Refresh forces the next lookup to reload from the CLI.
func (d *Directory) Refresh() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.loaded = false
}

type rawContact struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Email string `json:"email"`
	Tier  string `json:"tier"`
	Notes string `json:"notes"`
}

func (d *Directory) ensureLoaded() error {
	d.mu.RLock()
	loaded := d.loaded
	d.mu.RUnlock()
	if loaded {
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.loaded {
		return nil
	}

	cmd := exec.Command(d.cli, "list", "--json")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("run contacts CLI: %w: %s", err, stderr.String())
	}

	var raw []rawContact
	if err := json.Unmarshal(stdout.Bytes(), &raw); err != nil {
		return fmt.Errorf("parse contacts JSON: %w", err)
	}

	byKey := make(map[string]types.Contact, len(raw)*2)
	for _, rc := range raw {
		tier := rc.Tier
		if tier == "" {
			tier = "unknown"
		}
		c := types.Contact{Name: rc.Name, Tier: strings.ToLower(tier), Notes: rc.Notes}
		if rc.Phone != "" {
			c.Phone = NormalizePhone(rc.Phone)
			byKey["phone:"+c.Phone] = c
		}
		if rc.Email != "" {
			c.Email = strings.ToLower(rc.Email)
			byKey["email:"+c.Email] = c
		}
		if rc.Name != "" {
			byKey["name:"+strings.ToLower(rc.Name)] = c
		}
	}

	d.byKey = byKey
	d.loaded = true
	return nil
}

// LookupPhone returns the contact registered under the normalized phone, if
// any.
func (d *Directory) LookupPhone(phone string) (types.Contact, bool) {
	if err := d.ensureLoaded(); err != nil {
		return types.Contact{}, false
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.byKey["phone:"+NormalizePhone(phone)]
	return c, ok
}

// LookupEmail returns the contact registered under the lowercased email, if
// any.
func (d *Directory) LookupEmail(email string) (types.Contact, bool) {
	if err := d.ensureLoaded(); err != nil {
		return types.Contact{}, false
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.byKey["email:"+strings.ToLower(email)]
	return c, ok
}

// LookupIdentifier resolves either a phone number or an email address,
// dispatching on the presence of '@'.
func (d *Directory) LookupIdentifier(id string) (types.Contact, bool) {
	if strings.Contains(id, "@") {
		return d.LookupEmail(id)
	}
	return d.LookupPhone(id)
}

// LookupName returns the contact registered under the lowercased display
// name, if any.
func (d *Directory) LookupName(name string) (types.Contact, bool) {
	if err := d.ensureLoaded(); err != nil {
		return types.Contact{}, false
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.byKey["name:"+strings.ToLower(name)]
	return c, ok
}

// ListBlessed returns every contact whose tier is in types.BlessedTiers,
// deduplicated by name (the same underlying contact is indexed under up to
// three keys).
func (d *Directory) ListBlessed() []types.Contact {
	if err := d.ensureLoaded(); err != nil {
		return nil
	}
	d.mu.RLock()
	defer d.mu.RUnlock()

	seen := make(map[string]bool)
	var out []types.Contact
	for _, c := range d.byKey {
		if !types.IsAuthorizedTier(c.Tier) {
			continue
		}
		if seen[c.Name] {
			continue
		}
		seen[c.Name] = true
		out = append(out, c)
	}
	return out
}

// NormalizePhone reduces a phone number to E.164 form. It always keeps
// digits only, then:
//   - if the original already carried a leading '+', re-prefixes the digits
//     with '+' as-is (no assumption about country code)
//   - a bare 10-digit number is assumed US/Canada and gets "+1" prefixed
//   - an 11-digit number already starting with "1" just gets "+" prefixed
//   - anything else is prefixed with "+" verbatim, best-effort
func NormalizePhone(phone string) string {
	hasPlus := strings.HasPrefix(phone, "+")

	var digits strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	d := digits.String()

	switch {
	case hasPlus:
		return "+" + d
	case len(d) == 10:
		return "+1" + d
	case len(d) == 11 && strings.HasPrefix(d, "1"):
		return "+" + d
	default:
		return "+" + d
	}
}

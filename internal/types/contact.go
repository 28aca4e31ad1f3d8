package types

// Contact is a single entry loaded from the contacts CLI (C3).
type Contact struct {
	Name  string
	Phone string // normalized E.164, empty if the contact has none
	Email string // lowercased, empty if the contact has none
	Tier  string // normalized to lowercase on load
	Notes string // free-form; scanned by the reminder scheduler (C7) for "REMINDER:" lines
}

// BlessedTiers is the fixed set of tiers the daemon is permitted to forward
// messages for. Order is not meaningful; membership is.
var BlessedTiers = map[string]bool{
	"admin":    true,
	"wife":     true,
	"family":   true,
	"favorite": true,
}

// IsAuthorizedTier reports whether tier is in BlessedTiers. Comparison is
// case-sensitive: an unrecognized casing is treated as unauthorized rather
// than normalized.
func IsAuthorizedTier(tier string) bool {
	return BlessedTiers[tier]
}

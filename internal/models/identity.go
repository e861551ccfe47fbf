// internal/models/identity.go
package models

import (
	"encoding/json"
	"strings"
	"unicode"
)

// NormalizePhone strips everything but digits and keeps the last ten, so that
// "+91 98765-43210" and "9876543210" converge on the same value. The result is
// used both for validation and for session-id derivation.
func NormalizePhone(raw string) string {
	digits := stripNonDigits(raw)
	if len(digits) > 10 {
		return digits[len(digits)-10:]
	}
	return digits
}

// NormalizePincode strips everything but digits.
func NormalizePincode(raw string) string {
	return stripNonDigits(raw)
}

func stripNonDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// SessionID derives the deterministic backend step-cache session identifier
// for a user, so repeated writes converge on the same draft record.
func SessionID(phone string) string {
	normalized := NormalizePhone(phone)
	if normalized == "" {
		return "pending-guest"
	}
	return "pending-" + normalized
}

// StoredUser is the authenticated identity snapshot kept under the "user" key.
type StoredUser struct {
	Name           string `json:"name"`
	Email          string `json:"email"`
	Phone          string `json:"phone"`
	Campus         string `json:"campus"`
	Program        string `json:"program"`
	Specialization string `json:"specialization"`
	Role           string `json:"role"`
}

// DecodeStoredUser tolerates both the wrapped {"user": {...}} shape and the
// flat shape, both of which exist in stored snapshots.
func DecodeStoredUser(raw string) (*StoredUser, bool) {
	if raw == "" {
		return nil, false
	}

	var wrapped struct {
		User *StoredUser `json:"user"`
	}
	if err := json.Unmarshal([]byte(raw), &wrapped); err == nil && wrapped.User != nil {
		return wrapped.User, true
	}

	var flat StoredUser
	if err := json.Unmarshal([]byte(raw), &flat); err == nil && (flat.Email != "" || flat.Phone != "" || flat.Name != "") {
		return &flat, true
	}

	return nil, false
}

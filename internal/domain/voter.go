package domain

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Voter key prefixes. The prefix records which identity source won so keys
// from different sources never collide.
const (
	VoterKeyUser   = "user:"
	VoterKeyDevice = "device:"
	VoterKeyConn   = "conn:"
)

// Voter is the requester context for a submission. UserID and Email come
// from the identity provider and are empty for anonymous callers.
type Voter struct {
	UserID      string
	Email       string
	DeviceToken string
	ConnID      string
	// LocalHint mirrors the client's own "already voted" flag. It may only
	// short-circuit a submission, never authorize one.
	LocalHint bool
}

// Authenticated reports whether the provider supplied an identity.
func (v Voter) Authenticated() bool { return v.UserID != "" }

// Key derives the voter key: the authenticated id, else the device token,
// else the connection fallback. Empty when no source is available.
func (v Voter) Key() string {
	return DeriveVoterKey(v.UserID, v.DeviceToken, v.ConnID)
}

// DeriveVoterKey picks the first non-blank identity source in precedence
// order and prefixes it with its source.
func DeriveVoterKey(userID, deviceToken, connID string) string {
	if s := strings.TrimSpace(userID); s != "" {
		return VoterKeyUser + s
	}
	if s := strings.TrimSpace(deviceToken); s != "" {
		return VoterKeyDevice + s
	}
	if s := strings.TrimSpace(connID); s != "" {
		return VoterKeyConn + s
	}
	return ""
}

// HashConn turns a raw connection address into a stable opaque identifier
// so client IPs are never stored.
func HashConn(addr, salt string) string {
	if addr == "" {
		return ""
	}
	m := hmac.New(sha256.New, []byte(salt))
	m.Write([]byte(addr))
	return hex.EncodeToString(m.Sum(nil)[:8])
}

package services

import (
	"strings"
	"time"

	"golang.org/x/text/cases"

	"github.com/tbourn/go-poll-backend/internal/domain"
)

var domainFolder = cases.Fold()

// Gate decides whether a requester may submit to a poll right now. It is
// evaluated on every submission regardless of what the client displayed.
type Gate struct {
	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

// Check runs the checks in order and returns the first failure as an
// *AccessDeniedError, or nil when the voter is allowed.
func (g Gate) Check(p *domain.Poll, v domain.Voter) error {
	now := time.Now()
	if g.Now != nil {
		now = g.Now()
	}

	if p.IsClosed {
		return &AccessDeniedError{Reason: DenyClosed}
	}
	if p.ExpiresAt != nil && !now.Before(*p.ExpiresAt) {
		return &AccessDeniedError{Reason: DenyExpired}
	}
	if p.RequiresLogin && !v.Authenticated() {
		return &AccessDeniedError{Reason: DenyLoginRequired}
	}
	if len(p.AllowedDomains) > 0 && v.Authenticated() {
		if !domainAllowed(emailDomain(v.Email), p.AllowedDomains) {
			return &AccessDeniedError{Reason: DenyDomainNotAllowed}
		}
	}
	return nil
}

// emailDomain returns the case-folded part after the last '@', or "".
func emailDomain(email string) string {
	email = strings.TrimSpace(email)
	at := strings.LastIndexByte(email, '@')
	if at < 0 || at == len(email)-1 {
		return ""
	}
	return domainFolder.String(email[at+1:])
}

func domainAllowed(d string, allowed []string) bool {
	if d == "" {
		return false
	}
	for _, a := range allowed {
		if NormalizeDomain(a) == d {
			return true
		}
	}
	return false
}

// NormalizeDomain trims, strips a leading '@', and case-folds an
// allow-list entry.
func NormalizeDomain(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "@")
	return domainFolder.String(s)
}

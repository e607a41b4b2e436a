package services

import (
	"errors"
	"testing"
	"time"

	"github.com/tbourn/go-poll-backend/internal/domain"
)

func TestGate_Check(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)
	gate := Gate{Now: func() time.Time { return now }}

	anon := domain.Voter{DeviceToken: "d1"}
	alice := domain.Voter{UserID: "u1", Email: "alice@Example.COM"}

	cases := []struct {
		name  string
		poll  domain.Poll
		voter domain.Voter
		want  DenyReason // empty = allowed
	}{
		{"open anonymous", domain.Poll{}, anon, ""},
		{"closed", domain.Poll{IsClosed: true}, alice, DenyClosed},
		{"closed beats login", domain.Poll{IsClosed: true, RequiresLogin: true}, anon, DenyClosed},
		{"expired in the past", domain.Poll{ExpiresAt: &past}, alice, DenyExpired},
		{"expires exactly now", domain.Poll{ExpiresAt: &now}, alice, DenyExpired},
		{"expires later", domain.Poll{ExpiresAt: &future}, alice, ""},
		{"expired beats login", domain.Poll{ExpiresAt: &past, RequiresLogin: true}, anon, DenyExpired},
		{"login required anonymous", domain.Poll{RequiresLogin: true}, anon, DenyLoginRequired},
		{"login required authenticated", domain.Poll{RequiresLogin: true}, alice, ""},
		{"domain allowed case-insensitive", domain.Poll{AllowedDomains: []string{"example.com"}}, alice, ""},
		{"domain entry with @", domain.Poll{AllowedDomains: []string{" @EXAMPLE.com "}}, alice, ""},
		{"domain not allowed", domain.Poll{AllowedDomains: []string{"other.org"}}, alice, DenyDomainNotAllowed},
		{"subdomain is not the domain", domain.Poll{AllowedDomains: []string{"example.com"}},
			domain.Voter{UserID: "u2", Email: "bob@mail.example.com"}, DenyDomainNotAllowed},
		{"authenticated without email", domain.Poll{AllowedDomains: []string{"example.com"}},
			domain.Voter{UserID: "u3"}, DenyDomainNotAllowed},
		{"domains ignored for anonymous", domain.Poll{AllowedDomains: []string{"example.com"}}, anon, ""},
		{"last @ wins", domain.Poll{AllowedDomains: []string{"example.com"}},
			domain.Voter{UserID: "u4", Email: "odd@name@example.com"}, ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := tc.poll
			err := gate.Check(&p, tc.voter)
			if tc.want == "" {
				if err != nil {
					t.Fatalf("expected allowed, got %v", err)
				}
				return
			}
			var ad *AccessDeniedError
			if !errors.As(err, &ad) {
				t.Fatalf("expected *AccessDeniedError, got %v", err)
			}
			if ad.Reason != tc.want {
				t.Fatalf("reason = %s; want %s", ad.Reason, tc.want)
			}
			if !errors.Is(err, ErrAccessDenied) {
				t.Fatalf("errors.Is(ErrAccessDenied) must hold")
			}
		})
	}
}

func TestGate_DefaultClock(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	err := Gate{}.Check(&domain.Poll{ExpiresAt: &past}, domain.Voter{})
	var ad *AccessDeniedError
	if !errors.As(err, &ad) || ad.Reason != DenyExpired {
		t.Fatalf("expected expired, got %v", err)
	}
}

func TestNormalizeDomain(t *testing.T) {
	cases := map[string]string{
		"Example.COM":    "example.com",
		"  @corp.io ":    "corp.io",
		"":               "",
		"@":              "",
		"Straße.de":      "strasse.de",
		"sub.Domain.Org": "sub.domain.org",
	}
	for in, want := range cases {
		if got := NormalizeDomain(in); got != want {
			t.Fatalf("NormalizeDomain(%q) = %q; want %q", in, got, want)
		}
	}
}

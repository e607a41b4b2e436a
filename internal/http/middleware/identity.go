// This file implements the demo identity provider. Upstream authentication
// (a gateway or auth proxy) is expected to forward the verified account as
// X-User-ID / X-User-Email; anonymous clients may send a per-device token.
// When neither is present the voter falls back to a salted hash of the
// client IP, so raw addresses never reach storage.
//
// The resolved domain.Voter is stored in the Gin context. Absence of an
// identity is never an error here; services decide what anonymous callers
// may do.

package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-poll-backend/internal/domain"
)

// Identity headers and the local "already voted" hint transport.
const (
	HeaderUserID      = "X-User-ID"
	HeaderUserEmail   = "X-User-Email"
	HeaderDeviceToken = "X-Device-Token"
	HeaderVotedHint   = "X-Voted-Hint"

	// VotedCookiePrefix + poll id names the hint cookie set after a vote.
	VotedCookiePrefix = "voted_"

	ctxKeyVoter  = "voter"
	ctxKeyUserID = "userID"
)

// IdentityOptions configures Identity.
type IdentityOptions struct {
	// Salt keys the HMAC used for the connection fallback identifier.
	Salt string
	// MaxTokenLen caps the accepted device token length. Values <= 0
	// default to 128; longer tokens are ignored.
	MaxTokenLen int
}

// Identity resolves the requester into a domain.Voter and stores it under
// the "voter" context key. The authenticated user id is also stored under
// "userID" for the access loggers.
//
// The local hint is read from the voted_<id> cookie or X-Voted-Hint: 1 for
// routes with an :id parameter. It is only ever used to short-circuit.
func Identity(opts IdentityOptions) gin.HandlerFunc {
	maxTok := opts.MaxTokenLen
	if maxTok <= 0 {
		maxTok = 128
	}
	return func(c *gin.Context) {
		v := domain.Voter{
			UserID: strings.TrimSpace(c.GetHeader(HeaderUserID)),
			ConnID: domain.HashConn(c.ClientIP(), opts.Salt),
		}
		if v.UserID != "" {
			v.Email = strings.TrimSpace(c.GetHeader(HeaderUserEmail))
			c.Set(ctxKeyUserID, v.UserID)
		}
		if tok := strings.TrimSpace(c.GetHeader(HeaderDeviceToken)); tok != "" && len(tok) <= maxTok {
			v.DeviceToken = tok
		}
		if id := c.Param("id"); id != "" {
			v.LocalHint = votedHint(c, id)
		}
		c.Set(ctxKeyVoter, v)
		c.Next()
	}
}

func votedHint(c *gin.Context, pollID string) bool {
	if c.GetHeader(HeaderVotedHint) == "1" {
		return true
	}
	val, err := c.Cookie(VotedCookiePrefix + pollID)
	return err == nil && val != "" && val != "0"
}

// VoterFrom returns the voter resolved by Identity, or an anonymous voter
// keyed by the raw client IP when the middleware did not run.
func VoterFrom(c *gin.Context) domain.Voter {
	if v, ok := c.Get(ctxKeyVoter); ok {
		if voter, ok := v.(domain.Voter); ok {
			return voter
		}
	}
	return domain.Voter{ConnID: c.ClientIP()}
}

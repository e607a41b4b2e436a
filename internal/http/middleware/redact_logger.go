package middleware

import (
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-poll-backend/internal/domain"
)

// Applied in this order: the phone pattern would otherwise eat the digit
// groups of a UUID.
var (
	uuidRE  = regexp.MustCompile(`(?i)\b[0-9a-f]{8}-[0-9a-f]{4}-[1-5][0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}\b`)
	emailRE = regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)
	phoneRE = regexp.MustCompile(`\b(?:\+?\d{1,3}[ .-]?)?(?:\(?\d{2,4}\)?[ .-]?)?\d{3,4}[ .-]?\d{4}\b`)
)

// voterHeaders identify a voter and are always masked.
var voterHeaders = []string{
	"Authorization", "Cookie", "Set-Cookie",
	HeaderUserID, HeaderUserEmail, HeaderDeviceToken,
}

// RedactOptions adds header names (case-insensitive) to mask on top of the
// voter identity headers and cookies.
type RedactOptions struct {
	MaskHeaders []string
}

func scrub(s string) string {
	if s == "" {
		return s
	}
	s = uuidRE.ReplaceAllString(s, "[REDACTED:id]")
	s = emailRE.ReplaceAllString(s, "[REDACTED:email]")
	return phoneRE.ReplaceAllString(s, "[REDACTED:phone]")
}

// RedactingLogger is the production access logger. Bodies are never read.
// Identity headers are masked outright; other header values, the query,
// and unmatched raw paths are scrubbed of ids, emails and phone numbers.
// The line carries the poll id and the voter source, never the voter key.
func RedactingLogger(opts RedactOptions) gin.HandlerFunc {
	masked := make(map[string]bool, len(voterHeaders)+len(opts.MaskHeaders))
	for _, h := range append(append([]string(nil), voterHeaders...), opts.MaskHeaders...) {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			masked[h] = true
		}
	}

	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = scrub(c.Request.URL.Path)
		}
		l := scopeLogger(c, path)

		headers := make(map[string]string, len(c.Request.Header))
		for k, vv := range c.Request.Header {
			if masked[strings.ToLower(k)] {
				headers[k] = "[REDACTED]"
				continue
			}
			headers[k] = scrub(strings.Join(vv, ", "))
		}

		c.Next()

		status := c.Writer.Status()
		ev := l.Info()
		switch {
		case status >= 500:
			ev = l.Error()
		case status >= 400:
			ev = l.Warn()
		}
		if _, ok := c.Get(ctxKeyVoter); ok {
			ev = ev.Str("voter", voterSource(VoterFrom(c)))
		}
		ev.Str("query", scrub(c.Request.URL.RawQuery)).
			Int("status", status).
			Int("bytes", c.Writer.Size()).
			Dur("latency", time.Since(start)).
			Interface("headers", headers).
			Msg("http_request")
	}
}

// voterSource names the identity source without logging the identity.
func voterSource(v domain.Voter) string {
	switch k := v.Key(); {
	case strings.HasPrefix(k, domain.VoterKeyUser):
		return "user"
	case strings.HasPrefix(k, domain.VoterKeyDevice):
		return "device"
	case strings.HasPrefix(k, domain.VoterKeyConn):
		return "conn"
	}
	return "none"
}

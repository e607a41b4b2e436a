package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func TestIdempotencyGetters(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodPost, "/", nil)

	if k, ok := GetIdempotencyKey(c); k != "" || ok || IsReplay(c) {
		t.Fatalf("zero context should carry no key or replay")
	}
	c.Set(ctxKeyIdemKey, 123)
	c.Set(ctxKeyIdemReplay, "yes")
	if _, ok := GetIdempotencyKey(c); ok || IsReplay(c) {
		t.Fatalf("wrongly typed values must read as absent")
	}
	c.Set(ctxKeyIdemKey, "k1")
	c.Set(ctxKeyIdemReplay, true)
	if k, ok := GetIdempotencyKey(c); k != "k1" || !ok || !IsReplay(c) {
		t.Fatalf("stored values not returned")
	}
}

func TestIdempotencyValidator_RejectsMalformedKeys(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cases := []struct {
		name string
		opts IdempotencyOptions
		key  string
	}{
		{"too long", IdempotencyOptions{MaxLen: 5}, "abcdef"},
		{"default max", IdempotencyOptions{}, strings.Repeat("k", 201)},
		{"custom pattern", IdempotencyOptions{Pattern: regexp.MustCompile(`^[0-9]+$`)}, "abc123"},
		{"default pattern", IdempotencyOptions{}, "white space"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			called := false
			r := gin.New()
			r.Use(RequestID())
			r.Use(IdempotencyValidator(tc.opts, nil))
			r.POST("/polls/:id/votes", func(c *gin.Context) { called = true })

			req := httptest.NewRequest(http.MethodPost, "/polls/p1/votes", nil)
			req.Header.Set(HeaderIdempotencyKey, tc.key)
			req.Header.Set(requestIDHeader, "rid-idem")
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != http.StatusBadRequest || called {
				t.Fatalf("status=%d handler called=%v", w.Code, called)
			}
			var body map[string]any
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatalf("invalid json: %v", err)
			}
			if body["code"] != "bad_idempotency_key" || body["request_id"] != "rid-idem" {
				t.Fatalf("unexpected body: %v", body)
			}
		})
	}
}

type lookupCall struct {
	voterKey, pollID, key string
}

func TestIdempotencyValidator_Lookup(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cases := []struct {
		name       string
		method     string
		path       string
		hdr        map[string]string
		result     bool
		err        error
		wantCall   *lookupCall
		wantReplay bool
	}{
		{
			name: "no header", method: http.MethodPost, path: "/polls/p1/votes",
			hdr: map[string]string{HeaderUserID: "u1"},
		},
		{
			name: "miss", method: http.MethodPost, path: "/polls/p42/votes",
			hdr:      map[string]string{HeaderIdempotencyKey: "key-1", HeaderDeviceToken: "dev-1"},
			wantCall: &lookupCall{"device:dev-1", "p42", "key-1"},
		},
		{
			name: "hit", method: http.MethodPost, path: "/polls/abc/votes",
			hdr:      map[string]string{HeaderIdempotencyKey: "k-9", HeaderUserID: "u9"},
			result:   true,
			wantCall: &lookupCall{"user:u9", "abc", "k-9"}, wantReplay: true,
		},
		{
			name: "lookup error is a miss", method: http.MethodPost, path: "/polls/abc/votes",
			hdr:    map[string]string{HeaderIdempotencyKey: "k-9", HeaderUserID: "u9"},
			result: true, err: errors.New("db down"),
			wantCall: &lookupCall{"user:u9", "abc", "k-9"},
		},
		{
			name: "authoring has no poll id", method: http.MethodPut, path: "/polls",
			hdr: map[string]string{HeaderIdempotencyKey: "k-1", HeaderUserID: "u1"},
		},
		{
			name: "close is not replayable", method: http.MethodPost, path: "/polls/abc/close",
			hdr: map[string]string{HeaderIdempotencyKey: "k-1", HeaderUserID: "u1"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var got *lookupCall
			lookup := func(_ context.Context, voterKey, pollID, key string, now time.Time) (bool, error) {
				if now.IsZero() || now.Location() != time.UTC {
					t.Fatalf("lookup time must be UTC, got %v", now)
				}
				got = &lookupCall{voterKey, pollID, key}
				return tc.result, tc.err
			}

			r := gin.New()
			r.Use(Identity(IdentityOptions{Salt: "s"}))
			r.Use(IdempotencyValidator(IdempotencyOptions{}, lookup))
			var replay, bypass bool
			h := func(c *gin.Context) {
				replay, bypass = IsReplay(c), IsRateBypass(c)
				c.Status(http.StatusOK)
			}
			r.POST("/polls/:id/votes", h)
			r.POST("/polls/:id/close", h)
			r.PUT("/polls", h)

			req := httptest.NewRequest(tc.method, tc.path, nil)
			for k, v := range tc.hdr {
				req.Header.Set(k, v)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != http.StatusOK {
				t.Fatalf("status=%d", w.Code)
			}

			switch {
			case tc.wantCall == nil && got != nil:
				t.Fatalf("lookup should not run, got %+v", *got)
			case tc.wantCall != nil && (got == nil || *got != *tc.wantCall):
				t.Fatalf("lookup call = %+v; want %+v", got, *tc.wantCall)
			}
			if replay != tc.wantReplay || bypass != tc.wantReplay {
				t.Fatalf("replay=%v bypass=%v; want %v", replay, bypass, tc.wantReplay)
			}
		})
	}
}

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_RouteLabelsAndUnmatched(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Metrics())
	r.GET("/polls/:id", func(c *gin.Context) { c.String(http.StatusOK, "poll") })
	r.POST("/polls/:id/close", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	baseGet := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/polls/:id", "200"))
	baseClose := testutil.ToFloat64(httpReqs.WithLabelValues("POST", "/polls/:id/close", "204"))
	baseMiss := testutil.ToFloat64(httpReqs.WithLabelValues("GET", unmatchedRoute, "404"))

	for _, tc := range []struct {
		method, path string
		want         int
	}{
		{http.MethodGet, "/polls/p1", http.StatusOK},
		{http.MethodGet, "/polls/p2", http.StatusOK},
		{http.MethodPost, "/polls/p1/close", http.StatusNoContent},
		{http.MethodGet, "/wp-login.php", http.StatusNotFound},
	} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(tc.method, tc.path, nil))
		if w.Code != tc.want {
			t.Fatalf("%s %s -> %d; want %d", tc.method, tc.path, w.Code, tc.want)
		}
	}

	if got := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/polls/:id", "200")); got != baseGet+2 {
		t.Fatalf("poll view counter = %v; want %v", got, baseGet+2)
	}
	if got := testutil.ToFloat64(httpReqs.WithLabelValues("POST", "/polls/:id/close", "204")); got != baseClose+1 {
		t.Fatalf("close counter = %v; want %v", got, baseClose+1)
	}
	if got := testutil.ToFloat64(httpReqs.WithLabelValues("GET", unmatchedRoute, "404")); got != baseMiss+1 {
		t.Fatalf("unmatched counter = %v; want %v", got, baseMiss+1)
	}
	if httpReqs.DeleteLabelValues("GET", "/wp-login.php", "404") {
		t.Fatalf("raw URL must not become a label")
	}
	if v := testutil.ToFloat64(httpInflight); v != 0 {
		t.Fatalf("inflight = %v; want 0", v)
	}
}

func TestMetrics_StreamUsesOwnGauge(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Metrics())

	var inflightDuring, streamsDuring float64
	r.GET("/polls/:id/results/stream", func(c *gin.Context) {
		inflightDuring = testutil.ToFloat64(httpInflight)
		streamsDuring = testutil.ToFloat64(httpStreams)
		c.Header("Content-Type", "text/event-stream")
		c.String(http.StatusOK, "event:tally\ndata:{}\n\n")
	})

	base := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/polls/:id/results/stream", "200"))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/polls/p1/results/stream", nil))

	if streamsDuring != 1 || inflightDuring != 0 {
		t.Fatalf("during stream: streams=%v inflight=%v", streamsDuring, inflightDuring)
	}
	if v := testutil.ToFloat64(httpStreams); v != 0 {
		t.Fatalf("streams after close = %v; want 0", v)
	}
	if got := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/polls/:id/results/stream", "200")); got != base+1 {
		t.Fatalf("stream counter = %v; want %v", got, base+1)
	}
	if httpLat.DeleteLabelValues("GET", "/polls/:id/results/stream") {
		t.Fatalf("stream duration must not be observed")
	}
}

func TestIsStreamRoute(t *testing.T) {
	if !isStreamRoute("/api/v1/polls/:id/results/stream") {
		t.Fatalf("stream route not recognised")
	}
	if isStreamRoute("/api/v1/polls/:id/results") || isStreamRoute(unmatchedRoute) {
		t.Fatalf("non-stream route misclassified")
	}
}

package shield

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hazyhaar/constat/kit"
)

func TestSecurityHeaders_SetsAll(t *testing.T) {
	// WHAT: Every configured header lands on the response.
	// WHY: A single missing header silently weakens the whole surface.
	handler := SecurityHeaders(DefaultHeaders())(okHandler())
	req := httptest.NewRequest("GET", "/api/chains", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	want := map[string]string{
		"X-Content-Type-Options":  "nosniff",
		"X-Frame-Options":         "DENY",
		"Referrer-Policy":         "strict-origin-when-cross-origin",
		"Content-Security-Policy": "default-src 'none'; frame-ancestors 'none'",
		"Permissions-Policy":      "camera=(), microphone=(), geolocation=()",
	}
	for k, v := range want {
		if got := w.Header().Get(k); got != v {
			t.Errorf("%s: got %q, want %q", k, got, v)
		}
	}
}

func TestSecurityHeaders_EmptyFieldSkipped(t *testing.T) {
	// WHAT: An empty config field leaves that header unset.
	// WHY: Callers opt out of individual headers by blanking them.
	handler := SecurityHeaders(HeaderConfig{XContentTypeOptions: "nosniff"})(okHandler())
	req := httptest.NewRequest("GET", "/", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if got := w.Header().Get("X-Frame-Options"); got != "" {
		t.Errorf("X-Frame-Options should be unset, got %q", got)
	}
	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options: got %q", got)
	}
}

func TestTraceID_InjectsContextAndHeader(t *testing.T) {
	// WHAT: TraceID puts the same id in the context, the X-Trace-ID header,
	// and a per-request logger under LoggerKey.
	// WHY: Handlers and audit entries correlate through that id.
	var ctxTrace string
	var hadLogger bool
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctxTrace = kit.GetTraceID(r.Context())
		hadLogger = r.Context().Value(LoggerKey) != nil
		w.WriteHeader(http.StatusOK)
	})

	handler := TraceID(inner)
	req := httptest.NewRequest("GET", "/api/chains", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	header := w.Header().Get("X-Trace-ID")
	if header == "" || len(header) != 8 {
		t.Fatalf("expected 8-char hex trace id header, got %q", header)
	}
	if ctxTrace != header {
		t.Errorf("context trace id %q != header %q", ctxTrace, header)
	}
	if !hadLogger {
		t.Error("expected per-request logger in context")
	}
}

func TestGetLogger_FallsBackToDefault(t *testing.T) {
	// WHAT: GetLogger on a bare context returns slog.Default, not nil.
	// WHY: Handlers log unconditionally; a nil logger would panic.
	if GetLogger(httptest.NewRequest("GET", "/", nil).Context()) == nil {
		t.Fatal("GetLogger returned nil")
	}
}

func TestHeadToGet(t *testing.T) {
	// WHAT: HEAD requests reach the handler as GET.
	// WHY: Routes registered with r.Get would 405 on HEAD otherwise.
	var method string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		w.WriteHeader(http.StatusOK)
	})

	handler := HeadToGet(inner)
	req := httptest.NewRequest("HEAD", "/healthz", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if method != http.MethodGet {
		t.Errorf("handler saw method %q, want GET", method)
	}
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
}

func TestMaxBody_CapsReads(t *testing.T) {
	// WHAT: Bodies over the cap fail at read time; smaller ones pass.
	// WHY: Oversized payloads must die before the JSON decoder buffers them.
	var readErr error
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, readErr = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	})

	handler := MaxBody(16)(inner)

	req := httptest.NewRequest("POST", "/api/chains", strings.NewReader("under the cap"))
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if readErr != nil {
		t.Fatalf("small body should read cleanly: %v", readErr)
	}

	req = httptest.NewRequest("POST", "/api/chains", strings.NewReader(strings.Repeat("x", 64)))
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if readErr == nil {
		t.Fatal("oversized body should fail to read")
	}
}

func TestExtractIP(t *testing.T) {
	// WHAT: X-Forwarded-For wins over RemoteAddr, first hop only.
	// WHY: Rate limit buckets key on the real client, not the proxy.
	cases := []struct {
		name       string
		remoteAddr string
		xff        string
		want       string
	}{
		{"remote addr only", "203.0.113.9:4411", "", "203.0.113.9"},
		{"single forwarded", "10.0.0.1:80", "198.51.100.7", "198.51.100.7"},
		{"forwarded chain", "10.0.0.1:80", "198.51.100.7, 10.0.0.2", "198.51.100.7"},
		{"no port", "203.0.113.9", "", "203.0.113.9"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tc.remoteAddr
			if tc.xff != "" {
				req.Header.Set("X-Forwarded-For", tc.xff)
			}
			if got := ExtractIP(req); got != tc.want {
				t.Errorf("got %q, want %q", got, tc.want)
			}
		})
	}
}

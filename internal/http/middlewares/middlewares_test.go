package middlewares

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/geocoder89/rsvphub/internal/actorctx"
	"github.com/geocoder89/rsvphub/internal/auth"
	"github.com/gin-gonic/gin"
)

type fakeVerifier struct {
	VerifyFn func(token string) (*auth.Claims, error)
}

func (f fakeVerifier) VerifyAccessToken(token string) (*auth.Claims, error) {
	return f.VerifyFn(token)
}

func newAuthRouter(role string) *gin.Engine {
	gin.SetMode(gin.TestMode)

	m := NewAuthMiddleware(fakeVerifier{VerifyFn: func(token string) (*auth.Claims, error) {
		if token != "good" {
			return nil, errors.New("bad token")
		}
		return &auth.Claims{UserID: "u1", Role: role}, nil
	}})

	r := gin.New()
	r.Use(RequestID())
	r.GET("/me", m.RequireAuth(), func(c *gin.Context) {
		id, _ := UserIDFromContext(c)
		c.String(http.StatusOK, id+"|"+actorctx.UserID(c.Request.Context()))
	})
	r.GET("/admin", m.RequireAuth(), m.RequireRole(auth.RoleAdmin), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return r
}

func do(r http.Handler, method, path string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRequireAuth(t *testing.T) {
	r := newAuthRouter(auth.RoleUser)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"not bearer", "Basic abc", http.StatusUnauthorized},
		{"empty token", "Bearer ", http.StatusUnauthorized},
		{"bad token", "Bearer nope", http.StatusUnauthorized},
		{"good token", "Bearer good", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(r, http.MethodGet, "/me", map[string]string{"Authorization": tt.header})
			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d body=%s", w.Code, tt.want, w.Body.String())
			}
			if tt.want == http.StatusUnauthorized && !strings.Contains(w.Body.String(), `"code":"unauthenticated"`) {
				t.Fatalf("body = %s", w.Body.String())
			}
		})
	}

	w := do(r, http.MethodGet, "/me", map[string]string{"Authorization": "Bearer good"})
	if w.Body.String() != "u1|u1" {
		t.Fatalf("identity not propagated: %q", w.Body.String())
	}
}

func TestRequireRole(t *testing.T) {
	if w := do(newAuthRouter(auth.RoleUser), http.MethodGet, "/admin", map[string]string{"Authorization": "Bearer good"}); w.Code != http.StatusForbidden {
		t.Fatalf("user on admin route = %d, want 403", w.Code)
	}
	if w := do(newAuthRouter(auth.RoleAdmin), http.MethodGet, "/admin", map[string]string{"Authorization": "Bearer good"}); w.Code != http.StatusNoContent {
		t.Fatalf("admin on admin route = %d, want 204", w.Code)
	}
}

func TestRateLimiter(t *testing.T) {
	gin.SetMode(gin.TestMode)

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(2, time.Minute)
	rl.now = func() time.Time { return now }

	r := gin.New()
	r.GET("/x", rl.RateLimiterMiddleware(func(c *gin.Context) string { return c.GetHeader("X-Key") }), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	hdr := map[string]string{"X-Key": "a"}
	for i := 0; i < 2; i++ {
		if w := do(r, http.MethodGet, "/x", hdr); w.Code != http.StatusOK {
			t.Fatalf("request %d = %d", i, w.Code)
		}
	}

	w := do(r, http.MethodGet, "/x", hdr)
	if w.Code != http.StatusTooManyRequests || w.Header().Get("Retry-After") != "60" {
		t.Fatalf("third = %d retry-after=%q", w.Code, w.Header().Get("Retry-After"))
	}
	if w := do(r, http.MethodGet, "/x", map[string]string{"X-Key": "b"}); w.Code != http.StatusOK {
		t.Fatalf("other key limited: %d", w.Code)
	}

	now = now.Add(61 * time.Second)
	if w := do(r, http.MethodGet, "/x", hdr); w.Code != http.StatusOK {
		t.Fatalf("after window = %d", w.Code)
	}
}

func TestRequireJSON(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(RequireJSON())
	r.POST("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	post := func(body, ct string) int {
		req := httptest.NewRequest(http.MethodPost, "/x", strings.NewReader(body))
		if ct != "" {
			req.Header.Set("Content-Type", ct)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	if code := post(`{}`, "text/plain"); code != http.StatusUnsupportedMediaType {
		t.Fatalf("text/plain = %d", code)
	}
	if code := post(`{}`, "application/json; charset=utf-8"); code != http.StatusOK {
		t.Fatalf("json = %d", code)
	}
	if code := post("", ""); code != http.StatusOK {
		t.Fatalf("empty body = %d", code)
	}
}

func TestRequestIDEchoed(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(RequestID())
	r.GET("/x", func(c *gin.Context) { c.String(http.StatusOK, c.GetString(CtxRequestID)) })

	w := do(r, http.MethodGet, "/x", map[string]string{"X-Request-Id": "req-1"})
	if w.Header().Get("X-Request-Id") != "req-1" || w.Body.String() != "req-1" {
		t.Fatalf("request id not propagated: header=%q body=%q", w.Header().Get("X-Request-Id"), w.Body.String())
	}

	w = do(r, http.MethodGet, "/x", nil)
	if w.Header().Get("X-Request-Id") == "" {
		t.Fatalf("expected generated request id")
	}
}

func TestCORS(t *testing.T) {
	gin.SetMode(gin.TestMode)

	newRouter := func(origins ...string) *gin.Engine {
		r := gin.New()
		r.Use(CORS(origins))
		r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })
		return r
	}

	listed := newRouter("https://app.example.com")

	w := do(listed, http.MethodGet, "/x", map[string]string{"Origin": "https://app.example.com"})
	if w.Header().Get("Access-Control-Allow-Origin") != "https://app.example.com" || w.Header().Get("Access-Control-Allow-Credentials") != "true" {
		t.Fatalf("listed origin headers = %v", w.Header())
	}

	w = do(listed, http.MethodOptions, "/x", map[string]string{
		"Origin":                        "https://evil.example.com",
		"Access-Control-Request-Method": "POST",
	})
	if w.Code != http.StatusForbidden {
		t.Fatalf("unlisted preflight = %d, want 403", w.Code)
	}

	w = do(listed, http.MethodGet, "/x", map[string]string{"Origin": "https://evil.example.com"})
	if w.Code != http.StatusOK || w.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatalf("unlisted simple request = %d allow=%q", w.Code, w.Header().Get("Access-Control-Allow-Origin"))
	}

	w = do(newRouter("*"), http.MethodOptions, "/x", map[string]string{
		"Origin":                        "https://any.example.com",
		"Access-Control-Request-Method": "POST",
	})
	if w.Code != http.StatusNoContent || w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("wildcard preflight = %d allow=%q", w.Code, w.Header().Get("Access-Control-Allow-Origin"))
	}
	if w.Header().Get("Access-Control-Allow-Credentials") != "" {
		t.Fatalf("wildcard must not allow credentials")
	}
}

func TestMaxBodyBytes(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(MaxBodyBytes(8))
	r.POST("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodPost, "/x", strings.NewReader(`{"eventId":"too-long"}`))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("oversize = %d, want 413", w.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/x", strings.NewReader(`{}`))
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("small body = %d", w.Code)
	}
}

func TestSecurityHeaders(t *testing.T) {
	gin.SetMode(gin.TestMode)

	newRouter := func(dev bool) *gin.Engine {
		r := gin.New()
		r.Use(SecurityHeaders(dev))
		r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })
		r.POST("/x", func(c *gin.Context) { c.Status(http.StatusOK) })
		return r
	}

	w := do(newRouter(false), http.MethodPost, "/x", nil)
	if w.Header().Get("Strict-Transport-Security") == "" || w.Header().Get("Cache-Control") != "no-store" {
		t.Fatalf("prod POST headers = %v", w.Header())
	}

	w = do(newRouter(true), http.MethodGet, "/x", nil)
	if w.Header().Get("Strict-Transport-Security") != "" || w.Header().Get("Cache-Control") != "" {
		t.Fatalf("dev GET headers = %v", w.Header())
	}
	if w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatalf("missing nosniff")
	}
}

func TestRequestIDRejectsUnsafeValues(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(RequestID())
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	for _, id := range []string{"has space", strings.Repeat("a", 65)} {
		w := do(r, http.MethodGet, "/x", map[string]string{"X-Request-Id": id})
		if got := w.Header().Get("X-Request-Id"); got == id || got == "" {
			t.Fatalf("id %q should be replaced, got %q", id, got)
		}
	}
}

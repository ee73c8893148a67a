package middleware

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/gin-gonic/gin"

	"github.com/stemsi/exam-orchestrator/internal/service"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// stubAuth accepts tokens of the form "<type>:<anything>" and rejects the rest.
type stubAuth struct {
	loginErr error
}

func (s stubAuth) ValidateToken(token string) (*service.Claims, error) {
	typ, _, ok := strings.Cut(token, ":")
	if !ok {
		return nil, errors.New("malformed token")
	}
	claims := &service.Claims{TokenType: service.TokenType(typ), UserID: 11}
	claims.ID = "jti-1"
	return claims, nil
}

func (s stubAuth) ValidateStudentSession(context.Context, int, string) error {
	return s.loginErr
}

func serve(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRequireToken(t *testing.T) {
	tests := []struct {
		name   string
		guard  func(TokenValidator) gin.HandlerFunc
		header string
		query  string
		want   int
	}{
		{"student ok", RequireStudentJWT, "Bearer student:x", "", http.StatusOK},
		{"staff on student route", RequireStudentJWT, "Bearer staff:x", "", http.StatusForbidden},
		{"missing", RequireStudentJWT, "", "", http.StatusUnauthorized},
		{"invalid", RequireStudentJWT, "Bearer garbage", "", http.StatusUnauthorized},
		{"wrong scheme", RequireStudentJWT, "Basic student:x", "", http.StatusUnauthorized},
		{"staff ok", RequireStaffJWT, "Bearer staff:x", "", http.StatusOK},
		{"staff via query", RequireStaffJWT, "", "staff:x", http.StatusOK},
		{"student on staff route", RequireStaffJWT, "Bearer student:x", "", http.StatusForbidden},
		{"ws query", RequireStudentWSAuth, "", "student:x", http.StatusOK},
		{"ws header only", RequireStudentWSAuth, "Bearer student:x", "", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := gin.New()
			r.GET("/", tt.guard(stubAuth{}), func(c *gin.Context) {
				if GetClaims(c) == nil {
					t.Error("claims not set")
				}
				c.Status(http.StatusOK)
			})

			target := "/"
			if tt.query != "" {
				target += "?token=" + tt.query
			}
			req := httptest.NewRequest(http.MethodGet, target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			if w := serve(r, req); w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestCheckSingleDeviceSession(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		token string
		want  int
	}{
		{"current login", nil, "student:x", http.StatusOK},
		{"superseded", service.ErrSessionInvalidated, "student:x", http.StatusUnauthorized},
		{"redis down", errors.New("dial tcp: refused"), "student:x", http.StatusInternalServerError},
		{"staff skips check", service.ErrSessionInvalidated, "staff:x", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			auth := stubAuth{loginErr: tt.err}
			r := gin.New()
			r.GET("/", func(c *gin.Context) {
				claims, _ := auth.ValidateToken(tt.token)
				c.Set(ContextKeyClaims, claims)
			}, CheckSingleDeviceSession(auth), func(c *gin.Context) { c.Status(http.StatusOK) })

			if w := serve(r, httptest.NewRequest(http.MethodGet, "/", nil)); w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestRateLimiterPerIP(t *testing.T) {
	rl := NewRateLimiter(0.001, 2)

	for i := 0; i < 2; i++ {
		if !rl.Allow("10.0.0.1") {
			t.Fatalf("request %d rejected within burst", i)
		}
	}
	if rl.Allow("10.0.0.1") {
		t.Error("request beyond burst allowed")
	}
	if !rl.Allow("10.0.0.2") {
		t.Error("other IP shares the bucket")
	}
}

func TestRateLimiterMiddleware(t *testing.T) {
	rl := NewRateLimiter(0.001, 1)
	r := gin.New()
	r.GET("/", rl.Middleware(), func(c *gin.Context) { c.Status(http.StatusOK) })

	if w := serve(r, httptest.NewRequest(http.MethodGet, "/", nil)); w.Code != http.StatusOK {
		t.Fatalf("first status = %d", w.Code)
	}
	if w := serve(r, httptest.NewRequest(http.MethodGet, "/", nil)); w.Code != http.StatusTooManyRequests {
		t.Errorf("second status = %d", w.Code)
	}
}

func TestBrotli(t *testing.T) {
	long := strings.Repeat("exam orchestrator ", 200)
	r := gin.New()
	r.Use(Brotli())
	r.GET("/long", func(c *gin.Context) { c.String(http.StatusOK, long) })
	r.GET("/short", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	t.Run("compresses large bodies", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/long", nil)
		req.Header.Set("Accept-Encoding", "gzip, br")
		w := serve(r, req)

		if got := w.Header().Get("Content-Encoding"); got != "br" {
			t.Fatalf("Content-Encoding = %q", got)
		}
		body, err := io.ReadAll(brotli.NewReader(w.Body))
		if err != nil {
			t.Fatal(err)
		}
		if string(body) != long {
			t.Errorf("decoded %d bytes, want %d", len(body), len(long))
		}
	})

	t.Run("passes short bodies through", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/short", nil)
		req.Header.Set("Accept-Encoding", "br")
		w := serve(r, req)

		if w.Header().Get("Content-Encoding") != "" || w.Body.String() != "ok" {
			t.Errorf("encoding %q body %q", w.Header().Get("Content-Encoding"), w.Body.String())
		}
	})

	t.Run("respects Accept-Encoding", func(t *testing.T) {
		w := serve(r, httptest.NewRequest(http.MethodGet, "/long", nil))
		if w.Header().Get("Content-Encoding") != "" || w.Body.String() != long {
			t.Error("compressed without br in Accept-Encoding")
		}
	})

	t.Run("skips event streams", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/long", nil)
		req.Header.Set("Accept-Encoding", "br")
		req.Header.Set("Accept", "text/event-stream")
		if w := serve(r, req); w.Header().Get("Content-Encoding") != "" {
			t.Error("event stream compressed")
		}
	})
}

func TestNoStore(t *testing.T) {
	r := gin.New()
	r.GET("/", NoStore(), func(c *gin.Context) { c.Status(http.StatusOK) })

	w := serve(r, httptest.NewRequest(http.MethodGet, "/", nil))
	if !strings.Contains(w.Header().Get("Cache-Control"), "no-store") {
		t.Errorf("Cache-Control = %q", w.Header().Get("Cache-Control"))
	}
}

package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seatrack-dev/seatrack/internal/layout"
	"github.com/seatrack-dev/seatrack/internal/registry"
)

func newTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	return gin.New()
}

func TestRequestID_GeneratesAndEchoes(t *testing.T) {
	r := newTestRouter()
	r.Use(RequestID())
	r.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, GetRequestID(c))
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))

	id := w.Header().Get(RequestIDHeader)
	assert.NotEmpty(t, id)
	assert.Equal(t, id, w.Body.String())
}

func TestRequestID_PreservesUpstreamID(t *testing.T) {
	r := newTestRouter()
	r.Use(RequestID())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set(RequestIDHeader, "proxy-trace-1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, "proxy-trace-1", w.Header().Get(RequestIDHeader))
}

func TestRequestSizeLimiter_RejectsOversizedBody(t *testing.T) {
	r := newTestRouter()
	r.Use(RequestSizeLimiter(16))
	r.POST("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest("POST", "/", strings.NewReader(strings.Repeat("x", 64)))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Contains(t, w.Body.String(), "payload_too_large")
}

func TestRequestSizeLimiter_PassesSmallBody(t *testing.T) {
	r := newTestRouter()
	r.Use(RequestSizeLimiter(1024))
	r.POST("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest("POST", "/", strings.NewReader("tiny"))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimiter_EnforcesBurst(t *testing.T) {
	r := newTestRouter()
	rl := NewRateLimiter(1, 2)
	r.Use(rl.Middleware())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))
		codes = append(codes, w.Code)
	}

	assert.Equal(t, http.StatusOK, codes[0])
	assert.Equal(t, http.StatusOK, codes[1])
	assert.Equal(t, http.StatusTooManyRequests, codes[2])
}

func newAuthFixture(t *testing.T) *Auth {
	t.Helper()
	reg, err := registry.New(registry.Options{
		Layout:          layout.Layout{Root: t.TempDir()},
		ManagerPassword: "manager",
		FailLimit:       5,
		FailWindow:      time.Minute,
		FailCooldown:    time.Minute,
	})
	require.NoError(t, err)
	_, err = reg.CreateEvent("Race", "", "admin-pw", "", "", true)
	require.NoError(t, err)
	return NewAuth(reg, 0)
}

func TestRequireAdmin(t *testing.T) {
	auth := newAuthFixture(t)
	r := newTestRouter()
	r.GET("/check", auth.RequireAdmin(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"eid": EID(c)})
	})

	cases := []struct {
		name   string
		url    string
		pwd    string
		status int
	}{
		{"event password", "/check?eid=1", "admin-pw", http.StatusOK},
		{"manager password works", "/check?eid=1", "manager", http.StatusOK},
		{"wrong password", "/check?eid=1", "nope", http.StatusUnauthorized},
		{"missing password", "/check?eid=1", "", http.StatusUnauthorized},
		{"unknown event", "/check?eid=9", "admin-pw", http.StatusUnauthorized},
		{"bad eid", "/check?eid=abc", "admin-pw", http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", tc.url, nil)
			if tc.pwd != "" {
				req.Header.Set(AdminPasswordHeader, tc.pwd)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tc.status, w.Code)
		})
	}
}

func TestRequireManager(t *testing.T) {
	auth := newAuthFixture(t)
	r := newTestRouter()
	r.GET("/m", auth.RequireManager(), func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest("GET", "/m", nil)
	req.Header.Set(ManagerPasswordHeader, "manager")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	req = httptest.NewRequest("GET", "/m", nil)
	req.Header.Set(ManagerPasswordHeader, "wrong")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestTimeout_AllowsFastRequests(t *testing.T) {
	r := newTestRouter()
	r.Use(Timeout())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

package auth

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeneratePassword(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		pw := GeneratePassword()
		seen[pw] = true

		parts := strings.Split(pw, "-")
		require.Len(t, parts, 3, pw)
		for _, part := range parts {
			assert.Contains(t, climbWords, part)
		}
	}
	assert.GreaterOrEqual(t, len(seen), 3, "passwords should vary")
}

func TestLogin(t *testing.T) {
	tests := []struct {
		name       string
		configured string
		given      string
		ok         bool
	}{
		{"correct", "crimp-jug-dyno", "crimp-jug-dyno", true},
		{"wrong", "crimp-jug-dyno", "crimp-jug", false},
		{"case sensitive", "crimp-jug-dyno", "CRIMP-JUG-DYNO", false},
		{"no password configured", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := New(tt.configured)
			token, ok := a.Login(tt.given)
			assert.Equal(t, tt.ok, ok)
			if !tt.ok {
				assert.Empty(t, token)
				return
			}
			assert.Len(t, token, 64)
			assert.True(t, a.ValidateSession(token))
		})
	}
}

func TestSessionLifecycle(t *testing.T) {
	clock := clockwork.NewFakeClock()
	a := NewWithClock("pw", clock)

	assert.False(t, a.ValidateSession("nonexistent-token"))

	first, _ := a.Login("pw")
	second, _ := a.Login("pw")
	assert.NotEqual(t, first, second)

	a.Logout(first)
	assert.False(t, a.ValidateSession(first))
	assert.True(t, a.ValidateSession(second), "logout only ends its own session")

	clock.Advance(SessionExpiry - time.Minute)
	assert.True(t, a.ValidateSession(second))

	clock.Advance(2 * time.Minute)
	assert.False(t, a.ValidateSession(second))
	a.mu.RLock()
	_, kept := a.sessions[second]
	a.mu.RUnlock()
	assert.False(t, kept, "expired sessions are pruned")
}

func TestIsTrusted(t *testing.T) {
	a := New("pw")
	token, _ := a.Login("pw")

	tests := []struct {
		name   string
		cookie *http.Cookie
		want   bool
	}{
		{"operator", &http.Cookie{Name: CookieName, Value: token}, true},
		{"no cookie", nil, false},
		{"unknown token", &http.Cookie{Name: CookieName, Value: "forged"}, false},
		{"other cookie", &http.Cookie{Name: "session", Value: token}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/state/0", nil)
			if tt.cookie != nil {
				req.AddCookie(tt.cookie)
			}
			assert.Equal(t, tt.want, a.IsTrusted(req))
		})
	}
}

func TestRequireOperator(t *testing.T) {
	a := New("pw")
	token, _ := a.Login("pw")
	handler := a.RequireOperator(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodDelete, "/api/boxes/0", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: token})
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/api/boxes/0", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"code":"UNAUTHORIZED","error":"Unauthorized - operator login required"}`, rr.Body.String())
}

func TestSessionCookies(t *testing.T) {
	rr := httptest.NewRecorder()
	SetSessionCookie(rr, "tok")
	cookies := rr.Result().Cookies()
	require.Len(t, cookies, 1)
	c := cookies[0]
	assert.Equal(t, CookieName, c.Name)
	assert.Equal(t, "tok", c.Value)
	assert.Equal(t, "/", c.Path)
	assert.True(t, c.HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, c.SameSite)
	assert.Equal(t, int(SessionExpiry.Seconds()), c.MaxAge)

	rr = httptest.NewRecorder()
	ClearSessionCookie(rr)
	cookies = rr.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, CookieName, cookies[0].Name)
	assert.Equal(t, -1, cookies[0].MaxAge)
}

func TestConcurrentSessions(t *testing.T) {
	a := New("pw")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			token, _ := a.Login("pw")
			a.ValidateSession(token)
			a.Logout(token)
		}()
	}
	wg.Wait()

	a.mu.RLock()
	defer a.mu.RUnlock()
	assert.Empty(t, a.sessions)
}

package mosapi

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

// staticCredentials satisfies CredentialSource with fixed values.
type staticCredentials struct {
	username string
	password string
}

func (s staticCredentials) Username(context.Context, string) (string, error) {
	return s.username, nil
}

func (s staticCredentials) Password(context.Context, string) (string, error) {
	return s.password, nil
}

// mosapiServer builds an httptest server that mimics MoSAPI's login/logout
// plus whatever extra handlers a test registers.
func mosapiServer(t *testing.T, handlers map[string]http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	if _, ok := handlers["POST /ry/{tld}/login"]; !ok {
		mux.HandleFunc("POST /ry/{tld}/login", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Set-Cookie", "id=abc; expires=Fri, 31 Dec 2027 23:59:59 GMT; path=/")
			w.WriteHeader(http.StatusOK)
		})
	}
	for pattern, handler := range handlers {
		mux.HandleFunc(pattern, handler)
	}
	return httptest.NewServer(mux)
}

func newTestClient(t *testing.T, baseURL string, cache SessionCache) *Client {
	t.Helper()
	transport, err := NewTransport(nil, nil, WithHTTPClient(http.DefaultClient))
	if err != nil {
		t.Fatalf("NewTransport failed: %v", err)
	}
	c, err := NewClient(Config{
		BaseURL:     baseURL,
		EntityType:  EntityTypeRegistry,
		Credentials: staticCredentials{username: "user-example", password: "hunter2"},
		Cache:       cache,
		Transport:   transport,
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return c
}

func TestLoginStoresCookie(t *testing.T) {
	var gotAuth string
	srv := mosapiServer(t, map[string]http.HandlerFunc{
		"POST /ry/{tld}/login": func(w http.ResponseWriter, r *http.Request) {
			gotAuth = r.Header.Get("Authorization")
			w.Header().Set("Set-Cookie", "id=abc123; path=/; HttpOnly")
			w.WriteHeader(http.StatusOK)
		},
	})
	defer srv.Close()

	cache := NewMemoryCache()
	c := newTestClient(t, srv.URL, cache)

	if err := c.Login(context.Background(), "example"); err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	wantAuth := "Basic " + base64.StdEncoding.EncodeToString([]byte("user-example:hunter2"))
	if gotAuth != wantAuth {
		t.Errorf("Authorization = %q, want %q", gotAuth, wantAuth)
	}
	cookie, ok := cache.Get(context.Background(), "example")
	if !ok || cookie != "id=abc123" {
		t.Errorf("cached cookie = %q (present=%v), want id=abc123", cookie, ok)
	}
}

func TestLoginStatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		check  func(error) bool
	}{
		{"invalid credentials", http.StatusUnauthorized, IsInvalidCredentials},
		{"ip not allowed", http.StatusForbidden, IsIPNotAllowed},
		{"rate limited", http.StatusTooManyRequests, IsRateLimited},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := mosapiServer(t, map[string]http.HandlerFunc{
				"POST /ry/{tld}/login": func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(tt.status)
				},
			})
			defer srv.Close()

			cache := NewMemoryCache()
			c := newTestClient(t, srv.URL, cache)
			err := c.Login(context.Background(), "example")
			if err == nil || !tt.check(err) {
				t.Fatalf("Login error = %v, want kind check to pass", err)
			}
			if _, ok := cache.Get(context.Background(), "example"); ok {
				t.Error("cache was mutated by a failed login")
			}
		})
	}
}

func TestLoginUnexpectedStatus(t *testing.T) {
	srv := mosapiServer(t, map[string]http.HandlerFunc{
		"POST /ry/{tld}/login": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		},
	})
	defer srv.Close()

	c := newTestClient(t, srv.URL, NewMemoryCache())
	err := c.Login(context.Background(), "example")
	if err == nil || !strings.Contains(err.Error(), "Login failed with unexpected status code: 500") {
		t.Fatalf("Login error = %v, want unexpected-status message", err)
	}
}

func TestLoginMissingSetCookie(t *testing.T) {
	srv := mosapiServer(t, map[string]http.HandlerFunc{
		"POST /ry/{tld}/login": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		},
	})
	defer srv.Close()

	cache := NewMemoryCache()
	c := newTestClient(t, srv.URL, cache)
	err := c.Login(context.Background(), "example")
	if err == nil || !strings.Contains(err.Error(), "did not return a Set-Cookie header") {
		t.Fatalf("Login error = %v, want missing-cookie message", err)
	}
	if _, ok := cache.Get(context.Background(), "example"); ok {
		t.Error("cache must not be mutated when 200 arrives without a cookie")
	}
}

func TestLoginSetCookieWithoutID(t *testing.T) {
	srv := mosapiServer(t, map[string]http.HandlerFunc{
		"POST /ry/{tld}/login": func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Set-Cookie", "session=xyz; path=/")
			w.WriteHeader(http.StatusOK)
		},
	})
	defer srv.Close()

	c := newTestClient(t, srv.URL, NewMemoryCache())
	err := c.Login(context.Background(), "example")
	if err == nil || !strings.Contains(err.Error(), "Could not parse 'id' from Set-Cookie header") {
		t.Fatalf("Login error = %v, want cookie-parse message", err)
	}
}

func TestLogoutClearsCacheOnEveryPath(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr bool
	}{
		{"success", http.StatusOK, false},
		{"already expired", http.StatusUnauthorized, false},
		{"ip not allowed", http.StatusForbidden, true},
		{"server error", http.StatusInternalServerError, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotCookie string
			srv := mosapiServer(t, map[string]http.HandlerFunc{
				"POST /ry/{tld}/logout": func(w http.ResponseWriter, r *http.Request) {
					gotCookie = r.Header.Get("Cookie")
					w.WriteHeader(tt.status)
				},
			})
			defer srv.Close()

			cache := NewMemoryCache()
			_ = cache.Put(context.Background(), "example", "id=live")
			c := newTestClient(t, srv.URL, cache)

			err := c.Logout(context.Background(), "example")
			if (err != nil) != tt.wantErr {
				t.Fatalf("Logout error = %v, wantErr %v", err, tt.wantErr)
			}
			if gotCookie != "id=live" {
				t.Errorf("Cookie header = %q, want id=live", gotCookie)
			}
			if _, ok := cache.Get(context.Background(), "example"); ok {
				t.Error("cache entry survived logout")
			}
		})
	}
}

// Cold start: no cached cookie, so the client logs in before the first
// attempt and the request succeeds with the fresh cookie.
func TestRequestColdStartLogin(t *testing.T) {
	var logins, stateCalls atomic.Int32
	srv := mosapiServer(t, map[string]http.HandlerFunc{
		"POST /ry/{tld}/login": func(w http.ResponseWriter, r *http.Request) {
			logins.Add(1)
			w.Header().Set("Set-Cookie", "id=abc; expires=Fri, 31 Dec 2027 23:59:59 GMT")
			w.WriteHeader(http.StatusOK)
		},
		"GET /ry/{tld}/v2/monitoring/state": func(w http.ResponseWriter, r *http.Request) {
			stateCalls.Add(1)
			if r.Header.Get("Cookie") != "id=abc" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			w.Write([]byte(`{"tld":"example","status":"Up"}`))
		},
	})
	defer srv.Close()

	cache := NewMemoryCache()
	c := newTestClient(t, srv.URL, cache)

	resp, err := c.GetJSON(context.Background(), "example", "v2/monitoring/state", nil, nil)
	if err != nil {
		t.Fatalf("GetJSON failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if !strings.Contains(resp.Body, `"status":"Up"`) {
		t.Errorf("body = %q, want verbatim server response", resp.Body)
	}
	if logins.Load() != 1 {
		t.Errorf("logins = %d, want exactly 1", logins.Load())
	}
	if stateCalls.Load() != 1 {
		t.Errorf("state calls = %d, want 1", stateCalls.Load())
	}
	if cookie, ok := cache.Get(context.Background(), "example"); !ok || cookie != "id=abc" {
		t.Errorf("cached cookie = %q, want id=abc", cookie)
	}
}

// Expired session: the cached cookie earns a 401, a single re-login earns a
// fresh one, and the retry succeeds.
func TestRequestReloginOn401(t *testing.T) {
	var logins atomic.Int32
	srv := mosapiServer(t, map[string]http.HandlerFunc{
		"POST /ry/{tld}/login": func(w http.ResponseWriter, r *http.Request) {
			logins.Add(1)
			w.Header().Set("Set-Cookie", "id=fresh")
			w.WriteHeader(http.StatusOK)
		},
		"GET /ry/{tld}/v2/monitoring/state": func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Cookie") != "id=fresh" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			w.Write([]byte(`{"tld":"example","status":"Up"}`))
		},
	})
	defer srv.Close()

	cache := NewMemoryCache()
	_ = cache.Put(context.Background(), "example", "id=stale")
	c := newTestClient(t, srv.URL, cache)

	resp, err := c.GetJSON(context.Background(), "example", "v2/monitoring/state", nil, nil)
	if err != nil {
		t.Fatalf("GetJSON failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if logins.Load() != 1 {
		t.Errorf("logins = %d, want exactly 1", logins.Load())
	}
}

// Persistent 401: the retry after re-login also fails, which is terminal.
func TestRequestPersistent401(t *testing.T) {
	var logins atomic.Int32
	srv := mosapiServer(t, map[string]http.HandlerFunc{
		"POST /ry/{tld}/login": func(w http.ResponseWriter, r *http.Request) {
			logins.Add(1)
			w.Header().Set("Set-Cookie", "id=new")
			w.WriteHeader(http.StatusOK)
		},
		"GET /ry/{tld}/v2/monitoring/state": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		},
	})
	defer srv.Close()

	cache := NewMemoryCache()
	_ = cache.Put(context.Background(), "example", "id=old")
	c := newTestClient(t, srv.URL, cache)

	_, err := c.GetJSON(context.Background(), "example", "v2/monitoring/state", nil, nil)
	if err == nil || !IsUnauthorized(err) {
		t.Fatalf("error = %v, want Unauthorized", err)
	}
	if !strings.Contains(err.Error(), "Authentication failed even after re-login.") {
		t.Errorf("error message = %q", err.Error())
	}
	if logins.Load() != 1 {
		t.Errorf("logins = %d, want at most one re-login", logins.Load())
	}
}

func TestRequestRateLimitedRelogin(t *testing.T) {
	srv := mosapiServer(t, map[string]http.HandlerFunc{
		"POST /ry/{tld}/login": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		},
		"GET /ry/{tld}/v2/monitoring/state": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		},
	})
	defer srv.Close()

	cache := NewMemoryCache()
	_ = cache.Put(context.Background(), "example", "id=old")
	c := newTestClient(t, srv.URL, cache)

	_, err := c.GetJSON(context.Background(), "example", "v2/monitoring/state", nil, nil)
	if err == nil || !strings.Contains(err.Error(), "Try running after some time") {
		t.Fatalf("error = %v, want rate-limit hint", err)
	}
	if !IsRateLimited(err) {
		t.Error("wrapped cause should still satisfy IsRateLimited")
	}
}

func TestRequestReloginFailure(t *testing.T) {
	srv := mosapiServer(t, map[string]http.HandlerFunc{
		"POST /ry/{tld}/login": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		},
	})
	defer srv.Close()

	c := newTestClient(t, srv.URL, NewMemoryCache())
	_, err := c.GetJSON(context.Background(), "example", "v2/monitoring/state", nil, nil)
	if err == nil || !strings.Contains(err.Error(), "Automatic re-login failed.") {
		t.Fatalf("error = %v, want re-login failure", err)
	}
	if !IsInvalidCredentials(err) {
		t.Error("wrapped cause should still satisfy IsInvalidCredentials")
	}
}

// Non-401 statuses pass through untouched; interpretation belongs to the
// facades.
func TestRequestNon401PassesThrough(t *testing.T) {
	srv := mosapiServer(t, map[string]http.HandlerFunc{
		"GET /ry/{tld}/v2/monitoring/state": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"resultCode":500,"message":"maintenance"}`))
		},
	})
	defer srv.Close()

	cache := NewMemoryCache()
	_ = cache.Put(context.Background(), "example", "id=live")
	c := newTestClient(t, srv.URL, cache)

	resp, err := c.GetJSON(context.Background(), "example", "v2/monitoring/state", nil, nil)
	if err != nil {
		t.Fatalf("GetJSON failed: %v", err)
	}
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503 passed through verbatim", resp.StatusCode)
	}
}

func TestBuildURLSlashHandling(t *testing.T) {
	transport, _ := NewTransport(nil, nil, WithHTTPClient(http.DefaultClient))
	c, err := NewClient(Config{
		BaseURL:     "https://mosapi.example.net/mosapi/v1/",
		EntityType:  EntityTypeRegistry,
		Credentials: staticCredentials{},
		Transport:   transport,
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	tests := []struct {
		path string
		want string
	}{
		{"login", "https://mosapi.example.net/mosapi/v1/ry/example/login"},
		{"/login", "https://mosapi.example.net/mosapi/v1/ry/example/login"},
		{"v2/monitoring/state", "https://mosapi.example.net/mosapi/v1/ry/example/v2/monitoring/state"},
	}
	for _, tt := range tests {
		if got := c.buildURL("example", tt.path, nil); got != tt.want {
			t.Errorf("buildURL(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestParseCookieValue(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"id=abc; expires=Fri, 31 Dec 2027 23:59:59 GMT; path=/", "id=abc", false},
		{"path=/; id=xyz", "id=xyz", false},
		{"id=", "id=", false},
		{"session=abc; path=/", "", true},
	}
	for _, tt := range tests {
		got, err := parseCookieValue(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseCookieValue(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("parseCookieValue(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

package adminapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/vshulcz/synapse-stats-exporter/internal/config"
	"github.com/vshulcz/synapse-stats-exporter/internal/domain"
)

const testToken = "syt_admin"

func synapseHandler(t *testing.T, rooms, users string) http.Handler {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc(roomsPath, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.RawQuery != roomsQuery {
			t.Errorf("rooms query=%q", r.URL.RawQuery)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer "+testToken {
			t.Errorf("Authorization=%q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, rooms)
	})
	mux.HandleFunc(usersPath, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.RawQuery != usersQuery {
			t.Errorf("users query=%q", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, users)
	})
	return mux
}

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(srv.URL+"/", srv.Client(), testToken)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestClient_Fetch(t *testing.T) {
	c := newTestClient(t, synapseHandler(t,
		`{"rooms":[],"offset":0,"total_rooms":42}`,
		`{"users":[],"next_token":"10","total":7}`,
	))

	got, err := c.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if got != (domain.Sample{Rooms: 42, Users: 7}) {
		t.Fatalf("Fetch=%+v want 42/7", got)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestClient_FetchErrors(t *testing.T) {
	tests := []struct {
		name       string
		handler    http.HandlerFunc
		wantKind   error
		wantStatus int
		wantMsg    string
	}{
		{
			name:       "unauthorized",
			handler:    func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusUnauthorized) },
			wantKind:   domain.ErrAuth,
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "forbidden non admin",
			handler:    func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusForbidden) },
			wantKind:   domain.ErrAuth,
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "server error",
			handler:    func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusInternalServerError) },
			wantKind:   domain.ErrProtocol,
			wantStatus: http.StatusInternalServerError,
		},
		{
			name:       "malformed json",
			handler:    func(w http.ResponseWriter, _ *http.Request) { _, _ = io.WriteString(w, `{"total_rooms":`) },
			wantKind:   domain.ErrProtocol,
			wantStatus: http.StatusOK,
			wantMsg:    "decode",
		},
		{
			name:     "missing field",
			handler:  func(w http.ResponseWriter, _ *http.Request) { _, _ = io.WriteString(w, `{"rooms":[]}`) },
			wantKind: domain.ErrProtocol,
			wantMsg:  "total_rooms",
		},
		{
			name:     "negative count",
			handler:  func(w http.ResponseWriter, _ *http.Request) { _, _ = io.WriteString(w, `{"total_rooms":-3}`) },
			wantKind: domain.ErrProtocol,
			wantMsg:  "negative",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestClient(t, tc.handler)

			got, err := c.Fetch(context.Background())
			if !errors.Is(err, tc.wantKind) {
				t.Fatalf("err=%v want kind %v", err, tc.wantKind)
			}
			if got != (domain.Sample{}) {
				t.Fatalf("sample=%+v want zero", got)
			}
			var fe *domain.FetchError
			if !errors.As(err, &fe) {
				t.Fatalf("err %T is not a FetchError", err)
			}
			if fe.Endpoint != roomsPath {
				t.Fatalf("endpoint=%q want %q", fe.Endpoint, roomsPath)
			}
			if tc.wantStatus != 0 && fe.Status != tc.wantStatus {
				t.Fatalf("status=%d want %d", fe.Status, tc.wantStatus)
			}
			if tc.wantMsg != "" && !strings.Contains(err.Error(), tc.wantMsg) {
				t.Fatalf("err=%q want it to mention %q", err, tc.wantMsg)
			}
		})
	}
}

func TestClient_FetchUsersFailsAfterRooms(t *testing.T) {
	var usersCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc(roomsPath, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"total_rooms":42}`)
	})
	mux.HandleFunc(usersPath, func(w http.ResponseWriter, _ *http.Request) {
		usersCalls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	})
	c := newTestClient(t, mux)

	got, err := c.Fetch(context.Background())
	if !errors.Is(err, domain.ErrProtocol) {
		t.Fatalf("err=%v want ErrProtocol", err)
	}
	if got != (domain.Sample{}) {
		t.Fatalf("partial sample leaked: %+v", got)
	}
	if usersCalls.Load() != 1 {
		t.Fatalf("users endpoint called %d times, fetch must not retry", usersCalls.Load())
	}
}

func TestClient_FetchTransport(t *testing.T) {
	t.Run("connection refused", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		base := srv.URL
		srv.Close()

		c, err := New(base, nil, testToken)
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		if _, err := c.Fetch(context.Background()); !errors.Is(err, domain.ErrTransport) {
			t.Fatalf("err=%v want ErrTransport", err)
		}
	})

	t.Run("deadline", func(t *testing.T) {
		release := make(chan struct{})
		c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}))
		defer close(release)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
		defer cancel()
		start := time.Now()
		_, err := c.Fetch(ctx)
		if !errors.Is(err, domain.ErrTransport) || !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("err=%v want transport timeout", err)
		}
		if time.Since(start) > 2*time.Second {
			t.Fatal("fetch outlived its deadline")
		}
	})
}

func TestLogin(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != loginPath || r.Method != http.MethodPost {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		var req loginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode login: %v", err)
		}
		if req.Type != "m.login.password" || req.User != "admin" || req.Identifier.User != "admin" ||
			req.Identifier.Type != "m.id.user" || req.Password != "s3cret" {
			t.Errorf("login payload=%+v", req)
		}
		_, _ = io.WriteString(w, `{"user_id":"@admin:hs","access_token":"syt_fresh","device_id":"X"}`)
	}))
	defer srv.Close()

	c, err := New(srv.URL, srv.Client(), "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c.backoff = []time.Duration{time.Millisecond, time.Millisecond}

	tok, err := c.Login(context.Background(), "admin", "s3cret")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if tok != "syt_fresh" || c.token != "syt_fresh" {
		t.Fatalf("token=%q stored=%q", tok, c.token)
	}
	if attempts.Load() != 2 {
		t.Fatalf("attempts=%d want 2", attempts.Load())
	}
}

func TestLogin_Failures(t *testing.T) {
	tests := []struct {
		name         string
		status       int
		body         string
		wantKind     error
		wantAttempts int32
	}{
		{"bad password", http.StatusForbidden, `{"errcode":"M_FORBIDDEN"}`, domain.ErrAuth, 1},
		{"rate limited throughout", http.StatusTooManyRequests, `{"errcode":"M_LIMIT_EXCEEDED"}`, domain.ErrProtocol, 3},
		{"no token in reply", http.StatusOK, `{"user_id":"@admin:hs"}`, domain.ErrProtocol, 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var attempts atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				attempts.Add(1)
				w.WriteHeader(tc.status)
				_, _ = io.WriteString(w, tc.body)
			}))
			defer srv.Close()

			c, err := New(srv.URL, srv.Client(), "")
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			c.backoff = []time.Duration{time.Millisecond, time.Millisecond}

			if _, err := c.Login(context.Background(), "admin", "nope"); !errors.Is(err, tc.wantKind) {
				t.Fatalf("err=%v want kind %v", err, tc.wantKind)
			}
			if got := attempts.Load(); got != tc.wantAttempts {
				t.Fatalf("attempts=%d want %d", got, tc.wantAttempts)
			}
		})
	}
}

func TestConnect(t *testing.T) {
	var logins atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc(loginPath, func(w http.ResponseWriter, _ *http.Request) {
		logins.Add(1)
		_, _ = io.WriteString(w, `{"access_token":"`+testToken+`"}`)
	})
	mux.Handle("/", synapseHandler(t, `{"total_rooms":1}`, `{"total":2}`))
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c, err := Connect(context.Background(), config.APISourceConfig{BaseURL: srv.URL, AdminToken: testToken}, srv.Client(), nil)
	if err != nil {
		t.Fatalf("Connect with token: %v", err)
	}
	if logins.Load() != 0 {
		t.Fatal("login must be skipped when a token is configured")
	}

	c, err = Connect(context.Background(), config.APISourceConfig{BaseURL: srv.URL, User: "admin", Password: "pw"}, srv.Client(), nil)
	if err != nil {
		t.Fatalf("Connect with password: %v", err)
	}
	if logins.Load() != 1 {
		t.Fatalf("logins=%d want 1", logins.Load())
	}
	got, err := c.Fetch(context.Background())
	if err != nil || got != (domain.Sample{Rooms: 1, Users: 2}) {
		t.Fatalf("Fetch=%+v err=%v", got, err)
	}
}

func TestNormalizeBase(t *testing.T) {
	tests := []struct{ in, want string }{
		{"localhost:8008", "http://localhost:8008"},
		{"http://hs:8008/", "http://hs:8008"},
		{"https://hs.example.org", "https://hs.example.org"},
		{" https://hs/base/ ", "https://hs/base"},
	}
	for _, tc := range tests {
		if got := normalizeBase(tc.in); got != tc.want {
			t.Fatalf("normalizeBase(%q)=%q want %q", tc.in, got, tc.want)
		}
	}
}

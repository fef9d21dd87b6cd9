package devserver

import (
	"context"
	"encoding/json"
	"io/ioutil"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/gorilla/sessions"

	"github.com/heroku/loopauth/internal/devserver/storage"
	"github.com/heroku/loopauth/internal/devserver/storage/memory"
)

var testIdentity = Identity{UserID: "u-123", Username: "octocat"}

func newTestServer(t *testing.T, mod func(c *Config)) (*httptest.Server, *memory.Storage) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	stor := memory.New()
	c := Config{
		Storage:     stor,
		Connector:   NewStaticConnector(testIdentity),
		CookieStore: sessions.NewCookieStore([]byte("0123456789abcdef0123456789abcdef")),
	}
	if mod != nil {
		mod(&c)
	}

	s, err := New(ctx, c)
	if err != nil {
		t.Fatal(err)
	}

	ts := httptest.NewServer(s)
	t.Cleanup(ts.Close)
	return ts, stor
}

// browser follows redirects with cookies, stopping before it would leave the
// server under test.
func browser(t *testing.T, base string) *http.Client {
	t.Helper()

	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatal(err)
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		t.Fatal(err)
	}
	return &http.Client{
		Jar: jar,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if req.URL.Host != baseURL.Host {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}
}

func login(t *testing.T, c *http.Client, base string, port string) *http.Response {
	t.Helper()

	resp, err := c.Get(base + "/login/github?port=" + port)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	return resp
}

func authedRequest(t *testing.T, method, u, token string) *http.Response {
	t.Helper()

	req, err := http.NewRequest(method, u, nil)
	if err != nil {
		t.Fatal(err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func TestLoginFlow(t *testing.T) {
	ts, stor := newTestServer(t, nil)

	resp := login(t, browser(t, ts.URL), ts.URL, "4242")
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("want redirect to loopback, got status %d", resp.StatusCode)
	}

	loc, err := url.Parse(resp.Header.Get("Location"))
	if err != nil {
		t.Fatal(err)
	}
	if loc.Scheme != "http" || loc.Host != "127.0.0.1:4242" || loc.Path != "/callback" {
		t.Fatalf("unexpected loopback redirect %s", loc)
	}
	token := loc.Query().Get("session_token")
	if token == "" {
		t.Fatalf("no session_token in %s", loc)
	}

	sess, err := stor.Get(context.Background(), token)
	if err != nil {
		t.Fatalf("session not stored: %v", err)
	}
	if sess.Username != testIdentity.Username {
		t.Errorf("want username %s, got %s", testIdentity.Username, sess.Username)
	}

	resp = authedRequest(t, http.MethodGet, ts.URL+"/user", token)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("want 200 from /user, got %d", resp.StatusCode)
	}
	var got userResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(userResponse{UserID: "u-123", Username: "octocat"}, got); diff != "" {
		t.Error(diff)
	}

	resp = authedRequest(t, http.MethodPost, ts.URL+"/logout", token)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("want 200 from /logout, got %d", resp.StatusCode)
	}

	for _, tc := range []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/user"},
		{http.MethodPost, "/logout"},
	} {
		resp := authedRequest(t, tc.method, ts.URL+tc.path, token)
		resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("%s %s after logout: want 401, got %d", tc.method, tc.path, resp.StatusCode)
		}
	}
}

func TestLoginInvalidPort(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	for _, port := range []string{"", "0", "65536", "-1", "abc"} {
		resp := login(t, browser(t, ts.URL), ts.URL, port)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("port %q: want 400, got %d", port, resp.StatusCode)
		}
	}
}

func TestCallbackRejections(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	// capture the callback URL the provider hands back, without following it
	c := browser(t, ts.URL)
	stayOnServer := c.CheckRedirect
	c.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if req.URL.Path == pathCallback {
			return http.ErrUseLastResponse
		}
		return stayOnServer(req, via)
	}
	resp := login(t, c, ts.URL, "4242")
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("want redirect to callback, got %d", resp.StatusCode)
	}
	callback, err := resp.Location()
	if err != nil {
		t.Fatal(err)
	}

	for _, tc := range []struct {
		name   string
		client *http.Client
		url    string
		want   int
	}{
		{
			name:   "missing code",
			client: c,
			url:    ts.URL + pathCallback + "?state=" + callback.Query().Get("state"),
			want:   http.StatusBadRequest,
		},
		{
			name:   "no login cookie",
			client: browser(t, ts.URL),
			url:    callback.String(),
			want:   http.StatusBadRequest,
		},
		{
			name:   "state mismatch",
			client: c,
			url:    ts.URL + pathCallback + "?code=" + callback.Query().Get("code") + "&state=other",
			want:   http.StatusBadRequest,
		},
		{
			name:   "valid",
			client: c,
			url:    callback.String(),
			want:   http.StatusFound,
		},
		{
			name:   "replayed",
			client: c,
			url:    callback.String(),
			want:   http.StatusBadRequest,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := tc.client.Get(tc.url)
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != tc.want {
				t.Errorf("want %d, got %d", tc.want, resp.StatusCode)
			}
		})
	}
}

func TestUserUnauthorized(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	for _, token := range []string{"", "unknown"} {
		resp := authedRequest(t, http.MethodGet, ts.URL+"/user", token)
		resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("token %q: want 401, got %d", token, resp.StatusCode)
		}
	}
}

func TestMetrics(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	resp, err = http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	b, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}

	want := `http_requests_total{code="200",handler="/healthz",method="GET"} 1`
	if !strings.Contains(string(b), want) {
		t.Errorf("metrics output missing %q:\n%s", want, b)
	}
}

func TestCORS(t *testing.T) {
	ts, stor := newTestServer(t, func(c *Config) {
		c.AllowedOrigins = []string{"http://app.test"}
	})
	if err := stor.Put(context.Background(), &storage.Session{ID: "tok", Expires: time.Now().Add(time.Hour)}); err != nil {
		t.Fatal(err)
	}

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/user", nil)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Origin", "http://app.test")
	req.Header.Set("Authorization", "Bearer tok")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("want 200, got %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "http://app.test" {
		t.Errorf("want allowed origin header, got %q", got)
	}
}

func TestGarbageCollection(t *testing.T) {
	_, stor := newTestServer(t, func(c *Config) {
		c.GCFrequency = 10 * time.Millisecond
	})
	// lookups see a clock behind the collector's, so the session stays
	// visible until it is collected
	stor.Lock()
	stor.Now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	stor.Unlock()
	if err := stor.Put(context.Background(), &storage.Session{ID: "old", Expires: time.Now().Add(-time.Hour)}); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		_, err := stor.Get(context.Background(), "old")
		if storage.IsNotFoundErr(err) {
			return
		} else if err != nil {
			t.Fatal(err)
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("expired session was not garbage collected")
}

func TestStaticConnectorExchange(t *testing.T) {
	c := NewStaticConnector(testIdentity)
	now := time.Now()
	c.now = func() time.Time { return now }

	rec := httptest.NewRecorder()
	c.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, pathAuthorize+"?state=s1", nil))
	if rec.Code != http.StatusFound {
		t.Fatalf("want 302, got %d", rec.Code)
	}
	loc, err := url.Parse(rec.Header().Get("Location"))
	if err != nil {
		t.Fatal(err)
	}
	if loc.Query().Get("state") != "s1" {
		t.Errorf("state not passed through: %s", loc)
	}
	code := loc.Query().Get("code")

	now = now.Add(2 * codeValidFor)
	if _, err := c.Exchange(context.Background(), code); err == nil {
		t.Error("want error for an expired code")
	}
	if _, err := c.Exchange(context.Background(), code); err == nil {
		t.Error("want error for a used code")
	}

	rec = httptest.NewRecorder()
	c.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, pathAuthorize, nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("want 400 without state, got %d", rec.Code)
	}
}

func TestStaticConnectorZeroValue(t *testing.T) {
	c := &StaticConnector{Identity: testIdentity}

	rec := httptest.NewRecorder()
	c.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, pathAuthorize+"?state=s", nil))
	if rec.Code != http.StatusFound {
		t.Fatalf("want 302, got %d", rec.Code)
	}
	loc, err := url.Parse(rec.Header().Get("Location"))
	if err != nil {
		t.Fatal(err)
	}

	got, err := c.Exchange(context.Background(), loc.Query().Get("code"))
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(testIdentity, got); diff != "" {
		t.Error(diff)
	}

	if _, err := c.Exchange(context.Background(), "unknown"); err == nil {
		t.Error("want error for an unknown code")
	}
}

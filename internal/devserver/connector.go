package devserver

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Identity is the user a provider vouched for.
type Identity struct {
	UserID   string
	Username string
}

// Connector stands in for the upstream identity provider.
type Connector interface {
	// AuthCodeURL returns where the browser is sent to approve the login.
	// The provider must eventually redirect to the callback path with the
	// given state and a code.
	AuthCodeURL(state string) string
	// Exchange resolves a code returned to the callback into an identity.
	Exchange(ctx context.Context, code string) (Identity, error)
}

const codeValidFor = time.Minute

// StaticConnector approves every login as Identity. It serves its own
// authorize page, which immediately redirects back to the callback with a
// single-use code. The zero value is ready to use.
type StaticConnector struct {
	Identity Identity

	mu    sync.Mutex
	codes map[string]time.Time
	now   func() time.Time
}

var (
	_ Connector    = (*StaticConnector)(nil)
	_ http.Handler = (*StaticConnector)(nil)
)

func NewStaticConnector(identity Identity) *StaticConnector {
	return &StaticConnector{
		Identity: identity,
		codes:    map[string]time.Time{},
		now:      time.Now,
	}
}

func (s *StaticConnector) AuthCodeURL(state string) string {
	return pathAuthorize + "?" + url.Values{"state": {state}}.Encode()
}

// ServeHTTP just automatically approves the login and sends the browser back
// to the callback.
func (s *StaticConnector) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	state := r.FormValue("state")
	if state == "" {
		http.Error(w, "missing state", http.StatusBadRequest)
		return
	}

	code := uuid.NewString()
	s.mu.Lock()
	if s.codes == nil {
		s.codes = map[string]time.Time{}
	}
	s.codes[code] = s.clock().Add(codeValidFor)
	s.mu.Unlock()

	q := url.Values{"code": {code}, "state": {state}}
	http.Redirect(w, r, pathCallback+"?"+q.Encode(), http.StatusFound)
}

func (s *StaticConnector) Exchange(_ context.Context, code string) (Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	expires, ok := s.codes[code]
	if !ok {
		return Identity{}, errors.New("unknown code")
	}
	delete(s.codes, code)
	if s.clock().After(expires) {
		return Identity{}, errors.New("code expired")
	}
	return s.Identity, nil
}

func (s *StaticConnector) clock() time.Time {
	if s.now == nil {
		return time.Now()
	}
	return s.now()
}

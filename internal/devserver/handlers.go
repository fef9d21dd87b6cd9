package devserver

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/sessions"
	"github.com/sirupsen/logrus"

	"github.com/heroku/loopauth/internal/devserver/storage"
)

const (
	cookieName     = "github_oauth_state"
	cookieStateKey = "state"
	cookiePortKey  = "port"

	// stateMaxAge bounds how long a started login may take, in seconds.
	stateMaxAge = 60 * 10
)

type userResponse struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// handleLogin starts a login for the loopback listener on ?port=.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	port, err := strconv.Atoi(r.URL.Query().Get("port"))
	if err != nil || port < 1 || port > 65535 {
		http.Error(w, "port must be between 1 and 65535", http.StatusBadRequest)
		return
	}

	// an undecodable cookie still yields a fresh session
	sess, _ := s.cookies.Get(r, cookieName)
	state := uuid.NewString()
	sess.Values[cookieStateKey] = state
	sess.Values[cookiePortKey] = port
	sess.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   stateMaxAge,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	}
	if err := sess.Save(r, w); err != nil {
		s.logger.WithError(err).Error("saving login state")
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	s.logger.WithField("port", port).Debug("login started")
	http.Redirect(w, r, s.connector.AuthCodeURL(state), http.StatusFound)
}

// handleCallback finishes a login and sends the browser to the loopback
// listener with the new session token.
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	code := r.FormValue("code")
	if code == "" {
		http.Error(w, "missing code", http.StatusBadRequest)
		return
	}

	sess, _ := s.cookies.Get(r, cookieName)
	state := r.FormValue("state")
	storedState, _ := sess.Values[cookieStateKey].(string)
	if state == "" || storedState == "" || state != storedState {
		http.Error(w, "state mismatch", http.StatusBadRequest)
		return
	}
	port, ok := sess.Values[cookiePortKey].(int)
	if !ok {
		http.Error(w, "missing port", http.StatusBadRequest)
		return
	}

	identity, err := s.connector.Exchange(r.Context(), code)
	if err != nil {
		s.logger.WithError(err).Warn("exchanging login code")
		http.Error(w, "invalid code", http.StatusBadRequest)
		return
	}

	now := s.now()
	session := &storage.Session{
		ID:        uuid.NewString(),
		UserID:    identity.UserID,
		Username:  identity.Username,
		CreatedAt: now,
		Expires:   now.Add(s.sessionTTL),
	}
	if err := s.storage.Put(r.Context(), session); err != nil {
		s.logger.WithError(err).Error("storing session")
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	// the login state is single use
	sess.Options = &sessions.Options{Path: "/", MaxAge: -1}
	if err := sess.Save(r, w); err != nil {
		s.logger.WithError(err).Warn("clearing login state")
	}

	s.logger.WithFields(logrus.Fields{"port": port, "user": identity.Username}).Info("session issued")
	http.Redirect(w, r, s.loopbackURL(port, session.ID), http.StatusFound)
}

func (s *Server) loopbackURL(port int, token string) string {
	u := url.URL{
		Scheme:   "http",
		Host:     net.JoinHostPort(s.callbackHost, strconv.Itoa(port)),
		Path:     s.callbackPath,
		RawQuery: url.Values{"session_token": {token}}.Encode(),
	}
	return u.String()
}

func (s *Server) handleUser(w http.ResponseWriter, r *http.Request) {
	session, ok := s.authenticate(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(userResponse{UserID: session.UserID, Username: session.Username}); err != nil {
		s.logger.WithError(err).Warn("writing user response")
	}
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	session, ok := s.authenticate(w, r)
	if !ok {
		return
	}

	if err := s.storage.Delete(r.Context(), session.ID); err != nil {
		if storage.IsNotFoundErr(err) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		s.logger.WithError(err).Error("deleting session")
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprint(w, "ok")
}

// authenticate resolves the bearer session of r. It writes a 401 and returns
// false when there is none.
func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) (*storage.Session, bool) {
	token := bearerToken(r)
	if token == "" {
		w.WriteHeader(http.StatusUnauthorized)
		return nil, false
	}

	session, err := s.storage.Get(r.Context(), token)
	if err != nil {
		if !storage.IsNotFoundErr(err) {
			s.logger.WithError(err).Error("looking up session")
			http.Error(w, "Internal error", http.StatusInternalServerError)
			return nil, false
		}
		w.WriteHeader(http.StatusUnauthorized)
		return nil, false
	}
	return session, true
}

func bearerToken(r *http.Request) string {
	const prefix = "bearer "
	h := r.Header.Get("Authorization")
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(h[len(prefix):])
}

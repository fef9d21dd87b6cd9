// Package devserver is a minimal login server for local development. It plays
// the part of the fixed host the desktop application opens: it starts a
// provider login for a loopback port, issues a session once the provider
// approves and redirects the browser back to the waiting listener with the
// session token.
package devserver

import (
	"context"
	"errors"
	"fmt"
	"io/ioutil"
	"net/http"
	"strconv"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/gorilla/sessions"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/heroku/loopauth/internal/devserver/storage"
)

const (
	pathLogin     = "/login/github"
	pathAuthorize = "/login/github/authorize"
	pathCallback  = "/login/github/callback"
	pathUser      = "/user"
	pathLogout    = "/logout"
	pathHealth    = "/healthz"
	pathMetrics   = "/metrics"
)

// Config holds the server's configuration options.
type Config struct {
	// The backing persistence layer for sessions.
	Storage storage.Storage

	// Connector resolves logins. If it is also an http.Handler it is mounted
	// at the authorize path.
	Connector Connector

	// CookieStore keeps the login state between the login and callback
	// requests.
	CookieStore sessions.Store

	// List of allowed origins for CORS requests on the session endpoints. If
	// none are indicated, CORS requests are disabled. Passing in "*" will
	// allow any domain.
	AllowedOrigins []string

	// CallbackHost is the loopback host the browser is sent back to. Defaults
	// to 127.0.0.1.
	CallbackHost string
	// CallbackPath is requested on the loopback listener. Defaults to /callback.
	CallbackPath string

	SessionTTL  time.Duration // Defaults to 30 days.
	GCFrequency time.Duration // Defaults to 5 minutes

	// If specified, the server will use this function for determining time.
	Now func() time.Time

	Logger logrus.FieldLogger

	PrometheusRegistry *prometheus.Registry
}

func value(val, defaultValue time.Duration) time.Duration {
	if val == 0 {
		return defaultValue
	}
	return val
}

// Server is the top level object.
type Server struct {
	storage   storage.Storage
	connector Connector
	cookies   sessions.Store

	callbackHost string
	callbackPath string
	sessionTTL   time.Duration

	mux *mux.Router

	now func() time.Time

	logger logrus.FieldLogger
}

// New constructs a server from the provided config. Garbage collection of
// expired sessions runs until ctx is done.
func New(ctx context.Context, c Config) (*Server, error) {
	if c.Storage == nil {
		return nil, errors.New("devserver: storage cannot be nil")
	}
	if c.Connector == nil {
		return nil, errors.New("devserver: connector cannot be nil")
	}
	if c.CookieStore == nil {
		return nil, errors.New("devserver: cookie store cannot be nil")
	}

	now := c.Now
	if now == nil {
		now = time.Now
	}
	logger := c.Logger
	if logger == nil {
		l := logrus.New()
		l.Out = ioutil.Discard
		logger = l
	}
	registry := c.PrometheusRegistry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	s := &Server{
		storage:      c.Storage,
		connector:    c.Connector,
		cookies:      c.CookieStore,
		callbackHost: c.CallbackHost,
		callbackPath: c.CallbackPath,
		sessionTTL:   value(c.SessionTTL, 30*24*time.Hour),
		now:          now,
		logger:       logger,
	}
	if s.callbackHost == "" {
		s.callbackHost = "127.0.0.1"
	}
	if s.callbackPath == "" {
		s.callbackPath = "/callback"
	}

	requestCounter := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Count of all HTTP requests.",
	}, []string{"handler", "code", "method"})

	if err := registry.Register(requestCounter); err != nil {
		return nil, fmt.Errorf("devserver: Failed to register Prometheus HTTP metrics: %v", err)
	}

	instrumentHandlerCounter := func(handlerName string, handler http.Handler) http.HandlerFunc {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m := httpsnoop.CaptureMetrics(handler, w, r)
			requestCounter.With(prometheus.Labels{"handler": handlerName, "code": strconv.Itoa(m.Code), "method": r.Method}).Inc()
		})
	}

	r := mux.NewRouter()
	handle := func(p string, h http.Handler, methods ...string) {
		r.Handle(p, instrumentHandlerCounter(p, h)).Methods(methods...)
	}
	handleWithCORS := func(p string, h http.Handler, methods ...string) {
		if len(c.AllowedOrigins) > 0 {
			corsOptions := []handlers.CORSOption{
				handlers.AllowedOrigins(c.AllowedOrigins),
				handlers.AllowedHeaders([]string{"Authorization"}),
				handlers.AllowedMethods(methods),
			}
			h = handlers.CORS(corsOptions...)(h)
			methods = append(methods, http.MethodOptions)
		}
		handle(p, h, methods...)
	}
	r.NotFoundHandler = http.HandlerFunc(http.NotFound)

	handle(pathLogin, http.HandlerFunc(s.handleLogin), http.MethodGet)
	if h, ok := c.Connector.(http.Handler); ok {
		handle(pathAuthorize, h, http.MethodGet)
	}
	handle(pathCallback, http.HandlerFunc(s.handleCallback), http.MethodGet)
	handleWithCORS(pathUser, http.HandlerFunc(s.handleUser), http.MethodGet)
	handleWithCORS(pathLogout, http.HandlerFunc(s.handleLogout), http.MethodPost)
	handle(pathHealth, http.HandlerFunc(s.handleHealth), http.MethodGet)
	r.Handle(pathMetrics, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	s.mux = r

	s.startGarbageCollection(ctx, value(c.GCFrequency, 5*time.Minute), now)

	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) startGarbageCollection(ctx context.Context, frequency time.Duration, now func() time.Time) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(frequency):
				if n, err := s.storage.GarbageCollect(ctx, now()); err != nil {
					s.logger.Errorf("garbage collection failed: %v", err)
				} else if n > 0 {
					s.logger.Infof("garbage collection run, deleted sessions=%d", n)
				}
			}
		}
	}()
}

// Package catcher captures a session token from a browser redirect on a
// short-lived loopback listener.
//
// A Catcher binds an OS-assigned port on 127.0.0.1, opens the login URL with
// that port in the user's browser and waits for the login server to redirect
// the browser back to the listener. The first request line is parsed and the
// token is read from its query string. Exactly one connection is accepted per
// call.
package catcher

import (
	"bufio"
	"context"
	"io"
	"io/ioutil"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultParam is the query parameter carrying the session token.
	DefaultParam = "session_token"
	// DefaultLoginURL is the login endpoint opened in the browser. The
	// assigned port is added as the `port` query parameter.
	DefaultLoginURL = "http://localhost:3000/login/github"
	// DefaultListenAddr binds an ephemeral port on the IPv4 loopback.
	DefaultListenAddr = "127.0.0.1:0"

	// MaxRequestLineBytes bounds the request line read from the callback
	// connection, including the line terminator.
	MaxRequestLineBytes = 8192
)

// Catcher runs the loopback redirect flow. It holds configuration only and is
// safe for concurrent use; every Authenticate call binds its own listener.
type Catcher struct {
	opener     Opener
	renderer   Renderer
	loginURL   string
	param      string
	listenAddr string
	logger     logrus.FieldLogger
	metrics    *Metrics
}

type Opt func(c *Catcher)

// WithOpener sets how the login URL is presented to the user. Defaults to
// DetectOpener().
func WithOpener(o Opener) Opt {
	return func(c *Catcher) {
		c.opener = o
	}
}

// WithRenderer sets the responses written back to the browser.
func WithRenderer(r Renderer) Opt {
	return func(c *Catcher) {
		c.renderer = r
	}
}

// WithLoginURL sets the login endpoint. The assigned port is added to it as
// the `port` query parameter.
func WithLoginURL(u string) Opt {
	return func(c *Catcher) {
		c.loginURL = u
	}
}

// WithParam sets the query parameter the token is read from.
func WithParam(name string) Opt {
	return func(c *Catcher) {
		c.param = name
	}
}

// WithListenHost binds the listener on host instead of 127.0.0.1. The port is
// always chosen by the OS.
func WithListenHost(host string) Opt {
	return func(c *Catcher) {
		c.listenAddr = net.JoinHostPort(host, "0")
	}
}

func WithLogger(l logrus.FieldLogger) Opt {
	return func(c *Catcher) {
		c.logger = l
	}
}

func WithMetrics(m *Metrics) Opt {
	return func(c *Catcher) {
		c.metrics = m
	}
}

// New creates a Catcher. Without options it opens
// DefaultLoginURL with the platform opener and reads DefaultParam.
func New(opts ...Opt) *Catcher {
	c := &Catcher{
		loginURL:   DefaultLoginURL,
		param:      DefaultParam,
		listenAddr: DefaultListenAddr,
	}
	for _, o := range opts {
		o(c)
	}

	if c.opener == nil {
		c.opener = DetectOpener()
	}
	if c.renderer == nil {
		c.renderer = &TextRenderer{}
	}
	if c.logger == nil {
		l := logrus.New()
		l.Out = ioutil.Discard
		c.logger = l
	}

	return c
}

// Authenticate binds a loopback listener, opens the login URL for it and
// returns the token carried by the first callback request.
//
// The wait for the callback is unbounded; cancel ctx to abandon it. The
// listener and any accepted connection are closed before Authenticate returns,
// on every path. Failures are reported as *BindError, *BrowserLaunchError,
// *MalformedRequestError or *MissingTokenError, or as an error wrapping
// ctx.Err() after cancellation.
func (c *Catcher) Authenticate(ctx context.Context) (string, error) {
	if ctx.Err() != nil {
		return "", c.canceled(ctx, c.logger)
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", c.listenAddr)
	if err != nil {
		if ctx.Err() != nil {
			return "", c.canceled(ctx, c.logger)
		}
		c.metrics.observeOutcome(outcomeBindFailed)
		return "", &BindError{Addr: c.listenAddr, Cause: err}
	}
	defer func() { _ = ln.Close() }()

	port := ln.Addr().(*net.TCPAddr).Port
	log := c.logger.WithField("port", port)
	log.WithField("state", "listening").Debug("loopback listener bound")

	loginURL, err := LoginURL(c.loginURL, port)
	if err != nil {
		c.metrics.observeOutcome(outcomeLaunchFailed)
		return "", &BrowserLaunchError{URL: c.loginURL, Cause: err}
	}
	if err := c.opener.Open(ctx, loginURL); err != nil {
		if ctx.Err() != nil {
			return "", c.canceled(ctx, log)
		}
		c.metrics.observeOutcome(outcomeLaunchFailed)
		return "", &BrowserLaunchError{URL: loginURL, Cause: err}
	}

	stopListener := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stopListener()

	openedAt := time.Now()
	conn, err := ln.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return "", c.canceled(ctx, log)
		}
		c.metrics.observeOutcome(outcomeMalformed)
		return "", &MalformedRequestError{Cause: errors.Wrap(err, "accepting callback connection")}
	}
	// one connection per call, refuse anything after it
	_ = ln.Close()
	defer func() { _ = conn.Close() }()

	stopConn := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stopConn()

	c.metrics.observeWait(time.Since(openedAt))
	log = log.WithField("remote", conn.RemoteAddr().String())
	log.WithField("state", "connected").Debug("callback connection accepted")

	line, err := readRequestLine(conn)
	if err != nil {
		if ctx.Err() != nil {
			return "", c.canceled(ctx, log)
		}
		c.metrics.observeOutcome(outcomeMalformed)
		log.WithError(err).WithField("state", "failed").Warn("reading callback request")
		return "", &MalformedRequestError{Line: line, Cause: err}
	}

	req, err := ParseRequestLine(line)
	if err != nil {
		c.metrics.observeOutcome(outcomeMalformed)
		c.renderError(log, conn, "Malformed login callback. Please try again.")
		log.WithField("state", "failed").Warn("malformed callback request")
		return "", err
	}
	log = log.WithField("path", req.Path)

	token, ok := req.Lookup(c.param)
	if !ok {
		c.metrics.observeOutcome(outcomeMissingToken)
		c.renderError(log, conn, "Login failed. Please try again.")
		log.WithField("state", "failed").Warnf("callback has no %s parameter", c.param)
		return "", &MissingTokenError{Param: c.param}
	}

	if ctx.Err() != nil {
		return "", c.canceled(ctx, log)
	}

	if err := c.renderer.RenderTokenIssued(conn); err != nil {
		log.WithError(err).Debug("writing success response")
	}
	// a cancel during the write closes conn; the token is not reported then
	if ctx.Err() != nil {
		return "", c.canceled(ctx, log)
	}
	c.metrics.observeOutcome(outcomeSucceeded)
	log.WithField("state", "succeeded").Info("session token received")

	return token, nil
}

func (c *Catcher) renderError(log logrus.FieldLogger, w io.Writer, message string) {
	if err := c.renderer.RenderError(w, message); err != nil {
		log.WithError(err).Debug("writing error response")
	}
}

func (c *Catcher) canceled(ctx context.Context, log logrus.FieldLogger) error {
	c.metrics.observeOutcome(outcomeCanceled)
	log.WithField("state", "failed").Debug("authentication abandoned")
	return errors.Wrap(ctx.Err(), "waiting for login callback")
}

// LoginURL returns base with the port query parameter set. Other query
// parameters on base are kept.
func LoginURL(base string, port int) (string, error) {
	if port < 1 || port > 65535 {
		return "", errors.Errorf("port %d out of range", port)
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", errors.Wrap(err, "parsing login url")
	}
	q := u.Query()
	q.Set("port", strconv.Itoa(port))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// readRequestLine reads up to the first LF. A peer that closes after sending a
// partial line still yields that line.
func readRequestLine(r io.Reader) (string, error) {
	br := bufio.NewReaderSize(r, MaxRequestLineBytes)
	raw, err := br.ReadSlice('\n')
	switch {
	case err == bufio.ErrBufferFull:
		return "", errors.Errorf("request line exceeds %d bytes", MaxRequestLineBytes)
	case err == io.EOF && len(raw) > 0:
	case err != nil:
		return string(raw), errors.Wrap(err, "reading request line")
	}
	if !utf8.Valid(raw) {
		return "", errors.New("request line is not valid UTF-8")
	}
	return strings.TrimRight(string(raw), "\r\n"), nil
}

// Package loopauth provides the host side of a loopback login: sources of
// session tokens, an HTTP client that presents them as bearer credentials, and
// configuration for the catcher that obtains them.
package loopauth

import (
	"context"
	"sync"

	"github.com/heroku/loopauth/catcher"
)

// SessionSource obtains a session token, typically by running a browser login.
type SessionSource interface {
	Authenticate(ctx context.Context) (string, error)
}

var _ SessionSource = (*catcher.Catcher)(nil)

// SessionSourceFunc adapts a function to SessionSource.
type SessionSourceFunc func(ctx context.Context) (string, error)

func (f SessionSourceFunc) Authenticate(ctx context.Context) (string, error) {
	return f(ctx)
}

// StaticSource always returns the same token. Used when a token was passed in
// explicitly.
type StaticSource string

func (s StaticSource) Authenticate(context.Context) (string, error) {
	return string(s), nil
}

// CachingSource wraps a SessionSource, remembering the last token for the
// lifetime of the value. Nothing is written to disk. Concurrent callers wait for
// a single upstream login rather than each opening a browser.
type CachingSource struct {
	Source SessionSource

	mu    sync.Mutex
	token string
	ok    bool
}

// Authenticate returns the remembered token, or fetches one from Source.
// Failures are not remembered.
func (c *CachingSource) Authenticate(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ok {
		return c.token, nil
	}

	token, err := c.Source.Authenticate(ctx)
	if err != nil {
		return "", err
	}
	c.token, c.ok = token, true

	return token, nil
}

// Clear forgets the remembered token, so the next call logs in again.
func (c *CachingSource) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.token, c.ok = "", false
}

package catcher

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/exec"
	"runtime"

	"github.com/pkg/errors"
)

type Opener interface {
	// Open opens the provided URL in the user's browser
	Open(ctx context.Context, url string) error
}

// OpenerFunc adapts a function to the Opener interface.
type OpenerFunc func(ctx context.Context, url string) error

func (f OpenerFunc) Open(ctx context.Context, url string) error {
	return f(ctx, url)
}

// DetectOpener attempts to find the best opener for a user's system. If there
// is no best opener for the system, it defaults to an opener that prints the
// URL to stderr so the user can click on it.
func DetectOpener() Opener {
	switch runtime.GOOS {
	case "darwin":
		if path, err := exec.LookPath("open"); err == nil {
			return &CommandOpener{CommandName: path}
		}
	case "linux", "freebsd", "openbsd", "netbsd":
		if path, err := exec.LookPath("xdg-open"); err == nil {
			return &CommandOpener{CommandName: path}
		}
	case "windows":
		if path, err := exec.LookPath("rundll32"); err == nil {
			return &CommandOpener{CommandName: path, Args: []string{"url.dll,FileProtocolHandler"}}
		}
	}
	return &EchoOpener{Out: os.Stderr}
}

// CommandOpener opens a URL by executing a command with the URL as the last
// argument. CommandOpener works well with MacOS's `open` command.
type CommandOpener struct {
	CommandName string
	// Args are passed before the URL.
	Args []string
}

func (o *CommandOpener) Open(ctx context.Context, url string) error {
	args := append(append([]string(nil), o.Args...), url)
	out, err := exec.CommandContext(ctx, o.CommandName, args...).CombinedOutput()
	if err != nil {
		return errors.Wrapf(err, "%s: %s", o.CommandName, string(out))
	}
	return nil
}

// EchoOpener opens a URL by printing it to the console for the user to
// manually click on. It is used as a last resort.
type EchoOpener struct {
	// Out defaults to os.Stdout
	Out io.Writer
}

func (o *EchoOpener) Open(ctx context.Context, url string) error {
	out := o.Out
	if out == nil {
		out = os.Stdout
	}
	_, err := fmt.Fprintf(out, "To continue, open this URL in a browser: %s\n", url)
	return err
}

// Scope restricts which URLs an opener may be asked to open. Empty lists place
// no restriction.
type Scope struct {
	Schemes []string
	Hosts   []string
}

// Allows returns an error describing why rawURL falls outside the scope, or nil
// when it is inside.
func (s Scope) Allows(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return errors.Wrap(err, "parsing url")
	}
	if len(s.Schemes) > 0 && !contains(s.Schemes, u.Scheme) {
		return errors.Errorf("scheme %q is not allowed", u.Scheme)
	}
	if len(s.Hosts) > 0 && !contains(s.Hosts, u.Hostname()) {
		return errors.Errorf("host %q is not allowed", u.Hostname())
	}
	return nil
}

// ScopedOpener refuses URLs outside Scope before delegating to Opener.
type ScopedOpener struct {
	Opener
	Scope Scope
}

func (o *ScopedOpener) Open(ctx context.Context, url string) error {
	if err := o.Scope.Allows(url); err != nil {
		return errors.Wrap(err, "url outside of opener scope")
	}
	return o.Opener.Open(ctx, url)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

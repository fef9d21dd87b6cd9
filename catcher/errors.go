package catcher

import "fmt"

// BindError indicates no loopback listener could be created. It is returned
// before the browser is opened.
type BindError struct {
	Addr  string
	Cause error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("binding loopback listener on %s: %v", e.Addr, e.Cause)
}

func (e *BindError) Unwrap() error {
	return e.Cause
}

// BrowserLaunchError indicates the Opener failed to present the login URL to
// the user.
type BrowserLaunchError struct {
	URL   string
	Cause error
}

func (e *BrowserLaunchError) Error() string {
	return fmt.Sprintf("opening %s: %v", e.URL, e.Cause)
}

func (e *BrowserLaunchError) Unwrap() error {
	return e.Cause
}

// MalformedRequestError indicates the callback connection did not yield a
// request line with at least a method and a target.
type MalformedRequestError struct {
	// Line is the raw line read from the connection, if any.
	Line  string
	Cause error
}

func (e *MalformedRequestError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("malformed callback request: %v", e.Cause)
	}
	return fmt.Sprintf("malformed callback request %q", e.Line)
}

func (e *MalformedRequestError) Unwrap() error {
	return e.Cause
}

// MissingTokenError indicates the callback request was well formed but did not
// carry the expected query parameter.
type MissingTokenError struct {
	Param string
}

func (e *MissingTokenError) Error() string {
	if e.Param == DefaultParam {
		return "no session token present in callback"
	}
	return fmt.Sprintf("no %s present in callback", e.Param)
}

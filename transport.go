package loopauth

import (
	"errors"
	"net/http"
)

var _ http.RoundTripper = (*Transport)(nil)

// Transport authorizes requests with a bearer session token from Source.
type Transport struct {
	Source SessionSource

	// Base is the base RoundTripper to make HTTP requests. If nil,
	// http.DefaultTransport is used.
	Base http.RoundTripper
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	// RoundTrip must always close the body, including on errors,
	// but depending on the implementation may do so in a separate
	// goroutine even after RoundTrip returns.
	bodyClosed := false
	if req.Body != nil {
		defer func() {
			if !bodyClosed {
				req.Body.Close()
			}
		}()
	}

	if t.Source == nil {
		return nil, errors.New("missing SessionSource")
	}

	token, err := t.Source.Authenticate(req.Context())
	if err != nil {
		return nil, err
	}

	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}

	// RoundTrip should not modify the request, except for
	// consuming and closing the Request's Body.
	req2 := cloneRequest(req)
	req2.Header.Set("Authorization", "Bearer "+token)

	res, err := base.RoundTrip(req2)
	// The base transporter will have closed the body by this point
	bodyClosed = true

	return res, err
}

func cloneRequest(r *http.Request) *http.Request {
	// shallow copy
	r2 := new(http.Request)
	*r2 = *r

	// deep copy of the Header
	r2.Header = make(http.Header, len(r.Header))
	for k, v := range r.Header {
		r2.Header[k] = append([]string(nil), v...)
	}

	return r2
}

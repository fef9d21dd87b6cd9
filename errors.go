package loopauth

import (
	"fmt"
	"net/http"
)

// HTTPError indicates the login server answered with an unexpected status. It
// exposes the response and the body that was read from it.
type HTTPError struct {
	Response *http.Response
	Body     []byte
}

func (h *HTTPError) Error() string {
	return fmt.Sprintf("http status %s: %s", h.Response.Status, string(h.Body))
}

// StatusCode returns the response status code.
func (h *HTTPError) StatusCode() int {
	return h.Response.StatusCode
}

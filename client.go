package loopauth

import (
	"context"
	"encoding/json"
	"io"
	"io/ioutil"
	"net/http"
	"net/url"
	"path"

	"github.com/pkg/errors"
)

// maxErrorBody bounds how much of an error response is kept in an HTTPError.
const maxErrorBody = 4 << 10

// User is the account behind a session, as returned by the login server.
type User struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// Client talks to the session endpoints of the login server, authenticating
// with a bearer session token from Source.
type Client struct {
	// BaseURL is the login server root, e.g. http://localhost:3000
	BaseURL string
	Source  SessionSource

	// HTTPClient is used as the base for requests. Its Transport is wrapped
	// with a Transport carrying the session token.
	HTTPClient *http.Client
}

// NewClient returns a Client for baseURL using src for tokens.
func NewClient(baseURL string, src SessionSource) *Client {
	return &Client{BaseURL: baseURL, Source: src}
}

// User fetches the user for the current session. A rejected session (401) is
// not an error, it returns a nil User.
func (c *Client) User(ctx context.Context) (*User, error) {
	resp, err := c.do(ctx, http.MethodGet, "/user")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		return nil, nil
	default:
		return nil, newHTTPError(resp)
	}

	var u User
	if err := json.NewDecoder(resp.Body).Decode(&u); err != nil {
		return nil, errors.Wrap(err, "decoding user")
	}
	return &u, nil
}

// Logout invalidates the current session on the server. When Source is a
// *CachingSource its remembered token is cleared after the server accepted the
// logout.
func (c *Client) Logout(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodPost, "/logout")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(ioutil.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return newHTTPError(resp)
	}

	if cs, ok := c.Source.(*CachingSource); ok {
		cs.Clear()
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, p string) (*http.Response, error) {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "parsing base url")
	}
	u.Path = path.Join(u.Path, p)

	req, err := http.NewRequest(method, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req = req.WithContext(ctx)

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "%s %s", method, p)
	}
	return resp, nil
}

func (c *Client) httpClient() *http.Client {
	hc := http.Client{}
	if c.HTTPClient != nil {
		hc = *c.HTTPClient
	}
	hc.Transport = &Transport{Source: c.Source, Base: hc.Transport}
	return &hc
}

func newHTTPError(resp *http.Response) error {
	body, _ := ioutil.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &HTTPError{Response: resp, Body: body}
}

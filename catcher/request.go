package catcher

import (
	"strings"
)

// Param is a single name/value pair from a callback query string.
type Param struct {
	Name  string
	Value string
}

// CallbackRequest is the parsed request line of the redirect that lands on the
// loopback listener. Only the target is interpreted; the method and version
// are kept for logging.
type CallbackRequest struct {
	Method  string
	Target  string
	Version string

	// Path is the part of Target before the first '?'.
	Path string
	// Query is the part of Target after the first '?', or "" if there is none.
	Query string
	// Params are the &-separated name=value pairs of Query in the order they
	// were sent. Pairs without '=' are not included. Names may repeat.
	Params []Param
}

// ParseRequestLine parses an HTTP/1.x style request line
// (`<METHOD> <TARGET> <VERSION>`). Trailing CR/LF is ignored. It fails with a
// MalformedRequestError when fewer than two whitespace separated tokens are
// present.
func ParseRequestLine(line string) (*CallbackRequest, error) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return nil, &MalformedRequestError{Line: line}
	}

	r := &CallbackRequest{
		Method: fields[0],
		Target: fields[1],
	}
	if len(fields) > 2 {
		r.Version = fields[2]
	}

	r.Path = r.Target
	if i := strings.IndexByte(r.Target, '?'); i >= 0 {
		r.Path, r.Query = r.Target[:i], r.Target[i+1:]
	}
	r.Params = parseQuery(r.Query)

	return r, nil
}

// Lookup returns the value of the first parameter named name. Names are
// compared exactly, without decoding.
func (r *CallbackRequest) Lookup(name string) (string, bool) {
	for _, p := range r.Params {
		if p.Name == name {
			return p.Value, true
		}
	}
	return "", false
}

func parseQuery(query string) []Param {
	if query == "" {
		return nil
	}
	pairs := strings.Split(query, "&")
	params := make([]Param, 0, len(pairs))
	for _, pair := range pairs {
		i := strings.IndexByte(pair, '=')
		if i < 0 {
			continue
		}
		params = append(params, Param{Name: pair[:i], Value: pair[i+1:]})
	}
	if len(params) == 0 {
		return nil
	}
	return params
}

package catcher

import (
	"bytes"
	"context"
	"os/exec"
	"testing"
)

func TestEchoOpener(t *testing.T) {
	var buf bytes.Buffer
	o := &EchoOpener{Out: &buf}

	if err := o.Open(context.Background(), "http://localhost:3000/login/github?port=1234"); err != nil {
		t.Fatal(err)
	}

	want := "To continue, open this URL in a browser: http://localhost:3000/login/github?port=1234\n"
	if buf.String() != want {
		t.Errorf("want %q, got %q", want, buf.String())
	}
}

func TestCommandOpener(t *testing.T) {
	truePath, err := exec.LookPath("true")
	if err != nil {
		t.Skip("true not available")
	}
	falsePath, err := exec.LookPath("false")
	if err != nil {
		t.Skip("false not available")
	}

	if err := (&CommandOpener{CommandName: truePath}).Open(context.Background(), "http://localhost"); err != nil {
		t.Errorf("want no error, got %v", err)
	}
	if err := (&CommandOpener{CommandName: falsePath}).Open(context.Background(), "http://localhost"); err == nil {
		t.Error("want error from failing command")
	}
}

func TestScope(t *testing.T) {
	for _, tc := range []struct {
		Name    string
		Scope   Scope
		URL     string
		WantErr bool
	}{
		{
			Name: "empty scope allows everything",
			URL:  "ftp://example.com/",
		},
		{
			Name:  "allowed scheme and host",
			Scope: Scope{Schemes: []string{"http", "https"}, Hosts: []string{"localhost"}},
			URL:   "http://localhost:3000/login/github?port=1",
		},
		{
			Name:    "scheme refused",
			Scope:   Scope{Schemes: []string{"https"}},
			URL:     "http://localhost:3000/",
			WantErr: true,
		},
		{
			Name:    "host refused",
			Scope:   Scope{Hosts: []string{"localhost"}},
			URL:     "http://evil.test/",
			WantErr: true,
		},
		{
			Name:    "unparseable url",
			Scope:   Scope{Hosts: []string{"localhost"}},
			URL:     "http://[::1",
			WantErr: true,
		},
	} {
		t.Run(tc.Name, func(t *testing.T) {
			err := tc.Scope.Allows(tc.URL)
			if (err != nil) != tc.WantErr {
				t.Errorf("want error %v, got %v", tc.WantErr, err)
			}
		})
	}
}

func TestDetectOpener(t *testing.T) {
	if DetectOpener() == nil {
		t.Fatal("DetectOpener returned nil")
	}
}

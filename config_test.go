package loopauth

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/heroku/loopauth/catcher"
)

func TestLoadConfig(t *testing.T) {
	dir, err := ioutil.TempDir("", "configtest")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	for _, tc := range []struct {
		Name string
		Data string
		Want *Config
	}{
		{
			Name: "empty file",
			Data: "",
			Want: &Config{
				LoginURL:   catcher.DefaultLoginURL,
				APIURL:     DefaultAPIURL,
				Param:      catcher.DefaultParam,
				ListenHost: "127.0.0.1",
			},
		},
		{
			Name: "overrides",
			Data: `
loginURL: https://auth.example.com/login/github
apiURL: https://auth.example.com
param: token
successMessage: All done
allowedHosts:
  - auth.example.com
`,
			Want: &Config{
				LoginURL:       "https://auth.example.com/login/github",
				APIURL:         "https://auth.example.com",
				Param:          "token",
				ListenHost:     "127.0.0.1",
				SuccessMessage: "All done",
				AllowedHosts:   []string{"auth.example.com"},
			},
		},
	} {
		t.Run(tc.Name, func(t *testing.T) {
			p := filepath.Join(dir, "config.yaml")
			if err := ioutil.WriteFile(p, []byte(tc.Data), 0600); err != nil {
				t.Fatal(err)
			}

			got, err := LoadConfig(p)
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(tc.Want, got); diff != "" {
				t.Error(diff)
			}
		})
	}
}

func TestLoadConfigErrors(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(os.TempDir(), "does-not-exist", "config.yaml")); err == nil {
		t.Error("want error for missing file")
	}

	f, err := ioutil.TempFile("", "config")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(f.Name())
	_, _ = f.WriteString("loginURL: [unterminated")
	f.Close()

	if _, err := LoadConfig(f.Name()); err == nil {
		t.Error("want error for invalid yaml")
	}
}

func TestConfigCatcher(t *testing.T) {
	cfg := &Config{}
	if c := cfg.Catcher(); c == nil {
		t.Fatal("want a catcher")
	}
	if cfg.LoginURL != "" {
		t.Error("Catcher should not modify the config")
	}
}

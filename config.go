package loopauth

import (
	"io/ioutil"

	"github.com/ghodss/yaml"
	"github.com/heroku/loopauth/catcher"
	"github.com/pkg/errors"
)

// DefaultAPIURL is the login server root used for the session endpoints.
const DefaultAPIURL = "http://localhost:3000"

type Config struct {
	// LoginURL is opened in the browser with the loopback port added as the
	// `port` query parameter.
	LoginURL string `json:"loginURL,omitempty"`

	// APIURL is the root of the /user and /logout endpoints.
	APIURL string `json:"apiURL,omitempty"`

	// Param is the callback query parameter carrying the session token.
	Param string `json:"param,omitempty"`

	// ListenHost is the loopback host the callback listener binds to.
	ListenHost string `json:"listenHost,omitempty"`

	// SuccessMessage is shown in the browser tab after a successful login.
	SuccessMessage string `json:"successMessage,omitempty"`

	// AllowedHosts restricts the hosts the browser may be pointed at. Empty
	// allows any host.
	AllowedHosts []string `json:"allowedHosts,omitempty"`
}

// LoadConfig reads a YAML (or JSON) config file. Unset values are defaulted.
func LoadConfig(path string) (*Config, error) {
	b, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading config")
	}

	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, errors.Wrapf(err, "parsing config %s", path)
	}

	return c.withDefaults(), nil
}

// withDefaults returns a copy of the Config, with the default values set if
// needed
func (c *Config) withDefaults() *Config {
	ret := *c

	if ret.LoginURL == "" {
		ret.LoginURL = catcher.DefaultLoginURL
	}
	if ret.APIURL == "" {
		ret.APIURL = DefaultAPIURL
	}
	if ret.Param == "" {
		ret.Param = catcher.DefaultParam
	}
	if ret.ListenHost == "" {
		ret.ListenHost = "127.0.0.1"
	}

	return &ret
}

// Catcher builds a catcher from the config. opts are applied last and take
// precedence.
func (c *Config) Catcher(opts ...catcher.Opt) *catcher.Catcher {
	cfg := c.withDefaults()

	var opener catcher.Opener = catcher.DetectOpener()
	if len(cfg.AllowedHosts) > 0 {
		opener = &catcher.ScopedOpener{
			Opener: opener,
			Scope:  catcher.Scope{Hosts: cfg.AllowedHosts},
		}
	}

	base := []catcher.Opt{
		catcher.WithOpener(opener),
		catcher.WithLoginURL(cfg.LoginURL),
		catcher.WithParam(cfg.Param),
		catcher.WithListenHost(cfg.ListenHost),
		catcher.WithRenderer(&catcher.TextRenderer{SuccessMessage: cfg.SuccessMessage}),
	}

	return catcher.New(append(base, opts...)...)
}

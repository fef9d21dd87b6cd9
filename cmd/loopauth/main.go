package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"

	"github.com/heroku/loopauth"
	"github.com/heroku/loopauth/catcher"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %s\n", os.Args[0], err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "loopauth",
	Short:         "Log in through the browser and use the resulting session",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var ( // flags
	configPath string
	loginURL   string
	apiURL     string
	logLevel   string

	outputFormat string
	token        string
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "Path to a YAML config file")
	pf.StringVar(&loginURL, "login-url", "", "Login endpoint opened in the browser (default "+catcher.DefaultLoginURL+")")
	pf.StringVar(&apiURL, "api-url", "", "Root of the session endpoints (default "+loopauth.DefaultAPIURL+")")
	pf.StringVar(&logLevel, "log-level", "warning", "Log level (debug, info, warning, error)")

	loginCmd := &cobra.Command{
		Use:   "login",
		Short: "Run a browser login and print the session token",
		Args:  cobra.NoArgs,
		RunE:  runLogin,
	}
	loginCmd.Flags().StringVarP(&outputFormat, "output", "o", "raw", "Output format, raw or json")

	whoamiCmd := &cobra.Command{
		Use:   "whoami",
		Short: "Print the user behind a session, logging in first if no token is given",
		Args:  cobra.NoArgs,
		RunE:  runWhoami,
	}
	whoamiCmd.Flags().StringVar(&token, "token", "", "Session token to use instead of logging in")

	logoutCmd := &cobra.Command{
		Use:   "logout",
		Short: "Invalidate a session on the server",
		Args:  cobra.NoArgs,
		RunE:  runLogout,
	}
	logoutCmd.Flags().StringVar(&token, "token", "", "Session token to invalidate (required)")
	_ = logoutCmd.MarkFlagRequired("token")

	rootCmd.AddCommand(loginCmd, whoamiCmd, logoutCmd)
}

// setup resolves the config from file and flags.
func setup() (*loopauth.Config, logrus.FieldLogger, error) {
	logger := logrus.New()
	logger.Out = os.Stderr
	lvl, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return nil, nil, errors.Wrap(err, "parsing log level")
	}
	logger.SetLevel(lvl)

	cfg := &loopauth.Config{}
	if configPath != "" {
		cfg, err = loopauth.LoadConfig(configPath)
		if err != nil {
			return nil, nil, err
		}
	}
	if loginURL != "" {
		cfg.LoginURL = loginURL
	}
	if apiURL != "" {
		cfg.APIURL = apiURL
	}
	if cfg.APIURL == "" {
		cfg.APIURL = loopauth.DefaultAPIURL
	}

	return cfg, logger, nil
}

func sessionSource(cfg *loopauth.Config, logger logrus.FieldLogger) loopauth.SessionSource {
	if token != "" {
		return loopauth.StaticSource(token)
	}
	return &loopauth.CachingSource{
		Source: cfg.Catcher(catcher.WithLogger(logger)),
	}
}

func runLogin(cmd *cobra.Command, _ []string) error {
	if outputFormat != "raw" && outputFormat != "json" {
		return fmt.Errorf("unknown output format %q", outputFormat)
	}

	cfg, logger, err := setup()
	if err != nil {
		return err
	}

	ts := loopauth.TokenSource(cmd.Context(), sessionSource(cfg, logger))
	tok, err := ts.Token()
	if err != nil {
		return errors.Wrap(err, "logging in")
	}

	if outputFormat == "json" {
		return json.NewEncoder(cmd.OutOrStdout()).Encode(tok)
	}
	fmt.Fprintln(cmd.OutOrStdout(), tok.AccessToken)
	return nil
}

func runWhoami(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}

	client := loopauth.NewClient(cfg.APIURL, sessionSource(cfg, logger))
	u, err := client.User(cmd.Context())
	if err != nil {
		return errors.Wrap(err, "fetching user")
	}
	if u == nil {
		return errors.New("session is not valid, log in again")
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", u.Username, u.UserID)
	return nil
}

func runLogout(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}

	client := loopauth.NewClient(cfg.APIURL, sessionSource(cfg, logger))
	if err := client.Logout(cmd.Context()); err != nil {
		var herr *loopauth.HTTPError
		if errors.As(err, &herr) && herr.StatusCode() == http.StatusUnauthorized {
			return errors.New("session already logged out")
		}
		return errors.Wrap(err, "logging out")
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
	return nil
}

package main

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/sessions"
	"github.com/heroku/loopauth/internal/devserver"
	"github.com/heroku/loopauth/internal/devserver/storage"
	"github.com/heroku/loopauth/internal/devserver/storage/disk"
	"github.com/heroku/loopauth/internal/devserver/storage/memory"
	sqlstorage "github.com/heroku/loopauth/internal/devserver/storage/sql"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const (
	sessionAuthenticationKeyBytesLength = 64
	sessionEncryptionKeyBytesLength     = 32
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %s\n", os.Args[0], err)
		os.Exit(1)
	}
}

var cmd = cobra.Command{
	Use:          "loopauth-devserver",
	Short:        "Run a local login server that approves every login",
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE:         run,
}

var ( // flags
	addr                     string
	logLevel                 string
	dbPath                   string
	dbURL                    string
	identity                 devserver.Identity
	dcfg                     devserver.Config
	sessionAuthenticationKey string
	sessionEncryptionKey     string
)

func init() {
	cmd.Flags().StringVar(&addr, "addr", "localhost:3000", "Address to listen on")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warning, error)")
	cmd.Flags().StringVar(&identity.Username, "username", "octocat", "Username every login is approved as")
	cmd.Flags().StringVar(&identity.UserID, "user-id", "1", "User ID every login is approved as")
	cmd.Flags().StringVar(&dbPath, "db", "", "Path to a bolt database for sessions. Sessions are kept in memory if neither --db nor --db-url is set")
	cmd.Flags().StringVar(&dbURL, "db-url", "", "Postgres URL for sessions")
	cmd.Flags().StringSliceVar(&dcfg.AllowedOrigins, "allowed-origin", nil, "Origin allowed to make CORS requests to /user and /logout, may be repeated")
	cmd.Flags().DurationVar(&dcfg.SessionTTL, "session-ttl", 30*24*time.Hour, "How long issued sessions are valid")
	cmd.Flags().StringVar(&sessionAuthenticationKey, "session-auth-key", mustGenRandB64(sessionAuthenticationKeyBytesLength), "Session authentication key, 64-byte, base64-encoded")
	cmd.Flags().StringVar(&sessionEncryptionKey, "session-encrypt-key", mustGenRandB64(sessionEncryptionKeyBytesLength), "Session encryption key, 32-byte, base64-encoded")
}

func run(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	logger := logrus.New()
	lvl, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return errors.Wrap(err, "parsing log level")
	}
	logger.SetLevel(lvl)

	authKey, err := base64.StdEncoding.DecodeString(sessionAuthenticationKey)
	if err != nil {
		return errors.Wrap(err, "failed to base64 decode session-auth-key")
	} else if len(authKey) != sessionAuthenticationKeyBytesLength {
		return fmt.Errorf("session-auth-key must be %d bytes of random data", sessionAuthenticationKeyBytesLength)
	}

	encKey, err := base64.StdEncoding.DecodeString(sessionEncryptionKey)
	if err != nil {
		return errors.Wrap(err, "failed to base64 decode session-encrypt-key")
	} else if len(encKey) != sessionEncryptionKeyBytesLength {
		return fmt.Errorf("session-encrypt-key must be %d bytes of random data", sessionEncryptionKeyBytesLength)
	}

	stor, closeStorage, err := openStorage(ctx)
	if err != nil {
		return err
	}
	defer closeStorage()

	dcfg.Storage = stor
	dcfg.Connector = devserver.NewStaticConnector(identity)
	dcfg.CookieStore = sessions.NewCookieStore(authKey, encKey)
	dcfg.Logger = logger
	dcfg.PrometheusRegistry = prometheus.NewRegistry()

	s, err := devserver.New(ctx, dcfg)
	if err != nil {
		return errors.Wrap(err, "Error creating server")
	}

	srv := &http.Server{
		Addr:    addr,
		Handler: handlers.RecoveryHandler(handlers.RecoveryLogger(logger))(handlers.LoggingHandler(logger.Writer(), s)),
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Infof("Listening on %s, approving logins as %s", addr, identity.Username)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func openStorage(ctx context.Context) (storage.Storage, func(), error) {
	switch {
	case dbPath != "" && dbURL != "":
		return nil, nil, errors.New("only one of --db and --db-url may be set")
	case dbURL != "":
		db, err := sql.Open("postgres", dbURL)
		if err != nil {
			return nil, nil, errors.Wrap(err, "opening database")
		}
		s, err := sqlstorage.New(ctx, db)
		if err != nil {
			_ = db.Close()
			return nil, nil, errors.Wrap(err, "initializing sql storage")
		}
		return s, func() { _ = db.Close() }, nil
	case dbPath != "":
		s, err := disk.New(dbPath, 0600)
		if err != nil {
			return nil, nil, errors.Wrap(err, "initializing disk storage")
		}
		return s, func() { _ = s.Close() }, nil
	default:
		return memory.New(), func() {}, nil
	}
}

func mustGenRandB64(len int) string {
	b := make([]byte, len)
	_, err := rand.Read(b)
	if err != nil {
		log.Fatalf("Error fetching %d random bytes [%+v]", len, err)
	}
	return base64.StdEncoding.EncodeToString(b)
}

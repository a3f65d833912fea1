// Command leaguechat is a terminal client for the chat sync engine.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/and161185/leaguechat/internal/auth"
	"github.com/and161185/leaguechat/internal/config"
	"github.com/and161185/leaguechat/internal/gateway"
	"github.com/and161185/leaguechat/internal/gateway/rpc"
	"github.com/and161185/leaguechat/internal/logging"
	"github.com/and161185/leaguechat/internal/model"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// ---- token store ----

type tokenFile struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func cfgDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "leaguechat")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "leaguechat")
}

func tokenPath() string { return filepath.Join(cfgDir(), "token.json") }

func saveToken(tok string, exp time.Time) error {
	if err := os.MkdirAll(cfgDir(), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(tokenPath(), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(tokenFile{AccessToken: tok, ExpiresAt: exp})
}

func loadToken() (string, time.Time, error) {
	b, err := os.ReadFile(tokenPath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", time.Time{}, errors.New("not logged in (leaguechat login --token ...)")
		}
		return "", time.Time{}, err
	}
	var tf tokenFile
	if err := json.Unmarshal(b, &tf); err != nil {
		return "", time.Time{}, err
	}
	if tf.AccessToken == "" || time.Now().After(tf.ExpiresAt) {
		return "", time.Time{}, errors.New("no valid token (login required)")
	}
	return tf.AccessToken, tf.ExpiresAt, nil
}

func printJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

// ---- app ----

type app struct {
	cfgPath   string
	envFile   string
	addr      string
	pushURL   string
	caFile    string
	plaintext bool
	insecure  bool
	asJSON    bool
	verbose   bool

	cfg *config.Config
	log *zap.Logger
	out io.Writer

	// dial opens the request/response API; replaced in tests.
	dial func(rpc.DialConfig) (gateway.API, io.Closer, error)
}

func newApp() *app {
	return &app{
		out: os.Stdout,
		log: zap.NewNop(),
		dial: func(c rpc.DialConfig) (gateway.API, io.Closer, error) {
			cl, err := rpc.Dial(c)
			if err != nil {
				return nil, nil, err
			}
			return cl, cl, nil
		},
	}
}

// setup loads configuration and lets explicitly set flags win over it.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.cfgPath, a.envFile)
	if err != nil {
		return err
	}
	f := cmd.Flags()
	if f.Changed("addr") {
		cfg.Client.Addr = a.addr
	}
	if f.Changed("push-url") {
		cfg.Client.PushURL = a.pushURL
	}
	if f.Changed("cacert") {
		cfg.Client.CAFile = a.caFile
	}
	if f.Changed("plaintext") {
		cfg.Client.Plaintext = a.plaintext
	}
	if err := cfg.Client.Validate(); err != nil {
		return err
	}
	if a.verbose {
		cfg.Log.Level = "debug"
	}
	log, err := logging.New(cfg.Log.Level, cfg.Log.Dev)
	if err != nil {
		return err
	}
	a.cfg, a.log = cfg, log
	return nil
}

// identity returns the stored token and the user it names.
func (a *app) identity() (string, model.User, error) {
	tok, _, err := loadToken()
	if err != nil {
		return "", model.User{}, err
	}
	id, _, err := auth.Inspect(tok)
	if err != nil {
		return "", model.User{}, fmt.Errorf("stored token: %w", err)
	}
	return tok, model.User{ID: id.UserID, Name: id.Name}, nil
}

func (a *app) api(token string) (gateway.API, io.Closer, error) {
	return a.dial(rpc.DialConfig{
		Addr:      a.cfg.Client.Addr,
		CAFile:    a.cfg.Client.CAFile,
		SkipTLS:   a.insecure,
		Plaintext: a.cfg.Client.Plaintext,
		Token:     token,
	})
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "leaguechat",
		Short:         "Chat client for league threads",
		Version:       fmt.Sprintf("%s (%s)", version, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.SetOut(a.out)

	pf := root.PersistentFlags()
	pf.StringVarP(&a.cfgPath, "config", "c", "", "YAML config file")
	pf.StringVar(&a.envFile, "env-file", ".env", "dotenv file loaded before the environment")
	pf.StringVar(&a.addr, "addr", "", "gRPC server address (overrides config)")
	pf.StringVar(&a.pushURL, "push-url", "", "WebSocket push endpoint (overrides config)")
	pf.StringVar(&a.caFile, "cacert", "", "CA cert (PEM)")
	pf.BoolVar(&a.plaintext, "plaintext", false, "connect without TLS")
	pf.BoolVar(&a.insecure, "insecure", false, "skip cert verify (dev)")
	pf.BoolVar(&a.asJSON, "json", false, "print JSON instead of text")
	pf.BoolVarP(&a.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		newLoginCmd(a),
		newWhoamiCmd(a),
		newThreadsCmd(a),
		newNewCmd(a),
		newSendCmd(a),
		newRmCmd(a),
		newOpenCmd(a),
	)
	return root
}

func main() {
	if err := newRootCmd(newApp()).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

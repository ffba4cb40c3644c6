package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/zhouzirui/ligochat/internal/config"
	"github.com/zhouzirui/ligochat/internal/service/session"
	"github.com/zhouzirui/ligochat/internal/service/transport"
	pkglog "github.com/zhouzirui/ligochat/pkg/log"
)

const annotationInteractive = "interactive"

// defaultInteractiveLogFile is where interactive commands log when no file is set.
var defaultInteractiveLogFile = filepath.Join("tmp", "ligochat.log")

type app struct {
	v         *viper.Viper
	cfgFile   string
	cfg       *config.Config
	logCloser io.Closer
}

func newApp() *app {
	return &app{v: config.NewViper()}
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:               "ligochat",
		Short:             "Terminal client and HTTP bridge for LigoChat rooms",
		SilenceUsage:      true,
		Annotations:       map[string]string{annotationInteractive: "true"},
		PersistentPreRunE: a.load,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runTUI(cmd.Context())
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (default ./ligochat.yaml)")
	flags.String("server-url", config.DefaultURL, "STOMP over WebSocket endpoint of the chat server")
	flags.Duration("connect-timeout", 0, "give up connecting after this long")
	flags.String("log-level", "info", "log level: trace, debug, info, warn, error, off")
	flags.String("log-file", "", "write logs to this file")

	a.bind("server.url", flags.Lookup("server-url"))
	a.bind("session.connect_timeout", flags.Lookup("connect-timeout"))
	a.bind("log.level", flags.Lookup("log-level"))
	a.bind("log.file", flags.Lookup("log-file"))

	root.AddCommand(a.tuiCmd(), a.serveCmd(), a.configCmd())
	return root
}

func (a *app) bind(key string, flag *pflag.Flag) {
	if err := a.v.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("bind flag %s: %v", key, err))
	}
}

// load resolves configuration and logging before any command runs.
func (a *app) load(cmd *cobra.Command, _ []string) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}

	cfg, err := config.Load(a.v, a.cfgFile)
	if err != nil {
		return err
	}

	cfg.Log = logConfigFor(cmd, cfg.Log)
	closer, err := pkglog.Init(cfg.Log)
	if err != nil {
		return err
	}
	a.cfg, a.logCloser = cfg, closer
	return nil
}

// logConfigFor keeps interactive commands off stdout and stderr, which the
// terminal UI owns.
func logConfigFor(cmd *cobra.Command, cfg pkglog.Config) pkglog.Config {
	if cmd.Annotations[annotationInteractive] == "true" && cfg.File == "" {
		cfg.File = defaultInteractiveLogFile
	}
	return cfg
}

func (a *app) close() {
	if a.logCloser != nil {
		_ = a.logCloser.Close()
	}
}

func (a *app) newTransport() session.Transport {
	return transport.New(a.cfg.TransportOptions(), pkglog.L())
}

func (a *app) newController(username string) (*session.Controller, error) {
	opts := append(a.cfg.SessionOptions(), session.WithLogger(pkglog.L()))
	return session.NewController(username, a.newTransport(), opts...)
}

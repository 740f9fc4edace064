// Package main provides the scanclient command line client for the BookScanner photo API.
// Every command runs through the authenticated gateway, so an expired access token is
// refreshed transparently and a failed refresh asks the user to sign in again.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/bookscanner/scanclient/internal/buildinfo"
	"github.com/bookscanner/scanclient/internal/cmd"
	"github.com/bookscanner/scanclient/internal/config"
	"github.com/bookscanner/scanclient/internal/logging"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

var (
	Version           = "dev"
	Commit            = "none"
	BuildDate         = "unknown"
	DefaultConfigPath = ""
)

func init() {
	logging.SetupBaseLogger()
	buildinfo.Version = Version
	buildinfo.Commit = Commit
	buildinfo.BuildDate = BuildDate
}

const usage = `Usage: scanclient [flags] <command> [args]

Commands:
  login [-email E] [-password P]      sign in
  register [-email E] [-password P]   create an account and sign in
  logout                              forget the stored tokens
  status                              show whether tokens are stored and when they expire
  refresh                             force an access token refresh
  list                                list your photos
  upload [-copy] FILE...              upload photos
  download ID OUT                     save a photo to OUT
  delete ID                           delete a photo
  delete-account [-yes]               delete your account and all photos
  open ID                             open a photo in the browser

Flags:
`

func main() {
	os.Exit(run())
}

func run() int {
	var configPath string
	var profile string
	var debug bool
	var showVersion bool

	flag.StringVar(&configPath, "config", DefaultConfigPath, "Configure File Path")
	flag.StringVar(&profile, "profile", "", "Token profile name")
	flag.BoolVar(&debug, "debug", false, "Enable debug logging")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.CommandLine.Usage = func() {
		out := flag.CommandLine.Output()
		_, _ = fmt.Fprint(out, usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	if showVersion {
		fmt.Printf("scanclient %s\n", buildinfo.String())
		return 0
	}
	args := flag.Args()
	if len(args) == 0 {
		flag.CommandLine.Usage()
		return 2
	}

	wd, err := os.Getwd()
	if err != nil {
		log.Errorf("failed to get working directory: %v", err)
		return 1
	}
	// Load environment variables from .env if present.
	if errLoad := godotenv.Load(filepath.Join(wd, ".env")); errLoad != nil {
		if !errors.Is(errLoad, os.ErrNotExist) {
			log.WithError(errLoad).Warn("failed to load .env file")
		}
	}

	if configPath == "" {
		configPath = filepath.Join(wd, "config.yaml")
	}
	cfg, err := config.LoadConfigOptional(configPath, true)
	if err != nil {
		log.Errorf("failed to load config: %v", err)
		return 1
	}
	cfg.ApplyEnvOverrides(os.LookupEnv)
	if profile != "" {
		cfg.TokenStore.Profile = profile
	}
	if debug {
		cfg.Debug = true
	}
	if cfg.UserAgent == config.DefaultUserAgent {
		cfg.UserAgent = buildinfo.UserAgent(cfg.UserAgent)
	}
	if err = cfg.Validate(); err != nil {
		log.Errorf("invalid config: %v", err)
		return 1
	}
	if err = logging.ConfigureLogOutput(cfg); err != nil {
		log.Errorf("failed to configure log output: %v", err)
		return 1
	}
	defer logging.CloseLogOutputs()
	log.Debugf("scanclient %s", buildinfo.String())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	session, err := cmd.NewSession(ctx, cfg, nil)
	if err != nil {
		log.Errorf("failed to initialize token store: %v", err)
		return 1
	}
	defer func() {
		if errClose := session.Close(); errClose != nil {
			log.WithError(errClose).Warn("failed to close token store")
		}
	}()

	watchCtx, cancelWatch := context.WithCancel(ctx)
	defer cancelWatch()
	if errWatch := session.Watch(watchCtx); errWatch != nil {
		log.WithError(errWatch).Debug("token file watcher not started")
	}

	if err = dispatch(ctx, session, args[0], args[1:]); err != nil {
		if errors.Is(err, errUsage) {
			flag.CommandLine.Usage()
			return 2
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

var errUsage = errors.New("usage")

func dispatch(ctx context.Context, s *cmd.Session, command string, args []string) error {
	fs := flag.NewFlagSet(command, flag.ContinueOnError)
	email := fs.String("email", "", "Account email")
	password := fs.String("password", "", "Account password")
	copyURL := fs.Bool("copy", false, "Copy the last processed URL to the clipboard")
	yes := fs.Bool("yes", false, "Skip the confirmation prompt")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	rest := fs.Args()
	need := func(n int) error {
		if len(rest) != n {
			return fmt.Errorf("%s expects %d argument(s), got %d", command, n, len(rest))
		}
		return nil
	}

	switch strings.ToLower(command) {
	case "login":
		return s.DoLogin(ctx, *email, *password)
	case "register":
		return s.DoRegister(ctx, *email, *password, *password)
	case "logout":
		return s.DoLogout(ctx)
	case "status":
		return s.DoStatus(ctx)
	case "refresh":
		return s.DoRefresh(ctx)
	case "list", "ls":
		return s.DoList(ctx)
	case "upload":
		return s.DoUpload(ctx, rest, *copyURL)
	case "download":
		if err := need(2); err != nil {
			return err
		}
		return s.DoDownload(ctx, rest[0], rest[1])
	case "delete", "rm":
		if err := need(1); err != nil {
			return err
		}
		return s.DoDelete(ctx, rest[0])
	case "delete-account":
		return s.DoDeleteAccount(ctx, *yes)
	case "open":
		if err := need(1); err != nil {
			return err
		}
		return s.DoOpen(ctx, rest[0])
	}
	return errUsage
}

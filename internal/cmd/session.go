// Package cmd implements the scanclient subcommands on top of the gateway and photos client.
package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/bookscanner/scanclient/internal/config"
	"github.com/bookscanner/scanclient/internal/store"
	"github.com/bookscanner/scanclient/sdk/auth"
	"github.com/bookscanner/scanclient/sdk/gateway"
	"github.com/bookscanner/scanclient/sdk/photos"
	log "github.com/sirupsen/logrus"
)

// LoginOptions carries the interactive hooks used by the commands.
type LoginOptions struct {
	// Prompt asks the user for a value. Defaults to reading a line from stdin.
	Prompt func(prompt string) (string, error)
	// Out receives command output. Defaults to stdout.
	Out io.Writer
}

// Session is one CLI invocation: the configured token store, gateway and photos client.
type Session struct {
	cfg        *config.Config
	store      auth.TokenStore
	closeStore func() error
	gw         *gateway.Gateway
	photos     *photos.Client
	out        io.Writer
	prompt     func(string) (string, error)
}

// NewSession opens the configured token store and wires the gateway. A refresh failure during
// any command prints a sign-in prompt, like the app returning to its login screen.
func NewSession(ctx context.Context, cfg *config.Config, options *LoginOptions, gwOpts ...gateway.Option) (*Session, error) {
	if options == nil {
		options = &LoginOptions{}
	}
	tokenStore, closeStore, err := store.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	gw, err := gateway.New(cfg, tokenStore, gwOpts...)
	if err != nil {
		_ = closeStore()
		return nil, err
	}

	s := &Session{
		cfg:        cfg,
		store:      tokenStore,
		closeStore: closeStore,
		gw:         gw,
		photos:     photos.NewClient(gw),
		out:        options.Out,
		prompt:     options.Prompt,
	}
	if s.out == nil {
		s.out = os.Stdout
	}
	if s.prompt == nil {
		s.prompt = stdinPrompt(s.out)
	}
	gw.OnLogout(func(reason error) {
		log.WithError(reason).Debug("session ended")
		s.printf("Your session has expired. Run `scanclient login` to sign in again.\n")
	})
	return s, nil
}

// Gateway exposes the underlying gateway.
func (s *Session) Gateway() *gateway.Gateway { return s.gw }

// Close releases token store connections.
func (s *Session) Close() error {
	return s.closeStore()
}

// Watch starts keeping a file token store in sync with writes from other scanclient processes
// until ctx is done. It is a no-op for other backends.
func (s *Session) Watch(ctx context.Context) error {
	if fileStore, ok := s.store.(*auth.FileTokenStore); ok {
		return fileStore.Watch(ctx)
	}
	return nil
}

func (s *Session) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(s.out, format, args...)
}

func (s *Session) ask(prompt, current string) (string, error) {
	if strings.TrimSpace(current) != "" {
		return current, nil
	}
	value, err := s.prompt(prompt)
	if err != nil {
		return "", fmt.Errorf("read input: %w", err)
	}
	return strings.TrimSpace(value), nil
}

func stdinPrompt(out io.Writer) func(string) (string, error) {
	reader := bufio.NewReader(os.Stdin)
	return func(prompt string) (string, error) {
		_, _ = fmt.Fprint(out, prompt)
		value, err := reader.ReadString('\n')
		if err != nil && (err != io.EOF || value == "") {
			return "", err
		}
		return strings.TrimSpace(value), nil
	}
}

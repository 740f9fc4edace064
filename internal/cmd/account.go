package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bookscanner/scanclient/sdk/auth"
	"github.com/bookscanner/scanclient/sdk/gateway"
	"github.com/bookscanner/scanclient/sdk/photos"
)

// DoLogin signs in, prompting for whichever of email and password is blank.
func (s *Session) DoLogin(ctx context.Context, email, password string) error {
	email, err := s.ask("Email: ", email)
	if err != nil {
		return err
	}
	password, err = s.ask("Password: ", password)
	if err != nil {
		return err
	}
	if _, err = s.photos.Login(ctx, email, password); err != nil {
		if errors.Is(err, photos.ErrInvalidCredentials) {
			return fmt.Errorf("incorrect email or password")
		}
		return err
	}
	s.printf("Signed in as %s\n", email)
	return nil
}

// DoRegister creates an account and signs straight in with it.
func (s *Session) DoRegister(ctx context.Context, email, password, confirm string) error {
	email, err := s.ask("Email: ", email)
	if err != nil {
		return err
	}
	if password, err = s.ask("Password: ", password); err != nil {
		return err
	}
	if confirm, err = s.ask("Confirm password: ", confirm); err != nil {
		return err
	}
	if err = s.photos.Register(ctx, email, password, confirm); err != nil {
		var httpErr *gateway.HTTPError
		if errors.As(err, &httpErr) && httpErr.Detail() != "" {
			return fmt.Errorf("registration failed: %s", httpErr.Detail())
		}
		return err
	}
	s.printf("Account created for %s\n", email)
	return s.DoLogin(ctx, email, password)
}

// DoLogout forgets the stored tokens.
func (s *Session) DoLogout(ctx context.Context) error {
	if err := s.photos.Logout(ctx); err != nil {
		return err
	}
	s.printf("Signed out\n")
	return nil
}

// DoStatus reports whether tokens are stored and when the access token expires.
func (s *Session) DoStatus(ctx context.Context) error {
	pair, err := auth.LoadPair(ctx, s.store)
	if err != nil {
		return err
	}
	if pair == nil {
		s.printf("Not signed in\n")
		return nil
	}
	expiry, ok := auth.AccessExpiry(pair.Access)
	switch {
	case !ok:
		s.printf("Signed in (access token expiry unknown)\n")
	case time.Until(expiry) <= 0:
		s.printf("Signed in (access token expired %s ago, it will be refreshed on the next request)\n",
			time.Since(expiry).Round(time.Second))
	default:
		s.printf("Signed in (access token valid until %s)\n", expiry.Local().Format(time.RFC1123))
	}
	return nil
}

// DoRefresh forces a token refresh through the coordinator.
func (s *Session) DoRefresh(ctx context.Context) error {
	if _, err := s.gw.Coordinator().Refresh(ctx); err != nil {
		return err
	}
	s.printf("Access token refreshed\n")
	return nil
}

// DoDeleteAccount deletes the account and every photo. Unless confirmed it asks first.
func (s *Session) DoDeleteAccount(ctx context.Context, confirmed bool) error {
	if !confirmed {
		answer, err := s.ask("Delete your account and all photos? Type 'yes' to confirm: ", "")
		if err != nil {
			return err
		}
		if answer != "yes" {
			s.printf("Aborted\n")
			return nil
		}
	}
	if err := s.photos.DeleteAccount(ctx); err != nil {
		return err
	}
	s.printf("Account deleted\n")
	return nil
}

// Package main runs the fake BookScanner photo API for local development and manual testing
// of scanclient. Access tokens are short-lived by default so the refresh path is exercised.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bookscanner/scanclient/internal/logging"
	"github.com/bookscanner/scanclient/internal/mockserver"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

func init() {
	logging.SetupBaseLogger()
}

func main() {
	var addr string
	var email string
	var password string
	var accessTTL time.Duration
	var rotate bool
	var debug bool

	flag.StringVar(&addr, "addr", "127.0.0.1:8000", "Listen address")
	flag.StringVar(&email, "user", "", "Seed an account with this email")
	flag.StringVar(&password, "password", "", "Password for the seeded account")
	flag.DurationVar(&accessTTL, "access-ttl", time.Minute, "Access token lifetime")
	flag.BoolVar(&rotate, "rotate", true, "Rotate refresh tokens on every refresh")
	flag.BoolVar(&debug, "debug", false, "Enable debug logging")
	flag.Parse()

	if debug {
		log.SetLevel(log.DebugLevel)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	backend := mockserver.New(mockserver.WithAccessTTL(accessTTL), mockserver.WithRefreshRotation(rotate))
	if email != "" {
		if err := backend.AddUser(email, password); err != nil {
			log.Fatalf("failed to seed user: %v", err)
		}
		log.Infof("seeded account %s", email)
	}

	server := &http.Server{
		Addr:              addr,
		Handler:           backend.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Infof("mock backend listening on http://%s/api/ (access ttl %s, rotation %t)", addr, accessTTL, rotate)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server failed: %v", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down mock backend")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorf("graceful shutdown failed: %v", err)
	}
}

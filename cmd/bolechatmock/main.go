package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/matheus3301/bolechat/internal/logging"
	"github.com/matheus3301/bolechat/internal/mockserver"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	addr := flag.String("addr", envOr("BOLECHAT_MOCK_ADDR", ":3000"), "listen address")
	secret := flag.String("secret", envOr("BOLECHAT_MOCK_SECRET", "bolechat-dev-secret"), "HS256 signing secret")
	ttl := flag.Duration("token-ttl", 24*time.Hour, "access token lifetime")
	origins := flag.String("origins", "*", "comma separated allowed origins")
	debug := flag.Bool("debug", false, "log every request")
	flag.Parse()

	logger := logging.Console("bolechatmock", *debug)
	defer func() { _ = logger.Sync() }()

	srv := mockserver.New(mockserver.Options{
		Secret:         []byte(*secret),
		TokenTTL:       *ttl,
		AllowedOrigins: strings.Split(*origins, ","),
		Logger:         logger,
	})

	// "token <username>" prints a token for a seeded user and exits.
	if args := flag.Args(); len(args) > 0 {
		if args[0] != "token" || len(args) != 2 {
			fmt.Fprintln(os.Stderr, "usage: bolechatmock [flags] [token <username>]")
			os.Exit(1)
		}
		tok, err := srv.TokenFor(args[1])
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(tok)
		return
	}

	httpSrv := &http.Server{
		Addr:              *addr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("mock backend listening", zap.String("addr", *addr))
		for _, u := range mockserver.DefaultUsers() {
			logger.Info("seeded user", zap.String("id", u.ID), zap.String("username", u.Username))
		}
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", zap.Error(err))
	}
	logger.Info("mock backend stopped")
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

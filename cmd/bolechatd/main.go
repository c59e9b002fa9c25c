package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/matheus3301/bolechat/internal/config"
	"github.com/matheus3301/bolechat/internal/daemon"
	"github.com/matheus3301/bolechat/internal/session"
	"go.uber.org/fx"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	debugFlag := flag.Bool("debug", false, "log at debug level")
	flag.Parse()

	cfg, err := config.LoadOrDefault(session.ConfigPath(), session.EnvPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		fx.NopLogger,
		daemon.Module(daemon.Params{
			SessionName: sessionName,
			Config:      cfg,
			Debug:       *debugFlag,
		}),
	)

	app.Run()
}

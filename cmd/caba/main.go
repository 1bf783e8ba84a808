package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/cabachat/caba/internal/app"
	"github.com/cabachat/caba/internal/config"
	"github.com/cabachat/caba/internal/session"
	"go.uber.org/fx"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	emailFlag := flag.String("email", "", "account email for sign-in")
	passwordFlag := flag.String("password", "", "account password for sign-in")
	flag.Parse()

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load(session.ConfigPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot read %s: %v\n", session.ConfigPath(), err)
		os.Exit(1)
	}
	if cfg.Backend.URL == "" || cfg.Backend.AnonKey == "" {
		fmt.Fprintln(os.Stderr, "error: backend.url and backend.anon_key must be set in config.toml")
		os.Exit(1)
	}

	fx.New(
		app.Module(app.Params{
			SessionName: sessionName,
			Backend:     cfg.Backend,
			Email:       *emailFlag,
			Password:    *passwordFlag,
		}),
	).Run()
}

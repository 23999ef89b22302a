package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"go.uber.org/fx"

	"github.com/lungsom/chatd/internal/config"
	"github.com/lungsom/chatd/internal/daemon"
	"github.com/lungsom/chatd/internal/session"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	flag.Parse()

	// Credentials come from the identity provider out of band; a local
	// .env is the development convenience for supplying them.
	_ = godotenv.Load()
	sess := session.NewContext(os.Getenv("CHATD_USER_ID"), os.Getenv("CHATD_TOKEN"))
	if err := sess.RequireValid(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\nset CHATD_USER_ID and CHATD_TOKEN and retry\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load(session.ConfigPath())
	if err != nil {
		cfg = config.Default()
	}

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{
			SessionName: sessionName,
			Sess:        sess,
			Config:      cfg,
		}),
	)

	app.Run()
}

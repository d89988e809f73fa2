package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/bazario/chatkit/internal/daemon"
	"github.com/bazario/chatkit/internal/session"
	"go.uber.org/fx"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	tokenFlag := flag.String("token", "", "auth token (overrides the session token file)")
	flag.Parse()

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{
			SessionName: sessionName,
			Credential:  *tokenFlag,
		}),
	)

	app.Run()
}

package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/fx"

	"github.com/ofbraga/chatd/internal/daemon"
	"github.com/ofbraga/chatd/internal/home"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	pairFlag := flag.Bool("pair", false, "run the QR pairing flow and exit")
	flag.Parse()

	profile := home.Resolve(*profileFlag)
	if err := home.ValidateName(profile); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if *pairFlag {
		if err := runPair(profile); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	app := fx.New(
		daemon.Module(daemon.Params{Profile: profile}),
	)

	app.Run()
}

package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/matheus3301/wppdash/internal/config"
	"github.com/matheus3301/wppdash/internal/daemon"
	"github.com/matheus3301/wppdash/internal/session"
	"go.uber.org/fx"
)

var version = "dev"

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	configFlag := flag.String("config", "", "config file (default ~/.wpp/config.toml)")
	flag.Parse()

	// A .env in the working directory may carry WPP_* overrides.
	_ = godotenv.Load()

	cfgPath := *configFlag
	if cfgPath == "" {
		cfgPath = session.ConfigPath()
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	cfg.ApplyEnv(os.Getenv)

	sessionName := session.Resolve(*sessionFlag, cfg)
	if err := session.ValidateName(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{
			SessionName: sessionName,
			Config:      cfg,
			Version:     version,
		}),
	)

	app.Run()
}

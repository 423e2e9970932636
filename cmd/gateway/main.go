package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
)

const envFile = ".env"

func main() {
	if err := loadEnvFile(envFile); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	app := &cli.App{
		Name:  "gateway",
		Usage: "Serve filtered blockchain logs over a framed TCP protocol",
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Run the gateway server",
				Flags:  runFlags(),
				Action: run,
			},
			{
				Name:   "query",
				Usage:  "Query a running gateway for logs and print them as JSON lines",
				Flags:  queryFlags(),
				Action: query,
			},
			{
				Name:   "ping",
				Usage:  "Check that a gateway is responsive",
				Flags:  pingFlags(),
				Action: ping,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadEnvFile populates the environment from path when it exists. Variables
// already set in the environment win.
func loadEnvFile(path string) error {
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("failed to load %s: %w", path, err)
}

package main

import (
	"fmt"
	"os"

	"github.com/konard/BitrotBruteforce/internal/config"
	"github.com/konard/BitrotBruteforce/internal/metrics"
	"github.com/urfave/cli/v2"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	var cfg *config.Config

	return &cli.App{
		Name:  "bitrot",
		Usage: "Find and repair single-bit corruption with GPU acceleration",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Value:   "bitrot.yaml",
				Usage:   "Load configuration from `FILE`",
				EnvVars: []string{"BITROT_CONFIG"},
			},
		},
		Before: func(c *cli.Context) error {
			var err error
			cfg, err = config.LoadConfigOrDefault(c.String("config"))
			return err
		},
		After: func(c *cli.Context) error {
			if cfg == nil || cfg.Metrics.Textfile == "" {
				return nil
			}
			return metrics.WriteTextfile(cfg.Metrics.Textfile)
		},
		Commands: []*cli.Command{
			detectCommand(&cfg),
			checkCommand(&cfg),
			repairCommand(&cfg),
			initCommand(),
		},
	}
}

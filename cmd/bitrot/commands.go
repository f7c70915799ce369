package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/common-nighthawk/go-figure"
	"github.com/konard/BitrotBruteforce/fixtures"
	"github.com/konard/BitrotBruteforce/internal/app"
	"github.com/konard/BitrotBruteforce/internal/bruteforce"
	"github.com/konard/BitrotBruteforce/internal/config"
	"github.com/konard/BitrotBruteforce/internal/digest"
	"github.com/konard/BitrotBruteforce/internal/gpu"
	"github.com/konard/BitrotBruteforce/internal/repair"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func detectCommand(cfg **config.Config) *cli.Command {
	return &cli.Command{
		Name:  "detect",
		Usage: "Show the detected GPU and the execution backend that would be used",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "quiet", Aliases: []string{"q"}, Usage: "Skip the banner"},
		},
		Action: func(c *cli.Context) error {
			var manager *gpu.Manager
			if err := app.Populate(*cfg, &manager); err != nil {
				return err
			}
			if !c.Bool("quiet") {
				figure.NewFigure("bitrot", "", true).Print()
				fmt.Println()
			}
			backend := manager.Backend()
			fmt.Printf("GPU:     %s\n", manager.Vendor().Description())
			fmt.Printf("Backend: %s\n", backend.Kind())
			if backend.Kind() != gpu.Unavailable {
				fmt.Printf("Target:  %s\n", backend.Vendor().Description())
			}
			return nil
		},
	}
}

func checkCommand(cfg **config.Config) *cli.Command {
	return &cli.Command{
		Name:      "check",
		Usage:     "Search a whole file for a single flipped bit against its expected SHA-1",
		ArgsUsage: "<file> <sha1-hex>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 2 {
				return cli.ShowSubcommandHelp(c)
			}
			want, err := repair.ParseDigest(c.Args().Get(1), digest.Size)
			if err != nil {
				return err
			}
			data, err := os.ReadFile(c.Args().Get(0))
			if err != nil {
				return err
			}

			var dispatcher *bruteforce.Dispatcher
			if err := app.Populate(*cfg, &dispatcher); err != nil {
				return err
			}
			outcome, err := dispatcher.Bruteforce(data, want)
			if err != nil {
				return err
			}
			fmt.Println(outcome.Code())
			return nil
		},
	}
}

func repairCommand(cfg **config.Config) *cli.Command {
	return &cli.Command{
		Name:      "repair",
		Usage:     "Verify a file piece by piece and repair single-bit flips",
		ArgsUsage: "<file>",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "piece-length", Usage: "Piece length in `BYTES`"},
			&cli.StringFlag{Name: "hashes", Usage: "Expected SHA-1 per piece, one hex digest per line, from `FILE`", Required: true},
			&cli.BoolFlag{Name: "write", Usage: "Write repaired pieces back to the file"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.ShowSubcommandHelp(c)
			}
			if c.IsSet("piece-length") {
				(*cfg).Repair.PieceLength = c.Int("piece-length")
			}
			if c.IsSet("write") {
				(*cfg).Repair.Write = c.Bool("write")
			}

			hashes, err := os.Open(c.String("hashes"))
			if err != nil {
				return err
			}
			defer hashes.Close()
			digests, err := repair.ReadDigests(hashes, digest.Size)
			if err != nil {
				return fmt.Errorf("%s: %w", c.String("hashes"), err)
			}

			var repairer *repair.Repairer
			var log *zap.Logger
			if err := app.Populate(*cfg, &repairer, &log); err != nil {
				return err
			}
			results, err := repairer.RepairFile(c.Args().First(), (*cfg).Repair.PieceLength, digests)
			printResults(results)
			if err != nil {
				return err
			}

			counts := map[repair.Status]int{}
			for _, r := range results {
				counts[r.Status]++
			}
			log.Info("verification finished",
				zap.Int("pieces", len(results)),
				zap.Int("intact", counts[repair.Intact]),
				zap.Int("repaired", counts[repair.Repaired]),
				zap.Int("located", counts[repair.Located]),
				zap.Int("unrecoverable", counts[repair.Unrecoverable]),
				zap.Int("skipped", counts[repair.Skipped]))
			if counts[repair.Unrecoverable]+counts[repair.Skipped] > 0 {
				return cli.Exit("some pieces could not be repaired", 2)
			}
			return nil
		},
	}
}

func printResults(results []repair.Result) {
	for _, r := range results {
		if r.Status == repair.Intact {
			continue
		}
		switch r.Status {
		case repair.Repaired, repair.Located:
			fmt.Printf("piece %d (offset %d): %s, bit %d\n", r.Piece, r.Offset, r.Status, r.Bit)
		default:
			fmt.Printf("piece %d (offset %d): %s\n", r.Piece, r.Offset, r.Status)
		}
	}
}

func initCommand() *cli.Command {
	return &cli.Command{
		Name:      "init",
		Usage:     "Write a configuration file template",
		ArgsUsage: "[file]",
		Action: func(c *cli.Context) error {
			path := c.Args().First()
			if path == "" {
				path = c.String("config")
			}
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			} else if !errors.Is(err, os.ErrNotExist) {
				return err
			}
			if err := os.WriteFile(path, fixtures.ConfigTemplate, 0644); err != nil {
				return err
			}
			fmt.Printf("Configuration written to %s\n", path)
			return nil
		},
	}
}

// Package main provides the isoprobe CLI for extracting metadata,
// subtitles, and thumbnails from ISO-BMFF media.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/mycophonic/isoprobe/version"
)

func main() {
	ctx := context.Background()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})

	appl := &cli.Command{
		Name:    version.Name(),
		Usage:   "ISO-BMFF metadata, subtitle, and thumbnail extraction cli",
		Version: version.Version() + " (" + version.Commit() + " - " + version.Date() + ")",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "enable debug logging",
			},
		},
		Before: func(_ context.Context, cmd *cli.Command) (context.Context, error) {
			if cmd.Bool("verbose") {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			} else {
				zerolog.SetGlobalLevel(zerolog.InfoLevel)
			}

			return ctx, nil
		},
		Commands: []*cli.Command{
			metadataCommand(),
			subtitlesCommand(),
			thumbnailsCommand(),
		},
	}

	if err := appl.Run(ctx, os.Args); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "error: %v\n", err)

		os.Exit(1)
	}
}

package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/mycophonic/isoprobe"
)

func thumbnailsCommand() *cli.Command {
	return &cli.Command{
		Name:      "thumbnails",
		Usage:     "Print rendered thumbnails as JSON (requires a Decoder; none ships with this cli)",
		ArgsUsage: "<file|url>",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "count",
				Aliases: []string{"n"},
				Value:   1,
				Usage:   "number of thumbnails to generate",
			},
			&cli.IntFlag{
				Name:  "max-width",
				Value: 320,
				Usage: "maximum thumbnail width",
			},
			&cli.IntFlag{
				Name:  "max-height",
				Value: 180,
				Usage: "maximum thumbnail height",
			},
		},
		Action: runThumbnails,
	}
}

func runThumbnails(ctx context.Context, cmd *cli.Command) error {
	source, err := singleArg(cmd)
	if err != nil {
		return err
	}

	pipeline := &isoprobe.Pipeline{}

	thumbs, err := pipeline.ExtractThumbnails(
		ctx, source, int(cmd.Int("count")), int(cmd.Int("max-width")), int(cmd.Int("max-height")),
	)
	if err != nil {
		return fmt.Errorf("extracting thumbnails: %w", err)
	}

	return printJSON(thumbs)
}

package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/mycophonic/isoprobe"
)

func subtitlesCommand() *cli.Command {
	return &cli.Command{
		Name:      "subtitles",
		Usage:     "Print timed-text subtitle entries as JSON",
		ArgsUsage: "<file|url>",
		Action:    runSubtitles,
	}
}

func runSubtitles(ctx context.Context, cmd *cli.Command) error {
	source, err := singleArg(cmd)
	if err != nil {
		return err
	}

	pipeline := &isoprobe.Pipeline{}

	entries, err := pipeline.ExtractSubtitles(ctx, source)
	if err != nil {
		return fmt.Errorf("extracting subtitles: %w", err)
	}

	return printJSON(entries)
}

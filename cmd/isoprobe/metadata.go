package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/mycophonic/isoprobe"
)

var errInvalidArgCount = errors.New("expected exactly one argument: source path or URL")

func metadataCommand() *cli.Command {
	return &cli.Command{
		Name:      "metadata",
		Usage:     "Print container metadata as JSON",
		ArgsUsage: "<file|url>",
		Action:    runMetadata,
	}
}

func runMetadata(ctx context.Context, cmd *cli.Command) error {
	source, err := singleArg(cmd)
	if err != nil {
		return err
	}

	pipeline := &isoprobe.Pipeline{}

	meta, err := pipeline.ExtractMetadata(ctx, source)
	if err != nil {
		return fmt.Errorf("extracting metadata: %w", err)
	}

	return printJSON(meta)
}

func singleArg(cmd *cli.Command) (string, error) {
	if cmd.NArg() != 1 {
		return "", fmt.Errorf("%w: got %d", errInvalidArgCount, cmd.NArg())
	}

	return cmd.Args().First(), nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding output: %w", err)
	}

	return nil
}

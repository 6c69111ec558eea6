// Package main is the operator CLI for metadata extraction runs.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/nucleus/metadata-extractor/internal/bootstrap"
	"github.com/nucleus/metadata-extractor/internal/config"
	"github.com/nucleus/metadata-extractor/internal/credentials"
)

func main() {
	app := &cli.Command{
		Name:  "mdx",
		Usage: "Extract relational database metadata through Temporal",
		Commands: []*cli.Command{
			filtersCommand(),
			preflightCommand(),
			startCommand(),
			statusCommand(),
			objectsCommand(),
			getCommand(),
			workerCommand(),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func filterFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "include",
			Aliases: []string{"i"},
			Usage:   `include filter, e.g. {"mydb": ["public"]}`,
		},
		&cli.StringFlag{
			Name:    "exclude",
			Aliases: []string{"e"},
			Usage:   "exclude filter, same form as --include",
		},
		&cli.StringFlag{
			Name:  "temp-table-regex",
			Usage: "regex of table names to skip",
		},
	}
}

func credentialFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "credentials",
		Aliases:  []string{"c"},
		Usage:    "path to a credential JSON file, - for stdin",
		Required: true,
		Sources:  cli.EnvVars("MDX_CREDENTIALS"),
	}
}

// readCredential loads and validates the credential named by --credentials.
func readCredential(cmd *cli.Command, cfg *config.Config) (credentials.Credential, error) {
	var (
		data []byte
		err  error
	)
	path := cmd.String("credentials")
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return credentials.Credential{}, fmt.Errorf("reading credentials: %w", err)
	}

	var cred credentials.Credential
	if err := json.Unmarshal(data, &cred); err != nil {
		return credentials.Credential{}, fmt.Errorf("parsing credentials: %w", err)
	}
	cred = cred.Normalize(cfg.SourceDialect)
	if err := cred.Validate(); err != nil {
		return credentials.Credential{}, err
	}
	return cred, nil
}

func loadRuntime(ctx context.Context) (*bootstrap.Runtime, error) {
	cfg := config.Load()
	logger, err := bootstrap.NewLogger(cfg)
	if err != nil {
		return nil, err
	}
	return bootstrap.New(ctx, cfg, logger)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

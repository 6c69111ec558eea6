package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v3"
	"go.temporal.io/sdk/worker"

	"github.com/nucleus/metadata-extractor/internal/credentials"
	"github.com/nucleus/metadata-extractor/internal/filter"
	"github.com/nucleus/metadata-extractor/internal/objectstore"
	"github.com/nucleus/metadata-extractor/internal/preflight"
	"github.com/nucleus/metadata-extractor/internal/workflows"
)

func filtersCommand() *cli.Command {
	return &cli.Command{
		Name:  "filters",
		Usage: "Print the regexes compiled from include and exclude filters",
		Flags: filterFlags(),
		Action: func(_ context.Context, cmd *cli.Command) error {
			compiled, err := filter.Prepare(cmd.String("include"), cmd.String("exclude"), cmd.String("temp-table-regex"))
			if err != nil {
				return err
			}
			return printJSON(os.Stdout, compiled)
		},
	}
}

func preflightCommand() *cli.Command {
	return &cli.Command{
		Name:  "preflight",
		Usage: "Check that the filtered schemas and tables exist at the source",
		Flags: append(filterFlags(), credentialFlag()),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			rt, err := loadRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			cred, err := readCredential(cmd, rt.Config)
			if err != nil {
				return err
			}
			res := rt.Checker().Check(ctx, cred, preflight.Filters{
				Include:        cmd.String("include"),
				Exclude:        cmd.String("exclude"),
				TempTableRegex: cmd.String("temp-table-regex"),
			})
			if err := printJSON(os.Stdout, res); err != nil {
				return err
			}
			if !res.Success() {
				return cli.Exit(res.Message(), 1)
			}
			return nil
		},
	}
}

func startCommand() *cli.Command {
	return &cli.Command{
		Name:  "start",
		Usage: "Start an extraction run",
		Flags: append(filterFlags(),
			credentialFlag(),
			&cli.StringFlag{
				Name:  "workflow-id",
				Usage: "workflow id (default: generated)",
			},
			&cli.BoolFlag{
				Name:  "skip-columns",
				Usage: "do not extract columns",
			},
			&cli.BoolFlag{
				Name:  "skip-procedures",
				Usage: "do not extract procedures",
			},
			&cli.BoolFlag{
				Name:  "keep-output",
				Usage: "keep the local output directory after the push",
			},
			&cli.BoolFlag{
				Name:    "wait",
				Aliases: []string{"w"},
				Usage:   "wait for the run to finish and print its result",
			},
		),
		Action: runStart,
	}
}

func runStart(ctx context.Context, cmd *cli.Command) error {
	rt, err := loadRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	if _, ok := rt.Credentials.(*credentials.MemoryStore); ok {
		return cli.Exit("start needs a shared credential store, set CREDENTIAL_STORE=postgres", 1)
	}
	cred, err := readCredential(cmd, rt.Config)
	if err != nil {
		return err
	}
	if _, err := filter.Prepare(cmd.String("include"), cmd.String("exclude"), cmd.String("temp-table-regex")); err != nil {
		return err
	}

	c, err := rt.DialTemporal()
	if err != nil {
		return err
	}
	defer c.Close()

	guid, err := rt.Credentials.Put(ctx, cred)
	if err != nil {
		return fmt.Errorf("storing credentials: %w", err)
	}

	fetchColumns := !cmd.Bool("skip-columns")
	fetchProcedures := !cmd.Bool("skip-procedures")
	wc := workflows.NewClient(c, rt.Config.TemporalTaskQueue)
	ref, err := wc.Start(ctx, cmd.String("workflow-id"), workflows.WorkflowConfig{
		CredentialGUID:  guid,
		Dialect:         cred.Dialect,
		IncludeFilter:   cmd.String("include"),
		ExcludeFilter:   cmd.String("exclude"),
		TempTableRegex:  cmd.String("temp-table-regex"),
		OutputPrefix:    rt.Config.OutputPrefix,
		BatchSize:       rt.Config.BatchSize,
		FetchColumns:    &fetchColumns,
		FetchProcedures: &fetchProcedures,
		KeepOutput:      cmd.Bool("keep-output") || !rt.Config.TeardownOutput,
	})
	if err != nil {
		_ = rt.Credentials.Delete(ctx, guid)
		return err
	}
	if err := printJSON(os.Stdout, ref); err != nil {
		return err
	}
	if !cmd.Bool("wait") {
		return nil
	}

	res, err := wc.Wait(ctx, ref)
	if err != nil {
		return err
	}
	return printJSON(os.Stdout, res)
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Query the state of an extraction run",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "workflow-id", Required: true},
			&cli.StringFlag{Name: "run-id"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			rt, err := loadRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			c, err := rt.DialTemporal()
			if err != nil {
				return err
			}
			defer c.Close()

			status, err := workflows.NewClient(c, rt.Config.TemporalTaskQueue).State(ctx, workflows.RunRef{
				WorkflowID: cmd.String("workflow-id"),
				RunID:      cmd.String("run-id"),
			})
			if err != nil {
				return err
			}
			return printJSON(os.Stdout, status)
		},
	}
}

func workerCommand() *cli.Command {
	return &cli.Command{
		Name:  "worker",
		Usage: "Run an extraction worker",
		Action: func(ctx context.Context, _ *cli.Command) error {
			rt, err := loadRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			c, err := rt.DialTemporal()
			if err != nil {
				return err
			}
			defer c.Close()

			return rt.NewWorker(c).Run(worker.InterruptCh())
		},
	}
}

func objectsCommand() *cli.Command {
	return &cli.Command{
		Name:  "objects",
		Usage: "List the objects a run pushed to the bucket",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "workflow-id", Required: true},
			&cli.StringFlag{Name: "run-id"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			rt, err := loadRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			keys, err := listRunObjects(ctx, rt.Store, rt.Config.ObjectStoreBucket, cmd.String("workflow-id"), cmd.String("run-id"))
			if err != nil {
				return err
			}
			return printJSON(os.Stdout, keys)
		},
	}
}

func getCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "Print one pushed object",
		ArgsUsage: "<key>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			key := cmd.Args().First()
			if key == "" {
				return cli.Exit("get needs an object key", 1)
			}
			rt, err := loadRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			return copyObject(ctx, os.Stdout, rt.Store, rt.Config.ObjectStoreBucket, key)
		},
	}
}

// listRunObjects returns the keys under {workflowID}/ or, with a run id,
// {workflowID}/{runID}/.
func listRunObjects(ctx context.Context, store objectstore.ObjectStore, bucket, workflowID, runID string) ([]string, error) {
	prefix := strings.Trim(workflowID, "/") + "/"
	if runID != "" {
		prefix += strings.Trim(runID, "/") + "/"
	}
	keys, err := store.ListPrefix(ctx, bucket, prefix)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", prefix, err)
	}
	return keys, nil
}

func copyObject(ctx context.Context, w io.Writer, store objectstore.ObjectStore, bucket, key string) error {
	data, err := store.GetObject(ctx, bucket, key)
	if err != nil {
		return fmt.Errorf("reading %s: %w", key, err)
	}
	_, err = w.Write(data)
	return err
}

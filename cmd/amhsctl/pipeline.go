package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dukex/amhsctl/pkg/cmd"
	"github.com/dukex/amhsctl/pkg/log"
	"github.com/dukex/amhsctl/pkg/pipeline"
	cli "github.com/urfave/cli/v3"
)

var ErrRunFailed = errors.New("pipeline run failed")

func NewPipelineCommand() *cli.Command {
	return &cli.Command{
		Name:  "pipeline",
		Usage: "Run or check the layout generation pipeline",
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Run every step in order, stopping at the first failure",
				Action: withApplication(runPipeline),
			},
			NewValidateCommand(),
		},
	}
}

func runPipeline(ctx context.Context, command *cli.Command, app *application) error {
	out := command.Root().Writer
	ctx = pipeline.ContextWithTrigger(ctx, "cli")

	var failed error

	for result := range app.orchestrator.Run(ctx, app.plan.Steps) {
		printResult(out, result)

		if !result.Succeeded {
			failed = result.Err
		}
	}

	if failed != nil {
		return fmt.Errorf("%w: %w", ErrRunFailed, failed)
	}

	fmt.Fprintf(out, "Pipeline %s completed\n", app.plan.Name)

	return nil
}

func printResult(out io.Writer, result pipeline.StepRunResult) {
	mark := "✅"
	if !result.Succeeded {
		mark = "❌"
	}

	name := result.DisplayName
	if name == "" {
		name = "pipeline"
	}

	fmt.Fprintf(out, "%s %s (%s)", mark, name, result.Duration.Round(time.Millisecond))

	if result.Message != "" {
		fmt.Fprintf(out, ": %s", result.Message)
	}

	fmt.Fprintln(out)
}

// NewValidateCommand checks a pipeline definition without contacting the
// layout server.
func NewValidateCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Aliases:   []string{"v"},
		Usage:     "Validate a pipeline definition",
		ArgsUsage: "[file]",
		Action: func(_ context.Context, command *cli.Command) error {
			out := command.Root().Writer

			path := command.Args().First()
			if path == "" {
				path = command.String("pipeline-file")
			}

			definition, err := loadDefinition(path)
			if err != nil {
				fmt.Fprintf(out, "❌ %v\n", err)

				return err
			}

			reg, err := cmd.NewRegistry(log.NewNop(), nil)
			if err != nil {
				return err
			}

			if _, err := definition.Compile(reg); err != nil {
				fmt.Fprintf(out, "❌ %v\n", err)
				fmt.Fprintf(out, "   local steps: %v, bodies: %v\n", reg.Steps(), reg.Bodies())

				return err
			}

			fmt.Fprintf(out, "✅ Pipeline %s is valid (%d steps)\n", definition.Name, len(definition.Steps))

			for i, step := range definition.Steps {
				fmt.Fprintf(out, "   %d. %s %s\n", i+1, step.ID, describe(step))
			}

			return nil
		},
	}
}

func describe(step pipeline.StepDefinition) string {
	if step.Local != "" {
		return "local:" + step.Local
	}

	method := step.Method
	if method == "" {
		method = "POST"
	}

	return method + " " + step.Endpoint
}

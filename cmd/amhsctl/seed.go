package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/dukex/amhsctl/pkg/document"
	"github.com/dukex/amhsctl/pkg/form"
	"github.com/dukex/amhsctl/pkg/store"
	"github.com/dukex/amhsctl/pkg/web"
	cli "github.com/urfave/cli/v3"
)

var ErrInvalidAssignment = errors.New("field assignment must be name=text")

func NewSeedCommand() *cli.Command {
	return &cli.Command{
		Name:  "seed",
		Usage: "Inspect and edit the layout seed input",
		Commands: []*cli.Command{
			{
				Name:   "fields",
				Usage:  "Print the seed as editable fields",
				Flags:  []cli.Flag{&cli.BoolFlag{Name: "json", Usage: "Print the fields as JSON"}},
				Action: withApplication(runSeedFields),
			},
			{
				Name:   "show",
				Usage:  "Print the stored seed document",
				Action: withApplication(runSeedShow),
			},
			{
				Name:      "apply",
				Usage:     "Rebuild the seed from field values and save it",
				ArgsUsage: "[name=text ...]",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "file",
						Usage: "JSON object of field name to text, applied before the arguments",
					},
					&cli.BoolFlag{
						Name:  "merge",
						Usage: "Start from the stored fields instead of an empty form",
					},
				},
				Action: withApplication(runSeedApply),
			},
			{
				Name:      "sample",
				Usage:     "Replace the seed with a bundled sample",
				ArgsUsage: "<number>",
				Action:    withApplication(runSeedSample),
			},
			{
				Name:   "status",
				Usage:  "Show what the layout server holds for this user",
				Action: withApplication(runSeedStatus),
			},
			{
				Name:   "clear",
				Usage:  "Delete the stored input and output",
				Action: withApplication(runSeedClear),
			},
		},
	}
}

// withApplication builds the application for a one-shot command.
func withApplication(run func(ctx context.Context, command *cli.Command, app *application) error) cli.ActionFunc {
	return func(ctx context.Context, command *cli.Command) error {
		settings, err := loadSettings(command)
		if err != nil {
			return err
		}

		app, err := newApplication(ctx, settings)
		if err != nil {
			return err
		}

		defer app.Close(ctx)

		return run(ctx, command, app)
	}
}

func runSeedFields(ctx context.Context, command *cli.Command, app *application) error {
	doc, err := app.seeds.Load(ctx)
	if err != nil {
		return err
	}

	fields := form.Project(doc)

	if command.Bool("json") {
		return writeJSON(command.Root().Writer, web.SeedResponse{Fields: fields})
	}

	for _, field := range fields {
		fmt.Fprintf(command.Root().Writer, "%s (rows=%d)\n", field.Name, field.Rows)

		for _, line := range strings.Split(field.Value, "\n") {
			fmt.Fprintf(command.Root().Writer, "    %s\n", line)
		}
	}

	return nil
}

func runSeedShow(ctx context.Context, command *cli.Command, app *application) error {
	doc, err := app.seeds.Load(ctx)
	if err != nil {
		return err
	}

	return writeJSON(command.Root().Writer, doc)
}

func runSeedApply(ctx context.Context, command *cli.Command, app *application) error {
	pairs := make([]form.Pair, 0)

	if command.Bool("merge") {
		doc, err := app.seeds.Load(ctx)
		if err != nil {
			return err
		}

		for _, field := range form.Project(doc) {
			pairs = append(pairs, form.Pair{Name: field.Name, Text: field.Value})
		}
	}

	if path := command.String("file"); path != "" {
		filePairs, err := readPairsFile(path)
		if err != nil {
			return err
		}

		pairs = append(pairs, filePairs...)
	}

	for _, arg := range command.Args().Slice() {
		name, text, ok := strings.Cut(arg, "=")
		if !ok {
			return fmt.Errorf("%w: %q", ErrInvalidAssignment, arg)
		}

		pairs = append(pairs, form.Pair{Name: name, Text: text})
	}

	pairs = lastWins(pairs)

	doc, err := form.ReconstructPairs(pairs)
	if err != nil {
		return err
	}

	if err := app.seeds.Save(ctx, doc); err != nil {
		app.metrics.SeedSaved(web.SourceForm, false)

		return err
	}

	app.metrics.SeedSaved(web.SourceForm, true)
	fmt.Fprintf(command.Root().Writer, "✅ Saved %d fields\n", len(pairs))

	return nil
}

// lastWins keeps the first position of each name with its last text.
func lastWins(pairs []form.Pair) []form.Pair {
	index := make(map[string]int, len(pairs))
	out := make([]form.Pair, 0, len(pairs))

	for _, pair := range pairs {
		if i, ok := index[pair.Name]; ok {
			out[i].Text = pair.Text

			continue
		}

		index[pair.Name] = len(out)
		out = append(out, pair)
	}

	return out
}

func readPairsFile(path string) ([]form.Pair, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fields file %s: %w", path, err)
	}

	fields, err := document.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse fields file %s: %w", path, err)
	}

	return form.PairsFromDocument(fields)
}

func runSeedSample(ctx context.Context, command *cli.Command, app *application) error {
	number, err := strconv.Atoi(command.Args().First())
	if err != nil || number < store.MinSample || number > store.MaxSample {
		return store.ErrInvalidSample
	}

	doc, err := app.seeds.LoadSample(ctx, number)
	if err != nil {
		return err
	}

	if err := app.seeds.Save(ctx, doc); err != nil {
		return err
	}

	fmt.Fprintf(command.Root().Writer, "✅ Loaded sample %d (%d fields)\n", number, len(form.Project(doc)))

	return nil
}

func runSeedStatus(ctx context.Context, command *cli.Command, app *application) error {
	status, err := app.seeds.Status(ctx)
	if err != nil {
		return err
	}

	return writeJSON(command.Root().Writer, status)
}

func runSeedClear(ctx context.Context, command *cli.Command, app *application) error {
	message, err := app.seeds.Clear(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(command.Root().Writer, "✅ %s\n", message)

	return nil
}

func writeJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")

	return encoder.Encode(v)
}
